package models

import "time"

// Occurrence is one observed instance of a fingerprint within one session.
// Immutable once written; at most one row per
// (fingerprint_id, session_id, finding_id) triple. Carries a denormalized
// snapshot of the finding because the upstream record may later be deleted.
type Occurrence struct {
	ID            string    `json:"id"`
	FingerprintID string    `json:"fingerprint_id"`
	SessionID     string    `json:"session_id"`
	FindingID     string    `json:"finding_id"`
	Severity      Severity  `json:"severity"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	SuggestedFix  string    `json:"suggested_fix,omitempty"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}
