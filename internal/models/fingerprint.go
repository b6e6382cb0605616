package models

import "time"

// FingerprintStatus represents valid lifecycle states for a tracked issue.
type FingerprintStatus string

const (
	StatusOpen      FingerprintStatus = "open"
	StatusFixed     FingerprintStatus = "fixed"
	StatusRegressed FingerprintStatus = "regressed"
	StatusResolved  FingerprintStatus = "resolved"
)

// validTransitions defines the allowed status transitions. Any transition
// not listed here is invalid and will be rejected. resolved is terminal for
// user acknowledgement but a later occurrence reopens it as regressed.
var validTransitions = map[FingerprintStatus]map[FingerprintStatus]bool{
	StatusOpen: {
		StatusOpen:     true, // continued occurrence
		StatusFixed:    true,
		StatusResolved: true,
	},
	StatusFixed: {
		StatusRegressed: true,
		StatusResolved:  true,
	},
	StatusRegressed: {
		StatusOpen:     true, // seen again without an intervening fix
		StatusFixed:    true,
		StatusResolved: true,
	},
	StatusResolved: {
		StatusRegressed: true,
		StatusResolved:  true,
	},
}

// CanTransition reports whether moving from current to desired is allowed.
func CanTransition(current, desired FingerprintStatus) bool {
	allowed, exists := validTransitions[current]
	return exists && allowed[desired]
}

// NextStatusOnOccurrence returns the status a fingerprint takes when its
// hash reappears in a processed session, and whether that reappearance is a
// regression event (fixed/resolved coming back).
//
// An issue that keeps occurring without ever having been fixed is not, by
// definition, "regressed": a regressed fingerprint seen again before being
// fixed is demoted back to open and emits no new alert.
func NextStatusOnOccurrence(current FingerprintStatus) (FingerprintStatus, bool) {
	switch current {
	case StatusFixed, StatusResolved:
		return StatusRegressed, true
	case StatusOpen, StatusRegressed:
		return StatusOpen, false
	default:
		return StatusOpen, false
	}
}

// IsActive reports whether the status counts as currently failing; only
// active fingerprints are transitioned to fixed when a session omits them.
func (s FingerprintStatus) IsActive() bool {
	return s == StatusOpen || s == StatusRegressed
}

// Fingerprint is the durable, content-derived identity of a recurring
// issue, independent of exact wording. One row per distinct
// (category, title stem, related module) hash; never physically deleted.
type Fingerprint struct {
	ID                 string            `json:"id"`
	Hash               string            `json:"hash"`
	Category           string            `json:"category"`
	TitleStem          string            `json:"title_stem"`
	RelatedModule      string            `json:"related_module,omitempty"`
	FirstSeenSessionID string            `json:"first_seen_session_id"`
	FirstSeenAt        time.Time         `json:"first_seen_at"`
	Status             FingerprintStatus `json:"status"`
	PeakSeverity       Severity          `json:"peak_severity"`
	OccurrenceCount    int               `json:"occurrence_count"`
	RegressionCount    int               `json:"regression_count"`
}
