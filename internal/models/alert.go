package models

import "time"

// RegressionAlert records one detected regression event: a previously
// fixed or resolved issue reappearing in a later session. Created exactly
// once per event. Session names are denormalized so the alert stays
// readable even if sessions are renamed upstream.
type RegressionAlert struct {
	ID                  string    `json:"id"`
	FingerprintID       string    `json:"fingerprint_id"`
	FixedSessionID      string    `json:"fixed_session_id"`
	FixedSessionName    string    `json:"fixed_session_name"`
	ReappearSessionID   string    `json:"reappear_session_id"`
	ReappearSessionName string    `json:"reappear_session_name"`
	Category            string    `json:"category"`
	Severity            Severity  `json:"severity"`
	Title               string    `json:"title"`
	BuildGap            int       `json:"build_gap"`
	Dismissed           bool      `json:"dismissed"`
	CreatedAt           time.Time `json:"created_at"`
}
