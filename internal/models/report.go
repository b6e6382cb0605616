package models

import "time"

// RegressionStats aggregates counters across the entire fingerprint store.
type RegressionStats struct {
	TotalTracked   int     `json:"total_tracked"`
	OpenCount      int     `json:"open_count"`
	FixedCount     int     `json:"fixed_count"`
	RegressedCount int     `json:"regressed_count"`
	ResolvedCount  int     `json:"resolved_count"`
	ActiveAlerts   int     `json:"active_alerts"`
	RegressionRate float64 `json:"regression_rate"`
}

// RegressionReport is the result of processing one session: what is new,
// what came back after being fixed, what is still open, and what silently
// disappeared.
type RegressionReport struct {
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name"`
	GeneratedAt time.Time `json:"generated_at"`

	NewFindings []Fingerprint     `json:"new_findings"`
	Regressions []RegressionAlert `json:"regressions"`
	Persistent  []Fingerprint     `json:"persistent"`
	NewlyFixed  []Fingerprint     `json:"newly_fixed"`

	Stats RegressionStats `json:"stats"`
}
