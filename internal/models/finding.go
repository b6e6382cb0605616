package models

// Severity is the ordinal severity scale for findings
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityPositive Severity = "positive"
)

// severityRanks orders severities: critical(5) > high(4) > medium(3) > low(2) > positive(1)
var severityRanks = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityPositive: 1,
}

// Rank returns the numeric ordinal of a severity. Unknown severities rank 0,
// below positive, so malformed input never displaces a real peak.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// NormalizeSeverity maps unknown severity strings to the lowest ordinal
// instead of rejecting the finding
func NormalizeSeverity(s Severity) Severity {
	if _, ok := severityRanks[s]; ok {
		return s
	}
	return SeverityPositive
}

// MaxSeverity returns the higher of two severities under the ordinal.
// Ties keep a.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Finding is one issue reported by a session. Findings are owned upstream
// and may be deleted there later; the engine snapshots what it needs into
// the occurrence ledger.
type Finding struct {
	ID            string   `json:"id"`
	SessionID     string   `json:"session_id"`
	Category      string   `json:"category"`
	Severity      Severity `json:"severity"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	RelatedModule string   `json:"related_module,omitempty"`
	SuggestedFix  string   `json:"suggested_fix,omitempty"`
	Confidence    float64  `json:"confidence"`
}
