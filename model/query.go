package model

import "time"

// Citation references the clause that justifies part of an answer.
type Citation struct {
	Position int    `json:"position"`
	Snippet  string `json:"snippet"`
}

// Answer is the result of a RAG query against a READY contract.
type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Grounded  bool       `json:"grounded"`
	CreatedAt time.Time  `json:"created_at"`
}

// Risk severity values accepted from the generation stage.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// NormalizeSeverity maps an unrecognized severity to medium. The
// downgrade is deliberate: a finding with a bad label is still a
// finding and must not be dropped.
func NormalizeSeverity(s string) string {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s
	}
	return SeverityMedium
}

// RiskFinding is one risk identified in a contract.
type RiskFinding struct {
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	Explanation string   `json:"explanation"`
	Citation    Citation `json:"citation"`
}

// ChecklistItem is one obligation or review point derived from the
// contract.
type ChecklistItem struct {
	Item     string   `json:"item"`
	Note     string   `json:"note,omitempty"`
	Citation Citation `json:"citation"`
}
