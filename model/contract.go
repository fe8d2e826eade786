package model

import (
	"time"
)

// Contract represents an uploaded legal document and its processing state
type Contract struct {
	ID           string        `json:"id"`
	Filename     string        `json:"filename"`
	Tenant       string        `json:"tenant"`
	ObjectName   string        `json:"object_name,omitempty"`
	FileURL      string        `json:"file_url,omitempty"`
	Status       string        `json:"status"`
	CurrentStage string        `json:"current_stage,omitempty"`
	Error        *StageFailure `json:"error,omitempty"`
	RawText      string        `json:"raw_text,omitempty"`
	Clauses      []Clause      `json:"clauses,omitempty"`
	ClauseCount  int           `json:"clause_count"`
	StageOutputs []StageOutput `json:"stage_outputs,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Contract status constants. READY, FAILED and CANCELLED are terminal;
// FAILED and CANCELLED can be restarted through an explicit reprocess.
const (
	StatusUploaded    = "UPLOADED"
	StatusExtracting  = "EXTRACTING"
	StatusSegmenting  = "SEGMENTING"
	StatusNormalizing = "NORMALIZING"
	StatusEmbedding   = "EMBEDDING"
	StatusReady       = "READY"
	StatusFailed      = "FAILED"
	StatusCancelled   = "CANCELLED"
)

// Pipeline stage names, in execution order.
const (
	StageExtraction    = "EXTRACTION"
	StageSegmentation  = "SEGMENTATION"
	StageNormalization = "NORMALIZATION"
	StageEmbedding     = "EMBEDDING"
)

// StageOrder is the fixed stage sequence of a pipeline run.
var StageOrder = []string{StageExtraction, StageSegmentation, StageNormalization, StageEmbedding}

// StageStatus returns the contract status that corresponds to a stage
// being in flight.
func StageStatus(stage string) string {
	switch stage {
	case StageExtraction:
		return StatusExtracting
	case StageSegmentation:
		return StatusSegmenting
	case StageNormalization:
		return StatusNormalizing
	case StageEmbedding:
		return StatusEmbedding
	}
	return ""
}

var transitions = map[string][]string{
	StatusUploaded:    {StatusExtracting, StatusCancelled},
	StatusExtracting:  {StatusSegmenting, StatusFailed, StatusCancelled},
	StatusSegmenting:  {StatusNormalizing, StatusFailed, StatusCancelled},
	StatusNormalizing: {StatusEmbedding, StatusFailed, StatusCancelled},
	StatusEmbedding:   {StatusReady, StatusFailed, StatusCancelled},
	StatusFailed:      {StatusExtracting},
	StatusCancelled:   {StatusExtracting},
	StatusReady:       {},
}

// ValidTransition reports whether a contract may move from one status
// to another.
func ValidTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends a pipeline run.
func IsTerminal(status string) bool {
	return status == StatusReady || status == StatusFailed || status == StatusCancelled
}

// Clause is a segmented, addressable unit of contract text.
// Position is the 1-based ordinal within the document and is the key
// used for citations. Clauses are never mutated after the contract
// reaches READY.
type Clause struct {
	ID           string `json:"id"`
	ContractID   string `json:"contract_id"`
	Position     int    `json:"position"`
	Heading      string `json:"heading,omitempty"`
	Text         string `json:"text"`
	EmbeddingRef string `json:"embedding_ref,omitempty"`
}

// StageOutput records a completed stage's persisted result summary.
// Stage outputs are appended in execution order; the presence of an
// entry means the stage's data is durably stored on the contract.
type StageOutput struct {
	Stage       string    `json:"stage"`
	Summary     string    `json:"summary"`
	CompletedAt time.Time `json:"completed_at"`
}

// StageFailure describes why a pipeline run failed.
type StageFailure struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
	Attempts  int    `json:"attempts"`
}

// PipelineRun outcome constants
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// PipelineRun is one attempt to process a contract end to end.
type PipelineRun struct {
	RunID      string         `json:"run_id"`
	ContractID string         `json:"contract_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Attempts   map[string]int `json:"attempts"`
	Outcome    string         `json:"outcome,omitempty"`
}
