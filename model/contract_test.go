package model

import "testing"

func TestValidTransitionHappyPath(t *testing.T) {
	// The full success path, in order.
	path := []string{
		StatusUploaded, StatusExtracting, StatusSegmenting,
		StatusNormalizing, StatusEmbedding, StatusReady,
	}
	for i := 0; i < len(path)-1; i++ {
		if !ValidTransition(path[i], path[i+1]) {
			t.Errorf("Expected %s -> %s to be valid", path[i], path[i+1])
		}
	}
}

func TestValidTransitionRejectsIllegalEdges(t *testing.T) {
	tests := []struct {
		from, to string
	}{
		{StatusUploaded, StatusReady},      // cannot skip the pipeline
		{StatusUploaded, StatusEmbedding},  // cannot skip stages
		{StatusExtracting, StatusEmbedding},
		{StatusReady, StatusExtracting},    // READY is terminal
		{StatusReady, StatusFailed},
		{StatusFailed, StatusReady},
		{StatusFailed, StatusSegmenting},   // restart goes through EXTRACTING
		{StatusEmbedding, StatusExtracting},
	}
	for _, tt := range tests {
		if ValidTransition(tt.from, tt.to) {
			t.Errorf("Expected %s -> %s to be invalid", tt.from, tt.to)
		}
	}
}

func TestValidTransitionRestartEdges(t *testing.T) {
	if !ValidTransition(StatusFailed, StatusExtracting) {
		t.Error("Expected FAILED -> EXTRACTING (reprocess) to be valid")
	}
	if !ValidTransition(StatusCancelled, StatusExtracting) {
		t.Error("Expected CANCELLED -> EXTRACTING (reprocess) to be valid")
	}
}

func TestValidTransitionFailureEdges(t *testing.T) {
	for _, from := range []string{StatusExtracting, StatusSegmenting, StatusNormalizing, StatusEmbedding} {
		if !ValidTransition(from, StatusFailed) {
			t.Errorf("Expected %s -> FAILED to be valid", from)
		}
		if !ValidTransition(from, StatusCancelled) {
			t.Errorf("Expected %s -> CANCELLED to be valid", from)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{StatusReady, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusUploaded, false},
		{StatusExtracting, false},
		{StatusEmbedding, false},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.status); got != tt.terminal {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestStageStatus(t *testing.T) {
	tests := []struct {
		stage  string
		status string
	}{
		{StageExtraction, StatusExtracting},
		{StageSegmentation, StatusSegmenting},
		{StageNormalization, StatusNormalizing},
		{StageEmbedding, StatusEmbedding},
		{"UNKNOWN", ""},
	}
	for _, tt := range tests {
		if got := StageStatus(tt.stage); got != tt.status {
			t.Errorf("StageStatus(%s) = %s, want %s", tt.stage, got, tt.status)
		}
	}
}

func TestStageOrderMatchesStatuses(t *testing.T) {
	if len(StageOrder) != 4 {
		t.Fatalf("Expected 4 stages, got %d", len(StageOrder))
	}
	for _, stage := range StageOrder {
		if StageStatus(stage) == "" {
			t.Errorf("Stage %s has no in-flight status", stage)
		}
	}
}
