package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
)

func testRun(contractID string) *model.PipelineRun {
	return &model.PipelineRun{RunID: "run-" + contractID, ContractID: contractID}
}

func TestJobRegistryAcquireRelease(t *testing.T) {
	r := NewJobRegistry()

	if !r.Acquire("c1", testRun("c1"), func() {}) {
		t.Fatal("Expected first acquire to succeed")
	}
	if r.Acquire("c1", testRun("c1"), func() {}) {
		t.Error("Expected second acquire for same contract to fail")
	}
	// A different contract is unaffected.
	if !r.Acquire("c2", testRun("c2"), func() {}) {
		t.Error("Expected acquire for different contract to succeed")
	}

	r.Release("c1")
	if !r.Acquire("c1", testRun("c1"), func() {}) {
		t.Error("Expected acquire after release to succeed")
	}
}

func TestJobRegistryReleaseIdempotent(t *testing.T) {
	r := NewJobRegistry()

	r.Acquire("c1", testRun("c1"), func() {})
	r.Release("c1")
	r.Release("c1") // must not panic
	r.Release("never-acquired")

	if !r.Acquire("c1", testRun("c1"), func() {}) {
		t.Error("Expected acquire after double release to succeed")
	}
}

func TestJobRegistryConcurrentAcquire(t *testing.T) {
	r := NewJobRegistry()

	const goroutines = 50
	var winners int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.Acquire("contested", testRun("contested"), func() {}) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", winners)
	}
}

func TestJobRegistryActiveRun(t *testing.T) {
	r := NewJobRegistry()

	if r.ActiveRun("c1") != nil {
		t.Error("Expected no active run before acquire")
	}

	run := testRun("c1")
	r.Acquire("c1", run, func() {})

	active := r.ActiveRun("c1")
	if active == nil || active.RunID != run.RunID {
		t.Fatalf("Expected active run %s, got %+v", run.RunID, active)
	}

	// The returned run is a copy; mutating it must not leak back.
	active.Outcome = model.OutcomeFailed
	if again := r.ActiveRun("c1"); again.Outcome != "" {
		t.Error("Expected ActiveRun to return a copy")
	}
}

func TestJobRegistryCancel(t *testing.T) {
	r := NewJobRegistry()

	if r.Cancel("c1") {
		t.Error("Expected cancel of inactive contract to return false")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.Acquire("c1", testRun("c1"), cancel)

	if !r.Cancel("c1") {
		t.Fatal("Expected cancel of active contract to return true")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("Expected the run context to be cancelled")
	}

	// The slot stays held until the run itself releases it.
	if r.ActiveRun("c1") == nil {
		t.Error("Expected run to remain registered after cancel request")
	}
}

func TestJobRegistryRecordAttemptAndFinish(t *testing.T) {
	r := NewJobRegistry()

	r.Acquire("c1", testRun("c1"), func() {})
	r.RecordAttempt("c1", model.StageEmbedding)
	r.RecordAttempt("c1", model.StageEmbedding)
	r.RecordAttempt("c1", model.StageExtraction)

	active := r.ActiveRun("c1")
	if active.Attempts[model.StageEmbedding] != 2 {
		t.Errorf("Expected 2 embedding attempts, got %d", active.Attempts[model.StageEmbedding])
	}
	if active.Attempts[model.StageExtraction] != 1 {
		t.Errorf("Expected 1 extraction attempt, got %d", active.Attempts[model.StageExtraction])
	}

	r.Finish("c1", model.OutcomeFailed)
	finished := r.ActiveRun("c1")
	if finished.Outcome != model.OutcomeFailed {
		t.Errorf("Expected outcome failed, got %s", finished.Outcome)
	}
	if finished.FinishedAt == nil {
		t.Error("Expected FinishedAt stamped")
	}

	// Attempts and Finish on unknown contracts must not panic.
	r.RecordAttempt("unknown", model.StageExtraction)
	r.Finish("unknown", model.OutcomeSuccess)
}
