package service

import (
	"context"
	"sync"
	"time"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
)

// JobRegistry enforces the at-most-one-active-run-per-contract
// invariant. Acquire and Release bracket a pipeline run; two
// concurrent Acquire calls for the same contract ID see exactly one
// winner.
type JobRegistry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
}

type activeRun struct {
	run    *model.PipelineRun
	cancel context.CancelFunc
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		runs: make(map[string]*activeRun),
	}
}

// Acquire marks the contract as actively processing. It returns false
// if a run is already active; the caller must answer the duplicate
// submission with a structured AlreadyProcessing error, never drop it
// silently.
func (r *JobRegistry) Acquire(contractID string, run *model.PipelineRun, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, active := r.runs[contractID]; active {
		return false
	}
	r.runs[contractID] = &activeRun{run: run, cancel: cancel}
	return true
}

// Release frees the contract for a future run. It is called
// unconditionally when a run reaches a terminal state and is safe to
// call more than once.
func (r *JobRegistry) Release(contractID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, contractID)
}

// ActiveRun returns the currently active run for the contract, or nil.
func (r *JobRegistry) ActiveRun(contractID string) *model.PipelineRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.runs[contractID]; ok {
		cp := *a.run
		return &cp
	}
	return nil
}

// Cancel requests cancellation of the active run. It returns false if
// no run is active. The registry entry is released by the run itself
// when it observes the cancelled context and reaches its terminal
// state.
func (r *JobRegistry) Cancel(contractID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.runs[contractID]
	if !ok {
		return false
	}
	a.cancel()
	return true
}

// RecordAttempt increments the attempt counter for a stage of the
// active run.
func (r *JobRegistry) RecordAttempt(contractID, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.runs[contractID]; ok {
		if a.run.Attempts == nil {
			a.run.Attempts = make(map[string]int)
		}
		a.run.Attempts[stage]++
	}
}

// Finish stamps the run's outcome before the registry slot is
// released.
func (r *JobRegistry) Finish(contractID, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.runs[contractID]; ok {
		now := time.Now()
		a.run.FinishedAt = &now
		a.run.Outcome = outcome
	}
}
