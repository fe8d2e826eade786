package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sarthak2477/Legal-Document-Processor/config"
	"github.com/Sarthak2477/Legal-Document-Processor/model"
	"github.com/Sarthak2477/Legal-Document-Processor/pkg/logger"
	"github.com/google/uuid"
)

// Orchestrator drives a contract through the ordered stage sequence.
// Submit returns immediately; the run executes on its own goroutine
// and progress is observed through the contract store. The job
// registry guarantees at most one active run per contract.
type Orchestrator struct {
	store    *ContractStore
	registry *JobRegistry
	index    VectorIndex
	stages   []StageAdapter
	cfg      *config.PipelineConfig
}

func NewOrchestrator(store *ContractStore, registry *JobRegistry, index VectorIndex, stages []StageAdapter, cfg *config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		index:    index,
		stages:   stages,
		cfg:      cfg,
	}
}

// Submit starts an asynchronous pipeline run for an UPLOADED contract.
// A duplicate submission while a run is active is answered with
// AlreadyProcessingError, never silently dropped.
func (o *Orchestrator) Submit(ctx context.Context, contractID string) (string, error) {
	contract := o.store.Get(contractID)
	if contract == nil {
		return "", model.ErrContractNotFound
	}

	run := &model.PipelineRun{
		RunID:      uuid.New().String(),
		ContractID: contractID,
		StartedAt:  time.Now(),
		Attempts:   make(map[string]int),
	}

	// The run outlives the request; it carries its own cancelable
	// context rather than the caller's.
	runCtx, cancel := context.WithCancel(context.Background())

	if !o.registry.Acquire(contractID, run, cancel) {
		cancel()
		return "", o.alreadyProcessing(contractID)
	}

	if err := o.store.SetStage(contractID, model.StageExtraction); err != nil {
		o.registry.Release(contractID)
		cancel()
		return "", model.NewValidationError("cannot start pipeline for contract %s: %v", contractID, err)
	}

	art := &Artifact{
		ContractID: contract.ID,
		Tenant:     contract.Tenant,
		ObjectName: contract.ObjectName,
		Filename:   contract.Filename,
	}
	go o.execute(runCtx, run, art)

	return run.RunID, nil
}

// Reprocess restarts a FAILED or CANCELLED contract with a fresh run.
func (o *Orchestrator) Reprocess(ctx context.Context, contractID string) (string, error) {
	contract := o.store.Get(contractID)
	if contract == nil {
		return "", model.ErrContractNotFound
	}

	run := &model.PipelineRun{
		RunID:      uuid.New().String(),
		ContractID: contractID,
		StartedAt:  time.Now(),
		Attempts:   make(map[string]int),
	}
	runCtx, cancel := context.WithCancel(context.Background())

	if !o.registry.Acquire(contractID, run, cancel) {
		cancel()
		return "", o.alreadyProcessing(contractID)
	}

	if err := o.store.ResetForReprocess(contractID); err != nil {
		o.registry.Release(contractID)
		cancel()
		return "", model.NewValidationError("cannot reprocess contract %s: %v", contractID, err)
	}

	// Stale vectors from the failed run must not survive into the new
	// one.
	if err := o.index.DeleteContract(runCtx, contractID); err != nil {
		logger.Warn(runCtx, "failed to clear stale index entries", "contract_id", contractID, "error", err)
	}

	art := &Artifact{
		ContractID: contract.ID,
		Tenant:     contract.Tenant,
		ObjectName: contract.ObjectName,
		Filename:   contract.Filename,
	}
	go o.execute(runCtx, run, art)

	return run.RunID, nil
}

// Cancel requests cancellation of the contract's active run. Returns
// false when no run is active.
func (o *Orchestrator) Cancel(contractID string) bool {
	return o.registry.Cancel(contractID)
}

func (o *Orchestrator) alreadyProcessing(contractID string) error {
	apErr := &model.AlreadyProcessingError{ContractID: contractID}
	if active := o.registry.ActiveRun(contractID); active != nil {
		apErr.RunID = active.RunID
	}
	if c := o.store.Get(contractID); c != nil {
		apErr.Status = c.Status
	}
	return apErr
}

// execute runs the stage sequence to a terminal state. It never
// panics outward and always releases the registry slot.
func (o *Orchestrator) execute(ctx context.Context, run *model.PipelineRun, art *Artifact) {
	ctx = context.WithValue(ctx, logger.ContractIDKey, art.ContractID)
	defer o.registry.Release(art.ContractID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "pipeline panicked", "run_id", run.RunID, "panic", r)
			o.finishFailed(ctx, run, &model.StageFailure{
				Stage:   o.currentStage(art.ContractID),
				Message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	logger.Info(ctx, "pipeline run started", "run_id", run.RunID)

	for i, stage := range o.stages {
		if ctx.Err() != nil {
			o.finishCancelled(ctx, run, art.ContractID)
			return
		}
		if i > 0 {
			if err := o.store.SetStage(art.ContractID, stage.Name()); err != nil {
				logger.Error(ctx, "stage transition rejected", "stage", stage.Name(), "error", err)
				o.finishFailed(ctx, run, &model.StageFailure{Stage: stage.Name(), Message: err.Error()})
				return
			}
		}

		out, attempts, err := o.runStage(ctx, stage, art)
		if err != nil {
			if ctx.Err() != nil {
				o.finishCancelled(ctx, run, art.ContractID)
				return
			}
			failure := &model.StageFailure{Stage: stage.Name(), Message: err.Error(), Attempts: attempts}
			if se, ok := model.AsStageError(err); ok {
				failure.Message = se.Message
				if se.Err != nil {
					failure.Message = fmt.Sprintf("%s: %v", se.Message, se.Err)
				}
				failure.Transient = se.Transient
			}
			logger.Error(ctx, "stage failed", "run_id", run.RunID, "stage", stage.Name(), "attempts", attempts, "error", err)
			o.finishFailed(ctx, run, failure)
			return
		}
		art = out

		if err := o.persistStageOutput(stage.Name(), art); err != nil {
			logger.Error(ctx, "failed to persist stage output", "stage", stage.Name(), "error", err)
			o.finishFailed(ctx, run, &model.StageFailure{Stage: stage.Name(), Message: "failed to persist stage output: " + err.Error()})
			return
		}
		logger.Info(ctx, "stage completed", "run_id", run.RunID, "stage", stage.Name(), "attempts", attempts)
	}

	// A cancel that lands while the final stage is finishing must not
	// produce a READY contract.
	if ctx.Err() != nil {
		o.finishCancelled(ctx, run, art.ContractID)
		return
	}

	if err := o.store.SetReady(art.ContractID); err != nil {
		logger.Error(ctx, "failed to mark contract ready", "error", err)
		o.finishFailed(ctx, run, &model.StageFailure{Stage: model.StageEmbedding, Message: err.Error()})
		return
	}
	o.registry.Finish(art.ContractID, model.OutcomeSuccess)
	logger.Info(ctx, "pipeline run completed", "run_id", run.RunID, "clauses", len(art.Clauses))
}

// runStage executes one stage under the bounded retry policy: each
// attempt runs with the stage timeout; transient failures back off
// exponentially up to the attempt cap, fatal failures end the run at
// once.
func (o *Orchestrator) runStage(ctx context.Context, stage StageAdapter, art *Artifact) (*Artifact, int, error) {
	attempts := 0
	for {
		attempts++
		o.registry.RecordAttempt(art.ContractID, stage.Name())

		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout())
		out, err := stage.Run(stageCtx, art)
		timedOut := stageCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			return out, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, attempts, err
		}

		se, ok := model.AsStageError(err)
		transient := (ok && se.Transient) || timedOut
		if !ok && !timedOut {
			// A stage returning something other than StageError gives
			// the retry policy nothing to go on; fail the run.
			err = model.NewFatalStageError(stage.Name(), "unclassified stage failure", err)
			transient = false
		}

		if !transient || attempts >= o.cfg.MaxAttempts {
			return nil, attempts, err
		}

		delay := o.backoff(attempts)
		logger.Warn(ctx, "stage attempt failed, retrying",
			"stage", stage.Name(), "attempt", attempts, "backoff", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempts, err
		}
	}
}

// backoff returns base*2^(attempt-1) capped at the configured maximum.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.cfg.BackoffBase()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.cfg.BackoffMax() {
			return o.cfg.BackoffMax()
		}
	}
	if delay > o.cfg.BackoffMax() {
		return o.cfg.BackoffMax()
	}
	return delay
}

// persistStageOutput stores the stage's result on the contract record.
// The next stage starts only after this returns, which is what makes
// get_status truthful about durable progress.
func (o *Orchestrator) persistStageOutput(stageName string, art *Artifact) error {
	switch stageName {
	case model.StageExtraction:
		if err := o.store.SaveRawText(art.ContractID, art.RawText); err != nil {
			return err
		}
	case model.StageSegmentation, model.StageNormalization, model.StageEmbedding:
		if err := o.store.SaveClauses(art.ContractID, art.Clauses); err != nil {
			return err
		}
	}
	return o.store.AppendStageOutput(art.ContractID, model.StageOutput{
		Stage:       stageName,
		Summary:     o.stageSummary(stageName, art),
		CompletedAt: time.Now(),
	})
}

func (o *Orchestrator) stageSummary(stageName string, art *Artifact) string {
	switch stageName {
	case model.StageExtraction:
		return fmt.Sprintf("extracted %d characters", len(art.RawText))
	case model.StageSegmentation:
		return fmt.Sprintf("segmented %d clauses", len(art.Clauses))
	case model.StageNormalization:
		return fmt.Sprintf("normalized %d clauses", len(art.Clauses))
	case model.StageEmbedding:
		return fmt.Sprintf("embedded %d clauses", len(art.Clauses))
	}
	return ""
}

func (o *Orchestrator) finishFailed(ctx context.Context, run *model.PipelineRun, failure *model.StageFailure) {
	// Partial index writes from the failed run must never be visible
	// to the query engine.
	o.cleanupIndex(run.ContractID)
	if err := o.store.SetFailed(run.ContractID, failure); err != nil && !errors.Is(err, model.ErrContractNotFound) {
		logger.Error(ctx, "failed to mark contract failed", "error", err)
	}
	o.registry.Finish(run.ContractID, model.OutcomeFailed)
}

func (o *Orchestrator) finishCancelled(ctx context.Context, run *model.PipelineRun, contractID string) {
	o.cleanupIndex(contractID)
	if err := o.store.SetCancelled(contractID); err != nil && !errors.Is(err, model.ErrContractNotFound) {
		logger.Error(ctx, "failed to mark contract cancelled", "error", err)
	}
	o.registry.Finish(contractID, model.OutcomeCancelled)
	logger.Info(ctx, "pipeline run cancelled", "run_id", run.RunID)
}

func (o *Orchestrator) cleanupIndex(contractID string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.index.DeleteContract(cleanupCtx, contractID); err != nil {
		logger.Warn(cleanupCtx, "failed to clean up index entries", "contract_id", contractID, "error", err)
	}
}

func (o *Orchestrator) currentStage(contractID string) string {
	if c := o.store.Get(contractID); c != nil && c.CurrentStage != "" {
		return c.CurrentStage
	}
	return model.StageExtraction
}
