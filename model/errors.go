package model

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before any pipeline work starts.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StageError is the uniform error contract of a stage adapter. The
// Transient flag is mandatory: it drives the orchestrator's retry
// policy. Transient failures (timeouts, rate limits) are retried with
// backoff; fatal failures (unparseable input, auth) fail the run
// immediately.
type StageError struct {
	Stage     string
	Message   string
	Transient bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewTransientStageError wraps a retryable stage failure.
func NewTransientStageError(stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Message: message, Transient: true, Err: err}
}

// NewFatalStageError wraps a stage failure that must not be retried.
func NewFatalStageError(stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Message: message, Transient: false, Err: err}
}

// AsStageError extracts a StageError from an error chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AlreadyProcessingError rejects a duplicate submit while a run is
// active for the same contract.
type AlreadyProcessingError struct {
	ContractID string
	RunID      string
	Status     string
}

func (e *AlreadyProcessingError) Error() string {
	return fmt.Sprintf("contract %s already processing (run %s, status %s)", e.ContractID, e.RunID, e.Status)
}

// NotReadyError rejects a query against a contract that has not
// reached READY. Status carries the current state so the caller can
// decide to keep polling or surface the failure.
type NotReadyError struct {
	ContractID string
	Status     string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("contract %s is not ready for queries (status %s)", e.ContractID, e.Status)
}

// GenerationUnavailableError signals that the generation stage
// exhausted its retries during a query. It is never collapsed into an
// empty result: "could not analyze" and "found nothing" are different
// outcomes.
type GenerationUnavailableError struct {
	Err error
}

func (e *GenerationUnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable: %v", e.Err)
}

func (e *GenerationUnavailableError) Unwrap() error {
	return e.Err
}

// ErrContractNotFound is returned for lookups of unknown contract IDs.
var ErrContractNotFound = errors.New("contract not found")
