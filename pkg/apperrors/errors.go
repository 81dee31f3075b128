// Package apperrors defines the error taxonomy shared by the pipeline engine,
// the store, and the MCP tool layer. Every caller-visible failure maps to one
// of the Kind values so the calling agent can decide to retry, skip, or report.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrValidation     = errors.New("validation failed")
	ErrStageViolation = errors.New("stage violation")
	ErrPersistence    = errors.New("persistence failure")
)

// Kind is the caller-facing classification of an error.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found"
	KindStageViolation Kind = "stage_violation"
	KindAdapter        Kind = "adapter_error"
	KindPersistence    Kind = "persistence_error"
)

// KindOf classifies err into a Kind. Unrecognized errors are reported as
// persistence failures since those are the only errors allowed to escape the
// engine unclassified.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStageViolation):
		return KindStageViolation
	default:
		var aerr *AdapterError
		if errors.As(err, &aerr) {
			return KindAdapter
		}
		return KindPersistence
	}
}

// StageError reports an operation invoked while the concept is in the wrong
// stage. Current carries the concept's actual stage so the caller can
// self-correct without inspecting logs.
type StageError struct {
	Op       string
	Current  string
	Required string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s requires stage %q but concept is at %q", e.Op, e.Required, e.Current)
}

func (e *StageError) Unwrap() error {
	return ErrStageViolation
}

// NewStageError builds a StageError for the given operation.
func NewStageError(op, current, required string) *StageError {
	return &StageError{Op: op, Current: current, Required: required}
}

// AdapterError wraps a provider failure (search, retrieval, analysis) with a
// retryability classification. Retryable errors (timeouts, rate limits,
// transient 5xx) are contained per-source; non-retryable ones (auth, malformed
// request) abort the remaining work for the stage.
type AdapterError struct {
	Provider  string
	Op        string
	Retryable bool
	Cause     error
}

func (e *AdapterError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Provider, e.Op, kind, e.Cause)
}

func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry package's RetryableError interface.
func (e *AdapterError) IsRetryable() bool {
	return e.Retryable
}

// NewAdapterError wraps cause as a provider failure.
func NewAdapterError(provider, op string, retryable bool, cause error) *AdapterError {
	return &AdapterError{Provider: provider, Op: op, Retryable: retryable, Cause: cause}
}

// IsRetryableAdapterError reports whether err is an adapter failure that may
// succeed on retry.
func IsRetryableAdapterError(err error) bool {
	var aerr *AdapterError
	return errors.As(err, &aerr) && aerr.Retryable
}
