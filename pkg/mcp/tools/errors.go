package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loaderland/concept-runner/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results. Actionable
// failures are returned as successful tool results carrying this shape, so
// the calling agent sees the details instead of an opaque protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the agent can fix and retry (invalid
// parameters, wrong stage, missing concept).
//
// Do NOT use this for system failures (database connection errors); those
// should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return newErrorResult(ErrorResponse{Error: true, Code: code, Message: message})
}

// NewErrorResultWithDetails creates an error result with additional context
// the agent can use to self-correct.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	return newErrorResult(ErrorResponse{Error: true, Code: code, Message: message, Details: details})
}

func newErrorResult(resp ErrorResponse) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// resultFromEngineError maps a pipeline error onto a tool result. Actionable
// failures become structured error results; persistence failures stay Go
// errors so they surface as protocol errors and get logged at ERROR level.
//
// Stage violations carry the concept's current and required stage so the
// agent can call the right tool next without a status round-trip.
func resultFromEngineError(err error) (*mcp.CallToolResult, error) {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindPersistence {
		return nil, err
	}

	var serr *apperrors.StageError
	if errors.As(err, &serr) {
		return NewErrorResultWithDetails(string(kind), err.Error(), map[string]any{
			"current_stage":  serr.Current,
			"required_stage": serr.Required,
		}), nil
	}

	var aerr *apperrors.AdapterError
	if errors.As(err, &aerr) {
		return NewErrorResultWithDetails(string(kind), err.Error(), map[string]any{
			"provider":  aerr.Provider,
			"retryable": aerr.Retryable,
		}), nil
	}

	return NewErrorResult(string(kind), err.Error()), nil
}

// IsInputError reports whether err was caused by caller input rather than a
// server failure. Input errors are logged at DEBUG level, not ERROR.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindNotFound, apperrors.KindStageViolation:
		return true
	}
	return errors.Is(err, apperrors.ErrConflict)
}
