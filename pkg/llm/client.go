// Package llm provides the text-generation clients behind query planning and
// source analysis. One implementation exists per provider; the factory picks
// one from configuration so the engine never branches on provider names.
package llm

import (
	"context"
	"strings"

	"github.com/loaderland/concept-runner/pkg/apperrors"
)

// Client is the minimal completion capability the pipeline needs.
type Client interface {
	// Complete generates a response to prompt under the given system message.
	Complete(ctx context.Context, prompt, system string) (string, error)

	// Model returns the configured model identifier, recorded on analyses.
	Model() string
}

const defaultSystemMessage = "You are a helpful research assistant."

// classifyProviderError wraps a raw provider error as an AdapterError,
// deciding retryability from the error text. Auth and malformed-request
// failures are permanent; timeouts, rate limits, and 5xx are retryable.
func classifyProviderError(provider, op string, err error) *apperrors.AdapterError {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	permanent := []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key",
		"api key not valid", "permission denied", "400", "invalid request",
		"not found", "model_not_found",
	}
	for _, p := range permanent {
		if strings.Contains(msg, p) {
			return apperrors.NewAdapterError(provider, op, false, err)
		}
	}
	return apperrors.NewAdapterError(provider, op, true, err)
}
