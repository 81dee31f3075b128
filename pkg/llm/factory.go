package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/config"
)

// NewClientFromConfig builds the Client selected by configuration. Adding a
// provider means implementing Client and extending this switch; nothing else
// in the pipeline changes.
func NewClientFromConfig(ctx context.Context, cfg config.AnalysisConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, logger)
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, logger)
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}
