package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient generates completions via the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  model,
		logger: logger.Named("gemini"),
	}, nil
}

var _ Client = (*GeminiClient)(nil)

func (c *GeminiClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	if system == "" {
		system = defaultSystemMessage
	}

	c.logger.Debug("Gemini request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		},
	)
	if err != nil {
		c.logger.Warn("Gemini request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", classifyProviderError("gemini", "generate", err)
	}

	text := resp.Text()
	if text == "" {
		return "", classifyProviderError("gemini", "generate", fmt.Errorf("empty response"))
	}

	c.logger.Debug("Gemini request completed",
		zap.Int("response_len", len(text)),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

func (c *GeminiClient) Model() string {
	return c.model
}
