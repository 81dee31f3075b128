package adapters

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/llm"
	"github.com/loaderland/concept-runner/pkg/models"
	"github.com/loaderland/concept-runner/pkg/retry"
)

// maxAnalysisInputChars caps the text handed to the model per source.
const maxAnalysisInputChars = 12000

// Analysis evaluates one source's text against the concept it was found for,
// and plans search queries for new concepts. Both go through the same
// completion client.
type Analysis struct {
	client llm.Client
	logger *zap.Logger
}

// NewAnalysis wraps a completion client as the analysis and planning adapter.
func NewAnalysis(client llm.Client, logger *zap.Logger) *Analysis {
	return &Analysis{client: client, logger: logger.Named("analysis")}
}

var (
	_ AnalysisAdapter = (*Analysis)(nil)
	_ QueryPlanner    = (*Analysis)(nil)
)

// Model returns the underlying model identifier for provenance on analyses.
func (a *Analysis) Model() string {
	return a.client.Model()
}

const analysisSystem = "You are a rigorous research analyst. You read source material " +
	"closely and report only what it supports. Respond with a single JSON object and no " +
	"surrounding prose."

// Analyze asks the model for a structured assessment of fulltext and returns
// the JSON object it produced.
func (a *Analysis) Analyze(ctx context.Context, src *models.Source, fulltext string) (string, error) {
	if len(fulltext) > maxAnalysisInputChars {
		fulltext = truncateAtRune(fulltext, maxAnalysisInputChars) + "\n\n[Truncated]"
	}

	prompt := fmt.Sprintf(`Analyze the following source for its relevance to a research article.

Source title: %s
Origin query: %s

Source text:
%s

Return a JSON object with exactly these fields:
{
  "key_findings": ["the main findings or claims, one string each"],
  "methodology": "how the source arrived at its claims, or 'not stated'",
  "limitations": ["weaknesses, caveats, or gaps, one string each"],
  "relevance": "how this source bears on the origin query, in 1-3 sentences",
  "confidence": "high, medium, or low, based on the strength of the evidence"
}`, src.Title, src.Query, fulltext)

	raw, err := retry.DoWithResult(ctx, nil, func() (string, error) {
		return a.client.Complete(ctx, prompt, analysisSystem)
	})
	if err != nil {
		return "", err
	}

	content, err := llm.ExtractJSON(raw)
	if err != nil {
		return "", apperrors.NewAdapterError("llm", "analyze", false,
			fmt.Errorf("analysis response contained no JSON object: %w", err))
	}

	a.logger.Debug("Source analyzed",
		zap.String("source_id", src.ID.String()),
		zap.Int("response_chars", len(content)))

	return content, nil
}

const planningSystem = "You design literature search strategies. Respond with a single " +
	"JSON object and no surrounding prose."

// PlanQueries turns a raw idea into provider-appropriate search queries and a
// URL slug for the concept.
func (a *Analysis) PlanQueries(ctx context.Context, idea string, mode models.SourceMode) (*QueryPlan, error) {
	var guidance string
	switch {
	case mode == models.SourceModePubMed:
		guidance = "Queries will run against PubMed. Use precise biomedical terminology " +
			"and MeSH-style phrasing."
	case mode == models.SourceModeWeb:
		guidance = "Queries will run against a general web search engine. Use natural " +
			"phrasing a journalist would type."
	default:
		guidance = "Queries will run against both PubMed and a general web search engine. " +
			"Mix precise biomedical terminology with natural web phrasing."
	}

	prompt := fmt.Sprintf(`Generate search queries for researching the following topic.

Topic: %s

%s

Return a JSON object with exactly these fields:
{
  "queries": ["3 to 5 distinct search queries covering different angles of the topic"],
  "slug": "a short lowercase-hyphenated identifier for the topic, at most 6 words"
}`, idea, guidance)

	raw, err := retry.DoWithResult(ctx, nil, func() (string, error) {
		return a.client.Complete(ctx, prompt, planningSystem)
	})
	if err != nil {
		return nil, err
	}

	var plan QueryPlan
	if err := llm.UnmarshalResponse(raw, &plan); err != nil {
		return nil, apperrors.NewAdapterError("llm", "plan_queries", false,
			fmt.Errorf("query plan response was not valid JSON: %w", err))
	}

	plan.Slug = normalizeSlug(plan.Slug)
	cleaned := make([]string, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		q = strings.TrimSpace(q)
		if q != "" {
			cleaned = append(cleaned, q)
		}
	}
	plan.Queries = cleaned

	if len(plan.Queries) == 0 {
		return nil, apperrors.NewAdapterError("llm", "plan_queries", false,
			fmt.Errorf("query plan contained no queries"))
	}

	return &plan, nil
}

// truncateAtRune cuts s at or just below limit bytes without splitting a
// multi-byte rune.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// normalizeSlug forces the model's slug into lowercase hyphenated ASCII.
func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastHyphen := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
