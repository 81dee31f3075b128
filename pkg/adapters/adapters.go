// Package adapters defines the external capabilities the pipeline engine
// depends on but does not implement: source discovery, full-text retrieval,
// and per-source analysis. Each is an interface with one implementation per
// provider, selected at construction time.
package adapters

import (
	"context"

	"github.com/loaderland/concept-runner/pkg/models"
)

// DiscoveryAdapter turns a concept's search queries into candidate sources.
// Candidates are tagged with their originating query and provider; an empty
// result is a valid, non-error outcome.
type DiscoveryAdapter interface {
	Discover(ctx context.Context, queries []string, mode models.SourceMode) ([]*models.Source, error)
}

// RetrievalAdapter fetches full text for one source. Failures are returned as
// errors and recorded per-source by the engine; they never abort a stage.
type RetrievalAdapter interface {
	Retrieve(ctx context.Context, src *models.Source) (string, error)
}

// AnalysisAdapter produces a structured assessment of one source's full text.
type AnalysisAdapter interface {
	Analyze(ctx context.Context, src *models.Source, fulltext string) (string, error)

	// Model returns the model identifier recorded on stored analyses.
	Model() string
}

// QueryPlan is the result of turning a raw idea into search queries.
type QueryPlan struct {
	Queries []string `json:"queries"`
	Slug    string   `json:"slug"`
}

// QueryPlanner generates search queries and a URL slug for a new concept when
// the caller does not supply queries directly.
type QueryPlanner interface {
	PlanQueries(ctx context.Context, idea string, mode models.SourceMode) (*QueryPlan, error)
}
