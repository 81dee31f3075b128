package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/adapters"
	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/config"
	"github.com/loaderland/concept-runner/pkg/engine"
	"github.com/loaderland/concept-runner/pkg/models"
)

// memRepo is an in-memory repository mirroring the Postgres transition rules,
// so tool tests can drive the real engine end to end.
type memRepo struct {
	concepts map[uuid.UUID]*models.Concept
	sources  map[uuid.UUID][]*models.Source
	analyses map[uuid.UUID]*models.Analysis
	articles map[uuid.UUID]*models.Article
}

func newMemRepo() *memRepo {
	return &memRepo{
		concepts: make(map[uuid.UUID]*models.Concept),
		sources:  make(map[uuid.UUID][]*models.Source),
		analyses: make(map[uuid.UUID]*models.Analysis),
		articles: make(map[uuid.UUID]*models.Article),
	}
}

func (r *memRepo) Create(ctx context.Context, concept *models.Concept) error {
	if concept.ID == uuid.Nil {
		concept.ID = uuid.New()
	}
	if concept.Stage == "" {
		concept.Stage = models.StageCreated
	}
	concept.CreatedAt = time.Now()
	concept.UpdatedAt = concept.CreatedAt
	r.concepts[concept.ID] = concept
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Concept, error) {
	concept, ok := r.concepts[id]
	if !ok {
		return nil, fmt.Errorf("concept: %w", apperrors.ErrNotFound)
	}
	copied := *concept
	return &copied, nil
}

func (r *memRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	for _, c := range r.concepts {
		if c.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) List(ctx context.Context, stage *models.Stage, limit int) ([]*models.ConceptSummary, error) {
	summaries := make([]*models.ConceptSummary, 0)
	for _, c := range r.concepts {
		if stage != nil && c.Stage != *stage {
			continue
		}
		if len(summaries) >= limit {
			break
		}
		summaries = append(summaries, &models.ConceptSummary{
			ID: c.ID, Idea: c.Idea, Slug: c.Slug, Mode: c.Mode, Stage: c.Stage, CreatedAt: c.CreatedAt,
		})
	}
	return summaries, nil
}

func (r *memRepo) AdvanceStage(ctx context.Context, id uuid.UUID, from, to models.Stage) error {
	if !from.CanAdvanceTo(to) {
		return apperrors.NewStageError("advance_stage", string(from), string(to))
	}
	concept, ok := r.concepts[id]
	if !ok {
		return fmt.Errorf("concept: %w", apperrors.ErrNotFound)
	}
	if concept.Stage != from {
		return apperrors.NewStageError("advance_stage", string(concept.Stage), string(from))
	}
	concept.Stage = to
	return nil
}

func (r *memRepo) ReplaceSources(ctx context.Context, conceptID uuid.UUID, sources []*models.Source) error {
	if len(r.sources[conceptID]) > 0 {
		return fmt.Errorf("sources already discovered: %w", apperrors.ErrConflict)
	}
	for i, src := range sources {
		if src.ID == uuid.Nil {
			src.ID = uuid.New()
		}
		src.ConceptID = conceptID
		src.Rank = i
		if src.Status == "" {
			src.Status = models.RetrievalStatusPending
		}
	}
	r.sources[conceptID] = sources
	return nil
}

func (r *memRepo) ListSources(ctx context.Context, conceptID uuid.UUID) ([]*models.Source, error) {
	out := make([]*models.Source, 0, len(r.sources[conceptID]))
	for _, src := range r.sources[conceptID] {
		copied := *src
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memRepo) UpdateSourceRetrieval(ctx context.Context, sourceID uuid.UUID, fulltext *string, status models.RetrievalStatus, retrievalErr *string) error {
	for _, sources := range r.sources {
		for _, src := range sources {
			if src.ID == sourceID {
				src.Fulltext = fulltext
				src.Status = status
				src.RetrievalError = retrievalErr
				return nil
			}
		}
	}
	return fmt.Errorf("source %s: %w", sourceID, apperrors.ErrNotFound)
}

func (r *memRepo) UpsertAnalysis(ctx context.Context, analysis *models.Analysis) error {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	r.analyses[analysis.SourceID] = analysis
	return nil
}

func (r *memRepo) ListAnalyses(ctx context.Context, conceptID uuid.UUID) ([]*models.SourceAnalysis, error) {
	out := make([]*models.SourceAnalysis, 0)
	for _, src := range r.sources[conceptID] {
		analysis, ok := r.analyses[src.ID]
		if !ok {
			continue
		}
		out = append(out, &models.SourceAnalysis{Source: *src, Analysis: *analysis})
	}
	return out, nil
}

func (r *memRepo) SaveArticle(ctx context.Context, article *models.Article) error {
	concept, ok := r.concepts[article.ConceptID]
	if !ok {
		return fmt.Errorf("concept: %w", apperrors.ErrNotFound)
	}
	if !concept.Stage.AtLeast(models.StageWriting) {
		return apperrors.NewStageError("save_article", string(concept.Stage), string(models.StageWriting))
	}
	if existing, ok := r.articles[article.ConceptID]; ok && existing.Published {
		return apperrors.NewStageError("save_article", string(models.StagePublished), string(models.StageWriting))
	}
	r.articles[article.ConceptID] = article
	return nil
}

func (r *memRepo) GetArticle(ctx context.Context, conceptID uuid.UUID) (*models.Article, error) {
	article, ok := r.articles[conceptID]
	if !ok {
		return nil, fmt.Errorf("article: %w", apperrors.ErrNotFound)
	}
	copied := *article
	return &copied, nil
}

func (r *memRepo) MarkPublished(ctx context.Context, conceptID uuid.UUID) error {
	concept, ok := r.concepts[conceptID]
	if !ok {
		return fmt.Errorf("concept: %w", apperrors.ErrNotFound)
	}
	if concept.Stage != models.StageWriting {
		return apperrors.NewStageError("publish", string(concept.Stage), string(models.StageWriting))
	}
	article, ok := r.articles[conceptID]
	if !ok {
		return fmt.Errorf("no article saved: %w", apperrors.ErrValidation)
	}
	now := time.Now()
	article.Published = true
	article.PublishedAt = &now
	concept.Stage = models.StagePublished
	return nil
}

// stubDiscovery returns a fixed source per query.
type stubDiscovery struct{}

func (stubDiscovery) Discover(ctx context.Context, queries []string, mode models.SourceMode) ([]*models.Source, error) {
	sources := make([]*models.Source, 0, len(queries))
	for i, q := range queries {
		sources = append(sources, &models.Source{
			Provider: models.SourceProviderPubMed,
			Query:    q,
			Title:    fmt.Sprintf("Paper %d", i+1),
			Locator:  fmt.Sprintf("1000%d", i+1),
		})
	}
	return sources, nil
}

type stubRetrieval struct{}

func (stubRetrieval) Retrieve(ctx context.Context, src *models.Source) (string, error) {
	return "full text of " + src.Locator, nil
}

type stubAnalysis struct{}

func (stubAnalysis) Analyze(ctx context.Context, src *models.Source, fulltext string) (string, error) {
	return `{"confidence": "high"}`, nil
}

func (stubAnalysis) Model() string { return "stub-model" }

type stubPlanner struct{}

func (stubPlanner) PlanQueries(ctx context.Context, idea string, mode models.SourceMode) (*adapters.QueryPlan, error) {
	return &adapters.QueryPlan{Queries: []string{"planned query"}, Slug: "planned-slug"}, nil
}

// newTestEngine wires the real engine over the in-memory repository and stubs.
func newTestEngine() *engine.Engine {
	cfg := &config.Config{Tavily: config.TavilyConfig{APIKey: "test-key"}}
	return engine.New(newMemRepo(), stubDiscovery{}, stubRetrieval{}, stubAnalysis{}, stubPlanner{}, cfg, zap.NewNop())
}
