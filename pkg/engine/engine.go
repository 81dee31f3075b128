// Package engine orchestrates the research pipeline: it owns stage
// transitions, delegates provider work to adapters, and persists every
// outcome through the repository before returning. The engine holds no
// in-memory state between calls; a concept's row is the only record of its
// progress.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/adapters"
	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/config"
	"github.com/loaderland/concept-runner/pkg/models"
	"github.com/loaderland/concept-runner/pkg/repositories"
)

const (
	maxIdeaLength    = 2000
	maxQueries       = 10
	defaultListLimit = 50
	maxListLimit     = 200
)

// Engine runs concepts through the pipeline. Every public method corresponds
// to one MCP tool; operations that do provider work are safe to re-invoke
// until their stage's work is complete.
type Engine struct {
	repo      repositories.ConceptRepository
	discovery adapters.DiscoveryAdapter
	retrieval adapters.RetrievalAdapter
	analysis  adapters.AnalysisAdapter
	planner   adapters.QueryPlanner
	cfg       *config.Config
	logger    *zap.Logger
}

// New wires the engine's dependencies.
func New(
	repo repositories.ConceptRepository,
	discovery adapters.DiscoveryAdapter,
	retrieval adapters.RetrievalAdapter,
	analysis adapters.AnalysisAdapter,
	planner adapters.QueryPlanner,
	cfg *config.Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		repo:      repo,
		discovery: discovery,
		retrieval: retrieval,
		analysis:  analysis,
		planner:   planner,
		cfg:       cfg,
		logger:    logger.Named("engine"),
	}
}

// ============================================================================
// Create
// ============================================================================

// Create registers a new concept. When the caller supplies no queries, the
// planner generates them along with the slug; otherwise the slug is derived
// from the idea. Slug collisions get a timestamp suffix rather than an error.
func (e *Engine) Create(ctx context.Context, idea string, mode models.SourceMode, queries []string) (*models.Concept, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return nil, fmt.Errorf("idea must not be empty: %w", apperrors.ErrValidation)
	}
	if len(idea) > maxIdeaLength {
		return nil, fmt.Errorf("idea exceeds %d characters: %w", maxIdeaLength, apperrors.ErrValidation)
	}
	if mode == "" {
		mode = models.SourceModePubMed
	}
	if !models.IsValidSourceMode(mode) {
		return nil, fmt.Errorf("unknown source mode %q: %w", mode, apperrors.ErrValidation)
	}
	if !e.cfg.SupportsMode(mode) {
		return nil, fmt.Errorf("source mode %q requires a web search API key: %w", mode, apperrors.ErrValidation)
	}

	cleaned := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q != "" {
			cleaned = append(cleaned, q)
		}
	}
	if len(cleaned) > maxQueries {
		return nil, fmt.Errorf("at most %d queries allowed: %w", maxQueries, apperrors.ErrValidation)
	}

	var slug string
	if len(cleaned) == 0 {
		plan, err := e.planner.PlanQueries(ctx, idea, mode)
		if err != nil {
			return nil, err
		}
		cleaned = plan.Queries
		slug = plan.Slug
	}
	if slug == "" {
		slug = slugify(idea)
	}

	slug, err := e.dedupeSlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	concept := &models.Concept{
		Idea:    idea,
		Slug:    slug,
		Mode:    mode,
		Queries: cleaned,
		Stage:   models.StageCreated,
	}
	if err := e.repo.Create(ctx, concept); err != nil {
		return nil, err
	}

	e.logger.Info("Concept created",
		zap.String("concept_id", concept.ID.String()),
		zap.String("slug", concept.Slug),
		zap.String("mode", string(mode)),
		zap.Int("queries", len(cleaned)))

	return concept, nil
}

// ============================================================================
// Search
// ============================================================================

// Search discovers sources for a concept and advances it created→searching.
// Re-invocation at searching returns the stored sources without re-querying
// the providers.
func (e *Engine) Search(ctx context.Context, id uuid.UUID) ([]*models.Source, error) {
	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch concept.Stage {
	case models.StageCreated:
		// Entry path, handled below.
	case models.StageSearching:
		return e.repo.ListSources(ctx, id)
	default:
		return nil, apperrors.NewStageError("concept_search", string(concept.Stage), string(models.StageCreated))
	}

	discovered, err := e.discovery.Discover(ctx, concept.Queries, concept.Mode)
	if err != nil {
		return nil, err
	}

	if err := e.repo.ReplaceSources(ctx, id, discovered); err != nil {
		// A conflict means discovery already committed on a previous attempt
		// that crashed before the stage advanced; keep that source set.
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
	}

	if err := e.advance(ctx, id, models.StageCreated, models.StageSearching); err != nil {
		return nil, err
	}

	sources, err := e.repo.ListSources(ctx, id)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Sources discovered",
		zap.String("concept_id", id.String()),
		zap.Int("sources", len(sources)))

	return sources, nil
}

// ============================================================================
// Retrieve
// ============================================================================

// RetrievalSummary reports the outcome of a full-text retrieval pass.
type RetrievalSummary struct {
	Total     int              `json:"total"`
	Retrieved int              `json:"retrieved"`
	Failed    int              `json:"failed"`
	Sources   []*models.Source `json:"sources"`
}

// RetrieveFulltext fetches full text for every source that has not yet been
// retrieved. The searching→retrieving advance commits only once every source
// has a terminal status, so an aborted pass re-enters at searching and picks
// up the remainder. Per-source failures are recorded and contained; a
// permanent provider failure aborts the remainder of the pass.
func (e *Engine) RetrieveFulltext(ctx context.Context, id uuid.UUID) (*RetrievalSummary, error) {
	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch concept.Stage {
	case models.StageSearching, models.StageRetrieving:
		// Entry or re-entry; either way only pending and failed sources are
		// attempted below.
	default:
		return nil, apperrors.NewStageError("concept_retrieve_fulltext", string(concept.Stage), string(models.StageSearching))
	}

	sources, err := e.repo.ListSources(ctx, id)
	if err != nil {
		return nil, err
	}

	var abortErr error
	for _, src := range sources {
		if src.Status == models.RetrievalStatusRetrieved {
			continue
		}
		if abortErr != nil {
			break
		}

		text, rerr := e.retrieval.Retrieve(ctx, src)
		if rerr != nil {
			msg := rerr.Error()
			if uerr := e.repo.UpdateSourceRetrieval(ctx, src.ID, nil, models.RetrievalStatusFailed, &msg); uerr != nil {
				return nil, uerr
			}
			src.Status = models.RetrievalStatusFailed
			src.RetrievalError = &msg

			// Permanent failures (bad credentials, malformed request) would
			// fail every remaining source the same way.
			var aerr *apperrors.AdapterError
			if errors.As(rerr, &aerr) && !aerr.Retryable {
				abortErr = rerr
			}

			e.logger.Warn("Source retrieval failed",
				zap.String("concept_id", id.String()),
				zap.String("locator", src.Locator),
				zap.Error(rerr))
			continue
		}

		if err := e.repo.UpdateSourceRetrieval(ctx, src.ID, &text, models.RetrievalStatusRetrieved, nil); err != nil {
			return nil, err
		}
		src.Fulltext = &text
		src.Status = models.RetrievalStatusRetrieved
		src.RetrievalError = nil
	}

	summary := summarizeRetrieval(sources)

	// The advance commits only after every source was attempted; an aborted
	// pass leaves the concept at searching with its remaining sources pending.
	if concept.Stage == models.StageSearching && summary.Retrieved+summary.Failed == summary.Total {
		if err := e.advance(ctx, id, models.StageSearching, models.StageRetrieving); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Retrieval pass completed",
		zap.String("concept_id", id.String()),
		zap.Int("retrieved", summary.Retrieved),
		zap.Int("failed", summary.Failed))

	if abortErr != nil {
		return summary, abortErr
	}
	return summary, nil
}

func summarizeRetrieval(sources []*models.Source) *RetrievalSummary {
	summary := &RetrievalSummary{Total: len(sources), Sources: sources}
	for _, src := range sources {
		switch src.Status {
		case models.RetrievalStatusRetrieved:
			summary.Retrieved++
		case models.RetrievalStatusFailed:
			summary.Failed++
		}
	}
	return summary
}

// ============================================================================
// Analyze
// ============================================================================

// AnalysisSummary reports the outcome of an analysis pass. Skipped counts
// sources with no text to analyze; Failed counts sources whose analysis call
// failed and can be retried.
type AnalysisSummary struct {
	Total    int    `json:"total"`
	Analyzed int    `json:"analyzed"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Model    string `json:"model"`
}

// Analyze runs the analysis model over every retrieved source that does not
// already have an analysis. The retrieving→analyzing advance commits only
// after the pass completes, so a pass aborted by a permanent provider failure
// re-enters at retrieving. Sources whose retrieval failed are skipped, not
// errors.
func (e *Engine) Analyze(ctx context.Context, id uuid.UUID) (*AnalysisSummary, error) {
	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch concept.Stage {
	case models.StageRetrieving, models.StageAnalyzing:
		// Entry or re-entry; either way only sources still lacking an
		// analysis are sent to the model below.
	default:
		return nil, apperrors.NewStageError("concept_analyze", string(concept.Stage), string(models.StageRetrieving))
	}

	sources, err := e.repo.ListSources(ctx, id)
	if err != nil {
		return nil, err
	}

	existing, err := e.repo.ListAnalyses(ctx, id)
	if err != nil {
		return nil, err
	}
	analyzed := make(map[uuid.UUID]struct{}, len(existing))
	for _, sa := range existing {
		analyzed[sa.Analysis.SourceID] = struct{}{}
	}

	summary := &AnalysisSummary{Total: len(sources), Model: e.analysis.Model()}
	for _, src := range sources {
		if !src.HasFulltext() {
			summary.Skipped++
			continue
		}
		if _, done := analyzed[src.ID]; done {
			summary.Analyzed++
			continue
		}

		content, aerr := e.analysis.Analyze(ctx, src, *src.Fulltext)
		if aerr != nil {
			if apperrors.IsRetryableAdapterError(aerr) {
				summary.Failed++
				e.logger.Warn("Source analysis failed, continuing",
					zap.String("concept_id", id.String()),
					zap.String("locator", src.Locator),
					zap.Error(aerr))
				continue
			}
			return summary, aerr
		}

		if err := e.repo.UpsertAnalysis(ctx, &models.Analysis{
			SourceID: src.ID,
			Content:  content,
			Model:    e.analysis.Model(),
		}); err != nil {
			return summary, err
		}
		summary.Analyzed++
	}

	// The advance commits only after the pass has covered every source.
	if concept.Stage == models.StageRetrieving {
		if err := e.advance(ctx, id, models.StageRetrieving, models.StageAnalyzing); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Analysis pass completed",
		zap.String("concept_id", id.String()),
		zap.Int("analyzed", summary.Analyzed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// ============================================================================
// GetAnalyses
// ============================================================================

// GetAnalyses returns every stored analysis with its source, advancing
// analyzing→reflecting on first call. The calling agent reads this output
// while drafting the article, so later stages may re-read it freely.
func (e *Engine) GetAnalyses(ctx context.Context, id uuid.UUID) ([]*models.SourceAnalysis, error) {
	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case concept.Stage == models.StageAnalyzing:
		if err := e.advance(ctx, id, models.StageAnalyzing, models.StageReflecting); err != nil {
			return nil, err
		}
	case concept.Stage.AtLeast(models.StageReflecting):
		// Read-only after the first call.
	default:
		return nil, apperrors.NewStageError("concept_get_analyses", string(concept.Stage), string(models.StageAnalyzing))
	}

	return e.repo.ListAnalyses(ctx, id)
}

// ============================================================================
// SaveArticle
// ============================================================================

// SaveArticle stores the agent-written article, advancing reflecting→writing
// on first save. Saving again while unpublished overwrites the draft.
func (e *Engine) SaveArticle(ctx context.Context, id uuid.UUID, title, excerpt, markdown string, citations []models.Citation) (*models.Article, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("article title must not be empty: %w", apperrors.ErrValidation)
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("article markdown must not be empty: %w", apperrors.ErrValidation)
	}

	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch concept.Stage {
	case models.StageReflecting:
		if err := e.advance(ctx, id, models.StageReflecting, models.StageWriting); err != nil {
			return nil, err
		}
	case models.StageWriting:
		// Overwrite path.
	default:
		return nil, apperrors.NewStageError("concept_save_article", string(concept.Stage), string(models.StageReflecting))
	}

	article := &models.Article{
		ConceptID: id,
		Title:     title,
		Excerpt:   strings.TrimSpace(excerpt),
		Markdown:  markdown,
		Citations: citations,
	}
	if err := e.repo.SaveArticle(ctx, article); err != nil {
		return nil, err
	}

	e.logger.Info("Article saved",
		zap.String("concept_id", id.String()),
		zap.String("title", title),
		zap.Int("citations", len(citations)))

	return article, nil
}

// ============================================================================
// Publish
// ============================================================================

// Publish freezes the article and advances writing→published. Publishing is
// one-way and valid only at writing; a second call is a stage violation.
func (e *Engine) Publish(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if concept.Stage != models.StageWriting {
		return nil, apperrors.NewStageError("concept_publish", string(concept.Stage), string(models.StageWriting))
	}
	if err := e.repo.MarkPublished(ctx, id); err != nil {
		return nil, err
	}

	article, err := e.repo.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Concept published",
		zap.String("concept_id", id.String()),
		zap.String("title", article.Title))

	return article, nil
}

// ============================================================================
// Status and List
// ============================================================================

// StatusReport is the full progress picture for one concept.
type StatusReport struct {
	Concept    *models.Concept `json:"concept"`
	Progress   int             `json:"progress"`
	Sources    int             `json:"sources"`
	Retrieved  int             `json:"retrieved"`
	Failed     int             `json:"failed"`
	Analyses   int             `json:"analyses"`
	HasArticle bool            `json:"has_article"`
	Article    *models.Article `json:"article,omitempty"`
}

// Status reports a concept's stage, progress percentage, and per-stage
// counts. It is read-only and valid at every stage.
func (e *Engine) Status(ctx context.Context, id uuid.UUID) (*StatusReport, error) {
	concept, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		Concept:  concept,
		Progress: concept.Stage.Progress(),
	}

	sources, err := e.repo.ListSources(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Sources = len(sources)
	for _, src := range sources {
		switch src.Status {
		case models.RetrievalStatusRetrieved:
			report.Retrieved++
		case models.RetrievalStatusFailed:
			report.Failed++
		}
	}

	analyses, err := e.repo.ListAnalyses(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Analyses = len(analyses)

	article, err := e.repo.GetArticle(ctx, id)
	switch {
	case err == nil:
		report.HasArticle = true
		report.Article = article
	case errors.Is(err, apperrors.ErrNotFound):
		// No article yet.
	default:
		return nil, err
	}

	return report, nil
}

// List returns concept summaries, optionally filtered by stage, oldest first.
func (e *Engine) List(ctx context.Context, stage *models.Stage, limit int) ([]*models.ConceptSummary, error) {
	if stage != nil && !models.IsValidStage(*stage) {
		return nil, fmt.Errorf("unknown stage %q: %w", *stage, apperrors.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return e.repo.List(ctx, stage, limit)
}

// ============================================================================
// Helpers
// ============================================================================

// advance performs a compare-and-swap stage transition, treating a lost race
// where another caller already reached the target as success.
func (e *Engine) advance(ctx context.Context, id uuid.UUID, from, to models.Stage) error {
	err := e.repo.AdvanceStage(ctx, id, from, to)
	if err == nil {
		return nil
	}

	var serr *apperrors.StageError
	if errors.As(err, &serr) && serr.Current == string(to) {
		return nil
	}
	return err
}

// dedupeSlug appends a timestamp suffix when the slug is already taken.
func (e *Engine) dedupeSlug(ctx context.Context, slug string) (string, error) {
	exists, err := e.repo.SlugExists(ctx, slug)
	if err != nil {
		return "", err
	}
	if !exists {
		return slug, nil
	}
	return fmt.Sprintf("%s-%d", slug, time.Now().Unix()), nil
}

const maxSlugWords = 6

// slugify derives a lowercase hyphenated slug from free text.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	words := 0
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				words++
				if words >= maxSlugWords {
					return b.String()
				}
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
