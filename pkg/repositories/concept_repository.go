// Package repositories provides data access for concepts, sources, analyses,
// and articles. The repository is the single source of truth for pipeline
// state; no other component holds independent copies.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/database"
	"github.com/loaderland/concept-runner/pkg/models"
)

// ConceptRepository is the durable record of every concept and its pipeline
// data. All operations are atomic with respect to a single concept and are
// durable before they return.
type ConceptRepository interface {
	Create(ctx context.Context, concept *models.Concept) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Concept, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	List(ctx context.Context, stage *models.Stage, limit int) ([]*models.ConceptSummary, error)

	// AdvanceStage is the sole mutator of the stage field. It is a
	// compare-and-swap: it succeeds only if the concept's current stage
	// equals from, so two competing callers can never both win an advance.
	AdvanceStage(ctx context.Context, id uuid.UUID, from, to models.Stage) error

	// ReplaceSources installs the discovered source set for a concept.
	// It fails with apperrors.ErrConflict if sources already exist, which is
	// how stage re-entry avoids duplicating discovery.
	ReplaceSources(ctx context.Context, conceptID uuid.UUID, sources []*models.Source) error
	ListSources(ctx context.Context, conceptID uuid.UUID) ([]*models.Source, error)
	UpdateSourceRetrieval(ctx context.Context, sourceID uuid.UUID, fulltext *string, status models.RetrievalStatus, retrievalErr *string) error

	UpsertAnalysis(ctx context.Context, analysis *models.Analysis) error
	ListAnalyses(ctx context.Context, conceptID uuid.UUID) ([]*models.SourceAnalysis, error)

	// SaveArticle stores or overwrites the article. The concept must have
	// reached the writing stage.
	SaveArticle(ctx context.Context, article *models.Article) error
	GetArticle(ctx context.Context, conceptID uuid.UUID) (*models.Article, error)

	// MarkPublished sets the published flag and advances writing→published in
	// one transaction. It requires stage == writing and an existing article.
	MarkPublished(ctx context.Context, conceptID uuid.UUID) error
}

type conceptRepository struct {
	db *database.DB
}

// NewConceptRepository creates a ConceptRepository backed by Postgres.
func NewConceptRepository(db *database.DB) ConceptRepository {
	return &conceptRepository{db: db}
}

var _ ConceptRepository = (*conceptRepository)(nil)

// ============================================================================
// Concepts
// ============================================================================

func (r *conceptRepository) Create(ctx context.Context, concept *models.Concept) error {
	if concept.ID == uuid.Nil {
		concept.ID = uuid.New()
	}
	if concept.Stage == "" {
		concept.Stage = models.StageCreated
	}

	queriesJSON, err := json.Marshal(concept.Queries)
	if err != nil {
		return fmt.Errorf("failed to marshal queries: %w", err)
	}

	query := `
		INSERT INTO concepts (id, idea, slug, mode, queries, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		concept.ID, concept.Idea, concept.Slug, concept.Mode, queriesJSON, concept.Stage,
	).Scan(&concept.CreatedAt, &concept.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create concept: %w", err)
	}

	return nil
}

func (r *conceptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Concept, error) {
	query := `
		SELECT id, idea, slug, mode, queries, stage, created_at, updated_at
		FROM concepts
		WHERE id = $1`

	return scanConcept(r.db.QueryRow(ctx, query, id))
}

func (r *conceptRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM concepts WHERE slug = $1)`, slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (r *conceptRepository) List(ctx context.Context, stage *models.Stage, limit int) ([]*models.ConceptSummary, error) {
	query := `
		SELECT c.id, c.idea, c.slug, c.mode, c.stage, a.title, c.created_at
		FROM concepts c
		LEFT JOIN articles a ON a.concept_id = c.id
		WHERE ($1::text IS NULL OR c.stage = $1)
		ORDER BY c.created_at ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.ConceptSummary, 0)
	for rows.Next() {
		var s models.ConceptSummary
		if err := rows.Scan(&s.ID, &s.Idea, &s.Slug, &s.Mode, &s.Stage, &s.Title, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan concept summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read concept rows: %w", err)
	}

	return summaries, nil
}

func (r *conceptRepository) AdvanceStage(ctx context.Context, id uuid.UUID, from, to models.Stage) error {
	if !from.CanAdvanceTo(to) {
		return apperrors.NewStageError("advance_stage", string(from), string(to))
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE concepts SET stage = $3, updated_at = now() WHERE id = $1 AND stage = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("failed to advance stage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// CAS lost: report the concept's actual stage, or not-found.
	concept, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.NewStageError("advance_stage", string(concept.Stage), string(from))
}

// ============================================================================
// Sources
// ============================================================================

func (r *conceptRepository) ReplaceSources(ctx context.Context, conceptID uuid.UUID, sources []*models.Source) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sources WHERE concept_id = $1)`, conceptID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existing sources: %w", err)
	}
	if exists {
		return fmt.Errorf("sources already discovered for concept %s: %w", conceptID, apperrors.ErrConflict)
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

		metadataJSON, err := json.Marshal(src.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal source metadata: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO sources (id, concept_id, provider, query, rank, title, locator, snippet, metadata, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at`,
			src.ID, src.ConceptID, src.Provider, src.Query, src.Rank,
			src.Title, src.Locator, src.Snippet, metadataJSON, src.Status,
		).Scan(&src.CreatedAt, &src.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert source %q: %w", src.Locator, err)
		}
	}

	if err := touchConcept(ctx, tx, conceptID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sources: %w", err)
	}
	return nil
}

func (r *conceptRepository) ListSources(ctx context.Context, conceptID uuid.UUID) ([]*models.Source, error) {
	query := `
		SELECT id, concept_id, provider, query, rank, title, locator, snippet,
		       metadata, fulltext, status, retrieval_error, created_at, updated_at
		FROM sources
		WHERE concept_id = $1
		ORDER BY rank ASC`

	rows, err := r.db.Query(ctx, query, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]*models.Source, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source rows: %w", err)
	}

	return sources, nil
}

func (r *conceptRepository) UpdateSourceRetrieval(ctx context.Context, sourceID uuid.UUID, fulltext *string, status models.RetrievalStatus, retrievalErr *string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var conceptID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE sources
		SET fulltext = $2, status = $3, retrieval_error = $4, updated_at = now()
		WHERE id = $1
		RETURNING concept_id`,
		sourceID, fulltext, status, retrievalErr,
	).Scan(&conceptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("source %s: %w", sourceID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to update source retrieval: %w", err)
	}

	if err := touchConcept(ctx, tx, conceptID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit source update: %w", err)
	}
	return nil
}

// ============================================================================
// Analyses
// ============================================================================

func (r *conceptRepository) UpsertAnalysis(ctx context.Context, analysis *models.Analysis) error {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// One analysis per source: re-analysis overwrites in place.
	err = tx.QueryRow(ctx, `
		INSERT INTO analyses (id, source_id, content, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE
		SET content = EXCLUDED.content, model = EXCLUDED.model, updated_at = now()
		RETURNING id, created_at, updated_at`,
		analysis.ID, analysis.SourceID, analysis.Content, analysis.Model,
	).Scan(&analysis.ID, &analysis.CreatedAt, &analysis.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	var conceptID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT concept_id FROM sources WHERE id = $1`, analysis.SourceID,
	).Scan(&conceptID)
	if err != nil {
		return fmt.Errorf("failed to resolve source concept: %w", err)
	}

	if err := touchConcept(ctx, tx, conceptID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

func (r *conceptRepository) ListAnalyses(ctx context.Context, conceptID uuid.UUID) ([]*models.SourceAnalysis, error) {
	query := `
		SELECT s.id, s.concept_id, s.provider, s.query, s.rank, s.title, s.locator, s.snippet,
		       s.metadata, s.fulltext, s.status, s.retrieval_error, s.created_at, s.updated_at,
		       a.id, a.source_id, a.content, a.model, a.created_at, a.updated_at
		FROM analyses a
		JOIN sources s ON s.id = a.source_id
		WHERE s.concept_id = $1
		ORDER BY s.rank ASC`

	rows, err := r.db.Query(ctx, query, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	results := make([]*models.SourceAnalysis, 0)
	for rows.Next() {
		var sa models.SourceAnalysis
		var metadataJSON []byte
		err := rows.Scan(
			&sa.Source.ID, &sa.Source.ConceptID, &sa.Source.Provider, &sa.Source.Query,
			&sa.Source.Rank, &sa.Source.Title, &sa.Source.Locator, &sa.Source.Snippet,
			&metadataJSON, &sa.Source.Fulltext, &sa.Source.Status, &sa.Source.RetrievalError,
			&sa.Source.CreatedAt, &sa.Source.UpdatedAt,
			&sa.Analysis.ID, &sa.Analysis.SourceID, &sa.Analysis.Content, &sa.Analysis.Model,
			&sa.Analysis.CreatedAt, &sa.Analysis.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &sa.Source.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source metadata: %w", err)
		}
		results = append(results, &sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analysis rows: %w", err)
	}

	return results, nil
}

// ============================================================================
// Articles
// ============================================================================

func (r *conceptRepository) SaveArticle(ctx context.Context, article *models.Article) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var stage models.Stage
	err = tx.QueryRow(ctx,
		`SELECT stage FROM concepts WHERE id = $1`, article.ConceptID,
	).Scan(&stage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("concept %s: %w", article.ConceptID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to load concept stage: %w", err)
	}
	if !stage.AtLeast(models.StageWriting) {
		return apperrors.NewStageError("save_article", string(stage), string(models.StageWriting))
	}

	citationsJSON, err := json.Marshal(article.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	// Overwrite is allowed while unpublished; publishing freezes the article.
	err = tx.QueryRow(ctx, `
		INSERT INTO articles (concept_id, title, excerpt, markdown, citations)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (concept_id) DO UPDATE
		SET title = EXCLUDED.title, excerpt = EXCLUDED.excerpt,
		    markdown = EXCLUDED.markdown, citations = EXCLUDED.citations,
		    updated_at = now()
		WHERE articles.published = FALSE
		RETURNING published, created_at, updated_at`,
		article.ConceptID, article.Title, article.Excerpt, article.Markdown, citationsJSON,
	).Scan(&article.Published, &article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewStageError("save_article", string(models.StagePublished), string(models.StageWriting))
		}
		return fmt.Errorf("failed to save article: %w", err)
	}

	if err := touchConcept(ctx, tx, article.ConceptID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit article: %w", err)
	}
	return nil
}

func (r *conceptRepository) GetArticle(ctx context.Context, conceptID uuid.UUID) (*models.Article, error) {
	query := `
		SELECT concept_id, title, excerpt, markdown, citations, published, published_at, created_at, updated_at
		FROM articles
		WHERE concept_id = $1`

	var a models.Article
	var citationsJSON []byte
	err := r.db.QueryRow(ctx, query, conceptID).Scan(
		&a.ConceptID, &a.Title, &a.Excerpt, &a.Markdown, &citationsJSON,
		&a.Published, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("article for concept %s: %w", conceptID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	if err := json.Unmarshal(citationsJSON, &a.Citations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
	}

	return &a, nil
}

func (r *conceptRepository) MarkPublished(ctx context.Context, conceptID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var stage models.Stage
	err = tx.QueryRow(ctx,
		`SELECT stage FROM concepts WHERE id = $1 FOR UPDATE`, conceptID,
	).Scan(&stage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("concept %s: %w", conceptID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to load concept stage: %w", err)
	}
	if stage != models.StageWriting {
		return apperrors.NewStageError("publish", string(stage), string(models.StageWriting))
	}

	tag, err := tx.Exec(ctx, `
		UPDATE articles
		SET published = TRUE, published_at = now(), updated_at = now()
		WHERE concept_id = $1`,
		conceptID)
	if err != nil {
		return fmt.Errorf("failed to mark article published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cannot publish: no article saved for concept %s: %w", conceptID, apperrors.ErrValidation)
	}

	// Same compare-and-swap as AdvanceStage, inside the transaction so the
	// published flag and the terminal stage commit together.
	tag, err = tx.Exec(ctx,
		`UPDATE concepts SET stage = $3, updated_at = now() WHERE id = $1 AND stage = $2`,
		conceptID, models.StageWriting, models.StagePublished)
	if err != nil {
		return fmt.Errorf("failed to advance to published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewStageError("publish", string(stage), string(models.StageWriting))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// touchConcept bumps the concept's last-updated timestamp inside a mutation
// transaction.
func touchConcept(ctx context.Context, tx pgx.Tx, conceptID uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`UPDATE concepts SET updated_at = now() WHERE id = $1`, conceptID); err != nil {
		return fmt.Errorf("failed to touch concept: %w", err)
	}
	return nil
}

func scanConcept(row pgx.Row) (*models.Concept, error) {
	var c models.Concept
	var queriesJSON []byte
	err := row.Scan(&c.ID, &c.Idea, &c.Slug, &c.Mode, &queriesJSON, &c.Stage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("concept: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan concept: %w", err)
	}
	if err := json.Unmarshal(queriesJSON, &c.Queries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queries: %w", err)
	}
	return &c, nil
}

func scanSource(rows pgx.Rows) (*models.Source, error) {
	var src models.Source
	var metadataJSON []byte
	err := rows.Scan(
		&src.ID, &src.ConceptID, &src.Provider, &src.Query, &src.Rank,
		&src.Title, &src.Locator, &src.Snippet, &metadataJSON,
		&src.Fulltext, &src.Status, &src.RetrievalError,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &src.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source metadata: %w", err)
	}
	return &src, nil
}
