package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loaderland/concept-runner/pkg/apperrors"
	"github.com/loaderland/concept-runner/pkg/models"
	"github.com/loaderland/concept-runner/pkg/testhelpers"
)

func setupRepo(t *testing.T) ConceptRepository {
	t.Helper()
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	return NewConceptRepository(tdb.DB)
}

func createConcept(t *testing.T, repo ConceptRepository, slug string) *models.Concept {
	t.Helper()
	concept := &models.Concept{
		Idea:    "test idea",
		Slug:    slug,
		Mode:    models.SourceModePubMed,
		Queries: []string{"query one", "query two"},
	}
	require.NoError(t, repo.Create(context.Background(), concept))
	return concept
}

func TestConceptRepository_CreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	concept := createConcept(t, repo, "create-and-get")
	assert.NotEqual(t, uuid.Nil, concept.ID)
	assert.False(t, concept.CreatedAt.IsZero())

	loaded, err := repo.GetByID(ctx, concept.ID)
	require.NoError(t, err)
	assert.Equal(t, concept.Idea, loaded.Idea)
	assert.Equal(t, models.StageCreated, loaded.Stage)
	assert.Equal(t, []string{"query one", "query two"}, loaded.Queries)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	exists, err := repo.SlugExists(ctx, "create-and-get")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConceptRepository_AdvanceStageCAS(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	concept := createConcept(t, repo, "advance-cas")

	require.NoError(t, repo.AdvanceStage(ctx, concept.ID, models.StageCreated, models.StageSearching))

	// Losing the compare-and-swap reports the actual stage.
	err := repo.AdvanceStage(ctx, concept.ID, models.StageCreated, models.StageSearching)
	require.Error(t, err)
	var serr *apperrors.StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, string(models.StageSearching), serr.Current)

	// Skipping stages is rejected before touching the database.
	err = repo.AdvanceStage(ctx, concept.ID, models.StageSearching, models.StageAnalyzing)
	assert.ErrorIs(t, err, apperrors.ErrStageViolation)
}

func TestConceptRepository_SourceLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	concept := createConcept(t, repo, "source-lifecycle")

	snippet := "an abstract"
	sources := []*models.Source{
		{
			Provider: models.SourceProviderPubMed,
			Query:    "query one",
			Title:    "Paper A",
			Locator:  "11111",
			Snippet:  &snippet,
			Metadata: models.SourceMetadata{PMCID: "PMC1", Journal: "Nature", Year: "2024"},
		},
		{
			Provider: models.SourceProviderTavily,
			Query:    "query two",
			Title:    "Page B",
			Locator:  "https://example.org/b",
			Metadata: models.SourceMetadata{Domain: "example.org"},
		},
	}
	require.NoError(t, repo.ReplaceSources(ctx, concept.ID, sources))

	// A second discovery pass must not replace the committed set.
	err := repo.ReplaceSources(ctx, concept.ID, sources)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	listed, err := repo.ListSources(ctx, concept.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 0, listed[0].Rank)
	assert.Equal(t, models.RetrievalStatusPending, listed[0].Status)
	assert.Equal(t, "PMC1", listed[0].Metadata.PMCID)

	text := "full text"
	require.NoError(t, repo.UpdateSourceRetrieval(ctx, listed[0].ID, &text, models.RetrievalStatusRetrieved, nil))

	failMsg := "404 not found"
	require.NoError(t, repo.UpdateSourceRetrieval(ctx, listed[1].ID, nil, models.RetrievalStatusFailed, &failMsg))

	listed, err = repo.ListSources(ctx, concept.ID)
	require.NoError(t, err)
	assert.True(t, listed[0].HasFulltext())
	assert.Equal(t, models.RetrievalStatusFailed, listed[1].Status)
	require.NotNil(t, listed[1].RetrievalError)
	assert.Equal(t, failMsg, *listed[1].RetrievalError)

	err = repo.UpdateSourceRetrieval(ctx, uuid.New(), nil, models.RetrievalStatusFailed, &failMsg)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConceptRepository_AnalysisUpsert(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	concept := createConcept(t, repo, "analysis-upsert")

	sources := []*models.Source{{
		Provider: models.SourceProviderPubMed,
		Query:    "q",
		Title:    "Paper",
		Locator:  "22222",
	}}
	require.NoError(t, repo.ReplaceSources(ctx, concept.ID, sources))

	analysis := &models.Analysis{
		SourceID: sources[0].ID,
		Content:  `{"confidence": "low"}`,
		Model:    "model-a",
	}
	require.NoError(t, repo.UpsertAnalysis(ctx, analysis))

	// Re-analysis overwrites in place rather than adding a row.
	require.NoError(t, repo.UpsertAnalysis(ctx, &models.Analysis{
		SourceID: sources[0].ID,
		Content:  `{"confidence": "high"}`,
		Model:    "model-b",
	}))

	listed, err := repo.ListAnalyses(ctx, concept.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, `{"confidence": "high"}`, listed[0].Analysis.Content)
	assert.Equal(t, "model-b", listed[0].Analysis.Model)
	assert.Equal(t, "22222", listed[0].Source.Locator)
}

func walkToStage(t *testing.T, repo ConceptRepository, id uuid.UUID, target models.Stage) {
	t.Helper()
	ctx := context.Background()
	concept, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	for concept.Stage != target {
		next := concept.Stage.Next()
		require.NoError(t, repo.AdvanceStage(ctx, id, concept.Stage, next))
		concept.Stage = next
	}
}

func TestConceptRepository_ArticleLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	concept := createConcept(t, repo, "article-lifecycle")

	article := &models.Article{
		ConceptID: concept.ID,
		Title:     "Draft",
		Markdown:  "# Draft",
		Citations: []models.Citation{{Ref: 1, Title: "Paper", PMID: "11111"}},
	}

	// Saving before the writing stage is rejected.
	err := repo.SaveArticle(ctx, article)
	assert.ErrorIs(t, err, apperrors.ErrStageViolation)

	walkToStage(t, repo, concept.ID, models.StageWriting)
	require.NoError(t, repo.SaveArticle(ctx, article))

	// Overwrite while unpublished.
	article.Title = "Final"
	article.Markdown = "# Final"
	require.NoError(t, repo.SaveArticle(ctx, article))

	loaded, err := repo.GetArticle(ctx, concept.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", loaded.Title)
	assert.False(t, loaded.Published)
	require.Len(t, loaded.Citations, 1)

	require.NoError(t, repo.MarkPublished(ctx, concept.ID))

	loaded, err = repo.GetArticle(ctx, concept.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Published)
	require.NotNil(t, loaded.PublishedAt)

	final, err := repo.GetByID(ctx, concept.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StagePublished, final.Stage)

	// Published articles are frozen.
	err = repo.SaveArticle(ctx, article)
	assert.ErrorIs(t, err, apperrors.ErrStageViolation)

	// Publishing twice loses the stage check.
	err = repo.MarkPublished(ctx, concept.ID)
	assert.ErrorIs(t, err, apperrors.ErrStageViolation)
}

func TestConceptRepository_MarkPublishedRequiresArticle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	concept := createConcept(t, repo, "publish-no-article")

	walkToStage(t, repo, concept.ID, models.StageWriting)

	err := repo.MarkPublished(ctx, concept.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestConceptRepository_ListFiltersByStage(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a := createConcept(t, repo, "list-a")
	createConcept(t, repo, "list-b")
	createConcept(t, repo, "list-c")
	require.NoError(t, repo.AdvanceStage(ctx, a.ID, models.StageCreated, models.StageSearching))

	all, err := repo.List(ctx, nil, 50)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Creation order is preserved.
	for i, want := range []string{"list-a", "list-b", "list-c"} {
		assert.Equal(t, want, all[i].Slug)
	}

	searching := models.StageSearching
	filtered, err := repo.List(ctx, &searching, 50)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "list-a", filtered[0].Slug)

	limited, err := repo.List(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
