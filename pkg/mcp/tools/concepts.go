// Package tools provides MCP tool implementations for concept-runner.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/engine"
	"github.com/loaderland/concept-runner/pkg/models"
)

// ConceptToolDeps contains dependencies for the pipeline tools.
type ConceptToolDeps struct {
	Engine *engine.Engine
	Logger *zap.Logger
}

// RegisterConceptTools registers the nine pipeline tools.
func RegisterConceptTools(s *server.MCPServer, deps *ConceptToolDeps) {
	registerCreateTool(s, deps)
	registerSearchTool(s, deps)
	registerRetrieveFulltextTool(s, deps)
	registerAnalyzeTool(s, deps)
	registerGetAnalysesTool(s, deps)
	registerSaveArticleTool(s, deps)
	registerPublishTool(s, deps)
	registerStatusTool(s, deps)
	registerListTool(s, deps)
}

// handleEngineError turns a pipeline error into either a structured error
// result (actionable by the agent) or a protocol error (system failure).
func handleEngineError(deps *ConceptToolDeps, tool string, err error) (*mcp.CallToolResult, error) {
	if IsInputError(err) {
		deps.Logger.Debug("Tool rejected input",
			zap.String("tool", tool),
			zap.Error(err))
	} else {
		deps.Logger.Error("Tool failed",
			zap.String("tool", tool),
			zap.Error(err))
	}
	return resultFromEngineError(err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// registerCreateTool adds concept_create, the pipeline entry point.
func registerCreateTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_create",
		mcp.WithDescription(
			"Create a new research concept from a topic idea. "+
				"Returns the concept with its ID, slug, and search queries. "+
				"When 'queries' is omitted, search queries and the slug are generated from the idea. "+
				"After creating, call concept_search to discover sources.",
		),
		mcp.WithString(
			"idea",
			mcp.Required(),
			mcp.Description("The topic to research (e.g., 'effects of intermittent fasting on sleep quality')"),
		),
		mcp.WithString(
			"mode",
			mcp.Description("Source providers to search: 'pubmed' (default), 'web', or 'both'"),
		),
		mcp.WithArray(
			"queries",
			mcp.Description("Optional - search queries to use verbatim instead of generating them"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idea, err := req.RequireString("idea")
		if err != nil {
			return NewErrorResult("validation_error", "parameter 'idea' is required"), nil
		}
		if trimString(idea) == "" {
			return NewErrorResult("validation_error", "parameter 'idea' cannot be empty"), nil
		}

		mode := models.SourceMode(trimString(getOptionalString(req, "mode")))
		queries := getOptionalStringArray(req, "queries")

		concept, err := deps.Engine.Create(ctx, idea, mode, queries)
		if err != nil {
			return handleEngineError(deps, "concept_create", err)
		}
		return jsonResult(concept)
	})
}

// registerSearchTool adds concept_search, which discovers candidate sources.
func registerSearchTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_search",
		mcp.WithDescription(
			"Discover candidate sources for a concept by running its search queries "+
				"against the configured providers. Advances the concept from 'created' to 'searching'. "+
				"Calling again at 'searching' returns the stored sources without re-querying. "+
				"Next step: concept_retrieve_fulltext.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept, as returned by concept_create"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		sources, err := deps.Engine.Search(ctx, id)
		if err != nil {
			return handleEngineError(deps, "concept_search", err)
		}

		return jsonResult(struct {
			Sources []*models.Source `json:"sources"`
			Count   int              `json:"count"`
		}{Sources: sources, Count: len(sources)})
	})
}

// registerRetrieveFulltextTool adds concept_retrieve_fulltext.
func registerRetrieveFulltextTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_retrieve_fulltext",
		mcp.WithDescription(
			"Fetch full text for every discovered source. The concept advances from "+
				"'searching' to 'retrieving' once every source has been attempted. Individual "+
				"source failures are recorded and do not stop the pass; calling again retries "+
				"only the pending and failed sources. Next step: concept_analyze.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		summary, err := deps.Engine.RetrieveFulltext(ctx, id)
		if err != nil {
			return handleEngineError(deps, "concept_retrieve_fulltext", err)
		}
		return jsonResult(summary)
	})
}

// registerAnalyzeTool adds concept_analyze.
func registerAnalyzeTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_analyze",
		mcp.WithDescription(
			"Run AI analysis over every retrieved source. The concept advances from "+
				"'retrieving' to 'analyzing' once the pass completes. Sources whose retrieval "+
				"failed are skipped. Calling again analyzes only sources still lacking an "+
				"analysis. Next step: concept_get_analyses.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		summary, err := deps.Engine.Analyze(ctx, id)
		if err != nil {
			return handleEngineError(deps, "concept_analyze", err)
		}
		return jsonResult(summary)
	})
}

// registerGetAnalysesTool adds concept_get_analyses, the reflection read.
func registerGetAnalysesTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_get_analyses",
		mcp.WithDescription(
			"Return every source analysis for a concept. The first call advances the concept "+
				"from 'analyzing' to 'reflecting'; later calls are read-only. "+
				"Read the analyses, draft the article, then call concept_save_article.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		analyses, err := deps.Engine.GetAnalyses(ctx, id)
		if err != nil {
			return handleEngineError(deps, "concept_get_analyses", err)
		}

		return jsonResult(struct {
			Analyses []*models.SourceAnalysis `json:"analyses"`
			Count    int                      `json:"count"`
		}{Analyses: analyses, Count: len(analyses)})
	})
}

// registerSaveArticleTool adds concept_save_article.
func registerSaveArticleTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_save_article",
		mcp.WithDescription(
			"Save the written article for a concept. The first save advances the concept from "+
				"'reflecting' to 'writing'; saving again overwrites the draft until it is published. "+
				"Next step: concept_publish.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept"),
		),
		mcp.WithString(
			"title",
			mcp.Required(),
			mcp.Description("Article title"),
		),
		mcp.WithString(
			"markdown",
			mcp.Required(),
			mcp.Description("Full article body in markdown"),
		),
		mcp.WithString(
			"excerpt",
			mcp.Description("Optional - one-paragraph summary for listings"),
		),
		mcp.WithArray(
			"citations",
			mcp.Description("Optional - references used in the article"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ref":   map[string]any{"type": "integer", "description": "Citation number used in the text"},
					"title": map[string]any{"type": "string", "description": "Source title"},
					"pmid":  map[string]any{"type": "string", "description": "PubMed ID, for literature sources"},
					"url":   map[string]any{"type": "string", "description": "URL, for web sources"},
				},
				"required": []string{"ref", "title"},
			}),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		title, err := req.RequireString("title")
		if err != nil {
			return NewErrorResult("validation_error", "parameter 'title' is required"), nil
		}
		markdown, err := req.RequireString("markdown")
		if err != nil {
			return NewErrorResult("validation_error", "parameter 'markdown' is required"), nil
		}
		excerpt := getOptionalString(req, "excerpt")

		citations, errResult := parseCitations(req)
		if errResult != nil {
			return errResult, nil
		}

		article, err := deps.Engine.SaveArticle(ctx, id, title, excerpt, markdown, citations)
		if err != nil {
			return handleEngineError(deps, "concept_save_article", err)
		}
		return jsonResult(article)
	})
}

func parseCitations(req mcp.CallToolRequest) ([]models.Citation, *mcp.CallToolResult) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := args["citations"]
	if !ok || raw == nil {
		return nil, nil
	}

	// Round-trip through JSON so the schema shape maps onto the model.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, NewErrorResult("validation_error", "parameter 'citations' is not valid")
	}
	var citations []models.Citation
	if err := json.Unmarshal(jsonBytes, &citations); err != nil {
		return nil, NewErrorResult("validation_error",
			"parameter 'citations' must be an array of {ref, title, pmid?, url?} objects")
	}
	return citations, nil
}

// registerPublishTool adds concept_publish, the terminal transition.
func registerPublishTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_publish",
		mcp.WithDescription(
			"Publish the saved article and move the concept to its terminal 'published' stage. "+
				"Publishing is one-way: the article can no longer be overwritten, and calling "+
				"again on a published concept is rejected as a stage violation.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		article, err := deps.Engine.Publish(ctx, id)
		if err != nil {
			return handleEngineError(deps, "concept_publish", err)
		}
		return jsonResult(article)
	})
}

// registerStatusTool adds concept_status, valid at every stage.
func registerStatusTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_status",
		mcp.WithDescription(
			"Report a concept's current stage, progress percentage, source and analysis counts, "+
				"and article if one exists. Read-only and valid at every stage; use it to decide "+
				"which pipeline tool to call next.",
		),
		mcp.WithString(
			"concept_id",
			mcp.Required(),
			mcp.Description("UUID of the concept"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := requireConceptID(req)
		if errResult != nil {
			return errResult, nil
		}

		report, err := deps.Engine.Status(ctx, id)
		if err != nil {
			return handleEngineError(deps, "concept_status", err)
		}
		return jsonResult(report)
	})
}

// registerListTool adds concept_list.
func registerListTool(s *server.MCPServer, deps *ConceptToolDeps) {
	tool := mcp.NewTool(
		"concept_list",
		mcp.WithDescription(
			"List concepts oldest first, optionally filtered by stage. "+
				"Returns lightweight summaries without sources or analyses.",
		),
		mcp.WithString(
			"stage",
			mcp.Description("Optional - only return concepts at this stage "+
				"(created, searching, retrieving, analyzing, reflecting, writing, published)"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Maximum number of concepts to return (default: 50, max: 200)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var stage *models.Stage
		if raw := trimString(getOptionalString(req, "stage")); raw != "" {
			s := models.Stage(raw)
			stage = &s
		}

		limit := 0
		if v, ok := getOptionalFloat(req, "limit"); ok {
			limit = int(v)
		}

		concepts, err := deps.Engine.List(ctx, stage, limit)
		if err != nil {
			return handleEngineError(deps, "concept_list", err)
		}

		return jsonResult(struct {
			Concepts []*models.ConceptSummary `json:"concepts"`
			Count    int                      `json:"count"`
		}{Concepts: concepts, Count: len(concepts)})
	})
}
