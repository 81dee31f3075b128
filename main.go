package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/pkg/adapters"
	"github.com/loaderland/concept-runner/pkg/adapters/pubmed"
	"github.com/loaderland/concept-runner/pkg/adapters/tavily"
	"github.com/loaderland/concept-runner/pkg/adapters/webpage"
	"github.com/loaderland/concept-runner/pkg/config"
	"github.com/loaderland/concept-runner/pkg/database"
	"github.com/loaderland/concept-runner/pkg/engine"
	"github.com/loaderland/concept-runner/pkg/llm"
	"github.com/loaderland/concept-runner/pkg/mcp"
	"github.com/loaderland/concept-runner/pkg/mcp/tools"
	"github.com/loaderland/concept-runner/pkg/middleware"
	"github.com/loaderland/concept-runner/pkg/repositories"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// buildLogger writes to stderr in both modes; stdout belongs to the MCP
// protocol when serving stdio.
func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		return err
	}

	eng, err := buildEngine(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	mcpServer := mcp.NewServer("concept-runner", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
	tools.RegisterConceptTools(mcpServer.MCP(), &tools.ConceptToolDeps{
		Engine: eng,
		Logger: logger.Named("tools"),
	})

	switch cfg.Transport {
	case "http":
		return serveHTTP(cfg, mcpServer, logger)
	default:
		logger.Info("Serving MCP over stdio", zap.String("version", cfg.Version))
		return mcpServer.ServeStdio()
	}
}

// runMigrations applies pending migrations through a short-lived database/sql
// handle; the migrate driver does not speak pgxpool.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}

func buildEngine(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger) (*engine.Engine, error) {
	repo := repositories.NewConceptRepository(db)

	llmClient, err := llm.NewClientFromConfig(ctx, cfg.Analysis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis client: %w", err)
	}

	pubmedClient := pubmed.NewClient(nil, cfg.PubMed.Email, cfg.PubMed.APIKey, logger)

	var tavilyClient *tavily.Client
	if cfg.Tavily.Configured() {
		tavilyClient = tavily.NewClient(nil, cfg.Tavily.BaseURL, cfg.Tavily.APIKey, logger)
	}

	analysisAdapter := adapters.NewAnalysis(llmClient, logger)

	return engine.New(
		repo,
		adapters.NewDiscovery(pubmedClient, tavilyClient, cfg.PubMed.MaxResults, cfg.Tavily.MaxResults, logger),
		adapters.NewRetrieval(pubmedClient, tavilyClient, webpage.NewExtractor(nil, 0), logger),
		analysisAdapter,
		analysisAdapter,
		cfg,
		logger,
	), nil
}

func serveHTTP(cfg *config.Config, mcpServer *mcp.Server, logger *zap.Logger) error {
	mux := http.NewServeMux()

	loggedHandler := middleware.MCPRequestLogger(logger.Named("mcp"))(mcpServer.NewStreamableHTTPServer())
	mux.Handle("/mcp", requirePOST(loggedHandler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := cfg.BindAddr + ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Serving MCP over HTTP",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	return httpServer.ListenAndServe()
}

// requirePOST returns 405 for non-POST requests; MCP over streamable HTTP
// uses POST for JSON-RPC.
func requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
