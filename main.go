package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/auth"
	"github.com/vibelab/vibelab-engine/pkg/config"
	"github.com/vibelab/vibelab-engine/pkg/database"
	"github.com/vibelab/vibelab-engine/pkg/handlers"
	"github.com/vibelab/vibelab-engine/pkg/llm"
	"github.com/vibelab/vibelab-engine/pkg/logging"
	mcpserver "github.com/vibelab/vibelab-engine/pkg/mcp"
	"github.com/vibelab/vibelab-engine/pkg/mcp/tools"
	"github.com/vibelab/vibelab-engine/pkg/middleware"
	"github.com/vibelab/vibelab-engine/pkg/repositories"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("version", cfg.Version),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled))

	// Database
	db, err := database.Connect(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	stdDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(stdDB, logger); err != nil {
		_ = stdDB.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	_ = stdDB.Close()

	// Repositories
	experimentRepo := repositories.NewExperimentRepository()
	promptRepo := repositories.NewPromptRepository()
	modelRepo := repositories.NewModelRepository()
	generationRepo := repositories.NewGenerationRepository()
	rankingRepo := repositories.NewRankingRepository()
	analysisRepo := repositories.NewAnalysisRepository()
	templateRepo := repositories.NewTemplateRepository()

	// Model execution
	invoker, err := newInvoker(cfg, modelRepo, logger)
	if err != nil {
		return err
	}
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		QueueLimit:    cfg.Executor.QueueLimit,
		CallTimeout:   cfg.Executor.CallTimeout,
	}, logger)
	poolCfg := pool.Config()
	logger.Info("Executor ready",
		zap.Int("max_concurrent", poolCfg.MaxConcurrent),
		zap.Int("queue_limit", poolCfg.QueueLimit),
		zap.Duration("call_timeout", poolCfg.CallTimeout))

	// Services
	experimentService := services.NewExperimentService(experimentRepo, promptRepo, generationRepo, analysisRepo, logger)
	modelService := services.NewModelService(modelRepo, logger)
	generationService := services.NewGenerationService(experimentRepo, promptRepo, modelRepo, generationRepo, db, invoker, pool, logger)
	rankingService := services.NewRankingService(experimentRepo, generationRepo, rankingRepo, logger)
	templateService := services.NewTemplateService(templateRepo, logger)
	exportService := services.NewExportService(experimentRepo, promptRepo, modelRepo, generationRepo, rankingRepo, analysisRepo, db, logger)

	scopeProvider := database.NewScopeProvider(db)
	if cfg.Templates.SeedFile != "" {
		if err := seedTemplates(ctx, scopeProvider, templateService, cfg.Templates.SeedFile, logger); err != nil {
			return err
		}
	}

	// Auth
	authMiddleware, err := newAuthMiddleware(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var authMw handlers.Middleware = authMiddleware.OptionalAuth
	if cfg.Auth.Enabled {
		authMw = authMiddleware.RequireAuth
	}
	apiMw := handlers.Chain(authMw, database.WithScope(db))

	// HTTP routes
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewExperimentsHandler(experimentService, logger).RegisterRoutes(mux, apiMw)
	handlers.NewGenerationHandler(generationService, logger).RegisterRoutes(mux, apiMw)
	handlers.NewRankingsHandler(rankingService, logger).RegisterRoutes(mux, apiMw)
	handlers.NewModelsHandler(modelService, logger).RegisterRoutes(mux, apiMw)
	handlers.NewTemplatesHandler(templateService, logger).RegisterRoutes(mux, apiMw)
	handlers.NewExportHandler(exportService, logger).RegisterRoutes(mux, apiMw)

	if cfg.MCP.Enabled {
		mcpSrv := mcpserver.NewServer("vibelab-engine", cfg.Version, logger)
		mcpSrv.RegisterTools(db, &tools.ExperimentToolDeps{
			Scope:       scopeProvider,
			Experiments: experimentService,
			Generations: generationService,
			Rankings:    rankingService,
			Exports:     exportService,
			Logger:      logger.Named("mcp-tools"),
		})
		mcpHandler := middleware.MCPRequestLogger(logger)(mcpSrv.NewStreamableHTTPServer())
		mux.Handle("/mcp", authMw(mcpHandler.ServeHTTP))
	}

	handler := middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting vibelab-engine",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// In-flight model calls hold database scopes; let them finish before the pool closes.
	drained := make(chan struct{})
	go func() {
		pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for in-flight generations", zap.Int("pending", pool.Pending()))
	}

	logger.Info("Server stopped")
	return nil
}

// newInvoker builds the provider router. Anthropic is optional and enabled by its API key.
func newInvoker(cfg *config.Config, lookup llm.ModelLookup, logger *zap.Logger) (llm.Invoker, error) {
	openAI, err := llm.NewOpenAIInvoker(llm.OpenAIConfig{
		BaseURL:   config.ResolveURLForDocker(cfg.LLM.OpenAIBaseURL),
		APIKey:    cfg.LLM.OpenAIAPIKey,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create openai invoker: %w", err)
	}

	routerCfg := llm.RouterConfig{
		OpenAI: openAI,
		Lookup: lookup,
		CircuitBreaker: llm.CircuitBreakerConfig{
			Threshold:  cfg.LLM.CircuitBreakerThreshold,
			ResetAfter: cfg.LLM.CircuitBreakerReset,
		},
	}

	if cfg.LLM.AnthropicAPIKey != "" {
		anthropicInvoker, err := llm.NewAnthropicInvoker(llm.AnthropicConfig{
			APIKey:    cfg.LLM.AnthropicAPIKey,
			BaseURL:   cfg.LLM.AnthropicBaseURL,
			MaxTokens: cfg.LLM.MaxTokens,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic invoker: %w", err)
		}
		routerCfg.Anthropic = anthropicInvoker
	} else {
		logger.Info("ANTHROPIC_API_KEY not set, claude models route to the OpenAI-compatible endpoint")
	}

	return llm.NewRouter(routerCfg, logger), nil
}

func newAuthMiddleware(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*auth.Middleware, error) {
	enableVerification := cfg.Auth.Enabled && cfg.Auth.EnableVerification
	jwksClient, err := auth.NewJWKSClient(ctx, auth.JWKSConfig{
		EnableVerification: enableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("create JWKS client: %w", err)
	}
	if cfg.Auth.Enabled && !enableVerification {
		logger.Warn("JWT signature verification is disabled")
	}
	return auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger), nil
}

func seedTemplates(ctx context.Context, scope *database.ScopeProvider, templateService services.TemplateService, path string, logger *zap.Logger) error {
	scopedCtx, cleanup, err := scope.WithScope(ctx)
	if err != nil {
		return fmt.Errorf("acquire scope for template seed: %w", err)
	}
	defer cleanup()

	created, err := templateService.LoadSeedFile(scopedCtx, path)
	if err != nil {
		return fmt.Errorf("load template seed file: %w", err)
	}
	logger.Info("Template seed processed", zap.String("path", path), zap.Int("created", created))
	return nil
}
