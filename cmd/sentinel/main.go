// Sentinel server — host-centric security monitoring: event-log ingestion,
// AI-assisted enrichment, correlation, and real-time dashboard fan-out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentinelsec/sentinel/pkg/api"
	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/correlation"
	"github.com/sentinelsec/sentinel/pkg/database"
	"github.com/sentinelsec/sentinel/pkg/detect"
	"github.com/sentinelsec/sentinel/pkg/embedding"
	"github.com/sentinelsec/sentinel/pkg/hub"
	"github.com/sentinelsec/sentinel/pkg/ipenrich"
	"github.com/sentinelsec/sentinel/pkg/llm"
	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/pipeline"
	"github.com/sentinelsec/sentinel/pkg/pool"
	"github.com/sentinelsec/sentinel/pkg/repository"
	"github.com/sentinelsec/sentinel/pkg/retention"
	"github.com/sentinelsec/sentinel/pkg/services"
	"github.com/sentinelsec/sentinel/pkg/vectorstore"
	"github.com/sentinelsec/sentinel/pkg/version"
	"github.com/sentinelsec/sentinel/pkg/watcher"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	slog.Info("Starting Sentinel", "version", version.Full(), "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	// Configuration — invalid required configuration is fatal at startup.
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Database — an unreadable persistent store is fatal.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema up to date")

	// Repositories.
	db := dbClient.DB()
	eventRepo := repository.NewEventRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	corrRepo := repository.NewCorrelationRepository(db)
	bookmarkRepo := repository.NewBookmarkRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	deadLetterRepo := repository.NewDeadLetterRepository(db)

	// Cache layer.
	cacheLayer := cache.New(cache.Options{
		MaxMemoryBytes:        int64(cfg.Cache.MaxMemoryMB) * 1024 * 1024,
		PerKeyspaceMaxEntries: cfg.Cache.PerKeyspaceMaxEntries,
		SimilarityThreshold:   cfg.Cache.SimilarityThreshold,
		DefaultTTL:            cfg.Cache.DefaultTTL.D(),
	})

	// Rule detector, seeding the built-in rule set on first start.
	if seeded, err := ruleRepo.SeedDefaults(ctx, detect.DefaultRules()); err != nil {
		slog.Warn("Default rule seeding failed", "error", err)
	} else if seeded > 0 {
		slog.Info("Seeded default detection rules", "count", seeded)
	}
	detector, err := detect.New(ctx, ruleRepo, detect.DefaultRefreshTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize rule detector: %w", err)
	}

	// Vector store behind the load-balanced instance pool.
	var vectorPool *pool.Pool
	var prober *pool.Prober
	var vectors *vectorstore.Client
	if len(cfg.Pool.Instances) > 0 {
		vectorPool = pool.New("vector-store", cfg.Pool, cfg.Health, "/healthz")
		prober = pool.NewProber(vectorPool, cfg.Health)
		prober.Start(ctx)
		defer prober.Stop()

		vectors = vectorstore.NewClient(vectorPool, cfg.Vector, cacheLayer, cfg.Cache)
		if err := vectors.EnsureCollection(ctx); err != nil {
			// Missing collection with auto-create disabled is fatal for the
			// subsystem; the pipeline continues deterministic-only.
			slog.Error("Vector store unavailable, continuing without embeddings", "error", err)
			vectors = nil
		}
	} else {
		slog.Warn("No vector store instances configured, embeddings disabled")
	}

	// Embedding stage; only built when the vector store client is available
	// (instances configured and collection ensured), otherwise the embedding
	// (and LLM) branch is skipped.
	var embedder *embedding.Service
	if vectors != nil {
		provider, err := embedding.NewProvider(cfg.Embedding)
		if err != nil {
			return fmt.Errorf("failed to initialize embedding provider: %w", err)
		}
		embedder = embedding.NewService(provider, cacheLayer, cfg.Cache, cfg.Vector.Dimension)
	}

	// Optional LLM analysis stage.
	analyzer := llm.NewService(cfg.LLM, cacheLayer, cfg.Cache)
	if analyzer != nil {
		slog.Info("LLM analysis enabled", "models", len(cfg.LLM.Models), "voting", cfg.LLM.Voting)
	}

	// IP enrichment.
	enricher := ipenrich.New(cfg.IPEnrich, cacheLayer, cfg.Cache)
	defer enricher.Close()

	// System status service and its probes.
	systemService := services.NewSystemService(services.DatabaseCheck(db))
	if vectorPool != nil {
		vp := vectorPool
		systemService.Register(services.BoolCheck("vector_store",
			func() bool { return vp.HealthyCount() > 0 },
			vp.Degraded))
	}
	systemService.Register(services.BoolCheck("rule_detector",
		func() bool { return true },
		detector.Degraded))

	// Dashboard service + hub.
	dashboardService := services.NewDashboardService(eventRepo, systemService.Overview, nil)
	broadcastHub := hub.New(nil,
		func(ctx context.Context) (*models.DashboardSnapshot, error) {
			return dashboardService.Consolidated(ctx, models.Range24h)
		},
		cfg.Server.WriteTimeout.D(),
		500*time.Millisecond,
	)
	broadcastHub.Start(ctx)
	defer broadcastHub.Stop()

	// Correlation engine; broadcast only after persistence.
	engine, err := correlation.NewEngine(cfg.Correlation, corrRepo, eventRepo,
		func(c *models.Correlation, _ []*models.SecurityEvent) {
			broadcastHub.PublishCorrelation(c)
			broadcastHub.PublishDashboardDelta()
		})
	if err != nil {
		return fmt.Errorf("failed to initialize correlation engine: %w", err)
	}
	engine.Start(ctx)
	defer engine.Stop()

	// Pipeline orchestrator.
	orchestrator := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Detector:   detector,
		Embedder:   embedder,
		Vectors:    vectors,
		Analyzer:   analyzer,
		Enricher:   enricher,
		Events:     eventRepo,
		DeadLetter: deadLetterRepo,
		Correlator: engine,
		Broadcast:  broadcastHub,
		Cache:      cacheLayer,
	})
	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	// Log watcher feeding the orchestrator; bookmarks advance only after
	// the orchestrator accepts (and ultimately persists) each record.
	logWatcher := watcher.New(cfg.Watcher, watcher.NewFileSource(), bookmarkRepo,
		func(ctx context.Context, rec *models.RawRecord) error {
			return orchestrator.Submit(ctx, rec)
		})
	orchestrator.SetAcker(logWatcher)
	logWatcher.Start(ctx)
	defer logWatcher.Stop()

	systemService.Register(services.BoolCheck("log_watcher",
		func() bool { return true },
		func() bool { return logWatcher.Stats().ParseErrors > 0 }))

	// Periodic component-health pushes to the system_status group.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcastHub.PublishSystemStatus(systemService.Overview(ctx))
			}
		}
	}()

	// Retention sweeps.
	retentionService := retention.NewService(cfg.Retention, eventRepo, corrRepo, vectors)
	retentionService.Start(ctx)
	defer retentionService.Stop()

	// Application services and the API server.
	eventService := services.NewEventService(eventRepo, timelineRepo)
	ruleService := services.NewRuleService(ruleRepo, detector)

	corrRules := make(map[string]models.CorrelationRule, len(cfg.Correlation.Rules))
	for id, rc := range cfg.Correlation.Rules {
		corrRules[id] = rc.Rule(id)
	}
	corrService := services.NewCorrelationService(corrRepo, eventRepo, engine, corrRules)

	server := api.NewServer(cfg, api.Deps{
		DB:           dbClient,
		Events:       eventService,
		Rules:        ruleService,
		Correlations: corrService,
		Dashboard:    dashboardService,
		System:       systemService,
		Templates:    templateRepo,
		DeadLetters:  deadLetterRepo,
		Orchestrator: orchestrator,
		Embedder:     embedder,
		Vectors:      vectors,
		VectorPool:   vectorPool,
		Hub:          broadcastHub,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- server.Start(addr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining")
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	// The deferred stops run in reverse order: retention, watcher (commits
	// final bookmarks), orchestrator (drains + flushes the vector batch),
	// correlation engine (drains its intake), hub (closes connections).
	return nil
}
