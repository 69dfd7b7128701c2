// Package main is the entry point for the civicmesh answer service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/civicmesh/civicmesh/internal/answer"
	"github.com/civicmesh/civicmesh/internal/api"
	"github.com/civicmesh/civicmesh/internal/auth"
	"github.com/civicmesh/civicmesh/internal/cache"
	"github.com/civicmesh/civicmesh/internal/config"
	"github.com/civicmesh/civicmesh/internal/connector"
	"github.com/civicmesh/civicmesh/internal/embedding"
	"github.com/civicmesh/civicmesh/internal/ingest"
	"github.com/civicmesh/civicmesh/internal/llm"
	"github.com/civicmesh/civicmesh/internal/metrics"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/repository"
	"github.com/civicmesh/civicmesh/internal/resilience"
	"github.com/civicmesh/civicmesh/internal/retrieval"
	"github.com/civicmesh/civicmesh/internal/routing"
	"github.com/civicmesh/civicmesh/internal/service"
	"github.com/civicmesh/civicmesh/internal/usage"
	"github.com/civicmesh/civicmesh/internal/vectorindex"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("civicmesh\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
			version, buildTime, gitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLoggerWithLevel("civicmesh",
		observability.ParseLogLevel(cfg.Service.LogLevel))
	logger.Info("Starting civicmesh", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"tenant":     cfg.Tenant.DefaultTenantID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	db, err := connectDatabase(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Repositories
	contentRepo := repository.NewContentRepository(db)
	sourceRepo := repository.NewSourceRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	ingestLogRepo := repository.NewIngestionLogRepository(db)

	// Redis-backed caches degrade to pass-through when disabled or down.
	var redisCache *cache.Redis
	var responseCache *cache.ResponseCache
	var seenHashes *cache.SeenHashes
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.Database,
			DialTimeout: cfg.Redis.DialTimeout,
			PoolSize:    cfg.Redis.PoolSize,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, response caching disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			redisCache = cache.NewRedis(client, cache.DefaultConfig(), logger)
			responseCache = cache.NewResponseCache(redisCache, 0, logger)
			seenHashes = cache.NewSeenHashes(redisCache)
		}
	}

	m := metrics.New()
	usageRecorder := usage.NewRecorder(usageRepo, cfg.Embedding.UsageSampling, logger)

	// Providers
	embedProvider, err := embedding.NewOpenAIProvider(embedding.ProviderConfig{
		APIKey:         cfg.Embedding.APIKey,
		Endpoint:       cfg.Embedding.Endpoint,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		RequestTimeout: cfg.Embedding.Timeout,
		MaxRetries:     cfg.Embedding.MaxRetries,
	})
	if err != nil {
		log.Fatalf("Failed to create embedding provider: %v", err)
	}
	embedCache := embedding.NewCache(cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	embedder := embedding.NewClient(embedProvider, embedCache, cfg.Embedding.BatchSize, usageRecorder, logger)

	httpLLM, err := llm.NewHTTPClient(llm.Config{
		APIKey:   cfg.LLM.APIKey,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create LLM client: %v", err)
	}
	llmClient := llm.Guard(httpLLM, resilience.NewBreaker(resilience.DefaultBreakerConfig(), logger))

	index, err := vectorindex.NewClient(vectorindex.Config{
		Endpoint: cfg.VectorIndex.Endpoint,
		APIKey:   cfg.VectorIndex.APIKey,
		Timeout:  cfg.VectorIndex.Timeout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create vector index client: %v", err)
	}

	// Retrieval and answer pipeline
	searchStore := repository.NewSearchStore(documentRepo, contentRepo)
	hybrid := retrieval.NewHybridSearch(embedder, index, searchStore, retrieval.Config{
		ChunksNamespace:  cfg.VectorIndex.ChunksNamespace,
		ContentNamespace: cfg.VectorIndex.ContentNamespace,
		MinSimilarity:    cfg.Retrieval.MinSimilarity,
		ChunkMultiplier:  cfg.Retrieval.CandidateMultiple,
		SemanticWeight:   cfg.Retrieval.SemanticWeight,
		LexicalWeight:    cfg.Retrieval.LexicalWeight,
	}, logger)

	thresholds := retrieval.DefaultConfidenceThresholds()
	if cfg.Confidence.HighThreshold > 0 {
		thresholds.High = cfg.Confidence.HighThreshold
	}
	if cfg.Confidence.MediumThreshold > 0 {
		thresholds.Medium = cfg.Confidence.MediumThreshold
	}

	answerCache := answer.NewCache(answerRepo, cfg.AnswerCache.TTL, logger)
	composer := answer.NewComposer(llmClient, cfg.LLM.Model, answerCache, usageRecorder, answer.TenantInfo{
		Name:    cfg.Tenant.Name,
		Phone:   cfg.Tenant.Phone,
		Website: cfg.Tenant.Website,
	}, logger)

	rewriter := routing.NewRewriter(llmClient, cfg.LLM.RewriteModel, logger)
	decomposer := routing.NewDecomposer(llmClient, cfg.LLM.RewriteModel, logger)
	router := routing.NewRouter(rewriter, decomposer, logger)

	answers := service.NewAnswerService(router, hybrid, composer, answerCache, thresholds, nil, m, logger)
	searchSvc := service.NewSearchService(router, hybrid, answerCache, nil, m, logger)

	// Ingestion pipeline
	registry := connector.NewRegistry()
	registry.Register("rss", connector.NewRSSConnector)
	registry.Register("ical", connector.NewICalConnector)
	registry.Register("scrape", connector.NewScrapeConnector)

	deps := connector.Deps{
		Logger:    logger,
		GeoFilter: connector.NewGeoFilter(cfg.Tenant.Locality, cfg.Tenant.HomeState, cfg.Tenant.MetroLocalities),
	}
	runner := ingest.NewRunner(sourceRepo, contentRepo, registry, deps, embedder, index,
		cfg.VectorIndex.ContentNamespace, logger).WithMetrics(m)
	if seenHashes != nil {
		runner = runner.WithHashFilter(seenHashes)
	}

	monitor := ingest.NewMonitor(documentRepo, ingestLogRepo, nil, ingest.MonitorConfig{
		DiscoveryFeedURL: cfg.Monitor.DiscoveryFeed,
		StalenessHorizon: time.Duration(cfg.Monitor.StalenessDays) * 24 * time.Hour,
	}, logger).WithMetrics(m)
	cronRunner := ingest.NewCronRunner(monitor, runner, ingestLogRepo, cfg.Tenant.DefaultTenantID, logger)

	scheduler := cron.New()
	if cfg.Ingestion.CronSchedule != "" {
		if _, err := cronRunner.Schedule(scheduler, cfg.Ingestion.CronSchedule); err != nil {
			log.Fatalf("Failed to schedule ingestion cron: %v", err)
		}
		scheduler.Start()
		logger.Info("Ingestion cron scheduled", map[string]interface{}{
			"schedule": cfg.Ingestion.CronSchedule,
		})
	}

	var validator *auth.Validator
	if cfg.Auth.JWTSecret != "" {
		validator = auth.NewValidator([]byte(cfg.Auth.JWTSecret), "civicmesh")
	}

	server := api.NewServer(api.Config{
		DefaultTenantID: cfg.Tenant.DefaultTenantID,
		CronSecret:      cfg.Auth.CronSecret,
		AdminSecret:     cfg.Auth.AdminSecret,
	}, answers, searchSvc, contentRepo, sourceRepo, ingestLogRepo, cronRunner, runner,
		responseCache, validator, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // answer streams stay open
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{
			"addr": httpServer.Addr,
		})
		serverDone <- httpServer.ListenAndServe()
	}()

	running := true
	for running {
		select {
		case sig := <-sigChan:
			// SIGHUP flushes the embedding cache so re-ingested documents
			// pick up fresh vectors without a restart.
			if sig == syscall.SIGHUP {
				embedder.ClearCache()
				logger.Info("Embedding cache flushed", map[string]interface{}{
					"signal": sig.String(),
				})
				continue
			}
			logger.Info("Received shutdown signal", map[string]interface{}{
				"signal": sig.String(),
			})
			running = false
		case err := <-serverDone:
			if err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", map[string]interface{}{
					"error": err.Error(),
				})
			}
			running = false
		}
	}

	logger.Info("Starting graceful shutdown", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	cronCtx := scheduler.Stop()
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Cron jobs did not finish before shutdown deadline", nil)
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.Info("Shutdown complete", nil)
}

// connectDatabase opens the Postgres pool and verifies connectivity.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected", map[string]interface{}{
		"host":     cfg.Host,
		"database": cfg.Database,
	})
	return db, nil
}
