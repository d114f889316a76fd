package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ragstack/kbase/db"
	"github.com/ragstack/kbase/internal/ai"
	"github.com/ragstack/kbase/internal/audit"
	"github.com/ragstack/kbase/internal/cache"
	"github.com/ragstack/kbase/internal/chat"
	"github.com/ragstack/kbase/internal/chunker"
	"github.com/ragstack/kbase/internal/config"
	"github.com/ragstack/kbase/internal/ingest"
	"github.com/ragstack/kbase/internal/kb"
	"github.com/ragstack/kbase/internal/knowledge"
	"github.com/ragstack/kbase/internal/observability"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelShutdown = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	a.Redis, err = provideRedis(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Gemini, err = ai.NewGemini(ctx, ai.GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		EmbedModel: cfg.EmbedModel,
		GenModel:   cfg.GenModel,
		Dimension:  knowledge.VectorDimension,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	a.Documents, err = knowledge.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}
	a.Audits, err = audit.NewStore(pool)
	if err != nil {
		return nil, fmt.Errorf("creating audit store: %w", err)
	}

	splitter := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	a.Pipeline, err = ingest.NewPipeline(a.Documents, a.Gemini, splitter,
		ingest.WithPoolSize(cfg.IngestWorkers),
		ingest.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	a.KB, err = kb.NewService(kb.Config{
		Store:       a.Documents,
		Pipeline:    a.Pipeline,
		UploadDir:   cfg.UploadDir,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating knowledge-base service: %w", err)
	}

	searchCache := cache.New(a.Redis, logger)
	retriever := chat.NewRetriever(chat.RetrieverConfig{
		Searcher: a.Documents,
		Embedder: a.Gemini,
		Cache:    searchCache,
		CacheTTL: cfg.CacheTTLSearch,
		TopK:     cfg.TopK,
		Logger:   logger,
	})
	a.Chat, err = chat.NewOrchestrator(chat.OrchestratorConfig{
		Retriever:        retriever,
		Generator:        a.Gemini,
		Audits:           a.Audits,
		Cache:            cache.New(a.Redis, logger),
		CacheTTL:         cfg.CacheTTLResponse,
		MaxContextTokens: cfg.MaxContextTokens,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat orchestrator: %w", err)
	}

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing when an endpoint is configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func(context.Context) error {
	if cfg.OTLPEndpoint == "" {
		return nil
	}

	shutdown, err := observability.SetupTracing(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without it", "error", err)
		return nil
	}
	return shutdown
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideRedis connects to Redis, or returns nil when caching is disabled.
func provideRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		logger.Info("redis not configured, caching disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
