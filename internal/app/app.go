// Package app wires configuration, storage, AI clients, and services into a
// running application.
package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ragstack/kbase/internal/ai"
	"github.com/ragstack/kbase/internal/audit"
	"github.com/ragstack/kbase/internal/chat"
	"github.com/ragstack/kbase/internal/config"
	"github.com/ragstack/kbase/internal/ingest"
	"github.com/ragstack/kbase/internal/kb"
	"github.com/ragstack/kbase/internal/knowledge"
)

// App holds the initialized application components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool      *pgxpool.Pool
	Redis     *redis.Client // nil when caching is disabled
	Gemini    *ai.Gemini
	Documents *knowledge.Store
	Audits    *audit.Store
	Pipeline  *ingest.Pipeline
	KB        *kb.Service
	Chat      *chat.Orchestrator

	otelShutdown func(context.Context) error
}

// Close gracefully shuts down all resources. In-flight ingestion jobs are
// drained before the pool closes underneath them.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Pipeline != nil {
		a.Pipeline.Close()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
