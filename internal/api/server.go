// Package api implements the JSON HTTP API for the knowledge-base service.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragstack/kbase/internal/metrics"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Knowledge     KnowledgeService // Required
	Chat          ChatService      // Optional: nil disables chat endpoints
	Audits        AuditService     // Optional: nil disables audit endpoints
	Pool          *pgxpool.Pool    // Optional: nil disables database check in /ready
	CORSOrigins   []string         // Allowed origins for CORS
	TrustProxy    bool             // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	IsDev         bool             // Disables HSTS header
	MaxUploadSize int64            // Per-file upload cap in bytes (0 = default 10MB)
	RatePerSec    float64          // Rate limiter refill per IP (0 = default 10/sec)
	RateBurst     int              // Rate limiter burst size per IP (0 = default 60)
	EnableMetrics bool             // Serve Prometheus metrics on /metrics
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Knowledge == nil {
		return nil, errors.New("knowledge service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxUpload := cfg.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	kh := &knowledgeHandler{svc: cfg.Knowledge, maxUpload: maxUpload, logger: logger}

	mux := http.NewServeMux()

	// Document management. The literal "batch" pattern takes precedence over
	// the {id} wildcard on the same method.
	mux.HandleFunc("POST /knowledge/upload", kh.upload)
	mux.HandleFunc("POST /knowledge/upload/batch", kh.uploadBatch)
	mux.HandleFunc("GET /knowledge", kh.list)
	mux.HandleFunc("GET /knowledge/{id}", kh.get)
	mux.HandleFunc("GET /knowledge/{id}/chunks", kh.chunks)
	mux.HandleFunc("PUT /knowledge/{id}", kh.update)
	mux.HandleFunc("DELETE /knowledge/{id}", kh.deleteOne)
	mux.HandleFunc("DELETE /knowledge/batch", kh.deleteBatch)
	mux.HandleFunc("POST /knowledge/{id}/retry", kh.retry)

	// Chat (optional — only registered when an orchestrator is provided)
	if cfg.Chat != nil {
		ch := &chatHandler{chat: cfg.Chat, logger: logger}
		mux.HandleFunc("POST /chat", ch.send)
		mux.HandleFunc("POST /chat/stream", ch.stream)
	}

	// Audit trail (optional)
	if cfg.Audits != nil {
		ah := &auditHandler{audits: cfg.Audits, logger: logger}
		mux.HandleFunc("GET /audit", ah.list)
		mux.HandleFunc("GET /audit/{chat_id}", ah.get)
		mux.HandleFunc("POST /audit/{chat_id}/feedback", ah.feedback)
	}

	// Rate limiter: per-IP token bucket
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(perSec, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Metrics → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	if cfg.EnableMetrics {
		handler = metricsMiddleware()(handler)
	}
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes and metrics from the
	// middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	if cfg.EnableMetrics {
		topMux.Handle("GET /metrics", metrics.Handler())
	}
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
