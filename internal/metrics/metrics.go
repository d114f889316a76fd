// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kbase", Name: "http_requests_total", Help: "Number of HTTP requests by method, route and status."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "kbase", Name: "http_request_duration_seconds", Help: "HTTP request latency by method and route.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)
	RateLimitRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "kbase", Name: "rate_limit_rejected_total", Help: "Number of requests rejected by the per-IP rate limiter."},
	)
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kbase", Name: "documents_ingested_total", Help: "Number of documents that finished ingestion by outcome."},
		[]string{"outcome"},
	)
	ChunksEmbedded = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "kbase", Name: "chunks_embedded_total", Help: "Number of chunks embedded and stored."},
	)
	ChatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kbase", Name: "chat_requests_total", Help: "Number of chat requests by cache outcome."},
		[]string{"cache"},
	)
)

// RegisterCollectors registers all collectors on the given registerer.
// Call once at startup, typically with prometheus.DefaultRegisterer.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(HTTPRequests)
	reg.MustRegister(HTTPDuration)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentsIngested)
	reg.MustRegister(ChunksEmbedded)
	reg.MustRegister(ChatRequests)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
