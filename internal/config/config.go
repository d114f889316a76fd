// Package config provides environment-driven application configuration.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables
//  2. .env file in the working directory (development convenience)
//  3. Default values
//
// Security: sensitive fields (API key, Redis password) are masked in
// MarshalJSON. Validation happens once at startup; a missing Gemini API key
// or database URL is a fatal startup error.
package config

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrMissingDatabaseURL indicates DATABASE_URL is not set.
	ErrMissingDatabaseURL = errors.New("missing database URL")

	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidMaxFileSize indicates MAX_FILE_SIZE is out of range.
	ErrInvalidMaxFileSize = errors.New("invalid max file size")

	// ErrInvalidChunking indicates an invalid chunk size/overlap combination.
	ErrInvalidChunking = errors.New("invalid chunk configuration")

	// ErrInvalidPoolBounds indicates invalid connection pool bounds.
	ErrInvalidPoolBounds = errors.New("invalid connection pool bounds")

	// ErrInvalidTopK indicates RETRIEVAL_TOP_K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultHTTPAddr         = "0.0.0.0:8000"
	DefaultUploadDir        = "uploads"
	DefaultMaxFileSize      = 10 * 1024 * 1024 // 10 MiB
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultTopK             = 5
	DefaultMaxContextTokens = 4000
	DefaultEmbedModel       = "gemini-embedding-001"
	DefaultGenModel         = "gemini-2.5-flash"
	DefaultCacheTTLSearch   = 5 * time.Minute
	DefaultCacheTTLResponse = time.Hour
	DefaultDBMinConns       = 2
	DefaultDBMaxConns       = 10
	DefaultIngestWorkers    = 4
	DefaultRateLimitRPS     = 1.0
	DefaultRateLimitBurst   = 60
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; when adding new
// secrets, update MarshalJSON.
type Config struct {
	// Server
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Rate limiting (per client IP)
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Storage
	DatabaseURL string `mapstructure:"database_url" json:"database_url"`
	DBMinConns  int32  `mapstructure:"db_min_conns" json:"db_min_conns"`
	DBMaxConns  int32  `mapstructure:"db_max_conns" json:"db_max_conns"`

	// AI
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE
	EmbedModel   string `mapstructure:"embed_model" json:"embed_model"`
	GenModel     string `mapstructure:"gen_model" json:"gen_model"`

	// Ingestion
	UploadDir     string `mapstructure:"upload_dir" json:"upload_dir"`
	MaxFileSize   int64  `mapstructure:"max_file_size" json:"max_file_size"`
	ChunkSize     int    `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap  int    `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	IngestWorkers int    `mapstructure:"ingest_workers" json:"ingest_workers"`

	// Retrieval / chat
	TopK             int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	MaxContextTokens int `mapstructure:"max_context_tokens" json:"max_context_tokens"`

	// Cache (Redis). Empty RedisAddr disables caching.
	RedisAddr        string        `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE
	RedisDB          int           `mapstructure:"redis_db" json:"redis_db"`
	CacheTTLSearch   time.Duration `mapstructure:"cache_ttl_search" json:"cache_ttl_search"`
	CacheTTLResponse time.Duration `mapstructure:"cache_ttl_response" json:"cache_ttl_response"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability. Empty OTLPEndpoint disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load reads configuration from the environment (and an optional .env file)
// and validates it.
func Load() (*Config, error) {
	// Best-effort: a missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", DefaultHTTPAddr)
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("RATE_LIMIT_RPS", DefaultRateLimitRPS)
	v.SetDefault("RATE_LIMIT_BURST", DefaultRateLimitBurst)
	v.SetDefault("DB_MIN_CONNS", DefaultDBMinConns)
	v.SetDefault("DB_MAX_CONNS", DefaultDBMaxConns)
	v.SetDefault("EMBED_MODEL", DefaultEmbedModel)
	v.SetDefault("GEN_MODEL", DefaultGenModel)
	v.SetDefault("UPLOAD_DIR", DefaultUploadDir)
	v.SetDefault("MAX_FILE_SIZE", DefaultMaxFileSize)
	v.SetDefault("CHUNK_SIZE", DefaultChunkSize)
	v.SetDefault("CHUNK_OVERLAP", DefaultChunkOverlap)
	v.SetDefault("INGEST_WORKERS", DefaultIngestWorkers)
	v.SetDefault("RETRIEVAL_TOP_K", DefaultTopK)
	v.SetDefault("MAX_CONTEXT_TOKENS", DefaultMaxContextTokens)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SEARCH", DefaultCacheTTLSearch)
	v.SetDefault("CACHE_TTL_RESPONSE", DefaultCacheTTLResponse)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("SERVICE_NAME", "kbase")

	cfg := &Config{
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		CORSOrigins:      splitOrigins(v.GetString("CORS_ORIGINS")),
		TrustProxy:       v.GetBool("TRUST_PROXY"),
		RateLimitRPS:     v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:   v.GetInt("RATE_LIMIT_BURST"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		DBMinConns:       v.GetInt32("DB_MIN_CONNS"),
		DBMaxConns:       v.GetInt32("DB_MAX_CONNS"),
		GeminiAPIKey:     firstNonEmpty(v.GetString("GEMINI_API_KEY"), v.GetString("GOOGLE_API_KEY")),
		EmbedModel:       v.GetString("EMBED_MODEL"),
		GenModel:         v.GetString("GEN_MODEL"),
		UploadDir:        v.GetString("UPLOAD_DIR"),
		MaxFileSize:      v.GetInt64("MAX_FILE_SIZE"),
		ChunkSize:        v.GetInt("CHUNK_SIZE"),
		ChunkOverlap:     v.GetInt("CHUNK_OVERLAP"),
		IngestWorkers:    v.GetInt("INGEST_WORKERS"),
		TopK:             v.GetInt("RETRIEVAL_TOP_K"),
		MaxContextTokens: v.GetInt("MAX_CONTEXT_TOKENS"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),
		CacheTTLSearch:   v.GetDuration("CACHE_TTL_SEARCH"),
		CacheTTLResponse: v.GetDuration("CACHE_TTL_RESPONSE"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogJSON:          v.GetBool("LOG_JSON"),
		OTLPEndpoint:     v.GetString("OTLP_ENDPOINT"),
		ServiceName:      v.GetString("SERVICE_NAME"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	if a.GeminiAPIKey != "" {
		a.GeminiAPIKey = "***"
	}
	if a.RedisPassword != "" {
		a.RedisPassword = "***"
	}
	return json.Marshal(a)
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
