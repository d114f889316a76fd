// Package chat answers questions against the knowledge base: retrieve the
// most similar chunks, assemble a bounded context, generate a completion, and
// record the interaction in the audit log.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/ragstack/kbase/internal/ai"
	"github.com/ragstack/kbase/internal/cache"
	"github.com/ragstack/kbase/internal/knowledge"
)

// Searcher is the vector search surface the retriever needs.
// *knowledge.Store satisfies it.
type Searcher interface {
	SimilaritySearch(ctx context.Context, embedding []float32, limit int) ([]*knowledge.SearchResult, error)
}

// Retriever finds the chunks most relevant to a question. Results are cached
// by question and limit; retrieval failures degrade to an empty result so the
// chat flow can still answer from the model alone.
type Retriever struct {
	searcher Searcher
	embedder ai.Embedder
	cache    *cache.Cache
	ttl      time.Duration
	topK     int
	logger   *slog.Logger
}

// RetrieverConfig configures NewRetriever.
type RetrieverConfig struct {
	Searcher Searcher
	Embedder ai.Embedder
	Cache    *cache.Cache
	CacheTTL time.Duration
	TopK     int
	Logger   *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(cfg RetrieverConfig) *Retriever {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(nil, logger)
	}
	return &Retriever{
		searcher: cfg.Searcher,
		embedder: cfg.Embedder,
		cache:    c,
		ttl:      cfg.CacheTTL,
		topK:     topK,
		logger:   logger,
	}
}

// Search returns up to topK chunks relevant to question, best match first.
// Errors are logged and reported as an empty result.
func (r *Retriever) Search(ctx context.Context, question string) []*knowledge.SearchResult {
	key := cache.Key("search", question, strconv.Itoa(r.topK))
	if b, ok := r.cache.Get(ctx, key); ok {
		var results []*knowledge.SearchResult
		if err := json.Unmarshal(b, &results); err == nil {
			r.logger.Debug("search cache hit", "question_len", len(question))
			return results
		}
		r.cache.Delete(ctx, key)
	}

	embedding, err := r.embedder.EmbedText(ctx, question)
	if err != nil {
		r.logger.Error("embedding question failed", "error", err)
		return nil
	}

	results, err := r.searcher.SimilaritySearch(ctx, embedding, r.topK)
	if err != nil {
		r.logger.Error("similarity search failed", "error", err)
		return nil
	}

	if b, err := json.Marshal(results); err == nil {
		r.cache.Set(ctx, key, b, r.ttl)
	}
	return results
}
