package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/kbase/internal/ai/mock"
	"github.com/ragstack/kbase/internal/audit"
	"github.com/ragstack/kbase/internal/cache"
	"github.com/ragstack/kbase/internal/knowledge"
	"github.com/ragstack/kbase/internal/log"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results []*knowledge.SearchResult
	err     error
	calls   int
}

func (f *fakeSearcher) SimilaritySearch(ctx context.Context, embedding []float32, limit int) ([]*knowledge.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

type fakeAuditStore struct {
	mu   sync.Mutex
	logs []*audit.Log
	err  error
}

func (f *fakeAuditStore) Insert(ctx context.Context, l *audit.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, l)
	return nil
}

func chunkResult(filename, content string, sim float64) *knowledge.SearchResult {
	return &knowledge.SearchResult{
		Document: knowledge.Document{
			ID:       uuid.New(),
			Filename: filename,
			Content:  content,
			Status:   knowledge.StatusCompleted,
		},
		Similarity: sim,
	}
}

func redisCache(t *testing.T) *cache.Cache {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	return cache.New(client, log.NewNop())
}

func newTestRetriever(searcher *fakeSearcher, emb *mock.Embedder, c *cache.Cache) *Retriever {
	return NewRetriever(RetrieverConfig{
		Searcher: searcher,
		Embedder: emb,
		Cache:    c,
		CacheTTL: time.Minute,
		TopK:     5,
		Logger:   log.NewNop(),
	})
}

func TestRetrieverSearch(t *testing.T) {
	searcher := &fakeSearcher{results: []*knowledge.SearchResult{
		chunkResult("a.txt_chunk_0", "first", 0.9),
		chunkResult("a.txt_chunk_1", "second", 0.7),
	}}
	r := newTestRetriever(searcher, mock.NewEmbedder(8), nil)

	got := r.Search(context.Background(), "question")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Document.Content)
	assert.Equal(t, 0.9, got[0].Similarity)
}

func TestRetrieverEmbedderErrorDegrades(t *testing.T) {
	searcher := &fakeSearcher{results: []*knowledge.SearchResult{chunkResult("a", "x", 0.9)}}
	emb := mock.NewEmbedder(8)
	emb.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embed down")
	}
	r := newTestRetriever(searcher, emb, nil)

	assert.Empty(t, r.Search(context.Background(), "question"))
	assert.Equal(t, 0, searcher.calls)
}

func TestRetrieverSearchErrorDegrades(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("db down")}
	r := newTestRetriever(searcher, mock.NewEmbedder(8), nil)

	assert.Empty(t, r.Search(context.Background(), "question"))
}

func TestRetrieverCacheHit(t *testing.T) {
	searcher := &fakeSearcher{results: []*knowledge.SearchResult{
		chunkResult("a.txt_chunk_0", "cached content", 0.8),
	}}
	r := newTestRetriever(searcher, mock.NewEmbedder(8), redisCache(t))
	ctx := context.Background()

	first := r.Search(ctx, "question")
	require.Len(t, first, 1)
	second := r.Search(ctx, "question")
	require.Len(t, second, 1)
	assert.Equal(t, "cached content", second[0].Document.Content)
	assert.Equal(t, 1, searcher.calls)

	// a different question misses the cache
	r.Search(ctx, "other question")
	assert.Equal(t, 2, searcher.calls)
}

func newTestOrchestrator(t *testing.T, searcher *fakeSearcher, gen *mock.Generator, audits *fakeAuditStore, c *cache.Cache) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{
		Retriever:        newTestRetriever(searcher, mock.NewEmbedder(8), nil),
		Generator:        gen,
		Audits:           audits,
		Cache:            c,
		CacheTTL:         time.Minute,
		MaxContextTokens: 4000,
		Logger:           log.NewNop(),
	})
	require.NoError(t, err)
	return o
}

func TestAnswer(t *testing.T) {
	searcher := &fakeSearcher{results: []*knowledge.SearchResult{
		chunkResult("guide.txt_chunk_0", "Go is a language.", 0.92),
	}}
	gen := mock.NewGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "Go is great.", nil
	}
	audits := &fakeAuditStore{}
	o := newTestOrchestrator(t, searcher, gen, audits, nil)

	ans, err := o.Answer(context.Background(), "what is Go?")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, ans.ChatID)
	assert.Equal(t, "Go is great.", ans.Response)
	require.Len(t, ans.Retrieved, 1)
	assert.Equal(t, "guide.txt_chunk_0", ans.Retrieved[0].Filename)
	assert.GreaterOrEqual(t, ans.LatencyMS, 0)

	require.Len(t, audits.logs, 1)
	rec := audits.logs[0]
	assert.Equal(t, ans.ChatID, rec.ChatID)
	assert.Equal(t, "what is Go?", rec.Question)
	assert.Equal(t, "Go is great.", rec.Response)
	require.Len(t, rec.RetrievedDocs, 1)

	prompts := gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Document (guide.txt_chunk_0):")
	assert.Contains(t, prompts[0], "Q: what is Go?")
}

func TestAnswerNoDocuments(t *testing.T) {
	gen := mock.NewGenerator()
	audits := &fakeAuditStore{}
	o := newTestOrchestrator(t, &fakeSearcher{}, gen, audits, nil)

	ans, err := o.Answer(context.Background(), "anything?")
	require.NoError(t, err)
	assert.Empty(t, ans.Retrieved)

	prompts := gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], noDocsContext)
}

func TestAnswerGenerationErrorApologizes(t *testing.T) {
	gen := mock.NewGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model unavailable")
	}
	audits := &fakeAuditStore{}
	o := newTestOrchestrator(t, &fakeSearcher{}, gen, audits, nil)

	ans, err := o.Answer(context.Background(), "hello?")
	require.NoError(t, err)
	assert.Contains(t, ans.Response, "Sorry, I encountered an error while processing your question:")
	assert.Contains(t, ans.Response, "model unavailable")

	// the failed interaction is still audited
	require.Len(t, audits.logs, 1)
	assert.Equal(t, ans.Response, audits.logs[0].Response)
}

func TestAnswerAuditErrorFails(t *testing.T) {
	audits := &fakeAuditStore{err: errors.New("insert failed")}
	o := newTestOrchestrator(t, &fakeSearcher{}, mock.NewGenerator(), audits, nil)

	_, err := o.Answer(context.Background(), "hello?")
	require.Error(t, err)
}

func TestAnswerResponseCache(t *testing.T) {
	gen := mock.NewGenerator()
	audits := &fakeAuditStore{}
	o := newTestOrchestrator(t, &fakeSearcher{}, gen, audits, redisCache(t))
	ctx := context.Background()

	first, err := o.Answer(ctx, "cached question")
	require.NoError(t, err)
	second, err := o.Answer(ctx, "cached question")
	require.NoError(t, err)

	assert.Equal(t, first.Response, second.Response)
	assert.Len(t, gen.Prompts(), 1)
	// every interaction is audited, cached or not
	assert.Len(t, audits.logs, 2)
	assert.NotEqual(t, audits.logs[0].ChatID, audits.logs[1].ChatID)
}

func TestContextWordBudget(t *testing.T) {
	searcher := &fakeSearcher{results: []*knowledge.SearchResult{
		chunkResult("a_chunk_0", strings.Repeat("word ", 8), 0.9),
		chunkResult("a_chunk_1", strings.Repeat("word ", 8), 0.8),
	}}
	gen := mock.NewGenerator()
	audits := &fakeAuditStore{}
	o, err := NewOrchestrator(OrchestratorConfig{
		Retriever:        newTestRetriever(searcher, mock.NewEmbedder(8), nil),
		Generator:        gen,
		Audits:           audits,
		MaxContextTokens: 10,
		Logger:           log.NewNop(),
	})
	require.NoError(t, err)

	_, err = o.Answer(context.Background(), "q")
	require.NoError(t, err)

	prompts := gen.Prompts()
	require.Len(t, prompts, 1)
	// only the best match fits the 10-word budget
	assert.Contains(t, prompts[0], "a_chunk_0")
	assert.NotContains(t, prompts[0], "a_chunk_1")
}

func TestAnswerStream(t *testing.T) {
	searcher := &fakeSearcher{results: []*knowledge.SearchResult{
		chunkResult("s.txt_chunk_0", "streamed source", 0.88),
	}}
	gen := mock.NewGenerator()
	gen.GenerateStreamFunc = func(ctx context.Context, prompt string, fn func(string) error) error {
		for _, frag := range []string{"Hello", " ", "world"} {
			if err := fn(frag); err != nil {
				return err
			}
		}
		return nil
	}
	audits := &fakeAuditStore{}
	o := newTestOrchestrator(t, searcher, gen, audits, nil)

	var got []string
	ans, err := o.AnswerStream(context.Background(), "q", func(frag string) error {
		got = append(got, frag)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", " ", "world"}, got)
	assert.Equal(t, "Hello world", ans.Response)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, "Hello world", audits.logs[0].Response)
}

func TestAnswerStreamErrorApologizes(t *testing.T) {
	gen := mock.NewGenerator()
	gen.GenerateStreamFunc = func(ctx context.Context, prompt string, fn func(string) error) error {
		if err := fn("partial"); err != nil {
			return err
		}
		return errors.New("stream broke")
	}
	audits := &fakeAuditStore{}
	o := newTestOrchestrator(t, &fakeSearcher{}, gen, audits, nil)

	var got []string
	ans, err := o.AnswerStream(context.Background(), "q", func(frag string) error {
		got = append(got, frag)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Contains(t, got[1], "Sorry, I encountered an error while processing your question:")
	assert.Contains(t, ans.Response, "partial")
	assert.Contains(t, ans.Response, "stream broke")
}
