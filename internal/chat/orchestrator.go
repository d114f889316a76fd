package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragstack/kbase/internal/ai"
	"github.com/ragstack/kbase/internal/audit"
	"github.com/ragstack/kbase/internal/cache"
	"github.com/ragstack/kbase/internal/knowledge"
	"github.com/ragstack/kbase/internal/metrics"
)

// noDocsContext is the context handed to the model when retrieval found
// nothing relevant.
const noDocsContext = "No relevant documents found."

// AuditStore records chat interactions. *audit.Store satisfies it.
type AuditStore interface {
	Insert(ctx context.Context, l *audit.Log) error
}

// Answer is the result of one chat interaction.
type Answer struct {
	ChatID    uuid.UUID            `json:"chat_id"`
	Response  string               `json:"response"`
	Retrieved []audit.RetrievedDoc `json:"retrieved_docs"`
	LatencyMS int                  `json:"latency_ms"`
}

// Orchestrator runs the retrieve-generate-audit chat flow.
type Orchestrator struct {
	retriever *Retriever
	generator ai.Generator
	audits    AuditStore
	cache     *cache.Cache
	ttl       time.Duration
	maxTokens int
	logger    *slog.Logger
}

// OrchestratorConfig configures NewOrchestrator.
type OrchestratorConfig struct {
	Retriever *Retriever
	Generator ai.Generator
	Audits    AuditStore
	Cache     *cache.Cache
	CacheTTL  time.Duration

	// MaxContextTokens bounds the assembled context, measured in words.
	MaxContextTokens int

	Logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Audits == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(nil, logger)
	}
	return &Orchestrator{
		retriever: cfg.Retriever,
		generator: cfg.Generator,
		audits:    cfg.Audits,
		cache:     c,
		ttl:       cfg.CacheTTL,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Answer answers a question against the knowledge base. Generation failures
// do not fail the request: the response becomes an apology that carries the
// error, and the interaction is still audited.
func (o *Orchestrator) Answer(ctx context.Context, question string) (*Answer, error) {
	start := time.Now()

	results := o.retriever.Search(ctx, question)
	response := o.respond(ctx, question, results)

	ans := &Answer{
		ChatID:    uuid.New(),
		Response:  response,
		Retrieved: provenance(results),
		LatencyMS: int(time.Since(start).Milliseconds()),
	}

	if err := o.recordAudit(ctx, question, ans); err != nil {
		return nil, err
	}
	return ans, nil
}

// AnswerStream is Answer with the response streamed through fn fragment by
// fragment. The audit log records the full accumulated response.
func (o *Orchestrator) AnswerStream(ctx context.Context, question string, fn func(fragment string) error) (*Answer, error) {
	start := time.Now()

	results := o.retriever.Search(ctx, question)
	prompt := buildPrompt(question, o.buildContext(results))

	var b strings.Builder
	err := o.generator.GenerateStream(ctx, prompt, func(fragment string) error {
		b.WriteString(fragment)
		return fn(fragment)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Error("streaming generation failed", "error", err)
		apology := apologize(err)
		b.WriteString(apology)
		if sendErr := fn(apology); sendErr != nil {
			return nil, sendErr
		}
	}

	ans := &Answer{
		ChatID:    uuid.New(),
		Response:  b.String(),
		Retrieved: provenance(results),
		LatencyMS: int(time.Since(start).Milliseconds()),
	}
	if err := o.recordAudit(ctx, question, ans); err != nil {
		return nil, err
	}
	return ans, nil
}

// respond produces the response text, consulting the response cache first.
func (o *Orchestrator) respond(ctx context.Context, question string, results []*knowledge.SearchResult) string {
	key := cache.Key("response", question)
	if b, ok := o.cache.Get(ctx, key); ok {
		o.logger.Debug("response cache hit", "question_len", len(question))
		metrics.ChatRequests.WithLabelValues("hit").Inc()
		return string(b)
	}
	metrics.ChatRequests.WithLabelValues("miss").Inc()

	prompt := buildPrompt(question, o.buildContext(results))
	response, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		o.logger.Error("generation failed", "error", err)
		return apologize(err)
	}

	o.cache.Set(ctx, key, []byte(response), o.ttl)
	return response
}

// buildContext concatenates retrieved chunks until the word budget is spent.
// Chunks arrive best match first, so truncation drops the weakest matches.
func (o *Orchestrator) buildContext(results []*knowledge.SearchResult) string {
	if len(results) == 0 {
		return noDocsContext
	}

	var parts []string
	used := 0
	for _, r := range results {
		words := len(strings.Fields(r.Document.Content))
		if used+words > o.maxTokens {
			break
		}
		parts = append(parts, fmt.Sprintf("Document (%s):\n%s\n", r.Document.Filename, r.Document.Content))
		used += words
	}
	if len(parts) == 0 {
		return noDocsContext
	}
	return strings.Join(parts, "\n")
}

func (o *Orchestrator) recordAudit(ctx context.Context, question string, ans *Answer) error {
	l := &audit.Log{
		ChatID:        ans.ChatID,
		Question:      question,
		Response:      ans.Response,
		RetrievedDocs: ans.Retrieved,
		LatencyMS:     ans.LatencyMS,
	}
	if err := o.audits.Insert(ctx, l); err != nil {
		return fmt.Errorf("recording audit log: %w", err)
	}
	return nil
}

func buildPrompt(question, context string) string {
	return fmt.Sprintf("Context: %s\nQ: %s\nA:", context, question)
}

func apologize(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error while processing your question: %v", err)
}

func provenance(results []*knowledge.SearchResult) []audit.RetrievedDoc {
	docs := make([]audit.RetrievedDoc, len(results))
	for i, r := range results {
		docs[i] = audit.RetrievedDoc{
			ID:         r.Document.ID,
			Filename:   r.Document.Filename,
			Similarity: r.Similarity,
		}
	}
	return docs
}
