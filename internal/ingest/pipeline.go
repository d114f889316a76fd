// Package ingest turns uploaded documents into embedded, searchable chunks.
//
// Processing is asynchronous: callers persist a parent document in pending
// status, submit its ID, and poll the document status. Workers split the
// content, embed the chunks in one batch call, and store them atomically.
// The lifecycle (pending, processing, completed, failed) and the timestamps
// recorded in document metadata are the API through which clients observe
// progress.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/ragstack/kbase/internal/ai"
	"github.com/ragstack/kbase/internal/chunker"
	"github.com/ragstack/kbase/internal/knowledge"
	"github.com/ragstack/kbase/internal/metrics"
)

const (
	// processTimeout bounds a single document's background processing.
	processTimeout = 5 * time.Minute

	// failureRecordTimeout bounds the store writes that record a failure.
	failureRecordTimeout = 30 * time.Second
)

// Store is the document persistence surface the pipeline needs.
// *knowledge.Store satisfies it.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	InsertChunks(ctx context.Context, parentID uuid.UUID, chunks []*knowledge.Document) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.Status) error
	MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

// Pipeline processes documents on a bounded worker pool.
type Pipeline struct {
	store    Store
	embedder ai.Embedder
	splitter *chunker.Splitter
	pool     *ants.Pool
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store Store, embedder ai.Embedder, splitter *chunker.Splitter, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if splitter == nil {
		return nil, ErrSplitterRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:    store,
		embedder: embedder,
		splitter: splitter,
		pool:     pool,
		logger:   slog.Default(),
		inFlight: make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.pool.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Submit schedules background processing of a persisted parent document.
// At most one worker processes a given document at a time; a second Submit
// while processing is underway returns ErrAlreadyProcessing.
func (p *Pipeline) Submit(id uuid.UUID) error {
	p.mu.Lock()
	if _, busy := p.inFlight[id]; busy {
		p.mu.Unlock()
		return ErrAlreadyProcessing
	}
	p.inFlight[id] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		defer p.release(id)
		p.process(id)
	})
	if err != nil {
		p.wg.Done()
		p.release(id)
		return fmt.Errorf("submitting document %s: %w", id, err)
	}
	return nil
}

func (p *Pipeline) release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// Processing reports whether a document is currently in flight.
func (p *Pipeline) Processing(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.inFlight[id]
	return busy
}

// Wait blocks until all submitted documents have finished processing.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Close drains in-flight work and releases the worker pool. The pipeline
// must not be used after Close.
func (p *Pipeline) Close() {
	p.wg.Wait()
	p.pool.Release()
}

// process runs the full ingestion of one document. It uses a background
// context so processing survives the uploader's request context.
func (p *Pipeline) process(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingestion panic", "document_id", id, "panic", r)
			p.markFailed(ctx, id, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := p.run(ctx, id); err != nil {
		p.logger.Error("ingestion failed", "document_id", id, "error", err)
		p.markFailed(ctx, id, err)
		return
	}
	p.logger.Info("ingestion completed", "document_id", id)
}

func (p *Pipeline) run(ctx context.Context, id uuid.UUID) error {
	if err := p.store.UpdateStatus(ctx, id, knowledge.StatusProcessing); err != nil {
		return fmt.Errorf("marking processing: %w", err)
	}
	if err := p.store.MergeMetadata(ctx, id, Provenance{
		ProcessingStarted: now(),
	}.Fields()); err != nil {
		return fmt.Errorf("recording processing start: %w", err)
	}

	doc, err := p.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}

	texts := p.splitter.Split(doc.Content)
	if len(texts) == 0 {
		return ErrEmptyDocument
	}

	embeddings, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}
	if len(embeddings) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(texts))
	}

	chunks := make([]*knowledge.Document, len(texts))
	for i, text := range texts {
		idx := i
		chunks[i] = &knowledge.Document{
			Filename:  fmt.Sprintf("%s_chunk_%d", doc.Filename, i),
			Content:   text,
			FileSize:  int64(len(text)),
			Embedding: embeddings[i],
			Metadata: Provenance{
				ParentDocumentID: doc.ID.String(),
				ChunkIndex:       &idx,
				TotalChunks:      len(texts),
			}.Fields(),
			Status:     knowledge.StatusCompleted,
			ChunkIndex: &idx,
		}
	}
	if err := p.store.InsertChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}

	if err := p.store.MergeMetadata(ctx, id, Provenance{
		ProcessingCompleted: now(),
		ChunkCount:          len(chunks),
	}.Fields()); err != nil {
		return fmt.Errorf("recording completion: %w", err)
	}
	if err := p.store.UpdateStatus(ctx, id, knowledge.StatusCompleted); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	metrics.DocumentsIngested.WithLabelValues("completed").Inc()
	metrics.ChunksEmbedded.Add(float64(len(chunks)))
	return nil
}

// markFailed records the failure reason in metadata and flips the status.
// The run context may itself be the failure cause (processTimeout expiry),
// so the writes run on a detached context with their own deadline. Otherwise
// the document would stay in processing with nothing scheduled to move it.
// Best-effort beyond that: the document may have been deleted mid-flight.
func (p *Pipeline) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	if err := p.store.MergeMetadata(ctx, id, Provenance{
		ProcessingError:  cause.Error(),
		ProcessingFailed: now(),
	}.Fields()); err != nil {
		p.logger.Warn("recording failure metadata", "document_id", id, "error", err)
	}
	if err := p.store.UpdateStatus(ctx, id, knowledge.StatusFailed); err != nil {
		p.logger.Warn("marking document failed", "document_id", id, "error", err)
	}
	metrics.DocumentsIngested.WithLabelValues("failed").Inc()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
