package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ragstack/kbase/internal/ai/mock"
	"github.com/ragstack/kbase/internal/chunker"
	"github.com/ragstack/kbase/internal/knowledge"
	"github.com/ragstack/kbase/internal/log"
)

func TestMain(m *testing.M) {
	// ants starts an unused default pool at package init whose maintenance
	// goroutines would otherwise trip the leak check.
	ants.Release()
	goleak.VerifyTestMain(m)
}

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*knowledge.Document
	chunks map[uuid.UUID][]*knowledge.Document

	failInsertChunks bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[uuid.UUID]*knowledge.Document),
		chunks: make(map[uuid.UUID][]*knowledge.Document),
	}
}

func (f *fakeStore) add(content string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.docs[id] = &knowledge.Document{
		ID:       id,
		Filename: "test.txt",
		Content:  content,
		Metadata: map[string]any{},
		Status:   knowledge.StatusPending,
	}
	return id
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*knowledge.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) InsertChunks(ctx context.Context, parentID uuid.UUID, chunks []*knowledge.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertChunks {
		return errors.New("insert failed")
	}
	f.chunks[parentID] = append(f.chunks[parentID], chunks...)
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeStore) MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	for k, v := range fields {
		d.Metadata[k] = v
	}
	return nil
}

func (f *fakeStore) status(id uuid.UUID) knowledge.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status
}

func (f *fakeStore) metadata(id uuid.UUID) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.docs[id].Metadata))
	for k, v := range f.docs[id].Metadata {
		out[k] = v
	}
	return out
}

func newTestPipeline(t *testing.T, store *fakeStore, emb *mock.Embedder) *Pipeline {
	t.Helper()
	p, err := NewPipeline(store, emb, chunker.New(50, 10),
		WithPoolSize(2), WithLogger(log.NewNop()))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewPipelineValidation(t *testing.T) {
	emb := mock.NewEmbedder(8)
	split := chunker.New(50, 10)

	_, err := NewPipeline(nil, emb, split)
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewPipeline(newFakeStore(), nil, split)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewPipeline(newFakeStore(), emb, nil)
	assert.ErrorIs(t, err, ErrSplitterRequired)
}

func TestProcessCompletes(t *testing.T) {
	store := newFakeStore()
	emb := mock.NewEmbedder(8)
	p := newTestPipeline(t, store, emb)

	id := store.add(strings.Repeat("alpha beta gamma. ", 20))
	require.NoError(t, p.Submit(id))
	p.Wait()

	assert.Equal(t, knowledge.StatusCompleted, store.status(id))

	md := store.metadata(id)
	assert.Contains(t, md, "processing_started")
	assert.Contains(t, md, "processing_completed")
	assert.NotContains(t, md, "processing_error")

	chunks := store.chunks[id]
	require.NotEmpty(t, chunks)
	assert.Equal(t, md["chunk_count"], len(chunks))
	for i, c := range chunks {
		assert.Equal(t, "test.txt_chunk_"+strconv.Itoa(i), c.Filename)
		assert.Equal(t, knowledge.StatusCompleted, c.Status)
		require.NotNil(t, c.ChunkIndex)
		assert.Equal(t, i, *c.ChunkIndex)
		assert.Equal(t, i, c.Metadata["chunk_index"])
		assert.Equal(t, len(chunks), c.Metadata["total_chunks"])
		assert.Equal(t, id.String(), c.Metadata["parent_document_id"])
		assert.Len(t, c.Embedding, 8)
	}
}

func TestProcessEmptyDocumentFails(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, store, mock.NewEmbedder(8))

	id := store.add("")
	require.NoError(t, p.Submit(id))
	p.Wait()

	assert.Equal(t, knowledge.StatusFailed, store.status(id))
	md := store.metadata(id)
	assert.Contains(t, md, "processing_error")
	assert.Contains(t, md, "processing_failed")
}

func TestProcessEmbedderError(t *testing.T) {
	store := newFakeStore()
	emb := mock.NewEmbedder(8)
	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("quota exceeded")
	}
	p := newTestPipeline(t, store, emb)

	id := store.add("some content to embed")
	require.NoError(t, p.Submit(id))
	p.Wait()

	assert.Equal(t, knowledge.StatusFailed, store.status(id))
	md := store.metadata(id)
	errMsg, _ := md["processing_error"].(string)
	assert.Contains(t, errMsg, "quota exceeded")
	assert.Empty(t, store.chunks[id])
}

func TestProcessInsertError(t *testing.T) {
	store := newFakeStore()
	store.failInsertChunks = true
	p := newTestPipeline(t, store, mock.NewEmbedder(8))

	id := store.add("some content to embed")
	require.NoError(t, p.Submit(id))
	p.Wait()

	assert.Equal(t, knowledge.StatusFailed, store.status(id))
}

func TestSubmitWhileProcessing(t *testing.T) {
	store := newFakeStore()
	emb := mock.NewEmbedder(8)

	started := make(chan struct{})
	block := make(chan struct{})
	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		close(started)
		<-block
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = make([]float32, 8)
		}
		return vecs, nil
	}
	p := newTestPipeline(t, store, emb)

	id := store.add("content being processed")
	require.NoError(t, p.Submit(id))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("processing never started")
	}

	assert.True(t, p.Processing(id))
	assert.ErrorIs(t, p.Submit(id), ErrAlreadyProcessing)

	close(block)
	p.Wait()

	// lock released after completion, resubmission allowed again
	assert.False(t, p.Processing(id))
}

func TestProcessPanicRecovery(t *testing.T) {
	store := newFakeStore()
	emb := mock.NewEmbedder(8)
	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		panic("boom")
	}
	p := newTestPipeline(t, store, emb)

	id := store.add("content")
	require.NoError(t, p.Submit(id))
	p.Wait()

	assert.Equal(t, knowledge.StatusFailed, store.status(id))
	md := store.metadata(id)
	errMsg, _ := md["processing_error"].(string)
	assert.Contains(t, errMsg, "boom")
}

func TestMarkFailedSurvivesExpiredRunContext(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, store, mock.NewEmbedder(8))

	id := store.add("content")

	// The run context expiring is itself a failure cause. The failure
	// record must still land or the document stays in processing forever.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.markFailed(ctx, id, context.DeadlineExceeded)

	assert.Equal(t, knowledge.StatusFailed, store.status(id))
	md := store.metadata(id)
	assert.Contains(t, md, "processing_error")
	assert.Contains(t, md, "processing_failed")
}

func TestProvenanceFields(t *testing.T) {
	idx := 0
	got := Provenance{
		ParentDocumentID: "doc-1",
		ChunkIndex:       &idx,
		TotalChunks:      3,
	}.Fields()
	want := map[string]any{
		"parent_document_id": "doc-1",
		"chunk_index":        0,
		"total_chunks":       3,
	}
	assert.Equal(t, want, got)

	// zero-valued entries never leak into metadata
	assert.Empty(t, Provenance{}.Fields())
}
