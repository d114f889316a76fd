package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/kbase/internal/ingest"
	"github.com/ragstack/kbase/internal/knowledge"
	"github.com/ragstack/kbase/internal/log"
)

type fakeStore struct {
	docs   map[uuid.UUID]*knowledge.Document
	chunks map[uuid.UUID][]*knowledge.Document

	insertErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[uuid.UUID]*knowledge.Document),
		chunks: make(map[uuid.UUID][]*knowledge.Document),
	}
}

func (f *fakeStore) Insert(ctx context.Context, doc *knowledge.Document) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*knowledge.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, knowledge.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) ListParents(ctx context.Context, limit, offset int) ([]*knowledge.Document, error) {
	var out []*knowledge.Document
	for _, d := range f.docs {
		if d.ParentID == nil {
			out = append(out, d)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountParents(ctx context.Context) (int, error) {
	n := 0
	for _, d := range f.docs {
		if d.ParentID == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListChunks(ctx context.Context, parentID uuid.UUID) ([]*knowledge.Document, error) {
	return f.chunks[parentID], nil
}

func (f *fakeStore) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	d, ok := f.docs[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	d.Content = content
	d.Status = knowledge.StatusPending
	delete(f.chunks, id)
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.Status) error {
	d, ok := f.docs[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeStore) MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	d, ok := f.docs[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	for k, v := range fields {
		d.Metadata[k] = v
	}
	return nil
}

func (f *fakeStore) DeleteChunks(ctx context.Context, parentID uuid.UUID) error {
	delete(f.chunks, parentID)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.docs[id]; !ok {
		return knowledge.ErrNotFound
	}
	delete(f.docs, id)
	delete(f.chunks, id)
	return nil
}

type fakePipeline struct {
	submitted  []uuid.UUID
	submitErr  error
	processing map[uuid.UUID]bool
}

func (f *fakePipeline) Submit(id uuid.UUID) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, id)
	return nil
}

func (f *fakePipeline) Processing(id uuid.UUID) bool {
	return f.processing[id]
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakePipeline) {
	t.Helper()
	store := newFakeStore()
	pipe := &fakePipeline{processing: map[uuid.UUID]bool{}}
	svc, err := NewService(Config{
		Store:       store,
		Pipeline:    pipe,
		UploadDir:   t.TempDir(),
		MaxFileSize: 1024,
		Logger:      log.NewNop(),
	})
	require.NoError(t, err)
	return svc, store, pipe
}

func TestUpload(t *testing.T) {
	svc, store, pipe := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, "notes.txt", strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, "hello world", doc.Content)
	assert.Equal(t, int64(11), doc.FileSize)
	assert.Equal(t, knowledge.StatusProcessing, doc.Status)
	assert.Contains(t, doc.Metadata, "upload_time")
	assert.Equal(t, ".txt", doc.Metadata["file_type"])

	// persisted and scheduled
	_, ok := store.docs[doc.ID]
	assert.True(t, ok)
	require.Len(t, pipe.submitted, 1)
	assert.Equal(t, doc.ID, pipe.submitted[0])

	// file written under the upload dir with a sanitized name
	path, _ := doc.Metadata["file_path"].(string)
	require.NotEmpty(t, path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
	assert.True(t, strings.HasSuffix(filepath.Base(path), "_notes.txt"))
}

func TestUploadUnsupportedType(t *testing.T) {
	svc, _, pipe := newTestService(t)

	_, err := svc.Upload(context.Background(), "binary.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, pipe.submitted)
}

func TestUploadTooLarge(t *testing.T) {
	svc, _, _ := newTestService(t)

	big := strings.Repeat("a", 2048)
	_, err := svc.Upload(context.Background(), "big.txt", strings.NewReader(big))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestUploadMissingFilename(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), "", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUploadInsertFailureRemovesFile(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.insertErr = errors.New("db down")

	_, err := svc.Upload(context.Background(), "notes.txt", strings.NewReader("hello"))
	require.Error(t, err)

	entries, err := os.ReadDir(svc.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListPaging(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, &knowledge.Document{Filename: "f.txt", Status: knowledge.StatusCompleted}))
	}

	docs, total, err := svc.List(ctx, 1, 3)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Equal(t, 5, total)

	docs, _, err = svc.List(ctx, 2, 3)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// out-of-range parameters fall back to defaults
	docs, _, err = svc.List(ctx, 0, -1)
	require.NoError(t, err)
	assert.Len(t, docs, 5)
}

func TestChunksRequiresDocument(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Chunks(context.Background(), uuid.New())
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestUpdateContentReingests(t *testing.T) {
	svc, store, pipe := newTestService(t)
	ctx := context.Background()

	doc := &knowledge.Document{Filename: "a.txt", Content: "old", Status: knowledge.StatusCompleted}
	require.NoError(t, store.Insert(ctx, doc))

	got, err := svc.Update(ctx, doc.ID, "new content", nil)
	require.NoError(t, err)
	assert.Equal(t, "new content", got.Content)
	require.Len(t, pipe.submitted, 1)
	assert.Equal(t, doc.ID, pipe.submitted[0])
}

func TestUpdateMetadataOnly(t *testing.T) {
	svc, store, pipe := newTestService(t)
	ctx := context.Background()

	doc := &knowledge.Document{Filename: "a.txt", Content: "x", Status: knowledge.StatusCompleted}
	require.NoError(t, store.Insert(ctx, doc))

	got, err := svc.Update(ctx, doc.ID, "", map[string]any{"source": "manual"})
	require.NoError(t, err)
	assert.Equal(t, "manual", got.Metadata["source"])
	assert.Empty(t, pipe.submitted)
}

func TestUpdateNothing(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Update(context.Background(), uuid.New(), "", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRetry(t *testing.T) {
	svc, store, pipe := newTestService(t)
	ctx := context.Background()

	doc := &knowledge.Document{Filename: "a.txt", Content: "x", Status: knowledge.StatusFailed}
	require.NoError(t, store.Insert(ctx, doc))
	store.chunks[doc.ID] = []*knowledge.Document{{Filename: "a.txt_chunk_0"}}

	require.NoError(t, svc.Retry(ctx, doc.ID))

	assert.Empty(t, store.chunks[doc.ID])
	assert.Equal(t, knowledge.StatusPending, store.docs[doc.ID].Status)
	require.Len(t, pipe.submitted, 1)
}

func TestRetryWhileProcessing(t *testing.T) {
	svc, store, pipe := newTestService(t)
	ctx := context.Background()

	doc := &knowledge.Document{Filename: "a.txt", Content: "x", Status: knowledge.StatusProcessing}
	require.NoError(t, store.Insert(ctx, doc))
	pipe.processing[doc.ID] = true

	assert.ErrorIs(t, svc.Retry(ctx, doc.ID), ingest.ErrAlreadyProcessing)
}

func TestRetryChunkRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	parentID := uuid.New()
	idx := 0
	chunk := &knowledge.Document{Filename: "a.txt_chunk_0", ParentID: &parentID, ChunkIndex: &idx}
	require.NoError(t, store.Insert(ctx, chunk))

	assert.ErrorIs(t, svc.Retry(ctx, chunk.ID), ErrValidation)
}

func TestDeleteRemovesFile(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, "gone.txt", strings.NewReader("bye"))
	require.NoError(t, err)
	path, _ := doc.Metadata["file_path"].(string)

	require.NoError(t, svc.Delete(ctx, doc.ID))

	_, ok := store.docs[doc.ID]
	assert.False(t, ok)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestDeleteBatch(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	a := &knowledge.Document{Filename: "a.txt", Status: knowledge.StatusCompleted, Metadata: map[string]any{}}
	b := &knowledge.Document{Filename: "b.txt", Status: knowledge.StatusCompleted, Metadata: map[string]any{}}
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))
	missing := uuid.New()

	// duplicate IDs count once
	result := svc.DeleteBatch(ctx, []uuid.UUID{a.ID, a.ID, b.ID, missing})

	assert.Equal(t, 3, result.TotalRequested)
	assert.Equal(t, 2, result.TotalSuccessful)
	assert.Equal(t, 1, result.TotalFailed)
	assert.ElementsMatch(t, []string{a.ID.String(), b.ID.String()}, result.Successful)
	assert.Equal(t, []string{missing.String()}, result.Failed)
}

func TestSafeFilename(t *testing.T) {
	got := safeFilename("my file (1)/..\\evil.txt")
	assert.NotContains(t, got, "/")
	assert.NotContains(t, got, "\\")
	assert.NotContains(t, got, " ")
	assert.NotContains(t, got, "(")
	assert.True(t, strings.HasSuffix(got, "evil.txt"))
}
