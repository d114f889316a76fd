// Package kb is the knowledge-base service: it owns uploads on disk, the
// document store, and the ingestion pipeline, and exposes the operations the
// HTTP layer calls.
package kb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragstack/kbase/internal/ingest"
	"github.com/ragstack/kbase/internal/knowledge"
)

// supportedExtensions are the plain-text formats accepted for upload.
var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
}

// Store is the persistence surface the service needs.
// *knowledge.Store satisfies it.
type Store interface {
	Insert(ctx context.Context, doc *knowledge.Document) error
	Get(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	ListParents(ctx context.Context, limit, offset int) ([]*knowledge.Document, error)
	CountParents(ctx context.Context) (int, error)
	ListChunks(ctx context.Context, parentID uuid.UUID) ([]*knowledge.Document, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status knowledge.Status) error
	MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error
	DeleteChunks(ctx context.Context, parentID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Pipeline schedules background document processing.
// *ingest.Pipeline satisfies it.
type Pipeline interface {
	Submit(id uuid.UUID) error
	Processing(id uuid.UUID) bool
}

// BatchResult reports the outcome of a batch delete.
type BatchResult struct {
	Successful      []string `json:"successful"`
	Failed          []string `json:"failed"`
	TotalRequested  int      `json:"total_requested"`
	TotalSuccessful int      `json:"total_successful"`
	TotalFailed     int      `json:"total_failed"`
}

// Service implements the knowledge-base operations.
type Service struct {
	store       Store
	pipeline    Pipeline
	uploadDir   string
	maxFileSize int64
	logger      *slog.Logger
}

// Config configures NewService.
type Config struct {
	Store       Store
	Pipeline    Pipeline
	UploadDir   string
	MaxFileSize int64
	Logger      *slog.Logger
}

// NewService creates a knowledge-base Service. The upload directory is
// created if missing.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("max file size must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Service{
		store:       cfg.Store,
		pipeline:    cfg.Pipeline,
		uploadDir:   cfg.UploadDir,
		maxFileSize: cfg.MaxFileSize,
		logger:      logger,
	}, nil
}

// Upload validates the file, stores a copy on disk, persists the parent
// document in processing status, and schedules background ingestion. The
// returned document reflects the pre-processing state; clients poll its
// status for progress.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (*knowledge.Document, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q (supported: .txt, .md, .csv, .json)", ErrUnsupportedType, ext)
	}

	// Read one byte past the limit to detect oversize without buffering an
	// unbounded body.
	content, err := io.ReadAll(io.LimitReader(r, s.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(content)) > s.maxFileSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.maxFileSize)
	}

	path := filepath.Join(s.uploadDir, safeFilename(filename))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	doc := &knowledge.Document{
		Filename: filename,
		Content:  string(content),
		FileSize: int64(len(content)),
		Metadata: ingest.Provenance{
			UploadTime: time.Now().UTC().Format(time.RFC3339),
			FilePath:   path,
			FileType:   ext,
		}.Fields(),
		Status: knowledge.StatusProcessing,
	}
	if err := s.store.Insert(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	if err := s.pipeline.Submit(doc.ID); err != nil {
		return nil, fmt.Errorf("scheduling ingestion: %w", err)
	}
	return doc, nil
}

// List returns one page of top-level documents plus the total count.
// Page numbering starts at 1.
func (s *Service) List(ctx context.Context, page, size int) ([]*knowledge.Document, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 10
	}
	docs, err := s.store.ListParents(ctx, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountParents(ctx)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Get returns a single document by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*knowledge.Document, error) {
	return s.store.Get(ctx, id)
}

// Chunks returns the chunks of a parent document in order.
func (s *Service) Chunks(ctx context.Context, id uuid.UUID) ([]*knowledge.Document, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListChunks(ctx, id)
}

// Update modifies a document. New content discards existing chunks and
// re-ingests; metadata fields are shallow-merged.
func (s *Service) Update(ctx context.Context, id uuid.UUID, content string, metadata map[string]any) (*knowledge.Document, error) {
	if content == "" && len(metadata) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	if content != "" {
		if err := s.store.UpdateContent(ctx, id, content); err != nil {
			return nil, err
		}
		if err := s.pipeline.Submit(id); err != nil {
			return nil, fmt.Errorf("scheduling re-ingestion: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := s.store.MergeMetadata(ctx, id, metadata); err != nil {
			return nil, err
		}
	}
	return s.store.Get(ctx, id)
}

// Retry re-runs ingestion for a document, discarding any chunks from the
// previous attempt. Returns ingest.ErrAlreadyProcessing if a worker is
// currently on it.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.IsChunk() {
		return fmt.Errorf("%w: cannot retry a chunk", ErrValidation)
	}
	if s.pipeline.Processing(id) {
		return ingest.ErrAlreadyProcessing
	}

	if err := s.store.DeleteChunks(ctx, id); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, id, knowledge.StatusPending); err != nil {
		return err
	}
	return s.pipeline.Submit(id)
}

// Delete removes a document, its chunks (database cascade), and its file on
// disk. File removal is best-effort.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if path, ok := doc.Metadata["file_path"].(string); ok && path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing uploaded file", "document_id", id, "path", path, "error", err)
		}
	}
	return nil
}

// DeleteBatch deletes several documents, continuing past individual
// failures. IDs are deduplicated; the result accounts for each unique ID.
func (s *Service) DeleteBatch(ctx context.Context, ids []uuid.UUID) *BatchResult {
	seen := make(map[uuid.UUID]bool, len(ids))
	result := &BatchResult{Successful: []string{}, Failed: []string{}}

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		result.TotalRequested++

		if err := s.Delete(ctx, id); err != nil {
			s.logger.Warn("batch delete item failed", "document_id", id, "error", err)
			result.Failed = append(result.Failed, id.String())
			result.TotalFailed++
			continue
		}
		result.Successful = append(result.Successful, id.String())
		result.TotalSuccessful++
	}
	return result
}

// safeFilename produces an on-disk name: a UTC timestamp prefix plus the
// original name stripped to alphanumerics, dots, dashes, and underscores.
// The prefix keeps repeated uploads of the same file from colliding.
func safeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	return time.Now().UTC().Format("20060102_150405") + "_" + b.String()
}
