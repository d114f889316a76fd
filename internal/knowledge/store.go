package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// documentCols is the standard SELECT column list for scanDocuments.
const documentCols = `id, filename, content, file_size, metadata, status,
	parent_id, chunk_index, created_at, updated_at`

// Store manages documents backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a document Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Insert persists a document. A zero ID is replaced with a new UUID; the
// generated or provided ID is written back to doc. A nil embedding is stored
// as NULL, which is the normal shape for parent documents.
func (s *Store) Insert(ctx context.Context, doc *Document) error {
	if doc.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("invalid status: %q", doc.Status)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	if doc.Embedding != nil && len(doc.Embedding) != int(VectorDimension) {
		return fmt.Errorf("embedding dimension %d, want %d", len(doc.Embedding), VectorDimension)
	}

	if err := insertDocument(ctx, s.pool, doc); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// insertDocument writes one row through q, which is either the pool or an
// open transaction, and scans the database-assigned timestamps back into doc.
func insertDocument(ctx context.Context, q querier, doc *Document) error {
	var vec any
	if doc.Embedding != nil {
		vec = pgvector.NewVector(doc.Embedding)
	}
	return q.QueryRow(ctx,
		`INSERT INTO documents (id, filename, content, file_size, embedding, metadata, status, parent_id, chunk_index)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		doc.ID, doc.Filename, doc.Content, doc.FileSize, vec, doc.Metadata, doc.Status, doc.ParentID, doc.ChunkIndex,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

// InsertChunks persists a batch of chunk rows in a single transaction so a
// partial failure never leaves a half-ingested document visible.
func (s *Store) InsertChunks(ctx context.Context, parentID uuid.UUID, chunks []*Document) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if len(c.Embedding) != int(VectorDimension) {
			return fmt.Errorf("chunk %d: embedding dimension %d, want %d", derefInt(c.ChunkIndex), len(c.Embedding), VectorDimension)
		}
		pid := parentID
		c.ParentID = &pid
		if err := insertDocument(ctx, tx, c); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", derefInt(c.ChunkIndex), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk insert: %w", err)
	}
	return nil
}

// Get retrieves a single document by ID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// ListParents returns top-level documents (no parent), newest first.
func (s *Store) ListParents(ctx context.Context, limit, offset int) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`
		 FROM documents
		 WHERE parent_id IS NULL
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return scanDocuments(rows)
}

// CountParents returns the number of top-level documents.
func (s *Store) CountParents(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM documents WHERE parent_id IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// ListChunks returns the chunks of a parent document in chunk order.
func (s *Store) ListChunks(ctx context.Context, parentID uuid.UUID) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`
		 FROM documents
		 WHERE parent_id = $1
		 ORDER BY chunk_index`,
		parentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	return scanDocuments(rows)
}

// UpdateContent replaces a document's content and clears stale chunk state by
// deleting existing chunks. The caller re-ingests afterwards.
func (s *Store) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE documents
		 SET content = $1, file_size = $2, status = $3, updated_at = now()
		 WHERE id = $4 AND parent_id IS NULL`,
		content, int64(len(content)), StatusPending, id)
	if err != nil {
		return fmt.Errorf("updating content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE parent_id = $1`, id); err != nil {
		return fmt.Errorf("deleting stale chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing content update: %w", err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of a document.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeMetadata shallow-merges fields into a document's metadata JSONB.
// Existing keys not present in fields are preserved.
func (s *Store) MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
		 SET metadata = coalesce(metadata, '{}'::jsonb) || $1, updated_at = now()
		 WHERE id = $2`,
		fields, id)
	if err != nil {
		return fmt.Errorf("merging metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChunks removes all chunks of a parent document, leaving the parent
// row untouched. Used before re-processing a document.
func (s *Store) DeleteChunks(ctx context.Context, parentID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE parent_id = $1`, parentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// Delete removes a document. Chunks are removed by the parent_id foreign key
// cascade. Returns ErrNotFound if the document does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SimilaritySearch returns the chunks nearest to the query vector by cosine
// distance, restricted to completed chunks, best match first.
func (s *Store) SimilaritySearch(ctx context.Context, embedding []float32, limit int) ([]*SearchResult, error) {
	if len(embedding) != int(VectorDimension) {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(embedding), VectorDimension)
	}
	if limit <= 0 {
		limit = 5
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`, 1 - (embedding <=> $1) AS similarity
		 FROM documents
		 WHERE embedding IS NOT NULL AND status = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var r SearchResult
		if err := scanDocumentInto(rows, &r.Document, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	if err := scanDocumentInto(row, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// scanDocumentInto scans the documentCols column list plus any extra trailing
// destinations (used by SimilaritySearch for the similarity column).
func scanDocumentInto(row pgx.Row, d *Document, extra ...any) error {
	dest := []any{
		&d.ID, &d.Filename, &d.Content, &d.FileSize, &d.Metadata, &d.Status,
		&d.ParentID, &d.ChunkIndex, &d.CreatedAt, &d.UpdatedAt,
	}
	dest = append(dest, extra...)
	return row.Scan(dest...)
}

func scanDocuments(rows pgx.Rows) ([]*Document, error) {
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := scanDocumentInto(rows, &d); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
