// Package knowledge persists documents and their chunk embeddings in
// PostgreSQL with pgvector.
package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding dimensionality stored in the documents
// table. It must match the vector(N) column in the schema.
const VectorDimension int32 = 768

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Status tracks a document's ingestion lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Document is a stored document or chunk. Parent documents hold the full
// uploaded text and a nil embedding; chunks reference their parent and carry
// the embedded slice of the parent's content.
type Document struct {
	ID         uuid.UUID      `json:"id"`
	Filename   string         `json:"filename"`
	Content    string         `json:"content"`
	FileSize   int64          `json:"file_size"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata"`
	Status     Status         `json:"status"`
	ParentID   *uuid.UUID     `json:"parent_id,omitempty"`
	ChunkIndex *int           `json:"chunk_index,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IsChunk reports whether the document is a chunk of a parent document.
func (d *Document) IsChunk() bool { return d.ParentID != nil }

// SearchResult pairs a chunk with its cosine similarity to a query vector.
type SearchResult struct {
	Document   Document `json:"document"`
	Similarity float64  `json:"similarity"`
}
