package ingest

import "errors"

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrSplitterRequired is returned when a chunk splitter is not provided.
	ErrSplitterRequired = errors.New("chunk splitter required")

	// ErrAlreadyProcessing is returned when ingestion is requested for a
	// document that is currently being processed.
	ErrAlreadyProcessing = errors.New("document is already being processed")

	// ErrEmptyDocument is returned when a document has no content to chunk.
	ErrEmptyDocument = errors.New("document has no content")
)
