// Package ai defines the embedding and generation interfaces used by
// ingestion and chat, plus their Gemini implementation.
package ai

import (
	"context"
	"errors"
)

// ErrService indicates a failure in the upstream AI service. Callers can use
// errors.Is to distinguish provider failures from local errors.
var ErrService = errors.New("ai service error")

// Embedder generates vector embeddings from text.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// EmbedText embeds a single query string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds a batch of document chunks. The returned slice is in
	// input order and has one embedding per input.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces model completions from a prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Generate returns the full completion for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream invokes fn with each completion fragment as it arrives.
	// Returning an error from fn aborts the stream.
	GenerateStream(ctx context.Context, prompt string, fn func(fragment string) error) error
}
