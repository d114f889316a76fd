// Package mock provides test doubles for the ai interfaces. The defaults are
// deterministic so tests can assert on retrieval ordering without a live
// model.
package mock

import (
	"context"
	"hash/fnv"
	"sync"
)

// Embedder is a test double for ai.Embedder. Custom behavior can be injected
// via the function fields; when nil, a deterministic hash-based embedding is
// produced.
type Embedder struct {
	EmbedTextFunc  func(ctx context.Context, text string) ([]float32, error)
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	Dimension int

	mu    sync.Mutex
	calls int
}

// NewEmbedder creates a mock embedder producing dim-length vectors.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dimension: dim}
}

// EmbedText embeds a single string.
func (m *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.record()
	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return hashVector(text, m.Dimension), nil
}

// EmbedTexts embeds a batch of strings.
func (m *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.record()
	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = hashVector(t, m.Dimension)
	}
	return vecs, nil
}

// CallCount returns how many Embed calls have been made.
func (m *Embedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Embedder) record() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

// hashVector produces a unit vector whose non-zero component is derived from
// the FNV hash of text. Equal texts map to equal vectors.
func hashVector(text string, dim int) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	vec := make([]float32, dim)
	vec[int(h.Sum32())%dim] = 1.0
	return vec
}

// Generator is a test double for ai.Generator.
type Generator struct {
	GenerateFunc       func(ctx context.Context, prompt string) (string, error)
	GenerateStreamFunc func(ctx context.Context, prompt string, fn func(string) error) error

	mu      sync.Mutex
	prompts []string
}

// NewGenerator creates a mock generator that echoes a canned answer.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the configured completion, or a canned answer.
func (m *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "mock answer", nil
}

// GenerateStream streams the configured completion as a single fragment.
func (m *Generator) GenerateStream(ctx context.Context, prompt string, fn func(string) error) error {
	if m.GenerateStreamFunc != nil {
		m.mu.Lock()
		m.prompts = append(m.prompts, prompt)
		m.mu.Unlock()
		return m.GenerateStreamFunc(ctx, prompt, fn)
	}
	out, err := m.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return fn(out)
}

// Prompts returns the prompts passed to Generate so far.
func (m *Generator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
