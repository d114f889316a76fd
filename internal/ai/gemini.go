package ai

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Task types passed to the embedding model. Asymmetric embeddings improve
// retrieval quality when documents and queries are embedded differently.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// Gemini implements Embedder and Generator on the Gemini API.
type Gemini struct {
	client     *genai.Client
	embedModel string
	genModel   string
	dimension  int32
	logger     *slog.Logger
}

// GeminiConfig configures NewGemini.
type GeminiConfig struct {
	APIKey     string
	EmbedModel string
	GenModel   string
	Dimension  int32
	Logger     *slog.Logger
}

// NewGemini creates a Gemini client for both embedding and generation.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.EmbedModel == "" || cfg.GenModel == "" {
		return nil, fmt.Errorf("embed and generation models are required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{
		client:     client,
		embedModel: cfg.EmbedModel,
		genModel:   cfg.GenModel,
		dimension:  cfg.Dimension,
		logger:     logger,
	}, nil
}

// EmbedText embeds a single query string with the query task type.
func (g *Gemini) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{text}, taskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds a batch of document chunks with the document task type.
func (g *Gemini) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return g.embed(ctx, texts, taskDocument)
}

func (g *Gemini) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := g.dimension
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding %d texts: %v", ErrService, len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrService, len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrService, i)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}

// Generate returns the full completion for prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.genModel, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("%w: generating content: %v", ErrService, err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrService)
	}
	return text, nil
}

// GenerateStream invokes fn with each completion fragment as it arrives.
func (g *Gemini) GenerateStream(ctx context.Context, prompt string, fn func(fragment string) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.genModel, genai.Text(prompt), nil) {
		if err != nil {
			return fmt.Errorf("%w: streaming content: %v", ErrService, err)
		}
		fragment := resp.Text()
		if fragment == "" {
			continue
		}
		if err := fn(fragment); err != nil {
			return err
		}
	}
	return nil
}
