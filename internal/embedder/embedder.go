// Package embedder maps text to fixed-length vectors for semantic search.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vector embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int
}

// Options selects and configures an embedding provider.
type Options struct {
	Provider      string
	Dimension     int
	CacheSize     int64
	OllamaBaseURL string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// New builds the configured provider, wrapped in a cache when CacheSize > 0.
func New(opts Options, logger *slog.Logger) (Embedder, error) {
	var base Embedder
	switch opts.Provider {
	case "ollama", "":
		base = NewOllamaEmbedder(opts.OllamaBaseURL, opts.OllamaModel, opts.Dimension, logger)
	case "openai":
		base = NewOpenAIEmbedder(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.OpenAIModel, opts.Dimension, logger)
	case "hash":
		base = NewHashEmbedder(opts.Dimension)
	default:
		return nil, fmt.Errorf("embedder: unknown provider %q", opts.Provider)
	}
	if opts.CacheSize <= 0 {
		return base, nil
	}
	cached, err := NewCachedEmbedder(base, opts.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// checkDimension rejects vectors whose length differs from the configured dimension.
func checkDimension(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("embedding dimension %d does not match configured dimension %d", len(vec), want)
	}
	return nil
}
