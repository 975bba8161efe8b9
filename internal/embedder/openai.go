package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openAIDefaultModel = "text-embedding-3-small"
	openAIHTTPTimeout  = 30 * time.Second
)

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API
// (or any OpenAI-compatible endpoint reachable through baseURL).
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	logger     *slog.Logger
}

// NewOpenAIEmbedder creates a new OpenAI-based embedder.
// An empty baseURL keeps the SDK default.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, logger *slog.Logger) *OpenAIEmbedder {
	if model == "" {
		model = openAIDefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(openAIHTTPTimeout),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Embed returns a vector embedding for the given text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in a single API call. Output order matches input order.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(o.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.dimensions > 0 {
		params.Dimensions = openai.Int(int64(o.dimensions))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vecs := make([][]float32, len(data))
	for i := range data {
		vec := make([]float32, len(data[i].Embedding))
		for j, v := range data[i].Embedding {
			vec[j] = float32(v)
		}
		if err := checkDimension(vec, o.dimensions); err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		vecs[i] = vec
	}

	o.logger.Debug("generated embeddings via OpenAI", "model", o.model, "count", len(vecs))
	return vecs, nil
}

// Dimension returns the configured embedding dimension.
func (o *OpenAIEmbedder) Dimension() int {
	return o.dimensions
}
