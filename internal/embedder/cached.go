package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
)

// CachedEmbedder memoizes another Embedder's vectors in a ristretto cache keyed by text.
type CachedEmbedder struct {
	next   Embedder
	cache  *ristretto.Cache
	logger *slog.Logger
}

// NewCachedEmbedder wraps next with a cache holding up to size vectors.
func NewCachedEmbedder(next Embedder, size int64, logger *slog.Logger) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache, logger: logger}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(text, vec)
	return copyVec(vec), nil
}

// EmbedBatch forwards only the cache misses to the wrapped embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.lookup(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder cache: got %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		c.store(texts[i], vecs[j])
		out[i] = copyVec(vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) Dimension() int { return c.next.Dimension() }

// Close releases the cache goroutines.
func (c *CachedEmbedder) Close() { c.cache.Close() }

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	v, ok := c.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	metrics.Inc(metrics.EmbedCacheHits)
	return copyVec(vec), true
}

func (c *CachedEmbedder) store(text string, vec []float32) {
	if c.cache.Set(text, copyVec(vec), 1) {
		c.cache.Wait()
		return
	}
	c.logger.Debug("embedder cache: set dropped", "len", len(text))
}

func copyVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
