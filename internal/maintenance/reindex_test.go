package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchEmbedder returns a fixed 3-d vector per text. The first failFirst calls fail, as
// do batches containing "boom".
type batchEmbedder struct {
	mu        sync.Mutex
	calls     int
	texts     int
	failFirst int
}

func (b *batchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (b *batchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failFirst {
		return nil, errors.New("provider warming up")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "boom") {
			return nil, errors.New("provider rejected input")
		}
		out[i] = []float32{0, 0, 1}
	}
	b.texts += len(texts)
	return out, nil
}

func (b *batchEmbedder) Dimension() int { return 3 }

func reindexOptions(batch, workers int) Options {
	opts := DefaultOptions()
	opts.ReindexBatch = batch
	opts.ReindexWorkers = workers
	opts.RetryAttempts = 2
	opts.RetryBase = time.Millisecond
	return opts
}

func TestReindex_SwitchesDimension(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for _, c := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		ids = append(ids, insert(t, st, c, 50, unit(1)).ID)
	}
	emb := &batchEmbedder{}
	eng := NewEngine(st, emb, reindexOptions(2, 2), quietLogger())

	preview, err := eng.Reindex(ctx, true)
	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	assert.Equal(t, 5, preview.Changed)
	assert.Equal(t, 2, preview.FromDimension)
	assert.Equal(t, 3, preview.ToDimension)
	assert.Zero(t, emb.calls, "a dry run never calls the provider")

	rep, err := eng.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Examined)
	assert.Equal(t, 5, rep.Changed)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 3, emb.calls, "five memories in batches of two")
	assert.Equal(t, 5, emb.texts)

	for _, id := range ids {
		m, err := st.GetMemory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1}, m.Embedding)
	}
	dim, err := st.EmbeddingDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	m := insert(t, st, "zeta", 50, nil)
	m.Embedding = unit(1)
	assert.Error(t, st.UpdateMemory(ctx, m), "the old dimension is rejected after reindex")
}

func TestReindex_RetriesAndReportsFailedBatches(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ok1 := insert(t, st, "alpha", 50, unit(1))
	bad := insert(t, st, "boom", 50, unit(1))
	ok2 := insert(t, st, "gamma", 50, unit(1))

	emb := &batchEmbedder{failFirst: 1}
	eng := NewEngine(st, emb, reindexOptions(1, 1), quietLogger())

	rep, err := eng.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Changed, "a transient failure is retried")
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, bad.ID, rep.Skipped[0].ID)
	assert.Equal(t, 1, rep.Cleared)

	for _, id := range []string{ok1.ID, ok2.ID} {
		m, err := st.GetMemory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, m.Embedding, 3)
	}
	m, err := st.GetMemory(ctx, bad.ID)
	require.NoError(t, err)
	assert.Empty(t, m.Embedding, "no record keeps a vector of the old dimension")
}

func TestReindex_EmptyStore(t *testing.T) {
	st := newTestStore(t)
	rep, err := NewEngine(st, &batchEmbedder{}, reindexOptions(8, 2), quietLogger()).Reindex(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, rep.Examined)
	assert.Zero(t, rep.Changed)
}
