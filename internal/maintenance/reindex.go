package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// ReindexReport summarizes a Reindex pass.
type ReindexReport struct {
	PassReport
	FromDimension int `json:"from_dimension"`
	ToDimension   int `json:"to_dimension"`
	Failed        int `json:"failed"`
	Cleared       int `json:"cleared,omitempty"`
}

// Reindex recomputes the embedding of every live memory with the current embedder, for
// use after the embedding provider or model changed. Memories are embedded in batches
// by a small worker pool outside the lock, then written in one transaction under it.
// A memory edited meanwhile keeps the embedding its edit produced; a memory whose batch
// failed is reported and, when the dimension changed, left without an embedding until
// the next reindex.
func (e *Engine) Reindex(ctx context.Context, dryRun bool) (*ReindexReport, error) {
	rep := &ReindexReport{PassReport: PassReport{Pass: "reindex", DryRun: dryRun}}

	unlock, err := e.lock(ctx, "reindex")
	if err != nil {
		return nil, err
	}
	mems, err := e.store.ListMemories(ctx, store.ListFilter{})
	if err == nil {
		rep.FromDimension, err = e.store.EmbeddingDimension(ctx)
	}
	unlock()
	if err != nil {
		return nil, err
	}
	rep.Examined = len(mems)
	rep.ToDimension = e.embedder.Dimension()

	if dryRun || len(mems) == 0 {
		rep.Changed = len(mems)
		if dryRun {
			e.logger.Info("reindex: would re-embed", "memories", len(mems),
				"from_dimension", rep.FromDimension, "to_dimension", rep.ToDimension)
		}
		return rep, nil
	}

	batch := max(e.opts.ReindexBatch, 1)
	vecs := make([][]float32, len(mems))
	failed := make([]error, len(mems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.opts.ReindexWorkers, 1))
	for start := 0; start < len(mems); start += batch {
		end := min(start+batch, len(mems))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for i := start; i < end; i++ {
				texts = append(texts, mems[i].EmbeddingText())
			}
			out, err := e.embedBatch(gctx, texts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("reindex: batch failed", "from", start, "to", end, "error", err)
				for i := start; i < end; i++ {
					failed[i] = err
				}
				return nil
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			rep.Stopped = true
			return rep, nil
		}
		return nil, err
	}

	var updates []store.EmbeddingUpdate
	for i := range mems {
		if failed[i] != nil {
			rep.Failed++
			rep.skip(mems[i].ID, failed[i].Error())
			continue
		}
		if rep.ToDimension <= 0 {
			rep.ToDimension = len(vecs[i])
		}
		if len(vecs[i]) != rep.ToDimension {
			rep.Failed++
			rep.skip(mems[i].ID, fmt.Sprintf("embedding dimension %d, want %d", len(vecs[i]), rep.ToDimension))
			continue
		}
		updates = append(updates, store.EmbeddingUpdate{ID: mems[i].ID, Version: mems[i].Version, Vector: vecs[i]})
	}
	if len(updates) == 0 {
		e.logger.Warn("reindex: nothing to write", "examined", rep.Examined, "failed", rep.Failed)
		return rep, nil
	}

	unlock, err = e.lock(ctx, "reindex")
	if err != nil {
		if ctx.Err() != nil {
			rep.Stopped = true
			return rep, nil
		}
		return nil, err
	}
	defer unlock()
	res, err := e.store.ReplaceEmbeddings(context.WithoutCancel(ctx), rep.ToDimension, updates)
	if err != nil {
		return nil, err
	}
	rep.Changed = len(res.Updated)
	rep.Cleared = res.Cleared
	for _, id := range res.Stale {
		rep.skip(id, ReasonModified)
	}
	e.logger.Info("reindex complete", "examined", rep.Examined, "reindexed", rep.Changed,
		"failed", rep.Failed, "stale", len(res.Stale), "cleared", rep.Cleared,
		"from_dimension", rep.FromDimension, "to_dimension", rep.ToDimension)
	return rep, nil
}

// embedBatch embeds texts, retrying transient failures with exponential backoff.
func (e *Engine) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b := retry.NewExponential(max(e.opts.RetryBase, time.Millisecond))
	b = retry.WithMaxRetries(e.opts.RetryAttempts, b)
	var out [][]float32
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		vecs, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
