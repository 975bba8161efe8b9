// Package maintenance runs the batch passes that keep the brain healthy: importance
// decay, duplicate merging, consolidation of related notes, storage optimization and
// re-embedding after an embedding model change.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// Options holds the maintenance policy.
type Options struct {
	DecayAfter           time.Duration
	DecayRate            int
	DecayFloor           int
	DuplicateThreshold   float64
	ConsolidateThreshold float64
	PromotionThreshold   int
	ReindexBatch         int
	ReindexWorkers       int
	// RetryAttempts and RetryBase bound the backoff around reindex embedding calls.
	RetryAttempts uint64
	RetryBase     time.Duration
}

// DefaultOptions returns the stock policy.
func DefaultOptions() Options {
	return Options{
		DecayAfter:           30 * 24 * time.Hour,
		DecayRate:            5,
		DecayFloor:           0,
		DuplicateThreshold:   0.95,
		ConsolidateThreshold: 0.85,
		PromotionThreshold:   70,
		ReindexBatch:         32,
		ReindexWorkers:       4,
		RetryAttempts:        3,
		RetryBase:            500 * time.Millisecond,
	}
}

// Skip records a record or group a pass left untouched, with the reason.
type Skip struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Skip reasons shared by the passes.
const (
	ReasonModified = "modified concurrently"
	ReasonDeleted  = "deleted concurrently"
)

// PassReport summarizes one pass.
type PassReport struct {
	Pass     string `json:"pass"`
	Examined int    `json:"examined"`
	Changed  int    `json:"changed"`
	Groups   int    `json:"groups,omitempty"`
	Merged   int    `json:"merged,omitempty"`
	Skipped  []Skip `json:"skipped,omitempty"`
	Stopped  bool   `json:"stopped,omitempty"`
	DryRun   bool   `json:"dry_run"`
}

func (r *PassReport) skip(id, reason string) {
	r.Skipped = append(r.Skipped, Skip{ID: id, Reason: reason})
}

// Report summarizes a full maintenance run.
type Report struct {
	Duplicates    *PassReport           `json:"duplicates,omitempty"`
	Consolidation *PassReport           `json:"consolidation,omitempty"`
	Decay         *PassReport           `json:"decay,omitempty"`
	Optimize      *store.OptimizeReport `json:"optimize,omitempty"`
	Errors        []string              `json:"errors,omitempty"`
	Stopped       bool                  `json:"stopped,omitempty"`
	Duration      time.Duration         `json:"duration"`
}

// Engine runs maintenance passes. Passes take the store's maintenance lock only around
// local reads and writes, never while embedding.
type Engine struct {
	store    store.Store
	embedder embedder.Embedder
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(st store.Store, emb embedder.Embedder, opts Options, logger *slog.Logger) *Engine {
	return &Engine{store: st, embedder: emb, opts: opts, logger: logger}
}

// Run executes duplicate merging, consolidation, decay and optimization in that order.
// A failing pass is reported and the run continues; cancellation stops between passes.
func (e *Engine) Run(ctx context.Context, dryRun bool) (*Report, error) {
	start := time.Now()
	rep := &Report{}

	steps := []struct {
		name string
		run  func() error
	}{
		{"duplicates", func() (err error) { rep.Duplicates, err = e.MergeDuplicates(ctx, dryRun); return }},
		{"consolidation", func() (err error) { rep.Consolidation, err = e.Consolidate(ctx, dryRun); return }},
		{"decay", func() (err error) { rep.Decay, err = e.Decay(ctx, dryRun); return }},
		{"optimize", func() (err error) {
			if dryRun {
				return nil
			}
			rep.Optimize, err = e.Optimize(ctx)
			return
		}},
	}
	for _, st := range steps {
		if ctx.Err() != nil {
			rep.Stopped = true
			break
		}
		if err := st.run(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rep.Stopped = true
				break
			}
			e.logger.Error("maintenance pass failed", "pass", st.name, "error", err)
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", st.name, err))
		}
	}
	rep.Duration = time.Since(start)
	e.logger.Info("maintenance run complete", "duration", rep.Duration, "stopped", rep.Stopped, "errors", len(rep.Errors))
	return rep, nil
}

// Optimize compacts storage and rebuilds indexes under the maintenance lock.
func (e *Engine) Optimize(ctx context.Context) (*store.OptimizeReport, error) {
	unlock, err := e.store.Lock(ctx, store.HolderID("optimize"))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.store.Optimize(context.WithoutCancel(ctx))
}

func (e *Engine) lock(ctx context.Context, pass string) (func(), error) {
	unlock, err := e.store.Lock(ctx, store.HolderID(pass))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pass, err)
	}
	return unlock, nil
}
