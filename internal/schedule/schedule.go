// Package schedule runs the brain's periodic jobs (sync, maintenance, backup) until the
// context is cancelled, and reports each run through a notifier.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/openclaw-brain/internal/notify"
)

// Job is one periodic task. Fn returns a one-line summary of what it did.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Fn         func(ctx context.Context) (string, error)
}

// Scheduler runs each job on its own ticker. Runs of the same job never overlap;
// different jobs coordinate through the store's maintenance lock.
type Scheduler struct {
	jobs     []Job
	notifier notify.Notifier
	logger   *slog.Logger
}

// New creates a Scheduler. Jobs with a non-positive interval are disabled.
func New(notifier notify.Notifier, logger *slog.Logger, jobs ...Job) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{jobs: jobs, notifier: notifier, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	enabled := 0
	for _, j := range s.jobs {
		if j.Interval <= 0 {
			s.logger.Info("job disabled", "job", j.Name)
			continue
		}
		enabled++
		g.Go(func() error {
			s.loop(gctx, j)
			return nil
		})
	}
	s.logger.Info("scheduler started", "jobs", enabled)
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	if j.RunAtStart {
		s.RunOnce(ctx, j)
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, j)
		}
	}
}

// RunOnce runs j, logs the outcome and sends it to the notifier. A run interrupted by
// cancellation is logged but not notified.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) {
	start := time.Now()
	summary, err := j.Fn(ctx)
	took := time.Since(start).Round(time.Millisecond)
	switch {
	case err != nil && ctx.Err() != nil:
		s.logger.Info("job interrupted", "job", j.Name, "duration", took)
	case err != nil:
		s.logger.Error("job failed", "job", j.Name, "duration", took, "error", err)
		s.notifier.Notify(context.WithoutCancel(ctx), fmt.Sprintf("brain %s failed after %s: %v", j.Name, took, err))
	default:
		s.logger.Info("job complete", "job", j.Name, "duration", took, "summary", summary)
		s.notifier.Notify(ctx, fmt.Sprintf("brain %s done in %s: %s", j.Name, took, summary))
	}
}
