package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Notify(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsJobsUntilCancelled(t *testing.T) {
	var syncRuns, backupRuns atomic.Int32
	rec := &recorder{}
	s := New(rec, quietLogger(),
		Job{Name: "sync", Interval: 5 * time.Millisecond, Fn: func(context.Context) (string, error) {
			syncRuns.Add(1)
			return "pushed 0", nil
		}},
		Job{Name: "backup", Interval: time.Hour, RunAtStart: true, Fn: func(context.Context) (string, error) {
			backupRuns.Add(1)
			return "", errors.New("disk full")
		}},
		Job{Name: "maintenance", Interval: 0, Fn: func(context.Context) (string, error) {
			t.Error("disabled job ran")
			return "", nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return syncRuns.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.Equal(t, int32(1), backupRuns.Load())
	var sawFailure, sawSync bool
	for _, m := range rec.messages() {
		switch {
		case strings.HasPrefix(m, "brain backup failed"):
			sawFailure = true
			assert.Contains(t, m, "disk full")
		case strings.HasPrefix(m, "brain sync done"):
			sawSync = true
			assert.Contains(t, m, "pushed 0")
		default:
			t.Errorf("unexpected notification %q", m)
		}
	}
	assert.True(t, sawFailure)
	assert.True(t, sawSync)
}

func TestRunOnceSkipsNotifyWhenInterrupted(t *testing.T) {
	rec := &recorder{}
	s := New(rec, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.RunOnce(ctx, Job{Name: "sync", Fn: func(ctx context.Context) (string, error) { return "", ctx.Err() }})
	assert.Empty(t, rec.messages())
}

func TestNewDefaultsToNop(t *testing.T) {
	s := New(nil, quietLogger())
	s.RunOnce(context.Background(), Job{Name: "noop", Fn: func(context.Context) (string, error) { return "ok", nil }})
}
