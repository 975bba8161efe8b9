// Package syncer reconciles the local store with the team knowledge base.
//
// Push sends promoted records, pull imports remote changes, and a record changed on
// both sides since its last successful sync becomes a conflict that only an explicit
// Resolve clears. Remote calls happen outside the maintenance lock; each local commit
// re-reads the record under the lock and is guarded by its version.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// CursorKey is the brain_meta key holding the pull cursor timestamp.
const CursorKey = "sync_cursor"

// CursorIDsKey holds the ids of the nodes already applied at the cursor timestamp.
const CursorIDsKey = "sync_cursor_ids"

// Remote is the subset of the knowledge-base client the engine needs.
type Remote interface {
	CreateNode(ctx context.Context, n remote.Node) (*remote.Node, error)
	GetNode(ctx context.Context, id string) (*remote.Node, error)
	UpdateNode(ctx context.Context, id string, n remote.Node) (*remote.Node, error)
	ListUpdated(ctx context.Context, since time.Time, limit int) ([]remote.Node, error)
	CreateEdge(ctx context.Context, e remote.Edge) (string, error)
}

// Options holds the sync policy.
type Options struct {
	PushVisibilities  []models.Visibility
	PushTag           string
	DefaultVisibility models.Visibility
	MaxAttempts       int
	RetryAttempts     uint64
	RetryBase         time.Duration
	RetryMax          time.Duration
	PullLimit         int
}

// DefaultOptions returns the stock sync policy.
func DefaultOptions() Options {
	return Options{
		PushVisibilities:  []models.Visibility{models.VisibilityPublic, models.VisibilityRestricted},
		PushTag:           "michel-brain",
		DefaultVisibility: models.VisibilityRestricted,
		MaxAttempts:       5,
		RetryAttempts:     3,
		RetryBase:         500 * time.Millisecond,
		RetryMax:          10 * time.Second,
		PullLimit:         100,
	}
}

// Direction selects what Sync does.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
	DirectionBoth Direction = "both"
)

// IsValid returns true if the direction is recognized.
func (d Direction) IsValid() bool {
	return d == DirectionPush || d == DirectionPull || d == DirectionBoth
}

// Failure is a record the engine could not process, with the reason.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Skip reasons.
const (
	ReasonModified = "modified concurrently"
	ReasonDeleted  = "deleted locally"
)

// PushReport summarizes a push.
type PushReport struct {
	Candidates  int       `json:"candidates"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Conflicts   int       `json:"conflicts"`
	Rejected    int       `json:"rejected"`
	Failed      int       `json:"failed"`
	MarkedStale int       `json:"marked_stale"`
	LinksPushed int       `json:"links_pushed"`
	LinksFailed int       `json:"links_failed"`
	Skipped     []Failure `json:"skipped,omitempty"`
	Errors      []Failure `json:"errors,omitempty"`
	Stopped     bool      `json:"stopped,omitempty"`
}

// PullReport summarizes a pull.
type PullReport struct {
	Fetched   int       `json:"fetched"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Conflicts int       `json:"conflicts"`
	Unchanged int       `json:"unchanged"`
	Skipped   []Failure `json:"skipped,omitempty"`
	Errors    []Failure `json:"errors,omitempty"`
	Cursor    string    `json:"cursor,omitempty"`
	Stopped   bool      `json:"stopped,omitempty"`
}

// Report is the result of Sync.
type Report struct {
	Direction Direction     `json:"direction"`
	Push      *PushReport   `json:"push,omitempty"`
	Pull      *PullReport   `json:"pull,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Engine runs push, pull and conflict resolution.
type Engine struct {
	store    store.Store
	remote   Remote
	embedder embedder.Embedder
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(st store.Store, rc Remote, emb embedder.Embedder, opts Options, logger *slog.Logger) *Engine {
	if opts.DefaultVisibility == "" {
		opts.DefaultVisibility = models.VisibilityRestricted
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = opts.RetryBase
	}
	return &Engine{store: st, remote: rc, embedder: emb, opts: opts, logger: logger, now: time.Now}
}

// Sync runs the requested direction. Both means push then pull.
func (e *Engine) Sync(ctx context.Context, dir Direction) (*Report, error) {
	if dir == "" {
		dir = DirectionBoth
	}
	if !dir.IsValid() {
		return nil, models.Invalid("direction", "must be push, pull or both, got %q", dir)
	}
	start := time.Now()
	rep := &Report{Direction: dir}
	if dir == DirectionPush || dir == DirectionBoth {
		pr, err := e.Push(ctx)
		rep.Push = pr
		if err != nil {
			return rep, err
		}
		if pr.Stopped {
			rep.Duration = time.Since(start)
			return rep, nil
		}
	}
	if dir == DirectionPull || dir == DirectionBoth {
		pr, err := e.Pull(ctx)
		rep.Pull = pr
		if err != nil {
			return rep, err
		}
	}
	rep.Duration = time.Since(start)
	return rep, nil
}

// withRetry calls fn with bounded exponential backoff, retrying only transient remote failures.
func (e *Engine) withRetry(ctx context.Context, fn func(context.Context) error) error {
	b := retry.NewExponential(e.opts.RetryBase)
	b = retry.WithCappedDuration(e.opts.RetryMax, b)
	b = retry.WithMaxRetries(e.opts.RetryAttempts, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, models.ErrRemoteUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (e *Engine) lock(ctx context.Context, op string) (func(), error) {
	unlock, err := e.store.Lock(ctx, store.HolderID("sync-"+op))
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", op, err)
	}
	return unlock, nil
}

func (e *Engine) logEvent(ctx context.Context, entry models.SyncLogEntry) {
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		e.logger.Warn("writing sync log", "action", entry.Action, "id", entry.MemoryID, "error", err)
	}
}

// payload builds the remote node for a local memory.
func (e *Engine) payload(m *models.Memory) remote.Node {
	tags := slices.Clone(m.Tags)
	if e.opts.PushTag != "" && !slices.Contains(tags, e.opts.PushTag) {
		tags = append(tags, e.opts.PushTag)
	}
	return remote.Node{
		Type:       remote.NodeType(m.Type),
		Title:      m.Title,
		Content:    m.Content,
		Visibility: string(m.Visibility),
		Tags:       tags,
	}
}

// applyRemote overwrites the pushed fields of m with the node's and records the node as
// the new sync baseline. The local type is kept when it maps to the node's type, so
// types that share a remote type (memory and conversation) survive a round trip.
func (e *Engine) applyRemote(m *models.Memory, n *remote.Node, vec []float32, now time.Time) {
	m.Title = n.Title
	m.Content = n.Content
	if m.Type == "" || !strings.EqualFold(remote.NodeType(m.Type), n.Type) {
		m.Type = remote.MemoryType(n.Type)
	}
	m.Tags = e.localTags(n.Tags)
	m.Visibility = e.visibility(n.Visibility)
	m.Embedding = vec
	m.UpdatedAt = now
	m.ContentChangedAt = now
	e.markSynced(m, n, now)
}

func (e *Engine) markSynced(m *models.Memory, n *remote.Node, now time.Time) {
	m.RemoteID = n.ID
	if !n.UpdatedAt.IsZero() {
		ts := n.UpdatedAt.UTC()
		m.RemoteUpdatedAt = &ts
	}
	m.SyncedAt = &now
	m.SyncError = ""
	m.SyncAttempts = 0
	m.SyncStale = false
}

func (e *Engine) localTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || t == e.opts.PushTag || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (e *Engine) visibility(v string) models.Visibility {
	vis := models.Visibility(v)
	if vis.IsValid() {
		return vis
	}
	return e.opts.DefaultVisibility
}

func (e *Engine) pushable(m *models.Memory) bool {
	if len(e.opts.PushVisibilities) == 0 {
		return true
	}
	return slices.Contains(e.opts.PushVisibilities, m.Visibility)
}

func stopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
