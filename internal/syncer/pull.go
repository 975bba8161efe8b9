package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

type pullOutcome int

const (
	pulledCreated pullOutcome = iota
	pulledUpdated
	pulledConflict
	pulledUnchanged
	pulledSkipped
)

// maxPullGrowth bounds how far a pull widens its page when a full page holds only nodes
// already applied at the cursor timestamp.
const maxPullGrowth = 16

// Pull imports nodes updated since the stored cursor. Unknown nodes become new synced
// memories; nodes whose local copy was edited since the last sync become conflicts.
//
// The cursor is a timestamp plus the ids already applied at exactly that timestamp. The
// remote is asked for nodes updated at or after the timestamp and the recorded ids are
// skipped, so nodes sharing a timestamp across a page boundary are not lost. The cursor
// only advances over the leading run of nodes processed without error, so a failed node
// is fetched again by the next pull.
func (e *Engine) Pull(ctx context.Context) (*PullReport, error) {
	rep := &PullReport{}

	since, seen, err := e.loadCursor(ctx)
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		rep.Cursor = formatCursor(since)
	}

	var nodes []remote.Node
	limit := e.opts.PullLimit
	for {
		var page []remote.Node
		err = e.withRetry(ctx, func(ctx context.Context) error {
			ns, err := e.remote.ListUpdated(ctx, since, limit)
			page = ns
			return err
		})
		if err != nil {
			if stopped(err) {
				rep.Stopped = true
				return rep, nil
			}
			return rep, err
		}
		nodes = unseen(page, since, seen)
		if len(nodes) > 0 || limit <= 0 || len(page) < limit {
			break
		}
		if limit >= e.opts.PullLimit*maxPullGrowth {
			e.logger.Warn("pull: every node in the page was already applied", "cursor", rep.Cursor, "limit", limit)
			break
		}
		limit *= 2
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].UpdatedAt.Equal(nodes[j].UpdatedAt) {
			return nodes[i].UpdatedAt.Before(nodes[j].UpdatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
	rep.Fetched = len(nodes)
	if len(nodes) == 0 {
		return rep, nil
	}

	// Embed outside the lock. A node whose embedding failed is retried by the next pull.
	vecs := make([][]float32, len(nodes))
	embedErrs := make([]error, len(nodes))
	for i := range nodes {
		if ctx.Err() != nil {
			rep.Stopped = true
			return rep, nil
		}
		vecs[i], embedErrs[i] = e.embedder.Embed(ctx, models.EmbeddingText(nodes[i].Title, nodes[i].Content))
	}

	cursor, cursorIDs := since, seen
	advanced := false
	prefix := true
	for i := range nodes {
		n := &nodes[i]
		if ctx.Err() != nil {
			rep.Stopped = true
			break
		}
		out, err := e.applyNode(ctx, n, vecs[i], embedErrs[i])
		if err != nil {
			e.logger.Warn("pull: node failed", "remote_id", n.ID, "error", err)
			rep.Errors = append(rep.Errors, Failure{ID: n.ID, Reason: err.Error()})
			prefix = false
			continue
		}
		switch out {
		case pulledCreated:
			rep.Created++
		case pulledUpdated:
			rep.Updated++
		case pulledConflict:
			rep.Conflicts++
		case pulledUnchanged:
			rep.Unchanged++
		case pulledSkipped:
			rep.Skipped = append(rep.Skipped, Failure{ID: n.ID, Reason: ReasonDeleted})
		}
		if !prefix {
			continue
		}
		switch {
		case n.UpdatedAt.After(cursor):
			cursor, cursorIDs = n.UpdatedAt, []string{n.ID}
			advanced = true
		case n.UpdatedAt.Equal(cursor):
			cursorIDs = append(cursorIDs, n.ID)
			advanced = true
		}
	}

	if advanced {
		rep.Cursor = formatCursor(cursor)
		if err := e.saveCursor(context.WithoutCancel(ctx), cursor, cursorIDs); err != nil {
			return rep, err
		}
	}
	metrics.Add(metrics.PullTotal, rep.Created+rep.Updated)
	e.logger.Info("pull complete",
		"fetched", rep.Fetched, "created", rep.Created, "updated", rep.Updated,
		"conflicts", rep.Conflicts, "errors", len(rep.Errors), "cursor", rep.Cursor)
	return rep, nil
}

// unseen drops the nodes at the cursor timestamp that an earlier pull already applied.
func unseen(page []remote.Node, since time.Time, seen []string) []remote.Node {
	out := make([]remote.Node, 0, len(page))
	for _, n := range page {
		if n.UpdatedAt.Before(since) {
			continue
		}
		if n.UpdatedAt.Equal(since) && slices.Contains(seen, n.ID) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func formatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (e *Engine) loadCursor(ctx context.Context) (time.Time, []string, error) {
	raw, err := e.store.GetMeta(ctx, CursorKey)
	if err != nil || raw == "" {
		return time.Time{}, nil, err
	}
	since, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("sync pull: bad cursor %q: %w", raw, err)
	}
	rawIDs, err := e.store.GetMeta(ctx, CursorIDsKey)
	if err != nil {
		return time.Time{}, nil, err
	}
	var ids []string
	if rawIDs != "" {
		if err := json.Unmarshal([]byte(rawIDs), &ids); err != nil {
			return time.Time{}, nil, fmt.Errorf("sync pull: bad cursor ids %q: %w", rawIDs, err)
		}
	}
	return since, ids, nil
}

func (e *Engine) saveCursor(ctx context.Context, at time.Time, ids []string) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := e.store.SetMeta(ctx, CursorIDsKey, string(b)); err != nil {
		return err
	}
	return e.store.SetMeta(ctx, CursorKey, formatCursor(at))
}

// applyNode reconciles one remote node with its local copy under the maintenance lock.
func (e *Engine) applyNode(ctx context.Context, n *remote.Node, vec []float32, embedErr error) (pullOutcome, error) {
	if n.ID == "" {
		return 0, errors.New("node without id")
	}
	cctx := context.WithoutCancel(ctx)
	unlock, err := e.lock(cctx, "pull")
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := e.now().UTC()
	m, err := e.store.FindByRemoteID(cctx, n.ID)
	if errors.Is(err, models.ErrNotFound) {
		if embedErr != nil {
			return 0, fmt.Errorf("embedding: %w", embedErr)
		}
		m = &models.Memory{
			ID:             store.NewMemoryID(),
			Importance:     models.DefaultImportance,
			CreatedAt:      now,
			LastAccessedAt: now,
			SyncState:      models.SyncSynced,
		}
		if !n.CreatedAt.IsZero() {
			m.CreatedAt = n.CreatedAt.UTC()
		}
		e.applyRemote(m, n, vec, now)
		if err := e.store.InsertMemory(cctx, m); err != nil {
			return 0, err
		}
		e.logEvent(cctx, models.SyncLogEntry{MemoryID: m.ID, Action: "pull", Status: "created", RemoteID: n.ID})
		return pulledCreated, nil
	}
	if err != nil {
		return 0, err
	}
	if m.Tombstoned() {
		return pulledSkipped, nil
	}
	if m.RemoteUpdatedAt != nil && !n.UpdatedAt.After(*m.RemoteUpdatedAt) {
		return pulledUnchanged, nil
	}

	next := m.SyncState.AfterRemoteChange(m.ModifiedSinceSync())
	if next == models.SyncConflict {
		if m.SyncState == models.SyncConflict {
			return pulledConflict, nil
		}
		m.SyncState = models.SyncConflict
		if err := e.store.UpdateMemory(cctx, m); err != nil {
			return 0, err
		}
		metrics.Inc(metrics.ConflictsTotal)
		e.logEvent(cctx, models.SyncLogEntry{MemoryID: m.ID, Action: "conflict", Status: "pull", RemoteID: n.ID})
		e.logger.Warn("pull: both sides changed", "id", m.ID, "remote_id", n.ID)
		return pulledConflict, nil
	}

	if embedErr != nil {
		return 0, fmt.Errorf("embedding: %w", embedErr)
	}
	e.applyRemote(m, n, vec, now)
	m.SyncState = next
	if err := e.store.UpdateMemory(cctx, m); err != nil {
		return 0, err
	}
	e.logEvent(cctx, models.SyncLogEntry{MemoryID: m.ID, Action: "pull", Status: "updated", RemoteID: n.ID})
	return pulledUpdated, nil
}
