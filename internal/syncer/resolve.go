package syncer

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// Resolve settles a conflicted memory. keep_local adopts the current remote version as
// the baseline and queues the local copy for push; keep_remote overwrites the local copy
// with the remote node. The record must not change between the fetch and the write,
// otherwise store.ErrStale is returned and the caller may retry.
func (e *Engine) Resolve(ctx context.Context, id string, r models.Resolution) (*models.Memory, error) {
	if !r.IsValid() {
		return nil, models.Invalid("resolution", "must be keep_local or keep_remote, got %q", r)
	}
	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SyncState != models.SyncConflict {
		return nil, models.Invalid("id", "memory %s is %s, not in conflict", id, m.SyncState)
	}
	if m.RemoteID == "" {
		return nil, models.Invalid("id", "memory %s has no remote node", id)
	}

	var node *remote.Node
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		n, err := e.remote.GetNode(ctx, m.RemoteID)
		node = n
		return err
	}); err != nil {
		return nil, err
	}
	var vec []float32
	if r == models.ResolveKeepRemote {
		vec, err = e.embedder.Embed(ctx, models.EmbeddingText(node.Title, node.Content))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: embedding remote version: %w", id, err)
		}
	}

	cctx := context.WithoutCancel(ctx)
	unlock, err := e.lock(ctx, "resolve")
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := e.store.GetMemory(cctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Version != m.Version {
		return nil, store.ErrStale
	}

	now := e.now().UTC()
	switch r {
	case models.ResolveKeepLocal:
		if !node.UpdatedAt.IsZero() {
			ts := node.UpdatedAt.UTC()
			cur.RemoteUpdatedAt = &ts
		}
		cur.ContentChangedAt = now
		cur.SyncError = ""
		cur.SyncAttempts = 0
		cur.SyncStale = false
	case models.ResolveKeepRemote:
		e.applyRemote(cur, node, vec, now)
	}
	cur.SyncState = r.AfterResolve()
	if err := e.store.UpdateMemory(cctx, cur); err != nil {
		return nil, err
	}
	e.logEvent(cctx, models.SyncLogEntry{MemoryID: cur.ID, Action: "resolve", Status: string(r), RemoteID: cur.RemoteID})
	e.logger.Info("conflict resolved", "id", cur.ID, "resolution", r)
	return cur, nil
}

// Conflicts lists memories waiting for an explicit resolution.
func (e *Engine) Conflicts(ctx context.Context) ([]models.Memory, error) {
	return e.store.ListMemories(ctx, store.ListFilter{SyncStates: []models.SyncState{models.SyncConflict}})
}
