package syncer

import (
	"context"
	"errors"

	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

type pushOutcome struct {
	node     *remote.Node
	created  bool
	conflict *remote.Node
	err      error
}

// Push sends pending_push records with a pushable visibility to the remote, then the
// links between pushed records. Records flagged stale or carrying a rejection are left
// alone until they are edited or resolved.
func (e *Engine) Push(ctx context.Context) (*PushReport, error) {
	rep := &PushReport{}

	unlock, err := e.lock(ctx, "push")
	if err != nil {
		return nil, err
	}
	mems, err := e.store.ListMemories(ctx, store.ListFilter{
		SyncStates:        []models.SyncState{models.SyncPendingPush},
		ExcludeStale:      true,
		ExcludeSyncErrors: true,
	})
	unlock()
	if err != nil {
		return nil, err
	}

	for i := range mems {
		m := &mems[i]
		if !e.pushable(m) {
			e.logger.Debug("push: visibility not shared", "id", m.ID, "visibility", m.Visibility)
			continue
		}
		rep.Candidates++
		if ctx.Err() != nil {
			rep.Stopped = true
			return rep, nil
		}
		out := e.pushOne(ctx, m)
		if stopped(out.err) {
			rep.Stopped = true
			return rep, nil
		}
		if err := e.commitPush(ctx, m, out, rep); err != nil {
			e.logger.Error("push: recording outcome failed", "id", m.ID, "error", err)
			rep.Errors = append(rep.Errors, Failure{ID: m.ID, Reason: err.Error()})
		}
	}

	if err := e.pushLinks(ctx, rep); err != nil {
		return rep, err
	}
	e.logger.Info("push complete",
		"candidates", rep.Candidates, "created", rep.Created, "updated", rep.Updated,
		"conflicts", rep.Conflicts, "rejected", rep.Rejected, "failed", rep.Failed, "links", rep.LinksPushed)
	return rep, nil
}

// pushOne performs the remote half of a push. An existing node is fetched first and a
// version newer than the recorded baseline is reported as a conflict instead of being
// overwritten.
func (e *Engine) pushOne(ctx context.Context, m *models.Memory) pushOutcome {
	payload := e.payload(m)
	if m.RemoteID == "" {
		var out pushOutcome
		out.created = true
		out.err = e.withRetry(ctx, func(ctx context.Context) error {
			n, err := e.remote.CreateNode(ctx, payload)
			out.node = n
			return err
		})
		return out
	}

	var cur *remote.Node
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		n, err := e.remote.GetNode(ctx, m.RemoteID)
		cur = n
		return err
	}); err != nil {
		return pushOutcome{err: err}
	}
	if m.RemoteUpdatedAt != nil && cur.UpdatedAt.After(*m.RemoteUpdatedAt) {
		return pushOutcome{conflict: cur}
	}

	var out pushOutcome
	out.err = e.withRetry(ctx, func(ctx context.Context) error {
		n, err := e.remote.UpdateNode(ctx, m.RemoteID, payload)
		out.node = n
		return err
	})
	if out.err == nil && out.node.UpdatedAt.IsZero() {
		// Learn the new baseline so the next push does not mistake our own write for a
		// remote edit.
		if n, err := e.remote.GetNode(ctx, m.RemoteID); err == nil {
			out.node.UpdatedAt = n.UpdatedAt
		}
	}
	return out
}

// commitPush records the outcome of pushOne on the current version of the record.
func (e *Engine) commitPush(ctx context.Context, read *models.Memory, out pushOutcome, rep *PushReport) error {
	cctx := context.WithoutCancel(ctx)
	unlock, err := e.lock(cctx, "push")
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := e.store.LookupMemory(cctx, read.ID)
	if err != nil {
		return err
	}
	if cur.Tombstoned() {
		if out.node != nil && out.created {
			e.logger.Warn("push: record deleted while pushing, remote node left in place", "id", cur.ID, "remote_id", out.node.ID)
		}
		rep.Skipped = append(rep.Skipped, Failure{ID: cur.ID, Reason: ReasonDeleted})
		return nil
	}
	now := e.now().UTC()
	modified := cur.Version != read.Version

	switch {
	case out.node != nil && out.err == nil:
		if modified {
			// Keep the remote identity and baseline; the newer local edit goes out next push.
			cur.RemoteID = out.node.ID
			if !out.node.UpdatedAt.IsZero() {
				ts := out.node.UpdatedAt.UTC()
				cur.RemoteUpdatedAt = &ts
			}
			rep.Skipped = append(rep.Skipped, Failure{ID: cur.ID, Reason: ReasonModified})
			return e.store.UpdateMemory(cctx, cur)
		}
		cur.SyncState = cur.SyncState.AfterPush()
		e.markSynced(cur, out.node, now)
		if err := e.store.UpdateMemory(cctx, cur); err != nil {
			return err
		}
		if out.created {
			rep.Created++
		} else {
			rep.Updated++
		}
		metrics.Inc(metrics.PushTotal)
		e.logEvent(cctx, models.SyncLogEntry{MemoryID: cur.ID, Action: "push", Status: "ok", RemoteID: cur.RemoteID})
		e.logger.Debug("pushed memory", "id", cur.ID, "remote_id", cur.RemoteID, "created", out.created)
		return nil

	case modified:
		rep.Skipped = append(rep.Skipped, Failure{ID: cur.ID, Reason: ReasonModified})
		return nil

	case out.conflict != nil:
		cur.SyncState = models.SyncConflict
		if err := e.store.UpdateMemory(cctx, cur); err != nil {
			return err
		}
		rep.Conflicts++
		metrics.Inc(metrics.ConflictsTotal)
		e.logEvent(cctx, models.SyncLogEntry{
			MemoryID: cur.ID, Action: "conflict", Status: "push", RemoteID: cur.RemoteID,
			Details: "remote updated at " + out.conflict.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
		e.logger.Warn("push: remote changed since last sync", "id", cur.ID, "remote_id", cur.RemoteID)
		return nil
	}

	if out.err == nil {
		out.err = &models.RemoteRejectedError{Op: "push", Message: "remote returned no node"}
	}
	metrics.Inc(metrics.PushFailed)
	rep.Errors = append(rep.Errors, Failure{ID: cur.ID, Reason: out.err.Error()})
	if errors.Is(out.err, models.ErrRemoteRejected) {
		var re *models.RemoteRejectedError
		if errors.As(out.err, &re) {
			cur.SyncError = re.Message
		} else {
			cur.SyncError = out.err.Error()
		}
		rep.Rejected++
		e.logger.Warn("push rejected", "id", cur.ID, "error", out.err)
	} else {
		cur.SyncAttempts++
		if cur.SyncAttempts >= e.opts.MaxAttempts {
			cur.SyncStale = true
			rep.MarkedStale++
		}
		rep.Failed++
		e.logger.Warn("push failed", "id", cur.ID, "attempts", cur.SyncAttempts, "stale", cur.SyncStale, "error", out.err)
	}
	if err := e.store.UpdateMemory(cctx, cur); err != nil {
		return err
	}
	e.logEvent(cctx, models.SyncLogEntry{MemoryID: cur.ID, Action: "push", Status: "error", RemoteID: cur.RemoteID, Details: out.err.Error()})
	return nil
}

// pushLinks mirrors links whose endpoints both exist remotely.
func (e *Engine) pushLinks(ctx context.Context, rep *PushReport) error {
	if rep.Stopped || ctx.Err() != nil {
		rep.Stopped = true
		return nil
	}
	unlock, err := e.lock(ctx, "push-links")
	if err != nil {
		if stopped(err) {
			rep.Stopped = true
			return nil
		}
		return err
	}
	links, err := e.store.ListUnpushedLinks(ctx)
	unlock()
	if err != nil {
		return err
	}

	for _, ul := range links {
		if ctx.Err() != nil {
			rep.Stopped = true
			return nil
		}
		edge := remote.Edge{FromID: ul.FromRemote, ToID: ul.ToRemote, Type: string(ul.Link.RelationType)}
		var edgeID string
		err := e.withRetry(ctx, func(ctx context.Context) error {
			id, err := e.remote.CreateEdge(ctx, edge)
			edgeID = id
			return err
		})
		if stopped(err) {
			rep.Stopped = true
			return nil
		}
		if err == nil && edgeID == "" {
			err = &models.RemoteRejectedError{Op: "create edge", Message: "response carries no edge id"}
		}
		if err != nil {
			rep.LinksFailed++
			rep.Errors = append(rep.Errors, Failure{ID: ul.Link.ID, Reason: err.Error()})
			e.logger.Warn("push link failed", "link", ul.Link.ID, "error", err)
			continue
		}

		cctx := context.WithoutCancel(ctx)
		unlock, err := e.lock(cctx, "push-links")
		if err != nil {
			return err
		}
		err = e.store.SetLinkRemoteEdge(cctx, ul.Link.ID, edgeID)
		unlock()
		if err != nil {
			return err
		}
		rep.LinksPushed++
		e.logEvent(cctx, models.SyncLogEntry{MemoryID: ul.Link.FromID, Action: "push_link", Status: "ok", RemoteID: edgeID, Details: ul.Link.ID})
	}
	return nil
}
