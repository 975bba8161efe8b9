package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ApplyMerge folds plan.Merged into plan.Survivor atomically. Every record must still be at
// the version it was read at, otherwise nothing is written and ErrStale is returned.
// Links and entity associations of merged records move to the survivor; links that would
// become self-links or duplicates are dropped. Access statistics are summed from the rows
// as stored, not from the plan.
func (s *SQLiteStore) ApplyMerge(ctx context.Context, plan MergePlan) error {
	if len(plan.Merged) == 0 {
		return nil
	}
	surv := plan.Survivor
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkEmbedding(ctx, tx, surv.Embedding); err != nil {
			return err
		}
		ok, err := updateMemory(ctx, tx, &surv)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStale
		}

		ids := make([]string, 0, len(plan.Merged))
		for i := range plan.Merged {
			m := &plan.Merged[i]
			res, err := tx.ExecContext(ctx, `UPDATE memories
				SET deleted_at = ?, delete_reason = ?, merged_into = ?, version = version + 1
				WHERE id = ? AND version = ? AND deleted_at IS NULL`,
				formatTime(now), plan.Reason, surv.ID, m.ID, m.Version)
			if err != nil {
				return fmt.Errorf("store: tombstoning merged %s: %w", m.ID, err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return ErrStale
			}
			if _, err := tx.ExecContext(ctx, `UPDATE memories SET
					access_count = access_count + (SELECT access_count FROM memories WHERE id = ?),
					last_accessed_at = max(last_accessed_at, (SELECT last_accessed_at FROM memories WHERE id = ?))
				WHERE id = ?`, m.ID, m.ID, surv.ID); err != nil {
				return fmt.Errorf("store: folding access of %s: %w", m.ID, err)
			}
			if err := repoint(ctx, tx, m.ID, surv.ID); err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO sync_log (memory_id, action, status, remote_id, details, timestamp)
			VALUES (?, 'merge', 'ok', ?, ?, ?)`,
			surv.ID, nullString(surv.RemoteID),
			fmt.Sprintf("%s: merged %s", plan.Reason, strings.Join(ids, ",")), formatTime(now))
		if err != nil {
			return fmt.Errorf("store: logging merge: %w", err)
		}
		return nil
	})
}

// repoint moves links and entity associations from one memory to another.
func repoint(ctx context.Context, tx *sql.Tx, from, to string) error {
	stmts := []struct {
		q    string
		args []any
	}{
		{`UPDATE OR IGNORE links SET from_id = ? WHERE from_id = ? AND to_id <> ?`, []any{to, from, to}},
		{`UPDATE OR IGNORE links SET to_id = ? WHERE to_id = ? AND from_id <> ?`, []any{to, from, to}},
		{`DELETE FROM links WHERE from_id = ? OR to_id = ?`, []any{from, from}},
		{`INSERT OR IGNORE INTO entity_memories (entity_id, memory_id, created_at)
			SELECT entity_id, ?, created_at FROM entity_memories WHERE memory_id = ?`, []any{to, from}},
		{`DELETE FROM entity_memories WHERE memory_id = ?`, []any{from}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
			return fmt.Errorf("store: repointing %s to %s: %w", from, to, err)
		}
	}
	return nil
}

// ApplyDecay lowers the importance of id when it is still at version and has not been
// accessed since cutoff. It reports whether the row changed.
func (s *SQLiteStore) ApplyDecay(ctx context.Context, id string, version int64, cutoff time.Time, importance int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE memories
		SET importance = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL
		  AND last_accessed_at < ? AND importance > ?`,
		importance, formatTime(time.Now()), id, version, formatTime(cutoff), importance)
	if err != nil {
		return false, fmt.Errorf("store: decaying %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: decaying %s: %w", id, err)
	}
	return n == 1, nil
}
