package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// InsertMemory persists a new memory with version 1.
func (s *SQLiteStore) InsertMemory(ctx context.Context, m *models.Memory) error {
	if m.ID == "" {
		return models.Invalid("id", "must be set")
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if err := checkEmbedding(ctx, s.db, m.Embedding); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories (`+memoryColumns+`, embedding_dim)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Content, string(m.Type), m.Importance, encodeTags(m.Tags), string(m.Visibility),
		encodeVector(m.Embedding),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTime(m.LastAccessedAt), m.AccessCount, m.Version,
		string(m.SyncState), nullString(m.RemoteID), nullTime(m.RemoteUpdatedAt), nullTime(m.SyncedAt),
		formatTime(m.ContentChangedAt),
		m.SyncError, m.SyncAttempts, boolInt(m.SyncStale), nullTime(m.DeletedAt), m.DeleteReason,
		nullString(m.MergedInto),
		len(m.Embedding),
	)
	if err != nil {
		return fmt.Errorf("store: inserting memory %s: %w", m.ID, err)
	}
	return nil
}

// GetMemory returns a live memory by id.
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	m, err := s.LookupMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Tombstoned() {
		return nil, notFound(id)
	}
	return m, nil
}

// LookupMemory returns a memory by id whether or not it is tombstoned.
func (s *SQLiteStore) LookupMemory(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: getting memory %s: %w", id, err)
	}
	return m, nil
}

// FindByRemoteID returns the memory mirrored by remoteID.
func (s *SQLiteStore) FindByRemoteID(ctx context.Context, remoteID string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE remote_id = ?`, remoteID)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "remote node", ID: remoteID}
	}
	if err != nil {
		return nil, fmt.Errorf("store: finding remote %s: %w", remoteID, err)
	}
	return m, nil
}

// UpdateMemory writes every mutable field of m guarded by its version.
// On success m.Version holds the new version. An embedding of the wrong dimension is
// rejected with a validation error.
func (s *SQLiteStore) UpdateMemory(ctx context.Context, m *models.Memory) error {
	if err := checkEmbedding(ctx, s.db, m.Embedding); err != nil {
		return err
	}
	ok, err := updateMemory(ctx, s.db, m)
	if err != nil {
		return err
	}
	if !ok {
		return s.missOrStale(ctx, m.ID)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// updateMemory performs the guarded write and reports whether a row matched.
// Access statistics are owned by TouchAccess and never written from a snapshot, since
// reads do not bump the version and a stale count would pass the version check.
func updateMemory(ctx context.Context, db execer, m *models.Memory) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE memories SET
			title = ?, content = ?, type = ?, importance = ?, tags = ?, visibility = ?,
			embedding = ?, embedding_dim = ?, updated_at = ?,
			sync_state = ?, remote_id = ?, remote_updated_at = ?, synced_at = ?, content_changed_at = ?,
			sync_error = ?, sync_attempts = ?, sync_stale = ?,
			version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		m.Title, m.Content, string(m.Type), m.Importance, encodeTags(m.Tags), string(m.Visibility),
		encodeVector(m.Embedding), len(m.Embedding), formatTime(m.UpdatedAt),
		string(m.SyncState), nullString(m.RemoteID), nullTime(m.RemoteUpdatedAt), nullTime(m.SyncedAt),
		formatTime(m.ContentChangedAt),
		m.SyncError, m.SyncAttempts, boolInt(m.SyncStale),
		m.ID, m.Version,
	)
	if err != nil {
		return false, fmt.Errorf("store: updating memory %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: updating memory %s: %w", m.ID, err)
	}
	if n == 0 {
		return false, nil
	}
	m.Version++
	return true, nil
}

// missOrStale classifies a guarded write that matched no row.
func (s *SQLiteStore) missOrStale(ctx context.Context, id string) error {
	var deleted sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT deleted_at FROM memories WHERE id = ?`, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("store: checking memory %s: %w", id, err)
	}
	if deleted.Valid {
		return notFound(id)
	}
	return ErrStale
}

// TouchAccess records a read of the given memories.
func (s *SQLiteStore) TouchAccess(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	now := formatTime(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE memories
				SET last_accessed_at = ?, access_count = access_count + 1
				WHERE id = ? AND deleted_at IS NULL`, now, id); err != nil {
				return fmt.Errorf("store: touching %s: %w", id, err)
			}
		}
		return nil
	})
}

// Tombstone soft-deletes a memory. Links and entity associations are kept for audit.
func (s *SQLiteStore) Tombstone(ctx context.Context, id, reason string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE memories
		SET deleted_at = ?, delete_reason = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`, now, reason, id)
	if err != nil {
		return false, fmt.Errorf("store: tombstoning %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: tombstoning %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.LookupMemory(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListMemories returns memories matching f, oldest first.
func (s *SQLiteStore) ListMemories(ctx context.Context, f ListFilter) ([]models.Memory, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case f.OnlyTombstoned:
		where = append(where, "deleted_at IS NOT NULL")
	case !f.IncludeTombstoned:
		where = append(where, "deleted_at IS NULL")
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.SyncStates) > 0 {
		where = append(where, "sync_state IN ("+placeholders(len(f.SyncStates))+")")
		for _, st := range f.SyncStates {
			args = append(args, string(st))
		}
	}
	if !f.LastAccessedBefore.IsZero() {
		where = append(where, "last_accessed_at < ?")
		args = append(args, formatTime(f.LastAccessedBefore))
	}
	if f.MinImportance != nil {
		where = append(where, "importance >= ?")
		args = append(args, *f.MinImportance)
	}
	if f.ExcludeStale {
		where = append(where, "sync_stale = 0")
	}
	if f.ExcludeSyncErrors {
		where = append(where, "sync_error = ''")
	}

	q := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing memories: %w", err)
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
