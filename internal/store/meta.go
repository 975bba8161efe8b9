package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// AppendSyncLog records a sync or audit event. A zero Timestamp means now.
func (s *SQLiteStore) AppendSyncLog(ctx context.Context, e models.SyncLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_log (memory_id, action, status, remote_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(e.MemoryID), e.Action, e.Status, nullString(e.RemoteID), e.Details, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("store: appending sync log: %w", err)
	}
	return nil
}

// RecentSyncLog returns the newest n entries, newest first.
func (s *SQLiteStore) RecentSyncLog(ctx context.Context, n int) ([]models.SyncLogEntry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, memory_id, action, status, remote_id, details, timestamp
		FROM sync_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: reading sync log: %w", err)
	}
	defer rows.Close()

	var out []models.SyncLogEntry
	for rows.Next() {
		var (
			e           models.SyncLogEntry
			mem, remote sql.NullString
			ts          string
		)
		if err := rows.Scan(&e.ID, &mem, &e.Action, &e.Status, &remote, &e.Details, &ts); err != nil {
			return nil, fmt.Errorf("store: scanning sync log: %w", err)
		}
		e.MemoryID = mem.String
		e.RemoteID = remote.String
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetMeta returns the value stored under key, or "".
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM brain_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: reading meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta upserts key.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO brain_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: writing meta %s: %w", key, err)
	}
	return nil
}
