package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const backupPrefix = "brain_"

// Optimize vacuums, analyzes and reindexes the database.
func (s *SQLiteStore) Optimize(ctx context.Context) (*OptimizeReport, error) {
	start := time.Now()
	rep := &OptimizeReport{}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&rep.PageSize); err != nil {
		return nil, fmt.Errorf("store: reading page size: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&rep.PagesBefore); err != nil {
		return nil, fmt.Errorf("store: reading page count: %w", err)
	}
	for _, stmt := range []string{`VACUUM`, `ANALYZE`, `REINDEX`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: %s: %w", stmt, err)
		}
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&rep.PagesAfter); err != nil {
		return nil, fmt.Errorf("store: reading page count: %w", err)
	}
	rep.Duration = time.Since(start)
	s.logger.Info("database optimized", "pages_before", rep.PagesBefore, "pages_after", rep.PagesAfter)
	return rep, nil
}

// Backup writes a consistent snapshot named brain_YYYYMMDD_HHMMSS.db into dir and removes
// all but the newest keep snapshots. keep <= 0 disables rotation.
func (s *SQLiteStore) Backup(ctx context.Context, dir string, keep int) (*BackupReport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating backup dir: %w", err)
	}
	base := backupPrefix + time.Now().Format("20060102_150405")
	path := filepath.Join(dir, base+".db")
	for i := 2; fileExists(path); i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.db", base, i))
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("store: writing backup %s: %w", path, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("store: stat backup: %w", err)
	}
	rep := &BackupReport{Path: path, SizeBytes: fi.Size()}

	snaps, err := filepath.Glob(filepath.Join(dir, backupPrefix+"*.db"))
	if err != nil {
		return nil, fmt.Errorf("store: listing backups: %w", err)
	}
	sort.Slice(snaps, func(i, j int) bool {
		fi, ei := os.Stat(snaps[i])
		fj, ej := os.Stat(snaps[j])
		if ei == nil && ej == nil && !fi.ModTime().Equal(fj.ModTime()) {
			return fi.ModTime().Before(fj.ModTime())
		}
		return snaps[i] < snaps[j]
	})
	if keep > 0 && len(snaps) > keep {
		for _, old := range snaps[:len(snaps)-keep] {
			if err := os.Remove(old); err != nil {
				s.logger.Warn("removing old backup", "path", old, "error", err)
				continue
			}
			rep.Removed = append(rep.Removed, old)
		}
	}
	rep.Kept = len(snaps) - len(rep.Removed)
	s.logger.Info("backup written", "path", path, "bytes", rep.SizeBytes, "removed", len(rep.Removed))
	return rep, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
