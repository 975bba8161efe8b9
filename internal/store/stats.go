package store

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// Stats computes store-wide counters. The independent aggregate queries run concurrently.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{ByType: make(map[string]int64)}
	for _, mt := range models.ValidMemoryTypes {
		stats.ByType[string(mt)] = 0
	}

	var (
		withEmbedding int64
		byType        = make(map[string]int64)
		avg           sql.NullFloat64
	)

	counts := []struct {
		dst *int64
		q   string
	}{
		{&stats.TotalMemories, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL`},
		{&stats.PendingSync, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL AND sync_state = 'pending_push'`},
		{&stats.Synced, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL AND sync_state = 'synced'`},
		{&stats.Conflicts, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL AND sync_state = 'conflict'`},
		{&stats.Stale, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL AND sync_stale = 1`},
		{&stats.TombstoneCount, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NOT NULL`},
		{&stats.Links, `SELECT COUNT(*) FROM links`},
		{&stats.Entities, `SELECT COUNT(*) FROM entities`},
		{&withEmbedding, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL AND embedding_dim > 0`},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range counts {
		g.Go(func() error {
			if err := s.db.QueryRowContext(gctx, c.q).Scan(c.dst); err != nil {
				return fmt.Errorf("store: stats query %q: %w", c.q, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return s.db.QueryRowContext(gctx,
			`SELECT AVG(importance) FROM memories WHERE deleted_at IS NULL`).Scan(&avg)
	})
	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx,
			`SELECT type, COUNT(*) FROM memories WHERE deleted_at IS NULL GROUP BY type`)
		if err != nil {
			return fmt.Errorf("store: counting by type: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				t string
				n int64
			)
			if err := rows.Scan(&t, &n); err != nil {
				return err
			}
			byType[t] = n
		}
		return rows.Err()
	})
	g.Go(func() error {
		recent, err := s.RecentSyncLog(gctx, 5)
		stats.RecentSync = recent
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}

	for t, n := range byType {
		stats.ByType[t] = n
	}
	stats.AverageImportance = avg.Float64
	if stats.TotalMemories > 0 {
		stats.EmbeddingCoverage = float64(withEmbedding) / float64(stats.TotalMemories)
	}
	return stats, nil
}
