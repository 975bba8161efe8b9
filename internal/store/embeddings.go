package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// EmbeddingDimKey is the brain_meta key recording the embedding dimension set by the
// last reindex. Without it the dimension of the stored embeddings is used.
const EmbeddingDimKey = "embedding_dim"

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EmbeddingUpdate is a recomputed embedding for a memory read at Version.
type EmbeddingUpdate struct {
	ID      string
	Version int64
	Vector  []float32
}

// ReindexResult reports what ReplaceEmbeddings wrote.
type ReindexResult struct {
	Updated []string `json:"updated"`
	// Stale lists updates whose memory changed or was forgotten after it was read.
	Stale []string `json:"stale,omitempty"`
	// Cleared counts embeddings dropped because their dimension no longer matches.
	Cleared int `json:"cleared"`
}

// EmbeddingDimension returns the dimension every stored embedding has, or 0 when the
// store holds none yet.
func (s *SQLiteStore) EmbeddingDimension(ctx context.Context) (int, error) {
	return embeddingDimension(ctx, s.db)
}

func embeddingDimension(ctx context.Context, q querier) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM brain_meta WHERE key = ?`, EmbeddingDimKey).Scan(&raw)
	switch {
	case err == nil:
		dim, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("store: bad %s %q: %w", EmbeddingDimKey, raw, err)
		}
		return dim, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("store: reading %s: %w", EmbeddingDimKey, err)
	}

	var dim int
	err = q.QueryRowContext(ctx, `SELECT embedding_dim FROM memories WHERE embedding_dim > 0 LIMIT 1`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: detecting embedding dimension: %w", err)
	}
	return dim, nil
}

// checkEmbedding rejects a vector whose length differs from the store's dimension.
func checkEmbedding(ctx context.Context, q querier, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	dim, err := embeddingDimension(ctx, q)
	if err != nil {
		return err
	}
	if dim > 0 && len(vec) != dim {
		return models.Invalid("embedding", "dimension %d does not match the store's %d; run reindex after changing the embedding model", len(vec), dim)
	}
	return nil
}

// ReplaceEmbeddings writes recomputed embeddings in one transaction and makes dim the
// store's embedding dimension. An update whose memory moved past its Version is skipped.
// Any row still holding an embedding of another dimension afterwards has it cleared, so
// the store never mixes dimensions.
func (s *SQLiteStore) ReplaceEmbeddings(ctx context.Context, dim int, updates []EmbeddingUpdate) (*ReindexResult, error) {
	if dim <= 0 {
		return nil, models.Invalid("dimension", "must be positive, got %d", dim)
	}
	res := &ReindexResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if len(u.Vector) != dim {
				return models.Invalid("embedding", "memory %s: dimension %d, want %d", u.ID, len(u.Vector), dim)
			}
			r, err := tx.ExecContext(ctx, `UPDATE memories SET embedding = ?, embedding_dim = ?, version = version + 1
				WHERE id = ? AND version = ? AND deleted_at IS NULL`, encodeVector(u.Vector), dim, u.ID, u.Version)
			if err != nil {
				return fmt.Errorf("store: reindexing %s: %w", u.ID, err)
			}
			if n, _ := r.RowsAffected(); n == 1 {
				res.Updated = append(res.Updated, u.ID)
			} else {
				res.Stale = append(res.Stale, u.ID)
			}
		}

		r, err := tx.ExecContext(ctx, `UPDATE memories SET embedding = NULL, embedding_dim = 0, version = version + 1
			WHERE embedding_dim > 0 AND embedding_dim <> ?`, dim)
		if err != nil {
			return fmt.Errorf("store: clearing mismatched embeddings: %w", err)
		}
		n, _ := r.RowsAffected()
		res.Cleared = int(n)

		_, err = tx.ExecContext(ctx, `INSERT INTO brain_meta (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			EmbeddingDimKey, strconv.Itoa(dim), formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("store: writing %s: %w", EmbeddingDimKey, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
