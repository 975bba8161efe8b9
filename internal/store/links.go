package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

const linkColumns = `id, from_id, to_id, relation_type, remote_edge_id, created_at`

// NewLinkID returns a fresh link id.
func NewLinkID() string {
	return "link_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// InsertLink creates l, and its reverse when bidirectional, in one transaction.
// Both endpoints must be live. An existing (from, to, relation) tuple yields a ConflictError.
func (s *SQLiteStore) InsertLink(ctx context.Context, l *models.Link, bidirectional bool) error {
	if l.ID == "" {
		l.ID = NewLinkID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{l.FromID, l.ToID} {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM memories WHERE id = ? AND deleted_at IS NULL`, id).Scan(&n); err != nil {
				return fmt.Errorf("store: checking link endpoint %s: %w", id, err)
			}
			if n == 0 {
				return notFound(id)
			}
		}
		if err := insertLinkTx(ctx, tx, l); err != nil {
			return err
		}
		if bidirectional {
			rev := models.Link{
				ID:           NewLinkID(),
				FromID:       l.ToID,
				ToID:         l.FromID,
				RelationType: l.RelationType,
				CreatedAt:    l.CreatedAt,
			}
			if err := insertLinkTx(ctx, tx, &rev); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertLinkTx(ctx context.Context, tx *sql.Tx, l *models.Link) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.FromID, l.ToID, string(l.RelationType), nullString(l.RemoteEdgeID), formatTime(l.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return &models.ConflictError{
				Reason: fmt.Sprintf("link %s -[%s]-> %s already exists", l.FromID, l.RelationType, l.ToID),
			}
		}
		return fmt.Errorf("store: inserting link: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ListLinks returns links touching memoryID, or every link when memoryID is empty.
func (s *SQLiteStore) ListLinks(ctx context.Context, memoryID string) ([]models.Link, error) {
	q := `SELECT ` + linkColumns + ` FROM links`
	var args []any
	if memoryID != "" {
		q += ` WHERE from_id = ? OR to_id = ?`
		args = append(args, memoryID, memoryID)
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing links: %w", err)
	}
	defer rows.Close()

	var out []models.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListUnpushedLinks returns links not yet mirrored whose endpoints are both mirrored.
func (s *SQLiteStore) ListUnpushedLinks(ctx context.Context) ([]UnpushedLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.id, l.from_id, l.to_id, l.relation_type, l.remote_edge_id, l.created_at,
			f.remote_id, t.remote_id
		FROM links l
		JOIN memories f ON f.id = l.from_id
		JOIN memories t ON t.id = l.to_id
		WHERE l.remote_edge_id IS NULL
		  AND f.remote_id IS NOT NULL AND t.remote_id IS NOT NULL
		  AND f.deleted_at IS NULL AND t.deleted_at IS NULL
		ORDER BY l.created_at, l.id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing unpushed links: %w", err)
	}
	defer rows.Close()

	var out []UnpushedLink
	for rows.Next() {
		var (
			u            UnpushedLink
			rel, created string
			edge         sql.NullString
		)
		if err := rows.Scan(&u.Link.ID, &u.Link.FromID, &u.Link.ToID, &rel, &edge, &created,
			&u.FromRemote, &u.ToRemote); err != nil {
			return nil, fmt.Errorf("store: scanning link: %w", err)
		}
		u.Link.RelationType = models.RelationType(rel)
		u.Link.CreatedAt = parseTime(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetLinkRemoteEdge records the remote edge id of a pushed link.
func (s *SQLiteStore) SetLinkRemoteEdge(ctx context.Context, linkID, edgeID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE links SET remote_edge_id = ? WHERE id = ?`, edgeID, linkID)
	if err != nil {
		return fmt.Errorf("store: setting remote edge on %s: %w", linkID, err)
	}
	return nil
}

func scanLink(sc scanner) (models.Link, error) {
	var (
		l            models.Link
		rel, created string
		edge         sql.NullString
	)
	if err := sc.Scan(&l.ID, &l.FromID, &l.ToID, &rel, &edge, &created); err != nil {
		return l, fmt.Errorf("store: scanning link: %w", err)
	}
	l.RelationType = models.RelationType(rel)
	l.RemoteEdgeID = edge.String
	l.CreatedAt = parseTime(created)
	return l, nil
}
