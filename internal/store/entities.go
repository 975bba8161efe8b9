package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// NewEntityID returns a fresh canonical entity id.
func NewEntityID() string {
	return "ent_" + uuid.NewString()
}

// NormalizeAlias is the comparison key for entity names and aliases.
func NormalizeAlias(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ResolveEntities returns the entities known under name, most recently updated first.
func (s *SQLiteStore) ResolveEntities(ctx context.Context, name string) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT e.id
		FROM entities e JOIN entity_aliases a ON a.entity_id = e.id
		WHERE a.alias_norm = ?
		ORDER BY e.updated_at DESC, e.id`, NormalizeAlias(name))
	if err != nil {
		return nil, fmt.Errorf("store: resolving entity %q: %w", name, err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}
	return s.loadEntities(ctx, ids)
}

// CreateEntity persists e and registers its name and aliases for resolution.
func (s *SQLiteStore) CreateEntity(ctx context.Context, e *models.Entity) error {
	if e.ID == "" {
		e.ID = NewEntityID()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO entities (id, name, type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`, e.ID, e.Name, string(e.Type), formatTime(e.CreatedAt), formatTime(e.UpdatedAt)); err != nil {
			return fmt.Errorf("store: inserting entity %q: %w", e.Name, err)
		}
		for _, alias := range append([]string{e.Name}, e.Aliases...) {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entity_aliases (entity_id, alias, alias_norm)
				VALUES (?, ?, ?)`, e.ID, alias, NormalizeAlias(alias)); err != nil {
				return fmt.Errorf("store: inserting alias %q: %w", alias, err)
			}
		}
		return nil
	})
}

// AddEntityAliases registers aliases for an existing entity. Aliases already known for it
// are skipped; when any are added the entity's updated_at is refreshed.
func (s *SQLiteStore) AddEntityAliases(ctx context.Context, entityID string, aliases []string) (int, error) {
	var added int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, alias := range aliases {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entity_aliases (entity_id, alias, alias_norm)
				VALUES (?, ?, ?)`, entityID, alias, NormalizeAlias(alias))
			if err != nil {
				return fmt.Errorf("store: adding alias %q to %s: %w", alias, entityID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		if added == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET updated_at = ? WHERE id = ?`,
			formatTime(time.Now()), entityID); err != nil {
			return fmt.Errorf("store: touching entity %s: %w", entityID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// AssociateEntity links an entity to a memory and refreshes the entity's updated_at.
func (s *SQLiteStore) AssociateEntity(ctx context.Context, entityID, memoryID string) (bool, error) {
	var created bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entity_memories (entity_id, memory_id, created_at)
			VALUES (?, ?, ?)`, entityID, memoryID, now)
		if err != nil {
			return fmt.Errorf("store: associating %s with %s: %w", entityID, memoryID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		created = true
		_, err = tx.ExecContext(ctx, `UPDATE entities SET updated_at = ? WHERE id = ?`, now, entityID)
		return err
	})
	return created, err
}

// RecordAmbiguity stores an ambiguous resolution. Repeats for the same name and memory are ignored.
func (s *SQLiteStore) RecordAmbiguity(ctx context.Context, a *models.Ambiguity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cands, err := json.Marshal(a.Candidates)
	if err != nil {
		return fmt.Errorf("store: encoding candidates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO entity_ambiguities (name, memory_id, chosen_id, candidates, created_at)
		VALUES (?, ?, ?, ?, ?)`, a.Name, a.MemoryID, a.ChosenID, string(cands), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: recording ambiguity %q: %w", a.Name, err)
	}
	return nil
}

// ListEntities returns all entities, or those of typ when set, ordered by type and name.
func (s *SQLiteStore) ListEntities(ctx context.Context, typ models.EntityType) ([]models.Entity, error) {
	q := `SELECT id FROM entities`
	var args []any
	if typ != "" {
		q += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	q += ` ORDER BY type, name, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing entities: %w", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}
	return s.loadEntities(ctx, ids)
}

// EntitiesForMemory returns the entities associated with memoryID.
func (s *SQLiteStore) EntitiesForMemory(ctx context.Context, memoryID string) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT e.id FROM entities e
		JOIN entity_memories em ON em.entity_id = e.id
		WHERE em.memory_id = ?
		ORDER BY e.type, e.name`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("store: entities for %s: %w", memoryID, err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}
	return s.loadEntities(ctx, ids)
}

// ListAmbiguities returns recorded ambiguous resolutions, oldest first.
func (s *SQLiteStore) ListAmbiguities(ctx context.Context) ([]models.Ambiguity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, memory_id, chosen_id, candidates, created_at
		FROM entity_ambiguities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing ambiguities: %w", err)
	}
	defer rows.Close()

	var out []models.Ambiguity
	for rows.Next() {
		var (
			a              models.Ambiguity
			cands, created string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.MemoryID, &a.ChosenID, &cands, &created); err != nil {
			return nil, fmt.Errorf("store: scanning ambiguity: %w", err)
		}
		_ = json.Unmarshal([]byte(cands), &a.Candidates)
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// loadEntities hydrates entities with aliases and live memory ids, preserving ids order.
func (s *SQLiteStore) loadEntities(ctx context.Context, ids []string) ([]models.Entity, error) {
	out := make([]models.Entity, 0, len(ids))
	for _, id := range ids {
		var (
			e                models.Entity
			typ              string
			created, updated string
		)
		err := s.db.QueryRowContext(ctx, `SELECT id, name, type, created_at, updated_at FROM entities WHERE id = ?`, id).
			Scan(&e.ID, &e.Name, &typ, &created, &updated)
		if err != nil {
			return nil, fmt.Errorf("store: loading entity %s: %w", id, err)
		}
		e.Type = models.EntityType(typ)
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)

		aliasRows, err := s.db.QueryContext(ctx, `SELECT alias FROM entity_aliases
			WHERE entity_id = ? AND alias_norm <> ? ORDER BY alias`, id, NormalizeAlias(e.Name))
		if err != nil {
			return nil, fmt.Errorf("store: loading aliases of %s: %w", id, err)
		}
		if e.Aliases, err = collectStrings(aliasRows); err != nil {
			return nil, err
		}

		memRows, err := s.db.QueryContext(ctx, `SELECT em.memory_id FROM entity_memories em
			JOIN memories m ON m.id = em.memory_id
			WHERE em.entity_id = ? AND m.deleted_at IS NULL
			ORDER BY em.created_at, em.memory_id`, id)
		if err != nil {
			return nil, fmt.Errorf("store: loading memories of %s: %w", id, err)
		}
		if e.MemoryIDs, err = collectStrings(memRows); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scanning row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
