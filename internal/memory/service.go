// Package memory implements the caller-facing memory operations on top of the store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// maxUpdateAttempts bounds the read-modify-write retries of Update under concurrent edits.
const maxUpdateAttempts = 3

// Options holds the policy knobs of the memory service.
type Options struct {
	PromotionThreshold int
	DefaultVisibility  models.Visibility
	LexicalWeight      float64
	SemanticWeight     float64
	MinScore           float64
}

// DefaultOptions returns the stock policy.
func DefaultOptions() Options {
	return Options{
		PromotionThreshold: 70,
		DefaultVisibility:  models.VisibilityRestricted,
		LexicalWeight:      0.4,
		SemanticWeight:     0.6,
		MinScore:           0.25,
	}
}

// Service performs single-record memory operations. Each mutation is a single
// guarded write, so no maintenance lock is taken.
type Service struct {
	store    store.Store
	embedder embedder.Embedder
	opts     Options
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(st store.Store, emb embedder.Embedder, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultVisibility == "" {
		opts.DefaultVisibility = models.VisibilityRestricted
	}
	return &Service{store: st, embedder: emb, opts: opts, logger: logger}
}

// CreateInput is the payload of Create. A nil Importance means DefaultImportance and an
// empty Visibility is derived from the tags.
type CreateInput struct {
	Title      string
	Content    string
	Type       models.MemoryType
	Importance *int
	Tags       []string
	Visibility models.Visibility
}

// Create validates, embeds and stores a new memory.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Memory, error) {
	importance := models.DefaultImportance
	if in.Importance != nil {
		importance = *in.Importance
	}
	if in.Type == "" {
		in.Type = models.MemoryTypeMemory
	}
	if err := validate(in.Title, in.Content, in.Type, importance, in.Visibility); err != nil {
		return nil, err
	}
	tags := normalizeTags(in.Tags)
	vis := in.Visibility
	if vis == "" {
		vis = models.VisibilityFromTags(tags, s.opts.DefaultVisibility)
	}

	vec, err := s.embedder.Embed(ctx, models.EmbeddingText(in.Title, in.Content))
	if err != nil {
		return nil, fmt.Errorf("create: embedding: %w", err)
	}

	now := time.Now().UTC()
	m := &models.Memory{
		ID:               store.NewMemoryID(),
		Title:            strings.TrimSpace(in.Title),
		Content:          in.Content,
		Type:             in.Type,
		Importance:       importance,
		Tags:             tags,
		Visibility:       vis,
		Embedding:        vec,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastAccessedAt:   now,
		ContentChangedAt: now,
		SyncState:        models.InitialSyncState(importance, s.opts.PromotionThreshold),
	}
	if err := s.store.InsertMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	metrics.Inc(metrics.RememberTotal)
	s.logger.Info("memory created", "id", m.ID, "type", m.Type, "importance", m.Importance, "sync_state", m.SyncState)
	return m, nil
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title      *string
	Content    *string
	Type       *models.MemoryType
	Importance *int
	Tags       *[]string
	Visibility *models.Visibility
}

func (in UpdateInput) empty() bool {
	return in.Title == nil && in.Content == nil && in.Type == nil &&
		in.Importance == nil && in.Tags == nil && in.Visibility == nil
}

// Update applies a partial update, re-embedding when title or content change.
// Concurrent edits are retried against the fresh record.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Memory, error) {
	if in.empty() {
		return nil, models.Invalid("", "no fields to update")
	}
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		m, err := s.updateOnce(ctx, id, in)
		if err == nil {
			return m, nil
		}
		if !store.IsStale(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("update raced with another writer, retrying", "id", id, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("update %s: %w", id, lastErr)
}

func (s *Service) updateOnce(ctx context.Context, id string, in UpdateInput) (*models.Memory, error) {
	cur, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *cur
	if in.Title != nil {
		next.Title = strings.TrimSpace(*in.Title)
	}
	if in.Content != nil {
		next.Content = *in.Content
	}
	if in.Type != nil {
		next.Type = *in.Type
	}
	if in.Importance != nil {
		next.Importance = *in.Importance
	}
	if in.Tags != nil {
		next.Tags = normalizeTags(*in.Tags)
	}
	if in.Visibility != nil {
		next.Visibility = *in.Visibility
	}
	if err := validate(next.Title, next.Content, next.Type, next.Importance, next.Visibility); err != nil {
		return nil, err
	}

	textChanged := next.Title != cur.Title || next.Content != cur.Content
	pushedChanged := textChanged || next.Type != cur.Type || next.Visibility != cur.Visibility ||
		!slices.Equal(next.Tags, cur.Tags)

	if textChanged {
		vec, err := s.embedder.Embed(ctx, next.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("update %s: embedding: %w", id, err)
		}
		next.Embedding = vec
	}

	now := time.Now().UTC()
	next.UpdatedAt = now
	if pushedChanged {
		next.ContentChangedAt = now
	}
	next.SyncState = cur.SyncState.AfterLocalUpdate(models.UpdateChange{
		OldImportance:  cur.Importance,
		NewImportance:  next.Importance,
		ContentChanged: pushedChanged,
		HasRemote:      cur.RemoteID != "",
	}, s.opts.PromotionThreshold)
	// An edit gives a rejected or stale record a fresh chance on the next push.
	next.SyncError = ""
	next.SyncStale = false
	next.SyncAttempts = 0

	if err := s.store.UpdateMemory(ctx, &next); err != nil {
		return nil, err
	}
	if next.SyncState != cur.SyncState {
		s.logger.Info("sync state changed", "id", id, "from", cur.SyncState, "to", next.SyncState)
	}
	return &next, nil
}

// Get returns a live memory and records the access.
func (s *Service) Get(ctx context.Context, id string) (*models.Memory, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchAccess(ctx, id); err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	m.AccessCount++
	m.LastAccessedAt = time.Now().UTC()
	return m, nil
}

// Lookup returns a memory including tombstoned ones, without recording an access.
func (s *Service) Lookup(ctx context.Context, id string) (*models.Memory, error) {
	return s.store.LookupMemory(ctx, id)
}

// LinkInput is the payload of Link.
type LinkInput struct {
	FromID        string
	ToID          string
	RelationType  models.RelationType
	Bidirectional bool
}

// Link creates a typed relation between two live memories.
func (s *Service) Link(ctx context.Context, in LinkInput) (*models.Link, error) {
	if in.RelationType == "" {
		in.RelationType = models.RelationRelatedTo
	}
	if !in.RelationType.IsValid() {
		return nil, models.Invalid("relation_type", "unknown relation %q", in.RelationType)
	}
	if in.FromID == "" || in.ToID == "" {
		return nil, models.Invalid("id", "both endpoints are required")
	}
	if in.FromID == in.ToID {
		return nil, models.Invalid("to_id", "a memory cannot link to itself")
	}
	l := &models.Link{
		ID:           store.NewLinkID(),
		FromID:       in.FromID,
		ToID:         in.ToID,
		RelationType: in.RelationType,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertLink(ctx, l, in.Bidirectional); err != nil {
		return nil, err
	}
	s.logger.Info("link created", "from", l.FromID, "to", l.ToID, "relation", l.RelationType, "bidirectional", in.Bidirectional)
	return l, nil
}

// Links returns the links touching a memory.
func (s *Service) Links(ctx context.Context, id string) ([]models.Link, error) {
	return s.store.ListLinks(ctx, id)
}

// Forget soft-deletes a memory. Forgetting a forgotten memory is a no-op that reports false.
func (s *Service) Forget(ctx context.Context, id, reason string) (bool, error) {
	if reason == "" {
		reason = "forgotten"
	}
	changed, err := s.store.Tombstone(ctx, id, reason)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	metrics.Inc(metrics.ForgetTotal)
	if err := s.store.AppendSyncLog(ctx, models.SyncLogEntry{
		MemoryID: id,
		Action:   "delete",
		Status:   "ok",
		Details:  reason,
	}); err != nil {
		s.logger.Warn("recording forget in sync log", "id", id, "error", err)
	}
	s.logger.Info("memory forgotten", "id", id, "reason", reason)
	return true, nil
}

// Stats returns store-wide counters.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	return s.store.Stats(ctx)
}

func validate(title, content string, typ models.MemoryType, importance int, vis models.Visibility) error {
	if strings.TrimSpace(title) == "" {
		return models.Invalid("title", "must not be empty")
	}
	if strings.TrimSpace(content) == "" {
		return models.Invalid("content", "must not be empty")
	}
	if !typ.IsValid() {
		return models.Invalid("type", "unknown memory type %q", typ)
	}
	if importance < models.MinImportance || importance > models.MaxImportance {
		return models.Invalid("importance", "must be between %d and %d, got %d",
			models.MinImportance, models.MaxImportance, importance)
	}
	if vis != "" && !vis.IsValid() {
		return models.Invalid("visibility", "unknown visibility %q", vis)
	}
	return nil
}

// normalizeTags trims, drops empties and deduplicates, preserving first occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
