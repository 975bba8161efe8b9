// Package store persists memories, links, entities and sync bookkeeping in SQLite.
package store

import (
	"context"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// Store defines the persistence contract used by the brain components.
// No method performs network I/O.
type Store interface {
	// InsertMemory persists a new memory. m.ID must be set.
	InsertMemory(ctx context.Context, m *models.Memory) error

	// GetMemory returns a live memory; tombstoned or unknown ids yield a NotFoundError.
	GetMemory(ctx context.Context, id string) (*models.Memory, error)

	// LookupMemory returns a memory including tombstoned ones, for audit and sync.
	LookupMemory(ctx context.Context, id string) (*models.Memory, error)

	// FindByRemoteID returns the memory mirrored by the given remote node, tombstoned or not.
	FindByRemoteID(ctx context.Context, remoteID string) (*models.Memory, error)

	// UpdateMemory writes m if its stored version still equals m.Version, then bumps the version.
	// A version mismatch yields ErrStale; a tombstoned or unknown id yields a NotFoundError.
	UpdateMemory(ctx context.Context, m *models.Memory) error

	// TouchAccess bumps last_accessed_at and access_count without changing the version.
	TouchAccess(ctx context.Context, ids ...string) error

	// Tombstone soft-deletes a memory. It reports false when the memory was already tombstoned.
	Tombstone(ctx context.Context, id, reason string) (bool, error)

	// ListMemories returns memories matching the filter ordered by created_at, id.
	ListMemories(ctx context.Context, f ListFilter) ([]models.Memory, error)

	// InsertLink creates a link, and its reverse when bidirectional, atomically.
	InsertLink(ctx context.Context, l *models.Link, bidirectional bool) error

	// ListLinks returns links touching memoryID, or all links when memoryID is empty.
	ListLinks(ctx context.Context, memoryID string) ([]models.Link, error)

	// ListUnpushedLinks returns links without a remote edge whose endpoints both have remote ids.
	ListUnpushedLinks(ctx context.Context) ([]UnpushedLink, error)

	// SetLinkRemoteEdge records the remote edge id for a pushed link.
	SetLinkRemoteEdge(ctx context.Context, linkID, edgeID string) error

	// EmbeddingDimension returns the dimension of the stored embeddings, 0 when there are none.
	EmbeddingDimension(ctx context.Context) (int, error)

	// ReplaceEmbeddings writes recomputed embeddings and makes dim the store's dimension.
	ReplaceEmbeddings(ctx context.Context, dim int, updates []EmbeddingUpdate) (*ReindexResult, error)

	// ResolveEntities returns entities whose name or alias equals name, case-insensitively,
	// most recently updated first.
	ResolveEntities(ctx context.Context, name string) ([]models.Entity, error)

	// CreateEntity persists a new entity and registers its name and aliases.
	CreateEntity(ctx context.Context, e *models.Entity) error

	// AddEntityAliases registers additional aliases for an entity and reports how many were new.
	AddEntityAliases(ctx context.Context, entityID string, aliases []string) (int, error)

	// AssociateEntity links an entity to a memory. It reports false when the association existed.
	AssociateEntity(ctx context.Context, entityID, memoryID string) (bool, error)

	// RecordAmbiguity stores an ambiguous resolution once per (name, memory).
	RecordAmbiguity(ctx context.Context, a *models.Ambiguity) error

	// ListEntities returns entities with their aliases and memory ids, optionally by type.
	ListEntities(ctx context.Context, typ models.EntityType) ([]models.Entity, error)

	// ListAmbiguities returns all recorded ambiguous resolutions.
	ListAmbiguities(ctx context.Context) ([]models.Ambiguity, error)

	// EntitiesForMemory returns the entities associated with a memory.
	EntitiesForMemory(ctx context.Context, memoryID string) ([]models.Entity, error)

	// ApplyMerge commits a duplicate or consolidation merge in one transaction.
	ApplyMerge(ctx context.Context, plan MergePlan) error

	// ApplyDecay lowers importance if the memory is unchanged and still not accessed since cutoff.
	ApplyDecay(ctx context.Context, id string, version int64, cutoff time.Time, importance int) (bool, error)

	// AppendSyncLog records a sync or audit event.
	AppendSyncLog(ctx context.Context, e models.SyncLogEntry) error

	// RecentSyncLog returns the newest n sync log entries.
	RecentSyncLog(ctx context.Context, n int) ([]models.SyncLogEntry, error)

	// GetMeta returns a brain_meta value, or "" when unset.
	GetMeta(ctx context.Context, key string) (string, error)

	// SetMeta upserts a brain_meta value.
	SetMeta(ctx context.Context, key, value string) error

	// Stats returns store-wide counters.
	Stats(ctx context.Context) (*models.Stats, error)

	// Lock acquires the exclusive maintenance lock shared by batch passes across processes.
	Lock(ctx context.Context, holder string) (func(), error)

	// Optimize compacts the database and rebuilds indexes.
	Optimize(ctx context.Context) (*OptimizeReport, error)

	// Backup writes a consistent snapshot into dir and keeps the newest keep snapshots.
	Backup(ctx context.Context, dir string, keep int) (*BackupReport, error)

	// Ping checks the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the database handle.
	Close() error
}

// ListFilter narrows ListMemories. Zero values do not filter.
type ListFilter struct {
	IDs                []string
	Types              []models.MemoryType
	SyncStates         []models.SyncState
	IncludeTombstoned  bool
	OnlyTombstoned     bool
	LastAccessedBefore time.Time
	MinImportance      *int
	ExcludeStale       bool
	ExcludeSyncErrors  bool
	Limit              int
}

// MergePlan describes one merge group. Survivor carries the merged fields and the version
// it was read at; each entry in Merged carries the version it was read at.
type MergePlan struct {
	Survivor models.Memory
	Merged   []models.Memory
	Reason   string
}

// UnpushedLink is a link whose endpoints are both mirrored remotely.
type UnpushedLink struct {
	Link       models.Link
	FromRemote string
	ToRemote   string
}

// OptimizeReport summarizes an Optimize run.
type OptimizeReport struct {
	PagesBefore int64         `json:"pages_before"`
	PagesAfter  int64         `json:"pages_after"`
	PageSize    int64         `json:"page_size"`
	Duration    time.Duration `json:"duration"`
}

// BackupReport summarizes a Backup run.
type BackupReport struct {
	Path      string   `json:"path"`
	SizeBytes int64    `json:"size_bytes"`
	Kept      int      `json:"kept"`
	Removed   []string `json:"removed,omitempty"`
}
