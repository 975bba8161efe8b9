package models

import (
	"time"
)

// MemoryType classifies the kind of memory.
type MemoryType string

const (
	MemoryTypeProduct      MemoryType = "product"
	MemoryTypeCompany      MemoryType = "company"
	MemoryTypePerson       MemoryType = "person"
	MemoryTypeConcept      MemoryType = "concept"
	MemoryTypeDecision     MemoryType = "decision"
	MemoryTypeResource     MemoryType = "resource"
	MemoryTypeMemory       MemoryType = "memory"
	MemoryTypeConversation MemoryType = "conversation"
)

// ValidMemoryTypes is the set of all valid memory types.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeProduct,
	MemoryTypeCompany,
	MemoryTypePerson,
	MemoryTypeConcept,
	MemoryTypeDecision,
	MemoryTypeResource,
	MemoryTypeMemory,
	MemoryTypeConversation,
}

// IsValid returns true if the memory type is recognized.
func (mt MemoryType) IsValid() bool {
	for _, v := range ValidMemoryTypes {
		if mt == v {
			return true
		}
	}
	return false
}

// Visibility controls who can see a memory once it is shared with the team knowledge base.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
	VisibilityAdmin      Visibility = "admin"
)

// ValidVisibilities is the set of all valid visibilities.
var ValidVisibilities = []Visibility{
	VisibilityPublic,
	VisibilityRestricted,
	VisibilityAdmin,
}

// IsValid returns true if the visibility is recognized.
func (v Visibility) IsValid() bool {
	for _, x := range ValidVisibilities {
		if v == x {
			return true
		}
	}
	return false
}

// VisibilityFromTags derives a visibility from well-known tags, falling back to def.
func VisibilityFromTags(tags []string, def Visibility) Visibility {
	for _, t := range tags {
		switch t {
		case "admin", "confidential":
			return VisibilityAdmin
		}
	}
	for _, t := range tags {
		if t == "public" {
			return VisibilityPublic
		}
	}
	return def
}

// MinImportance and MaxImportance bound Memory.Importance.
const (
	MinImportance = 0
	MaxImportance = 100

	// DefaultImportance is used when a caller does not supply one.
	DefaultImportance = 50
)

// Memory is a durable, searchable note.
type Memory struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Type           MemoryType `json:"type"`
	Importance     int        `json:"importance"`
	Tags           []string   `json:"tags"`
	Visibility     Visibility `json:"visibility"`
	Embedding      []float32  `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	AccessCount    int64      `json:"access_count"`
	Version        int64      `json:"version"`

	SyncState        SyncState  `json:"sync_state"`
	RemoteID         string     `json:"remote_id,omitempty"`
	RemoteUpdatedAt  *time.Time `json:"remote_updated_at,omitempty"` // remote baseline at last sync
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
	ContentChangedAt time.Time  `json:"content_changed_at"`
	SyncError        string     `json:"sync_error,omitempty"`
	SyncAttempts     int        `json:"sync_attempts,omitempty"`
	SyncStale        bool       `json:"sync_stale,omitempty"`

	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
	MergedInto   string     `json:"merged_into,omitempty"`
}

// Tombstoned reports whether the memory has been soft-deleted.
func (m *Memory) Tombstoned() bool { return m.DeletedAt != nil }

// EmbeddingText is the text fed to the embedding provider for this memory.
func (m *Memory) EmbeddingText() string {
	return EmbeddingText(m.Title, m.Content)
}

// EmbeddingText joins a title and content the way memories are embedded.
func EmbeddingText(title, content string) string {
	return title + " " + content
}

// ModifiedSinceSync reports whether pushed fields changed after the last successful sync.
func (m *Memory) ModifiedSinceSync() bool {
	if m.SyncedAt == nil {
		return true
	}
	return m.ContentChangedAt.After(*m.SyncedAt)
}

// SearchResult wraps a Memory with its hybrid score.
type SearchResult struct {
	Memory   Memory  `json:"memory"`
	Score    float64 `json:"score"`
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// Stats holds summary statistics about the store.
type Stats struct {
	TotalMemories     int64            `json:"total_memories"`
	ByType            map[string]int64 `json:"by_type"`
	AverageImportance float64          `json:"average_importance"`
	PendingSync       int64            `json:"pending_sync"`
	Synced            int64            `json:"synced"`
	Conflicts         int64            `json:"conflicts"`
	Stale             int64            `json:"stale"`
	TombstoneCount    int64            `json:"tombstone_count"`
	Links             int64            `json:"links"`
	Entities          int64            `json:"entities"`
	EmbeddingCoverage float64          `json:"embedding_coverage"`
	RecentSync        []SyncLogEntry   `json:"recent_sync,omitempty"`
}

// SyncLogEntry is one row of the sync audit log.
type SyncLogEntry struct {
	ID        int64     `json:"id"`
	MemoryID  string    `json:"memory_id,omitempty"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
