package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "brain.db"),
		Options{BusyTimeout: 5 * time.Second, LockTTL: time.Minute}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *SQLiteStore, title, content string, importance int) *models.Memory {
	t.Helper()
	now := time.Now().UTC()
	m := &models.Memory{
		ID:               NewMemoryID(),
		Title:            title,
		Content:          content,
		Type:             models.MemoryTypeConcept,
		Importance:       importance,
		Tags:             []string{"test"},
		Visibility:       models.VisibilityRestricted,
		Embedding:        []float32{1, 0, 0},
		CreatedAt:        now,
		UpdatedAt:        now,
		LastAccessedAt:   now,
		ContentChangedAt: now,
		SyncState:        models.SyncLocalOnly,
	}
	require.NoError(t, s.InsertMemory(context.Background(), m))
	return m
}

func TestSQLiteStore_InsertGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "Logic'S Cloud", "cloud POS", 60)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Title, got.Title)
	assert.Equal(t, []string{"test"}, got.Tags)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.SyncedAt)

	_, err = s.GetMemory(ctx, "mem_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteStore_MemoryIDsAreOrdered(t *testing.T) {
	prev := NewMemoryID()
	for range 50 {
		next := NewMemoryID()
		assert.Less(t, prev, next)
		prev = next
	}
}

// TestSQLiteStore_UpdateDetectsStaleVersion verifies the optimistic version guard.
func TestSQLiteStore_UpdateDetectsStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "t", "c", 50)

	a, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	b, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)

	a.Content = "first"
	require.NoError(t, s.UpdateMemory(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Content = "second"
	err = s.UpdateMemory(ctx, b)
	assert.True(t, IsStale(err))
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
}

func TestSQLiteStore_TouchAccessKeepsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "t", "c", 50)

	require.NoError(t, s.TouchAccess(ctx, m.ID))
	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.Equal(t, m.Version, got.Version)
}

func TestSQLiteStore_UpdateKeepsAccessRecordedMeanwhile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "t", "c", 50)

	snapshot, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, s.TouchAccess(ctx, m.ID))
	require.NoError(t, s.TouchAccess(ctx, m.ID))

	snapshot.Content = "edited"
	require.NoError(t, s.UpdateMemory(ctx, snapshot))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, int64(2), got.AccessCount)
	assert.False(t, got.LastAccessedAt.Before(snapshot.LastAccessedAt))
}

func TestSQLiteStore_RejectsMismatchedDimension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dim, err := s.EmbeddingDimension(ctx)
	require.NoError(t, err)
	assert.Zero(t, dim)

	m := seed(t, s, "t", "c", 50)
	dim, err = s.EmbeddingDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	other := *m
	other.ID = NewMemoryID()
	other.Embedding = []float32{1, 0}
	err = s.InsertMemory(ctx, &other)
	assert.ErrorIs(t, err, models.ErrValidation)

	other.Embedding = nil
	require.NoError(t, s.InsertMemory(ctx, &other), "memories without an embedding are accepted")

	m.Embedding = []float32{0, 1, 0, 0}
	err = s.UpdateMemory(ctx, m)
	assert.ErrorIs(t, err, models.ErrValidation)
	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
}

func TestSQLiteStore_ReplaceEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", "alpha", 50)
	b := seed(t, s, "b", "beta", 50)
	c := seed(t, s, "c", "gamma", 50)
	_, err := s.Tombstone(ctx, c.ID, "obsolete")
	require.NoError(t, err)

	edited, err := s.GetMemory(ctx, b.ID)
	require.NoError(t, err)
	edited.Content = "beta, edited"
	require.NoError(t, s.UpdateMemory(ctx, edited))

	res, err := s.ReplaceEmbeddings(ctx, 4, []EmbeddingUpdate{
		{ID: a.ID, Version: a.Version, Vector: []float32{0, 0, 0, 1}},
		{ID: b.ID, Version: b.Version, Vector: []float32{0, 0, 1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, res.Updated)
	assert.Equal(t, []string{b.ID}, res.Stale)
	assert.Equal(t, 2, res.Cleared, "the stale record and the tombstone drop their old vectors")

	dim, err := s.EmbeddingDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	got, err := s.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 1}, got.Embedding)
	assert.Equal(t, a.Version+1, got.Version)

	got, err = s.GetMemory(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Embedding)
	assert.Equal(t, "beta, edited", got.Content)

	fresh := seed4(t, s)
	assert.Len(t, fresh.Embedding, 4)
	old := *fresh
	old.ID = NewMemoryID()
	old.Embedding = []float32{1, 0, 0}
	assert.ErrorIs(t, s.InsertMemory(ctx, &old), models.ErrValidation)

	_, err = s.ReplaceEmbeddings(ctx, 4, []EmbeddingUpdate{{ID: a.ID, Version: a.Version + 1, Vector: []float32{1}}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func seed4(t *testing.T, s *SQLiteStore) *models.Memory {
	t.Helper()
	now := time.Now().UTC()
	m := &models.Memory{
		ID: NewMemoryID(), Title: "d", Content: "delta", Type: models.MemoryTypeConcept, Importance: 50,
		Visibility: models.VisibilityRestricted, Embedding: []float32{1, 0, 0, 0},
		CreatedAt: now, UpdatedAt: now, LastAccessedAt: now, ContentChangedAt: now, SyncState: models.SyncLocalOnly,
	}
	require.NoError(t, s.InsertMemory(context.Background(), m))
	return m
}

func TestSQLiteStore_TombstoneIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "t", "c", 50)

	changed, err := s.Tombstone(ctx, m.ID, "obsolete")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Tombstone(ctx, m.ID, "again")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.GetMemory(ctx, m.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	audit, err := s.LookupMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "obsolete", audit.DeleteReason)

	_, err = s.Tombstone(ctx, "mem_missing", "x")
	assert.ErrorIs(t, err, models.ErrNotFound)

	m.Content = "resurrect"
	assert.ErrorIs(t, s.UpdateMemory(ctx, m), models.ErrNotFound)
}

func TestSQLiteStore_ListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", "a", 10)
	b := seed(t, s, "b", "b", 90)
	_, err := s.Tombstone(ctx, a.ID, "gone")
	require.NoError(t, err)

	live, err := s.ListMemories(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, b.ID, live[0].ID)

	all, err := s.ListMemories(ctx, ListFilter{IncludeTombstoned: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	dead, err := s.ListMemories(ctx, ListFilter{OnlyTombstoned: true})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, a.ID, dead[0].ID)

	minImp := 50
	high, err := s.ListMemories(ctx, ListFilter{MinImportance: &minImp, IncludeTombstoned: true})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, b.ID, high[0].ID)
}

func TestSQLiteStore_Links(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", "a", 50)
	b := seed(t, s, "b", "b", 50)

	l := &models.Link{FromID: a.ID, ToID: b.ID, RelationType: models.RelationDependsOn}
	require.NoError(t, s.InsertLink(ctx, l, true))

	links, err := s.ListLinks(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	err = s.InsertLink(ctx, &models.Link{FromID: a.ID, ToID: b.ID, RelationType: models.RelationDependsOn}, false)
	assert.ErrorIs(t, err, models.ErrConflict)

	err = s.InsertLink(ctx, &models.Link{FromID: a.ID, ToID: "mem_missing", RelationType: models.RelationPartOf}, false)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// A failed bidirectional insert leaves nothing behind.
	c := seed(t, s, "c", "c", 50)
	require.NoError(t, s.InsertLink(ctx, &models.Link{FromID: c.ID, ToID: a.ID, RelationType: models.RelationUsedBy}, false))
	err = s.InsertLink(ctx, &models.Link{FromID: a.ID, ToID: c.ID, RelationType: models.RelationUsedBy}, true)
	assert.ErrorIs(t, err, models.ErrConflict)
	links, err = s.ListLinks(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestSQLiteStore_Entities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "t", "c", 50)

	e := &models.Entity{Name: "Logic'S", Type: models.EntityTypeProduct, Aliases: []string{"Logics"}}
	require.NoError(t, s.CreateEntity(ctx, e))
	assert.NotEmpty(t, e.ID)

	found, err := s.ResolveEntities(ctx, "  logics ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, e.ID, found[0].ID)
	assert.Equal(t, []string{"Logics"}, found[0].Aliases)

	created, err := s.AssociateEntity(ctx, e.ID, m.ID)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.AssociateEntity(ctx, e.ID, m.ID)
	require.NoError(t, err)
	assert.False(t, created)

	ents, err := s.EntitiesForMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, []string{m.ID}, ents[0].MemoryIDs)

	amb := &models.Ambiguity{Name: "Logics", MemoryID: m.ID, ChosenID: e.ID, Candidates: []string{e.ID, "ent_other"}}
	require.NoError(t, s.RecordAmbiguity(ctx, amb))
	require.NoError(t, s.RecordAmbiguity(ctx, amb))
	ambs, err := s.ListAmbiguities(ctx)
	require.NoError(t, err)
	require.Len(t, ambs, 1)
	assert.Equal(t, []string{e.ID, "ent_other"}, ambs[0].Candidates)
}

// TestSQLiteStore_ApplyMergeRepoints verifies that links and entities follow the survivor.
func TestSQLiteStore_ApplyMergeRepoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", "alpha", 40)
	b := seed(t, s, "b", "alpha", 70)
	c := seed(t, s, "c", "other", 50)

	require.NoError(t, s.InsertLink(ctx, &models.Link{FromID: c.ID, ToID: b.ID, RelationType: models.RelationRelatedTo}, false))
	require.NoError(t, s.InsertLink(ctx, &models.Link{FromID: a.ID, ToID: b.ID, RelationType: models.RelationPartOf}, false))
	e := &models.Entity{Name: "AVS", Type: models.EntityTypeCompany}
	require.NoError(t, s.CreateEntity(ctx, e))
	_, err := s.AssociateEntity(ctx, e.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, s.TouchAccess(ctx, b.ID))
	require.NoError(t, s.TouchAccess(ctx, a.ID, b.ID))

	surv := *a
	surv.Importance = 70
	require.NoError(t, s.ApplyMerge(ctx, MergePlan{Survivor: surv, Merged: []models.Memory{*b}, Reason: "duplicate"}))

	links, err := s.ListLinks(ctx, "")
	require.NoError(t, err)
	require.Len(t, links, 1, "self-link between group members is dropped")
	assert.Equal(t, c.ID, links[0].FromID)
	assert.Equal(t, a.ID, links[0].ToID)

	ents, err := s.EntitiesForMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, ents, 1)

	gone, err := s.LookupMemory(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gone.Tombstoned())
	assert.Equal(t, a.ID, gone.MergedInto)

	got, err := s.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, got.Importance)
	assert.Equal(t, int64(3), got.AccessCount, "accesses of merged records move to the survivor")

	log, err := s.RecentSyncLog(ctx, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "merge", log[0].Action)
}

func TestSQLiteStore_ApplyMergeStaleRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seed(t, s, "a", "alpha", 40)
	b := seed(t, s, "b", "alpha", 70)

	fresh, err := s.GetMemory(ctx, b.ID)
	require.NoError(t, err)
	fresh.Content = "edited meanwhile"
	require.NoError(t, s.UpdateMemory(ctx, fresh))

	err = s.ApplyMerge(ctx, MergePlan{Survivor: *a, Merged: []models.Memory{*b}, Reason: "duplicate"})
	assert.True(t, IsStale(err))

	got, err := s.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	_, err = s.GetMemory(ctx, b.ID)
	assert.NoError(t, err)
}

func TestSQLiteStore_ApplyDecay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seed(t, s, "t", "c", 50)

	changed, err := s.ApplyDecay(ctx, m.ID, m.Version, time.Now().Add(-time.Hour), 40)
	require.NoError(t, err)
	assert.False(t, changed, "recently accessed memory is not decayed")

	changed, err = s.ApplyDecay(ctx, m.ID, m.Version, time.Now().Add(time.Hour), 40)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.ApplyDecay(ctx, m.ID, m.Version, time.Now().Add(time.Hour), 30)
	require.NoError(t, err)
	assert.False(t, changed, "old version is rejected")
}

func TestSQLiteStore_Meta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMeta(ctx, "sync_cursor")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMeta(ctx, "sync_cursor", "a"))
	require.NoError(t, s.SetMeta(ctx, "sync_cursor", "b"))
	v, err = s.GetMeta(ctx, "sync_cursor")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "a", "a", 20)
	b := seed(t, s, "b", "b", 80)
	_, err := s.Tombstone(ctx, b.ID, "x")
	require.NoError(t, err)
	require.NoError(t, s.AppendSyncLog(ctx, models.SyncLogEntry{Action: "push", Status: "ok"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalMemories)
	assert.Equal(t, int64(1), st.TombstoneCount)
	assert.Equal(t, int64(1), st.ByType["concept"])
	assert.Equal(t, int64(0), st.ByType["person"])
	assert.InDelta(t, 20.0, st.AverageImportance, 0.001)
	assert.InDelta(t, 1.0, st.EmbeddingCoverage, 0.001)
	assert.Len(t, st.RecentSync, 1)
}

// TestSQLiteStore_LockIsExclusive verifies that a second holder waits for release.
func TestSQLiteStore_LockIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "first")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = s.Lock(short, "second")
	assert.Error(t, err)

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		u, err := s.Lock(ctx, "third")
		if err == nil {
			close(acquired)
			u()
		}
	}()
	unlock()
	wg.Wait()
	select {
	case <-acquired:
	default:
		t.Fatal("lock was not handed over after release")
	}
}

func TestSQLiteStore_LockRenewsLease(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "brain.db"),
		Options{BusyTimeout: 5 * time.Second, LockTTL: 300 * time.Millisecond}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "long-runner")
	require.NoError(t, err)
	time.Sleep(time.Second)

	ok, err := s.tryLease(ctx, "other-process")
	require.NoError(t, err)
	assert.False(t, ok, "a held lease outlives its TTL")

	unlock()
	unlock()
	ok, err = s.tryLease(ctx, "other-process")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_LeaseExcludesOtherProcesses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.tryLease(ctx, "other-process")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.tryLease(ctx, "me")
	require.NoError(t, err)
	assert.False(t, ok, "unexpired lease blocks")

	_, err = s.db.ExecContext(ctx, `UPDATE maintenance_lock SET expires_at = ?`, formatTime(time.Now().Add(-time.Second)))
	require.NoError(t, err)
	ok, err = s.tryLease(ctx, "me")
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")
}

func TestSQLiteStore_BackupRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "a", "a", 50)
	dir := t.TempDir()

	var last *BackupReport
	for range 3 {
		rep, err := s.Backup(ctx, dir, 2)
		require.NoError(t, err)
		assert.FileExists(t, rep.Path)
		assert.Positive(t, rep.SizeBytes)
		last = rep
	}
	snaps, err := filepath.Glob(filepath.Join(dir, "brain_*.db"))
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	assert.Equal(t, 2, last.Kept)
	assert.FileExists(t, last.Path)
}

func TestSQLiteStore_Optimize(t *testing.T) {
	s := newTestStore(t)
	rep, err := s.Optimize(context.Background())
	require.NoError(t, err)
	assert.Positive(t, rep.PageSize)
	assert.Positive(t, rep.PagesAfter)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
	assert.Nil(t, encodeVector(nil))
}
