package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "brain.db"),
		store.Options{BusyTimeout: 5 * time.Second, LockTTL: time.Minute}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st := newTestStore(t)
	return NewService(st, embedder.NewHashEmbedder(64), DefaultOptions(), quietLogger()), st
}

func intPtr(v int) *int { return &v }

func TestCreateGetRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{
		Title:      "Logic'S Cloud",
		Content:    "Cloud point-of-sale product",
		Type:       models.MemoryTypeProduct,
		Importance: intPtr(60),
		Tags:       []string{"pos", "pos", " cloud "},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SyncLocalOnly, m.SyncState)
	assert.Equal(t, []string{"pos", "cloud"}, m.Tags)
	assert.Equal(t, models.VisibilityRestricted, m.Visibility)
	assert.Len(t, m.Embedding, 64)

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Title, got.Title)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Importance, got.Importance)
	assert.Equal(t, m.Tags, got.Tags)
	assert.Equal(t, int64(1), got.AccessCount)
}

func TestCreateSyncStateFollowsThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	high, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c", Importance: intPtr(70), Tags: []string{"public"}})
	require.NoError(t, err)
	assert.Equal(t, models.SyncPendingPush, high.SyncState)
	assert.Equal(t, models.VisibilityPublic, high.Visibility)
	assert.Equal(t, models.MemoryTypeMemory, high.Type)

	low, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c", Importance: intPtr(69)})
	require.NoError(t, err)
	assert.Equal(t, models.SyncLocalOnly, low.SyncState)
}

func TestCreateValidation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"bad type", CreateInput{Title: "t", Content: "c", Type: "note"}},
		{"importance too high", CreateInput{Title: "t", Content: "c", Importance: intPtr(101)}},
		{"importance negative", CreateInput{Title: "t", Content: "c", Importance: intPtr(-1)}},
		{"empty title", CreateInput{Title: " ", Content: "c"}},
		{"empty content", CreateInput{Title: "t"}},
		{"bad visibility", CreateInput{Title: "t", Content: "c", Visibility: "secret"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	all, err := st.ListMemories(ctx, store.ListFilter{IncludeTombstoned: true})
	require.NoError(t, err)
	assert.Empty(t, all, "validation failures write nothing")
}

func TestUpdatePromotesAndReembeds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{Title: "Grenke", Content: "leasing partner", Type: models.MemoryTypeCompany, Importance: intPtr(40)})
	require.NoError(t, err)

	content := "leasing partner for terminals"
	up, err := svc.Update(ctx, m.ID, UpdateInput{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, models.SyncLocalOnly, up.SyncState)
	assert.NotEqual(t, m.Embedding, up.Embedding)
	assert.True(t, up.UpdatedAt.After(m.UpdatedAt) || up.UpdatedAt.Equal(m.UpdatedAt))

	up, err = svc.Update(ctx, m.ID, UpdateInput{Importance: intPtr(85)})
	require.NoError(t, err)
	assert.Equal(t, models.SyncPendingPush, up.SyncState)

	// Lowering importance never demotes.
	up, err = svc.Update(ctx, m.ID, UpdateInput{Importance: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, models.SyncPendingPush, up.SyncState)
}

func TestUpdateErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	title := "x"
	_, err := svc.Update(ctx, "mem_missing", UpdateInput{Title: &title})
	assert.ErrorIs(t, err, models.ErrNotFound)

	m, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c"})
	require.NoError(t, err)
	_, err = svc.Update(ctx, m.ID, UpdateInput{})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Update(ctx, m.ID, UpdateInput{Importance: intPtr(200)})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Forget(ctx, m.ID, "done")
	require.NoError(t, err)
	_, err = svc.Update(ctx, m.ID, UpdateInput{Title: &title})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// racingStore performs a competing write the first time UpdateMemory is called.
type racingStore struct {
	store.Store
	raced bool
}

func (r *racingStore) UpdateMemory(ctx context.Context, m *models.Memory) error {
	if !r.raced {
		r.raced = true
		other, err := r.Store.GetMemory(ctx, m.ID)
		if err != nil {
			return err
		}
		other.Tags = append(other.Tags, "concurrent")
		if err := r.Store.UpdateMemory(ctx, other); err != nil {
			return err
		}
	}
	return r.Store.UpdateMemory(ctx, m)
}

func TestUpdateRetriesAfterConcurrentWrite(t *testing.T) {
	st := newTestStore(t)
	racer := &racingStore{Store: st}
	svc := NewService(racer, embedder.NewHashEmbedder(32), DefaultOptions(), quietLogger())
	ctx := context.Background()

	m, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c"})
	require.NoError(t, err)

	up, err := svc.Update(ctx, m.ID, UpdateInput{Importance: intPtr(55)})
	require.NoError(t, err)
	assert.Equal(t, 55, up.Importance)
	assert.Contains(t, up.Tags, "concurrent", "retry is applied on top of the competing write")
}

func TestSearchRanking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Title: "Paxton Net2", Content: "access control system", Importance: intPtr(50), Tags: []string{"client-acme"}})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Title: "Paxton Net2 install", Content: "access control system at site", Importance: intPtr(80), Tags: []string{"internal"}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Title: "Lunch", Content: "pizza place nearby", Importance: intPtr(90)})
	require.NoError(t, err)

	res, err := svc.Search(ctx, "paxton net2", 10, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res), 2)
	ids := []string{res[0].Memory.ID, res[1].Memory.ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	for _, r := range res {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.Nil(t, r.Memory.Embedding)
	}

	again, err := svc.Search(ctx, "paxton net2", 10, nil)
	require.NoError(t, err)
	require.Equal(t, len(res), len(again))
	for i := range res {
		assert.Equal(t, res[i].Memory.ID, again[i].Memory.ID, "ordering is stable across identical searches")
	}

	filtered, err := svc.Search(ctx, "paxton", 10, &SearchFilters{Tags: []string{"client-*"}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, a.ID, filtered[0].Memory.ID)

	limited, err := svc.Search(ctx, "paxton", 1, nil)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = svc.Search(ctx, "  ", 10, nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	got, err := svc.Lookup(ctx, a.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.AccessCount, int64(1), "search hits record an access")
}

func TestSortResultsTieBreaks(t *testing.T) {
	now := time.Now()
	results := []models.SearchResult{
		{Memory: models.Memory{ID: "a", Importance: 50, UpdatedAt: now}, Score: 0.5},
		{Memory: models.Memory{ID: "b", Importance: 70, UpdatedAt: now}, Score: 0.5},
		{Memory: models.Memory{ID: "c", Importance: 70, UpdatedAt: now.Add(time.Minute)}, Score: 0.5},
		{Memory: models.Memory{ID: "d", Importance: 10, UpdatedAt: now}, Score: 0.9},
	}
	SortResults(results)
	var order []string
	for _, r := range results {
		order = append(order, r.Memory.ID)
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, order)
}

func TestLexicalScore(t *testing.T) {
	assert.Equal(t, 1.0, LexicalScore("net2", []string{"net2"}, "Paxton Net2", ""))
	assert.InDelta(t, 0.5, LexicalScore("paxton grenke", []string{"paxton", "grenke"}, "paxton", "other"), 1e-9)
	assert.Equal(t, 0.0, LexicalScore("zzz", []string{"zzz"}, "a", "b"))
}

// TestLinkDuplicate verifies a duplicate tuple yields exactly one link and a ConflictError.
func TestLinkDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, err := svc.Create(ctx, CreateInput{Title: "a", Content: "a"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Title: "b", Content: "b"})
	require.NoError(t, err)

	_, err = svc.Link(ctx, LinkInput{FromID: a.ID, ToID: b.ID, RelationType: models.RelationDependsOn})
	require.NoError(t, err)
	_, err = svc.Link(ctx, LinkInput{FromID: a.ID, ToID: b.ID, RelationType: models.RelationDependsOn})
	assert.ErrorIs(t, err, models.ErrConflict)

	links, err := svc.Links(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	_, err = svc.Link(ctx, LinkInput{FromID: a.ID, ToID: a.ID})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = svc.Link(ctx, LinkInput{FromID: a.ID, ToID: b.ID, RelationType: "likes"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Forget(ctx, b.ID, "gone")
	require.NoError(t, err)
	_, err = svc.Link(ctx, LinkInput{FromID: a.ID, ToID: b.ID, RelationType: models.RelationPartOf})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// TestForgetKeepsTombstone verifies forget hides the memory but still counts it in stats.
func TestForgetKeepsTombstone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	m, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c"})
	require.NoError(t, err)

	changed, err := svc.Forget(ctx, m.ID, "obsolete")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = svc.Forget(ctx, m.ID, "obsolete")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = svc.Get(ctx, m.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalMemories)
	assert.Equal(t, int64(1), stats.TombstoneCount)

	res, err := svc.Search(ctx, "c", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}
