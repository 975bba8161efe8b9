package maintenance

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedEmbedder returns the same vector for any text.
type fixedEmbedder struct {
	vec   []float32
	calls int
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return append([]float32(nil), f.vec...), nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}

func (f *fixedEmbedder) Dimension() int { return len(f.vec) }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "brain.db"),
		store.Options{BusyTimeout: 5 * time.Second, LockTTL: time.Minute}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type memOpt func(*models.Memory)

func withCreated(d time.Duration) memOpt {
	return func(m *models.Memory) { m.CreatedAt = time.Now().UTC().Add(-d) }
}

func withAccessed(d time.Duration) memOpt {
	return func(m *models.Memory) { m.LastAccessedAt = time.Now().UTC().Add(-d) }
}

func withTags(tags ...string) memOpt {
	return func(m *models.Memory) { m.Tags = tags }
}

func withType(typ models.MemoryType) memOpt {
	return func(m *models.Memory) { m.Type = typ }
}

func insert(t *testing.T, st store.Store, content string, importance int, vec []float32, opts ...memOpt) *models.Memory {
	t.Helper()
	now := time.Now().UTC()
	m := &models.Memory{
		ID:               store.NewMemoryID(),
		Title:            "note",
		Content:          content,
		Type:             models.MemoryTypeConcept,
		Importance:       importance,
		Visibility:       models.VisibilityRestricted,
		Embedding:        vec,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastAccessedAt:   now,
		ContentChangedAt: now,
		SyncState:        models.SyncLocalOnly,
	}
	for _, o := range opts {
		o(m)
	}
	require.NoError(t, st.InsertMemory(context.Background(), m))
	return m
}

// unit returns a 2-d unit vector at the given cosine to (1, 0).
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

// TestMergeDuplicates_RepointsToSurvivor covers the 0.97-similarity duplicate scenario.
func TestMergeDuplicates_RepointsToSurvivor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	emb := &fixedEmbedder{vec: unit(1)}

	a := insert(t, st, "Logic'S Cloud runs on OVH", 40, unit(1), withCreated(2*time.Hour), withTags("infra"))
	b := insert(t, st, "Logic'S Cloud is hosted at OVH", 80, unit(0.97), withCreated(time.Hour), withTags("hosting"))
	c := insert(t, st, "unrelated", 50, []float32{0, 1})

	require.NoError(t, st.InsertLink(ctx, &models.Link{FromID: c.ID, ToID: b.ID, RelationType: models.RelationRelatedTo}, false))
	ent := &models.Entity{Name: "OVH", Type: models.EntityTypeCompany}
	require.NoError(t, st.CreateEntity(ctx, ent))
	_, err := st.AssociateEntity(ctx, ent.ID, b.ID)
	require.NoError(t, err)

	eng := NewEngine(st, emb, DefaultOptions(), quietLogger())
	rep, err := eng.MergeDuplicates(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Groups)
	assert.Equal(t, 1, rep.Merged)
	assert.Empty(t, rep.Skipped)

	surv, err := st.GetMemory(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, surv.Importance, "survivor takes the maximum importance")
	assert.Equal(t, "Logic'S Cloud runs on OVH\nLogic'S Cloud is hosted at OVH", surv.Content)
	assert.Equal(t, []string{"infra", "hosting"}, surv.Tags)
	assert.Equal(t, models.SyncPendingPush, surv.SyncState, "importance crossing the threshold promotes")
	assert.Equal(t, 1, emb.calls, "survivor re-embedded once")

	_, err = st.GetMemory(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	gone, err := st.LookupMemory(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, gone.MergedInto, "merged record is tombstoned, not deleted")

	links, err := st.ListLinks(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, a.ID, links[0].ToID)

	ents, err := st.EntitiesForMemory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, ent.ID, ents[0].ID)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalMemories)
	assert.Equal(t, int64(1), stats.TombstoneCount)

	again, err := eng.MergeDuplicates(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, again.Groups, "second pass finds nothing")
}

func TestMergeThresholdsAndTypes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insert(t, st, "one", 50, unit(1), withCreated(time.Hour))
	insert(t, st, "two", 50, unit(0.9))
	insert(t, st, "three", 50, unit(0.97), withType(models.MemoryTypePerson))

	eng := NewEngine(st, &fixedEmbedder{vec: unit(1)}, DefaultOptions(), quietLogger())

	dup, err := eng.MergeDuplicates(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, dup.Groups, "0.9 is below the duplicate threshold and types differ")

	cons, err := eng.Consolidate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, cons.Groups)
	assert.Equal(t, 1, cons.Merged)

	live, err := st.ListMemories(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestMergeDryRunWritesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insert(t, st, "one", 50, unit(1), withCreated(time.Hour))
	insert(t, st, "two", 50, unit(0.99))

	eng := NewEngine(st, &fixedEmbedder{vec: unit(1)}, DefaultOptions(), quietLogger())
	rep, err := eng.MergeDuplicates(ctx, true)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Merged)

	live, err := st.ListMemories(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

// racingStore edits the first merged record right before the merge commits.
type racingStore struct {
	store.Store
}

func (r racingStore) ApplyMerge(ctx context.Context, plan store.MergePlan) error {
	m, err := r.Store.GetMemory(ctx, plan.Merged[0].ID)
	if err != nil {
		return err
	}
	m.Content = "edited during maintenance"
	if err := r.Store.UpdateMemory(ctx, m); err != nil {
		return err
	}
	return r.Store.ApplyMerge(ctx, plan)
}

func TestMergeSkipsConcurrentlyModified(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := insert(t, st, "one", 50, unit(1), withCreated(time.Hour))
	b := insert(t, st, "two", 50, unit(0.99))

	eng := NewEngine(racingStore{st}, &fixedEmbedder{vec: unit(1)}, DefaultOptions(), quietLogger())
	rep, err := eng.MergeDuplicates(ctx, false)
	require.NoError(t, err)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, Skip{ID: a.ID, Reason: ReasonModified}, rep.Skipped[0])
	assert.Zero(t, rep.Merged)

	got, err := st.GetMemory(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited during maintenance", got.Content)
}

// TestDecay_MonotonicAndConverges verifies decay only lowers and settles at the floor.
func TestDecay_MonotonicAndConverges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	old := insert(t, st, "old", 12, unit(1), withAccessed(60*24*time.Hour))
	fresh := insert(t, st, "fresh", 12, unit(1))

	eng := NewEngine(st, &fixedEmbedder{vec: unit(1)}, DefaultOptions(), quietLogger())

	var seen []int
	for range 5 {
		_, err := eng.Decay(ctx, false)
		require.NoError(t, err)
		got, err := st.GetMemory(ctx, old.ID)
		require.NoError(t, err)
		seen = append(seen, got.Importance)
	}
	assert.Equal(t, []int{7, 2, 0, 0, 0}, seen)

	got, err := st.GetMemory(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Importance, "recently accessed memories are untouched")
}

func TestDecay_DryRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	m := insert(t, st, "old", 50, unit(1), withAccessed(60*24*time.Hour))

	eng := NewEngine(st, &fixedEmbedder{vec: unit(1)}, DefaultOptions(), quietLogger())
	rep, err := eng.Decay(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Changed)

	got, err := st.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Importance)
}

func TestRun_FullAndStopped(t *testing.T) {
	st := newTestStore(t)
	insert(t, st, "one", 50, unit(1), withCreated(time.Hour), withAccessed(60*24*time.Hour))
	insert(t, st, "two", 50, unit(0.99), withAccessed(60*24*time.Hour))
	eng := NewEngine(st, &fixedEmbedder{vec: unit(1)}, DefaultOptions(), quietLogger())

	rep, err := eng.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, 1, rep.Duplicates.Merged)
	assert.Equal(t, 1, rep.Decay.Changed)
	require.NotNil(t, rep.Optimize)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped, err := eng.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, stopped.Stopped)
	assert.Nil(t, stopped.Duplicates)
}

func TestFold(t *testing.T) {
	surv := models.Memory{ID: "a", Content: "alpha", Importance: 30, Tags: []string{"x"}, Visibility: models.VisibilityPublic, AccessCount: 1}
	members := []models.Memory{
		{ID: "b", Content: "alpha ", Importance: 60, Tags: []string{"x", "y"}, Visibility: models.VisibilityAdmin, AccessCount: 2},
		{ID: "c", Content: "beta", Importance: 10},
	}
	got := Fold(surv, members)
	assert.Equal(t, "alpha\nbeta", got.Content)
	assert.Equal(t, 60, got.Importance)
	assert.Equal(t, []string{"x", "y"}, got.Tags)
	assert.Equal(t, models.VisibilityAdmin, got.Visibility)
	assert.Equal(t, int64(3), got.AccessCount)
	assert.Equal(t, "a", got.ID)
}

func TestPlanGroups_SeedIsEarliest(t *testing.T) {
	now := time.Now()
	mems := []models.Memory{
		{ID: "late", Type: models.MemoryTypeConcept, Embedding: unit(0.99), CreatedAt: now},
		{ID: "early", Type: models.MemoryTypeConcept, Embedding: unit(1), CreatedAt: now.Add(-time.Hour)},
		{ID: "far", Type: models.MemoryTypeConcept, Embedding: []float32{0, 1}, CreatedAt: now.Add(-2 * time.Hour)},
	}
	groups := PlanGroups(mems, 0.95)
	require.Len(t, groups, 1)
	assert.Equal(t, "early", groups[0].Survivor.ID)
	require.Len(t, groups[0].Members, 1)
	assert.Equal(t, "late", groups[0].Members[0].ID)
}
