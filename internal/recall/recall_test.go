package recall

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
)

type stubLocal struct {
	results []models.SearchResult
	err     error
	filters *memory.SearchFilters
	limit   int
}

func (s *stubLocal) Search(_ context.Context, _ string, limit int, f *memory.SearchFilters) ([]models.SearchResult, error) {
	s.filters = f
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) > limit {
		return s.results[:limit], nil
	}
	return s.results, nil
}

type stubRemote struct {
	nodes []remote.Node
	err   error
	calls int
}

func (s *stubRemote) Search(_ context.Context, _ string, limit int) (*remote.SearchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &remote.SearchResult{Nodes: s.nodes}, nil
}

func hit(id, title, content string, score float64) models.SearchResult {
	return models.SearchResult{
		Memory: models.Memory{ID: id, Title: title, Content: content, Type: models.MemoryTypeConcept, Importance: 60},
		Score:  score,
	}
}

func newRecaller(l LocalSearcher, r RemoteSearcher, mutate ...func(*Options)) *Recaller {
	opts := DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	return NewRecaller(l, r, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDomainRelevant(t *testing.T) {
	r := newRecaller(&stubLocal{}, nil)
	assert.True(t, r.DomainRelevant("How do I export invoices from Sellsy?"))
	assert.True(t, r.DomainRelevant("TICKET-42 status"))
	assert.False(t, r.DomainRelevant("what's for lunch"))
}

func TestContextForLocalOnly(t *testing.T) {
	local := &stubLocal{results: []models.SearchResult{
		hit("m1", "VPN", "use wireguard", 0.9),
		hit("m2", "Wifi", "guest network", 0.4),
	}}
	rem := &stubRemote{}
	r := newRecaller(local, rem)

	b, err := r.ContextFor(context.Background(), "vpn setup", 0)
	require.NoError(t, err)
	assert.False(t, b.RemoteQueried)
	assert.Zero(t, rem.calls)
	assert.Equal(t, 5, local.limit)
	assert.InDelta(t, 0.25, local.filters.MinScore, 1e-9)
	require.Len(t, b.Items, 2)
	assert.Equal(t, 2, b.LocalCount)
	assert.True(t, b.HasContext())
	assert.Contains(t, b.Markdown, "## Relevant context from memory")
	assert.Contains(t, b.Markdown, "### Local memory")
	assert.Contains(t, b.Markdown, "**VPN** (concept, score: 0.90)")
	assert.NotContains(t, b.Markdown, "### Team knowledge base")
	assert.Positive(t, b.Tokens)
}

func TestContextForMergesRemote(t *testing.T) {
	local := &stubLocal{results: []models.SearchResult{
		hit("m1", "Sellsy token", "rotate monthly", 0.5),
		hit("m2", "Sellsy export", "csv only", 0.3),
	}}
	rem := &stubRemote{nodes: []remote.Node{
		{ID: "r1", Title: "Sellsy API", Content: "v2 endpoints", Type: "resource", Score: 0.8},
		{ID: "r2", Title: "Sellsy tips", Type: "concept", Score: 0.5},
		{ID: "r3", Title: "Old", Type: "concept", Score: 0.4},
		{ID: "r4", Title: "Beyond limit", Type: "concept", Score: 0.99},
	}}
	r := newRecaller(local, rem)

	b, err := r.ContextFor(context.Background(), "sellsy api", 4)
	require.NoError(t, err)
	assert.True(t, b.RemoteQueried)
	ids := make([]string, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"r1", "m1", "r2", "r3"}, ids, "local first on equal score; remote capped at its limit")
	assert.Equal(t, 1, b.LocalCount)
	assert.Equal(t, 3, b.RemoteCount)
	assert.Contains(t, b.Markdown, "### Team knowledge base")
	assert.Contains(t, b.Markdown, "**Sellsy API** (resource)\n> v2 endpoints")
}

func TestContextForRemoteFailureKeepsLocal(t *testing.T) {
	local := &stubLocal{results: []models.SearchResult{hit("m1", "Client list", "in the CRM", 0.7)}}
	rem := &stubRemote{err: &models.RemoteUnavailableError{Op: "search", Status: 503, Err: errors.New("down")}}
	r := newRecaller(local, rem)

	b, err := r.ContextFor(context.Background(), "client list", 0)
	require.NoError(t, err)
	assert.Contains(t, b.RemoteError, "503")
	require.Len(t, b.Items, 1)
	assert.Equal(t, SourceLocal, b.Items[0].Source)
}

func TestContextForErrors(t *testing.T) {
	r := newRecaller(&stubLocal{err: errors.New("disk gone")}, nil)
	_, err := r.ContextFor(context.Background(), "anything", 0)
	assert.ErrorContains(t, err, "disk gone")

	_, err = r.ContextFor(context.Background(), "   ", 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestContextForEmpty(t *testing.T) {
	r := newRecaller(&stubLocal{}, nil)
	b, err := r.ContextFor(context.Background(), "nothing matches", 0)
	require.NoError(t, err)
	assert.False(t, b.HasContext())
	assert.Empty(t, b.Markdown)
}

func TestContextForTokenBudget(t *testing.T) {
	long := strings.Repeat("word ", 200)
	local := &stubLocal{results: []models.SearchResult{
		hit("m1", "first", long, 0.9),
		hit("m2", "second", long, 0.8),
		hit("m3", "third", long, 0.7),
	}}
	r := newRecaller(local, nil, func(o *Options) { o.TokenBudget = 150 })

	b, err := r.ContextFor(context.Background(), "word", 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, b.Tokens, 150)
	require.NotEmpty(t, b.Items)
	assert.Less(t, len(b.Items), 3)
	assert.Equal(t, "m1", b.Items[0].ID)
	assert.Equal(t, len(b.Items), b.LocalCount)
}

func TestRenderSnippets(t *testing.T) {
	items := []Item{
		{Source: SourceLocal, Title: "L", Type: "memory", Content: strings.Repeat("a", 310), Score: 0.5},
		{Source: SourceRemote, Title: "R", Type: "concept", Content: "line one\nline two"},
	}
	md := Render(items, 300, 200)
	assert.Contains(t, md, "> "+strings.Repeat("a", 300)+"...\n")
	assert.Contains(t, md, "> line one\n> line two\n")
	assert.Empty(t, Render(nil, 300, 200))
}
