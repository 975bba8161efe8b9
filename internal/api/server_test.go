package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/recall"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

type stubSyncer struct {
	dir        syncer.Direction
	resolution models.Resolution
	err        error
}

func (s *stubSyncer) Sync(_ context.Context, dir syncer.Direction) (*syncer.Report, error) {
	s.dir = dir
	if s.err != nil {
		return nil, s.err
	}
	return &syncer.Report{Direction: dir, Push: &syncer.PushReport{Created: 2}}, nil
}

func (s *stubSyncer) Resolve(_ context.Context, id string, r models.Resolution) (*models.Memory, error) {
	s.resolution = r
	if s.err != nil {
		return nil, s.err
	}
	return &models.Memory{ID: id, SyncState: models.SyncPendingPush}, nil
}

func (s *stubSyncer) Conflicts(context.Context) ([]models.Memory, error) {
	return nil, s.err
}

type stubBuilder struct{ topic string }

func (b *stubBuilder) ContextFor(_ context.Context, topic string, k int) (*recall.Bundle, error) {
	b.topic = topic
	return &recall.Bundle{Topic: topic, Markdown: "## Relevant context from memory\n"}, nil
}

func newTestServer(t *testing.T, sync Syncer, token string) (*httptest.Server, *memory.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "brain.db"),
		store.Options{BusyTimeout: 5 * time.Second, LockTTL: time.Minute}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc := memory.NewService(st, embedder.NewHashEmbedder(64), memory.DefaultOptions(), logger)
	srv := httptest.NewServer(NewServer(svc, sync, &stubBuilder{}, logger, token).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRememberGetForget(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	var created models.Memory
	status := call(t, srv, http.MethodPost, "/v1/memories", map[string]any{
		"title": "Sellsy export", "content": "CSV only, no API", "type": "resource", "importance": 80,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.SyncPendingPush, created.SyncState)

	var got models.Memory
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/v1/memories/"+created.ID, nil, &got))
	assert.Equal(t, "Sellsy export", got.Title)

	var forgot map[string]any
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodDelete, "/v1/memories/"+created.ID+"?reason=obsolete", nil, &forgot))
	assert.Equal(t, true, forgot["forgotten"])

	var e map[string]string
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/v1/memories/"+created.ID, nil, &e))
	assert.Contains(t, e["error"], "not found")
}

func TestRememberValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	var e map[string]string
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/v1/memories",
		map[string]any{"title": "x", "content": "y", "importance": 101}, &e))
	assert.Contains(t, e["error"], "importance")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/memories", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateAndSearch(t *testing.T) {
	srv, svc := newTestServer(t, nil, "")
	m, err := svc.Create(context.Background(), memory.CreateInput{Title: "VPN", Content: "use wireguard", Tags: []string{"infra"}})
	require.NoError(t, err)

	var updated models.Memory
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPatch, "/v1/memories/"+m.ID,
		map[string]any{"content": "use wireguard on port 51820"}, &updated))
	assert.Equal(t, "use wireguard on port 51820", updated.Content)
	assert.Equal(t, "VPN", updated.Title)

	var res searchResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/v1/search",
		map[string]any{"query": "wireguard", "tags": []string{"inf*"}}, &res))
	require.NotEmpty(t, res.Results)
	assert.Equal(t, m.ID, res.Results[0].Memory.ID)

	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/v1/search", map[string]any{"query": " "}, nil))
}

func TestLinkConflict(t *testing.T) {
	srv, svc := newTestServer(t, nil, "")
	ctx := context.Background()
	a, err := svc.Create(ctx, memory.CreateInput{Title: "Paxton", Content: "access control"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, memory.CreateInput{Title: "Net2", Content: "paxton software"})
	require.NoError(t, err)

	body := map[string]any{"from_id": a.ID, "to_id": b.ID, "relation_type": "part_of"}
	var l models.Link
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/v1/links", body, &l))
	assert.Equal(t, models.RelationType("part_of"), l.RelationType)
	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodPost, "/v1/links", body, nil))

	var links map[string][]models.Link
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/v1/memories/"+a.ID+"/links", nil, &links))
	assert.Len(t, links["links"], 1)
}

func TestSyncEndpoints(t *testing.T) {
	stub := &stubSyncer{}
	srv, _ := newTestServer(t, stub, "")

	var rep syncer.Report
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/v1/sync", map[string]any{"direction": "push"}, &rep))
	assert.Equal(t, syncer.DirectionPush, stub.dir)
	assert.Equal(t, 2, rep.Push.Created)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/v1/sync", nil, nil))
	assert.Equal(t, syncer.Direction(""), stub.dir)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/v1/memories/mem_1/resolve",
		map[string]any{"resolution": "keep_local"}, nil))
	assert.Equal(t, models.ResolveKeepLocal, stub.resolution)

	stub.err = &models.RemoteUnavailableError{Op: "list", Status: 503, Err: errors.New("maintenance")}
	assert.Equal(t, http.StatusServiceUnavailable, call(t, srv, http.MethodPost, "/v1/sync", nil, nil))
}

func TestSyncWithoutRemote(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")
	var e map[string]string
	assert.Equal(t, http.StatusServiceUnavailable, call(t, srv, http.MethodPost, "/v1/sync", nil, &e))
	assert.Contains(t, e["error"], "not configured")
}

func TestContextAndStats(t *testing.T) {
	srv, svc := newTestServer(t, nil, "")
	_, err := svc.Create(context.Background(), memory.CreateInput{Title: "a", Content: "b"})
	require.NoError(t, err)

	var b recall.Bundle
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/v1/context", map[string]any{"topic": "sellsy"}, &b))
	assert.Equal(t, "sellsy", b.Topic)

	var st models.Stats
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/v1/stats", nil, &st))
	assert.Equal(t, int64(1), st.TotalMemories)

	var vars map[string]any
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/debug/vars", nil, &vars))
	assert.Contains(t, vars, "brain_remember_total")
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t, nil, "s3cret")

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/healthz", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/v1/stats", nil, nil))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.Invalid("title", "empty"), http.StatusBadRequest},
		{&models.NotFoundError{Kind: "memory", ID: "x"}, http.StatusNotFound},
		{store.ErrStale, http.StatusConflict},
		{&models.RemoteRejectedError{Op: "create", Status: 422}, http.StatusBadGateway},
		{&models.RemoteUnavailableError{Op: "get", Err: io.EOF}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}
