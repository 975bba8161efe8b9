package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/openclaw-brain/internal/config"
	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/maintenance"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

func TestSplitTags(t *testing.T) {
	assert.Nil(t, splitTags(""))
	assert.Nil(t, splitTags("   "))
	assert.Equal(t, []string{"a", "b c", "d"}, splitTags(" a, b c ,,d,"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "line one line two", truncate("line one\nline two", 40))
	assert.Equal(t, "héll...", truncate("héllo wörld", 4))
}

func TestToExportRecord(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	deleted := created.Add(time.Hour)
	m := &models.Memory{
		ID:         "m1",
		Title:      "Billing export",
		Content:    "Runs nightly.",
		Type:       models.MemoryTypeDecision,
		Importance: 80,
		Tags:       []string{"billing"},
		Visibility: models.VisibilityRestricted,
		SyncState:  models.SyncSynced,
		RemoteID:   "n-9",
		CreatedAt:  created,
		UpdatedAt:  created,
		DeletedAt:  &deleted,
	}
	links := []models.Link{{FromID: "m1", ToID: "m2", RelationType: models.RelationDependsOn}}

	rec := toExportRecord(m, links)
	assert.Equal(t, "decision", rec.Type)
	assert.Equal(t, "2026-03-01T09:30:00Z", rec.CreatedAt)
	assert.True(t, rec.Forgotten)
	require.Len(t, rec.Links, 1)
	assert.Equal(t, exportLink{To: "m2", Relation: "depends_on"}, rec.Links[0])
}

func TestEncodeExportFormats(t *testing.T) {
	all := []exportRecord{{ID: "m1", Title: "t", Content: "c", Type: "memory", Importance: 50, Visibility: "restricted", SyncState: "local_only"}}

	var js bytes.Buffer
	require.NoError(t, encodeExport(&js, "json", all))
	var fromJSON []map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	require.Len(t, fromJSON, 1)
	assert.Equal(t, "local_only", fromJSON[0]["sync_state"])
	assert.NotContains(t, fromJSON[0], "links")

	var ym bytes.Buffer
	require.NoError(t, encodeExport(&ym, "yaml", all))
	assert.Contains(t, ym.String(), "sync_state: local_only")
	var fromYAML []exportRecord
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))
	assert.Equal(t, all, fromYAML)
}

func TestSyncSummary(t *testing.T) {
	rep := &syncer.Report{
		Push: &syncer.PushReport{Created: 2, Updated: 1, Failed: 1},
		Pull: &syncer.PullReport{Created: 3, Conflicts: 1},
	}
	assert.Equal(t, "pushed 2 new, 1 updated (0 conflicts, 1 failed); pulled 3 new, 0 updated (1 conflicts)", syncSummary(rep))
	assert.Equal(t, "pulled 0 new, 0 updated", syncSummary(&syncer.Report{Pull: &syncer.PullReport{}}))
}

func TestChanged(t *testing.T) {
	assert.Equal(t, 0, changed(nil))
	assert.Equal(t, 4, changed(&maintenance.PassReport{Changed: 4}))
}

// closeCounter is an embedder that records Close calls.
type closeCounter struct {
	embedder.Embedder
	closed int
}

func (c *closeCounter) Close() { c.closed++ }

func TestNewAppClosesEmbedderWhenStoreFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{}
	cfg.Store.Path = filepath.Join(blocker, "brain.db")
	cfg.Store.BusyTimeout = time.Second
	cfg.Store.LockTTL = time.Minute

	emb := &closeCounter{Embedder: embedder.NewHashEmbedder(8)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), "test", logger, emb)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Equal(t, 1, emb.closed)
}

func TestAppCloseClosesEmbedder(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{}
	cfg.Store.Path = filepath.Join(t.TempDir(), "brain.db")
	cfg.Store.BusyTimeout = time.Second
	cfg.Store.LockTTL = time.Minute

	emb := &closeCounter{Embedder: embedder.NewHashEmbedder(8)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), "test", logger, emb)
	require.NoError(t, err)
	assert.Nil(t, a.sync)
	a.Close()
	assert.Equal(t, 1, emb.closed)
}
