package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base FS, dialect and logger in package globals.
var migrateMu sync.Mutex

// timeLayout is fixed-width so that text comparison in SQL orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Options configures NewSQLiteStore.
type Options struct {
	BusyTimeout time.Duration
	LockTTL     time.Duration
}

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	lockTTL time.Duration
	lockCh  chan struct{}
	logger  *slog.Logger
}

// NewSQLiteStore opens or creates the database at path and applies migrations.
func NewSQLiteStore(ctx context.Context, path string, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating db directory: %w", err)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_txlock=immediate",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    path,
		lockTTL: opts.LockTTL,
		lockCh:  make(chan struct{}, 1),
		logger:  logger,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	logger.Debug("store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{s.logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through slog.
type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewMemoryID returns a fresh, time-sortable memory id. ULIDs are never reissued.
func NewMemoryID() string {
	return "mem_" + strings.ToLower(ulid.Make().String())
}

// inTx runs fn in a transaction, committing on success and rolling back otherwise.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func decodeTags(s string) []string {
	var tags []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

// memoryColumns is the select list understood by scanMemory.
const memoryColumns = `id, title, content, type, importance, tags, visibility, embedding,
	created_at, updated_at, last_accessed_at, access_count, version,
	sync_state, remote_id, remote_updated_at, synced_at, content_changed_at,
	sync_error, sync_attempts, sync_stale, deleted_at, delete_reason, merged_into`

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(sc scanner) (*models.Memory, error) {
	var (
		m                                          models.Memory
		typ, tags, vis, syncState                  string
		created, updated, accessed, contentChanged string
		embedding                                  []byte
		remoteID, remoteUpdated, syncedAt          sql.NullString
		deletedAt, mergedInto                      sql.NullString
		stale                                      int
	)
	err := sc.Scan(
		&m.ID, &m.Title, &m.Content, &typ, &m.Importance, &tags, &vis, &embedding,
		&created, &updated, &accessed, &m.AccessCount, &m.Version,
		&syncState, &remoteID, &remoteUpdated, &syncedAt, &contentChanged,
		&m.SyncError, &m.SyncAttempts, &stale, &deletedAt, &m.DeleteReason, &mergedInto,
	)
	if err != nil {
		return nil, err
	}
	m.Type = models.MemoryType(typ)
	m.Tags = decodeTags(tags)
	m.Visibility = models.Visibility(vis)
	m.Embedding = decodeVector(embedding)
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	m.LastAccessedAt = parseTime(accessed)
	m.ContentChangedAt = parseTime(contentChanged)
	m.SyncState = models.SyncState(syncState)
	m.RemoteID = remoteID.String
	m.RemoteUpdatedAt = parseNullTime(remoteUpdated)
	m.SyncedAt = parseNullTime(syncedAt)
	m.SyncStale = stale != 0
	m.DeletedAt = parseNullTime(deletedAt)
	m.MergedInto = mergedInto.String
	return &m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
