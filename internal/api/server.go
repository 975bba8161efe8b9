// Package api exposes the brain over HTTP/JSON.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/recall"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 1 << 20

// Syncer is the part of the sync engine the API drives.
type Syncer interface {
	Sync(ctx context.Context, dir syncer.Direction) (*syncer.Report, error)
	Resolve(ctx context.Context, id string, r models.Resolution) (*models.Memory, error)
	Conflicts(ctx context.Context) ([]models.Memory, error)
}

// ContextBuilder builds context bundles.
type ContextBuilder interface {
	ContextFor(ctx context.Context, topic string, k int) (*recall.Bundle, error)
}

// Server is an HTTP API server that exposes memory operations.
type Server struct {
	memories  *memory.Service
	sync      Syncer
	builder   ContextBuilder
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server. sync may be nil when no remote is configured.
func NewServer(svc *memory.Service, sync Syncer, cb ContextBuilder, logger *slog.Logger, authToken string) *Server {
	return &Server{
		memories:  svc,
		sync:      sync,
		builder:   cb,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/memories", s.auth(s.handleRemember))
	mux.HandleFunc("GET /v1/memories/{id}", s.auth(s.handleGet))
	mux.HandleFunc("PATCH /v1/memories/{id}", s.auth(s.handleUpdate))
	mux.HandleFunc("DELETE /v1/memories/{id}", s.auth(s.handleForget))
	mux.HandleFunc("GET /v1/memories/{id}/links", s.auth(s.handleLinks))
	mux.HandleFunc("POST /v1/memories/{id}/resolve", s.auth(s.handleResolve))
	mux.HandleFunc("POST /v1/links", s.auth(s.handleLink))
	mux.HandleFunc("POST /v1/search", s.auth(s.handleSearch))
	mux.HandleFunc("POST /v1/context", s.auth(s.handleContext))
	mux.HandleFunc("POST /v1/sync", s.auth(s.handleSync))
	mux.HandleFunc("GET /v1/conflicts", s.auth(s.handleConflicts))
	mux.HandleFunc("GET /v1/stats", s.auth(s.handleStats))
	mux.Handle("GET /debug/vars", s.auth(expvar.Handler().ServeHTTP))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rememberRequest is the body accepted by POST /v1/memories.
type rememberRequest struct {
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Type       models.MemoryType `json:"type"`
	Importance *int              `json:"importance"`
	Tags       []string          `json:"tags"`
	Visibility models.Visibility `json:"visibility"`
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.memories.Create(r.Context(), memory.CreateInput{
		Title:      req.Title,
		Content:    req.Content,
		Type:       req.Type,
		Importance: req.Importance,
		Tags:       req.Tags,
		Visibility: req.Visibility,
	})
	if err != nil {
		s.fail(w, "remember", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.memories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

// updateRequest is the body accepted by PATCH /v1/memories/{id}. Absent fields are unchanged.
type updateRequest struct {
	Title      *string            `json:"title"`
	Content    *string            `json:"content"`
	Type       *models.MemoryType `json:"type"`
	Importance *int               `json:"importance"`
	Tags       *[]string          `json:"tags"`
	Visibility *models.Visibility `json:"visibility"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.memories.Update(r.Context(), r.PathValue("id"), memory.UpdateInput{
		Title:      req.Title,
		Content:    req.Content,
		Type:       req.Type,
		Importance: req.Importance,
		Tags:       req.Tags,
		Visibility: req.Visibility,
	})
	if err != nil {
		s.fail(w, "update", err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	forgotten, err := s.memories.Forget(r.Context(), id, r.URL.Query().Get("reason"))
	if err != nil {
		s.fail(w, "forget", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "forgotten": forgotten})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.memories.Lookup(r.Context(), id); err != nil {
		s.fail(w, "links", err)
		return
	}
	links, err := s.memories.Links(r.Context(), id)
	if err != nil {
		s.fail(w, "links", err)
		return
	}
	if links == nil {
		links = []models.Link{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

// linkRequest is the body accepted by POST /v1/links.
type linkRequest struct {
	FromID        string              `json:"from_id"`
	ToID          string              `json:"to_id"`
	RelationType  models.RelationType `json:"relation_type"`
	Bidirectional bool                `json:"bidirectional"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	l, err := s.memories.Link(r.Context(), memory.LinkInput(req))
	if err != nil {
		s.fail(w, "link", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, l)
}

// searchRequest is the body accepted by POST /v1/search.
type searchRequest struct {
	Query         string              `json:"query"`
	Limit         int                 `json:"limit"`
	Types         []models.MemoryType `json:"types"`
	Tags          []string            `json:"tags"`
	MinImportance int                 `json:"min_importance"`
}

// searchResponse is returned by POST /v1/search.
type searchResponse struct {
	Results []models.SearchResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	results, err := s.memories.Search(r.Context(), req.Query, req.Limit, &memory.SearchFilters{
		Types:         req.Types,
		Tags:          req.Tags,
		MinImportance: req.MinImportance,
	})
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// contextRequest is the body accepted by POST /v1/context.
type contextRequest struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.builder.ContextFor(r.Context(), req.Topic, req.Limit)
	if err != nil {
		s.fail(w, "context", err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// syncRequest is the body accepted by POST /v1/sync. An empty body syncs both ways.
type syncRequest struct {
	Direction syncer.Direction `json:"direction"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.remoteConfigured(w) {
		return
	}
	var req syncRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	rep, err := s.sync.Sync(r.Context(), req.Direction)
	if err != nil {
		s.fail(w, "sync", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

// resolveRequest is the body accepted by POST /v1/memories/{id}/resolve.
type resolveRequest struct {
	Resolution models.Resolution `json:"resolution"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !s.remoteConfigured(w) {
		return
	}
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.sync.Resolve(r.Context(), r.PathValue("id"), req.Resolution)
	if err != nil {
		s.fail(w, "resolve", err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if !s.remoteConfigured(w) {
		return
	}
	mems, err := s.sync.Conflicts(r.Context())
	if err != nil {
		s.fail(w, "conflicts", err)
		return
	}
	if mems == nil {
		mems = []models.Memory{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conflicts": mems})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.memories.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

func (s *Server) remoteConfigured(w http.ResponseWriter) bool {
	if s.sync == nil {
		s.writeError(w, http.StatusServiceUnavailable, "remote knowledge base is not configured")
		return false
	}
	return true
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// StatusFor maps an error class to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrRemoteRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and their text hidden.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
		s.writeError(w, status, op+" failed")
		return
	}
	s.logger.Debug("request rejected", "op", op, "status", status, "error", err)
	s.writeError(w, status, err.Error())
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
