// Package mcp implements the Model Context Protocol server for openclaw-brain.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/recall"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

const (
	serverName    = "openclaw-brain"
	serverVersion = "1.0.0"
)

// Syncer runs synchronization with the team knowledge base.
type Syncer interface {
	Sync(ctx context.Context, dir syncer.Direction) (*syncer.Report, error)
	Resolve(ctx context.Context, id string, r models.Resolution) (*models.Memory, error)
}

// ContextBuilder builds context bundles.
type ContextBuilder interface {
	ContextFor(ctx context.Context, topic string, k int) (*recall.Bundle, error)
}

// Server wraps an MCPServer with the brain services.
type Server struct {
	mcp      *mcpserver.MCPServer
	memories *memory.Service
	sync     Syncer
	builder  ContextBuilder
	logger   *slog.Logger
}

// NewServer creates a new MCP server. sync may be nil, in which case the sync and
// resolve tools report that no remote is configured.
func NewServer(svc *memory.Service, sync Syncer, cb ContextBuilder, logger *slog.Logger) *Server {
	s := &Server{memories: svc, sync: sync, builder: cb, logger: logger}

	mcpSrv := mcpserver.NewMCPServer(serverName, serverVersion, mcpserver.WithToolCapabilities(true))
	mcpSrv.AddTool(buildRememberTool(), s.handleRemember)
	mcpSrv.AddTool(buildSearchTool(), s.handleSearch)
	mcpSrv.AddTool(buildGetTool(), s.handleGet)
	mcpSrv.AddTool(buildUpdateTool(), s.handleUpdate)
	mcpSrv.AddTool(buildLinkTool(), s.handleLink)
	mcpSrv.AddTool(buildForgetTool(), s.handleForget)
	mcpSrv.AddTool(buildSyncTool(), s.handleSync)
	mcpSrv.AddTool(buildResolveTool(), s.handleResolve)
	mcpSrv.AddTool(buildStatsTool(), s.handleStats)
	mcpSrv.AddTool(buildContextTool(), s.handleContext)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// toolError turns err into a tool error result. Caller-visible classes keep their
// message; anything else is logged and reported generically.
func (s *Server) toolError(tool string, err error) *mcpgo.CallToolResult {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrRemoteUnavailable),
		errors.Is(err, models.ErrRemoteRejected):
		return mcpgo.NewToolResultError(err.Error())
	}
	s.logger.Error("mcp: tool failed", "tool", tool, "error", err)
	return mcpgo.NewToolResultErrorf("%s failed: internal error", tool)
}

func has(req mcpgo.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

func optString(req mcpgo.CallToolRequest, key string) *string {
	if !has(req, key) {
		return nil
	}
	v := req.GetString(key, "")
	return &v
}

func optInt(req mcpgo.CallToolRequest, key string) *int {
	if !has(req, key) {
		return nil
	}
	v := req.GetInt(key, 0)
	return &v
}

// --- tool definitions ---

func buildRememberTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_remember",
		mcpgo.WithDescription("Store a memory. Important memories (importance >= 70) are queued for the team knowledge base."),
		mcpgo.WithString("title", mcpgo.Required(), mcpgo.Description("Short title")),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("The text to remember")),
		mcpgo.WithString("type",
			mcpgo.Description("product, company, person, concept, decision, resource, memory or conversation (default: memory)"),
		),
		mcpgo.WithNumber("importance", mcpgo.Description("Importance 0-100 (default: 50)")),
		mcpgo.WithArray("tags", mcpgo.Description("Tags"), mcpgo.Items(map[string]any{"type": "string"})),
		mcpgo.WithString("visibility", mcpgo.Description("public, restricted or admin (default: derived from tags)")),
	)
}

func buildSearchTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_search",
		mcpgo.WithDescription("Hybrid lexical and semantic search over local memories."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The query to search for")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of results (default: 10)")),
		mcpgo.WithString("type", mcpgo.Description("Restrict to one memory type")),
		mcpgo.WithArray("tags", mcpgo.Description("Tag glob patterns that must all match, e.g. client-*"), mcpgo.Items(map[string]any{"type": "string"})),
		mcpgo.WithNumber("min_importance", mcpgo.Description("Minimum importance")),
	)
}

func buildGetTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_get",
		mcpgo.WithDescription("Fetch one memory by id, with its links."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Memory id")),
	)
}

func buildUpdateTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_update",
		mcpgo.WithDescription("Update fields of a memory. Omitted fields are unchanged."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Memory id")),
		mcpgo.WithString("title", mcpgo.Description("New title")),
		mcpgo.WithString("content", mcpgo.Description("New content")),
		mcpgo.WithString("type", mcpgo.Description("New type")),
		mcpgo.WithNumber("importance", mcpgo.Description("New importance 0-100")),
		mcpgo.WithArray("tags", mcpgo.Description("Replacement tags"), mcpgo.Items(map[string]any{"type": "string"})),
		mcpgo.WithString("visibility", mcpgo.Description("New visibility")),
	)
}

func buildLinkTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_link",
		mcpgo.WithDescription("Create a typed relation between two memories."),
		mcpgo.WithString("from_id", mcpgo.Required(), mcpgo.Description("Source memory id")),
		mcpgo.WithString("to_id", mcpgo.Required(), mcpgo.Description("Target memory id")),
		mcpgo.WithString("relation_type",
			mcpgo.Description("related_to, depends_on, implements, part_of, supersedes, used_by or created_by (default: related_to)"),
		),
		mcpgo.WithBoolean("bidirectional", mcpgo.Description("Also create the reverse link")),
	)
}

func buildForgetTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_forget",
		mcpgo.WithDescription("Forget a memory. The record is kept as a tombstone and no longer returned."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Memory id")),
		mcpgo.WithString("reason", mcpgo.Description("Why the memory is forgotten")),
	)
}

func buildSyncTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_sync",
		mcpgo.WithDescription("Synchronize with the team knowledge base."),
		mcpgo.WithString("direction", mcpgo.Description("push, pull or both (default: both)")),
	)
}

func buildResolveTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_resolve",
		mcpgo.WithDescription("Resolve a sync conflict."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Memory id")),
		mcpgo.WithString("resolution", mcpgo.Required(), mcpgo.Description("keep_local or keep_remote")),
	)
}

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_stats",
		mcpgo.WithDescription("Memory counts by type, sync status and recent sync activity."),
	)
}

func buildContextTool() mcpgo.Tool {
	return mcpgo.NewTool("brain_context",
		mcpgo.WithDescription("Relevant context for a topic from local memory and, for domain topics, the team knowledge base. Returns markdown."),
		mcpgo.WithString("topic", mcpgo.Required(), mcpgo.Description("The topic or question")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum items (default: 5)")),
	)
}

// --- tool handlers ---

func (s *Server) handleRemember(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	m, err := s.memories.Create(ctx, memory.CreateInput{
		Title:      req.GetString("title", ""),
		Content:    req.GetString("content", ""),
		Type:       models.MemoryType(req.GetString("type", "")),
		Importance: optInt(req, "importance"),
		Tags:       req.GetStringSlice("tags", nil),
		Visibility: models.Visibility(req.GetString("visibility", "")),
	})
	if err != nil {
		return s.toolError("brain_remember", err), nil
	}
	return toolResultJSON(map[string]any{
		"id":         m.ID,
		"sync_state": m.SyncState,
		"visibility": m.Visibility,
	})
}

func (s *Server) handleSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	f := &memory.SearchFilters{
		Tags:          req.GetStringSlice("tags", nil),
		MinImportance: req.GetInt("min_importance", 0),
	}
	if t := req.GetString("type", ""); t != "" {
		f.Types = []models.MemoryType{models.MemoryType(t)}
	}
	results, err := s.memories.Search(ctx, req.GetString("query", ""), req.GetInt("limit", memory.DefaultSearchLimit), f)
	if err != nil {
		return s.toolError("brain_search", err), nil
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return toolResultJSON(map[string]any{"results": results})
}

func (s *Server) handleGet(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id := req.GetString("id", "")
	m, err := s.memories.Get(ctx, id)
	if err != nil {
		return s.toolError("brain_get", err), nil
	}
	links, err := s.memories.Links(ctx, id)
	if err != nil {
		return s.toolError("brain_get", err), nil
	}
	if links == nil {
		links = []models.Link{}
	}
	return toolResultJSON(map[string]any{"memory": m, "links": links})
}

func (s *Server) handleUpdate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	in := memory.UpdateInput{
		Title:      optString(req, "title"),
		Content:    optString(req, "content"),
		Importance: optInt(req, "importance"),
	}
	if t := optString(req, "type"); t != nil {
		mt := models.MemoryType(*t)
		in.Type = &mt
	}
	if v := optString(req, "visibility"); v != nil {
		vis := models.Visibility(*v)
		in.Visibility = &vis
	}
	if has(req, "tags") {
		tags := req.GetStringSlice("tags", []string{})
		in.Tags = &tags
	}
	m, err := s.memories.Update(ctx, req.GetString("id", ""), in)
	if err != nil {
		return s.toolError("brain_update", err), nil
	}
	return toolResultJSON(m)
}

func (s *Server) handleLink(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	l, err := s.memories.Link(ctx, memory.LinkInput{
		FromID:        req.GetString("from_id", ""),
		ToID:          req.GetString("to_id", ""),
		RelationType:  models.RelationType(req.GetString("relation_type", "")),
		Bidirectional: req.GetBool("bidirectional", false),
	})
	if err != nil {
		return s.toolError("brain_link", err), nil
	}
	return toolResultJSON(l)
}

func (s *Server) handleForget(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}
	forgotten, err := s.memories.Forget(ctx, id, req.GetString("reason", ""))
	if err != nil {
		return s.toolError("brain_forget", err), nil
	}
	return toolResultJSON(map[string]any{"id": id, "forgotten": forgotten})
}

func (s *Server) handleSync(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.sync == nil {
		return mcpgo.NewToolResultError("remote knowledge base is not configured"), nil
	}
	rep, err := s.sync.Sync(ctx, syncer.Direction(req.GetString("direction", "")))
	if err != nil {
		return s.toolError("brain_sync", err), nil
	}
	return toolResultJSON(rep)
}

func (s *Server) handleResolve(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.sync == nil {
		return mcpgo.NewToolResultError("remote knowledge base is not configured"), nil
	}
	m, err := s.sync.Resolve(ctx, req.GetString("id", ""), models.Resolution(req.GetString("resolution", "")))
	if err != nil {
		return s.toolError("brain_resolve", err), nil
	}
	return toolResultJSON(m)
}

func (s *Server) handleStats(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	stats, err := s.memories.Stats(ctx)
	if err != nil {
		return s.toolError("brain_stats", err), nil
	}
	return toolResultJSON(stats)
}

// handleContext returns the rendered markdown; an empty bundle yields an empty text.
func (s *Server) handleContext(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	b, err := s.builder.ContextFor(ctx, req.GetString("topic", ""), req.GetInt("limit", 0))
	if err != nil {
		return s.toolError("brain_context", err), nil
	}
	return mcpgo.NewToolResultText(b.Markdown), nil
}
