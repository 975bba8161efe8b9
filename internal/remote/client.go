// Package remote is an HTTP client for the team knowledge-base API.
//
// Every failure is classified: network errors, timeouts, 429 and 5xx responses become
// *models.RemoteUnavailableError (retryable); other non-2xx responses become
// *models.RemoteRejectedError (permanent).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

const apiPrefix = "/api/external/knowledge/"

// Remote node types. Local memory and conversation have no remote counterpart.
const (
	NodeConcept   = "concept"
	NodeResource  = "resource"
	NodeDecision  = "decision"
	NodeProcedure = "procedure"
	NodePerson    = "person"
	NodeCompany   = "company"
	NodeProduct   = "product"
)

// DefaultSearchScore is assigned to remote search hits that carry no score.
const DefaultSearchScore = 0.5

// Node is a knowledge-base node as exchanged with the remote API.
type Node struct {
	ID         string    `json:"id,omitempty"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Visibility string    `json:"visibility,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
	Score      float64   `json:"score,omitempty"`
}

// Edge is a typed relation between two remote nodes.
type Edge struct {
	ID     string `json:"id,omitempty"`
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Type   string `json:"type"`
}

// SearchResult is the answer of the context endpoint.
type SearchResult struct {
	Nodes    []Node `json:"nodes"`
	Markdown string `json:"markdown,omitempty"`
}

type contextRequest struct {
	Query           string `json:"query"`
	MaxNodes        int    `json:"maxNodes"`
	MaxDepth        int    `json:"maxDepth"`
	IncludeEntities bool   `json:"includeEntities"`
}

type nodeList struct {
	Nodes []Node `json:"nodes"`
}

type errorBody struct {
	Error   any    `json:"error"`
	Message string `json:"message"`
}

// Client talks to the remote knowledge base. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client for baseURL (scheme and host, no API prefix).
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateNode creates a node and returns it with its remote id.
func (c *Client) CreateNode(ctx context.Context, n Node) (*Node, error) {
	var out Node
	if err := c.do(ctx, "create node", http.MethodPost, "nodes", nil, n, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &models.RemoteRejectedError{Op: "create node", Status: http.StatusOK, Message: "response carries no node id"}
	}
	return &out, nil
}

// GetNode fetches one node.
func (c *Client) GetNode(ctx context.Context, id string) (*Node, error) {
	var out Node
	if err := c.do(ctx, "get node", http.MethodGet, "nodes/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateNode replaces the pushed fields of an existing node.
func (c *Client) UpdateNode(ctx context.Context, id string, n Node) (*Node, error) {
	n.ID = ""
	var out Node
	if err := c.do(ctx, "update node", http.MethodPut, "nodes/"+url.PathEscape(id), nil, n, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}

// ListUpdated returns nodes updated at or after since, oldest first, at most limit.
func (c *Client) ListUpdated(ctx context.Context, since time.Time, limit int) ([]Node, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("updatedSince", since.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out nodeList
	if err := c.do(ctx, "list nodes", http.MethodGet, "nodes", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// Search queries the context endpoint. Hits without a score get DefaultSearchScore.
func (c *Client) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	req := contextRequest{Query: query, MaxNodes: limit, MaxDepth: 1, IncludeEntities: true}
	var out SearchResult
	if err := c.do(ctx, "search", http.MethodPost, "context", nil, req, &out); err != nil {
		return nil, err
	}
	for i := range out.Nodes {
		if out.Nodes[i].Score == 0 {
			out.Nodes[i].Score = DefaultSearchScore
		}
	}
	if limit > 0 && len(out.Nodes) > limit {
		out.Nodes = out.Nodes[:limit]
	}
	return &out, nil
}

// CreateEdge links two remote nodes and returns the edge id.
func (c *Client) CreateEdge(ctx context.Context, e Edge) (string, error) {
	var out Edge
	if err := c.do(ctx, "create edge", http.MethodPost, "edges", nil, e, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Ping checks the API answers and accepts the credential.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{"limit": []string{"1"}}
	return c.do(ctx, "ping", http.MethodGet, "nodes", q, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: %s: marshalling request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("remote: %s: creating request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.RemoteUnavailableError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("remote request", "op", op, "method", method, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &models.RemoteRejectedError{Op: op, Status: resp.StatusCode, Message: "decoding response: " + err.Error()}
	}
	return nil
}

// classify maps a non-2xx response to the error taxonomy.
func classify(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := errorMessage(raw)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &models.RemoteUnavailableError{Op: op, Status: resp.StatusCode, Err: errors.New(msg)}
	}
	return &models.RemoteRejectedError{Op: op, Status: resp.StatusCode, Message: msg}
}

func errorMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		switch v := eb.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "empty response body"
	}
	return s
}

// NodeType maps a local memory type to the remote node type.
func NodeType(t models.MemoryType) string {
	switch t {
	case models.MemoryTypeMemory:
		return NodeConcept
	case models.MemoryTypeConversation:
		return NodeResource
	default:
		return string(t)
	}
}

// MemoryType maps a remote node type back to a local memory type. Types without a local
// counterpart, such as procedure, become memory.
func MemoryType(nodeType string) models.MemoryType {
	t := models.MemoryType(strings.ToLower(nodeType))
	if t == models.MemoryTypeMemory || t == models.MemoryTypeConversation || !t.IsValid() {
		return models.MemoryTypeMemory
	}
	return t
}
