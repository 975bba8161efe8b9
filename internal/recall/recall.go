// Package recall builds the context bundle handed to an assistant before it answers:
// local memory hits, plus team knowledge-base hits when the topic looks domain-relevant.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
	"github.com/ajitpratap0/openclaw-brain/pkg/tokenizer"
)

// Item sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// LocalSearcher is the local memory search.
type LocalSearcher interface {
	Search(ctx context.Context, query string, limit int, f *memory.SearchFilters) ([]models.SearchResult, error)
}

// RemoteSearcher is the team knowledge-base search.
type RemoteSearcher interface {
	Search(ctx context.Context, query string, limit int) (*remote.SearchResult, error)
}

// Options holds the bundle policy.
type Options struct {
	MaxItems      int
	RemoteLimit   int
	MinScore      float64
	Keywords      []string
	LocalSnippet  int
	RemoteSnippet int
	TokenBudget   int
}

// DefaultOptions returns the stock bundle policy.
func DefaultOptions() Options {
	return Options{
		MaxItems:      5,
		RemoteLimit:   3,
		MinScore:      0.25,
		Keywords:      []string{"avs", "logic", "sellsy", "intranet", "client", "ticket", "sujet"},
		LocalSnippet:  300,
		RemoteSnippet: 200,
		TokenBudget:   2000,
	}
}

// Item is one entry of a bundle.
type Item struct {
	Source     string  `json:"source"`
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	Importance int     `json:"importance,omitempty"`
}

// Bundle is the result of ContextFor.
type Bundle struct {
	Topic         string `json:"topic"`
	Items         []Item `json:"items"`
	LocalCount    int    `json:"local_count"`
	RemoteCount   int    `json:"remote_count"`
	RemoteQueried bool   `json:"remote_queried"`
	RemoteError   string `json:"remote_error,omitempty"`
	Markdown      string `json:"markdown,omitempty"`
	Tokens        int    `json:"tokens"`
}

// HasContext reports whether anything relevant was found.
func (b *Bundle) HasContext() bool { return len(b.Items) > 0 }

// Recaller composes local and remote search into a bundle. It keeps no state of its own.
type Recaller struct {
	local  LocalSearcher
	remote RemoteSearcher
	opts   Options
	logger *slog.Logger
}

// NewRecaller creates a Recaller. rs may be nil when no remote is configured.
func NewRecaller(ls LocalSearcher, rs RemoteSearcher, opts Options, logger *slog.Logger) *Recaller {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 5
	}
	return &Recaller{local: ls, remote: rs, opts: opts, logger: logger}
}

// DomainRelevant reports whether topic mentions one of the configured keywords.
func (r *Recaller) DomainRelevant(topic string) bool {
	t := strings.ToLower(topic)
	for _, kw := range r.opts.Keywords {
		if kw != "" && strings.Contains(t, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ContextFor returns up to k items relevant to topic, best first; local items come
// before remote items of equal score. A non-positive k uses MaxItems. Local and remote
// searches run concurrently; a remote failure is reported in the bundle and the local
// hits are still returned.
func (r *Recaller) ContextFor(ctx context.Context, topic string, k int) (*Bundle, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, models.Invalid("topic", "must not be empty")
	}
	if k <= 0 {
		k = r.opts.MaxItems
	}
	b := &Bundle{Topic: topic, RemoteQueried: r.remote != nil && r.DomainRelevant(topic)}

	var (
		local []models.SearchResult
		nodes []remote.Node
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.local.Search(gctx, topic, k, &memory.SearchFilters{MinScore: r.opts.MinScore})
		if err != nil {
			return fmt.Errorf("context: local search: %w", err)
		}
		local = res
		return nil
	})
	if b.RemoteQueried {
		g.Go(func() error {
			res, err := r.remote.Search(gctx, topic, r.opts.RemoteLimit)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("context: remote search failed, using local hits only", "error", err)
					b.RemoteError = err.Error()
				}
				return nil
			}
			nodes = res.Nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(local)+len(nodes))
	for _, sr := range local {
		items = append(items, Item{
			Source:     SourceLocal,
			ID:         sr.Memory.ID,
			Title:      sr.Memory.Title,
			Content:    sr.Memory.Content,
			Type:       string(sr.Memory.Type),
			Score:      sr.Score,
			Importance: sr.Memory.Importance,
		})
	}
	for i, n := range nodes {
		if r.opts.RemoteLimit > 0 && i >= r.opts.RemoteLimit {
			break
		}
		items = append(items, Item{
			Source:  SourceRemote,
			ID:      n.ID,
			Title:   n.Title,
			Content: n.Content,
			Type:    n.Type,
			Score:   n.Score,
		})
	}
	rank(items)
	if len(items) > k {
		items = items[:k]
	}

	b.Items = items
	r.fit(b)
	metrics.Inc(metrics.ContextTotal)
	r.logger.Debug("context built", "topic", topic, "local", b.LocalCount, "remote", b.RemoteCount, "tokens", b.Tokens)
	return b, nil
}

// rank orders by score, local before remote on ties, then by the search order.
func rank(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Source == SourceLocal && items[j].Source == SourceRemote
	})
}

// fit renders the bundle, dropping the lowest-ranked items until the markdown fits the
// token budget. A single oversized item is truncated instead.
func (r *Recaller) fit(b *Bundle) {
	for {
		b.Markdown = Render(b.Items, r.opts.LocalSnippet, r.opts.RemoteSnippet)
		b.Tokens = tokenizer.Estimate(b.Markdown)
		if r.opts.TokenBudget <= 0 || b.Tokens <= r.opts.TokenBudget {
			break
		}
		if len(b.Items) <= 1 {
			b.Markdown = tokenizer.Truncate(b.Markdown, r.opts.TokenBudget)
			b.Tokens = tokenizer.Estimate(b.Markdown)
			break
		}
		b.Items = b.Items[:len(b.Items)-1]
	}
	b.LocalCount, b.RemoteCount = 0, 0
	for _, it := range b.Items {
		if it.Source == SourceLocal {
			b.LocalCount++
		} else {
			b.RemoteCount++
		}
	}
}

// Render formats items as a markdown context block, or "" when there are none.
func Render(items []Item, localSnippet, remoteSnippet int) string {
	if len(items) == 0 {
		return ""
	}
	var local, team []Item
	for _, it := range items {
		if it.Source == SourceLocal {
			local = append(local, it)
		} else {
			team = append(team, it)
		}
	}

	var sb strings.Builder
	sb.WriteString("## Relevant context from memory\n\n")
	if len(local) > 0 {
		sb.WriteString("### Local memory\n")
		for _, it := range local {
			fmt.Fprintf(&sb, "**%s** (%s, score: %.2f)\n", it.Title, it.Type, it.Score)
			fmt.Fprintf(&sb, "> %s\n\n", quote(tokenizer.Snippet(it.Content, localSnippet)))
		}
	}
	if len(team) > 0 {
		sb.WriteString("### Team knowledge base\n")
		for _, it := range team {
			fmt.Fprintf(&sb, "**%s** (%s)\n", it.Title, it.Type)
			if it.Content != "" {
				fmt.Fprintf(&sb, "> %s\n", quote(tokenizer.Snippet(it.Content, remoteSnippet)))
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// quote keeps multi-line content inside the blockquote.
func quote(s string) string {
	return strings.ReplaceAll(s, "\n", "\n> ")
}
