package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/ajitpratap0/openclaw-brain/internal/embedder"
	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// DefaultSearchLimit is used when a caller passes a non-positive limit.
const DefaultSearchLimit = 10

// SearchFilters narrows a search. Tags are glob patterns (e.g. "client-*"); a memory
// matches when every pattern matches at least one of its tags.
type SearchFilters struct {
	Types         []models.MemoryType
	Tags          []string
	MinImportance int
	// MinScore overrides the configured threshold when positive.
	MinScore float64
}

// Search ranks live memories against query by 0.4·lexical + 0.6·semantic.
// A memory qualifies when its score reaches the threshold or it matches lexically.
// Ties are broken by importance then recency of update.
func (s *Service) Search(ctx context.Context, query string, limit int, f *SearchFilters) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.Invalid("query", "must not be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if f == nil {
		f = &SearchFilters{}
	}
	for _, t := range f.Types {
		if !t.IsValid() {
			return nil, models.Invalid("type", "unknown memory type %q", t)
		}
	}
	patterns, err := compileTagPatterns(f.Tags)
	if err != nil {
		return nil, err
	}
	minScore := s.opts.MinScore
	if f.MinScore > 0 {
		minScore = f.MinScore
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		// Lexical ranking still works; semantic scores fall to zero.
		s.logger.Warn("search: embedding query failed, ranking lexically", "error", err)
		qvec = nil
	}

	lf := store.ListFilter{Types: f.Types}
	if f.MinImportance > 0 {
		lf.MinImportance = &f.MinImportance
	}
	candidates, err := s.store.ListMemories(ctx, lf)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	q := strings.ToLower(query)
	terms := strings.Fields(q)
	var results []models.SearchResult
	for i := range candidates {
		m := candidates[i]
		if !matchTags(patterns, m.Tags) {
			continue
		}
		lex := LexicalScore(q, terms, m.Title, m.Content)
		sem := 0.0
		if qvec != nil {
			sem = embedder.Similarity01(qvec, m.Embedding)
		}
		score := s.opts.LexicalWeight*lex + s.opts.SemanticWeight*sem
		if score < minScore && lex == 0 {
			continue
		}
		m.Embedding = nil
		results = append(results, models.SearchResult{Memory: m, Score: score, Lexical: lex, Semantic: sem})
	}

	SortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i := range results {
			ids[i] = results[i].Memory.ID
		}
		if err := s.store.TouchAccess(ctx, ids...); err != nil {
			s.logger.Warn("search: recording access", "error", err)
		}
	}
	metrics.Inc(metrics.SearchTotal)
	s.logger.Debug("search complete", "query", query, "candidates", len(candidates), "results", len(results))
	return results, nil
}

// LexicalScore is 1 when the whole lower-cased query occurs in title or content,
// otherwise the fraction of query terms that occur in either.
func LexicalScore(q string, terms []string, title, content string) float64 {
	title = strings.ToLower(title)
	content = strings.ToLower(content)
	if strings.Contains(title, q) || strings.Contains(content, q) {
		return 1
	}
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(title, t) || strings.Contains(content, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// SortResults orders by score desc, importance desc, updated_at desc, then id.
func SortResults(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.UpdatedAt.Equal(b.Memory.UpdatedAt) {
			return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})
}

func compileTagPatterns(tags []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(tags))
	for _, t := range tags {
		g, err := glob.Compile(t)
		if err != nil {
			return nil, models.Invalid("tags", "bad tag pattern %q: %v", t, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchTags(patterns []glob.Glob, tags []string) bool {
	for _, p := range patterns {
		ok := false
		for _, t := range tags {
			if p.Match(t) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
