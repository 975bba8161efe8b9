// Package entity extracts named entities from memory text and maintains the
// entity-to-memory associations in the store.
package entity

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// Extractor finds entity mentions in text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]models.Mention, error)
}

var (
	emailRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe  = regexp.MustCompile(`(?:^|[^\d+])((?:0|\+33)[1-9](?:[\s.-]?\d{2}){4})\b`)
	urlRe    = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
	ticketRe = regexp.MustCompile(`(?i)(?:\b(?:TICKET|TKT)|#)[-_]?\d+\b`)
	sujetRe  = regexp.MustCompile(`(?i)\b(?:SUJET|SUJ|PRJ)[-_]?\d+\b`)
	personRe = regexp.MustCompile(`\b([A-Z][a-z]+)\s+([A-Z][a-z]+)\b`)
)

// PatternExtractor recognizes configured product and company names and a fixed set of
// patterns: emails, French phone numbers, URLs, ticket and sujet references, and
// two capitalized words as a person name. It performs no I/O.
type PatternExtractor struct {
	products  []known
	companies []known
	reserved  map[string]bool
}

type known struct {
	name string
	re   *regexp.Regexp
}

// NewPatternExtractor builds an extractor for the given known names.
func NewPatternExtractor(products, companies []string) *PatternExtractor {
	p := &PatternExtractor{reserved: make(map[string]bool)}
	for _, n := range products {
		if k, ok := compileKnown(n); ok {
			p.products = append(p.products, k)
			p.reserved[n] = true
		}
	}
	for _, n := range companies {
		if k, ok := compileKnown(n); ok {
			p.companies = append(p.companies, k)
			p.reserved[n] = true
		}
	}
	return p
}

func compileKnown(name string) (known, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return known{}, false
	}
	pat := regexp.QuoteMeta(name)
	first, _ := utf8.DecodeRuneInString(name)
	last, _ := utf8.DecodeLastRuneInString(name)
	if isWord(first) {
		pat = `\b` + pat
	}
	if isWord(last) {
		pat += `\b`
	}
	return known{name: name, re: regexp.MustCompile(`(?i)` + pat)}, true
}

func isWord(r rune) bool {
	return r == '_' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

// Extract returns one mention per distinct (type, name), at its first occurrence,
// ordered by position.
func (p *PatternExtractor) Extract(_ context.Context, text string) ([]models.Mention, error) {
	return p.ExtractText(text), nil
}

// ExtractText is the pure form of Extract.
func (p *PatternExtractor) ExtractText(text string) []models.Mention {
	c := newCollector()
	for _, k := range p.products {
		if loc := k.re.FindStringIndex(text); loc != nil {
			c.add(k.name, models.EntityTypeProduct, loc[0], loc[1])
		}
	}
	for _, k := range p.companies {
		if loc := k.re.FindStringIndex(text); loc != nil {
			c.add(k.name, models.EntityTypeCompany, loc[0], loc[1])
		}
	}
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		c.add(text[loc[0]:loc[1]], models.EntityTypeEmail, loc[0], loc[1])
	}
	for _, m := range phoneRe.FindAllStringSubmatchIndex(text, -1) {
		c.add(text[m[2]:m[3]], models.EntityTypePhone, m[2], m[3])
	}
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		c.add(text[loc[0]:loc[1]], models.EntityTypeURL, loc[0], loc[1])
	}
	for _, loc := range ticketRe.FindAllStringIndex(text, -1) {
		c.add(strings.ToUpper(text[loc[0]:loc[1]]), models.EntityTypeTicket, loc[0], loc[1])
	}
	for _, loc := range sujetRe.FindAllStringIndex(text, -1) {
		c.add(strings.ToUpper(text[loc[0]:loc[1]]), models.EntityTypeSujet, loc[0], loc[1])
	}
	for _, m := range personRe.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[2]:m[3]] + " " + text[m[4]:m[5]]
		if p.reserved[full] {
			continue
		}
		c.add(full, models.EntityTypePerson, m[0], m[1])
	}
	return c.sorted()
}

// collector deduplicates mentions by type and normalized name. A repeated mention
// contributes the aliases the first one lacked.
type collector struct {
	seen map[string]int
	out  []models.Mention
}

func newCollector() *collector {
	return &collector{seen: make(map[string]int)}
}

func (c *collector) add(name string, typ models.EntityType, start, end int) {
	c.addMention(models.Mention{Name: name, Type: typ, Start: start, End: end})
}

func (c *collector) addMention(mn models.Mention) {
	key := string(mn.Type) + "\x00" + store.NormalizeAlias(mn.Name)
	i, ok := c.seen[key]
	if !ok {
		c.seen[key] = len(c.out)
		c.out = append(c.out, mn)
		return
	}
	have := make(map[string]bool, len(c.out[i].Aliases))
	for _, a := range c.out[i].Aliases {
		have[store.NormalizeAlias(a)] = true
	}
	for _, a := range mn.Aliases {
		if k := store.NormalizeAlias(a); !have[k] {
			have[k] = true
			c.out[i].Aliases = append(c.out[i].Aliases, a)
		}
	}
}

func (c *collector) sorted() []models.Mention {
	sort.SliceStable(c.out, func(i, j int) bool { return c.out[i].Start < c.out[j].Start })
	return c.out
}

// MultiExtractor merges the mentions of several extractors, keeping the first
// mention of each (type, name). A failing extractor is skipped.
type MultiExtractor struct {
	extractors []Extractor
	onError    func(error)
}

// NewMultiExtractor combines extractors in priority order. onError may be nil.
func NewMultiExtractor(onError func(error), extractors ...Extractor) *MultiExtractor {
	return &MultiExtractor{extractors: extractors, onError: onError}
}

func (m *MultiExtractor) Extract(ctx context.Context, text string) ([]models.Mention, error) {
	c := newCollector()
	for _, e := range m.extractors {
		mentions, err := e.Extract(ctx, text)
		if err != nil {
			if m.onError != nil {
				m.onError(err)
			}
			continue
		}
		for _, mn := range mentions {
			c.addMention(mn)
		}
	}
	return c.sorted(), nil
}
