// Package tokenizer estimates how many model tokens a text costs and trims text to
// fit a budget. Estimates are heuristic; no model vocabulary is loaded.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis marks text that was cut short.
const Ellipsis = "..."

// Estimate blends a word-based guess (1.3 tokens per word) with a character-based one
// (4 runes per token) and returns their mean.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	byWords := float64(len(strings.Fields(text))) * 1.3
	byRunes := float64(utf8.RuneCountInString(text)) / 4
	return int((byWords + byRunes) / 2)
}

// Snippet returns the first n runes of text, followed by Ellipsis when text was longer.
// A non-positive n returns text unchanged.
func Snippet(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos] + Ellipsis
		}
		i++
	}
	return text
}

// Truncate cuts text so its estimate stays within budget, preferring a word boundary in
// the second half of the kept text.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if Estimate(text) <= budget {
		return text
	}
	maxRunes := budget * 4
	runes := []rune(text)
	if maxRunes >= len(runes) {
		return text
	}
	kept := string(runes[:maxRunes])
	if cut := strings.LastIndexAny(kept, " \n\t"); cut > len(kept)/2 {
		kept = kept[:cut]
	}
	return strings.TrimRight(kept, " \n\t") + Ellipsis
}
