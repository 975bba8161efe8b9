package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	// 2 words -> 2.6, 11 runes -> 2.75, mean 2.675
	assert.Equal(t, 2, Estimate("hello world"))
	assert.Greater(t, Estimate(strings.Repeat("word ", 100)), 100)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short", 10))
	assert.Equal(t, "exactly", Snippet("exactly", 7))
	assert.Equal(t, "abc...", Snippet("abcdef", 3))
	assert.Equal(t, "élè...", Snippet("élève", 3), "counts runes, not bytes")
	assert.Equal(t, "keep", Snippet("keep", 0))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("anything", 0))
	assert.Equal(t, "tiny", Truncate("tiny", 10))

	long := strings.Repeat("alpha beta gamma ", 50)
	out := Truncate(long, 10)
	assert.True(t, strings.HasSuffix(out, Ellipsis))
	assert.LessOrEqual(t, len([]rune(strings.TrimSuffix(out, Ellipsis))), 40)
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(out, Ellipsis), " "))
}
