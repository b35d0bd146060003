package pipeline

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikeToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"abc", "^abc$"},
		{"abc%", "^abc"},
		{"%abc", "abc$"},
		{"%abc%", "abc"},
		{"a%c", "^a.*c$"},
		{"%a%b%", "a.*b"},
		{"%", ""},
		{"%%", ""},
		{"", "^$"},
		{"a.b(c)", `^a\.b\(c\)$`},
		{"50%+", `^50.*\+$`},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, LikeToRegex(tt.pattern))
		})
	}
}

func TestLikeToRegex_Matching(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		match   bool
	}{
		{"Ab%", "Abbey", true},
		{"Ab%", "xAb", false},
		{"%ey", "Abbey", true},
		{"%ey", "eyes", false},
		{"A%y", "Abbey", true},
		{"A%y", "Abbeys", false},
		{"%", "anything", true},
		{"a.c", "abc", false},
		{"a.c", "a.c", true},
	}
	for _, tt := range tests {
		re, err := regexp.Compile(LikeToRegex(tt.pattern))
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.match, re.MatchString(tt.input), "%q LIKE %q", tt.input, tt.pattern)
	}
}

// Patterns without % only ever match themselves.
func TestLikeToRegex_LiteralPatterns(t *testing.T) {
	for _, p := range []string{"x", "a+b", "[x]", "^$", `back\slash`, "日本"} {
		re := regexp.MustCompile(LikeToRegex(p))
		assert.True(t, re.MatchString(p), p)
		assert.False(t, re.MatchString(p+"x"), p)
		assert.False(t, re.MatchString("x"+p), p)
	}
}
