package safepattern

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_SafePatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{name: "plain literal", pattern: "hello"},
		{name: "top level alternation", pattern: "fix|bug"},
		{name: "start anchor", pattern: "^start"},
		{name: "end anchor", pattern: "end$"},
		{name: "simple quantifier", pattern: "a+"},
		{name: "character class quantifier", pattern: "[a-z]+"},
		{name: "anchored wildcards", pattern: "^.*foo.*$"},
		{name: "lookahead", pattern: "foo(?=bar)"},
		{name: "lookbehind", pattern: "(?<=foo)bar"},
		{name: "unicode literal", pattern: "héllo wörld"},
		{name: "escaped metacharacters", pattern: `\(a\+\)\+`},
		{name: "empty pattern", pattern: ""},
		{name: "exactly max length", pattern: strings.Repeat("a", MaxPatternLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.pattern, p.Pattern())
			assert.Equal(t, DefaultTimeout, p.Timeout())
		})
	}
}

func TestCompile_UnsafePatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		reason  string
	}{
		{name: "nested plus", pattern: "(a+)+", reason: "nested quantifiers"},
		{name: "star under plus", pattern: "(a*)+", reason: "nested quantifiers"},
		{name: "plus under star", pattern: "(a+)*", reason: "nested quantifiers"},
		{name: "star under star", pattern: "(a*)*", reason: "nested quantifiers"},
		{name: "bounded repeat under plus", pattern: "(a{2,})+", reason: "nested quantifiers"},
		{name: "plus under bounded repeat", pattern: "(a+){2,}", reason: "nested quantifiers"},
		{name: "class quantifier under star", pattern: "([a-zA-Z]+)*", reason: "nested quantifiers"},
		{name: "prefix alternation", pattern: "(a|ab)+", reason: "overlapping"},
		{name: "duplicate alternation", pattern: "(a|a)+", reason: "overlapping"},
		{name: "unanchored double wildcard", pattern: ".*foo.*", reason: "wildcards"},
		{name: "unanchored double plus wildcard", pattern: ".+bar.+", reason: "wildcards"},
		{name: "over max length", pattern: strings.Repeat("a", MaxPatternLength+50), reason: "too long"},
		{name: "unclosed class", pattern: "[unclosed", reason: "invalid regex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			p, err := Compile(tt.pattern)
			elapsed := time.Since(start)

			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), tt.reason)

			var compErr *CompilationError
			require.True(t, errors.As(err, &compErr))
			assert.Equal(t, tt.pattern, compErr.Pattern)

			// Rejection is static. It must never depend on input size.
			assert.Less(t, elapsed, 100*time.Millisecond)
		})
	}
}

func TestValidate_StaticOnly(t *testing.T) {
	// Validate rejects unsafe shapes without compiling.
	err := Validate("(a+)+")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested quantifiers")

	// Syntax errors are only caught at compile time.
	assert.NoError(t, Validate("[unclosed"))
}

func TestSafePattern_Match_CaseInsensitive(t *testing.T) {
	p, err := Compile("hello")
	require.NoError(t, err)

	matched, err := p.Match("well HELLO there")
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = p.Match("goodbye")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestSafePattern_Find(t *testing.T) {
	p, err := Compile(`bug-\d+`)
	require.NoError(t, err)

	match, ok, err := p.Find("fixes Bug-42 and bug-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bug-42", match)

	_, ok, err = p.Find("no identifiers here")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSafePattern_FindAll(t *testing.T) {
	p, err := Compile(`fix`)
	require.NoError(t, err)

	matches, err := p.FindAll("fix one, Fix two, FIX three")
	require.NoError(t, err)
	assert.Equal(t, []string{"fix", "Fix", "FIX"}, matches)
}

func TestSafePattern_Replace(t *testing.T) {
	p, err := Compile("cat")
	require.NoError(t, err)

	out, err := p.Replace("Cat dog CAT", "pet")
	require.NoError(t, err)
	assert.Equal(t, "pet dog pet", out)
}

func TestSafePattern_MatchTimeout(t *testing.T) {
	// Passes the static checks but backtracks exponentially when the
	// trailing digit is never found.
	p, err := CompileWithTimeout(`(\w+\s?)*\d`, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = p.Match(strings.Repeat("a", 64) + "!")
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)

	// A timeout is scoped to the single call. The pattern stays usable.
	matched, err := p.Match("version 2")
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestCompileWithTimeout_NonPositiveUsesDefault(t *testing.T) {
	p, err := CompileWithTimeout("abc", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, p.Timeout())
}
