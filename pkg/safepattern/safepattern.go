// Package safepattern validates and compiles untrusted regular expressions.
//
// User-supplied patterns run against scanned content, so a hostile or
// careless pattern must not be able to stall the process. Defense is
// layered: static syntactic checks reject the common catastrophic
// backtracking shapes before compilation, and every match call on a
// compiled pattern is bounded by the engine's native per-call timeout.
// The static checks are heuristics, not a proof of linear-time behavior.
// The timeout is the backstop.
//
// Example:
//
//	p, err := safepattern.Compile(`deprecat(e|ed|ion)`)
//	if err != nil {
//	    // Pattern rejected, fail the filtering operation.
//	}
//	matched, err := p.Match(title)
package safepattern

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	// MaxPatternLength caps accepted pattern length. Long patterns are
	// rejected outright, independent of their shape.
	MaxPatternLength = 200

	// DefaultTimeout bounds each individual match call.
	DefaultTimeout = time.Second
)

// CompilationError indicates a pattern failed static validation or did not
// compile. The operation using the pattern must treat this as fatal rather
// than skipping the pattern, otherwise content the caller wanted excluded
// would silently pass through.
type CompilationError struct {
	Pattern string
	Reason  string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("unsafe pattern %q: %s", e.Pattern, e.Reason)
}

// TimeoutError indicates a single match call exceeded the pattern's
// timeout. The compiled pattern stays valid for future calls.
type TimeoutError struct {
	Pattern string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pattern %q exceeded %s match timeout", e.Pattern, e.Timeout)
}

// Static shapes known to cause catastrophic backtracking. These run against
// the pattern text itself, never against matched content.
var (
	// A quantified group directly followed by another quantifier,
	// e.g. (a+)+, (a*)*, (a{2,})+, (a+){2,}.
	nestedQuantifier = regexp.MustCompile(`\([^()]*(?:[+*]|\{\d+,?\d*\})\)(?:[+*]|\{)`)

	// A quantified group containing an alternation, e.g. (a|ab)+. The
	// branches are inspected for prefix overlap.
	quantifiedAlternation = regexp.MustCompile(`\(([^()]*\|[^()]*)\)(?:[+*]|\{)`)
)

// Validate runs the static safety checks without compiling the pattern.
// It never evaluates the pattern against any input.
func Validate(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return &CompilationError{
			Pattern: pattern,
			Reason:  fmt.Sprintf("pattern too long: %d characters (max %d)", len(pattern), MaxPatternLength),
		}
	}

	if nestedQuantifier.MatchString(pattern) {
		return &CompilationError{
			Pattern: pattern,
			Reason:  "nested quantifiers can cause catastrophic backtracking",
		}
	}

	for _, m := range quantifiedAlternation.FindAllStringSubmatch(pattern, -1) {
		if hasOverlappingBranches(m[1]) {
			return &CompilationError{
				Pattern: pattern,
				Reason:  "overlapping alternation branches under a quantifier can cause catastrophic backtracking",
			}
		}
	}

	if countUnboundedWildcards(pattern) >= 2 && !isAnchored(pattern) {
		return &CompilationError{
			Pattern: pattern,
			Reason:  "multiple unbounded wildcards without anchors can cause excessive scanning",
		}
	}

	return nil
}

// hasOverlappingBranches reports whether any alternation branch is a prefix
// of another, the ambiguity that makes quantified alternations blow up.
func hasOverlappingBranches(body string) bool {
	branches := strings.Split(body, "|")
	for i, a := range branches {
		if a == "" {
			continue
		}
		for j, b := range branches {
			if i == j {
				continue
			}
			if strings.HasPrefix(b, a) {
				return true
			}
		}
	}
	return false
}

func countUnboundedWildcards(pattern string) int {
	return strings.Count(pattern, ".*") + strings.Count(pattern, ".+")
}

func isAnchored(pattern string) bool {
	return strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$")
}

// SafePattern is a compiled pattern whose every match call is bounded by a
// fixed timeout. Matching is case-insensitive. A SafePattern is immutable
// and safe for concurrent use.
type SafePattern struct {
	re      *regexp2.Regexp
	pattern string
	timeout time.Duration
}

// Compile validates and compiles a pattern with the default match timeout.
func Compile(pattern string) (*SafePattern, error) {
	return CompileWithTimeout(pattern, DefaultTimeout)
}

// CompileWithTimeout validates and compiles a pattern with an explicit
// per-call match timeout. A non-positive timeout falls back to the default.
func CompileWithTimeout(pattern string, timeout time.Duration) (*SafePattern, error) {
	if err := Validate(pattern); err != nil {
		return nil, err
	}

	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, &CompilationError{
			Pattern: pattern,
			Reason:  fmt.Sprintf("invalid regex: %v", err),
		}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	re.MatchTimeout = timeout

	return &SafePattern{re: re, pattern: pattern, timeout: timeout}, nil
}

// Pattern returns the original pattern text.
func (p *SafePattern) Pattern() string {
	return p.pattern
}

// Timeout returns the per-call match timeout.
func (p *SafePattern) Timeout() time.Duration {
	return p.timeout
}

// Match reports whether the pattern matches anywhere in s.
func (p *SafePattern) Match(s string) (bool, error) {
	ok, err := p.re.MatchString(s)
	if err != nil {
		return false, p.timeoutError()
	}
	return ok, nil
}

// Find returns the first match in s, or ok=false if there is none.
func (p *SafePattern) Find(s string) (match string, ok bool, err error) {
	m, err := p.re.FindStringMatch(s)
	if err != nil {
		return "", false, p.timeoutError()
	}
	if m == nil {
		return "", false, nil
	}
	return m.String(), true, nil
}

// FindAll returns all non-overlapping matches in s.
func (p *SafePattern) FindAll(s string) ([]string, error) {
	var matches []string
	m, err := p.re.FindStringMatch(s)
	for m != nil {
		matches = append(matches, m.String())
		m, err = p.re.FindNextMatch(m)
		if err != nil {
			break
		}
	}
	if err != nil {
		return nil, p.timeoutError()
	}
	return matches, nil
}

// Replace substitutes every match in s with replacement.
func (p *SafePattern) Replace(s, replacement string) (string, error) {
	out, err := p.re.Replace(s, replacement, -1, -1)
	if err != nil {
		return "", p.timeoutError()
	}
	return out, nil
}

// timeoutError wraps the engine's match error. With a MatchTimeout set, the
// only error the engine's match calls return is the timeout.
func (p *SafePattern) timeoutError() *TimeoutError {
	return &TimeoutError{Pattern: p.pattern, Timeout: p.timeout}
}
