// Package threatscan detects injection attacks and context window abuse in
// untrusted text before it is embedded in an LLM prompt.
//
// Detection is fast and regex-based with no ML dependencies, so it can run
// in CI pipelines. The package implements a layered defense:
//
//  1. Pattern-based detection (Scan) - always runs
//  2. LLM validation (ValidateWithLLM) - optional second opinion for
//     borderline content
//  3. Response validation (ValidateResponse) - detects successful
//     injection in model output
//
// Scan classifies; it never blocks. Pairing a ScanResult with HandleResult
// applies the default policy: CRITICAL and HIGH threats are rejected,
// MEDIUM and LOW are logged and allowed through.
package threatscan

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/pkg/budget"
)

// ThreatLevel classifies scanned content by severity. Levels are ordered;
// a scan reports the maximum across all checks.
type ThreatLevel int

const (
	LevelNone ThreatLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the lowercase level name.
func (l ThreatLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ScanResult is the outcome of scanning one piece of content.
type ScanResult struct {
	// Level is the maximum threat level across all checks.
	Level ThreatLevel

	// Issues describes each finding, in check order.
	Issues []string

	// TokenEstimate is the estimated token count, capped at the
	// configured budget. Zero when the size cap short-circuited the scan.
	TokenEstimate int

	// Truncated reports that the content exceeds the token budget and
	// will be cut before use.
	Truncated bool
}

// ContentRejectedError is returned by HandleResult for content whose
// threat level crosses the rejection threshold. The content must not be
// forwarded anywhere.
type ContentRejectedError struct {
	Level  ThreatLevel
	Issues []string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("content rejected (%s threat): %s",
		strings.ToUpper(e.Level.String()), strings.Join(e.Issues, "; "))
}

// DefaultMaxContentSize is the hard byte cap; larger content is rejected
// outright without running any other check.
const DefaultMaxContentSize = 500_000

// Config holds configuration for a Scanner.
type Config struct {
	// MaxTokens is the token budget content is measured against.
	// Defaults to budget.DefaultMaxTokens.
	MaxTokens int

	// MaxContentSize is the hard byte cap. Defaults to
	// DefaultMaxContentSize.
	MaxContentSize int

	Logger *zap.Logger
}

// NewDefaultConfig returns a Config with production defaults.
func NewDefaultConfig() Config {
	return Config{
		MaxTokens:      budget.DefaultMaxTokens,
		MaxContentSize: DefaultMaxContentSize,
	}
}

// Scanner scans untrusted content for injection and abuse patterns.
// Safe for concurrent use.
type Scanner struct {
	maxTokens      int
	maxContentSize int
	rules          *ruleSet
	logger         *zap.Logger
}

// NewScanner creates a Scanner. Zero config fields take defaults.
func NewScanner(cfg Config) *Scanner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = budget.DefaultMaxTokens
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = DefaultMaxContentSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scanner{
		maxTokens:      cfg.MaxTokens,
		maxContentSize: cfg.MaxContentSize,
		rules:          defaultRules,
		logger:         cfg.Logger,
	}
}

// Scan runs every check against content and reduces to the maximum threat
// level. Oversized content short-circuits to CRITICAL; everything else
// accumulates issues in check order.
func (s *Scanner) Scan(content string) ScanResult {
	if len(content) > s.maxContentSize {
		return ScanResult{
			Level:  LevelCritical,
			Issues: []string{fmt.Sprintf("Content exceeds %dKB limit", s.maxContentSize/1000)},
		}
	}

	var issues []string
	level := LevelNone

	tokenEstimate := budget.EstimateTokens(content)
	truncated := false
	if tokenEstimate > s.maxTokens {
		issues = append(issues, fmt.Sprintf("Content estimated at %d tokens, will be truncated to %d", tokenEstimate, s.maxTokens))
		truncated = true
		level = LevelLow
	}

	for _, p := range s.rules.roleHijacking {
		if p.MatchString(content) {
			issues = append(issues, fmt.Sprintf("Role hijacking pattern detected: %s", p.String()))
			level = max(level, LevelHigh)
		}
	}

	for _, p := range s.rules.instructionInjection {
		if p.MatchString(content) {
			issues = append(issues, "Instruction injection pattern detected")
			level = max(level, LevelHigh)
		}
	}

	for _, p := range s.rules.delimiterInjection {
		if p.MatchString(content) {
			issues = append(issues, "Delimiter injection pattern detected")
			level = max(level, LevelMedium)
		}
	}

	if contextIssues := detectContextAttacks(content); len(contextIssues) > 0 {
		issues = append(issues, contextIssues...)
		level = max(level, LevelMedium)
	}

	if encodingIssues := s.rules.detectEncodingTricks(content); len(encodingIssues) > 0 {
		issues = append(issues, encodingIssues...)
		level = max(level, LevelHigh)
	}

	if formatIssues := validateChangelogFormat(content); len(formatIssues) > 0 {
		issues = append(issues, formatIssues...)
		level = max(level, LevelLow)
	}

	if controlChars.MatchString(content) {
		issues = append(issues, "Control characters detected")
		level = max(level, LevelMedium)
	}

	return ScanResult{
		Level:         level,
		Issues:        issues,
		TokenEstimate: min(tokenEstimate, s.maxTokens),
		Truncated:     truncated,
	}
}

// HandleResult applies the default policy to a scan result. CRITICAL and
// HIGH threats return a *ContentRejectedError; MEDIUM and LOW are logged
// and allowed. A truncation flag is warned about regardless of level.
func (s *Scanner) HandleResult(result ScanResult) error {
	switch result.Level {
	case LevelCritical, LevelHigh:
		return &ContentRejectedError{Level: result.Level, Issues: result.Issues}
	case LevelMedium, LevelLow:
		s.logger.Info("content scan flagged issues",
			zap.String("threat_level", result.Level.String()),
			zap.Strings("issues", result.Issues),
		)
	}

	if result.Truncated {
		s.logger.Warn("content will be truncated",
			zap.Int("token_estimate", result.TokenEstimate),
		)
	}

	return nil
}

// Scan is a convenience for one-off scans with default configuration.
func Scan(content string) ScanResult {
	return NewScanner(NewDefaultConfig()).Scan(content)
}
