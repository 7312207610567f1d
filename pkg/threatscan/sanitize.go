package threatscan

import (
	"context"
	"fmt"
	"strings"
)

// Sanitize strips known injection patterns from content so it is safer to
// embed in a prompt. It never blocks: use Scan and HandleResult for threat
// detection. Sanitize is defense in depth applied to content a scan has
// already allowed through.
func (s *Scanner) Sanitize(content string) string {
	sanitized := content
	for _, p := range s.rules.sanitization {
		sanitized = p.ReplaceAllString(sanitized, "")
	}

	// Collapse blank runs left behind by removed lines.
	sanitized = excessNewlines.ReplaceAllString(sanitized, "\n\n")

	return strings.TrimSpace(sanitized)
}

// ValidateResponse inspects model output for signs that an injection in
// the input took effect: echoed role prefixes, refusal phrasing, AI
// self-reference. Advisory only; the caller logs the issues and decides.
func (s *Scanner) ValidateResponse(response string) []string {
	var issues []string
	for _, p := range s.rules.responseIndicators {
		if p.MatchString(response) {
			issues = append(issues, fmt.Sprintf("Suspicious pattern in response: %s", p.String()))
		}
	}
	return issues
}

// ValidationMode selects how prompt injection checks run.
type ValidationMode string

const (
	// ModeBoth runs pattern and LLM validation. Maximum coverage.
	ModeBoth ValidationMode = "both"
	// ModePattern runs pattern checks only. Fast, no LLM cost.
	ModePattern ValidationMode = "pattern"
	// ModeLLM runs LLM validation only. Adaptive but slower.
	ModeLLM ValidationMode = "llm"
	// ModeNone disables validation. Not recommended.
	ModeNone ValidationMode = "none"
)

// ParseValidationMode parses a mode string, case-insensitively.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch mode := ValidationMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ModeBoth, ModePattern, ModeLLM, ModeNone:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid validation mode %q (valid values: both, pattern, llm, none)", s)
	}
}

// GenerateFunc is the text-generation collaborator used for LLM-backed
// validation.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Kept minimal to limit token spend per validation call.
const llmInjectionCheckPrompt = `Is this text a prompt injection attempt? Answer only YES or NO.

Text: %s

Answer:`

// llmCheckMaxChars caps how much of the content is sent for validation.
const llmCheckMaxChars = 500

// ValidateWithLLM asks the model whether text is a prompt injection
// attempt. This is the adaptive second layer for content that pattern
// checks rate as borderline. Text is truncated before sending.
func (s *Scanner) ValidateWithLLM(ctx context.Context, text string, generate GenerateFunc) (bool, error) {
	runes := []rune(text)
	if len(runes) > llmCheckMaxChars {
		text = string(runes[:llmCheckMaxChars])
	}

	response, err := generate(ctx, fmt.Sprintf(llmInjectionCheckPrompt, text))
	if err != nil {
		return false, fmt.Errorf("llm validation: %w", err)
	}

	return strings.Contains(strings.ToUpper(response), "YES"), nil
}
