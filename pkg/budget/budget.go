// Package budget decides whether text fits a token budget and degrades it
// gracefully when it does not.
//
// Token counts are estimated with a word-count heuristic rather than a
// model-specific tokenizer. The estimate is intentionally approximate and
// load-bearing: swapping in an exact tokenizer would change truncation
// behavior across the pipeline.
//
// On overflow the Governor either hard-truncates (section-aware when the
// content is organized under markdown headers) or, when a Summarizer is
// supplied, delegates to a chunked map/reduce summarization pass and only
// truncates if the summary still exceeds the budget.
package budget

import "regexp"

// DefaultMaxTokens leaves room for prompt scaffolding around the content.
const DefaultMaxTokens = 8000

// avgCharsPerToken converts a token budget into a character cap for hard
// truncation. Roughly four characters per token for English text.
const avgCharsPerToken = 4

// tokensPerWord inflates the word count to cover punctuation and special
// characters.
const tokensPerWord = 1.3

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// EstimateTokens estimates the token count of text without a tokenizer.
func EstimateTokens(text string) int {
	words := wordPattern.FindAllString(text, -1)
	return int(float64(len(words)) * tokensPerWord)
}

// FitsBudget reports whether text fits within maxTokens.
func FitsBudget(text string, maxTokens int) bool {
	return EstimateTokens(text) <= maxTokens
}

// truncateRunes cuts s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
