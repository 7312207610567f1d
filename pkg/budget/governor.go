package budget

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// GovernorConfig holds configuration for a Governor.
type GovernorConfig struct {
	// MaxTokens is the budget enforced by Fit. Defaults to
	// DefaultMaxTokens when zero.
	MaxTokens int

	// Summarizer, when set, condenses oversized content instead of
	// truncating it.
	Summarizer *Summarizer

	Logger *zap.Logger
}

// Governor enforces a token budget on content bound for an LLM context
// window. With a Summarizer it condenses; without one it truncates,
// preferring to drop low-priority changelog sections first.
type Governor struct {
	maxTokens  int
	summarizer *Summarizer
	logger     *zap.Logger
}

// NewGovernor creates a Governor from config.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Governor{
		maxTokens:  cfg.MaxTokens,
		summarizer: cfg.Summarizer,
		logger:     cfg.Logger,
	}
}

// MaxTokens reports the budget the governor enforces.
func (g *Governor) MaxTokens() int { return g.maxTokens }

// Fit returns content guaranteed to fit the token budget.
//
// Content under budget passes through untouched. Oversized content is
// summarized when a Summarizer is configured; otherwise it is reduced by
// dropping whole sections in ascending priority, truncating line by line
// only when a single section overflows on its own.
func (g *Governor) Fit(ctx context.Context, content string) Result {
	originalTokens := EstimateTokens(content)
	if FitsBudget(content, g.maxTokens) {
		return Result{
			Content:        content,
			OriginalTokens: originalTokens,
			FinalTokens:    originalTokens,
		}
	}

	if g.summarizer != nil {
		return g.summarizer.SummarizeToBudget(ctx, content, g.maxTokens)
	}

	g.logger.Info("content exceeds token budget, truncating",
		zap.Int("estimated_tokens", originalTokens),
		zap.Int("max_tokens", g.maxTokens),
	)

	sections := ParseSections(content)
	var fitted string
	if len(sections) == 1 {
		if _, ok := sections["other"]; ok {
			// Unstructured content has no sections worth prioritizing.
			fitted = truncateRunes(content, g.maxTokens*avgCharsPerToken) + "\n... (truncated)"
		}
	}
	if fitted == "" {
		fitted = TruncateByPriority(content, g.maxTokens)
	}

	return Result{
		Content:        fitted,
		OriginalTokens: originalTokens,
		FinalTokens:    EstimateTokens(fitted),
		Warnings:       []string{fmt.Sprintf("Content truncated to fit %d token budget", g.maxTokens)},
	}
}
