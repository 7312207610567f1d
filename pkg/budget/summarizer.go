package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/pkg/textsplit"
)

// GenerateFunc is the injected text-generation collaborator. The budget
// layer never retries or rate-limits it; that belongs to the caller.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Default prompts for summarizing project context down to a budget.
const defaultMapPrompt = `Extract the KEY FACTS from this project documentation that are relevant for:
- Understanding what the project does
- Identifying public vs internal APIs/endpoints
- Understanding breaking change policies
- Identifying naming conventions

Be concise. Output only the essential facts, one per line.

Content:
---
%s
---

<SUMMARY>
`

const defaultReducePrompt = `Consolidate these extracted facts into a concise project summary.

Remove duplicates. Keep all unique, important facts about:
- Project purpose
- Public vs internal APIs
- Breaking change policies
- Key conventions

Output a consolidated summary.

Facts to consolidate:
---
%s
---

<SUMMARY>
`

const defaultMaxWorkers = 5

// Result describes the outcome of fitting content to a budget.
type Result struct {
	// Content is the fitted text.
	Content string

	// Summarized is true when an LLM summarization pass produced Content.
	Summarized bool

	// OriginalTokens is the estimate for the input text.
	OriginalTokens int

	// FinalTokens is the estimate for Content.
	FinalTokens int

	// Warnings describes every degradation applied, one entry per
	// fallback, so quality loss is diagnosable without debug logging.
	Warnings []string
}

// SummarizerConfig holds configuration for a Summarizer.
type SummarizerConfig struct {
	// Generate is the text-generation collaborator. Required.
	Generate GenerateFunc

	// MapPrompt formats a single chunk for summarization. Must contain
	// one %s placeholder. Leave empty for the default.
	MapPrompt string

	// ReducePrompt formats the combined chunk summaries for
	// consolidation. Must contain one %s placeholder. Leave empty for
	// the default.
	ReducePrompt string

	// ChunkSize and Overlap control chunking of oversized content.
	ChunkSize int
	Overlap   int

	// MaxWorkers bounds parallel summarization calls.
	MaxWorkers int

	Logger *zap.Logger
}

// Summarizer condenses oversized content with a chunked map/reduce pass.
type Summarizer struct {
	generate     GenerateFunc
	mapPrompt    string
	reducePrompt string
	splitter     *textsplit.Splitter
	chunkSize    int
	maxWorkers   int
	logger       *zap.Logger
}

// NewSummarizer creates a Summarizer from config.
func NewSummarizer(cfg SummarizerConfig) (*Summarizer, error) {
	if cfg.Generate == nil {
		return nil, errors.New("budget: generate function is required")
	}
	if cfg.MapPrompt == "" {
		cfg.MapPrompt = defaultMapPrompt
	}
	if cfg.ReducePrompt == "" {
		cfg.ReducePrompt = defaultReducePrompt
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = textsplit.DefaultChunkSize
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = textsplit.DefaultOverlap
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	splitter, err := textsplit.New(textsplit.Config{
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.Overlap,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}

	return &Summarizer{
		generate:     cfg.Generate,
		mapPrompt:    cfg.MapPrompt,
		reducePrompt: cfg.ReducePrompt,
		splitter:     splitter,
		chunkSize:    cfg.ChunkSize,
		maxWorkers:   cfg.MaxWorkers,
		logger:       cfg.Logger,
	}, nil
}

// SummarizeToBudget condenses content until it fits maxTokens.
//
// Content that already fits is passed through unchanged. Oversized content
// is chunked, each chunk summarized in parallel, and the summaries
// consolidated in a single reduce call. Failures degrade rather than
// abort: failed chunks contribute nothing, a failed reduce falls back to
// the concatenated chunk summaries, and if every call fails the original
// content is hard-truncated. A result that still exceeds the budget after
// summarization is truncated rather than summarized again.
func (s *Summarizer) SummarizeToBudget(ctx context.Context, content string, maxTokens int) Result {
	originalTokens := EstimateTokens(content)
	var warnings []string

	if FitsBudget(content, maxTokens) {
		return Result{
			Content:        content,
			OriginalTokens: originalTokens,
			FinalTokens:    originalTokens,
		}
	}

	chunks := s.splitter.Chunk(content)

	if len(chunks) <= 1 {
		// Content overflows the token budget but fits a single chunk.
		summary, err := s.summarizeChunk(ctx, truncateRunes(content, s.chunkSize*2))
		if err != nil {
			warning := fmt.Sprintf("Summarization failed (%v), falling back to truncation", err)
			s.logger.Warn("chunk summarization failed", zap.Error(err))
			return Result{
				Content:        truncateRunes(content, maxTokens*avgCharsPerToken),
				OriginalTokens: originalTokens,
				FinalTokens:    maxTokens,
				Warnings:       append(warnings, warning),
			}
		}

		finalTokens := EstimateTokens(summary)
		if !FitsBudget(summary, maxTokens) {
			summary = truncateRunes(summary, maxTokens*avgCharsPerToken)
			warnings = append(warnings, fmt.Sprintf("Summary truncated to fit %d token budget", maxTokens))
			finalTokens = maxTokens
		}

		return Result{
			Content:        summary,
			Summarized:     true,
			OriginalTokens: originalTokens,
			FinalTokens:    finalTokens,
			Warnings:       warnings,
		}
	}

	// Map phase: summarize chunks in parallel. Each worker writes only
	// its own slot, so results stay in chunk order without locking.
	results := make([]string, len(chunks))
	failures := make([]error, len(chunks))

	var wg sync.WaitGroup
	sem := make(chan struct{}, min(len(chunks), s.maxWorkers))
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summary, err := s.summarizeChunk(ctx, chunk)
			if err != nil {
				failures[i] = err
				return
			}
			results[i] = summary
		}(i, chunk)
	}
	wg.Wait()

	var summaries []string
	for i, r := range results {
		if failures[i] != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to summarize chunk %d: %v", i, failures[i]))
			continue
		}
		if r != "" {
			summaries = append(summaries, r)
		}
	}

	if len(summaries) == 0 {
		warnings = append(warnings, "All summarization failed, falling back to truncation")
		s.logger.Warn("all chunk summarizations failed", zap.Int("chunks", len(chunks)))
		return Result{
			Content:        truncateRunes(content, maxTokens*avgCharsPerToken),
			OriginalTokens: originalTokens,
			FinalTokens:    maxTokens,
			Warnings:       warnings,
		}
	}

	// Reduce phase: consolidate the chunk summaries in one call.
	reduced, err := s.reduceSummaries(ctx, summaries)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("Consolidation failed (%v), using concatenated summaries", err))
		s.logger.Warn("summary consolidation failed", zap.Error(err))
		reduced = strings.Join(summaries, "\n\n")
	}

	finalTokens := EstimateTokens(reduced)
	if !FitsBudget(reduced, maxTokens) {
		reduced = truncateRunes(reduced, maxTokens*avgCharsPerToken)
		warnings = append(warnings, fmt.Sprintf("Reduced summary truncated to fit %d token budget", maxTokens))
		finalTokens = maxTokens
	}

	return Result{
		Content:        reduced,
		Summarized:     true,
		OriginalTokens: originalTokens,
		FinalTokens:    finalTokens,
		Warnings:       warnings,
	}
}

func (s *Summarizer) summarizeChunk(ctx context.Context, chunk string) (string, error) {
	response, err := s.generate(ctx, fmt.Sprintf(s.mapPrompt, chunk))
	if err != nil {
		return "", err
	}
	return extractSummary(response), nil
}

func (s *Summarizer) reduceSummaries(ctx context.Context, summaries []string) (string, error) {
	combined := strings.Join(summaries, "\n\n")
	response, err := s.generate(ctx, fmt.Sprintf(s.reducePrompt, combined))
	if err != nil {
		return "", err
	}
	return extractSummary(response), nil
}

// extractSummary pulls the content after a <SUMMARY> tag, falling back to
// the whole response when the model ignored the tag.
func extractSummary(response string) string {
	if _, after, found := strings.Cut(response, "<SUMMARY>"); found {
		if before, _, closed := strings.Cut(after, "</SUMMARY>"); closed {
			return strings.TrimSpace(before)
		}
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(response)
}
