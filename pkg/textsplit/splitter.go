// Package textsplit splits large text into bounded, overlapping chunks.
//
// The splitter recursively tries a list of separators in priority order
// (paragraph break, line break, word boundary, single character) and uses
// the first one that appears in the text. Fragments still longer than the
// chunk size are re-split with the next, finer separator. Small fragments
// are merged back into chunks up to the chunk size, carrying up to the
// configured overlap of trailing context into the next chunk so that no
// split boundary loses surrounding context.
//
// Example:
//
//	splitter, err := textsplit.New(textsplit.Config{ChunkSize: 2000, Overlap: 200})
//	if err != nil {
//	    // Handle error
//	}
//	chunks := splitter.Chunk(content)
package textsplit

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Default chunking parameters. Sized for LLM context windows where a
// 2000-character chunk leaves ample room for prompt scaffolding.
const (
	DefaultChunkSize = 2000
	DefaultOverlap   = 200
)

// ErrInvalidConfig indicates invalid splitter configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// defaultSeparators is the priority order for natural split boundaries:
// paragraph, line, word, then single characters as the last resort.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Config holds configuration for a Splitter.
type Config struct {
	// ChunkSize is the maximum size of each chunk in characters.
	ChunkSize int

	// Overlap is the number of characters adjacent chunks share.
	Overlap int

	// Separators overrides the default boundary priority order.
	// The empty string means split character by character and should
	// appear last. Leave nil for the defaults.
	Separators []string

	// Logger receives a warning when an indivisible fragment forces a
	// chunk over ChunkSize. Defaults to a no-op logger.
	Logger *zap.Logger
}

// NewDefaultConfig returns a Config with production defaults.
func NewDefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Overlap:   DefaultOverlap,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap cannot be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	return nil
}

// Splitter splits text into overlapping chunks along natural boundaries.
// A Splitter is immutable after construction and safe for concurrent use.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
	logger     *zap.Logger
}

// New creates a Splitter from config.
func New(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	separators := cfg.Separators
	if separators == nil {
		separators = defaultSeparators
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Splitter{
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.Overlap,
		separators: append([]string(nil), separators...),
		logger:     logger,
	}, nil
}

// Chunk splits content into overlapping chunks.
//
// Content that already fits within the chunk size is returned unchanged as
// a single element, with no splitting performed.
func (s *Splitter) Chunk(content string) []string {
	if runeLen(content) <= s.chunkSize {
		return []string{content}
	}
	return s.splitText(content, s.separators)
}

// splitText recursively splits text, trying separators in priority order.
func (s *Splitter) splitText(text string, separators []string) []string {
	var chunks []string

	// Pick the first separator that appears in the text. The empty
	// separator always applies, so it terminates the search.
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	// Merge small splits into chunks; re-split anything still too long
	// with the finer separators that remain.
	var good []string
	for _, split := range splitKeepSeparator(text, separator) {
		if runeLen(split) < s.chunkSize {
			good = append(good, split)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.mergeSplits(good)...)
			good = nil
		}
		if len(remaining) == 0 {
			// Indivisible fragment. Emit oversized rather than cut mid-token.
			chunks = append(chunks, split)
		} else {
			chunks = append(chunks, s.splitText(split, remaining)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.mergeSplits(good)...)
	}

	return chunks
}

// mergeSplits packs small splits into chunks up to chunkSize, retaining up
// to overlap characters of trailing splits to seed the next chunk. Each
// split already carries its leading separator, so joining is concatenation.
func (s *Splitter) mergeSplits(splits []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, split := range splits {
		splitLen := runeLen(split)
		if total+splitLen > s.chunkSize {
			if total > s.chunkSize {
				s.logger.Warn("created a chunk longer than the configured size",
					zap.Int("size", total),
					zap.Int("chunk_size", s.chunkSize))
			}
			if len(current) > 0 {
				if doc, ok := joinSplits(current); ok {
					docs = append(docs, doc)
				}
				// Slide the window: drop leading splits until what
				// remains fits inside the overlap and leaves room for
				// the incoming split.
				for len(current) > 0 && (total > s.overlap || (total+splitLen > s.chunkSize && total > 0)) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, split)
		total += splitLen
	}

	if doc, ok := joinSplits(current); ok {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator splits text on sep, attaching the separator to the
// front of the following fragment so no characters are lost. An empty sep
// splits into individual characters. Empty fragments are dropped.
func splitKeepSeparator(text, sep string) []string {
	var splits []string
	if sep == "" {
		splits = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		parts := strings.Split(text, sep)
		splits = make([]string, 0, len(parts))
		splits = append(splits, parts[0])
		for _, part := range parts[1:] {
			splits = append(splits, sep+part)
		}
	}

	filtered := make([]string, 0, len(splits))
	for _, split := range splits {
		if split != "" {
			filtered = append(filtered, split)
		}
	}
	return filtered
}

// joinSplits concatenates splits and trims surrounding whitespace.
// Returns false if nothing remains.
func joinSplits(splits []string) (string, bool) {
	text := strings.TrimSpace(strings.Join(splits, ""))
	if text == "" {
		return "", false
	}
	return text, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ChunkWithOverlap splits content into overlapping chunks using the
// default separators. It is a convenience wrapper around New and Chunk.
func ChunkWithOverlap(content string, chunkSize, overlap int) ([]string, error) {
	splitter, err := New(Config{ChunkSize: chunkSize, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	return splitter.Chunk(content), nil
}

// NeedsChunking reports whether content exceeds the size threshold.
func NeedsChunking(content string, threshold int) bool {
	return runeLen(content) > threshold
}
