package changelog

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/changelogd/pkg/safepattern"
)

// FilterConfig selects which changes to drop before rendering.
type FilterConfig struct {
	// ExcludeCategories drops changes in these categories.
	ExcludeCategories []Category `koanf:"exclude_categories"`

	// ExcludeLabels drops changes carrying any of these labels.
	ExcludeLabels []string `koanf:"exclude_labels"`

	// ExcludeAuthors drops changes authored by any of these authors.
	ExcludeAuthors []string `koanf:"exclude_authors"`

	// ExcludePatterns drops changes whose title or description matches
	// any of these regular expressions. Patterns are untrusted input and
	// compile through safepattern: an unsafe or invalid pattern fails the
	// whole filter operation.
	ExcludePatterns []string `koanf:"exclude_patterns"`

	// MaxPerSection caps how many changes each display section keeps,
	// applied after the exclusion filters and preserving order.
	// Zero means unlimited.
	MaxPerSection int `koanf:"max_per_section"`
}

// Filter applies exclusion rules to changes and returns the survivors.
//
// Exclusion patterns compile before anything is filtered; a pattern that
// fails safepattern validation aborts the operation with a
// *safepattern.CompilationError rather than being skipped, since silently
// dropping an exclusion filter would let through content the caller
// explicitly wanted removed. A per-call match timeout, by contrast, skips
// only that pattern for that change and is logged.
func Filter(changes []Change, cfg FilterConfig, logger *zap.Logger) ([]Change, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	patterns := make([]*safepattern.SafePattern, 0, len(cfg.ExcludePatterns))
	for _, pattern := range cfg.ExcludePatterns {
		p, err := safepattern.Compile(pattern)
		if err != nil {
			logger.Error("exclude pattern rejected",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			return nil, fmt.Errorf("compiling exclude pattern: %w", err)
		}
		patterns = append(patterns, p)
	}

	excludeCategories := toSet(cfg.ExcludeCategories)
	excludeLabels := toSet(cfg.ExcludeLabels)
	excludeAuthors := toSet(cfg.ExcludeAuthors)

	filtered := make([]Change, 0, len(changes))
	for _, change := range changes {
		if _, drop := excludeCategories[change.Category]; drop {
			continue
		}
		if anyIn(change.Labels, excludeLabels) {
			continue
		}
		if anyIn(change.Authors, excludeAuthors) {
			continue
		}
		if matchesAny(change, patterns, logger) {
			continue
		}
		filtered = append(filtered, change)
	}

	if cfg.MaxPerSection > 0 {
		filtered = capPerSection(filtered, cfg.MaxPerSection)
	}

	return filtered, nil
}

// matchesAny reports whether any exclusion pattern matches the change's
// title or description. A timed-out pattern is logged and skipped for this
// change; the change passes through unless another pattern matches.
func matchesAny(change Change, patterns []*safepattern.SafePattern, logger *zap.Logger) bool {
	for _, p := range patterns {
		matched, err := p.Match(change.Title)
		if err == nil && !matched && change.Description != "" {
			matched, err = p.Match(change.Description)
		}
		if err != nil {
			var timeout *safepattern.TimeoutError
			if errors.As(err, &timeout) {
				logger.Warn("exclude pattern timed out, skipping pattern for this change",
					zap.String("pattern", p.Pattern()),
					zap.String("title", truncateTitle(change.Title)),
				)
				continue
			}
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// capPerSection keeps at most max changes per display section, preserving
// the incoming order both across and within sections.
func capPerSection(changes []Change, max int) []Change {
	counts := make(map[string]int)
	kept := make([]Change, 0, len(changes))
	for _, c := range changes {
		key := c.Category.SectionKey()
		if counts[key] >= max {
			continue
		}
		counts[key]++
		kept = append(kept, c)
	}
	return kept
}

func toSet[T comparable](items []T) map[T]struct{} {
	set := make(map[T]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func anyIn(items []string, set map[string]struct{}) bool {
	for _, item := range items {
		if _, ok := set[item]; ok {
			return true
		}
	}
	return false
}

func truncateTitle(title string) string {
	const max = 50
	if len(title) <= max {
		return title
	}
	return title[:max] + "..."
}
