// Package changelog defines the change domain model: categories,
// importance levels, the line-based wire format used in prompts and model
// responses, markdown rendering, and exclusion filtering.
package changelog

import (
	"fmt"
	"sort"
)

// Category classifies a change. The set is closed: anything a model emits
// outside it parses to CategoryOther.
type Category string

const (
	CategoryBreaking       Category = "breaking"
	CategorySecurity       Category = "security"
	CategoryFeature        Category = "feature"
	CategoryImprovement    Category = "improvement"
	CategoryFix            Category = "fix"
	CategoryPerformance    Category = "performance"
	CategoryDeprecation    Category = "deprecation"
	CategoryInfrastructure Category = "infrastructure"
	CategoryDocs           Category = "docs"
	CategoryOther          Category = "other"
)

// Categories lists every category in severity order (most severe first).
var Categories = []Category{
	CategoryBreaking,
	CategorySecurity,
	CategoryFeature,
	CategoryImprovement,
	CategoryFix,
	CategoryPerformance,
	CategoryDeprecation,
	CategoryInfrastructure,
	CategoryDocs,
	CategoryOther,
}

// severityRanks orders categories for the deterministic fallback sort.
// Categories outside the table share the lowest rank.
var severityRanks = map[Category]int{
	CategoryBreaking: 0,
	CategorySecurity: 1,
	CategoryFeature:  2,
	CategoryFix:      3,
}

const defaultSeverityRank = 10

// ParseCategory maps a model-emitted category string to the closed enum.
// "documentation" is accepted as an alias for docs; unknown values map to
// CategoryOther rather than failing the parse.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryBreaking, CategorySecurity, CategoryFeature, CategoryImprovement,
		CategoryFix, CategoryPerformance, CategoryDeprecation,
		CategoryInfrastructure, CategoryDocs, CategoryOther:
		return Category(s)
	case "documentation":
		return CategoryDocs
	default:
		return CategoryOther
	}
}

// SeverityRank returns the category's position in the fallback sort order.
// Lower is more severe.
func (c Category) SeverityRank() int {
	if rank, ok := severityRanks[c]; ok {
		return rank
	}
	return defaultSeverityRank
}

// SectionKey returns the display-section key for the category.
func (c Category) SectionKey() string {
	if key, ok := categoryToSection[c]; ok {
		return key
	}
	return "other"
}

// Importance rates a change high, medium, or low.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// ParseImportance maps an importance string to the enum. Unknown values map
// to ImportanceMedium.
func ParseImportance(s string) Importance {
	switch Importance(s) {
	case ImportanceHigh, ImportanceMedium, ImportanceLow:
		return Importance(s)
	default:
		return ImportanceMedium
	}
}

// Rank orders importance for sorting. Lower is more important.
func (i Importance) Rank() int {
	switch i {
	case ImportanceHigh:
		return 0
	case ImportanceMedium:
		return 1
	default:
		return 2
	}
}

// Change is a single entry distilled from release content.
type Change struct {
	ID          string     `json:"id"`
	Category    Category   `json:"category"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Importance  Importance `json:"importance"`

	// Provenance fields populated when the input source carries them.
	Commits      []string `json:"commits,omitempty"`
	Authors      []string `json:"authors,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	PRNumber     int      `json:"pr_number,omitempty"`
	IssueNumbers []int    `json:"issue_numbers,omitempty"`
}

// AssignIDs gives changes sequential IDs ("change-1", "change-2", ...) in
// slice order. Call only after ordering is final: IDs are meant to be
// stable for a given input regardless of how the changes were produced.
func AssignIDs(changes []Change) {
	for i := range changes {
		changes[i].ID = fmt.Sprintf("change-%d", i+1)
	}
}

// SortByPriority sorts changes by importance, then category severity.
// The sort is stable so equal-priority changes keep their input order.
func SortByPriority(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Importance.Rank() != b.Importance.Rank() {
			return a.Importance.Rank() < b.Importance.Rank()
		}
		return a.Category.SeverityRank() < b.Category.SeverityRank()
	})
}

// Stats summarizes a change list per category.
type Stats struct {
	Features       int `json:"features"`
	Fixes          int `json:"fixes"`
	Improvements   int `json:"improvements"`
	Breaking       int `json:"breaking"`
	Security       int `json:"security"`
	Performance    int `json:"performance"`
	Deprecations   int `json:"deprecations"`
	Infrastructure int `json:"infrastructure"`
	Docs           int `json:"docs"`
	Other          int `json:"other"`
	Contributors   int `json:"contributors"`
}

// StatsFromChanges tallies changes by category and counts distinct authors.
func StatsFromChanges(changes []Change) Stats {
	var stats Stats
	authors := make(map[string]struct{})

	for _, c := range changes {
		switch c.Category {
		case CategoryFeature:
			stats.Features++
		case CategoryFix:
			stats.Fixes++
		case CategoryImprovement:
			stats.Improvements++
		case CategoryBreaking:
			stats.Breaking++
		case CategorySecurity:
			stats.Security++
		case CategoryPerformance:
			stats.Performance++
		case CategoryDeprecation:
			stats.Deprecations++
		case CategoryInfrastructure:
			stats.Infrastructure++
		case CategoryDocs:
			stats.Docs++
		default:
			stats.Other++
		}
		for _, a := range c.Authors {
			authors[a] = struct{}{}
		}
	}

	stats.Contributors = len(authors)
	return stats
}

// Total returns the number of changes counted, excluding contributors.
func (s Stats) Total() int {
	return s.Features + s.Fixes + s.Improvements + s.Breaking + s.Security +
		s.Performance + s.Deprecations + s.Infrastructure + s.Docs + s.Other
}

// Bump is a semantic-version bump kind.
type Bump string

const (
	BumpMajor Bump = "major"
	BumpMinor Bump = "minor"
	BumpPatch Bump = "patch"
)

// BumpKind derives the version bump from category presence: any breaking
// change forces major, otherwise any feature means minor, otherwise patch.
func BumpKind(changes []Change) Bump {
	hasFeature := false
	for _, c := range changes {
		switch c.Category {
		case CategoryBreaking:
			return BumpMajor
		case CategoryFeature:
			hasFeature = true
		}
	}
	if hasFeature {
		return BumpMinor
	}
	return BumpPatch
}
