package changelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input string
		want  Category
	}{
		{input: "breaking", want: CategoryBreaking},
		{input: "security", want: CategorySecurity},
		{input: "feature", want: CategoryFeature},
		{input: "improvement", want: CategoryImprovement},
		{input: "fix", want: CategoryFix},
		{input: "performance", want: CategoryPerformance},
		{input: "deprecation", want: CategoryDeprecation},
		{input: "infrastructure", want: CategoryInfrastructure},
		{input: "docs", want: CategoryDocs},
		{input: "documentation", want: CategoryDocs},
		{input: "other", want: CategoryOther},
		{input: "banana", want: CategoryOther},
		{input: "", want: CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCategory(tt.input))
		})
	}
}

func TestParseImportance(t *testing.T) {
	assert.Equal(t, ImportanceHigh, ParseImportance("high"))
	assert.Equal(t, ImportanceMedium, ParseImportance("medium"))
	assert.Equal(t, ImportanceLow, ParseImportance("low"))
	assert.Equal(t, ImportanceMedium, ParseImportance("urgent"))
	assert.Equal(t, ImportanceMedium, ParseImportance(""))
}

func TestCategory_TablesAreExhaustive(t *testing.T) {
	// Every category has a section mapping; the sort tables stay closed
	// over the enum via their defaults.
	for _, c := range Categories {
		_, ok := categoryToSection[c]
		assert.True(t, ok, "category %q has no section mapping", c)
		assert.NotEmpty(t, SectionName(c.SectionKey()))
	}

	// Unknown categories rank at the bottom and land in "other".
	unknown := Category("mystery")
	assert.Equal(t, defaultSeverityRank, unknown.SeverityRank())
	assert.Equal(t, "other", unknown.SectionKey())
}

func TestSortByPriority(t *testing.T) {
	changes := []Change{
		{Title: "docs tweak", Category: CategoryDocs, Importance: ImportanceLow},
		{Title: "new API", Category: CategoryFeature, Importance: ImportanceHigh},
		{Title: "dropped endpoint", Category: CategoryBreaking, Importance: ImportanceHigh},
		{Title: "crash fix", Category: CategoryFix, Importance: ImportanceMedium},
		{Title: "CVE patch", Category: CategorySecurity, Importance: ImportanceHigh},
	}

	SortByPriority(changes)

	titles := make([]string, len(changes))
	for i, c := range changes {
		titles[i] = c.Title
	}
	assert.Equal(t, []string{"dropped endpoint", "CVE patch", "new API", "crash fix", "docs tweak"}, titles)
}

func TestSortByPriority_Stable(t *testing.T) {
	changes := []Change{
		{Title: "first", Category: CategoryFeature, Importance: ImportanceHigh},
		{Title: "second", Category: CategoryFeature, Importance: ImportanceHigh},
		{Title: "third", Category: CategoryFeature, Importance: ImportanceHigh},
	}

	SortByPriority(changes)

	assert.Equal(t, "first", changes[0].Title)
	assert.Equal(t, "second", changes[1].Title)
	assert.Equal(t, "third", changes[2].Title)
}

func TestAssignIDs(t *testing.T) {
	changes := []Change{
		{Title: "a"},
		{Title: "b", ID: "stale"},
		{Title: "c"},
	}

	AssignIDs(changes)

	assert.Equal(t, "change-1", changes[0].ID)
	assert.Equal(t, "change-2", changes[1].ID)
	assert.Equal(t, "change-3", changes[2].ID)
}

func TestStatsFromChanges(t *testing.T) {
	changes := []Change{
		{Category: CategoryFeature, Authors: []string{"ada"}},
		{Category: CategoryFeature, Authors: []string{"grace", "ada"}},
		{Category: CategoryFix, Authors: []string{"grace"}},
		{Category: CategoryBreaking},
		{Category: Category("mystery")},
	}

	stats := StatsFromChanges(changes)

	assert.Equal(t, 2, stats.Features)
	assert.Equal(t, 1, stats.Fixes)
	assert.Equal(t, 1, stats.Breaking)
	assert.Equal(t, 1, stats.Other)
	assert.Equal(t, 2, stats.Contributors)
	assert.Equal(t, 5, stats.Total())
}

func TestBumpKind(t *testing.T) {
	tests := []struct {
		name    string
		changes []Change
		want    Bump
	}{
		{
			name:    "breaking wins",
			changes: []Change{{Category: CategoryFeature}, {Category: CategoryBreaking}},
			want:    BumpMajor,
		},
		{
			name:    "feature without breaking",
			changes: []Change{{Category: CategoryFix}, {Category: CategoryFeature}},
			want:    BumpMinor,
		},
		{
			name:    "fixes only",
			changes: []Change{{Category: CategoryFix}, {Category: CategoryDocs}},
			want:    BumpPatch,
		},
		{
			name:    "empty",
			changes: nil,
			want:    BumpPatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BumpKind(tt.changes))
		})
	}
}
