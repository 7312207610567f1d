package threatscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRepetition_MinimumRepeats(t *testing.T) {
	unit := "0123456789"

	// Eleven consecutive copies is the threshold.
	regions := detectRepetition([]rune(strings.Repeat(unit, 11)))
	require.Len(t, regions, 1)
	assert.Equal(t, 0, regions[0].start)
	assert.Equal(t, 110, regions[0].end)
	assert.Equal(t, 10, regions[0].period)

	// Ten copies is below it.
	assert.Empty(t, detectRepetition([]rune(strings.Repeat(unit, 10))))
}

func TestDetectRepetition_ShortPeriodLiftsToMinUnit(t *testing.T) {
	// A period-2 string repeats at period 10 as well; the reported unit
	// is the ten-rune window.
	issues := detectContextAttacks(strings.Repeat("ab", 100))

	require.Len(t, issues, 1)
	assert.Equal(t, "Excessive repetition detected: 'ababababab...' repeated 20 times", issues[0])
}

func TestDetectRepetition_IgnoresNewlineSeparatedCopies(t *testing.T) {
	// Identical lines are not consecutive repetition; the unit must
	// repeat within a single line.
	issues := detectContextAttacks(strings.Repeat("- Fixed the flaky test\n", 30))

	assert.Empty(t, issues)
}

func TestDetectContextAttacks_CleanContent(t *testing.T) {
	content := "## Changes\n\nThis release improves startup time and fixes a race\nin the shutdown path."

	assert.Empty(t, detectContextAttacks(content))
}

func TestDetectContextAttacks_LineNumbers(t *testing.T) {
	content := "short first line\n" + strings.Repeat("z", maxLineLength+1)

	issues := detectContextAttacks(content)

	require.NotEmpty(t, issues)
	assert.Contains(t, issues, "Line 2 exceeds 10KB - possible context stuffing")
}

func TestValidateChangelogFormat(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "headers only",
			content: "## Changes\nplain line",
			want:    nil,
		},
		{
			name:    "dash bullets only",
			content: "- fixed a bug",
			want:    nil,
		},
		{
			name:    "star bullets",
			content: "* fixed a bug",
			want:    nil,
		},
		{
			name:    "unicode bullets",
			content: "• fixed a bug",
			want:    nil,
		},
		{
			name:    "no structure",
			content: "plain prose with no structure at all",
			want:    []string{"Content doesn't look like a changelog (no headers or bullet points)"},
		},
		{
			name:    "empty",
			content: "",
			want:    []string{"Empty content"},
		},
		{
			name:    "whitespace only",
			content: "   \n\t\n",
			want:    []string{"Empty content"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validateChangelogFormat(tt.content))
		})
	}
}

func TestDetectEncodingTricks_HarmlessBase64(t *testing.T) {
	// Decodes to "abcabcabc..." which matches no injection pattern.
	harmless := strings.Repeat("YWJj", 18)

	assert.Empty(t, defaultRules.detectEncodingTricks(harmless))
}

func TestDetectEncodingTricks_InvalidBase64Skipped(t *testing.T) {
	// 51 characters is not a multiple of four; decoding fails and the
	// block is ignored rather than treated as a threat.
	block := strings.Repeat("A", 51)

	assert.Empty(t, defaultRules.detectEncodingTricks(block))
}
