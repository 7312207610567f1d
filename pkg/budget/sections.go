package budget

import "strings"

// Section labels recognized in markdown headers. Order matters: the first
// keyword list that matches a header wins.
var sectionKeywords = []struct {
	name     string
	keywords []string
}{
	{name: "breaking", keywords: []string{"breaking", "incompatible"}},
	{name: "feature", keywords: []string{"feature", "new", "added", "add"}},
	{name: "fix", keywords: []string{"fix", "bug", "patch", "resolved"}},
	{name: "security", keywords: []string{"security", "vulnerability", "cve"}},
}

// sectionPriority is the order in which sections survive truncation.
// Breaking changes and security notes are kept in full before anything
// else is considered.
var sectionPriority = []string{"breaking", "security", "feature", "fix", "other"}

// ParseSections splits content into labeled sections by markdown headers.
// Lines before the first header, and headers matching no keyword, fall
// into the "other" section. Multiple headers classifying to the same
// section are concatenated: multi-version release notes repeat headers
// like "### Fixed" once per version.
func ParseSections(content string) map[string]string {
	sections := make(map[string]string)
	current := "other"
	var lines []string

	flush := func() {
		if len(lines) > 0 {
			if prev, ok := sections[current]; ok {
				sections[current] = prev + "\n" + strings.Join(lines, "\n")
			} else {
				sections[current] = strings.Join(lines, "\n")
			}
			lines = nil
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			current = classifyHeader(line)
		}
		lines = append(lines, line)
	}
	flush()

	return sections
}

func classifyHeader(header string) string {
	lower := strings.ToLower(header)
	for _, s := range sectionKeywords {
		for _, kw := range s.keywords {
			if strings.Contains(lower, kw) {
				return s.name
			}
		}
	}
	return "other"
}

// TruncateSection keeps whole lines of a section until the token budget is
// exhausted, then appends a truncation marker.
func TruncateSection(section string, maxTokens int) string {
	var result []string
	tokens := 0

	for _, line := range strings.Split(section, "\n") {
		lineTokens := EstimateTokens(line)
		if tokens+lineTokens > maxTokens {
			result = append(result, "... (truncated)")
			break
		}
		result = append(result, line)
		tokens += lineTokens
	}

	return strings.Join(result, "\n")
}

// TruncateByPriority truncates sectioned content to fit maxTokens, keeping
// whole sections in priority order. The first section that does not fit is
// line-truncated and everything after it is dropped.
func TruncateByPriority(content string, maxTokens int) string {
	sections := ParseSections(content)

	var parts []string
	remaining := maxTokens

	for _, name := range sectionPriority {
		section, ok := sections[name]
		if !ok {
			continue
		}
		tokens := EstimateTokens(section)
		if tokens <= remaining {
			parts = append(parts, section)
			remaining -= tokens
			continue
		}
		parts = append(parts, TruncateSection(section, remaining))
		break
	}

	return strings.Join(parts, "\n\n")
}
