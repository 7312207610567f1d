package changelog

import "strings"

// sectionOrder fixes the order sections appear in rendered output.
var sectionOrder = []string{
	"breaking",
	"security",
	"features",
	"improvements",
	"fixes",
	"performance",
	"deprecations",
	"infrastructure",
	"docs",
	"other",
}

// categoryToSection maps every category to its display section. The table
// is exhaustive over Categories; SectionKey falls back to "other" for
// anything outside it.
var categoryToSection = map[Category]string{
	CategoryBreaking:       "breaking",
	CategorySecurity:       "security",
	CategoryFeature:        "features",
	CategoryImprovement:    "improvements",
	CategoryFix:            "fixes",
	CategoryPerformance:    "performance",
	CategoryDeprecation:    "deprecations",
	CategoryInfrastructure: "infrastructure",
	CategoryDocs:           "docs",
	CategoryOther:          "other",
}

// sectionNames maps section keys to display names.
var sectionNames = map[string]string{
	"breaking":       "Breaking Changes",
	"security":       "Security",
	"features":       "New Features",
	"improvements":   "Improvements",
	"fixes":          "Bug Fixes",
	"performance":    "Performance",
	"deprecations":   "Deprecations",
	"infrastructure": "Infrastructure",
	"docs":           "Documentation",
	"other":          "Other",
}

// SectionName returns the display name for a section key.
func SectionName(key string) string {
	if name, ok := sectionNames[key]; ok {
		return name
	}
	return "Other"
}

// GroupBySection groups changes under their display-section key,
// preserving input order within each section.
func GroupBySection(changes []Change) map[string][]Change {
	sections := make(map[string][]Change)
	for _, c := range changes {
		key := c.Category.SectionKey()
		sections[key] = append(sections[key], c)
	}
	return sections
}

// RenderMarkdown renders changes as a markdown changelog: one "###"
// header per non-empty section in the fixed section order, one bullet per
// change. Breaking changes get a bold title; anything else renders as
// "- Title - Description".
func RenderMarkdown(changes []Change) string {
	sections := GroupBySection(changes)

	var sb strings.Builder
	for _, key := range sectionOrder {
		entries := sections[key]
		if len(entries) == 0 {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("### ")
		sb.WriteString(SectionName(key))
		sb.WriteString("\n\n")

		for _, c := range entries {
			sb.WriteString(renderItem(key, c))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func renderItem(section string, c Change) string {
	text := c.Title
	if c.Description != "" {
		text += " - " + c.Description
	}
	if section == "breaking" {
		return "- **" + c.Title + "**" + descriptionSuffix(c)
	}
	if len(c.Authors) > 0 {
		text += " (" + joinAuthors(c.Authors) + ")"
	}
	return "- " + text
}

func descriptionSuffix(c Change) string {
	if c.Description == "" {
		return ""
	}
	return " - " + c.Description
}

func joinAuthors(authors []string) string {
	handles := make([]string, len(authors))
	for i, a := range authors {
		handles[i] = "@" + a
	}
	return strings.Join(handles, ", ")
}
