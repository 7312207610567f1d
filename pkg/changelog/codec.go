package changelog

import (
	"fmt"
	"regexp"
	"strings"
)

// The line codec is the wire format between this pipeline and the model:
// one change per line, "[category|importance] Title | Description".
// Responses wrap the lines in a <CHANGES> or <FLATTENED> block; parsing
// tolerates a missing closing tag and falls back to the whole response
// when the opening tag is absent.
var (
	changeLinePattern = regexp.MustCompile(`^\[(\w+)(?:\|(\w+))?\]\s*(.+)$`)
	changesBlock      = regexp.MustCompile(`(?is)<CHANGES>\s*(.*?)(?:</CHANGES>|$)`)
	flattenedBlock    = regexp.MustCompile(`(?s)<FLATTENED>(.*?)</FLATTENED>`)
)

// ParseChangeLine parses one "[category|importance] Title | Description"
// line. Importance is optional and defaults to medium. Returns false for
// blank lines, comment lines, and anything not matching the format.
// The returned Change has no ID; callers assign IDs once ordering is final.
func ParseChangeLine(line string) (Change, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Change{}, false
	}

	m := changeLinePattern.FindStringSubmatch(line)
	if m == nil {
		return Change{}, false
	}

	importance := "medium"
	if m[2] != "" {
		importance = m[2]
	}

	title := m[3]
	description := ""
	if before, after, found := strings.Cut(m[3], "|"); found {
		title = strings.TrimSpace(before)
		description = strings.TrimSpace(after)
	} else {
		title = strings.TrimSpace(title)
	}
	if title == "" {
		return Change{}, false
	}

	return Change{
		Category:    ParseCategory(strings.ToLower(m[1])),
		Title:       title,
		Description: description,
		Importance:  ParseImportance(strings.ToLower(importance)),
	}, true
}

// ParseChanges extracts change lines from a model response. Content inside
// a <CHANGES> block is preferred; without the tag the whole response is
// scanned, so a model that ignores the output scaffolding still parses.
func ParseChanges(response string) []Change {
	content := response
	if m := changesBlock.FindStringSubmatch(response); m != nil {
		content = m[1]
	}
	return parseChangeLines(content, false)
}

// ParseFlattened extracts change lines from a net-state response. Only
// content inside <FLATTENED> tags counts; lines starting with "-" are the
// removed-item listing and are skipped. Returns nil when the block is
// missing, signalling the caller to keep its pre-flatten list.
func ParseFlattened(response string) []Change {
	m := flattenedBlock.FindStringSubmatch(response)
	if m == nil {
		return nil
	}
	changes := parseChangeLines(m[1], true)
	if changes == nil {
		changes = []Change{}
	}
	return changes
}

func parseChangeLines(content string, skipRemovals bool) []Change {
	var changes []Change
	for _, line := range strings.Split(content, "\n") {
		if skipRemovals && strings.HasPrefix(strings.TrimSpace(line), "-") {
			continue
		}
		if change, ok := ParseChangeLine(line); ok {
			changes = append(changes, change)
		}
	}
	return changes
}

// SanitizeFunc cleans text before it is re-embedded in a prompt.
type SanitizeFunc func(string) string

// FormatChanges renders changes back into the line format for embedding in
// a reduce or flatten prompt. Titles and descriptions pass through sanitize
// first: extracted text is model output and counts as untrusted when it
// re-enters a prompt. A nil sanitize leaves the text as is.
func FormatChanges(changes []Change, sanitize SanitizeFunc) string {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}

	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		line := fmt.Sprintf("[%s|%s] %s", c.Category, c.Importance, sanitize(c.Title))
		if c.Description != "" {
			line += " | " + sanitize(c.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
