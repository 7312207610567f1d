package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
)

// Lipgloss styles for the terminal reports on stderr.
var (
	// Report title - bold
	titleStyle = lipgloss.NewStyle().
			Bold(true)

	// Field label - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Allowed / success indicator - green
	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	// Flagged-but-allowed indicator - yellow
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	// Rejection indicator - red
	rejectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Secondary detail text - gray
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// levelStyle picks the style matching a threat level: green for clean,
// yellow for flagged-but-allowed, red for rejected.
func levelStyle(level threatscan.ThreatLevel) lipgloss.Style {
	switch {
	case level >= threatscan.LevelHigh:
		return rejectStyle
	case level >= threatscan.LevelLow:
		return warnStyle
	default:
		return okStyle
	}
}
