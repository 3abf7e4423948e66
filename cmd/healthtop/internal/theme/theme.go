// Package theme holds the color palette healthtop renders status with.
package theme

import "github.com/charmbracelet/lipgloss"

// Theme is a named status color palette.
type Theme struct {
	Name    string
	OK      lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Dim     lipgloss.Color
	Text    lipgloss.Color
}

// Default is healthtop's one palette — a dashboard for an unattended node
// has no use for the portfolio TUI's theme-cycling.
var Default = Theme{
	Name:    "healthtop",
	OK:      lipgloss.Color("#00ff88"),
	Warning: lipgloss.Color("#ffaa00"),
	Error:   lipgloss.Color("#ff4444"),
	Dim:     lipgloss.Color("#6c7086"),
	Text:    lipgloss.Color("#ffffff"),
}
