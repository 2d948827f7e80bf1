// Package tui provides Bubble Tea TUI components for the airlock CLI.
//
// TUI is opt-in (--tui) and renders the same payloads as the plain
// output: device operation streams as a live progress view, archived
// scan reports as a detail view.
package tui

import "github.com/charmbracelet/lipgloss"

// Palette. Adaptive colors keep verdicts readable on light terminals.
var (
	accentColor = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	cleanColor  = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	busyColor   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	dirtyColor  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	textColor   = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dimColor).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)
	HelpStyle  = lipgloss.NewStyle().Foreground(dimColor).MarginTop(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(cleanColor)
	WarningStyle = lipgloss.NewStyle().Foreground(busyColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(dirtyColor).Bold(true)

	// BoxStyle frames the report summary.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor).
			Padding(1, 2)

	// Stat boxes show the file counters under a report.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			Width(14).
			Align(lipgloss.Center)
	StatLabelStyle = lipgloss.NewStyle().Foreground(dimColor)
	StatValueStyle = lipgloss.NewStyle().Bold(true)
)

// StateStyle colors a job status, verdict or device state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "scanned", "CLEAN", "idle":
		return SuccessStyle
	case "processing", "busy":
		return WarningStyle
	case "DIRTY", "error":
		return ErrorStyle
	}
	return ValueStyle
}
