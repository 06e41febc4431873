// Package watch is a terminal view of a running auditstream: health,
// dispatch outcome counters and the most recent activity.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds all styling for the watch TUI.
type Theme struct {
	OK       lipgloss.Style
	Failed   lipgloss.Style
	Rejected lipgloss.Style
	Changed  lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#5FAFD7")

	return Theme{
		OK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		Rejected: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")),
		Changed:  lipgloss.NewStyle().Foreground(accent),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
	}
}

// ForType picks the style for an event type.
func (t Theme) ForType(eventType string) lipgloss.Style {
	switch eventType {
	case "audit.streamed":
		return t.OK
	case "audit.failed":
		return t.Failed
	case "audit.rejected":
		return t.Rejected
	case "destinations.changed":
		return t.Changed
	default:
		return t.Dim
	}
}
