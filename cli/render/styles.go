package render

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles for table output.
var (
	// HeaderStyle for table header cells.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	// CellStyle for table body cells.
	CellStyle = lipgloss.NewStyle().Padding(0, 1)

	// LabelStyle for key/value labels.
	LabelStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// StateStyle returns a cell style for a slot state or task state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "set", "success":
		return CellStyle.Foreground(successColor)
	case "unset", "queued", "running":
		return CellStyle.Foreground(warningColor)
	case "removed", "error":
		return CellStyle.Foreground(errorColor)
	default:
		return CellStyle
	}
}
