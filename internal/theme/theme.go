// Package theme provides the Lip Gloss color palette and reusable styles
// for the referee TUI. It is a leaf package with no internal imports to
// avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Competitor colors.
var (
	ColorRed     = lipgloss.Color("#E63946")
	ColorRedDim  = lipgloss.Color("#7f1d1d")
	ColorBlue    = lipgloss.Color("#457B9D")
	ColorBlueDim = lipgloss.Color("#1e3a5f")
	ColorFlash   = lipgloss.Color("#f9fafb")
	ColorAcked   = lipgloss.Color("#16a34a")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#2563eb")
)

// SideColor returns the color of a competitor side ("red" or "blue").
func SideColor(side string) lipgloss.Color {
	switch side {
	case "red":
		return ColorRed
	case "blue":
		return ColorBlue
	default:
		return ColorDimmed
	}
}

// SideDimColor returns the resting border color of a competitor zone.
func SideDimColor(side string) lipgloss.Color {
	switch side {
	case "red":
		return ColorRedDim
	case "blue":
		return ColorBlueDim
	default:
		return ColorBorder
	}
}

// HealthColor returns the color for a connection state name.
func HealthColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorHealthy
	case "lagging":
		return ColorWarning
	case "disconnected":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// HealthGlyph returns the status dot for a connection state name.
func HealthGlyph(state string) string {
	switch state {
	case "connected":
		return "●"
	case "lagging":
		return "◐"
	default:
		return "○"
	}
}

// Reusable styles.
var (
	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
		Foreground(ColorDanger)

	StyleOK = lipgloss.NewStyle().
		Foreground(ColorHealthy)
)

// Panel returns the shared double-bordered overlay frame.
func Panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder)
}
