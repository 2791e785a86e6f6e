package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpn-manager/vpn"
)

// State colors.
var (
	ColorStopped      = lipgloss.Color("#9ca3af")
	ColorInitializing = lipgloss.Color("#d97706")
	ColorRunning      = lipgloss.Color("#16a34a")
	ColorStopping     = lipgloss.Color("#854d0e")
	ColorError        = lipgloss.Color("#dc2626")
	ColorBorder       = lipgloss.Color("#4b5563")
)

// Log category colors.
var categoryColors = map[vpn.LogCategory]lipgloss.Color{
	vpn.CategoryManagement: lipgloss.Color("#06b6d4"),
	vpn.CategoryStderr:     lipgloss.Color("#dc2626"),
	vpn.CategoryStdout:     lipgloss.Color("#e5e7eb"),
	vpn.CategoryInternal:   lipgloss.Color("#f59e0b"),
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#a855f7")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(ColorStopped)
	errorStyle    = lipgloss.NewStyle().Foreground(ColorError)
	logStyle      = lipgloss.NewStyle().PaddingLeft(1)
)

var listStyle = lipgloss.NewStyle().
	Width(listWidth).
	BorderStyle(lipgloss.NormalBorder()).
	BorderRight(true).
	BorderForeground(ColorBorder)

func stateStyle(s vpn.ConnectionState) lipgloss.Style {
	color := ColorStopped
	switch s {
	case vpn.StateInitializing:
		color = ColorInitializing
	case vpn.StateRunning:
		color = ColorRunning
	case vpn.StateStopping:
		color = ColorStopping
	}
	return lipgloss.NewStyle().Foreground(color)
}

// renderLogLine colors the category prefix of a log event.
func renderLogLine(e vpn.LogEvent) string {
	prefix := "[" + e.Category().String() + "]"
	if c, ok := categoryColors[e.Category()]; ok {
		prefix = lipgloss.NewStyle().Foreground(c).Render(prefix)
	}
	return e.Time().Format("15:04:05") + " " + prefix + " " + e.Message()
}
