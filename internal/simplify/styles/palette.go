package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
)

// Report colors
const (
	ReportForeground = "#D4D4D4"
	ReportMuted      = "#858585"
	ReportValue      = "#EACD53" // recovered constants

	// Resolution badges
	ResolvedAnalyzed   = "#569CD6"
	ResolvedEmulated   = "#6A9955"
	ResolvedReflected  = "#CE9178"
	ResolvedUnresolved = "#F44747"
)

var badgeBase = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("#1E1E1E"))

// Badge renders label on the background color of a call resolution. Unknown
// resolutions use the muted color.
func Badge(resolution string) string {
	bg := ReportMuted
	switch resolution {
	case "analyzed":
		bg = ResolvedAnalyzed
	case "emulated":
		bg = ResolvedEmulated
	case "reflected":
		bg = ResolvedReflected
	case "unresolved":
		bg = ResolvedUnresolved
	}
	return badgeBase.Background(lipgloss.Color(bg)).Render(resolution)
}

// MenuBar renders the TUI status line across width.
func MenuBar(text string, width int) string {
	return lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(width).
		Render(text)
}
