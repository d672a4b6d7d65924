package report

import (
	"charm.land/lipgloss/v2"
)

// Color palette.
var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")
)

var (
	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen).
		Bold(true)

	partialStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	hostNameStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	reasonStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)
)
