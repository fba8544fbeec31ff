package monitor

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#3B82F6")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorError     = lipgloss.Color("#EF4444")
	colorMuted     = lipgloss.Color("#6B7280")
	colorText      = lipgloss.Color("#F9FAFB")
	colorBgAlt     = lipgloss.Color("#1F2937")
)

var (
	listStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(colorMuted)

	listItemStyle     = lipgloss.NewStyle().Foreground(colorText)
	listSelectedStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	listMetaStyle     = lipgloss.NewStyle().Foreground(colorMuted)

	userPrefixStyle = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	userTextStyle   = lipgloss.NewStyle().Foreground(colorText)
	thinkingStyle   = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	toolStyle       = lipgloss.NewStyle().Foreground(colorMuted)
	toolMissing     = lipgloss.NewStyle().Foreground(colorError)
	emptyStyle      = lipgloss.NewStyle().Foreground(colorMuted).Align(lipgloss.Center)

	pendingStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorWarning).
		Padding(0, 1)

	pendingLabelStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)

	inputStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputFocus = inputStyle.BorderForeground(colorPrimary)

	statusStyle = lipgloss.NewStyle().Background(colorBgAlt).Foreground(colorMuted)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError)
)
