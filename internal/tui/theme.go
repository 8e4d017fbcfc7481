package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header    lipgloss.Style
	footer    lipgloss.Style
	selected  lipgloss.Style
	device    lipgloss.Style
	capturing lipgloss.Style
	idle      lipgloss.Style
	err       lipgloss.Style
	warn      lipgloss.Style
	notice    lipgloss.Style
	help      lipgloss.Style
	prompt    lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Background(lipgloss.Color("4")).Padding(0, 1),
		footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		selected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		device:    lipgloss.NewStyle(),
		capturing: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		notice:    lipgloss.NewStyle().Faint(true),
		help:      lipgloss.NewStyle().Faint(true),
		prompt:    lipgloss.NewStyle().Bold(true),
	}
}
