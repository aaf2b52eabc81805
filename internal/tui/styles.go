package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/cheezy/kanban/internal/task"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusOpen = lipgloss.NewStyle()

	StyleStatusInProgress = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusCompleted = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusBlocked = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	StyleWarning = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleGoal = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// StatusStyle returns the style used to render a task with status s.
func StatusStyle(s task.Status) lipgloss.Style {
	switch s {
	case task.StatusInProgress:
		return StyleStatusInProgress
	case task.StatusCompleted:
		return StyleStatusCompleted
	case task.StatusBlocked:
		return StyleStatusBlocked
	}
	return StyleStatusOpen
}
