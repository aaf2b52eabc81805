// Package tui is a terminal monitor for one board's claim traffic. It polls
// the task store and shows who holds what, how long each claim has left and
// how far the board has progressed.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cheezy/kanban/internal/task"
)

// Loader fetches every task on the watched board.
type Loader func(ctx context.Context) ([]*task.Task, error)

// DefaultRefresh is the polling interval used when none is given.
const DefaultRefresh = 2 * time.Second

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneClaims PaneID = iota
	PaneProgress
)

type boardMsg struct {
	tasks []*task.Task
	at    time.Time
}

type errMsg struct{ err error }

type tickMsg time.Time

// Model is the root Bubble Tea model for the monitor.
type Model struct {
	ctx          context.Context
	boardID      string
	load         Loader
	refresh      time.Duration
	now          func() time.Time
	claimsPane   ClaimsPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	keys         KeyMap
	help         help.Model
	loadedAt     time.Time
	err          error
	width        int
	height       int
	quitting     bool
}

// New creates a monitor for boardID. A refresh <= 0 uses DefaultRefresh.
func New(ctx context.Context, boardID string, load Loader, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	m := Model{
		ctx:          ctx,
		boardID:      boardID,
		load:         load,
		refresh:      refresh,
		now:          time.Now,
		claimsPane:   NewClaimsPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneClaims,
		keys:         DefaultKeyMap(),
		help:         help.New(),
	}
	m.updateFocusStates()
	return m
}

// Init loads the board and starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.load(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return boardMsg{tasks: tasks, at: m.now()}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Focus):
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()
		case key.Matches(msg, m.keys.Refresh):
			cmds = append(cmds, m.fetch())
		default:
			// Only the claims list scrolls.
			if m.focusedPane == PaneClaims {
				var cmd tea.Cmd
				m.claimsPane, cmd = m.claimsPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.computeLayout()

	case boardMsg:
		m.err = nil
		m.loadedAt = msg.at
		m.claimsPane.SetTasks(msg.tasks, msg.at)
		m.progressPane.SetTasks(msg.tasks)

	case errMsg:
		m.err = msg.err

	case tickMsg:
		cmds = append(cmds, m.fetch(), m.tick())
	}

	return m, tea.Batch(cmds...)
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading board..."
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.claimsPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, body, m.statusLine(), m.help.View(m.keys))
}

func (m Model) statusLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "board %s", m.boardID)
	if !m.loadedAt.IsZero() {
		fmt.Fprintf(&b, "  updated %s", m.loadedAt.Format(time.TimeOnly))
	}
	if m.err != nil {
		b.WriteString("  ")
		b.WriteString(StyleWarning.Render(m.err.Error()))
	}
	return b.String()
}

// computeLayout gives the claims list 65% of the width. Two rows are
// reserved for the status line and help bar.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	h := max(0, m.height-2)
	m.claimsPane.SetSize(leftWidth, h)
	m.progressPane.SetSize(m.width-leftWidth, h)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.claimsPane.SetFocused(m.focusedPane == PaneClaims)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
