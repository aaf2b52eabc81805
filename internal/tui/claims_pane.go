package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// ClaimsPaneModel lists the tasks currently held by a claimant.
type ClaimsPaneModel struct {
	claims   []*task.Task
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewClaimsPaneModel creates an empty claims pane.
func NewClaimsPaneModel() ClaimsPaneModel {
	vp := viewport.New(0, 0)
	vp.SetContent("No active claims.")
	return ClaimsPaneModel{viewport: vp}
}

// Update forwards scroll keys to the viewport.
func (m ClaimsPaneModel) Update(msg tea.Msg) (ClaimsPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// SetTasks keeps the claimed tasks from all, soonest expiry first.
func (m *ClaimsPaneModel) SetTasks(all []*task.Task, now time.Time) {
	m.claims = m.claims[:0]
	for _, t := range all {
		if t.Claim != nil && t.Claim.ClaimantID != "" {
			m.claims = append(m.claims, t)
		}
	}
	sort.SliceStable(m.claims, func(i, j int) bool {
		return m.claims[i].Claim.ExpiresAt.Before(m.claims[j].Claim.ExpiresAt)
	})

	if len(m.claims) == 0 {
		m.viewport.SetContent("No active claims.")
		return
	}
	lines := make([]string, 0, len(m.claims))
	for _, t := range m.claims {
		lines = append(lines, Line(t, now))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

// Count returns the number of claimed tasks shown.
func (m ClaimsPaneModel) Count() int { return len(m.claims) }

// Line renders one claimed task: claimant, identifier, column, time left on
// the claim and any pending hook gate.
func Line(t *task.Task, now time.Time) string {
	parts := []string{
		StatusStyle(t.Status).Render(t.Identifier),
		string(t.Column),
		"@" + t.Claim.ClaimantID,
	}
	if left := t.Claim.ExpiresAt.Sub(now); left > 0 {
		parts = append(parts, left.Truncate(time.Second).String()+" left")
	} else {
		parts = append(parts, StyleWarning.Render("expired"))
	}
	if t.PendingHook != "" {
		gate := "[" + t.PendingHook
		if scheduler.GateTimedOut(t, now) {
			gate += " timed out"
		}
		parts = append(parts, StyleWarning.Render(gate+"]"))
	}
	if t.ReviewStatus != "" && t.Column == task.ColumnDoing {
		parts = append(parts, "("+string(t.ReviewStatus)+")")
	}
	parts = append(parts, t.Title)
	return strings.Join(parts, " ")
}

// View renders the pane.
func (m ClaimsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	title := StyleTitle.Render(fmt.Sprintf("Active Claims (%d)", len(m.claims)))

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(title + "\n" + m.viewport.View())
}

// SetSize updates the pane dimensions.
func (m *ClaimsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// Border and title take three rows.
	m.viewport.Width = max(0, w-2)
	m.viewport.Height = max(0, h-3)
}

// SetFocused updates the focus state.
func (m *ClaimsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
