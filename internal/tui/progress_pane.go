package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cheezy/kanban/internal/task"
)

// ProgressPaneModel shows how many tasks sit in each column.
type ProgressPaneModel struct {
	byColumn map[task.Column]int
	blocked  int
	goals    int
	total    int
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates an empty progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{byColumn: make(map[task.Column]int)}
}

// SetTasks recounts the board. Goals are counted apart since they never
// flow through the pipeline themselves.
func (m *ProgressPaneModel) SetTasks(all []*task.Task) {
	m.byColumn = make(map[task.Column]int)
	m.blocked, m.goals, m.total = 0, 0, 0
	for _, t := range all {
		if t.IsGoal() {
			m.goals++
			continue
		}
		m.total++
		m.byColumn[t.Column]++
		if t.Status == task.StatusBlocked {
			m.blocked++
		}
	}
}

// Done returns the number of finished work items.
func (m ProgressPaneModel) Done() int { return m.byColumn[task.ColumnDone] }

// View renders the pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Pipeline")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	for _, col := range task.Columns {
		n := fmt.Sprintf("%d", m.byColumn[col])
		switch col {
		case task.ColumnDoing, task.ColumnReview:
			n = StyleStatusInProgress.Render(n)
		case task.ColumnDone:
			n = StyleStatusCompleted.Render(n)
		}
		fmt.Fprintf(&b, "%-8s %s\n", string(col)+":", n)
	}
	fmt.Fprintf(&b, "\nBlocked:  %s\n", StyleStatusBlocked.Render(fmt.Sprintf("%d", m.blocked)))
	fmt.Fprintf(&b, "Goals:    %s\n\n", StyleGoal.Render(fmt.Sprintf("%d", m.goals)))

	if m.total > 0 {
		barWidth := max(0, min(m.width-16, 40))
		done := m.Done() * barWidth / m.total
		active := (m.byColumn[task.ColumnDoing] + m.byColumn[task.ColumnReview]) * barWidth / m.total
		rest := max(0, barWidth-done-active)

		bar := StyleStatusCompleted.Render(strings.Repeat("=", done))
		bar += StyleStatusInProgress.Render(strings.Repeat("-", active))
		bar += StyleStatusBlocked.Render(strings.Repeat(".", rest))
		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, m.Done(), m.total)
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
