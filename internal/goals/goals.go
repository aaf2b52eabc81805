// Package goals derives a goal's progress and board placement from its children.
package goals

import (
	"github.com/cheezy/kanban/internal/task"
)

// Summary is the derived progress view of a goal.
type Summary struct {
	Total    int                 `json:"total"`
	ByStatus map[task.Status]int `json:"by_status"`
	ByColumn map[task.Column]int `json:"by_column"`
}

// Summarize counts children by status and column.
func Summarize(children []*task.Task) Summary {
	s := Summary{
		Total:    len(children),
		ByStatus: make(map[task.Status]int),
		ByColumn: make(map[task.Column]int),
	}
	for _, c := range children {
		s.ByStatus[c.Status]++
		s.ByColumn[c.Column]++
	}
	return s
}

// SharedColumn returns the column every child sits in, if there is one.
func SharedColumn(children []*task.Task) (task.Column, bool) {
	if len(children) == 0 {
		return "", false
	}
	col := children[0].Column
	for _, c := range children[1:] {
		if c.Column != col {
			return "", false
		}
	}
	return col, true
}

// DeriveStatus computes the goal's status from its children. A goal without
// children keeps its current status.
func DeriveStatus(goal *task.Task, children []*task.Task) task.Status {
	if len(children) == 0 {
		return goal.Status
	}
	completed, started := 0, false
	for _, c := range children {
		switch c.Status {
		case task.StatusCompleted:
			completed++
			started = true
		case task.StatusInProgress:
			started = true
		}
	}
	switch {
	case completed == len(children):
		return task.StatusCompleted
	case started:
		return task.StatusInProgress
	}
	return task.StatusOpen
}

// Placement is the outcome of recomputing a goal.
type Placement struct {
	Status task.Status
	Column task.Column
	// Position is the goal's new position when Move is set.
	Position int
	// Move reports whether the goal changes column or position.
	Move bool
	// ShiftFrom, when Move is set and ShiftFrom > 0, asks the caller to shift
	// every other task in Column at or after ShiftFrom down by one first.
	ShiftFrom int
}

// Changed reports whether applying p alters the goal at all.
func (p Placement) Changed(goal *task.Task) bool {
	return p.Move || p.Status != goal.Status
}

// Place computes where the goal belongs. columnTasks lists the tasks
// currently in the target column and is only consulted for it.
//
// When every child shares one column the goal is placed immediately before
// the earliest child there, or at the end of Done once all children are done.
// A goal left in Done with unfinished children goes back to the end of the
// Backlog. Applying the result and calling Place again yields Move == false.
func Place(goal *task.Task, children []*task.Task, columnTasks func(task.Column) []*task.Task) Placement {
	p := Placement{Status: DeriveStatus(goal, children), Column: goal.Column, Position: goal.Position}

	col, shared := SharedColumn(children)
	if !shared {
		if goal.Column == task.ColumnDone && p.Status != task.StatusCompleted {
			p.Column = task.ColumnBacklog
			p.Position = endOf(columnTasks(task.ColumnBacklog), goal.ID)
			p.Move = true
		}
		return p
	}

	if col == task.ColumnDone {
		if goal.Column != task.ColumnDone {
			p.Column = task.ColumnDone
			p.Position = endOf(columnTasks(task.ColumnDone), goal.ID)
			p.Move = true
		}
		return p
	}

	others := columnTasks(col)
	earliest := children[0]
	for _, c := range children[1:] {
		if c.Position < earliest.Position {
			earliest = c
		}
	}

	if goal.Column == col && goal.Position < earliest.Position && !anyBetween(others, goal, earliest.Position) {
		return p
	}

	p.Column = col
	p.Position = earliest.Position
	p.ShiftFrom = earliest.Position
	p.Move = true
	return p
}

func anyBetween(tasks []*task.Task, goal *task.Task, before int) bool {
	for _, t := range tasks {
		if t.ID == goal.ID {
			continue
		}
		if t.Position > goal.Position && t.Position < before {
			return true
		}
	}
	return false
}

func endOf(tasks []*task.Task, excludeID string) int {
	max := 0
	for _, t := range tasks {
		if t.ID != excludeID && t.Position > max {
			max = t.Position
		}
	}
	return max + 1
}
