package scheduler

import (
	"sort"
	"time"

	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/task"
)

// Eligible reports whether every required capability is in the caller's set.
// An empty requirement matches every caller.
func Eligible(required, capabilities []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// Claimable reports whether t may be claimed at now, ignoring capabilities.
// Ready tasks need no active claim. Doing tasks qualify once their claim
// expired or their blocking hook gate timed out without a report. Goals are
// never claimable.
func Claimable(t *task.Task, now time.Time) bool {
	if t.IsGoal() {
		return false
	}
	switch t.Column {
	case task.ColumnReady:
		return t.PendingHook == "" && !t.Claim.Active(now)
	case task.ColumnDoing:
		if t.Claim == nil {
			return false
		}
		return !t.Claim.Active(now) || GateTimedOut(t, now)
	}
	return false
}

// GateTimedOut reports whether t waits on a blocking hook whose deadline passed.
func GateTimedOut(t *task.Task, now time.Time) bool {
	return t.PendingHook != "" && hooks.Expired(t.PendingHookDeadline, now)
}

// Candidates filters tasks down to those the caller may claim at now and
// returns them in selection order.
func Candidates(tasks []*task.Task, capabilities []string, now time.Time) []*task.Task {
	var out []*task.Task
	for _, t := range tasks {
		if Claimable(t, now) && Eligible(t.RequiredCapabilities, capabilities) {
			out = append(out, t)
		}
	}
	SortForSelection(out)
	return out
}

// Select returns the task a claim would pick, or nil.
func Select(tasks []*task.Task, capabilities []string, now time.Time) *task.Task {
	c := Candidates(tasks, capabilities, now)
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// SortForSelection orders by priority (highest first), then position, then
// creation sequence. The order is total so selection is deterministic.
func SortForSelection(tasks []*task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if sa, sb := a.Sequence(), b.Sequence(); sa != sb {
			return sa < sb
		}
		return a.ID < b.ID
	})
}

func sortByPosition(tasks []*task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Position < tasks[j].Position
	})
}
