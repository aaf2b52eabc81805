package scheduler

import (
	"github.com/cheezy/kanban/internal/task"
)

// Resolver decides Backlog-vs-Ready placement from a board snapshot.
type Resolver struct {
	graph *Graph
	tasks map[string]*task.Task
}

// NewResolver indexes a board snapshot.
func NewResolver(tasks []*task.Task) *Resolver {
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return &Resolver{graph: BuildGraph(tasks), tasks: byID}
}

// Put replaces or adds a snapshot entry, keeping the graph in sync.
func (r *Resolver) Put(t *task.Task) {
	if _, ok := r.tasks[t.ID]; !ok {
		_ = r.graph.AddNode(t.ID, t.Dependencies)
	}
	r.tasks[t.ID] = t
}

// IsReady reports whether every dependency of t is completed.
// A dependency missing from the snapshot counts as unmet.
func (r *Resolver) IsReady(t *task.Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := r.tasks[depID]
		if !ok || dep.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// Placement returns the initial column and status for a task that is not
// claimed: Ready/open when all dependencies are met, Backlog/blocked otherwise.
func (r *Resolver) Placement(t *task.Task) (task.Column, task.Status) {
	if r.IsReady(t) {
		return task.ColumnReady, task.StatusOpen
	}
	return task.ColumnBacklog, task.StatusBlocked
}

// OnCompleted returns the direct dependents of completedID that sit in the
// Backlog and became ready. Only one hop is evaluated; their own dependents
// only look at direct dependencies and are handled when they complete.
func (r *Resolver) OnCompleted(completedID string) []*task.Task {
	var unblocked []*task.Task
	for _, id := range r.graph.Dependents(completedID) {
		dep, ok := r.tasks[id]
		if !ok || dep.Column != task.ColumnBacklog || dep.IsGoal() {
			continue
		}
		if r.IsReady(dep) {
			unblocked = append(unblocked, dep)
		}
	}
	sortByPosition(unblocked)
	return unblocked
}
