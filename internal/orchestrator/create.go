package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/lifecycle"
	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// NewTask describes a task to create.
type NewTask struct {
	Title                string
	Description          string
	Kind                 task.Kind
	Priority             task.Priority
	ParentID             string
	Dependencies         []string
	RequiredCapabilities []string
}

// NewChild is a child created together with its goal. DependsOn holds
// indexes of siblings in the same request.
type NewChild struct {
	NewTask
	DependsOn []int
}

// GoalResult is a created goal with its children.
type GoalResult struct {
	Goal     *task.Task
	Children []*task.Task
}

// CreateTask creates one task. It lands in Ready when every dependency is
// completed and in Backlog otherwise.
func (e *Engine) CreateTask(ctx context.Context, caller task.Caller, in NewTask) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("create_task", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnBacklog, task.ColumnReady)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		t, err := e.buildTask(ctx, tx, caller, in, b.now)
		if err != nil {
			return err
		}
		deps, err := loadDependencies(ctx, tx, caller, t.Dependencies)
		if err != nil {
			return err
		}
		col, status := scheduler.NewResolver(deps).Placement(t)
		t.Status = status
		if err := e.insert(ctx, tx, t, col); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskCreated, t, caller.ID, b.now))
		b.touch(t)
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("task created", "task", out.Identifier, "column", out.Column, "actor", caller.ID)
	return out, nil
}

// CreateGoal creates a goal and, optionally, its children in one
// transaction. Sibling dependencies are checked for cycles before anything
// is written.
func (e *Engine) CreateGoal(ctx context.Context, caller task.Caller, goal NewTask, children []NewChild) (res *GoalResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("create_goal", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	goal.Kind = task.KindGoal
	if goal.ParentID != "" {
		return nil, task.Validationf("a goal cannot have a parent")
	}
	if err := validateSiblings(children); err != nil {
		return nil, err
	}

	err = e.mutate(ctx, scheduler.BoardKeys(caller.BoardID, task.ColumnBacklog, task.ColumnReady), func(ctx context.Context, tx persistence.Tx, b *batch) error {
		g, err := e.buildTask(ctx, tx, caller, goal, b.now)
		if err != nil {
			return err
		}
		deps, err := loadDependencies(ctx, tx, caller, g.Dependencies)
		if err != nil {
			return err
		}
		col, status := scheduler.NewResolver(deps).Placement(g)
		g.Status = status
		if err := e.insert(ctx, tx, g, col); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskCreated, g, caller.ID, b.now))

		res = &GoalResult{Goal: g}
		ids := make([]string, len(children))
		for i := range children {
			ids[i] = uuid.NewString()
		}
		for i, c := range children {
			c.ParentID = g.ID
			if c.Kind == "" {
				c.Kind = task.KindWork
			}
			t, err := e.buildTask(ctx, tx, caller, c.NewTask, b.now)
			if err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
			t.ID = ids[i]
			existing, err := loadDependencies(ctx, tx, caller, t.Dependencies)
			if err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
			col, status := scheduler.NewResolver(existing).Placement(t)
			if len(c.DependsOn) > 0 {
				col, status = task.ColumnBacklog, task.StatusBlocked
			}
			t.Status = status

			// Sibling edges are added once every child exists.
			t.Dependencies = nil
			if err := e.insert(ctx, tx, t, col); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
			for _, depID := range existing {
				if err := tx.AddDependency(ctx, t.ID, depID.ID); err != nil {
					return err
				}
				t.Dependencies = append(t.Dependencies, depID.ID)
			}
			b.emit(events.NewTransition(events.TypeTaskCreated, t, caller.ID, b.now))
			b.touch(t)
			res.Children = append(res.Children, t)
		}
		for i, c := range children {
			for _, j := range c.DependsOn {
				if err := tx.AddDependency(ctx, ids[i], ids[j]); err != nil {
					return err
				}
				res.Children[i].Dependencies = append(res.Children[i].Dependencies, ids[j])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The goal may have moved next to its children.
	if g, err := e.store.GetTask(ctx, res.Goal.ID); err == nil {
		res.Goal = g
	}
	e.logger.Info("goal created", "goal", res.Goal.Identifier, "children", len(res.Children), "actor", caller.ID)
	return res, nil
}

// validateSiblings rejects out-of-range and cyclic sibling references.
func validateSiblings(children []NewChild) error {
	g := scheduler.NewGraph()
	for i, c := range children {
		deps := make([]string, 0, len(c.DependsOn))
		for _, j := range c.DependsOn {
			if j < 0 || j >= len(children) {
				return task.Validationf("child %d depends on unknown sibling %d", i, j)
			}
			if j == i {
				return task.Validationf("child %d depends on itself", i)
			}
			deps = append(deps, siblingKey(j))
		}
		if err := g.AddNode(siblingKey(i), deps); err != nil {
			return task.Validationf("%v", err)
		}
	}
	_, err := g.Validate()
	return err
}

func siblingKey(i int) string { return fmt.Sprintf("child-%d", i) }

// buildTask validates in and turns it into an unsaved task owned by the caller's board.
func (e *Engine) buildTask(ctx context.Context, tx persistence.Tx, caller task.Caller, in NewTask, now time.Time) (*task.Task, error) {
	t := &task.Task{
		ID:                   uuid.NewString(),
		BoardID:              caller.BoardID,
		Kind:                 in.Kind,
		Title:                strings.TrimSpace(in.Title),
		Description:          in.Description,
		Priority:             in.Priority,
		ParentID:             in.ParentID,
		Dependencies:         dedupe(in.Dependencies),
		RequiredCapabilities: dedupe(in.RequiredCapabilities),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if t.Kind == "" {
		t.Kind = task.KindWork
	}
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}
	if err := task.ValidateNew(t); err != nil {
		return nil, err
	}
	if t.ParentID == "" {
		return t, nil
	}
	if t.IsGoal() {
		return nil, task.Validationf("a goal cannot have a parent")
	}
	parent, err := load(ctx, tx, caller, t.ParentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsGoal() {
		return nil, task.Validationf("parent %s is not a goal", parent.Identifier)
	}
	return t, nil
}

// insert allocates the identifier and end-of-column position and stores t.
func (e *Engine) insert(ctx context.Context, tx persistence.Tx, t *task.Task, col task.Column) error {
	id, err := tx.NextIdentifier(ctx, t.BoardID, t.Kind)
	if err != nil {
		return err
	}
	t.Identifier = id
	if err := appendTo(ctx, tx, t, col); err != nil {
		return err
	}
	return tx.InsertTask(ctx, t)
}

func loadDependencies(ctx context.Context, tx persistence.Tx, caller task.Caller, ids []string) ([]*task.Task, error) {
	deps := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		d, err := load(ctx, tx, caller, id)
		if err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// AddDependency makes id depend on dependsOnID. Edges that would close a
// cycle are rejected. A Ready task gaining an unmet dependency moves back to
// Backlog; tasks further along are not moved.
func (e *Engine) AddDependency(ctx context.Context, caller task.Caller, id, dependsOnID string) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("add_dependency", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnBacklog, task.ColumnReady)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		cur, err := load(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		dep, err := load(ctx, tx, caller, dependsOnID)
		if err != nil {
			return err
		}
		for _, existing := range cur.Dependencies {
			if existing == dep.ID {
				out = cur
				return nil
			}
		}

		board, err := tx.ListTasks(ctx, caller.BoardID)
		if err != nil {
			return err
		}
		if err := scheduler.BuildGraph(board).AddEdge(cur.ID, dep.ID); err != nil {
			return err
		}
		if err := tx.AddDependency(ctx, cur.ID, dep.ID); err != nil {
			return err
		}
		cur.Dependencies = append(cur.Dependencies, dep.ID)

		if cur.Column != task.ColumnReady || dep.Status == task.StatusCompleted {
			out = cur
			return nil
		}
		next, err := lifecycle.Block(cur, b.now)
		if err != nil {
			return err
		}
		if err := appendTo(ctx, tx, next, task.ColumnBacklog); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskBlocked, next, caller.ID, b.now).
			With("dependency", dep.Identifier))
		b.touch(next)
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveDependency drops an edge. A Backlog task whose remaining
// dependencies are all completed moves to the end of Ready.
func (e *Engine) RemoveDependency(ctx context.Context, caller task.Caller, id, dependsOnID string) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("remove_dependency", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnBacklog, task.ColumnReady)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		if _, err := load(ctx, tx, caller, id); err != nil {
			return err
		}
		if err := tx.RemoveDependency(ctx, id, dependsOnID); err != nil {
			return err
		}
		cur, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		out = cur
		if cur.Column != task.ColumnBacklog || cur.IsGoal() {
			return nil
		}
		deps, err := loadDependencies(ctx, tx, caller, cur.Dependencies)
		if err != nil {
			return err
		}
		if !scheduler.NewResolver(deps).IsReady(cur) {
			return nil
		}
		next, err := lifecycle.Unblock(cur, b.now)
		if err != nil {
			return err
		}
		if err := appendTo(ctx, tx, next, task.ColumnReady); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskUnblocked, next, caller.ID, b.now))
		b.touch(next)
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
