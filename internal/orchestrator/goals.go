package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/goals"
	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// RecomputeGoal re-derives a goal's status and placement from its children
// and writes it when anything changed. Running it again without a child
// change writes nothing. A goal that becomes completed unblocks its
// dependents in the same transaction.
func (e *Engine) RecomputeGoal(ctx context.Context, goalID string) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("recompute_goal", start, err) }(time.Now())

	g, err := e.store.GetTask(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if !g.IsGoal() {
		return nil, task.Validationf("task %s is not a goal", g.Identifier)
	}

	var committed *batch
	err = retryOnConflict(ctx, e.cfg.Retry, func() error {
		b, err := e.runOnce(ctx, scheduler.BoardKeys(g.BoardID), func(ctx context.Context, tx persistence.Tx, b *batch) error {
			goal, err := tx.GetTask(ctx, goalID)
			if err != nil {
				return err
			}
			children, err := tx.Children(ctx, goalID)
			if err != nil {
				return err
			}

			var listErr error
			p := goals.Place(goal, children, func(col task.Column) []*task.Task {
				tasks, err := tx.ListColumn(ctx, goal.BoardID, col)
				if err != nil && listErr == nil {
					listErr = err
				}
				return tasks
			})
			if listErr != nil {
				return listErr
			}
			out = goal
			if !p.Changed(goal) {
				return nil
			}

			if p.Move && p.ShiftFrom > 0 {
				if err := tx.ShiftPositions(ctx, goal.BoardID, p.Column, p.ShiftFrom, goal.ID); err != nil {
					return err
				}
			}
			next := goal.Clone()
			next.Status = p.Status
			next.Column = p.Column
			next.Position = p.Position
			next.UpdatedAt = b.now
			if err := tx.UpdateTask(ctx, next); err != nil {
				return err
			}
			b.emit(events.NewTransition(events.TypeGoalRepositioned, next, events.ActorSystem, b.now).
				With("from_column", string(goal.Column)))
			if next.Status == task.StatusCompleted && goal.Status != task.StatusCompleted {
				if _, err := e.unblockDependents(ctx, tx, b, next); err != nil {
					return err
				}
			}
			out = next
			return nil
		})
		if err != nil {
			return err
		}
		committed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range committed.goals {
		if id != goalID {
			e.recomputeGoal(ctx, id)
		}
	}
	return out, nil
}

// recomputeGoal runs after a child transition committed. A failure leaves the
// goal stale until the next child transition; it does not fail the caller.
func (e *Engine) recomputeGoal(ctx context.Context, goalID string) {
	if _, err := e.RecomputeGoal(ctx, goalID); err != nil {
		metrics.RecordGoalRecomputeError()
		e.logger.Error("goal recompute failed", "goal", goalID, "error", err)
	}
}

// Tree is a task with, for goals, its children and their progress summary.
type Tree struct {
	Task        *task.Task
	Children    []*task.Task
	Summary     *goals.Summary
	Completions []task.CompletionRecord
}

// GetTree returns a goal with its children, or a single task with its
// completion history.
func (e *Engine) GetTree(ctx context.Context, caller task.Caller, id string) (tree *Tree, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("get_tree", start, err) }(time.Now())

	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sameBoard(caller, t); err != nil {
		return nil, err
	}

	tree = &Tree{Task: t}
	if !t.IsGoal() {
		if tree.Completions, err = e.store.Completions(ctx, id); err != nil {
			return nil, err
		}
		return tree, nil
	}

	board, err := e.store.ListTasks(ctx, t.BoardID)
	if err != nil {
		return nil, err
	}
	for _, c := range board {
		if c.ParentID == t.ID {
			tree.Children = append(tree.Children, c)
		}
	}
	sort.SliceStable(tree.Children, func(i, j int) bool {
		a, b := tree.Children[i], tree.Children[j]
		if a.Column != b.Column {
			return a.Column.Index() < b.Column.Index()
		}
		return a.Position < b.Position
	})
	summary := goals.Summarize(tree.Children)
	tree.Summary = &summary
	return tree, nil
}
