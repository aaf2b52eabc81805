package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/lifecycle"
	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// SubmitRequest is the claimant's hand-off of finished work.
type SubmitRequest struct {
	Completion   *task.CompletionRecord
	AfterDoing   *hooks.Report // required
	BeforeReview *hooks.Report // optional, advisory
}

// Submit moves the caller's task from Doing to Review. The after_doing hook
// result is mandatory: a missing report is a validation error and a failed
// one leaves the task in Doing with a *task.HookError.
func (e *Engine) Submit(ctx context.Context, caller task.Caller, id string, req SubmitRequest) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("submit", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := task.ValidateCompletion(req.Completion); err != nil {
		return nil, err
	}

	afterDoing := hooks.MustLookup(hooks.AfterDoing)
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnDoing, task.ColumnReview)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		cur, err := load(ctx, tx, caller, id)
		if err != nil {
			return err
		}

		rec := *req.Completion
		rec.SubmittedBy = caller.ID
		rec.SubmittedAt = b.now
		next, err := lifecycle.Submit(cur, caller.ID, &rec, b.now)
		if err != nil {
			return err
		}

		if req.AfterDoing == nil {
			return task.Validationf("%s hook result is required to submit", afterDoing.Name)
		}
		if err := afterDoing.Evaluate(*req.AfterDoing); err != nil {
			metrics.RecordHookReport(string(afterDoing.Name), hookResult(err))
			return err
		}

		if err := tx.AppendCompletion(ctx, next.ID, next.CompletionRecord); err != nil {
			return err
		}
		if err := appendTo(ctx, tx, next, task.ColumnReview); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskSubmitted, next, caller.ID, b.now).
			With("completion_sequence", strconv.Itoa(next.CompletionRecord.Sequence)))
		b.touch(next)
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordHookReport(string(afterDoing.Name), "success")
	if req.BeforeReview != nil {
		e.logAdvisory(hooks.MustLookup(hooks.BeforeReview), out, caller.ID, *req.BeforeReview)
	}
	e.logger.Info("task submitted", "task", out.Identifier, "agent", caller.ID, "sequence", out.CompletionRecord.Sequence)
	return out, nil
}

// RecordReview stores a reviewer's outcome on a task in Review without
// routing it.
func (e *Engine) RecordReview(ctx context.Context, caller task.Caller, id string, status task.ReviewStatus, notes string) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("record_review", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnReview)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		cur, err := load(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		next, err := lifecycle.RecordReview(cur, status, caller.ID, notes, b.now)
		if err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RouteResult is the outcome of routing a reviewed task.
type RouteResult struct {
	Task *task.Task
	// Hook is the after_review metadata, set when the task was approved.
	Hook *hooks.Metadata
	// Unblocked lists dependents that moved from Backlog to Ready.
	Unblocked []*task.Task
}

// RouteReview moves a task out of Review according to its review status.
// When status is non-empty it is recorded first, in the same transaction.
// Approval completes the task and promotes every direct dependent whose
// dependencies are now all completed.
func (e *Engine) RouteReview(ctx context.Context, caller task.Caller, id string, status task.ReviewStatus, notes string) (res *RouteResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("route_review", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	err = e.mutate(ctx, scheduler.BoardKeys(caller.BoardID), func(ctx context.Context, tx persistence.Tx, b *batch) error {
		cur, err := load(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if status != "" {
			if cur, err = lifecycle.RecordReview(cur, status, caller.ID, notes, b.now); err != nil {
				return err
			}
		}
		next, tr, err := lifecycle.Review(cur, e.cfg.ClaimTTL, b.now)
		if err != nil {
			return err
		}

		res = &RouteResult{}
		if tr == lifecycle.TransitionReturn {
			if err := appendTo(ctx, tx, next, task.ColumnDoing); err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, next); err != nil {
				return err
			}
			b.emit(events.NewTransition(events.TypeTaskReturnedToDoing, next, caller.ID, b.now).
				With("review_status", string(next.ReviewStatus)))
			b.touch(next)
			res.Task = next
			return nil
		}

		if err := appendTo(ctx, tx, next, task.ColumnDone); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskApproved, next, caller.ID, b.now))
		b.touch(next)

		unblocked, err := e.unblockDependents(ctx, tx, b, next)
		if err != nil {
			return err
		}
		res.Task = next
		res.Unblocked = unblocked
		res.Hook = hooks.For(hooks.AfterReview, next, caller.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("review routed", "task", res.Task.Identifier, "reviewer", caller.ID,
		"column", res.Task.Column, "unblocked", len(res.Unblocked))
	return res, nil
}

// unblockDependents moves the direct dependents of a just-completed task
// from Backlog to the end of Ready when all their dependencies are met.
func (e *Engine) unblockDependents(ctx context.Context, tx persistence.Tx, b *batch, completed *task.Task) ([]*task.Task, error) {
	board, err := tx.ListTasks(ctx, completed.BoardID)
	if err != nil {
		return nil, err
	}
	resolver := scheduler.NewResolver(board)
	resolver.Put(completed)

	var moved []*task.Task
	for _, dep := range resolver.OnCompleted(completed.ID) {
		next, err := lifecycle.Unblock(dep, b.now)
		if err != nil {
			return nil, err
		}
		if err := appendTo(ctx, tx, next, task.ColumnReady); err != nil {
			return nil, err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return nil, err
		}
		b.emit(events.NewTransition(events.TypeTaskUnblocked, next, events.ActorSystem, b.now).
			With("completed_dependency", completed.Identifier))
		b.touch(next)
		moved = append(moved, next)
	}
	return moved, nil
}
