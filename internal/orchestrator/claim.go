package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/lifecycle"
	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// ClaimResult is a claimed task and the hook the caller must run before starting.
type ClaimResult struct {
	Task *task.Task
	Hook *hooks.Metadata
}

// Claim atomically selects and claims the best task the caller may work on.
// Selection and the conditional write share one transaction; losing a race
// surfaces as a conflict and selection is retried. Returns
// task.ErrNoTaskAvailable when nothing is eligible.
func (e *Engine) Claim(ctx context.Context, caller task.Caller) (res *ClaimResult, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveOperation("claim", start, err)
		switch {
		case err == nil:
			metrics.RecordClaim(metrics.ClaimClaimed)
		case errors.Is(err, task.ErrNoTaskAvailable):
			metrics.RecordClaim(metrics.ClaimNoneAvailable)
		default:
			metrics.RecordClaim(metrics.ClaimError)
		}
	}()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnReady, task.ColumnDoing)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		tasks, err := tx.ListTasks(ctx, caller.BoardID)
		if err != nil {
			return err
		}
		candidate := scheduler.Select(tasks, caller.Capabilities, b.now)
		if candidate == nil {
			return task.ErrNoTaskAvailable
		}

		gate := hooks.MustLookup(hooks.BeforeDoing)
		next, err := lifecycle.Claim(candidate, lifecycle.ClaimParams{
			CallerID:     caller.ID,
			Now:          b.now,
			TTL:          e.cfg.ClaimTTL,
			Gate:         string(gate.Name),
			GateDeadline: b.now.Add(gate.Timeout),
		})
		if err != nil {
			return err
		}
		if candidate.Column != task.ColumnDoing {
			if err := appendTo(ctx, tx, next, task.ColumnDoing); err != nil {
				return err
			}
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}

		ev := events.NewTransition(events.TypeTaskClaimed, next, caller.ID, b.now)
		if candidate.Column == task.ColumnDoing {
			ev = ev.With("reclaimed_from", candidate.Claim.ClaimantID)
		}
		b.emit(ev)
		b.touch(next)
		res = &ClaimResult{Task: next, Hook: hooks.For(hooks.BeforeDoing, next, caller.ID)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("task claimed", "task", res.Task.Identifier, "agent", caller.ID, "expires_at", res.Task.Claim.ExpiresAt)
	return res, nil
}

// Next returns the task Claim would pick for the caller without claiming it.
func (e *Engine) Next(ctx context.Context, caller task.Caller) (*task.Task, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	tasks, err := e.store.ListTasks(ctx, caller.BoardID)
	if err != nil {
		return nil, err
	}
	t := scheduler.Select(tasks, caller.Capabilities, e.cfg.Now())
	if t == nil {
		return nil, task.ErrNoTaskAvailable
	}
	return t, nil
}

// ListReady returns every task the caller could claim right now, in
// selection order.
func (e *Engine) ListReady(ctx context.Context, caller task.Caller) ([]*task.Task, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	tasks, err := e.store.ListTasks(ctx, caller.BoardID)
	if err != nil {
		return nil, err
	}
	return scheduler.Candidates(tasks, caller.Capabilities, e.cfg.Now()), nil
}

// Unclaim gives a claimed task back to Ready. Only the claimant or an
// operator may do so.
func (e *Engine) Unclaim(ctx context.Context, caller task.Caller, id, reason string) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("unclaim", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnDoing, task.ColumnReady)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		cur, err := load(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		next, err := lifecycle.Unclaim(cur, caller, b.now)
		if err != nil {
			return err
		}
		if err := appendTo(ctx, tx, next, task.ColumnReady); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		ev := events.NewTransition(events.TypeTaskUnclaimed, next, caller.ID, b.now)
		if reason != "" {
			ev = ev.With("reason", reason)
		}
		b.emit(ev)
		b.touch(next)
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("task unclaimed", "task", out.Identifier, "actor", caller.ID, "reason", reason)
	return out, nil
}

// ReportHook accepts the result of a hook the caller ran.
//
// A before_doing report resolves the claim gate: success clears it, failure
// or a report after the deadline releases the task to Ready and returns a
// *task.HookError. after_doing results belong in the submit request.
// before_review and after_review reports are advisory and only logged.
func (e *Engine) ReportHook(ctx context.Context, caller task.Caller, id, name string, report hooks.Report) (out *task.Task, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("report_hook", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	spec, err := hooks.Lookup(name)
	if err != nil {
		return nil, err
	}

	switch spec.Name {
	case hooks.AfterDoing:
		return nil, task.Validationf("%s results are reported with submit", spec.Name)
	case hooks.BeforeReview, hooks.AfterReview:
		t, err := e.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := sameBoard(caller, t); err != nil {
			return nil, err
		}
		e.logAdvisory(spec, t, caller.ID, report)
		return t, nil
	}

	var hookErr error
	keys := scheduler.BoardKeys(caller.BoardID, task.ColumnDoing, task.ColumnReady)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		hookErr = nil
		cur, err := load(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if cur.Claim == nil || cur.Claim.ClaimantID != caller.ID {
			return task.Forbiddenf("caller %s is not the claimant of %s", caller.ID, cur.Identifier)
		}
		if cur.PendingHook != string(spec.Name) {
			return task.InvalidStatef("task %s has no pending %s hook", cur.Identifier, spec.Name)
		}

		hookErr = spec.Evaluate(report)
		if hookErr == nil && hooks.Expired(cur.PendingHookDeadline, b.now) {
			hookErr = &task.HookError{Hook: string(spec.Name), ExitCode: report.ExitCode, Output: report.Output, TimedOut: true}
		}

		if hookErr == nil {
			next, err := lifecycle.ClearGate(cur, string(spec.Name), b.now)
			if err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, next); err != nil {
				return err
			}
			out = next
			return nil
		}

		next, err := lifecycle.Release(cur, b.now)
		if err != nil {
			return err
		}
		if err := appendTo(ctx, tx, next, task.ColumnReady); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, next); err != nil {
			return err
		}
		b.emit(events.NewTransition(events.TypeTaskUnclaimed, next, events.ActorSystem, b.now).
			With("reason", "hook_failed").With("hook", string(spec.Name)))
		b.touch(next)
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hookErr != nil {
		metrics.RecordHookReport(string(spec.Name), hookResult(hookErr))
		e.logger.Warn("blocking hook failed, claim released",
			"hook", spec.Name, "task", out.Identifier, "agent", caller.ID, "exit_code", report.ExitCode)
		return out, hookErr
	}
	metrics.RecordHookReport(string(spec.Name), "success")
	return out, nil
}

func (e *Engine) logAdvisory(spec hooks.Spec, t *task.Task, agentID string, report hooks.Report) {
	result := hookResult(spec.Evaluate(report))
	metrics.RecordHookReport(string(spec.Name), result)
	e.logger.Info("advisory hook reported",
		"hook", spec.Name, "task", t.Identifier, "agent", agentID,
		"result", result, "exit_code", report.ExitCode, "duration_ms", report.DurationMs)
}

func hookResult(err error) string {
	var hookErr *task.HookError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &hookErr) && hookErr.TimedOut:
		return "timeout"
	}
	return "failure"
}
