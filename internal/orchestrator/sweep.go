package orchestrator

import (
	"context"
	"time"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/lifecycle"
	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// Sweep reasons.
const (
	ReasonClaimExpired = "claim_expired"
	ReasonHookTimeout  = "hook_timeout"
)

// Sweep returns stale Doing tasks to Ready: those whose claim expired and
// those whose blocking hook result never arrived in time. Claim selection
// treats such tasks as available anyway, so the sweep only tidies the board.
// Goals never hold claims and are skipped.
func (e *Engine) Sweep(ctx context.Context) ([]*task.Task, error) {
	stale, err := e.store.ListStale(ctx, e.cfg.Now())
	if err != nil {
		return nil, err
	}

	var released []*task.Task
	for _, s := range stale {
		t, reason, err := e.release(ctx, s)
		if err != nil {
			e.logger.Warn("sweep could not release task", "task", s.Identifier, "error", err)
			continue
		}
		if t == nil {
			continue
		}
		metrics.RecordSweepRelease(reason)
		e.logger.Info("task released by sweep", "task", t.Identifier, "reason", reason)
		released = append(released, t)
	}
	return released, nil
}

// release re-checks staleness under the column locks, since the claimant may
// have acted after ListStale ran. It returns nil when the task is no longer stale.
func (e *Engine) release(ctx context.Context, stale *task.Task) (out *task.Task, reason string, err error) {
	keys := scheduler.BoardKeys(stale.BoardID, task.ColumnDoing, task.ColumnReady)
	err = e.mutate(ctx, keys, func(ctx context.Context, tx persistence.Tx, b *batch) error {
		out, reason = nil, ""
		cur, err := tx.GetTask(ctx, stale.ID)
		if err != nil {
			return err
		}
		if cur.Column != task.ColumnDoing {
			return nil
		}
		switch {
		case scheduler.GateTimedOut(cur, b.now):
			reason = ReasonHookTimeout
		case cur.Claim != nil && !cur.Claim.Active(b.now):
			reason = ReasonClaimExpired
		default:
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
		ev := events.NewTransition(events.TypeTaskUnclaimed, next, events.ActorSystem, b.now).With("reason", reason)
		if cur.Claim != nil {
			ev = ev.With("previous_claimant", cur.Claim.ClaimantID)
		}
		b.emit(ev)
		b.touch(next)
		out = next
		return nil
	})
	return out, reason, err
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
