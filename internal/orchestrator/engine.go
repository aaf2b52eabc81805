// Package orchestrator is the workflow engine: it claims, moves and
// aggregates tasks on top of the task store, one transaction per transition.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/scheduler"
	"github.com/cheezy/kanban/internal/task"
)

// Config configures the engine.
type Config struct {
	ClaimTTL  time.Duration    // Claim lifetime (default 60m)
	Retry     RetryConfig      // Conflict retry policy
	Now       func() time.Time // Clock (default time.Now)
	Logger    *slog.Logger     // Logger (default slog.Default())
	Publisher events.Publisher // Event sink (default events.Discard)
}

// DefaultClaimTTL is the claim lifetime used when none is configured.
const DefaultClaimTTL = 60 * time.Minute

// Engine coordinates every task transition.
type Engine struct {
	store  persistence.Store
	cfg    Config
	locks  *scheduler.ColumnLocks
	logger *slog.Logger

	// publishMu is taken just before commit and released after the batch's
	// events are published, so events leave in commit order.
	publishMu sync.Mutex
}

// New creates an engine over store.
func New(store persistence.Store, cfg Config) *Engine {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		locks:  scheduler.NewColumnLocks(),
		logger: cfg.Logger.With("component", "engine"),
	}
}

// batch collects what a transaction produced for delivery after commit.
type batch struct {
	now    time.Time
	events []events.TransitionEvent
	goals  []string
}

func (b *batch) emit(ev events.TransitionEvent) {
	b.events = append(b.events, ev)
}

// touch schedules a recompute of t's goal, if it has one.
func (b *batch) touch(t *task.Task) {
	if t.ParentID == "" {
		return
	}
	for _, id := range b.goals {
		if id == t.ParentID {
			return
		}
	}
	b.goals = append(b.goals, t.ParentID)
}

// mutate runs fn in one transaction holding the given column locks,
// retrying on conflict. After commit it publishes the events fn emitted and
// recomputes the goals fn touched, before returning.
func (e *Engine) mutate(ctx context.Context, keys []string, fn func(ctx context.Context, tx persistence.Tx, b *batch) error) error {
	var committed *batch
	err := retryOnConflict(ctx, e.cfg.Retry, func() error {
		b, err := e.runOnce(ctx, keys, fn)
		if err != nil {
			return err
		}
		committed = b
		return nil
	})
	if err != nil {
		return err
	}
	for _, goalID := range committed.goals {
		e.recomputeGoal(ctx, goalID)
	}
	return nil
}

func (e *Engine) runOnce(ctx context.Context, keys []string, fn func(ctx context.Context, tx persistence.Tx, b *batch) error) (*batch, error) {
	unlock := e.locks.LockAll(keys)
	defer unlock()

	b := &batch{now: e.cfg.Now()}
	ordered := false
	err := e.store.WithTx(ctx, func(tx persistence.Tx) error {
		if err := fn(ctx, tx, b); err != nil {
			return err
		}
		if len(b.events) > 0 {
			e.publishMu.Lock()
			ordered = true
		}
		return nil
	})
	if ordered {
		if err == nil {
			e.publish(b.events)
		}
		e.publishMu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Engine) publish(evs []events.TransitionEvent) {
	for _, ev := range evs {
		metrics.RecordTransition(ev.Type)
		e.logger.Debug("transition committed",
			"type", ev.Type, "task", ev.Identifier, "column", ev.Column, "status", ev.Status, "actor", ev.Actor)
		e.cfg.Publisher.Publish(ev.Topic(), ev)
	}
}

// appendTo places t at the end of col.
func appendTo(ctx context.Context, tx persistence.Tx, t *task.Task, col task.Column) error {
	max, err := tx.MaxPosition(ctx, t.BoardID, col)
	if err != nil {
		return err
	}
	t.Column = col
	t.Position = max + 1
	return nil
}

// load returns the task if it exists on the caller's board. A task on
// another board is forbidden to the caller.
func load(ctx context.Context, tx persistence.Tx, caller task.Caller, id string) (*task.Task, error) {
	t, err := tx.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sameBoard(caller, t); err != nil {
		return nil, err
	}
	return t, nil
}

func sameBoard(caller task.Caller, t *task.Task) error {
	if caller.BoardID != "" && t.BoardID != caller.BoardID {
		return task.Forbiddenf("task %s belongs to another board", t.Identifier)
	}
	return nil
}

func requireCaller(c task.Caller) error {
	if c.ID == "" {
		return task.Validationf("caller identity is required")
	}
	if c.BoardID == "" {
		return task.Validationf("board is required")
	}
	return nil
}
