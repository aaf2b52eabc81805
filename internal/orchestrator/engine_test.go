package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/persistence"
	"github.com/cheezy/kanban/internal/task"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures published events in order.
type recorder struct {
	mu     sync.Mutex
	events []events.TransitionEvent
}

func (r *recorder) Publish(_ string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.(events.TransitionEvent))
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	engine *Engine
	store  *persistence.SQLiteStore
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	e := New(store, Config{
		ClaimTTL:  time.Hour,
		Retry:     fastRetry(5),
		Now:       clk.Now,
		Publisher: rec,
	})
	return &fixture{engine: e, store: store, clock: clk, events: rec}
}

var (
	ctx      = context.Background()
	operator = task.Caller{ID: "ops", BoardID: "board-1", Operator: true}
)

func agent(id string, caps ...string) task.Caller {
	return task.Caller{ID: id, BoardID: "board-1", Capabilities: caps}
}

func ok() *hooks.Report { return &hooks.Report{ExitCode: 0, DurationMs: 100} }

func (f *fixture) create(t *testing.T, title string, mods ...func(*NewTask)) *task.Task {
	t.Helper()
	in := NewTask{Title: title}
	for _, m := range mods {
		m(&in)
	}
	tk, err := f.engine.CreateTask(ctx, operator, in)
	if err != nil {
		t.Fatalf("CreateTask(%s) error = %v", title, err)
	}
	return tk
}

func priority(p task.Priority) func(*NewTask) { return func(n *NewTask) { n.Priority = p } }
func needs(caps ...string) func(*NewTask)    { return func(n *NewTask) { n.RequiredCapabilities = caps } }
func dependsOn(ids ...string) func(*NewTask) { return func(n *NewTask) { n.Dependencies = ids } }

// start claims the next task for caller and clears its before_doing gate.
func (f *fixture) start(t *testing.T, caller task.Caller) *task.Task {
	t.Helper()
	res, err := f.engine.Claim(ctx, caller)
	if err != nil {
		t.Fatalf("Claim(%s) error = %v", caller.ID, err)
	}
	tk, err := f.engine.ReportHook(ctx, caller, res.Task.ID, string(hooks.BeforeDoing), *ok())
	if err != nil {
		t.Fatalf("ReportHook(before_doing) error = %v", err)
	}
	return tk
}

func (f *fixture) submit(t *testing.T, caller task.Caller, id string) *task.Task {
	t.Helper()
	tk, err := f.engine.Submit(ctx, caller, id, SubmitRequest{
		Completion: &task.CompletionRecord{Summary: "done"},
		AfterDoing: ok(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return tk
}

func (f *fixture) approve(t *testing.T, id string) *RouteResult {
	t.Helper()
	res, err := f.engine.RouteReview(ctx, operator, id, task.ReviewApproved, "")
	if err != nil {
		t.Fatalf("RouteReview(approved) error = %v", err)
	}
	return res
}

func (f *fixture) get(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := f.store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	return tk
}

func TestCreateTaskPlacement(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b", dependsOn(a.ID))

	if a.Column != task.ColumnReady || a.Status != task.StatusOpen || a.Identifier != "W1" {
		t.Errorf("a = %s/%s/%s", a.Identifier, a.Column, a.Status)
	}
	if b.Column != task.ColumnBacklog || b.Status != task.StatusBlocked {
		t.Errorf("b = %s/%s, want Backlog/blocked", b.Column, b.Status)
	}
	if b.Priority != task.PriorityMedium {
		t.Errorf("default priority = %s", b.Priority)
	}

	_, err := f.engine.CreateTask(ctx, operator, NewTask{Title: "x", Dependencies: []string{"missing"}})
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("CreateTask(missing dep) error = %v, want not found", err)
	}
	_, err = f.engine.CreateTask(ctx, operator, NewTask{Title: "  "})
	if !errors.Is(err, task.ErrValidation) {
		t.Errorf("CreateTask(blank) error = %v, want validation", err)
	}
	if got := f.events.count(events.TypeTaskCreated); got != 2 {
		t.Errorf("task_created events = %d, want 2", got)
	}
}

func TestClaimSelectionOrder(t *testing.T) {
	f := newFixture(t)
	f.create(t, "low", priority(task.PriorityLow))
	f.create(t, "first-high", priority(task.PriorityHigh))
	f.create(t, "second-high", priority(task.PriorityHigh))

	for _, want := range []string{"first-high", "second-high", "low"} {
		res, err := f.engine.Claim(ctx, agent("a-"+want))
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Task.Title != want {
			t.Errorf("claimed %s, want %s", res.Task.Title, want)
		}
		if res.Hook == nil || res.Hook.Name != hooks.BeforeDoing || res.Hook.Env["AGENT_ID"] != "a-"+want {
			t.Errorf("hook metadata = %+v", res.Hook)
		}
	}
	if _, err := f.engine.Claim(ctx, agent("late")); !errors.Is(err, task.ErrNoTaskAvailable) {
		t.Errorf("Claim() on empty board error = %v, want ErrNoTaskAvailable", err)
	}
}

func TestClaimSetsClaimAndPosition(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	f.create(t, "b")

	first, _ := f.engine.Claim(ctx, agent("x"))
	second, _ := f.engine.Claim(ctx, agent("y"))

	now := f.clock.Now()
	if first.Task.Column != task.ColumnDoing || first.Task.Status != task.StatusInProgress {
		t.Errorf("claimed = %s/%s", first.Task.Column, first.Task.Status)
	}
	if !first.Task.Claim.ExpiresAt.Equal(now.Add(time.Hour)) || first.Task.Claim.ClaimantID != "x" {
		t.Errorf("claim = %+v", first.Task.Claim)
	}
	if first.Task.Position >= second.Task.Position {
		t.Errorf("Doing positions = %d, %d, want increasing", first.Task.Position, second.Task.Position)
	}
	if first.Task.PendingHook != string(hooks.BeforeDoing) {
		t.Errorf("pending hook = %q", first.Task.PendingHook)
	}
}

// TestConcurrentClaimsAtMostOne runs many agents against one task.
func TestConcurrentClaimsAtMostOne(t *testing.T) {
	f := newFixture(t)
	f.create(t, "only")

	var mu sync.Mutex
	var winners []string
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		caller := agent(fmt.Sprintf("agent-%d", i))
		g.Go(func() error {
			res, err := f.engine.Claim(gctx, caller)
			if errors.Is(err, task.ErrNoTaskAvailable) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			winners = append(winners, res.Task.Claim.ClaimantID)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent claim error = %v", err)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	if got := f.events.count(events.TypeTaskClaimed); got != 1 {
		t.Errorf("task_claimed events = %d, want 1", got)
	}
}

// TestConcurrentClaimsDistinctTasks verifies no task is handed out twice.
func TestConcurrentClaimsDistinctTasks(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 8; i++ {
		f.create(t, fmt.Sprintf("t%d", i))
	}

	var mu sync.Mutex
	claimed := map[string]string{}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 12; i++ {
		caller := agent(fmt.Sprintf("agent-%d", i))
		g.Go(func() error {
			res, err := f.engine.Claim(gctx, caller)
			if errors.Is(err, task.ErrNoTaskAvailable) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := claimed[res.Task.ID]; dup {
				return fmt.Errorf("task %s claimed by %s and %s", res.Task.Identifier, prev, caller.ID)
			}
			claimed[res.Task.ID] = caller.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 8 {
		t.Errorf("claimed %d tasks, want 8", len(claimed))
	}
}

func TestCapabilityGating(t *testing.T) {
	f := newFixture(t)
	gated := f.create(t, "needs rust", needs("rust", "wasm"), priority(task.PriorityCritical))

	if _, err := f.engine.Claim(ctx, agent("go-dev", "go")); !errors.Is(err, task.ErrNoTaskAvailable) {
		t.Fatalf("Claim(go) error = %v, want ErrNoTaskAvailable", err)
	}
	ready, err := f.engine.ListReady(ctx, agent("partial", "rust"))
	if err != nil || len(ready) != 0 {
		t.Fatalf("ListReady(partial) = %d, %v", len(ready), err)
	}
	next, err := f.engine.Next(ctx, agent("full", "wasm", "rust", "go"))
	if err != nil || next.ID != gated.ID {
		t.Fatalf("Next(full) = %v, %v", next, err)
	}
	res, err := f.engine.Claim(ctx, agent("full", "wasm", "rust", "go"))
	if err != nil || res.Task.ID != gated.ID {
		t.Fatalf("Claim(full) = %v, %v", res, err)
	}
}

func TestBeforeDoingGate(t *testing.T) {
	t.Run("failure releases the claim", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "a")
		res, _ := f.engine.Claim(ctx, agent("x"))

		_, err := f.engine.Submit(ctx, agent("x"), res.Task.ID, SubmitRequest{Completion: &task.CompletionRecord{Summary: "s"}, AfterDoing: ok()})
		if !errors.Is(err, task.ErrInvalidState) {
			t.Fatalf("Submit() with open gate error = %v, want invalid state", err)
		}

		out, err := f.engine.ReportHook(ctx, agent("x"), res.Task.ID, "before_doing", hooks.Report{ExitCode: 3, Output: "dirty tree"})
		var hookErr *task.HookError
		if !errors.As(err, &hookErr) || hookErr.ExitCode != 3 {
			t.Fatalf("ReportHook() error = %v, want hook error", err)
		}
		if out.Column != task.ColumnReady || out.Claim != nil || out.PendingHook != "" {
			t.Errorf("task after failed gate = %s claim=%v gate=%q", out.Column, out.Claim, out.PendingHook)
		}
		if got := f.get(t, res.Task.ID); got.Column != task.ColumnReady {
			t.Errorf("stored column = %s, want Ready", got.Column)
		}
	})

	t.Run("late report counts as failure", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "a")
		res, _ := f.engine.Claim(ctx, agent("x"))
		f.clock.Advance(61 * time.Second)
		_, err := f.engine.ReportHook(ctx, agent("x"), res.Task.ID, "before_doing", *ok())
		if !errors.Is(err, task.ErrHookFailure) {
			t.Fatalf("ReportHook(late) error = %v, want hook failure", err)
		}
	})

	t.Run("only the claimant reports", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "a")
		res, _ := f.engine.Claim(ctx, agent("x"))
		_, err := f.engine.ReportHook(ctx, agent("y"), res.Task.ID, "before_doing", *ok())
		if !errors.Is(err, task.ErrForbidden) {
			t.Fatalf("ReportHook(other) error = %v, want forbidden", err)
		}
	})

	t.Run("unknown and misplaced hooks", func(t *testing.T) {
		f := newFixture(t)
		a := f.create(t, "a")
		if _, err := f.engine.ReportHook(ctx, agent("x"), a.ID, "after_deploy", *ok()); !errors.Is(err, task.ErrValidation) {
			t.Errorf("unknown hook error = %v", err)
		}
		if _, err := f.engine.ReportHook(ctx, agent("x"), a.ID, "after_doing", *ok()); !errors.Is(err, task.ErrValidation) {
			t.Errorf("after_doing via ReportHook error = %v", err)
		}
		if _, err := f.engine.ReportHook(ctx, agent("x"), a.ID, "after_review", hooks.Report{ExitCode: 1}); err != nil {
			t.Errorf("advisory hook error = %v", err)
		}
	})
}

func TestSubmitAndReviewRouting(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	dev := agent("dev")
	f.start(t, dev)

	_, err := f.engine.Submit(ctx, agent("intruder"), a.ID, SubmitRequest{Completion: &task.CompletionRecord{Summary: "s"}, AfterDoing: ok()})
	if !errors.Is(err, task.ErrForbidden) {
		t.Errorf("Submit(non-claimant) error = %v, want forbidden", err)
	}
	_, err = f.engine.Submit(ctx, dev, a.ID, SubmitRequest{Completion: &task.CompletionRecord{Summary: "s"}})
	if !errors.Is(err, task.ErrValidation) {
		t.Errorf("Submit(no after_doing) error = %v, want validation", err)
	}
	_, err = f.engine.Submit(ctx, dev, a.ID, SubmitRequest{Completion: &task.CompletionRecord{Summary: "s"}, AfterDoing: &hooks.Report{ExitCode: 1}})
	if !errors.Is(err, task.ErrHookFailure) {
		t.Errorf("Submit(failed after_doing) error = %v, want hook failure", err)
	}
	if got := f.get(t, a.ID); got.Column != task.ColumnDoing {
		t.Fatalf("task after failed hook = %s, want Doing", got.Column)
	}
	_, err = f.engine.Submit(ctx, dev, a.ID, SubmitRequest{Completion: &task.CompletionRecord{}, AfterDoing: ok()})
	if !errors.Is(err, task.ErrValidation) {
		t.Errorf("Submit(empty summary) error = %v, want validation", err)
	}

	submitted := f.submit(t, dev, a.ID)
	if submitted.Column != task.ColumnReview || submitted.CompletionRecord.Sequence != 1 || submitted.CompletionRecord.SubmittedBy != "dev" {
		t.Fatalf("submitted = %s seq=%d by=%s", submitted.Column, submitted.CompletionRecord.Sequence, submitted.CompletionRecord.SubmittedBy)
	}

	if _, err := f.engine.RouteReview(ctx, operator, a.ID, "", ""); !errors.Is(err, task.ErrValidation) {
		t.Errorf("RouteReview(no status) error = %v, want validation", err)
	}

	f.clock.Advance(50 * time.Minute)
	returned, err := f.engine.RouteReview(ctx, operator, a.ID, task.ReviewChangesRequested, "add tests")
	if err != nil {
		t.Fatalf("RouteReview(changes_requested) error = %v", err)
	}
	rt := returned.Task
	if rt.Column != task.ColumnDoing || rt.Status != task.StatusInProgress || rt.ReviewStatus != task.ReviewChangesRequested {
		t.Errorf("returned = %s/%s/%s", rt.Column, rt.Status, rt.ReviewStatus)
	}
	if rt.Claim == nil || rt.Claim.ClaimantID != "dev" || !rt.Claim.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Errorf("claim after return = %+v", rt.Claim)
	}
	if returned.Hook != nil {
		t.Errorf("returned task carries hook %v", returned.Hook.Name)
	}

	second := f.submit(t, dev, a.ID)
	if second.ReviewStatus != "" || second.CompletionRecord.Sequence != 2 {
		t.Errorf("resubmitted review_status=%q seq=%d", second.ReviewStatus, second.CompletionRecord.Sequence)
	}

	if _, err := f.engine.RecordReview(ctx, operator, a.ID, task.ReviewApproved, "lgtm"); err != nil {
		t.Fatalf("RecordReview() error = %v", err)
	}
	done, err := f.engine.RouteReview(ctx, operator, a.ID, "", "")
	if err != nil {
		t.Fatalf("RouteReview(recorded approval) error = %v", err)
	}
	if done.Task.Column != task.ColumnDone || done.Task.Status != task.StatusCompleted || done.Task.CompletedBy != "dev" {
		t.Errorf("approved = %s/%s by %s", done.Task.Column, done.Task.Status, done.Task.CompletedBy)
	}
	if done.Hook == nil || done.Hook.Name != hooks.AfterReview {
		t.Errorf("approval hook = %+v", done.Hook)
	}

	if _, err := f.engine.RouteReview(ctx, operator, a.ID, task.ReviewApproved, ""); !errors.Is(err, task.ErrInvalidState) {
		t.Errorf("RouteReview(done) error = %v, want invalid state", err)
	}

	tree, err := f.engine.GetTree(ctx, operator, a.ID)
	if err != nil || len(tree.Completions) != 2 {
		t.Fatalf("GetTree() completions = %v, %v", tree, err)
	}

	want := []string{
		events.TypeTaskCreated, events.TypeTaskClaimed, events.TypeTaskSubmitted,
		events.TypeTaskReturnedToDoing, events.TypeTaskSubmitted, events.TypeTaskApproved,
	}
	got := f.events.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

// TestCascadingUnblock checks that completion promotes only direct dependents.
func TestCascadingUnblock(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b", dependsOn(a.ID))
	c := f.create(t, "c", dependsOn(b.ID))
	d := f.create(t, "d", dependsOn(a.ID, c.ID))

	dev := agent("dev")
	f.start(t, dev)
	f.submit(t, dev, a.ID)
	res := f.approve(t, a.ID)

	if len(res.Unblocked) != 1 || res.Unblocked[0].ID != b.ID {
		t.Fatalf("unblocked = %v, want only b", res.Unblocked)
	}
	if got := f.get(t, b.ID); got.Column != task.ColumnReady || got.Status != task.StatusOpen {
		t.Errorf("b = %s/%s, want Ready/open", got.Column, got.Status)
	}
	for _, id := range []string{c.ID, d.ID} {
		if got := f.get(t, id); got.Column != task.ColumnBacklog {
			t.Errorf("%s = %s, want Backlog", got.Title, got.Column)
		}
	}

	f.start(t, dev)
	f.submit(t, dev, b.ID)
	f.approve(t, b.ID)
	if got := f.get(t, c.ID); got.Column != task.ColumnReady {
		t.Errorf("c after b = %s, want Ready", got.Column)
	}
	if got := f.get(t, d.ID); got.Column != task.ColumnBacklog {
		t.Errorf("d after b = %s, want Backlog", got.Column)
	}
	if f.events.count(events.TypeTaskUnblocked) != 2 {
		t.Errorf("task_unblocked events = %d, want 2", f.events.count(events.TypeTaskUnblocked))
	}
}

// TestExpiredClaimReclaim checks that a lapsed claim can be taken over.
func TestExpiredClaimReclaim(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	f.start(t, agent("slow"))

	f.clock.Advance(30 * time.Minute)
	if _, err := f.engine.Claim(ctx, agent("fast")); !errors.Is(err, task.ErrNoTaskAvailable) {
		t.Fatalf("Claim() while claimed error = %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	res, err := f.engine.Claim(ctx, agent("fast"))
	if err != nil {
		t.Fatalf("Claim() after expiry error = %v", err)
	}
	if res.Task.ID != a.ID || res.Task.Claim.ClaimantID != "fast" || res.Task.Column != task.ColumnDoing {
		t.Errorf("re-claim = %s by %s in %s", res.Task.Identifier, res.Task.Claim.ClaimantID, res.Task.Column)
	}
	if _, err := f.engine.Submit(ctx, agent("slow"), a.ID, SubmitRequest{Completion: &task.CompletionRecord{Summary: "s"}, AfterDoing: ok()}); !errors.Is(err, task.ErrForbidden) {
		t.Errorf("Submit(previous claimant) error = %v, want forbidden", err)
	}
}

func TestUnreportedGateReclaim(t *testing.T) {
	for _, wait := range []time.Duration{2 * time.Minute, 61 * time.Minute} {
		t.Run(wait.String(), func(t *testing.T) {
			f := newFixture(t)
			a := f.create(t, "a")
			if _, err := f.engine.Claim(ctx, agent("silent")); err != nil {
				t.Fatalf("Claim() error = %v", err)
			}

			f.clock.Advance(wait)
			res, err := f.engine.Claim(ctx, agent("fast"))
			if err != nil {
				t.Fatalf("Claim() after gate timeout error = %v", err)
			}
			if res.Task.ID != a.ID || res.Task.Claim.ClaimantID != "fast" || res.Task.Column != task.ColumnDoing {
				t.Errorf("re-claim = %s by %s in %s", res.Task.Identifier, res.Task.Claim.ClaimantID, res.Task.Column)
			}
			want := f.clock.Now().Add(time.Minute)
			if res.Task.PendingHookDeadline == nil || !res.Task.PendingHookDeadline.Equal(want) {
				t.Errorf("gate deadline = %v, want %v", res.Task.PendingHookDeadline, want)
			}
			if _, err := f.engine.ReportHook(ctx, agent("silent"), a.ID, "before_doing", *ok()); !errors.Is(err, task.ErrForbidden) {
				t.Errorf("ReportHook(previous claimant) error = %v, want forbidden", err)
			}
			if _, err := f.engine.ReportHook(ctx, agent("fast"), a.ID, "before_doing", *ok()); err != nil {
				t.Errorf("ReportHook(new claimant) error = %v", err)
			}
		})
	}
}

func TestUnclaim(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	f.start(t, agent("dev"))

	if _, err := f.engine.Unclaim(ctx, agent("other"), a.ID, ""); !errors.Is(err, task.ErrForbidden) {
		t.Errorf("Unclaim(other) error = %v, want forbidden", err)
	}
	out, err := f.engine.Unclaim(ctx, agent("dev"), a.ID, "blocked on review")
	if err != nil {
		t.Fatalf("Unclaim() error = %v", err)
	}
	if out.Column != task.ColumnReady || out.Status != task.StatusOpen || out.Claim != nil {
		t.Errorf("unclaimed = %s/%s claim=%v", out.Column, out.Status, out.Claim)
	}
	if _, err := f.engine.Unclaim(ctx, agent("dev"), a.ID, ""); !errors.Is(err, task.ErrInvalidState) {
		t.Errorf("Unclaim(ready) error = %v, want invalid state", err)
	}

	f.start(t, agent("dev2"))
	if _, err := f.engine.Unclaim(ctx, operator, a.ID, "reassign"); err != nil {
		t.Errorf("Unclaim(operator) error = %v", err)
	}

	other := task.Caller{ID: "dev", BoardID: "board-2"}
	if _, err := f.engine.Unclaim(ctx, other, a.ID, ""); !errors.Is(err, task.ErrForbidden) {
		t.Errorf("Unclaim(other board) error = %v, want forbidden", err)
	}
}

func TestDependencyEdits(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	c := f.create(t, "c", dependsOn(b.ID))

	blocked, err := f.engine.AddDependency(ctx, operator, a.ID, b.ID)
	if err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}
	if blocked.Column != task.ColumnBacklog || blocked.Status != task.StatusBlocked {
		t.Errorf("a after new dependency = %s/%s", blocked.Column, blocked.Status)
	}

	if _, err := f.engine.AddDependency(ctx, operator, b.ID, c.ID); !errors.Is(err, task.ErrValidation) {
		t.Errorf("AddDependency(cycle) error = %v, want validation", err)
	}
	if _, err := f.engine.AddDependency(ctx, operator, b.ID, b.ID); !errors.Is(err, task.ErrValidation) {
		t.Errorf("AddDependency(self) error = %v, want validation", err)
	}
	if got := f.get(t, b.ID); len(got.Dependencies) != 0 {
		t.Errorf("rejected edge was stored: %v", got.Dependencies)
	}

	freed, err := f.engine.RemoveDependency(ctx, operator, a.ID, b.ID)
	if err != nil {
		t.Fatalf("RemoveDependency() error = %v", err)
	}
	if freed.Column != task.ColumnReady || freed.Status != task.StatusOpen {
		t.Errorf("a after removal = %s/%s", freed.Column, freed.Status)
	}
	if _, err := f.engine.RemoveDependency(ctx, operator, a.ID, b.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("RemoveDependency(again) error = %v, want not found", err)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	expired := f.create(t, "expired")
	gated := f.create(t, "gated")
	f.start(t, agent("a"))
	if _, err := f.engine.Claim(ctx, agent("b")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	released, err := f.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(released) != 1 || released[0].ID != gated.ID {
		t.Fatalf("first sweep released %v, want gated task", released)
	}

	f.clock.Advance(time.Hour)
	released, err = f.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(released) != 1 || released[0].ID != expired.ID {
		t.Fatalf("second sweep released %v, want expired task", released)
	}
	if got := f.get(t, expired.ID); got.Column != task.ColumnReady || got.Claim != nil {
		t.Errorf("expired task = %s claim=%v", got.Column, got.Claim)
	}

	released, _ = f.engine.Sweep(ctx)
	if len(released) != 0 {
		t.Errorf("idle sweep released %d tasks", len(released))
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- f.engine.RunSweeper(cctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunSweeper() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
