// Package lifecycle enforces the column/status transitions of a task.
//
// Every function takes the current task, validates the guard for one
// transition and returns a modified copy. The input is never mutated, so a
// rejected transition leaves the caller's state exactly as it was.
// Positions are not assigned here; the caller places the task in its new
// column under the column lock.
package lifecycle

import (
	"time"

	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/task"
)

// Transition names one edge of the state machine.
type Transition string

const (
	TransitionClaim         Transition = "claim"
	TransitionSubmit        Transition = "submit"
	TransitionApprove       Transition = "review_approved"
	TransitionReturn        Transition = "review_returned"
	TransitionUnclaim       Transition = "unclaim"
	TransitionRelease       Transition = "release"
	TransitionRecordReview  Transition = "record_review"
	TransitionDependencyMet Transition = "dependency_met"
	TransitionDependencyNew Transition = "dependency_added"
)

// transitions is the closed table of (transition, from column) -> to column.
// Anything not listed is an invalid state.
var transitions = map[Transition]map[task.Column]task.Column{
	TransitionClaim: {
		task.ColumnReady: task.ColumnDoing,
		task.ColumnDoing: task.ColumnDoing, // re-claim after expiry
	},
	TransitionSubmit: {
		task.ColumnDoing: task.ColumnReview,
	},
	TransitionApprove: {
		task.ColumnReview: task.ColumnDone,
	},
	TransitionReturn: {
		task.ColumnReview: task.ColumnDoing,
	},
	TransitionRecordReview: {
		task.ColumnReview: task.ColumnReview,
	},
	TransitionUnclaim: {
		task.ColumnDoing: task.ColumnReady,
	},
	TransitionRelease: {
		task.ColumnDoing: task.ColumnReady,
	},
	TransitionDependencyMet: {
		task.ColumnBacklog: task.ColumnReady,
	},
	TransitionDependencyNew: {
		task.ColumnReady: task.ColumnBacklog,
	},
}

// Target returns the column a transition leads to from the given column.
func Target(tr Transition, from task.Column) (task.Column, error) {
	to, ok := transitions[tr][from]
	if !ok {
		return "", task.InvalidStatef("%s is not allowed from %s", tr, from)
	}
	return to, nil
}

// ClaimParams carries the values stamped onto a claimed task.
type ClaimParams struct {
	CallerID     string
	Now          time.Time
	TTL          time.Duration
	Gate         string
	GateDeadline time.Time
}

// Claim moves a Ready task, or a Doing task whose claim expired, into Doing
// under the caller's exclusive claim.
func Claim(t *task.Task, p ClaimParams) (*task.Task, error) {
	if t.IsGoal() {
		return nil, task.InvalidStatef("goal %s cannot be claimed", t.Identifier)
	}
	to, err := Target(TransitionClaim, t.Column)
	if err != nil {
		return nil, err
	}
	if t.Claim.Active(p.Now) && !gateTimedOut(t, p.Now) {
		return nil, task.InvalidStatef("task %s is already claimed by %s", t.Identifier, t.Claim.ClaimantID)
	}
	if t.Column == task.ColumnDoing && t.Claim == nil {
		return nil, task.InvalidStatef("task %s is in Doing without a claim", t.Identifier)
	}

	next := t.Clone()
	next.Column = to
	next.Status = task.StatusInProgress
	next.Claim = &task.Claim{ClaimantID: p.CallerID, ClaimedAt: p.Now, ExpiresAt: p.Now.Add(p.TTL)}
	next.PendingHook = p.Gate
	if p.Gate != "" {
		deadline := p.GateDeadline
		next.PendingHookDeadline = &deadline
	} else {
		next.PendingHookDeadline = nil
	}
	next.UpdatedAt = p.Now
	return next, nil
}

// gateTimedOut reports whether the claimant never reported a blocking hook in
// time. Such a claim no longer protects the task.
func gateTimedOut(t *task.Task, now time.Time) bool {
	return t.Column == task.ColumnDoing && t.PendingHook != "" && hooks.Expired(t.PendingHookDeadline, now)
}

// ClearGate finalizes a claim once its blocking hook succeeded.
func ClearGate(t *task.Task, gate string, now time.Time) (*task.Task, error) {
	if t.PendingHook != gate {
		return nil, task.InvalidStatef("task %s has no pending %s hook", t.Identifier, gate)
	}
	next := t.Clone()
	next.PendingHook = ""
	next.PendingHookDeadline = nil
	next.UpdatedAt = now
	return next, nil
}

// Submit moves the claimant's task from Doing to Review with its completion record.
func Submit(t *task.Task, callerID string, rec *task.CompletionRecord, now time.Time) (*task.Task, error) {
	if err := notGoal(t, TransitionSubmit); err != nil {
		return nil, err
	}
	to, err := Target(TransitionSubmit, t.Column)
	if err != nil {
		return nil, err
	}
	if t.Claim == nil || t.Claim.ClaimantID != callerID {
		return nil, task.Forbiddenf("caller %s is not the claimant of %s", callerID, t.Identifier)
	}
	if t.PendingHook != "" {
		return nil, task.InvalidStatef("task %s is waiting for the %s hook result", t.Identifier, t.PendingHook)
	}
	if rec == nil {
		return nil, task.Validationf("completion record is required")
	}

	next := t.Clone()
	next.Column = to
	next.Status = task.StatusInProgress
	r := *rec
	next.CompletionRecord = &r
	next.ReviewStatus = ""
	next.ReviewNotes = ""
	next.ReviewerID = ""
	next.ReviewedAt = nil
	next.UpdatedAt = now
	return next, nil
}

// RecordReview stores a reviewer's outcome without routing the task.
func RecordReview(t *task.Task, status task.ReviewStatus, reviewerID, notes string, now time.Time) (*task.Task, error) {
	if err := notGoal(t, TransitionRecordReview); err != nil {
		return nil, err
	}
	if _, err := Target(TransitionRecordReview, t.Column); err != nil {
		return nil, err
	}
	if _, err := task.ParseReviewStatus(string(status)); err != nil {
		return nil, err
	}
	next := t.Clone()
	next.ReviewStatus = status
	next.ReviewNotes = notes
	next.ReviewerID = reviewerID
	reviewed := now
	next.ReviewedAt = &reviewed
	next.UpdatedAt = now
	return next, nil
}

// Review routes a task out of Review according to its review status:
// approved goes to Done, changes_requested and rejected go back to Doing
// with the review status kept for the claimant to read.
func Review(t *task.Task, ttl time.Duration, now time.Time) (*task.Task, Transition, error) {
	if err := notGoal(t, "review"); err != nil {
		return nil, "", err
	}
	if t.Column != task.ColumnReview {
		return nil, "", task.InvalidStatef("review is not allowed from %s", t.Column)
	}

	next := t.Clone()
	next.UpdatedAt = now
	switch t.ReviewStatus {
	case "":
		return nil, "", task.Validationf("task %s has no review status", t.Identifier)
	case task.ReviewApproved:
		next.Column = transitions[TransitionApprove][task.ColumnReview]
		next.Status = task.StatusCompleted
		completed := now
		next.CompletedAt = &completed
		if t.Claim != nil {
			next.CompletedBy = t.Claim.ClaimantID
		}
		next.Claim = nil
		return next, TransitionApprove, nil
	case task.ReviewChangesRequested, task.ReviewRejected:
		next.Column = transitions[TransitionReturn][task.ColumnReview]
		next.Status = task.StatusInProgress
		if next.Claim != nil {
			next.Claim.ExpiresAt = now.Add(ttl)
		}
		return next, TransitionReturn, nil
	}
	return nil, "", task.Validationf("unknown review status %q", t.ReviewStatus)
}

// Unclaim returns a Doing task to Ready. Only the claimant or an operator may
// do so. Status reverts to open unless the task already went through a
// review cycle, in which case the work stays in progress.
func Unclaim(t *task.Task, caller task.Caller, now time.Time) (*task.Task, error) {
	if err := notGoal(t, TransitionUnclaim); err != nil {
		return nil, err
	}
	to, err := Target(TransitionUnclaim, t.Column)
	if err != nil {
		return nil, err
	}
	if !caller.Operator && (t.Claim == nil || t.Claim.ClaimantID != caller.ID) {
		return nil, task.Forbiddenf("caller %s is not the claimant of %s", caller.ID, t.Identifier)
	}
	return release(t, to, now), nil
}

// Release returns a Doing task to Ready on behalf of the system: an expired
// claim found by the sweep, or a failed blocking hook.
func Release(t *task.Task, now time.Time) (*task.Task, error) {
	if err := notGoal(t, TransitionRelease); err != nil {
		return nil, err
	}
	to, err := Target(TransitionRelease, t.Column)
	if err != nil {
		return nil, err
	}
	return release(t, to, now), nil
}

// notGoal rejects agent and review transitions on goals. A goal's column
// follows its children and is only changed by goal recomputation.
func notGoal(t *task.Task, tr Transition) error {
	if t.IsGoal() {
		return task.InvalidStatef("goal %s does not accept %s", t.Identifier, tr)
	}
	return nil
}

func release(t *task.Task, to task.Column, now time.Time) *task.Task {
	next := t.Clone()
	next.Column = to
	next.Claim = nil
	next.PendingHook = ""
	next.PendingHookDeadline = nil
	if next.CompletionRecord == nil {
		next.Status = task.StatusOpen
	}
	next.UpdatedAt = now
	return next
}

// Unblock moves a Backlog task to Ready once all its dependencies completed.
func Unblock(t *task.Task, now time.Time) (*task.Task, error) {
	to, err := Target(TransitionDependencyMet, t.Column)
	if err != nil {
		return nil, err
	}
	next := t.Clone()
	next.Column = to
	next.Status = task.StatusOpen
	next.UpdatedAt = now
	return next, nil
}

// Block moves a Ready task back to Backlog after a new unmet dependency was added.
func Block(t *task.Task, now time.Time) (*task.Task, error) {
	to, err := Target(TransitionDependencyNew, t.Column)
	if err != nil {
		return nil, err
	}
	if t.Claim.Active(now) {
		return nil, task.InvalidStatef("task %s is claimed", t.Identifier)
	}
	next := t.Clone()
	next.Column = to
	next.Status = task.StatusBlocked
	next.Claim = nil
	next.UpdatedAt = now
	return next, nil
}
