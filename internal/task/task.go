package task

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the immutable category of a task.
type Kind string

const (
	KindWork   Kind = "work"
	KindDefect Kind = "defect"
	KindGoal   Kind = "goal"
)

// Prefix returns the identifier letter used for the kind.
func (k Kind) Prefix() string {
	switch k {
	case KindWork:
		return "W"
	case KindDefect:
		return "D"
	case KindGoal:
		return "G"
	}
	return ""
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k.Prefix() != "" }

// Status is the derived progress state of a task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusBlocked, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Column is one of the five fixed pipeline stages.
type Column string

const (
	ColumnBacklog Column = "Backlog"
	ColumnReady   Column = "Ready"
	ColumnDoing   Column = "Doing"
	ColumnReview  Column = "Review"
	ColumnDone    Column = "Done"
)

// Columns lists the pipeline stages in board order.
var Columns = []Column{ColumnBacklog, ColumnReady, ColumnDoing, ColumnReview, ColumnDone}

// Valid reports whether c is one of the pipeline stages.
func (c Column) Valid() bool { return c.Index() >= 0 }

// Index returns the stage's place in board order, or -1 if unknown.
func (c Column) Index() int {
	for i, col := range Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Priority orders claim selection; higher ranks are picked first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank maps the priority onto an integer. Unknown priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return 1
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ReviewStatus is the outcome recorded by a reviewer.
type ReviewStatus string

const (
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewRejected         ReviewStatus = "rejected"
)

// ParseReviewStatus validates a review outcome.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch rs := ReviewStatus(s); rs {
	case ReviewApproved, ReviewChangesRequested, ReviewRejected:
		return rs, nil
	}
	return "", fmt.Errorf("unknown review status %q: %w", s, ErrValidation)
}

// Claim is the exclusive, time-bounded assignment of a task to one actor.
type Claim struct {
	ClaimantID string    `json:"claimant_id"`
	ClaimedAt  time.Time `json:"claimed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the claim still holds at now.
func (c *Claim) Active(now time.Time) bool {
	return c != nil && c.ClaimantID != "" && now.Before(c.ExpiresAt)
}

// Verification is one check run by the submitter.
type Verification struct {
	Command string `json:"command" validate:"required"`
	Passed  bool   `json:"passed"`
	Output  string `json:"output,omitempty"`
}

// CompletionRecord is the payload captured when work is submitted for review.
type CompletionRecord struct {
	Sequence         int            `json:"sequence"`
	Summary          string         `json:"summary" validate:"required"`
	FilesChanged     []string       `json:"files_changed,omitempty" validate:"dive,required"`
	Verifications    []Verification `json:"verifications,omitempty" validate:"dive"`
	ActualComplexity string         `json:"actual_complexity,omitempty" validate:"omitempty,oneof=small medium large"`
	TimeSpentMinutes int            `json:"time_spent_minutes,omitempty" validate:"gte=0"`
	SubmittedBy      string         `json:"submitted_by"`
	SubmittedAt      time.Time      `json:"submitted_at"`
}

// Task is the central work item.
type Task struct {
	ID                   string            `json:"id"`
	BoardID              string            `json:"board_id"`
	Identifier           string            `json:"identifier"`
	Kind                 Kind              `json:"kind"`
	Title                string            `json:"title"`
	Description          string            `json:"description,omitempty"`
	Priority             Priority          `json:"priority"`
	Status               Status            `json:"status"`
	Column               Column            `json:"column"`
	Position             int               `json:"position"`
	ParentID             string            `json:"parent_id,omitempty"`
	Dependencies         []string          `json:"dependencies"`
	RequiredCapabilities []string          `json:"required_capabilities"`
	Claim                *Claim            `json:"claim,omitempty"`
	ReviewStatus         ReviewStatus      `json:"review_status,omitempty"`
	ReviewNotes          string            `json:"review_notes,omitempty"`
	ReviewerID           string            `json:"reviewer_id,omitempty"`
	ReviewedAt           *time.Time        `json:"reviewed_at,omitempty"`
	CompletionRecord     *CompletionRecord `json:"completion_record,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	CompletedBy          string            `json:"completed_by,omitempty"`
	PendingHook          string            `json:"pending_hook,omitempty"`
	PendingHookDeadline  *time.Time        `json:"pending_hook_deadline,omitempty"`
	Version              int               `json:"version"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Sequence returns the numeric part of the identifier, or 0 if it does not parse.
func (t *Task) Sequence() int {
	if len(t.Identifier) < 2 {
		return 0
	}
	n, err := strconv.Atoi(t.Identifier[1:])
	if err != nil {
		return 0
	}
	return n
}

// IsGoal reports whether the task aggregates children.
func (t *Task) IsGoal() bool { return t.Kind == KindGoal }

// Clone returns a deep copy so callers can mutate it without touching the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.RequiredCapabilities != nil {
		cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	}
	if t.Claim != nil {
		c := *t.Claim
		cp.Claim = &c
	}
	if t.CompletionRecord != nil {
		r := *t.CompletionRecord
		r.FilesChanged = append([]string(nil), t.CompletionRecord.FilesChanged...)
		r.Verifications = append([]Verification(nil), t.CompletionRecord.Verifications...)
		cp.CompletionRecord = &r
	}
	cp.ReviewedAt = cloneTime(t.ReviewedAt)
	cp.CompletedAt = cloneTime(t.CompletedAt)
	cp.PendingHookDeadline = cloneTime(t.PendingHookDeadline)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Caller is the identity and declared capabilities supplied per request.
type Caller struct {
	ID           string
	BoardID      string
	Capabilities []string
	Operator     bool
}
