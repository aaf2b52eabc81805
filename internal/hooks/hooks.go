// Package hooks describes the four fixed extension points bound to task
// transitions. Hooks run on the caller's side; this package only produces
// the metadata a caller needs and judges the result it reports back.
package hooks

import (
	"time"

	"github.com/cheezy/kanban/internal/task"
)

// Name identifies a hook.
type Name string

const (
	BeforeDoing  Name = "before_doing"
	AfterDoing   Name = "after_doing"
	BeforeReview Name = "before_review"
	AfterReview  Name = "after_review"
)

// Spec is the fixed definition of one hook.
type Spec struct {
	Name     Name
	Timeout  time.Duration
	Blocking bool
}

var specs = map[Name]Spec{
	BeforeDoing:  {Name: BeforeDoing, Timeout: 60 * time.Second, Blocking: true},
	AfterDoing:   {Name: AfterDoing, Timeout: 120 * time.Second, Blocking: true},
	BeforeReview: {Name: BeforeReview, Timeout: 60 * time.Second, Blocking: false},
	AfterReview:  {Name: AfterReview, Timeout: 60 * time.Second, Blocking: false},
}

// Lookup returns the spec for a hook name.
func Lookup(name string) (Spec, error) {
	s, ok := specs[Name(name)]
	if !ok {
		return Spec{}, task.Validationf("unknown hook %q", name)
	}
	return s, nil
}

// MustLookup returns the spec for a known hook constant.
func MustLookup(name Name) Spec {
	return specs[name]
}

// Metadata is returned alongside a transition so the caller can run the hook.
type Metadata struct {
	Name      Name              `json:"name"`
	TimeoutMs int64             `json:"timeout_ms"`
	Blocking  bool              `json:"blocking"`
	Env       map[string]string `json:"env"`
}

// For builds the metadata for a hook bound to t.
func For(name Name, t *task.Task, agentID string) *Metadata {
	s := specs[name]
	return &Metadata{
		Name:      s.Name,
		TimeoutMs: s.Timeout.Milliseconds(),
		Blocking:  s.Blocking,
		Env: map[string]string{
			"TASK_ID":         t.ID,
			"TASK_IDENTIFIER": t.Identifier,
			"TASK_TITLE":      t.Title,
			"TASK_COLUMN":     string(t.Column),
			"BOARD_ID":        t.BoardID,
			"AGENT_ID":        agentID,
			"HOOK_NAME":       string(s.Name),
		},
	}
}

// Report is the result of a hook run as observed by the caller.
type Report struct {
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	DurationMs int64  `json:"duration_ms" binding:"gte=0"`
}

// Evaluate returns nil when the report counts as success. A non-zero exit
// code, or a run longer than the hook's timeout, yields a *task.HookError.
func (s Spec) Evaluate(r Report) error {
	if r.DurationMs > s.Timeout.Milliseconds() {
		return &task.HookError{Hook: string(s.Name), ExitCode: r.ExitCode, Output: r.Output, TimedOut: true}
	}
	if r.ExitCode != 0 {
		return &task.HookError{Hook: string(s.Name), ExitCode: r.ExitCode, Output: r.Output}
	}
	return nil
}

// Expired reports whether a gate with the given deadline has timed out at now.
func Expired(deadline *time.Time, now time.Time) bool {
	return deadline != nil && now.After(*deadline)
}
