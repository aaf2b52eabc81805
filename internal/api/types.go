package api

import (
	"github.com/cheezy/kanban/internal/goals"
	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/orchestrator"
	"github.com/cheezy/kanban/internal/task"
)

// CreateTaskRequest is the body of POST /v1/tasks.
type CreateTaskRequest struct {
	Title                string   `json:"title" binding:"required"`
	Description          string   `json:"description"`
	Kind                 string   `json:"kind" binding:"omitempty,oneof=work defect"`
	Priority             string   `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	ParentID             string   `json:"parent_id"`
	Dependencies         []string `json:"dependencies" binding:"omitempty,dive,required"`
	RequiredCapabilities []string `json:"required_capabilities" binding:"omitempty,dive,required"`
}

func (r CreateTaskRequest) toNewTask() orchestrator.NewTask {
	return orchestrator.NewTask{
		Title:                r.Title,
		Description:          r.Description,
		Kind:                 task.Kind(r.Kind),
		Priority:             task.Priority(r.Priority),
		ParentID:             r.ParentID,
		Dependencies:         r.Dependencies,
		RequiredCapabilities: r.RequiredCapabilities,
	}
}

// ChildRequest is one child of a goal created in the same request.
// DependsOn holds indexes of earlier or later siblings.
type ChildRequest struct {
	CreateTaskRequest
	DependsOn []int `json:"depends_on" binding:"omitempty,dive,gte=0"`
}

// CreateGoalRequest is the body of POST /v1/goals.
type CreateGoalRequest struct {
	Title        string         `json:"title" binding:"required"`
	Description  string         `json:"description"`
	Priority     string         `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	Dependencies []string       `json:"dependencies" binding:"omitempty,dive,required"`
	Children     []ChildRequest `json:"children" binding:"omitempty,dive"`
}

// SubmitRequest is the body of POST /v1/tasks/:id/submit.
type SubmitRequest struct {
	Completion   *task.CompletionRecord `json:"completion" binding:"required"`
	AfterDoing   *hooks.Report          `json:"after_doing"`
	BeforeReview *hooks.Report          `json:"before_review"`
}

// ReviewRequest is the body of POST /v1/tasks/:id/review.
type ReviewRequest struct {
	Status string `json:"status" binding:"required,oneof=approved changes_requested rejected"`
	Notes  string `json:"notes"`
}

// RouteRequest is the body of POST /v1/tasks/:id/route. An empty status
// routes on the review already recorded.
type RouteRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=approved changes_requested rejected"`
	Notes  string `json:"notes"`
}

// UnclaimRequest is the body of POST /v1/tasks/:id/unclaim.
type UnclaimRequest struct {
	Reason string `json:"reason"`
}

// DependencyRequest is the body of POST /v1/tasks/:id/dependencies.
type DependencyRequest struct {
	DependsOn string `json:"depends_on" binding:"required"`
}

// ClaimResponse carries the claimed task, or a null task when nothing is available.
type ClaimResponse struct {
	Task *task.Task      `json:"task"`
	Hook *hooks.Metadata `json:"hook,omitempty"`
}

// RouteResponse is returned by the route endpoint.
type RouteResponse struct {
	Task      *task.Task      `json:"task"`
	Hook      *hooks.Metadata `json:"hook,omitempty"`
	Unblocked []*task.Task    `json:"unblocked"`
}

// GoalResponse is returned by goal creation.
type GoalResponse struct {
	Goal     *task.Task   `json:"goal"`
	Children []*task.Task `json:"children"`
}

// TreeResponse is returned by GET /v1/tasks/:id.
type TreeResponse struct {
	Task        *task.Task              `json:"task"`
	Children    []*task.Task            `json:"children,omitempty"`
	Summary     *goals.Summary          `json:"summary,omitempty"`
	Completions []task.CompletionRecord `json:"completions,omitempty"`
}

// TasksResponse wraps a task list.
type TasksResponse struct {
	Tasks []*task.Task `json:"tasks"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  string      `json:"code"`
	Hook  *HookDetail `json:"hook,omitempty"`
	Task  *task.Task  `json:"task,omitempty"`
}

// HookDetail describes a failed blocking hook.
type HookDetail struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
}
