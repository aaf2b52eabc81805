// Package api exposes the workflow engine over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheezy/kanban/internal/hooks"
	"github.com/cheezy/kanban/internal/orchestrator"
	"github.com/cheezy/kanban/internal/task"
)

// Handlers serves the task endpoints.
type Handlers struct {
	engine *orchestrator.Engine
	logger *slog.Logger
}

// NewHandlers creates handlers over engine.
func NewHandlers(engine *orchestrator.Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, logger: logger.With("component", "api")}
}

// HandleCreateTask handles POST /v1/tasks.
func (h *Handlers) HandleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	t, err := h.engine.CreateTask(c.Request.Context(), CallerFrom(c), req.toNewTask())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// HandleCreateGoal handles POST /v1/goals.
func (h *Handlers) HandleCreateGoal(c *gin.Context) {
	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	goal := orchestrator.NewTask{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     task.Priority(req.Priority),
		Dependencies: req.Dependencies,
	}
	children := make([]orchestrator.NewChild, len(req.Children))
	for i, ch := range req.Children {
		children[i] = orchestrator.NewChild{NewTask: ch.toNewTask(), DependsOn: ch.DependsOn}
	}

	res, err := h.engine.CreateGoal(c.Request.Context(), CallerFrom(c), goal, children)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, GoalResponse{Goal: res.Goal, Children: res.Children})
}

// HandleListReady handles GET /v1/tasks/ready.
func (h *Handlers) HandleListReady(c *gin.Context) {
	tasks, err := h.engine.ListReady(c.Request.Context(), CallerFrom(c))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	c.JSON(http.StatusOK, TasksResponse{Tasks: tasks})
}

// HandleNext handles GET /v1/tasks/next.
func (h *Handlers) HandleNext(c *gin.Context) {
	t, err := h.engine.Next(c.Request.Context(), CallerFrom(c))
	if errors.Is(err, task.ErrNoTaskAvailable) {
		c.JSON(http.StatusOK, ClaimResponse{})
		return
	}
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ClaimResponse{Task: t})
}

// HandleClaim handles POST /v1/tasks/claim. An empty board is not an error:
// the response carries a null task.
func (h *Handlers) HandleClaim(c *gin.Context) {
	res, err := h.engine.Claim(c.Request.Context(), CallerFrom(c))
	if errors.Is(err, task.ErrNoTaskAvailable) {
		c.JSON(http.StatusOK, ClaimResponse{})
		return
	}
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ClaimResponse{Task: res.Task, Hook: res.Hook})
}

// HandleSubmit handles POST /v1/tasks/:id/submit.
func (h *Handlers) HandleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	t, err := h.engine.Submit(c.Request.Context(), CallerFrom(c), c.Param("id"), orchestrator.SubmitRequest{
		Completion:   req.Completion,
		AfterDoing:   req.AfterDoing,
		BeforeReview: req.BeforeReview,
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleRecordReview handles POST /v1/tasks/:id/review.
func (h *Handlers) HandleRecordReview(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	t, err := h.engine.RecordReview(c.Request.Context(), CallerFrom(c), c.Param("id"), task.ReviewStatus(req.Status), req.Notes)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleRoute handles POST /v1/tasks/:id/route.
func (h *Handlers) HandleRoute(c *gin.Context) {
	var req RouteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}
	res, err := h.engine.RouteReview(c.Request.Context(), CallerFrom(c), c.Param("id"), task.ReviewStatus(req.Status), req.Notes)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	unblocked := res.Unblocked
	if unblocked == nil {
		unblocked = []*task.Task{}
	}
	c.JSON(http.StatusOK, RouteResponse{Task: res.Task, Hook: res.Hook, Unblocked: unblocked})
}

// HandleUnclaim handles POST /v1/tasks/:id/unclaim.
func (h *Handlers) HandleUnclaim(c *gin.Context) {
	var req UnclaimRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}
	t, err := h.engine.Unclaim(c.Request.Context(), CallerFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleReportHook handles POST /v1/tasks/:id/hooks/:hook. A failed
// before_doing report responds 422 and includes the released task.
func (h *Handlers) HandleReportHook(c *gin.Context) {
	var report hooks.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		writeBindError(c, err)
		return
	}
	t, err := h.engine.ReportHook(c.Request.Context(), CallerFrom(c), c.Param("id"), c.Param("hook"), report)
	if err != nil {
		writeError(c, err, t)
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleAddDependency handles POST /v1/tasks/:id/dependencies.
func (h *Handlers) HandleAddDependency(c *gin.Context) {
	var req DependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	t, err := h.engine.AddDependency(c.Request.Context(), CallerFrom(c), c.Param("id"), req.DependsOn)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleRemoveDependency handles DELETE /v1/tasks/:id/dependencies/:dep.
func (h *Handlers) HandleRemoveDependency(c *gin.Context) {
	t, err := h.engine.RemoveDependency(c.Request.Context(), CallerFrom(c), c.Param("id"), c.Param("dep"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleGetTree handles GET /v1/tasks/:id.
func (h *Handlers) HandleGetTree(c *gin.Context) {
	tree, err := h.engine.GetTree(c.Request.Context(), CallerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, TreeResponse{
		Task:        tree.Task,
		Children:    tree.Children,
		Summary:     tree.Summary,
		Completions: tree.Completions,
	})
}

// HandleHealth handles GET /health.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
