package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/cheezy/kanban/internal/task"
)

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, task.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, task.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, task.ErrHookFailure):
		return http.StatusUnprocessableEntity, "HOOK_FAILURE"
	case errors.Is(err, task.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR"
	case errors.Is(err, task.ErrConflict):
		return http.StatusServiceUnavailable, "CONFLICT"
	case errors.Is(err, task.ErrNoTaskAvailable):
		return http.StatusNotFound, "NO_TASK_AVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// writeError renders err. t, when set, is the task state after the failed
// call, as returned with a released claim.
func writeError(c *gin.Context, err error, t *task.Task) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code, Task: t}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
		_ = c.Error(err)
	}
	var hookErr *task.HookError
	if errors.As(err, &hookErr) {
		resp.Hook = &HookDetail{Name: hookErr.Hook, ExitCode: hookErr.ExitCode, TimedOut: hookErr.TimedOut}
	}
	c.JSON(status, resp)
}

// writeBindError renders a request body that failed to decode or validate.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: verrs.Error(), Code: "VALIDATION_ERROR"})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "INVALID_REQUEST"})
}
