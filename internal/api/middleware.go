package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cheezy/kanban/internal/task"
)

// Identity headers. The identity collaborator in front of this service is
// trusted to have authenticated the caller and set them.
const (
	HeaderAgentID      = "X-Agent-ID"
	HeaderBoardID      = "X-Board-ID"
	HeaderCapabilities = "X-Capabilities"
	HeaderOperator     = "X-Operator"
	HeaderRequestID    = "X-Request-ID"
)

const (
	callerKey    = "kanban_caller"
	requestIDKey = "kanban_request_id"
)

// Identity resolves the caller from the identity headers and rejects
// requests that carry none.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := task.Caller{
			ID:           strings.TrimSpace(c.GetHeader(HeaderAgentID)),
			BoardID:      strings.TrimSpace(c.GetHeader(HeaderBoardID)),
			Capabilities: splitList(c.GetHeader(HeaderCapabilities)),
		}
		caller.Operator, _ = strconv.ParseBool(c.GetHeader(HeaderOperator))

		if caller.ID == "" || caller.BoardID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: HeaderAgentID + " and " + HeaderBoardID + " headers are required",
				Code:  "MISSING_IDENTITY",
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller stored by Identity.
func CallerFrom(c *gin.Context) task.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(task.Caller)
	return caller
}

// RequestLogger assigns a request id and logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"agent", c.GetHeader(HeaderAgentID),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		logger.Log(c.Request.Context(), level, "request", attrs...)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
