package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the task endpoints on rg behind the identity middleware.
//
//	POST   /tasks                         create a task
//	POST   /goals                         create a goal with children
//	GET    /tasks/ready                   list claimable tasks
//	GET    /tasks/next                    preview the next claim
//	POST   /tasks/claim                   claim the next task
//	GET    /tasks/:id                     task or goal tree
//	POST   /tasks/:id/submit              submit for review
//	POST   /tasks/:id/review              record a review outcome
//	POST   /tasks/:id/route               route out of Review
//	POST   /tasks/:id/unclaim             give the claim back
//	POST   /tasks/:id/hooks/:hook         report a hook result
//	POST   /tasks/:id/dependencies        add a dependency
//	DELETE /tasks/:id/dependencies/:dep   remove a dependency
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.Use(Identity())

	rg.POST("/goals", h.HandleCreateGoal)

	tasks := rg.Group("/tasks")
	{
		tasks.POST("", h.HandleCreateTask)
		tasks.GET("/ready", h.HandleListReady)
		tasks.GET("/next", h.HandleNext)
		tasks.POST("/claim", h.HandleClaim)

		tasks.GET("/:id", h.HandleGetTree)
		tasks.POST("/:id/submit", h.HandleSubmit)
		tasks.POST("/:id/review", h.HandleRecordReview)
		tasks.POST("/:id/route", h.HandleRoute)
		tasks.POST("/:id/unclaim", h.HandleUnclaim)
		tasks.POST("/:id/hooks/:hook", h.HandleReportHook)
		tasks.POST("/:id/dependencies", h.HandleAddDependency)
		tasks.DELETE("/:id/dependencies/:dep", h.HandleRemoveDependency)
	}
}

// NewRouter builds the complete HTTP handler: health and metrics endpoints
// plus the versioned task API.
func NewRouter(h *Handlers, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	router.GET("/health", HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router.Group("/v1"), h)
	return router
}
