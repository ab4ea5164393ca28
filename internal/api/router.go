package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrator/internal/common/httpmw"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/store"
	"github.com/kandev/orchestrator/internal/wsgateway"
)

// SetupRoutes mounts the full HTTP surface onto router: /health unauthenticated,
// the human-facing v1 API and the WebSocket gateway behind UserAuth, and the
// inter-agent gateway behind InternalAuth.
func SetupRoutes(router *gin.Engine, h *Handler, ws *wsgateway.Handler, st *store.Store, jwtSecret, systemAgentName string, log *logger.Logger) {
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "orchestrator-api"))
	router.Use(httpmw.OtelTracing("orchestrator-api"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(httpmw.UserAuth(st, jwtSecret))
	{
		agents := v1.Group("/agents")
		agents.GET("", h.ListAgents)
		agents.POST("", h.CreateAgent)
		agents.GET("/:name", h.GetAgent)
		agents.DELETE("/:name", h.DeleteAgent)
		agents.POST("/:name/start", h.StartAgent)
		agents.POST("/:name/stop", h.StopAgent)
		agents.PUT("/:name/resources", h.UpdateResources)
		agents.PUT("/:name/autonomy", h.UpdateAutonomy)
		agents.PUT("/:name/read-only", h.UpdateReadOnly)
		agents.PUT("/:name/tags", h.UpdateTags)
		agents.GET("/:name/permissions", h.GetPermissions)
		agents.PUT("/:name/permissions", h.PutPermissions)
		agents.GET("/:name/shares", h.GetShares)
		agents.POST("/:name/shares", h.GrantShare)
		agents.DELETE("/:name/shares/:userID", h.RevokeShare)

		agents.POST("/:name/chat", h.Chat)
		agents.POST("/:name/task", h.Task)

		agents.GET("/:name/executions", h.ListExecutions)
		agents.GET("/:name/executions/:id", h.GetExecution)
		agents.GET("/:name/executions/:id/log", h.GetExecutionLog)
		agents.GET("/:name/executions/:id/stream", h.StreamExecution)
		agents.POST("/:name/executions/:id/terminate", h.TerminateExecution)

		agents.GET("/:name/schedules", h.ListSchedules)
		agents.POST("/:name/schedules", h.CreateSchedule)
		agents.GET("/:name/schedules/:id", h.GetSchedule)
		agents.PUT("/:name/schedules/:id/enabled", h.SetScheduleEnabled)
		agents.POST("/:name/schedules/:id/trigger", h.TriggerSchedule)
		agents.DELETE("/:name/schedules/:id", h.DeleteSchedule)

		ws.RegisterRoutes(v1)
	}

	internal := router.Group("/internal")
	internal.Use(httpmw.InternalAuth(st, systemAgentName))
	{
		internal.POST("/chat", h.InternalChat)
		internal.POST("/task", h.InternalTask)
	}
}
