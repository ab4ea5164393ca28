package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/store"
)

// ListSchedules returns every schedule declared against an agent.
// GET /agents/:name/schedules
func (h *Handler) ListSchedules(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	scheds, err := h.store.ListSchedulesForAgent(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]ScheduleResponse, len(scheds))
	for i := range scheds {
		resp[i] = scheduleToResponse(&scheds[i])
	}
	writeOK(c, resp)
}

// CreateSchedule declares a new recurring dispatch against an agent.
// POST /agents/:name/schedules
func (h *Handler) CreateSchedule(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Mode == "" {
		req.Mode = "sequential"
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	next, err := computeNextRun(req.CronExpr, req.Timezone, time.Now().UTC())
	if err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}

	sch := &store.Schedule{
		ID:        uuid.NewString(),
		AgentName: name,
		CronExpr:  req.CronExpr,
		Timezone:  req.Timezone,
		Message:   req.Message,
		Mode:      req.Mode,
		Enabled:   req.Enabled,
		NextRunAt: &next,
	}
	if err := h.store.CreateSchedule(c.Request.Context(), sch); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scheduleToResponse(sch))
}

// GetSchedule returns one schedule by id.
// GET /agents/:name/schedules/:id
func (h *Handler) GetSchedule(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	sch, err := h.store.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if sch.AgentName != name {
		writeError(c, apperrors.NotFound("schedule", c.Param("id")))
		return
	}
	writeOK(c, scheduleToResponse(sch))
}

// SetScheduleEnabled enables or disables a schedule.
// PUT /agents/:name/schedules/:id/enabled
func (h *Handler) SetScheduleEnabled(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if err := h.ownsSchedule(c, name, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.SetScheduleEnabled(c.Request.Context(), c.Param("id"), req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TriggerSchedule fires a schedule immediately, stamped triggered_by=manual.
// POST /agents/:name/schedules/:id/trigger
func (h *Handler) TriggerSchedule(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	if err := h.ownsSchedule(c, name, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	exec, err := h.scheduler.Trigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if exec == nil {
		writeError(c, apperrors.Conflict("schedule did not fire: autonomy is disabled for this agent"))
		return
	}
	c.JSON(http.StatusAccepted, executionToResponse(exec))
}

// DeleteSchedule removes a schedule outright.
// DELETE /agents/:name/schedules/:id
func (h *Handler) DeleteSchedule(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	if err := h.ownsSchedule(c, name, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownsSchedule(c *gin.Context, agentName, scheduleID string) error {
	sch, err := h.store.GetSchedule(c.Request.Context(), scheduleID)
	if err != nil {
		return err
	}
	if sch.AgentName != agentName {
		return apperrors.NotFound("schedule", scheduleID)
	}
	return nil
}
