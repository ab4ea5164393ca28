package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/common/httpmw"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/lifecycle"
	"github.com/kandev/orchestrator/internal/store"
)

// ListAgents returns every agent the caller can see: every agent for an
// admin, owned-or-shared agents for anyone else.
// GET /agents
func (h *Handler) ListAgents(c *gin.Context) {
	caller := httpmw.CallerFrom(c)
	agents, err := h.store.AccessibleAgents(c.Request.Context(), caller.UserID(), caller.IsAdmin())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]AgentResponse, len(agents))
	for i := range agents {
		resp[i] = agentToResponse(&agents[i])
	}
	writeOK(c, resp)
}

// CreateAgent declares a new agent and, optionally, starts it.
// POST /agents
func (h *Handler) CreateAgent(c *gin.Context) {
	caller := httpmw.CallerFrom(c)
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	agent := &store.Agent{
		Name:              req.Name,
		OwnerID:           caller.UserID(),
		TemplateRef:       req.TemplateRef,
		CPU:               req.CPU,
		MemoryMB:          req.MemoryMB,
		CapabilityProfile: store.CapabilityProfile(req.CapabilityProfile),
	}
	if err := h.lifecycle.Create(c.Request.Context(), agent, lifecycle.CreateOptions{AutoStart: req.AutoStart}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agentToResponse(agent))
}

// GetAgent returns one agent's declared configuration.
// GET /agents/:name
func (h *Handler) GetAgent(c *gin.Context) {
	name := c.Param("name")
	agent, err := h.store.GetAgent(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, agentToResponse(agent))
}

// StartAgent starts (or reconciles and starts) an agent's container.
// POST /agents/:name/start
func (h *Handler) StartAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.lifecycle.Start(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopAgent stops an agent's container. Idempotent.
// POST /agents/:name/stop
func (h *Handler) StopAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.lifecycle.Stop(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAgent tears an agent down. purge_history=true additionally deletes
// its activity and execution rows.
// DELETE /agents/:name
func (h *Handler) DeleteAgent(c *gin.Context) {
	name := c.Param("name")
	purge := c.Query("purge_history") == "true"
	if err := h.lifecycle.Delete(c.Request.Context(), name, h.systemAgentName, purge); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateResources changes an agent's declared CPU/memory/capability
// profile; it takes effect on the agent's next start, via the lifecycle
// manager's config-diff recreate path.
// PUT /agents/:name/resources
func (h *Handler) UpdateResources(c *gin.Context) {
	name := c.Param("name")
	var req UpdateResourcesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	h.updateAgentConfig(c, name, func(a *store.Agent) {
		if req.CPU != nil {
			a.CPU = *req.CPU
		}
		if req.MemoryMB != nil {
			a.MemoryMB = *req.MemoryMB
		}
		if req.CapabilityProfile != nil {
			a.CapabilityProfile = store.CapabilityProfile(*req.CapabilityProfile)
		}
	})
}

// UpdateAutonomy flips the switch the scheduler checks before firing a
// schedule against this agent.
// PUT /agents/:name/autonomy
func (h *Handler) UpdateAutonomy(c *gin.Context) {
	name := c.Param("name")
	var req UpdateAutonomyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	h.updateAgentConfig(c, name, func(a *store.Agent) {
		a.AutonomyEnabled = req.Enabled
	})
}

// UpdateReadOnly flips the agent's read-only tooling flag.
// PUT /agents/:name/read-only
func (h *Handler) UpdateReadOnly(c *gin.Context) {
	name := c.Param("name")
	var req UpdateReadOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	h.updateAgentConfig(c, name, func(a *store.Agent) {
		a.ReadOnlyTooling = req.ReadOnly
	})
}

// UpdateTags replaces an agent's tag set.
// PUT /agents/:name/tags
func (h *Handler) UpdateTags(c *gin.Context) {
	name := c.Param("name")
	var req UpdateTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	h.updateAgentConfig(c, name, func(a *store.Agent) {
		a.Tags = joinTags(req.Tags)
	})
}

func (h *Handler) updateAgentConfig(c *gin.Context, name string, mutate func(*store.Agent)) {
	ctx := c.Request.Context()
	agent, err := h.store.GetAgent(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	mutate(agent)
	if err := h.store.UpdateAgentConfig(ctx, agent); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, agentToResponse(agent))
}

// GetPermissions lists the agents this agent is permitted to call.
// GET /agents/:name/permissions
func (h *Handler) GetPermissions(c *gin.Context) {
	name := c.Param("name")
	targets, err := h.store.PermittedTargets(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"targets": targets})
}

// PutPermissions replaces an agent's outgoing permission edges wholesale:
// revoke every edge not in the new set, grant every edge that is new.
// PUT /agents/:name/permissions
func (h *Handler) PutPermissions(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")
	var req UpdatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	existing, err := h.store.PermittedTargets(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	wanted := make(map[string]bool, len(req.Targets))
	for _, t := range req.Targets {
		wanted[t] = true
	}
	for _, t := range existing {
		if !wanted[t] {
			if err := h.store.RevokePermission(ctx, name, t); err != nil {
				writeError(c, err)
				return
			}
		}
	}
	had := make(map[string]bool, len(existing))
	for _, t := range existing {
		had[t] = true
	}
	for t := range wanted {
		if !had[t] {
			if err := h.store.GrantPermission(ctx, name, t); err != nil {
				writeError(c, err)
				return
			}
		}
	}
	writeOK(c, gin.H{"targets": req.Targets})
}

// GetShares lists the users an agent has been shared with.
// GET /agents/:name/shares
func (h *Handler) GetShares(c *gin.Context) {
	name := c.Param("name")
	users, err := h.store.SharedUsers(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"users": users})
}

// GrantShare shares an agent with another user.
// POST /agents/:name/shares
func (h *Handler) GrantShare(c *gin.Context) {
	name := c.Param("name")
	var req GrantShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if err := h.store.GrantShare(c.Request.Context(), name, req.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeShare revokes a user's shared access to an agent.
// DELETE /agents/:name/shares/:userID
func (h *Handler) RevokeShare(c *gin.Context) {
	name := c.Param("name")
	userID := c.Param("userID")
	if err := h.store.RevokeShare(c.Request.Context(), name, userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireAccess aborts the request with 403 unless caller can access the
// named agent, logging the denial the way the ledger's own permission
// failures do.
func (h *Handler) requireAccess(c *gin.Context, agentName string) bool {
	caller := httpmw.CallerFrom(c)
	if caller.Kind() == identity.KindSystem {
		return true
	}
	if caller.Kind() == identity.KindAgent {
		return true
	}
	can, err := h.store.CanAccess(c.Request.Context(), agentName, caller.UserID(), caller.IsAdmin())
	if err != nil {
		writeError(c, err)
		return false
	}
	if !can {
		h.logger.Info("access denied", zap.String("agent", agentName), zap.String("caller", caller.String()))
		writeError(c, apperrors.Forbidden("you do not have access to this agent"))
		return false
	}
	return true
}
