package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/common/httpmw"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/store"
)

func buildTaskOverrides(req TaskDispatchRequest) rpcgateway.Overrides {
	o := rpcgateway.Overrides{
		Model:              req.Model,
		ToolAllowlist:      req.ToolAllowlist,
		SystemPromptAppend: req.SystemPromptAppend,
	}
	if req.TimeoutSeconds > 0 {
		o.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	return o
}

// Task dispatches a stateless, non-conversation-carrying message to an
// agent, bypassing the sequential queue entirely. A synchronous call blocks
// for the target's response; an async call creates the execution row up
// front and returns its id immediately, per spec.md's fire-and-forget
// semantics — the caller polls GET .../executions/{id} for the outcome.
// POST /agents/:name/task
func (h *Handler) Task(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	var req TaskDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	caller := httpmw.CallerFrom(c)

	if !req.Async {
		result, err := h.gateway.Dispatch(c.Request.Context(), rpcgateway.Request{
			Caller:      caller,
			TargetAgent: name,
			Message:     req.Message,
			Mode:        rpcgateway.ModeParallel,
			Overrides:   buildTaskOverrides(req),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resultToResponse(result))
		return
	}

	id, err := h.ledger.StartExecution(c.Request.Context(), &store.Execution{
		AgentName:    name,
		InputMessage: req.Message,
		TriggerKind:  store.TriggerUser,
		DispatchMode: store.DispatchParallel,
		Status:       store.ExecutionQueued,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	bg := context.WithoutCancel(c.Request.Context())
	go h.runAsyncTask(bg, id, name, caller, req)

	resp := resultToResponse(&rpcgateway.Result{})
	resp.ExecutionID = &id
	resp.Status = string(store.ExecutionQueued)
	c.JSON(http.StatusAccepted, resp)
}

// runAsyncTask performs the actual dispatch for a fire-and-forget task call
// and seals the execution row StartExecution already created, so a caller
// polling GET .../executions/{id} sees it move queued -> succeeded/failed.
func (h *Handler) runAsyncTask(ctx context.Context, id int64, agentName string, caller identity.Caller, req TaskDispatchRequest) {
	result, err := h.gateway.Dispatch(ctx, rpcgateway.Request{
		Caller:      caller,
		TargetAgent: agentName,
		Message:     req.Message,
		Mode:        rpcgateway.ModeParallelAsync,
		Overrides:   buildTaskOverrides(req),
		ExecutionID: &id,
	})

	endedAt := time.Now().UTC()
	status := store.ExecutionSucceeded
	var cost float64
	var tokens int64
	var errMsg *string
	if err != nil {
		status = store.ExecutionFailed
		msg := err.Error()
		errMsg = &msg
	} else {
		cost = result.Cost
		tokens = result.TokensUsed
	}

	if sealErr := h.ledger.SealExecution(ctx, id, agentName, status, endedAt, cost, tokens, nil, errMsg); sealErr != nil {
		h.logger.Warn("failed to seal async task execution", zap.Int64("execution_id", id), zap.String("agent", agentName), zap.Error(sealErr))
	}
}
