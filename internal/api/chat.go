package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/common/httpmw"
	"github.com/kandev/orchestrator/internal/rpcgateway"
)

func dispatchModeFrom(raw string) rpcgateway.Mode {
	switch rpcgateway.Mode(raw) {
	case rpcgateway.ModeParallel:
		return rpcgateway.ModeParallel
	case rpcgateway.ModeParallelAsync:
		return rpcgateway.ModeParallelAsync
	default:
		return rpcgateway.ModeSequential
	}
}

func buildOverrides(req ChatDispatchRequest) rpcgateway.Overrides {
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

func (h *Handler) dispatch(c *gin.Context, targetAgent string) {
	var req ChatDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	result, err := h.gateway.Dispatch(c.Request.Context(), rpcgateway.Request{
		Caller:      httpmw.CallerFrom(c),
		TargetAgent: targetAgent,
		Message:     req.Message,
		Mode:        dispatchModeFrom(req.Mode),
		Overrides:   buildOverrides(req),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Busy {
		status = http.StatusConflict
	}
	c.JSON(status, resultToResponse(result))
}

// Chat sends a conversation-carrying message to an agent on behalf of the
// authenticated user.
// POST /agents/:name/chat
func (h *Handler) Chat(c *gin.Context) {
	h.dispatch(c, c.Param("name"))
}

// InternalChat is the inter-agent gateway's sequential/parallel dispatch
// entrypoint, authenticated by InternalAuth rather than UserAuth: the
// caller names itself as the source agent, not the target.
// POST /internal/chat
func (h *Handler) InternalChat(c *gin.Context) {
	target := c.Query("target")
	if target == "" {
		writeError(c, apperrors.BadRequest("missing target query parameter"))
		return
	}
	h.dispatch(c, target)
}

// InternalTask fires a stateless, non-conversation-carrying message at an
// agent without going through the sequential queue.
// POST /internal/task
func (h *Handler) InternalTask(c *gin.Context) {
	target := c.Query("target")
	if target == "" {
		writeError(c, apperrors.BadRequest("missing target query parameter"))
		return
	}
	var req ChatDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	req.Mode = string(rpcgateway.ModeParallelAsync)

	result, err := h.gateway.Dispatch(c.Request.Context(), rpcgateway.Request{
		Caller:      httpmw.CallerFrom(c),
		TargetAgent: target,
		Message:     req.Message,
		Mode:        rpcgateway.ModeParallelAsync,
		Overrides:   buildOverrides(req),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resultToResponse(result))
}
