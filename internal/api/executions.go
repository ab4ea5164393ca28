package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/events"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/store"
)

func parseExecutionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, apperrors.BadRequest("execution id must be numeric"))
		return 0, false
	}
	return id, true
}

// ListExecutions returns an agent's most recent executions, newest first.
// GET /agents/:name/executions
func (h *Handler) ListExecutions(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	execs, err := h.store.ListExecutionsForAgent(c.Request.Context(), name, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]ExecutionResponse, len(execs))
	for i := range execs {
		resp[i] = executionToResponse(&execs[i])
	}
	writeOK(c, resp)
}

// GetExecution returns one execution's metadata, without its transcript.
// GET /agents/:name/executions/:id
func (h *Handler) GetExecution(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	id, ok := parseExecutionID(c)
	if !ok {
		return
	}
	exec, err := h.store.GetExecution(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if exec.AgentName != name {
		writeError(c, apperrors.NotFound("execution", c.Param("id")))
		return
	}
	writeOK(c, executionToResponse(exec))
}

// GetExecutionLog returns the sealed transcript entries for a finished
// execution. A still-running execution has an empty transcript here; its
// content is only available live via the stream endpoint.
// GET /agents/:name/executions/:id/log
func (h *Handler) GetExecutionLog(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	id, ok := parseExecutionID(c)
	if !ok {
		return
	}
	exec, err := h.store.GetExecution(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if exec.AgentName != name {
		writeError(c, apperrors.NotFound("execution", c.Param("id")))
		return
	}

	var entries []store.TranscriptEntry
	if len(exec.Transcript) > 0 {
		if err := json.Unmarshal(exec.Transcript, &entries); err != nil {
			writeError(c, apperrors.InternalError("corrupt transcript", err))
			return
		}
	}
	writeOK(c, gin.H{"entries": entries})
}

// StreamExecution opens a server-sent-events stream of activity and
// terminal execution events for one agent, filtered to the requested
// execution id, closing once that execution reaches a terminal state or
// the client disconnects.
// GET /agents/:name/executions/:id/stream
func (h *Handler) StreamExecution(c *gin.Context) {
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	id, ok := parseExecutionID(c)
	if !ok {
		return
	}
	if h.bus == nil {
		writeError(c, apperrors.ServiceUnavailable("event stream"))
		return
	}

	msgs := make(chan *bus.Event, 16)
	matchesExecution := func(event *bus.Event) bool {
		switch v := event.Data["execution_id"].(type) {
		case int64:
			return v == id
		case float64:
			return int64(v) == id
		default:
			return false
		}
	}
	onEvent := func(_ context.Context, event *bus.Event) error {
		if !matchesExecution(event) {
			return nil
		}
		select {
		case msgs <- event:
		default:
		}
		return nil
	}

	var subs []bus.Subscription
	for _, base := range []string{events.ActivityRecorded, events.ExecutionFinished, events.ExecutionCanceled} {
		sub, err := h.bus.Subscribe(events.BuildAgentSubject(base, name), onEvent)
		if err != nil {
			writeError(c, apperrors.InternalError("subscribe to execution stream", err))
			return
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-msgs:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			if canFlush {
				flusher.Flush()
			}
			if event.Type == events.ExecutionFinished || event.Type == events.ExecutionCanceled {
				return
			}
		}
	}
}

// TerminateExecution cancels an in-flight execution. A sequential execution
// is resolved through the queue's current volatile id, since that is the id
// the sandbox's process registry holds it under; a parallel or async-task
// execution was never admitted to the queue, so it is addressed directly by
// its own durable id instead, per DispatchMode. Either way the sandbox's
// process registry is asked to kill the running sub-process, the queue slot
// (if any) is released, and the execution is sealed as cancelled. Calling it
// twice, or calling it after the execution has already finished on its own,
// is a harmless no-op — spec.md requires cancellation to be idempotent.
// POST /agents/:name/executions/:id/terminate
func (h *Handler) TerminateExecution(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")
	if !h.requireAccess(c, name) {
		return
	}
	id, ok := parseExecutionID(c)
	if !ok {
		return
	}

	exec, err := h.store.GetExecution(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if exec.AgentName != name {
		writeError(c, apperrors.NotFound("execution", c.Param("id")))
		return
	}
	if isTerminal(exec.Status) {
		writeOK(c, executionToResponse(exec))
		return
	}

	if exec.DispatchMode == store.DispatchParallel {
		if err := h.agentClient.Terminate(ctx, name, rpcgateway.ExecutionTaskID(id)); err != nil {
			h.logger.Warn("sandbox terminate call failed", zap.String("agent", name), zap.Int64("execution_id", id), zap.Error(err))
		}
	} else {
		volatileID, held, err := h.queue.CurrentVolatileID(ctx, name)
		if err != nil {
			writeError(c, err)
			return
		}
		if held {
			if err := h.agentClient.Terminate(ctx, name, volatileID); err != nil {
				h.logger.Warn("sandbox terminate call failed", zap.String("agent", name), zap.Int64("execution_id", id), zap.Error(err))
			}
			if err := h.queue.Complete(ctx, name, volatileID); err != nil && !errors.Is(err, queue.ErrNotHolder) {
				h.logger.Warn("failed to release queue slot on terminate", zap.String("agent", name), zap.Error(err))
			}
		}
	}

	endedAt := time.Now().UTC()
	if err := h.ledger.SealExecution(ctx, id, name, store.ExecutionCancelled, endedAt, exec.Cost, exec.TokensUsed, nil, nil); err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.ledger.RecordTerminalActivity(ctx, name, store.ActivityExecutionCancelled, store.TriggerUser,
		store.ExecutionCancelledDetails{ExecutionID: id, Reason: "operator requested cancellation"},
		nil, &id, store.ActivityCompleted); err != nil {
		h.logger.Warn("failed to record execution_cancelled activity", zap.Int64("execution_id", id), zap.Error(err))
	}

	exec, err = h.store.GetExecution(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, executionToResponse(exec))
}

func isTerminal(status store.ExecutionStatus) bool {
	switch status {
	case store.ExecutionSucceeded, store.ExecutionFailed, store.ExecutionCancelled:
		return true
	default:
		return false
	}
}
