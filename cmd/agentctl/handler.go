package main

import (
	"context"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/registry"
)

const sourceAgentHeader = "X-Orchestrator-Source-Agent"

// chatRequest mirrors rpcgateway.ChatRequest's wire shape without importing
// the control-plane package: the sandbox and the control plane are separate
// deployables sharing only a JSON contract, not Go types.
type chatRequest struct {
	Message            string   `json:"message"`
	SourceAgent        string   `json:"source_agent,omitempty"`
	Model              string   `json:"model,omitempty"`
	ToolAllowlist      []string `json:"tool_allowlist,omitempty"`
	SystemPromptAppend string   `json:"system_prompt_append,omitempty"`
	VolatileID         string   `json:"volatile_id,omitempty"`
}

type chatResponse struct {
	Transcript string  `json:"transcript"`
	Cost       float64 `json:"cost"`
	TokensUsed int64   `json:"tokens_used"`
}

type taskRequest struct {
	Message     string `json:"message"`
	SourceAgent string `json:"source_agent"`
	ID          string `json:"id,omitempty"`
}

// handler serves the sandbox-local HTTP surface: the two endpoints the
// orchestration core treats as opaque (/chat, /task), the two C4 process
// registry endpoints spec.md §4.4 requires, and the three injection
// endpoints lifecycle.HTTPSandboxInjector calls right after container
// start.
type handler struct {
	cfg *config
	reg *registry.Registry
	log *logger.Logger
}

func newHandler(cfg *config, reg *registry.Registry, log *logger.Logger) *handler {
	return &handler{cfg: cfg, reg: reg, log: log.WithFields(zap.String("component", "agentctl"))}
}

func setupRoutes(router *gin.Engine, h *handler) {
	router.Use(gin.Recovery())

	router.GET("/health", h.handleHealth)

	router.POST("/chat", h.handleChat)
	router.POST("/task", h.handleTask)

	router.POST("/executions/:id/terminate", h.handleTerminate)
	router.GET("/executions/running", h.handleListRunning)

	router.POST("/internal/credentials", h.handleInjectCredentials)
	router.POST("/internal/skills/sync", h.handleInjectSkills)
	router.POST("/internal/system-prompt/sync", h.handleInjectSystemPrompt)
}

func (h *handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleChat runs one sequential conversation turn. The control plane
// already guarantees only one /chat call is in flight at a time per agent
// (C5's admission gate), so this handler does not need its own mutex.
func (h *handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sourceAgent := c.GetHeader(sourceAgentHeader)
	if sourceAgent != "" {
		req.SourceAgent = sourceAgent
	}

	id := req.VolatileID
	if id == "" {
		id = uuid.NewString()
	}

	transcript, cost, tokens, err := h.runSimulatedWork(c.Request.Context(), id, "chat: "+truncate(req.Message, 80), req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chatResponse{Transcript: transcript, Cost: cost, TokensUsed: tokens})
}

// handleTask runs one stateless parallel turn. C5 is never touched for this
// mode, so there is no volatile id; the caller instead passes its own
// durable execution id to register under, so a later terminate call can
// address this sub-process directly. A caller with no execution id (a
// synchronous, non-polled task) still gets a locally minted one.
func (h *handler) handleTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sourceAgent := c.GetHeader(sourceAgentHeader)
	if sourceAgent != "" {
		req.SourceAgent = sourceAgent
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, _, _, err := h.runSimulatedWork(c.Request.Context(), id, "task: "+truncate(req.Message, 80), req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// handleTerminate implements spec.md §4.4: SIGINT, 5s grace, then SIGKILL.
func (h *handler) handleTerminate(c *gin.Context) {
	id := c.Param("id")
	outcome, err := h.reg.Terminate(c.Request.Context(), id)
	if err != nil {
		if err == registry.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

func (h *handler) handleListRunning(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.List())
}

func (h *handler) handleInjectCredentials(c *gin.Context) {
	h.log.Info("credentials injected")
	c.Status(http.StatusNoContent)
}

func (h *handler) handleInjectSkills(c *gin.Context) {
	h.log.Info("skills synced")
	c.Status(http.StatusNoContent)
}

func (h *handler) handleInjectSystemPrompt(c *gin.Context) {
	h.log.Info("system prompt synced")
	c.Status(http.StatusNoContent)
}

// runSimulatedWork spawns a real sub-process (so the process registry has a
// genuine PID to signal) that sleeps for a bounded, message-derived
// duration and then exits, standing in for an actual LLM turn. Grounded on
// the teacher's mock-agent's role as "a controllable stand-in sandbox for
// integration tests against the orchestration core" — simulate bounded
// work and emit a transcript rather than calling a real model.
func (h *handler) runSimulatedWork(ctx context.Context, id, label, message string) (transcript string, cost float64, tokens int64, err error) {
	seconds := simulatedDuration(message, h.cfg.SimulatedWorkMin, h.cfg.SimulatedWorkMax)
	cmd := exec.Command("sleep", strconv.Itoa(seconds))
	cmd.Dir = h.cfg.WorkDir

	if err := cmd.Start(); err != nil {
		return "", 0, 0, err
	}
	h.reg.Register(id, cmd, label)

	waitErr := cmd.Wait()
	h.reg.Unregister(id)

	if waitErr != nil {
		if ctx.Err() != nil {
			return "", 0, 0, ctx.Err()
		}
		// An operator-requested SIGINT/SIGKILL surfaces here as a non-zero
		// exit from Wait; that is the expected outcome of a terminate call,
		// not a handler failure, so it is reported as a short transcript
		// rather than an HTTP error.
		return "terminated before completion", 0, 0, nil
	}

	tokens = int64(len(strings.Fields(message)) * 4)
	cost = float64(tokens) * 0.000002
	transcript = "simulated response to: " + message
	return transcript, cost, tokens, nil
}

func simulatedDuration(message string, min, max int) int {
	if max <= min {
		return min
	}
	span := max - min
	return min + (len(message) % (span + 1))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
