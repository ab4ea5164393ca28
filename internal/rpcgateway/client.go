package rpcgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kandev/orchestrator/internal/common/logger"
)

// AgentResolver maps an agent name to the base URL of its sandbox's HTTP
// surface. The lifecycle manager is the authority on container placement;
// the gateway only ever asks it where to send a request.
type AgentResolver interface {
	ResolveURL(ctx context.Context, agentName string) (string, error)
}

// ChatRequest is the body sent to a target agent's /chat endpoint.
type ChatRequest struct {
	Message            string   `json:"message"`
	SourceAgent        string   `json:"source_agent,omitempty"`
	Model              string   `json:"model,omitempty"`
	ToolAllowlist      []string `json:"tool_allowlist,omitempty"`
	SystemPromptAppend string   `json:"system_prompt_append,omitempty"`
	// VolatileID is the queue slot's volatile id, forwarded so the sandbox's
	// process registry (C4) can register the running sub-process under the
	// same id the terminate endpoint later targets.
	VolatileID string `json:"volatile_id,omitempty"`
}

// ChatResponse is a target agent's reply to a /chat call.
type ChatResponse struct {
	Transcript string  `json:"transcript"`
	Cost       float64 `json:"cost"`
	TokensUsed int64   `json:"tokens_used"`
}

// TaskRequest is the body sent to a target agent's /task endpoint for
// parallel (fire-and-forget or fire-and-await) dispatch.
type TaskRequest struct {
	Message     string `json:"message"`
	SourceAgent string `json:"source_agent"`
	// ID is the caller's durable execution id, forwarded so the sandbox's
	// process registry (C4) registers the running sub-process under the
	// same id TerminateExecution later targets directly, bypassing the
	// queue entirely the way sequential's VolatileID does for /chat.
	ID string `json:"id,omitempty"`
}

// ExecutionTaskID formats a durable execution id as the process registry id
// a parallel/async dispatch registers its sub-process under, so the
// producer (the gateway) and the consumer (TerminateExecution) agree on the
// same string without either depending on the other's internal format.
func ExecutionTaskID(id int64) string {
	return fmt.Sprintf("exec-%d", id)
}

// AgentClient is the HTTP surface the gateway calls on a target agent.
// httpAgentClient is the only production implementation; tests substitute
// a fake.
type AgentClient interface {
	Chat(ctx context.Context, agentName string, req ChatRequest, timeout time.Duration) (*ChatResponse, error)
	Task(ctx context.Context, agentName string, req TaskRequest) error
	// Terminate asks the sandbox's process registry to kill the running
	// sub-process registered under volatileID, SIGINT first then SIGKILL
	// after its own grace period. It is idempotent: terminating an id the
	// registry no longer holds is not an error.
	Terminate(ctx context.Context, agentName string, volatileID string) error
}

const sourceAgentHeader = "X-Orchestrator-Source-Agent"

// httpAgentClient calls /chat and /task on a resolved agent base URL,
// grounded on the teacher's agentctl client: a thin net/http wrapper with
// no retries, since the RPC gateway never retries a failed collaboration —
// it fails the activity and lets the caller decide.
type httpAgentClient struct {
	resolver AgentResolver
	client   *http.Client
	logger   *logger.Logger
}

// NewHTTPAgentClient builds an AgentClient that dispatches over plain HTTP.
func NewHTTPAgentClient(resolver AgentResolver, log *logger.Logger) AgentClient {
	return &httpAgentClient{
		resolver: resolver,
		client:   &http.Client{},
		logger:   log,
	}
}

func (c *httpAgentClient) Chat(ctx context.Context, agentName string, req ChatRequest, timeout time.Duration) (*ChatResponse, error) {
	base, err := c.resolver.ResolveURL(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("rpcgateway: resolve %q: %w", agentName, err)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, base+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.SourceAgent != "" {
		httpReq.Header.Set(sourceAgentHeader, req.SourceAgent)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpcgateway: chat call to %q: %w", agentName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpcgateway: chat call to %q returned status %d", agentName, resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rpcgateway: decode chat response from %q: %w", agentName, err)
	}
	return &out, nil
}

func (c *httpAgentClient) Task(ctx context.Context, agentName string, req TaskRequest) error {
	base, err := c.resolver.ResolveURL(ctx, agentName)
	if err != nil {
		return fmt.Errorf("rpcgateway: resolve %q: %w", agentName, err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/task", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(sourceAgentHeader, req.SourceAgent)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpcgateway: task call to %q: %w", agentName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpcgateway: task call to %q returned status %d", agentName, resp.StatusCode)
	}
	return nil
}

func (c *httpAgentClient) Terminate(ctx context.Context, agentName string, volatileID string) error {
	base, err := c.resolver.ResolveURL(ctx, agentName)
	if err != nil {
		return fmt.Errorf("rpcgateway: resolve %q: %w", agentName, err)
	}

	url := fmt.Sprintf("%s/executions/%s/terminate", base, volatileID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpcgateway: terminate call to %q: %w", agentName, err)
	}
	defer resp.Body.Close()

	// 404 means the registry no longer holds volatileID, which is exactly
	// the idempotent-retry case spec.md asks for: treat it as success.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpcgateway: terminate call to %q returned status %d", agentName, resp.StatusCode)
	}
	return nil
}
