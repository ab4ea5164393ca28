package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kandev/orchestrator/internal/common/logger"
)

// HTTPSandboxInjector implements SandboxInjector by calling three endpoints
// on a freshly started sandbox's own agentctl surface, grounded on the same
// thin net/http style as rpcgateway's httpAgentClient: no retries, since a
// failed injection is logged and the start that triggered it still
// succeeds.
type HTTPSandboxInjector struct {
	resolver AgentURLResolver
	client   *http.Client
	logger   *logger.Logger
}

// AgentURLResolver is the subset of lifecycle's own container placement
// knowledge the injector needs; ContainerResolver satisfies it, so
// cmd/orchestrator can share one resolver between the RPC gateway and the
// injector.
type AgentURLResolver interface {
	ResolveURL(ctx context.Context, agentName string) (string, error)
}

// NewHTTPSandboxInjector builds a SandboxInjector atop resolver.
func NewHTTPSandboxInjector(resolver AgentURLResolver, log *logger.Logger) *HTTPSandboxInjector {
	return &HTTPSandboxInjector{resolver: resolver, client: &http.Client{}, logger: log}
}

func (i *HTTPSandboxInjector) post(ctx context.Context, agentName, path string, body any) error {
	base, err := i.resolver.ResolveURL(ctx, agentName)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve %q for injection: %w", agentName, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("lifecycle: inject call %s to %q: %w", path, agentName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lifecycle: inject call %s to %q returned status %d", path, agentName, resp.StatusCode)
	}
	return nil
}

// InjectCredentials pushes the agent's freshly minted API key (and any
// caller-provided model-provider credentials) into its sandbox's env.
func (i *HTTPSandboxInjector) InjectCredentials(ctx context.Context, agentName string, env map[string]string) error {
	return i.post(ctx, agentName, "/internal/credentials", map[string]any{"env": env})
}

// InjectSkills tells the sandbox to sync its skills directory from the
// shared-folder mount already attached at container-create time.
func (i *HTTPSandboxInjector) InjectSkills(ctx context.Context, agentName string) error {
	return i.post(ctx, agentName, "/internal/skills/sync", map[string]any{})
}

// InjectSystemPrompt pushes the agent's configured system-prompt append
// into the sandbox so it is active for the very first chat turn.
func (i *HTTPSandboxInjector) InjectSystemPrompt(ctx context.Context, agentName string) error {
	return i.post(ctx, agentName, "/internal/system-prompt/sync", map[string]any{})
}
