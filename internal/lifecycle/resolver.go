package lifecycle

import (
	"context"
	"fmt"

	docker "github.com/kandev/orchestrator/internal/container"
)

// agentHTTPPort is the fixed port agentctl listens on inside every sandbox,
// regardless of runtime kind; the control plane never needs to discover it
// because the sandbox image is the orchestrator's own.
const agentHTTPPort = 8080

func resolveAgentURL(ctx context.Context, d *docker.Client, agentName string) (string, error) {
	ip, err := d.GetContainerIP(ctx, containerName(agentName))
	if err != nil {
		return "", fmt.Errorf("lifecycle: resolve %q: %w", agentName, err)
	}
	return fmt.Sprintf("http://%s:%d", ip, agentHTTPPort), nil
}

// ContainerResolver implements rpcgateway.AgentResolver and
// lifecycle.AgentURLResolver by looking up the live container IP behind the
// agent-{name} naming convention Reconcile already relies on, so the RPC
// gateway, the scheduler, and the sandbox injector all share one notion of
// container placement.
type ContainerResolver struct {
	docker *docker.Client
}

// NewContainerResolver builds a resolver atop the same docker client the
// lifecycle manager uses, independent of the manager itself so it can be
// constructed before the manager (the injector needs one at Manager
// construction time).
func NewContainerResolver(d *docker.Client) *ContainerResolver {
	return &ContainerResolver{docker: d}
}

// ResolveURL returns the base HTTP URL of agentName's sandbox.
func (r *ContainerResolver) ResolveURL(ctx context.Context, agentName string) (string, error) {
	return resolveAgentURL(ctx, r.docker, agentName)
}
