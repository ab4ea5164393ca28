// Package lifecycle is the Agent Lifecycle Manager (C7): it reconciles an
// agent's declared configuration with its actual container state and owns
// the create/start/stop/delete/recreate/reconcile operations and the state
// machine in state.go.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/apikey"
	"github.com/kandev/orchestrator/internal/common/constants"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/coordination"
	docker "github.com/kandev/orchestrator/internal/container"
	"github.com/kandev/orchestrator/internal/store"
)

const (
	labelOwner = "orchestrator.owner"
	labelKind  = "orchestrator.kind"
	labelAgent = "orchestrator.agent"

	apiKeyEnvVar = "AGENT_API_KEY"

	stopTimeout = 15 * time.Second
)

// SandboxInjector pushes control-plane context into a freshly started
// sandbox over its own HTTP surface. Each call is independent; a failure
// is logged by the caller and never rolls back the start that triggered
// it — an agent missing its system prompt is still a usable agent.
type SandboxInjector interface {
	InjectCredentials(ctx context.Context, agentName string, env map[string]string) error
	InjectSkills(ctx context.Context, agentName string) error
	InjectSystemPrompt(ctx context.Context, agentName string) error
}

// Template resolves an agent's template reference to its image, shared
// folder mounts, and default runtime kind at create time.
type Template interface {
	Resolve(templateRef string) (TemplateSpec, error)
}

// TemplateSpec is the subset of template content the lifecycle manager
// needs before it creates a container.
type TemplateSpec struct {
	Image  string
	Mounts []docker.MountConfig
	Kind   store.RuntimeKind
}

// Manager reconciles declared agent configuration with running container
// state. It never holds its own background loop; Reconcile is invoked once
// at control-plane startup by cmd/orchestrator.
type Manager struct {
	store    *store.Store
	docker   *docker.Client
	coord    *coordination.Client
	template Template
	injector SandboxInjector
	logger   *logger.Logger
}

// New wires a lifecycle manager atop the state store, container driver,
// coordination store, template resolver, and sandbox injector.
func New(st *store.Store, dockerClient *docker.Client, coord *coordination.Client, tmpl Template, injector SandboxInjector, log *logger.Logger) *Manager {
	return &Manager{
		store:    st,
		docker:   dockerClient,
		coord:    coord,
		template: tmpl,
		injector: injector,
		logger:   log.WithFields(zap.String("component", "lifecycle-manager")),
	}
}

// CreateOptions carries the fields a caller supplies at creation time that
// are not themselves part of the declared agent row (e.g. whether to
// auto-start).
type CreateOptions struct {
	AutoStart bool
}

// Create writes the owner, initial declared configuration, and permission
// edges (restrictive by default: no outgoing edges beyond the implicit
// self-edge), resolves the template's shared-folder mounts before any
// container exists, issues the agent-scoped API key, and optionally starts
// the agent.
func (m *Manager) Create(ctx context.Context, a *store.Agent, opts CreateOptions) error {
	spec, err := m.template.Resolve(a.TemplateRef)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve template %q: %w", a.TemplateRef, err)
	}
	if a.Kind == "" {
		a.Kind = spec.Kind
	}
	a.Status = store.AgentStatusCreated

	if err := m.store.CreateAgent(ctx, a); err != nil {
		return fmt.Errorf("lifecycle: create agent %q: %w", a.Name, err)
	}

	clearKey, salt, err := apikey.Generate()
	if err != nil {
		return fmt.Errorf("lifecycle: generate api key: %w", err)
	}
	if err := m.store.CreateAPIKey(ctx, &store.APIKey{
		ID:        a.Name,
		Scope:     store.APIKeyScopeAgent,
		AgentName: &a.Name,
		HashedKey: apikey.Hash(clearKey, salt),
		Salt:      salt,
	}); err != nil {
		return fmt.Errorf("lifecycle: issue agent api key: %w", err)
	}
	if err := m.coord.PutCredential(ctx, a.Name, []byte(clearKey)); err != nil {
		return fmt.Errorf("lifecycle: store agent credential: %w", err)
	}

	m.logger.Info("agent created", zap.String("agent", a.Name), zap.String("template", a.TemplateRef))

	if opts.AutoStart {
		return m.Start(ctx, a.Name)
	}
	return nil
}

// Start is the reconciliation seam: it fetches declared and observed
// config, recreates the container when they diverge in any of the fields
// ConfigDiff tracks, starts the (possibly new) container, and injects
// control-plane context. Injection failures are logged, never fatal.
func (m *Manager) Start(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.AgentLaunchTimeout)
	defer cancel()

	agent, err := m.store.GetAgent(ctx, name)
	if err != nil {
		return fmt.Errorf("lifecycle: start %q: %w", name, err)
	}
	if err := validateTransition(fromAgentStatus(agent.Status), StateRunning); err != nil {
		return err
	}

	spec, err := m.template.Resolve(agent.TemplateRef)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve template %q: %w", agent.TemplateRef, err)
	}

	containerID := containerName(agent.Name)
	observed, inspectErr := m.docker.InspectConfig(ctx, containerID)
	diff := diffConfig(agent, spec.Mounts, apiKeyEnvVar, observedOrNil(observed, inspectErr))

	if diff.Any() {
		if err := m.recreate(ctx, agent, spec, observed != nil); err != nil {
			return fmt.Errorf("lifecycle: recreate %q: %w", name, err)
		}
	} else {
		if err := m.docker.StartContainer(ctx, containerID); err != nil {
			return fmt.Errorf("lifecycle: start container %q: %w", name, err)
		}
	}

	if err := m.store.UpdateAgentStatus(ctx, name, store.AgentStatusRunning); err != nil {
		return fmt.Errorf("lifecycle: mark %q running: %w", name, err)
	}

	m.injectControlPlaneContext(ctx, name)
	m.logger.Info("agent started", zap.String("agent", name))
	return nil
}

func observedOrNil(oc *docker.ObservedConfig, err error) *docker.ObservedConfig {
	if err != nil {
		return nil
	}
	return oc
}

// recreate stops and removes any existing container for the agent, then
// creates a fresh one from declared config, preserving container labels'
// authoritative identity (owner, kind) across the swap.
func (m *Manager) recreate(ctx context.Context, agent *store.Agent, spec TemplateSpec, hadExisting bool) error {
	if err := m.store.UpdateAgentStatus(ctx, agent.Name, store.AgentStatusRecreating); err != nil {
		return err
	}

	name := containerName(agent.Name)
	if hadExisting {
		_ = m.docker.StopContainer(ctx, name, stopTimeout)
		_ = m.docker.RemoveContainer(ctx, name, true)
	}

	cfg := docker.ContainerConfig{
		Name:              name,
		Image:             spec.Image,
		Env:               []string{apiKeyEnvVar + "=" + agent.Name},
		Mounts:            spec.Mounts,
		Memory:            int64(agent.MemoryMB) * bytesPerMB,
		CPUQuota:          int64(agent.CPU * 100000),
		CapabilityProfile: docker.CapabilityProfile(agent.CapabilityProfile),
		Labels: map[string]string{
			labelOwner: agent.OwnerID,
			labelKind:  string(agent.Kind),
			labelAgent: agent.Name,
		},
	}

	containerID, err := m.docker.CreateContainer(ctx, cfg)
	if err != nil {
		return err
	}
	return m.docker.StartContainer(ctx, containerID)
}

func (m *Manager) injectControlPlaneContext(ctx context.Context, name string) {
	if m.injector == nil {
		return
	}
	if err := m.injector.InjectCredentials(ctx, name, nil); err != nil {
		m.logger.Warn("credential injection failed", zap.String("agent", name), zap.Error(err))
	}
	if err := m.injector.InjectSkills(ctx, name); err != nil {
		m.logger.Warn("skill injection failed", zap.String("agent", name), zap.Error(err))
	}
	if err := m.injector.InjectSystemPrompt(ctx, name); err != nil {
		m.logger.Warn("system prompt injection failed", zap.String("agent", name), zap.Error(err))
	}
}

// Stop is idempotent: stopping an already-stopped agent is a no-op success.
func (m *Manager) Stop(ctx context.Context, name string) error {
	agent, err := m.store.GetAgent(ctx, name)
	if err != nil {
		return fmt.Errorf("lifecycle: stop %q: %w", name, err)
	}
	if agent.Status == store.AgentStatusStopped {
		return nil
	}
	if err := validateTransition(fromAgentStatus(agent.Status), StateStopped); err != nil {
		return err
	}

	if err := m.docker.StopContainer(ctx, containerName(name), stopTimeout); err != nil {
		return fmt.Errorf("lifecycle: stop container %q: %w", name, err)
	}
	if err := m.store.UpdateAgentStatus(ctx, name, store.AgentStatusStopped); err != nil {
		return fmt.Errorf("lifecycle: mark %q stopped: %w", name, err)
	}
	m.logger.Info("agent stopped", zap.String("agent", name))
	return nil
}

// Delete forbids removing the designated system agent, then cascades in
// the declared order: stop, remove container, delete schedules and
// permission edges (both directions), delete ownership and sharing rows,
// delete activities/executions (unless purgeHistory is false), and finally
// remove the agent's credential blob from the coordination store.
func (m *Manager) Delete(ctx context.Context, name string, systemAgentName string, purgeHistory bool) error {
	if name == systemAgentName {
		return fmt.Errorf("lifecycle: delete %q: the system agent cannot be deleted", name)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.TaskDeleteTimeout)
	defer cancel()

	_ = m.docker.StopContainer(ctx, containerName(name), stopTimeout)
	_ = m.docker.RemoveContainer(ctx, containerName(name), true)

	if err := m.store.DeleteAgent(ctx, name, purgeHistory); err != nil {
		return fmt.Errorf("lifecycle: delete agent %q: %w", name, err)
	}
	if err := m.coord.DeleteCredential(ctx, name); err != nil {
		m.logger.Warn("failed to delete credential blob", zap.String("agent", name), zap.Error(err))
	}

	m.logger.Info("agent deleted", zap.String("agent", name), zap.Bool("purge_history", purgeHistory))
	return nil
}

// Reconcile runs once at control-plane startup: it discovers containers by
// the "agent-{name}" naming convention this manager always creates under,
// marking any container without a matching state-store row as orphan
// (visible only to admin), and marks any state-store row without a live
// container as stopped.
func (m *Manager) Reconcile(ctx context.Context) error {
	containers, err := m.docker.ListContainers(ctx, nil)
	if err != nil {
		return fmt.Errorf("lifecycle: reconcile: list containers: %w", err)
	}

	seen := make(map[string]bool, len(containers))
	for _, c := range containers {
		agentName := agentNameFromContainerName(c.Name)
		if agentName == "" {
			continue
		}
		seen[agentName] = true

		if _, err := m.store.GetAgent(ctx, agentName); err != nil {
			m.logger.Warn("found container with no state-store row, marking orphan",
				zap.String("agent", agentName), zap.String("container_id", c.ID))
			if err := m.createOrphanRow(ctx, agentName, c.ID); err != nil {
				m.logger.Warn("failed to insert orphan agent row", zap.String("agent", agentName), zap.Error(err))
			}
			continue
		}
	}

	agents, err := m.store.ListAllAgents(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: reconcile: list agents: %w", err)
	}
	for _, agent := range agents {
		if agent.Status == store.AgentStatusRunning && !seen[agent.Name] {
			if err := m.store.UpdateAgentStatus(ctx, agent.Name, store.AgentStatusStopped); err != nil {
				m.logger.Warn("failed to mark orphaned state row stopped", zap.String("agent", agent.Name), zap.Error(err))
			}
		}
	}

	m.logger.Info("reconcile complete", zap.Int("containers_seen", len(seen)), zap.Int("agents_checked", len(agents)))
	return nil
}

// createOrphanRow inserts a state-store row for a container found with no
// matching agent, reading owner and kind back off the labels this manager
// stamps on every container it creates, so a container that predates a
// lost state-store row (or one created outside this control plane using
// the same naming convention) is still visible to an admin instead of
// silently invisible.
func (m *Manager) createOrphanRow(ctx context.Context, agentName, containerID string) error {
	labels, err := m.docker.GetContainerLabels(ctx, containerID)
	if err != nil {
		return fmt.Errorf("lifecycle: read labels for %q: %w", agentName, err)
	}

	kind := store.RuntimeKind(labels[labelKind])
	if kind == "" {
		kind = store.RuntimeKindSandboxedLLM
	}

	return m.store.CreateAgent(ctx, &store.Agent{
		Name:              agentName,
		OwnerID:           labels[labelOwner],
		Status:            store.AgentStatusOrphan,
		Kind:              kind,
		CapabilityProfile: store.CapabilityRestricted,
		APIKeyMode:        store.APIKeyModePlatform,
	})
}

func containerName(agentName string) string {
	return "agent-" + agentName
}

func agentNameFromContainerName(dockerName string) string {
	const prefix = "agent-"
	if len(dockerName) > len(prefix) && dockerName[:len(prefix)] == prefix {
		return dockerName[len(prefix):]
	}
	return ""
}

var errTemplateNotFound = fmt.Errorf("lifecycle: template not found")
