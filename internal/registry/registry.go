// Package registry is the Process Registry (C4): a per-sandbox map from
// execution id to a handle on the running sub-process, with signal-send and
// list operations. It lives inside the sandbox image, linked into
// cmd/agentctl, never in the control plane itself.
package registry

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
)

// TerminateOutcome names how a terminate request resolved.
type TerminateOutcome string

const (
	TerminatedGracefully TerminateOutcome = "terminated_gracefully"
	TerminatedForcibly   TerminateOutcome = "terminated_forcibly"
	AlreadyExited        TerminateOutcome = "already_exited"
)

// ErrNotFound is returned when the requested id has no registered process;
// callers (the HTTP handler in cmd/agentctl) translate this to 404, which
// rpcgateway's httpAgentClient treats as a successful idempotent terminate.
var ErrNotFound = fmt.Errorf("registry: execution not found")

// gracePeriod is how long SIGINT gets to work before SIGKILL, per spec.md
// §4.4.
const gracePeriod = 5 * time.Second

// RunningExecution is the public shape of one registered process, returned
// by List.
type RunningExecution struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Command   string    `json:"command"`
}

type entry struct {
	cmd       *exec.Cmd
	command   string
	startedAt time.Time
	done      chan struct{}
}

// Registry maps execution ids to running sub-processes inside one sandbox.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *logger.Logger
}

// New builds an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  log.WithFields(zap.String("component", "process-registry")),
	}
}

// Register records a freshly started sub-process under id. The caller
// (the /task or /chat handler) owns starting cmd; Register only tracks it
// for later termination and listing. The caller calls Unregister once the
// process has been waited on; Unregister closes the entry's done channel.
func (r *Registry) Register(id string, cmd *exec.Cmd, command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &entry{
		cmd:       cmd,
		command:   command,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// Unregister drops id from the registry once its process has exited on its
// own (normal completion), distinct from Terminate's operator-driven path.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		close(e.done)
		delete(r.entries, id)
	}
}

// List returns every currently registered execution.
func (r *Registry) List() []RunningExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunningExecution, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, RunningExecution{ID: id, StartedAt: e.startedAt, Command: e.command})
	}
	return out
}

// Terminate sends SIGINT to the process registered under id; if it is still
// alive after the grace period, SIGKILL follows. It is idempotent: an
// unknown id is reported via ErrNotFound, which the HTTP layer maps to 404
// rather than an error response, matching the queue-release race spec.md
// §4.4 calls out (the control plane may already have released the slot by
// the time this call lands).
func (r *Registry) Terminate(ctx context.Context, id string) (TerminateOutcome, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}

	if e.cmd.ProcessState != nil {
		r.Unregister(id)
		return AlreadyExited, nil
	}

	r.logger.Info("sending SIGINT", zap.String("execution_id", id), zap.Int("pid", e.cmd.Process.Pid))
	if err := e.cmd.Process.Signal(syscall.SIGINT); err != nil {
		r.logger.Warn("SIGINT failed, process may have already exited", zap.String("execution_id", id), zap.Error(err))
	}

	select {
	case <-e.done:
		return TerminatedGracefully, nil
	case <-time.After(gracePeriod):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	r.logger.Warn("grace period elapsed, sending SIGKILL", zap.String("execution_id", id), zap.Int("pid", e.cmd.Process.Pid))
	if err := e.cmd.Process.Kill(); err != nil {
		r.logger.Warn("SIGKILL failed, process may have already exited", zap.String("execution_id", id), zap.Error(err))
	}
	<-e.done
	return TerminatedForcibly, nil
}
