// Package rpcgateway is the Inter-Agent RPC Gateway (C8): it admits or
// denies one agent's call into another's, dispatches through the Execution
// Queue (C5) for conversation-carrying sequential calls, bypasses it for
// stateless parallel calls, and brackets every dispatch with a
// collaboration activity in the ledger (C6) so the dashboard never shows a
// perpetually running arrow.
package rpcgateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/constants"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/ledger"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/store"
)

// Mode names the three dispatch shapes spec.md §4.8 defines.
type Mode string

const (
	ModeSequential    Mode = "sequential"
	ModeParallel      Mode = "parallel"
	ModeParallelAsync Mode = "parallel_async"
)

// Overrides carries the optional per-call adjustments a caller may request.
type Overrides struct {
	Model              string
	ToolAllowlist      []string
	SystemPromptAppend string
	Timeout            time.Duration
}

// Request is one inter-agent (or user-to-agent) call into the gateway.
type Request struct {
	Caller      identity.Caller
	TargetAgent string
	Message     string
	Mode        Mode
	Overrides   Overrides
	// ExecutionID is the durable execution row id the caller already created
	// for this dispatch, if any. dispatchParallel forwards it to the target
	// so TerminateExecution can later address the sub-process directly; it
	// is nil for dispatchSequential, which addresses by VolatileID instead.
	ExecutionID *int64
}

// Result is the outcome of a dispatch. Busy is set only for sequential mode
// admission failures; it is a structured outcome, never an error, per
// spec.md §4.8's "not a crash, not a retry" requirement.
type Result struct {
	Busy       bool
	Holder     string
	RetryAfter time.Duration
	Transcript string
	Cost       float64
	TokensUsed int64
}

// Gateway wires the admission checks and dispatch paths together.
type Gateway struct {
	store  *store.Store
	queue  *queue.Queue
	ledger *ledger.Ledger
	client AgentClient
	logger *logger.Logger
}

// New wires a gateway atop the state store's permission tables, the
// execution queue, the activity ledger, and an agent-facing HTTP client.
func New(st *store.Store, q *queue.Queue, l *ledger.Ledger, client AgentClient, log *logger.Logger) *Gateway {
	return &Gateway{store: st, queue: q, ledger: l, client: client, logger: log.WithFields(zap.String("component", "rpc-gateway"))}
}

// Dispatch runs the admission algorithm and, on success, the dispatch path
// for the requested mode.
func (g *Gateway) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := g.admit(ctx, req.Caller, req.TargetAgent); err != nil {
		return nil, err
	}
	if req.Overrides.Timeout == 0 {
		req.Overrides.Timeout = constants.PromptTimeout
	}

	switch req.Mode {
	case ModeSequential:
		return g.dispatchSequential(ctx, req)
	case ModeParallel, ModeParallelAsync:
		return g.dispatchParallel(ctx, req)
	default:
		return nil, fmt.Errorf("rpcgateway: unknown dispatch mode %q", req.Mode)
	}
}

// admit implements spec.md §4.8's three-branch algorithm: system bypasses
// entirely, an agent may always call itself and otherwise needs an edge in
// the permission table, and a user needs ownership, a share grant, or the
// admin flag.
func (g *Gateway) admit(ctx context.Context, caller identity.Caller, target string) error {
	switch caller.Kind() {
	case identity.KindSystem:
		return nil
	case identity.KindAgent:
		source := caller.AgentName()
		if source == target {
			return nil
		}
		ok, err := g.store.HasPermission(ctx, source, target)
		if err != nil {
			return fmt.Errorf("rpcgateway: check permission %s -> %s: %w", source, target, err)
		}
		if !ok {
			return &PermissionDeniedError{Caller: source, Target: target}
		}
		return nil
	case identity.KindUser:
		ok, err := g.store.CanAccess(ctx, target, caller.UserID(), caller.IsAdmin())
		if err != nil {
			return fmt.Errorf("rpcgateway: check access %s -> %s: %w", caller.UserID(), target, err)
		}
		if !ok {
			return &PermissionDeniedError{Caller: caller.String(), Target: target}
		}
		return nil
	default:
		return fmt.Errorf("rpcgateway: unknown caller kind %v", caller.Kind())
	}
}

// dispatchSequential submits to the queue, returns a structured busy result
// on contention, and on admission calls /chat, always releasing the slot
// and always closing the collaboration activity whether the call succeeds
// or fails.
func (g *Gateway) dispatchSequential(ctx context.Context, req Request) (*Result, error) {
	admitResult, err := g.queue.Submit(ctx, req.TargetAgent, req.Caller, req.Overrides.Timeout)
	if err != nil {
		return nil, fmt.Errorf("rpcgateway: queue submit for %q: %w", req.TargetAgent, err)
	}
	if !admitResult.Admitted {
		return &Result{Busy: true, Holder: admitResult.Holder, RetryAfter: admitResult.RetryAfter}, nil
	}

	sourceAgent := callerSourceName(req.Caller)
	activity, actErr := g.ledger.StartCollaboration(ctx, req.Caller, sourceAgent, req.TargetAgent, string(ModeSequential))
	if actErr != nil {
		g.logger.Warn("failed to record collaboration start", zap.Error(actErr))
	}

	chatResp, chatErr := g.client.Chat(ctx, req.TargetAgent, ChatRequest{
		Message:            req.Message,
		SourceAgent:        sourceAgent,
		Model:              req.Overrides.Model,
		ToolAllowlist:      req.Overrides.ToolAllowlist,
		SystemPromptAppend: req.Overrides.SystemPromptAppend,
		VolatileID:         admitResult.VolatileID,
	}, req.Overrides.Timeout)

	if completeErr := g.queue.Complete(ctx, req.TargetAgent, admitResult.VolatileID); completeErr != nil && !errors.Is(completeErr, queue.ErrNotHolder) {
		g.logger.Warn("failed to release queue slot", zap.String("agent", req.TargetAgent), zap.Error(completeErr))
	}

	g.closeCollaboration(ctx, activity, sourceAgent, chatErr)

	if chatErr != nil {
		return nil, fmt.Errorf("rpcgateway: chat dispatch to %q: %w", req.TargetAgent, chatErr)
	}
	return &Result{Transcript: chatResp.Transcript, Cost: chatResp.Cost, TokensUsed: chatResp.TokensUsed}, nil
}

// dispatchParallel never touches the queue: the target stamps its own
// execution row with triggered_by=agent from the source-agent header.
func (g *Gateway) dispatchParallel(ctx context.Context, req Request) (*Result, error) {
	sourceAgent := callerSourceName(req.Caller)
	activity, actErr := g.ledger.StartCollaboration(ctx, req.Caller, sourceAgent, req.TargetAgent, string(req.Mode))
	if actErr != nil {
		g.logger.Warn("failed to record collaboration start", zap.Error(actErr))
	}

	taskReq := TaskRequest{Message: req.Message, SourceAgent: sourceAgent}
	if req.ExecutionID != nil {
		taskReq.ID = ExecutionTaskID(*req.ExecutionID)
	}
	taskErr := g.client.Task(ctx, req.TargetAgent, taskReq)
	g.closeCollaboration(ctx, activity, sourceAgent, taskErr)

	if taskErr != nil {
		return nil, fmt.Errorf("rpcgateway: task dispatch to %q: %w", req.TargetAgent, taskErr)
	}
	return &Result{}, nil
}

func (g *Gateway) closeCollaboration(ctx context.Context, activity *store.Activity, sourceAgent string, dispatchErr error) {
	if activity == nil {
		return
	}
	state := store.ActivityCompleted
	if dispatchErr != nil {
		state = store.ActivityFailed
	}
	if err := g.ledger.CompleteActivity(ctx, activity.ID, sourceAgent, state); err != nil {
		g.logger.Warn("failed to close collaboration activity", zap.Int64("activity_id", activity.ID), zap.Error(err))
	}
}

func callerSourceName(caller identity.Caller) string {
	switch caller.Kind() {
	case identity.KindAgent:
		return caller.AgentName()
	case identity.KindUser:
		return "user:" + caller.UserID()
	default:
		return "system"
	}
}
