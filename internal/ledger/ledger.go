// Package ledger is the Activity & Execution Ledger (C6): it writes the
// append-mostly stream of execution and activity rows, links them, and
// broadcasts every activity write to subscribers across API replicas.
//
// Load-bearing ordering rule: for scheduled and agent-originated
// executions, the execution row is inserted FIRST and the triggering
// activity row is inserted SECOND with its link pointing at that
// execution — so the dashboard timeline renders a bar and attaches arrows
// to it without a follow-up lookup. Every method on Ledger that accepts
// both an execution and an activity enforces this sequencing; there is no
// path through this package that can write an activity referencing an
// execution id before that execution row exists.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/kandev/orchestrator/internal/events"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/store"
)

// Ledger wraps the state store and broadcasts every write over the event
// bus so all API replicas' WebSocket gateways observe the same stream.
type Ledger struct {
	store *store.Store
	bus   bus.EventBus
}

// New wires a ledger atop the state store and the cross-replica event bus.
func New(st *store.Store, eventBus bus.EventBus) *Ledger {
	return &Ledger{store: st, bus: eventBus}
}

// StartExecution inserts a queued execution row and broadcasts its start.
func (l *Ledger) StartExecution(ctx context.Context, e *store.Execution) (int64, error) {
	id, err := l.store.CreateExecution(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("ledger: start execution: %w", err)
	}
	l.publish(ctx, events.ExecutionStarted, e.AgentName, map[string]any{
		"execution_id": id,
		"agent":        e.AgentName,
		"trigger_kind": e.TriggerKind,
	})
	return id, nil
}

// SealExecution writes an execution's terminal state and broadcasts it.
func (l *Ledger) SealExecution(ctx context.Context, id int64, agentName string, status store.ExecutionStatus,
	endedAt time.Time, cost float64, tokensUsed int64, transcript []store.TranscriptEntry, errMsg *string) error {
	if err := l.store.SealExecution(ctx, id, status, endedAt, cost, tokensUsed, transcript, errMsg); err != nil {
		return fmt.Errorf("ledger: seal execution: %w", err)
	}
	subject := events.ExecutionFinished
	if status == store.ExecutionCancelled {
		subject = events.ExecutionCanceled
	}
	l.publish(ctx, subject, agentName, map[string]any{
		"execution_id": id,
		"agent":        agentName,
		"status":       status,
		"cost":         cost,
		"tokens_used":  tokensUsed,
	})
	return nil
}

// RecordActivityStart inserts a started activity row, optionally linked to
// a parent activity and/or an execution, and broadcasts it. Callers that
// need the execution-before-activity ordering pass an executionID obtained
// from a prior StartExecution call in the same logical operation.
func (l *Ledger) RecordActivityStart(ctx context.Context, agentName string, activityType store.ActivityType,
	triggeredBy store.TriggerKind, details store.TypedDetails, parentActivityID, relatedExecutionID *int64) (*store.Activity, error) {
	raw, err := store.MarshalDetails(details)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal details: %w", err)
	}
	a := &store.Activity{
		AgentName:          agentName,
		Type:               activityType,
		State:              store.ActivityStarted,
		StartedAt:          time.Now().UTC(),
		ParentActivityID:   parentActivityID,
		RelatedExecutionID: relatedExecutionID,
		TriggeredByKind:    triggeredBy,
		Details:            raw,
	}
	if _, err := l.store.InsertActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("ledger: record activity start: %w", err)
	}
	l.publishActivity(ctx, a)
	return a, nil
}

// CompleteActivity transitions an activity to a terminal state and
// broadcasts the update.
func (l *Ledger) CompleteActivity(ctx context.Context, id int64, agentName string, state store.ActivityState) error {
	completedAt := time.Now().UTC()
	if err := l.store.CompleteActivity(ctx, id, state, completedAt); err != nil {
		return fmt.Errorf("ledger: complete activity: %w", err)
	}
	l.publish(ctx, events.ActivityRecorded, agentName, map[string]any{
		"activity_id": id,
		"agent":       agentName,
		"state":       state,
		"completed":   true,
	})
	return nil
}

// StartCollaboration records the agent_collaboration activity the RPC
// gateway (C8) writes before forwarding an inter-agent call. The activity
// stays in the started state until the target responds or errors.
func (l *Ledger) StartCollaboration(ctx context.Context, source identity.Caller, sourceAgent, targetAgent, mode string) (*store.Activity, error) {
	details := store.CollaborationDetails{SourceAgent: sourceAgent, TargetAgent: targetAgent, Mode: mode}
	trigger := store.TriggerAgent
	if source.Kind() == identity.KindUser {
		trigger = store.TriggerUser
	} else if source.Kind() == identity.KindSystem {
		trigger = store.TriggerSystem
	}
	return l.RecordActivityStart(ctx, sourceAgent, store.ActivityAgentCollaboration, trigger, details, nil, nil)
}

// RecordTerminalActivity inserts an activity that is already in a terminal
// state at creation time, for point-in-time outcome records (a schedule's
// end, a cancellation) rather than a start/complete pair.
func (l *Ledger) RecordTerminalActivity(ctx context.Context, agentName string, activityType store.ActivityType,
	triggeredBy store.TriggerKind, details store.TypedDetails, parentActivityID, relatedExecutionID *int64, state store.ActivityState) (*store.Activity, error) {
	raw, err := store.MarshalDetails(details)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal details: %w", err)
	}
	now := time.Now().UTC()
	a := &store.Activity{
		AgentName:          agentName,
		Type:               activityType,
		State:              state,
		StartedAt:          now,
		CompletedAt:        &now,
		ParentActivityID:   parentActivityID,
		RelatedExecutionID: relatedExecutionID,
		TriggeredByKind:    triggeredBy,
		Details:            raw,
	}
	if _, err := l.store.InsertActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("ledger: record terminal activity: %w", err)
	}
	l.publishActivity(ctx, a)
	return a, nil
}

func (l *Ledger) publishActivity(ctx context.Context, a *store.Activity) {
	l.publish(ctx, events.ActivityRecorded, a.AgentName, map[string]any{
		"activity_id":  a.ID,
		"agent":        a.AgentName,
		"type":         a.Type,
		"state":        a.State,
		"triggered_by": a.TriggeredByKind,
		"parent_id":    a.ParentActivityID,
		"execution_id": a.RelatedExecutionID,
	})
}

// publish broadcasts on an agent-scoped subject so a socket subscribed only
// to its visible agent set filters at the subject level rather than
// re-checking permissions on every inbound event. Publish errors are
// logged by the bus implementation itself; a broadcast failure must never
// fail the underlying write, which has already committed.
func (l *Ledger) publish(ctx context.Context, baseSubject, agentName string, data map[string]any) {
	if l.bus == nil {
		return
	}
	subject := events.BuildAgentSubject(baseSubject, agentName)
	_ = l.bus.Publish(ctx, subject, bus.NewEvent(baseSubject, "ledger", data))
}
