// Package events provides subject-naming conventions for the orchestrator's
// cross-replica event bus (internal/events/bus). Subjects are NATS-style
// dot-delimited tokens so the same constants work against both the NATS
// backend and the in-memory backend's wildcard matcher.
package events

// Event types for agent lifecycle transitions (C7).
const (
	AgentCreated      = "agent.created"
	AgentReconciled   = "agent.reconciled"
	AgentStarted      = "agent.started"
	AgentStopped      = "agent.stopped"
	AgentDeleted      = "agent.deleted"
	AgentHealthFailed = "agent.health_failed"
)

// Event types for the activity and execution ledger (C6). These are the
// subjects every replica's WebSocket gateway (internal/wsgateway) subscribes
// to in order to fan out activity rows to connected, permitted clients.
const (
	ActivityRecorded  = "activity.recorded"
	ExecutionStarted  = "execution.started"
	ExecutionFinished = "execution.finished"
	ExecutionCanceled = "execution.canceled"
)

// Event types for the execution queue (C5).
const (
	QueueSlotAcquired = "queue.slot_acquired"
	QueueSlotReleased = "queue.slot_released"
)

// Event types for the scheduler service (C9).
const (
	ScheduleDispatched = "schedule.dispatched"
	ScheduleSkipped    = "schedule.skipped"
)

// BuildAgentSubject scopes a base subject to a single agent, so a socket
// subscribing only to its visible agent set can use subject-level filtering
// instead of re-checking permissions on every inbound event.
func BuildAgentSubject(base, agentName string) string {
	return base + "." + agentName
}

// BuildAgentWildcardSubject creates a wildcard subscription matching every
// agent-scoped subject for a base event type.
func BuildAgentWildcardSubject(base string) string {
	return base + ".*"
}
