package lifecycle

import (
	"fmt"

	"github.com/kandev/orchestrator/internal/store"
)

// AgentState mirrors store.AgentStatus but lives in this package's own
// vocabulary so the transition table below reads as the state machine it
// enforces rather than a set of database column values.
type AgentState string

const (
	StateAbsent     AgentState = "absent"
	StateCreated    AgentState = "created"
	StateRunning    AgentState = "running"
	StateStopped    AgentState = "stopped"
	StateRecreating AgentState = "recreating"
	StateOrphan     AgentState = "orphan"
	StateGone       AgentState = "gone"
)

func fromAgentStatus(s store.AgentStatus) AgentState {
	switch s {
	case store.AgentStatusCreated:
		return StateCreated
	case store.AgentStatusRunning:
		return StateRunning
	case store.AgentStatusStopped:
		return StateStopped
	case store.AgentStatusRecreating:
		return StateRecreating
	case store.AgentStatusOrphan:
		return StateOrphan
	case store.AgentStatusGone:
		return StateGone
	default:
		return StateAbsent
	}
}

// transitions enumerates every legal (from, to) edge. recreating is internal:
// callers never request it directly, it is entered and left within a single
// Start call, so it never needs an edge originating from StateAbsent.
var transitions = map[AgentState]map[AgentState]bool{
	StateAbsent:     {StateCreated: true},
	StateCreated:    {StateRunning: true, StateRecreating: true, StateGone: true},
	StateRunning:    {StateStopped: true, StateRecreating: true, StateGone: true},
	StateStopped:    {StateRunning: true, StateRecreating: true, StateGone: true},
	StateRecreating: {StateRunning: true, StateStopped: true, StateGone: true},
	StateOrphan:     {StateStopped: true, StateGone: true},
}

// validateTransition returns an error unless (from, to) is a legal edge in
// the table above. Manager.Start and Manager.Stop call this before writing,
// so an invalid start or stop fails before any side effect runs; the other
// status writes (create, delete, reconcile) do not consult it.
func validateTransition(from, to AgentState) error {
	if from == to {
		return nil
	}
	if edges, ok := transitions[from]; ok && edges[to] {
		return nil
	}
	return fmt.Errorf("lifecycle: illegal transition %s -> %s", from, to)
}
