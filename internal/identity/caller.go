// Package identity defines the tagged-sum caller identity shared across the
// orchestrator core: every request into the state store, the queue, or the
// RPC gateway is attributed to exactly one of a user, an agent, or the system
// itself, never to a bare string scope.
package identity

import "fmt"

// Kind discriminates the variant of a Caller.
type Kind int

const (
	// KindUser identifies a human operator acting through the API, identified
	// by their user ID and whether they hold the admin flag.
	KindUser Kind = iota
	// KindAgent identifies another agent acting through the RPC gateway,
	// identified by its agent name.
	KindAgent
	// KindSystem identifies the orchestrator core acting on its own behalf
	// (reconciliation, scheduled dispatch, retry sweeps).
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAgent:
		return "agent"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Caller is the tagged-sum identity of whoever initiated an operation.
// Construct one with User, Agent, or System; never build the struct literal
// directly, since the zero value does not name a valid kind.
type Caller struct {
	kind      Kind
	userID    string
	isAdmin   bool
	agentName string
}

// User builds a Caller representing an authenticated human operator.
func User(userID string, isAdmin bool) Caller {
	return Caller{kind: KindUser, userID: userID, isAdmin: isAdmin}
}

// Agent builds a Caller representing another agent making an RPC call.
func Agent(agentName string) Caller {
	return Caller{kind: KindAgent, agentName: agentName}
}

// System builds a Caller representing the orchestrator core itself.
func System() Caller {
	return Caller{kind: KindSystem}
}

// Kind reports which variant this Caller holds.
func (c Caller) Kind() Kind {
	return c.kind
}

// UserID returns the user ID. Panics if Kind() is not KindUser.
func (c Caller) UserID() string {
	if c.kind != KindUser {
		panic(fmt.Sprintf("identity: UserID called on a %s caller", c.kind))
	}
	return c.userID
}

// IsAdmin reports whether a user caller holds the admin flag. Panics if
// Kind() is not KindUser.
func (c Caller) IsAdmin() bool {
	if c.kind != KindUser {
		panic(fmt.Sprintf("identity: IsAdmin called on a %s caller", c.kind))
	}
	return c.isAdmin
}

// AgentName returns the calling agent's name. Panics if Kind() is not
// KindAgent.
func (c Caller) AgentName() string {
	if c.kind != KindAgent {
		panic(fmt.Sprintf("identity: AgentName called on a %s caller", c.kind))
	}
	return c.agentName
}

// String renders a human-readable identity, safe to use in logs regardless
// of kind.
func (c Caller) String() string {
	switch c.kind {
	case KindUser:
		if c.isAdmin {
			return fmt.Sprintf("user:%s(admin)", c.userID)
		}
		return fmt.Sprintf("user:%s", c.userID)
	case KindAgent:
		return fmt.Sprintf("agent:%s", c.agentName)
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}
