// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// AgentLaunchTimeout is the maximum time to wait for an agent's
	// container to start and its credential/skill/system-prompt injection
	// to complete.
	AgentLaunchTimeout = 6 * time.Minute

	// TaskDeleteTimeout is the maximum time to wait for agent deletion,
	// including container stop and removal.
	TaskDeleteTimeout = 2 * time.Minute

	// PromptTimeout is the default dispatch timeout when a caller does not
	// override one. Agent turns can take a long time (complex tool use,
	// large refactors), so this is set to a generous value.
	PromptTimeout = 60 * time.Minute
)
