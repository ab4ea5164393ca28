package rpcgateway

import "fmt"

// PermissionDeniedError is returned distinctly from other dispatch failures
// so callers can render a specific "permission_denied" kind carrying both
// ends of the attempted edge, rather than a generic 4xx.
type PermissionDeniedError struct {
	Caller string
	Target string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("rpcgateway: %s may not call %s", e.Caller, e.Target)
}
