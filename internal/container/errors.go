package docker

import (
	"errors"
	"fmt"

	"github.com/docker/docker/errdefs"
)

// The driver never retries; these sentinels let the lifecycle manager (C7)
// decide policy (recreate, surface to caller, fail startup) without
// re-parsing Docker's error strings itself.
var (
	ErrContainerNotFound  = errors.New("docker: container not found")
	ErrContainerExists    = errors.New("docker: container already exists")
	ErrImageMissing       = errors.New("docker: image not found")
	ErrEngineUnavailable  = errors.New("docker: engine unavailable")
)

// classify maps a raw Docker SDK error onto one of the driver's sentinel
// errors using errdefs' typed predicates, falling back to wrapping the
// original error unchanged when no predicate matches.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w: %v", op, ErrContainerNotFound, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%s: %w: %v", op, ErrContainerExists, err)
	case errdefs.IsUnavailable(err), errdefs.IsSystem(err):
		return fmt.Errorf("%s: %w: %v", op, ErrEngineUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
