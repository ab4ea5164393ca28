package docker

import (
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
)

func TestApplyCapabilityPresetRestricted(t *testing.T) {
	hostCfg := &container.HostConfig{}
	applyCapabilityPreset(hostCfg, CapabilityRestricted)

	if len(hostCfg.CapDrop) != 1 || hostCfg.CapDrop[0] != "ALL" {
		t.Fatalf("expected CapDrop=[ALL], got %v", hostCfg.CapDrop)
	}
	if len(hostCfg.CapAdd) != 1 || hostCfg.CapAdd[0] != "NET_BIND_SERVICE" {
		t.Fatalf("restricted preset should only add NET_BIND_SERVICE, got %v", hostCfg.CapAdd)
	}
}

func TestApplyCapabilityPresetFull(t *testing.T) {
	hostCfg := &container.HostConfig{}
	applyCapabilityPreset(hostCfg, CapabilityFull)

	want := map[string]bool{"NET_BIND_SERVICE": true, "SETGID": true, "SETUID": true, "CHOWN": true, "SYS_CHROOT": true, "AUDIT_WRITE": true}
	if len(hostCfg.CapAdd) != len(want) {
		t.Fatalf("expected %d capabilities, got %d: %v", len(want), len(hostCfg.CapAdd), hostCfg.CapAdd)
	}
	for _, cap := range hostCfg.CapAdd {
		if !want[cap] {
			t.Fatalf("unexpected capability %q in full preset", cap)
		}
	}
}

func TestApplyCapabilityPresetUnknownFallsBackToRestricted(t *testing.T) {
	hostCfg := &container.HostConfig{}
	applyCapabilityPreset(hostCfg, CapabilityProfile("bogus"))

	if len(hostCfg.CapAdd) != 1 || hostCfg.CapAdd[0] != "NET_BIND_SERVICE" {
		t.Fatalf("unknown profile should default to restricted, got %v", hostCfg.CapAdd)
	}
}

func TestClassifyMapsNotFound(t *testing.T) {
	err := classify("inspect container x", errdefs.NotFound(errors.New("no such container")))
	if !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}

func TestClassifyMapsConflict(t *testing.T) {
	err := classify("create container x", errdefs.Conflict(errors.New("name already in use")))
	if !errors.Is(err, ErrContainerExists) {
		t.Fatalf("expected ErrContainerExists, got %v", err)
	}
}

func TestClassifyMapsUnavailable(t *testing.T) {
	err := classify("ping", errdefs.Unavailable(errors.New("connection refused")))
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestClassifyPassesThroughUnmatchedErrors(t *testing.T) {
	base := errors.New("boom")
	err := classify("op", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
	if errors.Is(err, ErrContainerNotFound) || errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("unmatched error should not classify as a sentinel, got %v", err)
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
