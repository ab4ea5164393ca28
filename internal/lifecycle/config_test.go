package lifecycle

import (
	"testing"

	docker "github.com/kandev/orchestrator/internal/container"
	"github.com/kandev/orchestrator/internal/store"
)

func TestDiffConfigNoObservedForcesRecreate(t *testing.T) {
	declared := &store.Agent{MemoryMB: 512, CPU: 1}
	diff := diffConfig(declared, nil, apiKeyEnvVar, nil)
	if !diff.Any() {
		t.Fatalf("expected a nil observed config to force recreate on every field")
	}
}

func TestDiffConfigMatchingFieldsProduceNoDiff(t *testing.T) {
	declared := &store.Agent{MemoryMB: 512, CPU: 1, CapabilityProfile: store.CapabilityRestricted}
	mounts := []docker.MountConfig{{Source: "/host/a", Target: "/workspace"}}
	observed := &docker.ObservedConfig{
		Memory:            512 * bytesPerMB,
		CPUQuota:          100000,
		CapabilityProfile: docker.CapabilityRestricted,
		Env:               []string{apiKeyEnvVar + "=alpha"},
		Mounts:            mounts,
	}
	diff := diffConfig(declared, mounts, apiKeyEnvVar, observed)
	if diff.Any() {
		t.Fatalf("expected no divergence, got %+v", diff)
	}
}

func TestDiffConfigDetectsMemoryDivergence(t *testing.T) {
	declared := &store.Agent{MemoryMB: 1024, CPU: 1}
	observed := &docker.ObservedConfig{Memory: 512 * bytesPerMB, CPUQuota: 100000}
	diff := diffConfig(declared, nil, "", observed)
	if !diff.Memory {
		t.Fatalf("expected memory divergence to be detected")
	}
}

func TestDiffConfigDetectsMissingAPIKeyEnv(t *testing.T) {
	declared := &store.Agent{CPU: 1}
	observed := &docker.ObservedConfig{CPUQuota: 100000, Env: []string{"OTHER=value"}}
	diff := diffConfig(declared, nil, apiKeyEnvVar, observed)
	if !diff.APIKeyEnv {
		t.Fatalf("expected missing api key env var to be detected")
	}
}

func TestDiffConfigDetectsMountSetChange(t *testing.T) {
	declared := &store.Agent{CPU: 1}
	observed := &docker.ObservedConfig{
		CPUQuota: 100000,
		Mounts:   []docker.MountConfig{{Source: "/host/old", Target: "/workspace"}},
	}
	declaredMounts := []docker.MountConfig{{Source: "/host/new", Target: "/workspace"}}
	diff := diffConfig(declared, declaredMounts, "", observed)
	if !diff.MountSet {
		t.Fatalf("expected mount set divergence to be detected")
	}
}
