package lifecycle

import (
	"sort"
	"strings"

	docker "github.com/kandev/orchestrator/internal/container"
	"github.com/kandev/orchestrator/internal/store"
)

const bytesPerMB = 1024 * 1024

// ConfigDiff names exactly the fields spec.md step 3 enumerates: memory,
// cpu, the env subset relevant to API-key mode, mount set, and capability
// profile. There is no catch-all deep-equal here on purpose — every
// divergence this struct can report is one a log line can name.
type ConfigDiff struct {
	Memory            bool
	CPU               bool
	APIKeyEnv         bool
	MountSet          bool
	CapabilityProfile bool
}

// Any reports whether any tracked field diverged, i.e. whether Start must
// recreate the container rather than merely starting it.
func (d ConfigDiff) Any() bool {
	return d.Memory || d.CPU || d.APIKeyEnv || d.MountSet || d.CapabilityProfile
}

// diffConfig compares an agent's declared configuration against what is
// actually running. observed is nil when there is no container to compare
// against, in which case every field is reported as diverged so the caller
// always falls through to a fresh create.
func diffConfig(declared *store.Agent, declaredMounts []docker.MountConfig, apiKeyEnvVar string, observed *docker.ObservedConfig) ConfigDiff {
	if observed == nil {
		return ConfigDiff{Memory: true, CPU: true, APIKeyEnv: true, MountSet: true, CapabilityProfile: true}
	}

	wantMemory := int64(declared.MemoryMB) * bytesPerMB
	wantCPUQuota := int64(declared.CPU * 100000)

	return ConfigDiff{
		Memory:            observed.Memory != wantMemory,
		CPU:               observed.CPUQuota != wantCPUQuota,
		APIKeyEnv:         !hasEnvVar(observed.Env, apiKeyEnvVar),
		MountSet:          !sameMountSet(observed.Mounts, declaredMounts),
		CapabilityProfile: observed.CapabilityProfile != docker.CapabilityProfile(declared.CapabilityProfile),
	}
}

func hasEnvVar(env []string, name string) bool {
	if name == "" {
		return true
	}
	prefix := name + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

func sameMountSet(a, b []docker.MountConfig) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(m docker.MountConfig) string { return m.Source + "->" + m.Target }
	as := make([]string, len(a))
	bs := make([]string, len(b))
	for i, m := range a {
		as[i] = key(m)
	}
	for i, m := range b {
		bs[i] = key(m)
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
