package docker

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// ObservedConfig is the subset of a running container's actual configuration
// the lifecycle manager diffs against an agent's declared configuration to
// decide whether a recreate is required. It intentionally mirrors
// ContainerConfig's fields rather than exposing the raw Docker inspect
// payload, so the diff stays a field-by-field comparison instead of a
// catch-all deep-equal against an SDK type that changes shape across
// Docker versions.
type ObservedConfig struct {
	Memory            int64
	CPUQuota          int64
	CapabilityProfile CapabilityProfile
	Env               []string
	Mounts            []MountConfig
	Labels            map[string]string
}

// InspectConfig reads back a container's actual resource limits, capability
// preset, environment, and mounts for comparison against declared config.
func (c *Client) InspectConfig(ctx context.Context, containerID string) (*ObservedConfig, error) {
	inspect, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, classify("inspect config for "+containerID, err)
	}

	oc := &ObservedConfig{
		Labels: inspect.Config.Labels,
	}
	if inspect.Config != nil {
		oc.Env = inspect.Config.Env
	}
	if inspect.HostConfig != nil {
		oc.Memory = inspect.HostConfig.Memory
		oc.CPUQuota = inspect.HostConfig.CPUQuota
		oc.CapabilityProfile = capabilityProfileFromCapAdd(inspect.HostConfig.CapAdd)
	}
	for _, m := range inspect.Mounts {
		oc.Mounts = append(oc.Mounts, MountConfig{
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: !m.RW,
		})
	}

	c.logger.Debug("Inspected observed config", zap.String("container_id", containerID))
	return oc, nil
}

// capabilityProfileFromCapAdd reverses applyCapabilityPreset: it infers
// which named preset produced a CapAdd list. Both lists are sorted before
// comparing, so element order does not matter. A container created outside
// this driver's preset discipline reports an empty profile, which always forces a recreate — the
// conservative choice, since routing every creation path through a known
// preset is the invariant the lifecycle manager depends on.
func capabilityProfileFromCapAdd(capAdd []string) CapabilityProfile {
	sorted := append([]string{}, capAdd...)
	sort.Strings(sorted)

	restricted := append([]string{}, restrictedCapAdd...)
	sort.Strings(restricted)
	if equalStrings(sorted, restricted) {
		return CapabilityRestricted
	}

	full := append([]string{}, fullCapAdd...)
	sort.Strings(full)
	if equalStrings(sorted, full) {
		return CapabilityFull
	}

	return ""
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
