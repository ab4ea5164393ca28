package docker

import (
	"github.com/docker/docker/api/types/container"
)

// CapabilityProfile names one of the two container capability presets every
// creation path must route through; spec forbids ad-hoc capability lists.
type CapabilityProfile string

const (
	// CapabilityRestricted drops everything and adds back only what a
	// sandboxed LLM agent needs to bind its own control port.
	CapabilityRestricted CapabilityProfile = "restricted"
	// CapabilityFull extends CapabilityRestricted with the capabilities
	// apt-like package installs and interactive SSH sessions require.
	CapabilityFull CapabilityProfile = "full"
)

var restrictedCapAdd = []string{"NET_BIND_SERVICE"}

var fullCapAdd = append(append([]string{}, restrictedCapAdd...),
	"SETGID", "SETUID", "CHOWN", "SYS_CHROOT", "AUDIT_WRITE")

// applyCapabilityPreset fills in the capability-related fields of a host
// config for the named preset. It is the single place in the driver that
// ever sets CapDrop/CapAdd/SecurityOpt, so no creation path can bypass the
// preset discipline by constructing its own capability list.
func applyCapabilityPreset(hostCfg *container.HostConfig, profile CapabilityProfile) {
	hostCfg.CapDrop = []string{"ALL"}
	hostCfg.SecurityOpt = []string{"apparmor=docker-default"}
	hostCfg.Tmpfs = map[string]string{"/tmp": "noexec,nosuid,size=64m"}

	switch profile {
	case CapabilityFull:
		hostCfg.CapAdd = fullCapAdd
	default:
		hostCfg.CapAdd = restrictedCapAdd
	}
}
