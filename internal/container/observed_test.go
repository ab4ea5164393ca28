package docker

import "testing"

func TestCapabilityProfileFromCapAddRestricted(t *testing.T) {
	if got := capabilityProfileFromCapAdd([]string{"NET_BIND_SERVICE"}); got != CapabilityRestricted {
		t.Fatalf("expected restricted, got %q", got)
	}
}

func TestCapabilityProfileFromCapAddFull(t *testing.T) {
	got := capabilityProfileFromCapAdd([]string{"CHOWN", "SYS_CHROOT", "SETUID", "SETGID", "AUDIT_WRITE", "NET_BIND_SERVICE"})
	if got != CapabilityFull {
		t.Fatalf("expected full, got %q", got)
	}
}

func TestCapabilityProfileFromCapAddUnknown(t *testing.T) {
	if got := capabilityProfileFromCapAdd([]string{"SYS_ADMIN"}); got != CapabilityProfile("") {
		t.Fatalf("expected empty profile for ad-hoc capability list, got %q", got)
	}
}
