package docker

import (
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestCPUPercentComputesDeltaRatio(t *testing.T) {
	s := container.StatsResponse{}
	s.CPUStats.CPUUsage.TotalUsage = 2000
	s.PreCPUStats.CPUUsage.TotalUsage = 1000
	s.CPUStats.SystemUsage = 20000
	s.PreCPUStats.SystemUsage = 10000
	s.CPUStats.OnlineCPUs = 2

	got := cpuPercent(s)
	want := (1000.0 / 10000.0) * 2 * 100.0
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCPUPercentZeroOnNoDelta(t *testing.T) {
	s := container.StatsResponse{}
	s.CPUStats.CPUUsage.TotalUsage = 1000
	s.PreCPUStats.CPUUsage.TotalUsage = 1000
	s.CPUStats.SystemUsage = 10000
	s.PreCPUStats.SystemUsage = 5000

	if got := cpuPercent(s); got != 0 {
		t.Fatalf("expected 0 with no cpu delta, got %v", got)
	}
}

func TestCPUPercentFallsBackToPercpuCount(t *testing.T) {
	s := container.StatsResponse{}
	s.CPUStats.CPUUsage.TotalUsage = 2000
	s.PreCPUStats.CPUUsage.TotalUsage = 1000
	s.CPUStats.SystemUsage = 20000
	s.PreCPUStats.SystemUsage = 10000
	s.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2, 3, 4}

	got := cpuPercent(s)
	want := (1000.0 / 10000.0) * 4 * 100.0
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
