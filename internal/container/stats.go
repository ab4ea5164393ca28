package docker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"
)

// ContainerStats is the {cpu, mem, net, uptime} snapshot Stats returns.
type ContainerStats struct {
	CPUPercent    float64
	MemoryUsage   uint64
	MemoryLimit   uint64
	NetworkRxBytes uint64
	NetworkTxBytes uint64
	Uptime        time.Duration
}

// Stats takes a single resource-usage snapshot of a running container.
// ContainerStatsOneShot (rather than the streaming ContainerStats call)
// matches this driver's pull-based polling model: callers that want a
// live feed poll Stats on an interval instead of holding a stream open
// per agent.
func (c *Client) Stats(ctx context.Context, containerID string) (*ContainerStats, error) {
	resp, err := c.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return nil, classify("stats for "+containerID, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, classify("decode stats for "+containerID, err)
	}

	info, err := c.GetContainerInfo(ctx, containerID)
	if err != nil {
		return nil, err
	}

	var uptime time.Duration
	if !info.StartedAt.IsZero() {
		uptime = time.Since(info.StartedAt)
	}

	var rx, tx uint64
	for _, n := range raw.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}

	stats := &ContainerStats{
		CPUPercent:     cpuPercent(raw),
		MemoryUsage:    raw.MemoryStats.Usage,
		MemoryLimit:    raw.MemoryStats.Limit,
		NetworkRxBytes: rx,
		NetworkTxBytes: tx,
		Uptime:         uptime,
	}

	c.logger.Debug("Container stats",
		zap.String("container_id", containerID),
		zap.Float64("cpu_percent", stats.CPUPercent),
		zap.Uint64("memory_usage", stats.MemoryUsage),
	)
	return stats, nil
}

// cpuPercent mirrors the delta calculation the Docker CLI uses for `docker
// stats` on Linux: CPU usage since the previous sample, scaled by the
// number of online CPUs, against wall-clock time elapsed in the same
// window.
func cpuPercent(s container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(s.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / systemDelta) * onlineCPUs * 100.0
}
