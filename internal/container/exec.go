package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"
)

// ExecInContainer runs argv inside a running container and streams its
// combined stdout/stderr to out. It blocks until the exec process exits and
// returns its exit code. The caller supplies ctx cancellation to bound how
// long it waits; there is no separate timeout here.
func (c *Client) ExecInContainer(ctx context.Context, containerID string, argv []string, out io.Writer) (int, error) {
	c.logger.Info("Executing in container",
		zap.String("container_id", containerID),
		zap.Strings("argv", argv),
	)

	created, err := c.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, classify("exec create on "+containerID, err)
	}

	attached, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, classify("exec attach on "+containerID, err)
	}
	defer attached.Close()

	c.demultiplexStream(attached.Reader, out)

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, classify("exec inspect on "+containerID, err)
	}
	if inspect.Running {
		return -1, fmt.Errorf("exec on %s: process still running after stream closed", containerID)
	}

	c.logger.Info("Exec finished",
		zap.String("container_id", containerID),
		zap.Int("exit_code", inspect.ExitCode),
	)
	return inspect.ExitCode, nil
}
