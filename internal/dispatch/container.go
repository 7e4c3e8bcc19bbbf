package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"corrector/internal/apperrors"
)

// Container runs stage wrappers inside containers on the local Docker
// daemon, one container per task index, with a bounded number in flight.
// The run's working directory is bind-mounted at the same path so wrapper
// scripts and markers behave exactly as they do locally; the image must
// provide the pipeline tools.
type Container struct {
	client      *client.Client
	imageName   string
	concurrency int
	logger      *slog.Logger
}

// NewContainer creates a container backend for the given image.
func NewContainer(imageName string, concurrency int) (*Container, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Container{
		client:      dockerClient,
		imageName:   imageName,
		concurrency: concurrency,
		logger:      slog.With("component", "dispatch", "backend", "container"),
	}, nil
}

// Dispatch runs one container per task index and blocks until all of them
// have exited. Infrastructure failures (create/start) are errors; task
// exit codes are logged and left to marker verification.
func (c *Container) Dispatch(ctx context.Context, job Job) error {
	if err := c.pullImageIfNeeded(ctx); err != nil {
		return apperrors.Internal("container.pullImage", err)
	}

	tasks := job.taskCount()
	c.logger.Info("Dispatching to containers", "stage", job.Name, "tasks", tasks, "image", c.imageName)

	sem := make(chan struct{}, c.concurrency)
	errCh := make(chan error, tasks)
	var wg sync.WaitGroup

	for i := 1; i <= tasks; i++ {
		wg.Add(1)
		go func(task int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := c.runTask(ctx, job, task); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	return drainTaskErrors(errCh)
}

// drainTaskErrors joins every collected task error so no infrastructure
// failure is silently discarded.
func drainTaskErrors(errCh chan error) error {
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runTask creates, starts, and waits for one task container.
func (c *Container) runTask(ctx context.Context, job Job, task int) error {
	command := job.Script
	if job.arrayed() {
		command = fmt.Sprintf("%s %d", job.Script, task)
	}

	containerConfig := &container.Config{
		Image:      c.imageName,
		Cmd:        []string{"/bin/sh", "-c", command},
		WorkingDir: job.Dir,
		Labels: map[string]string{
			"stage.name": job.Name,
			"stage.task": fmt.Sprintf("%d", task),
			"managed-by": "correct-pipeline",
		},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: job.Dir,
				Target: job.Dir,
			},
		},
	}

	name := fmt.Sprintf("cor-%s-%d", job.Name, task)
	resp, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return apperrors.Internal("container.create", err)
	}
	defer c.removeContainer(resp.ID)

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return apperrors.Internal("container.start", err)
	}

	exitCode, err := c.waitForExit(ctx, resp.ID)
	if err != nil {
		return apperrors.Internal("container.wait", err)
	}
	if exitCode != 0 {
		c.logger.Warn("Task container exited nonzero", "stage", job.Name, "task", task, "exitCode", exitCode)
	}
	return nil
}

func (c *Container) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := c.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (c *Container) pullImageIfNeeded(ctx context.Context) error {
	_, err := c.client.ImageInspect(ctx, c.imageName)
	if err == nil {
		return nil
	}

	reader, err := c.client.ImagePull(ctx, c.imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *Container) removeContainer(containerID string) {
	_ = c.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
}

// Ready verifies the Docker daemon is reachable.
func (c *Container) Ready(ctx context.Context) error {
	_, err := c.client.Ping(ctx)
	return err
}

// Close releases the docker client.
func (c *Container) Close() error {
	return c.client.Close()
}

var _ Backend = (*Container)(nil)
