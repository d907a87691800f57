package containers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	defaultDockerSocket = "/var/run/docker.sock"
)

// DockerRuntime implements Runtime for Docker
type DockerRuntime struct {
	socketPath string
	client     *client.Client
}

// NewDockerRuntime creates a new Docker runtime client
func NewDockerRuntime(socketPath string) *DockerRuntime {
	if socketPath == "" {
		socketPath = defaultDockerSocket
	}
	return &DockerRuntime{
		socketPath: socketPath,
	}
}

// Name returns the runtime name
func (d *DockerRuntime) Name() string {
	return "docker"
}

// Available checks if Docker is available
func (d *DockerRuntime) Available() bool {
	_, err := os.Stat(d.socketPath)
	return err == nil
}

// connect creates a Docker client if not already connected
func (d *DockerRuntime) connect() error {
	if d.client != nil {
		return nil
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+d.socketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	d.client = cli
	return nil
}

// ListContainers returns all running Docker containers
func (d *DockerRuntime) ListContainers(ctx context.Context) ([]*Container, error) {
	if err := d.connect(); err != nil {
		return nil, err
	}

	list, err := d.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var result []*Container
	for _, c := range list {
		info, err := d.getContainer(ctx, c.ID)
		if err != nil {
			continue // Skip containers we can't inspect
		}
		result = append(result, info)
	}

	return result, nil
}

// getContainer fetches detailed info for a container
func (d *DockerRuntime) getContainer(ctx context.Context, containerID string) (*Container, error) {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	// Docker top reports host PIDs, which is what membership needs
	pids, err := d.getContainerPIDs(ctx, containerID)
	if err != nil {
		pids = nil // Continue without PIDs; the cgroup criterion still applies
	}

	name := strings.TrimPrefix(inspect.Name, "/")

	return &Container{
		ID:      shortID(containerID),
		FullID:  containerID,
		Name:    name,
		Image:   inspect.Config.Image,
		Runtime: "docker",
		Labels:  inspect.Config.Labels,
		PIDs:    pids,
	}, nil
}

// getContainerPIDs returns all PIDs running in a container
func (d *DockerRuntime) getContainerPIDs(ctx context.Context, containerID string) ([]int, error) {
	top, err := d.client.ContainerTop(ctx, containerID, []string{})
	if err != nil {
		return nil, err
	}

	return parseTopPIDs(top.Titles, top.Processes)
}

// parseTopPIDs extracts the PID column from a ps-style title/row table,
// the shape both the Docker and Podman top endpoints return.
func parseTopPIDs(titles []string, processes [][]string) ([]int, error) {
	pidCol := -1
	for i, title := range titles {
		if title == "PID" {
			pidCol = i
			break
		}
	}
	if pidCol == -1 {
		return nil, fmt.Errorf("PID column not found in container top output")
	}

	var pids []int
	for _, proc := range processes {
		if pidCol >= len(proc) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(proc[pidCol]))
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}

	return pids, nil
}

// Close closes the Docker client
func (d *DockerRuntime) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
