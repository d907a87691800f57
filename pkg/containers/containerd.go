package containers

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
)

const (
	defaultContainerdSocket = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements Runtime for containerd
type ContainerdRuntime struct {
	socketPath string
	client     *containerd.Client
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(socketPath string) *ContainerdRuntime {
	if socketPath == "" {
		socketPath = defaultContainerdSocket
	}
	return &ContainerdRuntime{
		socketPath: socketPath,
	}
}

// Name returns the runtime name
func (c *ContainerdRuntime) Name() string {
	return "containerd"
}

// Available checks if containerd is available
func (c *ContainerdRuntime) Available() bool {
	_, err := os.Stat(c.socketPath)
	return err == nil
}

// connect creates a containerd client if not already connected
func (c *ContainerdRuntime) connect() error {
	if c.client != nil {
		return nil
	}

	client, err := containerd.New(c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create containerd client: %w", err)
	}
	c.client = client
	return nil
}

// ListContainers returns all running containerd containers across the
// common namespaces.
func (c *ContainerdRuntime) ListContainers(ctx context.Context) ([]*Container, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}

	var result []*Container

	for _, ns := range []string{"default", "moby", "k8s.io"} {
		nsCtx := namespaces.WithNamespace(ctx, ns)

		list, err := c.client.Containers(nsCtx)
		if err != nil {
			continue // Skip namespaces we can't access
		}

		for _, ctr := range list {
			info, err := c.getContainer(nsCtx, ctr)
			if err != nil {
				continue // Container might not be running
			}
			result = append(result, info)
		}
	}

	return result, nil
}

// getContainer fetches detailed info for a container
func (c *ContainerdRuntime) getContainer(ctx context.Context, ctr containerd.Container) (*Container, error) {
	info, err := ctr.Info(ctx)
	if err != nil {
		return nil, err
	}

	// No task means no running processes, so nothing to correlate
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, err
	}

	pids, err := c.getTaskPIDs(ctx, task)
	if err != nil {
		pids = nil
	}

	id := ctr.ID()

	// Containerd has no first-class names; Docker and Kubernetes record
	// theirs in labels
	name := shortID(id)
	if dockerName, ok := info.Labels["com.docker.compose.service"]; ok {
		name = dockerName
	} else if k8sName, ok := info.Labels["io.kubernetes.container.name"]; ok {
		name = k8sName
	}

	return &Container{
		ID:      shortID(id),
		FullID:  id,
		Name:    name,
		Image:   info.Image,
		Runtime: "containerd",
		Labels:  info.Labels,
		PIDs:    pids,
	}, nil
}

// getTaskPIDs returns all PIDs for a task
func (c *ContainerdRuntime) getTaskPIDs(ctx context.Context, task containerd.Task) ([]int, error) {
	pids, err := task.Pids(ctx)
	if err != nil {
		return nil, err
	}

	var result []int
	for _, p := range pids {
		result = append(result, int(p.Pid))
	}
	return result, nil
}

// Close closes the containerd client
func (c *ContainerdRuntime) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
