package containers

import (
	"context"
	"errors"
)

// ErrUnavailable indicates no container runtime could be reached. It is
// fatal for the invocation: correlation without container data would
// produce a misleading host-only report.
var ErrUnavailable = errors.New("container runtime unavailable")

// Container holds the runtime-reported metadata for one running
// container. PIDs is the membership criterion: the container's processes
// as host PIDs, extended to descendants by the Registry.
type Container struct {
	ID      string            // container ID, truncated to 12 chars
	FullID  string            // full runtime-assigned ID
	Name    string            // human-assigned name
	Image   string            // image name
	Runtime string            // runtime type (e.g. "docker", "containerd")
	Labels  map[string]string // container labels
	PIDs    []int             // host PIDs running in this container
}

// Runtime is the interface that container runtimes must implement
type Runtime interface {
	// Name returns the runtime name (e.g. "docker", "containerd")
	Name() string

	// Available checks if the runtime is available on the system
	Available() bool

	// ListContainers returns all running containers
	ListContainers(ctx context.Context) ([]*Container, error)
}

// shortID truncates a full container ID to the conventional 12 chars.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
