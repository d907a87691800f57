// Package containers queries container runtimes for running containers
// and answers process-membership questions about them.
package containers

import (
	"context"
	"fmt"
	"strings"

	"github.com/minerops/stratum-counter/pkg/procs"
)

// Registry aggregates container runtimes behind a single listing and
// membership interface. It holds state for exactly one snapshot; nothing
// is cached across invocations.
type Registry struct {
	runtimes []Runtime
	pidSets  map[string]map[int]struct{} // container ID -> host PID set
}

// NewRegistry creates a registry over the given runtimes
func NewRegistry(runtimes ...Runtime) *Registry {
	return &Registry{
		runtimes: runtimes,
		pidSets:  make(map[string]map[int]struct{}),
	}
}

// DetectRegistry creates a registry with the available runtimes, Docker
// first. A non-empty name restricts the registry to that single runtime.
// Returns ErrUnavailable when nothing is reachable.
func DetectRegistry(name string) (*Registry, error) {
	all := []Runtime{
		NewDockerRuntime(""),
		NewContainerdRuntime(""),
		NewPodmanRuntime(""),
		NewCrioRuntime(""),
	}

	var candidates []Runtime
	for _, rt := range all {
		if name != "" && rt.Name() != name {
			continue
		}
		if rt.Available() {
			candidates = append(candidates, rt)
		}
	}

	if name != "" && !knownRuntime(all, name) {
		return nil, fmt.Errorf("unknown container runtime %q", name)
	}
	if len(candidates) == 0 {
		if name != "" {
			return nil, fmt.Errorf("%w: %s socket not found", ErrUnavailable, name)
		}
		return nil, fmt.Errorf("%w: no runtime socket found", ErrUnavailable)
	}

	return NewRegistry(candidates...), nil
}

func knownRuntime(runtimes []Runtime, name string) bool {
	for _, rt := range runtimes {
		if rt.Name() == name {
			return true
		}
	}
	return false
}

// ListRunningContainers queries all runtimes live and returns their
// running containers. Runtimes are queried in order, with earlier
// runtimes winning duplicate container IDs (Docker before containerd for
// better names). Fails with ErrUnavailable when every runtime errors out.
func (r *Registry) ListRunningContainers(ctx context.Context) ([]*Container, error) {
	r.pidSets = make(map[string]map[int]struct{})

	var (
		result  []*Container
		seen    = make(map[string]bool)
		lastErr error
		queried int
	)

	for _, rt := range r.runtimes {
		list, err := rt.ListContainers(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", rt.Name(), err)
			continue
		}
		queried++

		for _, c := range list {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			result = append(result, c)

			set := make(map[int]struct{}, len(c.PIDs))
			for _, pid := range c.PIDs {
				set[pid] = struct{}{}
			}
			r.pidSets[c.ID] = set
		}
	}

	if queried == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
		}
		return nil, fmt.Errorf("%w: no runtime configured", ErrUnavailable)
	}

	return result, nil
}

// PropagateToChildren extends each container's PID set to all descendant
// processes, given a PID -> parent PID map from the same snapshot.
// Runtimes like CRI-O and Podman only report the container's main
// process; workers forked inside the container are found this way.
func (r *Registry) PropagateToChildren(parents map[int]int) {
	children := make(map[int][]int, len(parents))
	for pid, ppid := range parents {
		children[ppid] = append(children[ppid], pid)
	}

	for _, set := range r.pidSets {
		var roots []int
		for pid := range set {
			roots = append(roots, pid)
		}
		for _, pid := range roots {
			propagate(pid, set, children)
		}
	}
}

func propagate(pid int, set map[int]struct{}, children map[int][]int) {
	for _, child := range children[pid] {
		if _, ok := set[child]; ok {
			continue
		}
		set[child] = struct{}{}
		propagate(child, set, children)
	}
}

// Contains reports whether the process belongs to the container. The PID
// set (main process plus descendants) is checked first; the cgroup path
// is the fallback criterion, catching processes the runtime's top
// endpoint missed.
func (r *Registry) Contains(c *Container, p procs.Process) bool {
	if set, ok := r.pidSets[c.ID]; ok {
		if _, ok := set[p.PID]; ok {
			return true
		}
	}

	// Runtimes embed the full container ID in the cgroup path, e.g.
	// /system.slice/docker-<id>.scope or /docker/<id>
	if c.FullID != "" && p.Cgroup != "" && strings.Contains(p.Cgroup, c.FullID) {
		return true
	}

	return false
}

// RuntimeNames returns the names of the registry's runtimes
func (r *Registry) RuntimeNames() []string {
	names := make([]string, len(r.runtimes))
	for i, rt := range r.runtimes {
		names[i] = rt.Name()
	}
	return names
}
