package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

var defaultPodmanSockets = []string{
	"/run/podman/podman.sock",
	"/var/run/podman/podman.sock",
}

// PodmanRuntime implements Runtime for Podman using its REST API.
// It can manage multiple sockets (root + user sockets).
type PodmanRuntime struct {
	sockets []string
	clients map[string]*http.Client
}

// NewPodmanRuntime creates a new Podman runtime client
func NewPodmanRuntime(socketPath string) *PodmanRuntime {
	var sockets []string

	if socketPath != "" {
		sockets = append(sockets, socketPath)
	} else {
		// Check root sockets
		for _, path := range defaultPodmanSockets {
			if _, err := os.Stat(path); err == nil {
				sockets = append(sockets, path)
				break // Only need one root socket
			}
		}

		sockets = append(sockets, findUserPodmanSockets()...)
	}

	return &PodmanRuntime{
		sockets: sockets,
		clients: make(map[string]*http.Client),
	}
}

// findUserPodmanSockets scans /run/user/ for Podman sockets
func findUserPodmanSockets() []string {
	var sockets []string

	entries, err := os.ReadDir("/run/user")
	if err != nil {
		return sockets
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		socketPath := fmt.Sprintf("/run/user/%s/podman/podman.sock", entry.Name())
		if _, err := os.Stat(socketPath); err == nil {
			sockets = append(sockets, socketPath)
		}
	}

	return sockets
}

// Name returns the runtime name
func (p *PodmanRuntime) Name() string {
	return "podman"
}

// Available checks if Podman is available
func (p *PodmanRuntime) Available() bool {
	return len(p.sockets) > 0
}

// getClient returns an HTTP client for the given socket
func (p *PodmanRuntime) getClient(socketPath string) *http.Client {
	if client, ok := p.clients[socketPath]; ok {
		return client
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
		Timeout: 10 * time.Second,
	}
	p.clients[socketPath] = client
	return client
}

// podmanContainer represents a container from Podman's API
type podmanContainer struct {
	ID    string `json:"Id"`
	State string `json:"State"`
}

// podmanInspect represents the inspect response
type podmanInspect struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Pid int `json:"Pid"`
	} `json:"State"`
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	Image string `json:"Image"`
}

// ListContainers returns all running Podman containers from all sockets
func (p *PodmanRuntime) ListContainers(ctx context.Context) ([]*Container, error) {
	var result []*Container
	seenIDs := make(map[string]bool)

	for _, socketPath := range p.sockets {
		list, err := p.listContainersFromSocket(ctx, socketPath)
		if err != nil {
			continue // Try other sockets
		}
		for _, c := range list {
			if !seenIDs[c.FullID] {
				seenIDs[c.FullID] = true
				result = append(result, c)
			}
		}
	}

	return result, nil
}

// listContainersFromSocket lists containers from a specific socket
func (p *PodmanRuntime) listContainersFromSocket(ctx context.Context, socketPath string) ([]*Container, error) {
	var list []podmanContainer
	if err := p.getJSON(ctx, socketPath, "http://podman/v4.0.0/libpod/containers/json?all=false", &list); err != nil {
		return nil, fmt.Errorf("failed to list Podman containers: %w", err)
	}

	var result []*Container
	for _, c := range list {
		if c.State != "running" {
			continue
		}

		info, err := p.getContainerFromSocket(ctx, socketPath, c.ID)
		if err != nil {
			continue
		}
		result = append(result, info)
	}

	return result, nil
}

// getContainerFromSocket fetches detailed info for a container from a specific socket
func (p *PodmanRuntime) getContainerFromSocket(ctx context.Context, socketPath, containerID string) (*Container, error) {
	var inspect podmanInspect
	url := fmt.Sprintf("http://podman/v4.0.0/libpod/containers/%s/json", containerID)
	if err := p.getJSON(ctx, socketPath, url, &inspect); err != nil {
		return nil, err
	}

	// Inspect's State.Pid is the host PID; the top endpoint reports
	// namespace PIDs which don't match the host process table
	pids := []int{inspect.State.Pid}

	return &Container{
		ID:      shortID(containerID),
		FullID:  containerID,
		Name:    strings.TrimPrefix(inspect.Name, "/"),
		Image:   inspect.Image,
		Runtime: "podman",
		Labels:  inspect.Config.Labels,
		PIDs:    pids,
	}, nil
}

// getJSON performs a GET against a Podman socket and decodes the response
func (p *PodmanRuntime) getJSON(ctx context.Context, socketPath, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.getClient(socketPath).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Podman returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Close is a no-op for Podman
func (p *PodmanRuntime) Close() error {
	return nil
}
