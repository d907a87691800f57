package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultCrioSocket = "/var/run/crio/crio.sock"
)

// CrioRuntime implements Runtime for CRI-O
type CrioRuntime struct {
	socketPath string
	client     *http.Client
}

// NewCrioRuntime creates a new CRI-O runtime client
func NewCrioRuntime(socketPath string) *CrioRuntime {
	if socketPath == "" {
		socketPath = defaultCrioSocket
	}
	return &CrioRuntime{
		socketPath: socketPath,
	}
}

// Name returns the runtime name
func (c *CrioRuntime) Name() string {
	return "cri-o"
}

// Available checks if CRI-O is available
func (c *CrioRuntime) Available() bool {
	_, err := os.Stat(c.socketPath)
	return err == nil
}

// connect creates an HTTP client for the CRI-O socket
func (c *CrioRuntime) connect() {
	if c.client != nil {
		return
	}

	c.client = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.Dial("unix", c.socketPath)
			},
		},
		Timeout: 10 * time.Second,
	}
}

// crioContainer represents a container from CRI-O's API
type crioContainer struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Labels      map[string]string `json:"labels"`
	Pid         int               `json:"pid"`
	Status      string            `json:"status"`
	Annotations map[string]string `json:"annotations"`
}

// crioContainerList represents the list response
type crioContainerList struct {
	Containers []crioContainer `json:"containers"`
}

// ListContainers returns all running CRI-O containers
func (c *CrioRuntime) ListContainers(ctx context.Context) ([]*Container, error) {
	c.connect()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://crio/containers", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list CRI-O containers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CRI-O returned status %d", resp.StatusCode)
	}

	var list crioContainerList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode CRI-O response: %w", err)
	}

	var result []*Container
	for _, ctr := range list.Containers {
		if ctr.Status != "running" {
			continue
		}

		// Get name from annotations (Kubernetes pod name) or use container name
		name := ctr.Name
		if podName, ok := ctr.Annotations["io.kubernetes.pod.name"]; ok {
			name = podName
		}

		// CRI-O only reports the main PID; descendants come from the
		// registry's child propagation
		result = append(result, &Container{
			ID:      shortID(ctr.ID),
			FullID:  ctr.ID,
			Name:    name,
			Image:   ctr.Image,
			Runtime: "cri-o",
			Labels:  ctr.Labels,
			PIDs:    []int{ctr.Pid},
		})
	}

	return result, nil
}

// Close is a no-op for CRI-O (HTTP client doesn't need closing)
func (c *CrioRuntime) Close() error {
	return nil
}
