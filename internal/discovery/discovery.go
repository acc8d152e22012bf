// Package discovery lists the containers currently running on the node and
// their top-level process IDs via the Docker Engine API.
package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Container is the minimal discovery result the monitor loops need: a
// stable ID, a human-readable name, and its top-level PIDs.
type Container struct {
	ID   string
	Name string
	PIDs []int
}

// Discoverer lists currently running containers. Satisfied by
// DockerDiscoverer in production and by a fake in tests.
type Discoverer interface {
	List(ctx context.Context) ([]Container, error)
}

// DockerDiscoverer lists containers via the Docker Engine API.
type DockerDiscoverer struct {
	cli *client.Client
}

// NewDockerDiscoverer connects to the Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST, DOCKER_CERT_PATH, etc).
func NewDockerDiscoverer() (*DockerDiscoverer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerDiscoverer{cli: cli}, nil
}

// List returns every running container with its top-level PIDs.
func (d *DockerDiscoverer) List(ctx context.Context) ([]Container, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]Container, 0, len(summaries))
	for _, c := range summaries {
		pids, err := d.topPIDs(ctx, c.ID)
		if err != nil {
			// A container that exited between list and top is not a
			// failure of discovery itself; skip it this cycle.
			continue
		}
		out = append(out, Container{
			ID:   c.ID,
			Name: strings.TrimPrefix(firstOrEmpty(c.Names), "/"),
			PIDs: pids,
		})
	}
	return out, nil
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (d *DockerDiscoverer) topPIDs(ctx context.Context, id string) ([]int, error) {
	top, err := d.cli.ContainerTop(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	pidCol := -1
	for i, title := range top.Titles {
		if strings.EqualFold(title, "PID") {
			pidCol = i
			break
		}
	}
	if pidCol < 0 {
		return nil, nil
	}
	pids := make([]int, 0, len(top.Processes))
	for _, row := range top.Processes {
		if pidCol >= len(row) {
			continue
		}
		if pid, err := strconv.Atoi(row[pidCol]); err == nil {
			pids = append(pids, pid)
		}
	}
	return filterAlive(pids), nil
}
