package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// ResolveAMQPPort finds a running container by name and returns the
// published host port bound to containerPort/tcp (e.g. "5672"), for local
// and development bootstrapping when the broker runs as a Docker
// container. Not used on the hot publish/consume path; a deployed
// environment supplies the broker URL directly via configuration.
func ResolveAMQPPort(ctx context.Context, containerName string, containerPort string) (uint16, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return 0, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}

	for _, ctr := range containers {
		if !matchesName(ctr.Names, containerName) {
			continue
		}
		inspect, err := cli.ContainerInspect(ctx, ctr.ID)
		if err != nil {
			return 0, fmt.Errorf("inspect container %s: %w", containerName, err)
		}
		for port, bindings := range inspect.NetworkSettings.Ports {
			if port.Proto() != "tcp" || port.Port() != containerPort {
				continue
			}
			if len(bindings) == 0 {
				continue
			}
			hostPort, err := strconv.Atoi(bindings[0].HostPort)
			if err != nil {
				return 0, fmt.Errorf("parse host port %q: %w", bindings[0].HostPort, err)
			}
			return uint16(hostPort), nil
		}
		return 0, fmt.Errorf("container %s has no published binding for %s/tcp", containerName, containerPort)
	}
	return 0, fmt.Errorf("container not found: %s", containerName)
}

func matchesName(names []string, want string) bool {
	for _, n := range names {
		if n == "/"+want || n == want {
			return true
		}
	}
	return false
}
