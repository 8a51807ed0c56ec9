// Package docker is the container.Backend for the Docker CLI.
package docker

import "github.com/polybugger/polybugger-mcp/container"

// New returns a container.Backend driven by the `docker` binary.
func New() container.Backend {
	return container.CLIRuntime{Bin: "docker", RuntimeName: container.Docker}
}
