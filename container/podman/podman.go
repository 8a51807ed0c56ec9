// Package podman is the container.Backend for the Podman CLI. Podman's
// CLI is Docker-compatible for exec/inspect/ps, so this reuses
// container.CLIRuntime with the binary swapped.
package podman

import "github.com/polybugger/polybugger-mcp/container"

// New returns a container.Backend driven by the `podman` binary.
func New() container.Backend {
	return container.CLIRuntime{Bin: "podman", RuntimeName: container.Podman}
}
