// Package container implements C11: the container bridge that lets a
// session launch or attach into a process living inside a Docker,
// Podman, or Kubernetes-managed container rather than on the local
// host.
//
// Grounded on driver/kubernetes/driver.go's Dial (invoking a runtime's
// exec machinery to obtain a net.Conn to a running container) and on
// the teacher's general os/exec-shells-out-to-a-CLI posture for the
// docker/podman backends (commands/build.go invokes buildx/buildctl the
// same way: build an *exec.Cmd, wire its stdio, run it). The
// Kubernetes backend's SPDY exec stream is written from
// k8s.io/client-go's documented remotecommand API rather than copied
// from a pack source file: driver/kubernetes/driver.go calls into an
// execconn package whose implementation is not present anywhere under
// _examples/docker-buildx (only its call site and podchooser.go are),
// so only the calling convention — dial, get a net.Conn/stream pair,
// hand it to the DAP transport — is grounded in the pack.
package container

import (
	"context"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// Runtime names a container runtime, per spec.md 4.10.
type Runtime string

const (
	Docker     Runtime = "docker"
	Podman     Runtime = "podman"
	Kubernetes Runtime = "kubernetes"
)

// Target identifies the container (and, for Kubernetes, the namespace
// and pod) an operation addresses.
type Target struct {
	Runtime   Runtime
	Namespace string // kubernetes only
	Container string // container name/id, or kubernetes pod name

	// Language is the language list_processes is scanning for, used to
	// fill each ProcessInfo.IsTargetLanguageCandidate via
	// IsLanguageCandidate. Zero value yields every candidate false.
	Language adapter.Language
}

// ProcessInfo is one row of a list_processes result.
type ProcessInfo struct {
	PID                       int
	Command                   string
	IsTargetLanguageCandidate bool
}

// Backend is the per-runtime strategy contract, implemented by
// container/docker, container/podman, and container/kubernetes.
type Backend interface {
	Runtime() Runtime

	// ListProcesses invokes the runtime CLI/API to list processes
	// running inside target with their command lines.
	ListProcesses(ctx context.Context, target Target) ([]ProcessInfo, error)

	// AttachInContainer starts a language-specific debug stub inside
	// the container against pid and returns a DAP transport connected to
	// the stub's listen port, plus the Forward that owns the connection.
	// The kubernetes backend forwards a freshly allocated local port to
	// the stub; docker and podman relay through an exec'd socat tunnel
	// over stdio and allocate no local port. No backend copies the stub
	// into the container: its command runs with what the container
	// already has.
	AttachInContainer(ctx context.Context, target Target, pid int, lang adapter.Language) (transport.Transport, *Forward, error)

	// LaunchInContainer spawns the runtime's exec/run machinery to run
	// the language's debug-adapter-as-stub command against program
	// inside the container, with its stdio wired as a DAP transport.
	LaunchInContainer(ctx context.Context, target Target, program string, args []string, lang adapter.Language) (transport.Transport, error)
}

// Forward is an owned port forward. Sessions own their Forward and tear
// it down on terminate, per spec.md 4.10. LocalPort is the local end of
// the forward for kubernetes; for docker and podman it holds the
// container-side port the stub listens on.
type Forward struct {
	LocalPort int
	Close     func() error
}

// candidateCommandSubstrings names interpreter/runtime binaries whose
// presence in a process command line marks it as a plausible attach
// target for the given language, used by ListProcesses implementations
// to fill IsTargetLanguageCandidate.
var candidateCommandSubstrings = map[adapter.Language][]string{
	adapter.Python: {"python", "python3"},
	adapter.JS:     {"node"},
	adapter.Go:     {}, // Go binaries have arbitrary names; never auto-flagged
	adapter.Rust:   {},
	adapter.Native:  {},
}

// IsLanguageCandidate reports whether command plausibly runs a process
// of lang, for the languages where the running binary's name is a
// reliable signal (interpreted languages). Compiled languages always
// report false; the caller chose the language out of band.
func IsLanguageCandidate(lang adapter.Language, command string) bool {
	for _, sub := range candidateCommandSubstrings[lang] {
		if containsWord(command, sub) {
			return true
		}
	}
	return false
}

func containsWord(command, word string) bool {
	for i := 0; i+len(word) <= len(command); i++ {
		if command[i:i+len(word)] == word {
			return true
		}
	}
	return false
}
