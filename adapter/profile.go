// Package adapter declares the per-language strategy spec'd as C6: how
// to spawn or connect to a backend, the required initialize arguments,
// and the launch/attach envelope shape and quirks of each of the five
// supported backends.
//
// Grounded on dap/adapter.go's Adapter[C LaunchConfig]: the teacher
// parameterizes its DAP *server* over a per-invocation launch config
// type. Profile plays the equivalent per-backend role here, generalized
// to cover both launch and attach and to describe process spawning
// rather than receiving it.
package adapter

import (
	"context"
	"io"
	"os/exec"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// Language tags, per spec.md 3.
type Language string

const (
	Python Language = "py"
	JS     Language = "js"
	Go     Language = "go"
	Rust   Language = "rust"
	Native Language = "native"
)

// LaunchTarget describes the program to launch, the union of fields the
// five backends need; profiles read only the fields relevant to them.
type LaunchTarget struct {
	Program     string
	Packages    []string // delve: build a package instead of a binary
	Args        []string
	Cwd         string
	Env         []string
	BuildFlags  []string // delve
	Mode        string   // delve: "debug", "exec", ...
	StopOnEntry bool
	OutFiles    []string // js: source map search paths

	// Container, when non-empty, routes this launch through C11's
	// container bridge (launch_in_container) instead of spawning the
	// backend on the local host. Runtime is "docker", "podman", or
	// "kubernetes"; Namespace applies to kubernetes only.
	ContainerRuntime   string
	ContainerNamespace string
	ContainerName      string
}

// AttachTarget describes an existing process to attach to.
type AttachTarget struct {
	Host      string // py/js: TCP attach
	Port      int
	ProcessID int // go/native: local attach by pid

	// Container, when non-empty, routes this attach through C11's
	// container bridge (attach_in_container): ProcessID is the pid
	// inside the container rather than on the local host.
	ContainerRuntime   string
	ContainerNamespace string
	ContainerName      string
}

// Profile is the per-language strategy contract.
type Profile interface {
	Language() Language

	// Spawn returns a transport connected to a fresh instance of the
	// backend, ready for the "initialize" handshake. Exactly one of
	// the two Spawn variants is meaningful per call; callers choose
	// based on whether this is a launch or an attach.
	SpawnForLaunch(ctx context.Context, target LaunchTarget, stderrSink WriteCloserlessWriter) (transport.Transport, error)
	SpawnForAttach(ctx context.Context, target AttachTarget) (transport.Transport, error)

	// InitializeArgs builds the "initialize" request arguments.
	InitializeArgs() godap.InitializeRequestArguments

	// BuildLaunchArgs / BuildAttachArgs marshal the target into the
	// backend-specific JSON envelope carried in the launch/attach
	// request's Arguments field.
	BuildLaunchArgs(target LaunchTarget) (any, error)
	BuildAttachArgs(target AttachTarget) (any, error)

	// SupportsStopOnEntry reports whether this backend honours
	// LaunchTarget.StopOnEntry (spec.md 9: py/js only).
	SupportsStopOnEntry() bool

	// ForceConfigurationDone reports whether the broker sends
	// configurationDone even when the adapter's initialize response does
	// not advertise supportsConfigurationDoneRequest, because the backend
	// omits or misreports that capability.
	ForceConfigurationDone() bool

	// SubstitutePath returns a DAP "pathFormat"-compatible mapping
	// applied to source paths reported by the adapter, used when the
	// backend runs inside a container (spec.md 9).
	SubstitutePath() []PathMapping
}

// PathMapping is one entry of a substitutePath table.
type PathMapping struct {
	From string
	To   string
}

// WriteCloserlessWriter is the narrow io.Writer the broker's output
// buffer presents to a spawned child's stderr.
type WriteCloserlessWriter interface {
	Write(p []byte) (n int, err error)
}

// baseInitializeArgs returns the fields common to all five backends per
// spec.md 4.4: client id, locale, 1-based lines/columns, path format
// "path".
func baseInitializeArgs(clientID string) godap.InitializeRequestArguments {
	return godap.InitializeRequestArguments{
		ClientID:                     clientID,
		AdapterID:                    clientID,
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       false,
		SupportsRunInTerminalRequest: false,
	}
}

// ChildStdioCommand builds an *exec.Cmd for a backend invocation with
// the given cwd/env, mirroring the spawn style of os/exec users
// throughout the retrieval pack (tests/workers/docker.go,
// build/git.go): explicit argv, explicit Dir/Env, no shell involved.
func ChildStdioCommand(ctx context.Context, name string, args []string, cwd string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd
	if len(env) > 0 {
		cmd.Env = env
	}
	return cmd
}

// StartDetached starts cmd with its stderr wired to stderrSink, for
// backends whose DAP traffic travels over a TCP listener the backend
// opens itself rather than over the child's own stdio. Unlike
// transport.ChildStdio it builds no pipeTransport over the child's
// stdin/stdout, so there is no reader/writer goroutine pair sitting on
// pipes nothing ever reads or writes, and no transport the caller must
// remember to close independently of the process.
func StartDetached(cmd *exec.Cmd, stderrSink io.Writer) error {
	if stderrSink != nil {
		cmd.Stderr = stderrSink
	}
	if err := cmd.Start(); err != nil {
		return brokererr.New(brokererr.KindRuntimeUnavailable, err, "failed to start debug adapter %s", cmd.Path)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
