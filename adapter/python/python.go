// Package python implements the adapter.Profile for debugpy, per
// spec.md 4.4's launch/attach table: launch shape
// {program,args,cwd,env,console,justMyCode}, attach shape {host,port},
// reverse request runInTerminal ignored, stopOnEntry supported.
package python

import (
	"context"
	"fmt"
	"time"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// Profile speaks DAP to debugpy over a TCP socket debugpy opens with
// `--listen`, for both the launch and attach cases; the only difference
// is who started the debuggee process.
type Profile struct {
	// Interpreter is the python executable to invoke for a launch,
	// defaulting to "python3".
	Interpreter string
	// ConnectTimeout bounds how long Spawn waits for debugpy's
	// listener to come up before dialing it.
	ConnectTimeout time.Duration
}

func New() *Profile {
	return &Profile{Interpreter: "python3", ConnectTimeout: 5 * time.Second}
}

func (p *Profile) Language() adapter.Language { return adapter.Python }

func (p *Profile) SpawnForLaunch(ctx context.Context, target adapter.LaunchTarget, stderrSink adapter.WriteCloserlessWriter) (transport.Transport, error) {
	port, err := adapter.FreePort()
	if err != nil {
		return nil, err
	}

	args := []string{
		"-m", "debugpy",
		"--listen", fmt.Sprintf("127.0.0.1:%d", port),
		"--wait-for-client",
		target.Program,
	}
	args = append(args, target.Args...)

	interp := p.Interpreter
	if interp == "" {
		interp = "python3"
	}

	cmd := adapter.ChildStdioCommand(ctx, interp, args, target.Cwd, target.Env)
	if err := adapter.StartDetached(cmd, stderrSink); err != nil {
		return nil, err
	}

	return p.dial(ctx, port)
}

func (p *Profile) SpawnForAttach(ctx context.Context, target adapter.AttachTarget) (transport.Transport, error) {
	host := target.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return transport.TCP(ctx, transport.NetDialer{}, fmt.Sprintf("%s:%d", host, target.Port))
}

func (p *Profile) dial(ctx context.Context, port int) (transport.Transport, error) {
	timeout := p.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return transport.TCP(dctx, transport.NetDialer{}, fmt.Sprintf("127.0.0.1:%d", port))
}

func (p *Profile) InitializeArgs() godap.InitializeRequestArguments {
	return godap.InitializeRequestArguments{
		ClientID:                     "polybugger-mcp",
		AdapterID:                    "debugpy",
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsRunInTerminalRequest: false,
	}
}

type launchArgs struct {
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	Cwd         string   `json:"cwd,omitempty"`
	Env         []string `json:"env,omitempty"`
	Console     string   `json:"console"`
	JustMyCode  bool      `json:"justMyCode"`
	StopOnEntry bool      `json:"stopOnEntry,omitempty"`
}

func (p *Profile) BuildLaunchArgs(target adapter.LaunchTarget) (any, error) {
	return launchArgs{
		Program:     target.Program,
		Args:        target.Args,
		Cwd:         target.Cwd,
		Env:         target.Env,
		Console:     "internalConsole",
		JustMyCode:  true,
		StopOnEntry: target.StopOnEntry,
	}, nil
}

type attachArgs struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (p *Profile) BuildAttachArgs(target adapter.AttachTarget) (any, error) {
	host := target.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return attachArgs{Host: host, Port: target.Port}, nil
}

func (p *Profile) SupportsStopOnEntry() bool   { return true }
func (p *Profile) ForceConfigurationDone() bool { return false }
func (p *Profile) SubstitutePath() []adapter.PathMapping { return nil }
