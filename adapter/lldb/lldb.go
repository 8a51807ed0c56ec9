// Package lldb implements the adapter.Profile for LLDB's DAP server
// (lldb-dap), covering Rust/C/C++, per spec.md 4.4: launch shape
// {program,args,cwd,env}, attach shape {pid}, no restart, exception
// filters empty, no stopOnEntry.
package lldb

import (
	"context"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

type Profile struct {
	// LLDBDapPath is the lldb-dap binary, defaulting to "lldb-dap".
	LLDBDapPath string
}

func New() *Profile {
	return &Profile{LLDBDapPath: "lldb-dap"}
}

func (p *Profile) Language() adapter.Language { return adapter.Rust }

func (p *Profile) SpawnForLaunch(ctx context.Context, target adapter.LaunchTarget, stderrSink adapter.WriteCloserlessWriter) (transport.Transport, error) {
	bin := p.LLDBDapPath
	if bin == "" {
		bin = "lldb-dap"
	}
	cmd := adapter.ChildStdioCommand(ctx, bin, nil, target.Cwd, target.Env)
	return transport.ChildStdio(cmd, stderrSink)
}

func (p *Profile) SpawnForAttach(ctx context.Context, target adapter.AttachTarget) (transport.Transport, error) {
	bin := p.LLDBDapPath
	if bin == "" {
		bin = "lldb-dap"
	}
	cmd := adapter.ChildStdioCommand(ctx, bin, nil, "", nil)
	return transport.ChildStdio(cmd, nil)
}

func (p *Profile) InitializeArgs() godap.InitializeRequestArguments {
	return godap.InitializeRequestArguments{
		ClientID:        "polybugger-mcp",
		AdapterID:       "lldb-dap",
		Locale:          "en-US",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	}
}

type launchArgs struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Env     []string `json:"env,omitempty"`
}

func (p *Profile) BuildLaunchArgs(target adapter.LaunchTarget) (any, error) {
	return launchArgs{
		Program: target.Program,
		Args:    target.Args,
		Cwd:     target.Cwd,
		Env:     target.Env,
	}, nil
}

type attachArgs struct {
	PID int `json:"pid"`
}

func (p *Profile) BuildAttachArgs(target adapter.AttachTarget) (any, error) {
	return attachArgs{PID: target.ProcessID}, nil
}

func (p *Profile) SupportsStopOnEntry() bool             { return false }
func (p *Profile) ForceConfigurationDone() bool          { return false }
func (p *Profile) SubstitutePath() []adapter.PathMapping { return nil }
