// Package delve implements the adapter.Profile for Delve's "dap" mode,
// per spec.md 4.4: launch shape {program|packages,args,cwd,buildFlags,
// mode}, attach shape {mode:"local",processId}, requires substitutePath
// for module paths, no stopOnEntry.
package delve

import (
	"context"
	"fmt"
	"time"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

type Profile struct {
	// DlvPath is the dlv binary, defaulting to "dlv".
	DlvPath string
	// ModulePath, if set, is substituted for the container/build root
	// so source paths delve reports resolve on the host (spec.md 9).
	ModulePath     string
	HostModuleRoot string
	ConnectTimeout time.Duration
}

func New() *Profile {
	return &Profile{DlvPath: "dlv", ConnectTimeout: 5 * time.Second}
}

func (p *Profile) Language() adapter.Language { return adapter.Go }

func (p *Profile) SpawnForLaunch(ctx context.Context, target adapter.LaunchTarget, stderrSink adapter.WriteCloserlessWriter) (transport.Transport, error) {
	port, err := adapter.FreePort()
	if err != nil {
		return nil, err
	}

	dlv := p.DlvPath
	if dlv == "" {
		dlv = "dlv"
	}
	args := []string{"dap", "--listen", fmt.Sprintf("127.0.0.1:%d", port)}

	cmd := adapter.ChildStdioCommand(ctx, dlv, args, target.Cwd, target.Env)
	if err := adapter.StartDetached(cmd, stderrSink); err != nil {
		return nil, err
	}

	timeout := p.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return transport.TCP(dctx, transport.NetDialer{}, fmt.Sprintf("127.0.0.1:%d", port))
}

func (p *Profile) SpawnForAttach(ctx context.Context, target adapter.AttachTarget) (transport.Transport, error) {
	port, err := adapter.FreePort()
	if err != nil {
		return nil, err
	}

	dlv := p.DlvPath
	if dlv == "" {
		dlv = "dlv"
	}
	args := []string{"dap", "--listen", fmt.Sprintf("127.0.0.1:%d", port)}
	cmd := adapter.ChildStdioCommand(ctx, dlv, args, "", nil)
	if err := adapter.StartDetached(cmd, nil); err != nil {
		return nil, err
	}

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
		ClientID:        "polybugger-mcp",
		AdapterID:       "delve",
		Locale:          "en-US",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	}
}

type launchArgs struct {
	Program    string   `json:"program,omitempty"`
	Packages   []string `json:"packages,omitempty"`
	Args       []string `json:"args,omitempty"`
	Cwd        string   `json:"cwd,omitempty"`
	BuildFlags string   `json:"buildFlags,omitempty"`
	Mode       string   `json:"mode,omitempty"`
}

func (p *Profile) BuildLaunchArgs(target adapter.LaunchTarget) (any, error) {
	mode := target.Mode
	if mode == "" {
		mode = "debug"
	}
	var buildFlags string
	if len(target.BuildFlags) > 0 {
		for i, f := range target.BuildFlags {
			if i > 0 {
				buildFlags += " "
			}
			buildFlags += f
		}
	}
	return launchArgs{
		Program:    target.Program,
		Packages:   target.Packages,
		Args:       target.Args,
		Cwd:        target.Cwd,
		BuildFlags: buildFlags,
		Mode:       mode,
	}, nil
}

type attachArgs struct {
	Mode      string `json:"mode"`
	ProcessID int    `json:"processId"`
}

func (p *Profile) BuildAttachArgs(target adapter.AttachTarget) (any, error) {
	return attachArgs{Mode: "local", ProcessID: target.ProcessID}, nil
}

func (p *Profile) SupportsStopOnEntry() bool    { return false }
func (p *Profile) ForceConfigurationDone() bool { return true }

func (p *Profile) SubstitutePath() []adapter.PathMapping {
	if p.ModulePath == "" || p.HostModuleRoot == "" {
		return nil
	}
	return []adapter.PathMapping{{From: p.ModulePath, To: p.HostModuleRoot}}
}
