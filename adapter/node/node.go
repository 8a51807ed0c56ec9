// Package node implements the adapter.Profile for the Node inspector
// bridge (js-debug), per spec.md 4.4: launch shape
// {program,args,cwd,env}, attach shape {port}, outFiles for source
// maps, smartStep on by default.
package node

import (
	"context"
	"fmt"
	"time"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

type Profile struct {
	// DebugServerPath is the js-debug debugServer entry point, invoked
	// as `node <DebugServerPath> <port>`.
	DebugServerPath string
	ConnectTimeout  time.Duration
}

func New(debugServerPath string) *Profile {
	return &Profile{DebugServerPath: debugServerPath, ConnectTimeout: 5 * time.Second}
}

func (p *Profile) Language() adapter.Language { return adapter.JS }

func (p *Profile) SpawnForLaunch(ctx context.Context, target adapter.LaunchTarget, stderrSink adapter.WriteCloserlessWriter) (transport.Transport, error) {
	port, err := adapter.FreePort()
	if err != nil {
		return nil, err
	}

	cmd := adapter.ChildStdioCommand(ctx, "node", []string{p.DebugServerPath, fmt.Sprint(port)}, target.Cwd, target.Env)
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
	host := target.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return transport.TCP(ctx, transport.NetDialer{}, fmt.Sprintf("%s:%d", host, target.Port))
}

func (p *Profile) InitializeArgs() godap.InitializeRequestArguments {
	return godap.InitializeRequestArguments{
		ClientID:        "polybugger-mcp",
		AdapterID:       "pwa-node",
		Locale:          "en-US",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	}
}

type launchArgs struct {
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	Cwd         string   `json:"cwd,omitempty"`
	Env         []string `json:"env,omitempty"`
	OutFiles    []string `json:"outFiles,omitempty"`
	SmartStep   bool     `json:"smartStep"`
	StopOnEntry bool     `json:"stopOnEntry,omitempty"`
}

func (p *Profile) BuildLaunchArgs(target adapter.LaunchTarget) (any, error) {
	return launchArgs{
		Program:     target.Program,
		Args:        target.Args,
		Cwd:         target.Cwd,
		Env:         target.Env,
		OutFiles:    target.OutFiles,
		SmartStep:   true,
		StopOnEntry: target.StopOnEntry,
	}, nil
}

type attachArgs struct {
	Port int `json:"port"`
}

func (p *Profile) BuildAttachArgs(target adapter.AttachTarget) (any, error) {
	return attachArgs{Port: target.Port}, nil
}

func (p *Profile) SupportsStopOnEntry() bool             { return true }
func (p *Profile) ForceConfigurationDone() bool          { return false }
func (p *Profile) SubstitutePath() []adapter.PathMapping { return nil }
