package container

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// CLIRuntime is the shared implementation behind the docker and podman
// backends: both runtimes expose the same `<bin> exec`/`<bin> inspect`
// surface, so container/docker and container/podman are thin
// constructors over this type with bin fixed to "docker" or "podman".
//
// Grounded on commands/build.go's pattern of building an *exec.Cmd
// against a resolved binary and driving it to completion or to a piped
// stdio transport.
type CLIRuntime struct {
	Bin      string
	RuntimeName Runtime
}

func (c CLIRuntime) Runtime() Runtime { return c.RuntimeName }

func (c CLIRuntime) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, lookErr := exec.LookPath(c.Bin); lookErr != nil {
			return nil, brokererr.New(brokererr.KindRuntimeUnavailable, lookErr, "%s not found on PATH", c.Bin)
		}
		return nil, brokererr.New(brokererr.KindContainerNotFound, err, "%s %s: %s", c.Bin, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return out, nil
}

// ListProcesses shells out to `<bin> exec <container> ps -eo pid,args`.
func (c CLIRuntime) ListProcesses(ctx context.Context, target Target) ([]ProcessInfo, error) {
	out, err := c.run(ctx, "exec", target.Container, "ps", "-eo", "pid,args", "--no-headers")
	if err != nil {
		return nil, err
	}

	var procs []ProcessInfo
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		cmdline := ""
		if len(fields) == 2 {
			cmdline = strings.TrimSpace(fields[1])
		}
		procs = append(procs, ProcessInfo{
			PID:                       pid,
			Command:                   cmdline,
			IsTargetLanguageCandidate: IsLanguageCandidate(target.Language, cmdline),
		})
	}
	return procs, nil
}

func attachStubCommand(pid, port int, lang adapter.Language) ([]string, error) {
	switch lang {
	case adapter.Python:
		return []string{"python3", "-m", "debugpy", "--listen", fmt.Sprintf("0.0.0.0:%d", port), "--pid", strconv.Itoa(pid)}, nil
	case adapter.Go:
		return []string{"dlv", "attach", strconv.Itoa(pid), "--listen", fmt.Sprintf("0.0.0.0:%d", port), "--headless", "--api-version=2", "--accept-multiclient"}, nil
	default:
		return nil, brokererr.New(brokererr.KindInjectionFailed, nil, "attach-by-pid inside a container is not supported for language %q", lang)
	}
}

// AttachInContainer starts the language's debug stub detached inside
// the container listening on a container-side port, then establishes
// the port forward as a child-stdio tunnel: `<bin> exec -i <container>
// socat - TCP:127.0.0.1:<port>` relays bytes between its own stdio and
// the stub's listen socket, and that stdio pair is framed as the DAP
// transport directly via transport.ChildStdio — the same primitive
// LaunchInContainer uses — rather than opening a separate local
// net.Listener, since this process is both ends of the forward (it
// dials nothing; it just feeds the DAP client's bytes into the tunnel's
// stdin and reads its stdout).
func (c CLIRuntime) AttachInContainer(ctx context.Context, target Target, pid int, lang adapter.Language) (transport.Transport, *Forward, error) {
	stubPort, err := adapter.FreePort()
	if err != nil {
		return nil, nil, brokererr.New(brokererr.KindPortAllocationError, err, "failed to allocate a stub listen port")
	}
	stub, err := attachStubCommand(pid, stubPort, lang)
	if err != nil {
		return nil, nil, err
	}

	injectArgs := append([]string{"exec", "-d", target.Container}, stub...)
	if _, err := c.run(ctx, injectArgs...); err != nil {
		return nil, nil, brokererr.New(brokererr.KindInjectionFailed, err, "failed to inject debug stub into %s", target.Container)
	}

	tunnelArgs := []string{"exec", "-i", target.Container, "socat", "-", fmt.Sprintf("TCP:127.0.0.1:%d", stubPort)}
	cmd := exec.CommandContext(ctx, c.Bin, tunnelArgs...)
	t, err := transport.ChildStdio(cmd, nil)
	if err != nil {
		return nil, nil, brokererr.New(brokererr.KindPortAllocationError, err, "failed to establish port forward to %s", target.Container)
	}

	fwd := &Forward{
		LocalPort: stubPort,
		Close: func() error {
			_, _ = c.run(context.Background(), "exec", target.Container, "pkill", "-f", strconv.Itoa(stubPort))
			return nil
		},
	}
	return t, fwd, nil
}

// LaunchInContainer runs `<bin> exec -i <container> <stub>` with its
// stdio wired as a DAP transport, per spec.md 4.10.
func (c CLIRuntime) LaunchInContainer(ctx context.Context, target Target, program string, args []string, lang adapter.Language) (transport.Transport, error) {
	_, _ = program, args // carried in the subsequent launch request, not the stub's argv
	stub, err := launchStubCommand(lang)
	if err != nil {
		return nil, err
	}
	full := append([]string{"exec", "-i", target.Container}, stub...)
	cmd := exec.CommandContext(ctx, c.Bin, full...)
	return transport.ChildStdio(cmd, nil)
}

// launchStubCommand names the DAP server binary to run over the
// runtime's inherited stdio; the program/args a caller wants to launch
// travel in the ensuing "launch" DAP request, built by the matching
// adapter.Profile, not as CLI arguments here — debugpy.adapter (the
// actual DAP server debugpy ships, distinct from its socket-only
// launcher), dlv dap, and lldb-dap all speak DAP over stdio natively.
func launchStubCommand(lang adapter.Language) ([]string, error) {
	switch lang {
	case adapter.Python:
		return []string{"python3", "-m", "debugpy.adapter"}, nil
	case adapter.Go:
		return []string{"dlv", "dap", "--client-addr=stdio"}, nil
	case adapter.Rust, adapter.Native:
		return []string{"lldb-dap"}, nil
	default:
		return nil, brokererr.New(brokererr.KindInjectionFailed, nil, "launch-in-container is not supported for language %q", lang)
	}
}
