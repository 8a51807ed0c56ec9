package container

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
)

func TestIsLanguageCandidate(t *testing.T) {
	require.True(t, IsLanguageCandidate(adapter.Python, "/usr/bin/python3 app.py"))
	require.True(t, IsLanguageCandidate(adapter.JS, "node server.js"))
	require.False(t, IsLanguageCandidate(adapter.JS, "/usr/bin/python3 app.py"))
	require.False(t, IsLanguageCandidate(adapter.Go, "/app/server"), "compiled-language binaries are never auto-flagged")
}

// fakeBin writes an executable shell script named name onto a
// temporary directory prepended to PATH, so CLIRuntime can "exec" it by
// name exactly as it would a real docker/podman binary.
func fakeBin(t *testing.T, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary harness is POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestListProcessesParsesPSOutput(t *testing.T) {
	fakeBin(t, "fakedocker", `echo "  1 /usr/bin/python3 app.py"
echo "  42 node server.js"
`)
	c := CLIRuntime{Bin: "fakedocker", RuntimeName: Docker}
	procs, err := c.ListProcesses(context.Background(), Target{Container: "web", Language: adapter.Python})
	require.NoError(t, err)
	require.Len(t, procs, 2)
	require.Equal(t, 1, procs[0].PID)
	require.Equal(t, "/usr/bin/python3 app.py", procs[0].Command)
	require.True(t, procs[0].IsTargetLanguageCandidate)
	require.Equal(t, 42, procs[1].PID)
	require.False(t, procs[1].IsTargetLanguageCandidate, "node process is not a python candidate")
}

func TestRunMissingBinaryIsRuntimeUnavailable(t *testing.T) {
	c := CLIRuntime{Bin: "polybugger-mcp-definitely-not-on-path", RuntimeName: Docker}
	_, err := c.ListProcesses(context.Background(), Target{Container: "web"})
	require.Error(t, err)
	be, ok := err.(*brokererr.Error)
	require.True(t, ok)
	require.Equal(t, brokererr.KindRuntimeUnavailable, be.Kind)
}

func TestRunNonZeroExitIsContainerNotFound(t *testing.T) {
	fakeBin(t, "fakedocker", `echo "Error: No such container: web" >&2
exit 1`)
	c := CLIRuntime{Bin: "fakedocker", RuntimeName: Docker}
	_, err := c.ListProcesses(context.Background(), Target{Container: "web"})
	require.Error(t, err)
	be, ok := err.(*brokererr.Error)
	require.True(t, ok)
	require.Equal(t, brokererr.KindContainerNotFound, be.Kind)
}

func TestAttachStubCommandUnsupportedLanguage(t *testing.T) {
	_, err := attachStubCommand(1, 9000, adapter.Rust)
	require.Error(t, err)
	be, ok := err.(*brokererr.Error)
	require.True(t, ok)
	require.Equal(t, brokererr.KindInjectionFailed, be.Kind)
}

func TestLaunchStubCommandKnownLanguages(t *testing.T) {
	cmd, err := launchStubCommand(adapter.Python)
	require.NoError(t, err)
	require.Equal(t, []string{"python3", "-m", "debugpy.adapter"}, cmd)

	cmd, err = launchStubCommand(adapter.Go)
	require.NoError(t, err)
	require.Equal(t, []string{"dlv", "dap", "--client-addr=stdio"}, cmd)
}
