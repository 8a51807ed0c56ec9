package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/adapter/python"
	"github.com/polybugger/polybugger-mcp/session"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	desc := session.Descriptor{ID: "sess-1", Language: "py", ProjectRoot: "/tmp/proj", State: session.Created}
	bps := map[string][]session.Breakpoint{
		"main.py": {{Line: 10, Verified: true}},
	}
	require.NoError(t, store.Snapshot(desc, bps, nil, nil))

	recovered, err := store.ListRecoverable()
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, "sess-1", recovered[0].Descriptor.ID)
	require.Equal(t, 10, recovered[0].Breakpoints["main.py"][0].Line)
}

func TestRecoverSessionStartsInCreated(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	desc := session.Descriptor{ID: "sess-2", Language: "py", ProjectRoot: "/tmp/proj", State: session.Stopped}
	bps := map[string][]session.Breakpoint{
		"app.py": {{Line: 5}, {Line: 42, Condition: "x > 0"}},
	}
	require.NoError(t, store.Snapshot(desc, bps, nil, nil))

	snaps, err := store.ListRecoverable()
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	s := RecoverSession(snaps[0], store, python.New())
	require.Equal(t, "sess-2", s.ID())
	require.Equal(t, session.Created, s.State(), "recovery always starts in CREATED, per spec.md 4.8")

	list := s.Descriptor()
	require.Equal(t, "sess-2", list.ID)
}

func TestRemoveDeletesSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	desc := session.Descriptor{ID: "sess-3"}
	require.NoError(t, store.Snapshot(desc, nil, nil, nil))
	require.NoError(t, store.Remove("sess-3"))

	snaps, err := store.ListRecoverable()
	require.NoError(t, err)
	require.Empty(t, snaps)

	// Removing an already-absent snapshot is not an error.
	require.NoError(t, store.Remove("sess-3"))
}

func TestListRecoverableQuarantinesCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	bad := filepath.Join(dir, "sessions", "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	snaps, err := store.ListRecoverable()
	require.NoError(t, err)
	require.Empty(t, snaps)

	// The corrupt file has been renamed out of the way.
	_, err = os.Stat(bad)
	require.True(t, os.IsNotExist(err))
}
