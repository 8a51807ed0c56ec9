package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/session"
)

func newTestSession(id string) *session.Session {
	return session.New(session.Options{ID: id, Language: "py", ProjectRoot: "/tmp/proj"})
}

func TestCreateGetRemove(t *testing.T) {
	r := New(Options{MaxSessions: 2, SweepInterval: time.Hour})
	defer r.Close()

	s := newTestSession("a")
	require.NoError(t, r.Create(s))

	got, err := r.Get("a")
	require.NoError(t, err)
	require.Same(t, s, got)

	r.Remove("a")
	_, err = r.Get("a")
	require.Error(t, err)
	be := err.(*brokererr.Error)
	require.Equal(t, brokererr.KindNotFound, be.Kind)
}

func TestCreateCapacityExceeded(t *testing.T) {
	r := New(Options{MaxSessions: 1, SweepInterval: time.Hour})
	defer r.Close()

	require.NoError(t, r.Create(newTestSession("a")))
	err := r.Create(newTestSession("b"))
	require.Error(t, err)
	be := err.(*brokererr.Error)
	require.Equal(t, brokererr.KindCapacityExceeded, be.Kind)
}

func TestListAndStats(t *testing.T) {
	r := New(Options{MaxSessions: 10, SweepInterval: time.Hour})
	defer r.Close()

	require.NoError(t, r.Create(newTestSession("a")))
	require.NoError(t, r.Create(newTestSession("b")))

	require.Len(t, r.List(), 2)

	stats := r.Stats()
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 10, stats.Capacity)
	require.Equal(t, 2, stats.ByState[session.Created])
	require.Nil(t, stats.OldestIdle, "neither session is RUNNING/STOPPED yet")
}

func TestSweepLeavesCreatedSessionsAlone(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	r := New(Options{
		MaxSessions:    10,
		SessionTimeout: time.Minute,
		SweepInterval:  10 * time.Millisecond,
		Clock:          clock,
	})
	defer r.Close()

	s := newTestSession("a")
	require.NoError(t, r.Create(s))

	// sweepOnce only reaps Running/Stopped sessions; a freshly-created
	// session is neither, so it must survive a sweep pass untouched.
	r.sweepOnce()
	require.Equal(t, session.Created, s.State())
}
