package session

import (
	"context"
	"net"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// fakeProfile is a minimal adapter.Profile whose SpawnForLaunch hands the
// session one end of an in-memory net.Pipe, with the other end driven by
// a fake DAP peer goroutine started in each test.
type fakeProfile struct {
	sessionSide transport.Transport
}

// newFakeProfile wires a net.Pipe into two Transports: the session talks
// on one end via Profile.SpawnForLaunch/SpawnForAttach, the test drives
// the fake adapter on the other.
func newFakeProfile() (*fakeProfile, transport.Transport) {
	a, b := net.Pipe()
	sessionSide := transport.Stream(a, a, a.Close)
	peerSide := transport.Stream(b, b, b.Close)
	return &fakeProfile{sessionSide: sessionSide}, peerSide
}

func (p *fakeProfile) Language() adapter.Language { return adapter.Python }
func (p *fakeProfile) SpawnForLaunch(ctx context.Context, target adapter.LaunchTarget, stderrSink adapter.WriteCloserlessWriter) (transport.Transport, error) {
	return p.sessionSide, nil
}
func (p *fakeProfile) SpawnForAttach(ctx context.Context, target adapter.AttachTarget) (transport.Transport, error) {
	return p.sessionSide, nil
}
func (p *fakeProfile) InitializeArgs() godap.InitializeRequestArguments {
	return godap.InitializeRequestArguments{ClientID: "test"}
}
func (p *fakeProfile) BuildLaunchArgs(target adapter.LaunchTarget) (any, error) {
	return map[string]any{"program": target.Program}, nil
}
func (p *fakeProfile) BuildAttachArgs(target adapter.AttachTarget) (any, error) {
	return map[string]any{"port": target.Port}, nil
}
func (p *fakeProfile) SupportsStopOnEntry() bool             { return true }
func (p *fakeProfile) ForceConfigurationDone() bool          { return true }
func (p *fakeProfile) SubstitutePath() []adapter.PathMapping { return nil }

// runFakeAdapter answers every request generically with a bare success
// response and fires the initialized event right after initialize,
// mirroring the handshake order every real DAP backend follows.
func runFakeAdapter(t *testing.T, peer transport.Transport) {
	t.Helper()
	go func() {
		for {
			m, err := peer.Receive(context.Background())
			if err != nil {
				return
			}
			req, ok := m.(godap.RequestMessage)
			if !ok {
				continue
			}
			base := req.GetRequest()
			_ = peer.Send(&godap.Response{
				ProtocolMessage: godap.ProtocolMessage{Seq: 0, Type: "response"},
				RequestSeq:      base.Seq,
				Success:         true,
				Command:         base.Command,
			})
			if base.Command == "initialize" {
				_ = peer.Send(&godap.InitializedEvent{
					Event: godap.Event{ProtocolMessage: godap.ProtocolMessage{Type: "event"}, Event: "initialized"},
				})
			}
		}
	}()
}

func newTestSessionWithProfile(profile adapter.Profile) *Session {
	return New(Options{ID: "s1", Language: adapter.Python, ProjectRoot: "/tmp/proj", Profile: profile})
}

func TestLaunchDrivesCreatedToRunning(t *testing.T) {
	fp, peer := newFakeProfile()
	runFakeAdapter(t, peer)

	s := newTestSessionWithProfile(fp)
	require.Equal(t, Created, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Launch(ctx, adapter.LaunchTarget{Program: "app.py"})
	require.NoError(t, err)
	require.Equal(t, Running, s.State())
}

func TestLaunchFromNonCreatedFailsPrecondition(t *testing.T) {
	fp, peer := newFakeProfile()
	runFakeAdapter(t, peer)

	s := newTestSessionWithProfile(fp)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Launch(ctx, adapter.LaunchTarget{Program: "app.py"}))

	err := s.Launch(ctx, adapter.LaunchTarget{Program: "app.py"})
	require.Error(t, err)
}

func TestStoppedEventTransitionsToStopped(t *testing.T) {
	fp, peer := newFakeProfile()
	runFakeAdapter(t, peer)

	s := newTestSessionWithProfile(fp)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Launch(ctx, adapter.LaunchTarget{Program: "app.py"}))

	require.NoError(t, peer.Send(&godap.StoppedEvent{
		Event: godap.Event{ProtocolMessage: godap.ProtocolMessage{Type: "event"}, Event: "stopped"},
		Body:  godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
	}))

	require.Eventually(t, func() bool {
		return s.State() == Stopped
	}, time.Second, 10*time.Millisecond)
}

func TestTerminateMovesToTerminatedAndIsIdempotent(t *testing.T) {
	fp, peer := newFakeProfile()
	runFakeAdapter(t, peer)

	s := newTestSessionWithProfile(fp)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Launch(ctx, adapter.LaunchTarget{Program: "app.py"}))

	require.NoError(t, s.Terminate(context.Background()))
	require.Equal(t, Terminated, s.State())

	// Terminate is idempotent.
	require.NoError(t, s.Terminate(context.Background()))
}
