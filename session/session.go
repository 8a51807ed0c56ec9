// Package session implements C7: the per-session state machine,
// breakpoint table, watch list, stop context, and the public operations
// spec'd in spec.md 4.5. A Session owns its transport, DAP client, and
// event/output buffers; the registry owns sessions.
//
// The launch handshake and the pause/resume shape are grounded on the
// teacher's dap/adapter.go (the "initialized" wait, the configuration
// gate) and dap/thread.go (a channel-based pause/resume primitive),
// generalized from "pause the build graph walk" to "pause the
// debuggee".
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/polybugger/polybugger-mcp/adapter"
	dapclient "github.com/polybugger/polybugger-mcp/dap"
	"github.com/polybugger/polybugger-mcp/dap/transport"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/container"
	"github.com/polybugger/polybugger-mcp/session/events"
	"github.com/polybugger/polybugger-mcp/session/obuf"
)

// Descriptor is the persisted/listable view of a session, per spec.md 3.
type Descriptor struct {
	ID               string          `json:"id"`
	Language         adapter.Language `json:"language"`
	ProjectRoot      string          `json:"project_root"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivity     time.Time       `json:"last_activity"`
	State            State           `json:"state"`
	AttachedPID      int             `json:"attached_pid,omitempty"`
	ForwardedPort    int             `json:"forwarded_port,omitempty"`
	Persisted        bool            `json:"persisted"`
}

// StopContext is present only in STOPPED, per spec.md 3.
type StopContext struct {
	ThreadID  int
	Reason    string
	TopFrame  int
	HitBPIDs  []int
}

// Persister is the narrow contract the persistence layer (C9) presents
// to a session: snapshot after every state change or breakpoint change.
type Persister interface {
	Snapshot(desc Descriptor, breakpoints map[string][]Breakpoint, launch, attach any) error
}

// Session is the C7 component.
type Session struct {
	desc   Descriptor
	descMu sync.Mutex

	profile adapter.Profile

	stateMu sync.Mutex
	state   State
	stopCtx *StopContext

	transport transport.Transport
	client    *dapclient.Client

	events *events.Queue
	output *obuf.Buffer

	breakpoints *breakpointTable
	watches     *watchList

	threadsMu sync.RWMutex
	threads   map[int]bool

	persister Persister
	log       *logrus.Entry

	eg     *errgroup.Group
	reqSem *semaphore.Weighted

	containerBackends map[container.Runtime]container.Backend
	containerForward  *container.Forward

	lastLaunch any
	lastAttach any

	initialized chan struct{}
	initOnce    sync.Once

	terminateOnce sync.Once

	// stepInFlight/stepCleared track a step (next/stepIn/stepOut) that
	// has been issued (marked before the request is sent) but has not yet settled with
	// a stopped/continued/terminated event; guarded by stateMu since it
	// changes in lockstep with state. A caller blocked in
	// waitStepSettled is released by closing stepCleared.
	stepInFlight bool
	stepCleared  chan struct{}
}

// Options configure a new Session.
type Options struct {
	ID          string
	Language    adapter.Language
	ProjectRoot string
	Profile     adapter.Profile
	Persister   Persister
	Logger      *logrus.Entry
	// ContainerBackends resolves a container.Runtime named on a
	// LaunchTarget/AttachTarget to the bridge that executes against
	// it; nil (or an unresolved runtime) fails container-routed
	// launch/attach with RuntimeUnavailable.
	ContainerBackends map[container.Runtime]container.Backend
	OutputByteCap, OutputRecordCap int
	EventCap    int
	Clock       func() time.Time
}

// New creates a CREATED session. It does not start the adapter; call
// Launch or Attach for that.
func New(opts Options) *Session {
	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{
		desc: Descriptor{
			ID:           opts.ID,
			Language:     opts.Language,
			ProjectRoot:  opts.ProjectRoot,
			CreatedAt:    now(),
			LastActivity: now(),
			State:        Created,
		},
		profile:     opts.Profile,
		state:       Created,
		events:      events.New(opts.EventCap),
		output:      obuf.New(opts.OutputByteCap, opts.OutputRecordCap),
		breakpoints: newBreakpointTable(),
		watches:     newWatchList(),
		threads:           make(map[int]bool),
		persister:         opts.Persister,
		log:               logger.WithField("session_id", opts.ID),
		initialized:       make(chan struct{}),
		reqSem:            semaphore.NewWeighted(1),
		containerBackends: opts.ContainerBackends,
	}
	s.eg, _ = errgroup.WithContext(context.Background())
	return s
}

// ID returns the session's stable, opaque id.
func (s *Session) ID() string { return s.desc.ID }

// Descriptor returns a snapshot of the session's listable metadata.
func (s *Session) Descriptor() Descriptor {
	s.descMu.Lock()
	defer s.descMu.Unlock()
	d := s.desc
	s.stateMu.Lock()
	d.State = s.state
	s.stateMu.Unlock()
	return d
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// StopContext returns the current stop context, or nil if not STOPPED.
func (s *Session) StopContext() *StopContext {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stopCtx == nil {
		return nil
	}
	cp := *s.stopCtx
	return &cp
}

// touch updates last-activity, called on every public operation per
// spec.md 4.6.
func (s *Session) touch(clock func() time.Time) {
	now := time.Now
	if clock != nil {
		now = clock
	}
	s.descMu.Lock()
	s.desc.LastActivity = now()
	s.descMu.Unlock()
}

func (s *Session) setState(to State) bool {
	s.stateMu.Lock()
	from := s.state
	ok := canTransition(from, to)
	if ok {
		s.state = to
		if to != Stopped {
			s.stopCtx = nil
		}
	}
	s.stateMu.Unlock()

	if ok {
		s.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("session state transition")
		s.persist()
	}
	return ok
}

func (s *Session) persist() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Snapshot(s.Descriptor(), s.breakpoints.Snapshot(), s.lastLaunch, s.lastAttach); err != nil {
		s.log.WithError(err).Warn("failed to persist session snapshot")
	}
}

// beginStep marks a step request as in flight, before it is sent, and not yet settled,
// per spec.md 4.5's step/setBreakpoints race (spec.md:224): any
// setBreakpoints arriving before the matching stopped/continued/
// terminated event must wait rather than race the adapter mid-step.
func (s *Session) beginStep() {
	s.stateMu.Lock()
	s.stepInFlight = true
	s.stepCleared = make(chan struct{})
	s.stateMu.Unlock()
}

// clearStep releases any call blocked in waitStepSettled. Safe to call
// even when no step is in flight.
func (s *Session) clearStep() {
	s.stateMu.Lock()
	if s.stepInFlight {
		s.stepInFlight = false
		close(s.stepCleared)
	}
	s.stateMu.Unlock()
}

// waitStepSettled blocks until no step is in flight, or ctx is done.
func (s *Session) waitStepSettled(ctx context.Context) error {
	for {
		s.stateMu.Lock()
		inFlight := s.stepInFlight
		ch := s.stepCleared
		s.stateMu.Unlock()
		if !inFlight {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return brokererr.New(brokererr.KindCancelled, ctx.Err(), "cancelled while waiting for in-flight step to settle")
		}
	}
}

// requireState checks the current state against allowed, returning a
// FailedPrecondition brokererr.Error if it doesn't match. Non-terminal
// errors never change session state (spec.md 4.5).
func (s *Session) requireState(allowed ...State) error {
	s.stateMu.Lock()
	cur := s.state
	s.stateMu.Unlock()
	if err := requireOneOf(cur, allowed...); err != nil {
		return err
	}
	return nil
}

// marshalToRequestArgs round-trips v through JSON into the
// json.RawMessage DAP request arguments expect.
func marshalToRequestArgs(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, brokererr.New(brokererr.KindInvalidArgument, err, "failed to encode request arguments")
	}
	return b, nil
}
