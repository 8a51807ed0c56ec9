// Package registry implements C8: the process-wide map from session id
// to *session.Session, capacity enforcement, and the idle sweeper.
//
// Grounded on util/resolver/auth.dockerAuthorizer's indexed-by-key map
// guarded by a single sync.RWMutex, generalized from auth handlers to
// debug sessions, plus a ticker-driven sweep loop in the style of the
// pack's periodic goroutines (dap/server.go's accept loop supervision).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/session"
)

const (
	DefaultMaxSessions      = 32
	DefaultSweepInterval    = 60 * time.Second
	DefaultSessionTimeout   = 3600 * time.Second
)

// Clock is the time seam used for idle-timeout tests.
type Clock func() time.Time

// Registry is the C8 component.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	maxSessions    int
	sessionTimeout time.Duration
	clock          Clock

	log *logrus.Entry

	stop chan struct{}
	done chan struct{}
}

// Options configure a Registry.
type Options struct {
	MaxSessions    int
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	Clock          Clock
	Logger         *logrus.Entry
}

// New creates a Registry and starts its idle sweeper.
func New(opts Options) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	r := &Registry{
		sessions:       make(map[string]*session.Session),
		maxSessions:    opts.MaxSessions,
		sessionTimeout: opts.SessionTimeout,
		clock:          opts.Clock,
		log:            logger,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go r.sweepLoop(opts.SweepInterval)
	return r
}

// NewID mints a fresh opaque session id.
func NewID() string {
	return uuid.New().String()
}

// Create registers a freshly built session, failing with CapacityExceeded
// if the registry is already at MAX_SESSIONS.
func (r *Registry) Create(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return brokererr.New(brokererr.KindCapacityExceeded, nil, "registry at capacity (%d sessions)", r.maxSessions)
	}
	r.sessions[s.ID()] = s
	return nil
}

// Get returns the session for id, or NotFound.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, brokererr.New(brokererr.KindNotFound, nil, "no session %q", id)
	}
	return s, nil
}

// List returns a snapshot of every registered session.
func (r *Registry) List() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Remove drops id from the registry without touching the underlying
// session's lifecycle; callers terminate the session first.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// OldestIdleSession names the longest-idle session eligible for the
// sweeper's timeout (RUNNING or STOPPED), for the front-end's
// health/status operation (SPEC_FULL.md 4.6).
type OldestIdleSession struct {
	ID           string
	LastActivity time.Time
}

// Stats is the registry's point-in-time summary, per SPEC_FULL.md 4.6:
// count, capacity, and the oldest idle session for the front-end's
// health/status operation.
type Stats struct {
	Total      int
	Capacity   int
	ByState    map[session.State]int
	OldestIdle *OldestIdleSession
}

// Stats snapshots per-state counts across every registered session.
// Per-session state reads do not hold the registry lock (spec.md 5).
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	capacity := r.maxSessions
	r.mu.Unlock()

	st := Stats{Total: len(sessions), Capacity: capacity, ByState: make(map[session.State]int)}
	for _, s := range sessions {
		d := s.Descriptor()
		st.ByState[d.State]++
		if d.State != session.Running && d.State != session.Stopped {
			continue
		}
		if st.OldestIdle == nil || d.LastActivity.Before(st.OldestIdle.LastActivity) {
			st.OldestIdle = &OldestIdleSession{ID: d.ID, LastActivity: d.LastActivity}
		}
	}
	return st
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

// sweepOnce terminates every RUNNING/STOPPED session whose last-activity
// is older than sessionTimeout. It reads the registry map under lock but
// terminates sessions (and persists) without holding it, per spec.md 5.
func (r *Registry) sweepOnce() {
	r.mu.Lock()
	candidates := make([]*session.Session, 0)
	now := r.clock()
	for _, s := range r.sessions {
		d := s.Descriptor()
		if (d.State == session.Running || d.State == session.Stopped) && now.Sub(d.LastActivity) > r.sessionTimeout {
			candidates = append(candidates, s)
		}
	}
	r.mu.Unlock()

	for _, s := range candidates {
		r.log.WithField("session_id", s.ID()).Info("idle session timeout, terminating")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Terminate(ctx); err != nil {
			r.log.WithError(err).WithField("session_id", s.ID()).Warn("idle sweep terminate failed")
		}
		cancel()
	}
}

// Close stops the idle sweeper.
func (r *Registry) Close() {
	close(r.stop)
	<-r.done
}
