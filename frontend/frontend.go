// Package frontend implements C12: the uniform operation surface spec'd
// in spec.md 4.5, shared by both external transports (tool-call RPC and
// HTTP). Dispatcher is the single place that translates a named
// operation plus loosely-typed arguments into a call against
// registry/session, and back into a plain, JSON-friendly result — no
// behaviour of its own beyond that translation, per spec.md 1's framing
// of the front ends as narrow-contract external collaborators.
//
// Grounded on dap/adapter.go's posture of being a thin translation layer
// between the wire protocol and the session/build machinery it drives,
// generalized here from "one wire protocol" to "the uniform operation
// set, called from either front end".
package frontend

import (
	"context"
	"time"

	godap "github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/container"
	"github.com/polybugger/polybugger-mcp/inspect"
	"github.com/polybugger/polybugger-mcp/persistence"
	"github.com/polybugger/polybugger-mcp/registry"
	"github.com/polybugger/polybugger-mcp/session"
	"github.com/polybugger/polybugger-mcp/session/obuf"
)

// outputStream maps a caller-supplied stream name onto obuf.Stream,
// defaulting to stdout when unspecified.
func outputStream(s string) obuf.Stream {
	switch s {
	case "", string(obuf.Stdout):
		return obuf.Stdout
	case string(obuf.Stderr):
		return obuf.Stderr
	case string(obuf.Console):
		return obuf.Console
	case string(obuf.Telemetry):
		return obuf.Telemetry
	case string(obuf.AdapterErr):
		return obuf.AdapterErr
	default:
		return obuf.Stream(s)
	}
}

// ProfileResolver builds the adapter.Profile for a freshly created
// session's language.
type ProfileResolver func(lang adapter.Language) (adapter.Profile, error)

// Dispatcher is the C12 component.
type Dispatcher struct {
	Registry          *registry.Registry
	Store             *persistence.Store
	Profiles          ProfileResolver
	ContainerBackends map[container.Runtime]container.Backend
	Logger            *logrus.Entry

	OutputByteCap, OutputRecordCap int
	EventCap                       int
}

// CreateSessionRequest is create_session's argument tuple.
type CreateSessionRequest struct {
	Language    adapter.Language
	ProjectRoot string
}

// CreateSession builds a CREATED session and registers it.
func (d *Dispatcher) CreateSession(ctx context.Context, req CreateSessionRequest) (session.Descriptor, error) {
	profile, err := d.Profiles(req.Language)
	if err != nil {
		return session.Descriptor{}, brokererr.New(brokererr.KindInvalidArgument, err, "unsupported language %q", req.Language)
	}
	id := registry.NewID()
	s := session.New(session.Options{
		ID:                id,
		Language:          req.Language,
		ProjectRoot:       req.ProjectRoot,
		Profile:           profile,
		Persister:         d.Store,
		Logger:            d.Logger,
		ContainerBackends: d.ContainerBackends,
		OutputByteCap:     d.OutputByteCap,
		OutputRecordCap:   d.OutputRecordCap,
		EventCap:          d.EventCap,
	})
	if err := d.Registry.Create(s); err != nil {
		return session.Descriptor{}, err
	}
	return s.Descriptor(), nil
}

// ListSessions returns every registered session's descriptor.
func (d *Dispatcher) ListSessions(ctx context.Context) []session.Descriptor {
	sessions := d.Registry.List()
	out := make([]session.Descriptor, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Descriptor())
	}
	return out
}

// GetSession returns one session's descriptor.
func (d *Dispatcher) GetSession(ctx context.Context, id string) (session.Descriptor, error) {
	s, err := d.Registry.Get(id)
	if err != nil {
		return session.Descriptor{}, err
	}
	return s.Descriptor(), nil
}

func (d *Dispatcher) session(id string) (*session.Session, error) {
	return d.Registry.Get(id)
}

// SetBreakpoints implements set_breakpoints.
func (d *Dispatcher) SetBreakpoints(ctx context.Context, id, path string, specs []session.BreakpointSpec) ([]session.Breakpoint, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.SetBreakpoints(ctx, path, specs)
}

// ClearBreakpoints implements clear_breakpoints.
func (d *Dispatcher) ClearBreakpoints(ctx context.Context, id, path string) (int, error) {
	s, err := d.session(id)
	if err != nil {
		return 0, err
	}
	return s.ClearBreakpoints(ctx, path)
}

// Launch implements launch().
func (d *Dispatcher) Launch(ctx context.Context, id string, target adapter.LaunchTarget) error {
	s, err := d.session(id)
	if err != nil {
		return err
	}
	return s.Launch(ctx, target)
}

// Attach implements attach(target).
func (d *Dispatcher) Attach(ctx context.Context, id string, target adapter.AttachTarget) error {
	s, err := d.session(id)
	if err != nil {
		return err
	}
	return s.Attach(ctx, target)
}

// Continue implements continue(thread?=all).
func (d *Dispatcher) Continue(ctx context.Context, id string, threadID int) error {
	s, err := d.session(id)
	if err != nil {
		return err
	}
	return s.Continue(ctx, threadID)
}

// Step implements step(mode, thread).
func (d *Dispatcher) Step(ctx context.Context, id string, mode session.StepMode, threadID int) error {
	s, err := d.session(id)
	if err != nil {
		return err
	}
	return s.Step(ctx, mode, threadID)
}

// Pause implements pause(thread?).
func (d *Dispatcher) Pause(ctx context.Context, id string, threadID int) error {
	s, err := d.session(id)
	if err != nil {
		return err
	}
	return s.Pause(ctx, threadID)
}

// StackTrace implements stacktrace(thread, startFrame?, levels?).
func (d *Dispatcher) StackTrace(ctx context.Context, id string, threadID, startFrame, levels int) ([]godap.StackFrame, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.StackTrace(ctx, threadID, startFrame, levels)
}

// Scopes implements scopes(frame).
func (d *Dispatcher) Scopes(ctx context.Context, id string, frameID int) ([]godap.Scope, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.Scopes(ctx, frameID)
}

// Variables implements variables(ref, filter?, start?, count?).
func (d *Dispatcher) Variables(ctx context.Context, id string, ref int, filter string, start, count int) ([]godap.Variable, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.Variables(ctx, ref, filter, start, count)
}

// Evaluate implements evaluate(expression, frame?, context).
func (d *Dispatcher) Evaluate(ctx context.Context, id, expression string, frameID int, evalCtx session.EvalContext) (session.EvaluateResult, error) {
	s, err := d.session(id)
	if err != nil {
		return session.EvaluateResult{}, err
	}
	return s.Evaluate(ctx, expression, frameID, evalCtx)
}

// SmartInspect implements smart_inspect(ref|expression, frame?).
func (d *Dispatcher) SmartInspect(ctx context.Context, id string, ref int, expression string, frameID int) (inspect.Result, error) {
	s, err := d.session(id)
	if err != nil {
		return inspect.Result{}, err
	}
	return s.SmartInspect(ctx, ref, expression, frameID, inspect.DefaultChildBudget)
}

// CallChain implements call_chain(thread, max?).
func (d *Dispatcher) CallChain(ctx context.Context, id string, threadID, max int) ([]session.FrameLocation, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.CallChain(ctx, threadID, max)
}

// WatchAdd implements watch_add(expr).
func (d *Dispatcher) WatchAdd(ctx context.Context, id, expr string) (*session.Watch, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.WatchAdd(expr), nil
}

// WatchRemove implements watch_remove(id).
func (d *Dispatcher) WatchRemove(ctx context.Context, id, watchID string) (bool, error) {
	s, err := d.session(id)
	if err != nil {
		return false, err
	}
	return s.WatchRemove(watchID), nil
}

// WatchList implements watch_list().
func (d *Dispatcher) WatchList(ctx context.Context, id string) ([]*session.Watch, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.WatchList(), nil
}

// WatchEvalAll implements watch_eval_all(frame?).
func (d *Dispatcher) WatchEvalAll(ctx context.Context, id string, frameID int) ([]*session.Watch, error) {
	s, err := d.session(id)
	if err != nil {
		return nil, err
	}
	return s.WatchEvalAll(ctx, frameID)
}

// PollEvents implements poll_events(since_offset?, max?, wait_ms?).
func (d *Dispatcher) PollEvents(ctx context.Context, id string, sinceOffset int64, max int, waitMS int) (session.PollEventsResult, error) {
	s, err := d.session(id)
	if err != nil {
		return session.PollEventsResult{}, err
	}
	return s.PollEvents(ctx, sinceOffset, max, waitMS), nil
}

// GetOutput implements get_output(stream?, since_offset?, max?).
func (d *Dispatcher) GetOutput(ctx context.Context, id string, stream string, sinceOffset int64, max int) (session.OutputResult, error) {
	s, err := d.session(id)
	if err != nil {
		return session.OutputResult{}, err
	}
	return s.GetOutput(outputStream(stream), sinceOffset, max), nil
}

// Terminate implements terminate().
func (d *Dispatcher) Terminate(ctx context.Context, id string) error {
	s, err := d.session(id)
	if err != nil {
		return err
	}
	if err := s.Terminate(ctx); err != nil {
		return err
	}
	d.Registry.Remove(id)
	return nil
}

// ListProcesses implements C11's list_processes(runtime, container).
func (d *Dispatcher) ListProcesses(ctx context.Context, runtime container.Runtime, target container.Target) ([]container.ProcessInfo, error) {
	b, ok := d.ContainerBackends[runtime]
	if !ok || b == nil {
		return nil, brokererr.New(brokererr.KindRuntimeUnavailable, nil, "no container backend configured for runtime %q", runtime)
	}
	target.Runtime = runtime
	return b.ListProcesses(ctx, target)
}

// GetHealth implements the health/status operation SPEC_FULL.md 4.6
// adds on top of spec.md's registry: session count, capacity, and the
// oldest idle session.
func (d *Dispatcher) GetHealth(ctx context.Context) registry.Stats {
	return d.Registry.Stats()
}

// MaxPollWait bounds how long a front end may let poll_events' wait_ms
// block before the surrounding request is cancelled regardless of
// caller input.
const MaxPollWait = 60 * time.Second
