package session

import (
	"context"
	"time"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/adapter"
	dapclient "github.com/polybugger/polybugger-mcp/dap"
	"github.com/polybugger/polybugger-mcp/dap/transport"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/container"
	"github.com/polybugger/polybugger-mcp/inspect"
	"github.com/polybugger/polybugger-mcp/session/obuf"
	"github.com/polybugger/polybugger-mcp/session/events"
)

var errAdapterExitedDuringInit = brokererr.New(brokererr.KindAdapterError, nil, "adapter process exited before sending the initialized event")

// BreakpointSpec is the caller-supplied intent for one breakpoint, per
// spec.md 4.5's set_breakpoints signature.
type BreakpointSpec struct {
	Line      int
	Condition string
	HitCond   string
}

func (s *Session) acquireReqSem(ctx context.Context) error {
	if err := s.reqSem.Acquire(ctx, 1); err != nil {
		return brokererr.New(brokererr.KindCancelled, err, "request cancelled while waiting for session's adapter lock")
	}
	return nil
}

func (s *Session) releaseReqSem() {
	s.reqSem.Release(1)
}

func (s *Session) request(ctx context.Context, req godap.RequestMessage, timeout time.Duration) (godap.ResponseMessage, error) {
	if err := s.acquireReqSem(ctx); err != nil {
		return nil, err
	}
	defer s.releaseReqSem()
	return s.client.Request(ctx, req, timeout)
}

// --- Launch / Attach -------------------------------------------------

// Launch spawns the backend process and drives it to RUNNING (or STOPPED,
// for stopOnEntry), per spec.md 4.5.
func (s *Session) Launch(ctx context.Context, target adapter.LaunchTarget) error {
	return s.start(ctx, true, target, adapter.AttachTarget{})
}

// Attach connects to an existing backend process and drives it to
// RUNNING, per spec.md 4.5.
func (s *Session) Attach(ctx context.Context, target adapter.AttachTarget) error {
	return s.start(ctx, false, adapter.LaunchTarget{}, target)
}

// containerBackend resolves a runtime name to the bridge that executes
// against it, per spec.md 4.10.
func (s *Session) containerBackend(runtime string) (container.Backend, error) {
	b, ok := s.containerBackends[container.Runtime(runtime)]
	if !ok || b == nil {
		return nil, brokererr.New(brokererr.KindRuntimeUnavailable, nil, "no container backend configured for runtime %q", runtime)
	}
	return b, nil
}

// startInContainer routes a launch through C11's launch_in_container.
func (s *Session) startInContainer(ctx context.Context, lt adapter.LaunchTarget) (transport.Transport, error) {
	b, err := s.containerBackend(lt.ContainerRuntime)
	if err != nil {
		return nil, err
	}
	tgt := container.Target{
		Runtime:   container.Runtime(lt.ContainerRuntime),
		Namespace: lt.ContainerNamespace,
		Container: lt.ContainerName,
	}
	return b.LaunchInContainer(ctx, tgt, lt.Program, lt.Args, s.profile.Language())
}

// attachInContainer routes an attach through C11's attach_in_container,
// recording the resulting local port and owning its teardown.
func (s *Session) attachInContainer(ctx context.Context, at adapter.AttachTarget) (transport.Transport, error) {
	b, err := s.containerBackend(at.ContainerRuntime)
	if err != nil {
		return nil, err
	}
	tgt := container.Target{
		Runtime:   container.Runtime(at.ContainerRuntime),
		Namespace: at.ContainerNamespace,
		Container: at.ContainerName,
	}
	t, fwd, err := b.AttachInContainer(ctx, tgt, at.ProcessID, s.profile.Language())
	if err != nil {
		return nil, err
	}
	s.containerForward = fwd
	s.descMu.Lock()
	s.desc.ForwardedPort = fwd.LocalPort
	s.descMu.Unlock()
	return t, nil
}

func (s *Session) start(ctx context.Context, isLaunch bool, lt adapter.LaunchTarget, at adapter.AttachTarget) error {
	if err := s.requireState(Created); err != nil {
		return err
	}
	if !s.setState(Launching) {
		return brokererr.FailedPrecondition(string(s.State()), string(Created))
	}

	ctx, cancel := context.WithTimeout(ctx, dapclient.DefaultLaunchTimeout)
	defer cancel()

	var t transport.Transport
	var err error
	if isLaunch {
		if lt.ContainerName != "" {
			t, err = s.startInContainer(ctx, lt)
		} else {
			t, err = s.profile.SpawnForLaunch(ctx, lt, &obufStderrSink{s})
		}
		s.lastLaunch = lt
	} else {
		if at.ContainerName != "" {
			t, err = s.attachInContainer(ctx, at)
		} else {
			t, err = s.profile.SpawnForAttach(ctx, at)
		}
		s.lastAttach = at
	}
	if err != nil {
		s.setState(Failed)
		if be, ok := err.(*brokererr.Error); ok {
			return be
		}
		return brokererr.New(brokererr.KindAdapterError, err, "failed to start backend")
	}
	s.transport = t

	s.client = dapclient.NewClient(s.transport, s.handleEvent, nil)

	initArgs := s.profile.InitializeArgs()
	initResp, err := s.request(ctx, &godap.InitializeRequest{
		Request:   newRequest("initialize"),
		Arguments: initArgs,
	}, dapclient.DefaultLaunchTimeout)
	if err != nil {
		s.setState(Failed)
		return err
	}
	forceConfigDone := s.profile.ForceConfigurationDone()
	supportsConfigDone := forceConfigDone
	if ir, ok := initResp.(*godap.InitializeResponse); ok {
		supportsConfigDone = supportsConfigDone || ir.Body.SupportsConfigurationDoneRequest
	}

	if err := s.waitInitialized(ctx); err != nil {
		s.setState(Failed)
		if err == errAdapterExitedDuringInit {
			return err
		}
		return brokererr.New(brokererr.KindTimeout, err, "timed out waiting for initialized event")
	}

	// launch/attach request itself, per the DAP handshake order: adapters
	// expect launch/attach to be sent right after initialize, before
	// setBreakpoints.
	var startReq godap.RequestMessage
	if isLaunch {
		argsBody, err := s.profile.BuildLaunchArgs(lt)
		if err != nil {
			s.setState(Failed)
			return err
		}
		raw, err := marshalToRequestArgs(argsBody)
		if err != nil {
			s.setState(Failed)
			return err
		}
		startReq = &godap.LaunchRequest{Request: newRequest("launch"), Arguments: raw}
	} else {
		argsBody, err := s.profile.BuildAttachArgs(at)
		if err != nil {
			s.setState(Failed)
			return err
		}
		raw, err := marshalToRequestArgs(argsBody)
		if err != nil {
			s.setState(Failed)
			return err
		}
		startReq = &godap.AttachRequest{Request: newRequest("attach"), Arguments: raw}
	}
	if _, err := s.request(ctx, startReq, dapclient.DefaultLaunchTimeout); err != nil {
		s.setState(Failed)
		return err
	}

	for _, path := range s.breakpoints.Paths() {
		if err := s.sendSetBreakpoints(ctx, path); err != nil {
			s.setState(Failed)
			return err
		}
	}

	if _, err := s.request(ctx, &godap.SetExceptionBreakpointsRequest{
		Request:   newRequest("setExceptionBreakpoints"),
		Arguments: godap.SetExceptionBreakpointsArguments{Filters: []string{}},
	}, dapclient.DefaultTimeout); err != nil {
		s.log.WithError(err).Debug("setExceptionBreakpoints failed, continuing")
	}

	if supportsConfigDone || forceConfigDone {
		if _, err := s.request(ctx, &godap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}, dapclient.DefaultTimeout); err != nil {
			s.setState(Failed)
			return err
		}
	}

	s.stateMu.Lock()
	if s.state == Launching {
		s.state = Running
	}
	s.stateMu.Unlock()
	s.persist()
	return nil
}

type obufStderrSink struct{ s *Session }

func (o *obufStderrSink) Write(p []byte) (int, error) {
	o.s.output.Append(obuf.AdapterErr, p, time.Now().UnixNano())
	return len(p), nil
}

// newRequest builds a bare request envelope; the DAP client assigns the
// real sequence number when the request is sent.
func newRequest(command string) godap.Request {
	return godap.Request{
		ProtocolMessage: godap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// --- Breakpoints -------------------------------------------------------

// SetBreakpoints replaces the breakpoint set for path and, if the session
// is past the handshake, pushes it to the adapter. Per the resolved open
// question on a race with an in-flight step (spec.md:224), the call is
// accepted and recorded immediately but the adapter push itself waits
// for waitStepSettled: the request semaphore alone only serializes
// overlapping in-flight *requests*, not a step that has already been
// acknowledged and is still running on the adapter side, so a push that
// went out immediately after a step's ack could race the adapter before
// the matching stopped/continued event ever arrives.
func (s *Session) SetBreakpoints(ctx context.Context, path string, specs []BreakpointSpec) ([]Breakpoint, error) {
	if err := s.requireState(Created, Launching, Running, Stopped); err != nil {
		return nil, err
	}
	s.touch(nil)

	bps := make([]Breakpoint, len(specs))
	for i, sp := range specs {
		bps[i] = Breakpoint{Line: sp.Line, Condition: sp.Condition, HitCond: sp.HitCond}
	}
	s.breakpoints.Set(path, bps)

	if s.client == nil {
		// Not yet launched/attached: recorded for replay during the
		// handshake.
		s.persist()
		return s.breakpoints.Get(path), nil
	}
	if err := s.waitStepSettled(ctx); err != nil {
		return nil, err
	}
	if err := s.sendSetBreakpoints(ctx, path); err != nil {
		return nil, err
	}
	s.persist()
	return s.breakpoints.Get(path), nil
}

func (s *Session) sendSetBreakpoints(ctx context.Context, path string) error {
	bps := s.breakpoints.Get(path)
	srcBPs := make([]godap.SourceBreakpoint, len(bps))
	for i, bp := range bps {
		srcBPs[i] = godap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition, HitCondition: bp.HitCond}
	}

	resp, err := s.request(ctx, &godap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: godap.SetBreakpointsArguments{
			Source:      godap.Source{Path: path},
			Breakpoints: srcBPs,
		},
	}, dapclient.DefaultTimeout)
	if err != nil {
		return err
	}

	sbr, ok := resp.(*godap.SetBreakpointsResponse)
	if !ok {
		return nil
	}
	verified := make([]Breakpoint, len(sbr.Body.Breakpoints))
	for i, b := range sbr.Body.Breakpoints {
		line := b.Line
		cond, hit := "", ""
		if i < len(bps) {
			cond, hit = bps[i].Condition, bps[i].HitCond
		}
		verified[i] = Breakpoint{Line: line, Verified: b.Verified, AdapterID: b.Id, Condition: cond, HitCond: hit}
	}
	s.breakpoints.markVerified(path, verified)
	return nil
}

// ClearBreakpoints clears path's breakpoints, or every path if path=="".
func (s *Session) ClearBreakpoints(ctx context.Context, path string) (int, error) {
	if err := s.requireState(Created, Launching, Running, Stopped); err != nil {
		return 0, err
	}
	s.touch(nil)

	paths := []string{path}
	if path == "" {
		paths = s.breakpoints.Paths()
	}
	n := s.breakpoints.Clear(path)

	if s.client != nil {
		if err := s.waitStepSettled(ctx); err != nil {
			return 0, err
		}
		for _, p := range paths {
			_ = s.sendSetBreakpoints(ctx, p)
		}
	}
	s.persist()
	return n, nil
}

// --- Execution control ---------------------------------------------------

// Continue resumes execution. threadID=0 means all threads.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	if err := s.requireState(Stopped); err != nil {
		return err
	}
	s.touch(nil)
	_, err := s.request(ctx, &godap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: godap.ContinueArguments{ThreadId: threadID},
	}, dapclient.DefaultTimeout)
	if err != nil {
		return err
	}
	// Some adapters omit the "continued" event; reflect the transition
	// locally so pollers/state queries are never stale waiting on it.
	s.setState(Running)
	return nil
}

// StepMode is one of over/into/out, per spec.md 4.5.
type StepMode string

const (
	StepOver StepMode = "over"
	StepInto StepMode = "into"
	StepOut  StepMode = "out"
)

// Step issues a step request for mode against thread.
func (s *Session) Step(ctx context.Context, mode StepMode, threadID int) error {
	if err := s.requireState(Stopped); err != nil {
		return err
	}
	if threadID == 0 {
		return brokererr.New(brokererr.KindInvalidArgument, nil, "step requires a thread id")
	}
	s.touch(nil)

	var req godap.RequestMessage
	switch mode {
	case StepOver:
		req = &godap.NextRequest{Request: newRequest("next"), Arguments: godap.NextArguments{ThreadId: threadID}}
	case StepInto:
		req = &godap.StepInRequest{Request: newRequest("stepIn"), Arguments: godap.StepInArguments{ThreadId: threadID}}
	case StepOut:
		req = &godap.StepOutRequest{Request: newRequest("stepOut"), Arguments: godap.StepOutArguments{ThreadId: threadID}}
	default:
		return brokererr.New(brokererr.KindInvalidArgument, nil, "unknown step mode %q", mode)
	}
	s.beginStep()
	if _, err := s.request(ctx, req, dapclient.DefaultTimeout); err != nil {
		s.clearStep()
		return err
	}
	return nil
}

// Pause requests a pause; a stopped event with reason=pause follows
// asynchronously.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	if err := s.requireState(Running); err != nil {
		return err
	}
	s.touch(nil)
	_, err := s.request(ctx, &godap.PauseRequest{
		Request:   newRequest("pause"),
		Arguments: godap.PauseArguments{ThreadId: threadID},
	}, dapclient.DefaultTimeout)
	return err
}

// --- Inspection -----------------------------------------------------------

// StackTrace returns frames for thread, per spec.md 4.5.
func (s *Session) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]godap.StackFrame, error) {
	if err := s.requireState(Stopped); err != nil {
		return nil, err
	}
	s.touch(nil)
	resp, err := s.request(ctx, &godap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: godap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: startFrame,
			Levels:     levels,
		},
	}, dapclient.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	str, ok := resp.(*godap.StackTraceResponse)
	if !ok {
		return nil, brokererr.New(brokererr.KindAdapterError, nil, "unexpected stackTrace response type")
	}
	return str.Body.StackFrames, nil
}

// Scopes returns the variable scopes for frame.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]godap.Scope, error) {
	if err := s.requireState(Stopped); err != nil {
		return nil, err
	}
	s.touch(nil)
	resp, err := s.request(ctx, &godap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: godap.ScopesArguments{FrameId: frameID},
	}, dapclient.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	sr, ok := resp.(*godap.ScopesResponse)
	if !ok {
		return nil, brokererr.New(brokererr.KindAdapterError, nil, "unexpected scopes response type")
	}
	return sr.Body.Scopes, nil
}

const defaultValuePreviewLen = 256

// Variables returns the children of ref, optionally filtered/paged.
func (s *Session) Variables(ctx context.Context, ref int, filter string, start, count int) ([]godap.Variable, error) {
	if err := s.requireState(Stopped); err != nil {
		return nil, err
	}
	s.touch(nil)
	args := godap.VariablesArguments{VariablesReference: ref}
	if filter != "" {
		args.Filter = filter
	}
	if start > 0 {
		args.Start = start
	}
	if count > 0 {
		args.Count = count
	}
	resp, err := s.request(ctx, &godap.VariablesRequest{Request: newRequest("variables"), Arguments: args}, dapclient.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	vr, ok := resp.(*godap.VariablesResponse)
	if !ok {
		return nil, brokererr.New(brokererr.KindAdapterError, nil, "unexpected variables response type")
	}
	out := make([]godap.Variable, len(vr.Body.Variables))
	for i, v := range vr.Body.Variables {
		if len(v.Value) > defaultValuePreviewLen {
			v.Value = v.Value[:defaultValuePreviewLen]
		}
		out[i] = v
	}
	return out, nil
}

// EvalContext mirrors DAP's evaluate "context" values.
type EvalContext string

const (
	EvalWatch EvalContext = "watch"
	EvalRepl  EvalContext = "repl"
	EvalHover EvalContext = "hover"
)

// EvaluateResult is the (result, variablesReference, type) tuple of
// spec.md 4.5.
type EvaluateResult struct {
	Result             string
	Type               string
	VariablesReference int
}

// Evaluate evaluates expression in frame's context.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalCtx EvalContext) (EvaluateResult, error) {
	if err := s.requireState(Stopped); err != nil {
		return EvaluateResult{}, err
	}
	s.touch(nil)
	resp, err := s.request(ctx, &godap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: godap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    string(evalCtx),
		},
	}, dapclient.DefaultTimeout)
	if err != nil {
		return EvaluateResult{}, err
	}
	er, ok := resp.(*godap.EvaluateResponse)
	if !ok {
		return EvaluateResult{}, brokererr.New(brokererr.KindAdapterError, nil, "unexpected evaluate response type")
	}
	return EvaluateResult{Result: er.Body.Result, Type: er.Body.Type, VariablesReference: er.Body.VariablesReference}, nil
}

// FetchVariables implements inspect.Fetcher so the smart inspector can
// pull children without depending on the session package's internals.
func (s *Session) FetchVariables(ctx context.Context, ref int) ([]godap.Variable, error) {
	return s.Variables(ctx, ref, "", 0, 0)
}

// SmartInspect renders either a variablesReference directly, or an
// expression first evaluated in frame's context, per spec.md 4.9. Pass
// ref=0 and a non-empty expression to evaluate first.
func (s *Session) SmartInspect(ctx context.Context, ref int, expression string, frameID int, childBudget int) (inspect.Result, error) {
	if err := s.requireState(Stopped); err != nil {
		return inspect.Result{}, err
	}
	s.touch(nil)

	name, typeName, value := expression, "", ""
	if ref == 0 && expression != "" {
		res, err := s.Evaluate(ctx, expression, frameID, EvalRepl)
		if err != nil {
			return inspect.Result{}, err
		}
		ref = res.VariablesReference
		typeName = res.Type
		value = res.Result
	}
	return inspect.Render(ctx, s, name, typeName, ref, "", value, childBudget)
}

// FrameLocation holds a frame's name, absolute source path, line and
// column for call_chain's inline context window. Since fetching source
// text is outside DAP's surface here, it carries only the location; callers with
// filesystem access render the ±2 line window themselves.
type FrameLocation struct {
	Name   string
	Path   string
	Line   int
	Column int
}

// CallChain returns thread's frames (up to max, 0=unbounded), each
// reduced to a lazily-fetchable location.
func (s *Session) CallChain(ctx context.Context, threadID, max int) ([]FrameLocation, error) {
	frames, err := s.StackTrace(ctx, threadID, 0, max)
	if err != nil {
		return nil, err
	}
	out := make([]FrameLocation, len(frames))
	for i, f := range frames {
		loc := FrameLocation{Name: f.Name, Line: f.Line, Column: f.Column}
		if f.Source != nil {
			loc.Path = f.Source.Path
		}
		out[i] = loc
	}
	return out, nil
}

// --- Watches ----------------------------------------------------------

func (s *Session) WatchAdd(expr string) *Watch {
	s.touch(nil)
	return s.watches.Add(expr)
}

func (s *Session) WatchRemove(id string) bool {
	s.touch(nil)
	return s.watches.Remove(id)
}

func (s *Session) WatchList() []*Watch {
	return s.watches.List()
}

// WatchEvalAll evaluates every watch against frameID and returns the
// updated list.
func (s *Session) WatchEvalAll(ctx context.Context, frameID int) ([]*Watch, error) {
	if err := s.requireState(Stopped); err != nil {
		return nil, err
	}
	s.touch(nil)
	for _, w := range s.watches.List() {
		res, err := s.Evaluate(ctx, w.Expression, frameID, EvalWatch)
		if err != nil {
			s.watches.update(w.ID, "", errorMessage(err), frameID)
			continue
		}
		s.watches.update(w.ID, res.Result, "", frameID)
	}
	return s.watches.List(), nil
}

func (s *Session) evaluateAllWatches(ctx context.Context, threadID int) {
	if len(s.watches.List()) == 0 {
		return
	}
	frames, err := s.StackTrace(ctx, threadID, 0, 1)
	if err != nil || len(frames) == 0 {
		return
	}
	_, _ = s.WatchEvalAll(ctx, frames[0].Id)
}

func errorMessage(err error) string {
	if be, ok := err.(*brokererr.Error); ok {
		return be.Message
	}
	return err.Error()
}

// --- Events / output --------------------------------------------------

// PollEventsResult is the list-plus-next-offset shape of spec.md 4.5.
type PollEventsResult struct {
	Records []events.Record
	Next    int64
	Dropped int64
}

func (s *Session) PollEvents(ctx context.Context, sinceOffset int64, max int, waitMS int) PollEventsResult {
	s.touch(nil)
	recs, next := s.events.Since(sinceOffset, max, time.Duration(waitMS)*time.Millisecond)
	return PollEventsResult{Records: recs, Next: next, Dropped: s.events.Dropped()}
}

// OutputResult is the list-plus-next-offset-plus-dropped shape of
// spec.md 4.5.
type OutputResult struct {
	Records []obuf.Record
	Next    int64
	Dropped int64
}

func (s *Session) GetOutput(stream obuf.Stream, sinceOffset int64, max int) OutputResult {
	s.touch(nil)
	recs, next, dropped := s.output.Since(sinceOffset, max, stream)
	return OutputResult{Records: recs, Next: next, Dropped: dropped}
}

// --- Termination --------------------------------------------------------

// Terminate is idempotent: it requests disconnect{terminateDebuggee:true}
// then closes the transport, moving to TERMINATED regardless of the
// adapter's response. A FAILED session stays FAILED.
func (s *Session) Terminate(ctx context.Context) error {
	var err error
	s.terminateOnce.Do(func() {
		if s.client != nil {
			reqCtx, cancel := context.WithTimeout(ctx, dapclient.DefaultTimeout)
			_, _ = s.request(reqCtx, &godap.DisconnectRequest{
				Request:   newRequest("disconnect"),
				Arguments: godap.DisconnectArguments{TerminateDebuggee: true},
			}, dapclient.DefaultTimeout)
			cancel()
			err = s.client.Close()
		} else if s.transport != nil {
			err = s.transport.Close()
		}
		if s.containerForward != nil {
			if ferr := s.containerForward.Close(); ferr != nil {
				s.log.WithError(ferr).Warn("failed to tear down container port forward")
			}
		}
		s.setState(Terminated)
		s.clearStep()
		s.events.Close()
	})
	return err
}
