// Package http is the HTTP surface expansion of C12, per spec.md 6 and
// SPEC_FULL.md 4.11: a thin net/http mux with one path per uniform
// operation, POST except the list/get routes, translating
// frontend.Dispatcher calls and brokererr.Kind into the status codes
// spec.md 6 names.
//
// net/http is a deliberate standard-library choice, not a gap: no repo
// in the pack reaches for a router/framework for an admin-style JSON
// surface this small, and spec.md 1 frames the HTTP surface itself as a
// narrow, external collaborator.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/container"
	"github.com/polybugger/polybugger-mcp/frontend"
	"github.com/polybugger/polybugger-mcp/session"
)

// Server wires a frontend.Dispatcher onto an http.ServeMux.
type Server struct {
	Dispatcher *frontend.Dispatcher
	Log        *logrus.Entry
	mux        *http.ServeMux
}

// NewServer builds a Server with every route of spec.md 6 registered.
func NewServer(d *frontend.Dispatcher, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{Dispatcher: d, Log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /sessions", s.handle(s.listSessions))
	s.mux.HandleFunc("POST /sessions", s.handle(s.createSession))
	s.mux.HandleFunc("GET /sessions/{id}", s.handle(s.getSession))
	s.mux.HandleFunc("POST /sessions/{id}/set_breakpoints", s.handle(s.setBreakpoints))
	s.mux.HandleFunc("POST /sessions/{id}/clear_breakpoints", s.handle(s.clearBreakpoints))
	s.mux.HandleFunc("POST /sessions/{id}/launch", s.handle(s.launch))
	s.mux.HandleFunc("POST /sessions/{id}/attach", s.handle(s.attach))
	s.mux.HandleFunc("POST /sessions/{id}/continue", s.handle(s.continue_))
	s.mux.HandleFunc("POST /sessions/{id}/step", s.handle(s.step))
	s.mux.HandleFunc("POST /sessions/{id}/pause", s.handle(s.pause))
	s.mux.HandleFunc("GET /sessions/{id}/stacktrace", s.handle(s.stackTrace))
	s.mux.HandleFunc("GET /sessions/{id}/scopes", s.handle(s.scopes))
	s.mux.HandleFunc("GET /sessions/{id}/variables", s.handle(s.variables))
	s.mux.HandleFunc("POST /sessions/{id}/evaluate", s.handle(s.evaluate))
	s.mux.HandleFunc("POST /sessions/{id}/smart_inspect", s.handle(s.smartInspect))
	s.mux.HandleFunc("GET /sessions/{id}/call_chain", s.handle(s.callChain))
	s.mux.HandleFunc("POST /sessions/{id}/watch_add", s.handle(s.watchAdd))
	s.mux.HandleFunc("POST /sessions/{id}/watch_remove", s.handle(s.watchRemove))
	s.mux.HandleFunc("GET /sessions/{id}/watch_list", s.handle(s.watchList))
	s.mux.HandleFunc("POST /sessions/{id}/watch_eval_all", s.handle(s.watchEvalAll))
	s.mux.HandleFunc("GET /sessions/{id}/poll_events", s.handle(s.pollEvents))
	s.mux.HandleFunc("GET /sessions/{id}/output", s.handle(s.getOutput))
	s.mux.HandleFunc("POST /sessions/{id}/terminate", s.handle(s.terminate))
	s.mux.HandleFunc("GET /containers/{runtime}/{container}/processes", s.handle(s.listProcesses))
	s.mux.HandleFunc("GET /health", s.handle(s.health))
}

// health implements the front-end's health/status operation
// (SPEC_FULL.md 4.6): registry capacity, per-state counts, and the
// oldest idle session.
func (s *Server) health(r *http.Request) (any, error) {
	return s.Dispatcher.GetHealth(r.Context()), nil
}

// handle wraps a route's body with uniform JSON-in/JSON-out and error
// mapping, per spec.md 6's status-code table.
func (s *Server) handle(fn func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := fn(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if result != nil {
			if err := json.NewEncoder(w).Encode(result); err != nil {
				s.Log.WithError(err).Warn("failed to encode response body")
			}
		}
	}
}

// writeError maps a brokererr.Kind to spec.md 6's status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	be, ok := err.(*brokererr.Error)
	if !ok {
		be = brokererr.New(brokererr.KindAdapterError, err, "%s", err.Error())
	}

	status := http.StatusInternalServerError
	switch be.Kind {
	case brokererr.KindInvalidArgument:
		status = http.StatusBadRequest
	case brokererr.KindNotFound, brokererr.KindContainerNotFound:
		status = http.StatusNotFound
	case brokererr.KindFailedPrecondition:
		status = http.StatusConflict
	case brokererr.KindTimeout:
		status = http.StatusRequestTimeout
	case brokererr.KindCapacityExceeded:
		status = http.StatusTooManyRequests
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"kind":       be.Kind,
		"message":    be.Message,
		"session_id": be.SessionID,
		"command":    be.Command,
	})
}

func pathID(r *http.Request) string { return r.PathValue("id") }

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return brokererr.New(brokererr.KindInvalidArgument, err, "malformed request body")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) listSessions(r *http.Request) (any, error) {
	return s.Dispatcher.ListSessions(r.Context()), nil
}

func (s *Server) createSession(r *http.Request) (any, error) {
	var req frontend.CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.Dispatcher.CreateSession(r.Context(), req)
}

func (s *Server) getSession(r *http.Request) (any, error) {
	return s.Dispatcher.GetSession(r.Context(), pathID(r))
}

func (s *Server) setBreakpoints(r *http.Request) (any, error) {
	var req struct {
		Path        string                  `json:"path"`
		Breakpoints []session.BreakpointSpec `json:"breakpoints"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.Dispatcher.SetBreakpoints(r.Context(), pathID(r), req.Path, req.Breakpoints)
}

func (s *Server) clearBreakpoints(r *http.Request) (any, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	count, err := s.Dispatcher.ClearBreakpoints(r.Context(), pathID(r), req.Path)
	if err != nil {
		return nil, err
	}
	return map[string]int{"count": count}, nil
}

func (s *Server) launch(r *http.Request) (any, error) {
	var target adapter.LaunchTarget
	if err := decodeBody(r, &target); err != nil {
		return nil, err
	}
	return nil, s.Dispatcher.Launch(r.Context(), pathID(r), target)
}

func (s *Server) attach(r *http.Request) (any, error) {
	var target adapter.AttachTarget
	if err := decodeBody(r, &target); err != nil {
		return nil, err
	}
	return nil, s.Dispatcher.Attach(r.Context(), pathID(r), target)
}

func (s *Server) continue_(r *http.Request) (any, error) {
	var req struct {
		ThreadID int `json:"thread_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, s.Dispatcher.Continue(r.Context(), pathID(r), req.ThreadID)
}

func (s *Server) step(r *http.Request) (any, error) {
	var req struct {
		Mode     session.StepMode `json:"mode"`
		ThreadID int              `json:"thread_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, s.Dispatcher.Step(r.Context(), pathID(r), req.Mode, req.ThreadID)
}

func (s *Server) pause(r *http.Request) (any, error) {
	var req struct {
		ThreadID int `json:"thread_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return nil, s.Dispatcher.Pause(r.Context(), pathID(r), req.ThreadID)
}

func (s *Server) stackTrace(r *http.Request) (any, error) {
	threadID := queryInt(r, "thread_id", 0)
	start := queryInt(r, "start_frame", 0)
	levels := queryInt(r, "levels", 0)
	return s.Dispatcher.StackTrace(r.Context(), pathID(r), threadID, start, levels)
}

func (s *Server) scopes(r *http.Request) (any, error) {
	frameID := queryInt(r, "frame_id", 0)
	return s.Dispatcher.Scopes(r.Context(), pathID(r), frameID)
}

func (s *Server) variables(r *http.Request) (any, error) {
	ref := queryInt(r, "ref", 0)
	filter := r.URL.Query().Get("filter")
	start := queryInt(r, "start", 0)
	count := queryInt(r, "count", 0)
	return s.Dispatcher.Variables(r.Context(), pathID(r), ref, filter, start, count)
}

func (s *Server) evaluate(r *http.Request) (any, error) {
	var req struct {
		Expression string              `json:"expression"`
		FrameID    int                 `json:"frame_id"`
		Context    session.EvalContext `json:"context"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.Dispatcher.Evaluate(r.Context(), pathID(r), req.Expression, req.FrameID, req.Context)
}

func (s *Server) smartInspect(r *http.Request) (any, error) {
	var req struct {
		Ref        int    `json:"ref"`
		Expression string `json:"expression"`
		FrameID    int    `json:"frame_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.Dispatcher.SmartInspect(r.Context(), pathID(r), req.Ref, req.Expression, req.FrameID)
}

func (s *Server) callChain(r *http.Request) (any, error) {
	threadID := queryInt(r, "thread_id", 0)
	max := queryInt(r, "max", 0)
	return s.Dispatcher.CallChain(r.Context(), pathID(r), threadID, max)
}

func (s *Server) watchAdd(r *http.Request) (any, error) {
	var req struct {
		Expression string `json:"expression"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.Dispatcher.WatchAdd(r.Context(), pathID(r), req.Expression)
}

func (s *Server) watchRemove(r *http.Request) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	removed, err := s.Dispatcher.WatchRemove(r.Context(), pathID(r), req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"removed": removed}, nil
}

func (s *Server) watchList(r *http.Request) (any, error) {
	return s.Dispatcher.WatchList(r.Context(), pathID(r))
}

func (s *Server) watchEvalAll(r *http.Request) (any, error) {
	frameID := queryInt(r, "frame_id", 0)
	return s.Dispatcher.WatchEvalAll(r.Context(), pathID(r), frameID)
}

func (s *Server) pollEvents(r *http.Request) (any, error) {
	since := queryInt64(r, "since_offset", 0)
	max := queryInt(r, "max", 0)
	waitMS := queryInt(r, "wait_ms", 0)

	ctx, cancel := context.WithTimeout(r.Context(), frontend.MaxPollWait)
	defer cancel()
	return s.Dispatcher.PollEvents(ctx, pathID(r), since, max, waitMS)
}

func (s *Server) getOutput(r *http.Request) (any, error) {
	stream := r.URL.Query().Get("stream")
	since := queryInt64(r, "since_offset", 0)
	max := queryInt(r, "max", 0)
	return s.Dispatcher.GetOutput(r.Context(), pathID(r), stream, since, max)
}

func (s *Server) terminate(r *http.Request) (any, error) {
	return nil, s.Dispatcher.Terminate(r.Context(), pathID(r))
}

func (s *Server) listProcesses(r *http.Request) (any, error) {
	runtime := container.Runtime(r.PathValue("runtime"))
	target := container.Target{
		Container: r.PathValue("container"),
		Namespace: r.URL.Query().Get("namespace"),
		Language:  adapter.Language(r.URL.Query().Get("language")),
	}
	procs, err := s.Dispatcher.ListProcesses(r.Context(), runtime, target)
	if err != nil {
		return nil, err
	}
	return procs, nil
}
