package session

import (
	"context"
	"time"

	godap "github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/session/obuf"
	"github.com/polybugger/polybugger-mcp/session/events"
)

// handleEvent is the dap.Client's EventHandler for this session. It runs on
// the client's single reader goroutine, so it must never block on a DAP
// request; it only updates local state, appends buffer records, and wakes
// any goroutine waiting on the initialized signal.
func (s *Session) handleEvent(ev godap.EventMessage) {
	now := time.Now().UnixNano()

	switch e := ev.(type) {
	case *godap.InitializedEvent:
		s.initOnce.Do(func() { close(s.initialized) })

	case *godap.StoppedEvent:
		s.stateMu.Lock()
		s.stopCtx = &StopContext{
			ThreadID: e.Body.ThreadId,
			Reason:   e.Body.Reason,
			HitBPIDs: e.Body.HitBreakpointIds,
		}
		s.stateMu.Unlock()
		s.setState(Stopped)
		s.clearStep()
		s.events.Append(events.Stopped, e.Body, now)
		s.eg.Go(func() error {
			s.evaluateAllWatches(context.Background(), e.Body.ThreadId)
			return nil
		})

	case *godap.ContinuedEvent:
		s.setState(Running)
		s.clearStep()
		s.events.Append(events.Continued, e.Body, now)

	case *godap.TerminatedEvent:
		s.setState(Terminated)
		s.clearStep()
		s.events.Append(events.Terminated, e.Body, now)
		s.events.Close()
		s.eg.Go(func() error { return s.transport.Close() })

	case *godap.ExitedEvent:
		s.setState(Terminated)
		s.clearStep()
		s.events.Append(events.Exited, e.Body, now)
		s.events.Close()
		s.eg.Go(func() error { return s.transport.Close() })

	case *godap.ThreadEvent:
		s.threadsMu.Lock()
		if e.Body.Reason == "started" {
			s.threads[e.Body.ThreadId] = true
		} else {
			delete(s.threads, e.Body.ThreadId)
		}
		s.threadsMu.Unlock()
		s.events.Append(events.Thread, e.Body, now)

	case *godap.OutputEvent:
		stream := obuf.Stdout
		switch e.Body.Category {
		case "stderr":
			stream = obuf.Stderr
		case "console":
			stream = obuf.Console
		case "telemetry":
			stream = obuf.Telemetry
		}
		s.output.Append(stream, []byte(e.Body.Output), now)
		s.events.Append(events.OutputAvailable, nil, now)

	case *godap.ModuleEvent:
		s.events.Append(events.Module, e.Body, now)

	case *godap.BreakpointEvent:
		s.events.Append(events.BreakpointChange, e.Body, now)

	default:
		// Unrecognised or adapter-specific event; ignored rather than failed,
		// per the broker's posture of tolerating adapter quirks.
	}
}

// waitInitialized blocks until the adapter has sent the initialized event,
// or ctx is done / the transport disconnects.
func (s *Session) waitInitialized(ctx context.Context) error {
	select {
	case <-s.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.client.Exited():
		return errAdapterExitedDuringInit
	}
}
