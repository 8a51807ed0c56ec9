package session

import (
	"github.com/polybugger/polybugger-mcp/brokererr"
)

// State is one of the session lifecycle states, per spec.md 3.
type State string

const (
	Created    State = "CREATED"
	Launching  State = "LAUNCHING"
	Running    State = "RUNNING"
	Stopped    State = "STOPPED"
	Terminated State = "TERMINATED"
	Failed     State = "FAILED"
)

// transitions enumerates the valid edges of the state machine. Events
// (stopped/continued/terminated) drive some transitions directly from
// the DAP client's reader loop; others are driven by explicit operation
// calls. Both paths funnel through setState so the invariant in
// spec.md 8 property 1 (every observed sequence is a valid path) holds
// regardless of which side initiated the move.
var transitions = map[State]map[State]bool{
	Created:   {Launching: true, Terminated: true},
	Launching: {Running: true, Stopped: true, Failed: true, Terminated: true},
	Running:   {Stopped: true, Terminated: true, Failed: true},
	Stopped:   {Running: true, Terminated: true, Failed: true},
	// Terminated and Failed are terminal; no outgoing edges.
}

func canTransition(from, to State) bool {
	if from == to {
		return false
	}
	return transitions[from][to]
}

// terminal reports whether a state has no outgoing edges.
func terminal(s State) bool {
	return s == Terminated || s == Failed
}

func requireOneOf(current State, allowed ...State) error {
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	strs := make([]string, len(allowed))
	for i, s := range allowed {
		strs[i] = string(s)
	}
	return brokererr.FailedPrecondition(string(current), strs...)
}
