// Package brokererr defines the error taxonomy shared by every broker
// component, per the kinds enumerated in the specification's error
// handling design.
package brokererr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error without requiring callers to do type
// assertions against concrete Go types.
type Kind string

const (
	KindInvalidArgument     Kind = "invalid_argument"
	KindFailedPrecondition  Kind = "failed_precondition"
	KindNotFound            Kind = "not_found"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindTimeout             Kind = "timeout"
	KindCancelled           Kind = "cancelled"
	KindDisconnected        Kind = "disconnected"
	KindAdapterError        Kind = "adapter_error"
	KindRuntimeUnavailable  Kind = "runtime_unavailable"
	KindContainerNotFound   Kind = "container_not_found"
	KindInjectionFailed     Kind = "injection_failed"
	KindPortAllocationError Kind = "port_allocation_failed"
	KindMalformedFrame      Kind = "malformed_frame"
	KindIOError             Kind = "io_error"
	KindCorrupted           Kind = "corrupted"
)

// Error is the user-visible error shape: {kind, message, session_id?,
// command?}. Adapter messages are carried through verbatim in Message.
type Error struct {
	Kind      Kind
	Message   string
	SessionID string
	Command   string
	Cause     error
}

func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (session=%s)", e.Kind, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind, wrapping cause (which may be
// nil) so that errors.Is/errors.As keep working against the original.
func New(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    kind,
		Message: msg,
		Cause:   cause,
	}
}

// WithSession attaches a session id to an Error, returning a copy.
func (e *Error) WithSession(id string) *Error {
	cp := *e
	cp.SessionID = id
	return &cp
}

// WithCommand attaches the DAP command that produced the error.
func (e *Error) WithCommand(cmd string) *Error {
	cp := *e
	cp.Command = cmd
	return &cp
}

// Is allows errors.Is(err, brokererr.KindTimeout) style checks by
// comparing Kind when the target is itself an *Error with no cause set.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Cause == nil
}

// Sentinel returns a comparable *Error of the given kind with no
// message, used as an errors.Is target.
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// FailedPrecondition builds the state-mismatch error described in
// spec.md 4.5: current state vs. the set of states the operation
// requires.
func FailedPrecondition(current string, required ...string) *Error {
	return New(KindFailedPrecondition, nil, "invalid state %s, requires one of %v", current, required)
}

// Wrap is a thin helper around pkg/errors.Wrap that keeps the broker's
// wrapping style consistent with the teacher's use of that package.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   errors.Wrap(err, message),
	}
}
