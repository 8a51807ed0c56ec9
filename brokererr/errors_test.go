package brokererr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindNotFound, nil, "session %q not found", "abc")
	require.Equal(t, "not_found: session \"abc\" not found", err.Error())

	withSession := err.WithSession("abc")
	require.Equal(t, "not_found: session \"abc\" not found (session=abc)", withSession.Error())
	require.Equal(t, "", err.SessionID, "WithSession must not mutate the receiver")
}

func TestErrorIsSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindTimeout, cause, "request timed out").WithCommand("continue")

	require.True(t, errors.Is(err, Sentinel(KindTimeout)))
	require.False(t, errors.Is(err, Sentinel(KindCancelled)))
	require.ErrorIs(t, err, cause)
}

func TestFailedPrecondition(t *testing.T) {
	err := FailedPrecondition("stopped", "running")
	require.Equal(t, KindFailedPrecondition, err.Kind)
	require.Contains(t, err.Error(), "stopped")
	require.Contains(t, err.Error(), "running")
}

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, KindIOError, "failed to write snapshot")
	require.Equal(t, KindIOError, err.Kind)
	require.ErrorIs(t, err, cause)
}
