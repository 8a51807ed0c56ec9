package dap

import (
	"context"
	"net"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// pipePair wires two Transports over an in-memory net.Pipe, giving
// tests a fake DAP peer without spawning a real debug adapter.
func pipePair(t *testing.T) (client, peer transport.Transport) {
	t.Helper()
	a, b := net.Pipe()
	client = transport.Stream(a, a, a.Close)
	peer = transport.Stream(b, b, b.Close)
	return client, peer
}

func TestRequestResponseRoundTrip(t *testing.T) {
	clientTransport, peer := pipePair(t)
	c := NewClient(clientTransport, nil, nil)
	defer c.Close()

	go func() {
		m, err := peer.Receive(context.Background())
		require.NoError(t, err)
		req := m.(*godap.InitializeRequest)
		resp := &godap.InitializeResponse{
			Response: godap.Response{
				ProtocolMessage: godap.ProtocolMessage{Seq: 1, Type: "response"},
				RequestSeq:      req.Seq,
				Success:         true,
				Command:         "initialize",
			},
		}
		_ = peer.Send(resp)
	}()

	resp, err := c.Request(context.Background(), &godap.InitializeRequest{
		Request:   godap.Request{Command: "initialize"},
		Arguments: godap.InitializeRequestArguments{ClientID: "polybugger-mcp"},
	}, time.Second)
	require.NoError(t, err)
	require.True(t, resp.GetResponse().Success)
}

func TestRequestFailureSurfacesAdapterError(t *testing.T) {
	clientTransport, peer := pipePair(t)
	c := NewClient(clientTransport, nil, nil)
	defer c.Close()

	go func() {
		m, err := peer.Receive(context.Background())
		require.NoError(t, err)
		req := m.(*godap.ContinueRequest)
		resp := &godap.ContinueResponse{
			Response: godap.Response{
				ProtocolMessage: godap.ProtocolMessage{Seq: 1, Type: "response"},
				RequestSeq:      req.Seq,
				Success:         false,
				Message:         "no such thread",
				Command:         "continue",
			},
		}
		_ = peer.Send(resp)
	}()

	_, err := c.Request(context.Background(), &godap.ContinueRequest{
		Request: godap.Request{Command: "continue"},
	}, time.Second)
	require.Error(t, err)
	be, ok := err.(*brokererr.Error)
	require.True(t, ok)
	require.Equal(t, brokererr.KindAdapterError, be.Kind)
	require.Equal(t, "continue", be.Command)
}

func TestRequestTimeout(t *testing.T) {
	clientTransport, peer := pipePair(t)
	c := NewClient(clientTransport, nil, nil)
	defer c.Close()
	defer peer.Close()

	_, err := c.Request(context.Background(), &godap.PauseRequest{
		Request: godap.Request{Command: "pause"},
	}, 20*time.Millisecond)
	require.Error(t, err)
	be, ok := err.(*brokererr.Error)
	require.True(t, ok)
	require.Equal(t, brokererr.KindTimeout, be.Kind)
}

func TestEventsDispatchedToHandler(t *testing.T) {
	clientTransport, peer := pipePair(t)
	events := make(chan godap.EventMessage, 4)
	c := NewClient(clientTransport, func(ev godap.EventMessage) { events <- ev }, nil)
	defer c.Close()

	_ = peer.Send(&godap.StoppedEvent{
		Event: ptyEvent("stopped"),
		Body:  godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
	})

	select {
	case ev := <-events:
		se := ev.(*godap.StoppedEvent)
		require.Equal(t, "breakpoint", se.Body.Reason)
	case <-time.After(time.Second):
		t.Fatal("event was not dispatched")
	}
}

func TestDisconnectFailsPendingRequests(t *testing.T) {
	clientTransport, peer := pipePair(t)
	c := NewClient(clientTransport, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), &godap.PauseRequest{
			Request: godap.Request{Command: "pause"},
		}, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, peer.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		be, ok := err.(*brokererr.Error)
		require.True(t, ok)
		require.Equal(t, brokererr.KindDisconnected, be.Kind)
	case <-time.After(time.Second):
		t.Fatal("pending request did not fail after disconnect")
	}
}

func ptyEvent(event string) godap.Event {
	return godap.Event{
		ProtocolMessage: godap.ProtocolMessage{Seq: 1, Type: "event"},
		Event:           event,
	}
}
