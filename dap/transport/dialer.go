package transport

import (
	"context"
	"net"
)

// NetDialer adapts the standard library's net.Dialer to the Dialer
// interface so tests can substitute a fake without touching real
// sockets.
type NetDialer struct {
	net.Dialer
}

func (d NetDialer) DialContext(ctx context.Context, network, address string) (Conn, error) {
	return d.Dialer.DialContext(ctx, network, address)
}
