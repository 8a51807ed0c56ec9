package adapter

import "net"

// FreePort asks the OS for an ephemeral TCP port and releases it
// immediately; used by profiles that must pick a port before spawning a
// backend that will listen on it (debugpy, js-debug), and by the
// container bridge when allocating a local forward target.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
