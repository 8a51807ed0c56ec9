// Package transport implements the two DAP transport variants spec'd in
// 4.2: spawn-and-pipe over a child process's stdio, and a plain TCP
// connection. Both are framed by dap/wire and exposed through the same
// Transport interface so the DAP client in the parent dap package never
// has to know which one it's talking to.
//
// The shape is grounded on the teacher's dap/conn.go: a reader goroutine
// feeding a buffered channel, and a writer goroutine draining a send
// channel, supervised by an errgroup.
package transport

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/dap/wire"
)

// Transport is the minimal surface the DAP client needs: frame-level
// send/receive plus lifecycle signals. It does not interpret message
// contents.
type Transport interface {
	Send(m dap.Message) error
	Receive(ctx context.Context) (dap.Message, error)
	// Exited fires when the underlying process exits or the socket
	// closes, independent of any Close call from this side.
	Exited() <-chan struct{}
	Close() error
}

type pipeTransport struct {
	recvCh <-chan dap.Message
	sendCh chan<- dap.Message
	exited chan struct{}

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once

	closeFn func() error
}

func newPipeTransport(r io.Reader, w io.Writer, onClose func() error) *pipeTransport {
	recvCh := make(chan dap.Message, 64)
	sendCh := make(chan dap.Message, 64)
	ctx, cancel := context.WithCancelCause(context.Background())

	t := &pipeTransport{
		recvCh:  recvCh,
		sendCh:  sendCh,
		exited:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		closeFn: onClose,
	}

	go func() {
		defer close(recvCh)
		defer t.markExited()

		br := wire.NewReader(r)
		for {
			m, err := wire.Decode(br)
			if err != nil {
				return
			}
			select {
			case recvCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	t.eg, _ = errgroup.WithContext(ctx)
	t.eg.Go(func() error {
		for {
			select {
			case m, ok := <-sendCh:
				if !ok {
					return nil
				}
				if err := wire.Encode(w, m); err != nil {
					return err
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	t.sendCh = sendCh
	return t
}

func (t *pipeTransport) markExited() {
	t.once.Do(func() { close(t.exited) })
}

func (t *pipeTransport) Send(m dap.Message) error {
	select {
	case t.sendCh <- m:
		return nil
	case <-t.ctx.Done():
		return brokererr.New(brokererr.KindDisconnected, context.Cause(t.ctx), "transport closed")
	}
}

func (t *pipeTransport) Receive(ctx context.Context) (dap.Message, error) {
	select {
	case m, ok := <-t.recvCh:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, io.EOF
	}
}

func (t *pipeTransport) Exited() <-chan struct{} {
	return t.exited
}

func (t *pipeTransport) Close() error {
	t.cancel(errors.New("transport closed"))
	var err error
	if t.closeFn != nil {
		err = t.closeFn()
	}
	_ = t.eg.Wait()
	return err
}

// ChildStdio spawns cmd and returns a Transport speaking DAP over its
// stdin/stdout. Stderr is drained into stderrSink (typically the
// session's output buffer, tagged adapter-stderr) rather than discarded.
func ChildStdio(cmd *exec.Cmd, stderrSink io.Writer) (Transport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, brokererr.New(brokererr.KindIOError, err, "failed to open adapter stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, brokererr.New(brokererr.KindIOError, err, "failed to open adapter stdout")
	}
	if stderrSink != nil {
		cmd.Stderr = stderrSink
	}

	if err := cmd.Start(); err != nil {
		return nil, brokererr.New(brokererr.KindRuntimeUnavailable, err, "failed to start debug adapter %s", cmd.Path)
	}

	t := newPipeTransport(stdout, stdin, func() error {
		_ = stdin.Close()
		return cmd.Process.Kill()
	})

	go func() {
		_ = cmd.Wait()
		t.markExited()
	}()

	return t, nil
}

// Stream wraps an arbitrary reader/writer pair (e.g. a Kubernetes exec
// stream) as a Transport, closed via closeFn.
func Stream(r io.Reader, w io.Writer, closeFn func() error) Transport {
	return newPipeTransport(r, w, closeFn)
}

// TCP connects to host:port and returns a Transport speaking DAP over
// the resulting socket in both directions.
func TCP(ctx context.Context, dialer Dialer, addr string) (Transport, error) {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, brokererr.New(brokererr.KindDisconnected, err, "failed to connect to adapter at %s", addr)
	}
	return newPipeTransport(conn, conn, conn.Close), nil
}

// Dialer abstracts net.Dialer for testability.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (Conn, error)
}

// Conn is the subset of net.Conn a Transport needs.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}
