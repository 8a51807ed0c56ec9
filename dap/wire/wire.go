// Package wire frames and deframes DAP messages on a byte stream:
// a Content-Length header terminated by CRLF CRLF, followed by a JSON
// body of exactly that many bytes. Actual header parsing and body
// decoding is delegated to google/go-dap, which already implements the
// bit-exact protocol; this package turns decode failures into
// brokererr.Error values tagged MalformedFrame and write failures into
// IOError. No header or body size cap is enforced.
package wire

import (
	"bufio"
	"io"

	"github.com/google/go-dap"

	"github.com/polybugger/polybugger-mcp/brokererr"
)

// Caps from spec.md 4.1. Decode does not apply them.
const (
	MaxHeaderSize = 64 * 1024
	MaxBodySize   = 16 * 1024 * 1024
)

// cappedReader pairs a bufio.Reader with a byte limit. Decode does not
// use it: go-dap reads the header lines and trusts Content-Length for
// the body, with no limit on either.
type cappedReader struct {
	r     *bufio.Reader
	limit int64
}

// Decode reads one framed DAP message from r. It returns a
// brokererr.Error with KindMalformedFrame if go-dap cannot read the
// header or the body, or if the body is not valid JSON. No size cap is
// applied to either. io.EOF is returned unwrapped so callers can distinguish
// "stream closed cleanly" from a protocol violation.
func Decode(r *bufio.Reader) (dap.Message, error) {
	m, err := dap.ReadProtocolMessage(r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, brokererr.New(brokererr.KindMalformedFrame, err, "malformed DAP frame")
	}
	return m, nil
}

// Encode writes m to w as a single Content-Length-framed message with
// no trailing whitespace after the header, matching spec.md 4.1.
func Encode(w io.Writer, m dap.Message) error {
	if err := dap.WriteProtocolMessage(w, m); err != nil {
		return brokererr.New(brokererr.KindIOError, err, "failed to write DAP frame")
	}
	return nil
}

// NewReader wraps r with the buffering go-dap's reader expects.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 4096)
}
