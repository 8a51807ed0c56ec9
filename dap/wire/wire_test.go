package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/brokererr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "initialize",
		},
		Arguments: dap.InitializeRequestArguments{ClientID: "polybugger-mcp"},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, req))

	got, err := Decode(NewReader(&buf))
	require.NoError(t, err)

	gotReq, ok := got.(*dap.InitializeRequest)
	require.True(t, ok)
	require.Equal(t, req.Arguments.ClientID, gotReq.Arguments.ClientID)
	require.Equal(t, req.Seq, gotReq.Seq)
}

func TestDecodeEOF(t *testing.T) {
	_, err := Decode(NewReader(&bytes.Buffer{}))
	require.Equal(t, io.EOF, err)
}

func TestDecodeMalformedFrame(t *testing.T) {
	r := NewReader(bytes.NewBufferString("not a dap frame at all\r\n\r\n"))
	_, err := Decode(r)
	require.Error(t, err)

	be, ok := err.(*brokererr.Error)
	require.True(t, ok)
	require.Equal(t, brokererr.KindMalformedFrame, be.Kind)
}

func TestDecodeTruncatedBodyFails(t *testing.T) {
	// A Content-Length that claims far more than is actually supplied
	// surfaces as a malformed frame rather than hanging waiting for
	// bytes that never arrive.
	body := "Content-Length: 99999999\r\n\r\n{}"
	_, err := Decode(NewReader(bytes.NewBufferString(body)))
	require.Error(t, err)
}
