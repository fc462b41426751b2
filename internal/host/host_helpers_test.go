package host

import (
	"bytes"
	"testing"

	"github.com/veloxdb/rpc/internal/wire/codec"
)

func buildConnectRequest(t *testing.T, serviceName string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.WriteU16(FormatVersion)
	w.WriteU8(uint8(RequestKindConnect))
	w.WriteString(&serviceName)
	if err := w.Err(); err != nil {
		t.Fatalf("build connect request: %v", err)
	}
	return buf.Bytes()
}

func buildEchoOperationRequest(t *testing.T, arg string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.WriteU16(FormatVersion)
	w.WriteU8(uint8(RequestKindOperation))
	w.WriteU16(0) // interfaceId, unused by this dispatcher implementation
	w.WriteU16(0) // operationId 0 == Echo, the sole discovered operation
	w.WriteString(&arg)
	if err := w.Err(); err != nil {
		t.Fatalf("build echo operation request: %v", err)
	}
	return buf.Bytes()
}
