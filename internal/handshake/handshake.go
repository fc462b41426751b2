// Package handshake builds and parses the Connect request/response
// envelope (spec.md §4.6 step 1-3), the pre-operation exchange that
// establishes which service a connection is bound to and lets both
// peers confirm their locally discovered schemas agree.
//
// Grounded on the teacher's internal/rtmp/handshake package (ClientHandshake/
// ServerHandshake, C0/C1/C2 + S0/S1/S2 byte exchange), re-scoped the way
// SPEC_FULL.md §2 describes: the fixed-size timestamp/random handshake
// packets have no place in this protocol, so the exchange becomes a single
// request/response pair naming the service and carrying its descriptor,
// but the package keeps the teacher's separation of "build the envelope"
// (here) from "drive the state machine" (internal/host, internal/client).
package handshake

import (
	"bytes"

	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/host"
	"github.com/veloxdb/rpc/internal/protocol/schema"
	"github.com/veloxdb/rpc/internal/wire/codec"
)

// EncodeConnectRequest writes a Connect request envelope naming
// serviceName (spec.md §6's {formatVersion, requestKind=Connect,
// serviceName} header).
func EncodeConnectRequest(w *codec.Writer, serviceName string) {
	w.WriteU16(host.FormatVersion)
	w.WriteU8(uint8(host.RequestKindConnect))
	w.WriteString(&serviceName)
}

// DecodeConnectRequest parses the envelope EncodeConnectRequest wrote,
// without consuming the leading formatVersion/requestKind fields (the
// caller, internal/host.Dispatcher, has already branched on those).
func DecodeConnectRequest(r *codec.Reader) (string, error) {
	name, err := r.ReadString()
	if err != nil {
		return "", protoerr.NewCodecError("handshake.decode_connect_request", err)
	}
	if name == nil {
		return "", protoerr.NewCodecError("handshake.decode_connect_request", bytes.ErrTooLarge)
	}
	return *name, nil
}

// EncodeConnectResponse writes a successful Connect response carrying
// the host's descriptor for the interface the client named.
func EncodeConnectResponse(w *codec.Writer, descriptor *schema.ProtocolDescriptor) {
	w.WriteU8(uint8(host.ResponseKindResponse))
	schema.EncodeDescriptor(w, descriptor)
}

// ConnectOutcome is the decoded result of a Connect round trip.
type ConnectOutcome struct {
	Kind       host.ResponseKind
	Descriptor *schema.ProtocolDescriptor
}

// DecodeConnectResponse parses a Connect response frame, decoding the
// descriptor only when the host reports success.
func DecodeConnectResponse(r *codec.Reader) (ConnectOutcome, error) {
	kind, err := r.ReadU8()
	if err != nil {
		return ConnectOutcome{}, protoerr.NewCodecError("handshake.decode_connect_response", err)
	}
	outcome := ConnectOutcome{Kind: host.ResponseKind(kind)}
	if outcome.Kind != host.ResponseKindResponse {
		return outcome, nil
	}
	descriptor, err := schema.DecodeDescriptor(r)
	if err != nil {
		return ConnectOutcome{}, protoerr.NewCodecError("handshake.decode_connect_response", err)
	}
	outcome.Descriptor = descriptor
	return outcome, nil
}
