// Package control implements the small set of control-plane messages a
// Framed Connection exchanges alongside operation traffic: chunk-size
// renegotiation, keep-alive pings, and abort notification. These never
// carry a ProtocolType payload and are not dispatched through the
// Serializer/Deserializer Factory.
//
// Grounded on the teacher's internal/rtmp/control package (handler.go's
// Context/Handle shape, encoder.go/decoder.go's per-message-kind
// functions), re-scoped from RTMP's six control message types down to
// the three this protocol's keep-alive and flow-control model needs.
package control

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Kind identifies a control message's wire type.
type Kind uint8

const (
	KindSetChunkSize Kind = iota + 1
	KindPing
	KindPingResponse
	KindAbort
)

// SetChunkSize requests the peer renegotiate the maximum chunk payload
// size used for subsequent writes in this direction.
type SetChunkSize struct{ Size uint32 }

// Ping is the keep-alive probe sent after inactivityInterval elapses
// with no traffic; the peer MUST answer with PingResponse carrying the
// same Nonce within inactivityTimeout or the connection is closed.
type Ping struct{ Nonce uint32 }

// PingResponse answers a Ping.
type PingResponse struct{ Nonce uint32 }

// Abort notifies the peer that a partially-sent message for MessageID
// has been abandoned and its chunks should be discarded rather than
// awaited.
type Abort struct{ MessageID uint64 }

// Encode serialises a control message body (kind byte plus a
// fixed-width payload) for handing to the chunk writer under a
// reserved control messageId.
func Encode(v interface{}) (Kind, []byte, error) {
	switch m := v.(type) {
	case *SetChunkSize:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, m.Size)
		return KindSetChunkSize, buf, nil
	case *Ping:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, m.Nonce)
		return KindPing, buf, nil
	case *PingResponse:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, m.Nonce)
		return KindPingResponse, buf, nil
	case *Abort:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, m.MessageID)
		return KindAbort, buf, nil
	default:
		return 0, nil, fmt.Errorf("control: unsupported message type %T", v)
	}
}

// Decode parses a control message body given its kind.
func Decode(kind Kind, payload []byte) (interface{}, error) {
	switch kind {
	case KindSetChunkSize:
		if len(payload) < 4 {
			return nil, fmt.Errorf("control: short SetChunkSize payload")
		}
		return &SetChunkSize{Size: binary.LittleEndian.Uint32(payload)}, nil
	case KindPing:
		if len(payload) < 4 {
			return nil, fmt.Errorf("control: short Ping payload")
		}
		return &Ping{Nonce: binary.LittleEndian.Uint32(payload)}, nil
	case KindPingResponse:
		if len(payload) < 4 {
			return nil, fmt.Errorf("control: short PingResponse payload")
		}
		return &PingResponse{Nonce: binary.LittleEndian.Uint32(payload)}, nil
	case KindAbort:
		if len(payload) < 8 {
			return nil, fmt.Errorf("control: short Abort payload")
		}
		return &Abort{MessageID: binary.LittleEndian.Uint64(payload)}, nil
	default:
		return nil, fmt.Errorf("control: unknown kind %d", kind)
	}
}

// Context carries the mutable per-connection state control messages
// act on, mirroring the teacher's handler.Context shape of explicit
// pointer fields plus an outbound Send callback.
type Context struct {
	ReadChunkSize *uint32
	Log           *slog.Logger
	Send          func(kind Kind, payload []byte) error
	OnAbort       func(messageID uint64)
	pendingPings  map[uint32]struct{}
}

// Handle applies one decoded control message to ctx, replying to Ping
// with PingResponse as the keep-alive contract requires.
func Handle(ctx *Context, kind Kind, payload []byte) error {
	if ctx == nil || ctx.ReadChunkSize == nil || ctx.Send == nil {
		return fmt.Errorf("control: invalid context")
	}
	decoded, err := Decode(kind, payload)
	if err != nil {
		return err
	}
	switch v := decoded.(type) {
	case *SetChunkSize:
		*ctx.ReadChunkSize = v.Size
		if ctx.Log != nil {
			ctx.Log.Debug("set chunk size", "new", v.Size)
		}
	case *Ping:
		respKind, respPayload, err := Encode(&PingResponse{Nonce: v.Nonce})
		if err != nil {
			return err
		}
		return ctx.Send(respKind, respPayload)
	case *PingResponse:
		if ctx.pendingPings != nil {
			delete(ctx.pendingPings, v.Nonce)
		}
		if ctx.Log != nil {
			ctx.Log.Debug("ping response", "nonce", v.Nonce)
		}
	case *Abort:
		if ctx.OnAbort != nil {
			ctx.OnAbort(v.MessageID)
		}
	}
	return nil
}
