// Package client is the RPC counterpart of internal/host: it dials a
// host, performs the Connect handshake, and invokes operations by name
// against a locally discovered API interface.
//
// Grounded on the teacher's internal/rtmp/client.Client (dial, connect,
// wait-for-response-by-transaction-id shape), generalised from RTMP's
// fixed connect/createStream/publish/play command set to the spec's
// arbitrary named operations, and from the teacher's single-purpose
// trxID-keyed response map to a requestID-keyed PendingRequest table
// (internal/host.PendingRequest, reused here rather than duplicated).
package client

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/handshake"
	"github.com/veloxdb/rpc/internal/host"
	"github.com/veloxdb/rpc/internal/protocol/graph"
	"github.com/veloxdb/rpc/internal/protocol/schema"
	"github.com/veloxdb/rpc/internal/protocol/serialize"
	"github.com/veloxdb/rpc/internal/transport/conn"
	"github.com/veloxdb/rpc/internal/wire/codec"
)

// DialTimeout matches the teacher's client dial timeout.
const DialTimeout = 5 * time.Second

// Client owns one Framed Connection and demultiplexes responses to
// outstanding requests by requestId, mirroring host.Dispatcher's
// inverse direction.
type Client struct {
	conn *conn.Connection

	mu      sync.Mutex
	pending map[uint64]*host.PendingRequest
}

// Dial opens a TCP connection to addr and starts the Framed Connection
// loops. The caller must call Connect before Invoke.
func Dial(addr string, cfg conn.Config) (*Client, error) {
	d := net.Dialer{Timeout: DialTimeout}
	nc, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client dial: %w", err)
	}
	return NewOverConn(nc, cfg), nil
}

// NewOverConn wraps an already-established net.Conn (e.g. one returned
// by net.Pipe in tests, or a TLS-wrapped socket) as a Client and starts
// its Framed Connection loops.
func NewOverConn(nc net.Conn, cfg conn.Config) *Client {
	c := &Client{pending: make(map[uint64]*host.PendingRequest)}
	c.conn = conn.New(nc, cfg)
	c.conn.SetHandler(c.onMessage)
	c.conn.Start()
	return c
}

func (c *Client) onMessage(cn *conn.Connection, requestID uint64, payload []byte) {
	c.mu.Lock()
	pr := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if pr == nil {
		return
	}
	pr.Resolve(payload)
}

func (c *Client) await(ctx context.Context, requestID uint64) ([]byte, error) {
	pr := host.NewPendingRequest(requestID)
	c.mu.Lock()
	c.pending[requestID] = pr
	c.mu.Unlock()
	return pr.Await(ctx)
}

// Close tears down the underlying connection. Outstanding Invoke calls
// are not released by Close; each returns when its own ctx ends.
func (c *Client) Close() error { return c.conn.Close() }

// Proxy is a bound handle to one named service on the host, built from
// the caller's own Go API type rather than a server-provided schema
// (spec.md §4.3: each side discovers its interface locally; Connect
// only exchanges descriptors to validate agreement, never to generate
// one side's schema from the other).
type Proxy struct {
	client       *Client
	iface        schema.ProtocolInterface
	table        *serialize.Table
	serviceName  string
	remote       *schema.ProtocolDescriptor
	returnGoType map[string]reflect.Type // operation name -> Go return type, nil if void
}

// Connect performs the handshake (spec.md §4.6 step 1-3): send a
// Connect request naming serviceName, discover localAPI's own schema,
// decode the host's descriptor, and compare the two for agreement.
// localAPI must be the same interface type passed to host.HostService
// on the server side (or a structurally compatible one).
func Connect(ctx context.Context, c *Client, serviceName string, localAPI interface{}, errorTypes ...reflect.Type) (*Proxy, error) {
	local, classes, err := schema.Discover(0, serviceName, localAPI, errorTypes...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	handshake.EncodeConnectRequest(w, serviceName)
	if err := w.Err(); err != nil {
		return nil, protoerr.NewCodecError("client.connect.encode", err)
	}

	requestID := c.conn.NextRequestID()
	if err := c.conn.SendRequest(ctx, requestID, buf.Bytes()); err != nil {
		return nil, err
	}
	respPayload, err := c.await(ctx, requestID)
	if err != nil {
		return nil, err
	}

	r := codec.NewReader(bytes.NewReader(respPayload))
	outcome, err := handshake.DecodeConnectResponse(r)
	if err != nil {
		return nil, err
	}
	switch outcome.Kind {
	case host.ResponseKindServiceUnavailable:
		return nil, &protoerr.ServiceUnavailable{ServiceName: serviceName}
	case host.ResponseKindProtocolError:
		return nil, &protoerr.ProtocolError{Op: "client.connect"}
	case host.ResponseKindResponse:
		// fall through
	default:
		return nil, &protoerr.ProtocolError{Op: "client.connect", Err: fmt.Errorf("unexpected response kind %d", outcome.Kind)}
	}

	remote := outcome.Descriptor
	descriptor := &schema.ProtocolDescriptor{VersionGuid: remote.VersionGuid, Interfaces: []schema.ProtocolInterface{local}}
	if ok, mismatchIface, mismatchOp, reason := schema.Compare(descriptor, remote); !ok {
		return nil, &protoerr.ProtocolMismatch{Interface: mismatchIface, Operation: mismatchOp, Reason: reason}
	}

	goTypes := make(map[string]reflect.Type, len(classes))
	for _, cl := range classes {
		goTypes[cl.Name] = cl.GoType()
	}
	table := serialize.Build(classes, goTypes)

	returnGoType := make(map[string]reflect.Type, len(local.Operations))
	apiType := reflect.TypeOf(localAPI)
	errType := reflect.TypeOf((*error)(nil)).Elem()
	for _, op := range local.Operations {
		m, ok := apiType.MethodByName(op.Name)
		if !ok {
			continue
		}
		switch n := m.Type.NumOut(); {
		case n == 1 && !m.Type.Out(0).Implements(errType):
			returnGoType[op.Name] = m.Type.Out(0)
		case n == 2:
			returnGoType[op.Name] = m.Type.Out(0)
		}
	}

	return &Proxy{client: c, iface: local, table: table, serviceName: serviceName, remote: remote, returnGoType: returnGoType}, nil
}

// matchingAllowedErrorType finds the operation's declared error type whose
// wire typeId (protoerr.ReservedTypeIDCount-offset) matches typeID, so a
// caller can recover the structured error's Kind/retryability instead of
// a collapsed UnknownError string (spec.md §4.7/§7).
func matchingAllowedErrorType(op schema.ProtocolOperation, typeID uint16) *schema.ProtocolType {
	for _, pt := range op.AllowedErrorTypes {
		if uint16(protoerr.ReservedTypeIDCount)+pt.TypeID == typeID {
			return pt
		}
	}
	return nil
}

// Invoke calls the named operation by wire position: args are encoded
// in declared parameter order and the single return value is decoded
// against the operation's declared return type.
func (p *Proxy) Invoke(ctx context.Context, operationName string, args ...interface{}) (interface{}, error) {
	opID := -1
	for i, op := range p.iface.Operations {
		if op.Name == operationName {
			opID = i
			break
		}
	}
	if opID < 0 {
		return nil, fmt.Errorf("client: operation %q not declared on %s", operationName, p.serviceName)
	}
	op := p.iface.Operations[opID]
	if len(args) != len(op.ParamList) {
		return nil, fmt.Errorf("client: operation %q expects %d arguments, got %d", operationName, len(op.ParamList), len(args))
	}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.WriteU16(host.FormatVersion)
	w.WriteU8(uint8(host.RequestKindOperation))
	w.WriteU16(0) // interfaceId: single-interface services only in this client
	w.WriteU16(uint16(opID))

	g := graph.Acquire()
	defer graph.Release(g)
	for i, param := range op.ParamList {
		if err := p.table.EncodeValue(w, g, param.Type, reflect.ValueOf(args[i])); err != nil {
			return nil, protoerr.NewCodecError("client.invoke.encode", err)
		}
	}
	if err := w.Err(); err != nil {
		return nil, protoerr.NewCodecError("client.invoke.encode", err)
	}

	requestID := p.client.conn.NextRequestID()
	if err := p.client.conn.SendRequest(ctx, requestID, buf.Bytes()); err != nil {
		return nil, err
	}
	respPayload, err := p.client.await(ctx, requestID)
	if err != nil {
		return nil, err
	}

	r := codec.NewReader(bytes.NewReader(respPayload))
	kind, err := r.ReadU8()
	if err != nil {
		return nil, protoerr.NewCodecError("client.invoke.decode", err)
	}
	switch host.ResponseKind(kind) {
	case host.ResponseKindResponse:
		if op.ReturnType.Type == nil {
			return nil, nil
		}
		goType := p.returnGoType[operationName]
		if goType == nil {
			return nil, fmt.Errorf("client: no Go return type known for operation %q", operationName)
		}
		v, err := p.table.DecodeValue(r, g, op.ReturnType.Type, goType)
		if err != nil {
			return nil, protoerr.NewCodecError("client.invoke.decode", err)
		}
		if err := g.DrainResumeQueue(); err != nil {
			return nil, protoerr.NewCodecError("client.invoke.decode", err)
		}
		if v.IsValid() {
			return v.Interface(), nil
		}
		return nil, nil
	case host.ResponseKindError:
		typeID, err := r.ReadU16()
		if err != nil {
			return nil, protoerr.NewCodecError("client.invoke.decode", err)
		}
		if pt := matchingAllowedErrorType(op, typeID); pt != nil {
			v, err := p.table.DecodeValue(r, g, pt, reflect.PtrTo(pt.GoType()))
			if err != nil {
				return nil, protoerr.NewCodecError("client.invoke.decode", err)
			}
			if e, ok := v.Interface().(error); ok {
				return nil, e
			}
		}
		msg, _ := r.ReadString()
		text := ""
		if msg != nil {
			text = *msg
		}
		return nil, fmt.Errorf("operation error (typeId=%d): %s", typeID, text)
	case host.ResponseKindServiceUnavailable:
		return nil, &protoerr.ServiceUnavailable{ServiceName: p.serviceName}
	default:
		return nil, &protoerr.ProtocolError{Op: "client.invoke"}
	}
}
