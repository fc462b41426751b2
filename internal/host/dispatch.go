package host

import (
	"bytes"
	"context"
	"reflect"
	"sync"

	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/protocol/graph"
	"github.com/veloxdb/rpc/internal/protocol/schema"
	"github.com/veloxdb/rpc/internal/protocol/serialize"
	"github.com/veloxdb/rpc/internal/wire/codec"
)

// FormatVersion is the current wire format version stamped on every
// request header (spec.md §6). A request advertising a different
// version is answered with a ProtocolError response frame; Dispatch
// does not close the connection.
const FormatVersion uint16 = 1

// RequestKind discriminates the two request header shapes of spec.md §6.
type RequestKind uint8

const (
	RequestKindConnect RequestKind = iota
	RequestKindOperation
)

// ResponseKind discriminates the four response shapes spec.md §4.7 names.
type ResponseKind uint8

const (
	ResponseKindResponse ResponseKind = iota
	ResponseKindError
	ResponseKindServiceUnavailable
	ResponseKindProtocolError
)

// Responder abstracts the transport write path so Dispatcher does not
// depend on transport/conn directly, avoiding an import cycle (conn
// hands received payloads to a host.Dispatcher-shaped callback).
type Responder func(ctx context.Context, requestID uint64, payload []byte) error

// Dispatcher demultiplexes inbound request frames per spec.md §4.6.
type Dispatcher struct {
	registry *Registry
	mu       sync.Mutex
	tables   map[*Service]*serialize.Table // lazily built per hosted service value
}

// NewDispatcher creates a Dispatcher over a service registry.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r, tables: make(map[*Service]*serialize.Table)}
}

func (d *Dispatcher) tableFor(s *Service) *serialize.Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tables[s]; ok {
		return t
	}
	goTypes := make(map[string]reflect.Type, len(s.Classes))
	for _, c := range s.Classes {
		goTypes[c.Name] = c.GoType()
	}
	t := serialize.Build(s.Classes, goTypes)
	d.tables[s] = t
	return t
}

// Dispatch handles one fully reassembled inbound frame on behalf of a
// connection identified only by its current Tag (service name, set by a
// prior successful Connect) and a respond callback bound to its
// requestID.
func (d *Dispatcher) Dispatch(ctx context.Context, connTag string, setTag func(string), requestID uint64, payload []byte, respond Responder) {
	r := codec.NewReader(bytes.NewReader(payload))
	formatVersion, err := r.ReadU16()
	if err != nil {
		return
	}
	kind, err := r.ReadU8()
	if err != nil {
		return
	}
	if formatVersion != FormatVersion {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}

	switch RequestKind(kind) {
	case RequestKindConnect:
		d.handleConnect(ctx, r, setTag, requestID, respond)
	case RequestKindOperation:
		d.handleOperation(ctx, r, connTag, requestID, respond)
	default:
		_ = respond(ctx, requestID, protocolErrorFrame())
	}
}

func (d *Dispatcher) handleConnect(ctx context.Context, r *codec.Reader, setTag func(string), requestID uint64, respond Responder) {
	name, err := r.ReadString()
	if err != nil || name == nil {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}
	svc := d.registry.Get(*name)
	if svc == nil {
		_ = respond(ctx, requestID, serviceUnavailableFrame())
		return
	}
	setTag(*name)

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.WriteU8(uint8(ResponseKindResponse))
	descriptor := &schema.ProtocolDescriptor{VersionGuid: schema.NewVersionGuid(), Interfaces: []schema.ProtocolInterface{svc.Iface}}
	schema.EncodeDescriptor(w, descriptor)
	_ = respond(ctx, requestID, buf.Bytes())
}

func (d *Dispatcher) handleOperation(ctx context.Context, r *codec.Reader, connTag string, requestID uint64, respond Responder) {
	interfaceID, err := r.ReadU16()
	if err != nil {
		return
	}
	operationID, err := r.ReadU16()
	if err != nil {
		return
	}
	_ = interfaceID

	if connTag == "" {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}
	svc := d.registry.Get(connTag)
	if svc == nil {
		_ = respond(ctx, requestID, serviceUnavailableFrame())
		return
	}
	if !svc.Running() {
		_ = respond(ctx, requestID, serviceUnavailableFrame())
		return
	}
	if int(operationID) >= len(svc.Iface.Operations) {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}
	op := svc.Iface.Operations[operationID]
	invoker := svc.Invoker(operationID)
	if invoker == nil {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}

	table := d.tableFor(svc)
	g := graph.Acquire()
	defer graph.Release(g)

	method := svc.Impl.Method(int(operationID))
	argOffset := method.Type().NumIn() - len(op.ParamList)
	args := make([]reflect.Value, len(op.ParamList))
	for i, p := range op.ParamList {
		goType := method.Type().In(i + argOffset)
		v, err := table.DecodeValue(r, g, p.Type, goType)
		if err != nil {
			_ = respond(ctx, requestID, protocolErrorFrame())
			return
		}
		args[i] = v
	}
	if err := g.DrainResumeQueue(); err != nil {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}

	result, err := invoker(ctx, args)
	if err != nil {
		if matchingErrorType(op, err) == nil {
			ue := protoerr.NewUnknownError(err)
			serviceLogger(svc.Name).Error("undeclared operation error", "operation", op.Name, "error", ue.Error(), "stack", ue.StackTrace())
		}
		_ = respond(ctx, requestID, errorFrame(table, g, op, err))
		return
	}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.WriteU8(uint8(ResponseKindResponse))
	if op.ReturnType.Type != nil {
		if err := table.EncodeValue(w, g, op.ReturnType.Type, result); err != nil {
			_ = respond(ctx, requestID, protocolErrorFrame())
			return
		}
	}
	if err := g.DrainResumeQueue(); err != nil {
		_ = respond(ctx, requestID, protocolErrorFrame())
		return
	}
	_ = respond(ctx, requestID, buf.Bytes())
}

func protocolErrorFrame() []byte      { return []byte{byte(ResponseKindProtocolError)} }
func serviceUnavailableFrame() []byte { return []byte{byte(ResponseKindServiceUnavailable)} }

// errorFrame serialises an operation's error result (spec.md §4.6 step
// 3). When err's concrete Go type matches one of op's AllowedErrorTypes,
// the error's fields are encoded with the same class codec used for
// regular return values, tagged with that class's wire typeId (offset
// by protoerr.ReservedTypeIDCount to stay clear of the protocol/service
// reserved ids); any other error collapses to TypeIDUnknownError with a
// plain message string.
func errorFrame(table *serialize.Table, g *graph.Context, op schema.ProtocolOperation, err error) []byte {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	w.WriteU8(uint8(ResponseKindError))

	if pt := matchingErrorType(op, err); pt != nil {
		w.WriteU16(uint16(protoerr.ReservedTypeIDCount) + pt.TypeID)
		if encErr := table.EncodeValue(w, g, pt, reflect.ValueOf(err)); encErr == nil {
			return buf.Bytes()
		}
		// Fall through to the unknown-error shape if the declared type
		// somehow fails to encode (e.g. a field mismatch).
		buf.Reset()
		w = codec.NewWriter(&buf)
		w.WriteU8(uint8(ResponseKindError))
	}

	w.WriteU16(uint16(protoerr.TypeIDUnknownError))
	msg := err.Error()
	w.WriteString(&msg)
	return buf.Bytes()
}

// matchingErrorType finds the declared error type among op's
// AllowedErrorTypes whose Go type matches err's concrete type, or nil if
// err was not declared for this operation.
func matchingErrorType(op schema.ProtocolOperation, err error) *schema.ProtocolType {
	et := reflect.TypeOf(err)
	for et.Kind() == reflect.Ptr {
		et = et.Elem()
	}
	for _, pt := range op.AllowedErrorTypes {
		gt := pt.GoType()
		for gt.Kind() == reflect.Ptr {
			gt = gt.Elem()
		}
		if gt == et {
			return pt
		}
	}
	return nil
}
