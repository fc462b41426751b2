// Package host implements the API Host (C6): validates hosted API types
// against the protocol constraints, builds per-type invoker tables,
// demultiplexes inbound messages, and enforces service lifecycle.
//
// Grounded on the teacher's internal/rtmp/server Registry (RWMutex-guarded
// map keyed by a string, CreateStream/GetStream/DeleteStream shape) for
// the service registry, and internal/rtmp/rpc Dispatcher (a struct of
// named handler fields consulted by Dispatch) for per-operation routing,
// generalised from "one handler per RTMP command" to "one invoker per
// (interfaceId, operationId) pair, built once at hostService time".
package host

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/logger"
	"github.com/veloxdb/rpc/internal/protocol/schema"
)

// MaxRequestArguments mirrors schema.MaxRequestArguments for validation
// error messages local to this package.
const MaxRequestArguments = schema.MaxRequestArguments

// Invoker calls one operation implementation with already-decoded
// arguments (including a leading context.Context), returning the
// decoded result or an error.
type Invoker func(ctx context.Context, args []reflect.Value) (reflect.Value, error)

// Service is one hosted, validated API surface.
type Service struct {
	Name     string
	Iface    schema.ProtocolInterface
	Classes  []*schema.ProtocolType
	Impl     reflect.Value
	invokers map[uint16]Invoker

	mu      sync.RWMutex
	running bool
}

// Invoker returns the invoker for operationID, or nil if unknown.
func (s *Service) Invoker(operationID uint16) Invoker {
	return s.invokers[operationID]
}

// Running reports whether the service currently accepts operation calls.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetRunning toggles the service's availability without unregistering
// it, so in-flight calls observe the transition atomically (spec.md
// §4.6, "While a service is stopped, every operation request responds
// with ServiceUnavailable").
func (s *Service) SetRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

// Registry is the RWMutex-guarded service table permitting hot
// replacement without stalling ongoing calls (spec.md §4.6,
// "Concurrency").
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry { return &Registry{services: make(map[string]*Service)} }

// Get looks up a hosted service by name.
func (r *Registry) Get(name string) *Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// Put installs or hot-replaces a validated service under its name; a
// service it replaces is stopped.
func (r *Registry) Put(s *Service) {
	r.mu.Lock()
	old := r.services[s.Name]
	r.services[s.Name] = s
	r.mu.Unlock()
	if old != nil && old != s {
		old.SetRunning(false)
	}
}

// Remove unregisters a service by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.services, name)
	r.mu.Unlock()
}

// MaxClassPropertyCount bounds a class's Fields (including those spliced
// in from its parent class) per spec.md §4.3's
// class property-count budget.
const MaxClassPropertyCount = 64

// HostService validates impl against the protocol constraints of
// spec.md §4.6 and, on success, builds its invoker table and installs
// it in the registry under name. errorTypes declares the exception
// types operations may raise (spec.md §4.6 step 3, §7); each must embed
// or be protoerr.OperationError so the wire can recover Kind/retryability.
//
// Validation rules (performed once, per spec.md §4.6):
//   - the API type is concrete and named with a unique service name
//   - each operation name is unique within the interface
//   - operations carry <= MaxRequestArguments parameters and no out params
//   - no duplicate class names in the discovered schema
//   - every discovered class is a concrete, serialisable, non-generic type
//     with <= MaxClassPropertyCount fields
//   - every declared error type embeds protoerr.OperationError
func HostService(r *Registry, name string, impl interface{}, errorTypes ...reflect.Type) (*Service, error) {
	if name == "" {
		return nil, protoerr.NewValidationError(protoerr.AbstractOrInterface, "serviceName", "must be non-empty")
	}
	if r.Get(name) != nil {
		return nil, protoerr.NewValidationError(protoerr.APINameDuplicate, "serviceName", name)
	}

	implType := reflect.TypeOf(impl)
	if implType == nil || implType.Kind() == reflect.Ptr && implType.Elem().Kind() != reflect.Struct {
		return nil, protoerr.NewValidationError(protoerr.AbstractOrInterface, "impl", "must be a concrete named type")
	}

	for _, et := range errorTypes {
		t := et
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if !embedsOperationError(t) {
			return nil, protoerr.NewValidationError(protoerr.InvalidExceptionBaseType, t.Name(), "declared error types must embed protoerr.OperationError")
		}
	}

	iface, classes, err := schema.Discover(0, name, impl, errorTypes...)
	if err != nil {
		return nil, fmt.Errorf("host: discovery failed for %s: %w", name, err)
	}

	seenOpNames := make(map[string]bool, len(iface.Operations))
	for _, op := range iface.Operations {
		if seenOpNames[op.Name] {
			return nil, protoerr.NewValidationError(protoerr.DuplicateOperationName, op.Name, "duplicate operation name")
		}
		seenOpNames[op.Name] = true
		if len(op.ParamList) > MaxRequestArguments {
			return nil, protoerr.NewValidationError(protoerr.MaxParamCountExceeded, op.Name, fmt.Sprintf("exceeds MaxRequestArguments=%d", MaxRequestArguments))
		}
	}
	if err := validateMethodShapes(implType); err != nil {
		return nil, err
	}

	seenClassNames := make(map[string]bool, len(classes))
	for _, c := range classes {
		if seenClassNames[c.Name] {
			return nil, protoerr.NewValidationError(protoerr.TypeNameDuplicate, c.Name, "duplicate class name in schema")
		}
		seenClassNames[c.Name] = true
		if err := validateClass(c); err != nil {
			return nil, err
		}
	}

	s := &Service{Name: name, Iface: iface, Classes: classes, Impl: reflect.ValueOf(impl), invokers: make(map[uint16]Invoker), running: true}
	implVal := reflect.ValueOf(impl)
	for _, op := range iface.Operations {
		method := implVal.MethodByName(op.Name)
		if !method.IsValid() {
			return nil, fmt.Errorf("host: operation %s has no matching method on %T", op.Name, impl)
		}
		s.invokers[op.ID] = buildInvoker(method)
	}

	r.Put(s)
	return s, nil
}

func buildInvoker(method reflect.Value) Invoker {
	return func(ctx context.Context, args []reflect.Value) (reflect.Value, error) {
		callArgs := make([]reflect.Value, 0, len(args)+1)
		if method.Type().NumIn() > 0 && method.Type().In(0) == reflect.TypeOf((*context.Context)(nil)).Elem() {
			callArgs = append(callArgs, reflect.ValueOf(ctx))
		}
		callArgs = append(callArgs, args...)
		out := method.Call(callArgs)
		switch len(out) {
		case 0:
			return reflect.Value{}, nil
		case 1:
			if isErrorType(out[0].Type()) {
				if out[0].IsNil() {
					return reflect.Value{}, nil
				}
				return reflect.Value{}, out[0].Interface().(error)
			}
			return out[0], nil
		default:
			var err error
			if !out[1].IsNil() {
				err = out[1].Interface().(error)
			}
			return out[0], err
		}
	}
}

func isErrorType(t reflect.Type) bool {
	return t.Implements(reflect.TypeOf((*error)(nil)).Elem())
}

var hostContextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var operationErrorType = reflect.TypeOf(protoerr.OperationError{})

// embedsOperationError reports whether t is, or embeds,
// protoerr.OperationError, the base carrying Kind/IsRetryable for every
// declared exception type (spec.md §7's operation-family errors).
func embedsOperationError(t reflect.Type) bool {
	if t == operationErrorType {
		return true
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == operationErrorType {
			return true
		}
	}
	return false
}

// validateMethodShapes rejects the one Go method shape the wire cannot
// carry: a pointer-to-builtin parameter, the idiomatic translation of an
// out/ref parameter (spec.md §4.6, "no out parameters").
func validateMethodShapes(implType reflect.Type) error {
	for i := 0; i < implType.NumMethod(); i++ {
		m := implType.Method(i)
		for p := 1; p < m.Type.NumIn(); p++ {
			pt := m.Type.In(p)
			if pt == hostContextType {
				continue
			}
			if pt.Kind() == reflect.Ptr && isBuiltinKind(pt.Elem().Kind()) {
				return protoerr.NewValidationError(protoerr.OutParam, m.Name, "pointer-to-builtin parameters are not supported")
			}
		}
	}
	return nil
}

func isBuiltinKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
		reflect.Float32, reflect.Float64, reflect.Bool, reflect.String:
		return true
	default:
		return false
	}
}

// validateClass enforces the per-class constraints of spec.md §4.3: a
// struct class whose Go fields include a map, chan, func, complex or
// unsafe.Pointer is rejected as non-serialisable, generic instantiations
// are rejected, and a class's property count (inherited fields included)
// is bounded.
func validateClass(c *schema.ProtocolType) error {
	if len(c.Fields) > MaxClassPropertyCount {
		return protoerr.NewValidationError(protoerr.MaxPropertyCountExceeded, c.Name, fmt.Sprintf("exceeds MaxClassPropertyCount=%d", MaxClassPropertyCount))
	}
	if c.GoType() != nil && strings.Contains(c.GoType().String(), "[") {
		return protoerr.NewValidationError(protoerr.GenericType, c.Name, "generic types are not supported")
	}
	if c.GoType() == nil || c.GoType().Kind() != reflect.Struct {
		return nil
	}
	t := c.GoType()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		switch f.Type.Kind() {
		case reflect.Map, reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
			return protoerr.NewValidationError(protoerr.NonSerializableType, c.Name+"."+f.Name, "field type cannot be serialised")
		}
	}
	return nil
}

// serviceLogger returns the package-level structured logger, scoped per
// service when dispatching (spec.md's ambient logging stack).
func serviceLogger(name string) *slog.Logger {
	return logger.WithService(logger.Logger(), name)
}
