// Package errors defines the typed error taxonomy carried over the wire
// (the protocol, service and operation families) and the validation errors
// raised locally at hostService. See DESIGN.md for the grounding of this
// package on the teacher's internal/errors.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// taxonomyMarker is implemented by every wire-taxonomy error type so callers
// can classify an error chain with errors.As without naming every concrete type.
type taxonomyMarker interface {
	error
	isTaxonomy()
}

// TypeID identifies a taxonomy error's schema type id for the wire's
// Error{typeId, body} response frame (see spec.md §6).
type TypeID uint16

// Wire type ids for the built-in protocol/service families. Operation-family
// (engine-originated) error types are assigned ids by the hosting schema at
// service-install time, starting after ReservedTypeIDCount.
const (
	TypeIDProtocolError TypeID = iota + 1
	TypeIDProtocolMismatch
	TypeIDFormatVersionMismatch
	TypeIDUnknownAPI
	TypeIDUnknownError
	TypeIDServiceUnavailable
	TypeIDServiceUnknown

	ReservedTypeIDCount = 64
)

// ProtocolError indicates a malformed frame (corrupt length, bad enum tag,
// early EOF, etc.) at the transport/codec layer.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error  { return e.Err }
func (e *ProtocolError) isTaxonomy()    {}
func (e *ProtocolError) TypeID() TypeID { return TypeIDProtocolError }

// ProtocolMismatch indicates the client and server descriptors disagree on
// the signature of a named operation (spec.md §3, §4.3, §8 scenario 1).
type ProtocolMismatch struct {
	Interface string
	Operation string
	Reason    string
}

func (e *ProtocolMismatch) Error() string {
	return fmt.Sprintf("protocol mismatch: interface=%s operation=%s reason=%s", e.Interface, e.Operation, e.Reason)
}
func (e *ProtocolMismatch) isTaxonomy()    {}
func (e *ProtocolMismatch) TypeID() TypeID { return TypeIDProtocolMismatch }

// FormatVersionMismatch indicates the peer's wire format version does not
// match the version this build speaks (spec.md §4.6 step 1).
type FormatVersionMismatch struct {
	Expected uint16
	Got      uint16
}

func (e *FormatVersionMismatch) Error() string {
	return fmt.Sprintf("format version mismatch: expected %d, got %d", e.Expected, e.Got)
}
func (e *FormatVersionMismatch) isTaxonomy()    {}
func (e *FormatVersionMismatch) TypeID() TypeID { return TypeIDFormatVersionMismatch }

// UnknownAPI indicates a Connect request named a service the host does not
// host (spec.md §4.6 step 2: "404 if missing").
type UnknownAPI struct {
	ServiceName string
}

func (e *UnknownAPI) Error() string    { return fmt.Sprintf("unknown API: service %q not hosted", e.ServiceName) }
func (e *UnknownAPI) isTaxonomy()      {}
func (e *UnknownAPI) TypeID() TypeID   { return TypeIDUnknownAPI }

// UnknownError wraps any exception raised inside an operation implementation
// that does not match one of the operation's declared error types (spec.md
// §7, "Undeclared exceptions are translated to UnknownError and logged with
// the original stack on the host side only"). Cause is intentionally not
// serialised to the wire — only TypeIDUnknownError and a generic message are.
type UnknownError struct {
	Cause error
}

func (e *UnknownError) Error() string {
	if e.Cause == nil {
		return "unknown error"
	}
	return "unknown error: " + e.Cause.Error()
}
func (e *UnknownError) Unwrap() error  { return e.Cause }
func (e *UnknownError) isTaxonomy()    {}
func (e *UnknownError) TypeID() TypeID { return TypeIDUnknownError }

// NewUnknownError wraps cause with a captured stack trace (host-side only;
// never serialised) so operators can diagnose undeclared exceptions.
func NewUnknownError(cause error) *UnknownError {
	return &UnknownError{Cause: pkgerrors.WithStack(cause)}
}

// StackTrace returns a formatted stack trace for logging, or "" if cause
// carries none (e.g. it was not produced via NewUnknownError).
func (e *UnknownError) StackTrace() string {
	type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
	var st stackTracer
	if stdErrors.As(e.Cause, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

// ServiceUnavailable indicates the target service is currently stopped
// (spec.md §4.6 step 4).
type ServiceUnavailable struct {
	ServiceName string
}

func (e *ServiceUnavailable) Error() string {
	return fmt.Sprintf("service unavailable: %q is stopped", e.ServiceName)
}
func (e *ServiceUnavailable) isTaxonomy()    {}
func (e *ServiceUnavailable) TypeID() TypeID { return TypeIDServiceUnavailable }

// ServiceUnknown indicates a service name that was valid at Connect time no
// longer exists in the registry (e.g. removed, not merely stopped).
type ServiceUnknown struct {
	ServiceName string
}

func (e *ServiceUnknown) Error() string  { return fmt.Sprintf("service unknown: %q", e.ServiceName) }
func (e *ServiceUnknown) isTaxonomy()    {}
func (e *ServiceUnknown) TypeID() TypeID { return TypeIDServiceUnknown }

// CommunicationError indicates the connection was closed or faulted while a
// request was outstanding (spec.md §3 "releasing all pending requests with a
// communication error"; §5 "Cancellation").
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("communication error: %s", e.Op)
	}
	return fmt.Sprintf("communication error: %s: %v", e.Op, e.Err)
}
func (e *CommunicationError) Unwrap() error { return e.Err }
func (e *CommunicationError) isTaxonomy()   {}

// ChunkError indicates a chunk framing violation (header parse failure,
// message-id mismatch, overflow past declared length).
type ChunkError struct {
	Op  string
	Err error
}

func (e *ChunkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chunk error: %s", e.Op)
	}
	return fmt.Sprintf("chunk error: %s: %v", e.Op, e.Err)
}
func (e *ChunkError) Unwrap() error { return e.Err }
func (e *ChunkError) isTaxonomy()   {}

// CodecError indicates a primitive encode/decode failure: length mismatch,
// invalid enum tag, or early EOF (spec.md §4.2 "Readers fail fast with a
// 'corrupt message' error").
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec error: %s", e.Op)
	}
	return fmt.Sprintf("codec error: %s: %v", e.Op, e.Err)
}
func (e *CodecError) Unwrap() error { return e.Err }
func (e *CodecError) isTaxonomy()   {}

// TimeoutError indicates an operation exceeded a deadline or idle timeout.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline exceeded, or any error exposing Timeout() bool that returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsTaxonomyError returns true if the error chain contains any wire-taxonomy
// error (ProtocolError, ProtocolMismatch, FormatVersionMismatch, UnknownAPI,
// UnknownError, ServiceUnavailable, ServiceUnknown, CommunicationError,
// ChunkError, CodecError, or a registered operation-family error).
func IsTaxonomyError(err error) bool {
	if err == nil {
		return false
	}
	var tm taxonomyMarker
	return stdErrors.As(err, &tm)
}

// Constructors mirroring the teacher's NewXxxError(op, cause) shape.
func NewProtocolError(op string, cause error) error { return &ProtocolError{Op: op, Err: cause} }
func NewChunkError(op string, cause error) error    { return &ChunkError{Op: op, Err: cause} }
func NewCodecError(op string, cause error) error    { return &CodecError{Op: op, Err: cause} }
func NewCommunicationError(op string, cause error) error {
	return &CommunicationError{Op: op, Err: cause}
}
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}

// --- Operation family (engine-originated, forwarded verbatim) ---

// OperationErrorKind enumerates the engine-originated error kinds listed in
// spec.md §7's "Operation family".
type OperationErrorKind uint8

const (
	KindConflict OperationErrorKind = iota
	KindUniquenessViolation
	KindUnknownReference
	KindInvalidArgument
	KindNotAllowed
	KindBusy
)

func (k OperationErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindUniquenessViolation:
		return "uniqueness_violation"
	case KindUnknownReference:
		return "unknown_reference"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotAllowed:
		return "not_allowed"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// retryableKinds is the subset of operation-family errors the spec calls
// "retry-safe" (spec.md §7).
var retryableKinds = map[OperationErrorKind]bool{
	KindBusy:     true,
	KindConflict: true,
}

// OperationError is the base representation for engine-originated errors;
// it carries the isRetryable flag referenced in spec.md §7.
type OperationError struct {
	Kind    OperationErrorKind
	Message string
}

func (e *OperationError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }
func (e *OperationError) isTaxonomy()   {}

// IsRetryable reports whether the engine considers this error kind safe to
// retry without side effects.
func (e *OperationError) IsRetryable() bool { return retryableKinds[e.Kind] }

// NewOperationError constructs an operation-family error.
func NewOperationError(kind OperationErrorKind, message string) *OperationError {
	return &OperationError{Kind: kind, Message: message}
}

// --- Validation family (raised at hostService, never serialised) ---

// ValidationErrorKind enumerates spec.md §7's "Validation family", all of
// which are raised synchronously from HostService calls.
type ValidationErrorKind string

const (
	MaxParamCountExceeded          ValidationErrorKind = "max_param_count_exceeded"
	InvalidExceptionBaseType       ValidationErrorKind = "invalid_exception_base_type"
	NonSerializableType            ValidationErrorKind = "non_serializable_type"
	NonAccessibleType               ValidationErrorKind = "non_accessible_type"
	GenericType                    ValidationErrorKind = "generic_type"
	OperationRequiredParamsMissing ValidationErrorKind = "operation_required_params_missing"
	DuplicateOperationName         ValidationErrorKind = "duplicate_operation_name"
	OutParam                       ValidationErrorKind = "out_param"
	APIPropertyDefinition          ValidationErrorKind = "api_property_definition"
	APIEventDefinition             ValidationErrorKind = "api_event_definition"
	APINameDuplicate               ValidationErrorKind = "api_name_duplicate"
	MissingConstructor             ValidationErrorKind = "missing_constructor"
	AbstractOrInterface            ValidationErrorKind = "abstract_or_interface"
	MaxPropertyCountExceeded       ValidationErrorKind = "max_property_count_exceeded"
	TypeNameDuplicate              ValidationErrorKind = "type_name_duplicate"
)

// ValidationError is returned directly (as a Go error, never over the wire)
// from hostService when an API type fails one of spec.md §4.6's rules.
type ValidationError struct {
	Kind    ValidationErrorKind
	Subject string // e.g. interface/operation/type name implicated
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation error (%s): %s", e.Kind, e.Subject)
	}
	return fmt.Sprintf("validation error (%s): %s: %s", e.Kind, e.Subject, e.Detail)
}

// NewValidationError constructs a hostService validation error.
func NewValidationError(kind ValidationErrorKind, subject, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Subject: subject, Detail: detail}
}
