// Package schema builds and compares ProtocolDescriptors: the dense,
// typeId-addressed description of an API surface that two endpoints
// exchange and structurally compare at Connect time (spec.md §4.3).
//
// Grounded on the teacher's two-pass approach to command parsing
// (internal/rtmp/rpc/connect.go decodes then validates in separate
// passes) generalised to full reflect-based discovery, since this
// protocol's classes may be mutually or self referential in ways a
// single depth-first walk cannot resolve.
package schema

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// firstArgIndex returns the index, within an unbound method's
// reflect.Type (receiver at index 0), of the first real operation
// parameter: spec.md §4.6 requires "a required leading context
// parameter of a host-specified type", which schema.Discover excludes
// from ParamList since it is supplied by the host, not the wire.
func firstArgIndex(t reflect.Type) int {
	if t.NumIn() > 1 && t.In(1) == contextType {
		return 2
	}
	return 1
}

// Kind discriminates the three ProtocolType shapes named in spec.md §3.
type Kind uint8

const (
	KindBuiltIn Kind = iota
	KindClass
	KindArray
)

// BuiltIn enumerates the primitive wire types of spec.md §6.
type BuiltIn uint8

const (
	BuiltInU8 BuiltIn = iota
	BuiltInU16
	BuiltInU32
	BuiltInU64
	BuiltInI8
	BuiltInI16
	BuiltInI32
	BuiltInI64
	BuiltInF32
	BuiltInF64
	BuiltInBool
	BuiltInDecimal
	BuiltInDateTime
	BuiltInTimeSpan
	BuiltInGuid
	BuiltInString
)

// ProtocolProperty is a single named, typed field or parameter.
type ProtocolProperty struct {
	Name string
	Type *ProtocolType
}

// ProtocolType is a node in the schema's type graph, referenced by a
// dense typeId within one ProtocolDescriptor (spec.md §3).
type ProtocolType struct {
	TypeID  uint16
	Kind    Kind
	BuiltIn BuiltIn

	// Class fields.
	Name           string
	Fields         []ProtocolProperty
	IsRef          bool
	CanBeInherited bool
	IsAbstract     bool
	Parent         *ProtocolType
	Polymorphic    bool // has subclasses reachable through this property

	// Array fields.
	Element *ProtocolType

	goType reflect.Type
	filled bool
}

// GoType returns the Go reflect.Type a discovered class was built from,
// needed by the serializer factory to allocate concrete instances.
func (t *ProtocolType) GoType() reflect.Type { return t.goType }

// OperationKind distinguishes read-only from read-write operations.
type OperationKind uint8

const (
	OperationRead OperationKind = iota
	OperationReadWrite
)

// GraphSupport flags, per direction, whether object-graph back-reference
// tracking (spec.md §4.4's object-graph serialisation) is enabled.
type GraphSupport uint8

const (
	GraphSupportNone     GraphSupport = 0
	GraphSupportRequest  GraphSupport = 1 << 0
	GraphSupportResponse GraphSupport = 1 << 1
)

// ProtocolOperation describes one callable method of an interface.
type ProtocolOperation struct {
	ID                uint16
	Name              string
	ParamList         []ProtocolProperty
	ReturnType        ProtocolProperty
	OperationKind     OperationKind
	GraphSupport      GraphSupport
	AllowedErrorTypes []*ProtocolType
}

// ProtocolInterface groups a dense set of operations under one name.
type ProtocolInterface struct {
	ID            uint16
	Name          string
	Operations    []ProtocolOperation
	CanonicalType *ProtocolType
}

// ProtocolDescriptor is the complete, transmissible description of an
// API surface (spec.md §3).
type ProtocolDescriptor struct {
	VersionGuid uuid.UUID
	Interfaces  []ProtocolInterface
	Classes     []*ProtocolType // all non-builtin classes reachable from any operation
}

// MaxRequestArguments bounds ProtocolOperation.ParamList per spec.md §4.6.
const MaxRequestArguments = 16

// builder performs the two-pass discovery spec.md §9's "Cyclic class
// graph in the schema" design note requires: pass 1 registers every
// reachable class with a dense typeId and an empty field list so
// self-referential and mutually-referential graphs have somewhere to
// point before any field is filled in; pass 2 walks the now-complete
// registry and fills in each class's Fields.
type builder struct {
	classByGoType map[reflect.Type]*ProtocolType
	order         []*ProtocolType
	nextTypeID    uint16
}

func newBuilder() *builder {
	return &builder{classByGoType: make(map[reflect.Type]*ProtocolType)}
}

// Discover walks api's method set (spec.md §4.3's "walking the operation
// method list of each API type") and returns the ProtocolInterface plus
// every class ProtocolType transitively reachable from its operations'
// parameter, return, and declared error types.
func Discover(id uint16, name string, api interface{}, errorTypes ...reflect.Type) (ProtocolInterface, []*ProtocolType, error) {
	b := newBuilder()
	t := reflect.TypeOf(api)
	if t == nil {
		return ProtocolInterface{}, nil, fmt.Errorf("schema: Discover requires a non-nil api value")
	}

	// Pass 1: register every class reachable from the method set with an
	// empty field list, so later field-filling can reference any of them.
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		for p := firstArgIndex(m.Type); p < m.Type.NumIn(); p++ {
			b.registerReachable(m.Type.In(p))
		}
		if m.Type.NumOut() > 0 {
			b.registerReachable(m.Type.Out(0))
		}
	}
	for _, et := range errorTypes {
		b.registerReachable(et)
	}

	// Pass 1b: a concrete class embedding an already-registered class as
	// its first field forms an inheritance link (spec.md §3, "classes
	// form an inheritance tree"); a concrete class implementing an
	// already-registered interface class is one of its polymorphic
	// subtypes (spec.md §4.3/§4.4 polymorphic dispatch, modelled in Go
	// via a marker interface since struct subtyping is unavailable).
	b.linkInheritance()
	b.linkPolymorphicImplementations()

	// Pass 2: fill in fields now that every class has a stable typeId.
	for _, pt := range b.order {
		b.fillFields(pt)
	}

	ops := make([]ProtocolOperation, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		first := firstArgIndex(m.Type)
		op := ProtocolOperation{ID: uint16(i), Name: m.Name, OperationKind: OperationReadWrite}
		for p := first; p < m.Type.NumIn(); p++ {
			op.ParamList = append(op.ParamList, ProtocolProperty{
				Name: fmt.Sprintf("arg%d", p-first),
				Type: b.resolve(m.Type.In(p)),
			})
		}
		if len(op.ParamList) > MaxRequestArguments {
			return ProtocolInterface{}, nil, fmt.Errorf("schema: operation %s exceeds MaxRequestArguments (%d)", m.Name, MaxRequestArguments)
		}
		if m.Type.NumOut() > 0 {
			op.ReturnType = ProtocolProperty{Name: "result", Type: b.resolve(m.Type.Out(0))}
		}
		ops = append(ops, op)
	}
	for _, et := range errorTypes {
		if pt := b.resolve(et); pt != nil {
			for i := range ops {
				ops[i].AllowedErrorTypes = append(ops[i].AllowedErrorTypes, pt)
			}
		}
	}

	iface := ProtocolInterface{ID: id, Name: name, Operations: ops}
	return iface, b.order, nil
}

func (b *builder) registerReachable(t reflect.Type) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		if _, ok := b.classByGoType[t]; ok {
			return
		}
		pt := &ProtocolType{TypeID: b.nextTypeID, Kind: KindClass, Name: t.Name(), goType: t}
		b.nextTypeID++
		b.classByGoType[t] = pt
		b.order = append(b.order, pt)
		for i := 0; i < t.NumField(); i++ {
			b.registerReachable(t.Field(i).Type)
		}
	case reflect.Slice, reflect.Array:
		b.registerReachable(t.Elem())
	case reflect.Interface:
		if t == errorType || t == contextType {
			return
		}
		if _, ok := b.classByGoType[t]; ok {
			return
		}
		pt := &ProtocolType{TypeID: b.nextTypeID, Kind: KindClass, Name: t.Name(), IsAbstract: true, goType: t}
		b.nextTypeID++
		b.classByGoType[t] = pt
		b.order = append(b.order, pt)
	}
}

// linkInheritance records a Parent relationship whenever a registered
// class's first field is an anonymous (embedded) field naming another
// registered class: the embedding class's fields are then a superset of
// its parent's, per spec.md §3.
func (b *builder) linkInheritance() {
	for _, pt := range b.order {
		t := pt.goType
		if t.Kind() != reflect.Struct || t.NumField() == 0 {
			continue
		}
		f := t.Field(0)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		parent, ok := b.classByGoType[ft]
		if !ok || parent == pt {
			continue
		}
		pt.Parent = parent
		parent.CanBeInherited = true
	}
}

// linkPolymorphicImplementations marks every registered abstract
// (interface-backed) class as Polymorphic once at least one registered
// concrete class implements its Go interface: the interface is the
// dispatch point, the implementing structs are its concrete subtypes
// (spec.md §4.4's "polymorphic tag selects the concrete subtype's
// encoder").
func (b *builder) linkPolymorphicImplementations() {
	for _, iface := range b.order {
		if !iface.IsAbstract || iface.goType.Kind() != reflect.Interface {
			continue
		}
		for _, pt := range b.order {
			if pt.goType.Kind() != reflect.Struct {
				continue
			}
			if pt.goType.Implements(iface.goType) || reflect.PtrTo(pt.goType).Implements(iface.goType) {
				iface.CanBeInherited = true
				iface.Polymorphic = true
			}
		}
	}
}

func (b *builder) fillFields(pt *ProtocolType) {
	if pt.filled {
		return
	}
	pt.filled = true
	if pt.goType.Kind() != reflect.Struct {
		return // interface-backed abstract classes carry no fields of their own
	}
	if pt.Parent != nil {
		b.fillFields(pt.Parent)
	}
	t := pt.goType
	start := 0
	if pt.Parent != nil && t.NumField() > 0 && t.Field(0).Anonymous {
		start = 1 // the embedded parent field itself is not a property
	}
	var own []ProtocolProperty
	for i := start; i < t.NumField(); i++ {
		f := t.Field(i)
		own = append(own, ProtocolProperty{Name: f.Name, Type: b.resolve(f.Type)})
	}
	if pt.Parent != nil {
		pt.Fields = append(append([]ProtocolProperty{}, pt.Parent.Fields...), own...)
	} else {
		pt.Fields = own
	}
}

func (b *builder) resolve(t reflect.Type) *ProtocolType {
	ptr := false
	for t.Kind() == reflect.Ptr {
		ptr = true
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		pt := b.classByGoType[t]
		if pt != nil && ptr {
			refPt := *pt
			refPt.IsRef = true
			return &refPt
		}
		return pt
	case reflect.Interface:
		if t == errorType || t == contextType {
			return nil
		}
		pt := b.classByGoType[t]
		if pt == nil {
			return nil
		}
		refPt := *pt
		refPt.IsRef = true
		refPt.Polymorphic = true
		return &refPt
	case reflect.Slice, reflect.Array:
		return &ProtocolType{Kind: KindArray, Element: b.resolve(t.Elem())}
	default:
		bi, ok := builtinFor(t.Kind())
		if !ok {
			return &ProtocolType{Kind: KindBuiltIn, BuiltIn: BuiltInString}
		}
		return &ProtocolType{Kind: KindBuiltIn, BuiltIn: bi}
	}
}

func builtinFor(k reflect.Kind) (BuiltIn, bool) {
	switch k {
	case reflect.Uint8:
		return BuiltInU8, true
	case reflect.Uint16:
		return BuiltInU16, true
	case reflect.Uint32:
		return BuiltInU32, true
	case reflect.Uint64, reflect.Uint:
		return BuiltInU64, true
	case reflect.Int8:
		return BuiltInI8, true
	case reflect.Int16:
		return BuiltInI16, true
	case reflect.Int32:
		return BuiltInI32, true
	case reflect.Int64, reflect.Int:
		return BuiltInI64, true
	case reflect.Float32:
		return BuiltInF32, true
	case reflect.Float64:
		return BuiltInF64, true
	case reflect.Bool:
		return BuiltInBool, true
	case reflect.String:
		return BuiltInString, true
	default:
		return 0, false
	}
}

// pairKey identifies an ordered (a, b) comparison pair for cycle detection in Compare.
type pairKey struct{ a, b string }

// Compare performs the structural deep equality spec.md §4.3 requires:
// two descriptors are compatible iff every operation with a matching name
// has matching parameter/return/error signatures, resolving cycles via an
// already-visited set rather than recursing forever on self-referential
// classes.
func Compare(local, remote *ProtocolDescriptor) (ok bool, mismatchInterface, mismatchOp, reason string) {
	remoteByName := make(map[string]ProtocolInterface, len(remote.Interfaces))
	for _, ri := range remote.Interfaces {
		remoteByName[ri.Name] = ri
	}
	for _, li := range local.Interfaces {
		ri, found := remoteByName[li.Name]
		if !found {
			return false, li.Name, "", "interface"
		}
		localOps := make(map[string]ProtocolOperation, len(li.Operations))
		for _, op := range li.Operations {
			localOps[op.Name] = op
		}
		remoteOps := make(map[string]ProtocolOperation, len(ri.Operations))
		for _, op := range ri.Operations {
			remoteOps[op.Name] = op
		}
		names := make([]string, 0, len(localOps))
		for n := range localOps {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, name := range names {
			lop, rop := localOps[name], remoteOps[name]
			if _, found := remoteOps[name]; !found {
				return false, li.Name, name, "missing"
			}
			visited := make(map[pairKey]bool)
			if !compareOperation(lop, rop, visited) {
				return false, li.Name, name, signatureMismatchReason(lop, rop, visited)
			}
		}
	}
	return true, "", "", ""
}

func signatureMismatchReason(lop, rop ProtocolOperation, visited map[pairKey]bool) string {
	if len(lop.ParamList) != len(rop.ParamList) {
		return "paramCount"
	}
	if !compareType(lop.ReturnType.Type, rop.ReturnType.Type, visited) {
		return "returnType"
	}
	return "paramType"
}

func compareOperation(a, b ProtocolOperation, visited map[pairKey]bool) bool {
	if len(a.ParamList) != len(b.ParamList) {
		return false
	}
	for i := range a.ParamList {
		if !compareType(a.ParamList[i].Type, b.ParamList[i].Type, visited) {
			return false
		}
	}
	return compareType(a.ReturnType.Type, b.ReturnType.Type, visited)
}

func compareType(a, b *ProtocolType, visited map[pairKey]bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBuiltIn:
		return a.BuiltIn == b.BuiltIn
	case KindArray:
		return compareType(a.Element, b.Element, visited)
	case KindClass:
		key := pairKey{a.Name, b.Name}
		if visited[key] {
			return true // already comparing this pair further up the stack; cycle resolved
		}
		visited[key] = true
		if a.Name != b.Name || len(a.Fields) != len(b.Fields) {
			return false
		}
		byName := make(map[string]ProtocolProperty, len(b.Fields))
		for _, f := range b.Fields {
			byName[f.Name] = f
		}
		for _, f := range a.Fields {
			bf, ok := byName[f.Name]
			if !ok || !compareType(f.Type, bf.Type, visited) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
