// Package serialize implements the Serializer/Deserializer Factory
// (spec.md §4.4): per-ProtocolType encoder/decoder tables built once per
// service (by the host Dispatcher on the service's first operation call,
// by client.Connect on the client) and reused for every call, plus the object-graph
// back-reference bookkeeping that lets cyclic and shared structures
// round-trip in bounded stack depth.
//
// Grounded on the teacher's Dispatcher.OnConnect/OnPublish handler table
// (internal/rtmp/rpc/dispatcher.go): a map keyed by a wire-level tag,
// built once when the server starts and consulted on every inbound
// message, generalised here from "one handler per RTMP command name" to
// "one encoder/decoder per ProtocolType".
package serialize

import (
	"fmt"
	"reflect"

	protoerr "github.com/veloxdb/rpc/internal/errors"
	"github.com/veloxdb/rpc/internal/protocol/graph"
	"github.com/veloxdb/rpc/internal/protocol/schema"
	"github.com/veloxdb/rpc/internal/wire/codec"
)

// presence tags for the class prelude (spec.md §6).
const (
	presenceNull    = 0
	presenceBackref = 1
	presenceNew     = 2
)

// Table is the built-once type table for one ProtocolDescriptor: one
// encoder and one decoder per reachable ProtocolType, indexed by the
// class's Go reflect.Type so a call site need only know its Go value.
type Table struct {
	byGoType map[reflect.Type]*classCodec
	byTypeID map[uint16]*classCodec
}

type classCodec struct {
	pt     *schema.ProtocolType
	goType reflect.Type
}

// Build constructs a Table from classes discovered for one
// ProtocolDescriptor. The host Dispatcher calls it on a service's first
// operation call and client.Connect calls it once per Proxy; the Table
// is reused for every subsequent call (spec.md §4.4, "Generation
// strategy").
func Build(classes []*schema.ProtocolType, goTypes map[string]reflect.Type) *Table {
	t := &Table{byGoType: make(map[reflect.Type]*classCodec), byTypeID: make(map[uint16]*classCodec)}
	for _, pt := range classes {
		gt, ok := goTypes[pt.Name]
		if !ok {
			continue
		}
		cc := &classCodec{pt: pt, goType: gt}
		t.byGoType[gt] = cc
		t.byTypeID[pt.TypeID] = cc
	}
	return t
}

// EncodeValue writes v (a builtin, a *struct class instance, or a
// slice/array) to w using g for back-reference tracking, following the
// prelude/field rules of spec.md §4.4/§6.
func (t *Table) EncodeValue(w *codec.Writer, g *graph.Context, pt *schema.ProtocolType, v reflect.Value) error {
	switch pt.Kind {
	case schema.KindBuiltIn:
		return encodeBuiltIn(w, pt.BuiltIn, v)
	case schema.KindArray:
		return t.encodeArray(w, g, pt, v)
	case schema.KindClass:
		return t.encodeClass(w, g, pt, v)
	default:
		return fmt.Errorf("serialize: unknown ProtocolType kind %d", pt.Kind)
	}
}

func (t *Table) encodeClass(w *codec.Writer, g *graph.Context, pt *schema.ProtocolType, v reflect.Value) error {
	if pt.Polymorphic {
		return t.encodePolymorphic(w, g, pt, v)
	}
	if v.Kind() == reflect.Ptr && v.IsNil() {
		w.WriteU8(presenceNull)
		return nil
	}
	if v.Kind() == reflect.Ptr {
		ref := v.Interface()
		isNew, id := g.AcquireInstanceId(ref)
		if !isNew {
			w.WriteU8(presenceBackref)
			w.WriteU32(id)
			return nil
		}
		w.WriteU8(presenceNew)
		w.WriteU32(id)

		if !g.EnterDepth() {
			// Depth budget exhausted: defer the field body, emitting it
			// once the current stack unwinds (spec.md §4.4 step 3).
			elem := v.Elem()
			g.EnqueueResume(func() error { return t.encodeFields(w, g, pt, elem) })
			return nil
		}
		defer g.ExitDepth()
		return t.encodeFields(w, g, pt, v.Elem())
	}
	// Value (non-pointer) classes are never shared, so no graph tracking applies.
	w.WriteU8(presenceNew)
	w.WriteU32(0)
	return t.encodeFields(w, g, pt, v)
}

// encodePolymorphic writes the dispatch prelude for a polymorphic field
// (spec.md §4.4/§6): a u16 concreteTypeId is always written first, even
// when the value is null or a backreference (sentinel 0), so the decoder
// never needs lookahead to know whether the prefix is present.
func (t *Table) encodePolymorphic(w *codec.Writer, g *graph.Context, pt *schema.ProtocolType, v reflect.Value) error {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			w.WriteU16(0)
			w.WriteU8(presenceNull)
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Ptr && v.IsNil() {
		w.WriteU16(0)
		w.WriteU8(presenceNull)
		return nil
	}

	concreteType := v.Type()
	if concreteType.Kind() == reflect.Ptr {
		concreteType = concreteType.Elem()
	}
	cc, ok := t.byGoType[concreteType]
	if !ok {
		return fmt.Errorf("serialize: no registered concrete type for %s (interface %s)", concreteType, pt.Name)
	}

	if v.Kind() == reflect.Ptr {
		ref := v.Interface()
		isNew, id := g.AcquireInstanceId(ref)
		if !isNew {
			w.WriteU16(cc.pt.TypeID)
			w.WriteU8(presenceBackref)
			w.WriteU32(id)
			return nil
		}
		w.WriteU16(cc.pt.TypeID)
		w.WriteU8(presenceNew)
		w.WriteU32(id)

		if !g.EnterDepth() {
			elem := v.Elem()
			g.EnqueueResume(func() error { return t.encodeFields(w, g, cc.pt, elem) })
			return nil
		}
		defer g.ExitDepth()
		return t.encodeFields(w, g, cc.pt, v.Elem())
	}
	w.WriteU16(cc.pt.TypeID)
	w.WriteU8(presenceNew)
	w.WriteU32(0)
	return t.encodeFields(w, g, cc.pt, v)
}

func (t *Table) encodeFields(w *codec.Writer, g *graph.Context, pt *schema.ProtocolType, v reflect.Value) error {
	for i, f := range pt.Fields {
		if i >= v.NumField() {
			return fmt.Errorf("serialize: class %s field %s has no matching Go struct field", pt.Name, f.Name)
		}
		if err := t.EncodeValue(w, g, f.Type, v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) encodeArray(w *codec.Writer, g *graph.Context, pt *schema.ProtocolType, v reflect.Value) error {
	n := v.Len()
	w.WriteArrayLen(n)
	for i := 0; i < n; i++ {
		if err := t.EncodeValue(w, g, pt.Element, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeValue mirrors EncodeValue, registering NEW instances under their
// wire instanceId *before* recursively decoding fields so self-references
// resolve (spec.md §4.4 step 4).
func (t *Table) DecodeValue(r *codec.Reader, g *graph.Context, pt *schema.ProtocolType, goType reflect.Type) (reflect.Value, error) {
	switch pt.Kind {
	case schema.KindBuiltIn:
		return decodeBuiltIn(r, pt.BuiltIn, goType)
	case schema.KindArray:
		return t.decodeArray(r, g, pt, goType)
	case schema.KindClass:
		return t.decodeClass(r, g, pt, goType)
	default:
		return reflect.Value{}, fmt.Errorf("serialize: unknown ProtocolType kind %d", pt.Kind)
	}
}

func (t *Table) decodeClass(r *codec.Reader, g *graph.Context, pt *schema.ProtocolType, goType reflect.Type) (reflect.Value, error) {
	if pt.Polymorphic {
		return t.decodePolymorphic(r, g, pt, goType)
	}
	presence, err := r.ReadU8()
	if err != nil {
		return reflect.Value{}, err
	}
	elemType := goType
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	switch presence {
	case presenceNull:
		return reflect.Zero(goType), nil
	case presenceBackref:
		id, err := r.ReadU32()
		if err != nil {
			return reflect.Value{}, err
		}
		ref, ok := g.GetByInstanceId(id)
		if !ok {
			return reflect.Value{}, protoerr.NewCodecError("serialize.decode_class", fmt.Errorf("unknown backreference instanceId %d", id))
		}
		return reflect.ValueOf(ref), nil
	case presenceNew:
		id, err := r.ReadU32()
		if err != nil {
			return reflect.Value{}, err
		}
		instance := reflect.New(elemType)
		g.RegisterInstance(id, instance.Interface())
		elem := instance.Elem()
		if g.EnterDepth() {
			defer g.ExitDepth()
			if err := t.decodeFields(r, g, pt, elem); err != nil {
				return reflect.Value{}, err
			}
		} else {
			// Depth budget exhausted: the encoder deferred this subtree's
			// field bytes to the tail of the stream (spec.md §4.4 step 3);
			// mirror that by reading them later from the same position.
			g.EnqueueResume(func() error { return t.decodeFields(r, g, pt, elem) })
		}
		if goType.Kind() == reflect.Ptr {
			return instance, nil
		}
		return instance.Elem(), nil
	default:
		return reflect.Value{}, protoerr.NewCodecError("serialize.decode_class", fmt.Errorf("invalid presence tag %d", presence))
	}
}

// decodePolymorphic mirrors encodePolymorphic: it always reads the u16
// concreteTypeId prefix first, then dispatches to the concrete class's
// own decoder (spec.md §4.4, "the polymorphic tag selects the concrete
// subtype's encoder").
func (t *Table) decodePolymorphic(r *codec.Reader, g *graph.Context, pt *schema.ProtocolType, goType reflect.Type) (reflect.Value, error) {
	concreteTypeID, err := r.ReadU16()
	if err != nil {
		return reflect.Value{}, err
	}
	presence, err := r.ReadU8()
	if err != nil {
		return reflect.Value{}, err
	}
	switch presence {
	case presenceNull:
		return reflect.Zero(goType), nil
	case presenceBackref:
		id, err := r.ReadU32()
		if err != nil {
			return reflect.Value{}, err
		}
		ref, ok := g.GetByInstanceId(id)
		if !ok {
			return reflect.Value{}, protoerr.NewCodecError("serialize.decode_class", fmt.Errorf("unknown backreference instanceId %d", id))
		}
		return reflect.ValueOf(ref), nil
	case presenceNew:
		cc, ok := t.byTypeID[concreteTypeID]
		if !ok {
			return reflect.Value{}, protoerr.NewCodecError("serialize.decode_class", fmt.Errorf("unknown concrete typeId %d for polymorphic class %s", concreteTypeID, pt.Name))
		}
		id, err := r.ReadU32()
		if err != nil {
			return reflect.Value{}, err
		}
		instance := reflect.New(cc.goType)
		g.RegisterInstance(id, instance.Interface())
		elem := instance.Elem()
		if g.EnterDepth() {
			defer g.ExitDepth()
			if err := t.decodeFields(r, g, cc.pt, elem); err != nil {
				return reflect.Value{}, err
			}
		} else {
			g.EnqueueResume(func() error { return t.decodeFields(r, g, cc.pt, elem) })
		}
		if goType.Kind() == reflect.Interface || goType.Kind() == reflect.Ptr {
			return instance, nil
		}
		return instance.Elem(), nil
	default:
		return reflect.Value{}, protoerr.NewCodecError("serialize.decode_class", fmt.Errorf("invalid presence tag %d", presence))
	}
}

func (t *Table) decodeFields(r *codec.Reader, g *graph.Context, pt *schema.ProtocolType, v reflect.Value) error {
	for i, f := range pt.Fields {
		if i >= v.NumField() {
			return fmt.Errorf("serialize: class %s field %s has no matching Go struct field", pt.Name, f.Name)
		}
		fv, err := t.DecodeValue(r, g, f.Type, v.Field(i).Type())
		if err != nil {
			return err
		}
		v.Field(i).Set(fv)
	}
	return nil
}

func (t *Table) decodeArray(r *codec.Reader, g *graph.Context, pt *schema.ProtocolType, goType reflect.Type) (reflect.Value, error) {
	n, err := r.ReadArrayLen()
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.MakeSlice(goType, n, n)
	for i := 0; i < n; i++ {
		ev, err := t.DecodeValue(r, g, pt.Element, goType.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

func encodeBuiltIn(w *codec.Writer, bi schema.BuiltIn, v reflect.Value) error {
	switch bi {
	case schema.BuiltInU8:
		w.WriteU8(uint8(v.Uint()))
	case schema.BuiltInU16:
		w.WriteU16(uint16(v.Uint()))
	case schema.BuiltInU32:
		w.WriteU32(uint32(v.Uint()))
	case schema.BuiltInU64:
		w.WriteU64(v.Uint())
	case schema.BuiltInI8:
		w.WriteI8(int8(v.Int()))
	case schema.BuiltInI16:
		w.WriteI16(int16(v.Int()))
	case schema.BuiltInI32:
		w.WriteI32(int32(v.Int()))
	case schema.BuiltInI64:
		w.WriteI64(v.Int())
	case schema.BuiltInF32:
		w.WriteF32(float32(v.Float()))
	case schema.BuiltInF64:
		w.WriteF64(v.Float())
	case schema.BuiltInBool:
		w.WriteBool(v.Bool())
	case schema.BuiltInString:
		s := v.String()
		w.WriteString(&s)
	default:
		return fmt.Errorf("serialize: unsupported builtin %d", bi)
	}
	return w.Err()
}

func decodeBuiltIn(r *codec.Reader, bi schema.BuiltIn, goType reflect.Type) (reflect.Value, error) {
	switch bi {
	case schema.BuiltInU8:
		v, err := r.ReadU8()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInU16:
		v, err := r.ReadU16()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInU32:
		v, err := r.ReadU32()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInU64:
		v, err := r.ReadU64()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInI8:
		v, err := r.ReadI8()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInI16:
		v, err := r.ReadI16()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInI32:
		v, err := r.ReadI32()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInI64:
		v, err := r.ReadI64()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInF32:
		v, err := r.ReadF32()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInF64:
		v, err := r.ReadF64()
		return reflect.ValueOf(v).Convert(goType), err
	case schema.BuiltInBool:
		v, err := r.ReadBool()
		return reflect.ValueOf(v), err
	case schema.BuiltInString:
		v, err := r.ReadString()
		if err != nil {
			return reflect.Value{}, err
		}
		if v == nil {
			return reflect.Zero(goType), nil
		}
		return reflect.ValueOf(*v), nil
	default:
		return reflect.Value{}, fmt.Errorf("serialize: unsupported builtin %d", bi)
	}
}
