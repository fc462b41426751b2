package schema

import (
	"github.com/google/uuid"

	"github.com/veloxdb/rpc/internal/wire/codec"
)

// EncodeDescriptor writes d per spec.md §6's descriptor exchange format:
// a u128 versionGuid, a u32 interface count, then each interface's id,
// name, and operation signatures (names and builtin/array/class shape
// only). Class-kind types carry their name alone; class field layouts
// are not sent, and a decoded descriptor's classes have no Fields.
func EncodeDescriptor(w *codec.Writer, d *ProtocolDescriptor) {
	w.WriteGuid(d.VersionGuid)
	w.WriteU32(uint32(len(d.Interfaces)))
	for _, iface := range d.Interfaces {
		encodeInterface(w, &iface)
	}
}

func encodeInterface(w *codec.Writer, iface *ProtocolInterface) {
	w.WriteU16(iface.ID)
	name := iface.Name
	w.WriteString(&name)
	w.WriteU32(uint32(len(iface.Operations)))
	for _, op := range iface.Operations {
		encodeOperation(w, &op)
	}
}

func encodeOperation(w *codec.Writer, op *ProtocolOperation) {
	w.WriteU16(op.ID)
	name := op.Name
	w.WriteString(&name)
	w.WriteU8(uint8(op.OperationKind))
	w.WriteU8(uint8(op.GraphSupport))
	w.WriteU32(uint32(len(op.ParamList)))
	for _, p := range op.ParamList {
		encodeProperty(w, &p)
	}
	encodeProperty(w, &op.ReturnType)
}

func encodeProperty(w *codec.Writer, p *ProtocolProperty) {
	name := p.Name
	w.WriteString(&name)
	encodeType(w, p.Type)
}

func encodeType(w *codec.Writer, t *ProtocolType) {
	if t == nil {
		w.WriteU8(0xFF) // sentinel: absent (e.g. void return)
		return
	}
	w.WriteU8(uint8(t.Kind))
	switch t.Kind {
	case KindBuiltIn:
		w.WriteU8(uint8(t.BuiltIn))
	case KindArray:
		encodeType(w, t.Element)
	case KindClass:
		name := t.Name
		w.WriteString(&name)
	}
}

// DecodeDescriptor is EncodeDescriptor's inverse. Class-kind types decode
// to a shallow ProtocolType carrying only Name (field lists are not
// re-derived from the wire; the receiving endpoint's own Discover pass
// supplies its own authoritative Classes for structural comparison).
func DecodeDescriptor(r *codec.Reader) (*ProtocolDescriptor, error) {
	guid, err := r.ReadGuid()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	d := &ProtocolDescriptor{VersionGuid: guid}
	for i := uint32(0); i < count; i++ {
		iface, err := decodeInterface(r)
		if err != nil {
			return nil, err
		}
		d.Interfaces = append(d.Interfaces, *iface)
	}
	return d, nil
}

func decodeInterface(r *codec.Reader) (*ProtocolInterface, error) {
	id, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	iface := &ProtocolInterface{ID: id, Name: derefString(name)}
	for i := uint32(0); i < count; i++ {
		op, err := decodeOperation(r)
		if err != nil {
			return nil, err
		}
		iface.Operations = append(iface.Operations, *op)
	}
	return iface, nil
}

func decodeOperation(r *codec.Reader) (*ProtocolOperation, error) {
	id, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	opKind, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	graphSupport, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	op := &ProtocolOperation{ID: id, Name: derefString(name), OperationKind: OperationKind(opKind), GraphSupport: GraphSupport(graphSupport)}
	for i := uint32(0); i < count; i++ {
		p, err := decodeProperty(r)
		if err != nil {
			return nil, err
		}
		op.ParamList = append(op.ParamList, *p)
	}
	ret, err := decodeProperty(r)
	if err != nil {
		return nil, err
	}
	op.ReturnType = *ret
	return op, nil
}

func decodeProperty(r *codec.Reader) (*ProtocolProperty, error) {
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	t, err := decodeType(r)
	if err != nil {
		return nil, err
	}
	return &ProtocolProperty{Name: derefString(name), Type: t}, nil
}

func decodeType(r *codec.Reader) (*ProtocolType, error) {
	kind, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if kind == 0xFF {
		return nil, nil
	}
	switch Kind(kind) {
	case KindBuiltIn:
		bi, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		return &ProtocolType{Kind: KindBuiltIn, BuiltIn: BuiltIn(bi)}, nil
	case KindArray:
		elem, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		return &ProtocolType{Kind: KindArray, Element: elem}, nil
	case KindClass:
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return &ProtocolType{Kind: KindClass, Name: derefString(name)}, nil
	default:
		return nil, nil
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewVersionGuid generates a fresh random versionGuid for a
// ProtocolDescriptor; the host Dispatcher stamps one on the descriptor
// it returns for each Connect.
func NewVersionGuid() uuid.UUID { return uuid.New() }
