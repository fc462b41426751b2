package serialize

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/veloxdb/rpc/internal/protocol/graph"
	"github.com/veloxdb/rpc/internal/protocol/schema"
	"github.com/veloxdb/rpc/internal/wire/codec"
)

func TestEncodeDecodeBuiltInString(t *testing.T) {
	pt := &schema.ProtocolType{Kind: schema.KindBuiltIn, BuiltIn: schema.BuiltInString}
	table := &Table{byGoType: map[reflect.Type]*classCodec{}, byTypeID: map[uint16]*classCodec{}}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	g := graph.Acquire()
	defer graph.Release(g)

	if err := table.EncodeValue(w, g, pt, reflect.ValueOf("hello")); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	r := codec.NewReader(&buf)
	v, err := table.DecodeValue(r, g, pt, reflect.TypeOf(""))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if v.String() != "hello" {
		t.Fatalf("expected hello, got %s", v.String())
	}
}

type node struct {
	Value    int32
	Children []*node
}

func classType() *schema.ProtocolType {
	intType := &schema.ProtocolType{Kind: schema.KindBuiltIn, BuiltIn: schema.BuiltInI32}
	pt := &schema.ProtocolType{Kind: schema.KindClass, Name: "node"}
	childArray := &schema.ProtocolType{Kind: schema.KindArray, Element: pt}
	pt.Fields = []schema.ProtocolProperty{
		{Name: "Value", Type: intType},
		{Name: "Children", Type: childArray},
	}
	return pt
}

func TestEncodeDecodeSharedReferenceUsesBackreference(t *testing.T) {
	pt := classType()
	table := &Table{byGoType: map[reflect.Type]*classCodec{}, byTypeID: map[uint16]*classCodec{}}

	shared := &node{Value: 42}
	root := &node{Value: 1, Children: []*node{shared, shared}}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	g := graph.Acquire()
	defer graph.Release(g)

	if err := table.EncodeValue(w, g, pt, reflect.ValueOf(root)); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if err := w.Err(); err != nil {
		t.Fatalf("writer error: %v", err)
	}

	r := codec.NewReader(&buf)
	g2 := graph.Acquire()
	defer graph.Release(g2)
	v, err := table.DecodeValue(r, g2, pt, reflect.TypeOf((*node)(nil)))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	got := v.Interface().(*node)
	if got.Value != 1 || len(got.Children) != 2 {
		t.Fatalf("unexpected decoded root: %+v", got)
	}
	if got.Children[0] != got.Children[1] {
		t.Fatalf("expected shared child to decode to the identical pointer")
	}
	if got.Children[0].Value != 42 {
		t.Fatalf("expected child value 42, got %d", got.Children[0].Value)
	}
}

// TestEncodeDecodeDeepChainPastGraphDepthBudget exercises the
// encoder/decoder's depth-budget resume queue (spec.md §4.4 step 3/4):
// a chain deeper than graph.AbsoluteMaxGraphDepth must still round-trip,
// with the tail's field bytes deferred to (and read back from) the tail
// of the stream rather than inline.
func TestEncodeDecodeDeepChainPastGraphDepthBudget(t *testing.T) {
	pt := classType()
	table := &Table{byGoType: map[reflect.Type]*classCodec{}, byTypeID: map[uint16]*classCodec{}}

	const chainLen = graph.AbsoluteMaxGraphDepth + 8
	root := &node{Value: 0}
	cur := root
	for i := 1; i < chainLen; i++ {
		next := &node{Value: int32(i)}
		cur.Children = []*node{next}
		cur = next
	}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	g := graph.Acquire()
	defer graph.Release(g)
	if err := table.EncodeValue(w, g, pt, reflect.ValueOf(root)); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if err := g.DrainResumeQueue(); err != nil {
		t.Fatalf("DrainResumeQueue (encode): %v", err)
	}

	r := codec.NewReader(&buf)
	g2 := graph.Acquire()
	defer graph.Release(g2)
	v, err := table.DecodeValue(r, g2, pt, reflect.TypeOf((*node)(nil)))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if err := g2.DrainResumeQueue(); err != nil {
		t.Fatalf("DrainResumeQueue (decode): %v", err)
	}

	got := v.Interface().(*node)
	for i := 0; i < chainLen; i++ {
		if got.Value != int32(i) {
			t.Fatalf("chain position %d: expected value %d, got %d", i, i, got.Value)
		}
		if i == chainLen-1 {
			if len(got.Children) != 0 {
				t.Fatalf("expected chain tail to have no children")
			}
			break
		}
		if len(got.Children) != 1 {
			t.Fatalf("chain position %d: expected exactly 1 child, got %d", i, len(got.Children))
		}
		got = got.Children[0]
	}
}

// shape is the marker interface a polymorphic field dispatches through
// (spec.md §4.4/§6): concrete classes register under their own typeId,
// and the wire carries a u16 concreteTypeId ahead of the usual prelude
// so the decoder knows which concrete decoder to invoke.
type shape interface{ isShape() }

type circle struct{ Radius int32 }

func (circle) isShape() {}

type square struct{ Side int32 }

func (square) isShape() {}

type shapeHolder struct{ Shape shape }

func polymorphicTable() (*Table, *schema.ProtocolType) {
	i32 := func() *schema.ProtocolType { return &schema.ProtocolType{Kind: schema.KindBuiltIn, BuiltIn: schema.BuiltInI32} }
	circlePt := &schema.ProtocolType{TypeID: 1, Kind: schema.KindClass, Name: "circle",
		Fields: []schema.ProtocolProperty{{Name: "Radius", Type: i32()}}}
	squarePt := &schema.ProtocolType{TypeID: 2, Kind: schema.KindClass, Name: "square",
		Fields: []schema.ProtocolProperty{{Name: "Side", Type: i32()}}}
	shapePt := &schema.ProtocolType{Kind: schema.KindClass, Name: "shape", IsAbstract: true, Polymorphic: true}

	table := &Table{
		byGoType: map[reflect.Type]*classCodec{
			reflect.TypeOf(circle{}): {pt: circlePt, goType: reflect.TypeOf(circle{})},
			reflect.TypeOf(square{}): {pt: squarePt, goType: reflect.TypeOf(square{})},
		},
		byTypeID: map[uint16]*classCodec{
			1: {pt: circlePt, goType: reflect.TypeOf(circle{})},
			2: {pt: squarePt, goType: reflect.TypeOf(square{})},
		},
	}
	return table, shapePt
}

func TestEncodeDecodePolymorphicFieldDispatchesOnConcreteTypeID(t *testing.T) {
	table, shapePt := polymorphicTable()
	holderPt := &schema.ProtocolType{Kind: schema.KindClass, Name: "shapeHolder",
		Fields: []schema.ProtocolProperty{{Name: "Shape", Type: shapePt}}}

	holder := shapeHolder{Shape: square{Side: 7}}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	g := graph.Acquire()
	defer graph.Release(g)
	if err := table.EncodeValue(w, g, holderPt, reflect.ValueOf(holder)); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	r := codec.NewReader(&buf)
	g2 := graph.Acquire()
	defer graph.Release(g2)
	v, err := table.DecodeValue(r, g2, holderPt, reflect.TypeOf(shapeHolder{}))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	got := v.Interface().(shapeHolder)
	sq, ok := got.Shape.(*square)
	if !ok {
		t.Fatalf("expected *square, got %T", got.Shape)
	}
	if sq.Side != 7 {
		t.Fatalf("expected Side=7, got %d", sq.Side)
	}
}

func TestEncodeDecodePolymorphicFieldNil(t *testing.T) {
	table, shapePt := polymorphicTable()
	holderPt := &schema.ProtocolType{Kind: schema.KindClass, Name: "shapeHolder",
		Fields: []schema.ProtocolProperty{{Name: "Shape", Type: shapePt}}}

	holder := shapeHolder{Shape: nil}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	g := graph.Acquire()
	defer graph.Release(g)
	if err := table.EncodeValue(w, g, holderPt, reflect.ValueOf(holder)); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	r := codec.NewReader(&buf)
	g2 := graph.Acquire()
	defer graph.Release(g2)
	v, err := table.DecodeValue(r, g2, holderPt, reflect.TypeOf(shapeHolder{}))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	got := v.Interface().(shapeHolder)
	if got.Shape != nil {
		t.Fatalf("expected nil Shape, got %v", got.Shape)
	}
}

func TestEncodeDecodeNilClassPointer(t *testing.T) {
	pt := classType()
	table := &Table{byGoType: map[reflect.Type]*classCodec{}, byTypeID: map[uint16]*classCodec{}}

	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	g := graph.Acquire()
	defer graph.Release(g)

	var nilNode *node
	if err := table.EncodeValue(w, g, pt, reflect.ValueOf(nilNode)); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	r := codec.NewReader(&buf)
	v, err := table.DecodeValue(r, g, pt, reflect.TypeOf((*node)(nil)))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if !v.IsNil() {
		t.Fatalf("expected decoded nil pointer")
	}
}
