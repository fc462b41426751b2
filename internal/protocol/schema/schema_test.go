package schema

import (
	"reflect"
	"testing"
)

type echoAPI struct{}

func (echoAPI) Echo(s string) string { return s }

type mismatchedEchoAPI struct{}

func (mismatchedEchoAPI) Echo(s string) int { return 0 }

type node struct {
	Value    int
	Children []*node
}

type graphAPI struct{}

func (graphAPI) Identity(n *node) *node { return n }

func TestDiscoverEchoInterface(t *testing.T) {
	iface, classes, err := Discover(0, "Echo", echoAPI{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(iface.Operations) != 1 || iface.Operations[0].Name != "Echo" {
		t.Fatalf("unexpected operations: %+v", iface.Operations)
	}
	if len(classes) != 0 {
		t.Fatalf("expected no classes for a string-only interface, got %d", len(classes))
	}
}

func TestDiscoverSelfReferentialClassTerminates(t *testing.T) {
	iface, classes, err := Discover(0, "Graph", graphAPI{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(classes) != 1 {
		t.Fatalf("expected exactly one class for self-referential node, got %d", len(classes))
	}
	nodeType := classes[0]
	if nodeType.Name != "node" {
		t.Fatalf("expected class named node, got %s", nodeType.Name)
	}
	foundSelfRef := false
	for _, f := range nodeType.Fields {
		if f.Name == "Children" && f.Type.Kind == KindArray {
			foundSelfRef = true
		}
	}
	if !foundSelfRef {
		t.Fatalf("expected Children field resolved as array: %+v", nodeType.Fields)
	}
	_ = iface
}

func TestCompareMatchingDescriptorsSucceeds(t *testing.T) {
	iface, classes, err := Discover(0, "Echo", echoAPI{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	d := &ProtocolDescriptor{Interfaces: []ProtocolInterface{iface}, Classes: classes}
	ok, _, _, _ := Compare(d, d)
	if !ok {
		t.Fatalf("expected identical descriptors to compare equal")
	}
}

func TestCompareReturnTypeMismatch(t *testing.T) {
	localIface, localClasses, err := Discover(0, "Echo", echoAPI{})
	if err != nil {
		t.Fatalf("Discover local: %v", err)
	}
	remoteIface, remoteClasses, err := Discover(0, "Echo", mismatchedEchoAPI{})
	if err != nil {
		t.Fatalf("Discover remote: %v", err)
	}
	local := &ProtocolDescriptor{Interfaces: []ProtocolInterface{localIface}, Classes: localClasses}
	remote := &ProtocolDescriptor{Interfaces: []ProtocolInterface{remoteIface}, Classes: remoteClasses}

	ok, mismatchIface, mismatchOp, reason := Compare(local, remote)
	if ok {
		t.Fatalf("expected mismatch between string and int return types")
	}
	if mismatchIface != "Echo" || mismatchOp != "Echo" {
		t.Fatalf("unexpected mismatch location: iface=%s op=%s", mismatchIface, mismatchOp)
	}
	if reason != "returnType" {
		t.Fatalf("expected reason returnType, got %s", reason)
	}
}

type base struct {
	ID int32
}

type derived struct {
	base
	Extra int32
}

type inheritanceAPI struct{}

func (inheritanceAPI) GetDerived() derived { return derived{} }

func TestDiscoverEmbeddedStructLinksParentAndSplicesFields(t *testing.T) {
	_, classes, err := Discover(0, "Inheritance", inheritanceAPI{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	var basePt, derivedPt *ProtocolType
	for _, c := range classes {
		switch c.Name {
		case "base":
			basePt = c
		case "derived":
			derivedPt = c
		}
	}
	if basePt == nil || derivedPt == nil {
		t.Fatalf("expected both base and derived classes, got %+v", classes)
	}
	if derivedPt.Parent != basePt {
		t.Fatalf("expected derived.Parent == base")
	}
	if !basePt.CanBeInherited {
		t.Fatalf("expected base.CanBeInherited")
	}
	if len(derivedPt.Fields) != 2 || derivedPt.Fields[0].Name != "ID" || derivedPt.Fields[1].Name != "Extra" {
		t.Fatalf("expected derived.Fields == [ID, Extra] (superset of base's), got %+v", derivedPt.Fields)
	}
	if len(basePt.Fields) != 1 || basePt.Fields[0].Name != "ID" {
		t.Fatalf("expected base.Fields == [ID], got %+v", basePt.Fields)
	}
}

type animal interface{ Speak() string }

type dog struct{}

func (dog) Speak() string { return "woof" }

type polyAPI struct{}

func (polyAPI) GetAnimal() animal { return dog{} }
func (polyAPI) MakeDog() dog      { return dog{} }

func TestDiscoverInterfaceImplementerMarksPolymorphic(t *testing.T) {
	iface, classes, err := Discover(0, "Poly", polyAPI{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	var animalPt *ProtocolType
	for _, c := range classes {
		if c.Name == "animal" {
			animalPt = c
		}
	}
	if animalPt == nil {
		t.Fatalf("expected an animal class, got %+v", classes)
	}
	if !animalPt.IsAbstract {
		t.Fatalf("expected animal.IsAbstract")
	}
	if !animalPt.Polymorphic || !animalPt.CanBeInherited {
		t.Fatalf("expected animal.Polymorphic and CanBeInherited once dog implements it")
	}

	for _, op := range iface.Operations {
		if op.Name == "GetAnimal" {
			if op.ReturnType.Type == nil || !op.ReturnType.Type.Polymorphic {
				t.Fatalf("expected GetAnimal's return type to resolve as Polymorphic")
			}
		}
	}
}

type errAPI struct{}

func (errAPI) Divide(a, b int32) (int32, error) { return a / b, nil }

type declaredError struct{ Message string }

func TestDiscoverPopulatesAllowedErrorTypes(t *testing.T) {
	iface, _, err := Discover(0, "Err", errAPI{}, reflect.TypeOf(declaredError{}))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, op := range iface.Operations {
		if len(op.AllowedErrorTypes) != 1 || op.AllowedErrorTypes[0].Name != "declaredError" {
			t.Fatalf("expected %s.AllowedErrorTypes == [declaredError], got %+v", op.Name, op.AllowedErrorTypes)
		}
	}
}

func TestCompareMissingInterface(t *testing.T) {
	iface, classes, _ := Discover(0, "Echo", echoAPI{})
	local := &ProtocolDescriptor{Interfaces: []ProtocolInterface{iface}, Classes: classes}
	remote := &ProtocolDescriptor{}
	ok, mismatchIface, _, reason := Compare(local, remote)
	if ok || mismatchIface != "Echo" || reason != "interface" {
		t.Fatalf("expected missing-interface mismatch, got ok=%v iface=%s reason=%s", ok, mismatchIface, reason)
	}
}
