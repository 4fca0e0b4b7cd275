package vm

import (
	"reflect"
	"testing"
)

func TestNewClass(t *testing.T) {
	c := newClass("Point", nil)

	if c.Name != "Point" {
		t.Errorf("Name = %q, want %q", c.Name, "Point")
	}
	if c.Super != nil {
		t.Error("Super should be nil")
	}
	if !c.SwitchPoint().Valid() {
		t.Error("a new class should have a valid switch point")
	}
	if len(c.Layout().Names()) != 0 {
		t.Errorf("Layout = %v, want empty", c.Layout().Names())
	}
}

func TestDefineFiresSubclassSwitchPoints(t *testing.T) {
	base := newClass("Base", nil)
	mid := newClass("Mid", base)
	leaf := newClass("Leaf", mid)
	other := newClass("Other", nil)

	spBase, spLeaf, spOther := base.SwitchPoint(), leaf.SwitchPoint(), other.SwitchPoint()
	base.Define("x", &Builtin{name: "x"}, Public)

	if spBase.Valid() || spLeaf.Valid() {
		t.Error("defining on Base should fire its own and its subclasses' switch points")
	}
	if !spOther.Valid() {
		t.Error("an unrelated class should be untouched")
	}
	if !leaf.SwitchPoint().Valid() {
		t.Error("the replacement switch point should be valid")
	}
}

func TestRemoveMissingKeepsSwitchPoint(t *testing.T) {
	c := newClass("C", nil)
	sp := c.SwitchPoint()
	if c.Remove("nope") {
		t.Error("Remove of an undefined name reported true")
	}
	if !sp.Valid() {
		t.Error("a no-op Remove should not fire the switch point")
	}
}

func TestLookupWalksSuperclasses(t *testing.T) {
	base := newClass("Base", nil)
	leaf := newClass("Leaf", base)
	m := &Builtin{name: "x"}
	base.Define("x", m, Private)

	got, vis, owner := leaf.Lookup("x")
	if got != m || vis != Private || owner != base {
		t.Errorf("Lookup = %v, %s, %v; want the Base method, private", got, vis, owner)
	}
	if got, _, _ := leaf.Lookup("y"); got != nil {
		t.Errorf("Lookup(y) = %v, want nil", got)
	}
}

func TestSetVisibilityCopiesInherited(t *testing.T) {
	base := newClass("Base", nil)
	leaf := newClass("Leaf", base)
	base.Define("x", &Builtin{name: "x"}, Public)

	if !leaf.SetVisibility("x", Private) {
		t.Fatal("SetVisibility returned false")
	}
	if _, vis, owner := leaf.Lookup("x"); vis != Private || owner != leaf {
		t.Errorf("leaf x = %s from %v, want private from leaf", vis, owner)
	}
	if _, vis, _ := base.Lookup("x"); vis != Public {
		t.Errorf("base x = %s, want public", vis)
	}
	if leaf.SetVisibility("nope", Private) {
		t.Error("SetVisibility of an undefined name reported true")
	}
}

func TestFieldIndexGrowsLayout(t *testing.T) {
	c := newClass("C", nil)
	first := c.Layout()

	if i := c.fieldIndex("@a"); i != 0 {
		t.Errorf("@a = %d, want 0", i)
	}
	if i := c.fieldIndex("@b"); i != 1 {
		t.Errorf("@b = %d, want 1", i)
	}
	if i := c.fieldIndex("@a"); i != 0 {
		t.Errorf("@a again = %d, want 0", i)
	}
	if first.Index("@a") != -1 {
		t.Error("an old layout must not change")
	}
	if got := c.Layout().Names(); !reflect.DeepEqual(got, []string{"@a", "@b"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestIsSubclassOf(t *testing.T) {
	base := newClass("Base", nil)
	leaf := newClass("Leaf", base)

	if !leaf.IsSubclassOf(base) || !leaf.IsSubclassOf(leaf) {
		t.Error("Leaf should be a subclass of Base and itself")
	}
	if base.IsSubclassOf(leaf) {
		t.Error("Base is not a subclass of Leaf")
	}
}

func TestMetaInheritsClassMethods(t *testing.T) {
	classClass := newClass("Class", nil)
	base := newClass("Base", nil)
	leaf := newClass("Leaf", base)

	m := &Builtin{name: "create"}
	base.Meta(classClass).Define("create", m, Public)

	if got, _, _ := leaf.Meta(classClass).Lookup("create"); got != m {
		t.Error("a class method should be inherited by the subclass's metaclass")
	}
	if base.Meta(classClass) != base.Meta(classClass) {
		t.Error("Meta should return the same class on every call")
	}
}

func TestMethodNamesAndUnitMethods(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	c := rt.DefineClass("Shape", nil)
	rt.DefineMethod(c, method("b", 0, nil, num(1)))
	rt.DefineMethod(c, method("a", 0, nil, num(2)))
	c.Define("native", &Builtin{name: "native"}, Public)

	if got := c.MethodNames(); !reflect.DeepEqual(got, []string{"a", "b", "native"}) {
		t.Errorf("MethodNames = %v", got)
	}
	if got := len(c.UnitMethods()); got != 2 {
		t.Errorf("UnitMethods = %d, want 2", got)
	}
}
