package vm

import (
	"testing"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/ir"
)

func newSite(name string, policy CachePolicy) *CallSite {
	return &CallSite{name: name, ct: ir.CallNormal, policy: policy}
}

func dispatch(t *testing.T, th *Thread, s *CallSite, recv Value, args ...Value) Value {
	t.Helper()
	v, err := s.Dispatch(th, recv, args, nil)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", s.name, err)
	}
	return v
}

func TestCacheMonomorphic(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	s := newSite("succ", CachePolicy{ChainLimit: 4})

	if s.State() != CacheEmpty {
		t.Fatalf("initial state = %s, want empty", s.State())
	}
	for i := int64(0); i < 3; i++ {
		wantValue(t, "succ", dispatch(t, th, s, i), i+1)
	}
	st := s.Stats()
	if st.State != CacheMonomorphic {
		t.Errorf("state = %s, want monomorphic", st.State)
	}
	if st.Hits != 2 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", st.Hits, st.Misses)
	}
}

func TestCachePolymorphicGuardChecksBounded(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	s := newSite("to_s", CachePolicy{ChainLimit: 4})
	recvs := []Value{int64(1), "x", Symbol("y")}

	for _, r := range recvs {
		dispatch(t, th, s, r)
	}
	if s.State() != CachePolymorphic {
		t.Fatalf("state = %s, want polymorphic", s.State())
	}
	if n := s.Stats().Bindings; n != len(recvs) {
		t.Errorf("bindings = %d, want %d", n, len(recvs))
	}

	for _, r := range recvs {
		before := s.Stats().GuardChecks
		dispatch(t, th, s, r)
		if d := s.Stats().GuardChecks - before; d == 0 || d > uint64(len(recvs)) {
			t.Errorf("guard checks per call = %d, want 1..%d", d, len(recvs))
		}
	}
}

func TestCacheMegamorphicSkipsGuards(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	s := newSite("to_s", CachePolicy{ChainLimit: 2})

	for _, r := range []Value{int64(1), "x", 2.5} {
		dispatch(t, th, s, r)
	}
	if s.State() != CacheMegamorphic {
		t.Fatalf("state = %s, want megamorphic", s.State())
	}
	before := s.Stats()
	for i := 0; i < 10; i++ {
		wantValue(t, "to_s", dispatch(t, th, s, int64(i)), "0123456789"[i:i+1])
	}
	after := s.Stats()
	if after.GuardChecks != before.GuardChecks {
		t.Errorf("megamorphic site made %d guard checks", after.GuardChecks-before.GuardChecks)
	}
	if after.Generic-before.Generic != 10 {
		t.Errorf("generic lookups = %d, want 10", after.Generic-before.Generic)
	}
}

func TestCacheRebindOnMiss(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	s := newSite("to_s", CachePolicy{ChainLimit: 4, RebindOnMiss: true})

	dispatch(t, th, s, int64(1))
	dispatch(t, th, s, "x")
	if s.State() != CacheMonomorphic {
		t.Errorf("state = %s, want monomorphic", s.State())
	}
}

func TestCacheInvalidatedByRedefinition(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	base := rt.DefineClass("Base", nil)
	derived := rt.DefineClass("Derived", base)
	rt.DefineMethod(base, method("val", 0, nil, num(1)))

	s := newSite("val", CachePolicy{ChainLimit: 4})
	obj := rt.NewObject(derived)
	wantValue(t, "val", dispatch(t, th, s, obj), int64(1))
	wantValue(t, "val", dispatch(t, th, s, obj), int64(1))

	// Redefining in the superclass must reach the subclass binding.
	rt.DefineMethod(base, method("val", 0, nil, num(2)))
	wantValue(t, "val after redefinition", dispatch(t, th, s, obj), int64(2))

	// An override in the receiver's own class wins from then on.
	rt.DefineMethod(derived, method("val", 0, nil, num(3)))
	wantValue(t, "val after override", dispatch(t, th, s, obj), int64(3))

	rt.RemoveMethod(derived, "val")
	wantValue(t, "val after removal", dispatch(t, th, s, obj), int64(2))

	if st := s.Stats(); st.Misses != 4 {
		t.Errorf("misses = %d, want 4", st.Misses)
	}
}

func TestCacheBindsCompiledUnits(t *testing.T) {
	rt := newRuntime(t, eagerOptions())
	th := rt.NewThread()
	rt.DefineMethod(rt.Object, sumToDef())
	u := unitOf(t, rt.Object, "sum_to")

	s := newSite("sum_to", CachePolicy{ChainLimit: 4})
	s.ct = ir.CallFunctional
	wantValue(t, "sum_to", dispatch(t, th, s, rt.Main(), int64(3)), int64(6))
	drain(t, rt)
	if u.Tier() != TierNative {
		t.Fatalf("tier = %s, want native", u.Tier())
	}

	// Promotion fires no switch point; a rebind picks up the native body.
	s.Reset()
	wantValue(t, "sum_to", dispatch(t, th, s, rt.Main(), int64(4)), int64(10))
	snap := s.snap.Load()
	if snap == nil || len(snap.bindings) != 1 || snap.bindings[0].kind != bindCompiled {
		t.Errorf("binding should call the native body directly")
	}
}

func TestMethodMissing(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	ghost := rt.DefineClass("Ghost", nil)
	rt.DefineMethod(ghost, &compiler.MethodDef{
		Name:       "method_missing",
		Params:     &compiler.Params{Required: []int{0}, Rest: 1, Block: -1},
		Body:       array(lv(0), lv(1)),
		LocalNames: []string{"name", "args"},
	})

	s := newSite("boo", CachePolicy{ChainLimit: 4})
	got, err := th.inspect(dispatch(t, th, s, rt.NewObject(ghost), int64(7)))
	if err != nil {
		t.Fatal(err)
	}
	if want := "[:boo, [7]]"; got != want {
		t.Errorf("method_missing result = %s, want %s", got, want)
	}

	_, err = s.Dispatch(th, int64(1), nil, nil)
	re, ok := err.(*RaiseError)
	if !ok || re.Exception.Class() != rt.NoMethodError {
		t.Errorf("missing method on Integer = %v, want NoMethodError", err)
	}
}

func TestPrivateMethodRejectsExplicitReceiver(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	th := rt.NewThread()
	s := newSite("puts", CachePolicy{ChainLimit: 4})

	_, err := s.Dispatch(th, rt.Main(), nil, nil)
	re, ok := err.(*RaiseError)
	if !ok || re.Exception.Class() != rt.NoMethodError {
		t.Fatalf("err = %v, want NoMethodError", err)
	}
	if msg := re.Message(); msg == "" {
		t.Error("error should carry a message")
	}
}

// ---------------------------------------------------------------------------
// Field and constant sites
// ---------------------------------------------------------------------------

func TestFieldSiteCachesLayout(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	point := rt.DefineClass("Point", nil)
	other := rt.DefineClass("Other", nil)
	site := &FieldSite{name: "@x"}

	a, b := rt.NewObject(point), rt.NewObject(point)
	if err := site.Set(rt, a, int64(1)); err != nil {
		t.Fatal(err)
	}
	if err := site.Set(rt, b, int64(2)); err != nil {
		t.Fatal(err)
	}
	wantValue(t, "a.@x", site.Get(a), int64(1))
	wantValue(t, "b.@x", site.Get(b), int64(2))
	if site.Hits() == 0 {
		t.Error("same-class accesses should hit")
	}
	if site.Generic() {
		t.Fatal("site should not be generic yet")
	}

	o := rt.NewObject(other)
	if v := site.Get(o); v != nil {
		t.Errorf("unset field = %v, want nil", v)
	}
	if !site.Generic() {
		t.Error("a second receiver class should make the site generic")
	}
	wantValue(t, "a.@x", site.Get(a), int64(1))
}

func TestFieldSiteOnValuesRaises(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	site := &FieldSite{name: "@x"}
	if v := site.Get(int64(3)); v != nil {
		t.Errorf("ivar of an integer = %v, want nil", v)
	}
	if err := site.Set(rt, int64(3), int64(1)); err == nil {
		t.Error("setting an ivar on an integer should fail")
	}
}

func TestConstSiteInvalidation(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	site := &ConstSite{name: "LIMIT"}

	if _, err := site.Get(rt); err == nil {
		t.Fatal("missing constant should raise")
	}
	rt.SetConst("LIMIT", int64(10))
	v, err := site.Get(rt)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, "LIMIT", v, int64(10))
	if !site.Cached() {
		t.Fatal("site should be cached")
	}

	rt.SetConst("OTHER", int64(1))
	if site.Cached() {
		t.Error("any constant assignment should invalidate the site")
	}
	rt.SetConst("LIMIT", int64(20))
	v, _ = site.Get(rt)
	wantValue(t, "LIMIT", v, int64(20))
}
