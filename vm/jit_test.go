package vm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chazu/tiervm/ir"
)

func callMain(t *testing.T, rt *Runtime, name string, args ...Value) Value {
	t.Helper()
	v, err := rt.Call(rt.Main(), name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

func TestThresholdZeroNeverPromotes(t *testing.T) {
	opts := eagerOptions()
	opts.JITThreshold = 0
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())

	wantValue(t, "fib(12)", callMain(t, rt, "fib", int64(12)), int64(144))
	drain(t, rt)

	u := unitOf(t, rt.Object, "fib")
	if u.State() != Interpreted {
		t.Errorf("state = %s, want interpreted", u.State())
	}
	if u.Tier() != TierInterpreted {
		t.Errorf("tier = %s, want interpreted", u.Tier())
	}
	if u.Calls() == 0 {
		t.Error("calls should still be counted")
	}
	if st := rt.JIT().Stats(); st.Successes != 0 {
		t.Errorf("successes = %d, want 0", st.Successes)
	}
}

func TestThresholdOnePromotesOnFirstCall(t *testing.T) {
	rt := newRuntime(t, eagerOptions())
	rt.DefineMethod(rt.Object, fibDef())

	wantValue(t, "fib(1)", callMain(t, rt, "fib", int64(1)), int64(1))
	drain(t, rt)

	u := unitOf(t, rt.Object, "fib")
	if u.State() != NativeCompiled {
		t.Fatalf("state = %s, want native-compiled", u.State())
	}
	if u.Tier() != TierNative {
		t.Errorf("tier = %s, want native", u.Tier())
	}
	wantValue(t, "fib(20)", callMain(t, rt, "fib", int64(20)), int64(6765))

	st := rt.JIT().Stats()
	if st.Successes != 1 {
		t.Errorf("successes = %d, want 1", st.Successes)
	}
	if st.CodeSizeAverage() <= 0 || st.IRSizeAverage() <= 0 {
		t.Errorf("averages = %v/%v, want positive", st.CodeSizeAverage(), st.IRSizeAverage())
	}
	if float64(st.IRSizeLargest) < st.IRSizeAverage() {
		t.Errorf("largest IR %d below average %v", st.IRSizeLargest, st.IRSizeAverage())
	}
}

func TestTiersOnlyMoveUp(t *testing.T) {
	opts := eagerOptions()
	opts.FullBuildThreshold = 2
	opts.JITThreshold = 4
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, method("one", 0, nil, num(1)))
	u := unitOf(t, rt.Object, "one")

	want := []Tier{TierInterpreted, TierFullBuild, TierFullBuild, TierNative, TierNative}
	for i, tier := range want {
		wantValue(t, "one", callMain(t, rt, "one"), int64(1))
		drain(t, rt)
		if u.Tier() != tier {
			t.Errorf("after call %d tier = %s, want %s", i+1, u.Tier(), tier)
		}
	}
	if st := rt.JIT().Stats(); st.FullBuilds != 1 || st.Successes != 1 {
		t.Errorf("full builds = %d, successes = %d, want 1 and 1", st.FullBuilds, st.Successes)
	}
}

func TestCompileAtMostOncePerUnit(t *testing.T) {
	var mu sync.Mutex
	lowered := map[string]int{}
	opts := eagerOptions()
	opts.Workers = 4
	opts.Lower = func(s *ir.Scope) (*Program, error) {
		mu.Lock()
		lowered[s.Name]++
		mu.Unlock()
		return Lower(s)
	}
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.Call(rt.Main(), "fib", int64(18)); err != nil {
				t.Errorf("fib: %v", err)
			}
		}()
	}
	wg.Wait()
	drain(t, rt)

	mu.Lock()
	defer mu.Unlock()
	if lowered["fib"] != 1 {
		t.Errorf("fib lowered %d times, want 1", lowered["fib"])
	}
}

func TestCompileFailureIsContained(t *testing.T) {
	opts := eagerOptions()
	opts.MaxIRSize = 1
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())

	wantValue(t, "fib(15)", callMain(t, rt, "fib", int64(15)), int64(610))
	drain(t, rt)

	u := unitOf(t, rt.Object, "fib")
	if u.State() != PermanentlyInterpreted {
		t.Fatalf("state = %s, want permanently-interpreted", u.State())
	}
	if st := rt.JIT().Stats(); st.Failures != 1 {
		t.Fatalf("failures = %d, want 1", st.Failures)
	}

	wantValue(t, "fib(15)", callMain(t, rt, "fib", int64(15)), int64(610))
	drain(t, rt)
	if st := rt.JIT().Stats(); st.Failures != 1 {
		t.Errorf("failures after more calls = %d, want 1 (never resubmitted)", st.Failures)
	}
	if u.Tier() != TierInterpreted {
		t.Errorf("tier = %s, want interpreted", u.Tier())
	}
}

func TestLoweringPanicIsContained(t *testing.T) {
	opts := eagerOptions()
	opts.Lower = func(s *ir.Scope) (*Program, error) { panic("lowering exploded") }
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, sumToDef())

	wantValue(t, "sum_to(10)", callMain(t, rt, "sum_to", int64(10)), int64(55))
	drain(t, rt)

	if u := unitOf(t, rt.Object, "sum_to"); u.State() != PermanentlyInterpreted {
		t.Errorf("state = %s, want permanently-interpreted", u.State())
	}
	if st := rt.JIT().Stats(); st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}
	wantValue(t, "sum_to(10)", callMain(t, rt, "sum_to", int64(10)), int64(55))
}

func TestLoweringErrorIsContained(t *testing.T) {
	opts := eagerOptions()
	opts.Lower = func(s *ir.Scope) (*Program, error) { return nil, errors.New("no backend") }
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, sumToDef())

	wantValue(t, "sum_to(4)", callMain(t, rt, "sum_to", int64(4)), int64(10))
	drain(t, rt)
	if u := unitOf(t, rt.Object, "sum_to"); u.State() != PermanentlyInterpreted {
		t.Errorf("state = %s, want permanently-interpreted", u.State())
	}
}

func TestExcludedUnitIsNeverSubmitted(t *testing.T) {
	opts := eagerOptions()
	opts.Exclusions = Exclusions{Names: []string{"Object#f*"}}
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())
	rt.DefineMethod(rt.Object, sumToDef())

	wantValue(t, "fib(10)", callMain(t, rt, "fib", int64(10)), int64(55))
	wantValue(t, "sum_to(3)", callMain(t, rt, "sum_to", int64(3)), int64(6))
	drain(t, rt)

	fib := unitOf(t, rt.Object, "fib")
	if !fib.Excluded() {
		t.Error("fib should be excluded")
	}
	if fib.State() != Interpreted {
		t.Errorf("fib state = %s, want interpreted", fib.State())
	}
	callMain(t, rt, "fib", int64(5))
	if fib.Calls() != excludedCount {
		t.Errorf("fib calls = %d, want %d", fib.Calls(), excludedCount)
	}
	if rt.Controller().Promote(fib) {
		t.Error("Promote should refuse an excluded unit")
	}

	st := rt.JIT().Stats()
	if st.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", st.Excluded)
	}
	if sum := unitOf(t, rt.Object, "sum_to"); sum.State() != NativeCompiled {
		t.Errorf("sum_to state = %s, want native-compiled", sum.State())
	}
}

func TestExcludedUnitSkipsFullBuild(t *testing.T) {
	opts := eagerOptions()
	opts.FullBuildThreshold = 2
	opts.JITThreshold = 5
	opts.Exclusions = Exclusions{Names: []string{"Object#fib"}}
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())
	rt.DefineMethod(rt.Object, sumToDef())

	callMain(t, rt, "fib", int64(1))
	callMain(t, rt, "fib", int64(1))
	callMain(t, rt, "sum_to", int64(3))
	callMain(t, rt, "sum_to", int64(3))
	drain(t, rt)

	fib := unitOf(t, rt.Object, "fib")
	if !fib.Excluded() {
		t.Error("fib should be excluded")
	}
	if fib.State() != Interpreted || fib.Tier() != TierInterpreted {
		t.Errorf("fib state/tier = %s/%s, want interpreted/interpreted", fib.State(), fib.Tier())
	}
	st := rt.JIT().Stats()
	if st.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", st.Excluded)
	}
	if st.FullBuilds != 1 {
		t.Errorf("full builds = %d, want 1 (sum_to only)", st.FullBuilds)
	}
	if sum := unitOf(t, rt.Object, "sum_to"); sum.Tier() != TierFullBuild {
		t.Errorf("sum_to tier = %s, want full-build", sum.Tier())
	}
}

func TestExclusionSentinelSurvivesConcurrentCalls(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	rt.DefineMethod(rt.Object, sumToDef())
	u := unitOf(t, rt.Object, "sum_to")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 1000; n++ {
				u.count()
			}
		}()
	}
	excluded := u.exclude()
	wg.Wait()

	if !excluded {
		t.Error("first exclude should report true")
	}
	if u.exclude() {
		t.Error("second exclude should report false")
	}
	if u.Calls() != excludedCount {
		t.Errorf("calls = %d, want %d", u.Calls(), excludedCount)
	}
	if _, ok := u.count(); ok {
		t.Error("an excluded unit must not be counted")
	}
}

func TestDrainReturnsOnCancel(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	j := rt.JIT()
	j.addPending(1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := j.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain = %v, want context.Canceled", err)
	}

	j.addPending(-1)
	if err := j.Drain(context.Background()); err != nil {
		t.Errorf("Drain after the last task = %v, want nil", err)
	}
}

func TestSubmitWhenStoppedReverts(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	rt.DefineMethod(rt.Object, sumToDef())
	u := unitOf(t, rt.Object, "sum_to")

	u.setState(QueuedForJIT)
	err := rt.JIT().Submit(Task{Unit: u, Kind: TaskNative, from: Interpreted})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit = %v, want ErrNotRunning", err)
	}
	if u.State() != Interpreted {
		t.Errorf("state = %s, want interpreted", u.State())
	}
}

func TestQueueFullAbandonsTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	opts := eagerOptions()
	opts.Workers = 1
	opts.QueueSize = 1
	opts.Lower = func(s *ir.Scope) (*Program, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		return Lower(s)
	}
	rt := newRuntime(t, opts)
	released := false
	defer func() {
		if !released {
			close(release)
		}
	}()
	for _, name := range []string{"a", "b", "c"} {
		rt.DefineMethod(rt.Object, method(name, 0, nil, str(name)))
	}

	callMain(t, rt, "a")
	<-started // the only worker is now busy with a
	callMain(t, rt, "b")
	callMain(t, rt, "c")

	c := unitOf(t, rt.Object, "c")
	if c.State() != Interpreted {
		t.Errorf("abandoned unit state = %s, want interpreted", c.State())
	}
	if st := rt.JIT().Stats(); st.Abandons != 1 {
		t.Errorf("abandons = %d, want 1", st.Abandons)
	}

	close(release)
	released = true
	drain(t, rt)
	for _, name := range []string{"a", "b"} {
		if u := unitOf(t, rt.Object, name); u.State() != NativeCompiled {
			t.Errorf("%s state = %s, want native-compiled", name, u.State())
		}
	}

	wantValue(t, "c", callMain(t, rt, "c"), "c")
	drain(t, rt)
	if c.State() != NativeCompiled {
		t.Errorf("resubmitted c state = %s, want native-compiled", c.State())
	}
}

func TestContentStoreSharesPrograms(t *testing.T) {
	rt := newRuntime(t, eagerOptions())
	a := rt.DefineClass("A", nil)
	b := rt.DefineClass("B", nil)
	rt.DefineMethod(a, sumToDef())
	rt.DefineMethod(b, sumToDef())

	for _, cls := range []*Class{a, b} {
		v, err := rt.Call(rt.NewObject(cls), "sum_to", int64(4))
		if err != nil {
			t.Fatal(err)
		}
		wantValue(t, cls.Name+"#sum_to", v, int64(10))
		drain(t, rt)
	}

	ua, ub := unitOf(t, a, "sum_to"), unitOf(t, b, "sum_to")
	ca, _ := ua.Code()
	cb, _ := ub.Code()
	if ca.Tier != TierNative || cb.Tier != TierNative {
		t.Fatalf("tiers = %s/%s, want native", ca.Tier, cb.Tier)
	}
	if ca.prog != cb.prog {
		t.Error("identical bodies should share one program")
	}
	if ca.Loader() == cb.Loader() || ca.Loader().ID() == cb.Loader().ID() {
		t.Error("each compilation should link through its own loader")
	}
	if st := rt.JIT().Stats(); st.StoreHits != 1 {
		t.Errorf("store hits = %d, want 1", st.StoreHits)
	}
	if rt.ContentStore().Len() != 1 {
		t.Errorf("store len = %d, want 1", rt.ContentStore().Len())
	}
}

func TestLedgerSkipsKnownFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "failures.db")

	opts := eagerOptions()
	opts.Lower = func(s *ir.Scope) (*Program, error) { return nil, errors.New("no backend") }
	opts.LedgerPath = path
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())
	callMain(t, rt, "fib", int64(5))
	drain(t, rt)

	code, err := unitOf(t, rt.Object, "fib").Code()
	if err != nil {
		t.Fatal(err)
	}
	key, err := ir.ContentKey(code.Scope)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := rt.Ledger().Lookup(key)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Unit != "Object#fib" {
		t.Fatalf("ledger record = %+v, want one for Object#fib", rec)
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh runtime with a working backend still refuses the body.
	opts.Lower = nil
	rt2 := newRuntime(t, opts)
	rt2.DefineMethod(rt2.Object, fibDef())
	wantValue(t, "fib(5)", callMain(t, rt2, "fib", int64(5)), int64(5))
	drain(t, rt2)

	if u := unitOf(t, rt2.Object, "fib"); u.State() != PermanentlyInterpreted {
		t.Errorf("state = %s, want permanently-interpreted", u.State())
	}
	n, err := rt2.Ledger().Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ledger count = %d, want 1", n)
	}
}

func TestLedgerIgnoresConfiguredLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.db")

	opts := eagerOptions()
	opts.MaxIRSize = 1
	opts.LedgerPath = path
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, fibDef())
	callMain(t, rt, "fib", int64(5))
	drain(t, rt)

	if u := unitOf(t, rt.Object, "fib"); u.State() != PermanentlyInterpreted {
		t.Fatalf("state = %s, want permanently-interpreted", u.State())
	}
	if n, err := rt.Ledger().Count(); err != nil || n != 0 {
		t.Fatalf("ledger count = %d (%v), want 0", n, err)
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}

	// Raising the ceiling lets the same body compile after a restart.
	opts.MaxIRSize = 0
	rt2 := newRuntime(t, opts)
	rt2.DefineMethod(rt2.Object, fibDef())
	wantValue(t, "fib(5)", callMain(t, rt2, "fib", int64(5)), int64(5))
	drain(t, rt2)

	u := unitOf(t, rt2.Object, "fib")
	if u.State() != NativeCompiled || u.Tier() != TierNative {
		t.Errorf("state/tier = %s/%s, want native-compiled/native", u.State(), u.Tier())
	}
}

func TestFullBuildKeepsSitesWarm(t *testing.T) {
	opts := eagerOptions()
	opts.FullBuildThreshold = 1
	opts.JITThreshold = 0
	rt := newRuntime(t, opts)
	rt.DefineMethod(rt.Object, method("greet", 0, nil, call(str("hi"), "upcase")))

	callMain(t, rt, "greet")
	drain(t, rt)
	u := unitOf(t, rt.Object, "greet")
	if u.Tier() != TierFullBuild {
		t.Fatalf("tier = %s, want full-build", u.Tier())
	}
	callMain(t, rt, "greet")

	sites := u.sites.CallSites()
	if len(sites) != 1 {
		t.Fatalf("call sites = %d, want 1", len(sites))
	}
	st := sites[0].Stats()
	if st.Misses != 1 || st.Hits != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
}
