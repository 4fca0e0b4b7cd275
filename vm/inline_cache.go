package vm

import (
	"sync/atomic"

	"github.com/chazu/tiervm/ir"
)

// Inline caching for method dispatch
//
// Each call site keeps a short chain of guarded bindings. A binding is
// trusted only while the receiver class matches and the switch point it
// was bound under has not fired. The chain grows up to the policy's limit
// and then collapses to the generic lookup for good.
//
// The cache state is an immutable snapshot replaced atomically. Racing
// updates may lose a binding (last write wins); that costs a later miss,
// never a wrong target.

// CacheState is the shape of a call site's cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // nothing bound yet
	CacheMonomorphic                   // one binding
	CachePolymorphic                   // 2..ChainLimit bindings
	CacheMegamorphic                   // generic lookup, no guards
)

func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "unknown"
}

// CachePolicy tunes call-site caches.
type CachePolicy struct {
	ChainLimit   int
	RebindOnMiss bool
}

type bindingKind uint8

const (
	bindNative   bindingKind = iota // builtin with a fixed-arity entry
	bindCompiled                    // unit already at the native tier
	bindGeneric                     // any other method
	bindMissing                     // method_missing
)

type binding struct {
	class   *Class
	sp      *SwitchPoint
	kind    bindingKind
	method  Method
	builtin *Builtin
	um      *UnitMethod
	code    *Code
	private bool
}

type cacheSnapshot struct {
	state    CacheState
	bindings []*binding
}

// CallSite is the cache of one call, super or operator instruction.
type CallSite struct {
	name   string
	ct     ir.CallType
	super  bool
	policy CachePolicy

	snap atomic.Pointer[cacheSnapshot]

	hits        atomic.Uint64
	misses      atomic.Uint64
	generic     atomic.Uint64
	guardChecks atomic.Uint64
}

// CacheStats is a snapshot of a call site's counters.
type CacheStats struct {
	Name        string
	State       CacheState
	Bindings    int
	Hits        uint64
	Misses      uint64
	Generic     uint64
	GuardChecks uint64
}

// Stats returns the site's counters.
func (s *CallSite) Stats() CacheStats {
	st := CacheStats{
		Name:        s.name,
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Generic:     s.generic.Load(),
		GuardChecks: s.guardChecks.Load(),
	}
	if snap := s.snap.Load(); snap != nil {
		st.State = snap.state
		st.Bindings = len(snap.bindings)
	}
	return st
}

// State returns the current cache state.
func (s *CallSite) State() CacheState {
	if snap := s.snap.Load(); snap != nil {
		return snap.state
	}
	return CacheEmpty
}

// Dispatch calls the site's method on recv.
func (s *CallSite) Dispatch(t *Thread, recv Value, args []Value, blk *Proc) (Value, error) {
	cls := t.rt.ClassOf(recv)
	snap := s.snap.Load()
	if snap != nil {
		if snap.state == CacheMegamorphic {
			s.generic.Add(1)
			return t.callMethod(recv, s.name, s.ct, args, blk)
		}
		for _, b := range snap.bindings {
			s.guardChecks.Add(1)
			if b.class == cls && b.sp.Valid() {
				s.hits.Add(1)
				return b.invoke(t, s, recv, args, blk)
			}
		}
	}
	s.misses.Add(1)
	b := s.bind(cls, cls, s.name)
	s.update(snap, b)
	return b.invoke(t, s, recv, args, blk)
}

// DispatchSuper calls the superclass implementation of the running method.
// The guard key is the class owning the running method.
func (s *CallSite) DispatchSuper(t *Thread, f *Frame, args []Value, blk *Proc) (Value, error) {
	owner := f.act.owner
	name := f.act.method
	if owner == nil || name == "" {
		return nil, t.rt.NewError(t.rt.RuntimeError, "super called outside of method")
	}
	snap := s.snap.Load()
	if snap != nil && snap.state != CacheMegamorphic {
		for _, b := range snap.bindings {
			s.guardChecks.Add(1)
			if b.class == owner && b.sp.Valid() {
				s.hits.Add(1)
				return b.invokeSuper(t, f, name, args, blk)
			}
		}
	}
	s.misses.Add(1)
	var b *binding
	if owner.Super == nil {
		b = &binding{class: owner, sp: owner.SwitchPoint(), kind: bindMissing}
	} else {
		b = s.bind(owner, owner.Super, name)
		b.class = owner
	}
	if snap == nil || snap.state != CacheMegamorphic {
		s.update(snap, b)
	}
	return b.invokeSuper(t, f, name, args, blk)
}

// bind resolves the site's name starting at from. The switch point is
// read before the lookup, so a definition racing with this bind fires it.
func (s *CallSite) bind(key, from *Class, name string) *binding {
	sp := from.SwitchPoint()
	m, private := findMethod(from, name, s.ct)
	b := &binding{class: key, sp: sp, method: m}
	switch m := m.(type) {
	case nil:
		b.kind = bindMissing
		b.private = private
	case *Builtin:
		b.kind = bindGeneric
		if m.Fn0 != nil || m.Fn1 != nil {
			b.kind = bindNative
			b.builtin = m
		}
	case *UnitMethod:
		b.kind = bindGeneric
		if code := m.unit.active.Load(); code != nil && code.Tier == TierNative {
			b.kind = bindCompiled
			b.um = m
			b.code = code
		}
	default:
		b.kind = bindGeneric
	}
	return b
}

func (s *CallSite) update(old *cacheSnapshot, b *binding) {
	limit := s.policy.ChainLimit
	if limit <= 0 {
		limit = 1
	}
	next := &cacheSnapshot{state: CacheMonomorphic, bindings: []*binding{b}}
	if old != nil && old.state != CacheEmpty && !s.policy.RebindOnMiss {
		if old.state == CacheMegamorphic {
			return
		}
		live := make([]*binding, 0, len(old.bindings)+1)
		for _, ob := range old.bindings {
			if ob.class != b.class && ob.sp.Valid() {
				live = append(live, ob)
			}
		}
		live = append(live, b)
		switch {
		case len(live) > limit:
			next = &cacheSnapshot{state: CacheMegamorphic}
		case len(live) > 1:
			next = &cacheSnapshot{state: CachePolymorphic, bindings: live}
		}
	}
	s.snap.Store(next)
}

// Reset empties the cache.
func (s *CallSite) Reset() { s.snap.Store(nil) }

func (b *binding) invoke(t *Thread, s *CallSite, recv Value, args []Value, blk *Proc) (Value, error) {
	switch b.kind {
	case bindNative:
		if b.builtin.fixed(len(args), blk) {
			if len(args) == 0 {
				return b.builtin.Fn0(t, recv)
			}
			return b.builtin.Fn1(t, recv, args[0])
		}
		return b.builtin.Call(t, recv, args, blk)
	case bindCompiled:
		return t.invokeUnit(b.um.unit, b.code, recv, args, blk, b.um.name, b.um.owner)
	case bindGeneric:
		return b.method.Call(t, recv, args, blk)
	}
	return t.methodMissing(recv, s.name, s.ct, args, blk, b.private)
}

func (b *binding) invokeSuper(t *Thread, f *Frame, name string, args []Value, blk *Proc) (Value, error) {
	if b.kind == bindMissing {
		return t.methodMissing(f.Self, name, ir.CallSuper, args, blk, false)
	}
	if b.kind == bindCompiled {
		return t.invokeUnit(b.um.unit, b.code, f.Self, args, blk, b.um.name, b.um.owner)
	}
	return b.method.Call(t, f.Self, args, blk)
}
