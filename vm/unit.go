package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Tiers and states
// ---------------------------------------------------------------------------

// Tier identifies which execution engine runs a body.
type Tier uint8

const (
	TierInterpreted Tier = iota // baseline IR, interpreted
	TierFullBuild               // optimized IR, interpreted
	TierNative                  // lowered program
)

func (t Tier) String() string {
	switch t {
	case TierInterpreted:
		return "interpreted"
	case TierFullBuild:
		return "full-build"
	case TierNative:
		return "native"
	}
	return "unknown"
}

// State is a unit's position in the promotion state machine.
type State uint32

const (
	Interpreted State = iota
	QueuedForFullBuild
	FullyBuilt
	QueuedForJIT
	NativeCompiled
	PermanentlyInterpreted
)

func (s State) String() string {
	switch s {
	case Interpreted:
		return "interpreted"
	case QueuedForFullBuild:
		return "queued-for-full-build"
	case FullyBuilt:
		return "fully-built"
	case QueuedForJIT:
		return "queued-for-jit"
	case NativeCompiled:
		return "native-compiled"
	case PermanentlyInterpreted:
		return "permanently-interpreted"
	}
	return "unknown"
}

// excludedCount is stored in a unit's call counter once an exclusion
// matched; the controller stops counting and never submits it again.
const excludedCount = -1

// ---------------------------------------------------------------------------
// Unit: one method, block or top-level body
// ---------------------------------------------------------------------------

// Unit is a compilable piece of code with its own call counter and tier
// state. The IR is built on first execution. The active Code is swapped
// atomically and only ever moves to a higher tier.
type Unit struct {
	rt   *Runtime
	name string
	file string
	line int
	kind ir.ScopeKind

	node  compiler.Node // MethodDef, Iter or Root; nil for block units
	scope *ir.Scope     // prebuilt IR for block units

	once     sync.Once
	buildErr error
	sites    *SiteTable

	calls  atomic.Int64
	state  atomic.Uint32
	active atomic.Pointer[Code]
	base   *Code // baseline body, run when a folded body is invalid
}

// NewMethodUnit wraps a method definition. Its name is qualified by owner.
func (rt *Runtime) NewMethodUnit(owner *Class, def *compiler.MethodDef) *Unit {
	name := def.Name
	if owner != nil {
		name = owner.Name + "#" + def.Name
	}
	return &Unit{rt: rt, name: name, file: def.File, line: def.Line(), kind: ir.ScopeMethod, node: def}
}

// NewTopUnit wraps a top-level compilation unit.
func (rt *Runtime) NewTopUnit(root *compiler.Root) *Unit {
	return &Unit{rt: rt, name: "<main>", file: root.File, line: root.Line(), kind: ir.ScopeTop, node: root}
}

func (rt *Runtime) newBlockUnit(parent *Unit, s *ir.Scope) *Unit {
	return &Unit{rt: rt, name: "block in " + parent.name, file: s.File, line: s.Line, kind: ir.ScopeBlock, scope: s}
}

func (u *Unit) Name() string       { return u.name }
func (u *Unit) File() string       { return u.file }
func (u *Unit) Line() int          { return u.line }
func (u *Unit) Kind() ir.ScopeKind { return u.kind }
func (u *Unit) State() State       { return State(u.state.Load()) }
func (u *Unit) Calls() int64       { return u.calls.Load() }
func (u *Unit) Excluded() bool     { return u.calls.Load() < 0 }
func (u *Unit) String() string     { return u.name }
func (u *Unit) casState(from, to State) bool {
	return u.state.CompareAndSwap(uint32(from), uint32(to))
}

func (u *Unit) setState(s State) { u.state.Store(uint32(s)) }

// count records one call and returns the new count. It refuses to count
// an excluded unit, so the sentinel is never overwritten.
func (u *Unit) count() (int64, bool) {
	for {
		n := u.calls.Load()
		if n < 0 {
			return n, false
		}
		if u.calls.CompareAndSwap(n, n+1) {
			return n + 1, true
		}
	}
}

// exclude stores the exclusion sentinel. It reports false when the unit
// was already excluded.
func (u *Unit) exclude() bool {
	for {
		n := u.calls.Load()
		if n < 0 {
			return false
		}
		if u.calls.CompareAndSwap(n, excludedCount) {
			return true
		}
	}
}

// Location is "file:line".
func (u *Unit) Location() string { return fmt.Sprintf("%s:%d", u.file, u.line) }

// Tier returns the tier of the active body.
func (u *Unit) Tier() Tier {
	if c := u.active.Load(); c != nil {
		return c.Tier
	}
	return TierInterpreted
}

// build produces the baseline IR and installs the interpreted body.
func (u *Unit) build() {
	u.once.Do(func() {
		s := u.scope
		if s == nil {
			var err error
			s, err = compiler.Build(u.node, compiler.Options{FullTrace: u.rt.opts.FullTrace})
			if err != nil {
				u.buildErr = fmt.Errorf("build %s: %w", u.name, err)
				return
			}
		}
		u.scope = s
		u.sites = newSiteTable(u, s)
		u.base = newCode(TierInterpreted, s, u.sites)
		u.active.CompareAndSwap(nil, u.base)
	})
}

// IR returns the baseline IR, building it if needed.
func (u *Unit) IR() (*ir.Scope, error) {
	u.build()
	return u.scope, u.buildErr
}

// Code returns the active body, building the IR if needed.
func (u *Unit) Code() (*Code, error) {
	u.build()
	if u.buildErr != nil {
		return nil, u.buildErr
	}
	return u.active.Load(), nil
}

// enter records an invocation and returns the body to run. A body with
// folded operators is bypassed once one of them has been redefined.
func (u *Unit) enter() (*Code, error) {
	u.rt.controller.Invoked(u)
	c, err := u.Code()
	if err != nil {
		return nil, err
	}
	if c.folded != 0 && !u.rt.intOpsIntact(c.folded) {
		return u.base, nil
	}
	return c, nil
}

// install swaps in c if it is a higher tier than the active body.
func (u *Unit) install(c *Code) bool {
	for {
		cur := u.active.Load()
		if cur != nil && cur.Tier >= c.Tier {
			return false
		}
		if u.active.CompareAndSwap(cur, c) {
			return true
		}
	}
}

// ---------------------------------------------------------------------------
// Code: an executable body for one tier
// ---------------------------------------------------------------------------

// Code is a body at one tier. Every tier of a unit shares its SiteTable,
// so caches warmed by the interpreter stay warm after promotion.
type Code struct {
	Tier  Tier
	Scope *ir.Scope
	Sites *SiteTable

	consts []Value
	labels []int
	folded uint32 // Integer operators the scope was folded under

	prog   *Program
	loader *CodeLoader
}

func newCode(tier Tier, s *ir.Scope, sites *SiteTable) *Code {
	return &Code{
		Tier:   tier,
		Scope:  s,
		Sites:  sites,
		consts: materialize(s.Consts),
		labels: s.JumpTable(),
		folded: foldMask(s.Folded),
	}
}

func foldMask(ops []ir.Opcode) uint32 {
	var mask uint32
	for _, op := range ops {
		mask |= opBit(op)
	}
	return mask
}

// Unit returns the unit the code belongs to.
func (c *Code) Unit() *Unit { return c.Sites.unit }

func materialize(lits []ir.Literal) []Value {
	out := make([]Value, len(lits))
	for i, l := range lits {
		switch l.Kind {
		case ir.LitNil:
			out[i] = nil
		case ir.LitTrue:
			out[i] = true
		case ir.LitFalse:
			out[i] = false
		case ir.LitInt:
			out[i] = l.Int
		case ir.LitFloat:
			out[i] = l.Float
		case ir.LitString:
			out[i] = l.Str
		case ir.LitSymbol:
			out[i] = Symbol(l.Str)
		}
	}
	return out
}

// SiteTable holds the runtime state a unit's instructions refer to by
// index: inline caches, block units and nested method definitions.
type SiteTable struct {
	unit   *Unit
	calls  []CallSite
	fields []FieldSite
	consts []ConstSite
	blocks []atomic.Pointer[Unit]
	defs   []any
	scope  *ir.Scope
}

func newSiteTable(u *Unit, s *ir.Scope) *SiteTable {
	st := &SiteTable{
		unit:   u,
		calls:  make([]CallSite, s.NumSites),
		fields: make([]FieldSite, s.NumFieldSites),
		consts: make([]ConstSite, s.NumConstSites),
		blocks: make([]atomic.Pointer[Unit], len(s.Closures)),
		defs:   s.Defs,
		scope:  s,
	}
	policy := u.rt.cachePolicy()
	for i := range st.calls {
		st.calls[i].policy = policy
	}
	for _, in := range s.Instrs {
		switch {
		case in.Op == ir.OpCall:
			st.calls[in.Site].name = in.Name
			st.calls[in.Site].ct = in.CallType
		case in.Op == ir.OpSuper || in.Op == ir.OpZSuper:
			st.calls[in.Site].ct = ir.CallSuper
			st.calls[in.Site].super = true
		case in.Op.IsArith():
			st.calls[in.Site].name = in.Op.OperatorName()
			st.calls[in.Site].ct = ir.CallNormal
		case in.Op == ir.OpGetIvar || in.Op == ir.OpSetIvar:
			st.fields[in.Site].name = in.Name
		case in.Op == ir.OpGetConst:
			st.consts[in.Site].name = in.Name
		}
	}
	return st
}

// Call returns call site i.
func (st *SiteTable) Call(i int) *CallSite { return &st.calls[i] }

// Field returns field site i.
func (st *SiteTable) Field(i int) *FieldSite { return &st.fields[i] }

// Const returns constant site i.
func (st *SiteTable) Const(i int) *ConstSite { return &st.consts[i] }

// Block returns the unit of closure i, creating it on first use.
func (st *SiteTable) Block(i int) *Unit {
	if u := st.blocks[i].Load(); u != nil {
		return u
	}
	u := st.unit.rt.newBlockUnit(st.unit, st.scope.Closures[i])
	if st.blocks[i].CompareAndSwap(nil, u) {
		return u
	}
	return st.blocks[i].Load()
}

// Def returns nested method definition i.
func (st *SiteTable) Def(i int) *compiler.MethodDef {
	return st.defs[i].(*compiler.MethodDef)
}

// CallSites returns every call site of the table.
func (st *SiteTable) CallSites() []*CallSite {
	out := make([]*CallSite, len(st.calls))
	for i := range st.calls {
		out[i] = &st.calls[i]
	}
	return out
}
