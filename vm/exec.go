package vm

import (
	"strings"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Instruction semantics shared by the interpreter and lowered programs
// ---------------------------------------------------------------------------

func (f *Frame) get(o ir.Operand) Value {
	switch o.Kind {
	case ir.KindConst:
		return f.Code.consts[o.Index]
	case ir.KindTemp:
		return f.Temps[o.Index]
	case ir.KindLocal:
		return f.Scope.up(o.Depth).Vars[o.Index]
	case ir.KindSelf:
		return f.Self
	}
	return nil
}

func (f *Frame) set(o ir.Operand, v Value) {
	switch o.Kind {
	case ir.KindTemp:
		f.Temps[o.Index] = v
	case ir.KindLocal:
		f.Scope.up(o.Depth).Vars[o.Index] = v
	}
}

func (f *Frame) gather(ops []ir.Operand) []Value {
	if len(ops) == 0 {
		return nil
	}
	vals := make([]Value, len(ops))
	for i, o := range ops {
		vals[i] = f.get(o)
	}
	return vals
}

func (f *Frame) arg(i int) Value {
	if i < len(f.Args) {
		return f.Args[i]
	}
	return nil
}

// procValue avoids storing a typed nil in a Value.
func procValue(p *Proc) Value {
	if p == nil {
		return nil
	}
	return p
}

// toProc converts a block operand: nil, a proc, a symbol, or anything
// answering to_proc.
func (f *Frame) toProc(v Value) (*Proc, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *Proc:
		return v, nil
	case Symbol:
		return f.t.rt.symbolProc(v), nil
	}
	pv, err := f.t.Send(v, "to_proc")
	if err != nil {
		return nil, err
	}
	p, ok := pv.(*Proc)
	if !ok {
		return nil, f.t.rt.NewError(f.t.rt.TypeError, "wrong argument type %s (expected Proc)", f.t.rt.ClassOf(v).Name)
	}
	return p, nil
}

func (f *Frame) blockOperand(o ir.Operand) (*Proc, error) {
	if o.IsNone() {
		return nil, nil
	}
	return f.toProc(f.get(o))
}

// --- globals ---

func (f *Frame) global(name string) Value {
	switch name {
	case "$~":
		return f.act.backref
	case "$_":
		return f.act.lastline
	case "$!":
		return f.t.errinfo
	}
	v, _ := f.t.rt.Global(name)
	return v
}

func (f *Frame) setGlobal(name string, v Value) error {
	switch name {
	case "$~":
		if _, ok := v.(*MatchData); !ok && v != nil {
			return f.t.rt.NewError(f.t.rt.TypeError, "wrong argument type %s (expected MatchData)", f.t.rt.ClassOf(v).Name)
		}
		f.act.backref = v
	case "$_":
		f.act.lastline = v
	case "$!":
		return f.t.rt.NewError(f.t.rt.NameError, "$! is a read-only variable")
	default:
		f.t.rt.SetGlobal(name, v)
	}
	return nil
}

func (f *Frame) nthRef(n int) Value {
	md, _ := f.act.backref.(*MatchData)
	return md.Group(n)
}

// --- calls ---

func (f *Frame) call(in *ir.Instr) error {
	blk, err := f.blockOperand(in.B)
	if err != nil {
		return err
	}
	site := f.Code.Sites.Call(in.Site)
	v, err := site.Dispatch(f.t, f.get(in.A), f.gather(in.Args), blk)
	v, err = catchBreak(v, err, blk)
	if err != nil {
		return err
	}
	f.set(in.Dst, v)
	return nil
}

func (f *Frame) super(in *ir.Instr, zsuper bool) error {
	blk, err := f.blockOperand(in.B)
	if err != nil {
		return err
	}
	var args []Value
	if zsuper {
		args = append([]Value(nil), f.act.args...)
		if in.B.IsNone() {
			blk = f.act.block
		}
	} else {
		args = f.gather(in.Args)
	}
	site := f.Code.Sites.Call(in.Site)
	v, err := site.DispatchSuper(f.t, f, args, blk)
	v, err = catchBreak(v, err, blk)
	if err != nil {
		return err
	}
	f.set(in.Dst, v)
	return nil
}

func (f *Frame) yield(in *ir.Instr) error {
	blk := f.act.block
	if blk == nil {
		return f.t.rt.NewError(f.t.rt.LocalJumpError, "no block given (yield)")
	}
	v, err := f.t.CallProc(blk, f.gather(in.Args), nil)
	if err != nil {
		return err
	}
	f.set(in.Dst, v)
	return nil
}

func (f *Frame) makeClosure(in *ir.Instr) {
	f.set(in.Dst, &Proc{
		unit:  f.Code.Sites.Block(in.Closure),
		self:  f.Self,
		scope: f.Scope,
		act:   f.act,
	})
}

func (f *Frame) defMethod(in *ir.Instr) {
	def := f.Code.Sites.Def(in.Aux)
	target := f.act.defTarget
	if target == nil {
		target = f.t.rt.Object
	}
	f.t.rt.defineMethod(target, def, f.Visibility)
}

func (f *Frame) arith(in *ir.Instr) error {
	a, b := f.get(in.A), f.get(in.B)
	v, ok, err := f.t.rt.arith(in.Op, a, b)
	if err != nil {
		return err
	}
	if !ok {
		v, err = f.Code.Sites.Call(in.Site).Dispatch(f.t, a, []Value{b}, nil)
		if err != nil {
			return err
		}
	}
	f.set(in.Dst, v)
	return nil
}

// --- variables ---

func (f *Frame) getIvar(in *ir.Instr) {
	f.set(in.Dst, f.Code.Sites.Field(in.Site).Get(f.Self))
}

func (f *Frame) setIvar(in *ir.Instr) error {
	return f.Code.Sites.Field(in.Site).Set(f.t.rt, f.Self, f.get(in.A))
}

func (f *Frame) getConst(in *ir.Instr) error {
	v, err := f.Code.Sites.Const(in.Site).Get(f.t.rt)
	if err != nil {
		return err
	}
	f.set(in.Dst, v)
	return nil
}

func (f *Frame) isDefined(in *ir.Instr) Value {
	rt := f.t.rt
	switch ir.DefinedKind(in.Aux) {
	case ir.DefinedIvar:
		if obj, ok := f.Self.(*Object); ok {
			if i := obj.class.Layout().Index(in.Name); i >= 0 {
				if _, set := obj.field(i); set {
					return "instance-variable"
				}
			}
		}
	case ir.DefinedGlobal:
		switch in.Name {
		case "$~", "$_", "$!":
			return "global-variable"
		}
		if _, ok := rt.Global(in.Name); ok {
			return "global-variable"
		}
	case ir.DefinedConst:
		if _, ok := rt.Const(in.Name); ok {
			return "constant"
		}
	case ir.DefinedMethod:
		ct := ir.CallNormal
		if in.A.Kind == ir.KindSelf {
			ct = ir.CallFunctional
		}
		if m, _ := findMethod(rt.ClassOf(f.get(in.A)), in.Name, ct); m != nil {
			return "method"
		}
	case ir.DefinedYield:
		if f.act.block != nil {
			return "yield"
		}
	case ir.DefinedSuper:
		if o := f.act.owner; o != nil && o.Super != nil {
			if m, _, _ := o.Super.Lookup(f.act.method); m != nil {
				return "super"
			}
		}
	case ir.DefinedBackref:
		if in.Aux2 == 0 && f.act.backref != nil {
			return "global-variable"
		}
		if in.Aux2 > 0 && f.nthRef(in.Aux2) != nil {
			return "global-variable"
		}
	}
	return nil
}

// --- allocation ---

func (f *Frame) newHash(in *ir.Instr) {
	h := NewHash()
	for i := 0; i+1 < len(in.Args); i += 2 {
		h.Set(f.get(in.Args[i]), f.get(in.Args[i+1]))
	}
	f.set(in.Dst, h)
}

func (f *Frame) buildString(in *ir.Instr) error {
	var sb strings.Builder
	for _, o := range in.Args {
		s, err := f.t.toS(f.get(o))
		if err != nil {
			return err
		}
		sb.WriteString(s)
	}
	f.set(in.Dst, sb.String())
	return nil
}

// --- exits ---

func (f *Frame) nonLocalReturn(v Value) error {
	if f.act.done && (f.proc == nil || !f.proc.Lambda) {
		return f.t.rt.NewError(f.t.rt.LocalJumpError, "unexpected return")
	}
	return &ControlSignal{Kind: SignalReturn, Value: v, Target: f.act}
}

func (f *Frame) breakOut(v Value) error {
	if f.proc == nil {
		return f.t.rt.NewError(f.t.rt.LocalJumpError, "break from proc-closure")
	}
	return &ControlSignal{Kind: SignalBreak, Value: v, Target: f.proc}
}

// --- exception regions ---

func (f *Frame) pushHandler(kind ir.HandlerKind, target int) {
	f.handlers = append(f.handlers, handler{kind: kind, target: target})
}

func (f *Frame) popHandler() {
	if n := len(f.handlers); n > 0 {
		f.handlers = f.handlers[:n-1]
	}
}

// handle routes err to the innermost handler that takes it. Rescue
// handlers take raised exceptions only; ensure handlers take everything.
func (f *Frame) handle(err error) (int, bool) {
	for len(f.handlers) > 0 {
		h := f.handlers[len(f.handlers)-1]
		f.handlers = f.handlers[:len(f.handlers)-1]
		if h.kind == ir.HandlerRescue && !IsRaise(err) {
			continue
		}
		f.err = errorValue(err)
		if h.kind == ir.HandlerRescue {
			f.t.errinfo = f.err
		}
		return h.target, true
	}
	return 0, false
}

func (f *Frame) rescueMatch(in *ir.Instr) (bool, error) {
	rt := f.t.rt
	exc, ok := f.get(in.A).(*Object)
	if !ok {
		return false, nil
	}
	if len(in.Args) == 0 {
		return exc.class.IsSubclassOf(rt.StandardError), nil
	}
	var match func(v Value) (bool, error)
	match = func(v Value) (bool, error) {
		switch c := v.(type) {
		case *Class:
			return exc.class.IsSubclassOf(c), nil
		case *Array:
			for _, e := range c.Elems {
				if ok, err := match(e); ok || err != nil {
					return ok, err
				}
			}
			return false, nil
		}
		return false, rt.NewError(rt.TypeError, "class or module required for rescue clause")
	}
	for _, o := range in.Args {
		if ok, err := match(f.get(o)); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

func (f *Frame) clearError() {
	f.err = nil
	f.t.errinfo = nil
}

// --- prologue ---

func (f *Frame) checkArity(min, max int) error {
	if n := len(f.Args); n < min || (max >= 0 && n > max) {
		return f.t.rt.arityError(n, min, max)
	}
	return nil
}

func (f *Frame) recvRest(in *ir.Instr) {
	var rest []Value
	if in.Aux < len(f.Args) {
		rest = append(rest, f.Args[in.Aux:]...)
	}
	f.set(in.Dst, &Array{Elems: rest})
}
