package vm

import (
	"fmt"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Native lowering: IR to closure-threaded programs
// ---------------------------------------------------------------------------
//
// Lowering translates each instruction into a Go closure with its operands
// resolved to direct accessors and its branch targets resolved to indices.
// A program holds no unit-specific state (sites, block units and nested
// definitions are fetched from the running Code), so one program serves
// every unit whose IR has the same content key.

// step runs one instruction and returns the index of the next, or
// stepReturn after storing the result in the frame.
type step func(f *Frame) (int, error)

const stepReturn = -1

// Program is a lowered body.
type Program struct {
	steps []step
	size  int
}

// Size is the code-size measure of the program: one unit per step plus
// one per resolved operand accessor.
func (p *Program) Size() int { return p.size }

// Run executes the program in f.
func (p *Program) Run(f *Frame) (Value, error) {
	pc := f.PC
	for pc >= 0 && pc < len(p.steps) {
		next, err := p.steps[pc](f)
		if err != nil {
			target, ok := f.handle(err)
			if !ok {
				f.PC = pc
				return nil, err
			}
			pc = target
			continue
		}
		if next == stepReturn {
			v := f.ret
			f.ret = nil
			return v, nil
		}
		pc = next
	}
	return nil, nil
}

// LowerFunc turns IR into a program.
type LowerFunc func(s *ir.Scope) (*Program, error)

type lowerer struct {
	s      *ir.Scope
	consts []Value
	labels []int
	size   int
}

// Lower is the default LowerFunc.
func Lower(s *ir.Scope) (*Program, error) {
	l := &lowerer{s: s, consts: materialize(s.Consts), labels: s.JumpTable()}
	steps := make([]step, len(s.Instrs))
	for i := range s.Instrs {
		st, err := l.lower(i, &s.Instrs[i])
		if err != nil {
			return nil, fmt.Errorf("lower %s: instruction %d: %w", s.Name, i, err)
		}
		steps[i] = st
	}
	return &Program{steps: steps, size: len(steps) + l.size}, nil
}

func (l *lowerer) target(label int) int {
	if label < 0 || label >= len(l.labels) {
		panic(fmt.Sprintf("lower: label %d out of range", label))
	}
	return l.labels[label]
}

// reader resolves an operand to an accessor.
func (l *lowerer) reader(o ir.Operand) func(*Frame) Value {
	l.size++
	switch o.Kind {
	case ir.KindConst:
		v := l.consts[o.Index]
		return func(*Frame) Value { return v }
	case ir.KindTemp:
		i := o.Index
		return func(f *Frame) Value { return f.Temps[i] }
	case ir.KindLocal:
		i, d := o.Index, o.Depth
		if d == 0 {
			return func(f *Frame) Value { return f.Scope.Vars[i] }
		}
		return func(f *Frame) Value { return f.Scope.up(d).Vars[i] }
	case ir.KindSelf:
		return func(f *Frame) Value { return f.Self }
	}
	return func(*Frame) Value { return nil }
}

func (l *lowerer) writer(o ir.Operand) func(*Frame, Value) {
	l.size++
	switch o.Kind {
	case ir.KindTemp:
		i := o.Index
		return func(f *Frame, v Value) { f.Temps[i] = v }
	case ir.KindLocal:
		i, d := o.Index, o.Depth
		if d == 0 {
			return func(f *Frame, v Value) { f.Scope.Vars[i] = v }
		}
		return func(f *Frame, v Value) { f.Scope.up(d).Vars[i] = v }
	}
	return func(*Frame, Value) {}
}

func (l *lowerer) readers(ops []ir.Operand) func(*Frame) []Value {
	if len(ops) == 0 {
		return func(*Frame) []Value { return nil }
	}
	rs := make([]func(*Frame) Value, len(ops))
	for i, o := range ops {
		rs[i] = l.reader(o)
	}
	return func(f *Frame) []Value {
		vals := make([]Value, len(rs))
		for i, r := range rs {
			vals[i] = r(f)
		}
		return vals
	}
}

// effect wraps an instruction that cannot fail and falls through.
func effect(next int, fn func(f *Frame)) step {
	return func(f *Frame) (int, error) {
		fn(f)
		return next, nil
	}
}

// fallible wraps an instruction that may fail and falls through.
func fallible(next int, fn func(f *Frame) error) step {
	return func(f *Frame) (int, error) {
		return next, fn(f)
	}
}

func (l *lowerer) lower(i int, in *ir.Instr) (step, error) {
	next := i + 1
	switch in.Op {
	case ir.OpNop:
		return func(*Frame) (int, error) { return next, nil }, nil

	case ir.OpCopy, ir.OpLoadLocal0, ir.OpLoadLocal1, ir.OpLoadLocal2, ir.OpLoadLocal3,
		ir.OpLoadLocal, ir.OpLoadOuter, ir.OpStoreLocal0, ir.OpStoreLocal1,
		ir.OpStoreLocal2, ir.OpStoreLocal3, ir.OpStoreLocal, ir.OpStoreOuter:
		r, w := l.reader(in.A), l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, r(f)) }), nil
	case ir.OpLoadSelf:
		w := l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, f.Self) }), nil

	case ir.OpGetIvar:
		return effect(next, func(f *Frame) { f.getIvar(in) }), nil
	case ir.OpSetIvar:
		return fallible(next, func(f *Frame) error { return f.setIvar(in) }), nil
	case ir.OpGetGlobal:
		w, name := l.writer(in.Dst), in.Name
		return effect(next, func(f *Frame) { w(f, f.global(name)) }), nil
	case ir.OpSetGlobal:
		r, name := l.reader(in.A), in.Name
		return fallible(next, func(f *Frame) error { return f.setGlobal(name, r(f)) }), nil
	case ir.OpGetConst:
		return fallible(next, func(f *Frame) error { return f.getConst(in) }), nil
	case ir.OpSetConst:
		r, name := l.reader(in.A), in.Name
		return effect(next, func(f *Frame) { f.t.rt.SetConst(name, r(f)) }), nil
	case ir.OpGetBackref:
		w := l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, f.act.backref) }), nil
	case ir.OpGetNthRef:
		w, n := l.writer(in.Dst), in.Aux
		return effect(next, func(f *Frame) { w(f, f.nthRef(n)) }), nil
	case ir.OpGetLastline:
		w := l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, f.act.lastline) }), nil

	case ir.OpCall:
		return l.lowerCall(next, in), nil
	case ir.OpSuper:
		return fallible(next, func(f *Frame) error { return f.super(in, false) }), nil
	case ir.OpZSuper:
		return fallible(next, func(f *Frame) error { return f.super(in, true) }), nil
	case ir.OpYield:
		return fallible(next, func(f *Frame) error { return f.yield(in) }), nil
	case ir.OpMakeClosure:
		return effect(next, func(f *Frame) { f.makeClosure(in) }), nil
	case ir.OpDefMethod:
		return effect(next, func(f *Frame) { f.defMethod(in) }), nil

	case ir.OpJump:
		tgt := l.target(in.Label)
		return func(*Frame) (int, error) { return tgt, nil }, nil
	case ir.OpBranchTrue, ir.OpBranchFalse:
		r, tgt, want := l.reader(in.A), l.target(in.Label), in.Op == ir.OpBranchTrue
		return func(f *Frame) (int, error) {
			if Truthy(r(f)) == want {
				return tgt, nil
			}
			return next, nil
		}, nil

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe, ir.OpEq:
		return l.lowerArith(next, in), nil
	case ir.OpNot:
		r, w := l.reader(in.A), l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, !Truthy(r(f))) }), nil
	case ir.OpIsDefined:
		w := l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, f.isDefined(in)) }), nil

	case ir.OpNewArray:
		rs, w := l.readers(in.Args), l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, &Array{Elems: rs(f)}) }), nil
	case ir.OpNewHash:
		return effect(next, func(f *Frame) { f.newHash(in) }), nil
	case ir.OpBuildString:
		return fallible(next, func(f *Frame) error { return f.buildString(in) }), nil

	case ir.OpReturn:
		r := l.reader(in.A)
		return func(f *Frame) (int, error) {
			f.ret = r(f)
			return stepReturn, nil
		}, nil
	case ir.OpNonLocalReturn:
		r := l.reader(in.A)
		return func(f *Frame) (int, error) { return next, f.nonLocalReturn(r(f)) }, nil
	case ir.OpBreak:
		r := l.reader(in.A)
		return func(f *Frame) (int, error) { return next, f.breakOut(r(f)) }, nil

	case ir.OpPushHandler:
		kind, tgt := ir.HandlerKind(in.Aux), l.target(in.Label)
		return effect(next, func(f *Frame) { f.pushHandler(kind, tgt) }), nil
	case ir.OpPopHandler:
		return effect(next, func(f *Frame) { f.popHandler() }), nil
	case ir.OpGetError:
		w := l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, f.err) }), nil
	case ir.OpRescueMatch:
		w := l.writer(in.Dst)
		return fallible(next, func(f *Frame) error {
			ok, err := f.rescueMatch(in)
			w(f, ok)
			return err
		}), nil
	case ir.OpRethrow:
		r := l.reader(in.A)
		return func(f *Frame) (int, error) { return next, valueError(r(f)) }, nil
	case ir.OpClearError:
		return effect(next, func(f *Frame) { f.clearError() }), nil

	case ir.OpCheckArity:
		min, max := in.Aux, in.Aux2
		return fallible(next, func(f *Frame) error { return f.checkArity(min, max) }), nil
	case ir.OpRecvRequired:
		w, i := l.writer(in.Dst), in.Aux
		return effect(next, func(f *Frame) { w(f, f.arg(i)) }), nil
	case ir.OpRecvOptional:
		w, i, tgt := l.writer(in.Dst), in.Aux, l.target(in.Label)
		return func(f *Frame) (int, error) {
			if i < len(f.Args) {
				w(f, f.Args[i])
				return tgt, nil
			}
			return next, nil
		}, nil
	case ir.OpRecvRest:
		return effect(next, func(f *Frame) { f.recvRest(in) }), nil
	case ir.OpRecvBlock:
		w := l.writer(in.Dst)
		return effect(next, func(f *Frame) { w(f, procValue(f.BlockArg)) }), nil
	}
	return nil, fmt.Errorf("unsupported opcode %s", in.Op)
}

func (l *lowerer) lowerCall(next int, in *ir.Instr) step {
	recv, args, w := l.reader(in.A), l.readers(in.Args), l.writer(in.Dst)
	site := in.Site
	if in.B.IsNone() {
		return func(f *Frame) (int, error) {
			v, err := f.Code.Sites.Call(site).Dispatch(f.t, recv(f), args(f), nil)
			if err != nil {
				return next, err
			}
			w(f, v)
			return next, nil
		}
	}
	blkOp := l.reader(in.B)
	return func(f *Frame) (int, error) {
		blk, err := f.toProc(blkOp(f))
		if err != nil {
			return next, err
		}
		v, err := f.Code.Sites.Call(site).Dispatch(f.t, recv(f), args(f), blk)
		v, err = catchBreak(v, err, blk)
		if err != nil {
			return next, err
		}
		w(f, v)
		return next, nil
	}
}

// lowerArith specializes operators with a constant fixnum operand. The
// specialized steps still check that Integer's operator is the builtin.
func (l *lowerer) lowerArith(next int, in *ir.Instr) step {
	a, b, w := l.reader(in.A), l.reader(in.B), l.writer(in.Dst)
	op, site := in.Op, in.Site
	bit := opBit(op)
	slow := func(f *Frame, x, y Value) (int, error) {
		v, ok, err := f.t.rt.arith(op, x, y)
		if err != nil {
			return next, err
		}
		if !ok {
			v, err = f.Code.Sites.Call(site).Dispatch(f.t, x, []Value{y}, nil)
			if err != nil {
				return next, err
			}
		}
		w(f, v)
		return next, nil
	}

	if in.B.Kind == ir.KindConst {
		if k, ok := l.consts[in.B.Index].(int64); ok {
			switch op {
			case ir.OpAdd:
				return func(f *Frame) (int, error) {
					x := a(f)
					if n, ok := x.(int64); ok && f.t.rt.fastOps().intOps&bit != 0 {
						w(f, n+k)
						return next, nil
					}
					return slow(f, x, k)
				}
			case ir.OpSub:
				return func(f *Frame) (int, error) {
					x := a(f)
					if n, ok := x.(int64); ok && f.t.rt.fastOps().intOps&bit != 0 {
						w(f, n-k)
						return next, nil
					}
					return slow(f, x, k)
				}
			case ir.OpLt:
				return func(f *Frame) (int, error) {
					x := a(f)
					if n, ok := x.(int64); ok && f.t.rt.fastOps().intOps&bit != 0 {
						w(f, n < k)
						return next, nil
					}
					return slow(f, x, k)
				}
			}
		}
	}
	return func(f *Frame) (int, error) { return slow(f, a(f), b(f)) }
}
