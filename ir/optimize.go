package ir

// ---------------------------------------------------------------------------
// Full-build optimizer
// ---------------------------------------------------------------------------
//
// Optimize never mutates its input; scopes are shared read-only between
// tiers. The result preserves call-site, field-site and closure indices so
// caches and block units created against the original remain valid.
// Closures are separate units and are optimized when they get hot.

// Optimize returns an optimized copy of s. Arithmetic is folded only for
// operators foldable accepts; a nil foldable accepts every operator.
func Optimize(s *Scope, foldable func(Opcode) bool) *Scope {
	out := cloneScope(s)
	for changed := true; changed; {
		changed = foldConstants(out, foldable)
		if propagateConstants(out) {
			changed = true
		}
	}
	foldBranches(out)
	compact(out)
	return out
}

func cloneScope(s *Scope) *Scope {
	out := *s
	out.Instrs = make([]Instr, len(s.Instrs))
	copy(out.Instrs, s.Instrs)
	out.Consts = make([]Literal, len(s.Consts))
	copy(out.Consts, s.Consts)
	out.Closures = make([]*Scope, len(s.Closures))
	copy(out.Closures, s.Closures)
	out.Folded = append([]Opcode(nil), s.Folded...)
	out.labels = s.JumpTable()
	out.targets = nil
	return &out
}

func (s *Scope) constant(l Literal) Operand {
	for i, c := range s.Consts {
		if c.Key() == l.Key() {
			return Const(i)
		}
	}
	s.Consts = append(s.Consts, l)
	return Const(len(s.Consts) - 1)
}

func (s *Scope) intConst(o Operand) (int64, bool) {
	if o.Kind != KindConst || s.Consts[o.Index].Kind != LitInt {
		return 0, false
	}
	return s.Consts[o.Index].Int, true
}

// foldConstants rewrites integer arithmetic on two constant operands into a
// copy. Division and modulo are left alone since they can raise.
func foldConstants(s *Scope, foldable func(Opcode) bool) bool {
	changed := false
	for i := range s.Instrs {
		in := &s.Instrs[i]
		if !in.Op.IsArith() || (foldable != nil && !foldable(in.Op)) {
			continue
		}
		a, okA := s.intConst(in.A)
		b, okB := s.intConst(in.B)
		if !okA || !okB {
			continue
		}
		var lit Literal
		switch in.Op {
		case OpAdd:
			lit = IntLiteral(a + b)
		case OpSub:
			lit = IntLiteral(a - b)
		case OpMul:
			lit = IntLiteral(a * b)
		case OpLt:
			lit = BoolLiteral(a < b)
		case OpLe:
			lit = BoolLiteral(a <= b)
		case OpGt:
			lit = BoolLiteral(a > b)
		case OpGe:
			lit = BoolLiteral(a >= b)
		case OpEq:
			lit = BoolLiteral(a == b)
		default:
			continue
		}
		s.noteFolded(in.Op)
		*in = Instr{Op: OpCopy, Dst: in.Dst, A: s.constant(lit), Line: in.Line, Closure: NoClosure}
		changed = true
	}
	return changed
}

func (s *Scope) noteFolded(op Opcode) {
	for _, f := range s.Folded {
		if f == op {
			return
		}
	}
	s.Folded = append(s.Folded, op)
}

// propagateConstants replaces uses of temporaries that are assigned exactly
// once, from a constant, with the constant itself.
func propagateConstants(s *Scope) bool {
	defs := make([]int, s.NumTemps)
	value := make([]Operand, s.NumTemps)
	for _, in := range s.Instrs {
		if in.Dst.Kind != KindTemp {
			continue
		}
		defs[in.Dst.Index]++
		if in.Op == OpCopy && in.A.Kind == KindConst {
			value[in.Dst.Index] = in.A
		} else {
			value[in.Dst.Index] = None
		}
	}
	subst := func(o Operand) (Operand, bool) {
		if o.Kind == KindTemp && defs[o.Index] == 1 && !value[o.Index].IsNone() {
			return value[o.Index], true
		}
		return o, false
	}

	changed := false
	for i := range s.Instrs {
		in := &s.Instrs[i]
		var ok bool
		if in.A, ok = subst(in.A); ok {
			changed = true
		}
		if in.B, ok = subst(in.B); ok {
			changed = true
		}
		var args []Operand
		for j, a := range in.Args {
			if r, ok := subst(a); ok {
				if args == nil {
					args = make([]Operand, len(in.Args))
					copy(args, in.Args)
				}
				args[j] = r
			}
		}
		if args != nil {
			in.Args = args
			changed = true
		}
	}
	return changed
}

// Truthy reports whether a literal is true in a condition.
func (l Literal) Truthy() bool { return l.Kind != LitNil && l.Kind != LitFalse }

// foldBranches turns conditional branches on constants into jumps or nops.
func foldBranches(s *Scope) {
	for i := range s.Instrs {
		in := &s.Instrs[i]
		if (in.Op != OpBranchTrue && in.Op != OpBranchFalse) || in.A.Kind != KindConst {
			continue
		}
		taken := s.Consts[in.A.Index].Truthy() == (in.Op == OpBranchTrue)
		if taken {
			*in = Instr{Op: OpJump, Label: in.Label, Line: in.Line, Closure: NoClosure}
		} else {
			*in = Instr{Op: OpNop, Line: in.Line, Closure: NoClosure}
		}
	}
}

// compact removes nops and unreachable instructions and remaps labels.
func compact(s *Scope) {
	n := len(s.Instrs)
	reachable := make([]bool, n)
	work := []int{0}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		if i >= n || reachable[i] {
			continue
		}
		reachable[i] = true
		in := s.Instrs[i]
		if in.Op.IsBranch() {
			work = append(work, s.labels[in.Label])
		}
		if !in.Op.IsTerminator() {
			work = append(work, i+1)
		}
	}

	// newIndex[i] is where old index i lands, or where the next kept
	// instruction lands when i is dropped.
	newIndex := make([]int, n+1)
	kept := s.Instrs[:0:0]
	for i, in := range s.Instrs {
		newIndex[i] = len(kept)
		if reachable[i] && in.Op != OpNop {
			kept = append(kept, in)
		}
	}
	newIndex[n] = len(kept)

	labels := make([]int, len(s.labels))
	for l, idx := range s.labels {
		labels[l] = newIndex[idx]
	}
	s.Instrs = kept
	s.SetJumpTable(labels)
}
