package vm

import (
	"math"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Numeric fast paths
// ---------------------------------------------------------------------------
//
// Fixnum and float operators are evaluated inline by every tier and by the
// Integer and Float builtins alike, so promotion never changes a result.
// The inline path is taken only while the receiver's class still resolves
// the operator to its builtin. Fixnum arithmetic wraps at 64 bits.

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func floatMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func toFloat(v Value) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// opGuard records which Integer and Float operators resolve to the core
// builtins, as of the captured switch points.
type opGuard struct {
	intSP, floatSP   *SwitchPoint
	intOps, floatOps uint32
}

func opBit(op ir.Opcode) uint32 { return 1 << (op - ir.OpAdd) }

// recordBuiltinOps remembers the operator methods installed by the core
// library.
func (rt *Runtime) recordBuiltinOps() {
	rt.builtinOps = make(map[*Class]map[ir.Opcode]Method)
	for _, c := range []*Class{rt.Integer, rt.Float} {
		ops := make(map[ir.Opcode]Method)
		for _, op := range ir.Opcodes() {
			if op.IsArith() {
				m, _, _ := c.Lookup(op.OperatorName())
				ops[op] = m
			}
		}
		rt.builtinOps[c] = ops
	}
	rt.ops.Store(nil)
}

// fastOps returns the current operator guard, recomputing it after a
// definition fired the Integer or Float switch point. The switch points
// are captured before the tables are read, so a racing definition leaves
// the new guard already invalid.
func (rt *Runtime) fastOps() *opGuard {
	if g := rt.ops.Load(); g != nil && g.intSP.Valid() && g.floatSP.Valid() {
		return g
	}
	g := &opGuard{intSP: rt.Integer.SwitchPoint(), floatSP: rt.Float.SwitchPoint()}
	g.intOps = rt.intactOps(rt.Integer)
	g.floatOps = rt.intactOps(rt.Float)
	rt.ops.Store(g)
	return g
}

func (rt *Runtime) intactOps(c *Class) uint32 {
	var mask uint32
	for op, builtin := range rt.builtinOps[c] {
		if m, _, _ := c.Lookup(op.OperatorName()); m != nil && m == builtin {
			mask |= opBit(op)
		}
	}
	return mask
}

// inlineOp reports whether op may run inline for receiver a.
func (rt *Runtime) inlineOp(op ir.Opcode, a Value) bool {
	switch a.(type) {
	case int64:
		return rt.fastOps().intOps&opBit(op) != 0
	case float64:
		return rt.fastOps().floatOps&opBit(op) != 0
	}
	return false
}

// intOpsIntact reports whether every Integer operator in mask is still
// the builtin.
func (rt *Runtime) intOpsIntact(mask uint32) bool {
	return rt.fastOps().intOps&mask == mask
}

// arith evaluates op inline when the receiver's operator is the builtin.
// handled is false when the operator must be dispatched.
func (rt *Runtime) arith(op ir.Opcode, a, b Value) (v Value, handled bool, err error) {
	if !rt.inlineOp(op, a) {
		return nil, false, nil
	}
	return rt.numeric(op, a, b)
}

// numeric evaluates op on numeric operands regardless of redefinitions.
// handled is false when the operands are not both numeric.
func (rt *Runtime) numeric(op ir.Opcode, a, b Value) (v Value, handled bool, err error) {
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return rt.intArith(op, x, y)
		}
	}
	x, okA := toFloat(a)
	y, okB := toFloat(b)
	if !okA || !okB {
		return nil, false, nil
	}
	switch op {
	case ir.OpAdd:
		return x + y, true, nil
	case ir.OpSub:
		return x - y, true, nil
	case ir.OpMul:
		return x * y, true, nil
	case ir.OpDiv:
		return x / y, true, nil
	case ir.OpMod:
		return floatMod(x, y), true, nil
	case ir.OpLt:
		return x < y, true, nil
	case ir.OpLe:
		return x <= y, true, nil
	case ir.OpGt:
		return x > y, true, nil
	case ir.OpGe:
		return x >= y, true, nil
	case ir.OpEq:
		return x == y, true, nil
	}
	return nil, false, nil
}

func (rt *Runtime) intArith(op ir.Opcode, x, y int64) (Value, bool, error) {
	switch op {
	case ir.OpAdd:
		return x + y, true, nil
	case ir.OpSub:
		return x - y, true, nil
	case ir.OpMul:
		return x * y, true, nil
	case ir.OpDiv:
		if y == 0 {
			return nil, true, rt.NewError(rt.ZeroDivisionError, "divided by 0")
		}
		return floorDiv(x, y), true, nil
	case ir.OpMod:
		if y == 0 {
			return nil, true, rt.NewError(rt.ZeroDivisionError, "divided by 0")
		}
		return floorMod(x, y), true, nil
	case ir.OpLt:
		return x < y, true, nil
	case ir.OpLe:
		return x <= y, true, nil
	case ir.OpGt:
		return x > y, true, nil
	case ir.OpGe:
		return x >= y, true, nil
	case ir.OpEq:
		return x == y, true, nil
	}
	return nil, false, nil
}

// numericOperator adapts numeric to a builtin taking one argument.
func numericOperator(op ir.Opcode) func(t *Thread, self, arg Value) (Value, error) {
	return func(t *Thread, self, arg Value) (Value, error) {
		v, ok, err := t.rt.numeric(op, self, arg)
		if err != nil {
			return nil, err
		}
		if !ok {
			if op == ir.OpEq {
				return false, nil
			}
			if op >= ir.OpLt {
				return nil, t.rt.NewError(t.rt.ArgumentError, "comparison of %s with %s failed", t.rt.ClassOf(self).Name, t.rt.describe(arg))
			}
			return nil, t.rt.typeError(arg, t.rt.ClassOf(self).Name)
		}
		return v, nil
	}
}
