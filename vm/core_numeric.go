package vm

import (
	"math"
	"strconv"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Integer and Float
// ---------------------------------------------------------------------------

var operatorOpcodes = []ir.Opcode{
	ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
	ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe, ir.OpEq,
}

func installNumeric(rt *Runtime) {
	for _, c := range []*Class{rt.Integer, rt.Float} {
		for _, op := range operatorOpcodes {
			c.def1(op.OperatorName(), numericOperator(op))
		}
		c.def1("<=>", func(t *Thread, self, arg Value) (Value, error) {
			if _, ok := toFloat(arg); !ok {
				return nil, nil
			}
			n, err := t.compare(self, arg)
			return int64(n), err
		})
		c.def0("-@", func(t *Thread, self Value) (Value, error) {
			if i, ok := self.(int64); ok {
				return -i, nil
			}
			return -self.(float64), nil
		})
		c.def0("abs", func(t *Thread, self Value) (Value, error) {
			if i, ok := self.(int64); ok {
				if i < 0 {
					return -i, nil
				}
				return i, nil
			}
			return math.Abs(self.(float64)), nil
		})
		c.def0("zero?", func(t *Thread, self Value) (Value, error) {
			f, _ := toFloat(self)
			return f == 0, nil
		})
		c.def0("to_f", func(t *Thread, self Value) (Value, error) {
			f, _ := toFloat(self)
			return f, nil
		})
		c.def0("to_s", func(t *Thread, self Value) (Value, error) {
			s, _ := basicString(self)
			return s, nil
		})
		c.def0("inspect", func(t *Thread, self Value) (Value, error) {
			s, _ := basicString(self)
			return s, nil
		})
		c.def1("**", func(t *Thread, self, arg Value) (Value, error) {
			return t.rt.power(self, arg)
		})
	}

	i := rt.Integer
	i.def0("succ", func(t *Thread, self Value) (Value, error) { return self.(int64) + 1, nil })
	i.def0("pred", func(t *Thread, self Value) (Value, error) { return self.(int64) - 1, nil })
	i.def0("to_i", func(t *Thread, self Value) (Value, error) { return self, nil })
	i.def0("even?", func(t *Thread, self Value) (Value, error) { return self.(int64)%2 == 0, nil })
	i.def0("odd?", func(t *Thread, self Value) (Value, error) { return self.(int64)%2 != 0, nil })
	i.def0("hash", func(t *Thread, self Value) (Value, error) { return self, nil })
	i.def1("div", func(t *Thread, self, arg Value) (Value, error) {
		v, err := numericOperator(ir.OpDiv)(t, self, arg)
		if f, ok := v.(float64); ok {
			return int64(math.Floor(f)), err
		}
		return v, err
	})
	i.def1("&", intBitOp(func(a, b int64) int64 { return a & b }))
	i.def1("|", intBitOp(func(a, b int64) int64 { return a | b }))
	i.def1("^", intBitOp(func(a, b int64) int64 { return a ^ b }))
	i.def1("<<", intBitOp(func(a, b int64) int64 { return a << uint64(b) }))
	i.def1(">>", intBitOp(func(a, b int64) int64 { return a >> uint64(b) }))
	i.defN("times", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "times"); err != nil {
			return nil, err
		}
		n := self.(int64)
		for k := int64(0); k < n; k++ {
			if _, err := t.CallProc(blk, []Value{k}, nil); err != nil {
				return nil, err
			}
		}
		return self, nil
	})
	i.defN("upto", 1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.intRange(self, args[0], 1, blk, "upto")
	})
	i.defN("downto", 1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.intRange(self, args[0], -1, blk, "downto")
	})
	i.defN("step", 2, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		st, ok := args[1].(int64)
		if !ok || st == 0 {
			return nil, t.rt.NewError(t.rt.ArgumentError, "step can't be 0")
		}
		return t.intRange(self, args[0], st, blk, "step")
	})
	i.def0("chr", func(t *Thread, self Value) (Value, error) { return string(rune(self.(int64))), nil })

	f := rt.Float
	f.def0("to_i", func(t *Thread, self Value) (Value, error) { return int64(self.(float64)), nil })
	f.def0("nan?", func(t *Thread, self Value) (Value, error) { return math.IsNaN(self.(float64)), nil })
	f.def0("infinite?", func(t *Thread, self Value) (Value, error) {
		x := self.(float64)
		switch {
		case math.IsInf(x, 1):
			return int64(1), nil
		case math.IsInf(x, -1):
			return int64(-1), nil
		}
		return nil, nil
	})
	f.def0("floor", func(t *Thread, self Value) (Value, error) { return int64(math.Floor(self.(float64))), nil })
	f.def0("ceil", func(t *Thread, self Value) (Value, error) { return int64(math.Ceil(self.(float64))), nil })
	f.defN("round", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 1); err != nil {
			return nil, err
		}
		x := self.(float64)
		if len(args) == 0 {
			return int64(math.Round(x)), nil
		}
		digits, ok := args[0].(int64)
		if !ok {
			return nil, t.rt.typeError(args[0], "Integer")
		}
		if digits <= 0 {
			return int64(math.Round(x)), nil
		}
		s := strconv.FormatFloat(x, 'f', int(digits), 64)
		r, _ := strconv.ParseFloat(s, 64)
		return r, nil
	})
}

func intBitOp(fn func(a, b int64) int64) func(t *Thread, self, arg Value) (Value, error) {
	return func(t *Thread, self, arg Value) (Value, error) {
		b, ok := arg.(int64)
		if !ok {
			return nil, t.rt.typeError(arg, "Integer")
		}
		return fn(self.(int64), b), nil
	}
}

func (t *Thread) intRange(from, to Value, step int64, blk *Proc, name string) (Value, error) {
	if err := t.rt.needBlock(blk, name); err != nil {
		return nil, err
	}
	lo := from.(int64)
	hi, ok := to.(int64)
	if !ok {
		return nil, t.rt.typeError(to, "Integer")
	}
	for k := lo; (step > 0 && k <= hi) || (step < 0 && k >= hi); k += step {
		if _, err := t.CallProc(blk, []Value{k}, nil); err != nil {
			return nil, err
		}
	}
	return from, nil
}

// power raises a number to a power. Negative integer exponents yield a
// float.
func (rt *Runtime) power(base, exp Value) (Value, error) {
	if b, ok := base.(int64); ok {
		if e, ok := exp.(int64); ok && e >= 0 {
			result := int64(1)
			for ; e > 0; e >>= 1 {
				if e&1 == 1 {
					result *= b
				}
				b *= b
			}
			return result, nil
		}
	}
	x, okX := toFloat(base)
	y, okY := toFloat(exp)
	if !okX || !okY {
		return nil, rt.typeError(exp, rt.ClassOf(base).Name)
	}
	return math.Pow(x, y), nil
}
