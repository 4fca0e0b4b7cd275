package vm

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func installCollections(rt *Runtime) {
	installArray(rt)
	installHash(rt)
}

func (rt *Runtime) index(v Value, n int) (int, bool, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, false, rt.NewError(rt.TypeError, "no implicit conversion of %s into Integer", rt.ClassOf(v).Name)
	}
	if i < 0 {
		i += int64(n)
	}
	return int(i), i >= 0 && i < int64(n), nil
}

func installArray(rt *Runtime) {
	a := rt.Array
	a.def1("[]", func(t *Thread, self, arg Value) (Value, error) {
		arr := self.(*Array)
		i, ok, err := t.rt.index(arg, len(arr.Elems))
		if err != nil || !ok {
			return nil, err
		}
		return arr.Elems[i], nil
	})
	a.defN("[]=", 2, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		arr := self.(*Array)
		i, _, err := t.rt.index(args[0], len(arr.Elems))
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, t.rt.NewError(t.rt.IndexError, "index %d too small for array", args[0])
		}
		for len(arr.Elems) <= i {
			arr.Elems = append(arr.Elems, nil)
		}
		arr.Elems[i] = args[1]
		return args[1], nil
	})
	push := func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		arr := self.(*Array)
		arr.Elems = append(arr.Elems, args...)
		return arr, nil
	}
	a.defN("push", -1, push)
	a.def1("<<", func(t *Thread, self, arg Value) (Value, error) {
		arr := self.(*Array)
		arr.Elems = append(arr.Elems, arg)
		return arr, nil
	})
	a.def0("pop", func(t *Thread, self Value) (Value, error) {
		arr := self.(*Array)
		if len(arr.Elems) == 0 {
			return nil, nil
		}
		v := arr.Elems[len(arr.Elems)-1]
		arr.Elems = arr.Elems[:len(arr.Elems)-1]
		return v, nil
	})
	a.def0("shift", func(t *Thread, self Value) (Value, error) {
		arr := self.(*Array)
		if len(arr.Elems) == 0 {
			return nil, nil
		}
		v := arr.Elems[0]
		arr.Elems = arr.Elems[1:]
		return v, nil
	})
	a.defN("unshift", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		arr := self.(*Array)
		arr.Elems = append(append([]Value(nil), args...), arr.Elems...)
		return arr, nil
	})
	length := func(t *Thread, self Value) (Value, error) { return int64(len(self.(*Array).Elems)), nil }
	a.def0("length", length)
	a.def0("size", length)
	a.def0("empty?", func(t *Thread, self Value) (Value, error) { return len(self.(*Array).Elems) == 0, nil })
	a.def0("first", func(t *Thread, self Value) (Value, error) {
		if e := self.(*Array).Elems; len(e) > 0 {
			return e[0], nil
		}
		return nil, nil
	})
	a.def0("last", func(t *Thread, self Value) (Value, error) {
		if e := self.(*Array).Elems; len(e) > 0 {
			return e[len(e)-1], nil
		}
		return nil, nil
	})
	a.def0("to_a", func(t *Thread, self Value) (Value, error) { return self, nil })
	a.def0("dup", func(t *Thread, self Value) (Value, error) {
		return NewArray(append([]Value(nil), self.(*Array).Elems...)...), nil
	})
	a.def0("reverse", func(t *Thread, self Value) (Value, error) {
		e := self.(*Array).Elems
		out := make([]Value, len(e))
		for i, v := range e {
			out[len(e)-1-i] = v
		}
		return &Array{Elems: out}, nil
	})
	a.def0("compact", func(t *Thread, self Value) (Value, error) {
		out := &Array{}
		for _, v := range self.(*Array).Elems {
			if v != nil {
				out.Elems = append(out.Elems, v)
			}
		}
		return out, nil
	})
	a.def0("flatten", func(t *Thread, self Value) (Value, error) {
		return &Array{Elems: flatten(self.(*Array).Elems, nil)}, nil
	})
	a.def1("+", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(*Array)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "no implicit conversion of %s into Array", t.rt.ClassOf(arg).Name)
		}
		out := append(append([]Value(nil), self.(*Array).Elems...), other.Elems...)
		return &Array{Elems: out}, nil
	})
	a.def1("==", func(t *Thread, self, arg Value) (Value, error) { return t.equal(self, arg) })
	a.def1("include?", func(t *Thread, self, arg Value) (Value, error) {
		for _, v := range self.(*Array).Elems {
			if eq, err := t.equal(v, arg); eq || err != nil {
				return eq, err
			}
		}
		return false, nil
	})
	a.def1("index", func(t *Thread, self, arg Value) (Value, error) {
		for i, v := range self.(*Array).Elems {
			if eq, err := t.equal(v, arg); eq || err != nil {
				return int64(i), err
			}
		}
		return nil, nil
	})
	a.defN("join", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 1); err != nil {
			return nil, err
		}
		sep, _ := optArg(args, 0).(string)
		parts := make([]string, 0, len(self.(*Array).Elems))
		for _, v := range flatten(self.(*Array).Elems, nil) {
			s, err := t.toS(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, sep), nil
	})
	a.def0("inspect", func(t *Thread, self Value) (Value, error) { return t.inspectArray(self.(*Array)) })
	a.def0("to_s", func(t *Thread, self Value) (Value, error) { return t.inspectArray(self.(*Array)) })

	// Iteration
	a.defN("each", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "each"); err != nil {
			return nil, err
		}
		arr := self.(*Array)
		for i := 0; i < len(arr.Elems); i++ {
			if _, err := t.CallProc(blk, []Value{arr.Elems[i]}, nil); err != nil {
				return nil, err
			}
		}
		return self, nil
	})
	a.defN("each_with_index", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "each_with_index"); err != nil {
			return nil, err
		}
		arr := self.(*Array)
		for i := 0; i < len(arr.Elems); i++ {
			if _, err := t.CallProc(blk, []Value{arr.Elems[i], int64(i)}, nil); err != nil {
				return nil, err
			}
		}
		return self, nil
	})
	mapFn := func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "map"); err != nil {
			return nil, err
		}
		src := self.(*Array).Elems
		out := make([]Value, 0, len(src))
		for i := 0; i < len(src); i++ {
			v, err := t.CallProc(blk, []Value{src[i]}, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return &Array{Elems: out}, nil
	}
	a.defN("map", 0, mapFn)
	a.defN("collect", 0, mapFn)
	a.defN("select", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.filter(self.(*Array), blk, true, "select")
	})
	a.defN("filter", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.filter(self.(*Array), blk, true, "filter")
	})
	a.defN("reject", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.filter(self.(*Array), blk, false, "reject")
	})
	a.defN("find", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "find"); err != nil {
			return nil, err
		}
		for _, v := range self.(*Array).Elems {
			r, err := t.CallProc(blk, []Value{v}, nil)
			if err != nil {
				return nil, err
			}
			if Truthy(r) {
				return v, nil
			}
		}
		return nil, nil
	})
	a.defN("any?", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		for _, v := range self.(*Array).Elems {
			r := v
			if blk != nil {
				var err error
				if r, err = t.CallProc(blk, []Value{v}, nil); err != nil {
					return nil, err
				}
			}
			if Truthy(r) {
				return true, nil
			}
		}
		return false, nil
	})
	a.defN("all?", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		for _, v := range self.(*Array).Elems {
			r := v
			if blk != nil {
				var err error
				if r, err = t.CallProc(blk, []Value{v}, nil); err != nil {
					return nil, err
				}
			}
			if !Truthy(r) {
				return false, nil
			}
		}
		return true, nil
	})
	inject := func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 2); err != nil {
			return nil, err
		}
		elems := self.(*Array).Elems
		var acc Value
		hasInit := false
		op := blk
		symbolOp := func(v Value) error {
			sym, ok := v.(Symbol)
			if !ok {
				return t.rt.NewError(t.rt.TypeError, "%s is not a symbol", t.rt.describe(v))
			}
			op = t.rt.symbolProc(sym)
			return nil
		}
		switch {
		case len(args) == 2:
			acc, hasInit = args[0], true
			if err := symbolOp(args[1]); err != nil {
				return nil, err
			}
		case len(args) == 1 && blk == nil:
			if err := symbolOp(args[0]); err != nil {
				return nil, err
			}
		case len(args) == 1:
			acc, hasInit = args[0], true
		}
		if op == nil {
			return nil, t.rt.needBlock(nil, "inject")
		}
		start := 0
		if !hasInit {
			if len(elems) == 0 {
				return nil, nil
			}
			acc, start = elems[0], 1
		}
		for _, v := range elems[start:] {
			var err error
			if acc, err = t.CallProc(op, []Value{acc, v}, nil); err != nil {
				return nil, err
			}
		}
		return acc, nil
	}
	a.defN("inject", -1, inject)
	a.defN("reduce", -1, inject)
	a.defN("sum", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 1); err != nil {
			return nil, err
		}
		var acc Value = int64(0)
		if len(args) == 1 {
			acc = args[0]
		}
		for _, v := range self.(*Array).Elems {
			if blk != nil {
				var err error
				if v, err = t.CallProc(blk, []Value{v}, nil); err != nil {
					return nil, err
				}
			}
			var err error
			if acc, err = t.Send(acc, "+", v); err != nil {
				return nil, err
			}
		}
		return acc, nil
	})
	a.defN("sort", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		out := append([]Value(nil), self.(*Array).Elems...)
		if err := t.sortValues(out, blk); err != nil {
			return nil, err
		}
		return &Array{Elems: out}, nil
	})
	a.defN("sort_by", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "sort_by"); err != nil {
			return nil, err
		}
		src := self.(*Array).Elems
		type keyed struct{ key, val Value }
		ks := make([]keyed, len(src))
		for i, v := range src {
			k, err := t.CallProc(blk, []Value{v}, nil)
			if err != nil {
				return nil, err
			}
			ks[i] = keyed{k, v}
		}
		var cmpErr error
		sort.SliceStable(ks, func(i, j int) bool {
			c, err := t.compare(ks[i].key, ks[j].key)
			if err != nil && cmpErr == nil {
				cmpErr = err
			}
			return c < 0
		})
		if cmpErr != nil {
			return nil, cmpErr
		}
		out := make([]Value, len(ks))
		for i, k := range ks {
			out[i] = k.val
		}
		return &Array{Elems: out}, nil
	})
	a.def0("min", func(t *Thread, self Value) (Value, error) { return t.extreme(self.(*Array).Elems, -1) })
	a.def0("max", func(t *Thread, self Value) (Value, error) { return t.extreme(self.(*Array).Elems, 1) })
}

func flatten(elems []Value, out []Value) []Value {
	for _, v := range elems {
		if arr, ok := v.(*Array); ok {
			out = flatten(arr.Elems, out)
			continue
		}
		out = append(out, v)
	}
	return out
}

func (t *Thread) inspectArray(arr *Array) (Value, error) {
	parts := make([]string, len(arr.Elems))
	for i, v := range arr.Elems {
		s, err := t.inspect(v)
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

func (t *Thread) filter(arr *Array, blk *Proc, keep bool, name string) (Value, error) {
	if err := t.rt.needBlock(blk, name); err != nil {
		return nil, err
	}
	out := &Array{}
	for i := 0; i < len(arr.Elems); i++ {
		v := arr.Elems[i]
		r, err := t.CallProc(blk, []Value{v}, nil)
		if err != nil {
			return nil, err
		}
		if Truthy(r) == keep {
			out.Elems = append(out.Elems, v)
		}
	}
	return out, nil
}

func (t *Thread) sortValues(vals []Value, blk *Proc) error {
	var cmpErr error
	sort.SliceStable(vals, func(i, j int) bool {
		if cmpErr != nil {
			return false
		}
		var c int
		if blk != nil {
			r, err := t.CallProc(blk, []Value{vals[i], vals[j]}, nil)
			if err != nil {
				cmpErr = err
				return false
			}
			n, ok := r.(int64)
			if !ok {
				cmpErr = t.rt.NewError(t.rt.ArgumentError, "comparison of %s with %s failed", t.rt.ClassOf(vals[i]).Name, t.rt.describe(vals[j]))
				return false
			}
			c = int(n)
		} else {
			var err error
			if c, err = t.compare(vals[i], vals[j]); err != nil {
				cmpErr = err
				return false
			}
		}
		return c < 0
	})
	return cmpErr
}

func (t *Thread) extreme(elems []Value, sign int) (Value, error) {
	if len(elems) == 0 {
		return nil, nil
	}
	best := elems[0]
	for _, v := range elems[1:] {
		c, err := t.compare(v, best)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = v
		}
	}
	return best, nil
}

// ---------------------------------------------------------------------------
// Hash
// ---------------------------------------------------------------------------

func installHash(rt *Runtime) {
	h := rt.Hash
	h.def1("[]", func(t *Thread, self, arg Value) (Value, error) {
		v, _ := self.(*Hash).Get(arg)
		return v, nil
	})
	h.defN("[]=", 2, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		self.(*Hash).Set(args[0], args[1])
		return args[1], nil
	})
	h.defN("store", 2, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		self.(*Hash).Set(args[0], args[1])
		return args[1], nil
	})
	h.defN("fetch", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 1, 2); err != nil {
			return nil, err
		}
		if v, ok := self.(*Hash).Get(args[0]); ok {
			return v, nil
		}
		if blk != nil {
			return t.CallProc(blk, []Value{args[0]}, nil)
		}
		if len(args) == 2 {
			return args[1], nil
		}
		key, err := t.inspect(args[0])
		if err != nil {
			return nil, err
		}
		return nil, t.rt.NewError(t.rt.KeyError, "key not found: %s", key)
	})
	hasKey := func(t *Thread, self, arg Value) (Value, error) {
		_, ok := self.(*Hash).Get(arg)
		return ok, nil
	}
	h.def1("key?", hasKey)
	h.def1("has_key?", hasKey)
	h.def1("include?", hasKey)
	h.def0("keys", func(t *Thread, self Value) (Value, error) { return &Array{Elems: self.(*Hash).Keys()}, nil })
	h.def0("values", func(t *Thread, self Value) (Value, error) { return &Array{Elems: self.(*Hash).Values()}, nil })
	length := func(t *Thread, self Value) (Value, error) { return int64(self.(*Hash).Len()), nil }
	h.def0("length", length)
	h.def0("size", length)
	h.def0("empty?", func(t *Thread, self Value) (Value, error) { return self.(*Hash).Len() == 0, nil })
	h.def1("delete", func(t *Thread, self, arg Value) (Value, error) {
		v, _ := self.(*Hash).Delete(arg)
		return v, nil
	})
	h.def1("merge", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(*Hash)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "no implicit conversion of %s into Hash", t.rt.ClassOf(arg).Name)
		}
		out := NewHash()
		for _, src := range []*Hash{self.(*Hash), other} {
			for i, k := range src.keys {
				out.Set(k, src.vals[i])
			}
		}
		return out, nil
	})
	h.def0("to_a", func(t *Thread, self Value) (Value, error) {
		hs := self.(*Hash)
		out := &Array{Elems: make([]Value, len(hs.keys))}
		for i, k := range hs.keys {
			out.Elems[i] = NewArray(k, hs.vals[i])
		}
		return out, nil
	})
	each := func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "each"); err != nil {
			return nil, err
		}
		hs := self.(*Hash)
		for _, k := range hs.Keys() {
			v, ok := hs.Get(k)
			if !ok {
				continue
			}
			if _, err := t.CallProc(blk, []Value{NewArray(k, v)}, nil); err != nil {
				return nil, err
			}
		}
		return self, nil
	}
	h.defN("each", 0, each)
	h.defN("each_pair", 0, each)
	inspect := func(t *Thread, self Value) (Value, error) {
		hs := self.(*Hash)
		if hs.Len() == 0 {
			return "{}", nil
		}
		parts := make([]string, 0, hs.Len())
		for i, k := range hs.keys {
			ks, err := t.inspect(k)
			if err != nil {
				return nil, err
			}
			vs, err := t.inspect(hs.vals[i])
			if err != nil {
				return nil, err
			}
			if sym, ok := k.(Symbol); ok {
				parts = append(parts, string(sym)+": "+vs)
			} else {
				parts = append(parts, ks+" => "+vs)
			}
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	}
	h.def0("inspect", inspect)
	h.def0("to_s", inspect)
}
