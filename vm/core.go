package vm

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Core library registration
// ---------------------------------------------------------------------------

type builtinFn = func(t *Thread, self Value, args []Value, blk *Proc) (Value, error)

func (c *Class) defN(name string, arity int, fn builtinFn) {
	c.Define(name, &Builtin{name: name, Arity: arity, Fn: fn}, Public)
}

func (c *Class) def0(name string, fn func(t *Thread, self Value) (Value, error)) {
	c.Define(name, &Builtin{name: name, Arity: 0, Fn0: fn}, Public)
}

func (c *Class) def1(name string, fn func(t *Thread, self, arg Value) (Value, error)) {
	c.Define(name, &Builtin{name: name, Arity: 1, Fn1: fn}, Public)
}

func (c *Class) makePrivate(names ...string) {
	for _, n := range names {
		c.SetVisibility(n, Private)
	}
}

func installCore(rt *Runtime) {
	installKernel(rt)
	installClass(rt)
	installNumeric(rt)
	installString(rt)
	installCollections(rt)
	installProc(rt)
	installException(rt)
	installBooleans(rt)
}

// checkArgs validates a variadic builtin's argument count.
func (rt *Runtime) checkArgs(args []Value, min, max int) error {
	if n := len(args); n < min || (max >= 0 && n > max) {
		return rt.arityError(n, min, max)
	}
	return nil
}

func optArg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func (rt *Runtime) needBlock(blk *Proc, name string) error {
	if blk == nil {
		return rt.NewError(rt.LocalJumpError, "no block given (%s)", name)
	}
	return nil
}

func (rt *Runtime) nameArg(v Value) (string, error) {
	switch v := v.(type) {
	case Symbol:
		return string(v), nil
	case string:
		return v, nil
	}
	return "", rt.NewError(rt.TypeError, "%s is not a symbol nor a string", rt.describe(v))
}

// ---------------------------------------------------------------------------
// Conversions shared by the builtins
// ---------------------------------------------------------------------------

// toS converts v to a string the way interpolation does.
func (t *Thread) toS(v Value) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	r, err := t.Send(v, "to_s")
	if err != nil {
		return "", err
	}
	if s, ok := r.(string); ok {
		return s, nil
	}
	return defaultToS(t.rt, v), nil
}

func defaultToS(rt *Runtime, v Value) string {
	if s, ok := basicString(v); ok {
		return s
	}
	if v == rt.main {
		return "main"
	}
	return "#<" + rt.ClassOf(v).Name + ">"
}

// inspect renders v for p and for collection printing.
func (t *Thread) inspect(v Value) (string, error) {
	r, err := t.Send(v, "inspect")
	if err != nil {
		return "", err
	}
	if s, ok := r.(string); ok {
		return s, nil
	}
	return defaultToS(t.rt, v), nil
}

// equal is == as collections use it.
func (t *Thread) equal(a, b Value) (bool, error) {
	switch x := a.(type) {
	case nil, bool, string, Symbol:
		return a == b, nil
	case int64, float64:
		if v, ok, _ := t.rt.numeric(ir.OpEq, a, b); ok {
			return v.(bool), nil
		}
		return false, nil
	case *Array:
		y, ok := b.(*Array)
		if !ok {
			return false, nil
		}
		if x == y {
			return true, nil
		}
		if len(x.Elems) != len(y.Elems) {
			return false, nil
		}
		for i := range x.Elems {
			if eq, err := t.equal(x.Elems[i], y.Elems[i]); !eq || err != nil {
				return false, err
			}
		}
		return true, nil
	}
	r, err := t.Send(a, "==", b)
	if err != nil {
		return false, err
	}
	return Truthy(r), nil
}

// compare orders two values, dispatching <=> for anything but numbers
// and strings.
func (t *Thread) compare(a, b Value) (int, error) {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			xi, aInt := a.(int64)
			yi, bInt := b.(int64)
			switch {
			case aInt && bInt && xi < yi, (!aInt || !bInt) && x < y:
				return -1, nil
			case aInt && bInt && xi > yi, (!aInt || !bInt) && x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	r, err := t.Send(a, "<=>", b)
	if err != nil {
		return 0, err
	}
	n, ok := r.(int64)
	if !ok {
		return 0, t.rt.NewError(t.rt.ArgumentError, "comparison of %s with %s failed", t.rt.ClassOf(a).Name, t.rt.describe(b))
	}
	return int(n), nil
}

// symbolProc is the proc &:name produces.
func (rt *Runtime) symbolProc(sym Symbol) *Proc {
	name := string(sym)
	p := NativeProc(-2, func(t *Thread, args []Value, blk *Proc) (Value, error) {
		if len(args) == 0 {
			return nil, t.rt.NewError(t.rt.ArgumentError, "no receiver given")
		}
		return t.SendBlock(args[0], name, args[1:], blk)
	})
	return p
}

func (rt *Runtime) out() io.Writer {
	if rt.opts.Out == nil {
		return io.Discard
	}
	return rt.opts.Out
}

// callerFrame is the innermost pushed frame, the one a frame-aware builtin
// acts on.
func (t *Thread) callerFrame() *Frame { return t.Frame() }

// ---------------------------------------------------------------------------
// BasicObject and Object (Kernel)
// ---------------------------------------------------------------------------

func installKernel(rt *Runtime) {
	bo := rt.BasicObject
	bo.defN("initialize", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return nil, nil
	})
	bo.makePrivate("initialize")
	bo.def1("==", func(t *Thread, self, arg Value) (Value, error) { return self == arg, nil })
	bo.def1("equal?", func(t *Thread, self, arg Value) (Value, error) { return self == arg, nil })
	bo.def0("!", func(t *Thread, self Value) (Value, error) { return !Truthy(self), nil })
	bo.def1("!=", func(t *Thread, self, arg Value) (Value, error) {
		eq, err := t.equal(self, arg)
		return !eq, err
	})
	bo.defN("__send__", -1, kernelSend)
	bo.defN("instance_eval", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if len(args) > 0 {
			src, ok := args[0].(string)
			if !ok {
				return nil, t.rt.typeError(args[0], "String")
			}
			return t.eval(self, src)
		}
		if err := t.rt.needBlock(blk, "instance_eval"); err != nil {
			return nil, err
		}
		return t.callRebound(blk, evalProc(t.rt, blk, self), self, []Value{self})
	})
	bo.defN("instance_exec", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "instance_exec"); err != nil {
			return nil, err
		}
		return t.callRebound(blk, evalProc(t.rt, blk, self), self, args)
	})
	bo.defN("method_missing", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if len(args) == 0 {
			return nil, t.rt.NewError(t.rt.ArgumentError, "no method name given")
		}
		name, err := t.rt.nameArg(args[0])
		if err != nil {
			return nil, err
		}
		return nil, t.rt.noMethodError(self, name, ir.CallNormal, false)
	})
	bo.makePrivate("method_missing")

	o := rt.Object
	o.def0("class", func(t *Thread, self Value) (Value, error) { return t.rt.ClassOf(self).nonMeta(), nil })
	o.def0("to_s", func(t *Thread, self Value) (Value, error) { return defaultToS(t.rt, self), nil })
	o.def0("inspect", func(t *Thread, self Value) (Value, error) { return t.inspectObject(self) })
	o.def0("nil?", func(t *Thread, self Value) (Value, error) { return self == nil, nil })
	o.def0("itself", func(t *Thread, self Value) (Value, error) { return self, nil })
	o.def0("frozen?", func(t *Thread, self Value) (Value, error) {
		_, isObj := self.(*Object)
		return !isObj, nil
	})
	isA := func(t *Thread, self, arg Value) (Value, error) {
		c, ok := arg.(*Class)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "class or module required")
		}
		return t.rt.IsA(self, c), nil
	}
	o.def1("is_a?", isA)
	o.def1("kind_of?", isA)
	o.def1("instance_of?", func(t *Thread, self, arg Value) (Value, error) {
		return t.rt.ClassOf(self).nonMeta() == arg, nil
	})
	o.defN("respond_to?", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 1, 2); err != nil {
			return nil, err
		}
		name, err := t.rt.nameArg(args[0])
		if err != nil {
			return nil, err
		}
		if Truthy(optArg(args, 1)) {
			m, _, _ := t.rt.ClassOf(self).Lookup(name)
			return m != nil, nil
		}
		return t.rt.RespondTo(self, name), nil
	})
	o.defN("send", -1, kernelSend)
	o.defN("public_send", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if len(args) == 0 {
			return nil, t.rt.NewError(t.rt.ArgumentError, "no method name given")
		}
		name, err := t.rt.nameArg(args[0])
		if err != nil {
			return nil, err
		}
		return t.callMethod(self, name, ir.CallNormal, args[1:], blk)
	})
	o.def1("instance_variable_get", func(t *Thread, self, arg Value) (Value, error) {
		name, err := t.rt.nameArg(arg)
		if err != nil {
			return nil, err
		}
		if obj, ok := self.(*Object); ok {
			return obj.Ivar(name), nil
		}
		return nil, nil
	})
	o.defN("instance_variable_set", 2, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		name, err := t.rt.nameArg(args[0])
		if err != nil {
			return nil, err
		}
		obj, ok := self.(*Object)
		if !ok {
			return nil, t.rt.NewError(t.rt.RuntimeError, "can't modify frozen %s", t.rt.ClassOf(self).Name)
		}
		obj.SetIvar(name, args[1])
		return args[1], nil
	})
	o.def0("instance_variables", func(t *Thread, self Value) (Value, error) {
		arr := &Array{}
		if obj, ok := self.(*Object); ok {
			for i, name := range obj.class.Layout().Names() {
				if _, set := obj.field(i); set {
					arr.Elems = append(arr.Elems, Symbol(name))
				}
			}
		}
		return arr, nil
	})
	o.defN("tap", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "tap"); err != nil {
			return nil, err
		}
		if _, err := t.CallProc(blk, []Value{self}, nil); err != nil {
			return nil, err
		}
		return self, nil
	})
	o.defN("then", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "then"); err != nil {
			return nil, err
		}
		return t.CallProc(blk, []Value{self}, nil)
	})

	// Output
	o.defN("puts", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		var sb strings.Builder
		if len(args) == 0 {
			sb.WriteByte('\n')
		}
		for _, a := range args {
			if err := t.putsLine(&sb, a); err != nil {
				return nil, err
			}
		}
		t.rt.write(sb.String())
		return nil, nil
	})
	o.defN("print", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		var sb strings.Builder
		for _, a := range args {
			s, err := t.toS(a)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
		}
		t.rt.write(sb.String())
		return nil, nil
	})
	o.defN("p", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		var sb strings.Builder
		for _, a := range args {
			s, err := t.inspect(a)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
			sb.WriteByte('\n')
		}
		t.rt.write(sb.String())
		switch len(args) {
		case 0:
			return nil, nil
		case 1:
			return args[0], nil
		}
		return NewArray(args...), nil
	})

	// Control
	o.defN("raise", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 2); err != nil {
			return nil, err
		}
		exc, err := t.makeException(args)
		if err != nil {
			return nil, err
		}
		return nil, &RaiseError{Exception: exc}
	})
	o.defN("loop", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "loop"); err != nil {
			return nil, err
		}
		for {
			if _, err := t.CallProc(blk, nil, nil); err != nil {
				var re *RaiseError
				if errors.As(err, &re) && re.Exception.class.IsSubclassOf(t.rt.StopIteration) {
					return re.Exception.Ivar("@result"), nil
				}
				return nil, err
			}
		}
	})
	o.defN("proc", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if blk == nil {
			return nil, t.rt.NewError(t.rt.ArgumentError, "tried to create Proc object without a block")
		}
		return blk, nil
	})
	o.defN("lambda", 0, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if blk == nil {
			return nil, t.rt.NewError(t.rt.ArgumentError, "tried to create Proc object without a block")
		}
		if blk.Lambda {
			return blk, nil
		}
		l := *blk
		l.Lambda = true
		return &l, nil
	})

	// Frame-aware
	blockGiven := func(t *Thread, self Value) (Value, error) {
		f := t.callerFrame()
		return f != nil && f.BlockGiven(), nil
	}
	o.def0("block_given?", blockGiven)
	o.def0("iterator?", blockGiven)
	o.def0("__method__", func(t *Thread, self Value) (Value, error) {
		if f := t.callerFrame(); f != nil && f.Method() != "" {
			return Symbol(f.Method()), nil
		}
		return nil, nil
	})
	o.def0("local_variables", func(t *Thread, self Value) (Value, error) {
		arr := &Array{}
		if f := t.callerFrame(); f != nil {
			for _, n := range f.LocalNames() {
				if n != "" && !strings.HasPrefix(n, "%") {
					arr.Elems = append(arr.Elems, Symbol(n))
				}
			}
		}
		return arr, nil
	})
	for name, vis := range map[string]Visibility{
		"public":          Public,
		"private":         Private,
		"protected":       Protected,
		"module_function": Private,
	} {
		vis := vis
		o.defN(name, -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
			return t.setVisibility(self, vis, args)
		})
	}
	o.defN("eval", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 1, 3); err != nil {
			return nil, err
		}
		src, ok := args[0].(string)
		if !ok {
			return nil, t.rt.typeError(args[0], "String")
		}
		return t.eval(self, src)
	})

	o.makePrivate("puts", "print", "p", "raise", "loop", "proc", "lambda",
		"block_given?", "iterator?", "__method__", "local_variables", "eval")
}

func kernelSend(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
	if len(args) == 0 {
		return nil, t.rt.NewError(t.rt.ArgumentError, "no method name given")
	}
	name, err := t.rt.nameArg(args[0])
	if err != nil {
		return nil, err
	}
	return t.callMethod(self, name, ir.CallFunctional, args[1:], blk)
}

func (rt *Runtime) write(s string) {
	if s == "" {
		return
	}
	rt.outMu.Lock()
	io.WriteString(rt.out(), s)
	rt.outMu.Unlock()
}

func (t *Thread) putsLine(sb *strings.Builder, v Value) error {
	if arr, ok := v.(*Array); ok {
		if len(arr.Elems) == 0 {
			sb.WriteByte('\n')
		}
		for _, e := range arr.Elems {
			if err := t.putsLine(sb, e); err != nil {
				return err
			}
		}
		return nil
	}
	s, err := t.toS(v)
	if err != nil {
		return err
	}
	sb.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		sb.WriteByte('\n')
	}
	return nil
}

func (t *Thread) inspectObject(v Value) (Value, error) {
	if s, ok := basicInspect(v); ok {
		return s, nil
	}
	obj, ok := v.(*Object)
	if !ok || v == t.rt.main {
		return defaultToS(t.rt, v), nil
	}
	if obj.class.IsSubclassOf(t.rt.Exception) {
		msg, _ := obj.Ivar("@message").(string)
		return fmt.Sprintf("#<%s: %s>", obj.class.Name, msg), nil
	}
	var sb strings.Builder
	sb.WriteString("#<")
	sb.WriteString(obj.class.Name)
	for i, name := range obj.class.Layout().Names() {
		fv, set := obj.field(i)
		if !set {
			continue
		}
		s, err := t.inspect(fv)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, " %s=%s", name, s)
	}
	sb.WriteByte('>')
	return sb.String(), nil
}

// makeException builds the exception raise was asked for.
func (t *Thread) makeException(args []Value) (*Object, error) {
	rt := t.rt
	if len(args) == 0 {
		if exc, ok := t.errinfo.(*Object); ok {
			return exc, nil
		}
		return rt.NewException(rt.RuntimeError, "unhandled exception"), nil
	}
	switch v := args[0].(type) {
	case string:
		if len(args) > 1 {
			return nil, rt.typeError(v, "Class")
		}
		return rt.NewException(rt.RuntimeError, v), nil
	case *Class:
		if !v.IsSubclassOf(rt.Exception) {
			return nil, rt.NewError(rt.TypeError, "exception class/object expected")
		}
		r, err := t.Send(v, "new", args[1:]...)
		if err != nil {
			return nil, err
		}
		exc, ok := r.(*Object)
		if !ok {
			return nil, rt.NewError(rt.TypeError, "exception object expected")
		}
		return exc, nil
	case *Object:
		if !v.class.IsSubclassOf(rt.Exception) {
			return nil, rt.NewError(rt.TypeError, "exception class/object expected")
		}
		if len(args) > 1 {
			v.SetIvar("@message", args[1])
		}
		return v, nil
	}
	return nil, rt.NewError(rt.TypeError, "exception class/object expected")
}

// setVisibility implements private, public and friends. With no names it
// changes the visibility of later definitions in the calling frame.
func (t *Thread) setVisibility(self Value, vis Visibility, args []Value) (Value, error) {
	if len(args) == 0 {
		if f := t.callerFrame(); f != nil {
			f.Visibility = vis
		}
		return nil, nil
	}
	cls, ok := self.(*Class)
	if !ok {
		cls = t.rt.Object
	}
	names := args
	if len(args) == 1 {
		if arr, ok := args[0].(*Array); ok {
			names = arr.Elems
		}
	}
	for _, a := range names {
		name, err := t.rt.nameArg(a)
		if err != nil {
			return nil, err
		}
		if !cls.SetVisibility(name, vis) {
			err := t.rt.NewError(t.rt.NameError, "undefined method '%s' for class '%s'", name, cls.Name)
			err.Exception.SetIvar("@name", Symbol(name))
			return nil, err
		}
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return NewArray(args...), nil
}

// eval compiles src through the runtime's parser hook and runs it as a
// fresh top-level unit with the caller's self.
func (t *Thread) eval(self Value, src string) (Value, error) {
	parse := t.rt.opts.Parser
	if parse == nil {
		return nil, t.rt.NewError(t.rt.NotImplementedError, "eval is not available without a parser")
	}
	root, err := parse(src, "(eval)")
	if err != nil {
		return nil, t.rt.NewError(t.rt.ScriptError, "%s", err)
	}
	return t.RunUnit(t.rt.NewTopUnit(root), self)
}

// evalProc rebinds a block so method definitions inside it land on the
// receiver's class (or the receiver itself when it is a class).
func evalProc(rt *Runtime, p *Proc, self Value) *Proc {
	if p.act == nil {
		return p
	}
	target, ok := self.(*Class)
	if !ok {
		target = rt.ClassOf(self)
	} else {
		target = target.Meta(rt.ClassClass)
	}
	return rebind(p, target)
}

func rebind(p *Proc, target *Class) *Proc {
	if p.act == nil {
		return p
	}
	act := *p.act
	act.defTarget = target
	q := *p
	q.act = &act
	return &q
}

// callRebound runs a rebound copy of orig. A break aimed at the copy ends
// the call; a return aimed at the copy's activation is redirected to the
// original one.
func (t *Thread) callRebound(orig, q *Proc, self Value, args []Value) (Value, error) {
	v, err := t.callProcAs(q, self, args, nil)
	var sig *ControlSignal
	if err != nil && errors.As(err, &sig) {
		switch {
		case sig.Kind == SignalBreak && sig.Target == q:
			return sig.Value, nil
		case q.act != orig.act && sig.Target == q.act:
			return nil, &ControlSignal{Kind: sig.Kind, Value: sig.Value, Target: orig.act}
		}
	}
	return v, err
}

// nonMeta maps a singleton class back to the class it belongs to.
func (c *Class) nonMeta() *Class {
	if strings.HasPrefix(c.Name, "#<Class:") {
		for k := c.Super; k != nil; k = k.Super {
			if !strings.HasPrefix(k.Name, "#<Class:") {
				return k
			}
		}
	}
	return c
}

func sortedNames(names []string) []Value {
	sort.Strings(names)
	out := make([]Value, len(names))
	for i, n := range names {
		out[i] = Symbol(n)
	}
	return out
}
