package vm

import (
	"regexp"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

func installClass(rt *Runtime) {
	c := rt.ClassClass

	c.defN("new", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.instantiate(self.(*Class), args, blk)
	})
	c.def0("allocate", func(t *Thread, self Value) (Value, error) {
		return t.rt.NewObject(self.(*Class)), nil
	})
	name := func(t *Thread, self Value) (Value, error) {
		if n := self.(*Class).Name; n != "" {
			return n, nil
		}
		return nil, nil
	}
	c.def0("name", name)
	c.def0("to_s", func(t *Thread, self Value) (Value, error) {
		if n := self.(*Class).Name; n != "" {
			return n, nil
		}
		return "#<Class>", nil
	})
	c.def0("inspect", func(t *Thread, self Value) (Value, error) {
		if n := self.(*Class).Name; n != "" {
			return n, nil
		}
		return "#<Class>", nil
	})
	c.def0("superclass", func(t *Thread, self Value) (Value, error) {
		if s := self.(*Class).Super; s != nil {
			return s, nil
		}
		return nil, nil
	})
	c.def1("===", func(t *Thread, self, arg Value) (Value, error) {
		return t.rt.IsA(arg, self.(*Class)), nil
	})
	c.def1("<", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(*Class)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "compared with non class/module")
		}
		cls := self.(*Class)
		switch {
		case cls == other:
			return false, nil
		case cls.IsSubclassOf(other):
			return true, nil
		case other.IsSubclassOf(cls):
			return false, nil
		}
		return nil, nil
	})

	c.defN("define_method", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 1, 2); err != nil {
			return nil, err
		}
		name, err := t.rt.nameArg(args[0])
		if err != nil {
			return nil, err
		}
		body := blk
		if len(args) == 2 {
			p, ok := args[1].(*Proc)
			if !ok {
				return nil, t.rt.NewError(t.rt.TypeError, "wrong argument type %s (expected Proc)", t.rt.ClassOf(args[1]).Name)
			}
			body = p
		}
		if body == nil {
			return nil, t.rt.NewError(t.rt.ArgumentError, "tried to create Proc object without a block")
		}
		cls := self.(*Class)
		cls.Define(name, &procMethod{name: name, proc: body, owner: cls}, Public)
		return Symbol(name), nil
	})
	c.defN("remove_method", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		cls := self.(*Class)
		for _, a := range args {
			name, err := t.rt.nameArg(a)
			if err != nil {
				return nil, err
			}
			if !cls.Remove(name) {
				err := t.rt.NewError(t.rt.NameError, "method '%s' not defined in %s", name, cls.Name)
				err.Exception.SetIvar("@name", Symbol(name))
				return nil, err
			}
		}
		return self, nil
	})
	c.defN("attr_reader", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.defineAttrs(self.(*Class), args, true, false)
	})
	c.defN("attr_writer", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.defineAttrs(self.(*Class), args, false, true)
	})
	c.defN("attr_accessor", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.defineAttrs(self.(*Class), args, true, true)
	})
	classEval := func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.needBlock(blk, "class_eval"); err != nil {
			return nil, err
		}
		cls := self.(*Class)
		if len(args) == 0 {
			args = []Value{cls}
		}
		return t.callRebound(blk, rebind(blk, cls), cls, args)
	}
	c.defN("class_eval", -1, classEval)
	c.defN("class_exec", -1, classEval)
	c.defN("module_eval", -1, classEval)
	c.def1("method_defined?", func(t *Thread, self, arg Value) (Value, error) {
		name, err := t.rt.nameArg(arg)
		if err != nil {
			return nil, err
		}
		m, vis, _ := self.(*Class).Lookup(name)
		return m != nil && vis != Private, nil
	})
	c.defN("instance_methods", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		cls := self.(*Class)
		inherit := len(args) == 0 || Truthy(args[0])
		seen := map[string]bool{}
		var names []string
		for k := cls; k != nil; k = k.Super {
			for _, n := range k.MethodNames() {
				if seen[n] {
					continue
				}
				seen[n] = true
				if _, vis, _ := k.Lookup(n); vis != Private {
					names = append(names, n)
				}
			}
			if !inherit {
				break
			}
		}
		return &Array{Elems: sortedNames(names)}, nil
	})
}

// instantiate implements Class#new.
func (t *Thread) instantiate(cls *Class, args []Value, blk *Proc) (Value, error) {
	rt := t.rt
	switch cls {
	case rt.ClassClass:
		return t.newClassValue(args, blk)
	case rt.Integer, rt.Float, rt.Symbol, rt.NilClass, rt.TrueClass, rt.FalseClass, rt.MatchData:
		return nil, rt.noMethodError(cls, "new", ir.CallNormal, false)
	case rt.String:
		if err := rt.checkArgs(args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return "", nil
		}
		return t.toS(args[0])
	case rt.Array:
		if err := rt.checkArgs(args, 0, 2); err != nil {
			return nil, err
		}
		arr := &Array{}
		if len(args) > 0 {
			n, ok := args[0].(int64)
			if !ok {
				return nil, rt.typeError(args[0], "Integer")
			}
			if n < 0 {
				return nil, rt.NewError(rt.ArgumentError, "negative array size")
			}
			for i := int64(0); i < n; i++ {
				v := optArg(args, 1)
				if blk != nil {
					var err error
					if v, err = t.CallProc(blk, []Value{i}, nil); err != nil {
						return nil, err
					}
				}
				arr.Elems = append(arr.Elems, v)
			}
		}
		return arr, nil
	case rt.Hash:
		return NewHash(), nil
	case rt.Proc:
		if blk == nil {
			return nil, rt.NewError(rt.ArgumentError, "tried to create Proc object without a block")
		}
		return blk, nil
	case rt.Regexp:
		if err := rt.checkArgs(args, 1, 1); err != nil {
			return nil, err
		}
		return rt.compileRegexp(args[0])
	}

	obj := rt.NewObject(cls)
	if _, err := t.callMethod(obj, "initialize", ir.CallFunctional, args, blk); err != nil {
		return nil, err
	}
	return obj, nil
}

// newClassValue implements Class.new(superclass) { body }.
func (t *Thread) newClassValue(args []Value, blk *Proc) (Value, error) {
	rt := t.rt
	if err := rt.checkArgs(args, 0, 1); err != nil {
		return nil, err
	}
	super := rt.Object
	if len(args) == 1 {
		s, ok := args[0].(*Class)
		if !ok {
			return nil, rt.NewError(rt.TypeError, "superclass must be a Class (%s given)", rt.describe(args[0]))
		}
		super = s
	}
	cls := rt.NewClass(super)
	if blk != nil {
		if _, err := t.callRebound(blk, rebind(blk, cls), cls, []Value{cls}); err != nil {
			return nil, err
		}
	}
	return cls, nil
}

func (t *Thread) defineAttrs(cls *Class, args []Value, reader, writer bool) (Value, error) {
	var out []Value
	for _, a := range args {
		name, err := t.rt.nameArg(a)
		if err != nil {
			return nil, err
		}
		site := &FieldSite{name: "@" + name}
		if reader {
			cls.def0(name, func(t *Thread, self Value) (Value, error) {
				return site.Get(self), nil
			})
			out = append(out, Symbol(name))
		}
		if writer {
			wsite := &FieldSite{name: "@" + name}
			cls.def1(name+"=", func(t *Thread, self, arg Value) (Value, error) {
				return arg, wsite.Set(t.rt, self, arg)
			})
			out = append(out, Symbol(name+"="))
		}
	}
	return &Array{Elems: out}, nil
}

func (rt *Runtime) compileRegexp(v Value) (*Regexp, error) {
	switch v := v.(type) {
	case *Regexp:
		return v, nil
	case string:
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, rt.NewError(rt.ArgumentError, "invalid regular expression: %s", err)
		}
		return &Regexp{Source: v, re: re}, nil
	}
	return nil, rt.typeError(v, "Regexp")
}

// NewRegexp compiles a pattern for embedders and literals.
func (rt *Runtime) NewRegexp(src string) (*Regexp, error) { return rt.compileRegexp(src) }
