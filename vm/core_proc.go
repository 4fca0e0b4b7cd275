package vm

import "fmt"

// ---------------------------------------------------------------------------
// Proc
// ---------------------------------------------------------------------------

func installProc(rt *Runtime) {
	p := rt.Proc
	call := func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.CallProc(self.(*Proc), args, blk)
	}
	p.defN("call", -1, call)
	p.defN("()", -1, call)
	p.defN("yield", -1, call)
	p.defN("[]", -1, call)
	p.defN("===", -1, call)
	p.def0("to_proc", func(t *Thread, self Value) (Value, error) { return self, nil })
	p.def0("arity", func(t *Thread, self Value) (Value, error) { return int64(self.(*Proc).Arity()), nil })
	p.def0("lambda?", func(t *Thread, self Value) (Value, error) { return self.(*Proc).Lambda, nil })
	p.def0("inspect", func(t *Thread, self Value) (Value, error) {
		pr := self.(*Proc)
		kind := ""
		if pr.Lambda {
			kind = " (lambda)"
		}
		if pr.unit != nil {
			return fmt.Sprintf("#<Proc:%s%s>", pr.unit.Location(), kind), nil
		}
		return "#<Proc:(native)" + kind + ">", nil
	})
}

// ---------------------------------------------------------------------------
// Exception
// ---------------------------------------------------------------------------

func installException(rt *Runtime) {
	e := rt.Exception
	e.defN("initialize", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 1); err != nil {
			return nil, err
		}
		obj := self.(*Object)
		if len(args) == 1 && args[0] != nil {
			obj.SetIvar("@message", args[0])
		} else {
			obj.SetIvar("@message", obj.class.Name)
		}
		return nil, nil
	})
	e.makePrivate("initialize")
	message := func(t *Thread, self Value) (Value, error) {
		return t.toS(self.(*Object).Ivar("@message"))
	}
	e.def0("message", message)
	e.def0("to_s", message)
	e.def0("full_message", func(t *Thread, self Value) (Value, error) {
		msg, err := t.toS(self.(*Object).Ivar("@message"))
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s (%s)", msg, self.(*Object).class.Name), nil
	})
	e.def1("==", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(*Object)
		if !ok || other.class != self.(*Object).class {
			return false, nil
		}
		return t.equal(self.(*Object).Ivar("@message"), other.Ivar("@message"))
	})

	rt.NameError.def0("name", func(t *Thread, self Value) (Value, error) {
		return self.(*Object).Ivar("@name"), nil
	})
	rt.StopIteration.def0("result", func(t *Thread, self Value) (Value, error) {
		return self.(*Object).Ivar("@result"), nil
	})
}

// ---------------------------------------------------------------------------
// nil and booleans
// ---------------------------------------------------------------------------

func installBooleans(rt *Runtime) {
	n := rt.NilClass
	n.def0("to_a", func(t *Thread, self Value) (Value, error) { return &Array{}, nil })
	n.def0("to_i", func(t *Thread, self Value) (Value, error) { return int64(0), nil })
	n.def1("&", func(t *Thread, self, arg Value) (Value, error) { return false, nil })
	n.def1("|", func(t *Thread, self, arg Value) (Value, error) { return Truthy(arg), nil })

	for _, c := range []*Class{rt.TrueClass, rt.FalseClass} {
		c.def1("&", func(t *Thread, self, arg Value) (Value, error) { return self.(bool) && Truthy(arg), nil })
		c.def1("|", func(t *Thread, self, arg Value) (Value, error) { return self.(bool) || Truthy(arg), nil })
		c.def1("^", func(t *Thread, self, arg Value) (Value, error) { return self.(bool) != Truthy(arg), nil })
	}
}
