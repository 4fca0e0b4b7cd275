package vm

import "github.com/chazu/tiervm/compiler"

// Method is anything that can sit in a method table.
type Method interface {
	Name() string
	Call(t *Thread, self Value, args []Value, blk *Proc) (Value, error)
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// Builtin is a method implemented in Go. Fn0 and Fn1 are optional
// fixed-arity entry points; call sites whose shape matches bind them
// directly and skip argument slice handling.
type Builtin struct {
	name  string
	Arity int // -1 for variadic
	Fn    func(t *Thread, self Value, args []Value, blk *Proc) (Value, error)
	Fn0   func(t *Thread, self Value) (Value, error)
	Fn1   func(t *Thread, self, arg Value) (Value, error)
}

func (b *Builtin) Name() string { return b.name }

func (b *Builtin) Call(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
	if b.Fn != nil {
		if b.Arity >= 0 && len(args) != b.Arity {
			return nil, t.rt.arityError(len(args), b.Arity, b.Arity)
		}
		return b.Fn(t, self, args, blk)
	}
	switch {
	case b.Fn0 != nil && len(args) == 0:
		return b.Fn0(t, self)
	case b.Fn1 != nil && len(args) == 1:
		return b.Fn1(t, self, args[0])
	}
	return nil, t.rt.arityError(len(args), b.Arity, b.Arity)
}

// fixed reports whether a call with n arguments and no block can use a
// fixed-arity entry.
func (b *Builtin) fixed(n int, blk *Proc) bool {
	if blk != nil {
		return false
	}
	return (n == 0 && b.Fn0 != nil) || (n == 1 && b.Fn1 != nil)
}

// ---------------------------------------------------------------------------
// Unit methods
// ---------------------------------------------------------------------------

// UnitMethod is a method whose body is a compiled unit.
type UnitMethod struct {
	name  string
	owner *Class
	unit  *Unit
}

// NewUnitMethod creates a method for def on owner.
func (rt *Runtime) NewUnitMethod(owner *Class, def *compiler.MethodDef) *UnitMethod {
	return &UnitMethod{name: def.Name, owner: owner, unit: rt.NewMethodUnit(owner, def)}
}

func (m *UnitMethod) Name() string  { return m.name }
func (m *UnitMethod) Owner() *Class { return m.owner }
func (m *UnitMethod) Unit() *Unit   { return m.unit }

func (m *UnitMethod) Call(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
	code, err := m.unit.enter()
	if err != nil {
		return nil, err
	}
	return t.invokeUnit(m.unit, code, self, args, blk, m.name, m.owner)
}

// procMethod is a method defined from a block (define_method).
type procMethod struct {
	name  string
	proc  *Proc
	owner *Class
}

func (m *procMethod) Name() string { return m.name }

func (m *procMethod) Call(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
	p := *m.proc
	p.Lambda = true
	return t.callProcAs(&p, self, args, blk)
}
