package vm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Runtime: the object model and the adaptive compiler
// ---------------------------------------------------------------------------

// Runtime owns the class hierarchy, constants, globals and the compiler
// pipeline. It is shared by every Thread.
type Runtime struct {
	opts Options
	log  commonlog.Logger

	// Well-known classes
	BasicObject *Class
	Object      *Class
	ClassClass  *Class
	Integer     *Class
	Float       *Class
	String      *Class
	Symbol      *Class
	NilClass    *Class
	TrueClass   *Class
	FalseClass  *Class
	Array       *Class
	Hash        *Class
	Proc        *Class
	Regexp      *Class
	MatchData   *Class

	// Exception hierarchy
	Exception           *Class
	ScriptError         *Class
	NotImplementedError *Class
	StandardError       *Class
	RuntimeError        *Class
	ArgumentError       *Class
	TypeError           *Class
	NameError           *Class
	NoMethodError       *Class
	ZeroDivisionError   *Class
	LocalJumpError      *Class
	IndexError          *Class
	KeyError            *Class
	StopIteration       *Class
	SystemStackError    *Class

	main *Object

	constMu sync.RWMutex
	consts  map[string]Value
	constSP atomic.Pointer[SwitchPoint]

	builtinOps map[*Class]map[ir.Opcode]Method
	ops        atomic.Pointer[opGuard]

	globalMu sync.RWMutex
	globals  map[string]Value

	outMu sync.Mutex

	controller *Controller
	jit        *JITCompiler
	store      *ContentStore
	ledger     *Ledger
}

// NewRuntime bootstraps the core classes and starts the background
// compiler when enabled.
func NewRuntime(opts Options) (*Runtime, error) {
	rt := &Runtime{
		opts:    opts,
		log:     commonlog.GetLogger("tiervm.runtime"),
		consts:  make(map[string]Value),
		globals: make(map[string]Value),
		store:   NewContentStore(),
	}
	rt.constSP.Store(NewSwitchPoint())
	rt.bootstrap()
	installCore(rt)
	rt.recordBuiltinOps()

	if opts.LedgerPath != "" {
		ledger, err := OpenLedger(opts.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		rt.ledger = ledger
	}
	rt.jit = NewJITCompiler(rt)
	rt.controller = NewController(rt, rt.jit)
	if opts.JITEnabled {
		rt.jit.Start()
	}
	return rt, nil
}

// Close stops the background compiler and closes the ledger.
func (rt *Runtime) Close() error {
	rt.jit.Stop()
	return rt.ledger.Close()
}

func (rt *Runtime) Options() Options            { return rt.opts }
func (rt *Runtime) JIT() *JITCompiler           { return rt.jit }
func (rt *Runtime) Controller() *Controller     { return rt.controller }
func (rt *Runtime) ContentStore() *ContentStore { return rt.store }
func (rt *Runtime) Ledger() *Ledger             { return rt.ledger }

// Main returns the top-level self.
func (rt *Runtime) Main() *Object { return rt.main }

func (rt *Runtime) cachePolicy() CachePolicy {
	limit := rt.opts.ChainLimit
	if limit <= 0 {
		limit = 1
	}
	return CachePolicy{ChainLimit: limit, RebindOnMiss: rt.opts.RebindOnMiss}
}

func (rt *Runtime) bootstrap() {
	rt.BasicObject = newClass("BasicObject", nil)
	rt.Object = newClass("Object", rt.BasicObject)
	rt.ClassClass = newClass("Class", rt.Object)

	def := func(name string, super *Class) *Class {
		c := newClass(name, super)
		rt.SetConst(name, c)
		return c
	}
	rt.SetConst("BasicObject", rt.BasicObject)
	rt.SetConst("Object", rt.Object)
	rt.SetConst("Class", rt.ClassClass)

	rt.Integer = def("Integer", rt.Object)
	rt.Float = def("Float", rt.Object)
	rt.String = def("String", rt.Object)
	rt.Symbol = def("Symbol", rt.Object)
	rt.NilClass = def("NilClass", rt.Object)
	rt.TrueClass = def("TrueClass", rt.Object)
	rt.FalseClass = def("FalseClass", rt.Object)
	rt.Array = def("Array", rt.Object)
	rt.Hash = def("Hash", rt.Object)
	rt.Proc = def("Proc", rt.Object)
	rt.Regexp = def("Regexp", rt.Object)
	rt.MatchData = def("MatchData", rt.Object)

	rt.Exception = def("Exception", rt.Object)
	rt.ScriptError = def("ScriptError", rt.Exception)
	rt.NotImplementedError = def("NotImplementedError", rt.ScriptError)
	rt.StandardError = def("StandardError", rt.Exception)
	rt.RuntimeError = def("RuntimeError", rt.StandardError)
	rt.ArgumentError = def("ArgumentError", rt.StandardError)
	rt.TypeError = def("TypeError", rt.StandardError)
	rt.NameError = def("NameError", rt.StandardError)
	rt.NoMethodError = def("NoMethodError", rt.NameError)
	rt.ZeroDivisionError = def("ZeroDivisionError", rt.StandardError)
	rt.LocalJumpError = def("LocalJumpError", rt.StandardError)
	rt.IndexError = def("IndexError", rt.StandardError)
	rt.KeyError = def("KeyError", rt.IndexError)
	rt.StopIteration = def("StopIteration", rt.IndexError)
	rt.SystemStackError = def("SystemStackError", rt.Exception)

	rt.main = &Object{class: rt.Object}
}

// ClassOf returns the class used to dispatch on v.
func (rt *Runtime) ClassOf(v Value) *Class {
	switch v := v.(type) {
	case nil:
		return rt.NilClass
	case bool:
		if v {
			return rt.TrueClass
		}
		return rt.FalseClass
	case int64:
		return rt.Integer
	case float64:
		return rt.Float
	case string:
		return rt.String
	case Symbol:
		return rt.Symbol
	case *Object:
		return v.class
	case *Array:
		return rt.Array
	case *Hash:
		return rt.Hash
	case *Proc:
		return rt.Proc
	case *Class:
		return v.Meta(rt.ClassClass)
	case *Regexp:
		return rt.Regexp
	case *MatchData:
		return rt.MatchData
	}
	return rt.Object
}

// IsA reports whether v is an instance of cls or a subclass.
func (rt *Runtime) IsA(v Value, cls *Class) bool {
	if c, ok := v.(*Class); ok {
		return cls == rt.ClassClass || cls == rt.Object || cls == rt.BasicObject || c.Meta(rt.ClassClass).IsSubclassOf(cls)
	}
	return rt.ClassOf(v).IsSubclassOf(cls)
}

// ---------------------------------------------------------------------------
// Constants and globals
// ---------------------------------------------------------------------------

// Const looks up a constant.
func (rt *Runtime) Const(name string) (Value, bool) {
	rt.constMu.RLock()
	v, ok := rt.consts[name]
	rt.constMu.RUnlock()
	return v, ok
}

// SetConst assigns a constant and invalidates constant caches. An
// anonymous class takes the name it is first assigned to.
func (rt *Runtime) SetConst(name string, v Value) {
	if c, ok := v.(*Class); ok && c.Name == "" {
		c.Name = name
	}
	rt.constMu.Lock()
	rt.consts[name] = v
	rt.constMu.Unlock()
	rt.constSP.Swap(NewSwitchPoint()).Fire()
}

// constSwitchPoint guards cached constant values.
func (rt *Runtime) constSwitchPoint() *SwitchPoint { return rt.constSP.Load() }

// Global reads a global variable.
func (rt *Runtime) Global(name string) (Value, bool) {
	rt.globalMu.RLock()
	v, ok := rt.globals[name]
	rt.globalMu.RUnlock()
	return v, ok
}

// SetGlobal writes a global variable.
func (rt *Runtime) SetGlobal(name string, v Value) {
	rt.globalMu.Lock()
	rt.globals[name] = v
	rt.globalMu.Unlock()
}

// ---------------------------------------------------------------------------
// Classes and methods
// ---------------------------------------------------------------------------

// DefineClass returns the class bound to name, creating it under super.
func (rt *Runtime) DefineClass(name string, super *Class) *Class {
	if v, ok := rt.Const(name); ok {
		if c, ok := v.(*Class); ok {
			return c
		}
	}
	if super == nil {
		super = rt.Object
	}
	c := newClass(name, super)
	rt.SetConst(name, c)
	return c
}

// NewClass creates an anonymous class.
func (rt *Runtime) NewClass(super *Class) *Class {
	if super == nil {
		super = rt.Object
	}
	return newClass("", super)
}

// DefineMethod installs def as a public method of cls.
func (rt *Runtime) DefineMethod(cls *Class, def *compiler.MethodDef) *UnitMethod {
	return rt.defineMethod(cls, def, Public)
}

func (rt *Runtime) defineMethod(cls *Class, def *compiler.MethodDef, vis Visibility) *UnitMethod {
	m := rt.NewUnitMethod(cls, def)
	cls.Define(def.Name, m, vis)
	return m
}

// RemoveMethod deletes name from cls.
func (rt *Runtime) RemoveMethod(cls *Class, name string) bool { return cls.Remove(name) }

// NewObject allocates an instance of cls without calling initialize.
func (rt *Runtime) NewObject(cls *Class) *Object { return &Object{class: cls} }

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// NewException builds an exception object.
func (rt *Runtime) NewException(cls *Class, msg string) *Object {
	o := &Object{class: cls}
	o.SetIvar("@message", msg)
	return o
}

// NewError builds a raise of cls with a formatted message.
func (rt *Runtime) NewError(cls *Class, format string, args ...any) *RaiseError {
	return &RaiseError{Exception: rt.NewException(cls, fmt.Sprintf(format, args...))}
}

func (rt *Runtime) arityError(given, min, max int) error {
	var want string
	switch {
	case max < 0:
		want = fmt.Sprintf("%d+", min)
	case min == max:
		want = fmt.Sprint(min)
	default:
		want = fmt.Sprintf("%d..%d", min, max)
	}
	return rt.NewError(rt.ArgumentError, "wrong number of arguments (given %d, expected %s)", given, want)
}

func (rt *Runtime) typeError(v Value, want string) error {
	return rt.NewError(rt.TypeError, "%s can't be coerced into %s", rt.describe(v), want)
}

// describe names a receiver in error messages.
func (rt *Runtime) describe(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case bool:
		return fmt.Sprint(v)
	case *Class:
		return v.Name
	case *Object:
		if v == rt.main {
			return "main"
		}
	}
	return "an instance of " + rt.ClassOf(v).Name
}

func (rt *Runtime) noMethodError(recv Value, name string, ct ir.CallType, private bool) error {
	var err *RaiseError
	switch {
	case private:
		err = rt.NewError(rt.NoMethodError, "private method '%s' called for %s", name, rt.describe(recv))
	case ct == ir.CallVariable:
		err = rt.NewError(rt.NameError, "undefined local variable or method '%s' for %s", name, rt.describe(recv))
	case ct == ir.CallSuper:
		err = rt.NewError(rt.NoMethodError, "super: no superclass method '%s' for %s", name, rt.describe(recv))
	default:
		err = rt.NewError(rt.NoMethodError, "undefined method '%s' for %s", name, rt.describe(recv))
	}
	err.Exception.SetIvar("@name", Symbol(name))
	return err
}

// ---------------------------------------------------------------------------
// Uncached dispatch
// ---------------------------------------------------------------------------

// findMethod resolves name on cls as a call of type ct would see it.
// private is set when a method exists but ct may not call it.
func findMethod(cls *Class, name string, ct ir.CallType) (m Method, private bool) {
	m, vis, _ := cls.Lookup(name)
	if m != nil && vis == Private && ct == ir.CallNormal {
		return nil, true
	}
	return m, false
}

// Send calls name on recv, ignoring visibility.
func (t *Thread) Send(recv Value, name string, args ...Value) (Value, error) {
	return t.SendBlock(recv, name, args, nil)
}

// SendBlock is Send with a block.
func (t *Thread) SendBlock(recv Value, name string, args []Value, blk *Proc) (Value, error) {
	v, err := t.callMethod(recv, name, ir.CallFunctional, args, blk)
	return catchBreak(v, err, blk)
}

func (t *Thread) callMethod(recv Value, name string, ct ir.CallType, args []Value, blk *Proc) (Value, error) {
	m, private := findMethod(t.rt.ClassOf(recv), name, ct)
	if m == nil {
		return t.methodMissing(recv, name, ct, args, blk, private)
	}
	return m.Call(t, recv, args, blk)
}

// methodMissing calls a user-defined method_missing, or raises.
func (t *Thread) methodMissing(recv Value, name string, ct ir.CallType, args []Value, blk *Proc, private bool) (Value, error) {
	if mm, _, owner := t.rt.ClassOf(recv).Lookup("method_missing"); mm != nil && owner != t.rt.BasicObject {
		return mm.Call(t, recv, append([]Value{Symbol(name)}, args...), blk)
	}
	return nil, t.rt.noMethodError(recv, name, ct, private)
}

// RespondTo reports whether recv has a public method name.
func (rt *Runtime) RespondTo(recv Value, name string) bool {
	m, _ := findMethod(rt.ClassOf(recv), name, ir.CallNormal)
	return m != nil
}

// ---------------------------------------------------------------------------
// Running code
// ---------------------------------------------------------------------------

// Run executes a top-level unit on a fresh thread.
func (rt *Runtime) Run(root *compiler.Root) (Value, error) {
	return rt.NewThread().Run(root)
}

// Run executes a top-level unit with main as self.
func (t *Thread) Run(root *compiler.Root) (Value, error) {
	return t.RunUnit(t.rt.NewTopUnit(root), t.rt.main)
}

// RunUnit executes a top-level unit with the given self. Control signals
// that escape it become LocalJumpError.
func (t *Thread) RunUnit(u *Unit, self Value) (Value, error) {
	defTarget := t.rt.Object
	if c, ok := self.(*Class); ok {
		defTarget = c
	}
	code, err := u.enter()
	if err != nil {
		return nil, err
	}
	act := &activation{defTarget: defTarget}
	v, err := t.exec(code, t.newFrame(code, self, nil, nil, nil, act))
	act.done = true
	if err != nil {
		var sig *ControlSignal
		if errors.As(err, &sig) {
			if sig.Kind == SignalReturn && sig.Target == act {
				return sig.Value, nil
			}
			return nil, t.rt.NewError(t.rt.LocalJumpError, "%s from proc-closure", sig.Kind)
		}
		return nil, err
	}
	return v, nil
}

// Call invokes a method by name on recv from outside any running code.
func (rt *Runtime) Call(recv Value, name string, args ...Value) (Value, error) {
	return rt.NewThread().Send(recv, name, args...)
}
