package vm

import (
	"errors"
	"sync"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Dynamic scopes
// ---------------------------------------------------------------------------

// DynamicScope holds the variables of one activation of a lexical scope.
// Blocks reach enclosing variables through Parent.
type DynamicScope struct {
	Vars   []Value
	Parent *DynamicScope
}

func (s *DynamicScope) up(depth int) *DynamicScope {
	for ; depth > 0; depth-- {
		s = s.Parent
	}
	return s
}

// Scopes of units whose variables cannot be captured are recycled.
var scopePool = sync.Pool{New: func() any { return new(DynamicScope) }}

func acquireScope(n int, parent *DynamicScope, heap bool) *DynamicScope {
	if heap {
		return &DynamicScope{Vars: make([]Value, n), Parent: parent}
	}
	s := scopePool.Get().(*DynamicScope)
	if cap(s.Vars) < n {
		s.Vars = make([]Value, n)
	} else {
		s.Vars = s.Vars[:n]
	}
	s.Parent = parent
	return s
}

func releaseScope(s *DynamicScope) {
	clear(s.Vars)
	s.Parent = nil
	scopePool.Put(s)
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// activation is the state a method invocation shares with the blocks it
// creates: the block to yield to, the arguments for zsuper, the method's
// name and owner, and the frame-local globals $~ and $_.
type activation struct {
	block     *Proc
	args      []Value
	method    string
	owner     *Class
	defTarget *Class
	backref   Value
	lastline  Value
	done      bool
}

type handler struct {
	kind   ir.HandlerKind
	target int
}

// Frame is one running body.
type Frame struct {
	Code     *Code
	Self     Value
	Args     []Value
	BlockArg *Proc
	Scope    *DynamicScope
	Temps    []Value
	PC       int

	// Visibility applies to methods defined by this frame.
	Visibility Visibility

	t        *Thread
	proc     *Proc // set for block frames
	act      *activation
	handlers []handler
	err      Value // error caught by the active handler
	ret      Value // result of a lowered return
}

// Thread returns the thread running the frame.
func (f *Frame) Thread() *Thread { return f.t }

// Method returns the name of the enclosing method, or "".
func (f *Frame) Method() string { return f.act.method }

// BlockGiven reports whether the enclosing method received a block.
func (f *Frame) BlockGiven() bool { return f.act.block != nil }

// LocalNames lists the variables visible from the frame, innermost first.
func (f *Frame) LocalNames() []string {
	s := f.Code.Scope
	var names []string
	for id := s.Static; id != ir.NoScope; id = s.Table.Get(id).Parent {
		names = append(names, s.Table.Get(id).Names...)
	}
	return names
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// MaxDepth bounds the nesting of running bodies on one thread.
const MaxDepth = 10000

// Thread is an application thread of execution. Each goroutine running
// code needs its own Thread; the runtime is shared.
type Thread struct {
	rt      *Runtime
	frames  []*Frame
	depth   int
	errinfo Value // $!
}

// NewThread creates a thread on rt.
func (rt *Runtime) NewThread() *Thread { return &Thread{rt: rt} }

// Runtime returns the thread's runtime.
func (t *Thread) Runtime() *Runtime { return t.rt }

// Frame returns the innermost frame that was pushed, or nil. Only bodies
// whose analysis asked for a frame push one.
func (t *Thread) Frame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

func (t *Thread) newFrame(code *Code, self Value, args []Value, blk *Proc, parent *DynamicScope, act *activation) *Frame {
	s := code.Scope
	return &Frame{
		Code:     code,
		Self:     self,
		Args:     args,
		BlockArg: blk,
		Scope:    acquireScope(s.NumVars(), parent, s.HeapScope),
		Temps:    make([]Value, s.NumTemps),
		t:        t,
		act:      act,
	}
}

// exec runs code in f on the thread.
func (t *Thread) exec(code *Code, f *Frame) (Value, error) {
	if t.depth >= MaxDepth {
		return nil, t.rt.NewError(t.rt.SystemStackError, "stack level too deep")
	}
	t.depth++
	pushed := code.Scope.PushFrame
	if pushed {
		t.frames = append(t.frames, f)
	}

	var v Value
	var err error
	if code.prog != nil {
		v, err = code.prog.Run(f)
	} else {
		v, err = Interpret(code, f)
	}

	if pushed {
		t.frames = t.frames[:len(t.frames)-1]
	}
	t.depth--
	if !code.Scope.HeapScope {
		releaseScope(f.Scope)
		f.Scope = nil
	}
	return v, err
}

// invokeUnit runs a method unit. A return signal aimed at this activation
// ends the call with its value.
func (t *Thread) invokeUnit(u *Unit, code *Code, self Value, args []Value, blk *Proc, name string, owner *Class) (Value, error) {
	act := &activation{block: blk, args: args, method: name, owner: owner, defTarget: owner}
	f := t.newFrame(code, self, args, blk, nil, act)
	v, err := t.exec(code, f)
	act.done = true
	if err != nil {
		var sig *ControlSignal
		if errors.As(err, &sig) && sig.Kind == SignalReturn && sig.Target == act {
			return sig.Value, nil
		}
		return nil, err
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Procs
// ---------------------------------------------------------------------------

// Proc is a closure: a block unit with its captured self and scope, or a
// native function.
type Proc struct {
	Lambda bool

	unit  *Unit
	self  Value
	scope *DynamicScope
	act   *activation

	fn    func(t *Thread, args []Value, blk *Proc) (Value, error)
	arity int
}

// NativeProc wraps a Go function as a proc.
func NativeProc(arity int, fn func(t *Thread, args []Value, blk *Proc) (Value, error)) *Proc {
	return &Proc{fn: fn, arity: arity, Lambda: true}
}

// Unit returns the block unit, or nil for native procs.
func (p *Proc) Unit() *Unit { return p.unit }

// Arity is the required argument count, negative when optional or rest
// parameters are present.
func (p *Proc) Arity() int {
	if p.fn != nil {
		return p.arity
	}
	s, err := p.unit.IR()
	if err != nil {
		return 0
	}
	n := s.Signature.MinArgs()
	if s.Signature.MaxArgs() != n {
		return -n - 1
	}
	return n
}

// CallProc invokes p with args. blk is passed as the block's own block
// argument.
func (t *Thread) CallProc(p *Proc, args []Value, blk *Proc) (Value, error) {
	return t.callProcAs(p, p.self, args, blk)
}

// callProcAs invokes p with self replaced, as instance_eval does.
func (t *Thread) callProcAs(p *Proc, self Value, args []Value, blk *Proc) (Value, error) {
	if p.fn != nil {
		return p.fn(t, args, blk)
	}
	code, err := p.unit.enter()
	if err != nil {
		return nil, err
	}
	sig := code.Scope.Signature
	if p.Lambda {
		if n, min, max := len(args), sig.MinArgs(), sig.MaxArgs(); n < min || (max >= 0 && n > max) {
			return nil, t.rt.arityError(n, min, max)
		}
	} else if len(args) == 1 {
		if arr, ok := args[0].(*Array); ok && (len(sig.Required)+len(sig.Optional) > 1 || (sig.Rest >= 0 && len(sig.Required) > 0)) {
			args = arr.Elems
		}
	}

	f := t.newFrame(code, self, args, blk, p.scope, p.act)
	f.proc = p
	v, err := t.exec(code, f)
	if err != nil && p.Lambda {
		var cs *ControlSignal
		if errors.As(err, &cs) && (cs.Target == p || cs.Target == p.act) {
			return cs.Value, nil
		}
	}
	return v, err
}

// catchBreak ends a call with the value of a break aimed at the block the
// call passed.
func catchBreak(v Value, err error, blk *Proc) (Value, error) {
	if err == nil || blk == nil {
		return v, err
	}
	var sig *ControlSignal
	if errors.As(err, &sig) && sig.Kind == SignalBreak && sig.Target == blk {
		return sig.Value, nil
	}
	return v, err
}
