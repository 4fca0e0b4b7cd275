package vm

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chazu/tiervm/compiler"
)

// ---------------------------------------------------------------------------
// Runtime helpers
// ---------------------------------------------------------------------------

// interpOptions is a configuration with the background compiler off.
func interpOptions() Options {
	opts := DefaultOptions()
	opts.JITEnabled = false
	opts.Out = &bytes.Buffer{}
	return opts
}

// eagerOptions promotes every unit straight to the native tier on its
// first call.
func eagerOptions() Options {
	opts := DefaultOptions()
	opts.FullBuildThreshold = 0
	opts.JITThreshold = 1
	opts.Out = &bytes.Buffer{}
	return opts
}

func newRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	rt, err := NewRuntime(opts)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func output(rt *Runtime) string {
	return rt.opts.Out.(*bytes.Buffer).String()
}

func drain(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.JIT().Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func program(locals []string, body ...compiler.Node) *compiler.Root {
	return &compiler.Root{Body: seq(body...), LocalNames: locals, File: "test.rb"}
}

func run(t *testing.T, rt *Runtime, locals []string, body ...compiler.Node) Value {
	t.Helper()
	v, err := rt.Run(program(locals, body...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}

func runErr(rt *Runtime, locals []string, body ...compiler.Node) error {
	_, err := rt.Run(program(locals, body...))
	return err
}

func unitOf(t *testing.T, cls *Class, name string) *Unit {
	t.Helper()
	m, _, _ := cls.Lookup(name)
	um, ok := m.(*UnitMethod)
	if !ok {
		t.Fatalf("%s#%s is %T, want *UnitMethod", cls.Name, name, m)
	}
	return um.Unit()
}

func wantValue(t *testing.T, what string, got, want Value) {
	t.Helper()
	if fmt.Sprintf("%#v", got) != fmt.Sprintf("%#v", want) {
		t.Errorf("%s = %#v, want %#v", what, got, want)
	}
}

// ---------------------------------------------------------------------------
// AST shorthands
// ---------------------------------------------------------------------------

func num(v int64) *compiler.IntLit       { return &compiler.IntLit{Value: v} }
func flt(v float64) *compiler.FloatLit   { return &compiler.FloatLit{Value: v} }
func str(s string) *compiler.StrLit      { return &compiler.StrLit{Value: s} }
func sym(s string) *compiler.SymLit      { return &compiler.SymLit{Name: s} }
func cnst(name string) *compiler.Const   { return &compiler.Const{Name: name} }
func ivar(name string) *compiler.InstVar { return &compiler.InstVar{Name: name} }
func nilv() *compiler.NilLit             { return &compiler.NilLit{} }
func self() *compiler.Self               { return &compiler.Self{} }

func lv(i int) *compiler.LocalVar       { return &compiler.LocalVar{Index: i} }
func outer(d, i int) *compiler.LocalVar { return &compiler.LocalVar{Depth: d, Index: i} }
func set(i int, v compiler.Node) *compiler.LocalAsgn {
	return &compiler.LocalAsgn{Index: i, Value: v}
}
func setOuter(d, i int, v compiler.Node) *compiler.LocalAsgn {
	return &compiler.LocalAsgn{Depth: d, Index: i, Value: v}
}
func iset(name string, v compiler.Node) *compiler.InstAsgn {
	return &compiler.InstAsgn{Name: name, Value: v}
}

func seq(stmts ...compiler.Node) compiler.Node {
	if len(stmts) == 1 {
		return stmts[0]
	}
	return &compiler.Seq{Stmts: stmts}
}

func call(recv compiler.Node, name string, args ...compiler.Node) *compiler.Call {
	return &compiler.Call{Receiver: recv, Name: name, Args: args}
}

func callBlock(recv compiler.Node, name string, blk compiler.Node, args ...compiler.Node) *compiler.Call {
	return &compiler.Call{Receiver: recv, Name: name, Args: args, Block: blk}
}

func fcall(name string, args ...compiler.Node) *compiler.FCall {
	return &compiler.FCall{Name: name, Args: args}
}

func fcallBlock(name string, blk compiler.Node, args ...compiler.Node) *compiler.FCall {
	return &compiler.FCall{Name: name, Args: args, Block: blk}
}

func array(elems ...compiler.Node) *compiler.ArrayLit {
	return &compiler.ArrayLit{Elements: elems}
}

func ifElse(cond, then, els compiler.Node) *compiler.If {
	return &compiler.If{Cond: cond, Then: then, Else: els}
}

func while(cond compiler.Node, body ...compiler.Node) *compiler.While {
	return &compiler.While{Cond: cond, Body: seq(body...)}
}

func params(n int) *compiler.Params {
	p := compiler.NoParams()
	for i := 0; i < n; i++ {
		p.Required = append(p.Required, i)
	}
	return p
}

// method builds def name(locals[0..nreq)) body end.
func method(name string, nreq int, locals []string, body ...compiler.Node) *compiler.MethodDef {
	return &compiler.MethodDef{Name: name, Params: params(nreq), Body: seq(body...), LocalNames: locals, File: "test.rb"}
}

// block builds { |locals[0..nreq)| body }.
func block(nreq int, locals []string, body ...compiler.Node) *compiler.Iter {
	return &compiler.Iter{Params: params(nreq), Body: seq(body...), LocalNames: locals}
}

// fibDef is def fib(n); n < 2 ? n : fib(n - 1) + fib(n - 2); end.
func fibDef() *compiler.MethodDef {
	n := lv(0)
	return method("fib", 1, []string{"n"},
		ifElse(call(n, "<", num(2)),
			n,
			call(fcall("fib", call(n, "-", num(1))), "+", fcall("fib", call(n, "-", num(2))))))
}

// sumToDef is def sum_to(n); i = 0; s = 0; while i < n; i += 1; s += i; end; s; end.
func sumToDef() *compiler.MethodDef {
	return method("sum_to", 1, []string{"n", "i", "s"},
		set(1, num(0)),
		set(2, num(0)),
		while(call(lv(1), "<", lv(0)),
			set(1, call(lv(1), "+", num(1))),
			set(2, call(lv(2), "+", lv(1)))),
		lv(2))
}
