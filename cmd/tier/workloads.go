package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/vm"
)

// A workload defines its methods on a runtime and returns the program that
// exercises them n times.
type workload struct {
	desc  string
	setup func(rt *vm.Runtime)
	main  func(n int64) *compiler.Root
}

var workloads = map[string]workload{
	"fib": {
		desc:  "recursive fib(20), n times",
		setup: func(rt *vm.Runtime) { rt.DefineMethod(rt.Object, fibDef()) },
		main:  func(n int64) *compiler.Root { return repeat(n, fcall("fib", num(20))) },
	},
	"loop": {
		desc:  "while-loop sum_to(10_000), n times",
		setup: func(rt *vm.Runtime) { rt.DefineMethod(rt.Object, sumToDef()) },
		main:  func(n int64) *compiler.Root { return repeat(n, fcall("sum_to", num(10000))) },
	},
	"poly": {
		desc: "to_s over five receiver classes through one call site",
		setup: func(rt *vm.Runtime) {
			rt.DefineMethod(rt.Object, method("describe", 1, []string{"x"}, call(lv(0), "to_s")))
			rt.DefineMethod(rt.Object, method("describe_all", 1, []string{"xs"},
				call(callBlock(lv(0), "map", block(1, []string{"x"}, fcall("describe", lv(0)))), "join", str(","))))
		},
		main: func(n int64) *compiler.Root {
			return repeat(n, fcall("describe_all",
				array(num(1), str("s"), sym("sym"), flt(2.5), &compiler.NilLit{})))
		},
	},
	"blocks": {
		desc: "Array.new(100) { |i| i }.map { |x| x * 2 }.inject(:+), n times",
		setup: func(rt *vm.Runtime) {
			rt.DefineMethod(rt.Object, method("doubled_sum", 0, nil,
				call(callBlock(callBlock(cnst("Array"), "new", block(1, []string{"i"}, lv(0)), num(100)),
					"map", block(1, []string{"x"}, call(lv(0), "*", num(2)))),
					"inject", sym("+"))))
		},
		main: func(n int64) *compiler.Root { return repeat(n, fcall("doubled_sum")) },
	},
}

func workloadNames() string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func lookupWorkload(name string) (workload, error) {
	w, ok := workloads[name]
	if !ok {
		return workload{}, fmt.Errorf("unknown workload %q (have %s)", name, workloadNames())
	}
	return w, nil
}

// repeat builds: i = 0; r = nil; while i < n; r = body; i += 1; end; r.
func repeat(n int64, body compiler.Node) *compiler.Root {
	return &compiler.Root{
		File:       "<workload>",
		LocalNames: []string{"i", "r"},
		Body: &compiler.Seq{Stmts: []compiler.Node{
			&compiler.LocalAsgn{Index: 0, Value: num(0)},
			&compiler.LocalAsgn{Index: 1, Value: &compiler.NilLit{}},
			&compiler.While{
				Cond: call(lv(0), "<", num(n)),
				Body: &compiler.Seq{Stmts: []compiler.Node{
					&compiler.LocalAsgn{Index: 1, Value: body},
					&compiler.LocalAsgn{Index: 0, Value: call(lv(0), "+", num(1))},
				}},
			},
			lv(1),
		}},
	}
}

// ---------------------------------------------------------------------------
// AST shorthands
// ---------------------------------------------------------------------------

func num(v int64) *compiler.IntLit     { return &compiler.IntLit{Value: v} }
func flt(v float64) *compiler.FloatLit { return &compiler.FloatLit{Value: v} }
func str(s string) *compiler.StrLit    { return &compiler.StrLit{Value: s} }
func sym(s string) *compiler.SymLit    { return &compiler.SymLit{Name: s} }
func cnst(name string) *compiler.Const { return &compiler.Const{Name: name} }
func lv(i int) *compiler.LocalVar      { return &compiler.LocalVar{Index: i} }

func call(recv compiler.Node, name string, args ...compiler.Node) *compiler.Call {
	return &compiler.Call{Receiver: recv, Name: name, Args: args}
}

func callBlock(recv compiler.Node, name string, blk compiler.Node, args ...compiler.Node) *compiler.Call {
	return &compiler.Call{Receiver: recv, Name: name, Args: args, Block: blk}
}

func fcall(name string, args ...compiler.Node) *compiler.FCall {
	return &compiler.FCall{Name: name, Args: args}
}

func array(elems ...compiler.Node) *compiler.ArrayLit {
	return &compiler.ArrayLit{Elements: elems}
}

func params(n int) *compiler.Params {
	p := compiler.NoParams()
	for i := 0; i < n; i++ {
		p.Required = append(p.Required, i)
	}
	return p
}

func method(name string, nreq int, locals []string, body compiler.Node) *compiler.MethodDef {
	return &compiler.MethodDef{Name: name, Params: params(nreq), Body: body, LocalNames: locals, File: "<workload>"}
}

func block(nreq int, locals []string, body compiler.Node) *compiler.Iter {
	return &compiler.Iter{Params: params(nreq), Body: body, LocalNames: locals}
}

func fibDef() *compiler.MethodDef {
	n := lv(0)
	return method("fib", 1, []string{"n"},
		&compiler.If{
			Cond: call(n, "<", num(2)),
			Then: n,
			Else: call(fcall("fib", call(n, "-", num(1))), "+", fcall("fib", call(n, "-", num(2)))),
		})
}

func sumToDef() *compiler.MethodDef {
	return method("sum_to", 1, []string{"n", "i", "s"}, &compiler.Seq{Stmts: []compiler.Node{
		&compiler.LocalAsgn{Index: 1, Value: num(0)},
		&compiler.LocalAsgn{Index: 2, Value: num(0)},
		&compiler.While{
			Cond: call(lv(1), "<", lv(0)),
			Body: &compiler.Seq{Stmts: []compiler.Node{
				&compiler.LocalAsgn{Index: 1, Value: call(lv(1), "+", num(1))},
				&compiler.LocalAsgn{Index: 2, Value: call(lv(2), "+", lv(1))},
			}},
		},
		lv(2),
	}})
}
