package vm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/ir"
)

// semanticsCase is a program whose result must not depend on the tier that
// runs it. defs are installed on Object before the body runs.
type semanticsCase struct {
	name   string
	defs   []*compiler.MethodDef
	locals []string
	body   []compiler.Node
	want   string // inspect of the result
}

func semanticsCases() []semanticsCase {
	one, two, three := num(1), num(2), num(3)
	eachX := func(body ...compiler.Node) *compiler.Iter { return block(1, []string{"x"}, body...) }
	return []semanticsCase{
		{
			name: "fixnum arithmetic",
			body: []compiler.Node{call(one, "+", call(two, "*", three))},
			want: "7",
		},
		{
			name: "floor division and modulo",
			body: []compiler.Node{array(call(num(-7), "/", two), call(num(-7), "%", two))},
			want: "[-4, 1]",
		},
		{
			name: "mixed float arithmetic",
			body: []compiler.Node{call(flt(1.5), "+", two)},
			want: "3.5",
		},
		{
			name: "recursion",
			defs: []*compiler.MethodDef{fibDef()},
			body: []compiler.Node{fcall("fib", num(15))},
			want: "610",
		},
		{
			name: "while loop",
			defs: []*compiler.MethodDef{sumToDef()},
			body: []compiler.Node{fcall("sum_to", num(100))},
			want: "5050",
		},
		{
			name: "string dispatch",
			body: []compiler.Node{call(call(str("ab"), "+", str("c")), "upcase")},
			want: `"ABC"`,
		},
		{
			name: "block map",
			body: []compiler.Node{callBlock(array(one, two, three), "map", eachX(call(lv(0), "*", two)))},
			want: "[2, 4, 6]",
		},
		{
			name:   "closure writes an outer local",
			locals: []string{"s"},
			body: []compiler.Node{
				set(0, num(0)),
				callBlock(array(one, two, three), "each", eachX(setOuter(1, 0, call(outer(1, 0), "+", lv(0))))),
				lv(0),
			},
			want: "6",
		},
		{
			name: "break leaves the call",
			body: []compiler.Node{
				callBlock(array(one, two, three), "each", eachX(
					ifElse(call(lv(0), "==", two), &compiler.Break{Value: call(lv(0), "*", num(10))}, nil))),
			},
			want: "20",
		},
		{
			name: "next ends the block",
			body: []compiler.Node{
				callBlock(array(one, two, three), "map", eachX(
					ifElse(call(lv(0), "==", two), &compiler.Next{Value: num(0)}, nil),
					lv(0))),
			},
			want: "[1, 0, 3]",
		},
		{
			name: "non-local return",
			defs: []*compiler.MethodDef{method("find_two", 0, nil,
				callBlock(array(one, two, three), "each", eachX(
					ifElse(call(lv(0), "==", two), &compiler.Return{Value: call(lv(0), "*", num(100))}, nil))),
				nilv())},
			body: []compiler.Node{fcall("find_two")},
			want: "200",
		},
		{
			name:   "break out of while",
			locals: []string{"i"},
			body: []compiler.Node{
				set(0, num(0)),
				while(&compiler.TrueLit{},
					set(0, call(lv(0), "+", one)),
					ifElse(call(lv(0), "==", num(5)), &compiler.Break{}, nil)),
				lv(0),
			},
			want: "5",
		},
		{
			name:   "rescue binds the exception",
			locals: []string{"e"},
			body: []compiler.Node{&compiler.Rescue{
				Body: fcall("raise", str("boom")),
				Clauses: []compiler.RescueClause{{
					Target: &compiler.LocalAsgn{Index: 0},
					Body:   call(lv(0), "message"),
				}},
			}},
			want: `"boom"`,
		},
		{
			name: "rescue matches by class",
			body: []compiler.Node{&compiler.Rescue{
				Body: call(one, "/", num(0)),
				Clauses: []compiler.RescueClause{
					{Classes: []compiler.Node{cnst("ArgumentError")}, Body: sym("wrong")},
					{Classes: []compiler.Node{cnst("ZeroDivisionError")}, Body: sym("caught")},
				},
			}},
			want: ":caught",
		},
		{
			name:   "retry reruns the protected body",
			locals: []string{"n"},
			body: []compiler.Node{
				set(0, num(0)),
				&compiler.Rescue{
					Body: seq(
						set(0, call(lv(0), "+", one)),
						ifElse(call(lv(0), "<", three), fcall("raise", str("again")), nil),
						lv(0)),
					Clauses: []compiler.RescueClause{{Body: &compiler.Retry{}}},
				},
			},
			want: "3",
		},
		{
			name:   "ensure after normal exit",
			locals: []string{"s"},
			body: []compiler.Node{
				set(0, array()),
				&compiler.Ensure{Body: call(lv(0), "<<", one), Ensure: call(lv(0), "<<", two)},
				lv(0),
			},
			want: "[1, 2]",
		},
		{
			name: "ensure on return",
			defs: []*compiler.MethodDef{method("guarded", 1, []string{"log"},
				&compiler.Ensure{
					Body:   &compiler.Return{Value: one},
					Ensure: call(lv(0), "<<", sym("ensured")),
				})},
			locals: []string{"log"},
			body: []compiler.Node{
				set(0, array()),
				array(fcall("guarded", lv(0)), lv(0)),
			},
			want: "[1, [:ensured]]",
		},
		{
			name: "yield",
			defs: []*compiler.MethodDef{method("twice", 0, nil,
				call(&compiler.Yield{Args: []compiler.Node{one}}, "+", &compiler.Yield{Args: []compiler.Node{two}}))},
			body: []compiler.Node{fcallBlock("twice", eachX(call(lv(0), "*", num(10))))},
			want: "30",
		},
		{
			name: "optional parameter",
			defs: []*compiler.MethodDef{{
				Name: "opt",
				Params: &compiler.Params{
					Required: []int{0},
					Optional: []compiler.OptParam{{Slot: 1, Default: num(5)}},
					Rest:     -1,
					Block:    -1,
				},
				Body:       call(lv(0), "+", lv(1)),
				LocalNames: []string{"a", "b"},
			}},
			body: []compiler.Node{array(fcall("opt", one), fcall("opt", one, two))},
			want: "[6, 3]",
		},
		{
			name: "rest parameter",
			defs: []*compiler.MethodDef{{
				Name:       "splat",
				Params:     &compiler.Params{Required: []int{0}, Rest: 1, Block: -1},
				Body:       lv(1),
				LocalNames: []string{"a", "rest"},
			}},
			body: []compiler.Node{fcall("splat", one, two, three)},
			want: "[2, 3]",
		},
		{
			name: "string interpolation",
			body: []compiler.Node{&compiler.DStr{Parts: []compiler.Node{str("x="), call(one, "+", one)}}},
			want: `"x=2"`,
		},
		{
			name:   "hash literal",
			locals: []string{"h"},
			body: []compiler.Node{
				set(0, &compiler.HashLit{Pairs: []compiler.Node{sym("a"), one}}),
				call(lv(0), "[]=", sym("b"), two),
				call(lv(0), "keys"),
			},
			want: "[:a, :b]",
		},
		{
			name: "constants",
			body: []compiler.Node{
				&compiler.ConstAsgn{Name: "ANSWER", Value: num(41)},
				call(cnst("ANSWER"), "+", one),
			},
			want: "42",
		},
		{
			name: "instance variables",
			body: []compiler.Node{iset("@x", num(5)), call(ivar("@x"), "+", one)},
			want: "6",
		},
		{
			name: "globals",
			body: []compiler.Node{
				&compiler.GlobalAsgn{Name: "$g", Value: three},
				call(&compiler.GlobalVar{Name: "$g"}, "*", two),
			},
			want: "6",
		},
		{
			name: "inject with a symbol",
			body: []compiler.Node{call(array(one, two, three, num(4)), "inject", sym("+"))},
			want: "10",
		},
		{
			name:   "times",
			locals: []string{"n"},
			body: []compiler.Node{
				set(0, num(0)),
				callBlock(num(5), "times", block(0, nil, setOuter(1, 0, call(outer(1, 0), "+", one)))),
				lv(0),
			},
			want: "5",
		},
		{
			name: "short circuit",
			body: []compiler.Node{array(
				&compiler.Or{Left: nilv(), Right: num(7)},
				&compiler.And{Left: &compiler.FalseLit{}, Right: one},
				&compiler.Not{Value: &compiler.TrueLit{}})},
			want: "[7, false, false]",
		},
		{
			name: "comparison",
			body: []compiler.Node{array(call(three, "<=>", num(5)), call(array(three, one, two), "sort"))},
			want: "[-1, [1, 2, 3]]",
		},
		{
			name: "lambda return",
			body: []compiler.Node{call(fcallBlock("lambda", block(0, nil, &compiler.Return{Value: num(9)})), "call")},
			want: "9",
		},
		{
			name: "symbol block pass",
			body: []compiler.Node{callBlock(array(str("a"), str("b")), "map", &compiler.BlockPass{Value: sym("upcase")})},
			want: `["A", "B"]`,
		},
		{
			name: "gsub",
			body: []compiler.Node{call(str("hello world"), "gsub", str("o"), str("0"))},
			want: `"hell0 w0rld"`,
		},
		{
			name: "defined?",
			body: []compiler.Node{array(
				&compiler.Defined{Expr: ivar("@nope")},
				&compiler.Defined{Expr: &compiler.VCall{Name: "puts"}})},
			want: `[nil, "method"]`,
		},
	}
}

func inspectResult(t *testing.T, rt *Runtime, v Value) string {
	t.Helper()
	s, err := rt.NewThread().inspect(v)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	return s
}

func TestInterpreterSemantics(t *testing.T) {
	for _, c := range semanticsCases() {
		t.Run(c.name, func(t *testing.T) {
			rt := newRuntime(t, interpOptions())
			for _, d := range c.defs {
				rt.DefineMethod(rt.Object, d)
			}
			got := inspectResult(t, rt, run(t, rt, c.locals, c.body...))
			if got != c.want {
				t.Errorf("result = %s, want %s", got, c.want)
			}
		})
	}
}

// TestNativeSemantics runs every program once to warm its units, waits for
// the background compiler, and runs it again with every unit native.
func TestNativeSemantics(t *testing.T) {
	for _, c := range semanticsCases() {
		t.Run(c.name, func(t *testing.T) {
			rt := newRuntime(t, eagerOptions())
			for _, d := range c.defs {
				rt.DefineMethod(rt.Object, d)
			}
			root := program(c.locals, c.body...)
			if _, err := rt.Run(root); err != nil {
				t.Fatalf("warm run: %v", err)
			}
			drain(t, rt)

			u := rt.NewTopUnit(root)
			if !rt.Controller().Promote(u) {
				t.Fatal("Promote refused the top-level unit")
			}
			drain(t, rt)
			if u.Tier() != TierNative {
				t.Fatalf("top-level tier = %s, want native", u.Tier())
			}
			for _, d := range c.defs {
				if st := unitOf(t, rt.Object, d.Name).State(); st != NativeCompiled {
					t.Errorf("%s state = %s, want native-compiled", d.Name, st)
				}
			}

			v, err := rt.NewThread().RunUnit(u, rt.Main())
			if err != nil {
				t.Fatalf("native run: %v", err)
			}
			if got := inspectResult(t, rt, v); got != c.want {
				t.Errorf("result = %s, want %s", got, c.want)
			}
			if st := rt.JIT().Stats(); st.Failures != 0 {
				t.Errorf("failures = %d, want 0", st.Failures)
			}
		})
	}
}

func TestFullBuildSemantics(t *testing.T) {
	for _, c := range semanticsCases() {
		t.Run(c.name, func(t *testing.T) {
			opts := eagerOptions()
			opts.FullBuildThreshold = 1
			opts.JITThreshold = 0
			rt := newRuntime(t, opts)
			for _, d := range c.defs {
				rt.DefineMethod(rt.Object, d)
			}
			root := program(c.locals, c.body...)
			if _, err := rt.Run(root); err != nil {
				t.Fatalf("warm run: %v", err)
			}
			drain(t, rt)
			for _, d := range c.defs {
				if tier := unitOf(t, rt.Object, d.Name).Tier(); tier != TierFullBuild {
					t.Errorf("%s tier = %s, want full-build", d.Name, tier)
				}
			}
			got := inspectResult(t, rt, run(t, rt, c.locals, c.body...))
			if got != c.want {
				t.Errorf("result = %s, want %s", got, c.want)
			}
		})
	}
}

func TestInterpreterErrors(t *testing.T) {
	tests := []struct {
		name string
		body []compiler.Node
		cls  func(rt *Runtime) *Class
	}{
		{"undefined method", []compiler.Node{call(num(1), "nope")}, func(rt *Runtime) *Class { return rt.NoMethodError }},
		{"undefined variable", []compiler.Node{&compiler.VCall{Name: "nope"}}, func(rt *Runtime) *Class { return rt.NameError }},
		{"zero division", []compiler.Node{call(num(1), "%", num(0))}, func(rt *Runtime) *Class { return rt.ZeroDivisionError }},
		{"type error", []compiler.Node{call(num(1), "+", str("a"))}, func(rt *Runtime) *Class { return rt.TypeError }},
		{"uninitialized constant", []compiler.Node{cnst("Missing")}, func(rt *Runtime) *Class { return rt.NameError }},
		{"break from an orphan proc", []compiler.Node{call(fcallBlock("proc", block(0, nil, &compiler.Break{})), "call")}, func(rt *Runtime) *Class { return rt.LocalJumpError }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t, interpOptions())
			err := runErr(rt, nil, tt.body...)
			re, ok := err.(*RaiseError)
			if !ok {
				t.Fatalf("error = %v (%T), want a raise", err, err)
			}
			if want := tt.cls(rt); re.Exception.Class() != want {
				t.Errorf("raised %s, want %s", re.Exception.Class().Name, want.Name)
			}
		})
	}
}

func TestPutsWritesOutput(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	run(t, rt, nil,
		fcall("puts", str("hello"), num(42)),
		fcall("p", array(num(1), str("x"))),
		fcall("print", str("a"), str("b")))
	if got, want := output(rt), "hello\n42\n[1, \"x\"]\nab"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// interpretOne runs a single-instruction scope and returns the panic message,
// if any. Operands are placeholders, so opcodes are free to fail or panic on
// them; only the dispatch switch is under test.
func interpretOne(rt *Runtime, op ir.Opcode) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprint(r)
		}
	}()
	s := oneInstr(op)
	code := newCode(TierInterpreted, s, newSiteTable(&Unit{rt: rt, name: "sample"}, s))
	th := rt.NewThread()
	f := th.newFrame(code, rt.Main(), nil, nil, nil, &activation{defTarget: rt.Object})
	Interpret(code, f)
	return ""
}

func TestInterpreterHandlesEveryOpcode(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	for _, op := range ir.Opcodes() {
		if msg := interpretOne(rt, op); strings.Contains(msg, "unknown opcode") {
			t.Errorf("%s: %s", op, msg)
		}
	}
}

func TestInterpreterPanicsOnUnknownOpcode(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	if msg := interpretOne(rt, ir.Opcode(255)); !strings.Contains(msg, "unknown opcode") {
		t.Errorf("panic = %q, want unknown opcode", msg)
	}
}
