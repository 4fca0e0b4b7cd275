package vm

import (
	"testing"

	"github.com/chazu/tiervm/compiler"
)

// defineGreeters installs Base#greet(x) = x + "-base", Mid#greet(x) = super
// and Leaf#greet(x) = super(x + "!").
func defineGreeters(rt *Runtime) {
	base := rt.DefineClass("Base", nil)
	mid := rt.DefineClass("Mid", base)
	leaf := rt.DefineClass("Leaf", mid)
	rt.DefineMethod(base, method("greet", 1, []string{"x"}, call(lv(0), "+", str("-base"))))
	rt.DefineMethod(mid, method("greet", 1, []string{"x"}, &compiler.ZSuper{}))
	rt.DefineMethod(leaf, method("greet", 1, []string{"x"},
		&compiler.Super{Args: []compiler.Node{call(lv(0), "+", str("!"))}}))
}

func TestSuperChain(t *testing.T) {
	for _, opts := range []struct {
		name string
		opts Options
	}{{"interpreted", interpOptions()}, {"native", eagerOptions()}} {
		t.Run(opts.name, func(t *testing.T) {
			rt := newRuntime(t, opts.opts)
			defineGreeters(rt)
			greet := call(call(cnst("Leaf"), "new"), "greet", str("a"))
			for i := 0; i < 3; i++ {
				wantValue(t, "greet", run(t, rt, nil, greet), "a!-base")
				drain(t, rt)
			}
		})
	}
}

func TestSuperWithoutSuperclassMethod(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	solo := rt.DefineClass("Solo", nil)
	rt.DefineMethod(solo, method("greet", 0, nil, &compiler.ZSuper{}))

	err := runErr(rt, nil, call(call(cnst("Solo"), "new"), "greet"))
	re, ok := err.(*RaiseError)
	if !ok || re.Exception.Class() != rt.NoMethodError {
		t.Fatalf("err = %v, want NoMethodError", err)
	}
}

func TestCoreLibrary(t *testing.T) {
	newPt := call(cnst("Pt"), "new")
	tests := []struct {
		name   string
		locals []string
		body   []compiler.Node
		want   string
	}{
		{"attr_accessor", []string{"p"}, []compiler.Node{
			call(cnst("Pt"), "attr_accessor", sym("x")),
			set(0, newPt),
			call(lv(0), "x=", num(5)),
			call(lv(0), "x"),
		}, "5"},
		{"Class.new with define_method", nil, []compiler.Node{
			call(call(callBlock(cnst("Class"), "new",
				block(0, nil, fcallBlock("define_method", block(0, nil, num(7)), sym("v")))),
				"new"), "v"),
		}, "7"},
		{"respond_to? and is_a?", nil, []compiler.Node{
			array(
				call(num(1), "respond_to?", sym("succ")),
				call(num(1), "respond_to?", sym("nope")),
				call(num(1), "is_a?", cnst("Integer")),
				call(str("s"), "is_a?", cnst("Integer")),
			),
		}, "[true, false, true, false]"},
		{"send", nil, []compiler.Node{call(num(1), "send", sym("+"), num(2))}, "3"},
		{"instance variables", []string{"o"}, []compiler.Node{
			set(0, call(cnst("Object"), "new")),
			call(lv(0), "instance_variable_set", sym("@a"), num(4)),
			call(lv(0), "instance_variable_get", sym("@a")),
		}, "4"},
		{"superclass", nil, []compiler.Node{call(cnst("Pt"), "superclass")}, "Object"},
		{"exception message", nil, []compiler.Node{
			array(
				call(call(cnst("ArgumentError"), "new", str("bad")), "message"),
				call(call(cnst("ArgumentError"), "new"), "message"),
				call(call(cnst("KeyError"), "new", str("k")), "full_message"),
			),
		}, `["bad", "ArgumentError", "k (KeyError)"]`},
		{"boolean operators", nil, []compiler.Node{
			array(
				call(&compiler.TrueLit{}, "^", &compiler.TrueLit{}),
				call(nilv(), "|", num(1)),
				call(nilv(), "to_a"),
			),
		}, "[false, true, []]"},
		{"lambda?", nil, []compiler.Node{
			array(
				call(fcallBlock("lambda", block(0, nil, nilv())), "lambda?"),
				call(fcallBlock("proc", block(0, nil, nilv())), "lambda?"),
			),
		}, "[true, false]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t, interpOptions())
			rt.DefineClass("Pt", nil)
			got := inspectResult(t, rt, run(t, rt, tt.locals, tt.body...))
			if got != tt.want {
				t.Errorf("result = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRuntimeCall(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	rt.DefineMethod(rt.Object, fibDef())

	v, err := rt.Call(int64(2), "+", int64(3))
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, "2 + 3", v, int64(5))

	v, err = rt.Call(rt.Main(), "fib", int64(12))
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, "fib(12)", v, int64(144))
}
