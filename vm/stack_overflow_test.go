package vm

import (
	"strings"
	"testing"

	"github.com/chazu/tiervm/compiler"
)

// ---------------------------------------------------------------------------
// Recursion depth
// ---------------------------------------------------------------------------
//
// Every body run on a thread counts against MaxDepth. Running past it raises
// SystemStackError, which is an Exception but not a StandardError.

// down is def down(n); down(n + 1); end.
func downDef() *compiler.MethodDef {
	return method("down", 1, []string{"n"}, fcall("down", call(lv(0), "+", num(1))))
}

func TestUnboundedRecursionRaises(t *testing.T) {
	for _, opts := range []struct {
		name string
		opts Options
	}{{"interpreted", interpOptions()}, {"native", eagerOptions()}} {
		t.Run(opts.name, func(t *testing.T) {
			rt := newRuntime(t, opts.opts)
			rt.DefineMethod(rt.Object, downDef())

			err := runErr(rt, nil, fcall("down", num(0)))
			re, ok := err.(*RaiseError)
			if !ok || re.Exception.Class() != rt.SystemStackError {
				t.Fatalf("err = %v, want SystemStackError", err)
			}
			if !strings.Contains(re.Message(), "too deep") {
				t.Errorf("message = %q", re.Message())
			}
		})
	}
}

func TestMutualRecursionRaises(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	rt.DefineMethod(rt.Object, method("ping", 0, nil, fcall("pong")))
	rt.DefineMethod(rt.Object, method("pong", 0, nil, fcall("ping")))

	err := runErr(rt, nil, fcall("ping"))
	if re, ok := err.(*RaiseError); !ok || re.Exception.Class() != rt.SystemStackError {
		t.Fatalf("err = %v, want SystemStackError", err)
	}
}

func TestStackOverflowIsRescuable(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	rt.DefineMethod(rt.Object, downDef())

	// A bare rescue only catches StandardError.
	err := runErr(rt, nil, &compiler.Rescue{
		Body:    fcall("down", num(0)),
		Clauses: []compiler.RescueClause{{Body: sym("standard")}},
	})
	if re, ok := err.(*RaiseError); !ok || re.Exception.Class() != rt.SystemStackError {
		t.Fatalf("bare rescue: err = %v, want SystemStackError to escape", err)
	}

	got := run(t, rt, nil, &compiler.Rescue{
		Body: fcall("down", num(0)),
		Clauses: []compiler.RescueClause{{
			Classes: []compiler.Node{cnst("SystemStackError")},
			Body:    sym("overflow"),
		}},
	})
	wantValue(t, "rescued", got, Symbol("overflow"))
}

func TestDepthRecoversAfterOverflow(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	rt.DefineMethod(rt.Object, downDef())
	rt.DefineMethod(rt.Object, fibDef())
	th := rt.NewThread()

	if _, err := th.Run(program(nil, fcall("down", num(0)))); err == nil {
		t.Fatal("expected an overflow")
	}
	if th.depth != 0 {
		t.Errorf("depth after overflow = %d, want 0", th.depth)
	}
	v, err := th.Run(program(nil, fcall("fib", num(12))))
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, "fib(12)", v, int64(144))
}
