package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tiervm/ir"
)

// oneInstr builds a scope holding a single instruction whose operands all
// read constant 0 and whose label resolves past the end.
func oneInstr(op ir.Opcode) *ir.Scope {
	table := ir.NewScopeTable()
	s := &ir.Scope{
		Kind:     ir.ScopeMethod,
		Name:     "sample",
		Instrs:   []ir.Instr{{Op: op, Dst: ir.Temp(0), A: ir.Const(0), Args: []ir.Operand{ir.Const(0)}}},
		Consts:   []ir.Literal{ir.IntLiteral(1)},
		NumTemps: 1,
		NumSites: 1,
		Table:    table,
		Static:   table.Add(ir.NoScope, nil),

		NumFieldSites: 1,
		NumConstSites: 1,
	}
	s.SetJumpTable([]int{1})
	return s
}

func TestLowerCoversEveryOpcode(t *testing.T) {
	for _, op := range ir.Opcodes() {
		p, err := Lower(oneInstr(op))
		if err != nil {
			t.Errorf("%s: %v", op, err)
			continue
		}
		if p.Size() < 1 {
			t.Errorf("%s: size %d, want at least 1", op, p.Size())
		}
	}
}

func TestLowerRejectsUnknownOpcode(t *testing.T) {
	_, err := Lower(oneInstr(ir.Opcode(255)))
	if err == nil || !strings.Contains(err.Error(), "unsupported opcode") {
		t.Fatalf("err = %v, want unsupported opcode", err)
	}
}

func TestLowerSizeCountsOperands(t *testing.T) {
	nop, err := Lower(oneInstr(ir.OpNop))
	if err != nil {
		t.Fatal(err)
	}
	cp, err := Lower(oneInstr(ir.OpCopy))
	if err != nil {
		t.Fatal(err)
	}
	if nop.Size() != 1 {
		t.Errorf("nop size = %d, want 1", nop.Size())
	}
	if cp.Size() != 3 {
		t.Errorf("copy size = %d, want 3", cp.Size())
	}
}

// ---------------------------------------------------------------------------
// CodeLoader
// ---------------------------------------------------------------------------

func TestCodeLoaderDefinesOnce(t *testing.T) {
	rt := newRuntime(t, interpOptions())
	s := oneInstr(ir.OpNop)
	p, err := Lower(s)
	if err != nil {
		t.Fatal(err)
	}
	sites := newSiteTable(&Unit{rt: rt, name: "sample"}, s)

	l := NewCodeLoader()
	code, err := l.Define(p, s, sites)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if code.Tier != TierNative || code.Loader() != l || !l.Used() {
		t.Errorf("code = tier %s loader %v, want native code from %v", code.Tier, code.Loader(), l)
	}
	if _, err := l.Define(p, s, sites); !errors.Is(err, ErrLoaderUsed) {
		t.Errorf("second Define: err = %v, want ErrLoaderUsed", err)
	}
}

func TestCodeLoadersAreDistinct(t *testing.T) {
	a, b := NewCodeLoader(), NewCodeLoader()
	if a.ID() == b.ID() {
		t.Error("two loaders share an ID")
	}
}
