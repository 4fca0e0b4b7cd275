package ir

import (
	"fmt"
	"strings"
)

// OperandKind says where an operand's value lives.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindConst
	KindTemp
	KindLocal
	KindSelf
)

// Operand references a constant-pool entry, a temporary, a lexical variable
// at (Depth, Index), or self.
type Operand struct {
	Kind  OperandKind
	Index int
	Depth int
}

var None = Operand{}

// Const references constant-pool entry i.
func Const(i int) Operand { return Operand{Kind: KindConst, Index: i} }

// Temp references temporary i.
func Temp(i int) Operand { return Operand{Kind: KindTemp, Index: i} }

// Local references slot in the scope depth levels up.
func Local(depth, slot int) Operand {
	return Operand{Kind: KindLocal, Depth: depth, Index: slot}
}

// SelfRef references the receiver.
func SelfRef() Operand { return Operand{Kind: KindSelf} }

func (o Operand) IsNone() bool { return o.Kind == KindNone }

func (o Operand) String() string {
	switch o.Kind {
	case KindConst:
		return fmt.Sprintf("k%d", o.Index)
	case KindTemp:
		return fmt.Sprintf("t%d", o.Index)
	case KindLocal:
		return fmt.Sprintf("v%d.%d", o.Depth, o.Index)
	case KindSelf:
		return "self"
	}
	return "_"
}

// CallType classifies a call site; it is passed to method_missing.
type CallType uint8

const (
	CallNormal     CallType = iota // recv.name
	CallFunctional                 // name(args)
	CallVariable                   // name
	CallSuper                      // super
)

func (c CallType) String() string {
	switch c {
	case CallNormal:
		return "normal"
	case CallFunctional:
		return "functional"
	case CallVariable:
		return "variable"
	case CallSuper:
		return "super"
	}
	return "unknown"
}

// DefinedKind selects the runtime check done by OpIsDefined.
type DefinedKind uint8

const (
	DefinedIvar DefinedKind = iota
	DefinedGlobal
	DefinedConst
	DefinedMethod
	DefinedYield
	DefinedSuper
	DefinedBackref
)

// HandlerKind distinguishes rescue handlers from ensure handlers.
type HandlerKind uint8

const (
	HandlerRescue HandlerKind = iota // catches raised exceptions only
	HandlerEnsure                    // catches every error, including control signals
)

// NoClosure marks an instruction without a literal block.
const NoClosure = -1

// Instr is one instruction. It is pure data; unused fields are zero.
//
//	Dst      destination operand (temporary, or local for stores)
//	A, B     source operands
//	Args     argument operands for calls and allocations
//	Name     method, variable or constant name
//	Label    branch target label
//	Site     call/field/constant cache index
//	Closure  index into Scope.Closures or NoClosure
//	Aux      small immediate (arg index, nth-ref, kind, arity minimum)
//	Aux2     second immediate (arity maximum)
type Instr struct {
	Op       Opcode
	Dst      Operand
	A        Operand
	B        Operand
	Args     []Operand
	Name     string
	Label    int
	Site     int
	Closure  int
	CallType CallType
	Aux      int
	Aux2     int
	Line     int
}

func (in Instr) String() string {
	var sb strings.Builder
	if !in.Dst.IsNone() {
		sb.WriteString(in.Dst.String())
		sb.WriteString(" = ")
	}
	sb.WriteString(in.Op.String())
	if in.Name != "" {
		fmt.Fprintf(&sb, " %q", in.Name)
	}
	for _, o := range []Operand{in.A, in.B} {
		if !o.IsNone() {
			sb.WriteString(" ")
			sb.WriteString(o.String())
		}
	}
	if len(in.Args) > 0 {
		sb.WriteString(" (")
		for i, a := range in.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		sb.WriteString(")")
	}
	if in.Op.IsBranch() {
		fmt.Fprintf(&sb, " L%d", in.Label)
	}
	if in.Closure >= 0 && (in.Op == OpCall || in.Op == OpSuper || in.Op == OpZSuper || in.Op == OpMakeClosure) {
		fmt.Fprintf(&sb, " &c%d", in.Closure)
	}
	return sb.String()
}
