// Package ir defines the linear intermediate representation shared by the
// interpreter, the full-build tier and the native tier.
package ir

import "fmt"

// CatalogVersion is bumped whenever an opcode changes meaning. It is part of
// every content key, so bumping it invalidates persisted compile records.
const CatalogVersion = 3

// Opcode identifies an instruction kind.
type Opcode uint8

// Moves and variables
const (
	OpNop Opcode = iota
	OpCopy
	OpLoadSelf
	OpLoadLocal0
	OpLoadLocal1
	OpLoadLocal2
	OpLoadLocal3
	OpLoadLocal // depth 0, slot >= 4
	OpLoadOuter // depth > 0
	OpStoreLocal0
	OpStoreLocal1
	OpStoreLocal2
	OpStoreLocal3
	OpStoreLocal
	OpStoreOuter
	OpGetIvar
	OpSetIvar
	OpGetGlobal
	OpSetGlobal
	OpGetConst
	OpSetConst
	OpGetBackref
	OpGetNthRef
	OpGetLastline

	// Calls and closures
	OpCall
	OpSuper
	OpZSuper
	OpYield
	OpMakeClosure
	OpDefMethod

	// Branches
	OpJump
	OpBranchTrue
	OpBranchFalse

	// Arithmetic and comparison with a dispatch fallback
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNot
	OpIsDefined

	// Allocation
	OpNewArray
	OpNewHash
	OpBuildString

	// Exits
	OpReturn
	OpNonLocalReturn
	OpBreak

	// Exception regions
	OpPushHandler
	OpPopHandler
	OpGetError
	OpRescueMatch
	OpRethrow
	OpClearError

	// Prologue
	OpCheckArity
	OpRecvRequired
	OpRecvOptional
	OpRecvRest
	OpRecvBlock

	opcodeCount
)

var opcodeNames = [opcodeCount]string{
	OpNop:            "nop",
	OpCopy:           "copy",
	OpLoadSelf:       "load_self",
	OpLoadLocal0:     "load_local_0",
	OpLoadLocal1:     "load_local_1",
	OpLoadLocal2:     "load_local_2",
	OpLoadLocal3:     "load_local_3",
	OpLoadLocal:      "load_local",
	OpLoadOuter:      "load_outer",
	OpStoreLocal0:    "store_local_0",
	OpStoreLocal1:    "store_local_1",
	OpStoreLocal2:    "store_local_2",
	OpStoreLocal3:    "store_local_3",
	OpStoreLocal:     "store_local",
	OpStoreOuter:     "store_outer",
	OpGetIvar:        "get_ivar",
	OpSetIvar:        "set_ivar",
	OpGetGlobal:      "get_global",
	OpSetGlobal:      "set_global",
	OpGetConst:       "get_const",
	OpSetConst:       "set_const",
	OpGetBackref:     "get_backref",
	OpGetNthRef:      "get_nth_ref",
	OpGetLastline:    "get_lastline",
	OpCall:           "call",
	OpSuper:          "super",
	OpZSuper:         "zsuper",
	OpYield:          "yield",
	OpMakeClosure:    "make_closure",
	OpDefMethod:      "def_method",
	OpJump:           "jump",
	OpBranchTrue:     "branch_true",
	OpBranchFalse:    "branch_false",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpDiv:            "div",
	OpMod:            "mod",
	OpLt:             "lt",
	OpLe:             "le",
	OpGt:             "gt",
	OpGe:             "ge",
	OpEq:             "eq",
	OpNot:            "not",
	OpIsDefined:      "is_defined",
	OpNewArray:       "new_array",
	OpNewHash:        "new_hash",
	OpBuildString:    "build_string",
	OpReturn:         "return",
	OpNonLocalReturn: "non_local_return",
	OpBreak:          "break",
	OpPushHandler:    "push_handler",
	OpPopHandler:     "pop_handler",
	OpGetError:       "get_error",
	OpRescueMatch:    "rescue_match",
	OpRethrow:        "rethrow",
	OpClearError:     "clear_error",
	OpCheckArity:     "check_arity",
	OpRecvRequired:   "recv_required",
	OpRecvOptional:   "recv_optional",
	OpRecvRest:       "recv_rest",
	OpRecvBlock:      "recv_block",
}

func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("UNKNOWN_%02X", uint8(op))
}

// Valid reports whether op is part of the catalog.
func (op Opcode) Valid() bool { return op < opcodeCount }

// Opcodes returns every opcode in the catalog.
func Opcodes() []Opcode {
	ops := make([]Opcode, opcodeCount)
	for i := range ops {
		ops[i] = Opcode(i)
	}
	return ops
}

// IsTerminator reports whether control never falls through op.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpReturn, OpNonLocalReturn, OpBreak, OpRethrow:
		return true
	}
	return false
}

// IsBranch reports whether op carries a label target.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpJump, OpBranchTrue, OpBranchFalse, OpPushHandler, OpRecvOptional:
		return true
	}
	return false
}

// IsArith reports whether op is a binary operator with a dispatch fallback.
func (op Opcode) IsArith() bool { return op >= OpAdd && op <= OpEq }

// OperatorName is the method name an arithmetic opcode falls back to.
func (op Opcode) OperatorName() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpEq:
		return "=="
	}
	return ""
}

// ArithOpcode maps an operator method name to its opcode.
func ArithOpcode(name string) (Opcode, bool) {
	for op := OpAdd; op <= OpEq; op++ {
		if op.OperatorName() == name {
			return op, true
		}
	}
	return OpNop, false
}
