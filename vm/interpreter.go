package vm

import (
	"fmt"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// Interpreter: executes a body instruction by instruction
// ---------------------------------------------------------------------------

// Interpret runs code in f from f.PC until a return or an unhandled error.
// Labels resolve through the jump table cached on the Code.
func Interpret(code *Code, f *Frame) (Value, error) {
	instrs := code.Scope.Instrs
	labels := code.labels
	pc := f.PC

	for pc < len(instrs) {
		in := &instrs[pc]
		pc++
		var err error

		switch in.Op {
		case ir.OpNop:

		// --- moves and variables ---
		case ir.OpCopy:
			f.set(in.Dst, f.get(in.A))
		case ir.OpLoadSelf:
			f.set(in.Dst, f.Self)
		case ir.OpLoadLocal0:
			f.set(in.Dst, f.Scope.Vars[0])
		case ir.OpLoadLocal1:
			f.set(in.Dst, f.Scope.Vars[1])
		case ir.OpLoadLocal2:
			f.set(in.Dst, f.Scope.Vars[2])
		case ir.OpLoadLocal3:
			f.set(in.Dst, f.Scope.Vars[3])
		case ir.OpLoadLocal:
			f.set(in.Dst, f.Scope.Vars[in.A.Index])
		case ir.OpLoadOuter:
			f.set(in.Dst, f.Scope.up(in.A.Depth).Vars[in.A.Index])
		case ir.OpStoreLocal0:
			f.Scope.Vars[0] = f.get(in.A)
		case ir.OpStoreLocal1:
			f.Scope.Vars[1] = f.get(in.A)
		case ir.OpStoreLocal2:
			f.Scope.Vars[2] = f.get(in.A)
		case ir.OpStoreLocal3:
			f.Scope.Vars[3] = f.get(in.A)
		case ir.OpStoreLocal:
			f.Scope.Vars[in.Dst.Index] = f.get(in.A)
		case ir.OpStoreOuter:
			f.Scope.up(in.Dst.Depth).Vars[in.Dst.Index] = f.get(in.A)
		case ir.OpGetIvar:
			f.getIvar(in)
		case ir.OpSetIvar:
			err = f.setIvar(in)
		case ir.OpGetGlobal:
			f.set(in.Dst, f.global(in.Name))
		case ir.OpSetGlobal:
			err = f.setGlobal(in.Name, f.get(in.A))
		case ir.OpGetConst:
			err = f.getConst(in)
		case ir.OpSetConst:
			f.t.rt.SetConst(in.Name, f.get(in.A))
		case ir.OpGetBackref:
			f.set(in.Dst, f.act.backref)
		case ir.OpGetNthRef:
			f.set(in.Dst, f.nthRef(in.Aux))
		case ir.OpGetLastline:
			f.set(in.Dst, f.act.lastline)

		// --- calls and closures ---
		case ir.OpCall:
			err = f.call(in)
		case ir.OpSuper:
			err = f.super(in, false)
		case ir.OpZSuper:
			err = f.super(in, true)
		case ir.OpYield:
			err = f.yield(in)
		case ir.OpMakeClosure:
			f.makeClosure(in)
		case ir.OpDefMethod:
			f.defMethod(in)

		// --- branches ---
		case ir.OpJump:
			pc = labels[in.Label]
		case ir.OpBranchTrue:
			if Truthy(f.get(in.A)) {
				pc = labels[in.Label]
			}
		case ir.OpBranchFalse:
			if !Truthy(f.get(in.A)) {
				pc = labels[in.Label]
			}

		// --- operators ---
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
			ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe, ir.OpEq:
			err = f.arith(in)
		case ir.OpNot:
			f.set(in.Dst, !Truthy(f.get(in.A)))
		case ir.OpIsDefined:
			f.set(in.Dst, f.isDefined(in))

		// --- allocation ---
		case ir.OpNewArray:
			f.set(in.Dst, &Array{Elems: f.gather(in.Args)})
		case ir.OpNewHash:
			f.newHash(in)
		case ir.OpBuildString:
			err = f.buildString(in)

		// --- exits ---
		case ir.OpReturn:
			return f.get(in.A), nil
		case ir.OpNonLocalReturn:
			err = f.nonLocalReturn(f.get(in.A))
		case ir.OpBreak:
			err = f.breakOut(f.get(in.A))

		// --- exception regions ---
		case ir.OpPushHandler:
			f.pushHandler(ir.HandlerKind(in.Aux), labels[in.Label])
		case ir.OpPopHandler:
			f.popHandler()
		case ir.OpGetError:
			f.set(in.Dst, f.err)
		case ir.OpRescueMatch:
			var ok bool
			ok, err = f.rescueMatch(in)
			f.set(in.Dst, ok)
		case ir.OpRethrow:
			err = valueError(f.get(in.A))
		case ir.OpClearError:
			f.clearError()

		// --- prologue ---
		case ir.OpCheckArity:
			err = f.checkArity(in.Aux, in.Aux2)
		case ir.OpRecvRequired:
			f.set(in.Dst, f.arg(in.Aux))
		case ir.OpRecvOptional:
			if in.Aux < len(f.Args) {
				f.set(in.Dst, f.Args[in.Aux])
				pc = labels[in.Label]
			}
		case ir.OpRecvRest:
			f.recvRest(in)
		case ir.OpRecvBlock:
			f.set(in.Dst, procValue(f.BlockArg))

		default:
			panic(fmt.Sprintf("unknown opcode: %02X (%s)", uint8(in.Op), in.Op))
		}

		if err != nil {
			target, ok := f.handle(err)
			if !ok {
				f.PC = pc
				return nil, err
			}
			pc = target
		}
	}
	return nil, nil
}
