package compiler

import (
	"fmt"

	"github.com/chazu/tiervm/ir"
)

// SplitThreshold is the number of top-level statements above which a body
// is forced to keep its variables on the heap.
const SplitThreshold = 500

// Options configures IR construction.
type Options struct {
	// FullTrace forces the disabled flag set on every unit built.
	FullTrace bool

	// Limits, when set, rejects units whose parameter shapes the native
	// backend cannot take.
	Limits *ir.Limits
}

// Build lowers a MethodDef, Iter or Root to IR. The only error it returns
// is an *ir.NotCompilableError.
func Build(node Node, opts Options) (*ir.Scope, error) {
	table := ir.NewScopeTable()
	var b *builder
	switch n := node.(type) {
	case *MethodDef:
		b = newBuilder(opts, table, ir.NoScope, ir.ScopeMethod, n.Name, n.File, n.Line(), n.LocalNames)
		b.unit(n, n.Params, n.Body)
	case *Iter:
		b = newBuilder(opts, table, ir.NoScope, ir.ScopeBlock, "block", "", n.Line(), n.LocalNames)
		b.unit(n, n.Params, n.Body)
	case *Root:
		b = newBuilder(opts, table, ir.NoScope, ir.ScopeTop, "<main>", n.File, n.Line(), n.LocalNames)
		b.unit(n, nil, n.Body)
	default:
		panic(fmt.Sprintf("compiler: cannot build a unit from %T", node))
	}
	scope := b.finish()
	if opts.Limits != nil {
		if err := ir.CheckLowerable(scope, *opts.Limits); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

type loopCtx struct {
	next    int
	end     int
	result  ir.Operand
	regions int
}

type retryCtx struct {
	label   int
	regions int
}

// region is an active protected range; ensure is nil for rescue regions.
type region struct {
	ensure Node
}

// builder emits the IR of one scope. Visit methods leave the operand
// holding the node's value in result.
type builder struct {
	opts  Options
	scope *ir.Scope

	labels []int
	consts map[ir.LiteralKey]int
	temps  int
	line   int

	loops   []loopCtx
	retries []retryCtx
	regions []region

	result ir.Operand
}

func newBuilder(opts Options, table *ir.ScopeTable, parent ir.ScopeID, kind ir.ScopeKind, name, file string, line int, names []string) *builder {
	return &builder{
		opts: opts,
		scope: &ir.Scope{
			Kind:   kind,
			Name:   name,
			File:   file,
			Line:   line,
			Table:  table,
			Static: table.Add(parent, names),
		},
		consts: make(map[ir.LiteralKey]int),
		line:   line,
	}
}

func (b *builder) finish() *ir.Scope {
	b.scope.NumTemps = b.temps
	b.scope.SetJumpTable(b.labels)
	return b.scope
}

// unit builds a whole method, block or top-level body.
func (b *builder) unit(node Node, params *Params, body Node) {
	insp := NewInspector(b.opts.FullTrace)
	flags := insp.Inspect(node)
	conv := SelectConvention(flags)

	s := b.scope
	s.Flags = uint32(flags)
	s.NoFrame = insp.NoFrame()
	s.PushFrame = conv.HasFrame() && !s.NoFrame
	s.HeapScope = conv.HasScope()
	if seq, ok := body.(*Seq); ok && len(seq.Stmts) > SplitThreshold {
		s.HeapScope = true
	}

	b.prologue(params)
	v := b.expr(body)
	b.emit(ir.Instr{Op: ir.OpReturn, A: v})
}

func (b *builder) prologue(p *Params) {
	if p == nil {
		p = NoParams()
	}
	sig := ir.Signature{
		Required: append([]int(nil), p.Required...),
		Rest:     p.Rest,
		Block:    p.Block,
	}
	for _, opt := range p.Optional {
		sig.Optional = append(sig.Optional, opt.Slot)
	}
	b.scope.Signature = sig

	if b.scope.Kind == ir.ScopeMethod {
		b.emit(ir.Instr{Op: ir.OpCheckArity, Aux: sig.MinArgs(), Aux2: sig.MaxArgs()})
	}
	for i, slot := range p.Required {
		b.emit(ir.Instr{Op: ir.OpRecvRequired, Dst: ir.Local(0, slot), Aux: i})
	}
	for j, opt := range p.Optional {
		skip := b.newLabel()
		b.emit(ir.Instr{Op: ir.OpRecvOptional, Dst: ir.Local(0, opt.Slot), Aux: len(p.Required) + j, Label: skip})
		v := b.expr(opt.Default)
		b.store(0, opt.Slot, v)
		b.mark(skip)
	}
	if p.Rest >= 0 {
		b.emit(ir.Instr{Op: ir.OpRecvRest, Dst: ir.Local(0, p.Rest), Aux: len(p.Required) + len(p.Optional)})
	}
	if p.Block >= 0 {
		b.emit(ir.Instr{Op: ir.OpRecvBlock, Dst: ir.Local(0, p.Block)})
	}
}

// --- emission helpers ---

func (b *builder) emit(in ir.Instr) {
	if in.Line == 0 {
		in.Line = b.line
	}
	if in.Op != ir.OpMakeClosure {
		in.Closure = ir.NoClosure
	}
	b.scope.Instrs = append(b.scope.Instrs, in)
}

func (b *builder) newTemp() ir.Operand {
	t := ir.Temp(b.temps)
	b.temps++
	return t
}

func (b *builder) newLabel() int {
	b.labels = append(b.labels, -1)
	return len(b.labels) - 1
}

func (b *builder) mark(label int) {
	b.labels[label] = len(b.scope.Instrs)
}

func (b *builder) constant(l ir.Literal) ir.Operand {
	key := l.Key()
	if i, ok := b.consts[key]; ok {
		return ir.Const(i)
	}
	i := len(b.scope.Consts)
	b.scope.Consts = append(b.scope.Consts, l)
	b.consts[key] = i
	return ir.Const(i)
}

func (b *builder) nilConst() ir.Operand { return b.constant(ir.Literal{Kind: ir.LitNil}) }

func (b *builder) site() int {
	b.scope.NumSites++
	return b.scope.NumSites - 1
}

func (b *builder) fieldSite() int {
	b.scope.NumFieldSites++
	return b.scope.NumFieldSites - 1
}

func (b *builder) constSite() int {
	b.scope.NumConstSites++
	return b.scope.NumConstSites - 1
}

func (b *builder) copyTo(dst, src ir.Operand) {
	b.emit(ir.Instr{Op: ir.OpCopy, Dst: dst, A: src})
}

// expr builds n and returns the operand holding its value.
func (b *builder) expr(n Node) ir.Operand {
	if n == nil {
		return b.nilConst()
	}
	if l := n.Line(); l > 0 {
		b.line = l
	}
	b.result = ir.None
	n.Accept(b)
	if b.result.IsNone() {
		panic(fmt.Sprintf("compiler: %T produced no value", n))
	}
	return b.result
}

func (b *builder) exprs(nodes []Node) []ir.Operand {
	if len(nodes) == 0 {
		return nil
	}
	ops := make([]ir.Operand, len(nodes))
	for i, n := range nodes {
		ops[i] = b.expr(n)
	}
	return ops
}

func (b *builder) load(depth, slot int) ir.Operand {
	dst := b.newTemp()
	op := ir.OpLoadOuter
	if depth == 0 {
		switch slot {
		case 0:
			op = ir.OpLoadLocal0
		case 1:
			op = ir.OpLoadLocal1
		case 2:
			op = ir.OpLoadLocal2
		case 3:
			op = ir.OpLoadLocal3
		default:
			op = ir.OpLoadLocal
		}
	}
	b.emit(ir.Instr{Op: op, Dst: dst, A: ir.Local(depth, slot)})
	return dst
}

func (b *builder) store(depth, slot int, v ir.Operand) {
	op := ir.OpStoreOuter
	if depth == 0 {
		switch slot {
		case 0:
			op = ir.OpStoreLocal0
		case 1:
			op = ir.OpStoreLocal1
		case 2:
			op = ir.OpStoreLocal2
		case 3:
			op = ir.OpStoreLocal3
		default:
			op = ir.OpStoreLocal
		}
	}
	b.emit(ir.Instr{Op: op, Dst: ir.Local(depth, slot), A: v})
}

// unwind leaves every protected region above depth, running ensure bodies
// inline from the innermost outwards.
func (b *builder) unwind(depth int) {
	saved := b.regions
	for i := len(saved) - 1; i >= depth; i-- {
		b.emit(ir.Instr{Op: ir.OpPopHandler})
		if saved[i].ensure != nil {
			b.regions = saved[:i]
			b.expr(saved[i].ensure)
		}
	}
	b.regions = saved
}

func (b *builder) loop() *loopCtx {
	if len(b.loops) == 0 {
		return nil
	}
	return &b.loops[len(b.loops)-1]
}

// block builds the block argument of a call.
func (b *builder) block(n Node) ir.Operand {
	switch n := n.(type) {
	case nil:
		return ir.None
	case *Iter:
		return b.makeClosure(n)
	case *BlockPass:
		return b.expr(n.Value)
	default:
		return b.expr(n)
	}
}

func (b *builder) makeClosure(n *Iter) ir.Operand {
	child := newBuilder(b.opts, b.scope.Table, b.scope.Static, ir.ScopeBlock,
		"block in "+b.scope.Name, b.scope.File, n.Line(), n.LocalNames)
	child.unit(n, n.Params, n.Body)
	idx := len(b.scope.Closures)
	b.scope.Closures = append(b.scope.Closures, child.finish())

	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpMakeClosure, Dst: dst, Closure: idx})
	return dst
}

func (b *builder) call(ct ir.CallType, recv ir.Operand, name string, args []Node, blk Node) ir.Operand {
	ops := b.exprs(args)
	blkOp := b.block(blk)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpCall, Dst: dst, A: recv, B: blkOp, Args: ops, Name: name, Site: b.site(), CallType: ct})
	return dst
}

// --- literals ---

func (b *builder) VisitIntLit(n *IntLit)     { b.result = b.constant(ir.IntLiteral(n.Value)) }
func (b *builder) VisitFloatLit(n *FloatLit) { b.result = b.constant(ir.FloatLiteral(n.Value)) }
func (b *builder) VisitStrLit(n *StrLit)     { b.result = b.constant(ir.StringLiteral(n.Value)) }
func (b *builder) VisitSymLit(n *SymLit)     { b.result = b.constant(ir.SymbolLiteral(n.Name)) }
func (b *builder) VisitNilLit(*NilLit)       { b.result = b.nilConst() }
func (b *builder) VisitTrueLit(*TrueLit)     { b.result = b.constant(ir.BoolLiteral(true)) }
func (b *builder) VisitFalseLit(*FalseLit)   { b.result = b.constant(ir.BoolLiteral(false)) }

func (b *builder) VisitDStr(n *DStr) {
	parts := b.exprs(n.Parts)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpBuildString, Dst: dst, Args: parts})
	b.result = dst
}

func (b *builder) VisitSelf(*Self) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpLoadSelf, Dst: dst})
	b.result = dst
}

func (b *builder) VisitArrayLit(n *ArrayLit) {
	elems := b.exprs(n.Elements)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpNewArray, Dst: dst, Args: elems})
	b.result = dst
}

func (b *builder) VisitHashLit(n *HashLit) {
	pairs := b.exprs(n.Pairs)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpNewHash, Dst: dst, Args: pairs})
	b.result = dst
}

// --- variables ---

func (b *builder) VisitLocalVar(n *LocalVar) { b.result = b.load(n.Depth, n.Index) }

func (b *builder) VisitLocalAsgn(n *LocalAsgn) {
	v := b.expr(n.Value)
	b.store(n.Depth, n.Index, v)
	b.result = v
}

func (b *builder) VisitInstVar(n *InstVar) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetIvar, Dst: dst, Name: n.Name, Site: b.fieldSite()})
	b.result = dst
}

func (b *builder) VisitInstAsgn(n *InstAsgn) {
	v := b.expr(n.Value)
	b.emit(ir.Instr{Op: ir.OpSetIvar, A: v, Name: n.Name, Site: b.fieldSite()})
	b.result = v
}

func (b *builder) VisitGlobalVar(n *GlobalVar) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetGlobal, Dst: dst, Name: n.Name})
	b.result = dst
}

func (b *builder) VisitGlobalAsgn(n *GlobalAsgn) {
	v := b.expr(n.Value)
	b.emit(ir.Instr{Op: ir.OpSetGlobal, A: v, Name: n.Name})
	b.result = v
}

func (b *builder) VisitConst(n *Const) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetConst, Dst: dst, Name: n.Name, Site: b.constSite()})
	b.result = dst
}

func (b *builder) VisitConstAsgn(n *ConstAsgn) {
	v := b.expr(n.Value)
	b.emit(ir.Instr{Op: ir.OpSetConst, A: v, Name: n.Name})
	b.result = v
}

func (b *builder) VisitBackRef(*BackRef) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetBackref, Dst: dst})
	b.result = dst
}

func (b *builder) VisitNthRef(n *NthRef) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetNthRef, Dst: dst, Aux: n.N})
	b.result = dst
}

func (b *builder) VisitLastLine(*LastLine) {
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetLastline, Dst: dst})
	b.result = dst
}

// --- calls ---

func (b *builder) VisitCall(n *Call) {
	recv := b.expr(n.Receiver)
	if op, ok := ir.ArithOpcode(n.Name); ok && len(n.Args) == 1 && n.Block == nil {
		arg := b.expr(n.Args[0])
		dst := b.newTemp()
		b.emit(ir.Instr{Op: op, Dst: dst, A: recv, B: arg, Name: n.Name, Site: b.site()})
		b.result = dst
		return
	}
	b.result = b.call(ir.CallNormal, recv, n.Name, n.Args, n.Block)
}

func (b *builder) VisitFCall(n *FCall) {
	b.result = b.call(ir.CallFunctional, ir.SelfRef(), n.Name, n.Args, n.Block)
}

func (b *builder) VisitVCall(n *VCall) {
	if n.Name == NoFramePragma {
		b.result = b.nilConst()
		return
	}
	b.result = b.call(ir.CallVariable, ir.SelfRef(), n.Name, nil, nil)
}

func (b *builder) VisitSuper(n *Super) {
	args := b.exprs(n.Args)
	blk := b.block(n.Block)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpSuper, Dst: dst, B: blk, Args: args, Site: b.site(), CallType: ir.CallSuper})
	b.result = dst
}

func (b *builder) VisitZSuper(n *ZSuper) {
	blk := b.block(n.Block)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpZSuper, Dst: dst, B: blk, Site: b.site(), CallType: ir.CallSuper})
	b.result = dst
}

func (b *builder) VisitYield(n *Yield) {
	args := b.exprs(n.Args)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpYield, Dst: dst, Args: args})
	b.result = dst
}

func (b *builder) VisitBlockPass(n *BlockPass) { b.result = b.expr(n.Value) }

// VisitIter handles a block literal outside call position (a lambda value).
func (b *builder) VisitIter(n *Iter) { b.result = b.makeClosure(n) }

// --- control flow ---

func (b *builder) VisitIf(n *If) {
	res := b.newTemp()
	elseL, end := b.newLabel(), b.newLabel()
	c := b.expr(n.Cond)
	b.emit(ir.Instr{Op: ir.OpBranchFalse, A: c, Label: elseL})
	b.copyTo(res, b.expr(n.Then))
	b.emit(ir.Instr{Op: ir.OpJump, Label: end})
	b.mark(elseL)
	b.copyTo(res, b.expr(n.Else))
	b.mark(end)
	b.result = res
}

func (b *builder) VisitWhile(n *While) {
	if n.NonLocalFlow {
		b.scope.HeapScope = true
	}
	res := b.newTemp()
	b.copyTo(res, b.nilConst())
	cond, body, end := b.newLabel(), b.newLabel(), b.newLabel()
	if n.DoWhile {
		b.emit(ir.Instr{Op: ir.OpJump, Label: body})
	}
	b.mark(cond)
	c := b.expr(n.Cond)
	b.emit(ir.Instr{Op: ir.OpBranchFalse, A: c, Label: end})
	b.mark(body)
	b.loops = append(b.loops, loopCtx{next: cond, end: end, result: res, regions: len(b.regions)})
	b.expr(n.Body)
	b.loops = b.loops[:len(b.loops)-1]
	b.emit(ir.Instr{Op: ir.OpJump, Label: cond})
	b.mark(end)
	b.result = res
}

func (b *builder) VisitAnd(n *And) { b.shortCircuit(n.Left, n.Right, ir.OpBranchFalse) }
func (b *builder) VisitOr(n *Or)   { b.shortCircuit(n.Left, n.Right, ir.OpBranchTrue) }

func (b *builder) shortCircuit(left, right Node, branch ir.Opcode) {
	res := b.newTemp()
	end := b.newLabel()
	b.copyTo(res, b.expr(left))
	b.emit(ir.Instr{Op: branch, A: res, Label: end})
	b.copyTo(res, b.expr(right))
	b.mark(end)
	b.result = res
}

func (b *builder) VisitNot(n *Not) {
	v := b.expr(n.Value)
	dst := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpNot, Dst: dst, A: v})
	b.result = dst
}

func (b *builder) VisitOpAsgnOr(n *OpAsgnOr)   { b.opAsgn(n.Target, n.Value, ir.OpBranchTrue) }
func (b *builder) VisitOpAsgnAnd(n *OpAsgnAnd) { b.opAsgn(n.Target, n.Value, ir.OpBranchFalse) }

func (b *builder) opAsgn(target, value Node, branch ir.Opcode) {
	read, write := b.lvalue(target)
	res := b.newTemp()
	end := b.newLabel()
	b.copyTo(res, read())
	b.emit(ir.Instr{Op: branch, A: res, Label: end})
	v := b.expr(value)
	write(v)
	b.copyTo(res, v)
	b.mark(end)
	b.result = res
}

// lvalue returns readers and writers for an assignable target. Receiver
// and index expressions are evaluated once.
func (b *builder) lvalue(target Node) (read func() ir.Operand, write func(ir.Operand)) {
	switch t := target.(type) {
	case *LocalAsgn:
		return func() ir.Operand { return b.load(t.Depth, t.Index) },
			func(v ir.Operand) { b.store(t.Depth, t.Index, v) }
	case *InstAsgn:
		return func() ir.Operand {
				dst := b.newTemp()
				b.emit(ir.Instr{Op: ir.OpGetIvar, Dst: dst, Name: t.Name, Site: b.fieldSite()})
				return dst
			}, func(v ir.Operand) {
				b.emit(ir.Instr{Op: ir.OpSetIvar, A: v, Name: t.Name, Site: b.fieldSite()})
			}
	case *GlobalAsgn:
		return func() ir.Operand {
				dst := b.newTemp()
				b.emit(ir.Instr{Op: ir.OpGetGlobal, Dst: dst, Name: t.Name})
				return dst
			}, func(v ir.Operand) {
				b.emit(ir.Instr{Op: ir.OpSetGlobal, A: v, Name: t.Name})
			}
	case *ConstAsgn:
		return func() ir.Operand {
				// An undefined constant reads as nil here instead of raising.
				dst := b.newTemp()
				skip := b.newLabel()
				b.emit(ir.Instr{Op: ir.OpIsDefined, Dst: dst, Name: t.Name, Aux: int(ir.DefinedConst)})
				b.emit(ir.Instr{Op: ir.OpBranchFalse, A: dst, Label: skip})
				b.emit(ir.Instr{Op: ir.OpGetConst, Dst: dst, Name: t.Name, Site: b.constSite()})
				b.mark(skip)
				return dst
			}, func(v ir.Operand) {
				b.emit(ir.Instr{Op: ir.OpSetConst, A: v, Name: t.Name})
			}
	case *Call:
		recv := b.expr(t.Receiver)
		args := b.exprs(t.Args)
		return func() ir.Operand {
				dst := b.newTemp()
				b.emit(ir.Instr{Op: ir.OpCall, Dst: dst, A: recv, Args: args, Name: t.Name, Site: b.site(), CallType: ir.CallNormal})
				return dst
			}, func(v ir.Operand) {
				setArgs := append(append([]ir.Operand(nil), args...), v)
				b.emit(ir.Instr{Op: ir.OpCall, Dst: b.newTemp(), A: recv, Args: setArgs, Name: t.Name + "=", Site: b.site(), CallType: ir.CallNormal})
			}
	}
	panic(fmt.Sprintf("compiler: %T is not assignable", target))
}

func (b *builder) VisitDefined(n *Defined) {
	describe := func(s string) { b.result = b.constant(ir.StringLiteral(s)) }
	check := func(kind ir.DefinedKind, name string, recv ir.Operand) {
		dst := b.newTemp()
		b.emit(ir.Instr{Op: ir.OpIsDefined, Dst: dst, A: recv, Name: name, Aux: int(kind)})
		b.result = dst
	}
	switch e := n.Expr.(type) {
	case *LocalVar:
		describe("local-variable")
	case *Self:
		describe("self")
	case *NilLit, *TrueLit, *FalseLit, *IntLit, *FloatLit, *StrLit, *SymLit:
		describe("expression")
	case *LocalAsgn, *InstAsgn, *GlobalAsgn, *ConstAsgn, *OpAsgnOr, *OpAsgnAnd:
		describe("assignment")
	case *InstVar:
		check(ir.DefinedIvar, e.Name, ir.None)
	case *GlobalVar:
		check(ir.DefinedGlobal, e.Name, ir.None)
	case *Const:
		check(ir.DefinedConst, e.Name, ir.None)
	case *VCall:
		check(ir.DefinedMethod, e.Name, ir.SelfRef())
	case *FCall:
		check(ir.DefinedMethod, e.Name, ir.SelfRef())
	case *Call:
		check(ir.DefinedMethod, e.Name, b.expr(e.Receiver))
	case *Yield:
		check(ir.DefinedYield, "", ir.None)
	case *Super, *ZSuper:
		check(ir.DefinedSuper, "", ir.None)
	case *BackRef:
		check(ir.DefinedBackref, "", ir.None)
	case *NthRef:
		dst := b.newTemp()
		b.emit(ir.Instr{Op: ir.OpIsDefined, Dst: dst, Aux: int(ir.DefinedBackref), Aux2: e.N})
		b.result = dst
	default:
		describe("expression")
	}
}

func (b *builder) VisitReturn(n *Return) {
	v := b.expr(n.Value)
	if b.scope.Kind == ir.ScopeBlock {
		b.emit(ir.Instr{Op: ir.OpNonLocalReturn, A: v})
	} else {
		b.unwind(0)
		b.emit(ir.Instr{Op: ir.OpReturn, A: v})
	}
	b.result = b.nilConst()
}

func (b *builder) VisitBreak(n *Break) {
	v := b.expr(n.Value)
	if l := b.loop(); l != nil {
		b.copyTo(l.result, v)
		b.unwind(l.regions)
		b.emit(ir.Instr{Op: ir.OpJump, Label: l.end})
	} else {
		b.emit(ir.Instr{Op: ir.OpBreak, A: v})
	}
	b.result = b.nilConst()
}

func (b *builder) VisitNext(n *Next) {
	v := b.expr(n.Value)
	if l := b.loop(); l != nil {
		b.unwind(l.regions)
		b.emit(ir.Instr{Op: ir.OpJump, Label: l.next})
	} else {
		b.unwind(0)
		b.emit(ir.Instr{Op: ir.OpReturn, A: v})
	}
	b.result = b.nilConst()
}

func (b *builder) VisitRetry(*Retry) {
	if len(b.retries) == 0 {
		msg := b.constant(ir.StringLiteral("retry outside of rescue clause"))
		b.emit(ir.Instr{Op: ir.OpCall, Dst: b.newTemp(), A: ir.SelfRef(), Args: []ir.Operand{msg}, Name: "raise", Site: b.site(), CallType: ir.CallFunctional})
		b.result = b.nilConst()
		return
	}
	r := b.retries[len(b.retries)-1]
	b.unwind(r.regions)
	b.emit(ir.Instr{Op: ir.OpClearError})
	b.emit(ir.Instr{Op: ir.OpJump, Label: r.label})
	b.result = b.nilConst()
}

func (b *builder) VisitSeq(n *Seq) {
	v := b.nilConst()
	for _, s := range n.Stmts {
		v = b.expr(s)
	}
	b.result = v
}

func (b *builder) VisitRescue(n *Rescue) {
	res := b.newTemp()
	retry, handler, end := b.newLabel(), b.newLabel(), b.newLabel()

	b.mark(retry)
	b.emit(ir.Instr{Op: ir.OpPushHandler, Label: handler, Aux: int(ir.HandlerRescue)})
	b.regions = append(b.regions, region{})
	v := b.expr(n.Body)
	b.regions = b.regions[:len(b.regions)-1]
	b.emit(ir.Instr{Op: ir.OpPopHandler})
	if n.Else != nil {
		v = b.expr(n.Else)
	}
	b.copyTo(res, v)
	b.emit(ir.Instr{Op: ir.OpJump, Label: end})

	b.mark(handler)
	errv := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetError, Dst: errv})
	b.retries = append(b.retries, retryCtx{label: retry, regions: len(b.regions)})
	for _, c := range n.Clauses {
		classes := b.exprs(c.Classes)
		match := b.newTemp()
		next := b.newLabel()
		b.emit(ir.Instr{Op: ir.OpRescueMatch, Dst: match, A: errv, Args: classes})
		b.emit(ir.Instr{Op: ir.OpBranchFalse, A: match, Label: next})
		if c.Target != nil {
			b.store(c.Target.Depth, c.Target.Index, errv)
		}
		b.copyTo(res, b.expr(c.Body))
		b.emit(ir.Instr{Op: ir.OpClearError})
		b.emit(ir.Instr{Op: ir.OpJump, Label: end})
		b.mark(next)
	}
	b.retries = b.retries[:len(b.retries)-1]
	b.emit(ir.Instr{Op: ir.OpRethrow, A: errv})
	b.mark(end)
	b.result = res
}

func (b *builder) VisitEnsure(n *Ensure) {
	res := b.newTemp()
	handler, end := b.newLabel(), b.newLabel()

	b.emit(ir.Instr{Op: ir.OpPushHandler, Label: handler, Aux: int(ir.HandlerEnsure)})
	b.regions = append(b.regions, region{ensure: n.Ensure})
	v := b.expr(n.Body)
	b.regions = b.regions[:len(b.regions)-1]
	b.copyTo(res, v)
	b.emit(ir.Instr{Op: ir.OpPopHandler})
	b.expr(n.Ensure)
	b.emit(ir.Instr{Op: ir.OpJump, Label: end})

	b.mark(handler)
	errv := b.newTemp()
	b.emit(ir.Instr{Op: ir.OpGetError, Dst: errv})
	b.expr(n.Ensure)
	b.emit(ir.Instr{Op: ir.OpRethrow, A: errv})
	b.mark(end)
	b.result = res
}

// --- definitions ---

func (b *builder) VisitMethodDef(n *MethodDef) {
	idx := len(b.scope.Defs)
	b.scope.Defs = append(b.scope.Defs, n)
	b.emit(ir.Instr{Op: ir.OpDefMethod, Name: n.Name, Aux: idx})
	b.result = b.constant(ir.SymbolLiteral(n.Name))
}

func (b *builder) VisitRoot(*Root) {
	panic("compiler: a Root node cannot be nested")
}
