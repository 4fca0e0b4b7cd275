package compiler

// ---------------------------------------------------------------------------
// Inspector: derives execution requirements from an AST
// ---------------------------------------------------------------------------

// Inspector computes the requirement Flags of one unit of code (a method
// body, a block body, or a top-level script). It never fails: when a
// construct defeats static reasoning the result is FlagsDisabled.
//
// An Inspector is not safe for concurrent use; create one per analysis.
type Inspector struct {
	// FullTrace forces FlagsDisabled. Traversal still runs so that
	// mandatory side effects (pragma detection, loop markers) happen.
	FullTrace bool

	flags   Flags
	noFrame bool
}

// NewInspector creates an inspector.
func NewInspector(fullTrace bool) *Inspector {
	return &Inspector{FullTrace: fullTrace}
}

// Analyze inspects node with a fresh inspector.
func Analyze(node Node, fullTrace bool) Flags {
	return NewInspector(fullTrace).Inspect(node)
}

// Inspect analyzes node as a unit. MethodDef, Iter and Root nodes are
// treated as the unit itself; any other node is analyzed as a body.
func (in *Inspector) Inspect(node Node) Flags {
	in.flags = 0
	in.noFrame = false
	if in.FullTrace {
		in.flags = FlagsDisabled
	}
	switch n := node.(type) {
	case *MethodDef:
		in.params(n.Params)
		in.visit(n.Body)
	case *Iter:
		in.params(n.Params)
		in.visit(n.Body)
	case *Root:
		in.visit(n.Body)
	default:
		in.visit(node)
	}
	return in.flags
}

// Flags returns the result of the last Inspect.
func (in *Inspector) Flags() Flags { return in.flags }

// NoFrame reports whether the last Inspect saw the __NOFRAME__ pragma.
func (in *Inspector) NoFrame() bool { return in.noFrame }

func (in *Inspector) set(f Flags) { in.flags |= f }

func (in *Inspector) disable() { in.flags = FlagsDisabled }

func (in *Inspector) visit(n Node) {
	if n == nil {
		return
	}
	n.Accept(in)
}

func (in *Inspector) visitAll(nodes []Node) {
	for _, n := range nodes {
		in.visit(n)
	}
}

func (in *Inspector) params(p *Params) {
	if p == nil {
		return
	}
	if len(p.Optional) > 0 {
		in.set(FlagOptArgs)
		for _, opt := range p.Optional {
			in.visit(opt.Default)
		}
	}
	if p.Rest >= 0 {
		in.set(FlagRestArg)
	}
	if p.Block >= 0 {
		in.set(FlagBlockArg)
	}
}

// callName applies the registry-driven flags for a call to name.
func (in *Inspector) callName(name string) {
	if FrameAwareMethods.Contains(name) {
		in.set(FlagFrameAware)
	}
	if ScopeAwareMethods.Contains(name) {
		in.set(FlagScopeAware)
	}
	if evalMethods[name] {
		in.set(FlagEval)
	}
	if visibilityMethods[name] {
		in.set(FlagVisibility)
	}
}

// subInspect analyzes nodes in an isolated child and returns its flags.
func (in *Inspector) subInspect(nodes ...Node) (Flags, bool) {
	child := &Inspector{}
	for _, n := range nodes {
		child.visit(n)
	}
	return child.flags, child.noFrame
}

func isLiteral(n Node) bool {
	switch n.(type) {
	case *IntLit, *FloatLit, *StrLit, *SymLit:
		return true
	}
	return false
}

// --- literals ---

func (in *Inspector) VisitIntLit(*IntLit)     {}
func (in *Inspector) VisitFloatLit(*FloatLit) {}
func (in *Inspector) VisitStrLit(*StrLit)     {}
func (in *Inspector) VisitDStr(n *DStr)       { in.visitAll(n.Parts) }
func (in *Inspector) VisitSymLit(*SymLit)     {}
func (in *Inspector) VisitNilLit(*NilLit)     {}
func (in *Inspector) VisitTrueLit(*TrueLit)   {}
func (in *Inspector) VisitFalseLit(*FalseLit) {}
func (in *Inspector) VisitSelf(*Self)         {}
func (in *Inspector) VisitArrayLit(n *ArrayLit) {
	in.visitAll(n.Elements)
}
func (in *Inspector) VisitHashLit(n *HashLit) { in.visitAll(n.Pairs) }

// --- variables ---

func (in *Inspector) VisitLocalVar(*LocalVar)       {}
func (in *Inspector) VisitLocalAsgn(n *LocalAsgn)   { in.visit(n.Value) }
func (in *Inspector) VisitInstVar(*InstVar)         {}
func (in *Inspector) VisitInstAsgn(n *InstAsgn)     { in.visit(n.Value) }
func (in *Inspector) VisitGlobalVar(*GlobalVar)     {}
func (in *Inspector) VisitGlobalAsgn(n *GlobalAsgn) { in.visit(n.Value) }
func (in *Inspector) VisitConst(*Const)             {}
func (in *Inspector) VisitConstAsgn(n *ConstAsgn)   { in.visit(n.Value) }
func (in *Inspector) VisitBackRef(*BackRef)         { in.set(FlagBackref) }
func (in *Inspector) VisitNthRef(*NthRef)           { in.set(FlagBackref) }
func (in *Inspector) VisitLastLine(*LastLine)       { in.set(FlagLastline) }

// --- calls ---

func (in *Inspector) VisitCall(n *Call) {
	// 5.succ and friends can never touch the frame or scope.
	if len(n.Args) == 0 && n.Block == nil && isLiteral(n.Receiver) {
		return
	}
	in.visit(n.Receiver)
	in.visitAll(n.Args)
	in.visit(n.Block)
	in.callName(n.Name)
}

func (in *Inspector) VisitFCall(n *FCall) {
	in.visitAll(n.Args)
	in.visit(n.Block)
	in.callName(n.Name)
}

func (in *Inspector) VisitVCall(n *VCall) {
	if n.Name == NoFramePragma {
		in.noFrame = true
		return
	}
	in.callName(n.Name)
}

func (in *Inspector) VisitSuper(n *Super) {
	in.set(FlagSuper)
	in.visitAll(n.Args)
	in.visit(n.Block)
}

func (in *Inspector) VisitZSuper(n *ZSuper) {
	in.set(FlagZSuper)
	in.visit(n.Block)
}

func (in *Inspector) VisitYield(n *Yield) {
	in.set(FlagYield)
	in.visitAll(n.Args)
}

func (in *Inspector) VisitBlockPass(n *BlockPass) { in.visit(n.Value) }

func (in *Inspector) VisitIter(n *Iter) {
	in.set(FlagClosure)
	in.params(n.Params)
	in.visit(n.Body)
}

// --- control flow ---

func (in *Inspector) VisitIf(n *If) {
	in.visit(n.Cond)
	in.visit(n.Then)
	in.visit(n.Else)
}

func (in *Inspector) VisitWhile(n *While) {
	sub, noFrame := in.subInspect(n.Cond, n.Body)
	if sub.Any(FlagClosure | FlagEval) {
		n.NonLocalFlow = true
		in.set(FlagNonLocalFlow)
	}
	if noFrame {
		in.noFrame = true
	}
	in.flags = in.flags.Merge(sub)
}

func (in *Inspector) VisitAnd(n *And) {
	in.visit(n.Left)
	in.visit(n.Right)
}

func (in *Inspector) VisitOr(n *Or) {
	in.visit(n.Left)
	in.visit(n.Right)
}

func (in *Inspector) VisitNot(n *Not) { in.visit(n.Value) }

func (in *Inspector) VisitOpAsgnOr(n *OpAsgnOr) { in.opAsgn(n.Target, n.Value) }

func (in *Inspector) VisitOpAsgnAnd(n *OpAsgnAnd) { in.opAsgn(n.Target, n.Value) }

func (in *Inspector) opAsgn(target, value Node) {
	switch target.(type) {
	case *LocalAsgn, *InstAsgn, *GlobalAsgn, *ConstAsgn:
	default:
		in.disable()
	}
	in.visit(value)
}

func (in *Inspector) VisitDefined(n *Defined) {
	switch e := n.Expr.(type) {
	case *LocalVar, *InstVar, *GlobalVar, *Const, *Self,
		*NilLit, *TrueLit, *FalseLit, *IntLit, *FloatLit, *StrLit, *SymLit:
	case *BackRef, *NthRef:
		in.set(FlagBackref)
	case *VCall:
		in.visit(e)
	case *FCall:
		in.visitAll(e.Args)
		in.callName(e.Name)
	case *Call:
		in.visit(e.Receiver)
		in.visitAll(e.Args)
		in.callName(e.Name)
	case *Yield:
		in.set(FlagYield)
	case *Super:
		in.set(FlagSuper)
	case *ZSuper:
		in.set(FlagZSuper)
	default:
		in.disable()
		in.visit(n.Expr)
	}
}

func (in *Inspector) VisitReturn(n *Return) { in.visit(n.Value) }
func (in *Inspector) VisitBreak(n *Break)   { in.visit(n.Value) }
func (in *Inspector) VisitNext(n *Next)     { in.visit(n.Value) }
func (in *Inspector) VisitRetry(*Retry)     {}
func (in *Inspector) VisitSeq(n *Seq)       { in.visitAll(n.Stmts) }

func (in *Inspector) VisitRescue(n *Rescue) {
	in.disable()
	in.visit(n.Body)
	for _, c := range n.Clauses {
		in.visitAll(c.Classes)
		in.visit(c.Body)
	}
	in.visit(n.Else)
}

func (in *Inspector) VisitEnsure(n *Ensure) {
	in.disable()
	in.visit(n.Body)
	in.visit(n.Ensure)
}

// --- definitions ---

// A nested def is its own unit; only the definition itself is observed.
func (in *Inspector) VisitMethodDef(*MethodDef) {
	in.set(FlagMethodDef | FlagVisibility)
}

func (in *Inspector) VisitRoot(n *Root) { in.visit(n.Body) }
