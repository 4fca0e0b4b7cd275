package compiler

// ---------------------------------------------------------------------------
// AST: the parsed-program tree consumed by the inspector and IR builder
// ---------------------------------------------------------------------------
//
// The parser that produces these nodes lives outside this module. Every node
// kind implements Accept, and Visitor has one method per kind, so adding a
// node kind breaks compilation of every pass that does not handle it.

// Node is the interface implemented by all AST nodes.
type Node interface {
	Line() int
	Accept(v Visitor)
	node() // marker method
}

// Loc carries the source line of a node.
type Loc struct {
	LineNo int
}

func (l Loc) Line() int { return l.LineNo }
func (Loc) node()       {}

// Visitor is implemented by every pass over the AST.
type Visitor interface {
	VisitIntLit(n *IntLit)
	VisitFloatLit(n *FloatLit)
	VisitStrLit(n *StrLit)
	VisitDStr(n *DStr)
	VisitSymLit(n *SymLit)
	VisitNilLit(n *NilLit)
	VisitTrueLit(n *TrueLit)
	VisitFalseLit(n *FalseLit)
	VisitSelf(n *Self)
	VisitArrayLit(n *ArrayLit)
	VisitHashLit(n *HashLit)

	VisitLocalVar(n *LocalVar)
	VisitLocalAsgn(n *LocalAsgn)
	VisitInstVar(n *InstVar)
	VisitInstAsgn(n *InstAsgn)
	VisitGlobalVar(n *GlobalVar)
	VisitGlobalAsgn(n *GlobalAsgn)
	VisitConst(n *Const)
	VisitConstAsgn(n *ConstAsgn)
	VisitBackRef(n *BackRef)
	VisitNthRef(n *NthRef)
	VisitLastLine(n *LastLine)

	VisitCall(n *Call)
	VisitFCall(n *FCall)
	VisitVCall(n *VCall)
	VisitSuper(n *Super)
	VisitZSuper(n *ZSuper)
	VisitYield(n *Yield)
	VisitBlockPass(n *BlockPass)
	VisitIter(n *Iter)

	VisitIf(n *If)
	VisitWhile(n *While)
	VisitAnd(n *And)
	VisitOr(n *Or)
	VisitNot(n *Not)
	VisitOpAsgnOr(n *OpAsgnOr)
	VisitOpAsgnAnd(n *OpAsgnAnd)
	VisitDefined(n *Defined)
	VisitReturn(n *Return)
	VisitBreak(n *Break)
	VisitNext(n *Next)
	VisitRetry(n *Retry)
	VisitSeq(n *Seq)
	VisitRescue(n *Rescue)
	VisitEnsure(n *Ensure)

	VisitMethodDef(n *MethodDef)
	VisitRoot(n *Root)
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// IntLit is an integer literal.
type IntLit struct {
	Loc
	Value int64
}

func (n *IntLit) Accept(v Visitor) { v.VisitIntLit(n) }

// FloatLit is a floating-point literal.
type FloatLit struct {
	Loc
	Value float64
}

func (n *FloatLit) Accept(v Visitor) { v.VisitFloatLit(n) }

// StrLit is a string literal without interpolation.
type StrLit struct {
	Loc
	Value string
}

func (n *StrLit) Accept(v Visitor) { v.VisitStrLit(n) }

// DStr is an interpolated string; each part is converted with to_s.
type DStr struct {
	Loc
	Parts []Node
}

func (n *DStr) Accept(v Visitor) { v.VisitDStr(n) }

// SymLit is a symbol literal (:foo).
type SymLit struct {
	Loc
	Name string
}

func (n *SymLit) Accept(v Visitor) { v.VisitSymLit(n) }

type NilLit struct{ Loc }

func (n *NilLit) Accept(v Visitor) { v.VisitNilLit(n) }

type TrueLit struct{ Loc }

func (n *TrueLit) Accept(v Visitor) { v.VisitTrueLit(n) }

type FalseLit struct{ Loc }

func (n *FalseLit) Accept(v Visitor) { v.VisitFalseLit(n) }

// Self is the receiver of the current method.
type Self struct{ Loc }

func (n *Self) Accept(v Visitor) { v.VisitSelf(n) }

// ArrayLit is [a, b, c].
type ArrayLit struct {
	Loc
	Elements []Node
}

func (n *ArrayLit) Accept(v Visitor) { v.VisitArrayLit(n) }

// HashLit is {k => v}. Pairs holds keys and values interleaved.
type HashLit struct {
	Loc
	Pairs []Node
}

func (n *HashLit) Accept(v Visitor) { v.VisitHashLit(n) }

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// LocalVar reads a lexical variable. Depth counts enclosing scopes to walk
// up; Index is the slot within that scope. Both are resolved by the parser.
type LocalVar struct {
	Loc
	Name  string
	Depth int
	Index int
}

func (n *LocalVar) Accept(v Visitor) { v.VisitLocalVar(n) }

// LocalAsgn writes a lexical variable.
type LocalAsgn struct {
	Loc
	Name  string
	Depth int
	Index int
	Value Node
}

func (n *LocalAsgn) Accept(v Visitor) { v.VisitLocalAsgn(n) }

// InstVar reads @name on self.
type InstVar struct {
	Loc
	Name string
}

func (n *InstVar) Accept(v Visitor) { v.VisitInstVar(n) }

// InstAsgn writes @name on self.
type InstAsgn struct {
	Loc
	Name  string
	Value Node
}

func (n *InstAsgn) Accept(v Visitor) { v.VisitInstAsgn(n) }

// GlobalVar reads $name.
type GlobalVar struct {
	Loc
	Name string
}

func (n *GlobalVar) Accept(v Visitor) { v.VisitGlobalVar(n) }

// GlobalAsgn writes $name.
type GlobalAsgn struct {
	Loc
	Name  string
	Value Node
}

func (n *GlobalAsgn) Accept(v Visitor) { v.VisitGlobalAsgn(n) }

// Const reads a constant.
type Const struct {
	Loc
	Name string
}

func (n *Const) Accept(v Visitor) { v.VisitConst(n) }

// ConstAsgn assigns a constant.
type ConstAsgn struct {
	Loc
	Name  string
	Value Node
}

func (n *ConstAsgn) Accept(v Visitor) { v.VisitConstAsgn(n) }

// BackRef reads the last match ($~).
type BackRef struct{ Loc }

func (n *BackRef) Accept(v Visitor) { v.VisitBackRef(n) }

// NthRef reads a group of the last match ($1, $2, ...).
type NthRef struct {
	Loc
	N int
}

func (n *NthRef) Accept(v Visitor) { v.VisitNthRef(n) }

// LastLine reads $_.
type LastLine struct{ Loc }

func (n *LastLine) Accept(v Visitor) { v.VisitLastLine(n) }

// ---------------------------------------------------------------------------
// Calls and closures
// ---------------------------------------------------------------------------

// Call is a call with an explicit receiver (recv.name(args) { block }).
// Block is nil, an *Iter, or a *BlockPass.
type Call struct {
	Loc
	Receiver Node
	Name     string
	Args     []Node
	Block    Node
}

func (n *Call) Accept(v Visitor) { v.VisitCall(n) }

// FCall is a receiverless call with arguments or parentheses (name(args)).
type FCall struct {
	Loc
	Name  string
	Args  []Node
	Block Node
}

func (n *FCall) Accept(v Visitor) { v.VisitFCall(n) }

// VCall is a bare identifier that could be a variable or a call.
type VCall struct {
	Loc
	Name string
}

func (n *VCall) Accept(v Visitor) { v.VisitVCall(n) }

// Super is super(args).
type Super struct {
	Loc
	Args  []Node
	Block Node
}

func (n *Super) Accept(v Visitor) { v.VisitSuper(n) }

// ZSuper is a bare super that forwards the current arguments.
type ZSuper struct {
	Loc
	Block Node
}

func (n *ZSuper) Accept(v Visitor) { v.VisitZSuper(n) }

// Yield calls the block passed to the current method.
type Yield struct {
	Loc
	Args []Node
}

func (n *Yield) Accept(v Visitor) { v.VisitYield(n) }

// BlockPass passes a value as the block argument (&blk).
type BlockPass struct {
	Loc
	Value Node
}

func (n *BlockPass) Accept(v Visitor) { v.VisitBlockPass(n) }

// Iter is a block literal. It opens a new lexical scope.
type Iter struct {
	Loc
	Params     *Params
	Body       Node
	LocalNames []string // slot names of the block scope, params first
}

func (n *Iter) Accept(v Visitor) { v.VisitIter(n) }

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// If is if/unless/ternary. Then or Else may be nil.
type If struct {
	Loc
	Cond Node
	Then Node
	Else Node
}

func (n *If) Accept(v Visitor) { v.VisitIf(n) }

// While is while/until. Until is expressed by wrapping Cond in Not.
// DoWhile runs the body once before the first test.
type While struct {
	Loc
	Cond    Node
	Body    Node
	DoWhile bool

	// NonLocalFlow is set by the inspector when the loop contains a closure
	// or eval that can break or return through it.
	NonLocalFlow bool
}

func (n *While) Accept(v Visitor) { v.VisitWhile(n) }

type And struct {
	Loc
	Left, Right Node
}

func (n *And) Accept(v Visitor) { v.VisitAnd(n) }

type Or struct {
	Loc
	Left, Right Node
}

func (n *Or) Accept(v Visitor) { v.VisitOr(n) }

type Not struct {
	Loc
	Value Node
}

func (n *Not) Accept(v Visitor) { v.VisitNot(n) }

// OpAsgnOr is target ||= value. Target is the assignment node whose Value
// is ignored; Value is the right-hand side.
type OpAsgnOr struct {
	Loc
	Target Node
	Value  Node
}

func (n *OpAsgnOr) Accept(v Visitor) { v.VisitOpAsgnOr(n) }

// OpAsgnAnd is target &&= value.
type OpAsgnAnd struct {
	Loc
	Target Node
	Value  Node
}

func (n *OpAsgnAnd) Accept(v Visitor) { v.VisitOpAsgnAnd(n) }

// Defined is defined?(expr).
type Defined struct {
	Loc
	Expr Node
}

func (n *Defined) Accept(v Visitor) { v.VisitDefined(n) }

// Return returns from the enclosing method, even inside a block.
type Return struct {
	Loc
	Value Node
}

func (n *Return) Accept(v Visitor) { v.VisitReturn(n) }

// Break leaves the innermost loop, or the call that yielded to a block.
type Break struct {
	Loc
	Value Node
}

func (n *Break) Accept(v Visitor) { v.VisitBreak(n) }

// Next continues the innermost loop, or returns from a block.
type Next struct {
	Loc
	Value Node
}

func (n *Next) Accept(v Visitor) { v.VisitNext(n) }

// Retry restarts the begin body from a rescue clause.
type Retry struct{ Loc }

func (n *Retry) Accept(v Visitor) { v.VisitRetry(n) }

// Seq is a statement sequence; its value is the last statement's.
type Seq struct {
	Loc
	Stmts []Node
}

func (n *Seq) Accept(v Visitor) { v.VisitSeq(n) }

// RescueClause is one `rescue Classes => var` arm.
type RescueClause struct {
	Classes []Node     // empty means StandardError
	Target  *LocalAsgn // optional; Value is ignored
	Body    Node
}

// Rescue is begin/rescue/else/end.
type Rescue struct {
	Loc
	Body    Node
	Clauses []RescueClause
	Else    Node
}

func (n *Rescue) Accept(v Visitor) { v.VisitRescue(n) }

// Ensure is begin/ensure/end; Body may itself be a *Rescue.
type Ensure struct {
	Loc
	Body   Node
	Ensure Node
}

func (n *Ensure) Accept(v Visitor) { v.VisitEnsure(n) }

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// OptParam is an optional parameter with its default expression.
type OptParam struct {
	Slot    int
	Default Node
}

// Params describes a parameter list. Slots refer to the owning scope.
type Params struct {
	Required []int
	Optional []OptParam
	Rest     int // -1 if absent
	Block    int // -1 if absent
}

// NoParams returns an empty parameter list.
func NoParams() *Params {
	return &Params{Rest: -1, Block: -1}
}

// MethodDef is def name(params) body end. It opens a new lexical scope.
type MethodDef struct {
	Loc
	Name       string
	Params     *Params
	Body       Node
	LocalNames []string
	File       string
}

func (n *MethodDef) Accept(v Visitor) { v.VisitMethodDef(n) }

// Root is a top-level compilation unit.
type Root struct {
	Loc
	Body       Node
	LocalNames []string
	File       string
}

func (n *Root) Accept(v Visitor) { v.VisitRoot(n) }
