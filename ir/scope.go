package ir

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Literals (the constant pool)
// ---------------------------------------------------------------------------

// LiteralKind tags a constant-pool entry.
type LiteralKind uint8

const (
	LitNil LiteralKind = iota
	LitTrue
	LitFalse
	LitInt
	LitFloat
	LitString
	LitSymbol
)

// Literal is a compile-time constant.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Str   string
}

func IntLiteral(v int64) Literal     { return Literal{Kind: LitInt, Int: v} }
func FloatLiteral(v float64) Literal { return Literal{Kind: LitFloat, Float: v} }
func StringLiteral(s string) Literal { return Literal{Kind: LitString, Str: s} }
func SymbolLiteral(s string) Literal { return Literal{Kind: LitSymbol, Str: s} }

// LiteralKey is a comparable identity for a literal. Floats are keyed by
// bit pattern, so 0.0 and -0.0 are distinct constants.
type LiteralKey struct {
	Kind LiteralKind
	Bits uint64
	Str  string
}

// Key returns the identity used to share constant pool entries.
func (l Literal) Key() LiteralKey {
	k := LiteralKey{Kind: l.Kind, Str: l.Str}
	switch l.Kind {
	case LitInt:
		k.Bits = uint64(l.Int)
	case LitFloat:
		k.Bits = math.Float64bits(l.Float)
	}
	return k
}

// BoolLiteral returns the true or false literal.
func BoolLiteral(b bool) Literal {
	if b {
		return Literal{Kind: LitTrue}
	}
	return Literal{Kind: LitFalse}
}

func (l Literal) String() string {
	switch l.Kind {
	case LitNil:
		return "nil"
	case LitTrue:
		return "true"
	case LitFalse:
		return "false"
	case LitInt:
		return fmt.Sprint(l.Int)
	case LitFloat:
		return fmt.Sprint(l.Float)
	case LitString:
		return fmt.Sprintf("%q", l.Str)
	case LitSymbol:
		return ":" + l.Str
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Static scopes: an arena addressed by ScopeID
// ---------------------------------------------------------------------------

// ScopeID addresses a StaticScope within its ScopeTable.
type ScopeID int32

// NoScope is the parent of a root scope.
const NoScope ScopeID = -1

// StaticScope describes the variable storage of one lexical scope.
type StaticScope struct {
	ID     ScopeID
	Parent ScopeID
	Depth  int
	Names  []string
}

// NumVars is the slot count of the scope.
func (s *StaticScope) NumVars() int { return len(s.Names) }

// ScopeTable is the arena holding every static scope of one compilation.
// It is written while building and read-only afterwards.
type ScopeTable struct {
	scopes []StaticScope
}

// NewScopeTable creates an empty arena.
func NewScopeTable() *ScopeTable {
	return &ScopeTable{}
}

// Add appends a scope under parent and returns its id.
func (t *ScopeTable) Add(parent ScopeID, names []string) ScopeID {
	id := ScopeID(len(t.scopes))
	depth := 0
	if parent != NoScope {
		depth = t.Get(parent).Depth + 1
	}
	t.scopes = append(t.scopes, StaticScope{ID: id, Parent: parent, Depth: depth, Names: names})
	return id
}

// Get returns the scope with the given id.
func (t *ScopeTable) Get(id ScopeID) *StaticScope {
	if id < 0 || int(id) >= len(t.scopes) {
		panic(fmt.Sprintf("ir: scope id %d out of range (len=%d)", id, len(t.scopes)))
	}
	return &t.scopes[id]
}

// Ancestor walks depth parent links up from id. It returns NoScope when the
// chain is shorter than depth.
func (t *ScopeTable) Ancestor(id ScopeID, depth int) ScopeID {
	for ; depth > 0 && id != NoScope; depth-- {
		id = t.Get(id).Parent
	}
	return id
}

// Len returns the number of scopes in the arena.
func (t *ScopeTable) Len() int { return len(t.scopes) }

// ---------------------------------------------------------------------------
// Scope: one unit of IR
// ---------------------------------------------------------------------------

// ScopeKind says what kind of unit a Scope was built from.
type ScopeKind uint8

const (
	ScopeMethod ScopeKind = iota
	ScopeBlock
	ScopeTop
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeMethod:
		return "method"
	case ScopeBlock:
		return "block"
	case ScopeTop:
		return "top"
	}
	return "unknown"
}

// Signature is the parameter shape of a unit.
type Signature struct {
	Required []int // slots
	Optional []int // slots
	Rest     int   // slot or -1
	Block    int   // slot or -1
}

// MinArgs is the number of required positional arguments.
func (s Signature) MinArgs() int { return len(s.Required) }

// MaxArgs is the positional maximum, or -1 when a rest parameter is present.
func (s Signature) MaxArgs() int {
	if s.Rest >= 0 {
		return -1
	}
	return len(s.Required) + len(s.Optional)
}

// Scope is the IR of one method, block or top-level unit. Once built it is
// shared read-only by every execution tier.
type Scope struct {
	Kind ScopeKind
	Name string
	File string
	Line int

	Instrs   []Instr
	Consts   []Literal
	NumTemps int

	Table  *ScopeTable
	Static ScopeID

	Signature Signature
	Flags     uint32 // requirement flags the scope was built under

	// PushFrame and HeapScope are the calling convention.
	PushFrame bool
	HeapScope bool
	NoFrame   bool // __NOFRAME__ pragma seen

	NumSites      int
	NumFieldSites int
	NumConstSites int

	Closures []*Scope
	Defs     []any // nested method definitions, opaque to the IR

	// Folded lists the operators Optimize evaluated at build time. The
	// result is only valid while those operators keep their builtin meaning.
	Folded []Opcode

	labels  []int   // label -> instruction index
	targets [][]int // instruction index -> labels, built lazily
}

// StaticScope returns the descriptor of the scope's variables.
func (s *Scope) StaticScope() *StaticScope { return s.Table.Get(s.Static) }

// NumVars returns the variable slot count.
func (s *Scope) NumVars() int { return s.StaticScope().NumVars() }

// Depth returns the lexical nesting depth.
func (s *Scope) Depth() int { return s.StaticScope().Depth }

// Target returns the instruction index of label.
func (s *Scope) Target(label int) int {
	if label < 0 || label >= len(s.labels) {
		panic(fmt.Sprintf("ir: label %d out of range in %s", label, s.Name))
	}
	return s.labels[label]
}

// NumLabels returns the size of the jump table.
func (s *Scope) NumLabels() int { return len(s.labels) }

// JumpTable returns a copy of the label -> index table.
func (s *Scope) JumpTable() []int {
	out := make([]int, len(s.labels))
	copy(out, s.labels)
	return out
}

// SetJumpTable installs a label -> index table.
func (s *Scope) SetJumpTable(labels []int) {
	s.labels = labels
	s.targets = nil
}

// LabelsAt returns the labels that resolve to instruction index i.
func (s *Scope) LabelsAt(i int) []int {
	if s.targets == nil {
		targets := make([][]int, len(s.Instrs)+1)
		for l, idx := range s.labels {
			targets[idx] = append(targets[idx], l)
		}
		s.targets = targets
	}
	if i < 0 || i >= len(s.targets) {
		return nil
	}
	return s.targets[i]
}

// Size is the instruction count, the measure used for size ceilings.
func (s *Scope) Size() int { return len(s.Instrs) }

// TotalSize counts instructions of the scope and its closures.
func (s *Scope) TotalSize() int {
	n := len(s.Instrs)
	for _, c := range s.Closures {
		n += c.TotalSize()
	}
	return n
}

// Disassemble renders the scope for debugging.
func (s *Scope) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s:%d) temps=%d vars=%d frame=%v heap=%v\n",
		s.Kind, s.Name, s.File, s.Line, s.NumTemps, s.NumVars(), s.PushFrame, s.HeapScope)
	for i, c := range s.Consts {
		fmt.Fprintf(&sb, "  k%d = %s\n", i, c)
	}
	for i, in := range s.Instrs {
		for _, l := range s.LabelsAt(i) {
			fmt.Fprintf(&sb, "L%d:\n", l)
		}
		fmt.Fprintf(&sb, "  %04d %s\n", i, in)
	}
	for _, l := range s.LabelsAt(len(s.Instrs)) {
		fmt.Fprintf(&sb, "L%d:\n", l)
	}
	for i, c := range s.Closures {
		fmt.Fprintf(&sb, "closure c%d:\n", i)
		sb.WriteString(c.Disassemble())
	}
	return sb.String()
}
