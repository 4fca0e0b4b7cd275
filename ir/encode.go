package ir

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// Canonical encoding and content keys
// ---------------------------------------------------------------------------

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Key is the content key of a scope: the xxh3-128 hash of its canonical
// encoding. Two scopes with equal keys execute identically.
type Key [16]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool { return k == Key{} }

// ParseKey decodes a hex key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("ir: parse key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("ir: parse key: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

type wireOperand struct {
	_     struct{} `cbor:",toarray"`
	Kind  OperandKind
	Index int
	Depth int
}

type wireInstr struct {
	_        struct{} `cbor:",toarray"`
	Op       Opcode
	Dst      wireOperand
	A        wireOperand
	B        wireOperand
	Args     []wireOperand
	Name     string
	Label    int
	Site     int
	Closure  int
	CallType CallType
	Aux      int
	Aux2     int
}

type wireLiteral struct {
	_     struct{} `cbor:",toarray"`
	Kind  LiteralKind
	Int   int64
	Float float64
	Str   string
}

type wireScope struct {
	_         struct{} `cbor:",toarray"`
	Catalog   int
	Kind      ScopeKind
	Instrs    []wireInstr
	Consts    []wireLiteral
	Labels    []int
	NumTemps  int
	NumVars   int
	Depth     int
	Required  []int
	Optional  []int
	Rest      int
	Block     int
	PushFrame bool
	HeapScope bool
	Closures  []wireScope
}

func toWireOperand(o Operand) wireOperand {
	return wireOperand{Kind: o.Kind, Index: o.Index, Depth: o.Depth}
}

// toWire drops names, files and lines; they do not affect execution.
func toWire(s *Scope) wireScope {
	w := wireScope{
		Catalog:   CatalogVersion,
		Kind:      s.Kind,
		Instrs:    make([]wireInstr, len(s.Instrs)),
		Consts:    make([]wireLiteral, len(s.Consts)),
		Labels:    s.JumpTable(),
		NumTemps:  s.NumTemps,
		NumVars:   s.NumVars(),
		Depth:     s.Depth(),
		Required:  s.Signature.Required,
		Optional:  s.Signature.Optional,
		Rest:      s.Signature.Rest,
		Block:     s.Signature.Block,
		PushFrame: s.PushFrame,
		HeapScope: s.HeapScope,
		Closures:  make([]wireScope, len(s.Closures)),
	}
	for i, in := range s.Instrs {
		wi := wireInstr{
			Op:       in.Op,
			Dst:      toWireOperand(in.Dst),
			A:        toWireOperand(in.A),
			B:        toWireOperand(in.B),
			Name:     in.Name,
			Label:    in.Label,
			Site:     in.Site,
			Closure:  in.Closure,
			CallType: in.CallType,
			Aux:      in.Aux,
			Aux2:     in.Aux2,
		}
		for _, a := range in.Args {
			wi.Args = append(wi.Args, toWireOperand(a))
		}
		w.Instrs[i] = wi
	}
	for i, c := range s.Consts {
		w.Consts[i] = wireLiteral{Kind: c.Kind, Int: c.Int, Float: c.Float, Str: c.Str}
	}
	for i, c := range s.Closures {
		w.Closures[i] = toWire(c)
	}
	return w
}

// Encode returns the canonical CBOR encoding of s.
func Encode(s *Scope) ([]byte, error) {
	data, err := encMode.Marshal(toWire(s))
	if err != nil {
		return nil, fmt.Errorf("ir: encode %s: %w", s.Name, err)
	}
	return data, nil
}

// ContentKey hashes the canonical encoding of s.
func ContentKey(s *Scope) (Key, error) {
	data, err := Encode(s)
	if err != nil {
		return Key{}, err
	}
	return Key(xxh3.Hash128(data).Bytes()), nil
}
