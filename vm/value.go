package vm

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value representation
// ---------------------------------------------------------------------------
//
// Values are plain Go values: nil, bool, int64 (fixnum), float64, string,
// Symbol, and pointers to the heap types below. Strings are immutable.
// Heap objects are not synchronized; sharing a mutable object between
// application goroutines without coordination is the program's problem.

// Value is any runtime value.
type Value = any

// Symbol is an interned name.
type Symbol string

// Array is a mutable ordered list.
type Array struct {
	Elems []Value
}

// NewArray wraps elems in an Array.
func NewArray(elems ...Value) *Array { return &Array{Elems: elems} }

// Hash is an insertion-ordered map. Keys must be comparable Go values;
// strings, numbers, symbols and object identities all are.
type Hash struct {
	keys  []Value
	vals  []Value
	index map[Value]int
}

// NewHash creates an empty hash.
func NewHash() *Hash { return &Hash{index: make(map[Value]int)} }

func (h *Hash) Get(k Value) (Value, bool) {
	i, ok := h.index[k]
	if !ok {
		return nil, false
	}
	return h.vals[i], true
}

func (h *Hash) Set(k, v Value) {
	if i, ok := h.index[k]; ok {
		h.vals[i] = v
		return
	}
	h.index[k] = len(h.keys)
	h.keys = append(h.keys, k)
	h.vals = append(h.vals, v)
}

// Delete removes k and returns its value.
func (h *Hash) Delete(k Value) (Value, bool) {
	i, ok := h.index[k]
	if !ok {
		return nil, false
	}
	v := h.vals[i]
	h.keys = append(h.keys[:i], h.keys[i+1:]...)
	h.vals = append(h.vals[:i], h.vals[i+1:]...)
	delete(h.index, k)
	for j := i; j < len(h.keys); j++ {
		h.index[h.keys[j]] = j
	}
	return v, true
}

func (h *Hash) Len() int { return len(h.keys) }

// Keys returns the keys in insertion order.
func (h *Hash) Keys() []Value { return append([]Value(nil), h.keys...) }

// Values returns the values in insertion order.
func (h *Hash) Values() []Value { return append([]Value(nil), h.vals...) }

// unset marks an instance variable slot that was never written.
type unset struct{}

// Object is an instance of a user or library class. Instance variables are
// stored by index into the class's field layout.
type Object struct {
	class *Class
	ivars []Value
}

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

func (o *Object) field(i int) (Value, bool) {
	if i >= len(o.ivars) {
		return nil, false
	}
	v := o.ivars[i]
	if _, ok := v.(unset); ok {
		return nil, false
	}
	return v, true
}

func (o *Object) setField(i int, v Value) {
	for len(o.ivars) <= i {
		o.ivars = append(o.ivars, unset{})
	}
	o.ivars[i] = v
}

// Ivar reads an instance variable by name; unset variables read as nil.
func (o *Object) Ivar(name string) Value {
	if i := o.class.Layout().Index(name); i >= 0 {
		v, _ := o.field(i)
		return v
	}
	return nil
}

// SetIvar writes an instance variable by name.
func (o *Object) SetIvar(name string, v Value) {
	o.setField(o.class.fieldIndex(name), v)
}

// Regexp is a compiled pattern.
type Regexp struct {
	Source string
	re     *regexp.Regexp
}

// MatchData is the result of a successful match.
type MatchData struct {
	Subject string
	Groups  []Value // whole match first; unmatched groups are nil
}

func (m *MatchData) Group(n int) Value {
	if m == nil || n < 0 || n >= len(m.Groups) {
		return nil
	}
	return m.Groups[n]
}

func newMatchData(subject string, loc []int) *MatchData {
	md := &MatchData{Subject: subject, Groups: make([]Value, len(loc)/2)}
	for i := range md.Groups {
		if loc[2*i] >= 0 {
			md.Groups[i] = subject[loc[2*i]:loc[2*i+1]]
		}
	}
	return md
}

// Truthy reports whether v counts as true in a condition.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	}
	return true
}

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// basicString renders values whose to_s does not dispatch.
func basicString(v Value) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", true
	case bool:
		return strconv.FormatBool(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return formatFloat(v), true
	case string:
		return v, true
	case Symbol:
		return string(v), true
	case *Class:
		return v.Name, true
	}
	return "", false
}

// basicInspect renders values whose inspect does not dispatch.
func basicInspect(v Value) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "nil", true
	case string:
		return strconv.Quote(v), true
	case Symbol:
		return ":" + string(v), true
	case *Regexp:
		return "/" + v.Source + "/", true
	case *MatchData:
		return fmt.Sprintf("#<MatchData %q>", v.Group(0)), true
	}
	return basicString(v)
}
