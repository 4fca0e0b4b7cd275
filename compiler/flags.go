package compiler

import "strings"

// Flags is the set of execution requirements computed for one unit of code.
type Flags uint32

const (
	FlagBlockArg     Flags = 1 << iota // declares an explicit &block parameter
	FlagClosure                        // contains a block literal
	FlagEval                           // may call eval or one of its relatives
	FlagFrameAware                     // calls a method that reads the caller's frame
	FlagScopeAware                     // calls a method that reads the caller's variables
	FlagOptArgs                        // has optional parameters
	FlagRestArg                        // has a rest parameter
	FlagBackref                        // reads $~ or $1..$9
	FlagLastline                       // reads $_
	FlagZSuper                         // bare super, forwards current arguments
	FlagSuper                          // explicit super(...)
	FlagYield                          // yields to the frame block
	FlagVisibility                     // toggles default visibility or defines methods
	FlagMethodDef                      // contains a nested def
	FlagNonLocalFlow                   // a loop contains a closure or eval

	flagCount = iota
)

// FlagsDisabled is the give-up value: every requirement is assumed.
const FlagsDisabled Flags = ^Flags(0)

var flagNames = [flagCount]string{
	"block-arg", "closure", "eval", "frame-aware", "scope-aware",
	"opt-args", "rest-arg", "backref", "lastline", "zsuper", "super",
	"yield", "visibility", "method-def", "non-local-flow",
}

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether at least one bit of mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

// Disabled reports whether analysis gave up on this unit.
func (f Flags) Disabled() bool { return f == FlagsDisabled }

// Merge ORs other into f. It never clears a bit.
func (f Flags) Merge(other Flags) Flags { return f | other }

const (
	frameMask = FlagFrameAware | FlagEval | FlagZSuper | FlagSuper |
		FlagBackref | FlagLastline | FlagYield | FlagVisibility | FlagBlockArg
	scopeMask = FlagClosure | FlagEval | FlagScopeAware | FlagZSuper
)

// NeedsFrame reports whether the unit must push a frame visible to callees.
func (f Flags) NeedsFrame() bool { return f.Any(frameMask) }

// NeedsScope reports whether the unit's variables must live on the heap.
func (f Flags) NeedsScope() bool { return f.Any(scopeMask) }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	if f.Disabled() {
		return "disabled"
	}
	var parts []string
	for i := 0; i < flagCount; i++ {
		if f&(1<<i) != 0 {
			parts = append(parts, flagNames[i])
		}
	}
	return strings.Join(parts, "|")
}

// Convention is the calling convention selected from a flag set. It decides
// how much ambient state a call materialises.
type Convention uint8

const (
	NoFrameNoScope Convention = iota
	FrameOnly
	ScopeOnly
	FrameAndScope
)

func (c Convention) String() string {
	switch c {
	case NoFrameNoScope:
		return "no-frame-no-scope"
	case FrameOnly:
		return "frame-only"
	case ScopeOnly:
		return "scope-only"
	case FrameAndScope:
		return "frame-and-scope"
	}
	return "unknown"
}

// HasFrame reports whether calls under c push a frame.
func (c Convention) HasFrame() bool { return c == FrameOnly || c == FrameAndScope }

// HasScope reports whether calls under c allocate a heap scope.
func (c Convention) HasScope() bool { return c == ScopeOnly || c == FrameAndScope }

// SelectConvention maps a flag set to its calling convention.
func SelectConvention(f Flags) Convention {
	switch frame, scope := f.NeedsFrame(), f.NeedsScope(); {
	case frame && scope:
		return FrameAndScope
	case frame:
		return FrameOnly
	case scope:
		return ScopeOnly
	default:
		return NoFrameNoScope
	}
}
