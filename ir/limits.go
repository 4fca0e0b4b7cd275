package ir

import (
	"errors"
	"fmt"
)

// ErrNotCompilable is matched by every NotCompilableError.
var ErrNotCompilable = errors.New("not compilable")

// NotCompilableError reports a unit the native backend cannot take.
// It is a permanent verdict for the unit.
type NotCompilableError struct {
	Unit   string
	Reason string
}

func (e *NotCompilableError) Error() string {
	return fmt.Sprintf("%s: not compilable: %s", e.Unit, e.Reason)
}

func (e *NotCompilableError) Is(target error) bool { return target == ErrNotCompilable }

// Limits bounds the parameter shapes the native backend supports.
type Limits struct {
	MaxRequired int
	MaxOptional int
	AllowRest   bool
}

// DefaultLimits are the shapes supported by the closure backend.
var DefaultLimits = Limits{MaxRequired: 8, MaxOptional: 4, AllowRest: true}

// CheckSignature reports whether sig fits within l.
func (l Limits) CheckSignature(unit string, sig Signature) error {
	if len(sig.Required) > l.MaxRequired {
		return &NotCompilableError{Unit: unit, Reason: fmt.Sprintf("%d required parameters (max %d)", len(sig.Required), l.MaxRequired)}
	}
	if len(sig.Optional) > l.MaxOptional {
		return &NotCompilableError{Unit: unit, Reason: fmt.Sprintf("%d optional parameters (max %d)", len(sig.Optional), l.MaxOptional)}
	}
	if sig.Rest >= 0 && !l.AllowRest {
		return &NotCompilableError{Unit: unit, Reason: "rest parameter"}
	}
	if sig.Rest >= 0 && len(sig.Optional) > 0 && len(sig.Required)+len(sig.Optional) > l.MaxRequired {
		return &NotCompilableError{Unit: unit, Reason: "optional and rest parameters exceed positional budget"}
	}
	return nil
}

// CheckLowerable checks s and all its closures against l.
func CheckLowerable(s *Scope, l Limits) error {
	if err := l.CheckSignature(s.Name, s.Signature); err != nil {
		return err
	}
	for _, c := range s.Closures {
		if err := CheckLowerable(c, l); err != nil {
			return err
		}
	}
	return nil
}
