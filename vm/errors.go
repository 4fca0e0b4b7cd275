package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

var (
	// ErrSizeLimit rejects a unit whose IR exceeds the size ceiling.
	ErrSizeLimit = errors.New("unit exceeds the compile size ceiling")

	// ErrExcluded is returned by Submit for units matched by an exclusion.
	ErrExcluded = errors.New("unit excluded from compilation")

	// ErrLoaderUsed is returned when a CodeLoader is asked to link twice.
	ErrLoaderUsed = errors.New("code loader already used")

	// ErrQueueFull is returned by Submit when the task queue has no room.
	ErrQueueFull = errors.New("compile queue full")

	// ErrNotRunning is returned by Submit when the compiler is stopped.
	ErrNotRunning = errors.New("background compiler not running")

	// ErrKnownFailure rejects a body whose content key is in the ledger.
	ErrKnownFailure = errors.New("body previously failed to compile")
)

// RaiseError carries a raised exception object through Go error returns.
type RaiseError struct {
	Exception *Object
}

func (e *RaiseError) Error() string {
	msg, _ := e.Exception.Ivar("@message").(string)
	if msg == "" {
		return e.Exception.class.Name
	}
	return fmt.Sprintf("%s: %s", e.Exception.class.Name, msg)
}

// Message returns the exception's message.
func (e *RaiseError) Message() string {
	msg, _ := e.Exception.Ivar("@message").(string)
	return msg
}

// SignalKind distinguishes the control signals.
type SignalKind uint8

const (
	// SignalBreak leaves the call that received the block.
	SignalBreak SignalKind = iota
	// SignalReturn returns from the method that lexically encloses a block.
	SignalReturn
)

func (k SignalKind) String() string {
	if k == SignalBreak {
		return "break"
	}
	return "return"
}

// ControlSignal is non-local control flow travelling through Go error
// returns. Target identifies who catches it: the *Proc a break leaves, or
// the method activation a return leaves.
type ControlSignal struct {
	Kind   SignalKind
	Value  Value
	Target any
}

func (s *ControlSignal) Error() string {
	return fmt.Sprintf("unexpected %s", s.Kind)
}

// IsRaise reports whether err is a raised exception.
func IsRaise(err error) bool {
	var re *RaiseError
	return errors.As(err, &re)
}

// errorValue converts an error caught by a handler to the value get_error
// yields: the exception object or the control signal itself.
func errorValue(err error) Value {
	var re *RaiseError
	if errors.As(err, &re) {
		return re.Exception
	}
	var sig *ControlSignal
	if errors.As(err, &sig) {
		return sig
	}
	return err
}

// valueError is the inverse of errorValue, used by rethrow.
func valueError(v Value) error {
	switch v := v.(type) {
	case *Object:
		return &RaiseError{Exception: v}
	case *ControlSignal:
		return v
	case error:
		return v
	}
	return fmt.Errorf("rethrow of non-error value %T", v)
}
