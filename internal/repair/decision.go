// Package repair implements the repair decision policy: how a proposed
// corrective action is answered in each operating mode, and the run-wide
// state (modified/valid, relocation counters) that the answers drive.
package repair

import (
	"errors"
	"fmt"
)

// Mode is the operating mode, fixed for the whole run.
type Mode int

const (
	// ModeInteractive asks the operator about every repair.
	ModeInteractive Mode = iota
	// ModeUnattended ("preen") applies only repairs whose default is yes.
	ModeUnattended
	// ModeReadOnly never changes the filesystem.
	ModeReadOnly
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeUnattended:
		return "preen"
	case ModeReadOnly:
		return "read-only"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Decision is the answer to a proposed repair.
type Decision int

const (
	Skip Decision = iota
	Apply
	Abort
)

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Apply:
		return "apply"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// FatalError reports corruption the checker refuses to continue past. It
// is propagated to the command layer, which is the only place that exits.
type FatalError struct {
	Reason string
	Err    error
}

// Fatalf builds a FatalError from a formatted reason.
func Fatalf(format string, args ...any) *FatalError {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// WrapFatal marks err as fatal.
func WrapFatal(reason string, err error) *FatalError {
	return &FatalError{Reason: reason, Err: err}
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
