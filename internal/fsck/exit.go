// Package fsck drives a check: it validates the superblock and group
// descriptors, decides whether a check is needed, sequences the passes
// with restart-on-relocation, and classifies the outcome.
package fsck

import (
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/repair"
)

// ExitCode is the process exit status of a check.
type ExitCode int

const (
	ExitOK          ExitCode = 0
	ExitNonDestruct ExitCode = 1
	ExitReboot      ExitCode = 2
	ExitUncorrected ExitCode = 4
	ExitError       ExitCode = 8
	ExitUsage       ExitCode = 16
)

func (c ExitCode) String() string {
	switch c {
	case ExitOK:
		return "no errors"
	case ExitNonDestruct:
		return "errors corrected"
	case ExitReboot:
		return "errors corrected, reboot required"
	case ExitUncorrected:
		return "errors left uncorrected"
	case ExitError:
		return "operational error"
	case ExitUsage:
		return "usage error"
	default:
		return fmt.Sprintf("ExitCode(%d)", int(c))
	}
}

// Classify maps the final run state to an exit code. An invalid filesystem
// overrides any modification-based result.
func Classify(state repair.RunState, rootReadWrite bool) ExitCode {
	code := ExitOK
	if state.Modified {
		code = ExitNonDestruct
		if rootReadWrite {
			code = ExitReboot
		}
	}
	if !state.Valid {
		code = ExitUncorrected
	}
	return code
}
