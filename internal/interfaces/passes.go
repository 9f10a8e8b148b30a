// File: internal/interfaces/passes.go
package interfaces

import (
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
)

// Pass is one structural check over an open filesystem. Passes make their
// repair decisions through run and report restarts with run.RequestRestart.
type Pass interface {
	// Name returns the banner printed before the pass runs
	Name() string

	// Run checks and repairs fs
	Run(run *repair.RunContext, fs Filesystem) error
}
