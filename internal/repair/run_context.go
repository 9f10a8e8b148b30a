package repair

import (
	"fmt"
	"io"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// RunState records whether any repair was applied and whether the
// filesystem is currently free of known uncorrected problems.
type RunState struct {
	Modified bool
	Valid    bool
}

// RunContext carries the run-wide mutable state through the validator,
// the orchestrator and the passes.
type RunContext struct {
	Mode       Mode
	Operator   Operator
	Out        io.Writer
	DeviceName string

	State RunState

	// Relocations is replaced on every open
	Relocations *RelocationFlags

	// Stats is replaced on every open and reported after the last one
	Stats *types.CheckStatistics

	restartRequested bool
	relocateHinted   bool
	preenHalted      bool
}

// NewRunContext creates the context for one checker run.
func NewRunContext(mode Mode, op Operator, out io.Writer, deviceName string) *RunContext {
	if op == nil {
		op = AlwaysDefault{}
	}
	return &RunContext{
		Mode:        mode,
		Operator:    op,
		Out:         out,
		DeviceName:  deviceName,
		State:       RunState{Valid: true},
		Relocations: NewRelocationFlags(0),
		Stats:       &types.CheckStatistics{},
	}
}

// BeginOpen resets the per-open state after the filesystem was (re)opened.
// Modified survives, so repairs made before a restart are still reported.
func (r *RunContext) BeginOpen(groups uint32) {
	r.Relocations = NewRelocationFlags(groups)
	r.Stats = &types.CheckStatistics{}
	r.State.Valid = true
	r.restartRequested = false
}

// ReadOnly reports whether mutations are forbidden.
func (r *RunContext) ReadOnly() bool {
	return r.Mode == ModeReadOnly
}

// Printf writes operator output.
func (r *RunContext) Printf(format string, args ...any) {
	fmt.Fprintf(r.Out, format, args...)
}

// MarkInvalid records an uncorrected problem.
func (r *RunContext) MarkInvalid() {
	r.State.Valid = false
}

// MarkModified records an applied repair.
func (r *RunContext) MarkModified() {
	r.State.Modified = true
}

// Ask decides whether to apply the repair described by question.
//
// Read-only runs never offer the repair: the answer is printed as "no",
// the filesystem is marked invalid and Skip returned. Every Apply marks
// the run modified.
func (r *RunContext) Ask(question string, defaultYes bool) Decision {
	var d Decision
	switch r.Mode {
	case ModeReadOnly:
		r.Printf("%s? no\n\n", question)
		r.MarkInvalid()
		return Skip
	case ModeUnattended:
		d = AlwaysDefault{}.Confirm(r.Out, question, defaultYes)
	default:
		d = r.Operator.Confirm(r.Out, question, defaultYes)
	}
	if d == Apply {
		r.MarkModified()
	}
	return d
}

// Fix asks about a repair that may be declined without stopping the run.
// A declined repair marks the filesystem invalid. Abort becomes fatal.
func (r *RunContext) Fix(question string, defaultYes bool) (bool, error) {
	switch r.Ask(question, defaultYes) {
	case Apply:
		return true, nil
	case Abort:
		return false, Fatalf("aborted")
	default:
		r.MarkInvalid()
		return false, nil
	}
}

// AskFatal offers to abort the run, defaulting to abort. Unattended runs
// abort without asking; read-only runs answer no like any other question.
// If the run continues, the filesystem is marked invalid.
func (r *RunContext) AskFatal(question string) error {
	switch r.Mode {
	case ModeUnattended:
		return Fatalf("%s", question)
	case ModeReadOnly:
		r.Printf("%s? no\n\n", question)
		r.MarkInvalid()
		return nil
	}
	if r.Operator.Confirm(r.Out, question, true) == Skip {
		r.MarkInvalid()
		return nil
	}
	return Fatalf("%s", question)
}

// PreenHalt prints the unexpected-inconsistency banner in unattended mode.
// The banner is printed once per run.
func (r *RunContext) PreenHalt() {
	if r.Mode != ModeUnattended || r.preenHalted {
		return
	}
	r.preenHalted = true
	r.Printf("\n\n%s: UNEXPECTED INCONSISTENCY; RUN fsck MANUALLY.\n\t(i.e., without -a or -p options)\n", r.DeviceName)
}

// RelocateHintOnce reports true the first time it is called in a run.
func (r *RunContext) RelocateHintOnce() bool {
	if r.relocateHinted {
		return false
	}
	r.relocateHinted = true
	return true
}

// RequestRestart asks the orchestrator to close and reopen the filesystem
// once the current pass returns.
func (r *RunContext) RequestRestart() {
	r.restartRequested = true
}

// RestartRequested reports whether a pass asked for a restart.
func (r *RunContext) RestartRequested() bool {
	return r.restartRequested
}
