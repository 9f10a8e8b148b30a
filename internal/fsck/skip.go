package fsck

import (
	"fmt"
	"io"
	"time"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// SkipOutcome is the result of the skip-check heuristic.
type SkipOutcome int

const (
	// CheckNeeded means the state is ambiguous and the check runs.
	CheckNeeded SkipOutcome = iota
	// CheckForced means a flag or an on-disk condition requires a check.
	CheckForced
	// CleanSkip means the filesystem is known clean and the run ends.
	CleanSkip
)

func (o SkipOutcome) String() string {
	switch o {
	case CheckNeeded:
		return "check needed"
	case CheckForced:
		return "check forced"
	case CleanSkip:
		return "clean"
	default:
		return fmt.Sprintf("SkipOutcome(%d)", int(o))
	}
}

// Reasons a check is forced by on-disk state.
const (
	ReasonErrors       = "contains a file system with errors"
	ReasonMaxMounts    = "has reached maximal mount count"
	ReasonCheckExpired = "has gone too long without being checked"
)

// SkipDecision is the outcome plus, for on-disk conditions, the reason.
type SkipDecision struct {
	Outcome SkipOutcome
	Reason  string
}

// ShouldForceCheck decides whether a full check is required. An explicit
// force or bad-block request always checks without a reason.
func ShouldForceCheck(fs interfaces.SuperblockAccessor, force, badBlocksRequested bool, now time.Time) SkipDecision {
	if force || badBlocksRequested {
		return SkipDecision{Outcome: CheckForced}
	}

	sb := fs.Superblock()
	switch {
	case sb.State.Has(types.StateError):
		return SkipDecision{Outcome: CheckForced, Reason: ReasonErrors}
	case sb.MaxMntCount > 0 && int32(sb.MntCount) >= int32(sb.MaxMntCount):
		return SkipDecision{Outcome: CheckForced, Reason: ReasonMaxMounts}
	case sb.CheckInterval != 0 && now.Unix() >= int64(sb.LastCheck)+int64(sb.CheckInterval):
		return SkipDecision{Outcome: CheckForced, Reason: ReasonCheckExpired}
	}

	if sb.State.Has(types.StateValid) {
		return SkipDecision{Outcome: CleanSkip}
	}
	return SkipDecision{Outcome: CheckNeeded}
}

// Report prints the line that goes with the decision, if any.
func (d SkipDecision) Report(out io.Writer, device string, sb *types.Superblock) {
	switch {
	case d.Outcome == CheckForced && d.Reason != "":
		fmt.Fprintf(out, "%s %s, check forced.\n", device, d.Reason)
	case d.Outcome == CleanSkip:
		fmt.Fprintf(out, "%s: clean, %d/%d files, %d/%d blocks\n", device,
			sb.UsedInodes(), sb.InodesCount, sb.UsedBlocks(), sb.BlocksCount)
	}
}
