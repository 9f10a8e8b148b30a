package fsck

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
	"github.com/deploymenttheory/go-e2fsck/pkg/app"
)

// DefaultMaxRestarts bounds consecutive relocation-triggered restarts.
const DefaultMaxRestarts = 3

// State is a checker state.
type State int

const (
	StateOpened State = iota
	StateValidated
	StatePass1
	StateRestarting
	StatePass2
	StatePass3
	StatePass4
	StatePass5
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "Opened"
	case StateValidated:
		return "Validated"
	case StatePass1:
		return "Pass1"
	case StateRestarting:
		return "Restarting"
	case StatePass2:
		return "Pass2"
	case StatePass3:
		return "Pass3"
	case StatePass4:
		return "Pass4"
	case StatePass5:
		return "Pass5"
	case StateFinalized:
		return "Finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Opener opens the filesystem from scratch. It is called once per
// (re)start and must hand back a fresh, exclusively owned handle.
type Opener func() (interfaces.Filesystem, error)

// PassFactory builds the five passes for one open. A new set is built
// after every restart so no pass state carries over.
type PassFactory func() []interfaces.Pass

// Options configure a Checker.
type Options struct {
	// Force checks even a clean filesystem (-f)
	Force bool

	// BadBlocks runs after validation on every open (-c, -l, -L). Its
	// presence also forces the check.
	BadBlocks interfaces.Pass

	// RootReadWrite is set when the device is the root filesystem mounted
	// read-write
	RootReadWrite bool

	MaxRestarts int
	Verbose     bool

	// Now returns the wall clock time; defaults to time.Now
	Now func() time.Time

	// OnState is called on every state transition
	OnState func(State)
}

// Result is the outcome of a completed run.
type Result struct {
	Exit     ExitCode
	Skipped  bool
	Restarts int
	Stats    *types.CheckStatistics
}

// Checker sequences validation, the skip heuristic and the passes for one
// device.
type Checker struct {
	app       *app.Context
	run       *repair.RunContext
	open      Opener
	passes    PassFactory
	validator *Validator
	opts      Options

	state         State
	restarts      int
	totalRestarts int
	lastSignature string
}

// NewChecker creates a checker
func NewChecker(appCtx *app.Context, run *repair.RunContext, open Opener, passes PassFactory, opts Options) *Checker {
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = DefaultMaxRestarts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{
		app:       appCtx,
		run:       run,
		open:      open,
		passes:    passes,
		validator: NewValidator(),
		opts:      opts,
	}
}

// State returns the current state
func (c *Checker) State() State {
	return c.state
}

func (c *Checker) setState(s State) {
	klog.V(3).InfoS("Checker state", "device", c.run.DeviceName, "from", c.state.String(), "to", s.String())
	c.state = s
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Run executes the check. Open errors are returned as is; corruption the
// checker refuses to continue past is returned as a *repair.FatalError.
// Either way nothing is written back.
func (c *Checker) Run() (Result, error) {
	first := true
	for {
		c.setState(StateOpened)
		fs, err := c.open()
		if err != nil {
			return Result{}, err
		}
		c.run.BeginOpen(fs.GroupCount())
		// A handle that is dirty straight after opening already carries a
		// rewrite, such as the primary superblock restored from a backup.
		if fs.IsDirty() && !c.run.ReadOnly() {
			c.run.MarkModified()
		}

		res, restart, err := c.check(fs, first)
		first = false
		if err != nil {
			if abortErr := fs.Abort(); abortErr != nil {
				klog.ErrorS(abortErr, "Releasing device after failure", "device", c.run.DeviceName)
			}
			return Result{}, err
		}
		if !restart {
			return res, nil
		}

		c.setState(StateRestarting)
		if err := fs.Close(); err != nil {
			return Result{}, fmt.Errorf("closing %s for restart: %w", c.run.DeviceName, err)
		}
		c.run.Printf("Restarting e2fsck from the beginning...\n")
	}
}

// check runs one open of the state machine. It reports restart when pass 1
// left relocated metadata behind.
func (c *Checker) check(fs interfaces.Filesystem, first bool) (Result, bool, error) {
	if err := c.validator.Validate(fs, c.run); err != nil {
		return Result{}, false, err
	}
	c.setState(StateValidated)

	if first {
		force := c.opts.Force || c.run.Relocations.Any()
		decision := ShouldForceCheck(fs, force, c.opts.BadBlocks != nil, c.opts.Now())
		decision.Report(c.run.Out, c.run.DeviceName, fs.Superblock())
		klog.V(2).InfoS("Skip heuristic", "device", c.run.DeviceName, "outcome", decision.Outcome.String())
		if decision.Outcome == CleanSkip {
			if err := fs.Abort(); err != nil {
				return Result{}, false, err
			}
			return Result{Exit: ExitOK, Skipped: true}, false, nil
		}
	}

	if c.opts.BadBlocks != nil {
		if err := c.opts.BadBlocks.Run(c.run, fs); err != nil {
			return Result{}, false, err
		}
	}

	passes := c.passes()
	if len(passes) != 5 {
		return Result{}, false, fmt.Errorf("expected 5 passes, got %d", len(passes))
	}

	c.setState(StatePass1)
	if err := c.runPass(passes[0], fs, 1); err != nil {
		return Result{}, false, err
	}

	if !c.run.ReadOnly() && (c.run.RestartRequested() || c.run.Relocations.Any()) {
		if err := c.guardRestart(); err != nil {
			return Result{}, false, err
		}
		return Result{}, true, nil
	}

	for i, p := range passes[1:] {
		c.setState(StatePass2 + State(i))
		if err := c.runPass(p, fs, i+2); err != nil {
			return Result{}, false, err
		}
	}

	c.setState(StateFinalized)
	res, err := c.finalize(fs)
	return res, false, err
}

func (c *Checker) runPass(p interfaces.Pass, fs interfaces.Filesystem, number int) error {
	if err := c.app.Err(); err != nil {
		return fmt.Errorf("check interrupted before pass %d: %w", number, err)
	}
	c.app.Progress(p.Name(), (number-1)*20)
	start := c.opts.Now()
	if err := p.Run(c.run, fs); err != nil {
		return err
	}
	klog.V(2).InfoS("Pass complete", "device", c.run.DeviceName, "pass", p.Name(),
		"elapsed", c.opts.Now().Sub(start), "modified", c.run.State.Modified, "valid", c.run.State.Valid)
	return nil
}

// guardRestart refuses to restart more than MaxRestarts times in a row or
// when the same pointers keep getting relocated.
func (c *Checker) guardRestart() error {
	sig := c.run.Relocations.Snapshot()
	c.restarts++
	c.totalRestarts++
	if c.restarts > c.opts.MaxRestarts || (sig != "" && sig == c.lastSignature) {
		return repair.Fatalf("restart loop detected after %d restarts", c.restarts-1)
	}
	c.lastSignature = sig
	return nil
}
