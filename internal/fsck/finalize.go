package fsck

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// finalize classifies the run, writes the final superblock state unless
// read-only, prints the summary and closes the filesystem.
func (c *Checker) finalize(fs interfaces.Filesystem) (Result, error) {
	state := c.run.State
	exit := Classify(state, c.opts.RootReadWrite)
	device := c.run.DeviceName

	if state.Modified {
		if c.run.Mode != repair.ModeUnattended {
			c.run.Printf("\n%s: ***** FILE SYSTEM WAS MODIFIED *****\n", device)
		}
		if c.opts.RootReadWrite {
			c.run.Printf("%s: ***** REBOOT LINUX *****\n", device)
		}
	}

	if !c.run.ReadOnly() {
		sb := fs.Superblock()
		if state.Valid {
			sb.State = types.StateValid
		} else {
			sb.State &^= types.StateValid
		}
		sb.MntCount = 0
		sb.LastCheck = uint32(c.opts.Now().Unix())
		fs.MarkDirty()
	}

	ShowStats(c.run.Out, device, fs.Superblock(), c.run.Stats, c.opts.Verbose)

	var err error
	if c.run.ReadOnly() {
		err = fs.Abort()
	} else {
		err = fs.Close()
	}
	if err != nil {
		return Result{}, fmt.Errorf("while writing back %s: %w", device, err)
	}

	klog.V(1).InfoS("Check finished", "device", device, "exit", int(exit),
		"modified", state.Modified, "valid", state.Valid, "restarts", c.totalRestarts)
	return Result{Exit: exit, Restarts: c.totalRestarts, Stats: c.run.Stats}, nil
}
