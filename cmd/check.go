package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/deploymenttheory/go-e2fsck/internal/badblocks"
	"github.com/deploymenttheory/go-e2fsck/internal/config"
	"github.com/deploymenttheory/go-e2fsck/internal/device"
	"github.com/deploymenttheory/go-e2fsck/internal/filesystem"
	"github.com/deploymenttheory/go-e2fsck/internal/fsck"
	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/passes"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/pkg/app"
)

// runCheck checks one device and returns the exit status.
func runCheck(cmd *cobra.Command, opts *options, path string) fsck.ExitCode {
	errOut := cmd.ErrOrStderr()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(errOut, "e2fsck: %v\n", err)
		return fsck.ExitError
	}
	setupLogging(cfg.LogLevel, opts.debug, errOut)
	defer klog.Flush()

	mode, assumeYes := opts.mode.Resolve()
	readOnly := mode == repair.ModeReadOnly

	appCtx := app.NewContext()
	appCtx.Out = cmd.OutOrStdout()
	appCtx.ErrOut = errOut
	appCtx.Verbose = opts.verbose || cfg.Verbose
	appCtx.Preen = mode == repair.ModeUnattended
	appCtx.DeviceName = path
	if opts.deviceName != "" {
		appCtx.DeviceName = opts.deviceName
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCtx = appCtx.WithParent(ctx)

	runID := uuid.NewString()
	klog.V(1).InfoS("Starting check", "run", runID, "device", path, "mode", mode.String())

	if !appCtx.Preen {
		fmt.Fprintf(errOut, "e2fsck %s (%s)\n", version, versionDate)
	}

	var tracker *fsck.ResourceTracker
	if opts.timing {
		tracker = fsck.NewResourceTracker(nil)
	}

	prompt := repair.NewTerminalPrompt()
	mounted, err := checkMount(appCtx, device.MountTable{Path: cfg.MountTable}, prompt, path, readOnly)
	if err != nil {
		return reportError(appCtx, err)
	}

	if opts.flush {
		if err := device.FlushBuffers(path); err != nil {
			return reportError(appCtx, app.NewError(app.ErrCodeFatal, fmt.Sprintf("while trying to flush %s", path), err))
		}
	}
	if !readOnly {
		device.SyncDisks()
	}

	var op repair.Operator = prompt
	if mode != repair.ModeInteractive || assumeYes {
		op = repair.ForMode(mode, assumeYes)
	}
	run := repair.NewRunContext(mode, op, appCtx.Out, appCtx.DeviceName)

	if !appCtx.Preen {
		appCtx.SetProgress(func(message string, _ int) {
			appCtx.Printf("%s\n", message)
		})
	}

	step, err := badBlocksStep(opts)
	if err != nil {
		return reportError(appCtx, err)
	}

	checker := fsck.NewChecker(appCtx, run,
		openFilesystem(path, readOnly, opts.superblock, opts.blockSize, cfg.PossibleBlockSizes),
		func() []interfaces.Pass { return passes.NewSet(passes.Options{}) },
		fsck.Options{
			Force:         opts.force,
			BadBlocks:     step,
			RootReadWrite: mounted.RootReadWrite(),
			MaxRestarts:   cfg.MaxRestarts,
			Verbose:       appCtx.Verbose,
		})

	res, err := checker.Run()
	if !readOnly {
		device.SyncDisks()
	}
	if tracker != nil {
		tracker.Print(appCtx.Out, "")
	}
	if err != nil {
		return reportError(appCtx, err)
	}

	klog.V(1).InfoS("Check complete", "run", runID, "exit", int(res.Exit), "skipped", res.Skipped, "restarts", res.Restarts)
	return res.Exit
}

// setupLogging routes klog to errOut without exposing klog's flags on the
// command line.
func setupLogging(level int, debug bool, errOut io.Writer) {
	if debug {
		level += 2
	}
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	_ = fs.Set("logtostderr", "false")
	_ = fs.Set("alsologtostderr", "false")
	_ = fs.Set("stderrthreshold", "FATAL")
	_ = fs.Set("v", strconv.Itoa(level))
	klog.SetOutput(errOut)
}

func badBlocksStep(opts *options) (interfaces.Pass, error) {
	switch {
	case opts.badBlocksFile != "":
		f, err := os.Open(opts.badBlocksFile)
		if err != nil {
			return nil, fmt.Errorf("while trying to open %s: %w", opts.badBlocksFile, err)
		}
		defer f.Close()
		blocks, err := badblocks.ReadList(f)
		if err != nil {
			return nil, err
		}
		return badblocks.FromList(blocks, opts.replaceList), nil
	case opts.badBlocksScan:
		return badblocks.FromScan(), nil
	}
	return nil, nil
}

// reportError prints err the way e2fsck does and returns the exit status
// it maps to.
func reportError(appCtx *app.Context, err error) fsck.ExitCode {
	var appErr *app.CommonError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case app.ErrCodeMounted:
			appCtx.Printf("%s\n", appErr.Message)
			return fsck.ExitOK
		case app.ErrCodeUsage:
			fmt.Fprintf(appCtx.ErrOut, "e2fsck: %v\n", err)
			return fsck.ExitUsage
		}
		fmt.Fprintf(appCtx.ErrOut, "e2fsck: %v\n", err)
		if appErr.Hint != "" {
			fmt.Fprintf(appCtx.ErrOut, "\n%s", appErr.Hint)
		}
		return fsck.ExitError
	}

	if repair.IsFatal(err) {
		klog.V(1).InfoS("Check aborted", "device", appCtx.DeviceName, "err", err.Error())
		fmt.Fprint(appCtx.ErrOut, "e2fsck: aborted\n")
		appCtx.Printf("\n%s: ********** WARNING: Filesystem still has errors **********\n\n", appCtx.DeviceName)
		return fsck.ExitError
	}
	if errors.Is(err, context.Canceled) {
		appCtx.Error("e2fsck: aborted")
		return fsck.ExitError
	}
	fmt.Fprintf(appCtx.ErrOut, "e2fsck: %v\n", err)
	return fsck.ExitError
}

// checkMount refuses to work on a mounted filesystem unless the operator
// insists on a terminal. A read-only check only warns.
func checkMount(appCtx *app.Context, table interfaces.MountChecker, prompt *repair.TerminalPrompt, path string, readOnly bool) (interfaces.MountFlags, error) {
	flags, err := table.CheckIfMounted(path)
	if err != nil {
		klog.ErrorS(err, "Mount table unavailable", "device", path)
		return interfaces.MountFlags{}, nil
	}
	if !flags.Mounted {
		return flags, nil
	}

	if readOnly {
		appCtx.Printf("Warning!  %s is mounted.\n", path)
		return flags, nil
	}

	appCtx.Printf("%s is mounted.\n\n", path)
	appCtx.Printf("\a\a\aWARNING!!!  Running e2fsck on a mounted filesystem may cause\nSEVERE filesystem damage.\a\a\a\n\n")
	if !prompt.YesNo(appCtx.Out, "Do you really want to continue") {
		return flags, app.NewError(app.ErrCodeMounted, "check aborted.", nil)
	}
	return flags, nil
}

// openFilesystem returns the opener used on every (re)start. With -b and
// no -B each possible block size is tried in turn.
func openFilesystem(path string, readOnly bool, sbBlock, blockSize uint32, sizes []uint32) fsck.Opener {
	return func() (interfaces.Filesystem, error) {
		candidates := []uint32{blockSize}
		if sbBlock != 0 && blockSize == 0 {
			candidates = sizes
		}

		var lastErr error
		for _, bs := range candidates {
			fs, err := openOnce(path, readOnly, sbBlock, bs)
			if err == nil {
				return fs, nil
			}
			lastErr = err
			klog.V(2).InfoS("Open attempt failed", "device", path, "superblock", sbBlock, "blocksize", bs, "err", err.Error())
		}
		return nil, app.NewError(app.ErrCodeOpen, fmt.Sprintf("while trying to open %s", path), lastErr).
			WithHint(fsck.OpenErrorHint(lastErr, readOnly))
	}
}

func openOnce(path string, readOnly bool, sbBlock, blockSize uint32) (interfaces.Filesystem, error) {
	dev, err := device.Open(path, readOnly)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	fs, err := filesystem.Open(dev, filesystem.OpenOptions{
		ReadOnly:        readOnly,
		SuperblockBlock: sbBlock,
		BlockSize:       blockSize,
	})
	if err != nil {
		dev.Close()
		return nil, err
	}
	// The primary copy is rewritten from the backup on close.
	if fs.OpenedFromBackup() && !fs.IsReadOnly() {
		fs.MarkDirty()
	}
	klog.V(2).InfoS("Opened filesystem", "device", path, "blocksize", fs.BlockSize(), "groups", fs.GroupCount(), "elapsed", time.Since(start))
	return fs, nil
}
