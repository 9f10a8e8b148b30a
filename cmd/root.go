package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-e2fsck/internal/fsck"
	"github.com/deploymenttheory/go-e2fsck/pkg/app"
)

const (
	version     = "0.1.0-dev"
	versionDate = "18-Oct-2026"
)

// options holds the parsed command line
type options struct {
	mode modeSelection

	badBlocksScan bool
	debug         bool
	flush         bool
	force         bool
	verbose       bool
	timing        bool
	showVersion   bool
	compat        bool

	superblock    uint32
	blockSize     uint32
	badBlocksFile string
	replaceList   bool
	deviceName    string
	configPath    string
}

// newRootCommand builds the command. exit receives the process status.
func newRootCommand(exit *fsck.ExitCode) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "e2fsck [-panyrcdfFvtV] [-b superblock] [-B blocksize] [-l|-L bad_blocks_file] [-N device_name] device",
		Short: "Check and repair an ext2 filesystem",
		Long: `e2fsck checks an unmounted ext2 filesystem and, depending on the mode,
repairs what it finds.

Modes:
  -p, -a    repair automatically what is safe to repair (preen)
  -n        open read-only and answer "no" to every question
  -y        answer "yes" to every question
            (default) ask on the terminal

Exit status is a bit mask: 1 errors corrected, 2 reboot needed,
4 errors left uncorrected, 8 operational error, 16 usage error.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			if len(args) != 1 {
				return usageErrorf("exactly one device is required, got %d", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			if opts.showVersion {
				fmt.Fprintf(cmd.ErrOrStderr(), "e2fsck %s (%s)\n", version, versionDate)
				*exit = fsck.ExitOK
				return nil
			}
			*exit = runCheck(cmd, opts, args[0])
			return nil
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	opts.mode.register(flags)
	flags.BoolVarP(&opts.compat, "repair", "r", false, "repair interactively (accepted for compatibility)")
	flags.BoolVarP(&opts.badBlocksScan, "check-bad-blocks", "c", false, "scan the device for bad blocks")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "print debugging output")
	flags.BoolVarP(&opts.flush, "flush", "F", false, "flush the device's buffers before checking")
	flags.BoolVarP(&opts.force, "force", "f", false, "check even if the filesystem seems clean")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "be verbose")
	flags.BoolVarP(&opts.timing, "timing", "t", false, "print timing and memory statistics")
	flags.BoolVarP(&opts.showVersion, "version", "V", false, "print version information and exit")
	flags.Uint32VarP(&opts.superblock, "superblock", "b", 0, "use an alternate superblock")
	flags.Uint32VarP(&opts.blockSize, "blocksize", "B", 0, "block size to use when searching for the superblock")
	flags.StringVarP(&opts.badBlocksFile, "bad-blocks-file", "l", "", "add the blocks listed in file to the bad blocks list")
	flags.VarP(&replaceListValue{opts: opts}, "replace-bad-blocks-file", "L", "replace the bad blocks list with the blocks listed in file")
	flags.StringVarP(&opts.deviceName, "device-name", "N", "", "name the device in messages")
	flags.StringVar(&opts.configPath, "config", "", "configuration file")

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return app.NewError(app.ErrCodeUsage, "invalid arguments", err)
	})
	return cmd
}

func usageErrorf(format string, args ...any) error {
	return app.NewError(app.ErrCodeUsage, fmt.Sprintf(format, args...), nil)
}

func (o *options) validate() error {
	if o.mode.mode == modeReadOnly && (o.badBlocksScan || o.badBlocksFile != "") {
		return usageErrorf("the -n and -c, -l or -L options are incompatible")
	}
	if o.blockSize != 0 && o.blockSize&(o.blockSize-1) != 0 {
		return usageErrorf("invalid block size %d", o.blockSize)
	}
	return nil
}

// replaceListValue implements -L: the file argument also switches the bad
// blocks list to replace mode.
type replaceListValue struct {
	opts *options
}

func (v *replaceListValue) String() string { return "" }
func (v *replaceListValue) Type() string   { return "string" }
func (v *replaceListValue) Set(s string) error {
	v.opts.badBlocksFile = s
	v.opts.replaceList = true
	return nil
}

// Execute runs the command with the process arguments and exits with the
// check's status.
func Execute() {
	os.Exit(int(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)))
}

func execute(args []string, in io.Reader, out, errOut io.Writer) fsck.ExitCode {
	exit := fsck.ExitOK
	cmd := newRootCommand(&exit)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := cmd.Execute(); err != nil {
		var appErr *app.CommonError
		if errors.As(err, &appErr) && appErr.Code == app.ErrCodeUsage {
			fmt.Fprintf(errOut, "e2fsck: %v\n\n", err)
			fmt.Fprint(errOut, cmd.UsageString())
			return fsck.ExitUsage
		}
		fmt.Fprintf(errOut, "e2fsck: %v\n", err)
		return fsck.ExitError
	}
	return exit
}
