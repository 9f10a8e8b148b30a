package fsck

import (
	"errors"
	"os"
	"syscall"

	"github.com/deploymenttheory/go-e2fsck/internal/filesystem"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/superblock"
)

// CorruptHint points the operator at a backup superblock.
const CorruptHint = "\nThe filesystem superblock is corrupt.  " +
	"Try running e2fsck with an alternate\n" +
	"superblock using the -b option.  " +
	"(8193 is commonly an alternate superblock;\n" +
	"Hence, 'e2fsck -b 8193 <device>' may recover the filesystem.)\n\n"

// RelocateHint is printed before the first group metadata relocation.
const RelocateHint = "Note: if there is several inode or block bitmap blocks\n" +
	"which require relocation, or one part of the inode table\n" +
	"which must be moved, you may wish to try running e2fsck\n" +
	"the '-b 8193' option first.  The problem may lie only with\n" +
	"the primary block group descriptor, and the backup block\n" +
	"group descriptor may be OK.\n\n"

// OpenErrorHint returns remediation advice for a failure to open the
// filesystem.
func OpenErrorHint(err error, readOnly bool) string {
	var revErr superblock.ErrRevTooHigh
	switch {
	case errors.As(err, &revErr):
		return "Get a newer version of e2fsck!\n"
	case errors.Is(err, filesystem.ErrShortRead):
		return "Could this be a zero-length partition?\n"
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES):
		if readOnly {
			return "You must have r/o access to the filesystem or be root\n"
		}
		return "You must have r/w access to the filesystem or be root\n"
	case errors.Is(err, syscall.ENXIO):
		return "Possibly non-existent or swap device?\n"
	default:
		return CorruptHint
	}
}
