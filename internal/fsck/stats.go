package fsck

import (
	"fmt"
	"io"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

func plural(n uint32, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func percent(part, whole uint32) uint32 {
	if whole == 0 {
		return 0
	}
	return uint32(uint64(part) * 100 / uint64(whole))
}

// ShowStats prints the end-of-run summary: one line, or the full
// breakdown when verbose.
func ShowStats(out io.Writer, device string, sb *types.Superblock, stats *types.CheckStatistics, verbose bool) {
	inodes := sb.InodesCount
	inodesUsed := sb.UsedInodes()
	blocks := sb.BlocksCount
	blocksUsed := sb.UsedBlocks()

	var fragPercent uint32
	if inodesUsed > 0 {
		fragPercent = uint32(uint64(stats.Fragmented) * 10000 / uint64(inodesUsed))
		fragPercent = (fragPercent + 5) / 10
	}

	if !verbose {
		fmt.Fprintf(out, "%s: %d/%d files (%d.%d%% non-contiguous), %d/%d blocks\n",
			device, inodesUsed, inodes, fragPercent/10, fragPercent%10, blocksUsed, blocks)
		return
	}

	fmt.Fprintf(out, "\n%8d inode%s used (%d%%)\n", inodesUsed, plural(inodesUsed, "", "s"), percent(inodesUsed, inodes))
	fmt.Fprintf(out, "%8d non-contiguous inode%s (%d.%d%%)\n",
		stats.Fragmented, plural(stats.Fragmented, "", "s"), fragPercent/10, fragPercent%10)
	fmt.Fprintf(out, "         # of inodes with ind/dind/tind blocks: %d/%d/%d\n",
		stats.IndBlocks, stats.DIndBlocks, stats.TIndBlocks)
	fmt.Fprintf(out, "%8d block%s used (%d%%)\n", blocksUsed, plural(blocksUsed, "", "s"), percent(blocksUsed, blocks))
	fmt.Fprintf(out, "%8d bad block%s\n", stats.BadBlocks, plural(stats.BadBlocks, "", "s"))

	fmt.Fprintf(out, "\n%8d regular file%s\n", stats.Regular, plural(stats.Regular, "", "s"))
	fmt.Fprintf(out, "%8d director%s\n", stats.Directories, plural(stats.Directories, "y", "ies"))
	fmt.Fprintf(out, "%8d character device file%s\n", stats.CharDevices, plural(stats.CharDevices, "", "s"))
	fmt.Fprintf(out, "%8d block device file%s\n", stats.BlockDevices, plural(stats.BlockDevices, "", "s"))
	fmt.Fprintf(out, "%8d fifo%s\n", stats.Fifos, plural(stats.Fifos, "", "s"))
	fmt.Fprintf(out, "%8d link%s\n", stats.Links, plural(stats.Links, "", "s"))
	fmt.Fprintf(out, "%8d symbolic link%s (%d fast symbolic link%s)\n",
		stats.Symlinks, plural(stats.Symlinks, "", "s"), stats.FastSymlinks, plural(stats.FastSymlinks, "", "s"))
	fmt.Fprintf(out, "%8d socket%s\n", stats.Sockets, plural(stats.Sockets, "", "s"))
	fmt.Fprintf(out, "--------\n")
	files := stats.Total + stats.Links
	fmt.Fprintf(out, "%8d file%s\n", files, plural(files, "", "s"))
}
