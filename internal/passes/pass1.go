package passes

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// Pass1 scans the inode tables, marks every referenced block and
// reconstructs group metadata that validation discarded.
type Pass1 struct {
	st *State
}

func (p *Pass1) Name() string { return "Pass 1: Checking inodes, blocks, and sizes" }

func (p *Pass1) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	sb := fs.Superblock()
	p.st.init(sb)

	p.markMetadata(run, fs)

	for group := uint32(0); group < fs.GroupCount(); group++ {
		if err := p.scanGroup(run, fs, group); err != nil {
			return err
		}
	}

	return p.reconstruct(run, fs)
}

// markMetadata marks superblock and descriptor copies, bitmaps and inode
// tables as in use. Pointers flagged for relocation are not trusted.
func (p *Pass1) markMetadata(run *repair.RunContext, fs interfaces.Filesystem) {
	sb := fs.Superblock()
	descBlocks := sb.DescriptorBlocks()
	tableBlocks := sb.InodeBlocksPerGroup()

	for i, gd := range fs.Groups() {
		group := uint32(i)
		r := sb.GroupBlockRange(group)
		if sb.GroupHasSuper(group) {
			for b := r.First; b <= r.First+descBlocks && b < r.Last; b++ {
				p.st.markBlock(b)
			}
		}

		if gd.BlockBitmap != 0 && !run.Relocations.Flagged(repair.BlockBitmap, group) {
			p.markGroupBlock(run, group, "block bitmap", gd.BlockBitmap)
		}
		if gd.InodeBitmap != 0 && !run.Relocations.Flagged(repair.InodeBitmap, group) {
			p.markGroupBlock(run, group, "inode bitmap", gd.InodeBitmap)
		}
		if gd.InodeTable != 0 && !run.Relocations.Flagged(repair.InodeTable, group) {
			for b := gd.InodeTable; b < gd.InodeTable+tableBlocks; b++ {
				p.markGroupBlock(run, group, "inode table", b)
			}
		}
	}
}

func (p *Pass1) markGroupBlock(run *repair.RunContext, group uint32, what string, block uint32) {
	if block >= p.st.blocksCount {
		return
	}
	if p.st.markBlock(block) {
		run.Printf("Group %d's %s at %d conflicts with some other fs block.\n", group, what, block)
		run.MarkInvalid()
	}
}

func (p *Pass1) scanGroup(run *repair.RunContext, fs interfaces.Filesystem, group uint32) error {
	sb := fs.Superblock()
	gd := fs.Groups()[group]
	if gd.InodeTable == 0 || run.Relocations.Flagged(repair.InodeTable, group) {
		klog.V(2).InfoS("Skipping inode table awaiting reconstruction", "group", group)
		return nil
	}

	firstIno := sb.EffectiveFirstIno()
	for idx := uint32(0); idx < sb.InodesPerGroup; idx++ {
		ino := group*sb.InodesPerGroup + idx + 1
		if ino > sb.InodesCount {
			break
		}
		inode, err := fs.ReadInode(ino)
		if err != nil {
			return err
		}

		switch {
		case ino == types.BadBlocksIno:
			p.st.markInode(ino, false)
			if err := p.walkBlocks(run, fs, ino, inode); err != nil {
				return err
			}
			continue
		case ino < firstIno && ino != types.RootIno:
			p.st.markInode(ino, false)
			if inode.InUse() && inode.HasDataBlocks() {
				if err := p.walkBlocks(run, fs, ino, inode); err != nil {
					return err
				}
			}
			continue
		}

		if err := p.checkInode(run, fs, ino, inode); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pass1) checkInode(run *repair.RunContext, fs interfaces.Filesystem, ino uint32, inode *types.Inode) error {
	if !inode.InUse() {
		if inode.DTime == 0 && inode.Mode != 0 {
			run.Printf("Deleted inode %d has zero dtime.  ", ino)
			fixed, err := run.Fix("Fix", true)
			if err != nil {
				return err
			}
			if fixed {
				inode.DTime = uint32(p.st.opts.Now().Unix())
				return fs.WriteInode(ino, inode)
			}
		}
		return nil
	}

	if inode.DTime != 0 {
		run.Printf("Inode %d is in use, but has dtime set.  ", ino)
		fixed, err := run.Fix("Fix", true)
		if err != nil {
			return err
		}
		if fixed {
			inode.DTime = 0
			if err := fs.WriteInode(ino, inode); err != nil {
				return err
			}
		}
	}

	p.st.markInode(ino, false)
	p.st.modes[ino] = inode.Mode
	p.st.diskLinks[ino] = inode.LinksCount
	p.countInode(run.Stats, inode)

	if !inode.HasDataBlocks() {
		return nil
	}
	return p.walkBlocks(run, fs, ino, inode)
}

func (p *Pass1) countInode(stats *types.CheckStatistics, inode *types.Inode) {
	stats.Total++
	mode := inode.Mode
	switch {
	case mode.IsDir():
		stats.Directories++
	case mode.IsRegular():
		stats.Regular++
	case mode.IsCharDev():
		stats.CharDevices++
	case mode.IsBlockDev():
		stats.BlockDevices++
	case mode.IsFifo():
		stats.Fifos++
	case mode.IsSocket():
		stats.Sockets++
	case mode.IsSymlink():
		stats.Symlinks++
		if inode.IsFastSymlink() {
			stats.FastSymlinks++
		}
	}
	if !mode.IsDir() && inode.LinksCount > 1 {
		stats.Links += uint32(inode.LinksCount) - 1
	}
	if inode.Block[types.IndBlock] != 0 {
		stats.IndBlocks++
	}
	if inode.Block[types.DIndBlock] != 0 {
		stats.DIndBlocks++
	}
	if inode.Block[types.TIndBlock] != 0 {
		stats.TIndBlocks++
	}
}

func (p *Pass1) walkBlocks(run *repair.RunContext, fs interfaces.Filesystem, ino uint32, inode *types.Inode) error {
	if inode.Mode.IsDir() {
		p.st.markInode(ino, true)
	}

	w := newBlockWalker(run, fs, p.st, ino, inode)
	if err := w.walk(); err != nil {
		return err
	}
	if w.fragmented {
		run.Stats.Fragmented++
	}

	dirty := w.inodeDirty
	expected := w.count * (fs.BlockSize() / 512)
	regular := ino == types.RootIno || ino >= fs.Superblock().EffectiveFirstIno()
	if regular && inode.Blocks != expected && inode.FileACL == 0 {
		run.Printf("Inode %d, i_blocks is %d, should be %d.  ", ino, inode.Blocks, expected)
		fixed, err := run.Fix("Fix", true)
		if err != nil {
			return err
		}
		if fixed {
			inode.Blocks = expected
			dirty = true
		}
	}

	if dirty && !run.ReadOnly() {
		return fs.WriteInode(ino, inode)
	}
	return nil
}

// reconstruct allocates fresh, zeroed blocks for every discarded group
// metadata pointer and asks for a restart so the check runs again over
// the repaired layout.
func (p *Pass1) reconstruct(run *repair.RunContext, fs interfaces.Filesystem) error {
	if run.ReadOnly() || !run.Relocations.Any() {
		return nil
	}

	sb := fs.Superblock()
	groups := fs.Groups()
	zero := make([]byte, fs.BlockSize())

	for i := range groups {
		group := uint32(i)
		gd := &groups[i]
		targets := []struct {
			kind  repair.MetadataKind
			ptr   *uint32
			count uint32
		}{
			{repair.BlockBitmap, &gd.BlockBitmap, 1},
			{repair.InodeBitmap, &gd.InodeBitmap, 1},
			{repair.InodeTable, &gd.InodeTable, sb.InodeBlocksPerGroup()},
		}
		for _, t := range targets {
			if !run.Relocations.Flagged(t.kind, group) {
				continue
			}
			what := strings.ToLower(t.kind.String())
			start, ok := p.st.findFreeRun(sb.GroupBlockRange(group), t.count)
			if !ok {
				run.Printf("Could not allocate %s for group %d.\n", what, group)
				return repair.Fatalf("could not allocate %s for group %d", what, group)
			}
			run.Printf("Relocating group %d's %s to %d...\n", group, what, start)
			for b := start; b < start+t.count; b++ {
				if err := fs.WriteBlock(b, zero); err != nil {
					return fmt.Errorf("zeroing new %s for group %d: %w", what, group, err)
				}
				p.st.markBlock(b)
			}
			*t.ptr = start
			fs.MarkDirty()
		}
	}

	run.RequestRestart()
	return nil
}

// findFreeRun returns the first run of count unused blocks inside r.
func (st *State) findFreeRun(r types.GroupRange, count uint32) (uint32, bool) {
	for _, free := range st.blockUsed.FreeList() {
		start := max(uint32(free.Position), r.First)
		end := min(uint32(free.Position+free.Count), r.Last, st.blocksCount)
		if end > start && end-start >= count {
			return start, true
		}
	}
	return 0, false
}
