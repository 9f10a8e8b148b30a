package passes

import (
	"fmt"
	"strings"

	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
)

// Pass5 reconciles the on-disk bitmaps and the free/used summary counts
// with what the earlier passes found in use.
type Pass5 struct {
	st *State
}

func (p *Pass5) Name() string { return "Pass 5: Checking group summary information" }

func (p *Pass5) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	if err := p.checkBlockBitmaps(run, fs); err != nil {
		return err
	}
	if err := p.checkInodeBitmaps(run, fs); err != nil {
		return err
	}
	return p.checkCounts(run, fs)
}

// differences collects bitmap mismatches and prints them as e2fsck does:
// "+n" for in use but unmarked, "-n" for marked but free, with runs
// collapsed to "+(a--b)".
type differences struct {
	b          strings.Builder
	sign       byte
	start, end uint32
	count      int
}

func (d *differences) add(n uint32, used bool) {
	sign := byte('-')
	if used {
		sign = '+'
	}
	if d.count > 0 && sign == d.sign && n == d.end+1 {
		d.end = n
		d.count++
		return
	}
	d.flush()
	d.sign, d.start, d.end = sign, n, n
	d.count++
}

func (d *differences) flush() {
	if d.count == 0 || d.sign == 0 {
		return
	}
	if d.start == d.end {
		fmt.Fprintf(&d.b, " %c%d", d.sign, d.start)
	} else {
		fmt.Fprintf(&d.b, " %c(%d--%d)", d.sign, d.start, d.end)
	}
	d.sign = 0
}

func (d *differences) String() string {
	d.flush()
	return d.b.String()
}

func (p *Pass5) checkBlockBitmaps(run *repair.RunContext, fs interfaces.Filesystem) error {
	sb := fs.Superblock()
	bs := fs.BlockSize()
	var diff differences
	fixes := make(map[uint32]*bitmap.Bitmap)

	for group := uint32(0); group < fs.GroupCount(); group++ {
		// Only a read-only run reaches pass 5 with flags set: the group's
		// metadata was left where it is and cannot be compared.
		if run.Relocations.Flagged(repair.BlockBitmap, group) {
			continue
		}
		disk, err := fs.ReadBlockBitmap(group)
		if err != nil {
			return err
		}
		r := sb.GroupBlockRange(group)
		want := paddedBitmap(bs, r.Last-r.First)
		changed := false
		for b := r.First; b < r.Last; b++ {
			used := p.st.blockInUse(b)
			if used {
				_ = want.Set(int(b - r.First))
			}
			if isSet(disk, b-r.First) != used {
				diff.add(b, used)
				changed = true
			}
		}
		if changed {
			fixes[group] = want
		}
	}

	if len(fixes) == 0 {
		return nil
	}
	run.Printf("Block bitmap differences:%s\n", diff.String())
	fixed, err := run.Fix("Fix", true)
	if err != nil || !fixed {
		return err
	}
	for group, bm := range fixes {
		if err := fs.WriteBlockBitmap(group, bm); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pass5) checkInodeBitmaps(run *repair.RunContext, fs interfaces.Filesystem) error {
	sb := fs.Superblock()
	bs := fs.BlockSize()
	var diff differences
	fixes := make(map[uint32]*bitmap.Bitmap)

	for group := uint32(0); group < fs.GroupCount(); group++ {
		if run.Relocations.Flagged(repair.InodeBitmap, group) || run.Relocations.Flagged(repair.InodeTable, group) {
			continue
		}
		disk, err := fs.ReadInodeBitmap(group)
		if err != nil {
			return err
		}
		want := paddedBitmap(bs, sb.InodesPerGroup)
		changed := false
		for idx := uint32(0); idx < sb.InodesPerGroup; idx++ {
			ino := group*sb.InodesPerGroup + idx + 1
			used := p.st.inUse(ino)
			if used {
				_ = want.Set(int(idx))
			}
			if isSet(disk, idx) != used {
				diff.add(ino, used)
				changed = true
			}
		}
		if changed {
			fixes[group] = want
		}
	}

	if len(fixes) == 0 {
		return nil
	}
	run.Printf("Inode bitmap differences:%s\n", diff.String())
	fixed, err := run.Fix("Fix", true)
	if err != nil || !fixed {
		return err
	}
	for group, bm := range fixes {
		if err := fs.WriteInodeBitmap(group, bm); err != nil {
			return err
		}
	}
	return nil
}

// paddedBitmap returns a block-sized bitmap with every bit past bits set,
// as mke2fs leaves the tail of a short group.
func paddedBitmap(blockSize, bits uint32) *bitmap.Bitmap {
	size := int(blockSize) * 8
	bm := bitmap.NewBits(size)
	for n := int(bits); n < size; n++ {
		_ = bm.Set(n)
	}
	return bm
}

func (p *Pass5) checkCounts(run *repair.RunContext, fs interfaces.Filesystem) error {
	sb := fs.Superblock()
	groups := fs.Groups()
	var totalFreeBlocks, totalFreeInodes uint32

	for i := range groups {
		group := uint32(i)
		gd := &groups[i]
		r := sb.GroupBlockRange(group)

		// Unreconstructed groups from a read-only run keep their counts.
		freeBlocks := uint32(gd.FreeBlocksCount)
		if !run.Relocations.Flagged(repair.BlockBitmap, group) {
			freeBlocks = 0
			for b := r.First; b < r.Last; b++ {
				if !p.st.blockInUse(b) {
					freeBlocks++
				}
			}
		}

		freeInodes, dirs := uint32(gd.FreeInodesCount), uint32(gd.UsedDirsCount)
		if !run.Relocations.Flagged(repair.InodeTable, group) {
			freeInodes, dirs = 0, 0
			for idx := uint32(0); idx < sb.InodesPerGroup; idx++ {
				ino := group*sb.InodesPerGroup + idx + 1
				if !p.st.inUse(ino) {
					freeInodes++
				}
				if p.st.isDir(ino) {
					dirs++
				}
			}
		}
		totalFreeBlocks += freeBlocks
		totalFreeInodes += freeInodes

		if err := p.fixGroupCount(run, fs, "Free blocks", group, &gd.FreeBlocksCount, freeBlocks); err != nil {
			return err
		}
		if err := p.fixGroupCount(run, fs, "Free inodes", group, &gd.FreeInodesCount, freeInodes); err != nil {
			return err
		}
		if err := p.fixGroupCount(run, fs, "Directories", group, &gd.UsedDirsCount, dirs); err != nil {
			return err
		}
	}

	if sb.FreeBlocksCount != totalFreeBlocks {
		run.Printf("Free blocks count wrong (%d, counted=%d).\n", sb.FreeBlocksCount, totalFreeBlocks)
		fixed, err := run.Fix("Fix", true)
		if err != nil {
			return err
		}
		if fixed {
			sb.FreeBlocksCount = totalFreeBlocks
			fs.MarkDirty()
		}
	}
	if sb.FreeInodesCount != totalFreeInodes {
		run.Printf("Free inodes count wrong (%d, counted=%d).\n", sb.FreeInodesCount, totalFreeInodes)
		fixed, err := run.Fix("Fix", true)
		if err != nil {
			return err
		}
		if fixed {
			sb.FreeInodesCount = totalFreeInodes
			fs.MarkDirty()
		}
	}
	return nil
}

func (p *Pass5) fixGroupCount(run *repair.RunContext, fs interfaces.Filesystem, what string, group uint32, field *uint16, counted uint32) error {
	if uint32(*field) == counted {
		return nil
	}
	run.Printf("%s count wrong for group #%d (%d, counted=%d).\n", what, group, *field, counted)
	fixed, err := run.Fix("Fix", true)
	if err != nil || !fixed {
		return err
	}
	*field = uint16(counted)
	fs.MarkDirty()
	return nil
}
