package fsck

import (
	"k8s.io/klog/v2"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

const (
	minCheck = 1 << iota
	maxCheck
)

type superValue struct {
	name     string
	value    uint64
	flags    int
	min, max uint64
}

func (v superValue) ok() bool {
	if v.flags&minCheck != 0 && v.value < v.min {
		return false
	}
	if v.flags&maxCheck != 0 && v.value > v.max {
		return false
	}
	return true
}

// Validator checks the superblock and group descriptors before any pass
// runs.
type Validator struct{}

// NewValidator creates a Validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns nil when the metadata is usable, or a *repair.FatalError.
// Group pointers outside their group are relocated with the operator's
// consent: the pointer is zeroed in memory and the group's relocation
// counter incremented.
func (v *Validator) Validate(fs interfaces.Filesystem, run *repair.RunContext) error {
	sb := fs.Superblock()

	if err := v.checkScalars(sb, run); err != nil {
		return err
	}

	physical, err := fs.PhysicalSize()
	if err != nil {
		run.Printf("e2fsck: %v\n", err)
		return repair.WrapFatal("while trying to check physical size of filesystem", err)
	}
	if physical < uint64(sb.BlocksCount) {
		run.Printf("The filesystem size (according to the superblock) is %d blocks\n", sb.BlocksCount)
		run.Printf("The physical size of the device is %d blocks\n", physical)
		run.Printf("Either the superblock or the partition table is likely to be corrupt!\n")
		run.PreenHalt()
		if err := run.AskFatal("Abort"); err != nil {
			return err
		}
	}

	if sb.LogBlockSize != sb.LogFragSize {
		run.Printf("Superblock block_size = %d, fragsize = %d.\n", sb.BlockSize(), sb.FragSize())
		run.Printf("This version of e2fsck does not support fragment sizes different\nfrom the block size.\n")
		return repair.Fatalf("unsupported fragment size")
	}

	shouldBe := sb.FragsPerGroup / (sb.LogBlockSize - sb.LogFragSize + 1)
	if sb.BlocksPerGroup != shouldBe {
		run.Printf("Superblock blocks_per_group = %d, should have been %d\n", sb.BlocksPerGroup, shouldBe)
		run.Printf("%s", CorruptHint)
		return repair.Fatalf("superblock blocks_per_group is corrupt")
	}

	shouldBe = 0
	if sb.LogBlockSize == 0 {
		shouldBe = 1
	}
	if sb.FirstDataBlock != shouldBe {
		run.Printf("Superblock first_data_block = %d, should have been %d\n", sb.FirstDataBlock, shouldBe)
		run.Printf("%s", CorruptHint)
		return repair.Fatalf("superblock first_data_block is corrupt")
	}

	maxInodes := uint64(sb.InodesPerGroup) * uint64(fs.GroupCount())
	if uint64(sb.InodesCount) > maxInodes {
		run.Printf("Superblock inodes_count = %d, should have been %d\n", sb.InodesCount, maxInodes)
		run.Printf("%s", CorruptHint)
		return repair.Fatalf("superblock inodes_count is corrupt")
	}

	return v.checkGroups(fs, run)
}

func (v *Validator) checkScalars(sb *types.Superblock, run *repair.RunContext) error {
	blocks := uint64(sb.BlocksCount)
	values := []superValue{
		{"inodes_count", uint64(sb.InodesCount), minCheck, 1, 0},
		{"blocks_count", blocks, minCheck, 1, 0},
		{"first_data_block", uint64(sb.FirstDataBlock), maxCheck, 0, blocks},
		{"log_frag_size", uint64(sb.LogFragSize), maxCheck, 0, types.MaxLogBlockSize},
		{"log_block_size", uint64(sb.LogBlockSize), minCheck | maxCheck, uint64(sb.LogFragSize), types.MaxLogBlockSize},
	}
	for _, value := range values {
		if !value.ok() {
			return corruptValue(run, value)
		}
	}

	// The per-group limits depend on a block size that is only meaningful
	// once log_block_size has passed.
	bitsPerBlock := 8 * uint64(sb.BlockSize())
	values = []superValue{
		{"frags_per_group", uint64(sb.FragsPerGroup), minCheck | maxCheck, 1, bitsPerBlock},
		{"blocks_per_group", uint64(sb.BlocksPerGroup), minCheck | maxCheck, 1, bitsPerBlock},
		{"inodes_per_group", uint64(sb.InodesPerGroup), minCheck | maxCheck, 1, bitsPerBlock},
		{"r_blocks_count", uint64(sb.RBlocksCount), maxCheck, 0, blocks},
	}
	for _, value := range values {
		if !value.ok() {
			return corruptValue(run, value)
		}
	}
	return nil
}

func corruptValue(run *repair.RunContext, value superValue) error {
	run.Printf("Corruption found in superblock.  (%s = %d).\n", value.name, value.value)
	run.Printf("%s", CorruptHint)
	return repair.Fatalf("corrupt superblock: %s = %d", value.name, value.value)
}

func (v *Validator) checkGroups(fs interfaces.Filesystem, run *repair.RunContext) error {
	sb := fs.Superblock()
	groups := fs.Groups()
	tableBlocks := sb.InodeBlocksPerGroup()

	for i := range groups {
		group := uint32(i)
		gd := &groups[i]
		r := sb.GroupBlockRange(group)

		if !r.Contains(gd.BlockBitmap) {
			run.Printf("%s", v.hint(run))
			run.Printf("Block bitmap for group %d is not in group.  (block %d)\n", group, gd.BlockBitmap)
			if err := v.relocate(fs, run, repair.BlockBitmap, group, &gd.BlockBitmap); err != nil {
				return err
			}
		}
		if !r.Contains(gd.InodeBitmap) {
			run.Printf("%s", v.hint(run))
			run.Printf("Inode bitmap group %d not in group.  (block %d)\n", group, gd.InodeBitmap)
			if err := v.relocate(fs, run, repair.InodeBitmap, group, &gd.InodeBitmap); err != nil {
				return err
			}
		}
		if !r.ContainsExtent(gd.InodeTable, tableBlocks) {
			run.Printf("%s", v.hint(run))
			run.Printf("Inode table for group %d not in group.  (block %d)\n", group, gd.InodeTable)
			run.Printf("WARNING: SEVERE DATA LOSS POSSIBLE.\n")
			if err := v.relocate(fs, run, repair.InodeTable, group, &gd.InodeTable); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) hint(run *repair.RunContext) string {
	if run.RelocateHintOnce() {
		return RelocateHint
	}
	return ""
}

func (v *Validator) relocate(fs interfaces.Filesystem, run *repair.RunContext, kind repair.MetadataKind, group uint32, ptr *uint32) error {
	run.PreenHalt()
	switch run.Ask("Relocate", true) {
	case repair.Apply:
		klog.V(2).InfoS("Relocating group metadata", "group", group, "kind", kind.String(), "block", *ptr)
		*ptr = 0
		fs.MarkDirty()
		run.Relocations.Mark(kind, group)
		return nil
	case repair.Skip:
		if run.ReadOnly() {
			// Left in place; pass 1 must not trust it.
			run.Relocations.Mark(kind, group)
			return nil
		}
	}
	return repair.Fatalf("%s not in group", kind)
}
