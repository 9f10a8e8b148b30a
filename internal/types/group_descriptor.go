package types

// GroupDescriptorSize is the on-disk size of one block group descriptor.
const GroupDescriptorSize = 32

// GroupDescriptor locates a block group's bitmaps and inode table slice.
type GroupDescriptor struct {
	// BlockBitmap is the block number of the group's block bitmap.
	BlockBitmap uint32
	// InodeBitmap is the block number of the group's inode bitmap.
	InodeBitmap uint32
	// InodeTable is the first block of the group's inode table slice.
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16

	// Raw preserves the reserved tail of the descriptor.
	Raw [GroupDescriptorSize]byte
}

// GroupRange is the half-open block range [First, Last) owned by a group.
type GroupRange struct {
	First uint32
	Last  uint32
}

// Contains reports whether block lies in the range.
func (r GroupRange) Contains(block uint32) bool {
	return block >= r.First && block < r.Last
}

// ContainsExtent reports whether count blocks starting at block lie in the
// range.
func (r GroupRange) ContainsExtent(block, count uint32) bool {
	if count == 0 {
		return r.Contains(block)
	}
	end := uint64(block) + uint64(count) - 1
	return block >= r.First && end < uint64(r.Last)
}

// GroupBlockRange returns the block range of group. The last group ends at
// blocks_count rather than at the nominal per-group span.
func (sb *Superblock) GroupBlockRange(group uint32) GroupRange {
	first := uint64(sb.FirstDataBlock) + uint64(group)*uint64(sb.BlocksPerGroup)
	last := first + uint64(sb.BlocksPerGroup)
	if group == sb.GroupCount()-1 || last > uint64(sb.BlocksCount) {
		last = uint64(sb.BlocksCount)
	}
	return GroupRange{First: uint32(first), Last: uint32(last)}
}

// DescriptorBlocks returns the number of blocks used by the group
// descriptor table.
func (sb *Superblock) DescriptorBlocks() uint32 {
	bs := sb.BlockSize()
	per := bs / GroupDescriptorSize
	return (sb.GroupCount() + per - 1) / per
}
