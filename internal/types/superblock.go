// Package types implements the on-disk data structures of the second
// extended filesystem (ext2) that the checker reads and repairs.
package types

import (
	"github.com/google/uuid"
)

// Superblock layout constants.
const (
	// SuperblockMagic identifies an ext2 superblock (s_magic).
	SuperblockMagic uint16 = 0xEF53

	// SuperblockSize is the size reserved for the superblock on disk.
	SuperblockSize = 1024

	// SuperblockOffset is the byte offset of the primary superblock.
	SuperblockOffset = 1024

	// MinBlockLogSize is log2 of the smallest block size (1024).
	MinBlockLogSize = 10

	// MaxLogBlockSize is the largest legal value of s_log_block_size.
	MaxLogBlockSize = 2
)

// FilesystemState holds the s_state bits.
type FilesystemState uint16

const (
	// StateValid is set when the filesystem was cleanly unmounted.
	StateValid FilesystemState = 0x0001

	// StateError is set when the kernel detected errors.
	StateError FilesystemState = 0x0002
)

// Has reports whether every bit of flag is set.
func (s FilesystemState) Has(flag FilesystemState) bool {
	return s&flag == flag
}

// Revision levels (s_rev_level).
const (
	RevLevelGood    uint32 = 0
	RevLevelDynamic uint32 = 1

	// CurrentRevLevel is the newest revision this checker understands.
	CurrentRevLevel = RevLevelDynamic

	DefaultFirstIno  uint32 = 11
	DefaultInodeSize uint16 = 128
)

// Feature flags.
const (
	FeatureIncompatFiletype uint32 = 0x0002

	FeatureROCompatSparseSuper uint32 = 0x0001
	FeatureROCompatLargeFile   uint32 = 0x0002

	SupportedIncompatFeatures = FeatureIncompatFiletype
	SupportedROCompatFeatures = FeatureROCompatSparseSuper | FeatureROCompatLargeFile
)

// Superblock is the filesystem-wide metadata record describing overall
// geometry and state.
type Superblock struct {
	InodesCount     uint32
	BlocksCount     uint32
	RBlocksCount    uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	LogFragSize     uint32
	BlocksPerGroup  uint32
	FragsPerGroup   uint32
	InodesPerGroup  uint32
	MTime           uint32
	WTime           uint32
	MntCount        uint16
	MaxMntCount     int16
	Magic           uint16
	State           FilesystemState
	Errors          uint16
	MinorRevLevel   uint16
	LastCheck       uint32
	CheckInterval   uint32
	CreatorOS       uint32
	RevLevel        uint32
	DefResUID       uint16
	DefResGID       uint16
	FirstIno        uint32
	InodeSize       uint16
	BlockGroupNr    uint16
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureROCompat uint32
	UUID            [16]byte
	VolumeName      [16]byte

	// Raw keeps the bytes the superblock was decoded from so fields this
	// package does not model survive a rewrite.
	Raw [SuperblockSize]byte
}

// BlockSize returns the block size in bytes.
func (sb *Superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// FragSize returns the fragment size in bytes.
func (sb *Superblock) FragSize() uint32 {
	return 1024 << sb.LogFragSize
}

// GroupCount returns the number of block groups described by the superblock.
func (sb *Superblock) GroupCount() uint32 {
	if sb.BlocksPerGroup == 0 || sb.BlocksCount <= sb.FirstDataBlock {
		return 0
	}
	span := uint64(sb.BlocksCount - sb.FirstDataBlock)
	per := uint64(sb.BlocksPerGroup)
	return uint32((span + per - 1) / per)
}

// EffectiveInodeSize returns the on-disk inode record size.
func (sb *Superblock) EffectiveInodeSize() uint32 {
	if sb.RevLevel == RevLevelGood || sb.InodeSize == 0 {
		return uint32(DefaultInodeSize)
	}
	return uint32(sb.InodeSize)
}

// EffectiveFirstIno returns the first non-reserved inode number.
func (sb *Superblock) EffectiveFirstIno() uint32 {
	if sb.RevLevel == RevLevelGood || sb.FirstIno == 0 {
		return DefaultFirstIno
	}
	return sb.FirstIno
}

// InodeBlocksPerGroup returns the number of blocks occupied by one group's
// slice of the inode table.
func (sb *Superblock) InodeBlocksPerGroup() uint32 {
	bs := uint64(sb.BlockSize())
	bytes := uint64(sb.InodesPerGroup) * uint64(sb.EffectiveInodeSize())
	return uint32((bytes + bs - 1) / bs)
}

// UsedInodes returns inodes_count minus free_inodes_count, or 0 when the free
// count exceeds the total.
func (sb *Superblock) UsedInodes() uint32 {
	return used(sb.InodesCount, sb.FreeInodesCount)
}

// UsedBlocks returns blocks_count minus free_blocks_count, or 0 when the free
// count exceeds the total.
func (sb *Superblock) UsedBlocks() uint32 {
	return used(sb.BlocksCount, sb.FreeBlocksCount)
}

func used(total, free uint32) uint32 {
	if free > total {
		return 0
	}
	return total - free
}

// VolumeUUID returns s_uuid as a uuid.UUID.
func (sb *Superblock) VolumeUUID() uuid.UUID {
	id, err := uuid.FromBytes(sb.UUID[:])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Label returns s_volume_name without trailing NUL bytes.
func (sb *Superblock) Label() string {
	n := 0
	for n < len(sb.VolumeName) && sb.VolumeName[n] != 0 {
		n++
	}
	return string(sb.VolumeName[:n])
}

// HasSparseSuper reports whether superblock backups live only in groups
// 0, 1 and powers of 3, 5 and 7.
func (sb *Superblock) HasSparseSuper() bool {
	return sb.RevLevel >= RevLevelDynamic && sb.FeatureROCompat&FeatureROCompatSparseSuper != 0
}

// HasFiletype reports whether directory entries carry a file type byte.
func (sb *Superblock) HasFiletype() bool {
	return sb.RevLevel >= RevLevelDynamic && sb.FeatureIncompat&FeatureIncompatFiletype != 0
}

// GroupHasSuper reports whether group carries a superblock and descriptor
// table backup.
func (sb *Superblock) GroupHasSuper(group uint32) bool {
	if !sb.HasSparseSuper() || group <= 1 {
		return true
	}
	if group&1 == 0 {
		return false
	}
	return isPowerOf(group, 3) || isPowerOf(group, 5) || isPowerOf(group, 7)
}

func isPowerOf(n, base uint32) bool {
	for n%base == 0 {
		n /= base
	}
	return n == 1
}
