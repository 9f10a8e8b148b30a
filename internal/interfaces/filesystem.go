// File: internal/interfaces/filesystem.go
package interfaces

import (
	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// SuperblockAccessor exposes the in-memory superblock and group descriptors
type SuperblockAccessor interface {
	// Superblock returns the in-memory superblock; mutations are buffered
	// until Flush
	Superblock() *types.Superblock

	// Groups returns the descriptor table; callers may mutate entries in
	// place and must then call MarkDirty
	Groups() []types.GroupDescriptor

	// GroupCount returns the number of block groups
	GroupCount() uint32

	// BlockSize returns the block size in bytes
	BlockSize() uint32
}

// BlockAccessor reads and writes whole filesystem blocks
type BlockAccessor interface {
	// ReadBlock reads the block at the given block number
	ReadBlock(block uint32) ([]byte, error)

	// WriteBlock writes one block's worth of data at the given block number
	WriteBlock(block uint32, data []byte) error
}

// InodeAccessor reads and writes inode records
type InodeAccessor interface {
	// ReadInode decodes inode number ino
	ReadInode(ino uint32) (*types.Inode, error)

	// WriteInode encodes inode over inode number ino
	WriteInode(ino uint32, inode *types.Inode) error
}

// BitmapAccessor reads and writes a group's allocation bitmaps. Each bitmap
// spans one block; bit n covers the n-th block or inode of the group.
type BitmapAccessor interface {
	ReadBlockBitmap(group uint32) (*bitmap.Bitmap, error)
	WriteBlockBitmap(group uint32, bm *bitmap.Bitmap) error
	ReadInodeBitmap(group uint32) (*bitmap.Bitmap, error)
	WriteInodeBitmap(group uint32, bm *bitmap.Bitmap) error
}

// Filesystem is an open filesystem handle, exclusively owned by the checker
// for the duration of a run
type Filesystem interface {
	SuperblockAccessor
	BlockAccessor
	InodeAccessor
	BitmapAccessor

	// DevicePath returns the path of the underlying device or image
	DevicePath() string

	// IsReadOnly checks if the handle refuses writes
	IsReadOnly() bool

	// PhysicalSize returns the device size in filesystem blocks
	PhysicalSize() (uint64, error)

	// MarkDirty records that the superblock or descriptors changed
	MarkDirty()

	// IsDirty reports whether a write-back is pending
	IsDirty() bool

	// Flush writes the superblock and descriptor table to the device
	Flush() error

	// Close flushes pending changes and releases the device
	Close() error

	// Abort releases the device without writing anything back
	Abort() error
}
