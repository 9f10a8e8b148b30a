// Package filesystem implements the open-filesystem handle the checker
// works on: an in-memory superblock and descriptor table over a block
// device, with buffered write-back.
package filesystem

import (
	"errors"
	"fmt"
	"io"

	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/inodes"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/superblock"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

var (
	// ErrShortRead is returned when the device ends before the metadata.
	ErrShortRead = errors.New("attempt to read block from filesystem resulted in short read")

	// ErrCorruptSuperblock is returned when the superblock is too damaged to
	// even locate the descriptor table.
	ErrCorruptSuperblock = errors.New("the ext2 superblock is corrupt")

	// ErrMetadataMissing is returned when a bitmap or inode table pointer
	// has been cleared for reconstruction.
	ErrMetadataMissing = errors.New("group metadata location is not set")
)

// ErrUnexpectedBlockSize is returned when an explicit block size disagrees
// with the superblock found at the explicit location.
type ErrUnexpectedBlockSize struct {
	Requested uint32
	Found     uint32
}

func (err ErrUnexpectedBlockSize) Error() string {
	return fmt.Sprintf("filesystem has unexpected block size: requested %d; found %d", err.Requested, err.Found)
}

// OpenOptions selects how a filesystem is opened.
type OpenOptions struct {
	ReadOnly bool

	// SuperblockBlock, when non-zero, reads the superblock from this block
	// (in units of BlockSize) instead of the primary location.
	SuperblockBlock uint32
	BlockSize       uint32
}

// Handle is the checker's view of an open filesystem.
type Handle struct {
	dev        interfaces.BlockDevice
	sb         *types.Superblock
	groups     []types.GroupDescriptor
	readOnly   bool
	dirty      bool
	closed     bool
	fromBackup bool
}

var _ interfaces.Filesystem = (*Handle)(nil)

// Open reads the superblock and descriptor table from dev.
func Open(dev interfaces.BlockDevice, opts OpenOptions) (*Handle, error) {
	readOnly := opts.ReadOnly || dev.IsReadOnly()

	sbOffset := int64(types.SuperblockOffset)
	if opts.SuperblockBlock != 0 {
		if opts.BlockSize == 0 {
			return nil, fmt.Errorf("opening %s: explicit superblock needs a block size", dev.Path())
		}
		sbOffset = int64(opts.SuperblockBlock) * int64(opts.BlockSize)
	}

	buf := make([]byte, types.SuperblockSize)
	if err := readFull(dev, buf, sbOffset); err != nil {
		return nil, fmt.Errorf("reading superblock of %s: %w", dev.Path(), err)
	}

	sb, err := superblock.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dev.Path(), err)
	}
	if err := superblock.CheckCompatibility(sb, readOnly); err != nil {
		return nil, fmt.Errorf("opening %s: %w", dev.Path(), err)
	}
	if sb.LogBlockSize > types.MaxLogBlockSize || sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return nil, fmt.Errorf("opening %s: %w", dev.Path(), ErrCorruptSuperblock)
	}
	if opts.SuperblockBlock != 0 && opts.BlockSize != sb.BlockSize() {
		return nil, fmt.Errorf("opening %s: %w", dev.Path(), ErrUnexpectedBlockSize{opts.BlockSize, sb.BlockSize()})
	}

	groupBlock := sb.FirstDataBlock
	if opts.SuperblockBlock != 0 {
		groupBlock = opts.SuperblockBlock
	}

	bs := sb.BlockSize()
	size, err := dev.Size()
	if err != nil {
		return nil, fmt.Errorf("sizing %s: %w", dev.Path(), err)
	}
	tableBytes := uint64(sb.DescriptorBlocks()) * uint64(bs)
	if (uint64(groupBlock)+1)*uint64(bs)+tableBytes > uint64(size) {
		return nil, fmt.Errorf("opening %s: %w", dev.Path(), ErrCorruptSuperblock)
	}
	table := make([]byte, tableBytes)
	if err := readFull(dev, table, (int64(groupBlock)+1)*int64(bs)); err != nil {
		return nil, fmt.Errorf("reading group descriptors of %s: %w", dev.Path(), err)
	}
	groups, err := superblock.ParseGroupDescriptors(table, sb.GroupCount())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dev.Path(), err)
	}

	h := New(dev, sb, groups, readOnly)
	h.fromBackup = opts.SuperblockBlock != 0
	return h, nil
}

// New assembles a handle from already-decoded metadata.
func New(dev interfaces.BlockDevice, sb *types.Superblock, groups []types.GroupDescriptor, readOnly bool) *Handle {
	return &Handle{
		dev:      dev,
		sb:       sb,
		groups:   groups,
		readOnly: readOnly || dev.IsReadOnly(),
	}
}

func readFull(dev io.ReaderAt, buf []byte, off int64) error {
	n, err := dev.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortRead
	}
	return err
}

// Superblock returns the in-memory superblock
func (h *Handle) Superblock() *types.Superblock { return h.sb }

// Groups returns the in-memory descriptor table
func (h *Handle) Groups() []types.GroupDescriptor { return h.groups }

// GroupCount returns the number of block groups
func (h *Handle) GroupCount() uint32 { return uint32(len(h.groups)) }

// BlockSize returns the block size in bytes
func (h *Handle) BlockSize() uint32 { return h.sb.BlockSize() }

// DevicePath returns the device path
func (h *Handle) DevicePath() string { return h.dev.Path() }

// IsReadOnly checks if writes are refused
func (h *Handle) IsReadOnly() bool { return h.readOnly }

// OpenedFromBackup reports whether an explicit backup superblock was used.
func (h *Handle) OpenedFromBackup() bool { return h.fromBackup }

// PhysicalSize returns the device size in filesystem blocks
func (h *Handle) PhysicalSize() (uint64, error) {
	size, err := h.dev.Size()
	if err != nil {
		return 0, fmt.Errorf("while trying to check physical size of filesystem: %w", err)
	}
	return uint64(size) / uint64(h.BlockSize()), nil
}

// MarkDirty records a pending superblock/descriptor write-back
func (h *Handle) MarkDirty() { h.dirty = true }

// IsDirty reports whether a write-back is pending
func (h *Handle) IsDirty() bool { return h.dirty }

func (h *Handle) blockOffset(block uint32) int64 {
	return int64(block) * int64(h.BlockSize())
}

// ReadBlock reads one block
func (h *Handle) ReadBlock(block uint32) ([]byte, error) {
	if block >= h.sb.BlocksCount {
		return nil, fmt.Errorf("reading block %d: beyond end of filesystem (%d blocks)", block, h.sb.BlocksCount)
	}
	buf := make([]byte, h.BlockSize())
	if err := readFull(h.dev, buf, h.blockOffset(block)); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", block, err)
	}
	return buf, nil
}

// WriteBlock writes one block
func (h *Handle) WriteBlock(block uint32, data []byte) error {
	if h.readOnly {
		return fmt.Errorf("writing block %d: filesystem opened read-only", block)
	}
	if uint32(len(data)) != h.BlockSize() {
		return fmt.Errorf("writing block %d: got %d bytes, want %d", block, len(data), h.BlockSize())
	}
	if block >= h.sb.BlocksCount {
		return fmt.Errorf("writing block %d: beyond end of filesystem (%d blocks)", block, h.sb.BlocksCount)
	}
	if _, err := h.dev.WriteAt(data, h.blockOffset(block)); err != nil {
		return fmt.Errorf("writing block %d: %w", block, err)
	}
	return nil
}

func (h *Handle) locateInode(ino uint32) (int64, error) {
	if ino == 0 || ino > h.sb.InodesCount {
		return 0, fmt.Errorf("inode %d out of range 1..%d", ino, h.sb.InodesCount)
	}
	group := (ino - 1) / h.sb.InodesPerGroup
	index := (ino - 1) % h.sb.InodesPerGroup
	if group >= h.GroupCount() {
		return 0, fmt.Errorf("inode %d lies in nonexistent group %d", ino, group)
	}
	table := h.groups[group].InodeTable
	if table == 0 {
		return 0, fmt.Errorf("inode %d: inode table of group %d: %w", ino, group, ErrMetadataMissing)
	}
	return h.blockOffset(table) + int64(index)*int64(h.sb.EffectiveInodeSize()), nil
}

// ReadInode decodes inode number ino
func (h *Handle) ReadInode(ino uint32) (*types.Inode, error) {
	off, err := h.locateInode(ino)
	if err != nil {
		return nil, fmt.Errorf("reading inode: %w", err)
	}
	buf := make([]byte, types.InodeRecordSize)
	if err := readFull(h.dev, buf, off); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", ino, err)
	}
	inode, err := inodes.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", ino, err)
	}
	return inode, nil
}

// WriteInode encodes inode over inode number ino
func (h *Handle) WriteInode(ino uint32, inode *types.Inode) error {
	if h.readOnly {
		return fmt.Errorf("writing inode %d: filesystem opened read-only", ino)
	}
	off, err := h.locateInode(ino)
	if err != nil {
		return fmt.Errorf("writing inode: %w", err)
	}
	buf := make([]byte, types.InodeRecordSize)
	if err := inodes.Encode(inode, buf); err != nil {
		return fmt.Errorf("writing inode %d: %w", ino, err)
	}
	if _, err := h.dev.WriteAt(buf, off); err != nil {
		return fmt.Errorf("writing inode %d: %w", ino, err)
	}
	return nil
}

func (h *Handle) bitmapBlock(group uint32, inodeMap bool) (uint32, error) {
	if group >= h.GroupCount() {
		return 0, fmt.Errorf("group %d out of range", group)
	}
	block := h.groups[group].BlockBitmap
	kind := "block bitmap"
	if inodeMap {
		block = h.groups[group].InodeBitmap
		kind = "inode bitmap"
	}
	if block == 0 {
		return 0, fmt.Errorf("%s of group %d: %w", kind, group, ErrMetadataMissing)
	}
	return block, nil
}

// ReadBlockBitmap reads the block bitmap of group
func (h *Handle) ReadBlockBitmap(group uint32) (*bitmap.Bitmap, error) {
	return h.readBitmap(group, false)
}

// WriteBlockBitmap writes the block bitmap of group
func (h *Handle) WriteBlockBitmap(group uint32, bm *bitmap.Bitmap) error {
	return h.writeBitmap(group, false, bm)
}

// ReadInodeBitmap reads the inode bitmap of group
func (h *Handle) ReadInodeBitmap(group uint32) (*bitmap.Bitmap, error) {
	return h.readBitmap(group, true)
}

// WriteInodeBitmap writes the inode bitmap of group
func (h *Handle) WriteInodeBitmap(group uint32, bm *bitmap.Bitmap) error {
	return h.writeBitmap(group, true, bm)
}

func (h *Handle) readBitmap(group uint32, inodeMap bool) (*bitmap.Bitmap, error) {
	block, err := h.bitmapBlock(group, inodeMap)
	if err != nil {
		return nil, err
	}
	data, err := h.ReadBlock(block)
	if err != nil {
		return nil, err
	}
	// one block holds blockSize*8 bits
	bm := bitmap.NewBits(int(h.BlockSize()) * 8)
	bm.FromBytes(data)
	return bm, nil
}

func (h *Handle) writeBitmap(group uint32, inodeMap bool, bm *bitmap.Bitmap) error {
	block, err := h.bitmapBlock(group, inodeMap)
	if err != nil {
		return err
	}
	data := make([]byte, h.BlockSize())
	copy(data, bm.ToBytes())
	return h.WriteBlock(block, data)
}
