// Package testutil builds small, consistent ext2 images in memory for the
// checker's tests.
package testutil

import (
	"testing"
	"time"

	"github.com/diskfs/go-diskfs/util/bitmap"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-e2fsck/internal/device"
	"github.com/deploymenttheory/go-e2fsck/internal/filesystem"
	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/directories"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/inodes"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/superblock"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// Geometry of the default image: two groups of 1 KiB blocks where the
// second group is shorter than blocks_per_group.
const (
	BlockSize      = 1024
	BlocksCount    = 1800
	BlocksPerGroup = 1024
	InodesPerGroup = 32
	Groups         = 2
	InodesCount    = Groups * InodesPerGroup
	TableBlocks    = InodesPerGroup * 128 / BlockSize

	LostAndFoundIno uint32 = 11
	RootBlock       uint32 = 9
	LostFoundBlock  uint32 = 10
)

// Epoch is the creation and last-check time of built images.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Image is an ext2 filesystem held in memory. The exported metadata
// mirrors what has been written; call Sync after changing it.
type Image struct {
	t   testing.TB
	Dev *device.MemoryDevice
	SB  *types.Superblock
	GD  []types.GroupDescriptor

	nextBlock uint32
	nextIno   uint32
	rootUsed  uint32
}

// NewImage returns a freshly made, clean filesystem with a root directory
// and /lost+found.
func NewImage(t testing.TB) *Image {
	t.Helper()
	img := &Image{
		t:   t,
		Dev: device.NewMemoryDevice("/dev/test0", make([]byte, BlocksCount*BlockSize)),
	}

	sb := &types.Superblock{
		InodesCount:     InodesCount,
		BlocksCount:     BlocksCount,
		RBlocksCount:    BlocksCount / 20,
		FirstDataBlock:  1,
		BlocksPerGroup:  BlocksPerGroup,
		FragsPerGroup:   BlocksPerGroup,
		InodesPerGroup:  InodesPerGroup,
		WTime:           uint32(Epoch.Unix()),
		MaxMntCount:     20,
		Magic:           types.SuperblockMagic,
		State:           types.StateValid,
		Errors:          1,
		LastCheck:       uint32(Epoch.Unix()),
		RevLevel:        types.RevLevelDynamic,
		FirstIno:        types.DefaultFirstIno,
		InodeSize:       types.DefaultInodeSize,
		FeatureIncompat: types.FeatureIncompatFiletype,
		FeatureROCompat: types.FeatureROCompatSparseSuper,
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("go-e2fsck test image"))
	copy(sb.UUID[:], id[:])
	copy(sb.VolumeName[:], "testfs")
	img.SB = sb

	img.GD = make([]types.GroupDescriptor, Groups)
	for g := uint32(0); g < Groups; g++ {
		first := sb.GroupBlockRange(g).First
		img.GD[g] = types.GroupDescriptor{
			BlockBitmap: first + 2,
			InodeBitmap: first + 3,
			InodeTable:  first + 4,
		}
	}

	img.nextBlock = LostFoundBlock + 1
	img.nextIno = LostAndFoundIno + 1

	root := &types.Inode{
		Mode:       types.ModeDir | 0o755,
		Size:       BlockSize,
		LinksCount: 3,
		Blocks:     BlockSize / 512,
		CTime:      uint32(Epoch.Unix()),
	}
	root.Block[0] = RootBlock
	img.PutInode(types.RootIno, root)

	lf := &types.Inode{
		Mode:       types.ModeDir | 0o700,
		Size:       BlockSize,
		LinksCount: 2,
		Blocks:     BlockSize / 512,
		CTime:      uint32(Epoch.Unix()),
	}
	lf.Block[0] = LostFoundBlock
	img.PutInode(LostAndFoundIno, lf)

	rootData := make([]byte, BlockSize)
	img.rootUsed = writeDirHead(rootData, types.RootIno, types.RootIno)
	img.appendEntry(rootData, LostAndFoundIno, "lost+found", types.FileTypeDir)
	img.WriteBlock(RootBlock, rootData)

	lfData := make([]byte, BlockSize)
	writeDirHead(lfData, LostAndFoundIno, types.RootIno)
	img.WriteBlock(LostFoundBlock, lfData)

	img.Sync()
	return img
}

// writeDirHead writes '.' and '..' with '..' spanning the block and
// returns the bytes the two entries need.
func writeDirHead(data []byte, self, parent uint32) uint32 {
	dot := types.DirEntry{Inode: self, RecLen: types.DirEntryLen(1), NameLen: 1, FileType: types.FileTypeDir, Name: "."}
	directories.EncodeEntry(data, dot, true)
	dotdot := types.DirEntry{
		Inode:    parent,
		RecLen:   uint16(len(data)) - dot.RecLen,
		NameLen:  2,
		FileType: types.FileTypeDir,
		Name:     "..",
		Offset:   uint32(dot.RecLen),
	}
	directories.EncodeEntry(data, dotdot, true)
	return uint32(dot.RecLen) + uint32(types.DirEntryLen(2))
}

// appendEntry splits the last record of a root block built by NewImage.
func (img *Image) appendEntry(data []byte, ino uint32, name string, fileType uint8) {
	img.t.Helper()
	need := uint32(types.DirEntryLen(len(name)))
	require.LessOrEqual(img.t, img.rootUsed+need, uint32(BlockSize), "root directory full")

	last := findLast(img.t, data)
	last.RecLen = uint16(uint32(types.DirEntryLen(int(last.NameLen))))
	directories.EncodeEntryHeader(data, last, true)

	entry := types.DirEntry{
		Inode:    ino,
		RecLen:   uint16(BlockSize - img.rootUsed),
		NameLen:  uint8(len(name)),
		FileType: fileType,
		Name:     name,
		Offset:   img.rootUsed,
	}
	directories.EncodeEntry(data, entry, true)
	img.rootUsed += need
}

func findLast(t testing.TB, data []byte) types.DirEntry {
	t.Helper()
	var last types.DirEntry
	for off := uint32(0); off < uint32(len(data)); {
		entry, err := directories.ParseEntry(data, off, true)
		require.NoError(t, err)
		last = entry
		off += uint32(entry.RecLen)
	}
	return last
}

// AddFile creates a regular file in the root directory with nblocks data
// blocks and returns its inode number.
func (img *Image) AddFile(name string, nblocks int) uint32 {
	img.t.Helper()
	ino := img.nextIno
	img.nextIno++

	inode := &types.Inode{
		Mode:       types.ModeRegular | 0o644,
		Size:       uint32(nblocks) * BlockSize,
		LinksCount: 1,
		CTime:      uint32(Epoch.Unix()),
	}
	require.LessOrEqual(img.t, nblocks, types.NDirBlocks, "AddFile only builds direct blocks")
	for i := 0; i < nblocks; i++ {
		inode.Block[i] = img.AllocBlock()
	}
	inode.Blocks = uint32(nblocks) * (BlockSize / 512)
	img.PutInode(ino, inode)

	data := img.ReadBlock(RootBlock)
	img.appendEntry(data, ino, name, types.FileTypeRegular)
	img.WriteBlock(RootBlock, data)
	img.Sync()
	return ino
}

// AddDir creates an empty directory in the root and returns its inode.
func (img *Image) AddDir(name string) uint32 {
	img.t.Helper()
	ino := img.nextIno
	img.nextIno++

	block := img.AllocBlock()
	inode := &types.Inode{
		Mode:       types.ModeDir | 0o755,
		Size:       BlockSize,
		LinksCount: 2,
		Blocks:     BlockSize / 512,
		CTime:      uint32(Epoch.Unix()),
	}
	inode.Block[0] = block
	img.PutInode(ino, inode)

	data := make([]byte, BlockSize)
	writeDirHead(data, ino, types.RootIno)
	img.WriteBlock(block, data)

	rootData := img.ReadBlock(RootBlock)
	img.appendEntry(rootData, ino, name, types.FileTypeDir)
	img.WriteBlock(RootBlock, rootData)

	root := img.Inode(types.RootIno)
	root.LinksCount++
	img.PutInode(types.RootIno, root)
	img.Sync()
	return ino
}

// AllocBlock hands out the next data block of group 0. The bitmaps and
// counts are brought up to date by Sync.
func (img *Image) AllocBlock() uint32 {
	b := img.nextBlock
	img.nextBlock++
	return b
}

// BlockOffset returns the byte offset of block.
func BlockOffset(block uint32) int64 {
	return int64(block) * BlockSize
}

// ReadBlock returns a copy of block.
func (img *Image) ReadBlock(block uint32) []byte {
	out := make([]byte, BlockSize)
	copy(out, img.Dev.Bytes()[BlockOffset(block):])
	return out
}

// WriteBlock stores data at block.
func (img *Image) WriteBlock(block uint32, data []byte) {
	copy(img.Dev.Bytes()[BlockOffset(block):BlockOffset(block+1)], data)
}

func (img *Image) inodeOffset(ino uint32) int64 {
	group := (ino - 1) / InodesPerGroup
	idx := (ino - 1) % InodesPerGroup
	return BlockOffset(img.GD[group].InodeTable) + int64(idx)*int64(types.DefaultInodeSize)
}

// Inode decodes inode ino.
func (img *Image) Inode(ino uint32) *types.Inode {
	img.t.Helper()
	off := img.inodeOffset(ino)
	inode, err := inodes.Parse(img.Dev.Bytes()[off : off+int64(types.DefaultInodeSize)])
	require.NoError(img.t, err)
	return inode
}

// PutInode encodes inode at ino. Bitmaps and counts follow on Sync.
func (img *Image) PutInode(ino uint32, inode *types.Inode) {
	img.t.Helper()
	off := img.inodeOffset(ino)
	require.NoError(img.t, inodes.Encode(inode, img.Dev.Bytes()[off:off+int64(types.DefaultInodeSize)]))
}

// Sync recomputes bitmaps and free counts from the inode tables and
// writes the superblock and descriptor copies.
func (img *Image) Sync() {
	img.t.Helper()
	sb := img.SB

	used := bitmap.NewBits((BlocksCount/8 + 1) * 8)
	for g := uint32(0); g < Groups; g++ {
		r := sb.GroupBlockRange(g)
		used.Set(int(r.First))
		used.Set(int(r.First + 1))
		gd := img.GD[g]
		used.Set(int(gd.BlockBitmap))
		used.Set(int(gd.InodeBitmap))
		for b := gd.InodeTable; b < gd.InodeTable+TableBlocks; b++ {
			used.Set(int(b))
		}
	}

	var totalFreeInodes, totalFreeBlocks uint32
	for g := uint32(0); g < Groups; g++ {
		ibitmap := padded(InodesPerGroup)
		var free, dirs uint32
		for idx := uint32(0); idx < InodesPerGroup; idx++ {
			ino := g*InodesPerGroup + idx + 1
			inode := img.Inode(ino)
			inUse := ino < types.DefaultFirstIno || inode.InUse()
			if !inUse {
				free++
				continue
			}
			ibitmap.Set(int(idx))
			if inode.InUse() && inode.Mode.IsDir() {
				dirs++
			}
			if (inode.InUse() && inode.HasDataBlocks()) || ino == types.BadBlocksIno {
				img.markInodeBlocks(used, inode)
			}
		}
		img.GD[g].FreeInodesCount = uint16(free)
		img.GD[g].UsedDirsCount = uint16(dirs)
		totalFreeInodes += free
		img.PutBitmap(img.GD[g].InodeBitmap, ibitmap)
	}

	for g := uint32(0); g < Groups; g++ {
		r := sb.GroupBlockRange(g)
		bbitmap := padded(r.Last - r.First)
		var free uint32
		for b := r.First; b < r.Last; b++ {
			if set, _ := used.IsSet(int(b)); set {
				bbitmap.Set(int(b - r.First))
			} else {
				free++
			}
		}
		img.GD[g].FreeBlocksCount = uint16(free)
		totalFreeBlocks += free
		img.PutBitmap(img.GD[g].BlockBitmap, bbitmap)
	}

	sb.FreeBlocksCount = totalFreeBlocks
	sb.FreeInodesCount = totalFreeInodes
	img.WriteMetadata()
}

func (img *Image) markInodeBlocks(used *bitmap.Bitmap, inode *types.Inode) {
	for i := 0; i < types.NDirBlocks; i++ {
		if b := inode.Block[i]; b != 0 && b < BlocksCount {
			used.Set(int(b))
		}
	}
	if ind := inode.Block[types.IndBlock]; ind != 0 && ind < BlocksCount {
		used.Set(int(ind))
		for _, b := range inodes.ParseBlockPointers(img.ReadBlock(ind)) {
			if b != 0 && b < BlocksCount {
				used.Set(int(b))
			}
		}
	}
}

// WriteMetadata writes SB and GD to every group carrying a copy, without
// touching bitmaps or counts. Tests use it to plant inconsistencies.
func (img *Image) WriteMetadata() {
	img.t.Helper()
	table := make([]byte, BlockSize)
	require.NoError(img.t, superblock.EncodeGroupDescriptors(img.GD, table))
	for g := uint32(0); g < Groups; g++ {
		copySB := *img.SB
		copySB.BlockGroupNr = uint16(g)
		buf := make([]byte, types.SuperblockSize)
		require.NoError(img.t, superblock.Encode(&copySB, buf))

		first := img.SB.GroupBlockRange(g).First
		sbOff := BlockOffset(first)
		if g == 0 {
			sbOff = types.SuperblockOffset
		}
		copy(img.Dev.Bytes()[sbOff:], buf)
		img.WriteBlock(first+1, table)
	}
}

// WritePrimaryOnly rewrites only the primary superblock and descriptor
// table.
func (img *Image) WritePrimaryOnly() {
	img.t.Helper()
	table := make([]byte, BlockSize)
	require.NoError(img.t, superblock.EncodeGroupDescriptors(img.GD, table))
	buf := make([]byte, types.SuperblockSize)
	require.NoError(img.t, superblock.Encode(img.SB, buf))
	copy(img.Dev.Bytes()[types.SuperblockOffset:], buf)
	img.WriteBlock(2, table)
}

func padded(bits uint32) *bitmap.Bitmap {
	bm := bitmap.NewBits(BlockSize * 8)
	for n := int(bits); n < BlockSize*8; n++ {
		bm.Set(n)
	}
	return bm
}

// Bitmap loads the allocation bitmap stored at block.
func (img *Image) Bitmap(block uint32) *bitmap.Bitmap {
	bm := bitmap.NewBits(BlockSize * 8)
	bm.FromBytes(img.ReadBlock(block))
	return bm
}

// PutBitmap stores bm at block.
func (img *Image) PutBitmap(block uint32, bm *bitmap.Bitmap) {
	data := make([]byte, BlockSize)
	copy(data, bm.ToBytes())
	img.WriteBlock(block, data)
}

// BitSet reports whether bit n of the bitmap at block is set.
func (img *Image) BitSet(block, n uint32) bool {
	img.t.Helper()
	set, err := img.Bitmap(block).IsSet(int(n))
	require.NoError(img.t, err)
	return set
}

// Open opens the image's device through the real filesystem handle.
func (img *Image) Open(readOnly bool) *filesystem.Handle {
	img.t.Helper()
	h, err := filesystem.Open(img.Dev.Reopen(readOnly), filesystem.OpenOptions{ReadOnly: readOnly})
	require.NoError(img.t, err)
	return h
}

// Opener returns a function that reopens the image on each call.
func (img *Image) Opener(readOnly bool) func() (interfaces.Filesystem, error) {
	return func() (interfaces.Filesystem, error) {
		return filesystem.Open(img.Dev.Reopen(readOnly), filesystem.OpenOptions{ReadOnly: readOnly})
	}
}

// Reload re-reads SB and GD from the primary copy, picking up what a check
// wrote.
func (img *Image) Reload() {
	img.t.Helper()
	h := img.Open(true)
	img.SB = h.Superblock()
	img.GD = h.Groups()
	require.NoError(img.t, h.Abort())
}
