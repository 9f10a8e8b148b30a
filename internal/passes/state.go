// Package passes implements the five structural passes run by the checker:
// inodes and blocks, directory structure, connectivity, reference counts
// and group summaries.
package passes

import (
	"time"

	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// Options configure a pass set.
type Options struct {
	// Now stamps deletion times; defaults to time.Now
	Now func() time.Time
}

// dirBlock is one data block of a directory.
type dirBlock struct {
	ino     uint32
	block   uint32
	logical uint32
}

// entryLocation addresses one directory record on disk.
type entryLocation struct {
	block  uint32
	offset uint32
}

// State is what pass 1 learns about the filesystem and later passes
// consume. One State is shared by the passes of a single open.
type State struct {
	opts Options

	blocksCount uint32
	inodesCount uint32

	// Indexed by block number and by inode number
	blockUsed *bitmap.Bitmap
	inodeUsed *bitmap.Bitmap
	inodeDir  *bitmap.Bitmap

	// Indexed by inode number
	modes     []types.FileMode
	diskLinks []uint16
	refs      []uint16

	dirBlocks []dirBlock

	// parent is the directory holding the entry for a directory; dotdot is
	// what that directory's '..' entry says.
	parent   map[uint32]uint32
	dotdot   map[uint32]uint32
	dotdotAt map[uint32]entryLocation

	lostAndFound uint32
}

// NewSet builds the five passes around a fresh State.
func NewSet(opts Options) []interfaces.Pass {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	st := &State{opts: opts}
	return []interfaces.Pass{
		&Pass1{st: st},
		&Pass2{st: st},
		&Pass3{st: st},
		&Pass4{st: st},
		&Pass5{st: st},
	}
}

func (st *State) init(sb *types.Superblock) {
	st.blocksCount = sb.BlocksCount
	st.inodesCount = sb.InodesCount
	// Inode numbers start at 1; sized in 64 bits so the maximum count does
	// not wrap.
	inodes := uint64(sb.InodesCount) + 1
	st.blockUsed = newBitmap(uint64(sb.BlocksCount))
	st.inodeUsed = newBitmap(inodes)
	st.inodeDir = newBitmap(inodes)
	st.modes = make([]types.FileMode, inodes)
	st.diskLinks = make([]uint16, inodes)
	st.refs = make([]uint16, inodes)
	st.dirBlocks = nil
	st.parent = make(map[uint32]uint32)
	st.dotdot = make(map[uint32]uint32)
	st.dotdotAt = make(map[uint32]entryLocation)
	st.lostAndFound = 0
}

// legalBlock reports whether block may be referenced by an inode.
func legalBlock(sb *types.Superblock, block uint32) bool {
	return block >= sb.FirstDataBlock && block < sb.BlocksCount
}

// newBitmap returns a bitmap addressing bits 0..n-1 in whole bytes.
func newBitmap(n uint64) *bitmap.Bitmap {
	return bitmap.NewBits(int((n + 7) &^ 7))
}

// isSet reads bit n; a bit outside bm reads as clear.
func isSet(bm *bitmap.Bitmap, n uint32) bool {
	set, err := bm.IsSet(int(n))
	return err == nil && set
}

func (st *State) blockInUse(block uint32) bool {
	return block < st.blocksCount && isSet(st.blockUsed, block)
}

// markBlock records block as in use and reports whether it already was.
func (st *State) markBlock(block uint32) (dup bool) {
	if block >= st.blocksCount {
		return false
	}
	if isSet(st.blockUsed, block) {
		return true
	}
	_ = st.blockUsed.Set(int(block))
	return false
}

func (st *State) unmarkBlock(block uint32) {
	if block < st.blocksCount {
		_ = st.blockUsed.Clear(int(block))
	}
}

func (st *State) markInode(ino uint32, dir bool) {
	if ino == 0 || ino > st.inodesCount {
		return
	}
	_ = st.inodeUsed.Set(int(ino))
	if dir {
		_ = st.inodeDir.Set(int(ino))
	}
}

func (st *State) unmarkInode(ino uint32) {
	if ino == 0 || ino > st.inodesCount {
		return
	}
	_ = st.inodeUsed.Clear(int(ino))
	_ = st.inodeDir.Clear(int(ino))
}

func (st *State) inUse(ino uint32) bool {
	return ino != 0 && ino <= st.inodesCount && isSet(st.inodeUsed, ino)
}

func (st *State) isDir(ino uint32) bool {
	return ino != 0 && ino <= st.inodesCount && isSet(st.inodeDir, ino)
}

// fileTypeOf maps an inode mode to the directory entry file type code.
func fileTypeOf(mode types.FileMode) uint8 {
	switch mode.Type() {
	case types.ModeRegular:
		return types.FileTypeRegular
	case types.ModeDir:
		return types.FileTypeDir
	case types.ModeCharDev:
		return types.FileTypeCharDev
	case types.ModeBlockDev:
		return types.FileTypeBlockDev
	case types.ModeFifo:
		return types.FileTypeFifo
	case types.ModeSocket:
		return types.FileTypeSocket
	case types.ModeSymlink:
		return types.FileTypeSymlink
	default:
		return types.FileTypeUnknown
	}
}
