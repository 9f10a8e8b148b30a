package passes

import (
	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/inodes"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// blockWalker visits every block an inode references, direct and through
// indirect blocks, marking them in use.
type blockWalker struct {
	run *repair.RunContext
	fs  interfaces.Filesystem
	st  *State
	sb  *types.Superblock

	ino   uint32
	inode *types.Inode
	isDir bool
	bad   bool

	perBlock   uint64
	logical    uint64
	count      uint32
	last       uint32
	fragmented bool

	// inodeDirty is set when a pointer in i_block was cleared
	inodeDirty bool
}

func newBlockWalker(run *repair.RunContext, fs interfaces.Filesystem, st *State, ino uint32, inode *types.Inode) *blockWalker {
	return &blockWalker{
		run:      run,
		fs:       fs,
		st:       st,
		sb:       fs.Superblock(),
		ino:      ino,
		inode:    inode,
		isDir:    inode.Mode.IsDir(),
		bad:      ino == types.BadBlocksIno,
		perBlock: uint64(fs.BlockSize() / 4),
	}
}

func (w *blockWalker) walk() error {
	for i := 0; i < types.NDirBlocks; i++ {
		if err := w.visit(&w.inode.Block[i], 0, w.markInodeDirty); err != nil {
			return err
		}
	}
	for depth, slot := range []int{types.IndBlock, types.DIndBlock, types.TIndBlock} {
		if err := w.visit(&w.inode.Block[slot], depth+1, w.markInodeDirty); err != nil {
			return err
		}
	}
	return nil
}

func (w *blockWalker) markInodeDirty() {
	w.inodeDirty = true
}

// span returns the number of logical blocks covered by a pointer at depth.
func (w *blockWalker) span(depth int) uint64 {
	n := uint64(1)
	for i := 0; i < depth; i++ {
		n *= w.perBlock
	}
	return n
}

func (w *blockWalker) visit(ptr *uint32, depth int, changed func()) error {
	block := *ptr
	if block == 0 {
		w.logical += w.span(depth)
		return nil
	}

	if !legalBlock(w.sb, block) {
		w.run.Printf("Illegal block #%d (%d) in inode %d.  ", w.logical, block, w.ino)
		fixed, err := w.run.Fix("Clear", true)
		if err != nil {
			return err
		}
		if fixed {
			*ptr = 0
			changed()
		}
		w.logical += w.span(depth)
		return nil
	}

	if w.st.markBlock(block) {
		w.run.Printf("Duplicate or bad block in use: block %d in inode %d.\n", block, w.ino)
		w.run.MarkInvalid()
	}
	w.count++

	if depth == 0 {
		if w.last != 0 && block != w.last+1 {
			w.fragmented = true
		}
		w.last = block
		if w.isDir {
			w.st.dirBlocks = append(w.st.dirBlocks, dirBlock{ino: w.ino, block: block, logical: uint32(w.logical)})
		}
		if w.bad {
			w.run.Stats.BadBlocks++
		}
		w.logical++
		return nil
	}

	data, err := w.fs.ReadBlock(block)
	if err != nil {
		return err
	}
	ptrs := inodes.ParseBlockPointers(data)
	dirty := false
	for i := range ptrs {
		p := ptrs[i]
		if err := w.visit(&p, depth-1, func() { dirty = true }); err != nil {
			return err
		}
		if p != ptrs[i] {
			inodes.PutBlockPointer(data, i, p)
		}
	}
	if dirty && !w.run.ReadOnly() {
		return w.fs.WriteBlock(block, data)
	}
	return nil
}
