// Package badblocks records bad blocks in the bad-block inode, either from
// a list file (-l, -L) or from a read-only surface scan (-c).
package badblocks

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/inodes"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// ReadList parses one block number per line. Blank lines and lines
// starting with '#' are ignored.
func ReadList(r io.Reader) ([]uint32, error) {
	var blocks []uint32
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		n, err := strconv.ParseUint(strings.Fields(text)[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad blocks list line %d: %w", line, err)
		}
		blocks = append(blocks, uint32(n))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading bad blocks list: %w", err)
	}
	return blocks, nil
}

// Scan reads every block of the filesystem and returns those that fail.
func Scan(fs interfaces.Filesystem) []uint32 {
	sb := fs.Superblock()
	var bad []uint32
	for b := sb.FirstDataBlock; b < sb.BlocksCount; b++ {
		if _, err := fs.ReadBlock(b); err != nil {
			klog.V(2).InfoS("Unreadable block", "block", b, "err", err)
			bad = append(bad, b)
		}
	}
	return bad
}

// Step is the bad-block stage run after validation. It merges the found
// blocks into the bad-block inode, or replaces its list when Replace is
// set, so pass 1 marks them in use.
type Step struct {
	// Source produces the blocks to record on each open
	Source  func(fs interfaces.Filesystem) ([]uint32, error)
	Replace bool
}

// FromList returns a step recording a fixed list of blocks.
func FromList(blocks []uint32, replace bool) *Step {
	return &Step{
		Source:  func(interfaces.Filesystem) ([]uint32, error) { return blocks, nil },
		Replace: replace,
	}
}

// FromScan returns a step recording the blocks a surface scan finds.
func FromScan() *Step {
	return &Step{
		Source: func(fs interfaces.Filesystem) ([]uint32, error) { return Scan(fs), nil },
	}
}

func (s *Step) Name() string { return "Checking for bad blocks" }

func (s *Step) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	found, err := s.Source(fs)
	if err != nil {
		return err
	}

	inode, err := fs.ReadInode(types.BadBlocksIno)
	if err != nil {
		return fmt.Errorf("reading bad block inode: %w", err)
	}
	current, err := listed(fs, inode)
	if err != nil {
		return err
	}

	sb := fs.Superblock()
	set := make(map[uint32]bool)
	if !s.Replace {
		for _, b := range current {
			set[b] = true
		}
	}
	for _, b := range found {
		if b < sb.FirstDataBlock || b >= sb.BlocksCount {
			run.Printf("Warning: illegal block %d found in bad block inode.  Cleared.\n", b)
			continue
		}
		set[b] = true
	}

	list := make([]uint32, 0, len(set))
	for b := range set {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

	if equal(list, current) {
		return nil
	}
	if err := s.store(fs, inode, list); err != nil {
		return err
	}
	run.MarkModified()
	return nil
}

// listed returns the blocks the bad-block inode currently holds, direct
// and through its single indirect block.
func listed(fs interfaces.Filesystem, inode *types.Inode) ([]uint32, error) {
	var out []uint32
	for i := 0; i < types.NDirBlocks; i++ {
		if inode.Block[i] != 0 {
			out = append(out, inode.Block[i])
		}
	}
	if ind := inode.Block[types.IndBlock]; ind != 0 {
		data, err := fs.ReadBlock(ind)
		if err != nil {
			return nil, fmt.Errorf("reading bad block inode indirect block: %w", err)
		}
		for _, b := range inodes.ParseBlockPointers(data) {
			if b != 0 {
				out = append(out, b)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Step) store(fs interfaces.Filesystem, inode *types.Inode, list []uint32) error {
	perBlock := int(fs.BlockSize() / 4)
	if len(list) > types.NDirBlocks+perBlock {
		return fmt.Errorf("bad block list of %d blocks does not fit in the bad block inode", len(list))
	}

	oldInd := inode.Block[types.IndBlock]
	inode.Block = [types.NBlocks]uint32{}
	n := copy(inode.Block[:types.NDirBlocks], list)
	count := uint32(n)

	if rest := list[n:]; len(rest) > 0 {
		ind := oldInd
		if ind == 0 {
			var err error
			if ind, err = allocate(fs, list); err != nil {
				return err
			}
		}
		data := make([]byte, fs.BlockSize())
		for i, b := range rest {
			inodes.PutBlockPointer(data, i, b)
		}
		if err := fs.WriteBlock(ind, data); err != nil {
			return err
		}
		inode.Block[types.IndBlock] = ind
		count += uint32(len(rest)) + 1
	}

	inode.Blocks = count * (fs.BlockSize() / 512)
	inode.Size = count * fs.BlockSize()
	return fs.WriteInode(types.BadBlocksIno, inode)
}

// allocate finds a block that is free in the on-disk bitmaps and not bad.
// Pass 1 and pass 5 account for it afterwards.
func allocate(fs interfaces.Filesystem, bad []uint32) (uint32, error) {
	sb := fs.Superblock()
	skip := make(map[uint32]bool, len(bad))
	for _, b := range bad {
		skip[b] = true
	}
	for group := uint32(0); group < fs.GroupCount(); group++ {
		bm, err := fs.ReadBlockBitmap(group)
		if err != nil {
			continue
		}
		r := sb.GroupBlockRange(group)
		for _, free := range bm.FreeList() {
			for idx := free.Position; idx < free.Position+free.Count; idx++ {
				b := r.First + uint32(idx)
				if b >= r.Last {
					break
				}
				if skip[b] {
					continue
				}
				if err := bm.Set(idx); err != nil {
					return 0, err
				}
				if err := fs.WriteBlockBitmap(group, bm); err != nil {
					return 0, err
				}
				return b, nil
			}
		}
	}
	return 0, fmt.Errorf("no free block for the bad block inode's indirect block")
}

func equal(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
