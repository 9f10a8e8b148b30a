package passes

import (
	"errors"
	"sort"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/directories"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// Pass2 checks every directory block: record framing, '.' and '..', and
// the inode each entry points to. It counts references for pass 4.
type Pass2 struct {
	st *State
}

func (p *Pass2) Name() string { return "Pass 2: Checking directory structure" }

func (p *Pass2) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	blocks := p.st.dirBlocks
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].ino != blocks[j].ino {
			return blocks[i].ino < blocks[j].ino
		}
		return blocks[i].logical < blocks[j].logical
	})

	seenFirst := make(map[uint32]bool)
	for _, db := range blocks {
		if db.logical == 0 {
			seenFirst[db.ino] = true
		}
		if err := p.checkBlock(run, fs, db); err != nil {
			return err
		}
	}

	for ino := uint32(1); ino <= p.st.inodesCount; ino++ {
		if p.st.isDir(ino) && !seenFirst[ino] {
			run.Printf("Directory inode %d has no first block: '.' and '..' are missing.\n", ino)
			run.MarkInvalid()
		}
	}
	return nil
}

type dirBlockChecker struct {
	run   *repair.RunContext
	st    *State
	db    dirBlock
	data  []byte
	dirty bool

	hasFiletype bool
	firstIno    uint32
}

func (p *Pass2) checkBlock(run *repair.RunContext, fs interfaces.Filesystem, db dirBlock) error {
	data, err := fs.ReadBlock(db.block)
	if err != nil {
		return err
	}
	c := &dirBlockChecker{
		run:         run,
		st:          p.st,
		db:          db,
		data:        data,
		hasFiletype: fs.Superblock().HasFiletype(),
		firstIno:    fs.Superblock().EffectiveFirstIno(),
	}
	if err := c.check(); err != nil {
		return err
	}
	if c.dirty && !run.ReadOnly() {
		return fs.WriteBlock(db.block, c.data)
	}
	return nil
}

func (c *dirBlockChecker) check() error {
	size := uint32(len(c.data))
	var prev *types.DirEntry
	index := 0

	for offset := uint32(0); offset < size; {
		entry, err := directories.ParseEntry(c.data, offset, c.hasFiletype)
		if err != nil {
			var corrupt directories.ErrCorruptEntry
			if !errors.As(err, &corrupt) {
				return err
			}
			salvaged, serr := c.salvage(prev, offset)
			if serr != nil || !salvaged {
				return serr
			}
			if offset+types.DirEntryHeaderSize > size {
				// Folded into the previous record.
				return nil
			}
			continue
		}

		if err := c.checkEntry(&entry, index); err != nil {
			return err
		}
		prev = &entry
		offset += uint32(entry.RecLen)
		index++
	}
	return nil
}

// salvage turns the unreadable tail of the block starting at offset into
// free space: either one empty record or, when too short for a header,
// slack appended to the previous record.
func (c *dirBlockChecker) salvage(prev *types.DirEntry, offset uint32) (bool, error) {
	c.run.Printf("Directory inode %d, block %d, offset %d: directory corrupted\n", c.db.ino, c.db.logical, offset)
	fixed, err := c.run.Fix("Salvage", true)
	if err != nil || !fixed {
		return false, err
	}

	size := uint32(len(c.data))
	remaining := size - offset
	switch {
	case remaining >= types.DirEntryHeaderSize:
		empty := types.DirEntry{RecLen: uint16(remaining), Offset: offset}
		directories.EncodeEntryHeader(c.data, empty, c.hasFiletype)
	case prev != nil:
		prev.RecLen += uint16(remaining)
		directories.EncodeEntryHeader(c.data, *prev, c.hasFiletype)
	default:
		return false, nil
	}
	c.dirty = true
	return true, nil
}

func (c *dirBlockChecker) clearEntry(entry *types.DirEntry) {
	entry.Inode = 0
	directories.EncodeEntryHeader(c.data, *entry, c.hasFiletype)
	c.dirty = true
}

func (c *dirBlockChecker) checkEntry(entry *types.DirEntry, index int) error {
	dir := c.db.ino
	first := c.db.logical == 0

	if first && index == 0 {
		return c.checkDot(entry)
	}
	if first && index == 1 {
		return c.checkDotDot(entry)
	}

	if entry.Inode == 0 {
		return nil
	}

	if entry.Name == "." || entry.Name == ".." {
		c.run.Printf("Entry '%s' in directory inode %d is duplicate '%s' entry.\n", entry.Name, dir, entry.Name)
		return c.fixClear(entry)
	}

	ino := entry.Inode
	if ino > c.st.inodesCount || (ino < c.firstIno && ino != types.RootIno) {
		c.run.Printf("Entry '%s' in directory inode %d has bad inode #: %d.\n", entry.Name, dir, ino)
		return c.fixClear(entry)
	}
	if !c.st.inUse(ino) {
		c.run.Printf("Entry '%s' in directory inode %d has deleted/unused inode %d.  ", entry.Name, dir, ino)
		return c.fixClear(entry)
	}

	if c.st.isDir(ino) {
		if ino == types.RootIno {
			c.run.Printf("Entry '%s' in directory inode %d is a link to the root inode.\n", entry.Name, dir)
			return c.fixClear(entry)
		}
		if parent, ok := c.st.parent[ino]; ok {
			c.run.Printf("Entry '%s' in directory inode %d is a link to directory %d (already in %d).\n",
				entry.Name, dir, ino, parent)
			return c.fixClear(entry)
		}
		c.st.parent[ino] = dir
	}

	if err := c.checkFiletype(entry); err != nil {
		return err
	}
	c.st.refs[ino]++
	return nil
}

func (c *dirBlockChecker) fixClear(entry *types.DirEntry) error {
	fixed, err := c.run.Fix("Clear", true)
	if err != nil {
		return err
	}
	if fixed {
		c.clearEntry(entry)
	}
	return nil
}

func (c *dirBlockChecker) checkFiletype(entry *types.DirEntry) error {
	if !c.hasFiletype {
		return nil
	}
	want := fileTypeOf(c.st.modes[entry.Inode])
	if entry.FileType == want {
		return nil
	}
	c.run.Printf("Setting filetype for entry '%s' in directory inode %d (%d) to %d.\n",
		entry.Name, c.db.ino, entry.Inode, want)
	fixed, err := c.run.Fix("Fix", true)
	if err != nil || !fixed {
		return err
	}
	entry.FileType = want
	directories.EncodeEntryHeader(c.data, *entry, c.hasFiletype)
	c.dirty = true
	return nil
}

func (c *dirBlockChecker) checkDot(entry *types.DirEntry) error {
	dir := c.db.ino
	if entry.Name != "." {
		c.run.Printf("Missing '.' in directory inode %d.\n", dir)
		if entry.Inode != 0 || entry.RecLen < types.DirEntryLen(1) {
			c.run.MarkInvalid()
			return nil
		}
		fixed, err := c.run.Fix("Fix", true)
		if err != nil || !fixed {
			return err
		}
		entry.Name = "."
		entry.NameLen = 1
		entry.Inode = dir
		entry.FileType = types.FileTypeDir
		directories.EncodeEntry(c.data, *entry, c.hasFiletype)
		c.dirty = true
	}

	if entry.Inode != dir {
		c.run.Printf("Bad inode number for '.' in directory inode %d.\n", dir)
		fixed, err := c.run.Fix("Fix", true)
		if err != nil {
			return err
		}
		if !fixed {
			return nil
		}
		entry.Inode = dir
		directories.EncodeEntryHeader(c.data, *entry, c.hasFiletype)
		c.dirty = true
	}
	c.st.refs[dir]++
	return nil
}

func (c *dirBlockChecker) checkDotDot(entry *types.DirEntry) error {
	dir := c.db.ino
	if entry.Name != ".." {
		c.run.Printf("Missing '..' in directory inode %d.\n", dir)
		c.run.MarkInvalid()
		return nil
	}
	c.st.dotdot[dir] = entry.Inode
	c.st.dotdotAt[dir] = entryLocation{block: c.db.block, offset: entry.Offset}
	if entry.Inode != 0 && entry.Inode <= c.st.inodesCount {
		c.st.refs[entry.Inode]++
	}
	return nil
}
