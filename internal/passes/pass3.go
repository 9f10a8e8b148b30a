package passes

import (
	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/directories"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// Pass3 checks that every directory is reachable from the root and that
// each '..' names the directory that really holds it.
type Pass3 struct {
	st *State
}

func (p *Pass3) Name() string { return "Pass 3: Checking directory connectivity" }

func (p *Pass3) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	st := p.st
	if !st.isDir(types.RootIno) {
		if st.inUse(types.RootIno) {
			run.Printf("Root inode is not a directory.\n")
		} else {
			run.Printf("Root inode not allocated.\n")
		}
		run.MarkInvalid()
		return nil
	}
	st.parent[types.RootIno] = types.RootIno

	for ino := uint32(1); ino <= st.inodesCount; ino++ {
		if !st.isDir(ino) || ino == types.RootIno || p.connected(ino) {
			continue
		}
		run.Printf("Unconnected directory inode %d (%d)\n", ino, st.dotdot[ino])
		fixed, err := run.Fix("Connect to /lost+found", true)
		if err != nil {
			return err
		}
		if fixed {
			if _, err := st.reconnect(run, fs, ino); err != nil {
				return err
			}
		}
	}

	for ino := uint32(1); ino <= st.inodesCount; ino++ {
		if !st.isDir(ino) {
			continue
		}
		if err := p.checkDotDot(run, fs, ino); err != nil {
			return err
		}
	}
	return nil
}

// connected follows parent links up to the root.
func (p *Pass3) connected(ino uint32) bool {
	seen := make(map[uint32]bool)
	for ino != types.RootIno {
		if seen[ino] {
			return false
		}
		seen[ino] = true
		parent, ok := p.st.parent[ino]
		if !ok {
			return false
		}
		ino = parent
	}
	return true
}

func (p *Pass3) checkDotDot(run *repair.RunContext, fs interfaces.Filesystem, ino uint32) error {
	st := p.st
	loc, ok := st.dotdotAt[ino]
	if !ok {
		return nil
	}
	parent, ok := st.parent[ino]
	if !ok {
		return nil
	}
	have := st.dotdot[ino]
	if have == parent {
		return nil
	}

	run.Printf("'..' in directory inode %d (%d) is %d, should be %d.\n", ino, ino, have, parent)
	fixed, err := run.Fix("Fix", true)
	if err != nil || !fixed {
		return err
	}

	data, err := fs.ReadBlock(loc.block)
	if err != nil {
		return err
	}
	hasFiletype := fs.Superblock().HasFiletype()
	entry, err := directories.ParseEntry(data, loc.offset, hasFiletype)
	if err != nil {
		return err
	}
	entry.Inode = parent
	directories.EncodeEntryHeader(data, entry, hasFiletype)
	if err := fs.WriteBlock(loc.block, data); err != nil {
		return err
	}

	if have != 0 && have <= st.inodesCount && st.refs[have] > 0 {
		st.refs[have]--
	}
	st.refs[parent]++
	st.dotdot[ino] = parent
	return nil
}
