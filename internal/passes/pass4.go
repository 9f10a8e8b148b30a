package passes

import (
	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// Pass4 compares each inode's link count with the references pass 2 and
// pass 3 found, and deals with inodes nothing refers to.
type Pass4 struct {
	st *State
}

func (p *Pass4) Name() string { return "Pass 4: Checking reference counts" }

func (p *Pass4) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	st := p.st
	firstIno := fs.Superblock().EffectiveFirstIno()

	for ino := uint32(1); ino <= st.inodesCount; ino++ {
		if ino < firstIno && ino != types.RootIno {
			continue
		}
		if !st.inUse(ino) {
			continue
		}

		if st.refs[ino] == 0 {
			cleared, err := p.unattached(run, fs, ino)
			if err != nil {
				return err
			}
			if cleared || st.refs[ino] == 0 {
				continue
			}
		}

		if st.refs[ino] != st.diskLinks[ino] {
			if err := p.fixLinkCount(run, fs, ino); err != nil {
				return err
			}
		}
	}
	return nil
}

// unattached handles an in-use inode with no directory entry. Empty
// inodes are cleared, anything else is offered to /lost+found.
func (p *Pass4) unattached(run *repair.RunContext, fs interfaces.Filesystem, ino uint32) (bool, error) {
	inode, err := fs.ReadInode(ino)
	if err != nil {
		return false, err
	}

	if inode.Size == 0 && inode.Blocks == 0 {
		run.Printf("Unattached zero-length inode %d.  ", ino)
		fixed, err := run.Fix("Clear", true)
		if err != nil || !fixed {
			return false, err
		}
		inode.LinksCount = 0
		inode.DTime = uint32(p.st.opts.Now().Unix())
		if err := fs.WriteInode(ino, inode); err != nil {
			return false, err
		}
		p.st.unmarkInode(ino)
		return true, nil
	}

	run.Printf("Unattached inode %d\n", ino)
	fixed, err := run.Fix("Connect to /lost+found", true)
	if err != nil || !fixed {
		return false, err
	}
	_, err = p.st.reconnect(run, fs, ino)
	return false, err
}

func (p *Pass4) fixLinkCount(run *repair.RunContext, fs interfaces.Filesystem, ino uint32) error {
	st := p.st
	run.Printf("Inode %d ref count is %d, should be %d.  ", ino, st.diskLinks[ino], st.refs[ino])
	fixed, err := run.Fix("Fix", true)
	if err != nil || !fixed {
		return err
	}
	inode, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}
	inode.LinksCount = st.refs[ino]
	if err := fs.WriteInode(ino, inode); err != nil {
		return err
	}
	st.diskLinks[ino] = st.refs[ino]
	return nil
}
