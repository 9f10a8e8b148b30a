package passes

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/parsers/directories"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

const lostAndFoundName = "lost+found"

var errNoRoom = errors.New("no room in lost+found directory")

// blocksOf returns the data blocks of directory ino in logical order.
func (st *State) blocksOf(ino uint32) []dirBlock {
	var out []dirBlock
	for _, db := range st.dirBlocks {
		if db.ino == ino {
			out = append(out, db)
		}
	}
	return out
}

// lookup finds name in directory dir.
func (st *State) lookup(fs interfaces.Filesystem, dir uint32, name string) (uint32, error) {
	hasFiletype := fs.Superblock().HasFiletype()
	for _, db := range st.blocksOf(dir) {
		data, err := fs.ReadBlock(db.block)
		if err != nil {
			return 0, err
		}
		for offset := uint32(0); offset < uint32(len(data)); {
			entry, err := directories.ParseEntry(data, offset, hasFiletype)
			if err != nil {
				break
			}
			if entry.Inode != 0 && entry.Name == name {
				return entry.Inode, nil
			}
			offset += uint32(entry.RecLen)
		}
	}
	return 0, nil
}

// findLostAndFound locates /lost+found, remembering the answer.
func (st *State) findLostAndFound(fs interfaces.Filesystem) (uint32, error) {
	if st.lostAndFound != 0 {
		return st.lostAndFound, nil
	}
	ino, err := st.lookup(fs, types.RootIno, lostAndFoundName)
	if err != nil {
		return 0, err
	}
	if ino != 0 && st.isDir(ino) {
		st.lostAndFound = ino
	}
	return st.lostAndFound, nil
}

// addEntry links ino into directory dir under name, splitting the first
// record with enough slack.
func (st *State) addEntry(fs interfaces.Filesystem, dir, ino uint32, name string) error {
	hasFiletype := fs.Superblock().HasFiletype()
	need := types.DirEntryLen(len(name))

	for _, db := range st.blocksOf(dir) {
		data, err := fs.ReadBlock(db.block)
		if err != nil {
			return err
		}
		for offset := uint32(0); offset < uint32(len(data)); {
			entry, err := directories.ParseEntry(data, offset, hasFiletype)
			if err != nil {
				break
			}
			newEntry := types.DirEntry{
				Inode:    ino,
				NameLen:  uint8(len(name)),
				FileType: fileTypeOf(st.modes[ino]),
				Name:     name,
			}
			switch used := types.DirEntryLen(int(entry.NameLen)); {
			case entry.Inode == 0 && entry.RecLen >= need:
				newEntry.Offset = entry.Offset
				newEntry.RecLen = entry.RecLen
			case entry.Inode != 0 && entry.RecLen-used >= need:
				newEntry.Offset = entry.Offset + uint32(used)
				newEntry.RecLen = entry.RecLen - used
				entry.RecLen = used
				directories.EncodeEntryHeader(data, entry, hasFiletype)
			default:
				offset += uint32(entry.RecLen)
				continue
			}
			directories.EncodeEntry(data, newEntry, hasFiletype)
			return fs.WriteBlock(db.block, data)
		}
	}
	return errNoRoom
}

// reconnect links an orphaned inode into /lost+found as "#ino". It returns
// false, with the filesystem marked invalid, when that is impossible.
func (st *State) reconnect(run *repair.RunContext, fs interfaces.Filesystem, ino uint32) (bool, error) {
	lf, err := st.findLostAndFound(fs)
	if err != nil {
		return false, err
	}
	if lf == 0 {
		run.Printf("/lost+found not found.\n")
		run.MarkInvalid()
		return false, nil
	}

	err = st.addEntry(fs, lf, ino, fmt.Sprintf("#%d", ino))
	if errors.Is(err, errNoRoom) {
		run.Printf("No room in lost+found directory.\n")
		run.MarkInvalid()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	st.refs[ino]++
	if st.isDir(ino) {
		st.parent[ino] = lf
	}
	return true, nil
}
