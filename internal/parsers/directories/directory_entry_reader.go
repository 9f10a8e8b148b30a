package directories

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

var endian = binary.LittleEndian

// ErrCorruptEntry describes a directory record whose header cannot be
// trusted.
type ErrCorruptEntry struct {
	Offset uint32
	RecLen uint16
	Reason string
}

func (err ErrCorruptEntry) Error() string {
	return fmt.Sprintf("corrupt directory entry at offset %d (rec_len %d): %s", err.Offset, err.RecLen, err.Reason)
}

// ParseEntry decodes the record at offset. hasFiletype selects whether byte
// 7 is a file type or the high byte of the name length.
func ParseEntry(block []byte, offset uint32, hasFiletype bool) (types.DirEntry, error) {
	size := uint32(len(block))
	if offset+types.DirEntryHeaderSize > size {
		return types.DirEntry{}, ErrCorruptEntry{Offset: offset, Reason: "header crosses block end"}
	}

	entry := types.DirEntry{
		Inode:   endian.Uint32(block[offset:]),
		RecLen:  endian.Uint16(block[offset+4:]),
		NameLen: block[offset+6],
		Offset:  offset,
	}
	nameLen := uint32(entry.NameLen)
	if hasFiletype {
		entry.FileType = block[offset+7]
	} else if block[offset+7] != 0 {
		return entry, ErrCorruptEntry{Offset: offset, RecLen: entry.RecLen, Reason: "name too long"}
	}

	switch {
	case entry.RecLen < types.DirEntryHeaderSize:
		return entry, ErrCorruptEntry{Offset: offset, RecLen: entry.RecLen, Reason: "rec_len too small"}
	case entry.RecLen%4 != 0:
		return entry, ErrCorruptEntry{Offset: offset, RecLen: entry.RecLen, Reason: "rec_len not aligned"}
	case offset+uint32(entry.RecLen) > size:
		return entry, ErrCorruptEntry{Offset: offset, RecLen: entry.RecLen, Reason: "rec_len crosses block end"}
	case nameLen+types.DirEntryHeaderSize > uint32(entry.RecLen):
		return entry, ErrCorruptEntry{Offset: offset, RecLen: entry.RecLen, Reason: "name_len exceeds rec_len"}
	}

	entry.Name = string(block[offset+types.DirEntryHeaderSize : offset+types.DirEntryHeaderSize+nameLen])
	return entry, nil
}

// EncodeEntryHeader rewrites the inode, rec_len and name_len fields of the
// record at entry.Offset. The name bytes are left alone.
func EncodeEntryHeader(block []byte, entry types.DirEntry, hasFiletype bool) {
	off := entry.Offset
	endian.PutUint32(block[off:], entry.Inode)
	endian.PutUint16(block[off+4:], entry.RecLen)
	block[off+6] = entry.NameLen
	if hasFiletype {
		block[off+7] = entry.FileType
	} else {
		block[off+7] = 0
	}
}

// EncodeEntry writes a complete record, name included.
func EncodeEntry(block []byte, entry types.DirEntry, hasFiletype bool) {
	EncodeEntryHeader(block, entry, hasFiletype)
	copy(block[entry.Offset+types.DirEntryHeaderSize:], entry.Name)
}
