package directories

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

func TestParseEntry_WalkBlock(t *testing.T) {
	block := make([]byte, 1024)
	EncodeEntry(block, types.DirEntry{Inode: 2, RecLen: 12, NameLen: 1, FileType: types.FileTypeDir, Name: "."}, true)
	EncodeEntry(block, types.DirEntry{Inode: 2, RecLen: 12, NameLen: 2, FileType: types.FileTypeDir, Name: "..", Offset: 12}, true)
	EncodeEntry(block, types.DirEntry{Inode: 11, RecLen: 1000, NameLen: 10, FileType: types.FileTypeDir, Name: "lost+found", Offset: 24}, true)

	var names []string
	for off := uint32(0); off < 1024; {
		entry, err := ParseEntry(block, off, true)
		require.NoError(t, err)
		names = append(names, entry.Name)
		off += uint32(entry.RecLen)
	}
	assert.Equal(t, []string{".", "..", "lost+found"}, names)
}

func TestParseEntry_Corrupt(t *testing.T) {
	tests := []struct {
		name        string
		entry       types.DirEntry
		offset      uint32
		hasFiletype bool
		reason      string
	}{
		{"rec_len too small", types.DirEntry{Inode: 12, RecLen: 4}, 0, true, "rec_len too small"},
		{"rec_len not aligned", types.DirEntry{Inode: 12, RecLen: 14, NameLen: 1}, 0, true, "rec_len not aligned"},
		{"rec_len past block", types.DirEntry{Inode: 12, RecLen: 2048, NameLen: 1}, 0, true, "rec_len crosses block end"},
		{"name longer than record", types.DirEntry{Inode: 12, RecLen: 12, NameLen: 9}, 0, true, "name_len exceeds rec_len"},
		{"header past block", types.DirEntry{}, 1020, true, "header crosses block end"},
		{"high name byte without filetype", types.DirEntry{Inode: 12, RecLen: 12, NameLen: 1, FileType: 1}, 0, false, "name too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := make([]byte, 1024)
			if tt.offset == 0 {
				EncodeEntryHeader(block, tt.entry, true)
			}
			_, err := ParseEntry(block, tt.offset, tt.hasFiletype)
			var corrupt ErrCorruptEntry
			require.True(t, errors.As(err, &corrupt), "got %v", err)
			assert.Equal(t, tt.reason, corrupt.Reason)
		})
	}
}

func TestEncodeEntryHeader_LeavesName(t *testing.T) {
	block := make([]byte, 64)
	EncodeEntry(block, types.DirEntry{Inode: 12, RecLen: 16, NameLen: 5, FileType: types.FileTypeRegular, Name: "hello"}, false)
	assert.Zero(t, block[7], "file type is not written without the filetype feature")

	EncodeEntryHeader(block, types.DirEntry{Inode: 0, RecLen: 16, NameLen: 5}, false)
	entry, err := ParseEntry(block, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), entry.Inode)
	assert.Equal(t, "hello", entry.Name)
}

func TestDirEntryLen(t *testing.T) {
	assert.Equal(t, uint16(12), types.DirEntryLen(1))
	assert.Equal(t, uint16(12), types.DirEntryLen(4))
	assert.Equal(t, uint16(16), types.DirEntryLen(5))
	assert.Equal(t, uint16(20), types.DirEntryLen(10))
}
