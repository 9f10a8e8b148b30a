package inodes

import (
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

func TestParse_RegularFile(t *testing.T) {
	data := make([]byte, 256)
	binary.LittleEndian.PutUint16(data[0:], uint16(types.ModeRegular|0o644))
	binary.LittleEndian.PutUint32(data[4:], 3000)
	binary.LittleEndian.PutUint16(data[26:], 1)
	binary.LittleEndian.PutUint32(data[28:], 8)
	binary.LittleEndian.PutUint32(data[40:], 100)
	binary.LittleEndian.PutUint32(data[40+4*types.IndBlock:], 200)
	data[120] = 0x77

	inode, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !inode.Mode.IsRegular() || !inode.InUse() || !inode.HasDataBlocks() {
		t.Errorf("unexpected inode %+v", inode)
	}
	if inode.Block[0] != 100 || inode.Block[types.IndBlock] != 200 {
		t.Errorf("Block = %v", inode.Block)
	}

	inode.LinksCount = 2
	out := make([]byte, types.InodeRecordSize)
	if err := Encode(inode, out); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got := binary.LittleEndian.Uint16(out[26:]); got != 2 {
		t.Errorf("links_count = %d, want 2", got)
	}
	if out[120] != 0x77 {
		t.Error("unmodelled bytes not preserved")
	}
}

func TestParse_FastSymlink(t *testing.T) {
	data := make([]byte, types.InodeRecordSize)
	binary.LittleEndian.PutUint16(data[0:], uint16(types.ModeSymlink|0o777))
	binary.LittleEndian.PutUint32(data[4:], 11)
	binary.LittleEndian.PutUint16(data[26:], 1)
	copy(data[40:], "/etc/passwd")

	inode, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !inode.IsFastSymlink() {
		t.Error("expected a fast symlink")
	}
	if inode.HasDataBlocks() {
		t.Error("fast symlink has no data blocks")
	}
}

func TestParse_ShortBuffer(t *testing.T) {
	if _, err := Parse(make([]byte, 64)); err == nil {
		t.Error("expected error for short inode")
	}
}

func TestBlockPointers(t *testing.T) {
	block := make([]byte, 1024)
	PutBlockPointer(block, 0, 42)
	PutBlockPointer(block, 255, 7)

	ptrs := ParseBlockPointers(block)
	if len(ptrs) != 256 {
		t.Fatalf("len = %d, want 256", len(ptrs))
	}
	if ptrs[0] != 42 || ptrs[255] != 7 || ptrs[1] != 0 {
		t.Errorf("pointers = %d %d %d", ptrs[0], ptrs[1], ptrs[255])
	}
}
