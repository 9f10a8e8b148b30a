package superblock

import (
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

func TestParseGroupDescriptors(t *testing.T) {
	table := make([]byte, 1024)
	for g := 0; g < 2; g++ {
		off := g * types.GroupDescriptorSize
		binary.LittleEndian.PutUint32(table[off:], uint32(3+1024*g))
		binary.LittleEndian.PutUint32(table[off+4:], uint32(4+1024*g))
		binary.LittleEndian.PutUint32(table[off+8:], uint32(5+1024*g))
		binary.LittleEndian.PutUint16(table[off+12:], 900)
		binary.LittleEndian.PutUint16(table[off+14:], 20)
		binary.LittleEndian.PutUint16(table[off+16:], 1)
		table[off+20] = 0x5A
	}

	descs, err := ParseGroupDescriptors(table, 2)
	if err != nil {
		t.Fatalf("ParseGroupDescriptors failed: %v", err)
	}
	if descs[1].BlockBitmap != 1027 || descs[1].InodeBitmap != 1028 || descs[1].InodeTable != 1029 {
		t.Errorf("group 1 = %+v", descs[1])
	}
	if descs[0].FreeBlocksCount != 900 || descs[0].FreeInodesCount != 20 || descs[0].UsedDirsCount != 1 {
		t.Errorf("group 0 counters = %d/%d/%d", descs[0].FreeBlocksCount, descs[0].FreeInodesCount, descs[0].UsedDirsCount)
	}

	descs[1].InodeBitmap = 0
	out := make([]byte, 1024)
	if err := EncodeGroupDescriptors(descs, out); err != nil {
		t.Fatalf("EncodeGroupDescriptors failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(out[types.GroupDescriptorSize+4:]); got != 0 {
		t.Errorf("encoded inode bitmap = %d, want 0", got)
	}
	if out[types.GroupDescriptorSize+20] != 0x5A {
		t.Error("reserved tail not preserved")
	}
}

func TestParseGroupDescriptors_ShortTable(t *testing.T) {
	if _, err := ParseGroupDescriptors(make([]byte, 40), 2); err == nil {
		t.Error("expected error for short descriptor table")
	}
	if err := EncodeGroupDescriptors(make([]types.GroupDescriptor, 2), make([]byte, 40)); err == nil {
		t.Error("expected error for short output buffer")
	}
}
