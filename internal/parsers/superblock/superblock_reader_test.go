package superblock

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

func makeSuperblock() []byte {
	data := make([]byte, types.SuperblockSize)
	binary.LittleEndian.PutUint32(data[0:], 64)      // inodes_count
	binary.LittleEndian.PutUint32(data[4:], 1800)    // blocks_count
	binary.LittleEndian.PutUint32(data[8:], 90)      // r_blocks_count
	binary.LittleEndian.PutUint32(data[12:], 1700)   // free_blocks_count
	binary.LittleEndian.PutUint32(data[16:], 51)     // free_inodes_count
	binary.LittleEndian.PutUint32(data[20:], 1)      // first_data_block
	binary.LittleEndian.PutUint32(data[32:], 1024)   // blocks_per_group
	binary.LittleEndian.PutUint32(data[36:], 1024)   // frags_per_group
	binary.LittleEndian.PutUint32(data[40:], 32)     // inodes_per_group
	binary.LittleEndian.PutUint16(data[52:], 3)      // mnt_count
	binary.LittleEndian.PutUint16(data[54:], 0xFFFF) // max_mnt_count = -1
	binary.LittleEndian.PutUint16(data[56:], types.SuperblockMagic)
	binary.LittleEndian.PutUint16(data[58:], uint16(types.StateValid))
	binary.LittleEndian.PutUint32(data[76:], types.RevLevelDynamic)
	binary.LittleEndian.PutUint32(data[84:], 11)  // first_ino
	binary.LittleEndian.PutUint16(data[88:], 128) // inode_size
	binary.LittleEndian.PutUint32(data[96:], types.FeatureIncompatFiletype)
	binary.LittleEndian.PutUint32(data[100:], types.FeatureROCompatSparseSuper)
	copy(data[120:], "scratch")
	data[200] = 0xAB // unmodelled byte
	return data
}

func TestParse_ValidData(t *testing.T) {
	sb, err := Parse(makeSuperblock())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if sb.BlocksCount != 1800 {
		t.Errorf("BlocksCount = %d, want 1800", sb.BlocksCount)
	}
	if sb.MaxMntCount != -1 {
		t.Errorf("MaxMntCount = %d, want -1", sb.MaxMntCount)
	}
	if !sb.State.Has(types.StateValid) {
		t.Errorf("State = %#x, want valid bit set", sb.State)
	}
	if sb.GroupCount() != 2 {
		t.Errorf("GroupCount() = %d, want 2", sb.GroupCount())
	}
	if sb.Label() != "scratch" {
		t.Errorf("Label() = %q, want %q", sb.Label(), "scratch")
	}
	if !sb.HasFiletype() || !sb.HasSparseSuper() {
		t.Errorf("features not decoded: incompat %#x ro_compat %#x", sb.FeatureIncompat, sb.FeatureROCompat)
	}
}

func TestParse_RevisionZeroDefaults(t *testing.T) {
	data := makeSuperblock()
	binary.LittleEndian.PutUint32(data[76:], types.RevLevelGood)
	binary.LittleEndian.PutUint16(data[88:], 256)

	sb, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sb.InodeSize != types.DefaultInodeSize {
		t.Errorf("InodeSize = %d, want %d", sb.InodeSize, types.DefaultInodeSize)
	}
	if sb.HasFiletype() {
		t.Error("revision 0 superblock must not report feature flags")
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(make([]byte, 100)); err == nil {
		t.Error("expected error for short buffer")
	}

	data := makeSuperblock()
	binary.LittleEndian.PutUint16(data[56:], 0x1234)
	_, err := Parse(data)
	var magic ErrBadMagic
	if !errors.As(err, &magic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	if magic.Found != 0x1234 {
		t.Errorf("Found = %#x, want 0x1234", magic.Found)
	}
}

func TestEncode_RoundTripPreservesRaw(t *testing.T) {
	data := makeSuperblock()
	sb, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	sb.MntCount = 0
	sb.State = types.StateValid | types.StateError
	out := make([]byte, types.SuperblockSize)
	if err := Encode(sb, out); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if got := binary.LittleEndian.Uint16(out[52:]); got != 0 {
		t.Errorf("mnt_count = %d, want 0", got)
	}
	if got := binary.LittleEndian.Uint16(out[58:]); got != 3 {
		t.Errorf("state = %d, want 3", got)
	}
	if out[200] != 0xAB {
		t.Errorf("unmodelled byte lost: %#x", out[200])
	}
	if err := Encode(sb, make([]byte, 10)); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name     string
		rev      uint32
		incompat uint32
		roCompat uint32
		readOnly bool
		wantErr  bool
	}{
		{"supported", types.RevLevelDynamic, types.FeatureIncompatFiletype, types.FeatureROCompatSparseSuper, false, false},
		{"revision too high", 2, 0, 0, false, true},
		{"unknown incompat", types.RevLevelDynamic, 0x0040, 0, true, true},
		{"unknown ro_compat read-write", types.RevLevelDynamic, 0, 0x0008, false, true},
		{"unknown ro_compat read-only", types.RevLevelDynamic, 0, 0x0008, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sb := &types.Superblock{RevLevel: tc.rev, FeatureIncompat: tc.incompat, FeatureROCompat: tc.roCompat}
			err := CheckCompatibility(sb, tc.readOnly)
			if (err != nil) != tc.wantErr {
				t.Errorf("CheckCompatibility() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
