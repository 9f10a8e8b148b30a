package fsck

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

type declineAll struct{}

func (declineAll) Confirm(out io.Writer, question string, _ bool) repair.Decision {
	return repair.Skip
}

func newRun(mode repair.Mode, op repair.Operator, out io.Writer, groups uint32) *repair.RunContext {
	run := repair.NewRunContext(mode, op, out, "/dev/fake")
	run.BeginOpen(groups)
	return run
}

func TestValidate_ValidFilesystem(t *testing.T) {
	fs := newFakeFS(3, true)
	before := *fs.sb
	groupsBefore := append([]types.GroupDescriptor(nil), fs.groups...)

	var out bytes.Buffer
	run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))

	assert.Empty(t, out.String())
	assert.Equal(t, before, *fs.sb)
	assert.Equal(t, groupsBefore, fs.groups)
	assert.False(t, fs.dirty)
	assert.False(t, run.Relocations.Any())
	assert.Equal(t, repair.RunState{Modified: false, Valid: true}, run.State)
}

func TestValidate_ScalarCorruptionIsFatal(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(sb *types.Superblock)
	}{
		{"inodes_count", func(sb *types.Superblock) { sb.InodesCount = 0 }},
		{"blocks_count", func(sb *types.Superblock) { sb.BlocksCount = 0 }},
		{"first_data_block", func(sb *types.Superblock) { sb.FirstDataBlock = sb.BlocksCount + 1 }},
		{"log_frag_size", func(sb *types.Superblock) { sb.LogFragSize = 3 }},
		{"log_block_size", func(sb *types.Superblock) { sb.LogFragSize = 1 }},
		{"log_block_size", func(sb *types.Superblock) { sb.LogBlockSize, sb.LogFragSize = 3, 2 }},
		{"frags_per_group", func(sb *types.Superblock) { sb.FragsPerGroup = 0 }},
		{"blocks_per_group", func(sb *types.Superblock) { sb.BlocksPerGroup = 0 }},
		{"blocks_per_group", func(sb *types.Superblock) { sb.BlocksPerGroup = 8*1024 + 1 }},
		{"inodes_per_group", func(sb *types.Superblock) { sb.InodesPerGroup = 0 }},
		{"inodes_per_group", func(sb *types.Superblock) { sb.InodesPerGroup = 8*1024 + 1 }},
		{"r_blocks_count", func(sb *types.Superblock) { sb.RBlocksCount = sb.BlocksCount + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			fs := newFakeFS(2, false)
			// A group pointer that would otherwise be relocated
			fs.groups[1].BlockBitmap = 5
			tt.mutate(fs.sb)

			var out bytes.Buffer
			run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())
			err := NewValidator().Validate(fs, run)

			require.Error(t, err)
			assert.True(t, repair.IsFatal(err))
			assert.Contains(t, out.String(), "Corruption found in superblock.  ("+tt.field+" = ")
			assert.Contains(t, out.String(), "e2fsck -b 8193 <device>")
			assert.NotContains(t, out.String(), "not in group")
			assert.False(t, run.Relocations.Any())
			assert.False(t, fs.dirty)
		})
	}
}

func TestValidate_PhysicalSize(t *testing.T) {
	t.Run("query failure is fatal", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.physErr = errors.New("ioctl failed")
		run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, io.Discard, fs.GroupCount())
		assert.True(t, repair.IsFatal(NewValidator().Validate(fs, run)))
	})

	t.Run("preen aborts", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.physical = 1000
		var out bytes.Buffer
		run := newRun(repair.ModeUnattended, nil, &out, fs.GroupCount())

		err := NewValidator().Validate(fs, run)
		assert.True(t, repair.IsFatal(err))
		assert.Contains(t, out.String(), "The filesystem size (according to the superblock) is 2049 blocks\n")
		assert.Contains(t, out.String(), "The physical size of the device is 1000 blocks\n")
		assert.Contains(t, out.String(), "UNEXPECTED INCONSISTENCY")
	})

	t.Run("read-only continues invalid", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.physical = 1000
		var out bytes.Buffer
		run := newRun(repair.ModeReadOnly, nil, &out, fs.GroupCount())

		require.NoError(t, NewValidator().Validate(fs, run))
		assert.Contains(t, out.String(), "Abort? no\n")
		assert.False(t, run.State.Valid)
	})

	t.Run("interactive decline continues", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.physical = 1000
		run := newRun(repair.ModeInteractive, declineAll{}, io.Discard, fs.GroupCount())
		require.NoError(t, NewValidator().Validate(fs, run))
		assert.False(t, run.State.Valid)
	})
}

func TestValidate_RecomputedFields(t *testing.T) {
	t.Run("fragment size", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.sb.LogBlockSize = 1
		fs.sb.FragsPerGroup = 2048
		var out bytes.Buffer
		run := newRun(repair.ModeReadOnly, nil, &out, fs.GroupCount())

		err := NewValidator().Validate(fs, run)
		assert.True(t, repair.IsFatal(err))
		assert.Contains(t, out.String(), "Superblock block_size = 2048, fragsize = 1024.\n")
	})

	t.Run("blocks_per_group", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.sb.FragsPerGroup = 512
		var out bytes.Buffer
		run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())

		err := NewValidator().Validate(fs, run)
		assert.True(t, repair.IsFatal(err))
		assert.Contains(t, out.String(), "Superblock blocks_per_group = 1024, should have been 512\n")
		assert.Contains(t, out.String(), CorruptHint)
	})

	t.Run("first_data_block", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.sb.FirstDataBlock = 0
		var out bytes.Buffer
		run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())

		err := NewValidator().Validate(fs, run)
		assert.True(t, repair.IsFatal(err))
		assert.Contains(t, out.String(), "Superblock first_data_block = 0, should have been 1\n")
	})

	t.Run("inodes_count beyond the groups", func(t *testing.T) {
		fs := newFakeFS(2, false)
		fs.sb.InodesCount = 0xFFFFFFFF
		var out bytes.Buffer
		run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())

		err := NewValidator().Validate(fs, run)
		assert.True(t, repair.IsFatal(err))
		assert.Contains(t, out.String(), "Superblock inodes_count = 4294967295, should have been 64\n")
		assert.Contains(t, out.String(), CorruptHint)
		assert.False(t, fs.dirty)
	})
}

func TestValidate_NarrowLastGroup(t *testing.T) {
	fs := newFakeFS(2, true)
	r := fs.sb.GroupBlockRange(1)
	require.Equal(t, fs.sb.BlocksCount, r.Last)
	require.Less(t, r.Last-r.First, fs.sb.BlocksPerGroup)

	// Inside the real range although past half the nominal span
	fs.groups[1].BlockBitmap = r.Last - 1
	fs.groups[1].InodeBitmap = r.Last - 2
	fs.groups[1].InodeTable = r.Last - fs.sb.InodeBlocksPerGroup() - 2

	run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, io.Discard, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))
	assert.False(t, run.Relocations.Any())

	// Inside the nominal span, beyond blocks_count
	fs.groups[1].InodeTable = r.Last - 1
	fs.groups[1].BlockBitmap = r.Last
	run = newRun(repair.ModeInteractive, repair.AlwaysYes{}, io.Discard, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))
	assert.Equal(t, uint32(1), run.Relocations.Count(repair.InodeTable, 1))
	assert.Equal(t, uint32(1), run.Relocations.Count(repair.BlockBitmap, 1))
	assert.Equal(t, uint32(2), run.Relocations.Total())
}

func TestValidate_RelocationAccepted(t *testing.T) {
	fs := newFakeFS(3, false)
	fs.groups[1].InodeBitmap = 42

	var out bytes.Buffer
	run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))

	assert.Zero(t, fs.groups[1].InodeBitmap)
	assert.True(t, fs.dirty)
	assert.True(t, run.State.Modified)
	assert.Equal(t, uint32(1), run.Relocations.Count(repair.InodeBitmap, 1))
	assert.Equal(t, uint32(1), run.Relocations.Total())
	assert.Contains(t, out.String(), RelocateHint)
	assert.Contains(t, out.String(), "Inode bitmap group 1 not in group.  (block 42)\n")
	assert.Contains(t, out.String(), "Relocate? yes\n")
}

func TestValidate_RelocationDeclined(t *testing.T) {
	fs := newFakeFS(3, false)
	fs.groups[2].InodeTable = 7

	var out bytes.Buffer
	run := newRun(repair.ModeInteractive, declineAll{}, &out, fs.GroupCount())
	err := NewValidator().Validate(fs, run)

	require.Error(t, err)
	assert.True(t, repair.IsFatal(err))
	assert.Contains(t, err.Error(), "Inode table not in group")
	assert.Contains(t, out.String(), "WARNING: SEVERE DATA LOSS POSSIBLE.\n")
	assert.Equal(t, uint32(7), fs.groups[2].InodeTable)
	assert.False(t, fs.dirty)
	assert.False(t, run.State.Modified)
}

func TestValidate_RelocationReadOnly(t *testing.T) {
	fs := newFakeFS(2, false)
	fs.groups[0].BlockBitmap = 1500

	var out bytes.Buffer
	run := newRun(repair.ModeReadOnly, nil, &out, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))

	assert.Equal(t, uint32(1500), fs.groups[0].BlockBitmap)
	assert.True(t, run.Relocations.Flagged(repair.BlockBitmap, 0))
	assert.False(t, run.State.Valid)
	assert.False(t, run.State.Modified)
	assert.Contains(t, out.String(), "Relocate? no\n")
}

func TestValidate_RelocateHintOnce(t *testing.T) {
	fs := newFakeFS(5, false)
	for g := range fs.groups {
		fs.groups[g].BlockBitmap = 0xFFFFFF
		fs.groups[g].InodeBitmap = 0xFFFFFE
	}

	var out bytes.Buffer
	run := newRun(repair.ModeInteractive, repair.AlwaysYes{}, &out, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))

	assert.Equal(t, uint32(10), run.Relocations.Total())
	assert.Equal(t, 1, strings.Count(out.String(), "Note: if there is several inode or block bitmap blocks"))

	// A second open in the same run does not repeat it
	fs2 := newFakeFS(5, false)
	fs2.groups[4].InodeTable = 1
	out.Reset()
	run.BeginOpen(fs2.GroupCount())
	require.NoError(t, NewValidator().Validate(fs2, run))
	assert.NotContains(t, out.String(), "Note: if there is several")
}

func TestValidate_PreenRelocation(t *testing.T) {
	fs := newFakeFS(2, false)
	fs.groups[0].BlockBitmap = 4000
	fs.groups[1].BlockBitmap = 4001

	var out bytes.Buffer
	run := newRun(repair.ModeUnattended, nil, &out, fs.GroupCount())
	require.NoError(t, NewValidator().Validate(fs, run))

	assert.Equal(t, 1, strings.Count(out.String(), "UNEXPECTED INCONSISTENCY"))
	assert.Equal(t, uint32(2), run.Relocations.Total())
}
