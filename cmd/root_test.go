package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-e2fsck/internal/fsck"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/testutil"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// imageFile writes img to a temporary file next to a config that keeps the
// host's mount table out of the way.
func imageFile(t *testing.T, img *testutil.Image) (path, cfg string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "fs.img")
	require.NoError(t, os.WriteFile(path, img.Dev.Bytes(), 0o644))

	cfg = filepath.Join(dir, "e2fsck.yaml")
	content := "mount_table: " + filepath.Join(dir, "no-mounts") + "\nmax_restarts: 2\n"
	require.NoError(t, os.WriteFile(cfg, []byte(content), 0o644))
	return path, cfg
}

// loadBack copies the checked file into img so its helpers see the result.
func loadBack(t *testing.T, img *testutil.Image, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(img.Dev.Bytes(), data)
	img.Reload()
}

func run(args ...string) (fsck.ExitCode, string, string) {
	var out, errOut bytes.Buffer
	code := execute(args, strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestExecute_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no device", nil, "exactly one device is required"},
		{"two devices", []string{"/dev/a", "/dev/b"}, "exactly one device is required"},
		{"unknown flag", []string{"--bogus", "/dev/a"}, "invalid arguments"},
		{"read-only with bad block scan", []string{"-n", "-c", "/dev/a"}, "incompatible"},
		{"read-only with bad block list", []string{"-n", "-l", "list", "/dev/a"}, "incompatible"},
		{"block size not a power of two", []string{"-B", "1000", "/dev/a"}, "invalid block size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := run(tt.args...)
			assert.Equal(t, fsck.ExitUsage, code)
			assert.Contains(t, errOut, tt.want)
			assert.Contains(t, errOut, "Usage:")
		})
	}
}

func TestExecute_Version(t *testing.T) {
	code, out, errOut := run("-V")
	assert.Equal(t, fsck.ExitOK, code)
	assert.Empty(t, out)
	assert.Equal(t, "e2fsck "+version+" ("+versionDate+")\n", errOut)
}

func TestExecute_OpenFailure(t *testing.T) {
	img := testutil.NewImage(t)
	_, cfg := imageFile(t, img)

	code, _, errOut := run("-n", "--config", cfg, filepath.Join(t.TempDir(), "missing.img"))
	assert.Equal(t, fsck.ExitError, code)
	assert.Contains(t, errOut, "while trying to open")
}

func TestExecute_FlushFailure(t *testing.T) {
	img := testutil.NewImage(t)
	_, cfg := imageFile(t, img)
	missing := filepath.Join(t.TempDir(), "missing.img")

	code, out, errOut := run("-F", "-n", "--config", cfg, missing)
	assert.Equal(t, fsck.ExitError, code)
	assert.Contains(t, errOut, "while trying to flush "+missing)
	assert.NotContains(t, errOut, "while trying to open")
	assert.Empty(t, out)
}

func TestExecute_CleanPreen(t *testing.T) {
	img := testutil.NewImage(t)
	path, cfg := imageFile(t, img)

	code, out, errOut := run("-p", "--config", cfg, path)
	assert.Equal(t, fsck.ExitOK, code)
	assert.Equal(t, fmt.Sprintf("%s: clean, 11/64 files, %d/1800 blocks\n", path, img.SB.UsedBlocks()), out)
	assert.NotContains(t, errOut, "e2fsck "+version, "preen runs are quiet")
}

func TestExecute_ForcedReadOnly(t *testing.T) {
	img := testutil.NewImage(t)
	path, cfg := imageFile(t, img)

	code, out, errOut := run("-fn", "--config", cfg, path)
	assert.Equal(t, fsck.ExitOK, code)
	assert.Contains(t, errOut, "e2fsck "+version)
	assert.Contains(t, out, "Pass 1: Checking inodes, blocks, and sizes\n")
	assert.Contains(t, out, "Pass 5: Checking group summary information\n")
	assert.Contains(t, out, path+": 11/64 files (0.0% non-contiguous)")
}

func plantLinkError(t *testing.T, img *testutil.Image) uint32 {
	t.Helper()
	ino := img.AddFile("a", 1)
	inode := img.Inode(ino)
	inode.LinksCount = 3
	img.PutInode(ino, inode)
	img.SB.State = 0
	img.WriteMetadata()
	return ino
}

func TestExecute_RepairModes(t *testing.T) {
	tests := []struct {
		name      string
		flag      string
		want      fsck.ExitCode
		wantLinks uint16
		banner    bool
	}{
		{"assume yes", "-y", fsck.ExitNonDestruct, 1, true},
		{"preen", "-p", fsck.ExitNonDestruct, 1, false},
		{"read-only", "-n", fsck.ExitUncorrected, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testutil.NewImage(t)
			ino := plantLinkError(t, img)
			path, cfg := imageFile(t, img)

			code, out, _ := run(tt.flag, "--config", cfg, path)
			assert.Equal(t, tt.want, code)
			assert.Contains(t, out, "Inode 12 ref count is 3, should be 1.")
			assert.Equal(t, tt.banner, strings.Contains(out, "***** FILE SYSTEM WAS MODIFIED *****"))

			loadBack(t, img, path)
			assert.Equal(t, tt.wantLinks, img.Inode(ino).LinksCount)
			if tt.want != fsck.ExitUncorrected {
				assert.True(t, img.SB.State.Has(types.StateValid))
				assert.Zero(t, img.SB.MntCount)
			}
		})
	}
}

func TestExecute_BackupSuperblock(t *testing.T) {
	img := testutil.NewImage(t)
	data := img.Dev.Bytes()
	data[types.SuperblockOffset+56], data[types.SuperblockOffset+57] = 0, 0
	path, cfg := imageFile(t, img)

	code, out, _ := run("-p", "-b", "1025", "--config", cfg, path)
	assert.Equal(t, fsck.ExitOK, code, "a clean backup still skips the check")
	assert.Contains(t, out, ": clean, ")

	code, out, _ = run("-y", "-f", "-b", "1025", "--config", cfg, path)
	assert.Equal(t, fsck.ExitNonDestruct, code, "restoring the primary superblock is a change")
	assert.Contains(t, out, "***** FILE SYSTEM WAS MODIFIED *****")

	loadBack(t, img, path)
	assert.Equal(t, types.SuperblockMagic, img.SB.Magic)
}

func TestExecute_BadBlocksList(t *testing.T) {
	img := testutil.NewImage(t)
	path, cfg := imageFile(t, img)
	list := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(list, []byte("1500\n1501\n"), 0o644))

	code, out, _ := run("-y", "-l", list, "--config", cfg, path)
	assert.Equal(t, fsck.ExitNonDestruct, code)
	assert.Contains(t, out, "Block bitmap differences: +(1500--1501)")

	loadBack(t, img, path)
	bad := img.Inode(types.BadBlocksIno)
	assert.Equal(t, []uint32{1500, 1501}, bad.Block[:2])

	code, _, _ = run("-p", "--config", cfg, path)
	assert.Equal(t, fsck.ExitOK, code, "second run finds nothing to do")
}

func TestModeSelection_LastWins(t *testing.T) {
	tests := []struct {
		args      []string
		mode      repair.Mode
		assumeYes bool
	}{
		{nil, repair.ModeInteractive, false},
		{[]string{"-p"}, repair.ModeUnattended, false},
		{[]string{"-a"}, repair.ModeUnattended, false},
		{[]string{"-n", "-y"}, repair.ModeInteractive, true},
		{[]string{"-y", "-n"}, repair.ModeReadOnly, false},
		{[]string{"-ny", "-p"}, repair.ModeUnattended, false},
	}
	for _, tt := range tests {
		var sel modeSelection
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		sel.register(flags)
		require.NoError(t, flags.Parse(tt.args))

		mode, yes := sel.Resolve()
		assert.Equal(t, tt.mode, mode, "%v", tt.args)
		assert.Equal(t, tt.assumeYes, yes, "%v", tt.args)
	}
}
