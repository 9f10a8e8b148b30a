package fsck_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-e2fsck/internal/fsck"
	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/passes"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/testutil"
	"github.com/deploymenttheory/go-e2fsck/pkg/app"
)

var imageNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// runImage checks img with the real passes, answering yes to everything.
func runImage(t *testing.T, img *testutil.Image) (fsck.Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	appCtx := app.NewContext()
	appCtx.Out = &out
	appCtx.ErrOut = io.Discard
	run := repair.NewRunContext(repair.ModeInteractive, repair.AlwaysYes{}, &out, "/dev/test0")
	now := func() time.Time { return imageNow }

	checker := fsck.NewChecker(appCtx, run, img.Opener(false),
		func() []interfaces.Pass { return passes.NewSet(passes.Options{Now: now}) },
		fsck.Options{Force: true, MaxRestarts: 3, Now: now})
	res, err := checker.Run()
	return res, out.String(), err
}

func TestChecker_ImageRelocationRestartsThenRunsClean(t *testing.T) {
	img := testutil.NewImage(t)
	img.AddFile("a", 2)
	img.GD[1].InodeBitmap = 5
	img.WriteMetadata()

	res, out, err := runImage(t, img)
	require.NoError(t, err)
	assert.Equal(t, fsck.ExitNonDestruct, res.Exit)
	assert.Equal(t, 1, res.Restarts)
	assert.Contains(t, out, "Inode bitmap group 1 not in group.  (block 5)\n")
	assert.Contains(t, out, "Relocating group 1's inode bitmap to 1028...\n")
	assert.Contains(t, out, "Restarting e2fsck from the beginning...\n")
	assert.NotContains(t, out, "differences")
	assert.Contains(t, out, "***** FILE SYSTEM WAS MODIFIED *****")

	img.Reload()
	assert.Equal(t, uint32(1028), img.GD[1].InodeBitmap)

	res, out, err = runImage(t, img)
	require.NoError(t, err)
	assert.Equal(t, fsck.ExitOK, res.Exit)
	assert.Zero(t, res.Restarts)
	assert.NotContains(t, out, "Relocat")
	assert.NotContains(t, out, "Fix?")
	assert.NotContains(t, out, "MODIFIED")
}

func TestChecker_ImageInodesCountBeyondGroupsIsFatal(t *testing.T) {
	img := testutil.NewImage(t)
	img.SB.InodesCount = 0xFFFFFFFF
	img.WritePrimaryOnly()
	before := append([]byte(nil), img.Dev.Bytes()...)

	_, out, err := runImage(t, img)
	require.Error(t, err)
	assert.True(t, repair.IsFatal(err))
	assert.Contains(t, out, "Superblock inodes_count = 4294967295, should have been 64\n")
	assert.NotContains(t, out, "Pass 1")
	assert.Equal(t, before, img.Dev.Bytes())
}
