package fsck

import (
	"errors"
	"fmt"

	"github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// fakeFS is a metadata-only filesystem: validation and orchestration never
// touch data blocks.
type fakeFS struct {
	sb       *types.Superblock
	groups   []types.GroupDescriptor
	physical uint64
	physErr  error
	readOnly bool

	dirty, closed, aborted, flushed bool
}

var _ interfaces.Filesystem = (*fakeFS)(nil)

// newFakeFS describes a filesystem of 1 KiB blocks with the given number of
// groups; the last one is 200 blocks short when short is set. Each group
// keeps its bitmaps and inode table right after its superblock copy.
func newFakeFS(groups uint32, short bool) *fakeFS {
	const bpg = 1024
	blocks := 1 + groups*bpg
	if short {
		blocks -= 200
	}
	sb := &types.Superblock{
		InodesCount:     groups * 32,
		BlocksCount:     blocks,
		RBlocksCount:    blocks / 20,
		FreeBlocksCount: blocks / 2,
		FreeInodesCount: groups * 16,
		FirstDataBlock:  1,
		BlocksPerGroup:  bpg,
		FragsPerGroup:   bpg,
		InodesPerGroup:  32,
		MntCount:        1,
		MaxMntCount:     20,
		Magic:           types.SuperblockMagic,
		State:           types.StateValid,
		RevLevel:        types.RevLevelDynamic,
		FirstIno:        types.DefaultFirstIno,
		InodeSize:       types.DefaultInodeSize,
	}
	gds := make([]types.GroupDescriptor, groups)
	for g := range gds {
		first := sb.GroupBlockRange(uint32(g)).First
		gds[g] = types.GroupDescriptor{BlockBitmap: first + 2, InodeBitmap: first + 3, InodeTable: first + 4}
	}
	return &fakeFS{sb: sb, groups: gds, physical: uint64(blocks)}
}

func (f *fakeFS) Superblock() *types.Superblock    { return f.sb }
func (f *fakeFS) Groups() []types.GroupDescriptor  { return f.groups }
func (f *fakeFS) GroupCount() uint32               { return uint32(len(f.groups)) }
func (f *fakeFS) BlockSize() uint32                { return f.sb.BlockSize() }
func (f *fakeFS) DevicePath() string               { return "/dev/fake" }
func (f *fakeFS) IsReadOnly() bool                 { return f.readOnly }
func (f *fakeFS) PhysicalSize() (uint64, error)    { return f.physical, f.physErr }
func (f *fakeFS) MarkDirty()                       { f.dirty = true }
func (f *fakeFS) IsDirty() bool                    { return f.dirty }
func (f *fakeFS) ReadBlock(uint32) ([]byte, error) { return nil, errors.New("no data blocks") }
func (f *fakeFS) WriteBlock(uint32, []byte) error  { return errors.New("no data blocks") }
func (f *fakeFS) ReadInode(uint32) (*types.Inode, error) {
	return nil, errors.New("no inodes")
}
func (f *fakeFS) WriteInode(uint32, *types.Inode) error { return errors.New("no inodes") }
func (f *fakeFS) ReadBlockBitmap(uint32) (*bitmap.Bitmap, error) {
	return nil, errors.New("no bitmaps")
}
func (f *fakeFS) WriteBlockBitmap(uint32, *bitmap.Bitmap) error { return errors.New("no bitmaps") }
func (f *fakeFS) ReadInodeBitmap(uint32) (*bitmap.Bitmap, error) {
	return nil, errors.New("no bitmaps")
}
func (f *fakeFS) WriteInodeBitmap(uint32, *bitmap.Bitmap) error { return errors.New("no bitmaps") }

func (f *fakeFS) Flush() error {
	if f.readOnly {
		return fmt.Errorf("read-only")
	}
	f.flushed = true
	f.dirty = false
	return nil
}

func (f *fakeFS) Close() error {
	if f.dirty && !f.readOnly {
		_ = f.Flush()
	}
	f.closed = true
	return nil
}

func (f *fakeFS) Abort() error {
	f.aborted = true
	return nil
}

// fakePass records each invocation and optionally acts on the run.
type fakePass struct {
	name  string
	calls *[]string
	run   func(run *repair.RunContext, fs interfaces.Filesystem) error
}

func (p *fakePass) Name() string { return p.name }

func (p *fakePass) Run(run *repair.RunContext, fs interfaces.Filesystem) error {
	*p.calls = append(*p.calls, p.name)
	if p.run != nil {
		return p.run(run, fs)
	}
	return nil
}

// fakePasses builds five recording passes; pass1 may be overridden.
func fakePasses(calls *[]string, pass1 func(*repair.RunContext, interfaces.Filesystem) error) []interfaces.Pass {
	out := make([]interfaces.Pass, 5)
	for i := range out {
		out[i] = &fakePass{name: fmt.Sprintf("pass%d", i+1), calls: calls}
	}
	out[0].(*fakePass).run = pass1
	return out
}
