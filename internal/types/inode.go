package types

// Reserved inode numbers.
const (
	BadBlocksIno uint32 = 1
	RootIno      uint32 = 2
)

// Block pointer slots in i_block.
const (
	NDirBlocks = 12
	IndBlock   = 12
	DIndBlock  = 13
	TIndBlock  = 14
	NBlocks    = 15

	// InodeRecordSize is the portion of an inode record this package decodes.
	InodeRecordSize = 128
)

// FileMode holds i_mode.
type FileMode uint16

// File type nibble values of i_mode.
const (
	ModeTypeMask FileMode = 0xF000
	ModeFifo     FileMode = 0x1000
	ModeCharDev  FileMode = 0x2000
	ModeDir      FileMode = 0x4000
	ModeBlockDev FileMode = 0x6000
	ModeRegular  FileMode = 0x8000
	ModeSymlink  FileMode = 0xA000
	ModeSocket   FileMode = 0xC000
)

// Type returns the file type nibble.
func (m FileMode) Type() FileMode { return m & ModeTypeMask }

func (m FileMode) IsDir() bool      { return m.Type() == ModeDir }
func (m FileMode) IsRegular() bool  { return m.Type() == ModeRegular }
func (m FileMode) IsSymlink() bool  { return m.Type() == ModeSymlink }
func (m FileMode) IsCharDev() bool  { return m.Type() == ModeCharDev }
func (m FileMode) IsBlockDev() bool { return m.Type() == ModeBlockDev }
func (m FileMode) IsFifo() bool     { return m.Type() == ModeFifo }
func (m FileMode) IsSocket() bool   { return m.Type() == ModeSocket }

// IsDevice reports whether the inode has no data blocks by type.
func (m FileMode) IsDevice() bool {
	switch m.Type() {
	case ModeCharDev, ModeBlockDev, ModeFifo, ModeSocket:
		return true
	}
	return false
}

// Inode is the decoded fixed part of an inode record.
type Inode struct {
	Mode       FileMode
	UID        uint16
	Size       uint32
	ATime      uint32
	CTime      uint32
	MTime      uint32
	DTime      uint32
	GID        uint16
	LinksCount uint16
	Blocks     uint32
	Flags      uint32
	Block      [NBlocks]uint32
	Generation uint32
	FileACL    uint32
	SizeHigh   uint32

	// Raw keeps the undecoded fields of the record.
	Raw [InodeRecordSize]byte
}

// InUse reports whether the inode is allocated.
func (i *Inode) InUse() bool {
	return i.LinksCount > 0
}

// IsFastSymlink reports whether the symlink target is stored in i_block.
func (i *Inode) IsFastSymlink() bool {
	return i.Mode.IsSymlink() && i.Blocks == 0 && i.Size < NBlocks*4
}

// HasDataBlocks reports whether i_block holds block numbers.
func (i *Inode) HasDataBlocks() bool {
	return !i.Mode.IsDevice() && !i.IsFastSymlink()
}
