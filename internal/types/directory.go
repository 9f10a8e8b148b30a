package types

// Directory entry layout constants.
const (
	DirEntryHeaderSize = 8
	DirEntryMaxName    = 255
)

// Directory entry file type codes (filetype feature).
const (
	FileTypeUnknown  uint8 = 0
	FileTypeRegular  uint8 = 1
	FileTypeDir      uint8 = 2
	FileTypeCharDev  uint8 = 3
	FileTypeBlockDev uint8 = 4
	FileTypeFifo     uint8 = 5
	FileTypeSocket   uint8 = 6
	FileTypeSymlink  uint8 = 7
)

// DirEntry is one linked directory record.
type DirEntry struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string

	// Offset is the entry's byte offset within its directory block.
	Offset uint32
}

// DirEntryLen returns the minimal record length for a name of nameLen bytes.
func DirEntryLen(nameLen int) uint16 {
	return uint16((DirEntryHeaderSize + nameLen + 3) &^ 3)
}
