package types

// CheckStatistics accumulates the counters printed at the end of a check.
type CheckStatistics struct {
	Directories  uint32
	Regular      uint32
	CharDevices  uint32
	BlockDevices uint32
	Fifos        uint32
	Sockets      uint32
	Symlinks     uint32
	FastSymlinks uint32

	// Links counts hard links beyond the first to non-directories.
	Links uint32
	// Total counts in-use inodes of every type.
	Total uint32

	Fragmented uint32
	IndBlocks  uint32
	DIndBlocks uint32
	TIndBlocks uint32
	BadBlocks  uint32
}
