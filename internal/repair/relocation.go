package repair

import (
	"fmt"
	"strings"
)

// MetadataKind names one of the three relocatable group metadata pointers.
type MetadataKind int

const (
	BlockBitmap MetadataKind = iota
	InodeBitmap
	InodeTable
)

func (k MetadataKind) String() string {
	switch k {
	case BlockBitmap:
		return "Block bitmap"
	case InodeBitmap:
		return "Inode bitmap"
	case InodeTable:
		return "Inode table"
	default:
		return fmt.Sprintf("MetadataKind(%d)", int(k))
	}
}

// RelocationFlags counts, per group, how often each metadata pointer was
// discarded for reconstruction. A fresh value is allocated on every open.
type RelocationFlags struct {
	counts [3][]uint32
}

// NewRelocationFlags allocates zeroed counters for groups block groups.
func NewRelocationFlags(groups uint32) *RelocationFlags {
	f := &RelocationFlags{}
	for i := range f.counts {
		f.counts[i] = make([]uint32, groups)
	}
	return f
}

// Groups returns the number of groups tracked.
func (f *RelocationFlags) Groups() uint32 {
	return uint32(len(f.counts[BlockBitmap]))
}

// Mark increments the counter of kind for group.
func (f *RelocationFlags) Mark(kind MetadataKind, group uint32) {
	f.counts[kind][group]++
}

// Count returns the counter of kind for group.
func (f *RelocationFlags) Count(kind MetadataKind, group uint32) uint32 {
	if group >= f.Groups() {
		return 0
	}
	return f.counts[kind][group]
}

// Flagged reports whether group's pointer of kind must be reconstructed
// rather than trusted.
func (f *RelocationFlags) Flagged(kind MetadataKind, group uint32) bool {
	return f.Count(kind, group) > 0
}

// Any reports whether any relocation happened.
func (f *RelocationFlags) Any() bool {
	for _, counts := range f.counts {
		for _, c := range counts {
			if c != 0 {
				return true
			}
		}
	}
	return false
}

// Total returns the number of relocations across all groups and kinds.
func (f *RelocationFlags) Total() uint32 {
	var total uint32
	for _, counts := range f.counts {
		for _, c := range counts {
			total += c
		}
	}
	return total
}

// Snapshot returns a signature of which pointers were relocated, used to
// notice a restart that reproduces the same relocations.
func (f *RelocationFlags) Snapshot() string {
	var b strings.Builder
	for kind, counts := range f.counts {
		for group, c := range counts {
			if c != 0 {
				fmt.Fprintf(&b, "%d:%d;", kind, group)
			}
		}
	}
	return b.String()
}
