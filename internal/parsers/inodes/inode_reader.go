package inodes

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

var endian = binary.LittleEndian

// Parse decodes the fixed 128-byte part of an inode record.
func Parse(data []byte) (*types.Inode, error) {
	if len(data) < types.InodeRecordSize {
		return nil, fmt.Errorf("data too small for inode: %d bytes", len(data))
	}

	inode := &types.Inode{}
	copy(inode.Raw[:], data[:types.InodeRecordSize])

	inode.Mode = types.FileMode(endian.Uint16(data[0:2]))
	inode.UID = endian.Uint16(data[2:4])
	inode.Size = endian.Uint32(data[4:8])
	inode.ATime = endian.Uint32(data[8:12])
	inode.CTime = endian.Uint32(data[12:16])
	inode.MTime = endian.Uint32(data[16:20])
	inode.DTime = endian.Uint32(data[20:24])
	inode.GID = endian.Uint16(data[24:26])
	inode.LinksCount = endian.Uint16(data[26:28])
	inode.Blocks = endian.Uint32(data[28:32])
	inode.Flags = endian.Uint32(data[32:36])
	for i := range inode.Block {
		base := 40 + 4*i
		inode.Block[i] = endian.Uint32(data[base : base+4])
	}
	inode.Generation = endian.Uint32(data[100:104])
	inode.FileACL = endian.Uint32(data[104:108])
	inode.SizeHigh = endian.Uint32(data[108:112])

	return inode, nil
}

// Encode writes inode into b, starting from the preserved raw bytes.
func Encode(inode *types.Inode, b []byte) error {
	if len(b) < types.InodeRecordSize {
		return fmt.Errorf("buffer too small for inode: %d bytes", len(b))
	}
	copy(b, inode.Raw[:])

	endian.PutUint16(b[0:], uint16(inode.Mode))
	endian.PutUint16(b[2:], inode.UID)
	endian.PutUint32(b[4:], inode.Size)
	endian.PutUint32(b[8:], inode.ATime)
	endian.PutUint32(b[12:], inode.CTime)
	endian.PutUint32(b[16:], inode.MTime)
	endian.PutUint32(b[20:], inode.DTime)
	endian.PutUint16(b[24:], inode.GID)
	endian.PutUint16(b[26:], inode.LinksCount)
	endian.PutUint32(b[28:], inode.Blocks)
	endian.PutUint32(b[32:], inode.Flags)
	for i := range inode.Block {
		endian.PutUint32(b[40+4*i:], inode.Block[i])
	}
	endian.PutUint32(b[100:], inode.Generation)
	endian.PutUint32(b[104:], inode.FileACL)
	endian.PutUint32(b[108:], inode.SizeHigh)

	return nil
}

// ParseBlockPointers decodes an indirect block into block numbers.
func ParseBlockPointers(data []byte) []uint32 {
	ptrs := make([]uint32, len(data)/4)
	for i := range ptrs {
		ptrs[i] = endian.Uint32(data[4*i:])
	}
	return ptrs
}

// PutBlockPointer overwrites the pointer at index idx of an indirect block.
func PutBlockPointer(data []byte, idx int, block uint32) {
	endian.PutUint32(data[4*idx:], block)
}
