package superblock

import (
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// ParseGroupDescriptor decodes one 32-byte descriptor.
func ParseGroupDescriptor(data []byte) (types.GroupDescriptor, error) {
	if len(data) < types.GroupDescriptorSize {
		return types.GroupDescriptor{}, fmt.Errorf("data too small for group descriptor: %d bytes", len(data))
	}

	var desc types.GroupDescriptor
	copy(desc.Raw[:], data[:types.GroupDescriptorSize])
	desc.BlockBitmap = endian.Uint32(data[0:4])
	desc.InodeBitmap = endian.Uint32(data[4:8])
	desc.InodeTable = endian.Uint32(data[8:12])
	desc.FreeBlocksCount = endian.Uint16(data[12:14])
	desc.FreeInodesCount = endian.Uint16(data[14:16])
	desc.UsedDirsCount = endian.Uint16(data[16:18])
	return desc, nil
}

// ParseGroupDescriptors decodes count descriptors from a descriptor table.
func ParseGroupDescriptors(data []byte, count uint32) ([]types.GroupDescriptor, error) {
	need := uint64(count) * types.GroupDescriptorSize
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("descriptor table too small: have %d bytes, need %d", len(data), need)
	}

	descs := make([]types.GroupDescriptor, count)
	for i := range descs {
		off := i * types.GroupDescriptorSize
		desc, err := ParseGroupDescriptor(data[off : off+types.GroupDescriptorSize])
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		descs[i] = desc
	}
	return descs, nil
}

// EncodeGroupDescriptor writes desc into b.
func EncodeGroupDescriptor(desc *types.GroupDescriptor, b []byte) error {
	if len(b) < types.GroupDescriptorSize {
		return fmt.Errorf("buffer too small for group descriptor: %d bytes", len(b))
	}
	copy(b, desc.Raw[:])
	endian.PutUint32(b[0:], desc.BlockBitmap)
	endian.PutUint32(b[4:], desc.InodeBitmap)
	endian.PutUint32(b[8:], desc.InodeTable)
	endian.PutUint16(b[12:], desc.FreeBlocksCount)
	endian.PutUint16(b[14:], desc.FreeInodesCount)
	endian.PutUint16(b[16:], desc.UsedDirsCount)
	return nil
}

// EncodeGroupDescriptors writes the whole table into b.
func EncodeGroupDescriptors(descs []types.GroupDescriptor, b []byte) error {
	for i := range descs {
		off := i * types.GroupDescriptorSize
		if off+types.GroupDescriptorSize > len(b) {
			return fmt.Errorf("buffer too small for %d group descriptors", len(descs))
		}
		if err := EncodeGroupDescriptor(&descs[i], b[off:]); err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
	}
	return nil
}
