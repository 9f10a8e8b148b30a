package filesystem

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/parsers/superblock"
	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

// ErrClosed is returned for operations on a closed handle.
var ErrClosed = errors.New("filesystem handle already closed")

// Flush writes the primary superblock and descriptor table, then the backup
// copies in every group that carries one.
func (h *Handle) Flush() error {
	if h.closed {
		return ErrClosed
	}
	if h.readOnly {
		return fmt.Errorf("flushing %s: filesystem opened read-only", h.dev.Path())
	}

	bs := h.BlockSize()
	table := make([]byte, uint64(h.sb.DescriptorBlocks())*uint64(bs))
	if err := superblock.EncodeGroupDescriptors(h.groups, table); err != nil {
		return fmt.Errorf("flushing %s: %w", h.dev.Path(), err)
	}

	for group := uint32(0); group < h.GroupCount(); group++ {
		if !h.sb.GroupHasSuper(group) {
			continue
		}
		if err := h.writeSuperblockCopy(group, table); err != nil {
			return fmt.Errorf("flushing %s: %w", h.dev.Path(), err)
		}
	}

	if err := h.dev.Sync(); err != nil {
		return fmt.Errorf("flushing %s: %w", h.dev.Path(), err)
	}
	h.dirty = false
	return nil
}

func (h *Handle) writeSuperblockCopy(group uint32, table []byte) error {
	bs := int64(h.BlockSize())
	start := int64(h.sb.GroupBlockRange(group).First)

	sbOffset := start * bs
	if group == 0 {
		sbOffset = types.SuperblockOffset
	}

	copySB := *h.sb
	copySB.BlockGroupNr = uint16(group)
	buf := make([]byte, types.SuperblockSize)
	if err := superblock.Encode(&copySB, buf); err != nil {
		return err
	}
	if _, err := h.dev.WriteAt(buf, sbOffset); err != nil {
		return fmt.Errorf("writing superblock copy in group %d: %w", group, err)
	}

	tableOffset := (start + 1) * bs
	if group == 0 {
		tableOffset = (int64(h.sb.FirstDataBlock) + 1) * bs
	}
	if _, err := h.dev.WriteAt(table, tableOffset); err != nil {
		return fmt.Errorf("writing group descriptors in group %d: %w", group, err)
	}
	return nil
}

// Close flushes pending changes and releases the device
func (h *Handle) Close() error {
	if h.closed {
		return ErrClosed
	}
	var flushErr error
	if h.dirty && !h.readOnly {
		flushErr = h.Flush()
	}
	h.closed = true
	return errors.Join(flushErr, h.dev.Close())
}

// Abort releases the device and drops any pending write-back
func (h *Handle) Abort() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.dirty = false
	return h.dev.Close()
}
