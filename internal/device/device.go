package device

import (
	"fmt"
	"os"
)

// FileDevice provides access to an ext2 filesystem stored in an image file
// or on a block device
type FileDevice struct {
	file     *os.File
	path     string
	readOnly bool
	block    bool
}

// Open opens path for checking. Block devices opened for writing are
// opened exclusively so the kernel refuses to mount them underneath us.
func Open(path string, readOnly bool) (*FileDevice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat device: %w", err)
	}
	isBlock := info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice == 0

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	} else if isBlock {
		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}

	return &FileDevice{
		file:     file,
		path:     path,
		readOnly: readOnly,
		block:    isBlock,
	}, nil
}

// ReadAt implements io.ReaderAt
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, fmt.Errorf("writing `%s` at offset `%d`: %w", d.path, off, os.ErrPermission)
	}
	return d.file.WriteAt(p, off)
}

// Path returns the path the device was opened from
func (d *FileDevice) Path() string {
	return d.path
}

// IsReadOnly checks if the device was opened read-only
func (d *FileDevice) IsReadOnly() bool {
	return d.readOnly
}

// IsBlockDevice reports whether the path is a block special file
func (d *FileDevice) IsBlockDevice() bool {
	return d.block
}

// Size returns the physical size in bytes
func (d *FileDevice) Size() (int64, error) {
	if d.block {
		return blockDeviceSize(d.file)
	}
	info, err := d.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat device: %w", err)
	}
	return info.Size(), nil
}

// Sync flushes written data to the device
func (d *FileDevice) Sync() error {
	if d.readOnly {
		return nil
	}
	return d.file.Sync()
}

// Close closes the device
func (d *FileDevice) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}

// PhysicalSize returns the size of the device at path in units of
// blockSize.
func PhysicalSize(path string, blockSize uint32) (uint64, error) {
	dev, err := Open(path, true)
	if err != nil {
		return 0, err
	}
	defer dev.Close()

	size, err := dev.Size()
	if err != nil {
		return 0, err
	}
	return uint64(size) / uint64(blockSize), nil
}
