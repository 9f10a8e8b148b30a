// File: internal/interfaces/block_device.go
package interfaces

import (
	"io"
)

// BlockDevice provides raw byte access to a filesystem image or device
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Path returns the system path the device was opened from
	Path() string

	// Size returns the physical size of the device in bytes
	Size() (int64, error)

	// IsReadOnly checks if the device was opened without write access
	IsReadOnly() bool

	// Sync commits buffered writes to stable storage
	Sync() error
}
