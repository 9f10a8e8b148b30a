package device

import (
	"fmt"
	"io"
	"os"
)

// MemoryDevice is a fixed-size in-memory device, used to check images
// built by tests and tools without touching the host filesystem.
type MemoryDevice struct {
	buf      []byte
	path     string
	readOnly bool
	closed   bool
}

// NewMemoryDevice wraps buf. The slice is shared, not copied, so callers
// can inspect what the checker wrote.
func NewMemoryDevice(path string, buf []byte) *MemoryDevice {
	return &MemoryDevice{buf: buf, path: path}
}

// ReadOnlyView returns a read-only device over the same bytes.
func (d *MemoryDevice) ReadOnlyView() *MemoryDevice {
	return &MemoryDevice{buf: d.buf, path: d.path, readOnly: true}
}

// Bytes returns the backing slice.
func (d *MemoryDevice) Bytes() []byte {
	return d.buf
}

// ReadAt implements io.ReaderAt
func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	if d.closed {
		return 0, os.ErrClosed
	}
	if off < 0 || off >= int64(len(d.buf)) {
		return 0, io.EOF
	}
	n := copy(p, d.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt
func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.closed {
		return 0, os.ErrClosed
	}
	if d.readOnly {
		return 0, fmt.Errorf("writing `%s` at offset `%d`: %w", d.path, off, os.ErrPermission)
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.buf)) {
		return 0, fmt.Errorf("writing `%s` at offset `%d`: %w", d.path, off, io.ErrShortWrite)
	}
	return copy(d.buf[off:], p), nil
}

// Path returns the name given at construction
func (d *MemoryDevice) Path() string {
	return d.path
}

// Size returns the length of the backing slice
func (d *MemoryDevice) Size() (int64, error) {
	return int64(len(d.buf)), nil
}

// IsReadOnly checks if writes are refused
func (d *MemoryDevice) IsReadOnly() bool {
	return d.readOnly
}

// Sync is a no-op
func (d *MemoryDevice) Sync() error {
	return nil
}

// Close marks the device closed; the bytes stay available via Bytes.
func (d *MemoryDevice) Close() error {
	d.closed = true
	return nil
}

// Reopen returns a fresh open device over the same bytes.
func (d *MemoryDevice) Reopen(readOnly bool) *MemoryDevice {
	return &MemoryDevice{buf: d.buf, path: d.path, readOnly: readOnly}
}
