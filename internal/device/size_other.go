//go:build !linux

package device

import (
	"fmt"
	"io"
	"os"
)

// Seeking to the end works for block devices on the BSDs and darwin.
func blockDeviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seeking to end of `%s`: %w", f.Name(), err)
	}
	return size, nil
}

// FlushBuffers syncs the device at path. There is no portable way to drop
// its cached buffers.
func FlushBuffers(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
