//go:build linux

package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func blockDeviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("BLKGETSIZE64 on `%s`: %w", f.Name(), err)
	}
	return int64(size), nil
}

// FlushBuffers drops the kernel's buffer cache for the device at path so
// the check reads what is on the media.
func FlushBuffers(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.IoctlSetInt(int(f.Fd()), unix.BLKFLSBUF, 0); err != nil {
		return fmt.Errorf("BLKFLSBUF on `%s`: %w", path, err)
	}
	return nil
}
