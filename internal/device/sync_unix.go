//go:build unix

package device

import "golang.org/x/sys/unix"

// SyncDisks asks the kernel to flush all dirty buffers so the checker
// reads what is really on disk.
func SyncDisks() {
	unix.Sync()
}
