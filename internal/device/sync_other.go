//go:build !unix

package device

// SyncDisks is a no-op where there is no global sync.
func SyncDisks() {}
