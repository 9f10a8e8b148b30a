// File: internal/interfaces/mounting.go
package interfaces

// MountFlags describes how a device is currently mounted
type MountFlags struct {
	// Mounted is true when the device appears in the mount table
	Mounted bool

	// ReadOnly is true when every mount of the device is read-only
	ReadOnly bool

	// Root is true when the device is mounted on "/"
	Root bool

	// MountPoint is the first mount point found for the device
	MountPoint string
}

// RootReadWrite reports whether the device is the live root filesystem
// mounted read-write.
func (f MountFlags) RootReadWrite() bool {
	return f.Mounted && f.Root && !f.ReadOnly
}

// MountChecker answers the advisory "is this volume mounted" query
type MountChecker interface {
	// CheckIfMounted returns the mount state of the device at path
	CheckIfMounted(path string) (MountFlags, error)
}
