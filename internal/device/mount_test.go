package device

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
)

const sampleMounts = `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
/dev/sda1 / ext2 rw,relatime 0 0
/dev/sdb1 /mnt/with\040space ext2 ro,relatime 0 0
/dev/sdc1 /srv/a ext2 ro 0 0
/dev/sdc1 /srv/b ext2 rw 0 0
# /dev/sdd1 /ignored ext2 rw 0 0
`

func TestParseMountTable(t *testing.T) {
	tests := []struct {
		name string
		dev  string
		want interfaces.MountFlags
	}{
		{"root read-write", "/dev/sda1", interfaces.MountFlags{Mounted: true, Root: true, MountPoint: "/"}},
		{"escaped mount point read-only", "/dev/sdb1", interfaces.MountFlags{Mounted: true, ReadOnly: true, MountPoint: "/mnt/with space"}},
		{"mixed mounts are read-write", "/dev/sdc1", interfaces.MountFlags{Mounted: true, MountPoint: "/srv/a"}},
		{"commented out", "/dev/sdd1", interfaces.MountFlags{}},
		{"absent", "/dev/sde1", interfaces.MountFlags{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMountTable(strings.NewReader(sampleMounts), tt.dev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	root, _ := ParseMountTable(strings.NewReader(sampleMounts), "/dev/sda1")
	assert.True(t, root.RootReadWrite())
}

func TestMountTable_CheckIfMounted(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "mounts")
	require.NoError(t, os.WriteFile(table, []byte(sampleMounts), 0o644))

	flags, err := MountTable{Path: table}.CheckIfMounted("/dev/sdb1")
	require.NoError(t, err)
	assert.True(t, flags.Mounted)

	flags, err = MountTable{Path: filepath.Join(dir, "missing")}.CheckIfMounted("/dev/sdb1")
	require.NoError(t, err)
	assert.False(t, flags.Mounted)
}

func TestUnescapeMountField(t *testing.T) {
	assert.Equal(t, "a b\tc\\d", unescapeMountField(`a\040b\011c\134d`))
	assert.Equal(t, `trailing\04`, unescapeMountField(`trailing\04`))
}
