package device

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/deploymenttheory/go-e2fsck/internal/interfaces"
)

// DefaultMountTable is the kernel's view of mounted filesystems.
const DefaultMountTable = "/proc/mounts"

// MountTable answers mount queries from a mounts(5)-format file.
type MountTable struct {
	// Path of the table to read; DefaultMountTable when empty.
	Path string
}

// CheckIfMounted implements interfaces.MountChecker. A missing table is
// treated as "not mounted" since there is nothing to consult.
func (t MountTable) CheckIfMounted(path string) (interfaces.MountFlags, error) {
	table := t.Path
	if table == "" {
		table = DefaultMountTable
	}

	f, err := os.Open(table)
	if err != nil {
		if os.IsNotExist(err) {
			return interfaces.MountFlags{}, nil
		}
		return interfaces.MountFlags{}, fmt.Errorf("while determining whether %s is mounted: %w", path, err)
	}
	defer f.Close()

	return ParseMountTable(f, path)
}

// ParseMountTable scans a mounts(5)-format table for device path.
func ParseMountTable(r io.Reader, path string) (interfaces.MountFlags, error) {
	want := canonicalPath(path)

	var flags interfaces.MountFlags
	allReadOnly := true
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if canonicalPath(unescapeMountField(fields[0])) != want {
			continue
		}

		mountPoint := unescapeMountField(fields[1])
		if !flags.Mounted {
			flags.MountPoint = mountPoint
		}
		flags.Mounted = true
		if mountPoint == "/" {
			flags.Root = true
		}
		if !hasOption(fields[3], "ro") {
			allReadOnly = false
		}
	}
	if err := scanner.Err(); err != nil {
		return interfaces.MountFlags{}, fmt.Errorf("reading mount table: %w", err)
	}

	flags.ReadOnly = flags.Mounted && allReadOnly
	return flags, nil
}

func hasOption(opts, name string) bool {
	for _, opt := range strings.Split(opts, ",") {
		if opt == name {
			return true
		}
	}
	return false
}

// unescapeMountField undoes the octal escaping of spaces, tabs and
// backslashes used by the kernel.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Clean(path)
}
