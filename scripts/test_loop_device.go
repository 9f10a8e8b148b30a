//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deploymenttheory/go-e2fsck/internal/device"
	"github.com/deploymenttheory/go-e2fsck/internal/filesystem"
	"github.com/deploymenttheory/go-e2fsck/internal/fsck"
	"github.com/deploymenttheory/go-e2fsck/internal/repair"
)

// LoopDevice holds information about an image attached to a loop device
type LoopDevice struct {
	ImagePath   string
	DevicePath  string
	DeviceSize  uint64
	needsDetach bool
}

// attachImage attaches an ext2 image read-only and returns device information
func attachImage(imagePath string) (*LoopDevice, error) {
	fmt.Printf("=== Attaching image ===\n")
	fmt.Printf("Image: %s\n", imagePath)

	cmd := exec.Command("losetup", "--find", "--show", "--read-only", imagePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to attach image: %w\nOutput: %s", err, string(output))
	}

	devicePath := strings.TrimSpace(string(output))
	if !strings.HasPrefix(devicePath, "/dev/loop") {
		return nil, fmt.Errorf("could not find loop device in losetup output:\n%s", string(output))
	}
	fmt.Printf("Device: %s\n", devicePath)

	cmd = exec.Command("blockdev", "--getsize64", devicePath)
	output, err = cmd.CombinedOutput()
	if err != nil {
		detach(devicePath)
		return nil, fmt.Errorf("failed to get device size: %w", err)
	}

	deviceSize, err := strconv.ParseUint(strings.TrimSpace(string(output)), 10, 64)
	if err != nil {
		detach(devicePath)
		return nil, fmt.Errorf("failed to parse device size: %w", err)
	}
	fmt.Printf("Size: %d bytes (%.2f MB)\n", deviceSize, float64(deviceSize)/1024/1024)

	return &LoopDevice{
		ImagePath:   imagePath,
		DevicePath:  devicePath,
		DeviceSize:  deviceSize,
		needsDetach: true,
	}, nil
}

func detach(devicePath string) error {
	output, err := exec.Command("losetup", "--detach", devicePath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to detach %s: %w\nOutput: %s", devicePath, err, string(output))
	}
	return nil
}

// release detaches the loop device
func (ld *LoopDevice) release() error {
	if !ld.needsDetach {
		return nil
	}

	fmt.Printf("\n=== Detaching %s ===\n", ld.DevicePath)
	if err := detach(ld.DevicePath); err != nil {
		return err
	}
	ld.needsDetach = false
	return nil
}

// checkLoopDevice opens the block device read-only and runs the superblock checks
func checkLoopDevice(ld *LoopDevice) error {
	fmt.Printf("\n=== Checking ext2 superblock ===\n")

	dev, err := device.Open(ld.DevicePath, true)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	if !dev.IsBlockDevice() {
		dev.Close()
		return fmt.Errorf("%s is not a block device", ld.DevicePath)
	}

	fs, err := filesystem.Open(dev, filesystem.OpenOptions{ReadOnly: true})
	if err != nil {
		dev.Close()
		return fmt.Errorf("failed to open filesystem: %w", err)
	}
	defer fs.Abort()

	sb := fs.Superblock()
	fmt.Printf("✓ Opened filesystem\n")
	fmt.Printf("  Block size: %d bytes\n", fs.BlockSize())
	fmt.Printf("  Groups: %d\n", fs.GroupCount())
	fmt.Printf("  UUID: %s\n", sb.VolumeUUID())
	fmt.Printf("  Label: %q\n", sb.Label())
	fmt.Printf("  Blocks: %d used of %d\n", sb.UsedBlocks(), sb.BlocksCount)
	fmt.Printf("  Inodes: %d used of %d\n", sb.UsedInodes(), sb.InodesCount)

	physical, err := fs.PhysicalSize()
	if err != nil {
		return fmt.Errorf("failed to read physical size: %w", err)
	}
	fmt.Printf("  Device blocks: %d (losetup reports %d)\n", physical, ld.DeviceSize/uint64(fs.BlockSize()))

	run := repair.NewRunContext(repair.ModeReadOnly, nil, os.Stdout, ld.DevicePath)
	run.BeginOpen(fs.GroupCount())
	if err := fsck.NewValidator().Validate(fs, run); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if run.State.Valid {
		fmt.Printf("✓ Superblock and group descriptors are consistent\n")
	} else {
		fmt.Printf("⚠ Superblock or group descriptors need repair\n")
	}

	decision := fsck.ShouldForceCheck(fs, false, false, time.Now())
	fmt.Printf("  Skip decision: %s\n", decision.Outcome)
	decision.Report(os.Stdout, ld.DevicePath, sb)
	return nil
}

func main() {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║        ext2 Loop Device Test - Fully Automated        ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()

	imagePath := "tests/scratch.ext2"
	if len(os.Args) > 1 {
		imagePath = os.Args[1]
	}

	if !filepath.IsAbs(imagePath) {
		absPath, err := filepath.Abs(imagePath)
		if err == nil {
			imagePath = absPath
		}
	}

	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		fmt.Printf("ERROR: image not found: %s\n", imagePath)
		fmt.Printf("\nUsage: go run scripts/test_loop_device.go [path/to/image.ext2]\n")
		fmt.Printf("Create one with: mke2fs -t ext2 -b 1024 tests/scratch.ext2 8M\n")
		os.Exit(1)
	}

	ld, err := attachImage(imagePath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if ld != nil && ld.needsDetach {
			if err := ld.release(); err != nil {
				fmt.Printf("WARNING: Failed to detach: %v\n", err)
			}
		}
	}()

	if err := checkLoopDevice(ld); err != nil {
		fmt.Printf("\nERROR: Check failed: %v\n", err)
		os.Exit(1)
	}

	if err := ld.release(); err != nil {
		fmt.Printf("WARNING: %v\n", err)
	}

	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                  All Checks Complete!                 ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
}
