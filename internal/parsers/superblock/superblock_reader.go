package superblock

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-e2fsck/internal/types"
)

var endian = binary.LittleEndian

// ErrBadMagic is returned when s_magic does not identify an ext2 superblock.
type ErrBadMagic struct {
	Found uint16
}

func (err ErrBadMagic) Error() string {
	return fmt.Sprintf(
		"bad magic: wanted `%#04x`; found `%#04x`",
		types.SuperblockMagic,
		err.Found,
	)
}

// ErrRevTooHigh is returned for superblocks newer than this checker.
type ErrRevTooHigh struct {
	Found uint32
}

func (err ErrRevTooHigh) Error() string {
	return fmt.Sprintf(
		"filesystem revision too high: supported up to %d; found %d",
		types.CurrentRevLevel,
		err.Found,
	)
}

// ErrUnsupportedFeatures is returned when the volume uses features this
// checker cannot safely handle.
type ErrUnsupportedFeatures struct {
	Incompat uint32
	ROCompat uint32
}

func (err ErrUnsupportedFeatures) Error() string {
	return fmt.Sprintf(
		"volume uses unsupported features: incompat `%#x`, ro_compat `%#x`",
		err.Incompat,
		err.ROCompat,
	)
}

// Parse decodes a superblock record. Only the magic number is checked
// here; semantic validation is the checker's job.
func Parse(data []byte) (*types.Superblock, error) {
	if len(data) < types.SuperblockSize {
		return nil, fmt.Errorf("data too small for superblock: %d bytes", len(data))
	}

	sb := &types.Superblock{}
	copy(sb.Raw[:], data[:types.SuperblockSize])

	sb.Magic = endian.Uint16(data[56:58])
	if sb.Magic != types.SuperblockMagic {
		return nil, fmt.Errorf("decoding superblock: %w", ErrBadMagic{sb.Magic})
	}

	sb.InodesCount = endian.Uint32(data[0:4])
	sb.BlocksCount = endian.Uint32(data[4:8])
	sb.RBlocksCount = endian.Uint32(data[8:12])
	sb.FreeBlocksCount = endian.Uint32(data[12:16])
	sb.FreeInodesCount = endian.Uint32(data[16:20])
	sb.FirstDataBlock = endian.Uint32(data[20:24])
	sb.LogBlockSize = endian.Uint32(data[24:28])
	sb.LogFragSize = endian.Uint32(data[28:32])
	sb.BlocksPerGroup = endian.Uint32(data[32:36])
	sb.FragsPerGroup = endian.Uint32(data[36:40])
	sb.InodesPerGroup = endian.Uint32(data[40:44])
	sb.MTime = endian.Uint32(data[44:48])
	sb.WTime = endian.Uint32(data[48:52])
	sb.MntCount = endian.Uint16(data[52:54])
	sb.MaxMntCount = int16(endian.Uint16(data[54:56]))
	sb.State = types.FilesystemState(endian.Uint16(data[58:60]))
	sb.Errors = endian.Uint16(data[60:62])
	sb.MinorRevLevel = endian.Uint16(data[62:64])
	sb.LastCheck = endian.Uint32(data[64:68])
	sb.CheckInterval = endian.Uint32(data[68:72])
	sb.CreatorOS = endian.Uint32(data[72:76])
	sb.RevLevel = endian.Uint32(data[76:80])
	sb.DefResUID = endian.Uint16(data[80:82])
	sb.DefResGID = endian.Uint16(data[82:84])

	// Dynamic-revision fields are meaningless on revision 0 volumes.
	if sb.RevLevel >= types.RevLevelDynamic {
		sb.FirstIno = endian.Uint32(data[84:88])
		sb.InodeSize = endian.Uint16(data[88:90])
		sb.BlockGroupNr = endian.Uint16(data[90:92])
		sb.FeatureCompat = endian.Uint32(data[92:96])
		sb.FeatureIncompat = endian.Uint32(data[96:100])
		sb.FeatureROCompat = endian.Uint32(data[100:104])
		copy(sb.UUID[:], data[104:120])
		copy(sb.VolumeName[:], data[120:136])
	} else {
		sb.FirstIno = types.DefaultFirstIno
		sb.InodeSize = types.DefaultInodeSize
	}

	return sb, nil
}

// CheckCompatibility rejects revisions and feature sets the checker does
// not support. readOnly relaxes the ro_compat check.
func CheckCompatibility(sb *types.Superblock, readOnly bool) error {
	if sb.RevLevel > types.CurrentRevLevel {
		return ErrRevTooHigh{sb.RevLevel}
	}

	incompat := sb.FeatureIncompat &^ types.SupportedIncompatFeatures
	var roCompat uint32
	if !readOnly {
		roCompat = sb.FeatureROCompat &^ types.SupportedROCompatFeatures
	}
	if incompat != 0 || roCompat != 0 {
		return ErrUnsupportedFeatures{Incompat: incompat, ROCompat: roCompat}
	}
	return nil
}

// Encode writes sb into b, starting from the preserved raw bytes.
func Encode(sb *types.Superblock, b []byte) error {
	if len(b) < types.SuperblockSize {
		return fmt.Errorf("buffer too small for superblock: %d bytes", len(b))
	}
	copy(b, sb.Raw[:])

	endian.PutUint32(b[0:], sb.InodesCount)
	endian.PutUint32(b[4:], sb.BlocksCount)
	endian.PutUint32(b[8:], sb.RBlocksCount)
	endian.PutUint32(b[12:], sb.FreeBlocksCount)
	endian.PutUint32(b[16:], sb.FreeInodesCount)
	endian.PutUint32(b[20:], sb.FirstDataBlock)
	endian.PutUint32(b[24:], sb.LogBlockSize)
	endian.PutUint32(b[28:], sb.LogFragSize)
	endian.PutUint32(b[32:], sb.BlocksPerGroup)
	endian.PutUint32(b[36:], sb.FragsPerGroup)
	endian.PutUint32(b[40:], sb.InodesPerGroup)
	endian.PutUint32(b[44:], sb.MTime)
	endian.PutUint32(b[48:], sb.WTime)
	endian.PutUint16(b[52:], sb.MntCount)
	endian.PutUint16(b[54:], uint16(sb.MaxMntCount))
	endian.PutUint16(b[56:], types.SuperblockMagic)
	endian.PutUint16(b[58:], uint16(sb.State))
	endian.PutUint16(b[60:], sb.Errors)
	endian.PutUint16(b[62:], sb.MinorRevLevel)
	endian.PutUint32(b[64:], sb.LastCheck)
	endian.PutUint32(b[68:], sb.CheckInterval)
	endian.PutUint32(b[72:], sb.CreatorOS)
	endian.PutUint32(b[76:], sb.RevLevel)
	endian.PutUint16(b[80:], sb.DefResUID)
	endian.PutUint16(b[82:], sb.DefResGID)

	if sb.RevLevel >= types.RevLevelDynamic {
		endian.PutUint32(b[84:], sb.FirstIno)
		endian.PutUint16(b[88:], sb.InodeSize)
		endian.PutUint16(b[90:], sb.BlockGroupNr)
		endian.PutUint32(b[92:], sb.FeatureCompat)
		endian.PutUint32(b[96:], sb.FeatureIncompat)
		endian.PutUint32(b[100:], sb.FeatureROCompat)
		copy(b[104:120], sb.UUID[:])
		copy(b[120:136], sb.VolumeName[:])
	}

	return nil
}
