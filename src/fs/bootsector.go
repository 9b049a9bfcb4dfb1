// Package fs implements an ExFAT-compatible filesystem over the single
// block device exposed by package ata. On-disk structures are accessed
// through a raw byte buffer paired with typed field getters/setters at
// ExFAT's fixed widths and offsets, never through Go struct overlays
// whose padding the compiler controls.
package fs

import "fmt"

import "ata"
import "defs"
import "util"

/// bootSig is the fixed two-byte signature at the end of the boot
/// sector, identifying it as valid.
const bootSig = 0xAA55

// Byte offsets of the fields this implementation reads and writes
// within the 512-byte boot sector. Fields present in the real ExFAT
// specification but never consulted by this kernel (OEM parameters,
// boot code, volume serial number) are left as reserved zero bytes.
const (
	offFileSystemName     = 3  // 8 bytes, "EXFAT   "
	offVolumeLength        = 72 // 8 bytes, sectors
	offFatOffset           = 80 // 4 bytes, sectors
	offFatLength           = 84 // 4 bytes, sectors
	offClusterHeapOffset   = 88 // 4 bytes, sectors
	offClusterCount        = 92 // 4 bytes
	offRootDirCluster      = 96 // 4 bytes
	offVolumeFlags         = 106 // 2 bytes
	offBytesPerSectorShift = 108 // 1 byte
	offSectorsPerClusterShift = 109 // 1 byte
	offNumberOfFats        = 110 // 1 byte
	offBootSig             = 510 // 2 bytes
)

/// BootSector_t is the ExFAT volume boot record, sector 0 of the
/// device.
type BootSector_t struct {
	Data []uint8 // exactly ata.SectorSize bytes
}

func (b *BootSector_t) r32(off int) uint32 { return uint32(util.Readn(b.Data, 4, off)) }
func (b *BootSector_t) w32(off int, v uint32) { util.Writen(b.Data, 4, off, int(v)) }
func (b *BootSector_t) r16(off int) uint16 { return uint16(util.Readn(b.Data, 2, off)) }
func (b *BootSector_t) w16(off int, v uint16) { util.Writen(b.Data, 2, off, int(v)) }
func (b *BootSector_t) r8(off int) uint8 { return uint8(util.Readn(b.Data, 1, off)) }
func (b *BootSector_t) w8(off int, v uint8) { util.Writen(b.Data, 1, off, int(v)) }

/// FatOffset returns the FAT region's starting sector, relative to the
/// start of the volume.
func (b *BootSector_t) FatOffset() uint32 { return b.r32(offFatOffset) }

/// FatLength returns the FAT region's length in sectors.
func (b *BootSector_t) FatLength() uint32 { return b.r32(offFatLength) }

/// ClusterHeapOffset returns the first sector of the cluster heap,
/// relative to the start of the volume.
func (b *BootSector_t) ClusterHeapOffset() uint32 { return b.r32(offClusterHeapOffset) }

/// ClusterCount returns the number of clusters in the cluster heap.
func (b *BootSector_t) ClusterCount() uint32 { return b.r32(offClusterCount) }

/// RootDirCluster returns the first cluster of the root directory.
func (b *BootSector_t) RootDirCluster() uint32 { return b.r32(offRootDirCluster) }

/// VolumeLength returns the volume's total size in sectors.
func (b *BootSector_t) VolumeLength() uint64 { return uint64(util.Readn(b.Data, 8, offVolumeLength)) }

/// BytesPerSectorShift returns log2(bytes per sector); this kernel
/// always uses 9 (512-byte sectors).
func (b *BootSector_t) BytesPerSectorShift() uint { return uint(b.r8(offBytesPerSectorShift)) }

/// SectorsPerClusterShift returns log2(sectors per cluster).
func (b *BootSector_t) SectorsPerClusterShift() uint { return uint(b.r8(offSectorsPerClusterShift)) }

/// NumberOfFats returns the number of FAT copies (always 1 in this
/// implementation; ExFAT allows 2 for TexFAT but this kernel never
/// writes a second copy).
func (b *BootSector_t) NumberOfFats() uint8 { return b.r8(offNumberOfFats) }

/// BytesPerSector returns the sector size in bytes.
func (b *BootSector_t) BytesPerSector() int { return 1 << b.BytesPerSectorShift() }

/// SectorsPerCluster returns the number of sectors per cluster.
func (b *BootSector_t) SectorsPerCluster() int { return 1 << b.SectorsPerClusterShift() }

/// BytesPerCluster returns the cluster size in bytes.
func (b *BootSector_t) BytesPerCluster() int {
	return b.BytesPerSector() * b.SectorsPerCluster()
}

// writers, used by mkfs

func (b *BootSector_t) SetFatOffset(v uint32)         { b.w32(offFatOffset, v) }
func (b *BootSector_t) SetFatLength(v uint32)         { b.w32(offFatLength, v) }
func (b *BootSector_t) SetClusterHeapOffset(v uint32) { b.w32(offClusterHeapOffset, v) }
func (b *BootSector_t) SetClusterCount(v uint32)      { b.w32(offClusterCount, v) }
func (b *BootSector_t) SetRootDirCluster(v uint32)    { b.w32(offRootDirCluster, v) }
func (b *BootSector_t) SetVolumeLength(v uint64)      { util.Writen(b.Data, 8, offVolumeLength, int(v)) }
func (b *BootSector_t) SetBytesPerSectorShift(v uint8)     { b.w8(offBytesPerSectorShift, v) }
func (b *BootSector_t) SetSectorsPerClusterShift(v uint8)  { b.w8(offSectorsPerClusterShift, v) }
func (b *BootSector_t) SetNumberOfFats(v uint8)            { b.w8(offNumberOfFats, v) }

/// SetFileSystemName stamps the "EXFAT   " identifier.
func (b *BootSector_t) SetFileSystemName() {
	copy(b.Data[offFileSystemName:offFileSystemName+8], []byte("EXFAT   "))
}

/// SetBootSig stamps the boot sector signature.
func (b *BootSector_t) SetBootSig() { b.w16(offBootSig, bootSig) }

/// Valid reports whether the boot sector carries the ExFAT signature
/// this kernel expects.
func (b *BootSector_t) Valid() bool {
	return string(b.Data[offFileSystemName:offFileSystemName+8]) == "EXFAT   " &&
		b.r16(offBootSig) == bootSig
}

/// ReadBootSector loads and validates the boot sector from disk.
func ReadBootSector(disk ata.Disk_i) (*BootSector_t, defs.Err_t) {
	buf := make([]uint8, ata.SectorSize)
	if err := disk.ReadSector(0, buf); err != 0 {
		return nil, err
	}
	b := &BootSector_t{Data: buf}
	if !b.Valid() {
		return nil, -defs.EINVAL
	}
	return b, 0
}

/// WriteBootSector persists b to sector 0.
func WriteBootSector(disk ata.Disk_i, b *BootSector_t) defs.Err_t {
	return disk.WriteSector(0, b.Data)
}

func (b *BootSector_t) String() string {
	return fmt.Sprintf("exfat: %v clusters of %v bytes, root at cluster %v",
		b.ClusterCount(), b.BytesPerCluster(), b.RootDirCluster())
}
