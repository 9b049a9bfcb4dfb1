package fs

import "ata"
import "defs"
import "kheap"
import "util"

// FAT entry values with special meaning. Clusters are numbered
// starting at 2, matching the FAT12/16/32 convention ExFAT inherits;
// 0 and 1 are never valid cluster numbers.
const (
	fatFree     uint32 = 0x00000000
	fatBad      uint32 = 0xFFFFFFF7
	fatEOC      uint32 = 0xFFFFFFFF
	firstCluster uint32 = 2
)

/// Fat_t manages the single FAT chain table for a mounted volume: a
/// resident copy of the whole FAT region, allocated from the kernel
/// heap at mount time, with every mutation written straight through to
/// the containing disk sector. Metadata writes must be durable as soon
/// as the operation that issued them returns, so there is no
/// write-back state to flush later.
type Fat_t struct {
	disk       ata.Disk_i
	fatOffset  uint32 // sectors
	clusterCnt uint32
	table      []uint8 // resident FAT region
}

func mkFat(disk ata.Disk_i, bs *BootSector_t) (*Fat_t, defs.Err_t) {
	f := &Fat_t{disk: disk, fatOffset: bs.FatOffset(), clusterCnt: bs.ClusterCount()}
	nsec := int(bs.FatLength())
	tbl, err := kheap.Kernel.Alloc(nsec * ata.SectorSize)
	if err != 0 {
		return nil, err
	}
	for i := 0; i < nsec; i++ {
		if e := disk.ReadSector(uint64(f.fatOffset)+uint64(i), tbl[i*ata.SectorSize:(i+1)*ata.SectorSize]); e != 0 {
			kheap.Kernel.Free(tbl)
			return nil, e
		}
	}
	f.table = tbl
	return f, 0
}

// entrySector returns the sector containing cluster c's FAT entry and
// the byte offset of the entry within that sector (4 bytes per entry,
// 128 entries per 512-byte sector).
func (f *Fat_t) entrySector(c uint32) (uint64, int) {
	byteOff := int(c) * 4
	sector := uint64(f.fatOffset) + uint64(byteOff/ata.SectorSize)
	return sector, byteOff % ata.SectorSize
}

func (f *Fat_t) checkCluster(c uint32) defs.Err_t {
	if c < firstCluster || c >= firstCluster+f.clusterCnt {
		return -defs.EINVAL
	}
	return 0
}

/// Get returns the next cluster in the chain following c, or fatEOC at
/// chain's end, read from the resident copy.
func (f *Fat_t) Get(c uint32) (uint32, defs.Err_t) {
	if err := f.checkCluster(c); err != 0 {
		return 0, err
	}
	return uint32(util.Readn(f.table, 4, int(c)*4)), 0
}

/// Set records that cluster c's chain continues at next (fatEOC to
/// terminate the chain, fatFree to release it), updating the resident
/// copy and writing the single containing sector back immediately.
func (f *Fat_t) Set(c uint32, next uint32) defs.Err_t {
	if err := f.checkCluster(c); err != 0 {
		return err
	}
	util.Writen(f.table, 4, int(c)*4, int(next))
	sec, _ := f.entrySector(c)
	si := int(sec-uint64(f.fatOffset)) * ata.SectorSize
	return f.disk.WriteSector(sec, f.table[si:si+ata.SectorSize])
}

/// Chain returns every cluster number in c's chain, in order, starting
/// at c. Returns EINVAL if the chain is malformed (a loop, or runs off
/// the end of the cluster heap without hitting fatEOC).
func (f *Fat_t) Chain(c uint32) ([]uint32, defs.Err_t) {
	var ret []uint32
	seen := map[uint32]bool{}
	for c != fatEOC {
		if seen[c] {
			return nil, -defs.EINVAL
		}
		seen[c] = true
		ret = append(ret, c)
		next, err := f.Get(c)
		if err != 0 {
			return nil, err
		}
		if next == fatFree || next == fatBad {
			return nil, -defs.EINVAL
		}
		c = next
	}
	return ret, 0
}
