// Package ata implements the kernel's single block device: a PIO-mode
// ATA disk, addressed by 512-byte sector, with a small read cache
// keyed by LBA. The Disk_i interface is implemented once by the real,
// port-I/O-driven device and once by a plain os.File standing in for
// it during host-side testing; the cache is a hashtable.Hashtable_t
// keyed by block number rather than a bespoke map+mutex.
package ata

import "fmt"
import "sync"

import "defs"
import "hashtable"
import "limits"

/// SectorSize is the fixed sector size this driver assumes: 512-byte
/// sectors, 8 per 4KiB ExFAT cluster.
const SectorSize = 512

/// Disk_i is implemented by anything that can service sector-granular
/// reads and writes: the real PIO driver, or a file standing in for it
/// in tests.
type Disk_i interface {
	/// ReadSector fills dst (len(dst) == SectorSize) with sector lba.
	ReadSector(lba uint64, dst []uint8) defs.Err_t
	/// WriteSector writes src (len(src) == SectorSize) to sector lba.
	WriteSector(lba uint64, src []uint8) defs.Err_t
	/// Flush ensures all previously acknowledged writes have reached
	/// stable storage.
	Flush() defs.Err_t
	/// NumSectors reports the disk's total capacity in sectors.
	NumSectors() uint64
	Stats() string
}

// ATA PIO I/O port offsets, relative to the primary channel's command
// block base (0x1F0) -- standard values, not configurable, since this
// kernel only ever drives the primary channel's master device.
const (
	regData       = 0
	regError      = 1
	regSectorCnt  = 2
	regLBALow     = 3
	regLBAMid     = 4
	regLBAHigh    = 5
	regDriveHead  = 6
	regStatus     = 7
	regCommand    = 7
	cmdBase       = 0x1F0
	ctrlAltStatus = 0x3F6

	statusBSY = 1 << 7
	statusDRQ = 1 << 3
	statusERR = 1 << 0

	cmdReadSectors     = 0x20
	cmdWriteSectors    = 0x30
	cmdReadSectorsExt  = 0x24
	cmdWriteSectorsExt = 0x34
	cmdFlushCache      = 0xE7
)

// Port I/O primitives are hook variables rather than inline `in`/`out`
// instructions: this package has no assembler of its own, so whatever
// wires up real hardware access (the boot glue in cmd/kernel) installs
// these before RealDisk_t.Init is called. Left as their zero value,
// every PIO operation panics rather than silently misbehaving.
var (
	Inb  func(port uint16) uint8
	Outb func(port uint16, v uint8)
	Inw  func(port uint16) uint16
	Outw func(port uint16, v uint16)
)

/// RealDisk_t drives the primary ATA channel's master device via PIO.
/// LBAs below the 28-bit limit use the legacy READ/WRITE SECTORS
/// commands; anything above goes through the 48-bit EXT variants. A
/// single partition offset is added to every LBA, so callers address
/// sectors relative to the start of their partition.
type RealDisk_t struct {
	sync.Mutex
	sectors uint64
	partoff uint64
}

/// SetPartitionOffset records the LBA of the partition's first sector;
/// every subsequent ReadSector/WriteSector is relative to it.
func (d *RealDisk_t) SetPartitionOffset(off uint64) {
	d.partoff = off
}

/// Init probes the primary ATA channel and records its sector count via
/// an IDENTIFY DEVICE command. Must be called after Inb/Outb/Inw/Outw
/// are installed.
func (d *RealDisk_t) Init() defs.Err_t {
	Outb(cmdBase+regDriveHead, 0xA0) // select master, no LBA bits yet
	Outb(cmdBase+regSectorCnt, 0)
	Outb(cmdBase+regLBALow, 0)
	Outb(cmdBase+regLBAMid, 0)
	Outb(cmdBase+regLBAHigh, 0)
	Outb(cmdBase+regCommand, 0xEC) // IDENTIFY DEVICE
	if Inb(cmdBase+regStatus) == 0 {
		return -defs.ENOENT // no drive attached
	}
	if err := d.waitReady(); err != 0 {
		return err
	}
	var ident [256]uint16
	for i := range ident {
		ident[i] = Inw(cmdBase + regData)
	}
	lo := uint32(ident[60])
	hi := uint32(ident[61])
	d.sectors = uint64(hi)<<16 | uint64(lo)
	if ident[83]&(1<<10) != 0 {
		// LBA48-capable: words 100-103 hold the full sector count
		d.sectors = uint64(ident[100]) | uint64(ident[101])<<16 |
			uint64(ident[102])<<32 | uint64(ident[103])<<48
	}
	return 0
}

func (d *RealDisk_t) waitReady() defs.Err_t {
	for i := 0; i < 1<<20; i++ {
		st := Inb(cmdBase + regStatus)
		if st&statusBSY != 0 {
			continue
		}
		if st&statusERR != 0 {
			return -defs.EIO
		}
		if st&statusDRQ != 0 {
			return 0
		}
	}
	return -defs.EIO
}

// submit programs the drive's task-file registers for a one-sector
// transfer at lba and issues the read or write command, picking the
// 48-bit EXT form when the address doesn't fit in 28 bits.
func (d *RealDisk_t) submit(lba uint64, write bool) {
	if lba < 1<<28 {
		Outb(cmdBase+regDriveHead, 0xE0|uint8((lba>>24)&0xf))
		Outb(cmdBase+regSectorCnt, 1)
		Outb(cmdBase+regLBALow, uint8(lba))
		Outb(cmdBase+regLBAMid, uint8(lba>>8))
		Outb(cmdBase+regLBAHigh, uint8(lba>>16))
		if write {
			Outb(cmdBase+regCommand, cmdWriteSectors)
		} else {
			Outb(cmdBase+regCommand, cmdReadSectors)
		}
		return
	}
	// 48-bit: high-order bytes first, then low-order, per the EXT
	// command two-write task-file protocol.
	Outb(cmdBase+regDriveHead, 0x40)
	Outb(cmdBase+regSectorCnt, 0)
	Outb(cmdBase+regLBALow, uint8(lba>>24))
	Outb(cmdBase+regLBAMid, uint8(lba>>32))
	Outb(cmdBase+regLBAHigh, uint8(lba>>40))
	Outb(cmdBase+regSectorCnt, 1)
	Outb(cmdBase+regLBALow, uint8(lba))
	Outb(cmdBase+regLBAMid, uint8(lba>>8))
	Outb(cmdBase+regLBAHigh, uint8(lba>>16))
	if write {
		Outb(cmdBase+regCommand, cmdWriteSectorsExt)
	} else {
		Outb(cmdBase+regCommand, cmdReadSectorsExt)
	}
}

/// ReadSector reads one 512-byte sector via PIO.
func (d *RealDisk_t) ReadSector(lba uint64, dst []uint8) defs.Err_t {
	if len(dst) != SectorSize {
		panic("bad sector buffer size")
	}
	d.Lock()
	defer d.Unlock()
	d.submit(lba+d.partoff, false)
	if err := d.waitReady(); err != 0 {
		return err
	}
	for i := 0; i < SectorSize/2; i++ {
		w := Inw(cmdBase + regData)
		dst[2*i] = uint8(w)
		dst[2*i+1] = uint8(w >> 8)
	}
	return 0
}

/// WriteSector writes one 512-byte sector via PIO.
func (d *RealDisk_t) WriteSector(lba uint64, src []uint8) defs.Err_t {
	if len(src) != SectorSize {
		panic("bad sector buffer size")
	}
	d.Lock()
	defer d.Unlock()
	d.submit(lba+d.partoff, true)
	if err := d.waitReady(); err != 0 {
		return err
	}
	for i := 0; i < SectorSize/2; i++ {
		w := uint16(src[2*i]) | uint16(src[2*i+1])<<8
		Outw(cmdBase+regData, w)
	}
	return 0
}

/// Flush issues CACHE FLUSH and waits for the drive to report not-busy.
func (d *RealDisk_t) Flush() defs.Err_t {
	d.Lock()
	defer d.Unlock()
	Outb(cmdBase+regCommand, cmdFlushCache)
	for Inb(cmdBase+regStatus)&statusBSY != 0 {
	}
	return 0
}

/// NumSectors reports the drive's capacity as reported by IDENTIFY.
func (d *RealDisk_t) NumSectors() uint64 {
	return d.sectors
}

/// Stats reports nothing interesting for the real driver; present to
/// satisfy Disk_i.
func (d *RealDisk_t) Stats() string {
	return fmt.Sprintf("ata: %v sectors", d.sectors)
}

/// CachedDisk_t wraps any Disk_i with a read cache keyed by LBA.
/// Writes are write-through -- filesystem metadata updates must be
/// durable as soon as the operation that made them returns, so no
/// write-back batching is introduced here -- and simply refresh the
/// cache entry after the underlying write succeeds.
type CachedDisk_t struct {
	under Disk_i
	cache *hashtable.Hashtable_t
	nhit  int64
	nmiss int64
}

type cacheline_t struct {
	data [SectorSize]uint8
}

/// NewCachedDisk wraps under with an LBA-keyed read cache sized for
/// roughly cap entries; cap <= 0 takes the system-wide block cache
/// limit.
func NewCachedDisk(under Disk_i, cap int) *CachedDisk_t {
	if cap <= 0 {
		cap = int(limits.Syslimit.Blocks)
	}
	return &CachedDisk_t{under: under, cache: hashtable.MkHash(cap)}
}

// putLine installs line under lba, replacing any stale entry: the
// hashtable's Set refuses to overwrite an existing key (it is built for
// insert-or-lookup workloads like the exfat cluster cache), so a
// refresh must evict first.
func (c *CachedDisk_t) putLine(lba uint64, line *cacheline_t) {
	if _, ok := c.cache.Get(int(lba)); ok {
		c.cache.Del(int(lba))
	}
	c.cache.Set(int(lba), line)
}

func (c *CachedDisk_t) ReadSector(lba uint64, dst []uint8) defs.Err_t {
	if v, ok := c.cache.Get(int(lba)); ok {
		c.nhit++
		copy(dst, v.(*cacheline_t).data[:])
		return 0
	}
	c.nmiss++
	if err := c.under.ReadSector(lba, dst); err != 0 {
		return err
	}
	line := &cacheline_t{}
	copy(line.data[:], dst)
	c.putLine(lba, line)
	return 0
}

func (c *CachedDisk_t) WriteSector(lba uint64, src []uint8) defs.Err_t {
	if err := c.under.WriteSector(lba, src); err != 0 {
		return err
	}
	line := &cacheline_t{}
	copy(line.data[:], src)
	c.putLine(lba, line)
	return 0
}

func (c *CachedDisk_t) Flush() defs.Err_t      { return c.under.Flush() }
func (c *CachedDisk_t) NumSectors() uint64     { return c.under.NumSectors() }
func (c *CachedDisk_t) Stats() string {
	return fmt.Sprintf("ata cache: %v hits %v misses (%v)", c.nhit, c.nmiss, c.under.Stats())
}
