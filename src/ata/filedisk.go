package ata

import "os"
import "sync"

import "defs"

/// FileDisk_t backs an ordinary host file with the Disk_i interface, so
/// the filesystem layer can be built and tested entirely on the host.
type FileDisk_t struct {
	sync.Mutex
	f       *os.File
	nsector uint64
}

/// NewFileDisk opens (or creates, truncating to nsector*SectorSize) a
/// host file to back a simulated disk.
func NewFileDisk(path string, nsector uint64) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(nsector) * SectorSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk_t{f: f, nsector: nsector}, nil
}

func (d *FileDisk_t) ReadSector(lba uint64, dst []uint8) defs.Err_t {
	if len(dst) != SectorSize {
		panic("bad sector buffer size")
	}
	if lba >= d.nsector {
		return -defs.EINVAL
	}
	d.Lock()
	defer d.Unlock()
	n, err := d.f.ReadAt(dst, int64(lba)*SectorSize)
	if err != nil || n != SectorSize {
		return -defs.EIO
	}
	return 0
}

func (d *FileDisk_t) WriteSector(lba uint64, src []uint8) defs.Err_t {
	if len(src) != SectorSize {
		panic("bad sector buffer size")
	}
	if lba >= d.nsector {
		return -defs.EINVAL
	}
	d.Lock()
	defer d.Unlock()
	n, err := d.f.WriteAt(src, int64(lba)*SectorSize)
	if err != nil || n != SectorSize {
		return -defs.EIO
	}
	return 0
}

func (d *FileDisk_t) Flush() defs.Err_t {
	d.Lock()
	defer d.Unlock()
	if err := d.f.Sync(); err != nil {
		return -defs.EIO
	}
	return 0
}

func (d *FileDisk_t) NumSectors() uint64 { return d.nsector }

func (d *FileDisk_t) Stats() string { return "ata: file-backed simulated disk" }

/// Close releases the backing file.
func (d *FileDisk_t) Close() error {
	return d.f.Close()
}
