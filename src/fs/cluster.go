package fs

import "ata"
import "defs"

/// ClusterStream_t reads and writes a byte range addressed relative to
/// the start of a cluster chain, translating offsets into (cluster,
/// sector, byte) coordinates via the volume's Fat_t and boot sector
/// geometry. Both directory contents and file data are just cluster
/// chains, so both the directory code and the file handle code in this
/// package build on this type.
type ClusterStream_t struct {
	disk       ata.Disk_i
	fat        *Fat_t
	heapOffset uint64 // sector of cluster 2
	secPerClus int
	clusBytes  int
	first      uint32
	contig     bool // no-FAT-chain allocation: clusters are sequential
}

func mkClusterStream(disk ata.Disk_i, fat *Fat_t, bs *BootSector_t, first uint32, contig bool) *ClusterStream_t {
	return &ClusterStream_t{
		disk:       disk,
		fat:        fat,
		heapOffset: uint64(bs.ClusterHeapOffset()),
		secPerClus: bs.SectorsPerCluster(),
		clusBytes:  bs.BytesPerCluster(),
		first:      first,
		contig:     contig,
	}
}

func (cs *ClusterStream_t) clusterSector(c uint32) uint64 {
	return cs.heapOffset + uint64(c-firstCluster)*uint64(cs.secPerClus)
}

// zeroCluster clears every sector of cluster c, so a freshly chained-on
// cluster never exposes stale records or file bytes.
func (cs *ClusterStream_t) zeroCluster(c uint32) defs.Err_t {
	zero := make([]uint8, ata.SectorSize)
	base := cs.clusterSector(c)
	for i := 0; i < cs.secPerClus; i++ {
		if err := cs.disk.WriteSector(base+uint64(i), zero); err != 0 {
			return err
		}
	}
	return 0
}

// clusterAt returns the nth cluster (0-indexed) in the chain, extending
// the chain by allocating fresh, zeroed clusters via bm if grow is
// true and the chain doesn't reach that far yet. Contiguous (no FAT
// chain) streams index by plain arithmetic and cannot grow -- this
// kernel never creates them, it only honors ones found on disk.
func (cs *ClusterStream_t) clusterAt(bm *Bitmap_t, n int, grow bool) (uint32, defs.Err_t) {
	if cs.contig {
		if cs.first == 0 {
			return 0, -defs.EINVAL
		}
		return cs.first + uint32(n), 0
	}
	c := cs.first
	if c == 0 {
		if !grow {
			return 0, -defs.EINVAL
		}
		nc, err := bm.Alloc()
		if err != 0 {
			return 0, err
		}
		if err := cs.fat.Set(nc, fatEOC); err != 0 {
			return 0, err
		}
		if err := cs.zeroCluster(nc); err != 0 {
			return 0, err
		}
		cs.first = nc
		c = nc
	}
	for i := 0; i < n; i++ {
		next, err := cs.fat.Get(c)
		if err != 0 {
			return 0, err
		}
		if next == fatEOC {
			if !grow {
				return 0, -defs.EINVAL
			}
			nc, err := bm.Alloc()
			if err != 0 {
				return 0, err
			}
			if err := cs.fat.Set(c, nc); err != 0 {
				return 0, err
			}
			if err := cs.fat.Set(nc, fatEOC); err != 0 {
				return 0, err
			}
			if err := cs.zeroCluster(nc); err != 0 {
				return 0, err
			}
			next = nc
		}
		c = next
	}
	return c, 0
}

/// ReadAt fills dst starting at byte offset off within the chain.
/// Returns EINVAL if the chain doesn't extend that far.
func (cs *ClusterStream_t) ReadAt(dst []uint8, off int) defs.Err_t {
	for len(dst) > 0 {
		cn := off / cs.clusBytes
		cOff := off % cs.clusBytes
		c, err := cs.clusterAt(nil, cn, false)
		if err != 0 {
			return err
		}
		sec := cOff / ata.SectorSize
		secOff := cOff % ata.SectorSize
		buf := make([]uint8, ata.SectorSize)
		if err := cs.disk.ReadSector(cs.clusterSector(c)+uint64(sec), buf); err != 0 {
			return err
		}
		n := copy(dst, buf[secOff:])
		dst = dst[n:]
		off += n
	}
	return 0
}

/// WriteAt writes src starting at byte offset off within the chain,
/// growing the chain via bm as needed.
func (cs *ClusterStream_t) WriteAt(bm *Bitmap_t, src []uint8, off int) defs.Err_t {
	for len(src) > 0 {
		cn := off / cs.clusBytes
		cOff := off % cs.clusBytes
		c, err := cs.clusterAt(bm, cn, true)
		if err != 0 {
			return err
		}
		sec := cOff / ata.SectorSize
		secOff := cOff % ata.SectorSize
		buf := make([]uint8, ata.SectorSize)
		sectorLBA := cs.clusterSector(c) + uint64(sec)
		if err := cs.disk.ReadSector(sectorLBA, buf); err != 0 {
			return err
		}
		n := copy(buf[secOff:], src)
		if err := cs.disk.WriteSector(sectorLBA, buf); err != 0 {
			return err
		}
		src = src[n:]
		off += n
	}
	return 0
}

/// FirstCluster returns the chain's first cluster, 0 if the chain is
/// still empty.
func (cs *ClusterStream_t) FirstCluster() uint32 { return cs.first }

/// FreeContigRun releases the n-cluster sequential run backing a
/// no-FAT-chain allocation; there is no FAT chain to clear.
func (cs *ClusterStream_t) FreeContigRun(bm *Bitmap_t, n int) defs.Err_t {
	for i := 0; i < n; i++ {
		if err := bm.Free(cs.first + uint32(i)); err != 0 {
			return err
		}
	}
	cs.first = 0
	return 0
}

/// Truncate releases every cluster in the chain from byte offset newlen
/// onward.
func (cs *ClusterStream_t) Truncate(bm *Bitmap_t, newlen int) defs.Err_t {
	if newlen == 0 {
		c := cs.first
		cs.first = 0
		for c != 0 && c != fatEOC {
			next, err := cs.fat.Get(c)
			if err != 0 {
				return err
			}
			if err := cs.fat.Set(c, fatFree); err != 0 {
				return err
			}
			if err := bm.Free(c); err != 0 {
				return err
			}
			c = next
		}
		return 0
	}
	keepClusters := (newlen + cs.clusBytes - 1) / cs.clusBytes
	last, err := cs.clusterAt(nil, keepClusters-1, false)
	if err != 0 {
		return err
	}
	next, err := cs.fat.Get(last)
	if err != 0 {
		return err
	}
	if err := cs.fat.Set(last, fatEOC); err != 0 {
		return err
	}
	for next != fatEOC {
		n2, err := cs.fat.Get(next)
		if err != 0 {
			return err
		}
		if err := cs.fat.Set(next, fatFree); err != 0 {
			return err
		}
		if err := bm.Free(next); err != 0 {
			return err
		}
		next = n2
	}
	return 0
}
