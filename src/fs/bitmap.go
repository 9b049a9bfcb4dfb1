package fs

import "sync"

import "ata"
import "defs"
import "kheap"

/// Bitmap_t is the cluster allocation bitmap: one bit per cluster in
/// the heap, 1 meaning allocated. It lives in the cluster heap itself
/// and is found at mount time through the Allocation Bitmap entry in
/// the root directory; mkfs places it in the contiguous run starting
/// at cluster 3, so the resident copy can be loaded and flushed with
/// plain sector arithmetic from its first cluster.
type Bitmap_t struct {
	sync.Mutex
	disk    ata.Disk_i
	offset  uint64 // sector
	nbits   uint32
	bits    []uint8 // resident copy; write-through to disk on every change
	nbyte   int
}

func bitmapSectors(nclusters uint32) int {
	nbytes := (int(nclusters) + 7) / 8
	return (nbytes + ata.SectorSize - 1) / ata.SectorSize
}

func mkBitmap(disk ata.Disk_i, offsetSector uint64, nclusters uint32) (*Bitmap_t, defs.Err_t) {
	nbyte := (int(nclusters) + 7) / 8
	bm := &Bitmap_t{disk: disk, offset: offsetSector, nbits: nclusters, nbyte: nbyte}
	bits, err := kheap.Kernel.Alloc(bitmapSectors(nclusters) * ata.SectorSize)
	if err != 0 {
		return nil, err
	}
	bm.bits = bits
	for i := 0; i < bitmapSectors(nclusters); i++ {
		if err := disk.ReadSector(offsetSector+uint64(i), bm.bits[i*ata.SectorSize:(i+1)*ata.SectorSize]); err != 0 {
			kheap.Kernel.Free(bits)
			return nil, err
		}
	}
	return bm, 0
}

func (bm *Bitmap_t) flushByte(bytei int) defs.Err_t {
	sec := bytei / ata.SectorSize
	return bm.disk.WriteSector(bm.offset+uint64(sec), bm.bits[sec*ata.SectorSize:(sec+1)*ata.SectorSize])
}

func (bm *Bitmap_t) idx(c uint32) int {
	return int(c - firstCluster)
}

/// IsFree reports whether cluster c is unallocated.
func (bm *Bitmap_t) IsFree(c uint32) bool {
	bm.Lock()
	defer bm.Unlock()
	i := bm.idx(c)
	return bm.bits[i/8]&(1<<uint(i%8)) == 0
}

/// Alloc finds and marks the lowest-numbered free cluster, returning
/// ENOSPC if none remain.
func (bm *Bitmap_t) Alloc() (uint32, defs.Err_t) {
	bm.Lock()
	defer bm.Unlock()
	for i := 0; i < int(bm.nbits); i++ {
		if bm.bits[i/8]&(1<<uint(i%8)) == 0 {
			bm.bits[i/8] |= 1 << uint(i%8)
			if err := bm.flushByte(i / 8); err != 0 {
				bm.bits[i/8] &^= 1 << uint(i%8)
				return 0, err
			}
			return firstCluster + uint32(i), 0
		}
	}
	return 0, -defs.ENOSPC
}

/// AllocRun finds and marks count free clusters, scanning upward from
/// cluster 2. With contiguous set the clusters must form one
/// sequential run -- any used bit restarts the search -- so the caller
/// can address them with no FAT chain; otherwise the lowest count free
/// clusters are taken wherever they sit. Returns the clusters in
/// ascending order, or ENOSPC without marking anything.
func (bm *Bitmap_t) AllocRun(count int, contiguous bool) ([]uint32, defs.Err_t) {
	bm.Lock()
	defer bm.Unlock()
	var picked []int
	for i := 0; i < int(bm.nbits) && len(picked) < count; i++ {
		if bm.bits[i/8]&(1<<uint(i%8)) != 0 {
			if contiguous {
				picked = picked[:0]
			}
			continue
		}
		picked = append(picked, i)
	}
	if len(picked) < count {
		return nil, -defs.ENOSPC
	}
	ret := make([]uint32, count)
	for n, i := range picked {
		bm.bits[i/8] |= 1 << uint(i%8)
		if err := bm.flushByte(i / 8); err != 0 {
			for _, j := range picked[:n] {
				bm.bits[j/8] &^= 1 << uint(j%8)
				bm.flushByte(j / 8)
			}
			return nil, err
		}
		ret[n] = firstCluster + uint32(i)
	}
	return ret, 0
}

/// Free releases cluster c back to the pool.
func (bm *Bitmap_t) Free(c uint32) defs.Err_t {
	bm.Lock()
	defer bm.Unlock()
	i := bm.idx(c)
	bm.bits[i/8] &^= 1 << uint(i%8)
	return bm.flushByte(i / 8)
}
