package fs

import "sync"

import "ata"
import "bpath"
import "defs"
import "fdops"
import "hashtable"
import "stat"
import "ustr"
import "util"

const sectorsPerCluster = 8 // 4096-byte clusters
const bytesPerSectorShift = 9
const sectorsPerClusterShift = 3

/// Fs_t is a mounted volume: the boot sector, FAT, allocation bitmap,
/// and a cache of the directories touched so far, all sharing the
/// single ata.Disk_i beneath them. Mount yields the value, unmount
/// drops it; there is no multi-device mount table in this single-disk
/// design.
type Fs_t struct {
	sync.Mutex
	disk   ata.Disk_i
	bs     *BootSector_t
	fat    *Fat_t
	bitmap *Bitmap_t
	// dirs caches cluster -> *Dir_t so a hot directory's state (and
	// its growing chain) is shared by every path that walks into it
	dirs *hashtable.Hashtable_t
}

/// MkFS mounts an already-formatted volume: it validates the boot
/// sector, then locates the Allocation Bitmap entry in the root
/// directory and loads the bitmap it points at. A root directory with
/// no bitmap entry fails the mount.
func MkFS(disk ata.Disk_i) (*Fs_t, defs.Err_t) {
	bs, err := ReadBootSector(disk)
	if err != 0 {
		return nil, err
	}
	fat, err := mkFat(disk, bs)
	if err != 0 {
		return nil, err
	}
	fsys := &Fs_t{
		disk: disk,
		bs:   bs,
		fat:  fat,
		dirs: hashtable.MkHash(64),
	}
	bmCluster, err := fsys.findBitmapEntry()
	if err != 0 {
		return nil, err
	}
	bmSector := uint64(bs.ClusterHeapOffset()) +
		uint64(bmCluster-firstCluster)*uint64(bs.SectorsPerCluster())
	bm, err := mkBitmap(disk, bmSector, bs.ClusterCount())
	if err != 0 {
		return nil, err
	}
	fsys.bitmap = bm
	return fsys, 0
}

// findBitmapEntry scans the root directory's raw records for the
// Allocation Bitmap entry and returns the first cluster of the bitmap
// chain.
func (fsys *Fs_t) findBitmapEntry() (uint32, defs.Err_t) {
	bs := fsys.bs
	rootSec := uint64(bs.ClusterHeapOffset()) +
		uint64(bs.RootDirCluster()-firstCluster)*uint64(bs.SectorsPerCluster())
	buf := make([]uint8, ata.SectorSize)
	for s := 0; s < bs.SectorsPerCluster(); s++ {
		if err := fsys.disk.ReadSector(rootSec+uint64(s), buf); err != 0 {
			return 0, err
		}
		for off := 0; off < ata.SectorSize; off += directoryEntrySize {
			switch buf[off] {
			case entryEndOfDir:
				return 0, -defs.EINVAL
			case entryBitmap:
				return uint32(util.Readn(buf, 4, off+entryStreamClusterOff)), 0
			}
		}
	}
	return 0, -defs.EINVAL
}

/// Mkfs formats disk with a fresh, empty volume spanning nsectors
/// sectors (the disk's full capacity if nsectors is 0) and mounts it.
/// The FAT length depends on the cluster count, which in turn depends
/// on how many sectors the FAT consumes, so the layout is solved by a
/// few rounds of fixed-point iteration the way a real mkfs tool sizes
/// its metadata regions. The cluster heap starts with the reserved
/// objects: cluster 2 is the root directory, cluster 3 (and any
/// continuation) the allocation bitmap, and the next cluster the
/// upcase table; the root directory is seeded with the Bitmap and
/// Upcase entries pointing at them.
func Mkfs(disk ata.Disk_i, nsectors uint64) (*Fs_t, defs.Err_t) {
	if nsectors == 0 {
		nsectors = disk.NumSectors()
	}
	const fatOffset = 1 // sector 0 is the boot sector

	clusterCount := uint32((nsectors - fatOffset) / sectorsPerCluster)
	var fatLen uint32
	for i := 0; i < 8; i++ {
		fatLen = ((clusterCount+2)*4 + uint32(ata.SectorSize) - 1) / uint32(ata.SectorSize)
		heapOffset := fatOffset + fatLen
		if uint64(heapOffset) >= nsectors {
			return nil, -defs.ENOSPC
		}
		avail := uint32((nsectors - uint64(heapOffset)) / sectorsPerCluster)
		if avail == clusterCount {
			break
		}
		clusterCount = avail
	}
	if clusterCount < 8 {
		return nil, -defs.ENOSPC
	}
	heapOffset := fatOffset + fatLen

	bs := &BootSector_t{Data: make([]uint8, ata.SectorSize)}
	bs.SetFileSystemName()
	bs.SetFatOffset(fatOffset)
	bs.SetFatLength(fatLen)
	bs.SetClusterHeapOffset(heapOffset)
	bs.SetClusterCount(clusterCount)
	bs.SetRootDirCluster(firstCluster)
	bs.SetVolumeLength(nsectors)
	bs.SetBytesPerSectorShift(bytesPerSectorShift)
	bs.SetSectorsPerClusterShift(sectorsPerClusterShift)
	bs.SetNumberOfFats(1)
	bs.SetBootSig()

	clusBytes := bs.BytesPerCluster()
	bitmapBytes := int(clusterCount+7) / 8
	bmClusters := (bitmapBytes + clusBytes - 1) / clusBytes
	rootCluster := firstCluster
	bmCluster := rootCluster + 1
	upcaseCluster := bmCluster + uint32(bmClusters)

	// zero the FAT region and the reserved clusters, clearing whatever
	// metadata a previous volume left behind
	zero := make([]uint8, ata.SectorSize)
	reservedEnd := uint64(heapOffset) + uint64(upcaseCluster-firstCluster+1)*sectorsPerCluster
	for s := uint64(fatOffset); s < reservedEnd; s++ {
		if err := disk.WriteSector(s, zero); err != 0 {
			return nil, err
		}
	}
	if err := WriteBootSector(disk, bs); err != 0 {
		return nil, err
	}

	// FAT entries 0 and 1 are reserved end-of-chain markers
	fbuf := make([]uint8, ata.SectorSize)
	util.Writen(fbuf, 4, 0, int(fatEOC))
	util.Writen(fbuf, 4, 4, int(fatEOC))
	if err := disk.WriteSector(fatOffset, fbuf); err != 0 {
		return nil, err
	}

	fat, err := mkFat(disk, bs)
	if err != 0 {
		return nil, err
	}
	if err := fat.Set(rootCluster, fatEOC); err != 0 {
		return nil, err
	}
	for i := 0; i < bmClusters; i++ {
		next := fatEOC
		if i < bmClusters-1 {
			next = bmCluster + uint32(i) + 1
		}
		if err := fat.Set(bmCluster+uint32(i), next); err != 0 {
			return nil, err
		}
	}
	if err := fat.Set(upcaseCluster, fatEOC); err != 0 {
		return nil, err
	}

	// allocation bitmap: the reserved clusters are the only ones in use
	bbuf := make([]uint8, ata.SectorSize)
	for c := rootCluster; c <= upcaseCluster; c++ {
		i := int(c - firstCluster)
		bbuf[i/8] |= 1 << uint(i%8)
	}
	bmSector := uint64(heapOffset) + uint64(bmCluster-firstCluster)*sectorsPerCluster
	if err := disk.WriteSector(bmSector, bbuf); err != 0 {
		return nil, err
	}

	// root directory: an Allocation Bitmap entry and an Upcase entry,
	// then end-of-directory
	rbuf := make([]uint8, ata.SectorSize)
	rbuf[0] = entryBitmap
	util.Writen(rbuf, 4, entryStreamClusterOff, int(bmCluster))
	util.Writen(rbuf, 8, entryStreamSizeOff, bitmapBytes)
	rbuf[directoryEntrySize] = entryUpcase
	util.Writen(rbuf, 4, directoryEntrySize+entryStreamClusterOff, int(upcaseCluster))
	util.Writen(rbuf, 8, directoryEntrySize+entryStreamSizeOff, clusBytes)
	rootSector := uint64(heapOffset) + uint64(rootCluster-firstCluster)*sectorsPerCluster
	if err := disk.WriteSector(rootSector, rbuf); err != 0 {
		return nil, err
	}

	return MkFS(disk)
}

func (fsys *Fs_t) getDir(cluster uint32) *Dir_t {
	if v, ok := fsys.dirs.Get(cluster); ok {
		return v.(*Dir_t)
	}
	fsys.Lock()
	defer fsys.Unlock()
	if v, ok := fsys.dirs.Get(cluster); ok {
		return v.(*Dir_t)
	}
	d := mkDir(fsys, cluster)
	fsys.dirs.Set(cluster, d)
	return d
}

func (fsys *Fs_t) rootDir() *Dir_t {
	return fsys.getDir(fsys.bs.RootDirCluster())
}

// walkDir resolves an absolute directory path to the Dir_t governing it.
func (fsys *Fs_t) walkDir(path ustr.Ustr) (*Dir_t, defs.Err_t) {
	cp := bpath.Canonicalize(path)
	dir := fsys.rootDir()
	parts := splitPath(cp)
	for _, name := range parts {
		ent, err := dir.Lookup(name)
		if err != 0 {
			return nil, err
		}
		if ent.Attr&stat.ATTR_DIRECTORY == 0 {
			return nil, -defs.ENOTDIR
		}
		dir = fsys.getDir(ent.Cluster)
	}
	return dir, 0
}

func splitPath(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

func noEmptyCheck(uint32) (bool, defs.Err_t) { return true, 0 }

func (fsys *Fs_t) isEmptyDir(cluster uint32) (bool, defs.Err_t) {
	names, err := fsys.getDir(cluster).Readdir()
	if err != 0 {
		return false, err
	}
	return len(names) == 0, 0
}

/// Open resolves path and returns a FileHandle_t, honoring O_CREAT,
/// O_EXCL, O_TRUNC and O_APPEND.
func (fsys *Fs_t) Open(path ustr.Ustr, flags int, mtime uint32) (*FileHandle_t, defs.Err_t) {
	dirpath, name := bpath.Split(path)
	if len(name) == 0 {
		// the path canonicalizes to "/": the root is a directory, only
		// reachable through OpenDir
		return nil, -defs.EISDIR
	}
	dir, err := fsys.walkDir(dirpath)
	if err != 0 {
		return nil, err
	}
	ent, lerr := dir.Lookup(name)
	if lerr != 0 {
		if lerr != -defs.ENOENT {
			return nil, lerr
		}
		if flags&defs.O_CREAT == 0 {
			return nil, -defs.ENOENT
		}
		ent, err = dir.Create(name, 0, mtime)
		if err != 0 {
			return nil, err
		}
	} else if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
		return nil, -defs.EEXIST
	}
	if ent.Attr&stat.ATTR_DIRECTORY != 0 {
		return nil, -defs.EISDIR
	}
	if flags&defs.O_TRUNC != 0 && ent.Cluster != 0 {
		if err := fsys.freeChain(ent); err != 0 {
			return nil, err
		}
		ent.Cluster = 0
		ent.Size = 0
		ent.Contig = false
		if err := dir.updateCluster(name, 0, 0, false); err != 0 {
			return nil, err
		}
	}
	fh := &FileHandle_t{
		fs:   fsys,
		dir:  dir,
		name: append(ustr.Ustr{}, name...),
		cs:   mkClusterStream(fsys.disk, fsys.fat, fsys.bs, ent.Cluster, ent.Contig),
		size: int(ent.Size),
	}
	if flags&defs.O_APPEND != 0 {
		fh.off = fh.size
	}
	return fh, 0
}

/// Mkdir creates an empty directory at path.
func (fsys *Fs_t) Mkdir(path ustr.Ustr, mtime uint32) defs.Err_t {
	dirpath, name := bpath.Split(path)
	if len(name) == 0 {
		return -defs.EEXIST // the root always exists
	}
	dir, err := fsys.walkDir(dirpath)
	if err != 0 {
		return err
	}
	c, err := fsys.AllocClusters(1, false)
	if err != 0 {
		return err
	}
	cs := mkClusterStream(fsys.disk, fsys.fat, fsys.bs, c, false)
	if err := cs.zeroCluster(c); err != 0 {
		return err
	}
	if _, err := dir.Create(name, stat.ATTR_DIRECTORY, mtime); err != 0 {
		fsys.fat.Set(c, fatFree)
		fsys.bitmap.Free(c)
		return err
	}
	// the new directory's cluster is recorded in the entry set only
	// once both exist, so a crash in between leaks a cluster rather
	// than publishing a directory with a dangling chain
	return dir.updateCluster(name, c, 0, false)
}

/// Rmdir removes the empty directory at path, returning ENOTEMPTY if it
/// has any entries left.
func (fsys *Fs_t) Rmdir(path ustr.Ustr) defs.Err_t {
	dirpath, name := bpath.Split(path)
	if len(name) == 0 {
		return -defs.EINVAL // the root cannot be removed
	}
	dir, err := fsys.walkDir(dirpath)
	if err != 0 {
		return err
	}
	ent, err := dir.Lookup(name)
	if err != 0 {
		return err
	}
	if ent.Attr&stat.ATTR_DIRECTORY == 0 {
		return -defs.ENOTDIR
	}
	if err := dir.Remove(name, fsys.isEmptyDir); err != 0 {
		return err
	}
	return fsys.freeChain(ent)
}

/// AllocClusters reserves count clusters for a new chain. Contiguous
/// allocations are one sequential run with no FAT chain behind them;
/// otherwise the clusters are linked through the FAT with the last
/// marked end-of-chain.
func (fsys *Fs_t) AllocClusters(count int, contiguous bool) (uint32, defs.Err_t) {
	clusters, err := fsys.bitmap.AllocRun(count, contiguous)
	if err != 0 {
		return 0, err
	}
	if !contiguous {
		for i, c := range clusters {
			next := fatEOC
			if i < len(clusters)-1 {
				next = clusters[i+1]
			}
			if err := fsys.fat.Set(c, next); err != 0 {
				return 0, err
			}
		}
	}
	return clusters[0], 0
}

// freeChain releases every cluster backing ent, walking the FAT for a
// chained allocation or the sequential run for a no-FAT-chain one.
func (fsys *Fs_t) freeChain(ent *direntSet_t) defs.Err_t {
	if ent.Cluster == 0 {
		return 0
	}
	cs := mkClusterStream(fsys.disk, fsys.fat, fsys.bs, ent.Cluster, ent.Contig)
	if ent.Contig {
		n := (int(ent.Size) + cs.clusBytes - 1) / cs.clusBytes
		if n == 0 {
			n = 1
		}
		return cs.FreeContigRun(fsys.bitmap, n)
	}
	return cs.Truncate(fsys.bitmap, 0)
}

/// Unlink removes the file at path and releases its cluster chain.
func (fsys *Fs_t) Unlink(path ustr.Ustr) defs.Err_t {
	dirpath, name := bpath.Split(path)
	if len(name) == 0 {
		return -defs.EISDIR
	}
	dir, err := fsys.walkDir(dirpath)
	if err != 0 {
		return err
	}
	ent, err := dir.Lookup(name)
	if err != 0 {
		return err
	}
	if ent.Attr&stat.ATTR_DIRECTORY != 0 {
		return -defs.EISDIR
	}
	if err := dir.Remove(name, noEmptyCheck); err != 0 {
		return err
	}
	return fsys.freeChain(ent)
}

/// Rename moves the object at oldpath to newpath, failing with EEXIST if
/// newpath is already taken.
func (fsys *Fs_t) Rename(oldpath, newpath ustr.Ustr) defs.Err_t {
	odirpath, oname := bpath.Split(oldpath)
	if len(oname) == 0 {
		return -defs.EINVAL // the root cannot be moved
	}
	odir, err := fsys.walkDir(odirpath)
	if err != 0 {
		return err
	}
	ent, err := odir.Lookup(oname)
	if err != 0 {
		return err
	}
	ndirpath, nname := bpath.Split(newpath)
	if len(nname) == 0 {
		return -defs.EEXIST // the destination is the root itself
	}
	ndir, err := fsys.walkDir(ndirpath)
	if err != 0 {
		return err
	}
	if _, err := ndir.Lookup(nname); err == 0 {
		return -defs.EEXIST
	}
	if odir == ndir {
		// same directory: rewrite the Name entry in place, leaving the
		// File and Stream records untouched on disk
		if err := odir.renameInPlace(oname, nname); err != -defs.EINVAL {
			return err
		}
		// record counts differ; fall through to the copy path
	}
	if _, err := ndir.Create(nname, ent.Attr, ent.Mtime); err != 0 {
		return err
	}
	// the cluster chain is inherited by the new entry, never duplicated
	if err := ndir.updateCluster(nname, ent.Cluster, ent.Size, ent.Contig); err != 0 {
		return err
	}
	return odir.Remove(oname, noEmptyCheck)
}

/// Stat populates st with path's metadata.
func (fsys *Fs_t) Stat(path ustr.Ustr, st *stat.Stat_t) defs.Err_t {
	dirpath, name := bpath.Split(path)
	if len(name) == 0 {
		// the root directory has no entry set of its own; its identity
		// comes from the boot sector
		st.Wcluster(uint(fsys.bs.RootDirCluster()))
		st.Wattr(stat.ATTR_DIRECTORY)
		st.Wsize(0)
		st.Wmtime(0)
		return 0
	}
	dir, err := fsys.walkDir(dirpath)
	if err != 0 {
		return err
	}
	ent, err := dir.Lookup(name)
	if err != 0 {
		return err
	}
	st.Wcluster(uint(ent.Cluster))
	st.Wattr(uint(ent.Attr))
	st.Wsize(uint(ent.Size))
	st.Wmtime(uint(ent.Mtime))
	return 0
}

/// OpenDir resolves path to a directory stream satisfying fdops.Fdops_i.
func (fsys *Fs_t) OpenDir(path ustr.Ustr) (*DirHandle_t, defs.Err_t) {
	dir, err := fsys.walkDir(path)
	if err != 0 {
		return nil, err
	}
	names, err := dir.Readdir()
	if err != 0 {
		return nil, err
	}
	return &DirHandle_t{dir: dir, names: names}, 0
}

/// FileHandle_t is an open regular file, implementing fdops.Fdops_i over
/// a ClusterStream_t.
type FileHandle_t struct {
	sync.Mutex
	fs    *Fs_t
	dir   *Dir_t
	name  ustr.Ustr
	cs    *ClusterStream_t
	off   int
	size  int
	dirty bool
}

func (fh *FileHandle_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	n := dst.Remain()
	if fh.off+n > fh.size {
		n = fh.size - fh.off
	}
	if n <= 0 {
		return 0, 0
	}
	buf := make([]uint8, n)
	if err := fh.cs.ReadAt(buf, fh.off); err != 0 {
		return 0, err
	}
	wrote, err := dst.Uiowrite(buf)
	fh.off += wrote
	return wrote, err
}

func (fh *FileHandle_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	n := src.Remain()
	if n <= 0 {
		return 0, 0
	}
	buf := make([]uint8, n)
	got, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	buf = buf[:got]
	if err := fh.cs.WriteAt(fh.fs.bitmap, buf, fh.off); err != 0 {
		return 0, err
	}
	fh.off += got
	if fh.off > fh.size {
		fh.size = fh.off
	}
	fh.dirty = true
	return got, 0
}

func (fh *FileHandle_t) Lseek(off int, whence int) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	switch whence {
	case defs.SEEK_SET:
		fh.off = off
	case defs.SEEK_CUR:
		fh.off += off
	case defs.SEEK_END:
		fh.off = fh.size + off
	default:
		return 0, -defs.EINVAL
	}
	if fh.off < 0 {
		fh.off = 0
		return 0, -defs.EINVAL
	}
	return fh.off, 0
}

/// Flush writes the handle's size and first cluster back to its
/// directory entry set. Data sectors are already durable (every write
/// goes straight to disk); only the entry set metadata is deferred
/// until here.
func (fh *FileHandle_t) Flush() defs.Err_t {
	fh.Lock()
	defer fh.Unlock()
	return fh.flushLocked()
}

func (fh *FileHandle_t) flushLocked() defs.Err_t {
	if !fh.dirty {
		return 0
	}
	if err := fh.dir.updateCluster(fh.name, fh.cs.FirstCluster(), uint64(fh.size), fh.cs.contig); err != 0 {
		return err
	}
	fh.dirty = false
	return 0
}

func (fh *FileHandle_t) Close() defs.Err_t {
	fh.Lock()
	defer fh.Unlock()
	return fh.flushLocked()
}

func (fh *FileHandle_t) Reopen() defs.Err_t { return 0 }

/// Copyfops returns an independent handle over the same file, so a
/// forked child's descriptor has its own offset and dirty state.
func (fh *FileHandle_t) Copyfops() (fdops.Fdops_i, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	ncs := *fh.cs
	return &FileHandle_t{
		fs:    fh.fs,
		dir:   fh.dir,
		name:  append(ustr.Ustr{}, fh.name...),
		cs:    &ncs,
		off:   fh.off,
		size:  fh.size,
		dirty: fh.dirty,
	}, 0
}

func (fh *FileHandle_t) Readdir() (string, defs.Err_t) {
	return "", -defs.ENOTDIR
}

/// DirHandle_t is an open directory stream, implementing fdops.Fdops_i's
/// Readdir method and rejecting Read/Write: directories are only
/// readable through readdir.
type DirHandle_t struct {
	sync.Mutex
	dir   *Dir_t
	names []ustr.Ustr
	pos   int
}

func (dh *DirHandle_t) Read(dst fdops.Userio_i) (int, defs.Err_t)   { return 0, -defs.EISDIR }
func (dh *DirHandle_t) Write(src fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.EISDIR }
func (dh *DirHandle_t) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.EISDIR }
func (dh *DirHandle_t) Close() defs.Err_t                           { return 0 }
func (dh *DirHandle_t) Reopen() defs.Err_t {
	dh.Lock()
	defer dh.Unlock()
	names, err := dh.dir.Readdir()
	if err != 0 {
		return err
	}
	dh.names = names
	dh.pos = 0
	return 0
}

func (dh *DirHandle_t) Readdir() (string, defs.Err_t) {
	dh.Lock()
	defer dh.Unlock()
	if dh.pos >= len(dh.names) {
		return "", 0
	}
	n := dh.names[dh.pos]
	dh.pos++
	return string(n), 0
}

/// Copyfops returns an independent stream over the same directory with
/// its own enumeration position.
func (dh *DirHandle_t) Copyfops() (fdops.Fdops_i, defs.Err_t) {
	dh.Lock()
	defer dh.Unlock()
	names := make([]ustr.Ustr, len(dh.names))
	copy(names, dh.names)
	return &DirHandle_t{dir: dh.dir, names: names, pos: dh.pos}, 0
}
