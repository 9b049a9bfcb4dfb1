package fs

import "sync"

import "defs"
import "stat"
import "ustr"

/// Dir_t is a directory's cluster chain together with the allocation
/// state it needs to grow: entries are read and written as raw
/// direntSet_t records via the embedded ClusterStream_t, keeping record
/// layout knowledge out of the cluster-chain layer.
type Dir_t struct {
	sync.Mutex
	cs *ClusterStream_t
	fs *Fs_t
}

func mkDir(fsys *Fs_t, first uint32) *Dir_t {
	return &Dir_t{
		cs: mkClusterStream(fsys.disk, fsys.fat, fsys.bs, first, false),
		fs: fsys,
	}
}

// forEach walks every in-use entry set in the directory, calling f with
// each one. f returns false to stop the walk early.
func (d *Dir_t) forEach(f func(d *direntSet_t) bool) defs.Err_t {
	off := 0
	hdr := make([]uint8, directoryEntrySize)
	for {
		if err := d.cs.ReadAt(hdr, off); err != 0 {
			if err == -defs.EINVAL {
				return 0 // ran off the end of an unextended chain
			}
			return err
		}
		if hdr[0] == entryEndOfDir {
			return 0
		}
		if hdr[0]&entryInUseBit == 0 {
			// tombstoned entry set; its record count isn't known without
			// re-reading it as a live set, so only a live File entry's
			// nrecs can be trusted to skip forward. Treat one record at a
			// time for tombstoned slots.
			off += directoryEntrySize
			continue
		}
		if hdr[0] != entryFile {
			// bitmap/upcase records in the root, or an unknown in-use
			// type: a single record, not a set
			off += directoryEntrySize
			continue
		}
		sc := int(hdr[1])
		nrecs := 1 + sc
		full := make([]uint8, nrecs*directoryEntrySize)
		if err := d.cs.ReadAt(full, off); err != 0 {
			return err
		}
		ent := decodeDirent(full, off)
		if ent == nil {
			off += directoryEntrySize
			continue
		}
		if !f(ent) {
			return 0
		}
		off += nrecs * directoryEntrySize
	}
}

/// Lookup searches the directory for name, returning ENOENT if absent.
func (d *Dir_t) Lookup(name ustr.Ustr) (*direntSet_t, defs.Err_t) {
	d.Lock()
	defer d.Unlock()
	var found *direntSet_t
	err := d.forEach(func(e *direntSet_t) bool {
		if e.Name.Eq(name) {
			found = e
			return false
		}
		return true
	})
	if err != 0 {
		return nil, err
	}
	if found == nil {
		return nil, -defs.ENOENT
	}
	return found, 0
}

/// Readdir returns the names of every live entry, for the getdents-style
/// syscall this filesystem exposes through fdops.Fdops_i.
func (d *Dir_t) Readdir() ([]ustr.Ustr, defs.Err_t) {
	d.Lock()
	defer d.Unlock()
	var names []ustr.Ustr
	err := d.forEach(func(e *direntSet_t) bool {
		names = append(names, e.Name)
		return true
	})
	return names, err
}

// appendEntry writes a new entry set over the first run of contiguous
// tombstoned records large enough to hold it, or at the
// end-of-directory marker if no such run exists. Growing past the end
// of the last cluster is handled by the cluster stream: a fresh,
// zeroed cluster is chained on.
func (d *Dir_t) appendEntry(ent *direntSet_t) defs.Err_t {
	enc := ent.encode()
	needRecs := len(enc) / directoryEntrySize

	off := 0
	runStart, runLen := -1, 0
	hdr := make([]uint8, directoryEntrySize)
	for {
		if err := d.cs.ReadAt(hdr, off); err != 0 {
			if err != -defs.EINVAL {
				return err
			}
			break
		}
		if hdr[0] == entryEndOfDir {
			break
		}
		if hdr[0]&entryInUseBit == 0 {
			if runStart < 0 {
				runStart = off
			}
			runLen++
			// a set never straddles a cluster boundary; slide the run
			// forward until it fits within one
			for runStart%d.cs.clusBytes+len(enc) > d.cs.clusBytes {
				runStart += directoryEntrySize
				runLen--
			}
			if runLen == needRecs {
				// interior reuse: the records past the run are live,
				// so no new end-of-directory marker is needed
				return d.cs.WriteAt(d.fs.bitmap, enc, runStart)
			}
			off += directoryEntrySize
			continue
		}
		runStart, runLen = -1, 0
		if hdr[0] != entryFile {
			off += directoryEntrySize
			continue
		}
		sc := int(hdr[1])
		off += (1 + sc) * directoryEntrySize
	}

	if off%d.cs.clusBytes+len(enc) > d.cs.clusBytes {
		// pad the trailing slots of this cluster with tombstones so the
		// set starts at the next cluster boundary
		pad := make([]uint8, directoryEntrySize)
		pad[0] = entryFile &^ entryInUseBit
		for off%d.cs.clusBytes != 0 {
			if err := d.cs.WriteAt(d.fs.bitmap, pad, off); err != 0 {
				return err
			}
			off += directoryEntrySize
		}
	}
	if err := d.cs.WriteAt(d.fs.bitmap, enc, off); err != 0 {
		return err
	}
	eod := make([]uint8, directoryEntrySize)
	return d.cs.WriteAt(d.fs.bitmap, eod, off+len(enc))
}

/// Create adds a new object named name with the given attributes and
/// first cluster (0 if the object starts out empty), returning EEXIST
/// if the name is already taken.
func (d *Dir_t) Create(name ustr.Ustr, attr uint16, mtime uint32) (*direntSet_t, defs.Err_t) {
	d.Lock()
	defer d.Unlock()

	var clash bool
	d.forEach(func(e *direntSet_t) bool {
		if e.Name.Eq(name) {
			clash = true
			return false
		}
		return true
	})
	if clash {
		return nil, -defs.EEXIST
	}

	ent := &direntSet_t{Name: name, Attr: attr, Mtime: mtime}
	if err := d.appendEntry(ent); err != 0 {
		return nil, err
	}
	return ent, 0
}

// updateCluster rewrites name's Stream Extension entry in place after its
// first cluster has been allocated (e.g. on first write to an
// empty file).
func (d *Dir_t) updateCluster(name ustr.Ustr, cluster uint32, size uint64, contig bool) defs.Err_t {
	d.Lock()
	defer d.Unlock()
	var target *direntSet_t
	d.forEach(func(e *direntSet_t) bool {
		if e.Name.Eq(name) {
			target = e
			return false
		}
		return true
	})
	if target == nil {
		return -defs.ENOENT
	}
	target.Cluster = cluster
	target.Size = size
	target.Contig = contig
	enc := target.encode()
	return d.cs.WriteAt(d.fs.bitmap, enc, target.off)
}

// renameInPlace rewrites old's Name entry in place, for a
// same-directory rename. Returns EINVAL when the new name needs a
// different record count than the set already has (the caller falls
// back to allocating a fresh set).
func (d *Dir_t) renameInPlace(old, new ustr.Ustr) defs.Err_t {
	d.Lock()
	defer d.Unlock()
	var target *direntSet_t
	d.forEach(func(e *direntSet_t) bool {
		if e.Name.Eq(old) {
			target = e
			return false
		}
		return true
	})
	if target == nil {
		return -defs.ENOENT
	}
	if 1+secondaryCount(len(new)) != target.nrecs {
		return -defs.EINVAL
	}
	target.Name = new
	enc := target.encode()
	return d.cs.WriteAt(d.fs.bitmap, enc, target.off)
}

/// Remove tombstones name's entry set, returning ENOENT if absent and
/// ENOTEMPTY if name is a non-empty directory.
func (d *Dir_t) Remove(name ustr.Ustr, isEmptyDir func(cluster uint32) (bool, defs.Err_t)) defs.Err_t {
	d.Lock()
	defer d.Unlock()

	var target *direntSet_t
	d.forEach(func(e *direntSet_t) bool {
		if e.Name.Eq(name) {
			target = e
			return false
		}
		return true
	})
	if target == nil {
		return -defs.ENOENT
	}
	if target.Attr&stat.ATTR_DIRECTORY != 0 {
		empty, err := isEmptyDir(target.Cluster)
		if err != 0 {
			return err
		}
		if !empty {
			return -defs.ENOTEMPTY
		}
	}

	// tombstone: clear the in-use bit on every record of the set. The
	// records stay in place -- a zeroed record would read as
	// end-of-directory and hide everything after it.
	rec := make([]uint8, directoryEntrySize)
	for i := 0; i < target.nrecs; i++ {
		off := target.off + i*directoryEntrySize
		if err := d.cs.ReadAt(rec, off); err != 0 {
			return err
		}
		rec[0] &^= entryInUseBit
		if err := d.cs.WriteAt(d.fs.bitmap, rec, off); err != 0 {
			return err
		}
	}
	return 0
}
