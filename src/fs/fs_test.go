package fs

import "bytes"
import "path/filepath"
import "testing"

import "ata"
import "defs"
import "stat"
import "ustr"
import "vm"

const testSectors = 4096 // 2 MiB image

func newTestDisk(t *testing.T) *ata.FileDisk_t {
	t.Helper()
	disk, err := ata.NewFileDisk(filepath.Join(t.TempDir(), "disk.img"), testSectors)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { disk.Close() })
	return disk
}

func newTestFS(t *testing.T) (*Fs_t, *ata.FileDisk_t) {
	t.Helper()
	disk := newTestDisk(t)
	fsys, err := Mkfs(disk, 0)
	if err != 0 {
		t.Fatalf("mkfs failed: %v", err)
	}
	return fsys, disk
}

func p(s string) ustr.Ustr { return ustr.Ustr(s) }

func writeFile(t *testing.T, fsys *Fs_t, path string, data []byte) {
	t.Helper()
	fh, err := fsys.Open(p(path), defs.O_WRONLY|defs.O_CREAT, 0)
	if err != 0 {
		t.Fatalf("open %s for write failed: %v", path, err)
	}
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(data)
	if n, werr := fh.Write(ub); werr != 0 || n != len(data) {
		t.Fatalf("write %s: n=%v err=%v", path, n, werr)
	}
	if cerr := fh.Close(); cerr != 0 {
		t.Fatalf("close %s failed: %v", path, cerr)
	}
}

func readFile(t *testing.T, fsys *Fs_t, path string, n int) []byte {
	t.Helper()
	fh, err := fsys.Open(p(path), defs.O_RDONLY, 0)
	if err != 0 {
		t.Fatalf("open %s for read failed: %v", path, err)
	}
	defer fh.Close()
	buf := make([]byte, n)
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(buf)
	got, rerr := fh.Read(ub)
	if rerr != 0 {
		t.Fatalf("read %s failed: %v", path, rerr)
	}
	return buf[:got]
}

func freeClusters(fsys *Fs_t) int {
	n := 0
	for c := firstCluster; c < firstCluster+fsys.bs.ClusterCount(); c++ {
		if fsys.bitmap.IsFree(c) {
			n++
		}
	}
	return n
}

func TestMkfsMountEmptyRoot(t *testing.T) {
	fsys, _ := newTestFS(t)
	names, err := fsys.rootDir().Readdir()
	if err != 0 {
		t.Fatalf("root readdir failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected empty root on a fresh volume, got %v entries", len(names))
	}
}

func TestMountRejectsUnformattedDisk(t *testing.T) {
	disk := newTestDisk(t)
	if _, err := MkFS(disk); err == 0 {
		t.Fatal("expected mount of an unformatted disk to fail")
	}
}

func TestMountRequiresBitmapEntry(t *testing.T) {
	fsys, disk := newTestFS(t)
	// wipe the root cluster, destroying the Allocation Bitmap entry
	rootSec := uint64(fsys.bs.ClusterHeapOffset())
	zero := make([]uint8, ata.SectorSize)
	for i := 0; i < fsys.bs.SectorsPerCluster(); i++ {
		disk.WriteSector(rootSec+uint64(i), zero)
	}
	if _, err := MkFS(disk); err == 0 {
		t.Fatal("expected mount to fail with no bitmap entry in the root")
	}
}

func TestWriteCloseRemountRead(t *testing.T) {
	fsys, disk := newTestFS(t)
	if err := fsys.Mkdir(p("/a"), 0); err != 0 {
		t.Fatalf("mkdir /a failed: %v", err)
	}
	if err := fsys.Mkdir(p("/a/b"), 0); err != 0 {
		t.Fatalf("mkdir /a/b failed: %v", err)
	}
	writeFile(t, fsys, "/a/b/c", []byte("hello"))

	remounted, err := MkFS(disk)
	if err != 0 {
		t.Fatalf("remount failed: %v", err)
	}
	if got := readFile(t, remounted, "/a/b/c", 16); string(got) != "hello" {
		t.Fatalf("expected %q after remount, got %q", "hello", got)
	}
	var st stat.Stat_t
	if err := remounted.Stat(p("/a/b/c"), &st); err != 0 {
		t.Fatalf("stat after remount failed: %v", err)
	}
	if st.Size() != 5 {
		t.Fatalf("expected size 5 after remount, got %v", st.Size())
	}
}

func TestReadWriteRoundtripAcrossClusters(t *testing.T) {
	fsys, _ := newTestFS(t)
	data := make([]byte, 3*4096+123) // spans four clusters
	for i := range data {
		data[i] = byte(i * 7)
	}
	writeFile(t, fsys, "/big", data)
	got := readFile(t, fsys, "/big", len(data)+64)
	if len(got) != len(data) {
		t.Fatalf("expected %v bytes back, got %v", len(data), len(got))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %v: wrote %v read %v", i, data[i], got[i])
		}
	}
}

func TestWriteAllocatesExactClusters(t *testing.T) {
	fsys, _ := newTestFS(t)
	before := freeClusters(fsys)
	writeFile(t, fsys, "/f", make([]byte, 8192))
	after := freeClusters(fsys)
	if before-after != 2 {
		t.Fatalf("an 8192-byte file should consume exactly 2 clusters, consumed %v", before-after)
	}
}

func TestTruncFreesClusters(t *testing.T) {
	fsys, _ := newTestFS(t)
	empty := freeClusters(fsys)
	writeFile(t, fsys, "/f", make([]byte, 8192))

	fh, err := fsys.Open(p("/f"), defs.O_WRONLY|defs.O_TRUNC, 0)
	if err != 0 {
		t.Fatalf("open with O_TRUNC failed: %v", err)
	}
	fh.Close()

	var st stat.Stat_t
	if err := fsys.Stat(p("/f"), &st); err != 0 {
		t.Fatalf("stat failed: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("expected size 0 after O_TRUNC, got %v", st.Size())
	}
	if got := freeClusters(fsys); got != empty {
		t.Fatalf("expected both clusters returned to the bitmap: free=%v want %v", got, empty)
	}
}

func TestRootPathOperations(t *testing.T) {
	fsys, _ := newTestFS(t)

	// the root is a directory: plain open refuses it, OpenDir serves it
	if _, err := fsys.Open(p("/"), defs.O_RDONLY, 0); err != -defs.EISDIR {
		t.Fatalf("expected EISDIR opening /, got %v", err)
	}
	dh, err := fsys.OpenDir(p("/"))
	if err != 0 {
		t.Fatalf("opendir / failed: %v", err)
	}
	if name, rerr := dh.Readdir(); rerr != 0 || name != "" {
		t.Fatalf("expected an empty root stream, got %q (err %v)", name, rerr)
	}

	var st stat.Stat_t
	if err := fsys.Stat(p("/"), &st); err != 0 {
		t.Fatalf("stat / failed: %v", err)
	}
	if !st.IsDir() {
		t.Fatal("stat / should report a directory")
	}
	if st.Cluster() != uint(fsys.bs.RootDirCluster()) {
		t.Fatalf("stat / cluster %v, want the root cluster %v", st.Cluster(), fsys.bs.RootDirCluster())
	}

	// a path that merely canonicalizes to the root behaves the same
	if err := fsys.Stat(p("/a/.."), &st); err != 0 {
		t.Fatalf("stat /a/.. failed: %v", err)
	}
	if !st.IsDir() {
		t.Fatal("stat /a/.. should resolve to the root directory")
	}

	// the root itself is not creatable, removable, or movable
	if err := fsys.Mkdir(p("/"), 0); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST for mkdir /, got %v", err)
	}
	if err := fsys.Rmdir(p("/")); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for rmdir /, got %v", err)
	}
	if err := fsys.Unlink(p("/")); err != -defs.EISDIR {
		t.Fatalf("expected EISDIR for unlink /, got %v", err)
	}
	if err := fsys.Rename(p("/"), p("/x")); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for rename of /, got %v", err)
	}
	writeFile(t, fsys, "/x", []byte("x"))
	if err := fsys.Rename(p("/x"), p("/")); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST renaming onto /, got %v", err)
	}
}

func TestOpenFlags(t *testing.T) {
	fsys, _ := newTestFS(t)
	if _, err := fsys.Open(p("/nope"), defs.O_RDONLY, 0); err != -defs.ENOENT {
		t.Fatalf("expected ENOENT for a missing file, got %v", err)
	}
	if _, err := fsys.Open(p("/new"), defs.O_WRONLY|defs.O_CREAT, 0); err != 0 {
		t.Fatalf("O_CREAT failed: %v", err)
	}
	if _, err := fsys.Open(p("/new"), defs.O_WRONLY|defs.O_CREAT|defs.O_EXCL, 0); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST for O_CREAT|O_EXCL on an existing path, got %v", err)
	}
	if err := fsys.Mkdir(p("/d"), 0); err != 0 {
		t.Fatalf("mkdir failed: %v", err)
	}
	if _, err := fsys.Open(p("/d"), defs.O_WRONLY, 0); err != -defs.EISDIR {
		t.Fatalf("expected EISDIR opening a directory for write, got %v", err)
	}
}

func TestAppendAndSeek(t *testing.T) {
	fsys, _ := newTestFS(t)
	writeFile(t, fsys, "/log", []byte("one"))

	fh, err := fsys.Open(p("/log"), defs.O_WRONLY|defs.O_APPEND, 0)
	if err != 0 {
		t.Fatalf("open O_APPEND failed: %v", err)
	}
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init([]byte("two"))
	if _, werr := fh.Write(ub); werr != 0 {
		t.Fatalf("append write failed: %v", werr)
	}
	fh.Close()

	rh, err := fsys.Open(p("/log"), defs.O_RDONLY, 0)
	if err != 0 {
		t.Fatalf("reopen failed: %v", err)
	}
	defer rh.Close()
	if off, serr := rh.Lseek(3, defs.SEEK_SET); serr != 0 || off != 3 {
		t.Fatalf("lseek: off=%v err=%v", off, serr)
	}
	buf := make([]byte, 8)
	rub := &vm.Fakeubuf_t{}
	rub.Fake_init(buf)
	n, rerr := rh.Read(rub)
	if rerr != 0 || string(buf[:n]) != "two" {
		t.Fatalf("expected %q at offset 3, got %q (err %v)", "two", buf[:n], rerr)
	}
}

func TestCopyfopsIndependentOffsets(t *testing.T) {
	fsys, _ := newTestFS(t)
	writeFile(t, fsys, "/f", []byte("abcdef"))
	fh, err := fsys.Open(p("/f"), defs.O_RDONLY, 0)
	if err != 0 {
		t.Fatalf("open failed: %v", err)
	}
	defer fh.Close()
	dupOps, derr := fh.Copyfops()
	if derr != 0 {
		t.Fatalf("copyfops failed: %v", derr)
	}

	read3 := func(h *FileHandle_t) string {
		t.Helper()
		buf := make([]byte, 3)
		ub := &vm.Fakeubuf_t{}
		ub.Fake_init(buf)
		n, rerr := h.Read(ub)
		if rerr != 0 {
			t.Fatalf("read failed: %v", rerr)
		}
		return string(buf[:n])
	}
	if got := read3(fh); got != "abc" {
		t.Fatalf("original handle read %q", got)
	}
	// the duplicate's offset must be where the original's was at copy
	// time, and advance independently
	if got := read3(dupOps.(*FileHandle_t)); got != "abc" {
		t.Fatalf("duplicate handle read %q", got)
	}
	if got := read3(fh); got != "def" {
		t.Fatalf("original handle second read %q", got)
	}
}

func TestReaddirMatchesLookupAndSkipsDeleted(t *testing.T) {
	fsys, _ := newTestFS(t)
	for _, name := range []string{"/x", "/y", "/z"} {
		writeFile(t, fsys, name, []byte(name))
	}
	if err := fsys.Unlink(p("/y")); err != 0 {
		t.Fatalf("unlink /y failed: %v", err)
	}

	names, err := fsys.rootDir().Readdir()
	if err != 0 {
		t.Fatalf("readdir failed: %v", err)
	}
	want := map[string]bool{"x": true, "z": true}
	if len(names) != len(want) {
		t.Fatalf("expected %v live entries, got %v (%v)", len(want), len(names), names)
	}
	for _, n := range names {
		if !want[string(n)] {
			t.Fatalf("unexpected entry %q in readdir", n)
		}
		if _, lerr := fsys.rootDir().Lookup(n); lerr != 0 {
			t.Fatalf("readdir yielded %q but lookup fails: %v", n, lerr)
		}
	}
	if _, lerr := fsys.rootDir().Lookup(p("y")); lerr != -defs.ENOENT {
		t.Fatalf("expected deleted entry to be unresolvable, got %v", lerr)
	}
}

func TestMkdirRmdirRestoresState(t *testing.T) {
	fsys, _ := newTestFS(t)
	before := freeClusters(fsys)
	if err := fsys.Mkdir(p("/d"), 0); err != 0 {
		t.Fatalf("mkdir failed: %v", err)
	}
	var st stat.Stat_t
	if err := fsys.Stat(p("/d"), &st); err != 0 || !st.IsDir() {
		t.Fatalf("stat of new directory: err=%v isdir=%v", err, st.IsDir())
	}
	if err := fsys.Rmdir(p("/d")); err != 0 {
		t.Fatalf("rmdir failed: %v", err)
	}
	if err := fsys.Stat(p("/d"), &st); err != -defs.ENOENT {
		t.Fatalf("expected ENOENT after rmdir, got %v", err)
	}
	if got := freeClusters(fsys); got != before {
		t.Fatalf("rmdir should return the directory's cluster: free=%v want %v", got, before)
	}
}

func TestRmdirNonEmptyFails(t *testing.T) {
	fsys, _ := newTestFS(t)
	if err := fsys.Mkdir(p("/d"), 0); err != 0 {
		t.Fatalf("mkdir failed: %v", err)
	}
	writeFile(t, fsys, "/d/f", []byte("x"))
	if err := fsys.Rmdir(p("/d")); err != -defs.ENOTEMPTY {
		t.Fatalf("expected ENOTEMPTY removing a non-empty directory, got %v", err)
	}
	if err := fsys.Unlink(p("/d/f")); err != 0 {
		t.Fatalf("unlink failed: %v", err)
	}
	if err := fsys.Rmdir(p("/d")); err != 0 {
		t.Fatalf("rmdir of emptied directory failed: %v", err)
	}
}

func TestRenameSameDirectory(t *testing.T) {
	fsys, _ := newTestFS(t)
	writeFile(t, fsys, "/x", []byte("payload"))
	var before stat.Stat_t
	if err := fsys.Stat(p("/x"), &before); err != 0 {
		t.Fatalf("stat failed: %v", err)
	}

	if err := fsys.Rename(p("/x"), p("/y")); err != 0 {
		t.Fatalf("rename failed: %v", err)
	}
	var st stat.Stat_t
	if err := fsys.Stat(p("/x"), &st); err != -defs.ENOENT {
		t.Fatalf("expected old name gone, got %v", err)
	}
	if err := fsys.Stat(p("/y"), &st); err != 0 {
		t.Fatalf("expected new name to resolve: %v", err)
	}
	if st.Size() != before.Size() || st.Cluster() != before.Cluster() {
		t.Fatalf("rename must inherit metadata: size %v->%v cluster %v->%v",
			before.Size(), st.Size(), before.Cluster(), st.Cluster())
	}
	if got := readFile(t, fsys, "/y", 16); string(got) != "payload" {
		t.Fatalf("expected data to survive rename, got %q", got)
	}
}

func TestRenameAcrossDirectoriesKeepsChain(t *testing.T) {
	fsys, _ := newTestFS(t)
	if err := fsys.Mkdir(p("/a"), 0); err != 0 {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := fsys.Mkdir(p("/b"), 0); err != 0 {
		t.Fatalf("mkdir failed: %v", err)
	}
	writeFile(t, fsys, "/a/f", []byte("move me"))
	free := freeClusters(fsys)

	if err := fsys.Rename(p("/a/f"), p("/b/g")); err != 0 {
		t.Fatalf("cross-directory rename failed: %v", err)
	}
	if got := freeClusters(fsys); got != free {
		t.Fatalf("rename must not allocate or free data clusters: free=%v want %v", got, free)
	}
	if got := readFile(t, fsys, "/b/g", 16); string(got) != "move me" {
		t.Fatalf("expected data at destination, got %q", got)
	}
	if _, err := fsys.Open(p("/a/f"), defs.O_RDONLY, 0); err != -defs.ENOENT {
		t.Fatalf("expected source gone after rename, got %v", err)
	}
}

func readCluster(t *testing.T, fsys *Fs_t, disk *ata.FileDisk_t, c uint32) []byte {
	t.Helper()
	base := uint64(fsys.bs.ClusterHeapOffset()) +
		uint64(c-firstCluster)*uint64(fsys.bs.SectorsPerCluster())
	buf := make([]byte, fsys.bs.BytesPerCluster())
	for i := 0; i < fsys.bs.SectorsPerCluster(); i++ {
		if err := disk.ReadSector(base+uint64(i), buf[i*ata.SectorSize:(i+1)*ata.SectorSize]); err != 0 {
			t.Fatalf("read cluster %v sector %v: %v", c, i, err)
		}
	}
	return buf
}

// a same-directory rename and its inverse must leave the directory
// cluster byte-for-byte as it started, since only the Name entry is
// rewritten in place.
func TestSameDirRenameRoundtripRestoresBytes(t *testing.T) {
	fsys, disk := newTestFS(t)
	writeFile(t, fsys, "/x", []byte("stable"))
	snap := readCluster(t, fsys, disk, fsys.bs.RootDirCluster())

	if err := fsys.Rename(p("/x"), p("/y")); err != 0 {
		t.Fatalf("rename failed: %v", err)
	}
	if err := fsys.Rename(p("/y"), p("/x")); err != 0 {
		t.Fatalf("inverse rename failed: %v", err)
	}
	if got := readCluster(t, fsys, disk, fsys.bs.RootDirCluster()); !bytes.Equal(snap, got) {
		t.Fatal("directory cluster changed across a same-directory rename round trip")
	}
}

func TestRenameTargetExistsFails(t *testing.T) {
	fsys, _ := newTestFS(t)
	writeFile(t, fsys, "/x", []byte("1"))
	writeFile(t, fsys, "/y", []byte("2"))
	if err := fsys.Rename(p("/x"), p("/y")); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST renaming onto an existing path, got %v", err)
	}
}

func TestAllocClustersContiguous(t *testing.T) {
	fsys, _ := newTestFS(t)
	c, err := fsys.AllocClusters(4, true)
	if err != 0 {
		t.Fatalf("contiguous alloc failed: %v", err)
	}
	for i := uint32(0); i < 4; i++ {
		if fsys.bitmap.IsFree(c + i) {
			t.Fatalf("cluster %v of the run is still marked free", c+i)
		}
	}
	// a chained allocation links through the FAT; a contiguous one
	// must not have touched it
	if next, gerr := fsys.fat.Get(c); gerr != 0 || next != fatFree {
		t.Fatalf("contiguous run should leave the FAT untouched, entry=%#x err=%v", next, gerr)
	}

	cc, err := fsys.AllocClusters(3, false)
	if err != 0 {
		t.Fatalf("chained alloc failed: %v", err)
	}
	chain, cerr := fsys.fat.Chain(cc)
	if cerr != 0 {
		t.Fatalf("walking the chained allocation failed: %v", cerr)
	}
	if len(chain) != 3 {
		t.Fatalf("expected a 3-cluster chain, got %v", len(chain))
	}
}

// TestBitmapFatConsistency checks that after a mix of operations every
// allocated bitmap bit is accounted for by a reachable chain or a
// reserved metadata cluster, and vice versa.
func TestBitmapFatConsistency(t *testing.T) {
	fsys, _ := newTestFS(t)
	if err := fsys.Mkdir(p("/d"), 0); err != 0 {
		t.Fatalf("mkdir failed: %v", err)
	}
	writeFile(t, fsys, "/d/f", make([]byte, 5000))
	writeFile(t, fsys, "/g", []byte("tiny"))
	if err := fsys.Unlink(p("/g")); err != 0 {
		t.Fatalf("unlink failed: %v", err)
	}

	reachable := map[uint32]bool{}
	mark := func(first uint32) {
		if first == 0 {
			return
		}
		chain, err := fsys.fat.Chain(first)
		if err != 0 {
			t.Fatalf("chain walk from %v failed: %v", first, err)
		}
		for _, c := range chain {
			reachable[c] = true
		}
	}
	// reserved objects: root, bitmap, upcase
	mark(fsys.bs.RootDirCluster())
	bmCluster, err := fsys.findBitmapEntry()
	if err != 0 {
		t.Fatalf("no bitmap entry: %v", err)
	}
	mark(bmCluster)
	mark(bmCluster + 1) // upcase follows the single-cluster bitmap here
	// directory tree
	mark(fsys.rootDir().cs.first)
	dent, lerr := fsys.rootDir().Lookup(p("d"))
	if lerr != 0 {
		t.Fatalf("lookup /d failed: %v", lerr)
	}
	mark(dent.Cluster)
	fent, lerr := fsys.getDir(dent.Cluster).Lookup(p("f"))
	if lerr != 0 {
		t.Fatalf("lookup /d/f failed: %v", lerr)
	}
	mark(fent.Cluster)

	for c := firstCluster; c < firstCluster+fsys.bs.ClusterCount(); c++ {
		used := !fsys.bitmap.IsFree(c)
		if used && !reachable[c] {
			t.Fatalf("cluster %v marked used but reachable by no chain", c)
		}
		if !used && reachable[c] {
			t.Fatalf("cluster %v reachable but marked free", c)
		}
	}
}
