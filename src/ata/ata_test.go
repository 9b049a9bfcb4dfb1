package ata

import "path/filepath"
import "testing"

func TestFileDiskReadWrite(t *testing.T) {
	dir := t.TempDir()
	d, err := NewFileDisk(filepath.Join(dir, "disk.img"), 64)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	src := make([]uint8, SectorSize)
	for i := range src {
		src[i] = uint8(i)
	}
	if e := d.WriteSector(3, src); e != 0 {
		t.Fatalf("write failed: %v", e)
	}
	dst := make([]uint8, SectorSize)
	if e := d.ReadSector(3, dst); e != 0 {
		t.Fatalf("read failed: %v", e)
	}
	for i := range src {
		if src[i] != dst[i] {
			t.Fatalf("byte %v mismatch: wrote %v read %v", i, src[i], dst[i])
		}
	}
	if e := d.ReadSector(1000, dst); e == 0 {
		t.Fatal("expected EINVAL reading past the end of the disk")
	}
}

func TestCachedDiskHitsAfterWrite(t *testing.T) {
	dir := t.TempDir()
	fd, err := NewFileDisk(filepath.Join(dir, "disk.img"), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()
	cd := NewCachedDisk(fd, 16)

	buf := make([]uint8, SectorSize)
	buf[0] = 0xAB
	if e := cd.WriteSector(2, buf); e != 0 {
		t.Fatalf("write failed: %v", e)
	}
	dst := make([]uint8, SectorSize)
	if e := cd.ReadSector(2, dst); e != 0 {
		t.Fatalf("read failed: %v", e)
	}
	if dst[0] != 0xAB {
		t.Fatal("expected write-through to be visible on immediate readback")
	}
	if cd.nmiss != 0 {
		t.Fatalf("expected the write-populated cache line to serve the read, got %v misses", cd.nmiss)
	}

	buf[0] = 0xCD
	if e := cd.WriteSector(2, buf); e != 0 {
		t.Fatalf("second write failed: %v", e)
	}
	if e := cd.ReadSector(2, dst); e != 0 {
		t.Fatalf("read failed: %v", e)
	}
	if dst[0] != 0xCD {
		t.Fatal("cache did not reflect the second write")
	}
}
