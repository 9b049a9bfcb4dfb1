package mem

import "testing"

func TestAllocRequiresFreeRegion(t *testing.T) {
	Phys_init(0x100000, 16)
	if _, _, ok := Physmem.Refpg_new_nozero(); ok {
		t.Fatal("allocator handed out a frame before any region was freed")
	}
}

func TestPhysAllocFree(t *testing.T) {
	Phys_init(0x100000, 16)
	Physmem.FreeRegion(0x100000, 16*PGSIZE)
	Physmem.MarkDmapReady()
	Zeropg = &Pg_t{}

	var got []Pa_t
	for i := 0; i < 16; i++ {
		_, p, ok := Physmem.Refpg_new_nozero()
		if !ok {
			t.Fatalf("alloc %v failed with frames free", i)
		}
		got = append(got, p)
	}
	if _, _, ok := Physmem.Refpg_new_nozero(); ok {
		t.Fatalf("allocator returned a frame with none free")
	}
	if n := Physmem.Pgcount(); n != 0 {
		t.Fatalf("expected 0 free frames, got %v", n)
	}
	for _, p := range got {
		if !Physmem.Refdown(p) {
			t.Fatalf("refdown on owned frame %#x reported no-op", p)
		}
	}
	if n := Physmem.Pgcount(); n != 16 {
		t.Fatalf("expected 16 free frames after release, got %v", n)
	}
}

func TestFreeRegionSkipsOutOfWindow(t *testing.T) {
	Phys_init(0x200000, 4)
	// below and above the managed window: both ignored
	Physmem.FreeRegion(0, 0x100000)
	Physmem.FreeRegion(0x300000, 0x100000)
	if n := Physmem.Pgcount(); n != 0 {
		t.Fatalf("expected out-of-window regions ignored, %v frames freed", n)
	}
	Physmem.FreeRegion(0x200000, 4*PGSIZE)
	if n := Physmem.Pgcount(); n != 4 {
		t.Fatalf("expected 4 free frames, got %v", n)
	}
}

func TestDoubleFreeIsNoop(t *testing.T) {
	Phys_init(0x200000, 4)
	Physmem.FreeRegion(0x200000, 4*PGSIZE)
	_, p, ok := Physmem.Refpg_new_nozero()
	if !ok {
		t.Fatal("alloc failed")
	}
	Physmem.Refdown(p)
	if Physmem.Refdown(p) {
		t.Fatal("second refdown on already-free frame should be a no-op")
	}
}

func TestContiguousRun(t *testing.T) {
	Phys_init(0x400000, 16)
	Physmem.FreeRegion(0x400000, 16*PGSIZE)
	p, ok := Physmem.Refpgs_new(4)
	if !ok {
		t.Fatal("contiguous alloc failed")
	}
	for i := 0; i < 4; i++ {
		if Physmem.Refcnt(p+Pa_t(i*PGSIZE)) != 1 {
			t.Fatalf("frame %v of the run not marked in use", i)
		}
	}
	if n := Physmem.Pgcount(); n != 12 {
		t.Fatalf("expected 12 free frames after a 4-frame run, got %v", n)
	}
}
