package vm

import "testing"

import "mem"

func TestPgbits(t *testing.T) {
	cases := []struct {
		va             uintptr
		l4, l3, l2, l1 uint
	}{
		{0, 0, 0, 0, 0},
		{0x1000, 0, 0, 0, 1},
		{0x7fff_f000, 0, 1, 255, 511},
		{0xffff_8000_0000_0000, 256, 0, 0, 0},
	}
	for _, c := range cases {
		l4, l3, l2, l1 := pgbits(c.va)
		if l4 != c.l4 || l3 != c.l3 || l2 != c.l2 || l1 != c.l1 {
			t.Fatalf("pgbits(%#x): got %v/%v/%v/%v want %v/%v/%v/%v",
				c.va, l4, l3, l2, l1, c.l4, c.l3, c.l2, c.l1)
		}
	}
}

func TestTranslateUnmapped(t *testing.T) {
	as := &Vm_t{Pmap: &mem.Pmap_t{}}
	if pa, ok := Translate(as, 0x400000); ok {
		t.Fatalf("expected no translation in an empty address space, got %#x", pa)
	}
}

func TestPmapLookupMissingLevels(t *testing.T) {
	pm := &mem.Pmap_t{}
	if pte := Pmap_lookup(pm, 0x400000); pte != nil {
		t.Fatal("expected nil PTE with every intermediate level absent")
	}
}

func TestSwitchAddressSpaceNilLoadsKernelRoot(t *testing.T) {
	saved := LoadCr3
	defer func() { LoadCr3 = saved }()
	savedKern := kernP_pmap
	defer func() { kernP_pmap = savedKern }()
	kernP_pmap = 0x1000

	var loaded mem.Pa_t
	LoadCr3 = func(p mem.Pa_t) { loaded = p }

	SwitchAddressSpace(nil)
	if loaded != 0x1000 {
		t.Fatalf("expected nil switch to load the kernel root, loaded %#x", loaded)
	}
	SwitchAddressSpace(&Vm_t{P_pmap: 0x2000})
	if loaded != 0x2000 {
		t.Fatalf("expected task root loaded, got %#x", loaded)
	}
}

func TestFakeubufRoundtrip(t *testing.T) {
	src := []uint8("some bytes to move")
	ub := &Fakeubuf_t{}
	ub.Fake_init(append([]uint8{}, src...))
	if ub.Totalsz() != len(src) {
		t.Fatalf("expected total size %v, got %v", len(src), ub.Totalsz())
	}

	dst := make([]uint8, len(src))
	n, err := ub.Uioread(dst)
	if err != 0 || n != len(src) {
		t.Fatalf("uioread: n=%v err=%v", n, err)
	}
	if string(dst) != string(src) {
		t.Fatalf("expected %q, got %q", src, dst)
	}
	if ub.Remain() != 0 {
		t.Fatalf("expected an exhausted buffer, %v bytes remain", ub.Remain())
	}
}

func TestFakeubufPartialReads(t *testing.T) {
	ub := &Fakeubuf_t{}
	ub.Fake_init([]uint8("abcdef"))
	half := make([]uint8, 3)
	if n, err := ub.Uioread(half); err != 0 || n != 3 || string(half) != "abc" {
		t.Fatalf("first half: n=%v err=%v got %q", n, err, half)
	}
	if n, err := ub.Uioread(half); err != 0 || n != 3 || string(half) != "def" {
		t.Fatalf("second half: n=%v err=%v got %q", n, err, half)
	}
}
