package kheap

import "testing"

func hostHeap(maxBytes int) *Heap_t {
	h := NewHeap(maxBytes, nil)
	h.growpg = func(n int) int {
		h.Grow(make([]uint8, n))
		return n
	}
	return h
}

// checkCover walks the segment list and fails if it is not an
// address-ordered total cover of the arena.
func checkCover(t *testing.T, h *Heap_t) {
	t.Helper()
	h.Lock()
	defer h.Unlock()
	want := 0
	for off := h.head; off != -1; off = h.r(off, hdrNext) {
		if off != want {
			t.Fatalf("segment at %v, expected %v: list is not a total cover", off, want)
		}
		want = off + hdrSize + h.r(off, hdrLen)
	}
	if want != len(h.arena) {
		t.Fatalf("segments cover %v of %v arena bytes", want, len(h.arena))
	}
}

func TestAllocFreeRezeros(t *testing.T) {
	h := hostHeap(1 << 20)

	a, err := h.Alloc(20)
	if err != 0 {
		t.Fatalf("alloc failed: %v", err)
	}
	if len(a) != 20 {
		t.Fatalf("expected 20 bytes, got %v", len(a))
	}
	for _, c := range a {
		if c != 0 {
			t.Fatal("alloc did not zero memory")
		}
	}
	a[0] = 0xff
	h.Free(a)

	b, err := h.Alloc(20)
	if err != 0 {
		t.Fatalf("second alloc failed: %v", err)
	}
	if b[0] != 0 {
		t.Fatal("reused segment was not rezeroed")
	}
	checkCover(t, h)
}

func TestSplitAndCoalesce(t *testing.T) {
	h := hostHeap(1 << 20)

	bufs := make([][]uint8, 0, 1000)
	for i := 0; i < 1000; i++ {
		b, err := h.Alloc(32)
		if err != 0 {
			t.Fatalf("alloc %v failed: %v", i, err)
		}
		bufs = append(bufs, b)
	}
	grown := len(h.arena)

	// free every other block, then ask for blocks twice the size: the
	// 64-byte requests must be satisfied by coalescing pairs of freed
	// 32-byte neighbors with their headers, without growing the arena
	for i := 0; i < 1000; i += 2 {
		h.Free(bufs[i])
	}
	for i := 1; i < 1000; i += 2 {
		h.Free(bufs[i])
	}
	for i := 0; i < 500; i++ {
		if _, err := h.Alloc(64); err != 0 {
			t.Fatalf("post-coalesce alloc %v failed: %v", i, err)
		}
	}
	if len(h.arena) != grown {
		t.Fatalf("arena grew from %v to %v; coalescing should have made room", grown, len(h.arena))
	}
	checkCover(t, h)
}

func TestGrowthOnExhaustion(t *testing.T) {
	h := NewHeap(1<<20, nil)
	grows := 0
	h.growpg = func(n int) int {
		grows++
		h.Grow(make([]uint8, n))
		return n
	}
	for i := 0; i < 2000; i++ {
		if _, err := h.Alloc(16); err != 0 {
			t.Fatalf("alloc %v failed: %v", i, err)
		}
	}
	if grows == 0 {
		t.Fatal("expected the heap to have grown at least once")
	}
	checkCover(t, h)
}

func TestLargeAlloc(t *testing.T) {
	h := hostHeap(1 << 20)
	buf, err := h.Alloc(10000)
	if err != 0 {
		t.Fatalf("large alloc failed: %v", err)
	}
	if len(buf) != 10000 {
		t.Fatalf("expected 10000 bytes, got %v", len(buf))
	}
	h.Free(buf)
	checkCover(t, h)
}

func TestOutOfMemory(t *testing.T) {
	h := NewHeap(4096, func(n int) int { return 0 })
	if _, err := h.Alloc(1 << 20); err == 0 {
		t.Fatal("expected ENOMEM for an allocation the heap can never grow to")
	}
}
