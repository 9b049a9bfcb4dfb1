// Package kheap implements the kernel's own dynamically-growable heap:
// a first-fit free-list allocator over a byte arena, used for
// kernel-side allocations whose lifetime outlives any one syscall (the
// filesystem's resident FAT and allocation-bitmap buffers). Segments
// are doubly linked in address order, each described by a header
// immediately preceding its payload; freeing coalesces with the right
// neighbor first, then the left, so the list stays a total cover of
// the arena. On exhaustion the heap grows by whole pages and retries.
package kheap

import "fmt"
import "sync"
import "unsafe"

import "defs"
import "util"

// Segment header layout: four 8-byte fields at these offsets from the
// header's base. Payloads start hdrSize bytes in; every offset and
// length is kept a multiple of 8 so payloads stay 8-byte aligned.
const (
	hdrLen  = 0  // payload bytes
	hdrPrev = 8  // arena offset of the previous header, -1 at the head
	hdrNext = 16 // arena offset of the next header, -1 at the tail
	hdrFree = 24 // 1 free, 0 in use
	hdrSize = 32
)

// minPayload is the smallest payload worth splitting a tail into.
const minPayload = 8

const growQuantum = 4096

/// Heap_t is a growable arena of address-ordered segments. Safe for
/// concurrent use.
type Heap_t struct {
	sync.Mutex

	arena []uint8
	head  int // offset of the lowest-addressed header, -1 while empty
	tail  int // offset of the highest-addressed header, -1 while empty

	// growpg is called to extend the arena by at least n bytes; it
	// returns the number of bytes actually appended (via Grow). The
	// boot glue wires this to pull frames from the physical allocator;
	// the default takes backing from the Go allocator so host-side
	// tests and early boot both work.
	growpg func(n int) int
}

/// NewHeap constructs an empty heap that grows via growpg, which must
/// append at least n bytes to the heap's backing arena (via Grow) and
/// return how many bytes it added, or 0 on failure. maxBytes bounds
/// the heap's lifetime growth: the arena's capacity is reserved up
/// front so that growth never reallocates the backing array out from
/// under a buffer a caller is still holding.
func NewHeap(maxBytes int, growpg func(n int) int) *Heap_t {
	return &Heap_t{arena: make([]uint8, 0, maxBytes), head: -1, tail: -1, growpg: growpg}
}

/// Kernel is the package-wide heap instance kernel subsystems allocate
/// from. Its default growth callback takes backing from the Go
/// allocator; the boot glue replaces it with one that pulls frames
/// from the physical allocator once that exists.
var Kernel = NewHeap(64<<20, nil)

func init() {
	Kernel.growpg = func(n int) int {
		Kernel.Grow(make([]uint8, n))
		return n
	}
}

func (h *Heap_t) r(off, field int) int  { return util.Readn(h.arena, 8, off+field) }
func (h *Heap_t) w(off, field, v int)   { util.Writen(h.arena, 8, off+field, v) }

/// Grow appends raw bytes to the arena as a single free segment at the
/// tail, coalescing with the previous tail if that was free. Called by
/// growpg implementations once they've obtained backing storage.
/// Panics if growth would exceed the capacity reserved by NewHeap,
/// since that would reallocate the arena and invalidate buffers
/// already handed out.
func (h *Heap_t) Grow(b []uint8) {
	if len(h.arena)+len(b) > cap(h.arena) {
		panic("kheap: grown past reserved capacity")
	}
	if len(b) < hdrSize+minPayload {
		panic("kheap: grow region too small")
	}
	off := len(h.arena)
	h.arena = append(h.arena, b...)
	h.w(off, hdrLen, len(b)-hdrSize)
	h.w(off, hdrFree, 1)
	h.w(off, hdrNext, -1)
	h.w(off, hdrPrev, h.tail)
	oldTail := h.tail
	h.tail = off
	if oldTail == -1 {
		h.head = off
		return
	}
	h.w(oldTail, hdrNext, off)
	if h.r(oldTail, hdrFree) == 1 {
		h.mergeRight(oldTail)
	}
}

// carve marks the free segment at off in use for a need-byte payload,
// splitting off the tail as a new free segment when it is big enough
// to hold a header and a minimum payload.
func (h *Heap_t) carve(off, need int) {
	l := h.r(off, hdrLen)
	if l-need >= hdrSize+minPayload {
		noff := off + hdrSize + need
		nxt := h.r(off, hdrNext)
		h.w(noff, hdrLen, l-need-hdrSize)
		h.w(noff, hdrFree, 1)
		h.w(noff, hdrPrev, off)
		h.w(noff, hdrNext, nxt)
		if nxt != -1 {
			h.w(nxt, hdrPrev, noff)
		} else {
			h.tail = noff
		}
		h.w(off, hdrNext, noff)
		h.w(off, hdrLen, need)
	}
	h.w(off, hdrFree, 0)
}

/// Alloc returns a zeroed buffer of at least n bytes carved from the
/// first free segment large enough to hold it, growing the arena by
/// whole pages and retrying on exhaustion. ENOMEM when growth fails.
func (h *Heap_t) Alloc(n int) ([]uint8, defs.Err_t) {
	if n <= 0 {
		panic("bad alloc size")
	}
	h.Lock()
	defer h.Unlock()
	need := util.Roundup(n, 8)
	for {
		for off := h.head; off != -1; off = h.r(off, hdrNext) {
			if h.r(off, hdrFree) == 0 || h.r(off, hdrLen) < need {
				continue
			}
			h.carve(off, need)
			b := h.arena[off+hdrSize : off+hdrSize+need]
			for i := range b {
				b[i] = 0
			}
			return b[:n], 0
		}
		want := util.Roundup(need+hdrSize, growQuantum)
		if h.growpg == nil || h.growpg(want) < want {
			return nil, -defs.ENOMEM
		}
	}
}

// mergeRight absorbs off's right neighbor, which the caller has
// checked is free.
func (h *Heap_t) mergeRight(off int) {
	nxt := h.r(off, hdrNext)
	h.w(off, hdrLen, h.r(off, hdrLen)+hdrSize+h.r(nxt, hdrLen))
	nn := h.r(nxt, hdrNext)
	h.w(off, hdrNext, nn)
	if nn != -1 {
		h.w(nn, hdrPrev, off)
	} else {
		h.tail = off
	}
}

/// Free returns a buffer previously returned by Alloc to the free
/// list, coalescing with the right neighbor first, then the left.
func (h *Heap_t) Free(b []uint8) {
	h.Lock()
	defer h.Unlock()
	off := h.arenaOffset(b) - hdrSize
	h.w(off, hdrFree, 1)
	if nxt := h.r(off, hdrNext); nxt != -1 && h.r(nxt, hdrFree) == 1 {
		h.mergeRight(off)
	}
	if prv := h.r(off, hdrPrev); prv != -1 && h.r(prv, hdrFree) == 1 {
		h.mergeRight(prv)
	}
}

func (h *Heap_t) arenaOffset(b []uint8) int {
	if len(b) == 0 {
		panic("empty buffer")
	}
	base := uintptr(unsafe.Pointer(&h.arena[0]))
	bb := uintptr(unsafe.Pointer(&b[0]))
	off := int(bb - base)
	if off < hdrSize || off >= len(h.arena) {
		panic("buffer not owned by this heap")
	}
	return off
}

/// Stats reports the arena size and free-byte total, for diagnostics.
func (h *Heap_t) Stats() string {
	h.Lock()
	defer h.Unlock()
	free, segs := 0, 0
	for off := h.head; off != -1; off = h.r(off, hdrNext) {
		segs++
		if h.r(off, hdrFree) == 1 {
			free += h.r(off, hdrLen)
		}
	}
	return fmt.Sprintf("kheap: arena=%v segments=%v free=%v", len(h.arena), segs, free)
}
