// Package mem implements the kernel's physical-memory allocator: a
// first-fit bitmap over the usable page range, direct-mapped for O(1)
// physical-to-virtual translation. This kernel never shares a physical
// page between address spaces (fork is an eager copy, not
// copy-on-write), so a frame's reference count collapses to a single
// "in use" bit.
package mem

import "fmt"
import "sync"
import "unsafe"

import "caller"
import "util"

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// Page table entry bits.
const (
	PTE_P   Pa_t = 1 << 0 // present
	PTE_W   Pa_t = 1 << 1 // writable
	PTE_U   Pa_t = 1 << 2 // user-accessible
	PTE_PCD Pa_t = 1 << 4 // cache disable
	PTE_PS  Pa_t = 1 << 7 // large page (2MB/1GB)
	PTE_G   Pa_t = 1 << 8 // global
	PTE_ADDR Pa_t = PGMASK
)

/// Pa_t represents a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of words.
type Pg_t [512]int

/// Pmap_t is a page table page: 512 64-bit entries.
type Pmap_t [512]Pa_t

/// Page_i abstracts physical page allocation so that circbuf and the
/// filesystem cache can allocate pages without depending on the global
/// allocator directly.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

/// Physmem_t is a first-fit bitmap allocator over a contiguous run of
/// physical page frames. Bit n set means frame n is free.
type Physmem_t struct {
	sync.Mutex
	startpg Pa_t   // physical address of frame 0
	npages  int    // number of frames managed
	free    []uint64 // bitmap, one bit per frame, 1 == free
	inuse   []int32  // in-use flag per frame (0 or 1); kept separate from
	                 // the bitmap so Refcnt can answer without a scan
	nfree   int
	dmapinit bool
}

func _pg2pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg >> PGSHIFT)
}

func (phys *Physmem_t) idx(p_pg Pa_t) int {
	return int(_pg2pgn(p_pg)) - int(_pg2pgn(phys.startpg))
}

/// Refcnt reports whether a frame is currently allocated: 1 if in use,
/// 0 if free. There is no sharing in this kernel, so this is a boolean
/// in all but name; callers expect an int.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.inuse[phys.idx(p_pg)])
}

/// Refup marks a frame as referenced. Since no two owners ever reference
/// the same frame in this kernel, Refup on an already-owned frame is a
/// caller bug.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	i := phys.idx(p_pg)
	if phys.inuse[i] != 1 {
		panic("refup on unowned page")
	}
}

/// Refdown releases a frame back to the free bitmap, reporting whether
/// the page was actually freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	phys.Lock()
	defer phys.Unlock()
	i := phys.idx(p_pg)
	if phys.inuse[i] == 0 {
		// double free: a silent no-op rather than a kernel panic
		return false
	}
	phys.inuse[i] = 0
	phys.free[i/64] |= 1 << uint(i%64)
	phys.nfree++
	return true
}

func (phys *Physmem_t) allocidx() (int, bool) {
	for w := range phys.free {
		if phys.free[w] == 0 {
			continue
		}
		for b := 0; b < 64; b++ {
			if phys.free[w]&(1<<uint(b)) != 0 {
				idx := w*64 + b
				if idx >= phys.npages {
					continue
				}
				phys.free[w] &^= 1 << uint(b)
				phys.inuse[idx] = 1
				phys.nfree--
				return idx, true
			}
		}
	}
	return 0, false
}

// oomWarn fires once per distinct caller chain when the frame
// allocator comes up empty, so a retry loop doesn't flood the console.
var oomWarn = caller.Distinct_caller_t{Enabled: true}

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	phys.Lock()
	idx, ok := phys.allocidx()
	phys.Unlock()
	if !ok {
		if first, trace := oomWarn.Distinct(); first {
			fmt.Printf("mem: out of physical frames at:\n%s", trace)
		}
		return nil, 0, false
	}
	p_pg := phys.startpg + Pa_t(idx)<<PGSHIFT
	return phys.Dmap(p_pg), p_pg, true
}

/// Zeropg is a global zero-filled page used to initialize fresh allocations.
var Zeropg *Pg_t

/// Refpg_new allocates a zeroed frame.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.dmapinit {
		panic("refpg_new before dmap init")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates a frame without zeroing it.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// Refpgs_new allocates n physically contiguous frames and returns the
/// first frame's address. Used for kernel stacks, which are larger than
/// one page and addressed through the direct map as a single run.
func (phys *Physmem_t) Refpgs_new(n int) (Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()
	run := 0
	for i := 0; i < phys.npages; i++ {
		if phys.free[i/64]&(1<<uint(i%64)) == 0 {
			run = 0
			continue
		}
		run++
		if run == n {
			start := i - n + 1
			for j := start; j <= i; j++ {
				phys.free[j/64] &^= 1 << uint(j%64)
				phys.inuse[j] = 1
			}
			phys.nfree -= n
			return phys.startpg + Pa_t(start)<<PGSHIFT, true
		}
	}
	return 0, false
}

/// Pmap_new allocates a fresh page-table page for the VM layer.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys.Refpg_new()
	return pg2pmap(a), b, ok
}

/// Dmap converts a physical address into its direct-mapped virtual
/// address. The higher-half alias established at boot covers all
/// managed physical memory, so this is pure arithmetic, no page walk.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	pa := uintptr(p)
	v := Vdirect + uintptr(util.Rounddown(int(pa), PGSIZE))
	return (*Pg_t)(unsafe.Pointer(v))
}

/// Dmap_v2p converts a direct-mapped virtual address back to physical.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	va := uintptr(unsafe.Pointer(v))
	if va < Vdirect {
		panic("address isn't in the direct map")
	}
	return Pa_t(va - Vdirect)
}

/// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports the number of free frames, for the kernel's /proc-ish
/// memory stats and for tests asserting the allocator doesn't leak.
func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return phys.nfree
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// Phys_init sizes the allocator for npages frames starting at start,
/// every frame initially marked in use. Availability is then
/// established region by region with FreeRegion from the boot-time
/// memory map, which keeps the kernel image and everything below 1 MiB
/// out of the pool without special cases here. The direct map covering
/// this range must exist by the time Dmap is first called (vm.Init
/// sets phys.dmapinit once it has mapped the range).
func Phys_init(start Pa_t, npages int) *Physmem_t {
	phys := Physmem
	phys.startpg = start & PGMASK
	phys.npages = npages
	nwords := (npages + 63) / 64
	phys.free = make([]uint64, nwords)
	phys.inuse = make([]int32, npages)
	for i := 0; i < npages; i++ {
		phys.inuse[i] = 1
	}
	phys.nfree = 0
	fmt.Printf("mem: managing %v pages (%vMB)\n", npages, npages>>8)
	return phys
}

/// FreeRegion releases the frames covering [base, base+length) into
/// the pool. Regions outside the managed window, and frames already
/// free, are skipped.
func (phys *Physmem_t) FreeRegion(base Pa_t, length int) {
	phys.Lock()
	defer phys.Unlock()
	for pa := base & PGMASK; pa < base+Pa_t(length); pa += Pa_t(PGSIZE) {
		i := phys.idx(pa)
		if i < 0 || i >= phys.npages {
			continue
		}
		if phys.free[i/64]&(1<<uint(i%64)) != 0 {
			continue
		}
		phys.inuse[i] = 0
		phys.free[i/64] |= 1 << uint(i%64)
		phys.nfree++
	}
}

/// MarkDmapReady is called by vm.Init once the direct map covers the
/// full managed physical range, unblocking Refpg_new.
func (phys *Physmem_t) MarkDmapReady() {
	phys.dmapinit = true
}
