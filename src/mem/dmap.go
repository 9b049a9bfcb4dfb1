package mem

import "unsafe"

// Kernel virtual address space layout. The top-level table's upper half
// (slots 256-511) belongs to the kernel and is copied verbatim into
// every task's page table root, so kernel text, data, and the direct
// map stay reachable no matter which address space cr3 holds; the lower
// half is private to each task. vm.Init builds the kernel root:
// an identity map of the first 4GiB with 2MB pages for the boot
// handoff, plus the direct-mapped alias of all managed physical memory
// at Vdirect, so Dmap/Dmap8 are pure arithmetic once vm.Init has run.

/// VDIRECT is the PML4 slot backing the direct-mapped alias of all
/// physical memory: the first upper-half slot.
const VDIRECT int = 0x100

/// KPML4BASE is the first kernel-owned PML4 slot; slots below it are
/// per-task.
const KPML4BASE int = 0x100

/// USERMAX is the first virtual address beyond the per-task lower half.
const USERMAX int = KPML4BASE << 39

/// DMAPLEN is the length of the direct map in bytes: one PML4 slot's
/// worth of address space, far larger than any amount of physical
/// memory this kernel expects to manage.
const DMAPLEN int = 1 << 39

/// Vdirect holds the virtual address of the direct map region, the
/// canonical higher-half alias of physical memory.
var Vdirect = uintptr(0xffff_8000_0000_0000)

/// Dmaplen returns a slice over the direct map starting at physical
/// address p for l bytes.
func Dmaplen(p Pa_t, l int) []uint8 {
	_dmap := (*[DMAPLEN]uint8)(unsafe.Pointer(Vdirect))
	return _dmap[p : p+Pa_t(l)]
}

/// Dmaplen32 is like Dmaplen but addresses 32-bit units. p and l must be
/// multiples of 4.
func Dmaplen32(p uintptr, l int) []uint32 {
	if p%4 != 0 || l%4 != 0 {
		panic("not 32bit aligned")
	}
	_dmap := (*[DMAPLEN / 4]uint32)(unsafe.Pointer(Vdirect))
	p /= 4
	l /= 4
	return _dmap[p : p+uintptr(l)]
}
