package vm

import "fmt"
import "unsafe"

import "mem"

/// KernPmap is the kernel's page table root: loaded while no user task
/// is running, and the template every user root's upper-half entries
/// are copied from at CreateAddressSpace time, so kernel text, data,
/// and the direct map stay reachable regardless of which address space
/// is active.
var KernPmap *mem.Pmap_t
var kernP_pmap mem.Pa_t

/// EnablePge turns on global-page support (cr4.PGE) so the kernel's
/// 2MB mappings survive cr3 reloads. Hooked like LoadCr3: real control
/// register access needs the boot glue's assembly.
var EnablePge = func() {}

// bootTables keeps boot-time page table pages reachable by the Go
// runtime and maps their assigned physical addresses back to pointers,
// since the direct map does not exist yet while they are being built.
var bootTables = map[mem.Pa_t]*mem.Pmap_t{}

/// Init builds the kernel's initial page tables: an identity map of the
/// first 4GiB with writable global 2MB pages (the boot handoff runs at
/// identity addresses), and a higher-half alias of every managed
/// physical frame at mem.Vdirect. It then loads the root and enables
/// global pages.
func Init(physStart mem.Pa_t, physPages int) {
	mem.Phys_init(physStart, physPages)
	mem.Physmem.FreeRegion(physStart, physPages<<mem.PGSHIFT)

	KernPmap = new(mem.Pmap_t)
	kernP_pmap = identityPhys(KernPmap)
	bootTables[kernP_pmap] = KernPmap

	mapKern2MB(0, 0, 1<<32)
	sz := mem.Pa_t(physPages) << mem.PGSHIFT
	mapKern2MB(mem.Vdirect, 0, physStart+sz)

	mem.Physmem.MarkDmapReady()
	LoadCr3(kernP_pmap)
	EnablePge()
	fmt.Printf("vm: kernel root installed, direct map covers %vMB\n",
		int(physStart+sz)>>20)
}

// mapKern2MB installs writable global 2MB leaf mappings covering
// [pa, pa+length) at virtual address va in the kernel root.
func mapKern2MB(va uintptr, pa, length mem.Pa_t) {
	for off := mem.Pa_t(0); off < length; off += 1 << 21 {
		l4i, l3i, l2i, _ := pgbits(va + uintptr(off))
		pdpt := bootEnsure(KernPmap, l4i)
		pd := bootEnsure(pdpt, l3i)
		pd[l2i] = (pa + off) | mem.PTE_P | mem.PTE_W | mem.PTE_PS | mem.PTE_G
	}
}

// bootEnsure returns the next-level table behind t[idx], allocating it
// if absent.
func bootEnsure(t *mem.Pmap_t, idx uint) *mem.Pmap_t {
	if t[idx]&mem.PTE_P != 0 {
		return bootTables[t[idx]&mem.PTE_ADDR]
	}
	n := new(mem.Pmap_t)
	pn := identityPhys(n)
	bootTables[pn] = n
	t[idx] = pn | mem.PTE_P | mem.PTE_W
	return n
}

// identityPhys returns the physical address of a boot-time page table
// page. Before the direct map exists there is no general
// virtual-to-physical translation available, so boot-time page table
// pages live at a known identity offset; IdentityBase is set once by
// the boot glue.
var IdentityBase mem.Pa_t

func identityPhys(pmap *mem.Pmap_t) mem.Pa_t {
	return IdentityBase + mem.Pa_t(uintptr(unsafe.Pointer(pmap)))
}
