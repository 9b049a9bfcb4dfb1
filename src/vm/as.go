// Package vm implements the kernel's virtual memory subsystem: the
// four-level x86-64 page table walker, per-task address spaces, and
// the copyin/copyout helpers syscalls use to move data across the
// user/kernel boundary. This kernel never demand-pages:
// CreateAddressSpace's caller (proc.Exec, proc.Fork) maps every page a
// task needs up front, so Vm_t only needs to own the pmap itself and a
// record of what it mapped, for teardown.
package vm

import "sync"
import "unsafe"

import "defs"
import "mem"
import "ustr"
import "util"

/// Vm_t represents one task's address space: its top-level page table
/// and the set of user virtual pages it owns, for Destroy.
type Vm_t struct {
	sync.Mutex

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	// owned records every user page frame this address space has
	// mapped, keyed by page number, so DestroyAddressSpace can free
	// them all without a page-table walk.
	owned map[int]mem.Pa_t
}

/// Lock_pmap acquires the address space lock. Held across any sequence
/// of page-table reads and writes that must appear atomic to a
/// concurrent Destroy or Switch.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
}

/// Unlock_pmap releases the address space lock.
func (as *Vm_t) Unlock_pmap() {
	as.Unlock()
}

/// pgbits decomposes a canonical virtual address into its four page
/// table indices (PML4, PDPT, PD, PT).
func pgbits(va uintptr) (uint, uint, uint, uint) {
	lvl := func(c uint) uint {
		return uint(va>>(12+9*c)) & 0x1ff
	}
	return lvl(3), lvl(2), lvl(1), lvl(0)
}

// pmap_walk returns a pointer to the PTE for va, allocating any
// missing intermediate page table levels with the given permissions.
func pmap_walk(pmap *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	l4i, l3i, l2i, l1i := pgbits(uintptr(va))
	cur := pmap
	for _, idx := range []uint{l4i, l3i, l2i} {
		pte := &cur[idx]
		if *pte&mem.PTE_P == 0 {
			next, p_next, ok := mem.Physmem.Pmap_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			*pte = p_next | perms | mem.PTE_P
			cur = next
		} else {
			cur = (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(*pte & mem.PTE_ADDR)))
		}
	}
	return &cur[l1i], 0
}

/// Pmap_lookup returns the PTE for va if every intermediate level is
/// already present, or nil if any level is missing.
func Pmap_lookup(pmap *mem.Pmap_t, va int) *mem.Pa_t {
	l4i, l3i, l2i, l1i := pgbits(uintptr(va))
	cur := pmap
	for _, idx := range []uint{l4i, l3i, l2i} {
		pte := &cur[idx]
		if *pte&mem.PTE_P == 0 {
			return nil
		}
		cur = (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(*pte & mem.PTE_ADDR)))
	}
	return &cur[l1i]
}

/// CreateAddressSpace allocates a top-level page table for a new task
/// and copies the kernel's upper-half entries into it verbatim, so the
/// kernel is visible in every address space. The lower half starts
/// empty and stays private to the task.
func CreateAddressSpace() (*Vm_t, defs.Err_t) {
	pmap, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	if KernPmap != nil {
		for i := mem.KPML4BASE; i < len(pmap); i++ {
			pmap[i] = KernPmap[i]
		}
	}
	as := &Vm_t{Pmap: pmap, P_pmap: p_pmap, owned: map[int]mem.Pa_t{}}
	return as, 0
}

/// DestroyAddressSpace frees every page this address space owns along
/// with its page tables. Equivalent to FreeUserPages followed by
/// FreeTables; kept as a single call for callers (tests, Fork's error
/// paths) that tear an address space down in one step rather than
/// across exit/waitpid.
func DestroyAddressSpace(as *Vm_t) {
	FreeUserPages(as)
	FreeTables(as)
}

/// FreeUserPages unmaps and frees every page this address space owns,
/// leaving its (now-empty) page tables intact. Split out from
/// DestroyAddressSpace so proc.Exit can drop a task's user memory
/// immediately while its page tables live on until the parent reaps it
/// with waitpid.
func FreeUserPages(as *Vm_t) {
	as.Lock()
	defer as.Unlock()
	for va := range as.owned {
		UnmapPageLocked(as, va<<mem.PGSHIFT)
	}
}

/// FreeTables frees this address space's lower-half page table levels
/// and its root, but not any user pages still mapped through them --
/// callers must have already called FreeUserPages, or leak frames. The
/// upper-half entries are shared with the kernel root and never freed
/// here.
func FreeTables(as *Vm_t) {
	for i := 0; i < mem.KPML4BASE; i++ {
		pte := as.Pmap[i]
		if pte&mem.PTE_P != 0 {
			child := (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(pte & mem.PTE_ADDR)))
			freePmapLevels(child, 2)
			mem.Physmem.Refdown(pte & mem.PTE_ADDR)
			as.Pmap[i] = 0
		}
	}
	mem.Physmem.Refdown(as.P_pmap)
}

/// Pages returns a snapshot of every user page number this address
/// space currently owns, for Fork to walk while copying a parent's
/// memory into a child.
func (as *Vm_t) Pages() []int {
	as.Lock()
	defer as.Unlock()
	pages := make([]int, 0, len(as.owned))
	for va := range as.owned {
		pages = append(pages, va)
	}
	return pages
}

func freePmapLevels(pmap *mem.Pmap_t, lvl int) {
	if lvl == 0 {
		return
	}
	for _, pte := range pmap {
		if pte&mem.PTE_P != 0 {
			child := (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(pte & mem.PTE_ADDR)))
			freePmapLevels(child, lvl-1)
			mem.Physmem.Refdown(pte & mem.PTE_ADDR)
		}
	}
}

/// SwitchAddressSpace loads as's top-level page table into cr3, making
/// it the active address space; a nil as switches back to the kernel
/// root. Real hardware access is behind a hook variable so this
/// package stays host-testable.
var LoadCr3 = func(p_pmap mem.Pa_t) {}

func SwitchAddressSpace(as *Vm_t) {
	if as == nil {
		LoadCr3(kernP_pmap)
		return
	}
	LoadCr3(as.P_pmap)
}

/// InvalidatePage flushes va's translation from the TLB. Hooked for the
/// same reason as LoadCr3.
var Invlpg = func(va int) {}

func InvalidatePage(va int) {
	Invlpg(va)
}

/// MapPage installs a mapping from va to the physical frame p_pg with
/// the given permission bits, allocating intermediate page table levels
/// as needed.
func MapPage(as *Vm_t, va int, p_pg mem.Pa_t, perms mem.Pa_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	pte, err := pmap_walk(as.Pmap, va, mem.PTE_U|mem.PTE_W)
	if err != 0 {
		return err
	}
	if *pte&mem.PTE_P != 0 {
		return -defs.EEXIST
	}
	mem.Physmem.Refup(p_pg)
	*pte = p_pg | perms | mem.PTE_P
	as.owned[va>>mem.PGSHIFT] = p_pg
	return 0
}

/// UnmapPage removes va's mapping, if any, freeing its backing frame.
func UnmapPage(as *Vm_t, va int) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	return UnmapPageLocked(as, va)
}

// UnmapPageLocked is UnmapPage for callers that already hold as's lock
// (DestroyAddressSpace, iterating as.owned).
func UnmapPageLocked(as *Vm_t, va int) defs.Err_t {
	pte := Pmap_lookup(as.Pmap, va)
	if pte == nil || *pte&mem.PTE_P == 0 {
		return -defs.EINVAL
	}
	p_old := *pte & mem.PTE_ADDR
	*pte = 0
	delete(as.owned, va>>mem.PGSHIFT)
	mem.Physmem.Refdown(p_old)
	InvalidatePage(va)
	return 0
}

/// Translate returns the physical address backing va and whether it is
/// mapped, honoring 2MB leaves in the kernel half.
func Translate(as *Vm_t, va int) (mem.Pa_t, bool) {
	as.Lock()
	defer as.Unlock()
	l4i, l3i, l2i, l1i := pgbits(uintptr(va))
	cur := as.Pmap
	for _, idx := range []uint{l4i, l3i} {
		pte := cur[idx]
		if pte&mem.PTE_P == 0 {
			return 0, false
		}
		cur = (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(pte & mem.PTE_ADDR)))
	}
	pde := cur[l2i]
	if pde&mem.PTE_P == 0 {
		return 0, false
	}
	if pde&mem.PTE_PS != 0 {
		return pde&mem.PTE_ADDR&^((1<<21)-1) + mem.Pa_t(va)&((1<<21)-1), true
	}
	cur = (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(pde & mem.PTE_ADDR)))
	pte := cur[l1i]
	if pte&mem.PTE_P == 0 {
		return 0, false
	}
	return pte&mem.PTE_ADDR + mem.Pa_t(va)&mem.PGOFFSET, true
}

// Userdmap8_inner maps va's containing page and returns the byte slice
// from va's offset to the end of the page. k2u controls whether the
// mapping is checked for kernel-write permission; since this kernel
/// never demand-pages, va must already be mapped or this is EFAULT.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	voff := va & int(mem.PGOFFSET)
	pte := Pmap_lookup(as.Pmap, va)
	if pte == nil || *pte&mem.PTE_P == 0 {
		return nil, -defs.EFAULT
	}
	if k2u && *pte&mem.PTE_W == 0 {
		return nil, -defs.EFAULT
	}
	pg := mem.Physmem.Dmap(*pte & mem.PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

/// Userreadn reads n (<= 8) bytes from user address va as a little
/// endian integer.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

/// Userwriten writes the low n bytes of val to user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

/// Userstr copies a NUL-terminated string from user space, up to
/// lenmax bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}

/// K2user copies src into user memory starting at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(src) {
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}

/// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for len(dst) != 0 {
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		if did == 0 {
			return -defs.EFAULT
		}
		dst = dst[did:]
		cnt += did
	}
	return 0
}

/// Mkuserbuf allocates and initializes a Userbuf_t over user memory
/// starting at userva.
func (as *Vm_t) Mkuserbuf(userva, len int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, len)
	return ret
}
