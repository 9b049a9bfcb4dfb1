package sysc

import "defs"
import "mem"
import "proc"
import "util"
import "vm"

/// sysBrk grows or shrinks the task's heap to addr, mapping or
/// unmapping whole pages as needed, and returns the new break. addr==0
/// queries the current break without changing anything. A failed grow
/// leaves the break where it was rather than surfacing an error.
func sysBrk(t *proc.Task_t, addr, _, _, _, _, _ int) (int, defs.Err_t) {
	if addr == 0 {
		return t.HeapEnd, 0
	}
	if addr > t.HeapEnd {
		lo := util.Roundup(t.HeapEnd, mem.PGSIZE)
		hi := util.Roundup(addr, mem.PGSIZE)
		for va := lo; va < hi; va += mem.PGSIZE {
			_, p, ok := mem.Physmem.Refpg_new()
			if !ok {
				return t.HeapEnd, 0
			}
			if err := vm.MapPage(t.As, va, p, mem.PTE_U|mem.PTE_W); err != 0 {
				mem.Physmem.Refdown(p)
				return t.HeapEnd, 0
			}
		}
	} else if addr < t.HeapEnd {
		lo := util.Roundup(addr, mem.PGSIZE)
		hi := util.Roundup(t.HeapEnd, mem.PGSIZE)
		for va := lo; va < hi; va += mem.PGSIZE {
			vm.UnmapPage(t.As, va)
		}
	}
	t.HeapEnd = addr
	return t.HeapEnd, 0
}

/// sysMmap allocates length bytes of fresh, zeroed, anonymous memory at
/// the task's mmap bump pointer and returns its address. Anonymous
/// mappings only: prot, flags, fd and off are accepted but unused,
/// since file-backed mappings don't exist here.
func sysMmap(t *proc.Task_t, _, length, _, _, _, _ int) (int, defs.Err_t) {
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	base := t.MmapNext
	hi := util.Roundup(length, mem.PGSIZE)
	for off := 0; off < hi; off += mem.PGSIZE {
		va := base + off
		_, p, ok := mem.Physmem.Refpg_new()
		if !ok {
			return 0, -defs.ENOMEM
		}
		if err := vm.MapPage(t.As, va, p, mem.PTE_U|mem.PTE_W); err != 0 {
			mem.Physmem.Refdown(p)
			return 0, err
		}
	}
	t.MmapNext = base + hi
	return base, 0
}

/// sysMunmap unmaps and frees length bytes starting at addr.
func sysMunmap(t *proc.Task_t, addr, length, _, _, _, _ int) (int, defs.Err_t) {
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	hi := util.Roundup(length, mem.PGSIZE)
	for off := 0; off < hi; off += mem.PGSIZE {
		vm.UnmapPage(t.As, addr+off)
	}
	return 0, 0
}
