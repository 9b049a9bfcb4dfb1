package proc

import "bytes"
import "debug/elf"
import "io"

import "defs"
import "fd"
import "mem"
import "ustr"
import "util"
import "vm"

/// Fork creates a child task that is an eager, byte-for-byte copy of
/// parent: every mapped user page is duplicated frame-for-frame (no
/// copy-on-write in this kernel), the fd table is cloned via
/// fd.Table_t.Clone, and the child's saved frame is the parent's with
/// Rax zeroed so it observes fork() returning 0.
func Fork(parent *Task_t) (*Task_t, defs.Err_t) {
	child, err := newTask(parent.Priority)
	if err != 0 {
		return nil, err
	}

	for _, vpn := range parent.As.Pages() {
		va := vpn << mem.PGSHIFT
		ppte := vm.Pmap_lookup(parent.As.Pmap, va)
		if ppte == nil {
			continue
		}
		perms := *ppte &^ mem.PTE_ADDR
		srcPg := mem.Physmem.Dmap(*ppte & mem.PTE_ADDR)
		dstPg, p_dst, ok := mem.Physmem.Refpg_new_nozero()
		if !ok {
			freeKstack(child)
			vm.DestroyAddressSpace(child.As)
			releaseTask()
			return nil, -defs.ENOMEM
		}
		*dstPg = *srcPg
		if e := vm.MapPage(child.As, va, p_dst, perms); e != 0 {
			mem.Physmem.Refdown(p_dst)
			freeKstack(child)
			vm.DestroyAddressSpace(child.As)
			releaseTask()
			return nil, e
		}
	}

	fdt, err := parent.Fds.Clone()
	if err != 0 {
		freeKstack(child)
		vm.DestroyAddressSpace(child.As)
		releaseTask()
		return nil, err
	}

	child.Frame = parent.Frame
	child.Frame.Rax = 0
	child.Ppid = parent.Pid
	child.Fds = *fdt

	// Cwd is a process property, not a shared reference: a chdir() in
	// the child must not move the parent. Cwd.Fd is reopened the same
	// way Fds.Clone reopens every other descriptor.
	if parent.Cwd != nil {
		cwdFd, err := fd.Copyfd(parent.Cwd.Fd)
		if err != 0 {
			fdt.CloseAll()
			freeKstack(child)
			vm.DestroyAddressSpace(child.As)
			releaseTask()
			return nil, err
		}
		child.Cwd = fd.MkRootCwd(cwdFd)
		child.Cwd.Path = append(ustr.Ustr{}, parent.Cwd.Path...)
	}

	child.HeapStart, child.HeapEnd, child.MmapNext = parent.HeapStart, parent.HeapEnd, parent.MmapNext
	child.State = Ready

	pushTask(child)
	return child, 0
}

// copyRange copies whatever part of data (which begins at virtual
// address segStart) overlaps the page starting at va into bpg.
func copyRange(bpg *mem.Bytepg_t, va int, data []byte, segStart int) {
	pageEnd := va + mem.PGSIZE
	segEnd := segStart + len(data)
	start := va
	if segStart > start {
		start = segStart
	}
	end := pageEnd
	if segEnd < end {
		end = segEnd
	}
	if start >= end {
		return
	}
	copy(bpg[start-va:], data[start-segStart:end-segStart])
}

// loadSegment maps and populates one PT_LOAD program header into as,
// zero-filling the gap between filesz and memsz (bss) for free since
// mem.Physmem.Refpg_new always returns a zeroed frame.
func loadSegment(as *vm.Vm_t, prog *elf.Prog) defs.Err_t {
	data := make([]byte, prog.Filesz)
	if _, err := prog.ReadAt(data, 0); err != nil && err != io.EOF {
		return -defs.EIO
	}

	perms := mem.PTE_U
	if prog.Flags&elf.PF_W != 0 {
		perms |= mem.PTE_W
	}

	lo := util.Rounddown(int(prog.Vaddr), mem.PGSIZE)
	hi := util.Roundup(int(prog.Vaddr+prog.Memsz), mem.PGSIZE)
	for va := lo; va < hi; va += mem.PGSIZE {
		pg, p_pg, ok := mem.Physmem.Refpg_new()
		if !ok {
			return -defs.ENOMEM
		}
		copyRange(mem.Pg2bytes(pg), va, data, int(prog.Vaddr))
		if err := vm.MapPage(as, va, p_pg, perms); err != 0 {
			mem.Physmem.Refdown(p_pg)
			return err
		}
	}
	return 0
}

/// Exec replaces t's user image with the ELF executable in image,
/// loading every PT_LOAD segment and resetting the register frame to
/// start at the entry point. The old image's user pages are unmapped
/// and freed first, so nothing of the previous image survives at
/// addresses the new one doesn't cover.
func Exec(t *Task_t, image []byte) defs.Err_t {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return -defs.EINVAL
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Type != elf.ET_EXEC {
		return -defs.EINVAL
	}

	vm.FreeUserPages(t.As)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if e := loadSegment(t.As, prog); e != 0 {
			return e
		}
	}
	if e := mapUserStack(t); e != 0 {
		return e
	}

	t.Frame = Frame_t{}
	t.Frame.Rip = f.Entry
	t.Frame.Rflags = RflagsDefault
	t.Frame.Cs, t.Frame.Ss = SEG_UCODE, SEG_UDATA
	t.Frame.Rsp = UStackTop
	t.HeapStart, t.HeapEnd, t.MmapNext = HeapStart, HeapStart, MmapBase
	return 0
}

/// Exit tears down t's user memory and files and marks it a zombie,
/// leaving its page tables, kernel stack, and PCB for a reaping
/// Waitpid to free. If t is the running task, this immediately
/// reschedules -- in a real build, exit() never returns to user code;
/// here control returns to whatever dispatched the syscall, which must
/// not resume t's frame.
func Exit(t *Task_t, code int) {
	t.Fds.CloseAll()
	vm.FreeUserPages(t.As)
	t.ExitCode = code
	t.State = Zombie

	if parent := ByPid(t.Ppid); parent != nil {
		SigSend(parent, defs.SIGCHLD)
	}
	if t == Current {
		Schedule()
	}
}

/// Waitpid blocks (by yielding) until a child of parent matching pid
/// (or any child, if pid <= 0) becomes a zombie, then reaps it --
/// freeing its kernel stack, page tables, and PCB -- and returns its
/// pid and exit code. There are no wait queues; blocking is a yield
/// loop. The reaped pid is returned explicitly so that a pid<=0 "any
/// child" wait tells the caller which child it actually got.
func Waitpid(parent *Task_t, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		listLock.Lock()
		var zombie *Task_t
		anyChild := false
		for c := tasklist; c != nil; c = c.Next {
			if c.Ppid != parent.Pid {
				continue
			}
			if pid > 0 && c.Pid != pid {
				continue
			}
			anyChild = true
			if c.State == Zombie {
				zombie = c
				break
			}
		}
		listLock.Unlock()

		if zombie != nil {
			rpid := zombie.Pid
			code := zombie.ExitCode
			// the child's accumulated time is folded into the parent's
			// accounting, the way times() reports reaped children
			parent.Accnt.Add(&zombie.Accnt)
			removeTask(zombie.Pid)
			freeKstack(zombie)
			vm.FreeTables(zombie.As)
			return rpid, code, 0
		}
		if !anyChild {
			return 0, 0, -defs.ECHILD
		}
		Yield()
	}
}
