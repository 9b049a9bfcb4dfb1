// Package proc implements the kernel's tasking subsystem: the process
// control block, address-space ownership, fork/exec/exit/waitpid, and
// the priority-scanning scheduler that drives them. It follows the
// idiom the sibling packages (vm, fd, accnt) establish: an exported
// struct with plain fields, package-level hook variables for anything
// requiring real hardware (here, the raw register-context switch),
// and defs.Err_t for recoverable failure.
package proc

import "sync"
import "unsafe"

import "accnt"
import "defs"
import "fd"
import "limits"
import "mem"
import "vm"

/// State_t is a task's scheduling state.
type State_t int

const (
	Ready State_t = iota
	Running
	Blocked
	Zombie
)

/// Frame_t is the saved register set a task resumes from, laid out so
/// a real context-switch stub can treat it as a flat save area: the
/// push order of the syscall/ISR entry stubs, followed by the
/// iretq-shaped tail.
type Frame_t struct {
	R15, R14, R13, R12, R11, R10, R9, R8   uint64
	Rbp, Rdi, Rsi, Rdx, Rcx, Rbx, Rax      uint64
	Rip, Cs, Rflags, Rsp, Ss               uint64
}

// Segment selectors: kernel code/data are ring 0, user code/data ring
// 3 (RPL bits set in the low two bits of the selector).
const (
	SEG_KCODE = 0x08
	SEG_KDATA = 0x10
	SEG_UCODE = 0x18 | 3
	SEG_UDATA = 0x20 | 3
)

// RflagsDefault enables interrupts (IF) and sets the reserved bit 1
// that is always 1 on real hardware.
const RflagsDefault = 0x202

// User memory layout: where a freshly loaded image's code, heap, and
// anonymous mappings live, and how big a kernel stack is.
const (
	KStackPages = 4 // 16 KiB
	UImageBase  = 0x0000_0000_0040_0000
	UImageLimit = 0x0000_0000_8000_0000
	UStackTop   = 0x0000_0000_7fff_f000 // one page below UImageLimit
	UStackPages = 1
	HeapStart   = 0x0000_0000_1000_0000
	MmapBase    = 0x0000_0000_4000_0000
)

/// Task_t is the kernel's process control block: one per task, holding
/// its address space, register frame, open files, and scheduling state.
/// There is exactly one thread per task, so Task_t also plays the role
/// a thread_t would in a multi-threaded design.
type Task_t struct {
	Pid  defs.Pid_t
	Ppid defs.Pid_t

	State State_t
	Frame Frame_t

	As     *vm.Vm_t
	KStack mem.Pa_t

	Priority  int
	Timeslice int
	TotalTicks int
	ExitCode  int

	Fds fd.Table_t
	Cwd *fd.Cwd_t

	HeapStart int
	HeapEnd   int
	MmapNext  int

	Accnt accnt.Accnt_t

	// Pending records signals queued for delivery at the next
	// syscall-return boundary; Handlers holds the user entry point
	// installed for each signal, zero meaning no handler (the signal
	// is dropped on delivery). The syscall table has no sigaction, so
	// Handlers is populated only by kernel-side setup today.
	Pending  [defs.NSIG]bool
	Handlers [defs.NSIG]uint64

	// Next links every live task into a single list, walked by the
	// scheduler and by Waitpid scanning for children.
	Next *Task_t
}

var (
	listLock sync.Mutex
	tasklist *Task_t
	ntasks   int
	nextPid  = defs.Pid_t(1)

	/// Current is the task presently running. Process-wide rather than
	/// per-CPU: this kernel only ever runs on one CPU, so a single
	/// pointer updated by Schedule is the whole "current thread"
	/// mechanism.
	Current *Task_t
	idleTask *Task_t
)

// releaseTask undoes newTask's count for a task that failed setup and
// was never published to the list.
func releaseTask() {
	listLock.Lock()
	if ntasks > 0 {
		ntasks--
	}
	listLock.Unlock()
}

func pushTask(t *Task_t) {
	listLock.Lock()
	defer listLock.Unlock()
	t.Next = tasklist
	tasklist = t
}

func removeTask(pid defs.Pid_t) {
	listLock.Lock()
	defer listLock.Unlock()
	var prev *Task_t
	for c := tasklist; c != nil; c = c.Next {
		if c.Pid == pid {
			if prev == nil {
				tasklist = c.Next
			} else {
				prev.Next = c.Next
			}
			if ntasks > 0 {
				ntasks--
			}
			return
		}
		prev = c
	}
}

/// ByPid returns the task with the given pid, or nil.
func ByPid(pid defs.Pid_t) *Task_t {
	listLock.Lock()
	defer listLock.Unlock()
	for c := tasklist; c != nil; c = c.Next {
		if c.Pid == pid {
			return c
		}
	}
	return nil
}

// newTask allocates a pid, a fresh address space, and a kernel stack
// frame, leaving the register frame and scheduling state for the
// caller (Create, Fork) to fill in.
func newTask(priority int) (*Task_t, defs.Err_t) {
	listLock.Lock()
	if ntasks >= limits.Syslimit.Sysprocs {
		listLock.Unlock()
		return nil, -defs.ENOMEM
	}
	ntasks++
	pid := nextPid
	nextPid++
	listLock.Unlock()

	as, err := vm.CreateAddressSpace()
	if err != 0 {
		releaseTask()
		return nil, err
	}
	kp, ok := mem.Physmem.Refpgs_new(KStackPages)
	if !ok {
		vm.DestroyAddressSpace(as)
		releaseTask()
		return nil, -defs.ENOMEM
	}

	return &Task_t{
		Pid:       pid,
		State:     Ready,
		Priority:  priority,
		Timeslice: Quantum,
		As:        as,
		KStack:    kp,
	}, 0
}

// kstackTop returns the virtual address just past the task's kernel
// stack frames, for use as the initial Rsp of a kernel-mode task. The
// kernel stack is addressed through the direct map, which every
// address space shares via the copied upper-half entries, so no
// separate mapping step is needed the way a user stack requires.
func kstackTop(t *Task_t) uint64 {
	base := uintptr(unsafe.Pointer(mem.Physmem.Dmap(t.KStack)))
	return uint64(base) + uint64(KStackPages*mem.PGSIZE)
}

// freeKstack returns a task's kernel stack frames to the allocator.
func freeKstack(t *Task_t) {
	for i := 0; i < KStackPages; i++ {
		mem.Physmem.Refdown(t.KStack + mem.Pa_t(i*mem.PGSIZE))
	}
}

// mapUserStack allocates and maps UStackPages zeroed pages immediately
// below UStackTop for a user-mode task.
func mapUserStack(t *Task_t) defs.Err_t {
	for i := 0; i < UStackPages; i++ {
		va := UStackTop - (i+1)*mem.PGSIZE
		_, p_pg, ok := mem.Physmem.Refpg_new()
		if !ok {
			return -defs.ENOMEM
		}
		if err := vm.MapPage(t.As, va, p_pg, mem.PTE_U|mem.PTE_W); err != 0 {
			mem.Physmem.Refdown(p_pg)
			return err
		}
	}
	return 0
}

/// Create builds a brand new task whose register frame starts execution
/// at entry. Used for the idle task and for the very first task the
/// boot glue starts; every task after that comes from Fork followed by
/// Exec.
func Create(entry uint64, priority int, isUser bool) (*Task_t, defs.Err_t) {
	t, err := newTask(priority)
	if err != 0 {
		return nil, err
	}
	t.Frame.Rip = entry
	t.Frame.Rflags = RflagsDefault
	if isUser {
		t.Frame.Cs, t.Frame.Ss = SEG_UCODE, SEG_UDATA
		if err := mapUserStack(t); err != 0 {
			freeKstack(t)
			vm.DestroyAddressSpace(t.As)
			releaseTask()
			return nil, err
		}
		t.Frame.Rsp = UStackTop
		t.HeapStart, t.HeapEnd, t.MmapNext = HeapStart, HeapStart, MmapBase
	} else {
		t.Frame.Cs, t.Frame.Ss = SEG_KCODE, SEG_KDATA
		t.Frame.Rsp = kstackTop(t)
	}
	pushTask(t)
	return t, 0
}
