package proc

import "defs"
import "stats"
import "vm"

/// Quantum is the number of timer ticks a task runs before being
/// preempted.
const Quantum = 10

/// IdlePriority is lower (numerically larger, meaning "runs last") than
/// any task a user would create, so the idle loop only runs when
/// nothing else is Ready.
const IdlePriority = 99

/// SwitchCount counts context switches, gated off in production builds
/// the same way every other stats.Counter_t in this kernel is
/// (stats.Stats == false).
var SwitchCount stats.Counter_t

/// SwitchContext performs the actual register and stack-pointer swap
/// between two tasks. Hooked rather than inline, the same reason
/// vm.LoadCr3 and ata.Inb are hooks: this package has no assembler of
/// its own, so whatever boot glue owns the real context-switch stub
/// installs this before Schedule is ever called with two live tasks.
/// old is nil on the very first schedule.
var SwitchContext = func(old, next *Frame_t) {}

/// Init creates the idle task and makes it the running task. Must run
/// after mem.Phys_init/vm.Init have prepared the frame allocator and
/// direct map, so it cannot be a package-level init() (which would run
/// before that setup, panicking mem.Refpg_new's dmap-readiness check).
func Init() defs.Err_t {
	t, err := Create(0, IdlePriority, false)
	if err != 0 {
		return err
	}
	idleTask = t
	idleTask.State = Running
	Current = idleTask
	return 0
}

// schedNext scans the task list for the lowest-priority-number Ready
// task, falling back to idle if none is runnable.
func schedNext() *Task_t {
	listLock.Lock()
	defer listLock.Unlock()
	var best *Task_t
	for c := tasklist; c != nil; c = c.Next {
		if c.State != Ready {
			continue
		}
		if best == nil || c.Priority < best.Priority {
			best = c
		}
	}
	if best == nil {
		return idleTask
	}
	return best
}

/// Schedule picks the next runnable task and switches to it: the
/// previously running task (if still alive) returns to Ready, the
/// chosen task becomes Running with a fresh quantum, its address space
/// is loaded, and the register context is swapped.
func Schedule() {
	prev := Current
	if prev != nil && prev.State == Running {
		prev.State = Ready
	}
	next := schedNext()
	next.State = Running
	next.Timeslice = Quantum
	Current = next

	vm.SwitchAddressSpace(next.As)
	SwitchCount.Inc()

	var prevFrame *Frame_t
	if prev != nil {
		prevFrame = &prev.Frame
	}
	SwitchContext(prevFrame, &next.Frame)
}

/// Tick accounts one timer interrupt against the running task and
/// forces a reschedule once its quantum is spent.
func Tick() {
	if Current == nil {
		return
	}
	Current.TotalTicks++
	Current.Accnt.Utadd(1)
	Current.Timeslice--
	if Current.Timeslice <= 0 {
		Schedule()
	}
}

/// Yield voluntarily gives up the rest of the current task's quantum,
/// used by Waitpid's busy-wait loop and by any syscall that blocks
/// cooperatively.
func Yield() {
	Schedule()
}
