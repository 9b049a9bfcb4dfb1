package proc

import "defs"

/// SigSend delivers sig to t. SIGKILL and SIGTERM terminate the target
/// immediately: it transitions straight to Zombie and its CPU state is
/// never restored. Every other signal is queued in the target's
/// Pending set for delivery at a syscall-return boundary; the syscall
/// table has no sigaction or kill, so the only queued-signal producer
/// today is Exit notifying a zombie's parent with SIGCHLD.
func SigSend(t *Task_t, sig int) {
	if sig <= 0 || sig >= defs.NSIG {
		panic("signal out of range")
	}
	if sig == defs.SIGKILL || sig == defs.SIGTERM {
		if t.State != Zombie {
			Exit(t, 128+sig)
		}
		return
	}
	listLock.Lock()
	t.Pending[sig] = true
	listLock.Unlock()
}

/// PollPending returns and clears the lowest-numbered pending signal,
/// or (0, false) if none is queued.
func PollPending(t *Task_t) (int, bool) {
	listLock.Lock()
	defer listLock.Unlock()
	for i, p := range t.Pending {
		if p {
			t.Pending[i] = false
			return i, true
		}
	}
	return 0, false
}
