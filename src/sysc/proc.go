package sysc

import "defs"
import "proc"
import "stat"
import "vm"

/// sysExit tears the calling task down; exit() never returns to user
/// code, so the return value here is never observed once Dispatch
/// writes it back.
func sysExit(t *proc.Task_t, code, _, _, _, _, _ int) (int, defs.Err_t) {
	proc.Exit(t, code)
	return 0, 0
}

func sysFork(t *proc.Task_t, _, _, _, _, _, _ int) (int, defs.Err_t) {
	child, err := proc.Fork(t)
	if err != 0 {
		return 0, err
	}
	return int(child.Pid), 0
}

func sysGetpid(t *proc.Task_t, _, _, _, _, _, _ int) (int, defs.Err_t) {
	return int(t.Pid), 0
}

/// sysWaitpid reaps a zombie child (any child if pid<=0), writing its
/// exit code to the user's status pointer if non-null, and returns the
/// reaped child's own pid.
func sysWaitpid(t *proc.Task_t, pid, uvaStatus, _, _, _, _ int) (int, defs.Err_t) {
	rpid, code, err := proc.Waitpid(t, defs.Pid_t(pid))
	if err != 0 {
		return 0, err
	}
	if uvaStatus != 0 {
		if werr := t.As.Userwriten(uvaStatus, 4, code); werr != 0 {
			return 0, werr
		}
	}
	return int(rpid), 0
}

/// sysExec reads the ELF image at path off disk and replaces t's user
/// image with it. The whole file is read into memory up front via a
/// vm.Fakeubuf_t sink, reusing the same Uiowrite path real user-memory
/// reads already go through rather than adding a second, raw
/// byte-copying loop.
func sysExec(t *proc.Task_t, uvaPath, _, _, _, _, _ int) (int, defs.Err_t) {
	path, err := resolvePath(t, uvaPath)
	if err != 0 {
		return 0, err
	}

	var st stat.Stat_t
	if err := FS.Stat(path, &st); err != 0 {
		return 0, err
	}
	fh, err := FS.Open(path, defs.O_RDONLY, 0)
	if err != 0 {
		return 0, err
	}
	defer fh.Close()

	data := make([]uint8, st.Size())
	sink := &vm.Fakeubuf_t{}
	sink.Fake_init(data)
	n, err := fh.Read(sink)
	if err != 0 {
		return 0, err
	}
	data = data[:n]

	if err := proc.Exec(t, data); err != 0 {
		return 0, err
	}
	return 0, 0
}
