// Package sysc implements the kernel's syscall surface: the int 0x80
// dispatch table and every syscall's body. Named sysc rather than
// syscall because the latter shadows the standard library's own
// import path and a replace directive cannot rename around that.
//
// Every body is expressed through this kernel's own abstractions:
// fs.Fs_t for the filesystem, vm.Vm_t for copyin/copyout, fd.Table_t
// for descriptors, and proc.Task_t for the calling task itself.
package sysc

import "time"

import "defs"
import "fd"
import "fdops"
import "fs"
import "proc"
import "stats"
import "ustr"

// FS is the mounted volume every filesystem syscall resolves paths
// against. Set once at boot by Init; this kernel mounts exactly one
// volume, so a package-level handle avoids threading it through every
// syscall body.
var FS *fs.Fs_t

/// Init wires the syscall layer to a mounted filesystem. Must run
/// before any task reaches user mode.
func Init(fsys *fs.Fs_t) {
	FS = fsys
}

// handlerFunc is the shape every syscall body takes: the calling task
// plus its six argument registers (rdi, rsi, rdx, r10, r8, r9, in that
// order), returning a non-negative result or a negative defs.Err_t.
type handlerFunc func(t *proc.Task_t, a1, a2, a3, a4, a5, a6 int) (int, defs.Err_t)

var table = [defs.NSYSCALLS]handlerFunc{
	defs.SYS_EXIT:    sysExit,
	defs.SYS_FORK:    sysFork,
	defs.SYS_READ:    sysRead,
	defs.SYS_WRITE:   sysWrite,
	defs.SYS_OPEN:    sysOpen,
	defs.SYS_CLOSE:   sysClose,
	defs.SYS_WAITPID: sysWaitpid,
	defs.SYS_EXEC:    sysExec,
	defs.SYS_RENAME:  sysRename,
	defs.SYS_MUNMAP:  sysMunmap,
	defs.SYS_READDIR: sysReaddir,
	defs.SYS_MMAP:    sysMmap,
	defs.SYS_GETPID:  sysGetpid,
	defs.SYS_STAT:    sysStat,
	defs.SYS_BRK:     sysBrk,
	defs.SYS_GETCWD:  sysGetcwd,
	defs.SYS_CHDIR:   sysChdir,
	defs.SYS_MKDIR:   sysMkdir,
	defs.SYS_RMDIR:   sysRmdir,
}

// CallCount tracks how many times each syscall number has been
// dispatched, indexed the same way as table.
var CallCount [defs.NSYSCALLS]stats.Counter_t

/// Dispatch is the int 0x80 entry point: read the syscall number and
/// arguments out of t's saved register frame, look up and invoke the
/// handler, and write the result back to rax. Unknown or unregistered
/// numbers return -1.
func Dispatch(t *proc.Task_t) {
	fr := &t.Frame
	num := int(int64(fr.Rax))
	if num < 0 || num >= defs.NSYSCALLS || table[num] == nil {
		fr.Rax = ^uint64(0)
		return
	}
	CallCount[num].Inc()

	a1 := int(int64(fr.Rdi))
	a2 := int(int64(fr.Rsi))
	a3 := int(int64(fr.Rdx))
	a4 := int(int64(fr.R10))
	a5 := int(int64(fr.R8))
	a6 := int(int64(fr.R9))

	ret, err := table[num](t, a1, a2, a3, a4, a5, a6)
	if err != 0 {
		ret = -1
	}
	fr.Rax = uint64(int64(ret))

	if t.State != proc.Zombie {
		deliverSignals(t)
	}
}

// deliverSignals runs at the syscall-return boundary: the lowest
// pending signal with an installed handler redirects the task to that
// handler, with the interrupted rip pushed on the user stack so a
// plain ret resumes where the signal landed. Pending signals with no
// handler are dropped.
func deliverSignals(t *proc.Task_t) {
	sig, ok := proc.PollPending(t)
	if !ok {
		return
	}
	h := t.Handlers[sig]
	if h == 0 {
		return
	}
	fr := &t.Frame
	rsp := int(fr.Rsp) - 8
	if err := t.As.Userwriten(rsp, 8, int(fr.Rip)); err != 0 {
		return
	}
	fr.Rsp = uint64(rsp)
	fr.Rdi = uint64(sig)
	fr.Rip = h
}

const maxPathLen = 512

// resolvePath reads a NUL-terminated path out of user memory at uva
// and resolves it against t's current working directory into a
// canonical absolute path fs.Fs_t operations expect.
func resolvePath(t *proc.Task_t, uva int) (ustr.Ustr, defs.Err_t) {
	raw, err := t.As.Userstr(uva, maxPathLen)
	if err != 0 {
		return nil, err
	}
	return t.Cwd.Canonicalpath(raw), 0
}

func permsFromFlags(flags int) int {
	switch flags & defs.O_ACCMODE {
	case defs.O_WRONLY:
		return fd.FD_WRITE
	case defs.O_RDWR:
		return fd.FD_READ | fd.FD_WRITE
	default:
		return fd.FD_READ
	}
}

/// InitTask equips a freshly created task with a root working
/// directory and the three standard console descriptors (0=stdin,
/// 1=stdout, 2=stderr). Called once, by whatever creates the very
/// first task; every task after that inherits Cwd and Fds through
/// proc.Fork.
func InitTask(t *proc.Task_t) defs.Err_t {
	dh, err := FS.OpenDir(ustr.MkUstrRoot())
	if err != 0 {
		return err
	}
	t.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: dh, Perms: fd.FD_READ})

	t.Fds.InstallAt(0, &fd.Fd_t{Fops: &consoleFile_t{dev: defs.D_CONSOLE}, Perms: fd.FD_READ})
	t.Fds.InstallAt(1, &fd.Fd_t{Fops: &consoleFile_t{dev: defs.D_CONSOLE}, Perms: fd.FD_WRITE})
	t.Fds.InstallAt(2, &fd.Fd_t{Fops: &consoleFile_t{dev: defs.D_CONSOLE}, Perms: fd.FD_WRITE})
	return 0
}

func nowSeconds() uint32 {
	return uint32(time.Now().Unix())
}

var _ fdops.Fdops_i = (*consoleFile_t)(nil)
