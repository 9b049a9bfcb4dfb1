// Package defs holds the types and constants shared across every kernel
// subsystem: error codes, process/thread identifiers, signal numbers, the
// syscall table's numbering, and the user-visible open-file flags.
package defs

/// Err_t is a kernel status code. Zero is success; negative values name a
/// specific failure. There is no errno side-channel: syscalls normalize
/// any non-zero Err_t to -1 before returning to user space.
type Err_t int

/// Pid_t identifies a task. Pids are monotonically assigned and never
/// reused while the kernel is up.
type Pid_t int

/// Tid_t identifies the single thread of execution belonging to a task.
/// The kernel in this design is strictly one-thread-per-task, but the
/// type is kept distinct from Pid_t to mirror the boundary between
/// "task" and "unit of scheduling" that the syscall layer assumes.
type Tid_t int

// Error codes. Magnitudes and spellings match common POSIX errno values;
// only the sign is kernel-internal (Err_t is always <= 0 on failure).
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	E2BIG        Err_t = 7
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	EEXIST       Err_t = 17
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOSPC       Err_t = 28
	ENOTEMPTY    Err_t = 39
	ENAMETOOLONG Err_t = 36
	ENOHEAP      Err_t = 100 // kernel heap exhausted; not a POSIX code
)

// Signal numbers. SIGKILL and SIGTERM terminate their target
// immediately; the rest are queued and delivered at the next syscall
// return boundary.
const (
	SIGHUP  = 1
	SIGINT  = 2
	SIGQUIT = 3
	SIGKILL = 9
	SIGTERM = 15
	SIGCHLD = 17
	SIGCONT = 18
	SIGSTOP = 19

	NSIG = 32
)

// Syscall numbers. stat takes 21, a number the table otherwise leaves
// unused between getpid and brk.
const (
	SYS_EXIT    = 1
	SYS_FORK    = 2
	SYS_READ    = 3
	SYS_WRITE   = 4
	SYS_OPEN    = 5
	SYS_CLOSE   = 6
	SYS_WAITPID = 7
	SYS_EXEC    = 11
	SYS_RENAME  = 16
	SYS_MUNMAP  = 17
	SYS_READDIR = 18
	SYS_MMAP    = 19
	SYS_GETPID  = 20
	SYS_STAT    = 21
	SYS_BRK     = 45
	SYS_GETCWD  = 79
	SYS_CHDIR   = 80
	SYS_MKDIR   = 83
	SYS_RMDIR   = 84

	NSYSCALLS = 256
)

// Open flags. These are bit flags, not an enumerated mode, so
// O_RDONLY==0 cannot be tested with a bitwise AND; callers mask with
// O_ACCMODE first.
const (
	O_RDONLY  = 0
	O_WRONLY  = 1
	O_RDWR    = 2
	O_ACCMODE = 0x3
	O_CREAT   = 4
	O_TRUNC   = 8
	O_APPEND  = 16
	O_EXCL    = 32
)

// Seek whences, used by both the fs package and the syscall layer.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

/// Mkerr turns a POSIX-style positive errno magnitude into the negative
/// Err_t the kernel returns internally.
func Mkerr(e Err_t) Err_t {
	if e < 0 {
		panic("already negative")
	}
	return -e
}
