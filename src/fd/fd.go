// Package fd is the descriptor layer: the Fd_t record a task's table
// slots point at, and the per-task working directory. What a
// descriptor actually reads and writes is behind fdops.Fdops_i, so
// this package is the same whether the backing is a file handle, a
// directory stream, or the console.
package fd

import "sync"

import "bpath"
import "defs"
import "fdops"
import "ustr"

/// Descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

/// Fd_t is one open descriptor: its backing operations and the access
/// mode it was opened with.
type Fd_t struct {
	// Fops is an interface value holding a pointer receiver, so
	// copying an Fd_t aliases the backing object rather than cloning
	// it; Copyfd exists for a real duplicate.
	Fops  fdops.Fdops_i
	Perms int
}

/// Copyfd duplicates an open descriptor. A backing that can mint an
/// independent handle (a file handle with its own offset, for fork's
/// table clone) does so through Copyfops; anything else (the console,
/// whose descriptors have no per-handle state worth separating) is
/// shared after a Reopen.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	type copier interface {
		Copyfops() (fdops.Fdops_i, defs.Err_t)
	}
	if c, ok := fd.Fops.(copier); ok {
		nf, err := c.Copyfops()
		if err != 0 {
			return nil, err
		}
		nfd.Fops = nf
		return nfd, 0
	}
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure; for
/// teardown paths where a failed close means corrupted kernel state.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

/// Cwd_t tracks a task's current working directory: an open descriptor
/// on the directory plus its canonical absolute path, updated together
/// under the lock by chdir.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

/// Fullpath joins cwd with p when p is relative; absolute paths pass
/// through untouched.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(cwd.Path, '/')
	return append(full, p...)
}

/// Canonicalpath resolves p against cwd into a canonical absolute
/// path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

/// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}
