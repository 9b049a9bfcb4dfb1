package sysc

import "defs"
import "fd"
import "fdops"
import "proc"
import "stat"
import "ustr"

/// sysOpen resolves a path and installs a descriptor at the lowest free
/// slot >= 3 (slots 0-2 are reserved for the console). Directories may
/// be opened read-only, for use with readdir(); opening one for write
/// is rejected.
func sysOpen(t *proc.Task_t, uvaPath, flags, mode, _, _, _ int) (int, defs.Err_t) {
	path, err := resolvePath(t, uvaPath)
	if err != 0 {
		return 0, err
	}

	var backing fdops.Fdops_i
	fh, err := FS.Open(path, flags, nowSeconds())
	switch err {
	case 0:
		backing = fh
	case -defs.EISDIR:
		if flags&defs.O_ACCMODE != defs.O_RDONLY {
			return 0, -defs.EISDIR
		}
		dh, derr := FS.OpenDir(path)
		if derr != 0 {
			return 0, derr
		}
		backing = dh
	default:
		return 0, err
	}

	fdnum := t.Fds.Install(&fd.Fd_t{Fops: backing, Perms: permsFromFlags(flags)}, 3)
	if fdnum < 0 {
		backing.Close()
		return 0, -defs.EMFILE
	}
	return fdnum, 0
}

/// sysClose releases fdno. Standard descriptors (0-2) cannot be closed
/// this way.
func sysClose(t *proc.Task_t, fdno, _, _, _, _, _ int) (int, defs.Err_t) {
	if fdno < 3 {
		return 0, -defs.EBADF
	}
	f := t.Fds.Get(fdno)
	if f == nil {
		return 0, -defs.EBADF
	}
	if err := f.Fops.Close(); err != 0 {
		return 0, err
	}
	t.Fds.Remove(fdno)
	return 0, 0
}

func sysRead(t *proc.Task_t, fdno, uvaBuf, n, _, _, _ int) (int, defs.Err_t) {
	f := t.Fds.Get(fdno)
	if f == nil {
		return 0, -defs.EBADF
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EACCES
	}
	ub := t.As.Mkuserbuf(uvaBuf, n)
	return f.Fops.Read(ub)
}

func sysWrite(t *proc.Task_t, fdno, uvaBuf, n, _, _, _ int) (int, defs.Err_t) {
	f := t.Fds.Get(fdno)
	if f == nil {
		return 0, -defs.EBADF
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EACCES
	}
	ub := t.As.Mkuserbuf(uvaBuf, n)
	return f.Fops.Write(ub)
}

/// sysReaddir yields the next entry name of the directory open on fdno
/// into the user buffer, NUL-terminated, or 0 with nothing written at
/// end of stream.
func sysReaddir(t *proc.Task_t, fdno, uvaBuf, _, _, _, _ int) (int, defs.Err_t) {
	f := t.Fds.Get(fdno)
	if f == nil {
		return 0, -defs.EBADF
	}
	name, err := f.Fops.Readdir()
	if err != 0 {
		return 0, err
	}
	if name == "" {
		return 0, 0
	}
	const maxName = 256
	b := append([]uint8(name), 0)
	if len(b) > maxName {
		return 0, -defs.ENAMETOOLONG
	}
	if err := t.As.K2user(b, uvaBuf); err != 0 {
		return 0, err
	}
	return len(name), 0
}

func sysStat(t *proc.Task_t, uvaPath, uvaBuf, _, _, _, _ int) (int, defs.Err_t) {
	path, err := resolvePath(t, uvaPath)
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if err := FS.Stat(path, &st); err != 0 {
		return 0, err
	}
	if err := t.As.K2user(st.Bytes(), uvaBuf); err != 0 {
		return 0, err
	}
	return 0, 0
}

func sysMkdir(t *proc.Task_t, uvaPath, _, _, _, _, _ int) (int, defs.Err_t) {
	path, err := resolvePath(t, uvaPath)
	if err != 0 {
		return 0, err
	}
	return 0, FS.Mkdir(path, nowSeconds())
}

func sysRmdir(t *proc.Task_t, uvaPath, _, _, _, _, _ int) (int, defs.Err_t) {
	path, err := resolvePath(t, uvaPath)
	if err != 0 {
		return 0, err
	}
	return 0, FS.Rmdir(path)
}

func sysRename(t *proc.Task_t, uvaOld, uvaNew, _, _, _, _ int) (int, defs.Err_t) {
	oldp, err := resolvePath(t, uvaOld)
	if err != 0 {
		return 0, err
	}
	newp, err := resolvePath(t, uvaNew)
	if err != 0 {
		return 0, err
	}
	return 0, FS.Rename(oldp, newp)
}

/// sysChdir replaces t's working directory, reopening the target as a
/// directory stream and releasing the previous one. Fails with ENOTDIR
/// if the target isn't a directory.
func sysChdir(t *proc.Task_t, uvaPath, _, _, _, _, _ int) (int, defs.Err_t) {
	path, err := resolvePath(t, uvaPath)
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if err := FS.Stat(path, &st); err != 0 {
		return 0, err
	}
	if !st.IsDir() {
		return 0, -defs.ENOTDIR
	}
	dh, err := FS.OpenDir(path)
	if err != 0 {
		return 0, err
	}

	t.Cwd.Lock()
	old := t.Cwd.Fd
	t.Cwd.Fd = &fd.Fd_t{Fops: dh, Perms: fd.FD_READ}
	t.Cwd.Path = append(ustr.Ustr{}, path...)
	t.Cwd.Unlock()
	if old != nil {
		old.Fops.Close()
	}
	return 0, 0
}

/// sysGetcwd writes the current working directory's canonical path,
/// NUL-terminated, into the user buffer, failing with ENAMETOOLONG if
/// it doesn't fit in size bytes.
func sysGetcwd(t *proc.Task_t, uvaBuf, size, _, _, _, _ int) (int, defs.Err_t) {
	t.Cwd.Lock()
	p := append(ustr.Ustr{}, t.Cwd.Path...)
	t.Cwd.Unlock()

	b := append([]uint8(p), 0)
	if len(b) > size {
		return 0, -defs.ENAMETOOLONG
	}
	if err := t.As.K2user(b, uvaBuf); err != 0 {
		return 0, err
	}
	return len(p), 0
}
