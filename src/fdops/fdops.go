// Package fdops defines the interfaces that glue a file descriptor to
// whatever backs it — an ExFAT file handle, a directory stream, or the
// console — without the fd table needing to know which.
package fdops

import "defs"

/// Userio_i abstracts a user-space buffer for copyin/copyout, so that
/// fs.FileHandle and the console can share the same read/write paths
/// regardless of whether the ultimate source is a real user address
/// range or a host-side test buffer (vm.Fakeubuf_t).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Fdops_i is implemented by every concrete descriptor backing: ExFAT
/// file handles, ExFAT directory streams, and the console device.
type Fdops_i interface {
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Lseek(off int, whence int) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
	// Readdir yields the next directory entry name, or ("", 0, err) once
	// exhausted; err is 0 with an empty name at end-of-stream.
	Readdir() (string, defs.Err_t)
}
