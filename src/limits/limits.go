// Package limits tracks the system-wide resource caps this kernel
// enforces: the task table and the block cache. The per-task open
// file count is capped structurally by fd.NFDS rather than a
// Syslimit_t field, since it's fixed rather than configurable.
package limits

import "sync/atomic"
import "unsafe"

/// Sysatomic_t is a numeric limit that can be atomically taken from and
/// given back to, used for any system-wide counter with a hard cap.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits.
type Syslimit_t struct {
	// Sysprocs bounds the number of simultaneously live tasks.
	Sysprocs int
	// Blocks bounds the number of cached filesystem blocks the ata
	// sector cache and fs cluster cache may hold resident at once.
	Blocks Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1024,
		Blocks:   8192, // 32MB of cached 4KiB blocks
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount, returning
/// true on success and leaving the limit unchanged on failure.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
