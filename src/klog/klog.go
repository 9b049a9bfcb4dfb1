// Package klog is the kernel's debug-log sink. Every diagnostic message
// funnels through Print, which writes straight to the console (the same
// fmt.Printf sink mem and fs already use directly) and mirrors the bytes
// into a circbuf.Circbuf_t ring so a crash dump can replay the tail of
// the log after the console device itself has wedged.
package klog

import "fmt"
import "sync"

import "circbuf"
import "defs"
import "mem"

var (
	mu    sync.Mutex
	ring  circbuf.Circbuf_t
	ready bool
)

// Init readies the ring buffer, sized to a single page, backed by m.
// Must run once the kernel's physical allocator is up; before that,
// Print still reaches the console, it just has nothing to mirror into.
func Init(m mem.Page_i) {
	mu.Lock()
	defer mu.Unlock()
	ring.Cb_init(mem.PGSIZE, m)
	ready = true
}

type byteSrc struct{ b []uint8 }

func (s *byteSrc) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, s.b)
	s.b = s.b[n:]
	return n, 0
}
func (s *byteSrc) Uiowrite(src []uint8) (int, defs.Err_t) { panic("byteSrc is not a sink") }
func (s *byteSrc) Remain() int                            { return len(s.b) }
func (s *byteSrc) Totalsz() int                           { return len(s.b) }

/// Print formats and writes to the console, then mirrors the same bytes
/// into the debug-log ring if Init has run.
func Print(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	fmt.Print(s)

	mu.Lock()
	defer mu.Unlock()
	if !ready {
		return
	}
	// drop the oldest bytes first so the ring always holds the most
	// recent log tail
	b := []uint8(s)
	if need := len(b) - ring.Left(); need > 0 {
		if need > ring.Used() {
			need = ring.Used()
		}
		ring.Advtail(need)
	}
	ring.Copyin(&byteSrc{b: b})
}

type byteSink struct {
	buf []uint8
	off int
}

func (s *byteSink) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(s.buf[s.off:], src)
	s.off += n
	return n, 0
}
func (s *byteSink) Uioread(dst []uint8) (int, defs.Err_t) { panic("byteSink is not a source") }
func (s *byteSink) Remain() int                           { return len(s.buf) - s.off }
func (s *byteSink) Totalsz() int                          { return len(s.buf) }

/// Dump drains and returns everything currently sitting in the
/// debug-log ring. Used by the exception handler to print recent
/// kernel chatter alongside a fault's register dump; the machine halts
/// right after, so consuming the ring is fine.
func Dump() string {
	mu.Lock()
	defer mu.Unlock()
	if !ready {
		return ""
	}
	sink := &byteSink{buf: make([]uint8, ring.Used())}
	ring.Copyout(sink)
	return string(sink.buf[:sink.off])
}
