package sysc

import "sync"

import "defs"
import "fdops"
import "klog"

// consoleFile_t backs file descriptors 0, 1 and 2. Writes go through
// klog.Print, the same sink every other kernel diagnostic uses, so a
// write() to stdout shows up interleaved with kernel log lines exactly
// as it would on real hardware. Reads drain whatever the keyboard
// driver has pushed into StdinFeed, reporting 0 (no data yet) when the
// line buffer is empty; the PS/2 driver itself lives with the boot
// glue, outside this package.
type consoleFile_t struct {
	dev int // defs.D_CONSOLE; kept so Stats-style dumps can name the device
}

var (
	stdinMu  sync.Mutex
	stdinBuf []uint8
)

/// StdinFeed appends keyboard input for descriptor 0. Called from the
/// PS/2 driver's IRQ path.
func StdinFeed(b []uint8) {
	stdinMu.Lock()
	stdinBuf = append(stdinBuf, b...)
	stdinMu.Unlock()
}

func (c *consoleFile_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	stdinMu.Lock()
	defer stdinMu.Unlock()
	if len(stdinBuf) == 0 {
		return 0, 0
	}
	n, err := dst.Uiowrite(stdinBuf)
	if err != 0 {
		return 0, err
	}
	stdinBuf = stdinBuf[n:]
	return n, 0
}

func (c *consoleFile_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	n := src.Remain()
	if n <= 0 {
		return 0, 0
	}
	buf := make([]uint8, n)
	got, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	klog.Print("%s", string(buf[:got]))
	return got, 0
}

func (c *consoleFile_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (c *consoleFile_t) Close() defs.Err_t  { return 0 }
func (c *consoleFile_t) Reopen() defs.Err_t { return 0 }

func (c *consoleFile_t) Readdir() (string, defs.Err_t) {
	return "", -defs.ENOTDIR
}
