package stats

import "reflect"
import "sync/atomic"
import "strconv"
import "strings"
import "unsafe"

// Stats and Timing gate all counter updates at compile time, so a
// production build pays nothing for the instrumentation.
const Stats = false
const Timing = false

// Nirqs counts interrupts per IRQ line; Irqs is the total. Bumped by
// the interrupt acknowledge path.
var Nirqs [16]int
var Irqs int

// RdtscHook reads the CPU's cycle counter. It is a hook the boot glue
// installs from its own rdtsc stub, the same way ata.Inb/idt.Outb are
// installed. Left at its zero value it reads as always-zero, which is
// fine: Rdtsc is only ever consulted when Timing is true.
var RdtscHook = func() uint64 { return 0 }

/// Rdtsc returns the current cycle count when enabled.
func Rdtsc() uint64 {
	if Stats {
		return RdtscHook()
	} else {
		return 0
	}
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds a cycle count.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}
