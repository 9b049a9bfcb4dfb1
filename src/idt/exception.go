package idt

import "fmt"

import "golang.org/x/arch/x86/x86asm"

import "caller"
import "klog"
import "proc"

// ExceptionNames gives each CPU exception vector this package installs
// a gate for (see exceptionVectors) a human-readable name.
var ExceptionNames = map[uint8]string{
	0:  "Divide Error",
	1:  "Debug",
	2:  "Non-Maskable Interrupt",
	3:  "Breakpoint",
	4:  "Overflow",
	5:  "BOUND Range Exceeded",
	6:  "Invalid Opcode",
	7:  "Device Not Available",
	8:  "Double Fault",
	10: "Invalid TSS",
	11: "Segment Not Present",
	12: "Stack-Segment Fault",
	13: "General Protection Fault",
	14: "Page Fault",
	16: "x87 Floating-Point Exception",
	17: "Alignment Check",
	18: "Machine Check",
	19: "SIMD Floating-Point Exception",
}

const (
	vecPageFault   = 14
	vecGPFault     = 13
	vecDoubleFault = 8
)

// CR2Hook reads cr2, the faulting linear address left by a page fault.
// Hooked for the same reason Inb/Outb are: no inline assembly here.
var CR2Hook = func() uint64 { return 0 }

// Halt stops the CPU for good. The boot glue installs the real `cli;
// hlt` loop; left at its default this just spins, which is enough to
// stop a host-side test from falling through.
var Halt = func() {
	for {
	}
}

/// HandleException is what every exception ISR stub calls after saving
/// the interrupted task's registers into frame: decode the vector, dump
/// what's known about the fault, and halt. There is no recovery path:
/// every kernel-detected fault is fatal to the whole machine.
func HandleException(vec uint8, frame *proc.Frame_t) {
	if vec == vecDoubleFault {
		// the machine state is not trustworthy enough for diagnostics
		fmt.Printf("\n*** double fault, halting ***\n")
		Halt()
	}
	name, ok := ExceptionNames[vec]
	if !ok {
		name = fmt.Sprintf("vector %d", vec)
	}
	fmt.Printf("\n*** unhandled exception: %s (vector %d) ***\n", name, vec)
	dumpFrame(frame)

	if vec == vecPageFault {
		fmt.Printf("faulting address (cr2): %#x\n", CR2Hook())
	}
	if vec == vecGPFault || vec == vecPageFault {
		disasm(frame.Rip)
	}

	fmt.Printf("call trace:\n")
	caller.Callerdump(2)

	if tail := klog.Dump(); tail != "" {
		fmt.Printf("recent kernel log:\n%s\n", tail)
	}
	Halt()
}

func dumpFrame(f *proc.Frame_t) {
	fmt.Printf("rip=%#x cs=%#x rflags=%#x rsp=%#x ss=%#x\n", f.Rip, f.Cs, f.Rflags, f.Rsp, f.Ss)
	fmt.Printf("rax=%#x rbx=%#x rcx=%#x rdx=%#x\n", f.Rax, f.Rbx, f.Rcx, f.Rdx)
	fmt.Printf("rsi=%#x rdi=%#x rbp=%#x\n", f.Rsi, f.Rdi, f.Rbp)
	fmt.Printf("r8=%#x r9=%#x r10=%#x r11=%#x r12=%#x r13=%#x r14=%#x r15=%#x\n",
		f.R8, f.R9, f.R10, f.R11, f.R12, f.R13, f.R14, f.R15)
}

// disasm decodes and prints the faulting instruction at rip, reusing
// the currently running task's address space translation to find it --
// a best-effort diagnostic, not a full unwind, so instructions that
// straddle a page boundary may decode short.
func disasm(rip uint64) {
	as := proc.Current.As
	if as == nil {
		return
	}
	data, err := as.Userdmap8r(int(rip))
	if err != 0 {
		fmt.Printf("faulting instruction: <unreadable>\n")
		return
	}
	n := 16
	if len(data) < n {
		n = len(data)
	}
	inst, derr := x86asm.Decode(data[:n], 64)
	if derr != nil {
		fmt.Printf("faulting instruction: <decode error: %v>\n", derr)
		return
	}
	fmt.Printf("faulting instruction: %s\n", x86asm.GNUSyntax(inst, rip, nil))
}
