// Package idt installs the kernel's interrupt descriptor table, remaps
// the 8259 PIC, drives the PIT timer tick, and decodes CPU faults for a
// diagnostic dump.
//
// Like ata's port-I/O hooks, loading the table and talking to the PIC
// requires instructions this package has no assembler for; the boot
// glue in cmd/kernel installs Inb/Outb/LoadIDT before calling Init.
package idt

import "unsafe"

import "defs"
import "stats"

// Gate_t is a 64-bit interrupt gate descriptor, split across the five
// fields x86 demands.
type Gate_t struct {
	OffsetLow  uint16
	Selector   uint16
	zero1      uint8
	TypeAttr   uint8
	OffsetMid  uint16
	OffsetHigh uint32
	zero2      uint32
}

// Gate flag bytes: present 64-bit interrupt gates at ring 0 (faults,
// IRQs) and ring 3 (the syscall vector, which user code must be able
// to reach with int 0x80).
const (
	GateInterrupt64     = 0x8E
	GateInterrupt64User = 0xEE
)

const numVectors = 256

var table [numVectors]Gate_t

// Inb/Outb are this package's own port-I/O hooks, kept separate from
// ata's: the two packages drive entirely different hardware (PIC/PIT
// control ports vs. the ATA command block), and nothing here should
// have to import a disk driver to remap an interrupt controller.
var (
	Inb  func(port uint16) uint8
	Outb func(port uint16, v uint8)
)

// LoadIDT loads the table via lidt; hooked for the same reason Inb/Outb
// are. limit is (sizeof(Gate_t)*256)-1, base is the table's linear
// address.
var LoadIDT = func(limit uint16, base uint64) {}

// SetGate installs one interrupt gate.
func SetGate(num uint8, handler uint64, selector uint16, flags uint8) {
	table[num] = Gate_t{
		OffsetLow:  uint16(handler),
		Selector:   selector,
		TypeAttr:   flags,
		OffsetMid:  uint16(handler >> 16),
		OffsetHigh: uint32(handler >> 32),
	}
}

// PIC command-block ports and the ICW sequence that remaps the two
// 8259s so hardware IRQs 0-15 land on vectors 0x20-0x2F instead of
// colliding with the CPU exception range 0x00-0x1F.
const (
	picMasterCmd  = 0x20
	picMasterData = 0x21
	picSlaveCmd   = 0xA0
	picSlaveData  = 0xA1

	// IrqBase and IrqBaseSlave are the vectors IRQ0 and IRQ8
	// land on after remapping.
	IrqBase      = 0x20
	IrqBaseSlave = 0x28
)

// SyscallVector is the software-interrupt vector user code traps
// through.
const SyscallVector = 0x80

func remapPIC() {
	Outb(picMasterCmd, 0x11)
	Outb(picSlaveCmd, 0x11)
	Outb(picMasterData, IrqBase)
	Outb(picSlaveData, IrqBaseSlave)
	Outb(picMasterData, 4) // tell master about the slave on IRQ2
	Outb(picSlaveData, 2)
	Outb(picMasterData, 0x01)
	Outb(picSlaveData, 0x01)
	// mask everything but the timer (IRQ0) and keyboard (IRQ1);
	// unmasking a line with no handler installed just hangs on the
	// first IRQ.
	Outb(picMasterData, 0xFC)
	Outb(picSlaveData, 0xFF)
}

// EOI acknowledges an interrupt on vector irq (relative to IrqBase),
// signalling the slave PIC too when irq >= 8.
func EOI(irq int) {
	stats.Irqs++
	if irq >= 0 && irq < len(stats.Nirqs) {
		stats.Nirqs[irq]++
	}
	if irq >= 8 {
		Outb(picSlaveCmd, 0x20)
	}
	Outb(picMasterCmd, 0x20)
}

// Handlers holds the linear addresses of the assembly ISR stubs this
// package has no way to generate itself -- one per exception/IRQ
// vector it installs a gate for. The boot glue fills this in from the
// symbols its stub file exports before calling Init.
type Handlers struct {
	// Exceptions[n] is the ISR stub address for CPU exception
	// vector n, for every n this package installs a gate for (see
	// exceptionVectors).
	Exceptions map[uint8]uint64
	// Timer is the IRQ0 stub address (PIT).
	Timer uint64
	// Keyboard is the IRQ1 stub address (PS/2 controller).
	Keyboard uint64
	// Syscall is the int 0x80 entry stub address; its gate is the
	// only one installed with a ring-3 flag byte.
	Syscall uint64
	// CodeSeg is the kernel code selector every gate installs (task.SEG_KCODE).
	CodeSeg uint16
}

// exceptionVectors lists the CPU exception vectors that get dedicated
// stubs -- 0-8, 10-14 and 16-19, skipping 9 (legacy coprocessor
// segment overrun) and 15 (reserved).
var exceptionVectors = []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 16, 17, 18, 19}

/// Init clears the table, installs the CPU exception, IRQ and syscall
/// gates, remaps the PIC, and loads the table.
func Init(h Handlers) defs.Err_t {
	for i := range table {
		table[i] = Gate_t{}
	}
	for _, v := range exceptionVectors {
		addr, ok := h.Exceptions[v]
		if !ok {
			return -defs.EINVAL
		}
		SetGate(v, addr, h.CodeSeg, GateInterrupt64)
	}
	if h.Timer != 0 {
		SetGate(IrqBase, h.Timer, h.CodeSeg, GateInterrupt64)
	}
	if h.Keyboard != 0 {
		SetGate(IrqBase+1, h.Keyboard, h.CodeSeg, GateInterrupt64)
	}
	if h.Syscall != 0 {
		SetGate(SyscallVector, h.Syscall, h.CodeSeg, GateInterrupt64User)
	}
	remapPIC()

	limit := uint16(unsafe.Sizeof(table) - 1)
	base := uint64(uintptr(unsafe.Pointer(&table[0])))
	LoadIDT(limit, base)
	return 0
}
