package idt

// pitFreq is the PIT's fixed input frequency (1.193182 MHz), used to
// derive the reload divisor for a requested tick rate.
const pitFreq = 1193180

const (
	pitChannel0 = 0x40
	pitCommand  = 0x43
	pitSquareWave = 0x36
)

/// TickHz is the rate this kernel drives the scheduler's timer at.
/// At 1 kHz a 10-tick quantum is a 10 ms slice.
const TickHz = 1000

/// InitPIT programs channel 0 for square-wave mode at hz. Must run
/// after Inb/Outb are installed and before the timer gate's IRQ is
/// unmasked.
func InitPIT(hz uint32) {
	divisor := uint16(pitFreq / hz)
	Outb(pitCommand, pitSquareWave)
	Outb(pitChannel0, uint8(divisor))
	Outb(pitChannel0, uint8(divisor>>8))
}

/// OnTick is called by the IRQ0 stub on every timer interrupt, before
/// it sends EOI. Left nil does nothing -- the boot glue wires this to
/// proc.Tick so this package never has to import proc just to bump a
/// counter on every tick of a kernel that might not even have proc
/// initialized yet (e.g. very early boot self-test).
var OnTick = func() {}

// HandleTimerIRQ is what the IRQ0 assembly stub calls: run the
// scheduler's tick accounting, then acknowledge the interrupt.
func HandleTimerIRQ() {
	OnTick()
	EOI(0)
}
