//go:build tinygo && rp

package timer

import (
	"device/rp"
	"runtime/interrupt"
)

// mcuBackend drives the RP2040's free-running 64-bit hardware timer
// (TIMER0, read here as its low 32 bits) through its two lower alarm
// compares: ALARM0 for steps, ALARM1 for the system tick. This plays the
// same dual-compare role the teacher's engraving head gets from PIO+DMA,
// but through the timer peripheral's own alarms instead of a PIO state
// machine, since spec.md's scheduling algorithm is defined in terms of a
// single free-running counter with two independent compares rather than
// a word-at-a-time pulse generator.
type mcuBackend struct {
	timer *rp.TIMER_Type
	sched *Scheduler

	stepIRQ interrupt.Interrupt
	tickIRQ interrupt.Interrupt
}

// NewMCUBackend configures TIMER0's ALARM0/ALARM1 interrupts. Call Bind
// with the Scheduler before enabling interrupts globally.
func NewMCUBackend() *mcuBackend {
	b := &mcuBackend{timer: rp.TIMER}
	b.stepIRQ = interrupt.New(rp.IRQ_TIMER_IRQ_0, b.handleStepIRQ)
	b.tickIRQ = interrupt.New(rp.IRQ_TIMER_IRQ_1, b.handleTickIRQ)
	b.stepIRQ.SetPriority(0x00) // highest priority: step timing beats everything else
	b.tickIRQ.SetPriority(0x40)
	b.stepIRQ.Enable()
	b.tickIRQ.Enable()
	return b
}

// Bind attaches the Scheduler this backend feeds StepFired/TickFired
// into. Must be called before either alarm is armed.
func (b *mcuBackend) Bind(s *Scheduler) { b.sched = s }

func (b *mcuBackend) handleStepIRQ(interrupt.Interrupt) {
	// Clear the alarm's latch before re-arming from within StepFired,
	// or a compare value in the past re-fires immediately.
	b.timer.INTR.Set(rp.TIMER_INTR_ALARM_0)
	b.sched.StepFired()
}

func (b *mcuBackend) handleTickIRQ(interrupt.Interrupt) {
	b.timer.INTR.Set(rp.TIMER_INTR_ALARM_1)
	b.sched.TickFired()
}

func (b *mcuBackend) Now() uint32 {
	return b.timer.TIMERAWL.Get()
}

func (b *mcuBackend) ArmStep(at uint32) {
	b.timer.ALARM0.Set(at)
	b.timer.INTE.SetBits(rp.TIMER_INTE_ALARM_0)
}

func (b *mcuBackend) ArmTick(at uint32) {
	b.timer.ALARM1.Set(at)
	b.timer.INTE.SetBits(rp.TIMER_INTE_ALARM_1)
}

func (b *mcuBackend) DisarmStep() {
	b.timer.INTE.ClearBits(rp.TIMER_INTE_ALARM_0)
}

func (b *mcuBackend) DisarmTick() {
	b.timer.INTE.ClearBits(rp.TIMER_INTE_ALARM_1)
}
