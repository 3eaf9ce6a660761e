// Package timer implements the dual-compare hardware-timer discipline of
// spec.md section 4.1: one free-running counter serving two independent
// events, a step compare and a system-tick compare, plus the
// large-delay-extension trick needed because the counter is narrower than
// the worst-case inter-step interval.
//
// A Backend owns the actual free-running counter; two are provided,
// SimBackend (for host development and tests, modeled on
// driver/mjolnir's io.ReadWriter simulator) and a tinygo-and-rp2040
// backend (backend_mcu.go) that programs the RP2040 timer peripheral's
// ALARM0/ALARM1 compares directly. The Scheduler itself never
// touches hardware registers; it only calls Backend.
package timer

import (
	"errors"
	"sync"
)

// ErrTooShort is the TooShortInterval error kind of spec.md section 7:
// the caller asked for a delay that has already elapsed (or nearly so) by
// the time the request reached the scheduler. The caller must emit the
// step immediately and retry without advancing the anchor.
var ErrTooShort = errors.New("timer: requested interval too short")

// Backend is the hardware (or simulated hardware) a Scheduler drives. All
// methods are called with the scheduler's internal lock held, so
// implementations must not block or call back into the Scheduler.
type Backend interface {
	// Now returns the free-running counter's current value.
	Now() uint32
	// ArmStep arms the step compare to fire when the counter reaches
	// at (mod the counter range).
	ArmStep(at uint32)
	// ArmTick arms the system-tick compare to fire when the counter
	// reaches at.
	ArmTick(at uint32)
	// DisarmStep, DisarmTick cancel a pending compare. Called by Stop.
	DisarmStep()
	DisarmTick()
}

// Config is the subset of config.Config the scheduler needs; kept
// separate so the package has no import-time dependency on the rest of
// the tree's config validation.
type Config struct {
	CounterRange  uint32
	TickTime      uint32
	SafeISRCycles uint32
	CounterGuard  uint32
}

// Scheduler owns the step/tick scheduling state machine described in
// spec.md section 4.1. It is safe to call ScheduleStepIn concurrently
// with the backend firing StepFired, because both take the same lock;
// the lock models the "disable global interrupts around the arm window"
// requirement without actually disabling interrupts. No backend disables
// interrupts either: backend_mcu.go only sets the alarm and its
// interrupt-enable bit, so on the MCU this mutex is the only guard.
type Scheduler struct {
	cfg     Config
	backend Backend

	mu           sync.Mutex
	anchor       uint32 // counter value of the previous real step-compare event
	nextStepTime uint32 // software register for the large-delay trick; 0 when idle
	running      bool

	onStep func()
	onTick func()
	tickBusy bool // re-entrancy latch for the system-tick body
}

// New creates a Scheduler bound to backend. onStep is invoked (from
// StepFired, i.e. from whatever goroutine or real ISR calls it) whenever
// a genuine step compare fires; onTick likewise for the system tick.
// Neither callback may block.
func New(cfg Config, backend Backend, onStep, onTick func()) *Scheduler {
	return &Scheduler{cfg: cfg, backend: backend, onStep: onStep, onTick: onTick}
}

// Init arms the system tick TickTime ticks ahead and leaves the step
// compare disarmed, per spec.md section 4.1.
func (s *Scheduler) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.backend.Now()
	s.anchor = now
	s.running = true
	s.backend.ArmTick((now + s.cfg.TickTime) % s.cfg.CounterRange)
}

// Stop disarms both compares: the emergency-stop path of spec.md section
// 4.5.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.nextStepTime = 0
	s.backend.DisarmStep()
	s.backend.DisarmTick()
}

// ScheduleStepIn arms the step compare delay CPU ticks from the anchor of
// the previous step-compare event (not from now: spec.md section 4.1
// explains why measuring from "now" would bake ISR jitter into the
// rhythm). When checkShort is true (the caller is inside the step ISR
// asking for the next interval), ScheduleStepIn returns ErrTooShort
// instead of arming anything if the requested delay has already elapsed.
func (s *Scheduler) ScheduleStepIn(delay uint32, checkShort bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("timer: scheduler stopped")
	}
	if checkShort {
		now := s.backend.Now()
		elapsed := now - s.anchor
		if elapsed+s.cfg.SafeISRCycles > delay {
			return ErrTooShort
		}
	}
	if delay >= s.cfg.CounterRange {
		s.nextStepTime = delay
		// One counter wrap away from the anchor: the compare fires
		// spuriously on every wrap until nextStepTime drops below
		// CounterRange.
		s.backend.ArmStep(s.anchor)
		return nil
	}
	s.nextStepTime = 0
	at := (s.anchor + delay) % s.cfg.CounterRange
	s.anchor = at
	s.backend.ArmStep(at)
	return nil
}

// StepFired is called by the backend when the step compare fires. It
// returns true if this was a genuine step event (the backend's onStep
// callback has already been invoked by the time StepFired returns) and
// false if it was large-delay wrap bookkeeping with no step emitted.
func (s *Scheduler) StepFired() bool {
	s.mu.Lock()
	if s.nextStepTime == 0 {
		s.mu.Unlock()
		s.onStep()
		return true
	}
	next := s.nextStepTime
	switch {
	case next >= s.cfg.CounterRange:
		next -= s.cfg.CounterRange // ticks still to go after this wrap fire
		at := s.anchor
		switch {
		case next < s.cfg.CounterRange:
			// Less than one wrap to go: arm the real step now and
			// clear the register so its fire is treated as genuine.
			at = (at + next) % s.cfg.CounterRange
			next = 0
		case next < s.cfg.CounterRange+s.cfg.CounterGuard:
			// Degenerate case: the following wrap fire would leave
			// the real step within CounterGuard ticks of it. Step
			// the compare backwards by the guard band and credit
			// the ticks back into nextStepTime so the eventual real
			// delay is unchanged.
			at = (at + s.cfg.CounterRange - s.cfg.CounterGuard) % s.cfg.CounterRange
			next += s.cfg.CounterGuard
		}
		s.anchor = at
		s.nextStepTime = next
		s.backend.ArmStep(at)
		s.mu.Unlock()
		return false
	default:
		// next < CounterRange: arm the real event and clear the
		// register so the next fire is treated as genuine.
		at := (s.anchor + next) % s.cfg.CounterRange
		s.anchor = at
		s.nextStepTime = 0
		s.backend.ArmStep(at)
		s.mu.Unlock()
		return false
	}
}

// TickFired is called by the backend when the system-tick compare fires.
// It reprograms the tick compare, latches re-entrancy, and runs onTick,
// matching spec.md section 4.1: "if the latch is already set on entry,
// the handler skips the lengthy body."
func (s *Scheduler) TickFired() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	at := s.backend.Now()
	next := (at + s.cfg.TickTime) % s.cfg.CounterRange
	s.backend.ArmTick(next)
	if s.tickBusy {
		s.mu.Unlock()
		return
	}
	s.tickBusy = true
	s.mu.Unlock()

	s.onTick()

	s.mu.Lock()
	s.tickBusy = false
	s.mu.Unlock()
}

// Anchor returns the counter value the previous real step compare fired
// at, for tests asserting the scheduler-anchor invariant of spec.md
// section 8.
func (s *Scheduler) Anchor() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}
