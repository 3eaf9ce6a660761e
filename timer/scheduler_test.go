package timer_test

import (
	"errors"
	"testing"

	"stepcore.dev/timer"
)

// mockBackend is a deterministic Backend double for unit tests that care
// about exactly which arm/disarm calls the scheduler makes, as opposed to
// SimBackend's job of actually carrying a move end to end.
type mockBackend struct {
	now uint32

	stepAt, tickAt  uint32
	armStepCalls    int
	armTickCalls    int
	disarmStepCalls int
	disarmTickCalls int
}

func (m *mockBackend) Now() uint32       { return m.now }
func (m *mockBackend) ArmStep(at uint32) { m.stepAt = at; m.armStepCalls++ }
func (m *mockBackend) ArmTick(at uint32) { m.tickAt = at; m.armTickCalls++ }
func (m *mockBackend) DisarmStep()       { m.disarmStepCalls++ }
func (m *mockBackend) DisarmTick()       { m.disarmTickCalls++ }

func smallCfg() timer.Config {
	return timer.Config{CounterRange: 1_000_000, TickTime: 1000, SafeISRCycles: 10, CounterGuard: 100}
}

func TestInitArmsTickOnlyFromNow(t *testing.T) {
	backend := &mockBackend{now: 500}
	sched := timer.New(smallCfg(), backend, func() {}, func() {})
	sched.Init()

	if backend.armTickCalls != 1 {
		t.Fatalf("armTickCalls = %d, want 1", backend.armTickCalls)
	}
	if backend.tickAt != 1500 {
		t.Fatalf("tickAt = %d, want 1500", backend.tickAt)
	}
	if backend.armStepCalls != 0 {
		t.Fatalf("armStepCalls = %d, want 0 (Init must not arm a step)", backend.armStepCalls)
	}
	if got := sched.Anchor(); got != 500 {
		t.Fatalf("Anchor() = %d, want 500", got)
	}
}

func TestScheduleStepInArmsAtAnchorPlusDelay(t *testing.T) {
	backend := &mockBackend{now: 500}
	sched := timer.New(smallCfg(), backend, func() {}, func() {})
	sched.Init()

	if err := sched.ScheduleStepIn(200, false); err != nil {
		t.Fatalf("ScheduleStepIn: %v", err)
	}
	if backend.stepAt != 700 {
		t.Fatalf("stepAt = %d, want 700", backend.stepAt)
	}
	if got := sched.Anchor(); got != 700 {
		t.Fatalf("Anchor() = %d, want 700 (a normal schedule advances the anchor immediately)", got)
	}
}

func TestScheduleStepInTooShort(t *testing.T) {
	backend := &mockBackend{now: 1000}
	sched := timer.New(smallCfg(), backend, func() {}, func() {})
	sched.Init() // anchor = 1000

	backend.now = 1050 // 50 ticks have elapsed since the anchor
	if err := sched.ScheduleStepIn(100, true); err != nil {
		t.Fatalf("ScheduleStepIn(100) = %v, want nil (60 < 100)", err)
	}

	backend.now = 1000
	sched2 := timer.New(smallCfg(), backend, func() {}, func() {})
	sched2.Init()
	backend.now = 1050
	if err := sched2.ScheduleStepIn(55, true); !errors.Is(err, timer.ErrTooShort) {
		t.Fatalf("ScheduleStepIn(55) = %v, want ErrTooShort (elapsed 50 + SafeISRCycles 10 > 55)", err)
	}
}

func TestScheduleStepInIgnoresTooShortWhenNotChecking(t *testing.T) {
	backend := &mockBackend{now: 1000}
	sched := timer.New(smallCfg(), backend, func() {}, func() {})
	sched.Init()

	backend.now = 1090 // would trip TooShort if checked
	if err := sched.ScheduleStepIn(5, false); err != nil {
		t.Fatalf("ScheduleStepIn(checkShort=false) = %v, want nil", err)
	}
}

func TestStepFiredInvokesOnStepAndAdvancesAnchor(t *testing.T) {
	backend := &mockBackend{now: 0}
	var stepCount int
	sched := timer.New(smallCfg(), backend, func() { stepCount++ }, func() {})
	sched.Init()
	if err := sched.ScheduleStepIn(50, false); err != nil {
		t.Fatalf("ScheduleStepIn: %v", err)
	}

	if fired := sched.StepFired(); !fired {
		t.Fatal("StepFired() = false, want true for a normally-armed step")
	}
	if stepCount != 1 {
		t.Fatalf("stepCount = %d, want 1", stepCount)
	}
	if got := sched.Anchor(); got != 50 {
		t.Fatalf("Anchor() = %d, want 50", got)
	}
}

func TestTickFiredReentrancyLatchSkipsNestedBody(t *testing.T) {
	backend := &mockBackend{now: 0}
	var ticks int
	var sched *timer.Scheduler
	onTick := func() {
		ticks++
		// Simulate a second tick-compare fire arriving while the first
		// tick's body is still running: the latch must make this a
		// no-op beyond reprogramming the compare.
		sched.TickFired()
	}
	sched = timer.New(smallCfg(), backend, func() {}, onTick)
	sched.Init()

	sched.TickFired()

	if ticks != 1 {
		t.Fatalf("ticks = %d, want 1 (nested TickFired must not re-enter onTick)", ticks)
	}
	// Init + outer TickFired + the nested TickFired each reprogram the
	// tick compare, busy or not.
	if backend.armTickCalls != 3 {
		t.Fatalf("armTickCalls = %d, want 3", backend.armTickCalls)
	}
}

func TestStopDisarmsBothComparesAndRejectsFurtherScheduling(t *testing.T) {
	backend := &mockBackend{now: 0}
	sched := timer.New(smallCfg(), backend, func() {}, func() {})
	sched.Init()
	if err := sched.ScheduleStepIn(10, false); err != nil {
		t.Fatalf("ScheduleStepIn: %v", err)
	}

	sched.Stop()
	if backend.disarmStepCalls != 1 {
		t.Fatalf("disarmStepCalls = %d, want 1", backend.disarmStepCalls)
	}
	if backend.disarmTickCalls != 1 {
		t.Fatalf("disarmTickCalls = %d, want 1", backend.disarmTickCalls)
	}
	if err := sched.ScheduleStepIn(5, false); err == nil {
		t.Fatal("ScheduleStepIn() after Stop() = nil error, want one")
	}
}

// TestLargeDelayEventuallyFiresGenuineStep drives the large-delay trick of
// spec.md section 4.1 end to end through SimBackend: a delay wider than the
// counter must not fire a real step until the whole delay has actually
// elapsed, and must then fire exactly one.
func TestLargeDelayEventuallyFiresGenuineStep(t *testing.T) {
	const counterRange = 1000
	backend := timer.NewSimBackend(counterRange)
	var stepCount, tickCount int
	cfg := timer.Config{CounterRange: counterRange, TickTime: 10_000_000, SafeISRCycles: 5, CounterGuard: 50}
	sched := timer.New(cfg, backend, func() { stepCount++ }, func() { tickCount++ })
	backend.Bind(sched)
	sched.Init()

	const delay = 3500
	if err := sched.ScheduleStepIn(delay, false); err != nil {
		t.Fatalf("ScheduleStepIn: %v", err)
	}

	// Every wrap crossed before the delay has elapsed is large-delay
	// bookkeeping, not a real step.
	backend.Advance(delay - 1)
	if stepCount != 0 {
		t.Fatalf("stepCount = %d before the delay elapsed, want 0", stepCount)
	}

	// The genuine step must land within a bounded number of extra wraps
	// of slack beyond the requested delay.
	backend.Advance(3 * counterRange)
	if stepCount != 1 {
		t.Fatalf("stepCount = %d after the delay plus slack, want exactly 1", stepCount)
	}
	if tickCount != 0 {
		t.Fatalf("tickCount = %d, want 0 (TickTime was set far beyond this window)", tickCount)
	}
}
