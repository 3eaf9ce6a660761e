package motion_test

import (
	"errors"
	"runtime"
	"testing"

	"stepcore.dev/config"
	"stepcore.dev/dda"
	"stepcore.dev/move"
	"stepcore.dev/motion"
	"stepcore.dev/profile"
	"stepcore.dev/queue"
	"stepcore.dev/timer"
)

type fakeOutput struct{ pulses int }

func (o *fakeOutput) Pulse() error            { o.pulses++; return nil }
func (o *fakeOutput) Settle() error           { return nil }
func (o *fakeOutput) SetDirection(bool) error { return nil }

type fakeEndstops struct {
	triggerAtCall int
	calls         int
	bit           move.EndstopMask
}

func (f *fakeEndstops) Mask() move.EndstopMask {
	f.calls++
	if f.triggerAtCall > 0 && f.calls >= f.triggerAtCall {
		return f.bit
	}
	return 0
}

// fakeDriverBank is a motion.DriverBank double: it reports a fault
// starting on the given call number, the same triggerAtCall style as
// fakeEndstops, so TestDriverFaultSurfacesAfterMove can exercise the
// drain loop's post-move check without a real driverchip.Bank/UART.
type fakeDriverBank struct {
	faultAtCall int
	calls       int
}

func (f *fakeDriverBank) Fault() (name byte, err error, ok bool) {
	f.calls++
	if f.faultAtCall > 0 && f.calls >= f.faultAtCall {
		return 'X', errors.New("tmc2209: error status: 001"), true
	}
	return 0, nil, false
}

// fakeCurrentMonitor is a motion.CurrentMonitor double returning a fixed
// reading every call.
type fakeCurrentMonitor struct {
	milliamps int
	calls     int
}

func (f *fakeCurrentMonitor) MeasureMilliamps() (int, error) {
	f.calls++
	return f.milliamps, nil
}

// testRig wires a Controller end to end against a SimBackend, the same way
// production main.go wires it against a real hardware timer, so these tests
// exercise the actual enqueue -> drain -> DDA -> scheduler path rather than
// a mock of the controller's dependencies.
type testRig struct {
	ctrl     *motion.Controller
	backend  *timer.SimBackend
	endstops *fakeEndstops
}

func newTestRig(t *testing.T, endstops *fakeEndstops) *testRig {
	t.Helper()
	const counterRange = 1 << 24
	backend := timer.NewSimBackend(counterRange)
	tcfg := timer.Config{CounterRange: counterRange, TickTime: 50_000, SafeISRCycles: 10, CounterGuard: 4096}

	var outputs [move.MaxAxes]dda.Outputs
	for i := range outputs {
		outputs[i] = &fakeOutput{}
	}

	var endstopsIface dda.Endstops
	if endstops != nil {
		endstopsIface = endstops
	}

	var engine *dda.Engine
	sched := timer.New(tcfg, backend, func() { engine.OnStep() }, func() { engine.OnTick() })
	engine = dda.New(sched, endstopsIface, outputs)
	backend.Bind(sched)
	sched.Init()

	cfg := config.Config{
		CPUFreq:       1_000_000,
		TickTime:      50_000,
		CounterRange:  counterRange,
		QueueCapacity: 4,
		SafeISRCycles: 10,
		CounterGuard:  4096,
		Mode:          config.Trapezoidal,
		Axes: []config.Axis{
			{Name: 'X', StepsPerMM: 100, MaxFeedrate: 6000, Acceleration: 500,
				EndstopClearance: 1, SearchFeedrate: 300, HasMin: true, MinPos: 0},
		},
	}
	q := queue.New(4)
	mkProfiler := func() profile.Profiler { return profile.Trapezoidal{CPUFreq: cfg.CPUFreq} }
	ctrl := motion.New(cfg, engine, q, mkProfiler)
	return &testRig{ctrl: ctrl, backend: backend, endstops: endstops}
}

// drainToIdle pumps the simulated counter forward, yielding between chunks
// so the controller's own drain goroutine gets scheduled, until the
// controller reports idle or the budget is exhausted.
func (r *testRig) drainToIdle(t *testing.T) {
	t.Helper()
	for i := 0; i < 5000; i++ {
		if r.ctrl.IsIdle() {
			return
		}
		r.backend.Advance(2000)
		runtime.Gosched()
	}
	t.Fatal("controller did not reach idle within the advanced window")
}

func TestEnqueueMovesToTargetPosition(t *testing.T) {
	rig := newTestRig(t, nil)
	target := move.Position{}
	target[0] = 10_000 // 10mm in micrometers

	if err := rig.ctrl.Enqueue(target, 3000); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rig.drainToIdle(t)

	if got := rig.ctrl.Position(); got[0] != 10_000 {
		t.Fatalf("Position()[0] = %d, want 10000", got[0])
	}
	if err := rig.ctrl.LastMoveError(); err != nil {
		t.Fatalf("LastMoveError() = %v, want nil after an ordinary move", err)
	}
}

func TestEnqueueHomeRecordsEndstopTriggeredOnTrip(t *testing.T) {
	bit := move.EndstopBit(0, false)
	endstops := &fakeEndstops{triggerAtCall: 5, bit: bit}
	rig := newTestRig(t, endstops)

	target := move.Position{}
	target[0] = -50_000
	if err := rig.ctrl.EnqueueHome(move.Position{}, target, 300, bit, false); err != nil {
		t.Fatalf("EnqueueHome: %v", err)
	}
	rig.drainToIdle(t)

	if !errors.Is(rig.ctrl.LastMoveError(), dda.ErrEndstopTriggered) {
		t.Fatalf("LastMoveError() = %v, want ErrEndstopTriggered", rig.ctrl.LastMoveError())
	}
}

func TestEnqueueHomeRecordsNilWhenSwitchNeverTrips(t *testing.T) {
	// triggerAtCall == 0 means fakeEndstops never reports triggered: the
	// homing move should run to completion with no error, which is
	// exactly the silent-false-positive failure mode homing.Sequence
	// must detect via LastMoveError.
	endstops := &fakeEndstops{triggerAtCall: 0, bit: move.EndstopBit(0, false)}
	rig := newTestRig(t, endstops)

	target := move.Position{}
	target[0] = -5_000
	if err := rig.ctrl.EnqueueHome(move.Position{}, target, 300, move.EndstopBit(0, false), false); err != nil {
		t.Fatalf("EnqueueHome: %v", err)
	}
	rig.drainToIdle(t)

	if err := rig.ctrl.LastMoveError(); err != nil {
		t.Fatalf("LastMoveError() = %v, want nil when the move completed without tripping", err)
	}
}

func TestEmergencyStopDrainsQueueAndWakesWaiters(t *testing.T) {
	rig := newTestRig(t, nil)
	target := move.Position{}
	target[0] = 1_000_000 // a large move, so it is still in flight when we stop it

	if err := rig.ctrl.Enqueue(target, 6000); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Let the move actually start before stopping it.
	for i := 0; i < 100 && rig.ctrl.IsIdle(); i++ {
		rig.backend.Advance(100)
		runtime.Gosched()
	}

	rig.ctrl.EmergencyStop()
	rig.drainToIdle(t)

	if rig.ctrl.QueueLength() != 0 {
		t.Fatalf("QueueLength() = %d, want 0 after EmergencyStop", rig.ctrl.QueueLength())
	}
}

func TestDriverFaultSurfacesAfterMove(t *testing.T) {
	rig := newTestRig(t, nil)
	bank := &fakeDriverBank{faultAtCall: 1}
	rig.ctrl.SetDrivers(bank)

	target := move.Position{}
	target[0] = 1_000
	if err := rig.ctrl.Enqueue(target, 3000); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rig.drainToIdle(t)

	if err := rig.ctrl.LastFault(); !errors.Is(err, motion.ErrDriverFault) {
		t.Fatalf("LastFault() = %v, want ErrDriverFault", err)
	}
	if err := rig.ctrl.LastMoveError(); !errors.Is(err, motion.ErrDriverFault) {
		t.Fatalf("LastMoveError() = %v, want ErrDriverFault after a driver fault between moves", err)
	}
}

func TestNoDriverFaultLeavesLastFaultNil(t *testing.T) {
	rig := newTestRig(t, nil)
	bank := &fakeDriverBank{faultAtCall: 0}
	rig.ctrl.SetDrivers(bank)

	target := move.Position{}
	target[0] = 1_000
	if err := rig.ctrl.Enqueue(target, 3000); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rig.drainToIdle(t)

	if err := rig.ctrl.LastFault(); err != nil {
		t.Fatalf("LastFault() = %v, want nil when the driver bank reports no fault", err)
	}
	if bank.calls == 0 {
		t.Fatal("driver bank Fault() was never called after a move completed")
	}
}

func TestCurrentMonitorPolledBetweenMoves(t *testing.T) {
	rig := newTestRig(t, nil)
	mon := &fakeCurrentMonitor{milliamps: 850}
	rig.ctrl.SetCurrentMonitor(mon)

	target := move.Position{}
	target[0] = 1_000
	if err := rig.ctrl.Enqueue(target, 3000); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rig.drainToIdle(t)

	if mon.calls == 0 {
		t.Fatal("current monitor was never polled after a move completed")
	}
	if got := rig.ctrl.LastCurrentMilliamps(); got != 850 {
		t.Fatalf("LastCurrentMilliamps() = %d, want 850", got)
	}
}
