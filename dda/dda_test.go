package dda_test

import (
	"errors"
	"testing"

	"stepcore.dev/dda"
	"stepcore.dev/move"
	"stepcore.dev/profile"
	"stepcore.dev/timer"
)

// fakeOutput records every pulse and direction change an axis received,
// standing in for pin.StepOutput/pin.MCUStepOutput.
type fakeOutput struct {
	pulses      int
	settles     int
	lastForward bool
	dirSet      bool
}

func (o *fakeOutput) Pulse() error             { o.pulses++; return nil }
func (o *fakeOutput) Settle() error            { o.settles++; return nil }
func (o *fakeOutput) SetDirection(f bool) error { o.lastForward = f; o.dirSet = true; return nil }

// fakeEndstops reports triggered starting from the triggerAtCall'th call to Mask,
// letting a test pin down exactly which step a homing move should stop on.
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

func newTestEngine(t *testing.T, endstops dda.Endstops) (*dda.Engine, *timer.Scheduler, *timer.SimBackend, [move.MaxAxes]*fakeOutput) {
	t.Helper()
	const counterRange = 1 << 20
	backend := timer.NewSimBackend(counterRange)
	cfg := timer.Config{CounterRange: counterRange, TickTime: 1_000_000, SafeISRCycles: 10, CounterGuard: 1024}

	var outs [move.MaxAxes]*fakeOutput
	var outputs [move.MaxAxes]dda.Outputs
	for i := range outs {
		outs[i] = &fakeOutput{}
		outputs[i] = outs[i]
	}

	// Engine.New needs the scheduler and the scheduler needs the engine's
	// methods as its callbacks, so sched is built first against a closure
	// that forwards to whichever engine ends up assigned to it.
	var engine *dda.Engine
	sched := timer.New(cfg, backend, func() { engine.OnStep() }, func() { engine.OnTick() })
	engine = dda.New(sched, endstops, outputs)
	backend.Bind(sched)
	sched.Init()
	return engine, sched, backend, outs
}

func diagonalMove() move.Move {
	var mv move.Move
	mv.AxisMask = 0b11
	mv.DirectionMask = 0b01 // axis 0 forward, axis 1 backward: something observable
	mv.Delta[0] = 10
	mv.Delta[1] = 6
	mv.TotalSteps = 10
	mv.NominalRate = 2000
	mv.AccelRate = 100_000
	mv.DecelRate = 100_000
	mv.AccelUntilStep = 5
	mv.DecelFromStep = 5
	return mv
}

func TestRunMoveCompletesAndPulsesBothAxesByConservation(t *testing.T) {
	engine, _, backend, outs := newTestEngine(t, nil)
	mv := diagonalMove()
	profiler := profile.Trapezoidal{CPUFreq: 1_000_000}

	done := engine.RunMove(mv, profiler)
	backend.Advance(1 << 19)

	select {
	case result := <-done:
		if result.Err != nil {
			t.Fatalf("result.Err = %v, want nil", result.Err)
		}
		if result.StepsCompleted != mv.TotalSteps {
			t.Fatalf("StepsCompleted = %d, want %d", result.StepsCompleted, mv.TotalSteps)
		}
	default:
		t.Fatal("move did not complete within the advanced window")
	}

	if outs[0].pulses != int(mv.Delta[0]) {
		t.Errorf("axis 0 pulses = %d, want %d (dominant axis pulses every step)", outs[0].pulses, mv.Delta[0])
	}
	if outs[1].pulses != int(mv.Delta[1]) {
		t.Errorf("axis 1 pulses = %d, want %d (bresenham conservation)", outs[1].pulses, mv.Delta[1])
	}
	if !outs[0].dirSet || !outs[1].dirSet {
		t.Error("SetDirection was never called on a participating axis")
	}
	if engine.IsRunning() {
		t.Error("IsRunning() = true after the move completed")
	}
}

func TestRunMoveStopsOnEndstopTrigger(t *testing.T) {
	bit := move.EndstopBit(0, false)
	endstops := &fakeEndstops{triggerAtCall: 3, bit: bit}
	engine, _, backend, _ := newTestEngine(t, endstops)
	mv := diagonalMove()
	mv.EndstopMask = bit
	mv.EndstopStopOnChange = true
	profiler := profile.Trapezoidal{CPUFreq: 1_000_000}

	done := engine.RunMove(mv, profiler)
	backend.Advance(1 << 19)

	result := <-done
	if !errors.Is(result.Err, dda.ErrEndstopTriggered) {
		t.Fatalf("result.Err = %v, want ErrEndstopTriggered", result.Err)
	}
	if result.StepsCompleted != 3 {
		t.Fatalf("StepsCompleted = %d, want 3 (the call the endstop tripped on)", result.StepsCompleted)
	}
}

func TestRunMoveDwellCompletesImmediatelyWithNoPulses(t *testing.T) {
	engine, _, _, outs := newTestEngine(t, nil)
	var mv move.Move // TotalSteps == 0: a dwell
	profiler := profile.Trapezoidal{CPUFreq: 1_000_000}

	done := engine.RunMove(mv, profiler)
	result := <-done
	if result.Err != nil || result.StepsCompleted != 0 {
		t.Fatalf("dwell result = %+v, want StepsCompleted 0 and no error", result)
	}
	for i, o := range outs {
		if o.pulses != 0 {
			t.Errorf("axis %d pulses = %d, want 0 for a dwell", i, o.pulses)
		}
	}
}

func TestAbortTruncatesMoveBeforeAnyStep(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)
	mv := diagonalMove()
	profiler := profile.Trapezoidal{CPUFreq: 1_000_000}

	done := engine.RunMove(mv, profiler)
	engine.Abort()

	result := <-done
	if result.Err != nil {
		t.Fatalf("Abort result.Err = %v, want nil", result.Err)
	}
	if result.StepsCompleted != 0 {
		t.Fatalf("StepsCompleted = %d, want 0", result.StepsCompleted)
	}
	if engine.IsRunning() {
		t.Error("IsRunning() = true after Abort")
	}
}
