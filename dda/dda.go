// Package dda is the per-step engine of spec.md section 4: it drives one
// move.Move to completion by combining a bresenham.Accumulator (which
// axes pulse this step), a profile.Profiler (how long until the next
// step), a timer.Scheduler (when the hardware actually fires), and a
// pin.EndstopBank (whether to truncate the move early). It plays the
// role of stepper.Driver's fillBuffer in the teacher: the inner loop that
// turns one queued unit of work into a sequence of hardware events, only
// here each "event" is a scheduled compare instead of a PIO FIFO word.
package dda

import (
	"errors"
	"sync"
	"sync/atomic"

	"stepcore.dev/bresenham"
	"stepcore.dev/move"
	"stepcore.dev/profile"
	"stepcore.dev/timer"
)

// ErrEndstopTriggered is returned by Engine's completion channel value
// when a move ends early because an armed endstop tripped mid-move
// (spec.md's EndstopTriggeredDuringNormalMove edge case), distinguishing
// it from ordinary completion.
var ErrEndstopTriggered = errors.New("dda: endstop triggered during move")

// Outputs is the hardware surface one axis needs to step: a pulse output
// (Pulse, then Settle back to rest) and a direction output.
type Outputs interface {
	Pulse() error
	Settle() error
	SetDirection(forward bool) error
}

// Endstops is the debounced limit-switch surface a move can watch, shared
// by pin.EndstopBank's periph.io-backed implementation and pin's TinyGo
// MCUEndstopBank, so the engine itself stays hardware-backend agnostic.
type Endstops interface {
	Mask() move.EndstopMask
}

// Result is delivered on Engine's Done channel when a move finishes,
// whether to completion or by early truncation.
type Result struct {
	Move           move.Move
	StepsCompleted uint32
	Err            error // ErrEndstopTriggered, or nil on normal completion
}

// Engine drives a single axis bank through one move at a time. It is not
// safe for concurrent RunMove calls; the motion package serializes them.
type Engine struct {
	sched    *timer.Scheduler
	endstops Endstops
	outputs  [move.MaxAxes]Outputs

	mu       sync.Mutex
	acc      bresenham.Accumulator
	state    profile.State
	mv       move.Move
	stepNo   uint32
	profiler profile.Profiler
	running  atomic.Bool
	done     chan Result
}

// New creates an Engine. outputs must have one entry per configured
// axis, indexed the same way move.Move's per-axis fields are.
func New(sched *timer.Scheduler, endstops Endstops, outputs [move.MaxAxes]Outputs) *Engine {
	return &Engine{sched: sched, endstops: endstops, outputs: outputs}
}

// RunMove starts executing mv using profiler for velocity shaping,
// returning a channel that receives exactly one Result when the move
// ends. Only one move may be in flight at a time.
func (e *Engine) RunMove(mv move.Move, profiler profile.Profiler) <-chan Result {
	e.mu.Lock()
	e.mv = mv
	e.stepNo = 0
	var delta [move.MaxAxes]uint32
	naxes := 0
	for i := 0; i < move.MaxAxes; i++ {
		if mv.AxisMask&(1<<uint(i)) != 0 {
			delta[i] = mv.Delta[i]
			naxes = i + 1
		}
	}
	e.acc.Reset(mv.TotalSteps, delta[:naxes])
	profiler.Init(&mv, &e.state)
	e.profiler = profiler
	e.running.Store(true)
	e.done = make(chan Result, 1)
	done := e.done
	e.mu.Unlock()

	for i := 0; i < naxes; i++ {
		if mv.AxisMask&(1<<uint(i)) == 0 {
			continue
		}
		forward := mv.DirectionMask&(1<<uint(i)) != 0
		e.outputs[i].SetDirection(forward)
	}

	if mv.Dwell() {
		e.finish(Result{Move: mv, StepsCompleted: 0})
		return done
	}

	e.scheduleFirst()
	return done
}

func (e *Engine) scheduleFirst() {
	e.mu.Lock()
	interval := e.state.Interval
	mv := e.mv
	e.mu.Unlock()
	// First interval has no prior anchor to measure jitter against; the
	// scheduler's Init call already seeded one at Init time.
	if err := e.sched.ScheduleStepIn(interval, false); err != nil {
		e.finish(Result{Move: mv, Err: err})
	}
}

// OnStep must be wired as the timer.Scheduler's onStep callback. It
// emits steps, checks endstops, advances the profiler, and reschedules,
// looping in place (rather than recursing) whenever the scheduler
// reports TooShort so a run of back-to-back overdue steps near the
// bottom of a steep deceleration can't grow the call stack, all without
// blocking: this runs from whatever context the backend fires
// step-compare events from, which on the MCU backend is a real ISR.
func (e *Engine) OnStep() {
	for e.running.Load() {
		if !e.stepOnce() {
			return
		}
	}
}

// stepOnce emits one step and reschedules. It returns true if the
// scheduler reported TooShort and another step must be emitted
// immediately, false once the move finished, faulted, or the next step
// was scheduled normally.
func (e *Engine) stepOnce() bool {
	e.mu.Lock()
	mask := e.acc.Step()
	mv := e.mv
	stepNo := e.stepNo
	e.stepNo++
	e.mu.Unlock()

	for i := 0; i < move.MaxAxes; i++ {
		if mask&(1<<uint(i)) != 0 {
			e.outputs[i].Pulse()
		}
	}
	for i := 0; i < move.MaxAxes; i++ {
		if mask&(1<<uint(i)) != 0 {
			e.outputs[i].Settle()
		}
	}

	if mv.EndstopMask != 0 && e.endstops != nil {
		triggered := e.endstops.Mask()&mv.EndstopMask != 0
		stop := triggered
		if mv.EndstopReleaseStops {
			stop = !triggered
		}
		if stop {
			e.finish(Result{Move: mv, StepsCompleted: stepNo + 1, Err: ErrEndstopTriggered})
			return false
		}
	}

	e.mu.Lock()
	profiler := e.profiler
	interval, endOfMove := profiler.Next(&mv, stepNo, &e.state)
	e.mu.Unlock()

	if endOfMove {
		e.finish(Result{Move: mv, StepsCompleted: stepNo + 1})
		return false
	}

	err := e.sched.ScheduleStepIn(interval, true)
	if err == nil {
		return false
	}
	if errors.Is(err, timer.ErrTooShort) {
		if tp, ok := profiler.(interface {
			CreditShortfall(*profile.State, uint32)
		}); ok {
			e.mu.Lock()
			tp.CreditShortfall(&e.state, interval)
			e.mu.Unlock()
		}
		return true
	}
	e.finish(Result{Move: mv, StepsCompleted: stepNo + 1, Err: err})
	return false
}

// OnTick must be wired as the timer.Scheduler's onTick callback; it
// advances the Temporal profiler's jerk ramp once per system tick, a
// no-op for Trapezoidal moves.
func (e *Engine) OnTick() {
	if !e.running.Load() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profiler == nil {
		return
	}
	if t, ok := e.profiler.(interface {
		Tick(*move.Move, *profile.State)
	}); ok {
		t.Tick(&e.mv, &e.state)
	}
}

// Abort truncates the in-flight move immediately, for spec.md section
// 4.5's emergency stop: the scheduler is disarmed first so no further
// step compare can fire, then Done fires with StepsCompleted frozen at
// whatever was last reached.
func (e *Engine) Abort() {
	e.sched.Stop()
	e.mu.Lock()
	mv := e.mv
	stepNo := e.stepNo
	e.mu.Unlock()
	e.finish(Result{Move: mv, StepsCompleted: stepNo})
}

func (e *Engine) finish(r Result) {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		done <- r
	}
}

// IsRunning reports whether a move is currently in flight.
func (e *Engine) IsRunning() bool { return e.running.Load() }
