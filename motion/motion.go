// Package motion is the foreground orchestrator of spec.md section 3: it
// turns target positions and feedrates into move.Move values (deriving
// Bresenham deltas, the trapezoidal ramp's AccelUntilStep/DecelFromStep
// split, and NominalRate/AccelRate/DecelRate from axis kinematics),
// pushes them onto the queue package's ring, and pulls them off one at a
// time to drive the dda package's Engine. It plays the role
// platform_sh2.go's engraver.execute plays for the teacher: the
// single-flight loop translating a stream of high-level commands into
// activity on the step-scheduling hot path.
package motion

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"stepcore.dev/config"
	"stepcore.dev/dda"
	"stepcore.dev/move"
	"stepcore.dev/profile"
	"stepcore.dev/queue"
)

// ErrDriverFault wraps a stepper driver chip's fault report (spec.md's
// supplemented DIAG-pin/GSTAT stall generalization of
// EndstopTriggeredDuringNormalMove): the fault is surfaced as queue
// state the foreground can inspect, per spec.md section 7, not silently
// retried or auto-recovered.
var ErrDriverFault = errors.New("motion: stepper driver fault")

// DriverBank is the optional stepper-driver-chip fault source a
// Controller polls after every move; driverchip.Bank satisfies it.
type DriverBank interface {
	Fault() (name byte, err error, ok bool)
}

// CurrentMonitor is the optional current-sense chip a Controller polls
// between moves, never from the step ISR; i2cbus.CurrentMonitor
// satisfies it.
type CurrentMonitor interface {
	MeasureMilliamps() (int, error)
}

// Controller is the top-level entry point the console package's command
// handler and the homing package both drive.
type Controller struct {
	cfg        config.Config
	engine     *dda.Engine
	q          *queue.Queue
	mkProfiler func() profile.Profiler

	mu       sync.Mutex
	position move.Position
	idle     sync.Cond
	running  bool
	// stopGen increments on every EmergencyStop, letting WaitIdle
	// callers blocked before a stop wake up without requiring the queue
	// to actually drain first.
	stopGen uint64
	// lastErr holds the Err from the most recently completed move's
	// dda.Result (nil on ordinary completion), letting homing tell a
	// triggered endstop apart from a search that ran out of travel.
	lastErr error

	// drivers and currentMonitor are optional; a nil value disables the
	// corresponding check/poll entirely (the simulated backend wires
	// neither).
	drivers        DriverBank
	currentMonitor CurrentMonitor
	lastFault      error
	lastCurrentMA  int
}

// SetDrivers arms per-move stepper driver chip fault checking: after
// every move, drain checks bank.Fault() and, if any axis reports one,
// latches it as both LastFault and LastMoveError, surfacing it through
// the same queue-status path an endstop trip uses, per spec.md section
// 7. Passing nil disables the check.
func (c *Controller) SetDrivers(bank DriverBank) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers = bank
}

// SetCurrentMonitor arms current-sense polling between moves: after each
// move completes, drain reads one measurement from mon before popping
// the next queued move. It is never read from the step ISR. Passing nil
// disables polling.
func (c *Controller) SetCurrentMonitor(mon CurrentMonitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentMonitor = mon
}

// LastFault returns the most recently observed stepper driver chip
// fault, or nil if the last check (if any) found none.
func (c *Controller) LastFault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFault
}

// LastCurrentMilliamps returns the most recent current-sense reading, or
// 0 if no CurrentMonitor is configured or no reading has completed yet.
func (c *Controller) LastCurrentMilliamps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCurrentMA
}

// New creates a Controller. mkProfiler is called once per move for that
// move's profile.Profiler; both profilers keep their per-move state in
// profile.State, not in the Profiler value.
func New(cfg config.Config, engine *dda.Engine, q *queue.Queue, mkProfiler func() profile.Profiler) *Controller {
	c := &Controller{cfg: cfg, engine: engine, q: q, mkProfiler: mkProfiler}
	c.idle.L = &c.mu
	go c.drain()
	return c
}

// QueueLength reports the number of moves waiting to execute.
func (c *Controller) QueueLength() int { return c.q.Len() }

// IsIdle reports whether the queue is empty and no move is in flight.
func (c *Controller) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Len() == 0 && !c.running
}

// WaitIdle blocks until IsIdle would return true, or until an
// EmergencyStop occurs while waiting.
func (c *Controller) WaitIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.stopGen
	for (c.q.Len() != 0 || c.running) && c.stopGen == gen {
		c.idle.Wait()
	}
}

// LastMoveError returns the Err from the most recently completed move
// (dda.ErrEndstopTriggered for a homing move that tripped its switch,
// nil for an ordinary completion), so callers like homing.Sequence can
// tell a successful search apart from one that exhausted its travel.
func (c *Controller) LastMoveError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetCurrentPosition overrides the controller's notion of the current
// position without commanding any motion, used after a successful home.
func (c *Controller) SetCurrentPosition(pos move.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = pos
}

// Position returns the controller's current notion of machine position.
func (c *Controller) Position() move.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Enqueue builds a move.Move from target (absolute, in the axis' native
// units scaled by StepsPerMM into micrometers, matching move.Position's
// unit) and feedrate (mm/min), and appends it to the queue, blocking if
// full per spec.md section 3.
func (c *Controller) Enqueue(target move.Position, feedrateMMPerMin float64) error {
	c.mu.Lock()
	from := c.position
	c.position = target
	c.mu.Unlock()
	mv, err := c.buildMove(from, target, feedrateMMPerMin, 0, false, false)
	if err != nil {
		return err
	}
	c.q.Push(mv)
	return nil
}

// EnqueueHome appends a homing move: like Enqueue, but EndstopMask and
// EndstopStopOnChange are set so the dda engine truncates the move the
// instant the named endstops report triggered, per spec.md section 5's
// homing protocol. releaseStops selects which transition ends the move:
// false for a normal approach (ends on trigger), true for a back-off
// move that starts resting on an already-triggered switch (ends on
// release).
func (c *Controller) EnqueueHome(from, target move.Position, feedrateMMPerMin float64, endstops move.EndstopMask, releaseStops bool) error {
	mv, err := c.buildMove(from, target, feedrateMMPerMin, endstops, true, releaseStops)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.position = target
	c.mu.Unlock()
	c.q.Push(mv)
	return nil
}

func (c *Controller) buildMove(from, to move.Position, feedrateMMPerMin float64, endstops move.EndstopMask, stopOnChange, releaseStops bool) (move.Move, error) {
	var mv move.Move
	var maxDelta uint32
	var dominant int = -1
	for i, a := range c.cfg.Axes {
		d := to[i] - from[i]
		steps := int64(math.Round(float64(d) / 1e3 * a.StepsPerMM))
		if steps < 0 {
			steps = -steps
		} else if steps > 0 {
			mv.DirectionMask |= move.Axis(1 << uint(i))
		}
		if steps == 0 {
			continue
		}
		mv.Delta[i] = uint32(steps)
		mv.AxisMask |= move.Axis(1 << uint(i))
		if uint32(steps) > maxDelta {
			maxDelta = uint32(steps)
			dominant = i
		}
	}
	mv.TotalSteps = maxDelta
	mv.EndstopMask = endstops
	mv.EndstopStopOnChange = stopOnChange
	mv.EndstopReleaseStops = releaseStops
	if mv.TotalSteps == 0 {
		return mv, nil
	}
	if dominant < 0 {
		return mv, fmt.Errorf("motion: zero-length move with nonzero step count")
	}
	axis := c.cfg.Axes[dominant]
	nominalRate := feedrateMMPerMin / 60 * axis.StepsPerMM
	if nominalRate <= 0 || nominalRate > axis.MaxFeedrate/60*axis.StepsPerMM {
		nominalRate = axis.MaxFeedrate / 60 * axis.StepsPerMM
	}
	mv.NominalRate = uint32(nominalRate)
	accelStepsPerS2 := axis.Acceleration * axis.StepsPerMM
	mv.AccelRate = uint32(accelStepsPerS2)
	mv.DecelRate = uint32(accelStepsPerS2)

	c0 := profile.C0(c.cfg.CPUFreq, mv.AccelRate)
	cruise := c.cfg.CPUFreq / max(mv.NominalRate, 1)
	accelSteps := rampSteps(c0, cruise)
	decelSteps := accelSteps
	if accelSteps+decelSteps > mv.TotalSteps {
		// Triangular profile: no cruise phase, accel and decel split the
		// move evenly per spec.md section 4.2.
		accelSteps = mv.TotalSteps / 2
		decelSteps = mv.TotalSteps - accelSteps
	}
	mv.AccelUntilStep = accelSteps
	mv.DecelFromStep = mv.TotalSteps - decelSteps
	return mv, nil
}

// rampSteps estimates, once per move at enqueue time, how many steps a
// constant-acceleration ramp needs to go from c0 to cruise, by inverting
// the same recurrence profile.Trapezoidal applies on the hot path:
// c_n = c0 * n^-0.5 approximately, so n = (c0/cruise)^2.
func rampSteps(c0, cruise uint32) uint32 {
	if cruise == 0 || c0 <= cruise {
		return 0
	}
	ratio := float64(c0) / float64(cruise)
	return uint32(ratio * ratio)
}

// EmergencyStop aborts any in-flight move, drops every queued move, and
// wakes anyone blocked in WaitIdle, per spec.md section 4.5. The stop is
// terminal for motion: Abort stops the scheduler, so every move enqueued
// afterward ends at once with the scheduler's error until
// timer.Scheduler.Init is called again.
func (c *Controller) EmergencyStop() {
	c.engine.Abort()
	c.q.Reset()
	c.mu.Lock()
	c.stopGen++
	c.idle.Broadcast()
	c.mu.Unlock()
}

func (c *Controller) drain() {
	for {
		mv := c.q.Pop()

		c.mu.Lock()
		c.running = true
		c.mu.Unlock()

		done := c.engine.RunMove(mv, c.mkProfiler())
		result := <-done

		c.mu.Lock()
		c.running = false
		c.lastErr = result.Err
		drivers := c.drivers
		monitor := c.currentMonitor
		c.mu.Unlock()

		// Both checks run here, in the foreground drain loop between
		// moves, never from dda.Engine's step path: a UART or I2C
		// transaction takes far longer than a single step interval and
		// would blow the scheduler's timing budget if run from OnStep.
		c.checkFault(drivers)
		c.pollCurrent(monitor)

		c.mu.Lock()
		c.idle.Broadcast()
		c.mu.Unlock()
	}
}

// checkFault queries bank for a faulted axis and, if found, wraps it in
// ErrDriverFault and latches it as both LastFault and LastMoveError so a
// fault reported between moves (rather than mid-step, which the endstop
// path already handles) still aborts the queue's idea of a clean run.
func (c *Controller) checkFault(bank DriverBank) {
	if bank == nil {
		return
	}
	name, err, ok := bank.Fault()
	if !ok {
		return
	}
	fault := fmt.Errorf("%w: axis %c: %w", ErrDriverFault, name, err)
	c.mu.Lock()
	c.lastFault = fault
	c.lastErr = fault
	c.mu.Unlock()
}

// pollCurrent takes one reading from mon and latches it for
// LastCurrentMilliamps, discarding the reading (but not crashing the
// drain loop) on a transaction error; i2cbus.Transaction surfaces
// transient bus errors the same way a retried move would.
func (c *Controller) pollCurrent(mon CurrentMonitor) {
	if mon == nil {
		return
	}
	ma, err := mon.MeasureMilliamps()
	if err != nil {
		return
	}
	c.mu.Lock()
	c.lastCurrentMA = ma
	c.mu.Unlock()
}
