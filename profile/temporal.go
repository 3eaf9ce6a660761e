package profile

import "stepcore.dev/move"

// Temporal implements the jerk-limited mode of spec.md section 4.2: the
// target inter-step time is adjusted by a small fixed step once per
// system tick rather than once per step, so axes that don't share a
// dominant step cadence still ramp smoothly together.
//
// Resolution of the open question in spec.md section 9 ("the temporal
// mode's numeric update step is not shown"): JerkTicks is the number of
// CPU ticks the current interval moves toward its phase's target interval
// on each system tick, derived by cmd/stepcore from the largest configured
// axis Jerk (mm/s) the same way C0 derives an initial interval from an
// acceleration. The target itself is recomputed on every Tick from the
// move's precomputed DecelFromStep boundary (a field Trapezoidal also
// uses) and the current step count:
// cruise and accel both ramp toward the cruise interval, decel ramps
// toward the slow interval the move would have started cold from.
// ExtraTime is the unpaid delay the scheduler's TooShort path hands back
// (spec.md section 4.1): whenever a requested interval is already due by
// the time the step ISR asks for it, the shortfall is added to ExtraTime
// instead of being discarded, and every subsequent Next() call drains as
// much of it as the current interval can absorb before the remainder
// carries forward again.
type Temporal struct {
	CPUFreq uint32
	// JerkTicks is the per-tick adjustment toward the current phase's
	// target interval.
	JerkTicks uint32
}

var _ Profiler = (*Temporal)(nil)

// targetFor returns the interval the profiler ramps toward once step
// stepNo has been emitted: the cruise rate during accel and cruise, the
// move's cold-start interval during decel (so the last step before
// completion is as slow as the first).
func (t *Temporal) targetFor(mv *move.Move, stepNo uint32) uint32 {
	if stepNo < mv.DecelFromStep {
		return cruiseInterval(t.CPUFreq, mv.NominalRate)
	}
	return C0(t.CPUFreq, mv.DecelRate)
}

func (t *Temporal) Init(mv *move.Move, state *State) {
	start := C0(t.CPUFreq, mv.AccelRate)
	if mv.AccelUntilStep == 0 {
		// No ramp at all (already-cruising or dwell-length move): start
		// at the cruise rate instead of the would-be accel C0.
		start = cruiseInterval(t.CPUFreq, mv.NominalRate)
	}
	*state = State{Phase: PhaseAccel, Interval: start}
}

// Tick runs the profiler's time-sliced acceleration bookkeeping; it is
// called from the system-tick handler, never from the step ISR, per
// spec.md section 4.1's description of the tick compare's lower-priority
// role.
func (t *Temporal) Tick(mv *move.Move, state *State) {
	target := t.targetFor(mv, state.Step)
	switch {
	case state.Interval < target:
		state.Interval = min(state.Interval+t.JerkTicks, target)
	case state.Interval > target:
		state.Interval = max(state.Interval-t.JerkTicks, target)
	}
}

func (t *Temporal) Next(mv *move.Move, stepNo uint32, state *State) (uint32, bool) {
	next := stepNo + 1
	state.Step = next
	interval := state.Interval
	if state.ExtraTime > 0 {
		drain := min(state.ExtraTime, interval)
		interval -= drain
		state.ExtraTime -= drain
	}
	return interval, next >= mv.TotalSteps
}

// CreditShortfall records a TooShort outcome from the scheduler: the
// caller emitted the step immediately because the requested delay was
// already due, and ticks is the amount by which it was overdue. The debt
// is drained by subsequent Next() calls.
func (t *Temporal) CreditShortfall(state *State, ticks uint32) {
	state.ExtraTime += ticks
}
