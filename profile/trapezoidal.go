package profile

import (
	"math"

	"stepcore.dev/move"
)

// Trapezoidal implements the step-count-gated ramp of spec.md section 4.2:
// three phases over [0,TotalSteps), using the integer form of a
// Taylor-approximated constant-acceleration step recurrence
//
//	c_{n+1} = c_n - 2*c_n/(4*n+1)
//
// instead of recomputing sqrt each step. c_0 is derived once per move (in
// Init, not on the hot path) from the move's AccelRate.
type Trapezoidal struct {
	CPUFreq uint32
}

var _ Profiler = Trapezoidal{}

// C0 derives the first inter-step interval of a ramp from cpuFreq and an
// acceleration in steps/s^2, using the one-time sqrt the original Austin
// algorithm requires. Called by the motion package when preparing a move,
// never from the step path.
func C0(cpuFreq, accelStepsPerS2 uint32) uint32 {
	if accelStepsPerS2 == 0 {
		return math.MaxUint32
	}
	c0 := float64(cpuFreq) * math.Sqrt(2/float64(accelStepsPerS2))
	if c0 > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(c0)
}

func cruiseInterval(cpuFreq, nominalRate uint32) uint32 {
	if nominalRate == 0 {
		return math.MaxUint32
	}
	return cpuFreq / nominalRate
}

func (t Trapezoidal) Init(mv *move.Move, state *State) {
	*state = State{}
	switch {
	case mv.AccelUntilStep > 0:
		state.Phase = PhaseAccel
		state.N = 1
		state.Interval = C0(t.CPUFreq, mv.AccelRate)
	case mv.DecelFromStep < mv.TotalSteps:
		state.Phase = PhaseDecel
		state.N = mv.TotalSteps - mv.DecelFromStep
		state.Interval = C0(t.CPUFreq, mv.DecelRate)
	default:
		state.Phase = PhaseCruise
		state.Interval = cruiseInterval(t.CPUFreq, mv.NominalRate)
	}
}

func (t Trapezoidal) Next(mv *move.Move, stepNo uint32, state *State) (uint32, bool) {
	next := stepNo + 1
	switch {
	case next < mv.AccelUntilStep:
		if state.Phase != PhaseAccel {
			state.Phase = PhaseAccel
			state.N = 1
		}
		state.Interval -= (2 * state.Interval) / (4*state.N + 1)
		state.N++
	case next < mv.DecelFromStep:
		if state.Phase != PhaseCruise {
			state.Phase = PhaseCruise
			state.Interval = cruiseInterval(t.CPUFreq, mv.NominalRate)
		}
	default:
		remaining := mv.TotalSteps - next
		if state.Phase != PhaseDecel {
			state.Phase = PhaseDecel
			state.N = remaining + 1
		}
		if state.N > 1 {
			state.Interval += (2 * state.Interval) / (4*state.N - 3)
			state.N--
		}
	}
	return state.Interval, next >= mv.TotalSteps
}
