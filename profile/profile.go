// Package profile implements the velocity profiler of spec.md section
// 4.2: a pure function of DDA state that returns the next inter-step
// interval, in CPU ticks, on the hot path. Next does no floating-point
// arithmetic in either mode. C0's float64 math (deriving c0 from an
// acceleration in steps/s^2) runs in Init, when dda.Engine starts a move,
// and in Temporal's Tick during deceleration, where targetFor calls C0
// on every system tick.
package profile

import "stepcore.dev/move"

// Phase is the ramp phase of a trapezoidal move, gated on step number.
type Phase uint8

const (
	PhaseAccel Phase = iota
	PhaseCruise
	PhaseDecel
)

// State is the profiler's mutable per-move scratch, embedded in the DDA
// engine's runtime state (spec.md's "velocity_state"). It is reset once
// per move and advanced once per step (and, in Temporal mode, once per
// system tick as well).
type State struct {
	Phase Phase
	// N is the recurrence step index: counts up during acceleration,
	// down during deceleration.
	N uint32
	// Interval is c_n, the current inter-step interval in CPU ticks.
	Interval uint32
	// ExtraTime is unpaid delay carried forward by the temporal mode's
	// TooShort path (spec.md section 9's open question, resolved in
	// temporal.go).
	ExtraTime uint32
	// Step is the number of steps completed so far, maintained by
	// Next and read back by the temporal mode's Tick to decide which
	// phase's target interval currently applies.
	Step uint32
}

// Profiler is the common interface both velocity modes implement.
type Profiler interface {
	// Init seeds state for the start of mv, deriving c0 from mv's
	// precomputed AccelRate/NominalRate fields (set by the motion
	// package at enqueue time).
	Init(mv *move.Move, state *State)
	// Next advances state by one step and returns the number of CPU
	// ticks until the following step, plus whether stepNo (the step
	// number just emitted, 0-based) completes the move.
	Next(mv *move.Move, stepNo uint32, state *State) (ticks uint32, endOfMove bool)
}
