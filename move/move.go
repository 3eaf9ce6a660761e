// Package move holds the data model shared between the queue, the DDA
// engine, the velocity profiler, and the motion controller: positions and
// prepared moves. A Move is immutable once it has been enqueued; the only
// mutable per-move state lives in the dda package, which owns it
// exclusively while the move is live.
package move

// Axis identifies one axis of motion. The firmware supports up to eight
// axes; bit position doubles as the endstop mask bit for the axis' minimum
// switch (bit 2*i) and maximum switch (bit 2*i+1), per the encoding in
// spec.md section 6.
type Axis uint8

const MaxAxes = 8

// Position is a signed vector in micrometers, the canonical unit for all
// geometry in the core.
type Position [MaxAxes]int64

// EndstopMask selects endstop inputs. Bit 2*i is axis i's minimum switch,
// bit 2*i+1 its maximum switch.
type EndstopMask uint16

func EndstopBit(axis Axis, max bool) EndstopMask {
	bit := uint(axis) * 2
	if max {
		bit++
	}
	return 1 << bit
}

// Move is an immutable, fully-prepared move descriptor. It is produced by
// the foreground (Controller.Enqueue / EnqueueHome) and consumed
// step-by-step by the DDA engine; none of its fields change after it is
// pushed onto the queue.
type Move struct {
	// Delta is the unsigned step count along each axis.
	Delta [MaxAxes]uint32
	// DirectionMask has one bit set per axis that moves in its positive
	// (forward) direction.
	DirectionMask Axis
	// AxisMask marks which axes participate in this move at all (a delta
	// of zero on a participating axis is still valid, e.g. a pure-E
	// extrusion alongside an unmoving X/Y).
	AxisMask Axis
	// TotalSteps is max(Delta[*]), the DDA master step count. Zero marks
	// a dwell: no axis steps, the move merely consumes time.
	TotalSteps uint32

	// NominalRate is the requested feedrate of the master axis, in
	// steps per second.
	NominalRate uint32
	// AccelRate, DecelRate are steps/s^2 applied to the master axis.
	AccelRate, DecelRate uint32
	// AccelUntilStep, DecelFromStep are the precomputed phase
	// boundaries over TotalSteps: [0,AccelUntilStep) accelerates,
	// [AccelUntilStep,DecelFromStep) cruises, [DecelFromStep,TotalSteps)
	// decelerates.
	AccelUntilStep, DecelFromStep uint32

	// EndstopMask selects which endstops the DDA samples on every step
	// of this move.
	EndstopMask EndstopMask
	// EndstopStopOnChange, when set, means the watched endstop(s) end
	// the move on a transition from open to triggered (homing approach)
	// or the reverse (homing back-off), rather than being ignored as
	// they are on a normal move.
	EndstopStopOnChange bool
	// EndstopReleaseStops selects which transition EndstopStopOnChange
	// watches for: false (the default, homing approach) ends the move
	// the instant the masked endstop reads triggered; true (homing
	// back-off) ends the move the instant it reads released again,
	// since a back-off move starts already resting on a triggered
	// switch.
	EndstopReleaseStops bool
}

// Dwell reports whether the move carries no steps at all, only time.
func (m *Move) Dwell() bool {
	return m.TotalSteps == 0
}
