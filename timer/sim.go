package timer

import "sync"

// SimBackend is a host-side free-running counter modeled on the teacher's
// driver/mjolnir simulator: advancing it is an explicit call
// (Advance), not a real clock, so tests can drive the scheduler through
// exact sequences of events, including the large-delay wraparound case
// spec.md section 8 calls out by name.
type SimBackend struct {
	mu sync.Mutex

	now      uint32
	wrap     uint32
	stepAt   uint32
	stepArmed bool
	tickAt   uint32
	tickArmed bool

	sched *Scheduler
}

// NewSimBackend creates a counter that wraps at wrap (exclusive).
func NewSimBackend(wrap uint32) *SimBackend {
	return &SimBackend{wrap: wrap}
}

// Bind attaches the Scheduler this backend fires events into. Must be
// called before Advance.
func (b *SimBackend) Bind(s *Scheduler) { b.sched = s }

func (b *SimBackend) Now() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

func (b *SimBackend) ArmStep(at uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stepAt = at
	b.stepArmed = true
}

func (b *SimBackend) ArmTick(at uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickAt = at
	b.tickArmed = true
}

func (b *SimBackend) DisarmStep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stepArmed = false
}

func (b *SimBackend) DisarmTick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickArmed = false
}

// Advance moves the counter forward by ticks, firing StepFired/TickFired
// (in counter order) for every compare crossed along the way, including
// wraps. It mirrors how the real RP2040 alarm hardware behaves: a
// compare that falls strictly between the counter's old and new value
// fires exactly once.
func (b *SimBackend) Advance(ticks uint32) {
	for remaining := ticks; remaining > 0; {
		b.mu.Lock()
		start := b.now
		toWrap := b.wrap - start
		step := remaining
		fireStep, fireTick := false, false
		if b.stepArmed {
			if d := distance(start, b.stepAt, b.wrap); d < step {
				step = d
				fireStep, fireTick = true, false
			} else if d == step {
				fireStep = true
			}
		}
		if b.tickArmed {
			if d := distance(start, b.tickAt, b.wrap); d < step {
				step = d
				fireStep, fireTick = false, true
			} else if d == step {
				fireTick = true
			}
		}
		if step > toWrap {
			step = toWrap
			fireStep, fireTick = false, false
		}
		b.now = (start + step) % b.wrap
		remaining -= step
		// A fired compare disarms itself; StepFired/TickFired re-arm it.
		if fireStep {
			b.stepArmed = false
		}
		if fireTick {
			b.tickArmed = false
		}
		b.mu.Unlock()

		if fireStep {
			b.sched.StepFired()
		}
		if fireTick {
			b.sched.TickFired()
		}
	}
}

// distance returns how many counter ticks from now until the counter
// reaches to, given it just left from. A compare equal to the counter's
// current value doesn't fire again until the counter laps all the way
// around, matching real compare hardware: the match is checked on each
// increment, so writing a compare at the present count can only be seen
// again a full wrap later.
func distance(from, to, wrap uint32) uint32 {
	if to > from {
		return to - from
	}
	return wrap - from + to
}
