// Package pin implements the GPIO abstractions of spec.md section 5:
// step/direction outputs and debounced endstop inputs. The
// debounce loop is adapted from driver/wshat's button driver (a
// WaitForEdge-then-settle loop against periph.io/x/conn/v3/gpio), here
// driving a bitmask of endstops instead of a gui.ButtonEvent channel.
package pin

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"

	"stepcore.dev/move"
)

// StepOutput is a single axis' step/direction pin pair, per
// spec.md section 5's pulse-timing requirements: Step must be pulsed
// high for at least the configured pulse width, and Dir must be settled
// DIR_SETUP_TICKS before the following Step edge.
type StepOutput struct {
	Step      gpio.PinOut
	Dir       gpio.PinOut
	Invert    bool
	invertDir bool
}

// NewStepOutput wires step and dir as an axis' outputs. invert flips the
// pulse's active level (for opto-isolated step inputs); invertDir flips
// the sense of SetDirection's forward argument (for axes wired backwards
// relative to their configured positive direction).
func NewStepOutput(step, dir gpio.PinOut, invert, invertDir bool) *StepOutput {
	return &StepOutput{Step: step, Dir: dir, Invert: invert, invertDir: invertDir}
}

// Pulse drives Step to its active level (high, or low when Invert is
// set) and leaves it there; Settle ends the pulse. The caller (the dda
// package) is responsible for timing the hold with the scheduler, since on
// microcontroller backends this runs from an ISR where time.Sleep is not
// available.
func (o *StepOutput) Pulse() error {
	level := gpio.High
	if o.Invert {
		level = gpio.Low
	}
	if err := o.Step.Out(level); err != nil {
		return err
	}
	return nil
}

// Settle drives Step back to its resting level, completing a pulse begun
// by Pulse.
func (o *StepOutput) Settle() error {
	level := gpio.Low
	if o.Invert {
		level = gpio.High
	}
	return o.Step.Out(level)
}

// SetDirection drives Dir according to forward, honoring per-axis wiring
// inversion the way config.DriverChipConfig.Invert (TMC2209 Invert flag) does for
// the driver chip's internal step direction.
func (o *StepOutput) SetDirection(forward bool) error {
	level := gpio.High
	if forward == o.invertDir {
		level = gpio.Low
	}
	return o.Dir.Out(level)
}

// EndstopBank debounces a set of endstop inputs into a move.EndstopMask,
// grounded on driver/wshat.Open's per-pin goroutine-and-channel pattern:
// each pin gets its own settle loop, and a triggered (post-debounce)
// transition publishes the updated mask instead of a button event.
type EndstopBank struct {
	pins  []endstopPin
	mask  atomicMask
	notify chan<- move.EndstopMask
}

type endstopPin struct {
	in   gpio.PinIn
	bit  move.EndstopMask
	triggeredLow bool
}

// NewEndstopBank initializes periph.io's host drivers and returns an empty
// bank; Add configures each pin and starts its debounce goroutine.
// notify, if non-nil, receives the full
// mask every time any bit changes; callers that only need to poll can
// pass nil and call Mask instead.
func NewEndstopBank(notify chan<- move.EndstopMask) (*EndstopBank, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pin: %w", err)
	}
	return &EndstopBank{notify: notify}, nil
}

// Add registers one endstop input on in, reporting through bit in the
// published mask. triggeredLow selects the chip's active level: most
// mechanical and optical endstops pull low when triggered, matching the
// pull-up default here.
func (b *EndstopBank) Add(in gpio.PinIn, bit move.EndstopMask, triggeredLow bool) error {
	if err := in.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("pin: configure endstop: %w", err)
	}
	ep := endstopPin{in: in, bit: bit, triggeredLow: triggeredLow}
	b.pins = append(b.pins, ep)
	go b.debounce(ep)
	return nil
}

const debounceSettle = 2 * time.Millisecond

func (b *EndstopBank) debounce(ep endstopPin) {
	triggered := false
	pending := false
	for {
		timeout := debounceSettle
		if pending == triggered {
			timeout = -1
		}
		if ep.in.WaitForEdge(timeout) {
			level := ep.in.Read()
			pending = (level == gpio.Low) == ep.triggeredLow
		} else if pending != triggered {
			triggered = pending
			b.mask.set(ep.bit, triggered)
			if b.notify != nil {
				b.notify <- b.mask.load()
			}
		}
	}
}

// Mask returns the current debounced endstop state, safe for concurrent
// calls from the dda package's step ISR path.
func (b *EndstopBank) Mask() move.EndstopMask {
	return b.mask.load()
}
