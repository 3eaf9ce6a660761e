//go:build tinygo && rp

package pin

import (
	"device/rp"
	"machine"

	"stepcore.dev/driver/pio"
	"stepcore.dev/move"
)

// stepPulseProgram is a one-instruction PIO program: on every FIFO push
// it drives its sideset pin high for the instruction's configured delay
// cycles, then returns low and stalls waiting for the next push. This is
// the same "let hardware hold the pulse width instead of the CPU"
// technique driver/mjolnir2 used to drive its engraving head's step
// pins, reduced here to a single axis' worth of sideset rather than a
// five-bit multi-axis word, since each MCUStepOutput owns one state
// machine.
var stepPulseProgram = []uint16{
	0b1100_0000_0001 << 0, // pull (consume one FIFO word; its value is ignored, only its arrival matters)
}

const stepPulseProgOffset = 0
const pulseHoldCycles = 7 // ~500ns at a 125MHz PIO clock, the step pulse width most TMC2209 boards need

// MCUStepOutput drives one axis' step line through a PIO state machine
// instead of toggling a machine.Pin directly from the step ISR: Pulse
// becomes a single FIFO push, and Settle is a no-op because the state
// machine itself returns the pin low once pulseHoldCycles elapse,
// freeing the step ISR from needing to schedule the trailing edge.
type MCUStepOutput struct {
	pioDev *rp.PIO0_Type
	sm     uint8
	dir    machine.Pin
	invertDir bool
}

// NewMCUStepOutput configures state machine sm on pioDev to sideset
// stepPin, leaving dir as a plain GPIO output.
func NewMCUStepOutput(pioDev *rp.PIO0_Type, sm uint8, stepPin machine.Pin, dir machine.Pin, invertDir bool) *MCUStepOutput {
	pio.ConfigurePins(pioDev, sm, stepPin, 1)
	pio.Pindirs(pioDev, sm, stepPin, 1, machine.PinOutput)
	conf := stepPulseProgramDefaultConfig(stepPulseProgOffset)
	conf.SidesetBase = uint8(stepPin)
	conf.Freq = machine.CPUFrequency()
	pio.Program(pioDev, stepPulseProgOffset, stepPulseProgram)
	pio.Configure(pioDev, sm, conf.Build())
	pio.Enable(pioDev, 1<<sm)
	dir.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &MCUStepOutput{pioDev: pioDev, sm: sm, dir: dir, invertDir: invertDir}
}

func (o *MCUStepOutput) Pulse() error {
	pio.Tx(o.pioDev, o.sm).Set(pulseHoldCycles)
	return nil
}

// Settle is a no-op: the PIO program lowers the pin itself.
func (o *MCUStepOutput) Settle() error { return nil }

func (o *MCUStepOutput) SetDirection(forward bool) error {
	level := forward != o.invertDir
	o.dir.Set(level)
	return nil
}

// stepPulseProgramDefaultConfig builds the StateMachineConfig for
// stepPulseProgram the way mjolnir2ProgramDefaultConfig does for its own
// program: the PIO clock runs 1:1 with the CPU clock (pulseHoldCycles is
// already expressed in raw PIO cycles, so no further division is wanted)
// and one sideset pin, wrapped to its own single instruction.
func stepPulseProgramDefaultConfig(offset uint8) pio.StateMachineConfig {
	c := pio.DefaultStateMachineConfig()
	c.SetWrap(offset, offset)
	c.SetSidesetParams(1, false, false)
	return c
}

// MCUEndstopBank samples a bank of machine.Pin endstop inputs each time
// Poll is called, the tinygo counterpart of EndstopBank's periph.io
// WaitForEdge loop. Unlike EndstopBank it does not debounce: each Poll
// publishes the raw level of every pin, with no settle time.
type MCUEndstopBank struct {
	pins []mcuEndstopPin
	mask atomicMask
}

type mcuEndstopPin struct {
	in           machine.Pin
	bit          move.EndstopMask
	triggeredLow bool
}

// NewMCUEndstopBank starts with no pins configured; call Add for each.
func NewMCUEndstopBank() *MCUEndstopBank {
	return &MCUEndstopBank{}
}

func (b *MCUEndstopBank) Add(in machine.Pin, bit move.EndstopMask, triggeredLow bool) {
	in.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	b.pins = append(b.pins, mcuEndstopPin{in: in, bit: bit, triggeredLow: triggeredLow})
}

// Poll samples every configured pin once; call this from a low-priority
// periodic interrupt or the foreground loop, not from the step ISR.
func (b *MCUEndstopBank) Poll() {
	for _, p := range b.pins {
		triggered := p.in.Get() == p.triggeredLow
		b.mask.set(p.bit, triggered)
	}
}

func (b *MCUEndstopBank) Mask() move.EndstopMask {
	return b.mask.load()
}
