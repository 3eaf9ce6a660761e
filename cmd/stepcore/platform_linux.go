//go:build linux && arm

package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3/bcm283x"

	"stepcore.dev/config"
	"stepcore.dev/dda"
	"stepcore.dev/driverchip"
	"stepcore.dev/i2cbus"
	"stepcore.dev/move"
	"stepcore.dev/motion"
	"stepcore.dev/pin"
	"stepcore.dev/timer"
)

// stepperUARTDevice is the Pi's onboard UART, wired to the shared TMC2209
// one-wire bus the same way console.Open's tarm/serial candidates talk
// to a USB-serial adapter: a single half-duplex line both transmits and
// receives, so the baud rate must match the driver chips' fixed 57600.
const stepperUARTDevice = "/dev/ttyAMA0"
const stepperUARTBaud = 57600

// axisWiring names the BCM2835 GPIOs each configured axis index is wired
// to, the same bcm283x.GPIOnn constants driver/wshat.Open addresses its
// buttons by. A four-axis limit covers the Cartesian-plus-extruder
// machines this backend targets; machines with more axes need a longer
// table here.
var axisWiring = [...]struct {
	step, dir, minSwitch, maxSwitch gpio.PinIO
	invertDir                       bool
}{
	{step: bcm283x.GPIO17, dir: bcm283x.GPIO27, minSwitch: bcm283x.GPIO22},
	{step: bcm283x.GPIO23, dir: bcm283x.GPIO24, minSwitch: bcm283x.GPIO25},
	{step: bcm283x.GPIO5, dir: bcm283x.GPIO6, maxSwitch: bcm283x.GPIO12, invertDir: true},
	{step: bcm283x.GPIO13, dir: bcm283x.GPIO19},
}

// platform is the Raspberry Pi backend: real periph.io GPIOs for
// step/dir/endstops, a host timer.Scheduler driven off a free-running
// software counter (the BCM2835 lacks the RP2040's alarm-pair hardware,
// so this backend paces the same way platform's dummy simulation does,
// just with genuine I/O on the other end of every pulse).
type platform struct {
	cfg            config.Config
	backend        *timer.SimBackend
	sched          *timer.Scheduler
	endstops       *pin.EndstopBank
	outputs        []*pin.StepOutput
	drivers        *driverchip.Bank
	currentMonitor *i2cbus.CurrentMonitor
}

func newPlatform(cfg config.Config) (*platform, error) {
	if len(cfg.Axes) > len(axisWiring) {
		return nil, fmt.Errorf("platform: %d axes configured, only %d wired", len(cfg.Axes), len(axisWiring))
	}

	endstops, err := pin.NewEndstopBank(nil)
	if err != nil {
		return nil, fmt.Errorf("platform: endstops: %w", err)
	}

	bus, err := serial.OpenPort(&serial.Config{Name: stepperUARTDevice, Baud: stepperUARTBaud})
	if err != nil {
		return nil, fmt.Errorf("platform: stepper uart: %w", err)
	}

	p := &platform{
		cfg:      cfg,
		backend:  timer.NewSimBackend(cfg.CounterRange),
		endstops: endstops,
		drivers:  driverchip.New(bus, cfg.Axes),
	}

	if mc := cfg.CurrentMonitor; mc != nil {
		i2cBus, err := i2creg.Open("")
		if err != nil {
			return nil, fmt.Errorf("platform: current monitor: i2c: %w", err)
		}
		p.currentMonitor = i2cbus.NewCurrentMonitor(i2cBus, mc.Addr, mc.CurrentReg, mc.LSBMilliamps)
	}

	for i, a := range cfg.Axes {
		w := axisWiring[i]
		p.outputs = append(p.outputs, pin.NewStepOutput(w.step, w.dir, false, w.invertDir))
		if w.minSwitch != nil {
			if err := endstops.Add(w.minSwitch, move.EndstopBit(move.Axis(i), false), true); err != nil {
				return nil, fmt.Errorf("platform: axis %c: min endstop: %w", a.Name, err)
			}
		}
		if w.maxSwitch != nil {
			if err := endstops.Add(w.maxSwitch, move.EndstopBit(move.Axis(i), true), true); err != nil {
				return nil, fmt.Errorf("platform: axis %c: max endstop: %w", a.Name, err)
			}
		}
	}
	return p, nil
}

func (p *platform) BindEngine(engine *dda.Engine) {
	tcfg := timer.Config{
		CounterRange:  p.cfg.CounterRange,
		TickTime:      p.cfg.TickTime,
		SafeISRCycles: p.cfg.SafeISRCycles,
		CounterGuard:  p.cfg.CounterGuard,
	}
	p.sched = timer.New(tcfg, p.backend, engine.OnStep, engine.OnTick)
	p.backend.Bind(p.sched)
	go p.pace()
}

// pace drives the counter off the host's own clock: the BCM2835 has no
// hardware compare-pair like the RP2040's timer alarms, so this backend
// fakes one in software, the same tradeoff LinuxCNC's software step
// generation makes on non-realtime kernels. Jitter at this granularity is
// unsuitable for high step rates, noted in DESIGN.md.
func (p *platform) pace() {
	// Pin this goroutine to its own OS thread and ask the scheduler for
	// niceness -20 (granted only with root or CAP_SYS_NICE; a refusal is
	// printed and pacing goes on at normal priority), the same direct
	// unix.* syscall style platform_rpi.go uses for its own timing-
	// sensitive setup; it narrows the jitter window but cannot close it,
	// since this is still a regular SCHED_OTHER thread.
	runtime.LockOSThread()
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -20); err != nil {
		fmt.Println("platform: setpriority:", err)
	}

	const quantum = 200 * time.Microsecond
	ticksPerQuantum := uint32(float64(p.cfg.CPUFreq) * quantum.Seconds())
	if ticksPerQuantum == 0 {
		ticksPerQuantum = 1
	}
	t := time.NewTicker(quantum)
	defer t.Stop()
	for range t.C {
		p.backend.Advance(ticksPerQuantum)
	}
}

func (p *platform) Scheduler() *timer.Scheduler  { return p.sched }
func (p *platform) Endstops() dda.Endstops       { return p.endstops }
func (p *platform) StepOutput(i int) dda.Outputs { return p.outputs[i] }
func (p *platform) Drivers() *driverchip.Bank    { return p.drivers }

// CurrentMonitor returns the configured I2C current-sense chip, or nil
// if config.Config.CurrentMonitor was unset.
func (p *platform) CurrentMonitor() motion.CurrentMonitor {
	if p.currentMonitor == nil {
		return nil
	}
	return p.currentMonitor
}
