//go:build tinygo && rp

package main

import (
	"device/rp"
	"fmt"
	"machine"
	"time"

	"stepcore.dev/config"
	"stepcore.dev/dda"
	"stepcore.dev/driver/tmc2209"
	"stepcore.dev/driverchip"
	"stepcore.dev/i2cbus"
	"stepcore.dev/move"
	"stepcore.dev/motion"
	"stepcore.dev/pin"
	"stepcore.dev/timer"
)

// currentMonitorI2C is the data I2C bus the optional current-sense chip
// is wired to, mirroring platform_sh2.go's dataI2C/DATA_SDA/DATA_SCL
// assignment for its USB PD and NFC peripherals.
var currentMonitorI2C = machine.I2C0

const (
	currentMonitorSDA = machine.GPIO16
	currentMonitorSCL = machine.GPIO17
)

// axisWiring names the RP2040 GPIOs each configured axis index is wired
// to, the fixed-constant style platform_sh2.go declares its own pin
// assignments in (X_DIAG, Y_DIAG, and so on), rather than a data-driven
// table: on a microcontroller target the wiring is part of the board,
// not something chosen at runtime.
var axisWiring = [...]struct {
	sm                               uint8
	step, dir, minSwitch, maxSwitch  machine.Pin
	hasMin, hasMax, invertDir        bool
}{
	{sm: 0, step: machine.GPIO2, dir: machine.GPIO3, minSwitch: machine.GPIO8, hasMin: true},
	{sm: 1, step: machine.GPIO4, dir: machine.GPIO5, minSwitch: machine.GPIO7, hasMin: true},
	{sm: 2, step: machine.GPIO6, dir: machine.GPIO22, maxSwitch: machine.GPIO11, hasMax: true, invertDir: true},
}

// stepperUARTPin is the single one-wire half-duplex UART line every
// TMC2209 on the shared bus is multiplexed over, mirroring
// platform_sh2.go's STEPPER_UART constant.
const stepperUARTPin = machine.GPIO9

type platform struct {
	cfg            config.Config
	sched          *timer.Scheduler
	endstops       *pin.MCUEndstopBank
	outputs        []*pin.MCUStepOutput
	drivers        *driverchip.Bank
	currentMonitor *i2cbus.CurrentMonitor
}

func newPlatform(cfg config.Config) (*platform, error) {
	if len(cfg.Axes) > len(axisWiring) {
		return nil, fmt.Errorf("platform: %d axes configured, only %d wired", len(cfg.Axes), len(axisWiring))
	}

	uart, err := tmc2209.NewUART(rp.PIO1, stepperUARTPin)
	if err != nil {
		return nil, fmt.Errorf("platform: stepper uart: %w", err)
	}

	endstops := pin.NewMCUEndstopBank()
	var outputs []*pin.MCUStepOutput
	for i := range cfg.Axes {
		w := axisWiring[i]
		outputs = append(outputs, pin.NewMCUStepOutput(rp.PIO0, w.sm, w.step, w.dir, w.invertDir))
		if w.hasMin {
			endstops.Add(w.minSwitch, move.EndstopBit(move.Axis(i), false), true)
		}
		if w.hasMax {
			endstops.Add(w.maxSwitch, move.EndstopBit(move.Axis(i), true), true)
		}
	}

	p := &platform{
		cfg:      cfg,
		endstops: endstops,
		outputs:  outputs,
		drivers:  driverchip.New(uart, cfg.Axes),
	}

	if mc := cfg.CurrentMonitor; mc != nil {
		if err := currentMonitorI2C.Configure(machine.I2CConfig{
			Frequency: 400_000,
			SDA:       currentMonitorSDA,
			SCL:       currentMonitorSCL,
		}); err != nil {
			return nil, fmt.Errorf("platform: current monitor: i2c: %w", err)
		}
		p.currentMonitor = i2cbus.NewCurrentMonitor(currentMonitorI2C, mc.Addr, mc.CurrentReg, mc.LSBMilliamps)
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
	mcu := timer.NewMCUBackend()
	p.sched = timer.New(tcfg, mcu, engine.OnStep, engine.OnTick)
	mcu.Bind(p.sched)

	// Endstops are sampled by polling from a background goroutine rather
	// than through machine.Pin.SetInterrupt; each poll publishes the raw
	// pin levels, without the settle time the periph.io backend applies.
	go p.pollEndstops()
}

const endstopPollInterval = 500 * time.Microsecond

func (p *platform) pollEndstops() {
	for {
		p.endstops.Poll()
		time.Sleep(endstopPollInterval)
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
