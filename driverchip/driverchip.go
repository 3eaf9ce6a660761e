// Package driverchip sequences a bank of TMC2209 stepper driver chips,
// one per configured axis, the way cmd/controller/platform_sh2.go's
// engraver.engrave sequences its X/Y drivers: configure each axis'
// registers once, stagger enabling each axis' current so the shared
// power rail doesn't brown out, then hold for the chip's standstill
// tuning period before the first move.
package driverchip

import (
	"fmt"
	"io"
	"sync"
	"time"

	"stepcore.dev/config"
	"stepcore.dev/driver/tmc2209"
)

// interAxisEnableDelay staggers per-axis current enable calls, mirroring
// the 200ms spacing platform_sh2.go's engrave uses between its two axes.
const interAxisEnableDelay = 200 * time.Millisecond

type axisChip struct {
	name    byte
	dev     *tmc2209.Device
	current int
}

// Bank owns one tmc2209.Device per axis, all multiplexed over a single
// shared one-wire UART bus (per platform_sh2.go's stepperPIO-backed
// tmc2209.NewUART), and serializes access to it.
type Bank struct {
	mu   sync.Mutex
	axes []axisChip
}

// New builds a Bank from axis configuration, one tmc2209.Device per axis
// that declares a DriverChip config sharing bus; axes with no configured
// driver chip are skipped (spec.md allows an axis driven by an external,
// unmanaged driver).
func New(bus io.ReadWriter, axes []config.Axis) *Bank {
	b := &Bank{}
	for _, a := range axes {
		if a.DriverChip == nil {
			continue
		}
		dev := &tmc2209.Device{
			Bus:    bus,
			Addr:   a.DriverChip.Addr,
			Invert: a.DriverChip.Invert,
			Sense:  a.DriverChip.SenseMilliohm,
		}
		b.axes = append(b.axes, axisChip{name: a.Name, dev: dev, current: a.DriverChip.RunCurrentMA})
	}
	return b
}

// Configure loads each chip's static registers (shared-UART send delay,
// then each device's own Configure) once at startup, per
// platform_sh2.go's configureAxes. It does not write the stall
// threshold.
func (b *Bank) Configure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.axes {
		if err := a.dev.SetupSharedUART(); err != nil {
			return fmt.Errorf("driverchip: axis %c: shared uart: %w", a.name, err)
		}
	}
	for _, a := range b.axes {
		if err := a.dev.Configure(); err != nil {
			return fmt.Errorf("driverchip: axis %c: configure: %w", a.name, err)
		}
	}
	return nil
}

// EnableAll ramps each axis' run current up in turn, waits for
// standstill tuning, and returns once every axis is ready to step. It
// disables every already-enabled axis before returning an error.
func (b *Bank) EnableAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.axes {
		if err := a.dev.Enable(a.current); err != nil {
			for j := 0; j < i; j++ {
				b.axes[j].dev.Enable(0)
			}
			return fmt.Errorf("driverchip: axis %c: enable: %w", a.name, err)
		}
		time.Sleep(interAxisEnableDelay)
	}
	time.Sleep(tmc2209.StandstillTuningPeriod)
	return nil
}

// DisableAll drops every axis' current to zero, the reverse of EnableAll.
// Its only caller is cmd/stepcore/main.go, when it exits; neither move
// completion nor motion.Controller.EmergencyStop disables the drivers.
func (b *Bank) DisableAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.axes {
		a.dev.Enable(0)
	}
}

// Fault reports the first axis (by configured name) currently reporting
// a driver fault via its GSTAT register, or ok=false if none do.
func (b *Bank) Fault() (name byte, err error, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.axes {
		if err := a.dev.Error(); err != nil {
			return a.name, err, true
		}
	}
	return 0, nil, false
}
