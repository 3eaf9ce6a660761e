//go:build !(tinygo && rp) && !(linux && arm)

package main

import (
	"time"

	"stepcore.dev/config"
	"stepcore.dev/dda"
	"stepcore.dev/driverchip"
	"stepcore.dev/motion"
	"stepcore.dev/timer"
)

// platform is the host development backend: it runs the same scheduler
// and engine wiring as the real hardware targets but drives the hardware
// timer with timer.SimBackend paced off the wall clock instead of a real
// interrupt source, the way the teacher's platform_dummy.go stands in for
// unavailable display/camera hardware on non-Pi builds.
type platform struct {
	cfg     config.Config
	backend *timer.SimBackend
	sched   *timer.Scheduler
	outputs []*simOutput
	drivers *driverchip.Bank

	stop chan struct{}
}

func newPlatform(cfg config.Config) (*platform, error) {
	backend := timer.NewSimBackend(cfg.CounterRange)
	p := &platform{
		cfg:     cfg,
		backend: backend,
		drivers: driverchip.New(discardReadWriter{}, nil),
		stop:    make(chan struct{}),
	}
	for range cfg.Axes {
		p.outputs = append(p.outputs, &simOutput{})
	}
	return p, nil
}

// BindEngine wires the scheduler's callbacks to engine, then starts the
// pacer goroutine that advances the simulated counter in real time.
func (p *platform) BindEngine(engine *dda.Engine) {
	cfg := p.cfg
	tcfg := timer.Config{
		CounterRange:  cfg.CounterRange,
		TickTime:      cfg.TickTime,
		SafeISRCycles: cfg.SafeISRCycles,
		CounterGuard:  cfg.CounterGuard,
	}
	p.sched = timer.New(tcfg, p.backend, engine.OnStep, engine.OnTick)
	p.backend.Bind(p.sched)
	go p.pace()
}

// pace advances the simulated counter roughly in step with wall-clock
// time, at a coarse granularity: exact sub-tick timing doesn't matter for
// a dummy host backend, only that moves eventually complete.
func (p *platform) pace() {
	const quantum = time.Millisecond
	ticksPerQuantum := uint32(float64(p.cfg.CPUFreq) * quantum.Seconds())
	if ticksPerQuantum == 0 {
		ticksPerQuantum = 1
	}
	t := time.NewTicker(quantum)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.backend.Advance(ticksPerQuantum)
		case <-p.stop:
			return
		}
	}
}

func (p *platform) Scheduler() *timer.Scheduler { return p.sched }

// Endstops returns nil: the dummy backend has no real limit switches to
// debounce, the same way platform_dummy.go's ScanQR/Engraver stub out
// hardware this host can't provide.
func (p *platform) Endstops() dda.Endstops { return nil }

func (p *platform) StepOutput(i int) dda.Outputs { return p.outputs[i] }

func (p *platform) Drivers() *driverchip.Bank { return p.drivers }

// CurrentMonitor returns nil: the host development backend has no real
// I2C chip to sense, the same way Endstops stubs out real limit
// switches here.
func (p *platform) CurrentMonitor() motion.CurrentMonitor { return nil }

// simOutput is a no-op Outputs implementation for development off real
// hardware: it accepts every Pulse/Settle/SetDirection call and discards
// it, letting the whole motion stack run without a wired machine.
type simOutput struct{}

func (*simOutput) Pulse() error               { return nil }
func (*simOutput) Settle() error              { return nil }
func (*simOutput) SetDirection(forward bool) error { return nil }

// discardReadWriter stands in for the shared stepper-driver UART bus when
// no real chip is wired. newPlatform builds its driverchip.Bank with no
// axes, so the driver chips defaultConfig assigns are never addressed
// over it and this link is never read or written.
type discardReadWriter struct{}

func (discardReadWriter) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
func (discardReadWriter) Write(p []byte) (int, error) { return len(p), nil }
