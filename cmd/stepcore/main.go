// command stepcore is the motion controller firmware entry point. It
// wires config, the timer scheduler, the DDA engine, and the console
// transport together and serves commands until the process is killed.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"stepcore.dev/config"
	"stepcore.dev/console"
	"stepcore.dev/dda"
	"stepcore.dev/homing"
	"stepcore.dev/motion"
	"stepcore.dev/profile"
	"stepcore.dev/queue"
	"stepcore.dev/timer"
)

var (
	device  = flag.String("device", "", "serial device to listen on (empty: probe platform defaults)")
	homeAtStart = flag.Bool("home", true, "run the homing sequence before accepting moves")
)

func main() {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stepcore: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	flag.Parse()
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	plat, err := newPlatform(cfg)
	if err != nil {
		return fmt.Errorf("platform init: %w", err)
	}

	q := queue.New(cfg.QueueCapacity)
	var outputs [8]dda.Outputs
	for i := range cfg.Axes {
		outputs[i] = plat.StepOutput(i)
	}
	engine := dda.New(plat.Scheduler(), plat.Endstops(), outputs)
	plat.BindEngine(engine)

	mkProfiler := func() profile.Profiler {
		switch cfg.Mode {
		case config.Temporal:
			return &profile.Temporal{CPUFreq: cfg.CPUFreq, JerkTicks: temporalJerkTicks(cfg)}
		default:
			return profile.Trapezoidal{CPUFreq: cfg.CPUFreq}
		}
	}
	ctrl := motion.New(cfg, engine, q, mkProfiler)
	ctrl.SetDrivers(plat.Drivers())
	ctrl.SetCurrentMonitor(plat.CurrentMonitor())

	if err := plat.Drivers().Configure(); err != nil {
		return fmt.Errorf("driver chips: configure: %w", err)
	}
	if err := plat.Drivers().EnableAll(); err != nil {
		return fmt.Errorf("driver chips: enable: %w", err)
	}
	defer plat.Drivers().DisableAll()

	plat.Scheduler().Init()

	if *homeAtStart {
		log.Println("stepcore: homing")
		if err := homing.Sequence(ctrl, cfg); err != nil {
			return fmt.Errorf("homing: %w", err)
		}
	}

	rw, err := console.Open(*device)
	if err != nil {
		return fmt.Errorf("console: open: %w", err)
	}
	defer rw.Close()
	log.Println("stepcore: ready")
	return console.New(rw, ctrl).Run()
}

// temporalJerkTicks derives the per-tick interval adjustment from the
// largest jerk configured on any axis, the same float64 conversion
// profile.C0 performs for acceleration.
func temporalJerkTicks(cfg config.Config) uint32 {
	var maxJerk float64
	for _, a := range cfg.Axes {
		if a.Jerk > maxJerk {
			maxJerk = a.Jerk
		}
	}
	if maxJerk <= 0 {
		return 1
	}
	return uint32(float64(cfg.TickTime) / maxJerk)
}
