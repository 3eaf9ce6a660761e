// Package config describes the compile-time tunables the motion core must
// honor: hardware timer geometry, per-axis kinematics, and the selected
// velocity profiling mode. It plays the role engrave.Params /
// engrave.StepperConfig play in the teacher repo: one struct threaded from
// main into the core instead of package-level globals.
package config

import (
	"errors"
	"fmt"

	"stepcore.dev/move"
)

// Mode selects the velocity profiler implementation.
type Mode uint8

const (
	// Trapezoidal ramps by step count using the integer Taylor
	// recurrence; it is the default and requires no per-axis jerk.
	Trapezoidal Mode = iota
	// Temporal ramps by wall-clock time at the system tick rate,
	// independent of step density; needed when axes don't share a
	// dominant step cadence.
	Temporal
)

// Axis is the compile-time description of one motion axis, replacing the
// teacher's preprocessor-expanded per-axis homing functions with a runtime
// table iterated by a single parameterized routine (spec.md section 9).
type Axis struct {
	Name         byte
	StepsPerMM   float64
	MaxFeedrate  float64 // mm/min
	Acceleration float64 // mm/s^2
	Jerk         float64 // mm/s, only used in Temporal mode

	// EndstopClearance is the physical distance behind the endstop
	// trigger point, in mm, used to derive the safe maximum homing
	// feedrate.
	EndstopClearance float64
	// SearchFeedrate is the slow, unconditionally-safe homing feedrate
	// in mm/min.
	SearchFeedrate float64

	// HasMin, HasMax report whether this axis homes against a minimum
	// or maximum limit switch (or both, for axes homed at either end in
	// different build configurations).
	HasMin, HasMax bool
	// MinPos, MaxPos are the coordinates, in micrometers, assigned to
	// Controller.SetCurrentPosition after a successful home.
	MinPos, MaxPos int64

	// DriverChip, if non-nil, names the UART/I2C stepper driver chip
	// wired to this axis for current-control sequencing (driverchip
	// package). Axes without a smart driver chip (e.g. a simple
	// step/dir/enable driver) leave this nil.
	DriverChip *DriverChipConfig
}

// DriverChipConfig configures the optional smart stepper-driver chip
// attached to an axis (see package driverchip).
type DriverChipConfig struct {
	Addr           uint8
	SenseMilliohm  int
	Invert         bool
	RunCurrentMA   int
	StallThreshold int
}

// CurrentMonitorConfig configures the optional I2C current-sense chip
// polled between moves by motion.Controller (see package i2cbus). A nil
// *CurrentMonitorConfig on Config disables polling entirely.
type CurrentMonitorConfig struct {
	Addr         uint16
	CurrentReg   byte
	LSBMilliamps int
}

// Config is the full set of compile-time constants the core must honor,
// per spec.md section 6.
type Config struct {
	CPUFreq      uint32 // Hz
	TickTime     uint32 // system-tick period, in counter ticks
	CounterRange uint32 // hardware counter width, e.g. 65536

	QueueCapacity int
	SafeISRCycles uint32
	CounterGuard  uint32
	MinStepTicks  uint32

	Mode Mode
	Axes []Axis

	// CurrentMonitor, if non-nil, enables i2cbus current-sense polling
	// between moves.
	CurrentMonitor *CurrentMonitorConfig
}

var (
	// ErrConfigInvalid is the ConfigInvalid error kind of spec.md section
	// 7: a build-time configuration defect that must refuse to build
	// rather than be silently patched up at runtime.
	ErrConfigInvalid = errors.New("config: invalid configuration")
)

// Validate checks the structural invariants the rest of the core assumes
// and reports every violation it finds, wrapped in ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []error
	if c.CPUFreq == 0 {
		errs = append(errs, errors.New("CPUFreq must be non-zero"))
	}
	if c.CounterRange == 0 {
		errs = append(errs, errors.New("CounterRange must be non-zero"))
	}
	if c.TickTime == 0 || c.TickTime >= c.CounterRange {
		errs = append(errs, errors.New("TickTime must be non-zero and less than CounterRange"))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, errors.New("QueueCapacity must be positive"))
	} else if c.QueueCapacity < 2 || c.QueueCapacity&(c.QueueCapacity-1) != 0 {
		errs = append(errs, errors.New("QueueCapacity must be a power of two >= 2"))
	}
	if c.CounterGuard >= c.CounterRange {
		errs = append(errs, errors.New("CounterGuard must be less than CounterRange"))
	}
	if len(c.Axes) == 0 {
		errs = append(errs, errors.New("at least one axis must be configured"))
	}
	if len(c.Axes) > move.MaxAxes {
		errs = append(errs, fmt.Errorf("too many axes: %d > %d", len(c.Axes), move.MaxAxes))
	}
	for _, a := range c.Axes {
		if a.StepsPerMM <= 0 {
			errs = append(errs, fmt.Errorf("axis %c: StepsPerMM must be positive", a.Name))
		}
		if a.MaxFeedrate <= 0 {
			errs = append(errs, fmt.Errorf("axis %c: MaxFeedrate must be positive", a.Name))
		}
		if (a.HasMin || a.HasMax) && a.EndstopClearance <= 0 {
			errs = append(errs, fmt.Errorf("axis %c: ENDSTOP_CLEARANCE required when a limit switch is configured", a.Name))
		}
		if (a.HasMin || a.HasMax) && a.SearchFeedrate <= 0 {
			errs = append(errs, fmt.Errorf("axis %c: SEARCH_FEEDRATE required when a limit switch is configured", a.Name))
		}
		if a.HasMax && a.MaxPos == 0 && a.MinPos == 0 {
			errs = append(errs, fmt.Errorf("axis %c: MAX_PIN defined but *_MAX position unset", a.Name))
		}
		if c.Mode == Temporal && a.Jerk <= 0 {
			errs = append(errs, fmt.Errorf("axis %c: Jerk must be positive in temporal mode", a.Name))
		}
		if c.MinStepTicks > 0 && a.StepsPerMM > 0 && a.MaxFeedrate > 0 {
			stepsPerSecond := a.MaxFeedrate / 60 * a.StepsPerMM
			cruiseTicks := float64(c.CPUFreq) / stepsPerSecond
			if cruiseTicks < float64(c.MinStepTicks) {
				errs = append(errs, fmt.Errorf("axis %c: cruise interval at MaxFeedrate is %.0f ticks, below MinStepTicks %d", a.Name, cruiseTicks, c.MinStepTicks))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
}
