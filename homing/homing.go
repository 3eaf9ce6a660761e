// Package homing implements the axis-descriptor-table-driven homing
// sequence of spec.md section 5, generalizing platform_sh2.go's
// engraver.home (a fast search toward the endstop followed by a slow,
// precise re-approach) from its two hardcoded X/Y moves into a loop over
// config.Axis entries marked HasMin or HasMax.
package homing

import (
	"errors"
	"fmt"
	"math"

	"stepcore.dev/config"
	"stepcore.dev/dda"
	"stepcore.dev/motion"
	"stepcore.dev/move"
)

// Sequence runs the homing protocol for every axis in cfg.Axes that
// declares a limit switch, in declaration order (spec.md section 5
// requires a deterministic, configurable order so e.g. Z homes before
// X/Y on machines where that matters for clearance).
func Sequence(ctrl *motion.Controller, cfg config.Config) error {
	for i, a := range cfg.Axes {
		if !a.HasMin && !a.HasMax {
			continue
		}
		if err := homeAxis(ctrl, cfg, i, a); err != nil {
			return fmt.Errorf("homing: axis %c: %w", a.Name, err)
		}
	}
	return nil
}

func homeAxis(ctrl *motion.Controller, cfg config.Config, index int, a config.Axis) error {
	forward := a.HasMax && !a.HasMin
	bit := move.EndstopBit(move.Axis(index), forward)

	// spec.md section 4.5 item 1: the fastest feedrate this axis can
	// still decelerate to zero from within its physical clearance
	// behind the switch, so homing at full speed never crashes into the
	// hard limit.
	searchFast := 60 * math.Sqrt(2*a.Acceleration*a.EndstopClearance/1000)

	if searchFast > a.SearchFeedrate {
		if err := homeApproach(ctrl, cfg, index, a, forward, bit, searchFast); err != nil {
			return fmt.Errorf("fast search: %w", err)
		}
		if err := homeBackOff(ctrl, index, a, forward, bit); err != nil {
			return fmt.Errorf("back off: %w", err)
		}
	} else {
		// search_fast does not clear search_slow: a single slow
		// approach is already as fast as it's safe to go.
		if err := homeApproach(ctrl, cfg, index, a, forward, bit, a.SearchFeedrate); err != nil {
			return fmt.Errorf("slow search: %w", err)
		}
	}

	ctrl.WaitIdle()
	final := ctrl.Position()
	if forward {
		final[index] = a.MaxPos
	} else {
		final[index] = a.MinPos
	}
	ctrl.SetCurrentPosition(final)
	return nil
}

// homeApproach drives axis index toward its configured switch at
// feedrate, stopping the instant the endstop trips.
func homeApproach(ctrl *motion.Controller, cfg config.Config, index int, a config.Axis, forward bool, bit move.EndstopMask, feedrate float64) error {
	start := ctrl.Position()
	target := start
	travel := searchTravelMicrometers(cfg, index)
	if forward {
		target[index] += travel
	} else {
		target[index] -= travel
	}
	if err := ctrl.EnqueueHome(start, target, feedrate, bit, false); err != nil {
		return err
	}
	ctrl.WaitIdle()
	if !errors.Is(ctrl.LastMoveError(), dda.ErrEndstopTriggered) {
		return fmt.Errorf("endstop never triggered within %dum of travel", travel)
	}
	return nil
}

// homeBackOff moves axis index away from an already-triggered switch at
// the slow search feedrate, stopping the instant the switch releases
// (spec.md section 4.5 item 2's "endstop-release triggers completion").
func homeBackOff(ctrl *motion.Controller, index int, a config.Axis, forward bool, bit move.EndstopMask) error {
	start := ctrl.Position()
	target := start
	backOffUM := int64(a.EndstopClearance * 1000 * 2)
	if forward {
		target[index] -= backOffUM
	} else {
		target[index] += backOffUM
	}
	if err := ctrl.EnqueueHome(start, target, a.SearchFeedrate, bit, true); err != nil {
		return err
	}
	ctrl.WaitIdle()
	if !errors.Is(ctrl.LastMoveError(), dda.ErrEndstopTriggered) {
		return fmt.Errorf("endstop never released within %dum of travel", backOffUM)
	}
	return nil
}

// searchTravelMicrometers bounds every approach move's maximum travel
// so a disconnected or stuck switch ends the move with an unmet-endstop
// error instead of driving the axis into a hard stop; spec.md section 5
// requires this derived from the axis' configured range.
func searchTravelMicrometers(cfg config.Config, index int) int64 {
	a := cfg.Axes[index]
	span := a.MaxPos - a.MinPos
	if span < 0 {
		span = -span
	}
	if span == 0 {
		// No configured range (single-ended axis): fall back to a
		// generous multiple of the clearance distance.
		span = int64(a.EndstopClearance*1000) * 100
	}
	return span + int64(a.EndstopClearance*1000)
}
