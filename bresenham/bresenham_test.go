package bresenham

import (
	"testing"
)

// TestFairness checks the convergence invariant from spec.md section 8:
// within one move, pulses(axis)/total never deviates from
// delta(axis)/total by more than one step.
func TestFairness(t *testing.T) {
	cases := [][2]uint32{
		{0, 0},
		{1, 0},
		{0, 1},
		{1, 1},
		{1, 100},
		{100, 1},
		{100, 0},
		{1000, 50},
		{20, 50},
		{3000, 4000},
	}
	for _, c := range cases {
		total := max(c[0], c[1])
		if total == 0 {
			continue
		}
		delta := []uint32{c[0], c[1]}
		var acc Accumulator
		acc.Reset(total, delta)
		var pulses [2]uint32
		for step := uint32(1); step <= total; step++ {
			mask := acc.Step()
			for i := range pulses {
				if mask&(1<<uint(i)) != 0 {
					pulses[i]++
				}
			}
			for i, d := range delta {
				got := float64(pulses[i]) / float64(step)
				want := float64(d) / float64(total)
				if diff := got - want; diff > 1.0/float64(step) || diff < -1.0/float64(step) {
					t.Fatalf("delta=%v step %d: axis %d ratio %.4f wants %.4f", delta, step, i, got, want)
				}
			}
		}
		for i, d := range delta {
			if pulses[i] != d {
				t.Errorf("delta=%v: axis %d emitted %d pulses, want %d", delta, i, pulses[i], d)
			}
		}
	}
}

// TestConservation checks that every axis emits exactly delta[axis]
// pulses over a full move, the step-conservation invariant of spec.md
// section 8.
func TestConservation(t *testing.T) {
	delta := []uint32{300, 400, 0, 7}
	total := uint32(400)
	var acc Accumulator
	acc.Reset(total, delta)
	var pulses [4]uint32
	for range total {
		mask := acc.Step()
		for i := range pulses {
			if mask&(1<<uint(i)) != 0 {
				pulses[i]++
			}
		}
	}
	for i, d := range delta {
		if pulses[i] != d {
			t.Errorf("axis %d emitted %d pulses, want %d", i, pulses[i], d)
		}
	}
}
