package main

import "stepcore.dev/config"

// defaultConfig describes a three-axis (X, Y, Z) Cartesian machine with
// TMC2209 driver chips on X and Y and a plain step/dir driver on Z,
// tuned for a 125MHz RP2040 running the hardware timer backend. Hosts
// without that hardware (the simulated and Linux backends) reuse the
// same geometry; only the I/O wiring differs per platform file.
func defaultConfig() config.Config {
	return config.Config{
		CPUFreq:      125_000_000,
		TickTime:     1_250,       // 10us system tick at 125MHz
		CounterRange: 0xFFFFFFFF, // RP2040 alarm compares are 32-bit wide

		QueueCapacity: 64,
		SafeISRCycles: 400,
		CounterGuard:  1 << 20,
		MinStepTicks:  80,

		// Shared-rail current sense on the TMC2209 supply, polled by
		// motion.Controller between moves.
		CurrentMonitor: &config.CurrentMonitorConfig{
			Addr:         0x40,
			CurrentReg:   0x01,
			LSBMilliamps: 2,
		},

		Mode: config.Trapezoidal,
		Axes: []config.Axis{
			{
				Name:             'X',
				StepsPerMM:       80,
				MaxFeedrate:      12000,
				Acceleration:     1500,
				Jerk:             12,
				EndstopClearance: 2,
				SearchFeedrate:   600,
				HasMin:           true,
				MinPos:           0,
				DriverChip: &config.DriverChipConfig{
					Addr:           0,
					SenseMilliohm:  110,
					RunCurrentMA:   900,
					StallThreshold: 80,
				},
			},
			{
				Name:             'Y',
				StepsPerMM:       80,
				MaxFeedrate:      12000,
				Acceleration:     1500,
				Jerk:             12,
				EndstopClearance: 2,
				SearchFeedrate:   600,
				HasMin:           true,
				MinPos:           0,
				DriverChip: &config.DriverChipConfig{
					Addr:           1,
					SenseMilliohm:  110,
					RunCurrentMA:   900,
					StallThreshold: 80,
				},
			},
			{
				Name:             'Z',
				StepsPerMM:       400,
				MaxFeedrate:      600,
				Acceleration:     100,
				Jerk:             2,
				EndstopClearance: 1,
				SearchFeedrate:   150,
				HasMax:           true,
				MaxPos:           200_000,
			},
		},
	}
}
