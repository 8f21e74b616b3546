// Package voltammetry implements the deterministic acquisition pipeline:
// the triangular applied-voltage ramp, raw-code to current conversion, and
// incremental buffering of converted readings.
package voltammetry

import (
	"fmt"
	"math"
)

// Mode selects the current-range resistor path. Low trades sensitivity for
// range; High the reverse.
type Mode int

const (
	ModeLow  Mode = 0 // 10 kΩ path, µA-scale currents
	ModeHigh Mode = 1 // 1 MΩ path, nA-scale currents
)

// Params describes one triangular-ramp run. Immutable once validated.
type Params struct {
	StartVolts float64
	EndVolts   float64
	ScanRate   float64 // V/s
	Cycles     int
	Mode       Mode
}

// Validate checks the parameters against the given hardware voltage limit.
func (p Params) Validate(hardwareLimitVolts float64) error {
	if math.Abs(p.StartVolts) > hardwareLimitVolts || math.Abs(p.EndVolts) > hardwareLimitVolts {
		return fmt.Errorf("vertex potentials must be within ±%g V, got start=%g end=%g",
			hardwareLimitVolts, p.StartVolts, p.EndVolts)
	}
	if p.ScanRate <= 0 {
		return fmt.Errorf("scan rate must be positive, got %g", p.ScanRate)
	}
	if p.Cycles < 1 {
		return fmt.Errorf("cycle count must be at least 1, got %d", p.Cycles)
	}
	if p.Mode != ModeLow && p.Mode != ModeHigh {
		return fmt.Errorf("unknown current-range mode %d", p.Mode)
	}
	return nil
}

// HalfCycleSeconds returns the duration of one monotonic ramp segment.
func (p Params) HalfCycleSeconds() float64 {
	return math.Abs(p.EndVolts-p.StartVolts) / p.ScanRate
}

// PeriodSeconds returns the ramp period: 2 × |end−start| / scanRate.
func (p Params) PeriodSeconds() float64 {
	return 2 * p.HalfCycleSeconds()
}

// TotalSeconds returns the full run duration across all cycles.
func (p Params) TotalSeconds() float64 {
	return float64(p.Cycles) * p.PeriodSeconds()
}

// AppliedVoltage returns the potential applied at the given elapsed time.
// The ramp is piecewise linear, continuous at every vertex, and periodic
// with PeriodSeconds. Elapsed times past the end of the run clamp to the
// final value.
func AppliedVoltage(elapsedSeconds float64, p Params) float64 {
	half := p.HalfCycleSeconds()
	if half == 0 {
		return p.StartVolts
	}
	period := 2 * half
	total := float64(p.Cycles) * period

	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	if elapsedSeconds > total {
		elapsedSeconds = total
	}

	cycleTime := math.Mod(elapsedSeconds, period)
	if cycleTime < half {
		// forward sweep
		fraction := cycleTime / half
		return p.StartVolts + fraction*(p.EndVolts-p.StartVolts)
	}
	// reverse sweep
	fraction := (cycleTime - half) / half
	return p.EndVolts - fraction*(p.EndVolts-p.StartVolts)
}

// CycleIndex returns which cycle the given elapsed time falls in.
func CycleIndex(elapsedSeconds float64, p Params) int {
	period := p.PeriodSeconds()
	if period == 0 {
		return 0
	}
	idx := int(elapsedSeconds / period)
	if idx >= p.Cycles {
		idx = p.Cycles - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
