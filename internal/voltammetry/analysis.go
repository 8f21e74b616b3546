package voltammetry

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds run-level statistics computed when a session finalizes.
type Summary struct {
	Samples        int     `json:"samples"`
	DurationSec    float64 `json:"duration_sec"`
	MeanCurrentUA  float64 `json:"mean_current_ua"`
	StdCurrentUA   float64 `json:"std_current_ua"`
	PeakAnodicUA   float64 `json:"peak_anodic_ua"`
	PeakCathodicUA float64 `json:"peak_cathodic_ua"`
	ChargeUC       float64 `json:"charge_uc"`
}

// Summarize computes run statistics over the recorded readings.
func Summarize(readings []Reading) Summary {
	s := Summary{Samples: len(readings)}
	if len(readings) == 0 {
		return s
	}

	currents := make([]float64, len(readings))
	times := make([]float64, len(readings))
	volts := make([]float64, len(readings))
	for i, r := range readings {
		currents[i] = r.CurrentUA
		times[i] = r.ElapsedSeconds
		volts[i] = r.AppliedVolts
	}

	s.DurationSec = times[len(times)-1] - times[0]
	s.MeanCurrentUA = stat.Mean(currents, nil)
	s.StdCurrentUA = stat.StdDev(currents, nil)
	s.ChargeUC = Charge(times, currents)

	// Peak currents come from detected faradaic peaks; traces without a
	// resolvable peak (monotonic or truncated runs) fall back to the
	// extremes.
	s.PeakAnodicUA = floats.Max(currents)
	s.PeakCathodicUA = floats.Min(currents)
	anodic, cathodic := FindPeaks(volts, currents, 0)
	if len(anodic) > 0 {
		s.PeakAnodicUA = anodic[0].CurrentUA
		for _, p := range anodic[1:] {
			if p.CurrentUA > s.PeakAnodicUA {
				s.PeakAnodicUA = p.CurrentUA
			}
		}
	}
	if len(cathodic) > 0 {
		s.PeakCathodicUA = cathodic[0].CurrentUA
		for _, p := range cathodic[1:] {
			if p.CurrentUA < s.PeakCathodicUA {
				s.PeakCathodicUA = p.CurrentUA
			}
		}
	}
	return s
}

// Charge integrates current over time (trapezoidal rule), yielding charge
// in µC for µA inputs and seconds.
func Charge(times, currents []float64) float64 {
	if len(times) != len(currents) || len(times) < 2 {
		return 0
	}
	var q float64
	for i := 1; i < len(times); i++ {
		dt := times[i] - times[i-1]
		q += dt * (currents[i] + currents[i-1]) / 2
	}
	return q
}

// MovingAverage smooths the input with a trailing window. The first
// window-1 outputs average over the samples seen so far, matching the
// live-display behaviour of the acquisition loop.
func MovingAverage(data []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(data))
	for i := range data {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = stat.Mean(data[lo:i+1], nil)
	}
	return out
}

// Peak is one detected anodic or cathodic peak.
type Peak struct {
	Index      int
	Volts      float64
	CurrentUA  float64
	Prominence float64
}

// FindPeaks locates anodic (positive) and cathodic (negative) peaks in a
// voltammogram. Prominence defaults to 10% of the current range when zero
// is passed.
func FindPeaks(volts, currents []float64, prominence float64) (anodic, cathodic []Peak) {
	if len(volts) != len(currents) || len(currents) < 3 {
		return nil, nil
	}

	if prominence <= 0 {
		prominence = (floats.Max(currents) - floats.Min(currents)) * 0.1
	}

	anodic = localMaxima(volts, currents, prominence)

	inverted := make([]float64, len(currents))
	for i, c := range currents {
		inverted[i] = -c
	}
	for _, p := range localMaxima(volts, inverted, prominence) {
		p.CurrentUA = -p.CurrentUA
		cathodic = append(cathodic, p)
	}
	return anodic, cathodic
}

// localMaxima finds strict local maxima whose prominence above the higher
// of the surrounding minima meets the threshold.
func localMaxima(xs, ys []float64, prominence float64) []Peak {
	var peaks []Peak
	for i := 1; i < len(ys)-1; i++ {
		if !(ys[i] > ys[i-1] && ys[i] >= ys[i+1]) {
			continue
		}

		// Walk out to the nearest valley on each side.
		leftMin := ys[i]
		for j := i - 1; j >= 0 && ys[j] <= ys[i]; j-- {
			if ys[j] < leftMin {
				leftMin = ys[j]
			}
		}
		rightMin := ys[i]
		for j := i + 1; j < len(ys) && ys[j] <= ys[i]; j++ {
			if ys[j] < rightMin {
				rightMin = ys[j]
			}
		}

		base := leftMin
		if rightMin > base {
			base = rightMin
		}
		prom := ys[i] - base
		if prom >= prominence {
			peaks = append(peaks, Peak{
				Index:      i,
				Volts:      xs[i],
				CurrentUA:  ys[i],
				Prominence: prom,
			})
		}
	}
	return peaks
}
