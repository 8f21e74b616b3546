package voltammetry

import (
	"math"

	"github.com/banshee-data/potentiostat/internal/config"
)

// maxPlausibleUA is the sanity bound on converted currents; anything above
// 1 mA indicates a saturated or faulted front end and is clamped to zero.
const maxPlausibleUA = 1000.0

// CurrentFromRaw converts a raw transducer code into a current in µA using
// the transimpedance equation
//
//	I = (2·Vref − Vout − Vapplied) / R
//
// where Vout is the raw code mapped into the transducer's reference span
// and R is the feedback resistor selected by mode. The result is corrected
// by the calibrated offset. The function is pure: identical inputs always
// yield identical outputs.
func CurrentFromRaw(raw int, appliedVolts float64, mode Mode, cal *config.Calibration) float64 {
	vout := float64(raw) / cal.GetADCFullScale() * cal.GetADCRefVolts()

	resistance := cal.GetTIALowOhms()
	if mode == ModeHigh {
		resistance = cal.GetTIAHighOhms()
	}

	currentUA := 1e6 * (2*cal.GetVRefVolts() - vout - appliedVolts) / resistance
	currentUA -= cal.GetOffsetCurrentUA()

	if math.IsNaN(currentUA) || math.IsInf(currentUA, 0) || math.Abs(currentUA) > maxPlausibleUA {
		return 0
	}
	return currentUA
}

// OffsetFromIdleSamples averages a calibration burst of idle raw codes into
// an offset current in µA. The applied voltage is zero during the burst.
func OffsetFromIdleSamples(raws []int, mode Mode, cal *config.Calibration) float64 {
	if len(raws) == 0 {
		return 0
	}
	// Average against a zero offset so an existing calibration value does
	// not fold into the new one.
	base := config.Empty()
	base.TIALowOhms = ptr(cal.GetTIALowOhms())
	base.TIAHighOhms = ptr(cal.GetTIAHighOhms())
	base.VRefVolts = ptr(cal.GetVRefVolts())
	base.ADCRefVolts = ptr(cal.GetADCRefVolts())
	base.ADCFullScale = ptr(cal.GetADCFullScale())

	var sum float64
	for _, raw := range raws {
		sum += CurrentFromRaw(raw, 0, mode, base)
	}
	return sum / float64(len(raws))
}

func ptr(v float64) *float64 { return &v }
