package voltammetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/potentiostat/internal/config"
	"github.com/banshee-data/potentiostat/internal/protocol"
)

func TestCurrentFromRaw_ZeroCurrentPoint(t *testing.T) {
	cal := config.Empty()

	// With Vapplied = 0, zero cell current means Vout = 2·Vref = 2.0 V.
	raw := int(2.0 / cal.GetADCRefVolts() * float64(protocol.ADCFullScale))
	got := CurrentFromRaw(raw, 0, ModeLow, cal)
	assert.InDelta(t, 0, got, 0.02)
}

func TestCurrentFromRaw_KnownValue(t *testing.T) {
	cal := config.Empty()

	// Vout = 1.0 V, Vapplied = 0.5 V, R = 10 kΩ:
	// I = 1e6·(2·1.0 − 1.0 − 0.5)/10000 = 50 µA.
	raw := int(1.0 / cal.GetADCRefVolts() * float64(protocol.ADCFullScale))
	got := CurrentFromRaw(raw, 0.5, ModeLow, cal)
	assert.InDelta(t, 50, got, 0.2)
}

func TestCurrentFromRaw_ModeSelectsResistor(t *testing.T) {
	cal := config.Empty()
	raw := int(1.5 / cal.GetADCRefVolts() * float64(protocol.ADCFullScale))

	low := CurrentFromRaw(raw, 0, ModeLow, cal)
	high := CurrentFromRaw(raw, 0, ModeHigh, cal)

	// Same voltages over a 100× larger resistor yield 100× less current.
	assert.InDelta(t, low/100, high, 0.01)
}

func TestCurrentFromRaw_FullScaleIsCalibratable(t *testing.T) {
	base := CurrentFromRaw(16000, 0, ModeLow, config.Empty())

	// A revision with half the full-scale code reads the same voltage at
	// half the raw code.
	cal := config.Empty()
	half := 32767.0 / 2
	cal.ADCFullScale = &half
	assert.InDelta(t, base, CurrentFromRaw(8000, 0, ModeLow, cal), 1e-9)
}

func TestCurrentFromRaw_OffsetSubtracted(t *testing.T) {
	cal := config.Empty()
	raw := 10000

	base := CurrentFromRaw(raw, 0.1, ModeLow, cal)
	cal.SetOffsetCurrentUA(1.25)
	corrected := CurrentFromRaw(raw, 0.1, ModeLow, cal)

	assert.InDelta(t, base-1.25, corrected, 1e-9)
}

func TestCurrentFromRaw_OverrangeClampsToZero(t *testing.T) {
	// A tiny feedback resistor pushes the computed current past the 1 mA
	// plausibility bound.
	cal := config.Empty()
	tiny := 0.1
	cal.TIALowOhms = &tiny

	assert.Equal(t, 0.0, CurrentFromRaw(0, -1.5, ModeLow, cal))
}

func TestCurrentFromRaw_Pure(t *testing.T) {
	cal := config.Empty()
	first := CurrentFromRaw(12345, 0.25, ModeLow, cal)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CurrentFromRaw(12345, 0.25, ModeLow, cal))
	}
}

func TestOffsetFromIdleSamples(t *testing.T) {
	cal := config.Empty()

	// All samples at the zero-current code: offset ≈ 0.
	zeroRaw := int(2.0 / cal.GetADCRefVolts() * float64(protocol.ADCFullScale))
	offset := OffsetFromIdleSamples([]int{zeroRaw, zeroRaw, zeroRaw}, ModeLow, cal)
	assert.InDelta(t, 0, offset, 0.02)

	// An existing offset must not fold into the new measurement.
	cal.SetOffsetCurrentUA(5)
	again := OffsetFromIdleSamples([]int{zeroRaw, zeroRaw, zeroRaw}, ModeLow, cal)
	assert.InDelta(t, offset, again, 1e-9)
}

func TestOffsetFromIdleSamples_Empty(t *testing.T) {
	assert.Equal(t, 0.0, OffsetFromIdleSamples(nil, ModeLow, config.Empty()))
}
