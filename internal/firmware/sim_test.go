package firmware

import (
	"testing"

	"github.com/banshee-data/potentiostat/internal/config"
	"github.com/banshee-data/potentiostat/internal/protocol"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

func TestSimCell_RecoverableCurrent(t *testing.T) {
	cell := NewSimCell(1)
	cell.NoiseCodes = 0

	// Apply 0.5 V; the host-side conversion must recover the modelled
	// current I = V/R = 0.5/100k = 5 µA.
	code := uint16((0.5 + cell.DACSpanVolts) / (2 * cell.DACSpanVolts) * 65535)
	if err := cell.SetCode(code); err != nil {
		t.Fatal(err)
	}

	raw, err := cell.Sample()
	if err != nil {
		t.Fatal(err)
	}

	applied := cell.AppliedVolts()
	got := voltammetry.CurrentFromRaw(raw, applied, voltammetry.ModeLow, config.Empty())

	want := applied / cell.CellOhms * 1e6
	if diff := got - want; diff > 0.05 || diff < -0.05 {
		t.Errorf("recovered %.4f µA, want %.4f µA", got, want)
	}
}

func TestSimCell_SampleStaysInRange(t *testing.T) {
	cell := NewSimCell(2)
	cell.NoiseCodes = 500

	for _, code := range []uint16{0, 16384, 32768, 49152, 65535} {
		cell.SetCode(code)
		for i := 0; i < 20; i++ {
			raw, err := cell.Sample()
			if err != nil {
				t.Fatal(err)
			}
			if raw < 0 || raw > protocol.ADCFullScale {
				t.Fatalf("sample %d out of range at code %d", raw, code)
			}
		}
	}
}

func TestSimCell_FaultInjection(t *testing.T) {
	cell := NewSimCell(3)
	cell.FailEvery = 3

	var faults int
	for i := 0; i < 9; i++ {
		if _, err := cell.Sample(); err != nil {
			faults++
		}
	}
	if faults != 3 {
		t.Errorf("got %d faults over 9 samples with FailEvery=3, want 3", faults)
	}
}

func TestSimCell_ModeAffectsOutput(t *testing.T) {
	low := NewSimCell(4)
	low.NoiseCodes = 0
	high := NewSimCell(4)
	high.NoiseCodes = 0
	high.SetMode(1)

	code := uint16(60000)
	low.SetCode(code)
	high.SetCode(code)

	rawLow, _ := low.Sample()
	rawHigh, _ := high.Sample()
	if rawLow == rawHigh {
		t.Error("mode switch did not change the transducer output")
	}
}
