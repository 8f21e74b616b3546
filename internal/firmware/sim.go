package firmware

import (
	"math"
	"math/rand"
	"sync"

	"github.com/banshee-data/potentiostat/internal/protocol"
)

// SimCell is a software stand-in for the analog front end: a DAC, an
// electrochemical cell model, and a transducer, in one. It lets the full
// host stack run against an in-process device in dev mode and in tests.
type SimCell struct {
	mu sync.Mutex

	// CellOhms models the solution as a simple resistive load.
	CellOhms float64
	// VRefVolts and ADCRefVolts mirror the front-end constants so the
	// host's inversion recovers the modelled current.
	VRefVolts   float64
	ADCRefVolts float64
	// NoiseCodes is the σ of Gaussian noise added to each raw sample.
	NoiseCodes float64
	// DACSpanVolts maps codes back onto potentials.
	DACSpanVolts float64
	// FailEvery injects a transducer read fault every Nth sample when > 0.
	FailEvery int

	rng     *rand.Rand
	applied float64
	mode    int
	samples int
}

// NewSimCell creates a cell with the default front-end constants.
func NewSimCell(seed int64) *SimCell {
	return &SimCell{
		CellOhms:     100_000,
		VRefVolts:    1.0,
		ADCRefVolts:  4.096,
		NoiseCodes:   3,
		DACSpanVolts: 2.048,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// SetCode implements DAC.
func (s *SimCell) SetCode(code uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = (float64(code)/65535)*2*s.DACSpanVolts - s.DACSpanVolts
	return nil
}

// AppliedVolts returns the potential currently committed to the cell.
func (s *SimCell) AppliedVolts() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// SetMode implements ModeSetter.
func (s *SimCell) SetMode(mode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Sample implements ADC: it computes the transimpedance output voltage the
// real front end would produce for the modelled cell current, maps it into
// the raw code range, and adds noise.
func (s *SimCell) Sample() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples++
	if s.FailEvery > 0 && s.samples%s.FailEvery == 0 {
		return 0, errTransducerFault
	}

	resistance := 10_000.0
	if s.mode == 1 {
		resistance = 1_000_000.0
	}

	current := s.applied / s.CellOhms
	vout := 2*s.VRefVolts - s.applied - current*resistance

	raw := vout / s.ADCRefVolts * protocol.ADCFullScale
	raw += s.rng.NormFloat64() * s.NoiseCodes

	code := int(math.Round(raw))
	if code < 0 {
		code = 0
	}
	if code > protocol.ADCFullScale {
		code = protocol.ADCFullScale
	}
	return code, nil
}

var errTransducerFault = errSim("simulated transducer fault")

type errSim string

func (e errSim) Error() string { return string(e) }
