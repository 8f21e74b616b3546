// Package experiment orchestrates one technique run against a connected
// device: validate → translate to device commands → stream → finalize.
// Techniques plug in through a fixed hook interface; an explicit registry
// maps identifiers to constructors with no registration side effects at
// import time.
package experiment

import (
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/potentiostat/internal/config"
	"github.com/banshee-data/potentiostat/internal/protocol"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

// Technique is the fixed hook interface every measurement technique
// implements.
type Technique interface {
	// Name returns the human-readable technique name.
	Name() string
	// Validate rejects parameters the technique cannot run.
	Validate(p voltammetry.Params) error
	// DeviceCommands translates parameters into the ordered command
	// sequence sent before acquisition.
	DeviceCommands(p voltammetry.Params) []string
	// TransformSample converts one raw sample into a reading. The second
	// return value is false when the sample should be discarded.
	TransformSample(raw int, elapsed time.Duration, p voltammetry.Params) (voltammetry.Reading, bool)
	// Done reports whether an inbound message ends the run normally.
	Done(msg protocol.Message) bool
	// Finish computes summary statistics on the finalized session.
	Finish(s *Session)
}

// Constructor builds a technique bound to the instrument calibration.
type Constructor func(cal *config.Calibration) Technique

// Registry is the explicit technique table, built once at startup.
type Registry struct {
	constructors map[string]Constructor
}

// CyclicVoltammetryID identifies the canonical triangular-ramp technique.
const CyclicVoltammetryID = "cv"

// NewRegistry builds the registry with the built-in techniques.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(CyclicVoltammetryID, func(cal *config.Calibration) Technique {
		return NewCyclicVoltammetry(cal)
	})
	return r
}

// Register adds a technique constructor under the given identifier.
func (r *Registry) Register(id string, c Constructor) {
	r.constructors[id] = c
}

// New constructs the technique registered under id.
func (r *Registry) New(id string, cal *config.Calibration) (Technique, error) {
	c, ok := r.constructors[id]
	if !ok {
		return nil, fmt.Errorf("unknown technique %q (known: %v)", id, r.IDs())
	}
	return c(cal), nil
}

// IDs returns the registered technique identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// minVertexSpanVolts is the smallest allowed separation between vertex
// potentials.
const minVertexSpanVolts = 0.01

// CyclicVoltammetry sweeps a triangular potential ramp and records the
// resulting current.
type CyclicVoltammetry struct {
	cal *config.Calibration
}

// NewCyclicVoltammetry binds the technique to the instrument calibration.
func NewCyclicVoltammetry(cal *config.Calibration) *CyclicVoltammetry {
	if cal == nil {
		cal = config.Empty()
	}
	return &CyclicVoltammetry{cal: cal}
}

// Name implements Technique.
func (cv *CyclicVoltammetry) Name() string { return "Cyclic Voltammetry" }

// Validate implements Technique.
func (cv *CyclicVoltammetry) Validate(p voltammetry.Params) error {
	if err := p.Validate(cv.cal.GetHardwareLimitVolts()); err != nil {
		return err
	}
	span := p.EndVolts - p.StartVolts
	if span < 0 {
		span = -span
	}
	if span < minVertexSpanVolts {
		return fmt.Errorf("vertex potentials must differ by at least %g V, got %g", minVertexSpanVolts, span)
	}
	// At full quantization the device steps 1000 times per half-cycle with
	// a 1 ms floor; faster sweeps would alias the ramp.
	if p.HalfCycleSeconds() < 1.0 {
		return fmt.Errorf("scan rate %g V/s over %g V implies sub-resolution step timing", p.ScanRate, span)
	}
	return nil
}

// DeviceCommands implements Technique: select the current range, then start
// the ramp.
func (cv *CyclicVoltammetry) DeviceCommands(p voltammetry.Params) []string {
	return []string{
		protocol.ModeCommand(int(p.Mode)),
		protocol.StartCommand(p.StartVolts, p.EndVolts, p.ScanRate, p.Cycles),
	}
}

// TransformSample implements Technique: the applied potential is a pure
// function of elapsed time, and the current follows from the
// transimpedance conversion.
func (cv *CyclicVoltammetry) TransformSample(raw int, elapsed time.Duration, p voltammetry.Params) (voltammetry.Reading, bool) {
	if raw < 0 || raw > protocol.ADCFullScale {
		return voltammetry.Reading{}, false
	}
	seconds := elapsed.Seconds()
	applied := voltammetry.AppliedVoltage(seconds, p)
	return voltammetry.Reading{
		ElapsedSeconds: seconds,
		Raw:            raw,
		AppliedVolts:   applied,
		CurrentUA:      voltammetry.CurrentFromRaw(raw, applied, p.Mode, cv.cal),
		Cycle:          voltammetry.CycleIndex(seconds, p),
	}, true
}

// Done implements Technique.
func (cv *CyclicVoltammetry) Done(msg protocol.Message) bool {
	return msg.Kind == protocol.KindComplete || msg.Kind == protocol.KindStopped
}

// Finish implements Technique.
func (cv *CyclicVoltammetry) Finish(s *Session) {
	s.Summary = voltammetry.Summarize(s.Readings())
}
