package voltammetry

import "sync"

// Reading is one converted sample: elapsed time, the raw code it came from,
// the applied potential at that instant, and the derived current.
// Readings are append-only once created.
type Reading struct {
	ElapsedSeconds float64 `json:"t"`
	Raw            int     `json:"raw"`
	AppliedVolts   float64 `json:"v"`
	CurrentUA      float64 `json:"i"`
	Cycle          int     `json:"cycle"`
}

// Sink receives each reading as it arrives. Implementations must not block
// for long: the lifecycle loop calls Push inline.
type Sink interface {
	Push(Reading)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Reading)

// Push implements Sink.
func (f SinkFunc) Push(r Reading) { f(r) }

// Recorder buffers readings incrementally and forwards each one to an
// optional sink on append. Appends are O(1) amortized and never require
// recomputing prior entries. Single writer; snapshots are safe to take
// concurrently with appends.
type Recorder struct {
	mu       sync.RWMutex
	readings []Reading
	sink     Sink
}

// NewRecorder creates a Recorder pushing to the given sink. A nil sink is
// allowed.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Append adds one reading and pushes it to the sink.
func (r *Recorder) Append(reading Reading) {
	r.mu.Lock()
	r.readings = append(r.readings, reading)
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Push(reading)
	}
}

// Len returns the number of buffered readings.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.readings)
}

// Snapshot returns a copy of the buffered readings. Already-appended
// entries are never mutated, so the copy is stable.
func (r *Recorder) Snapshot() []Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Reading, len(r.readings))
	copy(out, r.readings)
	return out
}
