package experiment

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

// Status enumerates lifecycle states. Terminal statuses are per run; the
// engine itself returns to Idle and is reusable.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusConfiguring Status = "configuring"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusStopped     Status = "stopped"
	StatusAborted     Status = "aborted"
	StatusError       Status = "error"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusAborted, StatusError:
		return true
	}
	return false
}

// Session is the record of one run. It is owned exclusively by the engine
// for the run's duration; collaborators receive it only after a terminal
// transition, or as an immutable snapshot during acquisition.
type Session struct {
	ID        uuid.UUID
	Technique string
	Params    voltammetry.Params
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time

	// Warnings counts recovered faults: skipped malformed lines and
	// per-sample transducer errors.
	Warnings int
	// Skipped counts suppressed skip-window samples.
	Skipped int
	// ErrorCause records the reason for an Error terminal state.
	ErrorCause string

	Summary voltammetry.Summary

	recorder *voltammetry.Recorder
}

func newSession(technique string, params voltammetry.Params, sink voltammetry.Sink) *Session {
	return &Session{
		ID:        uuid.New(),
		Technique: technique,
		Params:    params,
		Status:    StatusConfiguring,
		recorder:  voltammetry.NewRecorder(sink),
	}
}

// RestoreSession reconstructs a finalized session from archived fields, for
// rendering reports from the store.
func RestoreSession(id uuid.UUID, technique string, params voltammetry.Params, status Status, readings []voltammetry.Reading) *Session {
	s := &Session{
		ID:        id,
		Technique: technique,
		Params:    params,
		Status:    status,
		recorder:  voltammetry.NewRecorder(nil),
	}
	for _, r := range readings {
		s.recorder.Append(r)
	}
	s.Summary = voltammetry.Summarize(readings)
	return s
}

// Readings returns a stable copy of the recorded samples.
func (s *Session) Readings() []voltammetry.Reading {
	return s.recorder.Snapshot()
}

// Len returns the number of recorded samples.
func (s *Session) Len() int {
	return s.recorder.Len()
}
