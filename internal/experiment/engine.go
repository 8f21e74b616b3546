package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/potentiostat/internal/config"
	"github.com/banshee-data/potentiostat/internal/monitoring"
	"github.com/banshee-data/potentiostat/internal/protocol"
	"github.com/banshee-data/potentiostat/internal/serialmux"
	"github.com/banshee-data/potentiostat/internal/timeutil"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

// Transport is the slice of the serial mux the engine needs. *serialmux.Mux
// satisfies it.
type Transport interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
	SendSequence(ctx context.Context, commands []string, timeout time.Duration) error
}

// Transition is one observed status change.
type Transition struct {
	From  Status
	To    Status
	Cause string
}

// Observer receives status transitions. Notification is synchronous and
// ordered by subscription time; a panicking observer is isolated and
// cannot abort the run.
type Observer func(Transition)

// ErrEngineBusy is returned when Run is called while a run is in progress.
var ErrEngineBusy = errors.New("experiment engine busy")

var logf = monitoring.Scope("experiment")

// Engine drives one technique run at a time. It is reusable across runs.
type Engine struct {
	registry *Registry
	cal      *config.Calibration

	mu        sync.Mutex
	status    Status
	observers []Observer
	abortOnce *sync.Once
	abortCh   chan struct{}
	transport Transport

	// clock is replaceable in tests.
	clock timeutil.Clock
}

// NewEngine creates an engine over the given registry and calibration.
func NewEngine(registry *Registry, cal *config.Calibration) *Engine {
	if cal == nil {
		cal = config.Empty()
	}
	return &Engine{
		registry: registry,
		cal:      cal,
		status:   StatusIdle,
		clock:    timeutil.RealClock{},
	}
}

// Status returns the engine's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Watch subscribes an observer to status transitions.
func (e *Engine) Watch(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// Abort requests that the current run stop. It is callable from any
// goroutine, idempotent, and takes effect at the next safe loop boundary;
// in-flight I/O is never forcibly terminated. The device receives STOP
// immediately but acts on it at its own step boundary.
func (e *Engine) Abort() {
	e.mu.Lock()
	once, ch, transport := e.abortOnce, e.abortCh, e.transport
	e.mu.Unlock()
	if once == nil {
		return // no run in progress
	}
	once.Do(func() {
		if transport != nil {
			if err := transport.SendCommand(protocol.CmdStop); err != nil {
				logf("abort STOP send failed: %v", err)
			}
		}
		close(ch)
	})
}

func (e *Engine) transition(to Status, cause string) {
	e.mu.Lock()
	from := e.status
	e.status = to
	e.mu.Unlock()

	e.announce(from, to, cause)
}

// announce notifies observers of a transition whose endpoints are already
// known. Run pre-sets the status under the busy-check lock, so the first
// notification of a run cannot rely on reading the current status.
func (e *Engine) announce(from, to Status, cause string) {
	if from == to {
		return
	}
	e.mu.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	t := Transition{From: from, To: to, Cause: cause}
	for _, obs := range observers {
		notify(obs, t)
	}
}

// notify isolates observer panics from the run.
func notify(obs Observer, t Transition) {
	defer func() {
		if r := recover(); r != nil {
			logf("observer panicked on %s→%s: %v", t.From, t.To, r)
		}
	}()
	obs(t)
}

// Run executes one technique run end to end and returns the finalized
// session. Component-local faults are absorbed into the session's warning
// count; session-level failures land in the session's terminal state and
// the returned error.
func (e *Engine) Run(ctx context.Context, techniqueID string, params voltammetry.Params, transport Transport, sink voltammetry.Sink) (*Session, error) {
	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return nil, ErrEngineBusy
	}
	e.status = StatusConfiguring
	e.abortOnce = &sync.Once{}
	e.abortCh = make(chan struct{})
	e.transport = transport
	abortCh := e.abortCh
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.status = StatusIdle
		e.abortOnce = nil
		e.abortCh = nil
		e.transport = nil
		e.mu.Unlock()
	}()

	session := newSession(techniqueID, params, sink)
	session.StartedAt = e.clock.Now()
	e.announce(StatusIdle, StatusConfiguring, "")

	technique, err := e.registry.New(techniqueID, e.cal)
	if err != nil {
		return e.fail(session, err)
	}

	if err := technique.Validate(params); err != nil {
		err = fmt.Errorf("parameter validation failed: %w", err)
		return e.fail(session, err)
	}

	// Subscribe before configuring the device so no early sample can be
	// missed between the START ack and the first read.
	id, lines := transport.Subscribe()
	defer transport.Unsubscribe(id)

	if err := transport.SendSequence(ctx, technique.DeviceCommands(params), serialmux.DefaultCommandTimeout); err != nil {
		err = fmt.Errorf("device configuration failed: %w", err)
		return e.fail(session, err)
	}

	acquisitionStart := e.clock.Now()
	session.Status = StatusRunning
	e.transition(StatusRunning, "")

	terminal, cause := e.consume(ctx, abortCh, lines, technique, params, session, acquisitionStart)

	session.EndedAt = e.clock.Now()
	if terminal != StatusError {
		technique.Finish(session)
	}
	session.Status = terminal
	session.ErrorCause = cause
	e.transition(terminal, cause)

	if terminal == StatusError {
		return session, errors.New(cause)
	}
	return session, nil
}

// fail finalizes a session that never reached acquisition.
func (e *Engine) fail(session *Session, err error) (*Session, error) {
	session.Status = StatusError
	session.ErrorCause = err.Error()
	session.EndedAt = e.clock.Now()
	e.transition(StatusError, err.Error())
	return session, err
}

// consume drains the inbound message stream in FIFO order until a terminal
// condition. It returns the terminal status and error cause, if any.
func (e *Engine) consume(
	ctx context.Context,
	abortCh <-chan struct{},
	lines <-chan string,
	technique Technique,
	params voltammetry.Params,
	session *Session,
	start time.Time,
) (Status, string) {
	for {
		select {
		case <-ctx.Done():
			return StatusAborted, ctx.Err().Error()

		case <-abortCh:
			// Externally requested abort: break pre-emptively. The device
			// has already been sent STOP.
			return StatusAborted, ""

		case line, ok := <-lines:
			if !ok {
				return StatusError, "link disconnected during acquisition"
			}

			msg := protocol.Parse(line)
			switch msg.Kind {
			case protocol.KindData:
				reading, keep := technique.TransformSample(msg.Raw, e.clock.Since(start), params)
				if keep {
					session.recorder.Append(reading)
				}

			case protocol.KindSkip:
				session.Skipped++

			case protocol.KindTransducerError:
				// Per-sample fault: omit the reading, keep acquiring.
				session.Warnings++

			case protocol.KindDeviceError:
				return StatusError, fmt.Sprintf("device fault: %s", msg.Reason)

			case protocol.KindComplete:
				if technique.Done(msg) {
					return StatusCompleted, ""
				}

			case protocol.KindStopped:
				if technique.Done(msg) {
					return StatusStopped, ""
				}

			case protocol.KindAck, protocol.KindNotice:
				// Diagnostics and stray acks are ignored, never surfaced as
				// protocol errors.
			}
		}
	}
}
