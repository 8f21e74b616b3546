package experiment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/potentiostat/internal/config"
	"github.com/banshee-data/potentiostat/internal/protocol"
	"github.com/banshee-data/potentiostat/internal/timeutil"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

// fakeTransport scripts the device side of a run.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	lines  chan string
	seqErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{lines: make(chan string, 256)}
}

func (f *fakeTransport) Subscribe() (string, chan string) { return "test", f.lines }
func (f *fakeTransport) Unsubscribe(string)               {}

func (f *fakeTransport) SendCommand(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) SendSequence(ctx context.Context, commands []string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seqErr != nil {
		return f.seqErr
	}
	f.sent = append(f.sent, commands...)
	return nil
}

func (f *fakeTransport) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func validParams() voltammetry.Params {
	return voltammetry.Params{StartVolts: -0.5, EndVolts: 0.5, ScanRate: 0.1, Cycles: 1}
}

func TestEngine_CompletedRun(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	for i := 0; i < 10; i++ {
		transport.lines <- "16000"
	}
	transport.lines <- protocol.LineComplete

	var pushed int
	sink := voltammetry.SinkFunc(func(voltammetry.Reading) { pushed++ })

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, sink)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, session.Status)
	assert.Equal(t, 10, session.Len())
	assert.Equal(t, 10, pushed)
	assert.Equal(t, 10, session.Summary.Samples)
	assert.False(t, session.EndedAt.IsZero())

	// Mode is configured before the ramp starts.
	sent := transport.sentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.ModeCommand(0), sent[0])
	assert.True(t, strings.HasPrefix(sent[1], "START:"))

	// The engine is reusable after a terminal state.
	assert.Equal(t, StatusIdle, engine.Status())
}

func TestEngine_ValidationFailsFast(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	bad := validParams()
	bad.ScanRate = -1

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, bad, transport, nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, session.Status)
	assert.NotEmpty(t, session.ErrorCause)
	assert.Empty(t, transport.sentCommands(), "no command may reach the device on invalid parameters")
}

func TestEngine_UnknownTechnique(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())

	session, err := engine.Run(context.Background(), "nope", validParams(), newFakeTransport(), nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, session.Status)
}

func TestEngine_ConfigurationFailure(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()
	transport.seqErr = errors.New("device rejected command")

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, session.Status)
	assert.Contains(t, session.ErrorCause, "device configuration failed")
}

func TestEngine_SkipAndWarningCounts(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	transport.lines <- protocol.LineSkipNotice
	transport.lines <- protocol.LineSkipNotice
	transport.lines <- protocol.LineADCError
	transport.lines <- "16000"
	transport.lines <- "some diagnostic chatter"
	transport.lines <- protocol.LineComplete

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, session.Status)
	assert.Equal(t, 2, session.Skipped)
	assert.Equal(t, 1, session.Warnings)
	assert.Equal(t, 1, session.Len(), "skips, faults, and notices must not become readings")
}

func TestEngine_DeviceErrorTerminatesRun(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	transport.lines <- "16000"
	transport.lines <- protocol.ErrorLine("waveform output fault")

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, session.Status)
	assert.Contains(t, session.ErrorCause, "waveform output fault")
}

func TestEngine_StoppedByDevice(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	transport.lines <- "16000"
	transport.lines <- protocol.LineStopped

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, session.Status)
	// The partial data survives a stop.
	assert.Equal(t, 1, session.Len())
	assert.Equal(t, 1, session.Summary.Samples)
}

func TestEngine_LinkDisconnect(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	transport.lines <- "16000"
	close(transport.lines)

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, session.Status)
	assert.Contains(t, session.ErrorCause, "link disconnected")
}

func TestEngine_Abort(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	done := make(chan struct{})
	var session *Session
	go func() {
		defer close(done)
		session, _ = engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	}()

	// Wait until the run is consuming, then abort from another goroutine.
	require.Eventually(t, func() bool { return engine.Status() == StatusRunning },
		2*time.Second, time.Millisecond)

	engine.Abort()
	engine.Abort() // idempotent

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not abort")
	}

	assert.Equal(t, StatusAborted, session.Status)
	assert.Contains(t, transport.sentCommands(), protocol.CmdStop, "abort must send STOP to the device")
}

func TestEngine_AbortWithoutRunIsNoop(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	engine.Abort() // must not panic
	assert.Equal(t, StatusIdle, engine.Status())
}

func TestEngine_BusyRejectsConcurrentRun(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	}()

	require.Eventually(t, func() bool { return engine.Status() == StatusRunning },
		2*time.Second, time.Millisecond)

	_, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), newFakeTransport(), nil)
	assert.ErrorIs(t, err, ErrEngineBusy)

	transport.lines <- protocol.LineComplete
	<-done
}

func TestEngine_ContextCancellation(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var session *Session
	go func() {
		defer close(done)
		session, _ = engine.Run(ctx, CyclicVoltammetryID, validParams(), transport, nil)
	}()

	require.Eventually(t, func() bool { return engine.Status() == StatusRunning },
		2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, StatusAborted, session.Status)
}

func TestEngine_ObserverPanicIsIsolated(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	var transitions []Transition
	engine.Watch(func(Transition) { panic("bad observer") })
	engine.Watch(func(tr Transition) { transitions = append(transitions, tr) })

	transport.lines <- protocol.LineComplete

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, session.Status)

	// The well-behaved observer saw every transition despite its peer.
	require.NotEmpty(t, transitions)
	assert.Equal(t, StatusCompleted, transitions[len(transitions)-1].To)
}

func TestEngine_ObserversSeeEveryTransition(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	transport := newFakeTransport()

	var transitions []Transition
	engine.Watch(func(tr Transition) { transitions = append(transitions, tr) })

	transport.lines <- "16000"
	transport.lines <- protocol.LineComplete

	_, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.NoError(t, err)

	want := []Transition{
		{From: StatusIdle, To: StatusConfiguring},
		{From: StatusConfiguring, To: StatusRunning},
		{From: StatusRunning, To: StatusCompleted},
	}
	assert.Equal(t, want, transitions)
}

func TestEngine_ValidationRejectsNarrowSpan(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())

	p := validParams()
	p.EndVolts = p.StartVolts + 0.001

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, p, newFakeTransport(), nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, session.Status)
}

func TestEngine_ElapsedTimeComesFromClock(t *testing.T) {
	engine := NewEngine(NewRegistry(), config.Empty())
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine.clock = clock

	transport := newFakeTransport()
	transport.lines <- "16000"
	transport.lines <- protocol.LineComplete

	session, err := engine.Run(context.Background(), CyclicVoltammetryID, validParams(), transport, nil)
	require.NoError(t, err)
	require.Equal(t, 1, session.Len())

	// The clock never advanced, so the sample sits at t=0 on the ramp.
	r := session.Readings()[0]
	assert.Equal(t, 0.0, r.ElapsedSeconds)
	assert.Equal(t, -0.5, r.AppliedVolts)
	assert.Equal(t, session.StartedAt, session.EndedAt)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusStopped, StatusAborted, StatusError} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusIdle, StatusConfiguring, StatusRunning} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{CyclicVoltammetryID}, r.IDs())

	tech, err := r.New(CyclicVoltammetryID, config.Empty())
	require.NoError(t, err)
	assert.Equal(t, "Cyclic Voltammetry", tech.Name())

	_, err = r.New("missing", config.Empty())
	assert.Error(t, err)
}

func TestCyclicVoltammetry_TransformSample(t *testing.T) {
	cv := NewCyclicVoltammetry(config.Empty())
	p := validParams()

	r, ok := cv.TransformSample(16000, 5*time.Second, p)
	require.True(t, ok)
	assert.InDelta(t, 5.0, r.ElapsedSeconds, 1e-9)
	assert.InDelta(t, 0.0, r.AppliedVolts, 1e-9) // midway up the first sweep
	assert.Equal(t, 16000, r.Raw)
	assert.Equal(t, 0, r.Cycle)

	_, ok = cv.TransformSample(-1, time.Second, p)
	assert.False(t, ok)
	_, ok = cv.TransformSample(40000, time.Second, p)
	assert.False(t, ok)
}
