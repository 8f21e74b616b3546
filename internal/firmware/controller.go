// Package firmware implements the device-side waveform controller: a
// stepped triangular ramp committed to the DAC in lockstep with transducer
// sampling, driven by a single cooperative loop that polls for host
// commands at step boundaries only. Command latency is therefore bounded
// by one step interval, never by preemption.
package firmware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/potentiostat/internal/monitoring"
	"github.com/banshee-data/potentiostat/internal/protocol"
)

var logf = monitoring.Scope("firmware")

// State tracks the controller through a run.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateRunning
)

// Config carries the calibrated constants the controller needs. The zero
// value is usable; unset fields take the defaults below.
type Config struct {
	// HardwareLimitVolts bounds accepted vertex potentials.
	HardwareLimitVolts float64
	// DACSpanVolts is the magnitude of the bipolar DAC output range.
	DACSpanVolts float64
	// SettlingDelay is applied once, after the very first code commit of a
	// run, regardless of sweep direction.
	SettlingDelay time.Duration
	// InitialSkipCount suppresses this many leading cycle-0 samples,
	// emitting a diagnostic notice instead while the ramp still advances.
	InitialSkipCount int
	// CalibrateSamples and CalibrateInterval shape the CALIBRATE burst.
	CalibrateSamples  int
	CalibrateInterval time.Duration

	// Sleep is replaceable in tests to avoid real-time waits.
	Sleep func(time.Duration)
}

func (c Config) withDefaults() Config {
	if c.HardwareLimitVolts == 0 {
		c.HardwareLimitVolts = 1.5
	}
	if c.DACSpanVolts == 0 {
		c.DACSpanVolts = 2.048
	}
	if c.SettlingDelay == 0 {
		c.SettlingDelay = 100 * time.Millisecond
	}
	if c.InitialSkipCount == 0 {
		c.InitialSkipCount = 50
	}
	if c.CalibrateSamples == 0 {
		c.CalibrateSamples = 100
	}
	if c.CalibrateInterval == 0 {
		c.CalibrateInterval = 10 * time.Millisecond
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return c
}

// minStepDelay is the floor on the per-step delay: one time unit.
const minStepDelay = time.Millisecond

// maxStepsPerHalf quantizes the ramp to at most this many steps per
// half-cycle.
const maxStepsPerHalf = 1000

// rampPlan consolidates the loop state the ramp needs: everything derived
// from one START command lives here rather than in scattered flags.
type rampPlan struct {
	startCode    uint16
	endCode      uint16
	stepsPerHalf int
	// codePerStep is fractional: quantizing it to whole codes would make
	// spans not divisible by the step count undershoot each half-cycle and
	// jump at the vertex.
	codePerStep float64
	stepDelay   time.Duration
	cycles      int
	rising      bool // direction of the first half-cycle
}

// Controller runs the waveform loop over a DAC/ADC pair, speaking the line
// protocol on rw.
type Controller struct {
	rw  io.ReadWriter
	dac DAC
	adc ADC
	cfg Config

	mu    sync.Mutex
	state State
	mode  int

	neutral  uint16
	commands chan string
}

// New creates a Controller. The DAC is parked at neutral immediately.
func New(rw io.ReadWriter, dac DAC, adc ADC, cfg Config) *Controller {
	c := &Controller{
		rw:       rw,
		dac:      dac,
		adc:      adc,
		cfg:      cfg.withDefaults(),
		commands: make(chan string, 4),
	}
	c.neutral = c.codeForVoltage(0)
	c.dac.SetCode(c.neutral)
	return c
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// codeForVoltage maps a potential onto the bipolar DAC code range.
func (c *Controller) codeForVoltage(v float64) uint16 {
	span := c.cfg.DACSpanVolts
	if v > span {
		v = span
	}
	if v < -span {
		v = -span
	}
	code := math.Round((v + span) / (2 * span) * 65535)
	return uint16(code)
}

func (c *Controller) emit(line string) {
	if _, err := fmt.Fprintln(c.rw, line); err != nil {
		logf("telemetry write failed: %v", err)
	}
}

func (c *Controller) emitError(reason string) {
	c.emit(protocol.ErrorLine(reason))
}

// Run services host commands until the context is cancelled or the command
// stream ends. A reader goroutine feeds lines into a channel; the loop and
// the ramp poll that channel, so commands are only ever acted on at safe
// boundaries.
func (c *Controller) Run(ctx context.Context) error {
	go c.readCommands(ctx)

	for {
		select {
		case <-ctx.Done():
			c.park()
			return ctx.Err()
		case line, ok := <-c.commands:
			if !ok {
				c.park()
				return nil
			}
			c.dispatch(ctx, line)
		}
	}
}

func (c *Controller) readCommands(ctx context.Context) {
	defer close(c.commands)
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		select {
		case c.commands <- scan.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scan.Err(); err != nil && err != io.EOF {
		logf("command read failed: %v", err)
	}
}

// dispatch handles one command line from the idle loop.
func (c *Controller) dispatch(ctx context.Context, line string) {
	if line == "" {
		return
	}
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		// Malformed commands are non-fatal and mutate no state.
		c.emitError(err.Error())
		return
	}

	switch cmd.Verb {
	case VerbNoop:
		c.emit(protocol.LineOK)
	case VerbMode:
		c.setMode(cmd.Mode)
	case VerbCalibrate:
		c.calibrate()
	case VerbStop:
		// Nothing running; still acknowledge deterministically.
		c.park()
		c.emit(protocol.LineStopped)
	case VerbStart:
		c.start(ctx, cmd)
	}
}

// Re-exported verbs keep the switch readable without qualifying each case.
const (
	VerbStart     = protocol.VerbStart
	VerbStop      = protocol.VerbStop
	VerbMode      = protocol.VerbMode
	VerbCalibrate = protocol.VerbCalibrate
	VerbNoop      = protocol.VerbNoop
)

func (c *Controller) setMode(mode int) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	if ms, ok := c.adc.(ModeSetter); ok {
		ms.SetMode(mode)
	}
	c.emit(protocol.ModeAck(mode))
}

// calibrate emits a burst of idle samples for the host to average into an
// offset constant, then a completion ack.
func (c *Controller) calibrate() {
	c.dac.SetCode(c.neutral)
	for i := 0; i < c.cfg.CalibrateSamples; i++ {
		raw, err := c.adc.Sample()
		if err != nil {
			c.emit(protocol.LineADCError)
		} else {
			c.emit(fmt.Sprintf("%d", raw))
		}
		c.cfg.Sleep(c.cfg.CalibrateInterval)
	}
	c.emit(protocol.LineCalComplete)
}

// start validates parameters, emits the confirmation ack, and runs the ramp.
func (c *Controller) start(ctx context.Context, cmd protocol.Command) {
	if c.State() != StateIdle {
		c.emitError("acquisition already running")
		return
	}
	c.setState(StateConfiguring)

	plan, err := c.plan(cmd)
	if err != nil {
		c.setState(StateIdle)
		c.emitError(err.Error())
		return
	}

	c.emit(protocol.StartAck(cmd.StartV, cmd.EndV, cmd.ScanRate, cmd.Cycles))
	c.setState(StateRunning)
	c.runRamp(ctx, plan)
	c.setState(StateIdle)
}

// plan derives the ramp plan from a START command.
func (c *Controller) plan(cmd protocol.Command) (rampPlan, error) {
	limit := c.cfg.HardwareLimitVolts
	if math.Abs(cmd.StartV) > limit || math.Abs(cmd.EndV) > limit {
		return rampPlan{}, fmt.Errorf("vertex potentials must be within ±%g V", limit)
	}
	if cmd.StartV == cmd.EndV {
		return rampPlan{}, fmt.Errorf("start and end potentials cannot be equal")
	}
	if cmd.ScanRate <= 0 {
		return rampPlan{}, fmt.Errorf("scan rate must be positive")
	}
	if cmd.Cycles < 1 {
		return rampPlan{}, fmt.Errorf("cycle count must be at least 1")
	}

	startCode := c.codeForVoltage(cmd.StartV)
	endCode := c.codeForVoltage(cmd.EndV)

	span := int(endCode) - int(startCode)
	rising := span > 0
	if span < 0 {
		span = -span
	}

	steps := span
	if steps > maxStepsPerHalf {
		steps = maxStepsPerHalf
	}
	if steps < 1 {
		steps = 1
	}

	halfCycle := time.Duration(math.Abs(cmd.EndV-cmd.StartV) / cmd.ScanRate * float64(time.Second))
	stepDelay := halfCycle / time.Duration(steps)
	if stepDelay < minStepDelay {
		stepDelay = minStepDelay
	}

	return rampPlan{
		startCode:    startCode,
		endCode:      endCode,
		stepsPerHalf: steps,
		codePerStep:  float64(span) / float64(steps),
		stepDelay:    stepDelay,
		cycles:       cmd.Cycles,
		rising:       rising,
	}, nil
}

// runRamp executes the stepped triangular ramp. The DAC is returned to
// neutral on every exit path without exception.
func (c *Controller) runRamp(ctx context.Context, plan rampPlan) {
	defer c.park()

	skipRemaining := c.cfg.InitialSkipCount
	firstCommit := true
	pos := float64(plan.startCode)
	rising := plan.rising

	for cycle := 0; cycle < plan.cycles; cycle++ {
		for half := 0; half < 2; half++ {
			target := float64(plan.endCode)
			if half == 1 {
				target = float64(plan.startCode)
			}

			for step := 0; step < plan.stepsPerHalf; step++ {
				// Commands are polled at step boundaries only.
				select {
				case <-ctx.Done():
					return
				case line, ok := <-c.commands:
					if !ok {
						return
					}
					if c.handleMidRun(line) {
						return
					}
				default:
				}

				if err := c.dac.SetCode(uint16(math.Round(pos))); err != nil {
					c.emitError(fmt.Sprintf("waveform output fault: %v", err))
					return
				}

				// One settling pause after the first commit of the run,
				// independent of sweep direction.
				if firstCommit {
					c.cfg.Sleep(c.cfg.SettlingDelay)
					firstCommit = false
				}

				raw, err := c.adc.Sample()
				switch {
				case err != nil:
					// Per-sample fault; the run continues.
					c.emit(protocol.LineADCError)
				case cycle == 0 && skipRemaining > 0:
					skipRemaining--
					c.emit(protocol.LineSkipNotice)
				default:
					c.emit(fmt.Sprintf("%d", raw))
				}

				if rising {
					pos += plan.codePerStep
					if pos > target {
						pos = target
					}
				} else {
					pos -= plan.codePerStep
					if pos < target {
						pos = target
					}
				}

				c.cfg.Sleep(plan.stepDelay)
			}

			// Vertex: land exactly on the target code and reverse.
			pos = target
			rising = !rising
		}
	}

	c.emit(protocol.LineComplete)
}

// handleMidRun processes a command received during acquisition. It returns
// true when the ramp must halt.
func (c *Controller) handleMidRun(line string) bool {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		c.emitError(err.Error())
		return false
	}
	switch cmd.Verb {
	case VerbStop:
		c.park()
		c.emit(protocol.LineStopped)
		return true
	case VerbNoop:
		c.emit(protocol.LineOK)
		return false
	case VerbMode:
		c.setMode(cmd.Mode)
		return false
	default:
		c.emitError("busy: acquisition in progress")
		return false
	}
}

// park restores the DAC to the neutral code.
func (c *Controller) park() {
	if err := c.dac.SetCode(c.neutral); err != nil {
		logf("failed to park DAC at neutral: %v", err)
	}
}
