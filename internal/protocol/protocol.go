// Package protocol defines the ASCII line protocol spoken between the
// potentiostat firmware and the host. Commands travel host-to-device,
// newline terminated; the device answers with bare ADC readings, status
// lines, and diagnostics. Both sides of the link share this package so the
// contract cannot drift.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultBaudRate is the link rate used by all shipped board revisions.
const DefaultBaudRate = 115200

// ADCFullScale is the largest raw code the transducer can report
// (ADS1115 single-ended).
const ADCFullScale = 32767

// Outbound command verbs.
const (
	CmdStop      = "STOP"
	CmdCalibrate = "CALIBRATE"
	CmdNoop      = "NOOP"

	cmdStartPrefix = "START:"
	cmdModePrefix  = "MODE_"
)

// Inbound status and diagnostic lines.
const (
	LineComplete    = "CV complete."
	LineStopped     = "CV stopped."
	LineSkipNotice  = "Skipping transient data"
	LineADCError    = "ADC:ERROR"
	LineOK          = "OK"
	LineCalComplete = "CAL complete."

	errorPrefix = "Error: "
	ackPrefix   = "Applied Parameters:"
	modePrefix  = "Mode: "
)

// Kind discriminates parsed inbound lines.
type Kind int

const (
	// KindNotice covers unrecognised diagnostic lines. They are ignored by
	// consumers, never surfaced as protocol errors.
	KindNotice Kind = iota
	// KindData is a raw transducer sample.
	KindData
	// KindAck is a command acknowledgment (start confirmation, OK, mode echo).
	KindAck
	// KindComplete is the normal end-of-run status.
	KindComplete
	// KindStopped is the aborted-run status.
	KindStopped
	// KindSkip is the settling diagnostic emitted during the initial skip window.
	KindSkip
	// KindTransducerError is a per-sample read fault; acquisition continues.
	KindTransducerError
	// KindDeviceError is a device-reported fatal fault.
	KindDeviceError
)

// Message is one parsed inbound line.
type Message struct {
	Kind   Kind
	Raw    int    // valid when Kind == KindData
	Reason string // valid for KindDeviceError
	Line   string // the original line, verbatim
}

// StartCommand formats the START command for a triangular ramp.
func StartCommand(startV, endV, scanRate float64, cycles int) string {
	return fmt.Sprintf("%s%g:%g:%g:%d", cmdStartPrefix, startV, endV, scanRate, cycles)
}

// ModeCommand formats the current-range mode switch command.
func ModeCommand(mode int) string {
	return fmt.Sprintf("%s%d", cmdModePrefix, mode)
}

// StartAck formats the parameter confirmation the firmware emits in
// response to a valid START.
func StartAck(startV, endV, scanRate float64, cycles int) string {
	return fmt.Sprintf("%s start=%g end=%g rate=%g cycles=%d", ackPrefix, startV, endV, scanRate, cycles)
}

// ModeAck formats the firmware echo for a mode switch.
func ModeAck(mode int) string {
	return fmt.Sprintf("%s%d", modePrefix, mode)
}

// ErrorLine formats a device-reported error.
func ErrorLine(reason string) string {
	return errorPrefix + reason
}

// IsFailure reports whether an inbound line is a failure marker for
// command acknowledgment purposes.
func IsFailure(line string) bool {
	return strings.HasPrefix(line, strings.TrimSpace(errorPrefix)) || line == LineADCError
}

// Parse classifies one inbound line. Parse never fails: lines that match
// nothing are diagnostics and come back as KindNotice.
func Parse(line string) Message {
	line = strings.TrimSpace(line)
	msg := Message{Line: line}

	switch line {
	case LineComplete:
		msg.Kind = KindComplete
		return msg
	case LineStopped:
		msg.Kind = KindStopped
		return msg
	case LineSkipNotice:
		msg.Kind = KindSkip
		return msg
	case LineADCError:
		msg.Kind = KindTransducerError
		return msg
	case LineOK, LineCalComplete:
		msg.Kind = KindAck
		return msg
	}

	if strings.HasPrefix(line, errorPrefix) {
		msg.Kind = KindDeviceError
		msg.Reason = strings.TrimPrefix(line, errorPrefix)
		return msg
	}
	if strings.HasPrefix(line, ackPrefix) || strings.HasPrefix(line, modePrefix) {
		msg.Kind = KindAck
		return msg
	}

	if raw, err := strconv.Atoi(line); err == nil {
		if raw >= 0 && raw <= ADCFullScale {
			msg.Kind = KindData
			msg.Raw = raw
			return msg
		}
		// Out-of-range integers are diagnostics, not samples.
	}

	msg.Kind = KindNotice
	return msg
}

// Command is one parsed host command, as seen by the firmware.
type Command struct {
	Verb     Verb
	StartV   float64
	EndV     float64
	ScanRate float64
	Cycles   int
	Mode     int
}

// Verb enumerates host command verbs.
type Verb int

const (
	VerbStart Verb = iota
	VerbStop
	VerbMode
	VerbCalibrate
	VerbNoop
)

// ParseCommand parses one host command line. Malformed input returns an
// error and must not mutate device state.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)

	switch line {
	case CmdStop:
		return Command{Verb: VerbStop}, nil
	case CmdCalibrate:
		return Command{Verb: VerbCalibrate}, nil
	case CmdNoop:
		return Command{Verb: VerbNoop}, nil
	}

	if strings.HasPrefix(line, cmdModePrefix) {
		mode, err := strconv.Atoi(strings.TrimPrefix(line, cmdModePrefix))
		if err != nil || (mode != 0 && mode != 1) {
			return Command{}, fmt.Errorf("invalid mode command %q", line)
		}
		return Command{Verb: VerbMode, Mode: mode}, nil
	}

	if strings.HasPrefix(line, cmdStartPrefix) {
		fields := strings.Split(strings.TrimPrefix(line, cmdStartPrefix), ":")
		if len(fields) != 4 {
			return Command{}, fmt.Errorf("invalid START command %q: expected 4 fields, got %d", line, len(fields))
		}
		startV, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid start voltage %q: %w", fields[0], err)
		}
		endV, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid end voltage %q: %w", fields[1], err)
		}
		rate, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid scan rate %q: %w", fields[2], err)
		}
		cycles, err := strconv.Atoi(fields[3])
		if err != nil {
			return Command{}, fmt.Errorf("invalid cycle count %q: %w", fields[3], err)
		}
		return Command{Verb: VerbStart, StartV: startV, EndV: endV, ScanRate: rate, Cycles: cycles}, nil
	}

	return Command{}, fmt.Errorf("unrecognised command %q", line)
}
