package protocol

import (
	"strings"
	"testing"
)

func TestParse_StatusLines(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{"CV complete.", KindComplete},
		{"CV stopped.", KindStopped},
		{"Skipping transient data", KindSkip},
		{"ADC:ERROR", KindTransducerError},
		{"OK", KindAck},
		{"CAL complete.", KindAck},
		{"Mode: 1", KindAck},
		{"Applied Parameters: start=-0.5 end=0.5 rate=0.1 cycles=2", KindAck},
		{"Error: scan rate must be positive", KindDeviceError},
		{"booting rev 3 firmware", KindNotice},
		{"", KindNotice},
	}
	for _, tt := range tests {
		got := Parse(tt.line)
		if got.Kind != tt.want {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.line, got.Kind, tt.want)
		}
	}
}

func TestParse_DataLines(t *testing.T) {
	tests := []struct {
		line     string
		wantKind Kind
		wantRaw  int
	}{
		{"0", KindData, 0},
		{"16384", KindData, 16384},
		{"32767", KindData, 32767},
		{"  12345  ", KindData, 12345}, // whitespace tolerated
		{"-1", KindNotice, 0},          // below range
		{"32768", KindNotice, 0},       // above full scale
		{"12.5", KindNotice, 0},        // not an integer
	}
	for _, tt := range tests {
		got := Parse(tt.line)
		if got.Kind != tt.wantKind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.line, got.Kind, tt.wantKind)
			continue
		}
		if got.Kind == KindData && got.Raw != tt.wantRaw {
			t.Errorf("Parse(%q).Raw = %d, want %d", tt.line, got.Raw, tt.wantRaw)
		}
	}
}

func TestParse_DeviceErrorReason(t *testing.T) {
	msg := Parse("Error: vertex potentials must be within ±1.5 V")
	if msg.Kind != KindDeviceError {
		t.Fatalf("expected KindDeviceError, got %v", msg.Kind)
	}
	if msg.Reason != "vertex potentials must be within ±1.5 V" {
		t.Errorf("unexpected reason %q", msg.Reason)
	}
}

func TestParse_NeverPanicsOnGarbage(t *testing.T) {
	for _, line := range []string{"\x00\xff", strings.Repeat("x", 10000), ":::", "START:"} {
		msg := Parse(line)
		if msg.Kind != KindNotice {
			t.Errorf("Parse(%q) = %v, want KindNotice", line, msg.Kind)
		}
	}
}

func TestStartCommand_RoundTrip(t *testing.T) {
	line := StartCommand(-0.5, 0.5, 0.1, 2)
	if line != "START:-0.5:0.5:0.1:2" {
		t.Fatalf("unexpected START encoding %q", line)
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		t.Fatalf("ParseCommand(%q) failed: %v", line, err)
	}
	if cmd.Verb != VerbStart {
		t.Errorf("Verb = %v, want VerbStart", cmd.Verb)
	}
	if cmd.StartV != -0.5 || cmd.EndV != 0.5 || cmd.ScanRate != 0.1 || cmd.Cycles != 2 {
		t.Errorf("parsed fields = %+v", cmd)
	}
}

func TestModeCommand_RoundTrip(t *testing.T) {
	for _, mode := range []int{0, 1} {
		cmd, err := ParseCommand(ModeCommand(mode))
		if err != nil {
			t.Fatalf("ParseCommand(ModeCommand(%d)) failed: %v", mode, err)
		}
		if cmd.Verb != VerbMode || cmd.Mode != mode {
			t.Errorf("parsed %+v, want VerbMode/%d", cmd, mode)
		}
	}
}

func TestParseCommand_SimpleVerbs(t *testing.T) {
	tests := []struct {
		line string
		want Verb
	}{
		{"STOP", VerbStop},
		{"CALIBRATE", VerbCalibrate},
		{"NOOP", VerbNoop},
	}
	for _, tt := range tests {
		cmd, err := ParseCommand(tt.line)
		if err != nil {
			t.Fatalf("ParseCommand(%q) failed: %v", tt.line, err)
		}
		if cmd.Verb != tt.want {
			t.Errorf("ParseCommand(%q).Verb = %v, want %v", tt.line, cmd.Verb, tt.want)
		}
	}
}

func TestParseCommand_Malformed(t *testing.T) {
	lines := []string{
		"",
		"START",
		"START:1:2:3",           // missing cycles
		"START:1:2:3:4:5",       // extra field
		"START:one:2:0.1:1",     // non-numeric voltage
		"START:0:0.5:rate:1",    // non-numeric rate
		"START:0:0.5:0.1:many",  // non-numeric cycles
		"MODE_2",                // out-of-range mode
		"MODE_x",                // non-numeric mode
		"stop",                  // verbs are case sensitive
		"RESET",                 // unknown verb
	}
	for _, line := range lines {
		if _, err := ParseCommand(line); err == nil {
			t.Errorf("ParseCommand(%q) succeeded, want error", line)
		}
	}
}

func TestIsFailure(t *testing.T) {
	if !IsFailure("Error: bad params") {
		t.Error("error line should be a failure marker")
	}
	if !IsFailure("ADC:ERROR") {
		t.Error("transducer error should be a failure marker")
	}
	if IsFailure("OK") || IsFailure("16384") || IsFailure("Mode: 1") {
		t.Error("acks and data must not be failure markers")
	}
}
