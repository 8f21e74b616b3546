package serialmux

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Open creates a Mux backed by a real serial port at the given path using
// the provided serial options. Stale input is drained before the mux is
// handed to the caller so the first acknowledgment cannot be satisfied by
// leftover bytes from a previous session.
func Open(path string, opts PortOptions) (*Mux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := drain(port); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to clear stale buffers on %s: %w", path, err)
	}

	return New[serial.Port](port), nil
}

// Ports returns the list of serial ports visible to the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// drain reads and discards any bytes already buffered on the port.
func drain(port serial.Port) error {
	if err := port.ResetInputBuffer(); err != nil {
		return err
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return err
	}
	// A short read timeout lets us sweep up bytes that arrive between the
	// reset and the first scanner read.
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		return err
	}
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil || n == 0 {
			break
		}
	}
	return port.SetReadTimeout(serial.NoTimeout)
}
