// Package serialmux provides an abstraction over a serial port with the
// ability for multiple clients to subscribe to lines from the potentiostat
// and to send commands to the single underlying device. Commands are
// serialized: only one may be in flight awaiting acknowledgment, so ack and
// data lines can never interleave ambiguously.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/potentiostat/internal/monitoring"
	"github.com/banshee-data/potentiostat/internal/protocol"
)

var (
	// ErrWriteFailed indicates a short write to the serial port.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrCommandTimeout indicates no acknowledgment line arrived in time.
	ErrCommandTimeout = errors.New("timed out waiting for command acknowledgment")
	// ErrCommandRejected indicates the device answered with a failure marker.
	ErrCommandRejected = errors.New("device rejected command")
	// ErrClosed indicates the mux has been closed.
	ErrClosed = errors.New("serial mux closed")
)

// DefaultCommandTimeout is how long a command waits for its acknowledgment.
const DefaultCommandTimeout = 2 * time.Second

// Mux is a generic serial port multiplexer that allows multiple clients to
// subscribe to lines from a single serial port.
type Mux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// Interface defines the behaviour of the Mux independent of the concrete
// port type.
type Interface interface {
	// Subscribe creates a new channel for receiving line events from the
	// serial port. The channel ID identifies the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the command to the serial port without awaiting a reply.
	SendCommand(string) error
	// SendCommandAwait writes the command and blocks until the next inbound
	// line is dequeued, checking it against the protocol failure markers.
	SendCommandAwait(ctx context.Context, command string, timeout time.Duration) error
	// SendSequence sends commands in order, short-circuiting at the first failure.
	SendSequence(ctx context.Context, commands []string, timeout time.Duration) error
	// Handshake verifies device liveness with one no-op command.
	Handshake(ctx context.Context) error
	// Monitor reads lines from the serial port and fans them out to subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the serial port.
	Close() error
}

// New creates a Mux instance backed by the given port.
func New[T SerialPorter](port T) *Mux[T] {
	return &Mux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new line channel and returns its ID.
func (s *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 64)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *Mux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a command to the serial port. The command mutex excludes
// concurrent writers; command text is newline terminated on the wire.
func (s *Mux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.write(command)
}

func (s *Mux[T]) write(command string) error {
	s.closingMu.Lock()
	closed := s.closing
	s.closingMu.Unlock()
	if closed {
		return ErrClosed
	}

	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// SendCommandAwait sends a command and waits for the next inbound line as
// its acknowledgment. It subscribes before writing so the reply cannot be
// missed, and never reports success before a line has actually been
// dequeued. A line matching a protocol failure marker yields
// ErrCommandRejected; silence yields ErrCommandTimeout.
func (s *Mux[T]) SendCommandAwait(ctx context.Context, command string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	if err := s.write(command); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-lines:
		if !ok {
			return ErrClosed
		}
		if protocol.IsFailure(line) {
			return fmt.Errorf("%w: %s", ErrCommandRejected, line)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %q", ErrCommandTimeout, command)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSequence sends commands in order and short-circuits at the first
// failing command.
func (s *Mux[T]) SendSequence(ctx context.Context, commands []string, timeout time.Duration) error {
	for _, command := range commands {
		if err := s.SendCommandAwait(ctx, command, timeout); err != nil {
			return fmt.Errorf("command %q failed: %w", command, err)
		}
	}
	return nil
}

// Handshake verifies liveness with one no-op command and its awaited
// acknowledgment. Callers run it once after open, before reporting the
// link connected.
func (s *Mux[T]) Handshake(ctx context.Context) error {
	if err := s.SendCommandAwait(ctx, protocol.CmdNoop, DefaultCommandTimeout); err != nil {
		return fmt.Errorf("liveness handshake failed: %w", err)
	}
	return nil
}

// Monitor reads lines from the serial port and fans them out to subscribers.
// The blocking scan runs in its own goroutine so the outer loop can await
// lines and context cancellation without ever stalling the command path.
func (s *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			monitoring.Debugf("serialmux: <- %q", line)

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// skip full subscriber channels so one slow consumer
					// cannot block the reader
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// Close closes all subscriber channels and the underlying port. It is
// idempotent.
func (s *Mux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}
