// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ResyncPolicy decides what the reader loop does with a malformed
// interrupt frame, e.g. a stray partial line after a glitch on the
// serial link.
type ResyncPolicy int

const (
	// ResyncDrop logs the bad frame and resynchronizes on the next
	// line. This is the default.
	ResyncDrop ResyncPolicy = iota
	// ResyncStop halts the reader loop; the error is available from
	// Device.Err and every pending operation fails.
	ResyncStop
)

// readPollInterval is the deadline for each ReadLine poll inside the
// reader loop. Short enough that Close is responsive, long enough not
// to busy-wait.
const readPollInterval = 100 * time.Millisecond

// Device ties a Transport, a Protocol and an InterruptHandler
// together. One reader goroutine pulls lines off the transport and
// classifies them: interrupt telegrams ('P' prefix) go to the
// interrupt handler, everything else is handed to whichever protocol
// operation is awaiting its response. Only protocol operations write,
// so request/response traffic and the capture stream share the line
// without stepping on each other.
type Device struct {
	transport  Transport
	protocol   *Protocol
	interrupts *InterruptHandler

	resync  ResyncPolicy
	timeout time.Duration

	respCh chan string
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	err     error
}

// Option configures a Device.
type Option func(*Device)

// WithResyncPolicy sets how the reader loop treats malformed interrupt
// frames.
func WithResyncPolicy(p ResyncPolicy) Option {
	return func(d *Device) { d.resync = p }
}

// WithCaptureMask sets the initial capture mask for the interrupt
// decoder. It must match the PC_BIT_CAP register before an acquisition
// is armed.
func WithCaptureMask(m CaptureMask) Option {
	return func(d *Device) { d.interrupts.SetCaptureMask(m) }
}

// WithTimeout sets the response deadline for register operations.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) { d.timeout = timeout }
}

// New creates a Device over t. The transport is not connected yet;
// call Connect.
func New(t Transport, opts ...Option) (*Device, error) {
	if t == nil {
		return nil, errors.New("transport is required")
	}

	d := &Device{
		transport:  t,
		interrupts: NewInterruptHandler(0),
		timeout:    DefaultTimeout,
		respCh:     make(chan string, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.protocol = NewProtocol(&routedTransport{d: d})
	d.protocol.SetTimeout(d.timeout)
	return d, nil
}

// Connect opens the transport and starts the reader loop.
func (d *Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	if err := d.transport.Connect(); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	d.done = make(chan struct{})
	d.err = nil
	d.running = true
	d.wg.Add(1)
	go d.readLoop(d.done)
	return nil
}

// Close stops the reader loop and closes the transport.
func (d *Device) Close() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Protocol returns the register protocol engine bound to this device.
func (d *Device) Protocol() *Protocol {
	return d.protocol
}

// Interrupts returns the interrupt handler bound to this device.
func (d *Device) Interrupts() *InterruptHandler {
	return d.interrupts
}

// Err returns the error that stopped the reader loop, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Device) setErr(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
}

// doneChan returns the current reader generation's done channel, nil
// before the first Connect.
func (d *Device) doneChan() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// readLoop is the single reader: every line from the transport passes
// through here exactly once.
func (d *Device) readLoop(done chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-done:
			return
		default:
		}

		line, err := d.transport.ReadLine(readPollInterval)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			if errors.Is(err, ErrNotConnected) {
				return
			}
			d.setErr(err)
			return
		}
		if line == "" {
			continue
		}

		handled, herr := d.interrupts.HandleMessage(line)
		if herr != nil {
			switch d.resync {
			case ResyncDrop:
				Debugf("dropping malformed interrupt frame: %v", herr)
			case ResyncStop:
				d.setErr(herr)
				return
			}
			continue
		}
		if handled {
			continue
		}

		// Response line: hand off to the waiting protocol operation.
		// The slot is empty unless a prior operation timed out and
		// abandoned its response.
		select {
		case d.respCh <- line:
		default:
			Debugf("discarding unclaimed response line %q", line)
		}
	}
}

// routedTransport is the protocol engine's view of the line once the
// reader loop owns all reads: writes pass through, reads come from the
// response handoff channel.
type routedTransport struct {
	d *Device
}

func (r *routedTransport) Connect() error { return nil }
func (r *routedTransport) Close() error   { return nil }

func (r *routedTransport) WriteLine(line string) error {
	// A response abandoned by a timed-out operation must not be
	// mistaken for the reply to this one.
	select {
	case stale := <-r.d.respCh:
		Debugf("discarding stale response line %q", stale)
	default:
	}
	return r.d.transport.WriteLine(line)
}

func (r *routedTransport) ReadLine(timeout time.Duration) (string, error) {
	select {
	case line := <-r.d.respCh:
		return line, nil
	case <-r.d.doneChan():
		return "", fmt.Errorf("%w: device closed", ErrReaderStopped)
	case <-time.After(timeout):
		return "", &TransportError{Op: "ReadLine", Err: ErrReadTimeout}
	}
}

func (r *routedTransport) IsConnected() bool {
	return r.d.transport.IsConnected()
}

func (r *routedTransport) Type() TransportType {
	return r.d.transport.Type()
}
