// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra

import (
	"sync"
	"time"
)

// Transport is the line-oriented byte stream a Zebra is reached over.
// Implementations exist for real serial ports (transport/uart) and for
// in-process doubles (MockTransport here, internal/simulator for the
// full wire-level simulator). Both modes are first-class: all protocol
// and decoder logic must be exercisable without hardware.
type Transport interface {
	// Connect opens the underlying stream.
	Connect() error

	// Close shuts the stream down. Blocked reads return ErrNotConnected.
	Close() error

	// WriteLine sends one frame, appending the line terminator.
	WriteLine(line string) error

	// ReadLine blocks until a full line arrives or the timeout
	// expires, and returns the line without its terminator. A lapsed
	// deadline yields an error wrapping ErrReadTimeout.
	ReadLine(timeout time.Duration) (string, error)

	// IsConnected reports whether the transport is usable.
	IsConnected() bool

	// Type returns the transport type.
	Type() TransportType
}

// TransportType represents the kind of transport backing a device.
type TransportType string

const (
	// TransportUART is a real serial port.
	TransportUART TransportType = "uart"
	// TransportSim is the in-process wire-level simulator.
	TransportSim TransportType = "sim"
	// TransportMock is a scripted mock for testing.
	TransportMock TransportType = "mock"
)

// MockTransport is a scripted Transport double. Written frames are
// logged and answered from a response table or a handler function;
// unsolicited lines can be injected to exercise the interrupt path.
type MockTransport struct {
	responses map[string][]string
	errorMap  map[string]error
	handler   func(cmd string) []string
	rx        chan string
	log       []string
	delay     time.Duration
	mu        sync.Mutex
	connected bool
}

// NewMockTransport creates a mock transport, already connected.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		responses: make(map[string][]string),
		errorMap:  make(map[string]error),
		rx:        make(chan string, 64),
	}
}

// Connect implements Transport.
func (m *MockTransport) Connect() error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// WriteLine implements Transport. The written frame is logged, then
// after the configured delay any scripted response lines are queued
// for ReadLine.
func (m *MockTransport) WriteLine(line string) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return &TransportError{Op: "WriteLine", Port: "mock", Err: ErrNotConnected}
	}
	m.log = append(m.log, "tx "+line)
	delay := m.delay
	err := m.errorMap[line]
	lines, scripted := m.responses[line]
	handler := m.handler
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	if !scripted && handler != nil {
		lines = handler(line)
	}
	for _, l := range lines {
		m.rx <- l
	}
	return nil
}

// ReadLine implements Transport.
func (m *MockTransport) ReadLine(timeout time.Duration) (string, error) {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return "", &TransportError{Op: "ReadLine", Port: "mock", Err: ErrNotConnected}
	}

	select {
	case line := <-m.rx:
		m.mu.Lock()
		m.log = append(m.log, "rx "+line)
		m.mu.Unlock()
		return line, nil
	case <-time.After(timeout):
		return "", &TransportError{Op: "ReadLine", Port: "mock", Err: ErrReadTimeout}
	}
}

// IsConnected implements Transport.
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type implements Transport.
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetResponse scripts the response lines returned whenever cmd is
// written. Scripted responses take precedence over the handler.
func (m *MockTransport) SetResponse(cmd string, lines ...string) {
	m.mu.Lock()
	m.responses[cmd] = lines
	m.mu.Unlock()
}

// SetHandler installs a fallback handler computing response lines for
// commands without a scripted response.
func (m *MockTransport) SetHandler(fn func(cmd string) []string) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

// SetError injects an error returned when cmd is written.
func (m *MockTransport) SetError(cmd string, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// SetDelay makes every write pause before its response is queued,
// simulating device latency.
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// Inject queues an unsolicited line, as the hardware does for
// interrupt telegrams.
func (m *MockTransport) Inject(line string) {
	m.rx <- line
}

// Log returns the wire activity so far: "tx <frame>" entries in write
// order interleaved with "rx <frame>" entries in read order.
func (m *MockTransport) Log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.log))
	copy(out, m.log)
	return out
}

// Reset clears the wire log and reconnects the transport.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.log = nil
	m.connected = true
	m.rx = make(chan string, 64)
	m.mu.Unlock()
}
