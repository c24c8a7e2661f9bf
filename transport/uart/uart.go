// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uart implements the zebra.Transport interface over a real
// serial port.
package uart

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/zebra"
	"go.bug.st/serial"
)

// The Zebra serial line runs at a fixed rate: 115200 baud, 8 data
// bits, no parity, one stop bit, no flow control.
const baudRate = 115200

// pollInterval bounds each blocking read so ReadLine can honor its
// deadline without relying on driver-level timeout granularity.
const pollInterval = 50 * time.Millisecond

// Transport implements zebra.Transport for UART communication.
//
// Reads and writes take separate locks: the device reader loop sits in
// ReadLine almost permanently, and protocol writes must not queue
// behind it.
type Transport struct {
	port     serial.Port
	portName string
	buf      []byte
	mu       sync.Mutex // guards port and connection state
	rmu      sync.Mutex // serializes readers
	wmu      sync.Mutex // serializes writers
}

// New creates a UART transport for the given port. The port is not
// opened until Connect.
func New(portName string) *Transport {
	return &Transport{portName: portName}
}

// Connect opens the serial port.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	port, err := serial.Open(t.portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", t.portName, err)
	}

	t.port = port
	t.buf = nil
	return nil
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", t.portName, err)
	}
	return nil
}

func (t *Transport) getPort(op string) (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, &zebra.TransportError{Op: op, Port: t.portName, Err: zebra.ErrNotConnected}
	}
	return t.port, nil
}

// WriteLine sends one frame, appending the newline terminator. The
// frame and terminator go out in a single write so a cancelled caller
// never leaves a partial frame on the wire.
func (t *Transport) WriteLine(line string) error {
	port, err := t.getPort("WriteLine")
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if _, err := port.Write([]byte(line + "\n")); err != nil {
		return &zebra.TransportError{Op: "WriteLine", Port: t.portName, Err: err}
	}
	return nil
}

// ReadLine blocks until a newline-terminated frame arrives or the
// timeout expires. The terminator (and any preceding carriage return)
// is stripped.
func (t *Transport) ReadLine(timeout time.Duration) (string, error) {
	port, err := t.getPort("ReadLine")
	if err != nil {
		return "", err
	}

	t.rmu.Lock()
	defer t.rmu.Unlock()

	deadline := time.Now().Add(timeout)
	var tmp [256]byte
	for {
		if line, rest, ok := takeLine(t.buf); ok {
			t.buf = rest
			return line, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", &zebra.TransportError{Op: "ReadLine", Port: t.portName, Err: zebra.ErrReadTimeout}
		}
		chunk := pollInterval
		if remaining < chunk {
			chunk = remaining
		}
		if err := port.SetReadTimeout(chunk); err != nil {
			return "", &zebra.TransportError{Op: "ReadLine", Port: t.portName, Err: err}
		}

		n, err := port.Read(tmp[:])
		if err != nil {
			return "", &zebra.TransportError{Op: "ReadLine", Port: t.portName, Err: err}
		}
		t.buf = append(t.buf, tmp[:n]...)
	}
}

// takeLine splits the first newline-terminated line off buf. The
// returned line has its terminator, and a trailing carriage return if
// the device sent CRLF, removed.
func takeLine(buf []byte) (line string, rest []byte, ok bool) {
	for i, b := range buf {
		if b != '\n' {
			continue
		}
		end := i
		if end > 0 && buf[end-1] == '\r' {
			end--
		}
		return string(buf[:end]), buf[i+1:], true
	}
	return "", buf, false
}

// IsConnected implements zebra.Transport.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type implements zebra.Transport.
func (*Transport) Type() zebra.TransportType {
	return zebra.TransportUART
}
