// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simulator

import (
	"sync"
	"time"

	"github.com/go-daq/zebra"
)

// Transport implements zebra.Transport over an in-process Simulator.
// Frames exchange through a channel instead of a serial line; response
// and interrupt ordering matches the wire.
type Transport struct {
	sim       *Simulator
	rx        chan string
	mu        sync.Mutex
	connected bool
}

// NewTransport creates a transport backed by sim.
func NewTransport(sim *Simulator) *Transport {
	return &Transport{
		sim: sim,
		rx:  make(chan string, 256),
	}
}

// Connect implements zebra.Transport. It wires the simulator's
// interrupt output into the receive queue.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	t.sim.SetSendFunc(func(line string) {
		select {
		case t.rx <- line:
		default:
			// Receive queue full: the host is not draining. Drop,
			// as a real UART FIFO would.
		}
	})
	t.connected = true
	return nil
}

// Close implements zebra.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil
	}
	t.sim.SetSendFunc(nil)
	t.sim.Reset()
	t.connected = false
	return nil
}

// WriteLine implements zebra.Transport. The command is processed
// synchronously and its response lines queued for ReadLine.
func (t *Transport) WriteLine(line string) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return &zebra.TransportError{Op: "WriteLine", Port: "sim", Err: zebra.ErrNotConnected}
	}

	for _, response := range t.sim.ProcessCommand(line) {
		t.rx <- response
	}
	return nil
}

// ReadLine implements zebra.Transport.
func (t *Transport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return "", &zebra.TransportError{Op: "ReadLine", Port: "sim", Err: zebra.ErrNotConnected}
	}

	select {
	case line := <-t.rx:
		return line, nil
	case <-time.After(timeout):
		return "", &zebra.TransportError{Op: "ReadLine", Port: "sim", Err: zebra.ErrReadTimeout}
	}
}

// Inject queues a raw line as if the hardware had sent it, bypassing
// the simulator. Tests use this to exercise glitch handling.
func (t *Transport) Inject(line string) {
	t.rx <- line
}

// IsConnected implements zebra.Transport.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Type implements zebra.Transport.
func (*Transport) Type() zebra.TransportType {
	return zebra.TransportSim
}
