// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simulator is a wire-level software double for the Zebra
// hardware. It speaks the full serial protocol, keeps 256 registers of
// state, and generates position-compare interrupt telegrams when
// armed, so everything above the transport can be developed and tested
// without a box on the bench.
package simulator

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// Well-known register addresses the simulator gives special meaning,
// matching the hardware register map.
const (
	RegSoftIn     = 0x7F // soft input bits
	RegPCEnc      = 0x88 // position compare encoder select
	RegPCTSPre    = 0x89 // timestamp prescaler
	RegPCArm      = 0x8B // writing 1 arms position compare
	RegPCDisarm   = 0x8C // writing 1 disarms position compare
	RegPCBitCap   = 0x9F // capture mask, shapes data telegrams
	RegSysVer     = 0xF0 // firmware version
	RegSysStatErr = 0xF1 // latched error bits
	RegPCNumCapLo = 0xF6 // captured point count, low half
	RegPCNumCapHi = 0xF7 // captured point count, high half
)

// Default register values after power-up or Reset.
const (
	defaultSysVer = 0x0020
	defaultTSPre  = 5
)

// captureInterval is the default spacing between generated capture
// telegrams when armed.
const captureInterval = 100 * time.Millisecond

// Simulator implements the Zebra protocol state machine.
type Simulator struct {
	mu       sync.Mutex
	mem      [256]uint16
	armed    bool
	counter  uint32
	send     func(line string)
	stop     chan struct{}
	interval time.Duration
	rng      *rand.Rand
}

// New creates a simulator with power-up register defaults. Generated
// noise is deterministic (fixed seed) so tests are reproducible.
func New() *Simulator {
	s := &Simulator{
		interval: captureInterval,
		rng:      rand.New(rand.NewSource(1)),
	}
	s.resetLocked()
	return s
}

// SetSendFunc installs the callback used to deliver unsolicited
// interrupt telegrams. The transport wires this to its receive queue.
func (s *Simulator) SetSendFunc(fn func(line string)) {
	s.mu.Lock()
	s.send = fn
	s.mu.Unlock()
}

// SetCaptureInterval changes the spacing of generated capture
// telegrams. Tests use a short interval.
func (s *Simulator) SetCaptureInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Register returns the current value of a register.
func (s *Simulator) Register(address int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem[address&0xFF]
}

// SetRegister pokes a register directly, bypassing the protocol.
func (s *Simulator) SetRegister(address int, value uint16) {
	s.mu.Lock()
	s.mem[address&0xFF] = value
	s.mu.Unlock()
}

// Reset restores power-up state and stops any running acquisition.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
	s.resetLocked()
}

func (s *Simulator) resetLocked() {
	for i := range s.mem {
		s.mem[i] = 0
	}
	s.mem[RegSysVer] = defaultSysVer
	s.mem[RegSysStatErr] = 0
	s.mem[RegPCTSPre] = defaultTSPre
	s.counter = 0
}

// ProcessCommand handles one request frame and returns the response
// lines, in wire order. Arming emits the PR telegram before the write
// acknowledgement, as the hardware does.
func (s *Simulator) ProcessCommand(command string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case command == "S":
		return []string{"SOK"}
	case command == "L":
		return []string{"LOK"}
	case len(command) == 3 && command[0] == 'R':
		return s.processRead(command)
	case len(command) == 7 && command[0] == 'W':
		return s.processWrite(command)
	default:
		return []string{"E0"}
	}
}

func (s *Simulator) processRead(command string) []string {
	addr, err := strconv.ParseUint(command[1:3], 16, 8)
	if err != nil {
		return []string{"E0"}
	}
	return []string{fmt.Sprintf("R%02X%04X", addr, s.mem[addr])}
}

func (s *Simulator) processWrite(command string) []string {
	addr, err := strconv.ParseUint(command[1:3], 16, 8)
	if err != nil {
		return []string{"E0"}
	}
	value, err := strconv.ParseUint(command[3:7], 16, 16)
	if err != nil {
		return []string{"E0"}
	}

	s.mem[addr] = uint16(value)
	ack := fmt.Sprintf("W%02XOK", addr)

	switch {
	case addr == RegPCArm && value == 1:
		s.armLocked()
		return []string{"PR", ack}
	case addr == RegPCDisarm && value == 1:
		s.disarmLocked()
		return []string{"PX", ack}
	}
	return []string{ack}
}

func (s *Simulator) armLocked() {
	if s.armed {
		return
	}
	s.armed = true
	s.counter = 0
	s.stop = make(chan struct{})
	go s.generate(s.stop)
}

func (s *Simulator) disarmLocked() {
	if !s.armed {
		return
	}
	s.armed = false
	close(s.stop)
}

// generate emits capture telegrams until disarmed.
func (s *Simulator) generate(stop chan struct{}) {
	for {
		s.mu.Lock()
		interval := s.interval
		s.mu.Unlock()

		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		s.EmitCapture()
	}
}

// EmitCapture synthesizes one capture telegram shaped by the current
// PC_BIT_CAP register and delivers it through the send callback. It
// also advances the PC_NUM_CAP counter pair. Exposed so tests can
// produce deterministic telegrams without waiting on the timer.
func (s *Simulator) EmitCapture() {
	s.mu.Lock()

	timestamp := s.counter * 50
	line := fmt.Sprintf("P%08X", timestamp)

	bitCap := s.mem[RegPCBitCap]
	for bit := 0; bit < 10; bit++ {
		if bitCap&(1<<bit) == 0 {
			continue
		}
		var value uint32
		switch {
		case bit < 4: // encoder position, incrementing with noise
			value = uint32(int32(s.counter*100) + int32(s.rng.Intn(21)-10))
		case bit < 6: // system bus snapshot
			value = s.rng.Uint32()
		default: // divider count
			value = s.counter * 10
		}
		line += fmt.Sprintf("%08X", value)
	}

	s.counter++
	s.mem[RegPCNumCapLo] = uint16(s.counter & 0xFFFF)
	s.mem[RegPCNumCapHi] = uint16(s.counter >> 16)
	send := s.send
	s.mu.Unlock()

	if send != nil {
		send(line)
	}
}

// Armed reports whether an acquisition is running.
func (s *Simulator) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}
