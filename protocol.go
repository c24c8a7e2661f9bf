// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-daq/zebra/internal/syncutil"
)

// DefaultTimeout is the response deadline for register operations.
// Flash commands may need longer; Flash takes an explicit timeout.
const DefaultTimeout = 1 * time.Second

// FlashOp selects a flash storage command.
type FlashOp string

const (
	// FlashSave writes the current register file to flash (S).
	FlashSave FlashOp = "S"
	// FlashLoad restores the register file from flash (L).
	FlashLoad FlashOp = "L"
)

// Response grammar. Hex is accepted in either case; commands are
// always sent in uppercase.
var (
	readResponseRe  = regexp.MustCompile(`^R([0-9A-Fa-f]{2})([0-9A-Fa-f]{4})$`)
	writeResponseRe = regexp.MustCompile(`^W([0-9A-Fa-f]{2})OK$`)
	errorResponseRe = regexp.MustCompile(`^E([01])([RW])?([0-9A-Fa-f]{2})?$`)
)

// Protocol implements the Zebra register protocol over a Transport.
//
// Request/response correlation on the wire is purely positional, so
// every operation holds an exclusive lock from its first write to its
// last read. Multi-frame operations (32-bit pairs, verified writes,
// flash) are atomic with respect to other callers: their frames never
// interleave with another operation's on the line.
type Protocol struct {
	transport Transport
	timeout   time.Duration
	mu        syncutil.Mutex
}

// NewProtocol creates a protocol engine over t. The transport is
// shared, not owned: Protocol never connects or closes it.
func NewProtocol(t Transport) *Protocol {
	return &Protocol{
		transport: t,
		timeout:   DefaultTimeout,
	}
}

// SetTimeout sets the response deadline for register operations.
func (p *Protocol) SetTimeout(timeout time.Duration) {
	p.mu.Lock()
	p.timeout = timeout
	p.mu.Unlock()
}

// ReadRegister reads one 16-bit register.
func (p *Protocol) ReadRegister(address int) (uint16, error) {
	if err := checkAddress(address); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readRegister(address)
}

// WriteRegister writes one 16-bit register and verifies by reading the
// value back. A readback mismatch is advisory: it is logged, not
// returned as an error, and the readback value is what the caller
// gets. Callers needing a hard write contract must compare the result
// themselves.
func (p *Protocol) WriteRegister(address, value int) (uint16, error) {
	return p.writeRegisterOpt(address, value, true)
}

// WriteRegisterNoVerify writes one 16-bit register without reading it
// back, and returns the value written.
func (p *Protocol) WriteRegisterNoVerify(address, value int) (uint16, error) {
	return p.writeRegisterOpt(address, value, false)
}

func (p *Protocol) writeRegisterOpt(address, value int, verify bool) (uint16, error) {
	if err := checkAddress(address); err != nil {
		return 0, err
	}
	if err := checkValue(value); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeRegister(address, uint16(value), verify)
}

// ReadRegister32 reads a 32-bit value from a LO/HI register pair, LO
// first. The pair composes little-endian: LO holds bits 0-15, HI bits
// 16-31. Both reads happen under one lock acquisition.
func (p *Protocol) ReadRegister32(addressLo, addressHi int) (uint32, error) {
	if err := checkAddress(addressLo); err != nil {
		return 0, err
	}
	if err := checkAddress(addressHi); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readRegister32(addressLo, addressHi)
}

// WriteRegister32 writes a 32-bit value to a LO/HI register pair, LO
// half first, then reads the pair back. As with WriteRegister the
// verification is advisory.
func (p *Protocol) WriteRegister32(addressLo, addressHi int, value uint32) (uint32, error) {
	return p.writeRegister32Opt(addressLo, addressHi, value, true)
}

// WriteRegister32NoVerify writes a 32-bit value to a LO/HI register
// pair without reading it back.
func (p *Protocol) WriteRegister32NoVerify(addressLo, addressHi int, value uint32) (uint32, error) {
	return p.writeRegister32Opt(addressLo, addressHi, value, false)
}

func (p *Protocol) writeRegister32Opt(addressLo, addressHi int, value uint32, verify bool) (uint32, error) {
	if err := checkAddress(addressLo); err != nil {
		return 0, err
	}
	if err := checkAddress(addressHi); err != nil {
		return 0, err
	}

	lo := uint16(value & 0xFFFF)
	hi := uint16(value >> 16)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.writeRegister(addressLo, lo, false); err != nil {
		return 0, err
	}
	if _, err := p.writeRegister(addressHi, hi, false); err != nil {
		return 0, err
	}

	if verify {
		readback, err := p.readRegister32(addressLo, addressHi)
		if err != nil {
			return 0, err
		}
		if readback != value {
			Debugf("write verify mismatch at [%#04x:%#04x]: wrote %#010x, read %#010x",
				addressHi, addressLo, value, readback)
		}
		return readback, nil
	}
	return value, nil
}

// Flash executes a flash save or load. Flash operations can be slow in
// hardware, so the response deadline is explicit; pass 0 to use
// DefaultTimeout.
func (p *Protocol) Flash(op FlashOp, timeout time.Duration) error {
	if op != FlashSave && op != FlashLoad {
		return fmt.Errorf("%w: flash command %q", ErrInvalidArgument, string(op))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transport.WriteLine(string(op)); err != nil {
		return err
	}
	response, err := p.transport.ReadLine(timeout)
	if err != nil {
		return err
	}

	expected := string(op) + "OK"
	if response != expected {
		if err := checkErrorResponse(response); err != nil {
			return err
		}
		return fmt.Errorf("%w: expected %q, got %q", ErrMalformedResponse, expected, response)
	}
	return nil
}

// readRegister performs one read exchange. Callers hold p.mu.
func (p *Protocol) readRegister(address int) (uint16, error) {
	command := fmt.Sprintf("R%02X", address)
	if err := p.transport.WriteLine(command); err != nil {
		return 0, err
	}
	response, err := p.transport.ReadLine(p.timeout)
	if err != nil {
		return 0, err
	}
	return parseReadResponse(address, response)
}

// writeRegister performs one write exchange plus optional readback.
// Callers hold p.mu.
func (p *Protocol) writeRegister(address int, value uint16, verify bool) (uint16, error) {
	command := fmt.Sprintf("W%02X%04X", address, value)
	if err := p.transport.WriteLine(command); err != nil {
		return 0, err
	}
	response, err := p.transport.ReadLine(p.timeout)
	if err != nil {
		return 0, err
	}
	if err := parseWriteResponse(address, response); err != nil {
		return 0, err
	}

	if verify {
		readback, err := p.readRegister(address)
		if err != nil {
			return 0, err
		}
		if readback != value {
			Debugf("write verify mismatch at %#04x: wrote %#06x, read %#06x",
				address, value, readback)
		}
		return readback, nil
	}
	return value, nil
}

func (p *Protocol) readRegister32(addressLo, addressHi int) (uint32, error) {
	lo, err := p.readRegister(addressLo)
	if err != nil {
		return 0, err
	}
	hi, err := p.readRegister(addressHi)
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

func parseReadResponse(address int, response string) (uint16, error) {
	if err := checkErrorResponse(response); err != nil {
		return 0, err
	}

	m := readResponseRe.FindStringSubmatch(response)
	if m == nil {
		return 0, fmt.Errorf("%w: invalid read response %q", ErrMalformedResponse, response)
	}

	responseAddr, _ := strconv.ParseUint(m[1], 16, 8)
	value, _ := strconv.ParseUint(m[2], 16, 16)

	if int(responseAddr) != address {
		return 0, fmt.Errorf("%w: address mismatch, expected %#04x, got %#04x",
			ErrMalformedResponse, address, responseAddr)
	}
	return uint16(value), nil
}

func parseWriteResponse(address int, response string) error {
	if err := checkErrorResponse(response); err != nil {
		return err
	}

	m := writeResponseRe.FindStringSubmatch(response)
	if m == nil {
		return fmt.Errorf("%w: invalid write response %q", ErrMalformedResponse, response)
	}

	responseAddr, _ := strconv.ParseUint(m[1], 16, 8)
	if int(responseAddr) != address {
		return fmt.Errorf("%w: address mismatch, expected %#04x, got %#04x",
			ErrMalformedResponse, address, responseAddr)
	}
	return nil
}

// checkErrorResponse matches response against the device error grammar
// and converts it to the corresponding error. A nil return means the
// response is not an error frame.
func checkErrorResponse(response string) error {
	m := errorResponseRe.FindStringSubmatch(response)
	if m == nil {
		return nil
	}

	if m[1] == "0" {
		return fmt.Errorf("%w: device reports malformed command (E0)", ErrMalformedResponse)
	}

	op := OpWrite
	if m[2] == "R" {
		op = OpRead
	}
	address := -1
	if m[3] != "" {
		addr, _ := strconv.ParseUint(m[3], 16, 8)
		address = int(addr)
	}
	return &RegisterError{Op: op, Address: address}
}

func checkAddress(address int) error {
	if address < 0 || address > 0xFF {
		return fmt.Errorf("%w: register address %#04x out of range [0x00-0xFF]",
			ErrInvalidArgument, address)
	}
	return nil
}

func checkValue(value int) error {
	if value < 0 || value > 0xFFFF {
		return fmt.Errorf("%w: register value %#06x out of range [0x0000-0xFFFF]",
			ErrInvalidArgument, value)
	}
	return nil
}
