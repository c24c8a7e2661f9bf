// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol and transport layers. Wrapped errors
// carry context; match with errors.Is.
var (
	// ErrInvalidArgument reports an address or value outside the
	// protocol-defined range. Raised before any I/O takes place.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConnected reports an operation attempted before Connect
	// or after Close.
	ErrNotConnected = errors.New("transport not connected")

	// ErrReadTimeout reports that no line arrived within the deadline.
	ErrReadTimeout = errors.New("read timeout")

	// ErrMalformedResponse reports a response frame that does not
	// parse against the expected grammar, or whose address does not
	// match the request. Also raised when the device itself reports a
	// malformed command (E0).
	ErrMalformedResponse = errors.New("malformed response")

	// ErrProtocolViolation reports an interrupt-prefixed line that
	// matches neither the reset, end, nor data grammar, or whose
	// payload disagrees with the capture mask.
	ErrProtocolViolation = errors.New("interrupt protocol violation")

	// ErrReaderStopped reports that the device reader loop has exited
	// and no further responses can be delivered.
	ErrReaderStopped = errors.New("reader loop stopped")
)

// TransportError wraps transport-level failures with the operation and
// port they occurred on.
type TransportError struct {
	Err  error
	Op   string
	Port string
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RegisterOp identifies which register operation the device rejected.
type RegisterOp int

const (
	// OpRead is a register read (R command).
	OpRead RegisterOp = iota
	// OpWrite is a register write (W command).
	OpWrite
)

func (op RegisterOp) String() string {
	if op == OpRead {
		return "read"
	}
	return "write"
}

// RegisterError reports an explicit E1 response from the device: a
// register operation failed at the given address. Address is -1 when
// the device omitted it from the error frame.
type RegisterError struct {
	Op      RegisterOp
	Address int
}

func (e *RegisterError) Error() string {
	if e.Address < 0 {
		return fmt.Sprintf("register %s error (address unknown)", e.Op)
	}
	return fmt.Sprintf("register %s error at %#04x", e.Op, e.Address)
}

// DataLengthError reports a capture data telegram whose payload length
// disagrees with the current capture mask. It unwraps to
// ErrProtocolViolation.
type DataLengthError struct {
	Mask     CaptureMask
	Expected int
	Actual   int
}

func (e *DataLengthError) Error() string {
	return fmt.Sprintf(
		"capture data length mismatch: expected %d hex digits for mask %#05x, got %d",
		e.Expected, e.Mask, e.Actual)
}

func (*DataLengthError) Unwrap() error {
	return ErrProtocolViolation
}

// IsTimeout reports whether err is, or wraps, a read timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout)
}
