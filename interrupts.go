// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra

import (
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-daq/zebra/internal/syncutil"
)

// Field names one of the ten optional values a capture telegram can
// carry. The wire order is the Field order.
type Field int

const (
	// FieldEncoder1 through FieldEncoder4 are signed 32-bit encoder
	// positions.
	FieldEncoder1 Field = iota
	FieldEncoder2
	FieldEncoder3
	FieldEncoder4
	// FieldSysbus1 holds system bus signals 0-31, FieldSysbus2
	// signals 32-63, one bit per signal.
	FieldSysbus1
	FieldSysbus2
	// FieldDiv1 through FieldDiv4 are unsigned divider counts.
	FieldDiv1
	FieldDiv2
	FieldDiv3
	FieldDiv4

	numFields
)

var fieldNames = [numFields]string{
	"encoder1", "encoder2", "encoder3", "encoder4",
	"sysbus1", "sysbus2",
	"div1", "div2", "div3", "div4",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// CaptureMask mirrors the PC_BIT_CAP register: bit i enabled means
// field i is present in every capture data telegram. Only the low ten
// bits are meaningful.
type CaptureMask uint16

// CaptureMaskAll enables every capture field.
const CaptureMaskAll CaptureMask = 0x3FF

// Has reports whether field f is enabled in the mask.
func (m CaptureMask) Has(f Field) bool {
	return m&(1<<uint(f)) != 0
}

// FieldCount returns the number of enabled fields.
func (m CaptureMask) FieldCount() int {
	return bits.OnesCount16(uint16(m & CaptureMaskAll))
}

// DataPoint is one decoded position-compare capture. Fields absent
// from the telegram (mask bit clear) read zero; check Has before
// trusting a value.
type DataPoint struct {
	Timestamp uint32
	Mask      CaptureMask
	Encoder1  int32
	Encoder2  int32
	Encoder3  int32
	Encoder4  int32
	Sysbus1   uint32
	Sysbus2   uint32
	Div1      uint32
	Div2      uint32
	Div3      uint32
	Div4      uint32
}

// Has reports whether field f was present in the telegram.
func (d *DataPoint) Has(f Field) bool {
	return d.Mask.Has(f)
}

var interruptDataRe = regexp.MustCompile(`^P([0-9A-Fa-f]{8})([0-9A-Fa-f]*)$`)

// InterruptHandler decodes unsolicited capture telegrams and
// dispatches them to registered observers.
//
// The capture mask is swapped atomically so the reader loop always
// decodes one telegram against one consistent mask value. Changing the
// mask while telegrams of the old shape are still in flight is a
// caller error; set it before arming an acquisition.
type InterruptHandler struct {
	mask     atomic.Uint32
	mu       syncutil.RWMutex
	resetObs []func() error
	dataObs  []func(*DataPoint) error
	endObs   []func() error
}

// NewInterruptHandler creates a handler decoding against mask.
func NewInterruptHandler(mask CaptureMask) *InterruptHandler {
	h := &InterruptHandler{}
	h.SetCaptureMask(mask)
	return h
}

// SetCaptureMask updates the capture mask. Bits above the ten defined
// fields are ignored.
func (h *InterruptHandler) SetCaptureMask(mask CaptureMask) {
	h.mask.Store(uint32(mask & CaptureMaskAll))
	Debugf("capture mask set to %#05x", mask&CaptureMaskAll)
}

// CaptureMask returns the current capture mask.
func (h *InterruptHandler) CaptureMask() CaptureMask {
	return CaptureMask(h.mask.Load())
}

// OnReset registers an observer called when an acquisition reset (PR)
// arrives. Observers run in registration order.
func (h *InterruptHandler) OnReset(fn func() error) {
	h.mu.Lock()
	h.resetObs = append(h.resetObs, fn)
	h.mu.Unlock()
}

// OnData registers an observer called with each decoded data point.
// The point is not retained by the handler; observers may keep it.
func (h *InterruptHandler) OnData(fn func(*DataPoint) error) {
	h.mu.Lock()
	h.dataObs = append(h.dataObs, fn)
	h.mu.Unlock()
}

// OnEnd registers an observer called when an acquisition completes
// (PX).
func (h *InterruptHandler) OnEnd(fn func() error) {
	h.mu.Lock()
	h.endObs = append(h.endObs, fn)
	h.mu.Unlock()
}

// ClearObservers removes all registered observers.
func (h *InterruptHandler) ClearObservers() {
	h.mu.Lock()
	h.resetObs = nil
	h.dataObs = nil
	h.endObs = nil
	h.mu.Unlock()
}

// HandleMessage classifies and dispatches one line from the wire.
//
// It returns false with a nil error if line is not interrupt traffic
// (does not start with 'P'); such lines belong to the request/response
// side. It returns true once the line has been consumed as interrupt
// traffic, with a non-nil error if the telegram violated the protocol:
// ErrProtocolViolation for an unparseable frame, *DataLengthError when
// the payload does not fit the current capture mask. A telegram either
// decodes completely or no observer sees it.
func (h *InterruptHandler) HandleMessage(line string) (bool, error) {
	if !strings.HasPrefix(line, "P") {
		return false, nil
	}

	switch line {
	case "PR":
		Debugf("position compare reset (PR)")
		h.dispatchReset()
		return true, nil
	case "PX":
		Debugf("position compare complete (PX)")
		h.dispatchEnd()
		return true, nil
	}

	m := interruptDataRe.FindStringSubmatch(line)
	if m == nil {
		return true, fmt.Errorf("%w: invalid interrupt frame %q", ErrProtocolViolation, line)
	}

	ts, _ := strconv.ParseUint(m[1], 16, 32)
	mask := h.CaptureMask()

	point, err := decodeDataFields(uint32(ts), mask, m[2])
	if err != nil {
		return true, err
	}

	h.dispatchData(point)
	return true, nil
}

// decodeDataFields walks the mask bits in field order, consuming eight
// hex digits per enabled field. Encoder fields are reinterpreted as
// two's-complement signed values.
func decodeDataFields(timestamp uint32, mask CaptureMask, payload string) (*DataPoint, error) {
	expected := 8 * mask.FieldCount()
	if len(payload) != expected {
		return nil, &DataLengthError{Mask: mask, Expected: expected, Actual: len(payload)}
	}

	point := &DataPoint{Timestamp: timestamp, Mask: mask}
	offset := 0
	for f := FieldEncoder1; f < numFields; f++ {
		if !mask.Has(f) {
			continue
		}
		raw, err := strconv.ParseUint(payload[offset:offset+8], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex in field %s: %v", ErrProtocolViolation, f, err)
		}
		offset += 8

		value := uint32(raw)
		switch f {
		case FieldEncoder1:
			point.Encoder1 = int32(value)
		case FieldEncoder2:
			point.Encoder2 = int32(value)
		case FieldEncoder3:
			point.Encoder3 = int32(value)
		case FieldEncoder4:
			point.Encoder4 = int32(value)
		case FieldSysbus1:
			point.Sysbus1 = value
		case FieldSysbus2:
			point.Sysbus2 = value
		case FieldDiv1:
			point.Div1 = value
		case FieldDiv2:
			point.Div2 = value
		case FieldDiv3:
			point.Div3 = value
		case FieldDiv4:
			point.Div4 = value
		}
	}
	return point, nil
}

// Observer failures are isolated: an error or panic in one observer is
// logged and the remaining observers still run. Nothing propagates to
// the reader loop.

func (h *InterruptHandler) dispatchReset() {
	h.mu.RLock()
	obs := h.resetObs
	h.mu.RUnlock()
	for _, fn := range obs {
		runObserver("reset", func() error { return fn() })
	}
}

func (h *InterruptHandler) dispatchData(point *DataPoint) {
	h.mu.RLock()
	obs := h.dataObs
	h.mu.RUnlock()
	for _, fn := range obs {
		runObserver("data", func() error { return fn(point) })
	}
}

func (h *InterruptHandler) dispatchEnd() {
	h.mu.RLock()
	obs := h.endObs
	h.mu.RUnlock()
	for _, fn := range obs {
		runObserver("end", func() error { return fn() })
	}
}

func runObserver(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			Debugf("panic in %s observer: %v", kind, r)
		}
	}()
	if err := fn(); err != nil {
		Debugf("error in %s observer: %v", kind, err)
	}
}
