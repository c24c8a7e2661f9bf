// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-daq/zebra"
	"github.com/go-daq/zebra/internal/simulator"
)

// newEchoTransport returns a mock whose handler answers read requests
// with a fixed value and acknowledges writes, like a well-behaved
// device.
func newEchoTransport(value string) *zebra.MockTransport {
	mock := zebra.NewMockTransport()
	mock.SetHandler(func(cmd string) []string {
		switch {
		case len(cmd) == 3 && strings.HasPrefix(cmd, "R"):
			return []string{cmd + value}
		case len(cmd) == 7 && strings.HasPrefix(cmd, "W"):
			return []string{cmd[:3] + "OK"}
		case cmd == "S" || cmd == "L":
			return []string{cmd + "OK"}
		}
		return []string{"E0"}
	})
	return mock
}

func TestReadRegister(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		request  string
		response string
		want     uint16
		wantErr  error
	}{
		{
			name:     "valid response",
			request:  "R0F",
			response: "R0FBEEF",
			want:     0xBEEF,
		},
		{
			name:     "lowercase hex accepted",
			request:  "R0F",
			response: "R0fbeef",
			want:     0xBEEF,
		},
		{
			name:     "address mismatch",
			request:  "R0F",
			response: "R10BEEF",
			wantErr:  zebra.ErrMalformedResponse,
		},
		{
			name:     "garbage response",
			request:  "R0F",
			response: "HELLO",
			wantErr:  zebra.ErrMalformedResponse,
		},
		{
			name:     "truncated value",
			request:  "R0F",
			response: "R0FBE",
			wantErr:  zebra.ErrMalformedResponse,
		},
		{
			name:     "device reports malformed command",
			request:  "R0F",
			response: "E0",
			wantErr:  zebra.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := zebra.NewMockTransport()
			mock.SetResponse(tt.request, tt.response)
			proto := zebra.NewProtocol(mock)

			got, err := proto.ReadRegister(0x0F)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRegisterError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		response    string
		wantOp      zebra.RegisterOp
		wantAddress int
	}{
		{
			name:        "read error with address",
			response:    "E1R3F",
			wantOp:      zebra.OpRead,
			wantAddress: 0x3F,
		},
		{
			name:        "write error with address",
			response:    "E1W12",
			wantOp:      zebra.OpWrite,
			wantAddress: 0x12,
		},
		{
			name:        "error without address",
			response:    "E1R",
			wantOp:      zebra.OpRead,
			wantAddress: -1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := zebra.NewMockTransport()
			mock.SetResponse("R0F", tt.response)
			proto := zebra.NewProtocol(mock)

			_, err := proto.ReadRegister(0x0F)
			var regErr *zebra.RegisterError
			require.ErrorAs(t, err, &regErr)
			assert.Equal(t, tt.wantOp, regErr.Op)
			assert.Equal(t, tt.wantAddress, regErr.Address)
		})
	}
}

func TestReadRegisterTimeout(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport() // no scripted response, no handler
	proto := zebra.NewProtocol(mock)
	proto.SetTimeout(50 * time.Millisecond)

	_, err := proto.ReadRegister(0x01)
	require.Error(t, err)
	assert.True(t, zebra.IsTimeout(err))
}

func TestWriteRegister(t *testing.T) {
	t.Parallel()

	t.Run("verified write returns readback", func(t *testing.T) {
		t.Parallel()
		mock := zebra.NewMockTransport()
		mock.SetResponse("W0A1234", "W0AOK")
		mock.SetResponse("R0A", "R0A1234")
		proto := zebra.NewProtocol(mock)

		got, err := proto.WriteRegister(0x0A, 0x1234)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), got)
		assert.Equal(t, []string{"tx W0A1234", "rx W0AOK", "tx R0A", "rx R0A1234"}, mock.Log())
	})

	t.Run("verify mismatch is advisory", func(t *testing.T) {
		t.Parallel()
		mock := zebra.NewMockTransport()
		mock.SetResponse("W0A1234", "W0AOK")
		mock.SetResponse("R0A", "R0A0000")
		proto := zebra.NewProtocol(mock)

		got, err := proto.WriteRegister(0x0A, 0x1234)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0000), got)
	})

	t.Run("no verify skips readback", func(t *testing.T) {
		t.Parallel()
		mock := zebra.NewMockTransport()
		mock.SetResponse("W0A1234", "W0AOK")
		proto := zebra.NewProtocol(mock)

		got, err := proto.WriteRegisterNoVerify(0x0A, 0x1234)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), got)
		assert.Equal(t, []string{"tx W0A1234", "rx W0AOK"}, mock.Log())
	})

	t.Run("ack address mismatch", func(t *testing.T) {
		t.Parallel()
		mock := zebra.NewMockTransport()
		mock.SetResponse("W0A1234", "W0BOK")
		proto := zebra.NewProtocol(mock)

		_, err := proto.WriteRegisterNoVerify(0x0A, 0x1234)
		require.ErrorIs(t, err, zebra.ErrMalformedResponse)
	})
}

func TestRangeValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		op   func(p *zebra.Protocol) error
	}{
		{
			name: "read address too high",
			op: func(p *zebra.Protocol) error {
				_, err := p.ReadRegister(256)
				return err
			},
		},
		{
			name: "read address negative",
			op: func(p *zebra.Protocol) error {
				_, err := p.ReadRegister(-1)
				return err
			},
		},
		{
			name: "write value too high",
			op: func(p *zebra.Protocol) error {
				_, err := p.WriteRegister(0, 65536)
				return err
			},
		},
		{
			name: "write value negative",
			op: func(p *zebra.Protocol) error {
				_, err := p.WriteRegister(0, -1)
				return err
			},
		},
		{
			name: "write address too high",
			op: func(p *zebra.Protocol) error {
				_, err := p.WriteRegister(300, 0)
				return err
			},
		},
		{
			name: "32-bit read bad hi address",
			op: func(p *zebra.Protocol) error {
				_, err := p.ReadRegister32(0x10, 256)
				return err
			},
		},
		{
			name: "invalid flash command",
			op: func(p *zebra.Protocol) error {
				return p.Flash(zebra.FlashOp("X"), 0)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := zebra.NewMockTransport()
			proto := zebra.NewProtocol(mock)

			err := tt.op(proto)
			require.ErrorIs(t, err, zebra.ErrInvalidArgument)
			// Validation happens before any I/O.
			assert.Empty(t, mock.Log())
		})
	}
}

func TestRegister32RoundTrip(t *testing.T) {
	t.Parallel()
	sim := simulator.New()
	transport := simulator.NewTransport(sim)
	require.NoError(t, transport.Connect())
	proto := zebra.NewProtocol(transport)

	const value = uint32(0xDEADBEEF)
	got, err := proto.WriteRegister32(0x10, 0x11, value)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// LO holds bits 0-15, HI bits 16-31.
	assert.Equal(t, uint16(0xBEEF), sim.Register(0x10))
	assert.Equal(t, uint16(0xDEAD), sim.Register(0x11))

	back, err := proto.ReadRegister32(0x10, 0x11)
	require.NoError(t, err)
	assert.Equal(t, value, back)
}

func TestRegister32ReadOrder(t *testing.T) {
	t.Parallel()
	mock := newEchoTransport("0001")
	proto := zebra.NewProtocol(mock)

	_, err := proto.ReadRegister32(0x10, 0x11)
	require.NoError(t, err)
	// LO register is read before HI.
	assert.Equal(t, []string{"tx R10", "rx R100001", "tx R11", "rx R110001"}, mock.Log())
}

func TestRoundTripSimulator(t *testing.T) {
	t.Parallel()
	sim := simulator.New()
	transport := simulator.NewTransport(sim)
	require.NoError(t, transport.Connect())
	proto := zebra.NewProtocol(transport)

	for _, tc := range []struct {
		addr  int
		value int
	}{
		{0x00, 0x0000},
		{0x10, 0x1234},
		{0x7F, 0xFFFF},
		{0xFF, 0x8000},
	} {
		got, err := proto.WriteRegister(tc.addr, tc.value)
		require.NoError(t, err)
		assert.Equal(t, uint16(tc.value), got)

		back, err := proto.ReadRegister(tc.addr)
		require.NoError(t, err)
		assert.Equal(t, uint16(tc.value), back)
	}
}

func TestFlash(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		op       zebra.FlashOp
		response string
		wantErr  error
	}{
		{
			name:     "save ok",
			op:       zebra.FlashSave,
			response: "SOK",
		},
		{
			name:     "load ok",
			op:       zebra.FlashLoad,
			response: "LOK",
		},
		{
			name:     "wrong ack",
			op:       zebra.FlashSave,
			response: "LOK",
			wantErr:  zebra.ErrMalformedResponse,
		},
		{
			name:     "device error",
			op:       zebra.FlashSave,
			response: "E0",
			wantErr:  zebra.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := zebra.NewMockTransport()
			mock.SetResponse(string(tt.op), tt.response)
			proto := zebra.NewProtocol(mock)

			err := proto.Flash(tt.op, 200*time.Millisecond)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFlashRegisterError(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()
	mock.SetResponse("S", "E1W12")
	proto := zebra.NewProtocol(mock)

	err := proto.Flash(zebra.FlashSave, 0)
	var regErr *zebra.RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, zebra.OpWrite, regErr.Op)
	assert.Equal(t, 0x12, regErr.Address)
}

// TestRequestSerialization checks that two concurrent reads never
// interleave on the wire: each request frame is immediately followed
// by its own response frame.
func TestRequestSerialization(t *testing.T) {
	t.Parallel()
	mock := newEchoTransport("BEEF")
	mock.SetDelay(30 * time.Millisecond)
	proto := zebra.NewProtocol(mock)

	var wg sync.WaitGroup
	for _, addr := range []int{0x01, 0x02, 0x03, 0x04} {
		wg.Add(1)
		go func(addr int) {
			defer wg.Done()
			_, err := proto.ReadRegister(addr)
			assert.NoError(t, err)
		}(addr)
	}
	wg.Wait()

	log := mock.Log()
	require.Len(t, log, 8)
	for i := 0; i < len(log); i += 2 {
		require.True(t, strings.HasPrefix(log[i], "tx R"), "entry %d: %q", i, log[i])
		request := strings.TrimPrefix(log[i], "tx ")
		// The very next wire event is this request's own response.
		assert.Equal(t, "rx "+request+"BEEF", log[i+1])
	}
}

func TestNotConnected(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()
	require.NoError(t, mock.Close())
	proto := zebra.NewProtocol(mock)

	_, err := proto.ReadRegister(0x01)
	require.ErrorIs(t, err, zebra.ErrNotConnected)

	var trErr *zebra.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, "WriteLine", trErr.Op)
}

func TestErrorIsHierarchy(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()
	proto := zebra.NewProtocol(mock)
	proto.SetTimeout(20 * time.Millisecond)

	_, err := proto.ReadRegister(0x01)
	require.Error(t, err)
	assert.ErrorIs(t, err, zebra.ErrReadTimeout)
	assert.False(t, errors.Is(err, zebra.ErrMalformedResponse))
}
