// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zebra_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-daq/zebra"
)

func TestMockTransportLifecycle(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()
	assert.True(t, mock.IsConnected())
	assert.Equal(t, zebra.TransportMock, mock.Type())

	require.NoError(t, mock.Close())
	assert.False(t, mock.IsConnected())

	err := mock.WriteLine("R00")
	require.ErrorIs(t, err, zebra.ErrNotConnected)
	_, err = mock.ReadLine(10 * time.Millisecond)
	require.ErrorIs(t, err, zebra.ErrNotConnected)

	require.NoError(t, mock.Connect())
	assert.True(t, mock.IsConnected())
}

func TestMockTransportTimeout(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()

	start := time.Now()
	_, err := mock.ReadLine(30 * time.Millisecond)
	require.ErrorIs(t, err, zebra.ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMockTransportInject(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()
	mock.Inject("PR")
	mock.Inject("PX")

	line, err := mock.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PR", line)

	line, err = mock.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PX", line)
}

func TestMockTransportLog(t *testing.T) {
	t.Parallel()
	mock := zebra.NewMockTransport()
	mock.SetResponse("R01", "R01BEEF")

	require.NoError(t, mock.WriteLine("R01"))
	line, err := mock.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "R01BEEF", line)

	assert.Equal(t, []string{"tx R01", "rx R01BEEF"}, mock.Log())

	mock.Reset()
	assert.Empty(t, mock.Log())
}
