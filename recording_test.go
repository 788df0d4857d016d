// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/scope"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingFrames() []scope.Frame {
	return []scope.Frame{
		{
			Analog:  [scope.ChannelCount][]int16{{0, 256, -512, 512}, {1, -1, 100, -100}},
			Digital: []uint16{0x0000, 0x00ff, 0x8000, 0xffff},
		},
		{
			Analog:  [scope.ChannelCount][]int16{{-7, 7, 0, 3}, {0, 0, 0, 0}},
			Digital: []uint16{0x0001, 0x0002, 0x0004, 0x0008},
		},
		{
			// No digital capture.
			Analog: [scope.ChannelCount][]int16{{9, 8, 7, 6}, {5, 4, 3, 2}},
		},
	}
}

func TestNewRecordingHeader(t *testing.T) {
	cfg := scope.DefaultConfig(scope.Version1)
	cfg.Channels[1].Capture = 0.1

	hdr := scope.NewRecordingHeader(cfg, "scope-01", 1000)

	assert.Equal(t, "scope-01", hdr.Device)
	assert.NotEqual(t, uuid.Nil, hdr.ID)
	assert.Equal(t, 10*time.Millisecond, hdr.FrameDuration)
	assert.Equal(t, -1, hdr.Frames)
	require.Len(t, hdr.Signals, 3)

	assert.Equal(t, "Channel 1", hdr.Signals[0].Label)
	assert.Equal(t, "V", hdr.Signals[0].Dimension)
	assert.Equal(t, -10.0, hdr.Signals[0].PhysicalMin)
	assert.Equal(t, 10.0, hdr.Signals[0].PhysicalMax)
	assert.Equal(t, -512, hdr.Signals[0].DigitalMin)
	assert.Equal(t, 512, hdr.Signals[0].DigitalMax)
	assert.InDelta(t, 0.5, hdr.Signals[1].PhysicalMax, 1e-12)
	assert.Equal(t, "Digital", hdr.Signals[2].Label)
	assert.Equal(t, 1000, hdr.Signals[2].SamplesPerFrame)
}

func TestRecordingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.edf")

	hdr := scope.NewRecordingHeader(scope.DefaultConfig(scope.Version1), "scope-01", 4)
	hdr.StartTime = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	f, err := os.Create(path)
	require.NoError(t, err)

	rw, err := scope.CreateRecording(f, hdr)
	require.NoError(t, err)
	for _, frame := range recordingFrames() {
		require.NoError(t, rw.WriteFrame(frame))
	}
	require.NoError(t, rw.Close())
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	rr, err := scope.OpenRecording(f)
	require.NoError(t, err)

	got := rr.Header()
	assert.Equal(t, hdr.Device, got.Device)
	assert.Equal(t, hdr.ID, got.ID)
	assert.True(t, hdr.StartTime.Equal(got.StartTime), "start time %s", got.StartTime)
	assert.Equal(t, hdr.FrameDuration, got.FrameDuration)
	assert.Equal(t, 3, got.Frames)
	assert.Equal(t, hdr.Signals, got.Signals)

	for i, expected := range recordingFrames() {
		rf, err := rr.ReadFrame()
		require.NoError(t, err)

		assert.Equal(t, expected.Analog, rf.Analog, "frame %d", i)
		if expected.Digital == nil {
			assert.Equal(t, []uint16{0, 0, 0, 0}, rf.Digital)
		} else {
			assert.Equal(t, expected.Digital, rf.Digital, "frame %d", i)
		}

		offset := time.Duration(i) * 10 * time.Millisecond
		assert.True(t, hdr.StartTime.Add(offset).Equal(rf.Time))
		assert.InDelta(t, offset.Seconds(), rf.Offset, 1e-12)
	}

	_, err = rr.ReadFrame()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRecordingVolts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volts.edf")

	hdr := scope.NewRecordingHeader(scope.DefaultConfig(scope.Version1), "scope-01", 4)
	f, err := os.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	rw, err := scope.CreateRecording(f, hdr)
	require.NoError(t, err)
	require.NoError(t, rw.WriteFrame(recordingFrames()[0]))
	require.NoError(t, rw.Close())

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	rr, err := scope.OpenRecording(f)
	require.NoError(t, err)
	rf, err := rr.ReadFrame()
	require.NoError(t, err)

	// Ten divisions of 2 V over 1024 samples.
	assert.InDeltaSlice(t, []float64{0, 5, -10, 10}, rf.Volts[0], 1e-9)
}

func TestRecordingErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.edf")
	f, err := os.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	cfg := scope.DefaultConfig(scope.Version1)

	_, err = scope.CreateRecording(f, scope.NewRecordingHeader(cfg, "scope-01", 20000))
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)

	hdr := scope.NewRecordingHeader(cfg, "scope-01", 4)
	hdr.Signals = hdr.Signals[:2]
	_, err = scope.CreateRecording(f, hdr)
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)

	rw, err := scope.CreateRecording(f, scope.NewRecordingHeader(cfg, "scope-01", 4))
	require.NoError(t, err)

	short := recordingFrames()[0]
	short.Analog[1] = short.Analog[1][:3]
	assert.ErrorIs(t, rw.WriteFrame(short), scope.ErrInvalidArgument)

	short = recordingFrames()[0]
	short.Digital = short.Digital[:1]
	assert.ErrorIs(t, rw.WriteFrame(short), scope.ErrInvalidArgument)

	require.NoError(t, rw.Close())

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write([]byte("9"))
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	_, err = scope.OpenRecording(f)
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)
}
