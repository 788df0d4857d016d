// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// RecordingWriter writes capture frames to a recording.
type RecordingWriter struct {
	w      io.WriteSeeker
	hdr    RecordingHeader
	frames int // Number of frames written so far.
}

// CreateRecording starts a recording on w.
func CreateRecording(w io.WriteSeeker, hdr RecordingHeader) (*RecordingWriter, error) {
	if err := hdr.validate(); err != nil {
		return nil, err
	}
	hdr.Frames = -1

	rw := &RecordingWriter{w: w, hdr: hdr}
	if err := rw.writeHeader(); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return rw, nil
}

// Close finalizes the recording by updating the header with the frame count.
func (rw *RecordingWriter) Close() error {
	rw.hdr.Frames = rw.frames
	if err := rw.writeHeader(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	return nil
}

// WriteFrame appends one frame as a data record. Every analog channel must
// carry exactly the configured number of samples; a frame without digital
// samples records all lanes low.
func (rw *RecordingWriter) WriteFrame(f Frame) error {
	for ch := 0; ch < ChannelCount; ch++ {
		if want := rw.hdr.Signals[ch].SamplesPerFrame; len(f.Analog[ch]) != want {
			return fmt.Errorf("channel %d has %d samples, expected %d: %w", ch, len(f.Analog[ch]), want, ErrInvalidArgument)
		}
	}
	digital := rw.hdr.Signals[ChannelCount]
	if len(f.Digital) != 0 && len(f.Digital) != digital.SamplesPerFrame {
		return fmt.Errorf("digital has %d samples, expected %d: %w", len(f.Digital), digital.SamplesPerFrame, ErrInvalidArgument)
	}

	if _, err := rw.w.Seek(int64(rw.hdr.headerBytes())+int64(rw.frames)*int64(rw.hdr.recordBytes()), io.SeekStart); err != nil {
		return err
	}

	writer := bufio.NewWriter(rw.w)

	for ch := 0; ch < ChannelCount; ch++ {
		sig := rw.hdr.Signals[ch]
		perSample := (sig.PhysicalMax - sig.PhysicalMin) / float64(sig.DigitalMax-sig.DigitalMin)
		for _, s := range f.Analog[ch] {
			v := convertPhysicalToDigital(float64(s)*perSample, sig)
			if err := binary.Write(writer, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}

	for i := 0; i < digital.SamplesPerFrame; i++ {
		var mask uint16
		if len(f.Digital) != 0 {
			mask = f.Digital[i]
		}
		v := convertPhysicalToDigital(float64(int16(mask)), digital)
		if err := binary.Write(writer, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	rw.frames++
	return nil
}

// headerWriter writes fixed-width ASCII fields, keeping the first error.
type headerWriter struct {
	w   *bufio.Writer
	err error
}

func (hw *headerWriter) field(width int, v string) {
	if hw.err != nil {
		return
	}
	_, hw.err = fmt.Fprintf(hw.w, "%-*s", width, v)
}

func (hw *headerWriter) signals(signals []RecordingSignal, width int, value func(RecordingSignal) string) {
	for _, s := range signals {
		hw.field(width, value(s))
	}
}

func (rw *RecordingWriter) writeHeader() error {
	if _, err := rw.w.Seek(0, io.SeekStart); err != nil {
		return err
	}

	hdr := rw.hdr
	hw := &headerWriter{w: bufio.NewWriter(rw.w)}

	hw.field(8, recordingVersion)
	hw.field(80, hdr.Device)
	hw.field(80, hdr.ID.String())
	hw.field(8, hdr.StartTime.Format("02.01.06"))
	hw.field(8, hdr.StartTime.Format("15.04.05"))
	hw.field(8, fmt.Sprint(hdr.headerBytes()))
	hw.field(44, "")
	hw.field(8, fmt.Sprint(hdr.Frames))
	hw.field(8, formatNumber(hdr.FrameDuration.Seconds()))
	hw.field(4, fmt.Sprint(len(hdr.Signals)))

	hw.signals(hdr.Signals, 16, func(s RecordingSignal) string { return s.Label })
	hw.signals(hdr.Signals, 80, func(RecordingSignal) string { return "" })
	hw.signals(hdr.Signals, 8, func(s RecordingSignal) string { return s.Dimension })
	hw.signals(hdr.Signals, 8, func(s RecordingSignal) string { return formatNumber(s.PhysicalMin) })
	hw.signals(hdr.Signals, 8, func(s RecordingSignal) string { return formatNumber(s.PhysicalMax) })
	hw.signals(hdr.Signals, 8, func(s RecordingSignal) string { return fmt.Sprint(s.DigitalMin) })
	hw.signals(hdr.Signals, 8, func(s RecordingSignal) string { return fmt.Sprint(s.DigitalMax) })
	hw.signals(hdr.Signals, 80, func(RecordingSignal) string { return "" })
	hw.signals(hdr.Signals, 8, func(s RecordingSignal) string { return fmt.Sprint(s.SamplesPerFrame) })
	hw.signals(hdr.Signals, 32, func(RecordingSignal) string { return "" })

	if hw.err != nil {
		return hw.err
	}
	return hw.w.Flush()
}
