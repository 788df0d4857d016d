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
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordingReader reads capture frames back from a recording.
type RecordingReader struct {
	r     io.ReadSeeker
	hdr   RecordingHeader
	frame int // Next frame to read
}

// RecordedFrame is a frame read from a recording, with the analog samples
// also converted to volts.
type RecordedFrame struct {
	Frame
	Volts [ChannelCount][]float64
}

// headerReader reads fixed-width ASCII fields, keeping the first error.
type headerReader struct {
	r   io.Reader
	err error
}

func (hr *headerReader) field(width int) string {
	if hr.err != nil {
		return ""
	}
	b := make([]byte, width)
	if _, hr.err = io.ReadFull(hr.r, b); hr.err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (hr *headerReader) integer(width int, what string) int {
	s := hr.field(width)
	if hr.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		hr.err = fmt.Errorf("error parsing %s: %w", what, err)
	}
	return v
}

func (hr *headerReader) number(width int, what string) float64 {
	s := hr.field(width)
	if hr.err != nil {
		return 0
	}
	v, err := parseNumber([]byte(s))
	if err != nil {
		hr.err = fmt.Errorf("error parsing %s: %w", what, err)
	}
	return v
}

// OpenRecording reads the header of a recording.
func OpenRecording(r io.ReadSeeker) (*RecordingReader, error) {
	hr := &headerReader{r: bufio.NewReader(r)}

	var hdr RecordingHeader
	if v := hr.field(8); hr.err == nil && v != recordingVersion {
		return nil, fmt.Errorf("unsupported recording version %q: %w", v, ErrInvalidArgument)
	}
	hdr.Device = hr.field(80)
	id := hr.field(80)
	date := hr.field(8)
	clock := hr.field(8)
	headerBytes := hr.integer(8, "header bytes")
	hr.field(44)
	hdr.Frames = hr.integer(8, "number of frames")
	duration := hr.number(8, "frame duration")
	signals := hr.integer(4, "signal count")
	if hr.err != nil {
		return nil, fmt.Errorf("error reading header: %w", hr.err)
	}

	var err error
	if hdr.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("error parsing recording id: %w", err)
	}
	start, err := time.Parse("02.01.06 15.04.05", date+" "+clock)
	if err != nil {
		return nil, fmt.Errorf("error parsing start time: %w", err)
	}
	hdr.StartTime = start
	hdr.FrameDuration = time.Duration(math.Round(duration * float64(time.Second)))

	if signals != ChannelCount+1 || headerBytes != 256+signals*256 {
		return nil, fmt.Errorf("recording has %d signals and %d header bytes: %w", signals, headerBytes, ErrInvalidArgument)
	}

	hdr.Signals = make([]RecordingSignal, signals)
	for i := range hdr.Signals {
		hdr.Signals[i].Label = hr.field(16)
	}
	for range hdr.Signals {
		hr.field(80) // Transducer
	}
	for i := range hdr.Signals {
		hdr.Signals[i].Dimension = hr.field(8)
	}
	for i := range hdr.Signals {
		hdr.Signals[i].PhysicalMin = hr.number(8, "physical minimum")
	}
	for i := range hdr.Signals {
		hdr.Signals[i].PhysicalMax = hr.number(8, "physical maximum")
	}
	for i := range hdr.Signals {
		hdr.Signals[i].DigitalMin = hr.integer(8, "digital minimum")
	}
	for i := range hdr.Signals {
		hdr.Signals[i].DigitalMax = hr.integer(8, "digital maximum")
	}
	for range hdr.Signals {
		hr.field(80) // Prefiltering
	}
	for i := range hdr.Signals {
		hdr.Signals[i].SamplesPerFrame = hr.integer(8, "samples per frame")
	}
	for range hdr.Signals {
		hr.field(32) // Reserved
	}
	if hr.err != nil {
		return nil, fmt.Errorf("error reading signal headers: %w", hr.err)
	}

	return &RecordingReader{r: r, hdr: hdr}, nil
}

// Header returns the recording header.
func (rr *RecordingReader) Header() RecordingHeader {
	return rr.hdr
}

// ReadFrame reads the next frame. It returns io.EOF after the last frame.
func (rr *RecordingReader) ReadFrame() (RecordedFrame, error) {
	if rr.hdr.Frames >= 0 && rr.frame >= rr.hdr.Frames {
		return RecordedFrame{}, io.EOF
	}

	pos := int64(rr.hdr.headerBytes()) + int64(rr.frame)*int64(rr.hdr.recordBytes())
	if _, err := rr.r.Seek(pos, io.SeekStart); err != nil {
		return RecordedFrame{}, fmt.Errorf("error seeking to frame: %w", err)
	}

	raw := make([]int16, rr.hdr.recordBytes()/2)
	if err := binary.Read(bufio.NewReader(rr.r), binary.LittleEndian, raw); err != nil {
		if err == io.EOF {
			return RecordedFrame{}, io.EOF
		}
		return RecordedFrame{}, fmt.Errorf("error reading frame data: %w", err)
	}

	offset := time.Duration(rr.frame) * rr.hdr.FrameDuration
	out := RecordedFrame{Frame: Frame{
		Time:   rr.hdr.StartTime.Add(offset),
		Offset: offset.Seconds(),
	}}

	for ch := 0; ch < ChannelCount; ch++ {
		sig := rr.hdr.Signals[ch]
		samples := raw[:sig.SamplesPerFrame]
		raw = raw[sig.SamplesPerFrame:]

		out.Analog[ch] = make([]int16, len(samples))
		out.Volts[ch] = make([]float64, len(samples))
		perSample := (sig.PhysicalMax - sig.PhysicalMin) / float64(sig.DigitalMax-sig.DigitalMin)
		for i, d := range samples {
			volts := convertDigitalToPhysical(d, sig)
			out.Volts[ch][i] = volts
			out.Analog[ch][i] = int16(math.Round(volts / perSample))
		}
	}

	digital := rr.hdr.Signals[ChannelCount]
	out.Digital = make([]uint16, digital.SamplesPerFrame)
	for i, d := range raw[:digital.SamplesPerFrame] {
		out.Digital[i] = uint16(int16(convertDigitalToPhysical(d, digital)))
	}

	rr.frame++
	return out, nil
}
