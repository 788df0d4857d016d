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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capture recordings are EDF files: one data record per frame, one signal per
// analog channel followed by one signal carrying the digital lane bitmasks.

const (
	recordingVersion = "0"
	// Divisions above and below the centre line covered by MaxSampleValue.
	recordingDivisions = 5
	// EDF limit on the size of one data record.
	maxRecordBytes = 61440
)

// RecordingHeader describes a capture recording.
type RecordingHeader struct {
	Device        string        // Device identification
	ID            uuid.UUID     // Recording identifier
	StartTime     time.Time     // Time of the first frame
	FrameDuration time.Duration // Duration of one frame
	Frames        int           // Number of frames, -1 while recording
	Signals       []RecordingSignal
}

// RecordingSignal describes one signal of a recording.
type RecordingSignal struct {
	Label           string
	Dimension       string // Physical unit
	PhysicalMin     float64
	PhysicalMax     float64
	DigitalMin      int
	DigitalMax      int
	SamplesPerFrame int
}

// NewRecordingHeader describes a recording of frames captured with cfg.
func NewRecordingHeader(cfg Config, device string, samplesPerFrame int) RecordingHeader {
	hdr := RecordingHeader{
		Device:        device,
		ID:            uuid.New(),
		StartTime:     time.Now(),
		FrameDuration: time.Duration(math.Round(cfg.Horizontal.Capture * 10 * float64(time.Second))),
		Frames:        -1,
	}

	for ch, s := range cfg.Channels {
		span := s.Capture * recordingDivisions
		hdr.Signals = append(hdr.Signals, RecordingSignal{
			Label:           fmt.Sprintf("Channel %d", ch+1),
			Dimension:       "V",
			PhysicalMin:     -span,
			PhysicalMax:     span,
			DigitalMin:      -MaxSampleValue,
			DigitalMax:      MaxSampleValue,
			SamplesPerFrame: samplesPerFrame,
		})
	}

	hdr.Signals = append(hdr.Signals, RecordingSignal{
		Label:           "Digital",
		PhysicalMin:     math.MinInt16,
		PhysicalMax:     math.MaxInt16,
		DigitalMin:      math.MinInt16,
		DigitalMax:      math.MaxInt16,
		SamplesPerFrame: samplesPerFrame,
	})

	return hdr
}

func (hdr *RecordingHeader) headerBytes() int {
	return 256 + len(hdr.Signals)*256
}

func (hdr *RecordingHeader) recordBytes() int {
	var n int
	for _, s := range hdr.Signals {
		n += s.SamplesPerFrame * 2
	}
	return n
}

func (hdr *RecordingHeader) validate() error {
	if len(hdr.Signals) != ChannelCount+1 {
		return fmt.Errorf("recording has %d signals, want %d: %w", len(hdr.Signals), ChannelCount+1, ErrInvalidArgument)
	}
	if n := hdr.recordBytes(); n > maxRecordBytes {
		return fmt.Errorf("data record too large: %d bytes, max is %d bytes: %w", n, maxRecordBytes, ErrInvalidArgument)
	}
	return nil
}

// convertPhysicalToDigital maps a physical value onto the digital range of a signal.
func convertPhysicalToDigital(physical float64, s RecordingSignal) int16 {
	if s.PhysicalMax == s.PhysicalMin {
		return 0
	}
	digital := (physical-s.PhysicalMin)*float64(s.DigitalMax-s.DigitalMin)/(s.PhysicalMax-s.PhysicalMin) + float64(s.DigitalMin)
	return int16(max(float64(s.DigitalMin), min(float64(s.DigitalMax), math.Round(digital))))
}

// convertDigitalToPhysical maps a stored digital value back to physical units.
func convertDigitalToPhysical(digital int16, s RecordingSignal) float64 {
	if s.DigitalMax == s.DigitalMin {
		return 0
	}
	return s.PhysicalMin + (float64(digital)-float64(s.DigitalMin))*(s.PhysicalMax-s.PhysicalMin)/float64(s.DigitalMax-s.DigitalMin)
}

// formatNumber renders a number into an 8 character header field.
func formatNumber(val float64) string {
	s := strconv.FormatFloat(val, 'f', -1, 64)
	if len(s) > 8 {
		s = strconv.FormatFloat(val, 'g', 3, 64)
	}
	return fmt.Sprintf("%-8s", s)
}

func parseNumber(b []byte) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}
