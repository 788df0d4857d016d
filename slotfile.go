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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

var slotMagic = [8]byte{'S', 'C', 'O', 'P', 'E', 'S', 'L', 'T'}

const slotVersion = 1

type slotHeader struct {
	Magic   [8]byte
	Version uint64
}

type slotChannel struct {
	Capture       float64
	Display       float64
	Scale         float64
	Position      float64
	PositionSteps int32
	Invert        bool
	Ground        bool
	Coupling      int8
	Enabled       bool
	FFT           bool
}

// slotRecord is the fixed-size image of a Config.
type slotRecord struct {
	Capture     float64
	Display     float64
	Position    float64
	Frame       int32
	FrameSize   int32
	FFTSize     int32
	ETS         bool
	Mode        int8
	Control     int32
	ChannelLink bool

	Channels [ChannelCount]slotChannel

	FunctionType    int8
	FunctionXYGraph bool
	FunctionEnabled bool
	FunctionFFT     bool
	Custom          [maxCustomLength + 1]byte

	DigitalEnabled [DigitalBitCount]bool
	DigitalOutput  [DigitalBitCount]int8
	DigitalVoltage float64
	Divider        int32
	UpperDirection int8
	LowerDirection int8

	Source        int8
	Slope         int8
	TriggerMode   int8
	Level         int32
	Hysteresis    int32
	Percent       float64
	Holdoff       int32
	Stage         int8
	Pattern       [StageCount][DigitalBitCount]int8
	Mask          [StageCount][DigitalBitCount]bool
	Delay         [StageCount]int32
	StageStart    int8
	StageMode     int8
	SerialChannel int8
}

// SlotSize is the size of an encoded slot in bytes.
var SlotSize = binary.Size(slotHeader{}) + binary.Size(slotRecord{})

// EncodeConfig writes the fixed-size binary image of a configuration.
func EncodeConfig(w io.Writer, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	h := cfg.Horizontal
	rec := slotRecord{
		Capture:     h.Capture,
		Display:     h.Display,
		Position:    h.Position,
		Frame:       int32(h.Frame),
		FrameSize:   int32(h.FrameSize),
		FFTSize:     int32(h.FFTSize),
		ETS:         h.ETS,
		Mode:        int8(h.Mode),
		Control:     int32(h.Control),
		ChannelLink: h.ChannelLink,

		FunctionType:    int8(cfg.Function.Type),
		FunctionXYGraph: cfg.Function.XYGraph,
		FunctionEnabled: cfg.Function.Enabled,
		FunctionFFT:     cfg.Function.FFT,

		DigitalEnabled: cfg.Digital.Enabled,
		DigitalVoltage: cfg.Digital.Voltage,
		Divider:        int32(cfg.Digital.Divider),
		UpperDirection: int8(cfg.Digital.UpperDirection),
		LowerDirection: int8(cfg.Digital.LowerDirection),

		Source:        int8(cfg.Trigger.Source),
		Slope:         int8(cfg.Trigger.Slope),
		TriggerMode:   int8(cfg.Trigger.Mode),
		Level:         int32(cfg.Trigger.Level),
		Hysteresis:    int32(cfg.Trigger.Hysteresis),
		Percent:       cfg.Trigger.Percent,
		Holdoff:       int32(cfg.Trigger.Holdoff),
		Stage:         int8(cfg.Trigger.Stage),
		Mask:          cfg.Trigger.Mask,
		StageStart:    int8(cfg.Trigger.StageStart),
		StageMode:     int8(cfg.Trigger.StageMode),
		SerialChannel: int8(cfg.Trigger.SerialChannel),
	}
	copy(rec.Custom[:], cfg.Function.Custom)

	for i, ch := range cfg.Channels {
		rec.Channels[i] = slotChannel{
			Capture:       ch.Capture,
			Display:       ch.Display,
			Scale:         ch.Scale,
			Position:      ch.Position,
			PositionSteps: int32(ch.PositionSteps),
			Invert:        ch.Invert,
			Ground:        ch.Ground,
			Coupling:      int8(ch.Coupling),
			Enabled:       ch.Enabled,
			FFT:           ch.FFT,
		}
	}
	for bit, out := range cfg.Digital.Output {
		rec.DigitalOutput[bit] = int8(out)
	}
	for stage := range cfg.Trigger.Pattern {
		for bit, level := range cfg.Trigger.Pattern[stage] {
			rec.Pattern[stage][bit] = int8(level)
		}
		rec.Delay[stage] = int32(cfg.Trigger.Delay[stage])
	}

	writer := bufio.NewWriter(w)
	if err := binary.Write(writer, binary.LittleEndian, slotHeader{Magic: slotMagic, Version: slotVersion}); err != nil {
		return err
	}
	if err := binary.Write(writer, binary.LittleEndian, &rec); err != nil {
		return err
	}

	return writer.Flush()
}

// DecodeConfig reads a configuration written by EncodeConfig. Images that are
// short, foreign or out of range yield ErrCorruptSlot.
func DecodeConfig(r io.Reader) (Config, error) {
	b := make([]byte, SlotSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return Config{}, fmt.Errorf("error reading slot: %w: %w", ErrCorruptSlot, err)
	}

	br := bytes.NewReader(b)
	var hdr slotHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return Config{}, fmt.Errorf("error reading slot header: %w: %w", ErrCorruptSlot, err)
	}
	if hdr.Magic != slotMagic || hdr.Version != slotVersion {
		return Config{}, fmt.Errorf("unrecognised slot header: %w", ErrCorruptSlot)
	}

	var rec slotRecord
	if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
		return Config{}, fmt.Errorf("error reading slot record: %w: %w", ErrCorruptSlot, err)
	}

	cfg := Config{
		Horizontal: HorizontalSettings{
			Capture:     rec.Capture,
			Display:     rec.Display,
			Position:    rec.Position,
			Frame:       int(rec.Frame),
			FrameSize:   int(rec.FrameSize),
			FFTSize:     int(rec.FFTSize),
			ETS:         rec.ETS,
			Mode:        AcquisitionMode(rec.Mode),
			Control:     int(rec.Control),
			ChannelLink: rec.ChannelLink,
		},
		Function: FunctionSettings{
			Type:    FunctionType(rec.FunctionType),
			XYGraph: rec.FunctionXYGraph,
			Custom:  strings.TrimRight(string(rec.Custom[:]), "\x00"),
			Enabled: rec.FunctionEnabled,
			FFT:     rec.FunctionFFT,
		},
		Digital: DigitalSettings{
			Enabled:        rec.DigitalEnabled,
			Voltage:        rec.DigitalVoltage,
			Divider:        int(rec.Divider),
			UpperDirection: Direction(rec.UpperDirection),
			LowerDirection: Direction(rec.LowerDirection),
		},
		Trigger: TriggerSettings{
			Source:        TriggerSource(rec.Source),
			Slope:         TriggerSlope(rec.Slope),
			Mode:          TriggerMode(rec.TriggerMode),
			Level:         int(rec.Level),
			Hysteresis:    int(rec.Hysteresis),
			Percent:       rec.Percent,
			Holdoff:       int(rec.Holdoff),
			Stage:         int(rec.Stage),
			Mask:          rec.Mask,
			StageStart:    int(rec.StageStart),
			StageMode:     DigitalMode(rec.StageMode),
			SerialChannel: int(rec.SerialChannel),
		},
	}

	for i, ch := range rec.Channels {
		cfg.Channels[i] = ChannelSettings{
			Capture:       ch.Capture,
			Display:       ch.Display,
			Scale:         ch.Scale,
			Position:      ch.Position,
			PositionSteps: int(ch.PositionSteps),
			Invert:        ch.Invert,
			Ground:        ch.Ground,
			Coupling:      Coupling(ch.Coupling),
			Enabled:       ch.Enabled,
			FFT:           ch.FFT,
		}
	}
	for bit, out := range rec.DigitalOutput {
		cfg.Digital.Output[bit] = OutputMode(out)
	}
	for stage := range rec.Pattern {
		for bit, level := range rec.Pattern[stage] {
			cfg.Trigger.Pattern[stage][bit] = PatternLevel(level)
		}
		cfg.Trigger.Delay[stage] = int(rec.Delay[stage])
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrCorruptSlot, err)
	}

	return cfg, nil
}
