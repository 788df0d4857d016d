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
)

// Compatibility selects the hardware generation the register image targets.
type Compatibility int

const (
	// Version1 is the first hardware generation (16 digital lanes, 1-2-5 time ranges).
	Version1 Compatibility = 1
	// Version2 is the second hardware generation (12 digital lanes, 2 ns fastest range).
	Version2 Compatibility = 2
)

func (v Compatibility) valid() bool {
	return v == Version1 || v == Version2
}

func (v Compatibility) String() string {
	return fmt.Sprintf("v%d", int(v))
}

const (
	ChannelCount    = 2  // Analog input channels
	StageCount      = 4  // Digital trigger sequencer stages
	DigitalBitCount = 16 // Digital lanes addressed by the register image
)

// AcquisitionMode is the horizontal run state.
type AcquisitionMode int

const (
	ModePlay AcquisitionMode = iota
	ModePause
	ModeCapture
	ModeSimulate
	ModeClear
)

// Coupling is the analog input coupling.
type Coupling int

const (
	CouplingDC Coupling = iota
	CouplingAC
)

// FunctionType selects the derived function trace.
type FunctionType int

const (
	FunctionAdd FunctionType = iota
	FunctionSubtractAB
	FunctionSubtractBA
	FunctionMultiply
	FunctionCustom
)

// TriggerSource selects what the trigger engine compares against.
type TriggerSource int

const (
	TriggerChannelA TriggerSource = iota
	TriggerChannelB
	TriggerDigital
	TriggerExternal
)

// TriggerSlope selects the analog edge direction.
type TriggerSlope int

const (
	SlopeRising TriggerSlope = iota
	SlopeFalling
	SlopeBoth
)

// TriggerMode is the trigger arming policy.
type TriggerMode int

const (
	TriggerAuto TriggerMode = iota
	TriggerNormal
	TriggerSingle
	TriggerFreeRun // forces the pre-trigger to zero
)

// PatternLevel is the per-bit condition of a digital trigger stage.
type PatternLevel int

const (
	PatternLow PatternLevel = iota
	PatternHigh
	PatternRising
	PatternFalling
	// PatternMasked is the "don't care" selector. It is never stored as a
	// pattern value; it is how an unmasked bit is presented and requested.
	PatternMasked
)

// DigitalMode is the sequencing policy of the digital trigger stages.
type DigitalMode int

const (
	DigitalModePattern DigitalMode = iota
	DigitalModeSerial
)

// OutputMode is the selector of one digital output lane.
type OutputMode int

const (
	OutputLow OutputMode = iota
	OutputHigh
	OutputCustom
)

// Direction is the input/output direction of a group of digital lanes.
type Direction int

const (
	DirectionOutput Direction = iota
	DirectionInput
)

// Config is one complete instrument configuration. It is a value type: every
// field is an array or scalar so that assignment is a deep copy.
type Config struct {
	Horizontal HorizontalSettings
	Channels   [ChannelCount]ChannelSettings
	Function   FunctionSettings
	Digital    DigitalSettings
	Trigger    TriggerSettings
}

// HorizontalSettings describes the time base.
type HorizontalSettings struct {
	Capture     float64         // Capture time per division in seconds (enumerated)
	Display     float64         // Display time per division in seconds
	Position    float64         // Horizontal position
	Frame       int             // Index of the displayed history frame
	FrameSize   int             // Samples per frame, as reported by the device
	FFTSize     int             // FFT length
	ETS         bool            // Equivalent-time sampling
	Mode        AcquisitionMode // Play, pause, capture, simulate or clear
	Control     int             // Transfer control mode
	ChannelLink bool            // Channel B mirrors channel A (fastest time range only)
}

// ChannelSettings describes one analog channel.
type ChannelSettings struct {
	Capture       float64  // Capture volts per division (enumerated)
	Display       float64  // Display volts per division
	Scale         float64  // Probe scale
	Position      float64  // Vertical position in volts
	PositionSteps int      // Vertical position in raw steps
	Invert        bool     // Invert the trace
	Ground        bool     // Ground the input
	Coupling      Coupling // AC or DC coupling
	Enabled       bool     // Trace on/off
	FFT           bool     // FFT on/off
}

// FunctionSettings describes the derived function trace.
type FunctionSettings struct {
	Type    FunctionType
	XYGraph bool
	Custom  string // Custom expression, at most maxCustomLength bytes
	Enabled bool
	FFT     bool
}

// DigitalSettings describes the digital lanes.
type DigitalSettings struct {
	Enabled        [DigitalBitCount]bool       // Lane on/off
	Output         [DigitalBitCount]OutputMode // Output selector per lane
	Voltage        float64                     // Threshold voltage, as reported by the device
	Divider        int                         // Digital clock divider
	UpperDirection Direction                   // Direction of the upper lane group
	LowerDirection Direction                   // Direction of the lower lane group
}

// TriggerSettings describes the analog trigger and the digital sequencer.
type TriggerSettings struct {
	Source        TriggerSource
	Slope         TriggerSlope
	Mode          TriggerMode
	Level         int     // Raw steps
	Hysteresis    int     // Raw steps
	Percent       float64 // Pre-trigger percent, [0, 99]
	Holdoff       int     // Raw ticks, as reported by the device
	Stage         int     // Stage being edited, [0, StageCount)
	Pattern       [StageCount][DigitalBitCount]PatternLevel
	Mask          [StageCount][DigitalBitCount]bool // false: bit is ignored
	Delay         [StageCount]int                   // [0, 65535]
	StageStart    int
	StageMode     DigitalMode
	SerialChannel int
}

// DefaultConfig returns the factory default configuration for a hardware
// generation.
func DefaultConfig(v Compatibility) Config {
	table := timeTable(v)
	capture := table.ranges[table.def]

	cfg := Config{
		Horizontal: HorizontalSettings{
			Capture:   capture,
			Display:   capture,
			FrameSize: 10000,
			FFTSize:   1024,
			Mode:      ModePause,
		},
		Function: FunctionSettings{
			Type: FunctionAdd,
		},
		Digital: DigitalSettings{
			Voltage:        1.25,
			Divider:        99,
			UpperDirection: DirectionInput,
			LowerDirection: DirectionInput,
		},
		Trigger: TriggerSettings{
			Source:     TriggerChannelA,
			Slope:      SlopeRising,
			Mode:       TriggerAuto,
			Hysteresis: 5,
			Percent:    50,
		},
	}

	for i := range cfg.Channels {
		cfg.Channels[i] = ChannelSettings{
			Capture:  voltRanges[Volt2],
			Display:  voltRanges[Volt2],
			Scale:    1,
			Coupling: CouplingDC,
			Enabled:  true,
		}
	}

	return cfg
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= ChannelCount {
		return fmt.Errorf("channel %d: %w", ch, ErrIndexOutOfRange)
	}
	return nil
}

func checkStage(stage int) error {
	if stage < 0 || stage >= StageCount {
		return fmt.Errorf("stage %d: %w", stage, ErrIndexOutOfRange)
	}
	return nil
}

func checkBit(bit int) error {
	if bit < 0 || bit >= DigitalBitCount {
		return fmt.Errorf("bit %d: %w", bit, ErrIndexOutOfRange)
	}
	return nil
}

// maxCustomLength is the longest custom function expression, in bytes.
const maxCustomLength = 255

// Widths of the raw trigger and position fields.
const (
	minLevel      = math.MinInt16
	maxLevel      = math.MaxInt16
	maxHysteresis = math.MaxInt16
	maxHoldoff    = math.MaxUint16
)

// saturate rounds x and clamps it to [lo, hi] before converting to int, so
// infinities land on the matching bound.
func saturate(x float64, lo, hi int) int {
	return int(math.Max(float64(lo), math.Min(float64(hi), math.Round(x))))
}

func inInt32(vals ...int) bool {
	for _, v := range vals {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return false
		}
	}
	return true
}

// Validate checks that every enumerated field holds a defined value and every
// bounded field is within its range.
func (cfg *Config) Validate() error {
	h := cfg.Horizontal
	if !(h.Capture > 0) || !(h.Display > 0) {
		return fmt.Errorf("horizontal range %g/%g: %w", h.Capture, h.Display, ErrInvalidArgument)
	}
	if h.Mode < ModePlay || h.Mode > ModeClear {
		return fmt.Errorf("acquisition mode %d: %w", h.Mode, ErrInvalidArgument)
	}
	if h.Frame < 0 || h.FrameSize < 0 || h.FFTSize < 0 || h.Control < 0 {
		return fmt.Errorf("negative horizontal setting: %w", ErrInvalidArgument)
	}
	if !inInt32(h.Frame, h.FrameSize, h.FFTSize, h.Control) {
		return fmt.Errorf("horizontal setting too large: %w", ErrInvalidArgument)
	}

	for i, ch := range cfg.Channels {
		if _, err := CaptureVoltFromValue(ch.Capture); err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}
		if !(ch.Display > 0) || !(ch.Scale > 0) {
			return fmt.Errorf("channel %d display %g scale %g: %w", i, ch.Display, ch.Scale, ErrInvalidArgument)
		}
		if ch.PositionSteps < minLevel || ch.PositionSteps > maxLevel {
			return fmt.Errorf("channel %d position %d: %w", i, ch.PositionSteps, ErrInvalidArgument)
		}
		if ch.Coupling != CouplingDC && ch.Coupling != CouplingAC {
			return fmt.Errorf("channel %d coupling %d: %w", i, ch.Coupling, ErrInvalidArgument)
		}
	}

	if cfg.Function.Type < FunctionAdd || cfg.Function.Type > FunctionCustom {
		return fmt.Errorf("function type %d: %w", cfg.Function.Type, ErrInvalidArgument)
	}
	if len(cfg.Function.Custom) > maxCustomLength {
		return fmt.Errorf("custom expression of %d bytes: %w", len(cfg.Function.Custom), ErrInvalidArgument)
	}

	d := cfg.Digital
	for bit, out := range d.Output {
		if out < OutputLow || out > OutputCustom {
			return fmt.Errorf("output %d mode %d: %w", bit, out, ErrInvalidArgument)
		}
	}
	for _, dir := range []Direction{d.UpperDirection, d.LowerDirection} {
		if dir != DirectionOutput && dir != DirectionInput {
			return fmt.Errorf("direction %d: %w", dir, ErrInvalidArgument)
		}
	}
	if d.Divider < 0 || d.Divider > 0xffff {
		return fmt.Errorf("clock divider %d: %w", d.Divider, ErrInvalidArgument)
	}

	t := cfg.Trigger
	if t.Source < TriggerChannelA || t.Source > TriggerExternal {
		return fmt.Errorf("trigger source %d: %w", t.Source, ErrInvalidArgument)
	}
	if t.Slope < SlopeRising || t.Slope > SlopeBoth {
		return fmt.Errorf("trigger slope %d: %w", t.Slope, ErrInvalidArgument)
	}
	if t.Mode < TriggerAuto || t.Mode > TriggerFreeRun {
		return fmt.Errorf("trigger mode %d: %w", t.Mode, ErrInvalidArgument)
	}
	if !(t.Percent >= 0 && t.Percent <= 99) {
		return fmt.Errorf("pre-trigger %g: %w", t.Percent, ErrInvalidArgument)
	}
	if t.Level < minLevel || t.Level > maxLevel {
		return fmt.Errorf("trigger level %d: %w", t.Level, ErrInvalidArgument)
	}
	if t.Hysteresis < 0 || t.Hysteresis > maxHysteresis {
		return fmt.Errorf("hysteresis %d: %w", t.Hysteresis, ErrInvalidArgument)
	}
	if t.Holdoff < 0 || t.Holdoff > maxHoldoff {
		return fmt.Errorf("holdoff %d: %w", t.Holdoff, ErrInvalidArgument)
	}
	if err := checkStage(t.Stage); err != nil {
		return err
	}
	if err := checkStage(t.StageStart); err != nil {
		return err
	}
	if t.StageMode != DigitalModePattern && t.StageMode != DigitalModeSerial {
		return fmt.Errorf("stage mode %d: %w", t.StageMode, ErrInvalidArgument)
	}
	if err := checkBit(t.SerialChannel); err != nil {
		return err
	}
	for stage := range t.Pattern {
		for bit, level := range t.Pattern[stage] {
			if level < PatternLow || level > PatternFalling {
				return fmt.Errorf("stage %d bit %d pattern %d: %w", stage, bit, level, ErrInvalidArgument)
			}
		}
		if t.Delay[stage] < 0 || t.Delay[stage] > maxStageDelay {
			return fmt.Errorf("stage %d delay %d: %w", stage, t.Delay[stage], ErrInvalidArgument)
		}
	}

	return nil
}
