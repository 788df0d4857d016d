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
	"os"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Capture times at or below this use the interleaved ADC calibration.
const interleavedCaptureTime = 2e-9

// RangeCalibration is the calibration of one analog capture range.
type RangeCalibration struct {
	Step   float64 `yaml:"step"`   // Volts per raw position unit
	Offset float64 `yaml:"offset"` // Raw position bias
}

// ChannelCalibration holds the per-range calibration of one analog channel.
type ChannelCalibration struct {
	Normal      [voltRangeCount]RangeCalibration `yaml:"normal"`
	Interleaved [voltRangeCount]RangeCalibration `yaml:"interleaved"`
}

// CalibrationData is the device compensation data, as stored in the EEPROM.
type CalibrationData struct {
	DigitalVoltageCoefficient float64                          `yaml:"digital_voltage_coefficient"`
	Channels                  [ChannelCount]ChannelCalibration `yaml:"channels"`
}

// DefaultCalibration returns nominal compensation data: ten divisions over
// 1024 raw units and no offset.
func DefaultCalibration() CalibrationData {
	data := CalibrationData{DigitalVoltageCoefficient: 100}
	for ch := range data.Channels {
		for r, volts := range voltRanges {
			nominal := RangeCalibration{Step: volts * 10 / 1024}
			data.Channels[ch].Normal[r] = nominal
			data.Channels[ch].Interleaved[r] = nominal
		}
	}
	return data
}

// Calibration is the calibration model. It may be replaced at any time by a
// calibration routine, so lookups are never cached by callers.
type Calibration struct {
	mu   sync.RWMutex
	data *CalibrationData
}

// NewCalibration creates a calibration model from compensation data.
func NewCalibration(data CalibrationData) *Calibration {
	c := &Calibration{}
	c.Set(data)
	return c
}

// Set replaces the compensation data.
func (c *Calibration) Set(data CalibrationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = &data
}

// Invalidate marks the compensation data as unavailable, eg. while a
// calibration routine is rewriting it.
func (c *Calibration) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// Data returns a copy of the compensation data.
func (c *Calibration) Data() (CalibrationData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return CalibrationData{}, ErrCalibrationUnavailable
	}
	return *c.data, nil
}

func (c *Calibration) lookup(captureTime float64, ch int, captureVolts float64) (RangeCalibration, error) {
	if err := checkChannel(ch); err != nil {
		return RangeCalibration{}, err
	}
	r, err := CaptureVoltFromValue(captureVolts)
	if err != nil {
		return RangeCalibration{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return RangeCalibration{}, ErrCalibrationUnavailable
	}

	entry := c.data.Channels[ch].Normal[r]
	if captureTime <= interleavedCaptureTime*(1+rangeTolerance) {
		entry = c.data.Channels[ch].Interleaved[r]
	}
	if !(entry.Step > 0) || math.IsInf(entry.Step, 0) || math.IsNaN(entry.Offset) {
		return RangeCalibration{}, fmt.Errorf("channel %d range %g: %w", ch, captureVolts, ErrCalibrationUnavailable)
	}
	return entry, nil
}

// AnalogStep returns the volts per raw position unit.
func (c *Calibration) AnalogStep(captureTime float64, ch int, captureVolts float64) (float64, error) {
	entry, err := c.lookup(captureTime, ch, captureVolts)
	return entry.Step, err
}

// AnalogOffset returns the raw position bias.
func (c *Calibration) AnalogOffset(captureTime float64, ch int, captureVolts float64) (float64, error) {
	entry, err := c.lookup(captureTime, ch, captureVolts)
	return entry.Offset, err
}

// DigitalVoltageCoefficient returns the digital threshold DAC coefficient.
func (c *Calibration) DigitalVoltageCoefficient() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || !(c.data.DigitalVoltageCoefficient > 0) {
		return 0, ErrCalibrationUnavailable
	}
	return c.data.DigitalVoltageCoefficient, nil
}

// CalibrationPoint is one measurement taken by the calibration routine: the
// raw position reported for a known input voltage.
type CalibrationPoint struct {
	Volts float64
	Raw   float64
}

// FitRange computes the step and offset of a range by least squares over the
// measured points.
func FitRange(points []CalibrationPoint) (RangeCalibration, error) {
	if len(points) < 2 {
		return RangeCalibration{}, fmt.Errorf("need at least 2 points, got %d: %w", len(points), ErrInvalidArgument)
	}

	volts := make([]float64, len(points))
	raw := make([]float64, len(points))
	for i, p := range points {
		volts[i] = p.Volts
		raw[i] = p.Raw
	}

	// raw = offset + volts/step
	alpha, beta := stat.LinearRegression(volts, raw, nil, false)
	if beta == 0 || math.IsNaN(beta) || math.IsInf(beta, 0) {
		return RangeCalibration{}, fmt.Errorf("degenerate calibration points: %w", ErrInvalidArgument)
	}

	return RangeCalibration{Step: 1 / beta, Offset: alpha}, nil
}

// LoadCalibrationFile reads compensation data from a YAML file.
func LoadCalibrationFile(path string) (CalibrationData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return CalibrationData{}, fmt.Errorf("error reading calibration file: %w", err)
	}

	var data CalibrationData
	if err := yaml.Unmarshal(b, &data); err != nil {
		return CalibrationData{}, fmt.Errorf("error parsing calibration file: %w", err)
	}

	return data, nil
}

// SaveCalibrationFile writes compensation data to a YAML file.
func SaveCalibrationFile(path string, data CalibrationData) error {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("error encoding calibration: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("error writing calibration file: %w", err)
	}

	return nil
}
