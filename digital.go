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

const (
	// Lowest digital threshold voltage, at DAC code 0.
	digitalVoltageMin = 1.25
	// Largest digital threshold DAC code.
	digitalVoltageMaxCode = 0xff
)

// Digital sample clock before the divider, per hardware generation.
var digitalClock = map[Compatibility]float64{
	Version1: 100e6,
	Version2: 250e6,
}

// AvailableDigitalBits returns the number of digital lanes of a hardware generation.
func AvailableDigitalBits(v Compatibility) int {
	if v == Version2 {
		return 12
	}
	return DigitalBitCount
}

// LaneGroup returns the first and last lane of a direction group.
func LaneGroup(v Compatibility, g BitGroup) (first, last int, err error) {
	half := AvailableDigitalBits(v) / 2
	switch g {
	case GroupLower:
		return 0, half - 1, nil
	case GroupUpper:
		return half, 2*half - 1, nil
	}
	return 0, 0, fmt.Errorf("lane group %d: %w", g, ErrInvalidArgument)
}

func (c *Controller) laneGroupOf(bit int) BitGroup {
	if bit >= AvailableDigitalBits(c.version)/2 {
		return GroupUpper
	}
	return GroupLower
}

func (c *Controller) direction(g BitGroup) Direction {
	if g == GroupUpper {
		return c.cfg.Digital.UpperDirection
	}
	return c.cfg.Digital.LowerDirection
}

// SetDigitalChannel switches the display of one lane.
func (c *Controller) SetDigitalChannel(bit int, on bool) error {
	if err := c.checkAvailableBit(bit); err != nil {
		return err
	}
	c.cfg.Digital.Enabled[bit] = on
	return nil
}

// SetChannelGroup switches the display of every lane of a group.
func (c *Controller) SetChannelGroup(g BitGroup, on bool) error {
	first, last, err := LaneGroup(c.version, g)
	if err != nil {
		return err
	}
	for bit := first; bit <= last; bit++ {
		c.cfg.Digital.Enabled[bit] = on
	}
	return nil
}

func (c *Controller) checkOutput(bit int, mode OutputMode) error {
	if err := c.checkAvailableBit(bit); err != nil {
		return err
	}
	if mode < OutputLow || mode > OutputCustom {
		return fmt.Errorf("output mode %d: %w", mode, ErrInvalidArgument)
	}
	if c.direction(c.laneGroupOf(bit)) == DirectionInput {
		return fmt.Errorf("lane %d is an input: %w", bit, ErrInvalidArgument)
	}
	return nil
}

// SetOutputBit sets the output selector of one lane. The lane's group must be
// an output.
func (c *Controller) SetOutputBit(bit int, mode OutputMode) error {
	if err := c.checkOutput(bit, mode); err != nil {
		return err
	}
	c.cfg.Digital.Output[bit] = mode
	c.set(RegDigitalOutputBit, bit, int(mode))
	return c.transfer()
}

// SetOutputGroup sets the output selector of every lane of a group and
// transfers once.
func (c *Controller) SetOutputGroup(g BitGroup, mode OutputMode) error {
	first, last, err := LaneGroup(c.version, g)
	if err != nil {
		return err
	}
	if err := c.checkOutput(first, mode); err != nil {
		return err
	}
	for bit := first; bit <= last; bit++ {
		c.cfg.Digital.Output[bit] = mode
		c.set(RegDigitalOutputBit, bit, int(mode))
	}
	return c.transfer()
}

// SetDirection sets the direction of a lane group and returns the lanes whose
// output selectors are now disabled.
func (c *Controller) SetDirection(g BitGroup, d Direction) ([]int, error) {
	first, last, err := LaneGroup(c.version, g)
	if err != nil {
		return nil, err
	}
	if d != DirectionOutput && d != DirectionInput {
		return nil, fmt.Errorf("direction %d: %w", d, ErrInvalidArgument)
	}

	if g == GroupUpper {
		c.cfg.Digital.UpperDirection = d
	} else {
		c.cfg.Digital.LowerDirection = d
	}
	c.set(RegDigitalDirection, int(g), int(d))
	if err := c.transfer(); err != nil {
		return nil, err
	}

	if d == DirectionOutput {
		return nil, nil
	}
	disabled := make([]int, 0, last-first+1)
	for bit := first; bit <= last; bit++ {
		disabled = append(disabled, bit)
	}
	return disabled, nil
}

func (c *Controller) digitalVoltageCoefficient() float64 {
	k, err := c.cal.DigitalVoltageCoefficient()
	if err != nil {
		fallback := DefaultCalibration().DigitalVoltageCoefficient
		c.logger.Printf("digital voltage: %v, using coefficient %g", err, fallback)
		c.metrics.calibrationFallback()
		return fallback
	}
	return k
}

// DigitalVoltageStep returns the threshold voltage of one DAC code.
func (c *Controller) DigitalVoltageStep() float64 {
	return digitalVoltageMin / c.digitalVoltageCoefficient()
}

// DigitalVoltageRange returns the lowest and highest threshold voltage.
func (c *Controller) DigitalVoltageRange() (lo, hi float64) {
	return digitalVoltageMin, c.digitalVoltageFromCode(digitalVoltageMaxCode)
}

func (c *Controller) digitalVoltageFromCode(code int) float64 {
	return digitalVoltageMin * (float64(code)/c.digitalVoltageCoefficient() + 1)
}

// digitalVoltageCode converts a threshold voltage to the nearest DAC code.
func (c *Controller) digitalVoltageCode(volts float64) int {
	return saturate((volts/digitalVoltageMin-1)*c.digitalVoltageCoefficient(), 0, digitalVoltageMaxCode)
}

// SetDigitalVoltage sets the digital threshold, saturating to the DAC range,
// and returns the voltage the device adopted.
func (c *Controller) SetDigitalVoltage(volts float64) (float64, error) {
	if math.IsNaN(volts) {
		return 0, fmt.Errorf("digital voltage %g: %w", volts, ErrInvalidArgument)
	}

	c.set(RegDigitalVoltage, 0, c.digitalVoltageCode(volts))
	if err := c.transfer(); err != nil {
		return 0, err
	}

	c.cfg.Digital.Voltage = c.digitalVoltageFromCode(c.link.ReadRegister(Register{Name: RegDigitalVoltage}))
	return c.cfg.Digital.Voltage, nil
}

// NudgeDigitalVoltage moves the threshold by delta DAC codes.
func (c *Controller) NudgeDigitalVoltage(delta int) (float64, error) {
	return c.SetDigitalVoltage(c.cfg.Digital.Voltage + float64(delta)*c.DigitalVoltageStep())
}

// SetClockDivider sets the digital sample clock divider.
func (c *Controller) SetClockDivider(divider int) error {
	if divider < 0 || divider > 0xffff {
		return fmt.Errorf("clock divider %d: %w", divider, ErrInvalidArgument)
	}
	c.cfg.Digital.Divider = divider
	c.set(RegDigitalClockDivide, 0, divider)
	return c.transfer()
}

// ClockFrequency returns the digital sample rate in Hz.
func (c *Controller) ClockFrequency() float64 {
	return digitalClock[c.version] / float64(c.cfg.Digital.Divider+1)
}

func (c *Controller) pushDigital() {
	d := c.cfg.Digital
	available := AvailableDigitalBits(c.version)
	for bit := 0; bit < available; bit++ {
		c.set(RegDigitalOutputBit, bit, int(d.Output[bit]))
	}

	c.set(RegDigitalVoltage, 0, c.digitalVoltageCode(d.Voltage))
	c.set(RegDigitalClockDivide, 0, d.Divider)
	c.set(RegDigitalDirection, int(GroupLower), int(d.LowerDirection))
	c.set(RegDigitalDirection, int(GroupUpper), int(d.UpperDirection))

	c.pushPattern()
}
