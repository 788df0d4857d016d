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

// MaxPreTrigger is the largest pre-trigger percentage.
const MaxPreTrigger = 99

func (c *Controller) triggerChannel() int {
	if c.cfg.Trigger.Source == TriggerChannelB {
		return 1
	}
	return 0
}

// TriggerVoltsPerStep returns the volts of one raw trigger level step, taken
// from the calibration of the trigger source channel. Digital and external
// sources use channel A.
func (c *Controller) TriggerVoltsPerStep() float64 {
	step, _ := c.calibration(c.triggerChannel())
	return step
}

// RecalculateTriggerPosition re-expresses the trigger level and hysteresis
// after the volts per step changed from oldStep to newStep, so that both keep
// their physical voltage. Registers are staged but not transferred.
func (c *Controller) RecalculateTriggerPosition(oldStep, newStep float64) {
	if !(oldStep > 0) || !(newStep > 0) || oldStep == newStep {
		return
	}

	t := &c.cfg.Trigger
	t.Level = saturate(float64(t.Level)*oldStep/newStep, minLevel, maxLevel)
	t.Hysteresis = saturate(float64(t.Hysteresis)*oldStep/newStep, 0, maxHysteresis)
	c.set(RegTriggerLevel, 0, t.Level)
	c.set(RegTriggerHysteresis, 0, t.Hysteresis)
}

// SetTriggerSource selects the trigger source. The level and hysteresis keep
// their voltage under the new source's step size.
func (c *Controller) SetTriggerSource(source TriggerSource) error {
	if source < TriggerChannelA || source > TriggerExternal {
		return fmt.Errorf("trigger source %d: %w", source, ErrInvalidArgument)
	}

	oldStep := c.TriggerVoltsPerStep()
	c.cfg.Trigger.Source = source
	c.RecalculateTriggerPosition(oldStep, c.TriggerVoltsPerStep())
	c.set(RegTriggerSource, 0, int(source))

	return c.transfer()
}

// SetTriggerSlope selects the edge the trigger fires on.
func (c *Controller) SetTriggerSlope(slope TriggerSlope) error {
	if slope < SlopeRising || slope > SlopeBoth {
		return fmt.Errorf("trigger slope %d: %w", slope, ErrInvalidArgument)
	}
	c.cfg.Trigger.Slope = slope
	c.set(RegTriggerSlope, 0, int(slope))
	return c.transfer()
}

// SetTriggerMode sets the trigger mode. Free-run forces the pre-trigger to
// zero and locks it there.
func (c *Controller) SetTriggerMode(mode TriggerMode) error {
	if mode < TriggerAuto || mode > TriggerFreeRun {
		return fmt.Errorf("trigger mode %d: %w", mode, ErrInvalidArgument)
	}

	c.cfg.Trigger.Mode = mode
	c.set(RegTriggerMode, 0, int(mode))
	if mode == TriggerFreeRun {
		c.cfg.Trigger.Percent = 0
	}
	c.pushPreTrigger()

	return c.transfer()
}

// PreTriggerLocked reports whether the pre-trigger control is disabled.
func (c *Controller) PreTriggerLocked() bool {
	return c.cfg.Trigger.Mode == TriggerFreeRun
}

func (c *Controller) pushPreTrigger() {
	c.set(RegTriggerPre, 0, int(math.Round(c.cfg.Trigger.Percent)))
}

// SetPreTrigger sets the pre-trigger percentage, saturating to [0, 99]. In
// free-run mode the value stays at zero.
func (c *Controller) SetPreTrigger(percent float64) error {
	switch {
	case c.PreTriggerLocked(), math.IsNaN(percent):
		percent = 0
	default:
		percent = math.Max(0, math.Min(MaxPreTrigger, percent))
	}

	c.cfg.Trigger.Percent = percent
	c.pushPreTrigger()
	return c.transfer()
}

// SetTriggerLevel sets the trigger level in raw steps, saturating to the
// register width.
func (c *Controller) SetTriggerLevel(steps int) error {
	steps = max(minLevel, min(maxLevel, steps))
	c.cfg.Trigger.Level = steps
	c.set(RegTriggerLevel, 0, steps)
	return c.transfer()
}

// SetTriggerLevelVolts sets the trigger level in volts, rounded to whole steps.
func (c *Controller) SetTriggerLevelVolts(volts float64) error {
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return fmt.Errorf("trigger level %g: %w", volts, ErrInvalidArgument)
	}
	return c.SetTriggerLevel(saturate(volts/c.TriggerVoltsPerStep(), minLevel, maxLevel))
}

// TriggerLevelVolts returns the trigger level in volts.
func (c *Controller) TriggerLevelVolts() float64 {
	return float64(c.cfg.Trigger.Level) * c.TriggerVoltsPerStep()
}

// NudgeLevel moves the trigger level by delta steps.
func (c *Controller) NudgeLevel(delta int) error {
	return c.SetTriggerLevel(c.cfg.Trigger.Level + delta)
}

// SetTriggerHysteresis sets the hysteresis in raw steps, saturating to the
// register width.
func (c *Controller) SetTriggerHysteresis(steps int) error {
	if steps < 0 {
		return fmt.Errorf("hysteresis %d: %w", steps, ErrInvalidArgument)
	}
	steps = min(maxHysteresis, steps)
	c.cfg.Trigger.Hysteresis = steps
	c.set(RegTriggerHysteresis, 0, steps)
	return c.transfer()
}

// SetTriggerHysteresisVolts sets the hysteresis in volts, rounded to whole steps.
func (c *Controller) SetTriggerHysteresisVolts(volts float64) error {
	if !(volts >= 0) || math.IsInf(volts, 0) {
		return fmt.Errorf("hysteresis %g: %w", volts, ErrInvalidArgument)
	}
	return c.SetTriggerHysteresis(saturate(volts/c.TriggerVoltsPerStep(), 0, maxHysteresis))
}

// TriggerHysteresisVolts returns the hysteresis in volts.
func (c *Controller) TriggerHysteresisVolts() float64 {
	return float64(c.cfg.Trigger.Hysteresis) * c.TriggerVoltsPerStep()
}

// NudgeHysteresis moves the hysteresis by delta steps, stopping at zero.
func (c *Controller) NudgeHysteresis(delta int) error {
	return c.SetTriggerHysteresis(max(0, c.cfg.Trigger.Hysteresis+delta))
}

// SetHoldoff requests a holdoff in raw ticks, saturated to the register width,
// and returns the value the device adopted.
func (c *Controller) SetHoldoff(ticks int) (int, error) {
	ticks = max(0, min(maxHoldoff, ticks))
	c.set(RegTriggerHoldoff, 0, ticks)
	if err := c.transfer(); err != nil {
		return 0, err
	}

	adopted := c.link.ReadRegister(Register{Name: RegTriggerHoldoff})
	if adopted != ticks {
		c.logger.Printf("holdoff %d adjusted by device to %d", ticks, adopted)
	}
	c.cfg.Trigger.Holdoff = adopted

	return adopted, nil
}

// Rearm re-arms a single-shot trigger.
func (c *Controller) Rearm() error {
	c.set(RegTriggerReArm, 0, 1)
	if err := c.transfer(); err != nil {
		return err
	}
	c.set(RegTriggerReArm, 0, 0)
	return nil
}

func (c *Controller) pushTrigger() {
	t := &c.cfg.Trigger
	if t.Mode == TriggerFreeRun {
		t.Percent = 0
	}
	c.set(RegTriggerSource, 0, int(t.Source))
	c.set(RegTriggerSlope, 0, int(t.Slope))
	c.set(RegTriggerMode, 0, int(t.Mode))
	c.pushPreTrigger()
	c.set(RegTriggerLevel, 0, t.Level)
	c.set(RegTriggerHysteresis, 0, t.Hysteresis)
	c.set(RegTriggerHoldoff, 0, t.Holdoff)
	c.set(RegTriggerReArm, 0, 0)
}
