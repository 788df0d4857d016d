// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope

import "fmt"

const maxStageDelay = 0xffff

// BitGroup selects one half of the digital lanes.
type BitGroup int

const (
	GroupLower BitGroup = iota // Bits 0-7
	GroupUpper                 // Bits 8-15
)

func patternGroupBits(g BitGroup) (first, last int, err error) {
	switch g {
	case GroupLower:
		return 0, 7, nil
	case GroupUpper:
		return 8, 15, nil
	}
	return 0, 0, fmt.Errorf("bit group %d: %w", g, ErrInvalidArgument)
}

func patternIndex(stage, bit int) int {
	return stage*DigitalBitCount + bit
}

func (c *Controller) checkAvailableBit(bit int) error {
	if err := checkBit(bit); err != nil {
		return err
	}
	if bit >= AvailableDigitalBits(c.version) {
		return fmt.Errorf("bit %d not present on %s: %w", bit, c.version, ErrIndexOutOfRange)
	}
	return nil
}

// SetActiveStage selects the stage being edited. The device is not touched.
func (c *Controller) SetActiveStage(stage int) error {
	if err := checkStage(stage); err != nil {
		return err
	}
	c.cfg.Trigger.Stage = stage
	return nil
}

// ActiveStage returns the stage being edited.
func (c *Controller) ActiveStage() int {
	return c.cfg.Trigger.Stage
}

// PatternBit returns the selector of one bit: its level when masked in,
// PatternMasked otherwise.
func (c *Controller) PatternBit(stage, bit int) (PatternLevel, error) {
	if err := checkStage(stage); err != nil {
		return 0, err
	}
	if err := checkBit(bit); err != nil {
		return 0, err
	}
	return c.cfg.Trigger.selector(stage, bit), nil
}

// StagePattern returns the selectors of every bit of a stage.
func (c *Controller) StagePattern(stage int) ([DigitalBitCount]PatternLevel, error) {
	var out [DigitalBitCount]PatternLevel
	if err := checkStage(stage); err != nil {
		return out, err
	}
	for bit := range out {
		out[bit] = c.cfg.Trigger.selector(stage, bit)
	}
	return out, nil
}

func (t *TriggerSettings) selector(stage, bit int) PatternLevel {
	if !t.Mask[stage][bit] {
		return PatternMasked
	}
	return t.Pattern[stage][bit]
}

// SetPatternBit sets the selector of one bit and transfers. PatternMasked
// unmasks the bit and sends only the mask; any level masks the bit in and
// sends the mask followed by the level.
func (c *Controller) SetPatternBit(stage, bit int, sel PatternLevel) error {
	if err := checkStage(stage); err != nil {
		return err
	}
	if err := c.checkAvailableBit(bit); err != nil {
		return err
	}
	if sel < PatternLow || sel > PatternMasked {
		return fmt.Errorf("pattern selector %d: %w", sel, ErrInvalidArgument)
	}

	c.stagePatternBit(stage, bit, sel)
	return c.transfer()
}

func (c *Controller) stagePatternBit(stage, bit int, sel PatternLevel) {
	t := &c.cfg.Trigger
	idx := patternIndex(stage, bit)

	if sel == PatternMasked {
		t.Mask[stage][bit] = false
		c.set(RegDigitalMask, idx, 0)
		return
	}

	t.Mask[stage][bit] = true
	t.Pattern[stage][bit] = sel
	c.set(RegDigitalMask, idx, 1)
	c.set(RegDigitalPattern, idx, int(sel))
}

// SetGroupBits applies one selector to the eight bits of a group and
// transfers once. Bits the hardware does not have are skipped.
func (c *Controller) SetGroupBits(stage int, group BitGroup, sel PatternLevel) error {
	if err := checkStage(stage); err != nil {
		return err
	}
	first, last, err := patternGroupBits(group)
	if err != nil {
		return err
	}
	if sel < PatternLow || sel > PatternMasked {
		return fmt.Errorf("pattern selector %d: %w", sel, ErrInvalidArgument)
	}

	available := AvailableDigitalBits(c.version)
	for bit := first; bit <= last && bit < available; bit++ {
		c.stagePatternBit(stage, bit, sel)
	}

	return c.transfer()
}

// SetStageDelay sets the delay of a stage, saturating to [0, 65535].
func (c *Controller) SetStageDelay(stage, delay int) error {
	if err := checkStage(stage); err != nil {
		return err
	}
	delay = max(0, min(maxStageDelay, delay))
	c.cfg.Trigger.Delay[stage] = delay
	c.set(RegDigitalDelay, stage, delay)
	return c.transfer()
}

// SetStageStart selects the stage sequencing begins with.
func (c *Controller) SetStageStart(stage int) error {
	if err := checkStage(stage); err != nil {
		return err
	}
	c.cfg.Trigger.StageStart = stage
	c.set(RegDigitalStart, 0, stage)
	return c.transfer()
}

// SetStageMode selects pattern or serial matching for the digital trigger.
func (c *Controller) SetStageMode(mode DigitalMode) error {
	if mode != DigitalModePattern && mode != DigitalModeSerial {
		return fmt.Errorf("stage mode %d: %w", mode, ErrInvalidArgument)
	}
	c.cfg.Trigger.StageMode = mode
	c.set(RegDigitalMode, 0, int(mode))
	return c.transfer()
}

// SetSerialChannel selects the lane sampled in serial mode.
func (c *Controller) SetSerialChannel(bit int) error {
	if err := c.checkAvailableBit(bit); err != nil {
		return err
	}
	c.cfg.Trigger.SerialChannel = bit
	c.set(RegDigitalChannel, 0, bit)
	return c.transfer()
}

func (c *Controller) pushPattern() {
	t := c.cfg.Trigger
	available := AvailableDigitalBits(c.version)
	for stage := 0; stage < StageCount; stage++ {
		for bit := 0; bit < available; bit++ {
			idx := patternIndex(stage, bit)
			c.set(RegDigitalMask, idx, boolToInt(t.Mask[stage][bit]))
			c.set(RegDigitalPattern, idx, int(t.Pattern[stage][bit]))
		}
		c.set(RegDigitalDelay, stage, t.Delay[stage])
	}
	c.set(RegDigitalStart, 0, t.StageStart)
	c.set(RegDigitalMode, 0, int(t.StageMode))
	c.set(RegDigitalChannel, 0, t.SerialChannel)
}
