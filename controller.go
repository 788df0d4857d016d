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
	"log"
	"math"
)

// DefaultMaxFFTSize is the largest FFT length unless WithMaxFFTSize says otherwise.
const DefaultMaxFFTSize = 1 << 16

// Controller owns the live configuration and translates every change into
// device registers. It is not safe for concurrent use; it belongs to the
// controlling goroutine.
type Controller struct {
	link    HardwareLink
	cal     *Calibration
	version Compatibility
	cfg     Config
	logger  *log.Logger
	metrics *Metrics
	maxFFT  int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for recoverable conditions.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithMaxFFTSize sets the largest accepted FFT length.
func WithMaxFFTSize(n int) Option {
	return func(c *Controller) { c.maxFFT = n }
}

// NewController creates a controller holding the default configuration. No
// registers are written until Load or Apply is called.
func NewController(link HardwareLink, cal *Calibration, v Compatibility, opts ...Option) (*Controller, error) {
	if link == nil || cal == nil {
		return nil, fmt.Errorf("nil hardware link or calibration: %w", ErrInvalidArgument)
	}
	if !v.valid() {
		return nil, fmt.Errorf("compatibility %d: %w", int(v), ErrInvalidArgument)
	}

	c := &Controller{
		link:    link,
		cal:     cal,
		version: v,
		cfg:     DefaultConfig(v),
		logger:  log.Default(),
		maxFFT:  DefaultMaxFFTSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxFFT <= 0 {
		c.maxFFT = DefaultMaxFFTSize
	}

	return c, nil
}

// Config returns a copy of the live configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Compatibility returns the active hardware generation.
func (c *Controller) Compatibility() Compatibility {
	return c.version
}

// Calibration returns the calibration model in use.
func (c *Controller) Calibration() *Calibration {
	return c.cal
}

// Load replaces the live configuration and reapplies it to the device.
func (c *Controller) Load(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return c.Apply()
}

// Apply rewrites every register from the live configuration and transfers
// once. Fields the device reports back (frame size, holdoff, digital voltage)
// are adopted afterwards.
func (c *Controller) Apply() error {
	c.set(RegVersion, 0, int(c.version))

	h := &c.cfg.Horizontal
	index := clampTimeIndex(c.version, h.Capture)
	if capture := timeTable(c.version).ranges[index]; capture != h.Capture {
		// Leaving the interleaved range changes the trigger channel's step.
		oldStep := c.TriggerVoltsPerStep()
		h.Capture = capture
		h.Display = capture
		c.RecalculateTriggerPosition(oldStep, c.TriggerVoltsPerStep())
	}
	c.set(RegXRange, 0, index)
	c.updateChannelLink()
	c.set(RegSampleSize, 0, h.FrameSize)
	c.set(RegETS, 0, boolToInt(h.ETS))
	c.set(RegControl, 0, h.Control)

	for ch := range c.cfg.Channels {
		c.pushChannel(ch)
	}

	c.pushTrigger()
	c.pushDigital()

	if err := c.transfer(); err != nil {
		return err
	}

	h.FrameSize = c.link.ReadRegister(Register{Name: RegSampleSize})
	c.cfg.Trigger.Holdoff = c.link.ReadRegister(Register{Name: RegTriggerHoldoff})
	c.cfg.Digital.Voltage = c.digitalVoltageFromCode(c.link.ReadRegister(Register{Name: RegDigitalVoltage}))

	return nil
}

// SetCompatibility switches the hardware generation. The capture time is
// moved into the new table with the trigger keeping its voltage, lanes that
// do not exist are switched off and unmasked, and the whole configuration is
// reapplied.
func (c *Controller) SetCompatibility(v Compatibility) error {
	if !v.valid() {
		return fmt.Errorf("compatibility %d: %w", int(v), ErrInvalidArgument)
	}
	c.version = v

	available := AvailableDigitalBits(v)
	for bit := available; bit < DigitalBitCount; bit++ {
		c.cfg.Digital.Enabled[bit] = false
		c.cfg.Digital.Output[bit] = OutputLow
		for stage := range c.cfg.Trigger.Mask {
			c.cfg.Trigger.Mask[stage][bit] = false
		}
	}
	if c.cfg.Trigger.SerialChannel >= available {
		c.cfg.Trigger.SerialChannel = 0
	}

	return c.Apply()
}

func (c *Controller) set(name RegisterName, index, value int) {
	c.link.SetRegister(Register{Name: name, Index: index}, value)
	c.metrics.registerWrite(name)
}

func (c *Controller) transfer() error {
	if err := c.link.TransferData(); err != nil {
		return fmt.Errorf("error transferring registers: %w", err)
	}
	c.metrics.transfer()
	return nil
}

// calibration returns the step and offset of a channel at its current ranges,
// falling back to 1:1 with no offset when calibration is unavailable.
func (c *Controller) calibration(ch int) (step, offset float64) {
	capture := c.cfg.Horizontal.Capture
	volts := c.cfg.Channels[ch].Capture

	step, err := c.cal.AnalogStep(capture, ch, volts)
	if err == nil {
		offset, err = c.cal.AnalogOffset(capture, ch, volts)
	}
	if err != nil {
		c.logger.Printf("channel %d: %v, using step 1 offset 0", ch, err)
		c.metrics.calibrationFallback()
		return 1, 0
	}

	return step, offset
}

// AnalogStep returns the volts per raw position unit of a channel. When
// calibration is unavailable the 1:1 fallback is returned together with an
// error wrapping ErrCalibrationUnavailable.
func (c *Controller) AnalogStep(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	step, err := c.cal.AnalogStep(c.cfg.Horizontal.Capture, ch, c.cfg.Channels[ch].Capture)
	if err != nil {
		return 1, err
	}
	return step, nil
}

// ReloadCalibration reads the compensation data from the device EEPROM and
// reapplies the configuration with it.
func (c *Controller) ReloadCalibration() error {
	data, err := ReadCalibration(c.link)
	if err != nil {
		return err
	}
	c.cal.Set(data)
	return c.Apply()
}

// channels returns the channels an edit of ch applies to.
func (c *Controller) channels(ch int) []int {
	if c.cfg.Horizontal.ChannelLink {
		return []int{ch, 1 - ch}
	}
	return []int{ch}
}

// updateChannelLink enters link mode on the fastest interleaved range, where
// channel B follows channel A.
func (c *Controller) updateChannelLink() {
	h := &c.cfg.Horizontal
	linked := c.version == Version2 && h.Capture <= interleavedCaptureTime*(1+rangeTolerance)
	if linked && !h.ChannelLink {
		a, b := &c.cfg.Channels[0], &c.cfg.Channels[1]
		b.Capture, b.Display, b.Scale, b.PositionSteps = a.Capture, a.Display, a.Scale, a.PositionSteps
	}
	h.ChannelLink = linked
}

// pushPosition writes the position register from the stored steps and
// re-derives the position in volts.
func (c *Controller) pushPosition(ch int) {
	step, offset := c.calibration(ch)
	s := &c.cfg.Channels[ch]
	s.Position = float64(s.PositionSteps) * step
	c.set(RegYPosition, ch, int(math.Round(-float64(s.PositionSteps)+offset)))
}

func (c *Controller) pushSwitches(ch int) {
	s := c.cfg.Channels[ch]
	var flags int
	if s.Invert {
		flags |= SwitchInvert
	}
	if s.Ground {
		flags |= SwitchGround
	}
	if s.Coupling == CouplingAC {
		flags |= SwitchAC
	}
	if s.Enabled {
		flags |= SwitchEnabled
	}
	c.set(RegAnalogSwitch, ch, flags)
}

func (c *Controller) pushChannel(ch int) {
	s := c.cfg.Channels[ch]
	r, _ := CaptureVoltFromValue(s.Capture)
	c.set(RegYRange, ch, int(r))
	c.set(RegYScale, ch, int(math.Round(s.Scale*1000)))
	c.pushPosition(ch)
	c.pushSwitches(ch)
}

// SetTimeCapture selects the capture time per division by table index. The
// display time follows, link mode is re-evaluated and the trigger level is
// re-expressed if the trigger channel's step changes.
func (c *Controller) SetTimeCapture(index int) error {
	capture, err := CaptureTimeFromEnum(c.version, index)
	if err != nil {
		return err
	}

	oldStep := c.TriggerVoltsPerStep()

	h := &c.cfg.Horizontal
	h.Capture = capture
	h.Display = capture
	c.updateChannelLink()
	c.set(RegXRange, 0, index)

	for ch := range c.cfg.Channels {
		c.pushChannel(ch)
	}
	c.RecalculateTriggerPosition(oldStep, c.TriggerVoltsPerStep())

	return c.transfer()
}

// SetTimeDisplay sets the display time per division to value in units of m.
func (c *Controller) SetTimeDisplay(value float64, m Multiplier) error {
	seconds := value * m.Factor()
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		return fmt.Errorf("display time %g: %w", seconds, ErrInvalidArgument)
	}
	c.cfg.Horizontal.Display = seconds
	return nil
}

// SetTimePosition sets the horizontal position.
func (c *Controller) SetTimePosition(position float64) error {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return fmt.Errorf("horizontal position %g: %w", position, ErrInvalidArgument)
	}
	c.cfg.Horizontal.Position = position
	return nil
}

// SetFrame selects the displayed history frame.
func (c *Controller) SetFrame(frame int) error {
	if frame < 0 || frame > math.MaxInt32 {
		return fmt.Errorf("frame %d: %w", frame, ErrInvalidArgument)
	}
	c.cfg.Horizontal.Frame = frame
	return nil
}

// SetFrameSize requests a number of samples per frame and returns the size
// the device adopted.
func (c *Controller) SetFrameSize(samples int) (int, error) {
	if samples <= 0 || samples > math.MaxInt32 {
		return 0, fmt.Errorf("frame size %d: %w", samples, ErrInvalidArgument)
	}

	c.set(RegSampleSize, 0, samples)
	// The pre-trigger position is relative to the frame size.
	c.pushPreTrigger()
	if err := c.transfer(); err != nil {
		return 0, err
	}

	c.cfg.Horizontal.FrameSize = c.link.ReadRegister(Register{Name: RegSampleSize})
	return c.cfg.Horizontal.FrameSize, nil
}

// SetFFTSize sets the FFT length, capped at the configured maximum.
func (c *Controller) SetFFTSize(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("fft size %d: %w", n, ErrInvalidArgument)
	}
	c.cfg.Horizontal.FFTSize = min(n, c.maxFFT)
	return c.cfg.Horizontal.FFTSize, nil
}

// SetETS switches equivalent time sampling.
func (c *Controller) SetETS(on bool) error {
	c.cfg.Horizontal.ETS = on
	c.set(RegETS, 0, boolToInt(on))
	return c.transfer()
}

// SetControl writes the raw control word.
func (c *Controller) SetControl(control int) error {
	if control < 0 || control > math.MaxInt32 {
		return fmt.Errorf("control %d: %w", control, ErrInvalidArgument)
	}
	c.cfg.Horizontal.Control = control
	c.set(RegControl, 0, control)
	return c.transfer()
}

// SetMode sets the acquisition mode.
func (c *Controller) SetMode(mode AcquisitionMode) error {
	if mode < ModePlay || mode > ModeClear {
		return fmt.Errorf("acquisition mode %d: %w", mode, ErrInvalidArgument)
	}
	c.cfg.Horizontal.Mode = mode
	return nil
}

// SetChannelCapture selects the capture volts per division of a channel. The
// display range follows and the position keeps its raw steps.
func (c *Controller) SetChannelCapture(ch int, r VoltRange) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	volts, err := CaptureVoltFromEnum(r)
	if err != nil {
		return err
	}

	for _, i := range c.channels(ch) {
		oldStep := c.TriggerVoltsPerStep()

		s := &c.cfg.Channels[i]
		s.Capture = volts
		s.Display = volts
		c.set(RegYRange, i, int(r))
		c.pushPosition(i)

		c.RecalculateTriggerPosition(oldStep, c.TriggerVoltsPerStep())
	}

	return c.transfer()
}

// SetChannelDisplay sets the display volts per division to value in units of m.
func (c *Controller) SetChannelDisplay(ch int, value float64, m Multiplier) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	volts := value * m.Factor()
	if !(volts > 0) || math.IsInf(volts, 0) {
		return fmt.Errorf("display range %g: %w", volts, ErrInvalidArgument)
	}
	c.cfg.Channels[ch].Display = volts
	return nil
}

// SetChannelScale sets the probe scale.
func (c *Controller) SetChannelScale(ch int, scale float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return fmt.Errorf("scale %g: %w", scale, ErrInvalidArgument)
	}

	for _, i := range c.channels(ch) {
		c.cfg.Channels[i].Scale = scale
		c.set(RegYScale, i, int(math.Round(scale*1000)))
	}

	return c.transfer()
}

// SetChannelPosition sets the vertical position in volts. The stored position
// is quantised to whole steps.
func (c *Controller) SetChannelPosition(ch int, volts float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return fmt.Errorf("position %g: %w", volts, ErrInvalidArgument)
	}

	for _, i := range c.channels(ch) {
		step, _ := c.calibration(i)
		c.cfg.Channels[i].PositionSteps = saturate(volts/step, minLevel, maxLevel)
		c.pushPosition(i)
	}

	return c.transfer()
}

// SetChannelPositionSteps sets the vertical position in raw steps.
func (c *Controller) SetChannelPositionSteps(ch int, steps int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}

	steps = max(minLevel, min(maxLevel, steps))
	for _, i := range c.channels(ch) {
		c.cfg.Channels[i].PositionSteps = steps
		c.pushPosition(i)
	}

	return c.transfer()
}

// NudgePosition moves the vertical position by delta steps and adopts the
// position the device reports.
func (c *Controller) NudgePosition(ch int, delta int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}

	steps := max(minLevel, min(maxLevel, c.cfg.Channels[ch].PositionSteps+delta))
	for _, i := range c.channels(ch) {
		c.cfg.Channels[i].PositionSteps = steps
		c.pushPosition(i)
	}
	if err := c.transfer(); err != nil {
		return err
	}

	for _, i := range c.channels(ch) {
		step, offset := c.calibration(i)
		reg := c.link.ReadRegister(Register{Name: RegYPosition, Index: i})
		s := &c.cfg.Channels[i]
		s.PositionSteps = saturate(offset-float64(reg), minLevel, maxLevel)
		s.Position = float64(s.PositionSteps) * step
	}

	return nil
}

func (c *Controller) setSwitch(ch int, update func(s *ChannelSettings)) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	update(&c.cfg.Channels[ch])
	c.pushSwitches(ch)
	return c.transfer()
}

// SetInvert switches signal inversion on a channel.
func (c *Controller) SetInvert(ch int, on bool) error {
	return c.setSwitch(ch, func(s *ChannelSettings) { s.Invert = on })
}

// SetGround connects a channel input to ground.
func (c *Controller) SetGround(ch int, on bool) error {
	return c.setSwitch(ch, func(s *ChannelSettings) { s.Ground = on })
}

// SetChannelEnabled switches a channel on or off.
func (c *Controller) SetChannelEnabled(ch int, on bool) error {
	return c.setSwitch(ch, func(s *ChannelSettings) { s.Enabled = on })
}

// SetCoupling selects AC or DC input coupling.
func (c *Controller) SetCoupling(ch int, coupling Coupling) error {
	if coupling != CouplingDC && coupling != CouplingAC {
		return fmt.Errorf("coupling %d: %w", coupling, ErrInvalidArgument)
	}
	return c.setSwitch(ch, func(s *ChannelSettings) { s.Coupling = coupling })
}

// SetChannelFFT shows or hides the spectrum of a channel.
func (c *Controller) SetChannelFFT(ch int, on bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	c.cfg.Channels[ch].FFT = on
	return nil
}

// SetFunctionType selects the math function combining both channels.
func (c *Controller) SetFunctionType(t FunctionType) error {
	if t < FunctionAdd || t > FunctionCustom {
		return fmt.Errorf("function type %d: %w", t, ErrInvalidArgument)
	}
	c.cfg.Function.Type = t
	return nil
}

// SetCustomExpression sets the custom function expression.
func (c *Controller) SetCustomExpression(expr string) error {
	if len(expr) > maxCustomLength {
		return fmt.Errorf("custom expression of %d bytes: %w", len(expr), ErrInvalidArgument)
	}
	c.cfg.Function.Custom = expr
	return nil
}

// SetXYGraph switches the XY display.
func (c *Controller) SetXYGraph(on bool) { c.cfg.Function.XYGraph = on }

// SetFunctionEnabled shows or hides the function trace.
func (c *Controller) SetFunctionEnabled(on bool) { c.cfg.Function.Enabled = on }

// SetFunctionFFT shows or hides the spectrum of the function trace.
func (c *Controller) SetFunctionFFT(on bool) { c.cfg.Function.FFT = on }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
