// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope_test

import (
	"strings"
	"testing"

	"github.com/OpenPSG/scope"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewController(t *testing.T) {
	link := newRecordingLink("1.0.0")
	cal := scope.NewCalibration(scope.DefaultCalibration())

	ctrl, err := scope.NewController(link, cal, scope.Version1)
	require.NoError(t, err)
	assert.Equal(t, scope.DefaultConfig(scope.Version1), ctrl.Config())
	assert.Equal(t, scope.Version1, ctrl.Compatibility())
	assert.Empty(t, link.writes)

	_, err = scope.NewController(nil, cal, scope.Version1)
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)

	_, err = scope.NewController(link, cal, scope.Compatibility(3))
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctrl, link := newController(t, scope.Version2)

	require.NoError(t, ctrl.Apply())
	first := link.writes
	cfg := ctrl.Config()
	assert.Equal(t, 1, link.transfers)

	link.reset()
	require.NoError(t, ctrl.Apply())

	assert.Equal(t, first, link.writes)
	assert.Equal(t, cfg, ctrl.Config())
	assert.Equal(t, 1, link.transfers)
}

func TestLoad(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	cfg := scope.DefaultConfig(scope.Version1)
	cfg.Channels[1].Capture = 0.05
	cfg.Channels[1].Display = 0.05
	cfg.Trigger.Level = 42
	require.NoError(t, ctrl.Load(cfg))

	assert.Equal(t, 42, ctrl.Config().Trigger.Level)
	assert.Equal(t, int(scope.Volt50m), link.ReadRegister(scope.Register{Name: scope.RegYRange, Index: 1}))
	assert.Equal(t, 1, link.transfers)

	cfg.Trigger.Percent = 150
	assert.ErrorIs(t, ctrl.Load(cfg), scope.ErrInvalidArgument)
	assert.Equal(t, 50.0, ctrl.Config().Trigger.Percent)
}

func TestChannelRanges(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	require.NoError(t, ctrl.SetChannelCapture(0, scope.Volt1))
	ch := ctrl.Config().Channels[0]
	assert.Equal(t, 1.0, ch.Capture)
	assert.Equal(t, 1.0, ch.Display)
	assert.Equal(t, int(scope.Volt1), link.ReadRegister(scope.Register{Name: scope.RegYRange}))

	require.NoError(t, ctrl.SetChannelDisplay(0, 500, scope.MultiplierMilli))
	assert.Equal(t, 0.5, ctrl.Config().Channels[0].Display)
	assert.Equal(t, 1.0, ctrl.Config().Channels[0].Capture)

	m, err := scope.ParseMultiplier("mV")
	require.NoError(t, err)
	require.NoError(t, ctrl.SetChannelDisplay(0, 200, m))
	assert.InDelta(t, 0.2, ctrl.Config().Channels[0].Display, 1e-15)

	assert.ErrorIs(t, ctrl.SetChannelCapture(2, scope.Volt1), scope.ErrIndexOutOfRange)
	assert.ErrorIs(t, ctrl.SetChannelCapture(0, scope.VoltRange(8)), scope.ErrInvalidRange)
	assert.ErrorIs(t, ctrl.SetChannelDisplay(0, 0, scope.MultiplierBase), scope.ErrInvalidArgument)
	assert.ErrorIs(t, ctrl.SetChannelScale(0, -1), scope.ErrInvalidArgument)
}

func TestTimeRanges(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	require.NoError(t, ctrl.SetTimeCapture(3))
	h := ctrl.Config().Horizontal
	assert.InDelta(t, 100e-9, h.Capture, 1e-18)
	assert.Equal(t, h.Capture, h.Display)
	assert.Equal(t, 3, link.ReadRegister(scope.Register{Name: scope.RegXRange}))
	assert.Equal(t, 1, link.transfers)

	require.NoError(t, ctrl.SetTimeDisplay(50, scope.MultiplierNano))
	assert.InDelta(t, 50e-9, ctrl.Config().Horizontal.Display, 1e-18)
	assert.InDelta(t, 100e-9, ctrl.Config().Horizontal.Capture, 1e-18)

	assert.ErrorIs(t, ctrl.SetTimeCapture(30), scope.ErrInvalidRange)
	assert.ErrorIs(t, ctrl.SetTimeDisplay(-1, scope.MultiplierMilli), scope.ErrInvalidArgument)
	assert.ErrorIs(t, ctrl.SetFrame(-1), scope.ErrInvalidArgument)
}

func TestPositionContract(t *testing.T) {
	data := scope.DefaultCalibration()
	data.Channels[0].Normal[scope.Volt2].Offset = 10
	ctrl, link := newControllerWithCalibration(t, scope.Version1, data)

	// 0.5 V at 0.01953125 V per step.
	require.NoError(t, ctrl.SetChannelPosition(0, 0.5))

	ch := ctrl.Config().Channels[0]
	assert.Equal(t, 26, ch.PositionSteps)
	assert.InDelta(t, 26*0.01953125, ch.Position, 1e-15)
	assert.Equal(t, -16, link.ReadRegister(scope.Register{Name: scope.RegYPosition}))
	assert.Equal(t, 1, link.transfers)

	require.NoError(t, ctrl.NudgePosition(0, 1))
	assert.Equal(t, 27, ctrl.Config().Channels[0].PositionSteps)
	assert.Equal(t, -17, link.ReadRegister(scope.Register{Name: scope.RegYPosition}))

	// The raw steps survive a range change; the volts follow the new step.
	require.NoError(t, ctrl.SetChannelCapture(0, scope.Volt1))
	ch = ctrl.Config().Channels[0]
	assert.Equal(t, 27, ch.PositionSteps)
	assert.InDelta(t, 27*10/1024.0, ch.Position, 1e-15)

	require.NoError(t, ctrl.SetChannelPositionSteps(0, -4))
	assert.Equal(t, 4, link.ReadRegister(scope.Register{Name: scope.RegYPosition}))
}

func TestChannelSwitches(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)
	sw := scope.Register{Name: scope.RegAnalogSwitch, Index: 1}

	assert.Equal(t, scope.SwitchEnabled, link.ReadRegister(sw))

	require.NoError(t, ctrl.SetInvert(1, true))
	require.NoError(t, ctrl.SetCoupling(1, scope.CouplingAC))
	assert.Equal(t, scope.SwitchEnabled|scope.SwitchInvert|scope.SwitchAC, link.ReadRegister(sw))

	require.NoError(t, ctrl.SetGround(1, true))
	require.NoError(t, ctrl.SetChannelEnabled(1, false))
	assert.Equal(t, scope.SwitchInvert|scope.SwitchAC|scope.SwitchGround, link.ReadRegister(sw))
	assert.Equal(t, 4, link.transfers)

	// Channel A is untouched.
	assert.Equal(t, scope.SwitchEnabled, link.ReadRegister(scope.Register{Name: scope.RegAnalogSwitch}))

	assert.ErrorIs(t, ctrl.SetCoupling(1, scope.Coupling(2)), scope.ErrInvalidArgument)
	assert.ErrorIs(t, ctrl.SetInvert(-1, true), scope.ErrIndexOutOfRange)

	require.NoError(t, ctrl.SetChannelFFT(0, true))
	assert.True(t, ctrl.Config().Channels[0].FFT)
}

func TestChannelLinkMode(t *testing.T) {
	ctrl, _ := newController(t, scope.Version2)

	require.NoError(t, ctrl.SetChannelCapture(0, scope.Volt500m))
	require.NoError(t, ctrl.SetChannelPositionSteps(0, 12))
	assert.False(t, ctrl.Config().Horizontal.ChannelLink)

	// 2 ns interleaves both converters; channel B follows channel A.
	require.NoError(t, ctrl.SetTimeCapture(0))
	cfg := ctrl.Config()
	assert.True(t, cfg.Horizontal.ChannelLink)
	assert.Equal(t, cfg.Channels[0].Capture, cfg.Channels[1].Capture)
	assert.Equal(t, 12, cfg.Channels[1].PositionSteps)

	require.NoError(t, ctrl.SetChannelCapture(1, scope.Volt100m))
	require.NoError(t, ctrl.SetChannelScale(0, 10))
	cfg = ctrl.Config()
	assert.Equal(t, 0.1, cfg.Channels[0].Capture)
	assert.Equal(t, 10.0, cfg.Channels[1].Scale)

	require.NoError(t, ctrl.SetTimeCapture(1))
	assert.False(t, ctrl.Config().Horizontal.ChannelLink)

	require.NoError(t, ctrl.SetChannelScale(0, 2))
	cfg = ctrl.Config()
	assert.Equal(t, 2.0, cfg.Channels[0].Scale)
	assert.Equal(t, 10.0, cfg.Channels[1].Scale)

	// The first generation never links.
	v1, _ := newController(t, scope.Version1)
	require.NoError(t, v1.SetTimeCapture(0))
	assert.False(t, v1.Config().Horizontal.ChannelLink)
}

func TestSetCompatibility(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	require.NoError(t, ctrl.SetTimeCapture(2))
	require.NoError(t, ctrl.SetDigitalChannel(14, true))
	require.NoError(t, ctrl.SetDigitalChannel(4, true))
	require.NoError(t, ctrl.SetPatternBit(0, 13, scope.PatternHigh))
	require.NoError(t, ctrl.SetPatternBit(0, 2, scope.PatternHigh))
	require.NoError(t, ctrl.SetSerialChannel(15))
	link.reset()

	require.NoError(t, ctrl.SetCompatibility(scope.Version2))

	cfg := ctrl.Config()
	assert.Equal(t, scope.Version2, ctrl.Compatibility())
	// 50 ns is not a second generation range; 40 ns is the nearest.
	assert.InDelta(t, 40e-9, cfg.Horizontal.Capture, 1e-18)
	assert.InDelta(t, 40e-9, cfg.Horizontal.Display, 1e-18)
	assert.False(t, cfg.Digital.Enabled[14])
	assert.True(t, cfg.Digital.Enabled[4])
	assert.False(t, cfg.Trigger.Mask[0][13])
	assert.True(t, cfg.Trigger.Mask[0][2])
	assert.Equal(t, 0, cfg.Trigger.SerialChannel)
	assert.Equal(t, int(scope.Version2), link.ReadRegister(scope.Register{Name: scope.RegVersion}))
	assert.Equal(t, 1, link.transfers)

	assert.ErrorIs(t, ctrl.SetCompatibility(scope.Compatibility(0)), scope.ErrInvalidArgument)
}

func TestFrameAndFFTSize(t *testing.T) {
	ctrl, link := newController(t, scope.Version1, scope.WithMaxFFTSize(4096))

	n, err := ctrl.SetFFTSize(100000)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)

	n, err = ctrl.SetFFTSize(2048)
	require.NoError(t, err)
	assert.Equal(t, 2048, n)

	_, err = ctrl.SetFFTSize(0)
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)

	// The device caps the frame size.
	n, err = ctrl.SetFrameSize(4 << 20)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, n)
	assert.Equal(t, 1<<20, ctrl.Config().Horizontal.FrameSize)
	assert.Len(t, link.writesTo(scope.RegTriggerPre), 1)

	_, err = ctrl.SetFrameSize(0)
	assert.ErrorIs(t, err, scope.ErrInvalidArgument)
}

func TestHorizontalFlags(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	require.NoError(t, ctrl.SetETS(true))
	require.NoError(t, ctrl.SetControl(2))
	require.NoError(t, ctrl.SetMode(scope.ModeCapture))
	require.NoError(t, ctrl.SetTimePosition(-0.25))
	require.NoError(t, ctrl.SetFrame(3))

	h := ctrl.Config().Horizontal
	assert.True(t, h.ETS)
	assert.Equal(t, 2, h.Control)
	assert.Equal(t, scope.ModeCapture, h.Mode)
	assert.Equal(t, -0.25, h.Position)
	assert.Equal(t, 3, h.Frame)
	assert.Equal(t, 2, link.transfers)

	assert.ErrorIs(t, ctrl.SetMode(scope.AcquisitionMode(5)), scope.ErrInvalidArgument)
	assert.ErrorIs(t, ctrl.SetControl(-1), scope.ErrInvalidArgument)
}

func TestFunctionSettings(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	require.NoError(t, ctrl.SetFunctionType(scope.FunctionCustom))
	require.NoError(t, ctrl.SetCustomExpression("a*b/2"))
	ctrl.SetXYGraph(true)
	ctrl.SetFunctionEnabled(true)
	ctrl.SetFunctionFFT(true)

	fn := ctrl.Config().Function
	assert.Equal(t, scope.FunctionSettings{Type: scope.FunctionCustom, XYGraph: true, Custom: "a*b/2", Enabled: true, FFT: true}, fn)
	assert.Empty(t, link.writes)

	assert.ErrorIs(t, ctrl.SetFunctionType(scope.FunctionType(5)), scope.ErrInvalidArgument)
	assert.ErrorIs(t, ctrl.SetCustomExpression(strings.Repeat("x", 256)), scope.ErrInvalidArgument)
	assert.Equal(t, "a*b/2", ctrl.Config().Function.Custom)
}

func TestCalibrationFallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctrl, link := newController(t, scope.Version1, scope.WithMetrics(scope.NewMetrics(reg)))
	ctrl.Calibration().Invalidate()

	step, err := ctrl.AnalogStep(0)
	assert.ErrorIs(t, err, scope.ErrCalibrationUnavailable)
	assert.Equal(t, 1.0, step)

	// Positions fall back to one volt per step without an offset.
	require.NoError(t, ctrl.SetChannelPosition(0, 3))
	assert.Equal(t, 3, ctrl.Config().Channels[0].PositionSteps)
	assert.Equal(t, -3, link.ReadRegister(scope.Register{Name: scope.RegYPosition}))

	assert.Greater(t, counterValue(t, reg, "scope_calibration_fallbacks_total"), 0.0)
	assert.Equal(t, 2.0, counterValue(t, reg, "scope_register_transfers_total"))
	assert.Greater(t, counterValue(t, reg, "scope_register_writes_total"), 0.0)
}

func TestReloadCalibration(t *testing.T) {
	ctrl, link := newController(t, scope.Version1)

	// An erased EEPROM holds no calibration.
	assert.ErrorIs(t, ctrl.ReloadCalibration(), scope.ErrCalibrationUnavailable)

	data := scope.DefaultCalibration()
	data.Channels[0].Normal[scope.Volt2] = scope.RangeCalibration{Step: 0.02, Offset: 3}
	require.NoError(t, scope.WriteCalibration(link, data))

	require.NoError(t, ctrl.ReloadCalibration())

	step, err := ctrl.AnalogStep(0)
	require.NoError(t, err)
	assert.Equal(t, 0.02, step)
	assert.Equal(t, 3, link.ReadRegister(scope.Register{Name: scope.RegYPosition}))
}
