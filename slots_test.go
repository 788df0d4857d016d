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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenPSG/scope"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// editConfig makes a handful of changes across every section.
func editConfig(t *testing.T, ctrl *scope.Controller) {
	t.Helper()

	require.NoError(t, ctrl.SetTimeCapture(5))
	require.NoError(t, ctrl.SetChannelCapture(1, scope.Volt200m))
	require.NoError(t, ctrl.SetChannelPositionSteps(0, -40))
	require.NoError(t, ctrl.SetInvert(1, true))
	require.NoError(t, ctrl.SetFunctionType(scope.FunctionCustom))
	require.NoError(t, ctrl.SetCustomExpression("a-b"))
	require.NoError(t, ctrl.SetTriggerLevel(77))
	require.NoError(t, ctrl.SetTriggerMode(scope.TriggerSingle))
	require.NoError(t, ctrl.SetPatternBit(3, 9, scope.PatternFalling))
	require.NoError(t, ctrl.SetStageDelay(3, 1234))
	_, err := ctrl.SetDigitalVoltage(3.3)
	require.NoError(t, err)
}

func TestSlotSwitchRoundTrip(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctrl, _ := newController(t, scope.Version1, scope.WithMetrics(scope.NewMetrics(reg)))
	slots := scope.NewSlotManager(ctrl)

	editConfig(t, ctrl)
	edited := ctrl.Config()

	require.NoError(t, slots.SwitchTo(2))
	assert.Equal(t, 2, slots.Current())
	assert.Equal(t, scope.DefaultConfig(scope.Version1), ctrl.Config())

	require.NoError(t, slots.SwitchTo(0))
	assert.Equal(t, edited, ctrl.Config())

	stored, err := slots.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, edited, stored)

	assert.Equal(t, 2.0, counterValue(t, reg, "scope_slot_switches_total"))

	assert.ErrorIs(t, slots.SwitchTo(4), scope.ErrIndexOutOfRange)
	_, err = slots.Slot(-1)
	assert.ErrorIs(t, err, scope.ErrIndexOutOfRange)
}

func TestSlotResetToDefault(t *testing.T) {
	ctrl, _ := newController(t, scope.Version2)
	slots := scope.NewSlotManager(ctrl)

	editConfig(t, ctrl)
	require.NoError(t, slots.SwitchTo(1))
	editConfig(t, ctrl)

	require.NoError(t, slots.ResetToDefault(0))
	stored, err := slots.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, scope.DefaultConfig(scope.Version2), stored)

	// Resetting the live slot reapplies it.
	require.NoError(t, slots.ResetToDefault(1))
	assert.Equal(t, scope.DefaultConfig(scope.Version2), ctrl.Config())
}

func TestSlotName(t *testing.T) {
	assert.Equal(t, "Slot 3", scope.SlotName(2, ""))
	assert.Equal(t, "/tmp/a.slot", scope.SlotName(0, "/tmp/a.slot"))

	long := "/home/user/" + strings.Repeat("é", 40) + "/bench.slot"
	name := scope.SlotName(0, long)
	assert.True(t, strings.HasPrefix(name, "..."))
	assert.Equal(t, 32, len([]rune(name))-3)
	assert.True(t, strings.HasSuffix(long, strings.TrimPrefix(name, "...")))

	ctrl, _ := newController(t, scope.Version1)
	slots := scope.NewSlotManager(ctrl)
	require.NoError(t, slots.SetPath(1, "bench.slot"))

	got, err := slots.Name(1)
	require.NoError(t, err)
	assert.Equal(t, "bench.slot", got)

	got, err = slots.Name(3)
	require.NoError(t, err)
	assert.Equal(t, "Slot 4", got)
}

func TestSlotFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "bench.slot")

	ctrl, _ := newController(t, scope.Version1)
	slots := scope.NewSlotManager(ctrl)
	editConfig(t, ctrl)
	edited := ctrl.Config()

	require.NoError(t, slots.SaveToPath(0, path))
	p, err := slots.Path(0)
	require.NoError(t, err)
	assert.Equal(t, path, p)

	require.NoError(t, slots.LoadFromPath(3, path))
	stored, err := slots.Slot(3)
	require.NoError(t, err)
	assert.Equal(t, edited, stored)

	// A missing file is not an error.
	require.NoError(t, slots.LoadFromPath(2, filepath.Join(dir, "missing.slot")))
	stored, err = slots.Slot(2)
	require.NoError(t, err)
	assert.Equal(t, scope.DefaultConfig(scope.Version1), stored)

	// A corrupt file is, and leaves the slot at defaults.
	corrupt := filepath.Join(dir, "corrupt.slot")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a slot"), 0o644))
	assert.ErrorIs(t, slots.LoadFromPath(3, corrupt), scope.ErrCorruptSlot)
	stored, err = slots.Slot(3)
	require.NoError(t, err)
	assert.Equal(t, scope.DefaultConfig(scope.Version1), stored)

	// Loading into the live slot reapplies it.
	require.NoError(t, slots.LoadFromPath(0, path))
	assert.Equal(t, edited, ctrl.Config())
}

func TestSlotOpenClose(t *testing.T) {
	dir := t.TempDir()

	ctrl, _ := newController(t, scope.Version1)
	slots := scope.NewSlotManager(ctrl)

	// First start: nothing on disk.
	require.NoError(t, slots.Open(dir))
	assert.Equal(t, 0, slots.Current())

	editConfig(t, ctrl)
	require.NoError(t, slots.SwitchTo(1))
	require.NoError(t, ctrl.SetTriggerLevel(-12))
	require.NoError(t, slots.Close(dir))

	st, err := scope.LoadMainState(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Active)
	for _, path := range st.Slots {
		assert.FileExists(t, path)
	}

	reopened, _ := newController(t, scope.Version1)
	restored := scope.NewSlotManager(reopened)
	require.NoError(t, restored.Open(dir))

	assert.Equal(t, 1, restored.Current())
	assert.Equal(t, -12, reopened.Config().Trigger.Level)

	first, err := restored.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, 77, first.Trigger.Level)
	assert.Equal(t, "a-b", first.Function.Custom)

	// A corrupt slot file is replaced by defaults.
	require.NoError(t, os.WriteFile(st.Slots[0], []byte{1, 2, 3}, 0o644))
	require.NoError(t, restored.Open(dir))
	first, err = restored.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, scope.DefaultConfig(scope.Version1), first)
}

func TestEncodeDecodeConfig(t *testing.T) {
	ctrl, _ := newController(t, scope.Version2)
	editConfig(t, ctrl)
	cfg := ctrl.Config()

	var buf bytes.Buffer
	require.NoError(t, scope.EncodeConfig(&buf, cfg))
	assert.Equal(t, scope.SlotSize, buf.Len())

	decoded, err := scope.DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)

	_, err = scope.DecodeConfig(bytes.NewReader(buf.Bytes()[:scope.SlotSize-1]))
	assert.ErrorIs(t, err, scope.ErrCorruptSlot)

	foreign := bytes.Clone(buf.Bytes())
	foreign[0] = 'X'
	_, err = scope.DecodeConfig(bytes.NewReader(foreign))
	assert.ErrorIs(t, err, scope.ErrCorruptSlot)

	bad := cfg
	bad.Trigger.Percent = -1
	assert.ErrorIs(t, scope.EncodeConfig(&buf, bad), scope.ErrInvalidArgument)
}

func TestEncodeConfigRegisterWidths(t *testing.T) {
	ctrl, _ := newController(t, scope.Version1)

	// Setters saturate, so the image holds exactly what the controller holds.
	require.NoError(t, ctrl.SetTriggerLevel(1<<33))
	require.NoError(t, ctrl.SetTriggerHysteresis(1<<33))
	require.NoError(t, ctrl.SetChannelPositionSteps(0, -1<<33))
	cfg := ctrl.Config()

	var buf bytes.Buffer
	require.NoError(t, scope.EncodeConfig(&buf, cfg))
	decoded, err := scope.DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)

	assert.ErrorIs(t, ctrl.SetFrame(1<<33), scope.ErrInvalidArgument)
	assert.ErrorIs(t, ctrl.SetControl(1<<33), scope.ErrInvalidArgument)

	// Values the image cannot hold are refused rather than truncated.
	for name, edit := range map[string]func(*scope.Config){
		"level":      func(c *scope.Config) { c.Trigger.Level = 1 << 33 },
		"hysteresis": func(c *scope.Config) { c.Trigger.Hysteresis = 1 << 16 },
		"holdoff":    func(c *scope.Config) { c.Trigger.Holdoff = 1 << 16 },
		"position":   func(c *scope.Config) { c.Channels[1].PositionSteps = -1 << 20 },
		"frame":      func(c *scope.Config) { c.Horizontal.Frame = 1 << 33 },
		"control":    func(c *scope.Config) { c.Horizontal.Control = 1 << 33 },
	} {
		bad := cfg
		edit(&bad)
		buf.Reset()
		assert.ErrorIs(t, scope.EncodeConfig(&buf, bad), scope.ErrInvalidArgument, name)
		assert.Zero(t, buf.Len(), name)
	}
}

func TestMainState(t *testing.T) {
	dir := t.TempDir()

	st, err := scope.LoadMainState(dir)
	require.NoError(t, err)
	assert.Equal(t, scope.DefaultMainState(dir), st)
	assert.Equal(t, filepath.Join(dir, "state", "slot1.slot"), st.Slots[0])

	st.Active = 3
	st.Slots[2] = "/srv/scope/custom.slot"
	require.NoError(t, scope.SaveMainState(dir, st))

	loaded, err := scope.LoadMainState(dir)
	require.NoError(t, err)
	assert.Equal(t, st, loaded)

	require.NoError(t, os.WriteFile(filepath.Join(dir, scope.MainStateFile), []byte("active: 7\n"), 0o644))
	_, err = scope.LoadMainState(dir)
	assert.ErrorIs(t, err, scope.ErrIndexOutOfRange)
}

func TestArchive(t *testing.T) {
	ctrl, _ := newController(t, scope.Version1)
	slots := scope.NewSlotManager(ctrl)

	editConfig(t, ctrl)
	edited := ctrl.Config()
	require.NoError(t, slots.SetPath(0, "/data/first.slot"))
	require.NoError(t, slots.SwitchTo(3))

	var buf bytes.Buffer
	require.NoError(t, slots.Archive(&buf))

	other, _ := newController(t, scope.Version1)
	restored := scope.NewSlotManager(other)
	require.NoError(t, restored.RestoreArchive(bytes.NewReader(buf.Bytes())))

	assert.Equal(t, 3, restored.Current())
	first, err := restored.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, edited, first)

	p, err := restored.Path(0)
	require.NoError(t, err)
	assert.Equal(t, "/data/first.slot", p)

	// A damaged archive changes nothing.
	damaged := bytes.Clone(buf.Bytes())
	damaged = damaged[:len(damaged)/2]
	fresh, _ := newController(t, scope.Version1)
	untouched := scope.NewSlotManager(fresh)
	assert.Error(t, untouched.RestoreArchive(bytes.NewReader(damaged)))
	assert.Equal(t, 0, untouched.Current())
	assert.Equal(t, scope.DefaultConfig(scope.Version1), fresh.Config())
}
