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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Longest slot display name before it is shortened.
const slotNameLength = 32

// SlotManager keeps four configuration slots, one of which is live in the
// controller.
type SlotManager struct {
	ctrl    *Controller
	slots   [SlotCount]Config
	paths   [SlotCount]string
	current int
}

// NewSlotManager creates a slot manager with every slot at factory defaults
// and slot 0 current.
func NewSlotManager(ctrl *Controller) *SlotManager {
	m := &SlotManager{ctrl: ctrl}
	for i := range m.slots {
		m.slots[i] = DefaultConfig(ctrl.Compatibility())
	}
	return m
}

func checkSlot(i int) error {
	if i < 0 || i >= SlotCount {
		return fmt.Errorf("slot %d: %w", i, ErrIndexOutOfRange)
	}
	return nil
}

// Current returns the index of the live slot.
func (m *SlotManager) Current() int {
	return m.current
}

// Slot returns the configuration held by a slot. The live slot reflects the
// controller.
func (m *SlotManager) Slot(i int) (Config, error) {
	if err := checkSlot(i); err != nil {
		return Config{}, err
	}
	if i == m.current {
		return m.ctrl.Config(), nil
	}
	return m.slots[i], nil
}

// SwitchTo stores the live configuration into the current slot, then loads
// slot i into the controller and reapplies it.
func (m *SlotManager) SwitchTo(i int) error {
	if err := checkSlot(i); err != nil {
		return err
	}

	m.slots[m.current] = m.ctrl.Config()
	m.current = i
	if err := m.ctrl.Load(m.slots[i]); err != nil {
		return fmt.Errorf("error loading slot %d: %w", i, err)
	}
	m.ctrl.metrics.slotSwitch()

	return nil
}

// ResetToDefault puts slot i back to factory defaults, reapplying it if it is
// live.
func (m *SlotManager) ResetToDefault(i int) error {
	if err := checkSlot(i); err != nil {
		return err
	}

	m.slots[i] = DefaultConfig(m.ctrl.Compatibility())
	if i == m.current {
		return m.ctrl.Load(m.slots[i])
	}
	return nil
}

// Path returns the backing file of a slot.
func (m *SlotManager) Path(i int) (string, error) {
	if err := checkSlot(i); err != nil {
		return "", err
	}
	return m.paths[i], nil
}

// SetPath changes the backing file of a slot.
func (m *SlotManager) SetPath(i int, path string) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	m.paths[i] = path
	return nil
}

// Name returns the display name of a slot: its path, shortened to the last
// 32 characters behind an ellipsis.
func (m *SlotManager) Name(i int) (string, error) {
	if err := checkSlot(i); err != nil {
		return "", err
	}
	return SlotName(i, m.paths[i]), nil
}

// SlotName derives a slot display name from its path.
func SlotName(i int, path string) string {
	if path == "" {
		return fmt.Sprintf("Slot %d", i+1)
	}
	r := []rune(path)
	if len(r) <= slotNameLength {
		return path
	}
	return "..." + string(r[len(r)-slotNameLength:])
}

// readSlot reads a slot file. A missing file yields the defaults without an
// error; a corrupt file yields the defaults and an error wrapping ErrCorruptSlot.
func (m *SlotManager) readSlot(path string) (Config, error) {
	def := DefaultConfig(m.ctrl.Compatibility())

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		m.ctrl.logger.Printf("slot file %s missing, using defaults", path)
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("error opening slot file: %w", err)
	}
	defer f.Close()

	cfg, err := DecodeConfig(f)
	if err != nil {
		return def, fmt.Errorf("slot file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromPath reads slot i from a file and makes the file its backing store.
// On error the slot holds factory defaults.
func (m *SlotManager) LoadFromPath(i int, path string) error {
	if err := checkSlot(i); err != nil {
		return err
	}

	cfg, readErr := m.readSlot(path)
	m.slots[i] = cfg
	m.paths[i] = path

	if i == m.current {
		if err := m.ctrl.Load(cfg); err != nil {
			return err
		}
	}

	return readErr
}

// SaveToPath writes slot i to a file and makes the file its backing store.
func (m *SlotManager) SaveToPath(i int, path string) error {
	cfg, err := m.Slot(i)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating slot directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating slot file: %w", err)
	}

	if err := EncodeConfig(f, cfg); err != nil {
		_ = f.Close()
		return fmt.Errorf("error writing slot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing slot file: %w", err)
	}

	m.paths[i] = path
	return nil
}

// Open restores the slots and the active slot from a data directory and
// applies the active slot. Corrupt slot files are logged and replaced by
// defaults.
func (m *SlotManager) Open(dir string) error {
	st, err := LoadMainState(dir)
	if err != nil {
		return err
	}

	for i, path := range st.Slots {
		cfg, err := m.readSlot(path)
		if err != nil {
			m.ctrl.logger.Printf("slot %d: %v", i, err)
		}
		m.slots[i] = cfg
		m.paths[i] = path
	}

	m.current = st.Active
	return m.ctrl.Load(m.slots[m.current])
}

// Close writes every slot and the main state into a data directory. Slots
// without a backing file get the default path.
func (m *SlotManager) Close(dir string) error {
	st := DefaultMainState(dir)
	st.Active = m.current

	for i := range m.slots {
		if m.paths[i] != "" {
			st.Slots[i] = m.paths[i]
		}
		if err := m.SaveToPath(i, st.Slots[i]); err != nil {
			return fmt.Errorf("error saving slot %d: %w", i, err)
		}
	}

	return SaveMainState(dir, st)
}
