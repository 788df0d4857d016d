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

	"gopkg.in/yaml.v3"
)

const (
	// SlotCount is the number of configuration slots.
	SlotCount = 4
	// MainStateFile is the name of the main state file inside the data directory.
	MainStateFile = "main.state"
)

// MainState records the slot file paths and which slot is active.
type MainState struct {
	Slots  [SlotCount]string `yaml:"slots"`
	Active int               `yaml:"active"`
}

// DefaultMainState returns the slot paths used on first start.
func DefaultMainState(dir string) MainState {
	var st MainState
	for i := range st.Slots {
		st.Slots[i] = filepath.Join(dir, "state", fmt.Sprintf("slot%d.slot", i+1))
	}
	return st
}

// LoadMainState reads the main state from dir. A missing file yields the
// default state.
func LoadMainState(dir string) (MainState, error) {
	b, err := os.ReadFile(filepath.Join(dir, MainStateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultMainState(dir), nil
	}
	if err != nil {
		return MainState{}, fmt.Errorf("error reading main state: %w", err)
	}

	st := DefaultMainState(dir)
	if err := yaml.Unmarshal(b, &st); err != nil {
		return MainState{}, fmt.Errorf("error parsing main state: %w", err)
	}
	if st.Active < 0 || st.Active >= SlotCount {
		return MainState{}, fmt.Errorf("active slot %d: %w", st.Active, ErrIndexOutOfRange)
	}

	return st, nil
}

// SaveMainState writes the main state into dir.
func SaveMainState(dir string, st MainState) error {
	b, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("error encoding main state: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MainStateFile), b, 0o644); err != nil {
		return fmt.Errorf("error writing main state: %w", err)
	}

	return nil
}
