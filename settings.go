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

	"github.com/spf13/viper"
)

// Settings are the application settings, as opposed to instrument state.
type Settings struct {
	DataDir                   string  `mapstructure:"data_dir"`
	HardwareVersion           int     `mapstructure:"hardware_version"` // 0 detects from firmware
	HistoryFrames             int     `mapstructure:"history_frames"`   // Export window
	DigitalVoltageCoefficient float64 `mapstructure:"digital_voltage_coefficient"`
	CalibrationFile           string  `mapstructure:"calibration_file"` // Empty reads the EEPROM
	MaxFFTSize                int     `mapstructure:"max_fft_size"`
}

// LoadSettings reads scope.{yaml,toml,json,...} from the given directories and
// the working directory. A missing file leaves every setting at its default.
func LoadSettings(paths ...string) (Settings, error) {
	v := viper.New()
	v.SetConfigName("scope")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetDefault("data_dir", "data")
	v.SetDefault("hardware_version", 0)
	v.SetDefault("history_frames", 16)
	v.SetDefault("digital_voltage_coefficient", DefaultCalibration().DigitalVoltageCoefficient)
	v.SetDefault("calibration_file", "")
	v.SetDefault("max_fft_size", DefaultMaxFFTSize)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("error reading settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("error decoding settings: %w", err)
	}

	if s.HardwareVersion != 0 && !Compatibility(s.HardwareVersion).valid() {
		return Settings{}, fmt.Errorf("hardware version %d: %w", s.HardwareVersion, ErrInvalidArgument)
	}
	if s.HistoryFrames <= 0 || s.MaxFFTSize <= 0 || !(s.DigitalVoltageCoefficient > 0) {
		return Settings{}, fmt.Errorf("history frames, fft size and digital coefficient must be positive: %w", ErrInvalidArgument)
	}

	return s, nil
}

// Compatibility returns the configured hardware generation, detecting it from
// the device firmware when none is configured.
func (s Settings) Compatibility(link HardwareLink) (Compatibility, error) {
	if s.HardwareVersion != 0 {
		return Compatibility(s.HardwareVersion), nil
	}
	return DetectCompatibility(link)
}

// LoadCalibration returns the compensation data from the configured file or,
// without one, from the device EEPROM. Unavailable data falls back to the
// defaults with the configured digital coefficient, together with the error.
func (s Settings) LoadCalibration(link HardwareLink) (CalibrationData, error) {
	var (
		data CalibrationData
		err  error
	)
	if s.CalibrationFile != "" {
		data, err = LoadCalibrationFile(s.CalibrationFile)
	} else {
		data, err = ReadCalibration(link)
	}
	if err != nil {
		data = DefaultCalibration()
		data.DigitalVoltageCoefficient = s.DigitalVoltageCoefficient
		return data, err
	}
	return data, nil
}
