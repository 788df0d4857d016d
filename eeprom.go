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
	"bytes"
	"encoding/binary"
	"fmt"
)

// Location of the calibration block in the device EEPROM.
const CalibrationEEPROMOffset = 0x100

var calibrationMagic = [4]byte{'S', 'C', 'A', 'L'}

const calibrationBlockVersion = 1

type calibrationBlock struct {
	Magic       [4]byte
	Version     uint32
	Coefficient float64
	Ranges      [ChannelCount][2][voltRangeCount][2]float64 // normal/interleaved, step/offset
}

// CalibrationBlockSize is the size of the calibration block in bytes.
var CalibrationBlockSize = binary.Size(calibrationBlock{})

// ReadCalibration reads the compensation data from the device EEPROM.
// An erased or foreign block yields ErrCalibrationUnavailable.
func ReadCalibration(link HardwareLink) (CalibrationData, error) {
	link.Wait()
	b, err := link.ReadEEPROM(CalibrationEEPROMOffset, CalibrationBlockSize)
	link.Wait()
	if err != nil {
		return CalibrationData{}, fmt.Errorf("error reading eeprom: %w", err)
	}

	var blk calibrationBlock
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &blk); err != nil {
		return CalibrationData{}, fmt.Errorf("error decoding calibration block: %w", err)
	}

	if blk.Magic != calibrationMagic || blk.Version != calibrationBlockVersion {
		return CalibrationData{}, fmt.Errorf("no calibration block in eeprom: %w", ErrCalibrationUnavailable)
	}

	data := CalibrationData{DigitalVoltageCoefficient: blk.Coefficient}
	for ch := range data.Channels {
		for r := 0; r < int(voltRangeCount); r++ {
			data.Channels[ch].Normal[r] = RangeCalibration{Step: blk.Ranges[ch][0][r][0], Offset: blk.Ranges[ch][0][r][1]}
			data.Channels[ch].Interleaved[r] = RangeCalibration{Step: blk.Ranges[ch][1][r][0], Offset: blk.Ranges[ch][1][r][1]}
		}
	}

	return data, nil
}

// WriteCalibration stores the compensation data in the device EEPROM.
func WriteCalibration(link HardwareLink, data CalibrationData) error {
	blk := calibrationBlock{
		Magic:       calibrationMagic,
		Version:     calibrationBlockVersion,
		Coefficient: data.DigitalVoltageCoefficient,
	}
	for ch := range data.Channels {
		for r := 0; r < int(voltRangeCount); r++ {
			n, i := data.Channels[ch].Normal[r], data.Channels[ch].Interleaved[r]
			blk.Ranges[ch][0][r] = [2]float64{n.Step, n.Offset}
			blk.Ranges[ch][1][r] = [2]float64{i.Step, i.Offset}
		}
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &blk); err != nil {
		return fmt.Errorf("error encoding calibration block: %w", err)
	}

	link.Wait()
	defer link.Wait()
	if err := link.WriteEEPROM(CalibrationEEPROMOffset, buf.Bytes()); err != nil {
		return fmt.Errorf("error writing eeprom: %w", err)
	}

	return nil
}

// EraseCalibration erases the device EEPROM, calibration included.
func EraseCalibration(link HardwareLink) error {
	link.Wait()
	defer link.Wait()
	if err := link.EraseEEPROM(); err != nil {
		return fmt.Errorf("error erasing eeprom: %w", err)
	}
	return nil
}
