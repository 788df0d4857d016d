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
	"sync"

	"github.com/hashicorp/go-version"
)

// RegisterName identifies a device register (or register bank).
type RegisterName int

const (
	RegXRange RegisterName = iota
	RegSampleSize
	RegETS
	RegControl
	RegYRange       // Indexed by channel
	RegYScale       // Indexed by channel, milli-units
	RegYPosition    // Indexed by channel
	RegAnalogSwitch // Switch flags, indexed by channel
	RegTriggerSource
	RegTriggerSlope
	RegTriggerMode
	RegTriggerPre
	RegTriggerLevel
	RegTriggerHysteresis
	RegTriggerHoldoff
	RegTriggerReArm
	RegDigitalPattern // Indexed by stage*DigitalBitCount+bit
	RegDigitalMask    // Indexed by stage*DigitalBitCount+bit
	RegDigitalDelay   // Indexed by stage
	RegDigitalStart
	RegDigitalMode
	RegDigitalChannel
	RegDigitalOutputBit // Indexed by bit
	RegDigitalVoltage
	RegDigitalClockDivide
	RegDigitalDirection // Index 0 lower group, 1 upper group
	RegVersion
	registerNameCount
)

var registerNames = [registerNameCount]string{
	"x_range", "sample_size", "ets", "control",
	"y_range", "y_scale", "y_position", "analog_switch",
	"trigger_source", "trigger_slope", "trigger_mode", "trigger_pre",
	"trigger_level", "trigger_hysteresis", "trigger_holdoff", "trigger_rearm",
	"digital_pattern", "digital_mask", "digital_delay", "digital_start",
	"digital_mode", "digital_channel", "digital_output_bit", "digital_voltage",
	"digital_clock_divide", "digital_direction", "version",
}

// String returns the register name used in logs.
func (n RegisterName) String() string {
	if n < 0 || n >= registerNameCount {
		return fmt.Sprintf("register(%d)", int(n))
	}
	return registerNames[n]
}

// Register addresses one device register.
type Register struct {
	Name  RegisterName
	Index int
}

// String returns the register name and its index.
func (r Register) String() string {
	return fmt.Sprintf("%s[%d]", r.Name, r.Index)
}

// Analog switch flags, one register per channel.
const (
	SwitchInvert = 1 << iota
	SwitchGround
	SwitchAC
	SwitchEnabled
)

// HardwareLink is the device transport. Register writes are staged and pushed
// as a whole image by TransferData.
type HardwareLink interface {
	// SetRegister stages a register value.
	SetRegister(r Register, value int)
	// ReadRegister returns the value the device reports for a register, which
	// may differ from what was staged when the device rounds or saturates.
	ReadRegister(r Register) int
	// TransferData pushes the staged register image to the device.
	TransferData() error
	// Wait blocks until the device has finished its current operation.
	Wait()
	// Version returns the firmware version string.
	Version() string
	ReadEEPROM(offset, size int) ([]byte, error)
	WriteEEPROM(offset int, data []byte) error
	EraseEEPROM() error
	UploadFirmware(image []byte) error
}

// Register widths of the simulated device, inclusive.
var registerLimits = map[RegisterName][2]int{
	RegSampleSize:         {1, 1 << 20},
	RegTriggerPre:         {0, 99},
	RegTriggerLevel:       {minLevel, maxLevel},
	RegTriggerHysteresis:  {0, maxHysteresis},
	RegTriggerHoldoff:     {0, maxHoldoff},
	RegYPosition:          {minLevel, maxLevel},
	RegDigitalDelay:       {0, 0xffff},
	RegDigitalVoltage:     {0, 0xff},
	RegDigitalClockDivide: {0, 0xffff},
}

// Size of the simulated EEPROM in bytes.
const SimulatedEEPROMSize = 4096

// SimulatedLink is an in-memory device. It saturates register values to the
// register widths and keeps the last transferred image.
type SimulatedLink struct {
	mu        sync.Mutex
	version   string
	staged    map[Register]int
	device    map[Register]int
	transfers int
	eeprom    []byte
	firmware  []byte
}

// NewSimulatedLink creates a simulated device reporting the given firmware version.
func NewSimulatedLink(firmwareVersion string) *SimulatedLink {
	l := &SimulatedLink{
		version: firmwareVersion,
		staged:  make(map[Register]int),
		device:  make(map[Register]int),
		eeprom:  make([]byte, SimulatedEEPROMSize),
	}
	for i := range l.eeprom {
		l.eeprom[i] = 0xff
	}
	return l
}

// SetRegister stages a register value, saturated to the register width.
func (l *SimulatedLink) SetRegister(r Register, value int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limits, ok := registerLimits[r.Name]; ok {
		value = max(limits[0], min(limits[1], value))
	}
	l.staged[r] = value
}

// ReadRegister returns the staged value of a register.
func (l *SimulatedLink) ReadRegister(r Register) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.staged[r]
}

// TransferData copies the staged registers to the device image.
func (l *SimulatedLink) TransferData() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for r, v := range l.staged {
		l.device[r] = v
	}
	l.transfers++
	return nil
}

// Wait returns immediately; the simulated device is never busy.
func (l *SimulatedLink) Wait() {}

// Version returns the firmware version the link was created with.
func (l *SimulatedLink) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// ReadEEPROM returns a copy of size bytes starting at offset.
func (l *SimulatedLink) ReadEEPROM(offset, size int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset < 0 || size < 0 || offset+size > len(l.eeprom) {
		return nil, fmt.Errorf("eeprom read %d+%d: %w", offset, size, ErrInvalidArgument)
	}
	out := make([]byte, size)
	copy(out, l.eeprom[offset:])
	return out, nil
}

// WriteEEPROM stores data at offset.
func (l *SimulatedLink) WriteEEPROM(offset int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset < 0 || offset+len(data) > len(l.eeprom) {
		return fmt.Errorf("eeprom write %d+%d: %w", offset, len(data), ErrInvalidArgument)
	}
	copy(l.eeprom[offset:], data)
	return nil
}

// EraseEEPROM sets every EEPROM byte to 0xff.
func (l *SimulatedLink) EraseEEPROM() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.eeprom {
		l.eeprom[i] = 0xff
	}
	return nil
}

// UploadFirmware stores a firmware image. An empty image is rejected.
func (l *SimulatedLink) UploadFirmware(image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("empty firmware image: %w", ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.firmware = append([]byte(nil), image...)
	return nil
}

// DeviceRegister returns the value of a register as of the last transfer.
func (l *SimulatedLink) DeviceRegister(r Register) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.device[r]
	return v, ok
}

// Transfers returns the number of completed transfers.
func (l *SimulatedLink) Transfers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfers
}

// Firmware generations at or above this version are Version2 devices.
var version2Firmware = version.Must(version.NewVersion("2.0.0"))

// CompatibilityFromFirmware maps a firmware version string to a hardware generation.
func CompatibilityFromFirmware(firmware string) (Compatibility, error) {
	v, err := version.NewVersion(firmware)
	if err != nil {
		return 0, fmt.Errorf("firmware version %q: %w", firmware, ErrInvalidArgument)
	}
	if v.GreaterThanOrEqual(version2Firmware) {
		return Version2, nil
	}
	return Version1, nil
}

// DetectCompatibility queries the device firmware version.
func DetectCompatibility(link HardwareLink) (Compatibility, error) {
	return CompatibilityFromFirmware(link.Version())
}
