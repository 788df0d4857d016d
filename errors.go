// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope

import "errors"

var (
	// ErrInvalidRange is returned for an enumerated range index or value that
	// is not part of the active range table.
	ErrInvalidRange = errors.New("invalid range")
	// ErrIndexOutOfRange is returned for an out of range channel, stage, bit
	// or slot index.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrInvalidArgument is returned for any other argument the instrument
	// cannot represent.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCalibrationUnavailable is returned when calibration data is missing
	// or unusable. Callers fall back to a 1:1 step with zero offset.
	ErrCalibrationUnavailable = errors.New("calibration unavailable")
	// ErrCorruptSlot is returned when a slot image cannot be decoded.
	ErrCorruptSlot = errors.New("corrupt slot image")
)
