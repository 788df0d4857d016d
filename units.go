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
	"math"
	"strconv"
	"strings"
)

// VoltRange is an index into the analog capture range table.
type VoltRange int

const (
	Volt2 VoltRange = iota
	Volt1
	Volt500m
	Volt200m
	Volt100m
	Volt50m
	Volt20m
	Volt10m
	voltRangeCount
)

// Volts per division for each VoltRange.
var voltRanges = [voltRangeCount]float64{2, 1, 0.5, 0.2, 0.1, 0.05, 0.02, 0.01}

type rangeTable struct {
	ranges []float64 // Seconds per division
	def    int       // Factory default index
}

var (
	timeTableV1 = rangeTable{ranges: series(1e-8, 50, []float64{1, 2, 5}), def: 15}
	timeTableV2 = rangeTable{ranges: series(2e-9, 800, []float64{2, 4, 8}), def: 17}
)

// series expands a per-decade mantissa list from start up to and including end.
func series(start, end float64, mantissas []float64) []float64 {
	var out []float64
	decade := math.Pow(10, math.Floor(math.Log10(start)))
	for {
		for _, m := range mantissas {
			v := m * decade
			if v < start*(1-rangeTolerance) {
				continue
			}
			if v > end*(1+rangeTolerance) {
				return out
			}
			// Normalise the float so table values print cleanly.
			v, _ = strconv.ParseFloat(strconv.FormatFloat(v, 'g', 6, 64), 64)
			out = append(out, v)
		}
		decade *= 10
	}
}

func timeTable(v Compatibility) rangeTable {
	if v == Version2 {
		return timeTableV2
	}
	return timeTableV1
}

// Relative tolerance when matching a raw range against a table entry.
const rangeTolerance = 1e-6

func matchRange(table []float64, value float64) (int, bool) {
	for i, r := range table {
		if math.Abs(r-value) <= rangeTolerance*math.Abs(r) {
			return i, true
		}
	}
	return 0, false
}

// TimeRanges returns a copy of the capture time table for a hardware generation.
func TimeRanges(v Compatibility) []float64 {
	t := timeTable(v)
	out := make([]float64, len(t.ranges))
	copy(out, t.ranges)
	return out
}

// CaptureTimeFromEnum returns the capture time per division for a table index.
func CaptureTimeFromEnum(v Compatibility, index int) (float64, error) {
	t := timeTable(v)
	if index < 0 || index >= len(t.ranges) {
		return 0, fmt.Errorf("time range index %d for %s: %w", index, v, ErrInvalidRange)
	}
	return t.ranges[index], nil
}

// CaptureTimeFromValue returns the table index of a capture time per division.
func CaptureTimeFromValue(v Compatibility, seconds float64) (int, error) {
	i, ok := matchRange(timeTable(v).ranges, seconds)
	if !ok {
		return 0, fmt.Errorf("time range %g for %s: %w", seconds, v, ErrInvalidRange)
	}
	return i, nil
}

// CaptureVoltFromEnum returns the capture volts per division for a range.
func CaptureVoltFromEnum(r VoltRange) (float64, error) {
	if r < 0 || r >= voltRangeCount {
		return 0, fmt.Errorf("volt range index %d: %w", r, ErrInvalidRange)
	}
	return voltRanges[r], nil
}

// CaptureVoltFromValue returns the range of a capture volts per division.
func CaptureVoltFromValue(volts float64) (VoltRange, error) {
	i, ok := matchRange(voltRanges[:], volts)
	if !ok {
		return 0, fmt.Errorf("volt range %g: %w", volts, ErrInvalidRange)
	}
	return VoltRange(i), nil
}

// clampTimeIndex moves a capture time into the table of a hardware generation,
// keeping the nearest entry when the exact value is not available.
func clampTimeIndex(v Compatibility, seconds float64) int {
	t := timeTable(v)
	if i, ok := matchRange(t.ranges, seconds); ok {
		return i
	}
	best, bestDist := t.def, math.Inf(1)
	for i, r := range t.ranges {
		d := math.Abs(math.Log(r) - math.Log(seconds))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Multiplier is a display unit prefix.
type Multiplier int

const (
	MultiplierBase Multiplier = iota
	MultiplierMilli
	MultiplierMicro
	MultiplierNano
	multiplierCount
)

var (
	multiplierPrefixes = [multiplierCount]string{"", "m", "u", "n"}
	multiplierFactors  = [multiplierCount]float64{1, 1e-3, 1e-6, 1e-9}
)

// Factor returns the scale of one display unit in base units.
func (m Multiplier) Factor() float64 {
	if m < 0 || m >= multiplierCount {
		return 1
	}
	return multiplierFactors[m]
}

// Prefix returns the SI prefix of the multiplier.
func (m Multiplier) Prefix() string {
	if m < 0 || m >= multiplierCount {
		return ""
	}
	return multiplierPrefixes[m]
}

// MultiplierFromEnum validates a multiplier selection index.
func MultiplierFromEnum(index int) (Multiplier, error) {
	if index < 0 || index >= int(multiplierCount) {
		return 0, fmt.Errorf("multiplier index %d: %w", index, ErrInvalidRange)
	}
	return Multiplier(index), nil
}

// MultiplierFromValue picks the largest prefix that renders the value with at
// least one integer digit. Smaller magnitudes never select a larger prefix.
func MultiplierFromValue(value float64) Multiplier {
	a := math.Abs(value)
	if a == 0 {
		return MultiplierBase
	}
	for m := MultiplierBase; m < multiplierCount-1; m++ {
		if a >= m.Factor()*(1-rangeTolerance) {
			return m
		}
	}
	return multiplierCount - 1
}

// ParseMultiplier parses a unit such as "mV", "us" or "V" into its prefix.
func ParseMultiplier(unit string) (Multiplier, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return MultiplierBase, nil
	}

	prefix := unit
	if strings.HasSuffix(unit, "V") || strings.HasSuffix(unit, "s") {
		prefix = unit[:len(unit)-1]
	}

	switch prefix {
	case "":
		return MultiplierBase, nil
	case "m":
		return MultiplierMilli, nil
	case "u", "µ":
		return MultiplierMicro, nil
	case "n":
		return MultiplierNano, nil
	}
	return 0, fmt.Errorf("unit %q: %w", unit, ErrInvalidArgument)
}

// FormatUnit renders a base-unit value with the best-fitting prefix.
func FormatUnit(value float64, unit string) string {
	m := MultiplierFromValue(value)
	return strconv.FormatFloat(value/m.Factor(), 'g', 6, 64) + " " + m.Prefix() + unit
}
