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
	"io"
	"log"
	"testing"

	"github.com/OpenPSG/scope"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type write struct {
	reg   scope.Register
	value int
}

// recordingLink is a simulated device that logs every register write and
// transfer. A non-zero holdoffQuantum makes the device round the holdoff down.
type recordingLink struct {
	*scope.SimulatedLink
	writes         []write
	transfers      int
	holdoffQuantum int
}

func newRecordingLink(firmware string) *recordingLink {
	return &recordingLink{SimulatedLink: scope.NewSimulatedLink(firmware)}
}

func (l *recordingLink) SetRegister(r scope.Register, value int) {
	l.writes = append(l.writes, write{reg: r, value: value})
	if r.Name == scope.RegTriggerHoldoff && l.holdoffQuantum > 0 {
		value -= value % l.holdoffQuantum
	}
	l.SimulatedLink.SetRegister(r, value)
}

func (l *recordingLink) TransferData() error {
	l.transfers++
	return l.SimulatedLink.TransferData()
}

func (l *recordingLink) reset() {
	l.writes = nil
	l.transfers = 0
}

func (l *recordingLink) writesTo(name scope.RegisterName) []write {
	var out []write
	for _, w := range l.writes {
		if w.reg.Name == name {
			out = append(out, w)
		}
	}
	return out
}

func firmwareFor(v scope.Compatibility) string {
	if v == scope.Version2 {
		return "2.0.0"
	}
	return "1.0.0"
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newController returns an applied controller with nominal calibration and a
// link whose log has been cleared.
func newController(t *testing.T, v scope.Compatibility, opts ...scope.Option) (*scope.Controller, *recordingLink) {
	t.Helper()
	return newControllerWithCalibration(t, v, scope.DefaultCalibration(), opts...)
}

func newControllerWithCalibration(t *testing.T, v scope.Compatibility, data scope.CalibrationData, opts ...scope.Option) (*scope.Controller, *recordingLink) {
	t.Helper()

	link := newRecordingLink(firmwareFor(v))
	opts = append([]scope.Option{scope.WithLogger(quietLogger())}, opts...)

	ctrl, err := scope.NewController(link, scope.NewCalibration(data), v, opts...)
	require.NoError(t, err)
	require.NoError(t, ctrl.Apply())

	link.reset()
	return ctrl, link
}

// counterValue sums every series of a counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
