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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts controller activity. A nil *Metrics records nothing.
type Metrics struct {
	transfers            prometheus.Counter
	registerWrites       *prometheus.CounterVec
	slotSwitches         prometheus.Counter
	exports              *prometheus.CounterVec
	calibrationFallbacks prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		transfers: factory.NewCounter(prometheus.CounterOpts{
			Name: "scope_register_transfers_total",
			Help: "Register images pushed to the device",
		}),
		registerWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_register_writes_total",
			Help: "Register writes staged, by register",
		}, []string{"register"}),
		slotSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "scope_slot_switches_total",
			Help: "Configuration slot switches",
		}),
		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_exports_total",
			Help: "Capture exports, by kind",
		}, []string{"kind"}),
		calibrationFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "scope_calibration_fallbacks_total",
			Help: "Lookups that fell back to the default step and offset",
		}),
	}
}

func (m *Metrics) transfer() {
	if m != nil {
		m.transfers.Inc()
	}
}

func (m *Metrics) registerWrite(name RegisterName) {
	if m != nil {
		m.registerWrites.WithLabelValues(name.String()).Inc()
	}
}

func (m *Metrics) slotSwitch() {
	if m != nil {
		m.slotSwitches.Inc()
	}
}

func (m *Metrics) export(kind string) {
	if m != nil {
		m.exports.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) calibrationFallback() {
	if m != nil {
		m.calibrationFallbacks.Inc()
	}
}
