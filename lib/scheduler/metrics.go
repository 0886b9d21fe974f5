/*
 * Datastream
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package scheduler

import (
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/datastream"
)

// Metrics carries the scheduler collectors.
type Metrics struct {
	firedTotal     *prometheus.CounterVec
	skippedTotal   *prometheus.CounterVec
	reloadsTotal   prometheus.Counter
	activeDatasets prometheus.Gauge
}

// NewMetrics creates and registers the scheduler collectors.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		firedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "scheduler_activations_total",
			Help:      "Number of dataset activations dispatched",
		}, []string{"dataset"}),
		skippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "scheduler_skipped_activations_total",
			Help:      "Number of activations skipped because the previous execution was still running",
		}, []string{"dataset"}),
		reloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "scheduler_registry_reloads_total",
			Help:      "Number of dataset registry loads, including the initial one",
		}),
		activeDatasets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "scheduler_active_datasets",
			Help:      "Number of enabled datasets currently registered",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.firedTotal,
		m.skippedTotal,
		m.reloadsTotal,
		m.activeDatasets,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return m, nil
}
