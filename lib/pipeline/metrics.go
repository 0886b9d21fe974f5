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

package pipeline

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/datastream"
)

// Metrics carries the pipeline collectors.
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	stageDuration     *prometheus.HistogramVec
	stageFailures     *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "pipeline_executions_total",
			Help:      "Number of finished pipeline executions by outcome",
		}, []string{"outcome"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "pipeline_execution_duration_seconds",
			Help:      "Wall clock duration of pipeline executions",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall clock duration of individual pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: datastream.MetricNamespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Number of failed pipeline stage runs",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{
		m.executionsTotal,
		m.executionDuration,
		m.stageDuration,
		m.stageFailures,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return m, nil
}

func (m *Metrics) observeExecution(outcome string, duration time.Duration) {
	m.executionsTotal.WithLabelValues(outcome).Inc()
	m.executionDuration.Observe(duration.Seconds())
}

func (m *Metrics) observeStage(stage string, result StageResult) {
	if elapsed, ok := result.Metrics["elapsed_ms"].(int64); ok {
		m.stageDuration.WithLabelValues(stage).Observe(float64(elapsed) / 1000)
	}
	if !result.Success {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}
