/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes sync engine metrics to Prometheus and keeps a
// short in-memory history of finished runs.
package metrics

import (
	"net/http"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telemetrysync"

// Metrics is the Prometheus-backed Recorder. Each instance owns its registry.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	pages       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	history     *Manager
	enabled     bool
}

var _ Recorder = (*Metrics)(nil)

// New registers the sync collectors on a fresh registry.
func New(cfg models.MetricsConfig) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs by type and terminal status.",
		}, []string{"type", "status"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Upstream records by type and outcome.",
		}, []string{"type", "outcome"}),
		pages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Upstream pages fetched by type.",
		}, []string{"type"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"type"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run by type.",
		}, []string{"type"}),
		history: NewManager(cfg.Retention),
		enabled: cfg.Enabled,
	}
}

// RunFinished implements Recorder.
func (m *Metrics) RunFinished(point models.RunPoint) {
	if !m.enabled {
		return
	}

	m.runs.WithLabelValues(string(point.Type), string(point.Status)).Inc()
	m.duration.WithLabelValues(string(point.Type)).Observe(point.Duration.Seconds())

	if point.Status == models.JobCompleted {
		m.lastSuccess.WithLabelValues(string(point.Type)).Set(float64(point.Timestamp.Unix()))
	}

	m.history.Add(point)
}

// RecordsProcessed implements Recorder.
func (m *Metrics) RecordsProcessed(syncType models.SyncType, outcome string, n int) {
	if !m.enabled || n <= 0 {
		return
	}

	m.records.WithLabelValues(string(syncType), outcome).Add(float64(n))
}

// PageFetched implements Recorder.
func (m *Metrics) PageFetched(syncType models.SyncType) {
	if !m.enabled {
		return
	}

	m.pages.WithLabelValues(string(syncType)).Inc()
}

// Recent returns the in-memory run history for a type, newest first.
func (m *Metrics) Recent(syncType models.SyncType) []models.RunPoint {
	return m.history.Recent(syncType)
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RunFinished(models.RunPoint) {}

func (Nop) RecordsProcessed(models.SyncType, string, int) {}

func (Nop) PageFetched(models.SyncType) {}
