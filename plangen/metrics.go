// Copyright 2025 CoachCore
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plangen

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink receives pipeline observations. The pipeline takes the
// interface so tests run without process-wide metric state.
type MetricsSink interface {
	RecordGeneration(outcome string, duration time.Duration)
	RecordDenial(code string)
	RecordProviderAttempt(provider, code string)
	RecordValidationFailure(stage string)
	RecordStrippedFields(count int)
}

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangen_generations_total",
			Help: "Plan generation requests by terminal outcome",
		},
		[]string{"outcome"},
	)
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plangen_generation_duration_seconds",
			Help:    "End-to-end pipeline duration",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)
	gateDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangen_gate_denials_total",
			Help: "Access gate denials by code",
		},
		[]string{"code"},
	)
	providerAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangen_provider_attempts_total",
			Help: "Provider attempts by provider and result code",
		},
		[]string{"provider", "code"},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangen_validation_failures_total",
			Help: "Output validation failures by stage",
		},
		[]string{"stage"},
	)
	strippedFieldsHist = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plangen_stripped_fields",
			Help:    "Fields stripped per de-identification",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		generationDuration,
		gateDenialsTotal,
		providerAttemptsTotal,
		validationFailuresTotal,
		strippedFieldsHist,
	)
}

// PrometheusMetrics is the production MetricsSink.
type PrometheusMetrics struct{}

// NewPrometheusMetrics returns the Prometheus-backed sink.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

func (m *PrometheusMetrics) RecordGeneration(outcome string, duration time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordDenial(code string) {
	gateDenialsTotal.WithLabelValues(code).Inc()
}

func (m *PrometheusMetrics) RecordProviderAttempt(provider, code string) {
	providerAttemptsTotal.WithLabelValues(provider, code).Inc()
}

func (m *PrometheusMetrics) RecordValidationFailure(stage string) {
	validationFailuresTotal.WithLabelValues(stage).Inc()
}

func (m *PrometheusMetrics) RecordStrippedFields(count int) {
	strippedFieldsHist.Observe(float64(count))
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) RecordGeneration(string, time.Duration) {}
func (NopMetrics) RecordDenial(string)                    {}
func (NopMetrics) RecordProviderAttempt(string, string)   {}
func (NopMetrics) RecordValidationFailure(string)         {}
func (NopMetrics) RecordStrippedFields(int)               {}
