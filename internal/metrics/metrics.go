// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

// Package metrics provides Prometheus metrics collection for Carelog.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format.
//
// HTTP metrics:
//   - http_requests_total{method, endpoint, status}
//   - http_request_duration_seconds{method, endpoint}
//   - http_requests_in_flight
//
// Audit metrics:
//   - audit_entries_recorded_total{action, resource}
//   - audit_entries_dropped_total{reason}
//   - audit_write_failures_total
//   - audit_entries_deleted_total (retention)
//   - audit_circuit_breaker_state{name} (0=closed, 1=half-open, 2=open)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, endpoint and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTPRequestDuration observes request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// HTTPRequestsInFlight tracks active requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// AuditEntriesRecorded counts audit entries accepted by the write path.
	AuditEntriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_recorded_total",
			Help: "Total number of audit entries recorded",
		},
		[]string{"action", "resource"},
	)

	// AuditEntriesDropped counts entries lost by the best-effort write path.
	// reason: validation, buffer_full, store_error, breaker_open
	AuditEntriesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_dropped_total",
			Help: "Total number of audit entries dropped",
		},
		[]string{"reason"},
	)

	// AuditWriteFailures counts failed store writes.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of failed audit store writes",
		},
	)

	// AuditEntriesDeleted counts entries removed by retention cleanup.
	AuditEntriesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_deleted_total",
			Help: "Total number of audit entries deleted by retention",
		},
	)

	// CircuitBreakerState reports breaker state: 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audit_circuit_breaker_state",
			Help: "Audit store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordAPIRequest records metrics for a completed HTTP request.
func RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(active bool) {
	if active {
		HTTPRequestsInFlight.Inc()
	} else {
		HTTPRequestsInFlight.Dec()
	}
}
