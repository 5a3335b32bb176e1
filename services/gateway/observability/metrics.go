// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover the request surface and the memory pipeline:
//   - Request counters (by endpoint, status, error code)
//   - Token usage (input/output by model)
//   - Memory commit outcomes and summarizer latency
//   - Active memory sessions
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "chatgate"

// Subsystem for gateway metrics
const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the gateway.
//
// # Fields
//
//   - RequestsTotal: Counter of requests by endpoint and status
//   - ErrorsTotal: Counter of rejections by endpoint and error code
//   - TokensTotal: Counter of upstream tokens by direction and model
//   - MemoryCommitsTotal: Counter of memory commits by outcome
//   - SummarizerDurationSeconds: Histogram of commit pipeline duration
//   - ActiveSessions: Gauge of live memory sessions
//
// # Thread Safety
//
// All operations are thread-safe.
type GatewayMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (session, respond, reset, profiles, usage), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts rejections by endpoint and machine-readable code.
	// Labels: endpoint, error_code (UNAUTHORIZED, FORBIDDEN, LOCK_VIOLATION, ...)
	ErrorsTotal *prometheus.CounterVec

	// TokensTotal counts upstream tokens by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// MemoryCommitsTotal counts background memory commits by outcome.
	// Labels: outcome (model, fallback, error)
	MemoryCommitsTotal *prometheus.CounterVec

	// SummarizerDurationSeconds measures the full commit pipeline duration.
	SummarizerDurationSeconds prometheus.Histogram

	// ActiveSessions tracks live memory sessions in the store.
	ActiveSessions prometheus.Gauge
}

// NewGatewayMetrics creates and registers all gateway metrics against the
// given registerer. Tests pass a fresh prometheus.NewRegistry so parallel
// packages never collide on registration.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)

	return &GatewayMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total rejections by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tokens_total",
				Help:      "Total upstream tokens by direction and model",
			},
			[]string{"direction", "model"},
		),

		MemoryCommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "memory_commits_total",
				Help:      "Background memory commits by outcome",
			},
			[]string{"outcome"},
		),

		SummarizerDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "summarizer_duration_seconds",
				Help:      "Memory commit pipeline duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_sessions",
				Help:      "Live memory sessions currently held in the store",
			},
		),
	}
}
