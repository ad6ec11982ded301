// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the answer service.
//
// # Description
//
// Metrics cover answer outcomes (confidence, review flag, not-found
// reasons), approved-answer reuse by match tier, and HTTP request totals.
// Exposed via the /metrics endpoint for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"

const answersSubsystem = "answers"

// AnswerMetrics holds all Prometheus metrics for the answer pipeline.
type AnswerMetrics struct {
	// AnswersTotal counts terminal answers by confidence and review flag.
	// Labels: confidence (low, med, high), needs_review (true, false)
	AnswersTotal *prometheus.CounterVec

	// NotFoundTotal counts NOT_FOUND answers by reason.
	// Labels: reason (NO_RELEVANT_EVIDENCE, RETRIEVAL_BELOW_THRESHOLD,
	// FILTERED_AS_IRRELEVANT)
	NotFoundTotal *prometheus.CounterVec

	// ReuseTotal counts approved-answer reuse hits by match tier.
	// Labels: match_type (exact, near_exact, semantic)
	ReuseTotal *prometheus.CounterVec

	// RequestsTotal counts HTTP requests by endpoint and status.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *AnswerMetrics
	metricsOnce    sync.Once
)

// DefaultMetrics returns the process-wide metrics instance, registering the
// collectors on first use. Lazy registration keeps promauto from panicking
// on duplicate registration when tests exercise the pipeline directly.
func DefaultMetrics() *AnswerMetrics {
	metricsOnce.Do(func() {
		defaultMetrics = &AnswerMetrics{
			AnswersTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: answersSubsystem,
					Name:      "answers_total",
					Help:      "Total terminal answers by confidence and review flag",
				},
				[]string{"confidence", "needs_review"},
			),

			NotFoundTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: answersSubsystem,
					Name:      "not_found_total",
					Help:      "Total NOT_FOUND answers by reason",
				},
				[]string{"reason"},
			),

			ReuseTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: answersSubsystem,
					Name:      "reuse_total",
					Help:      "Total approved-answer reuse hits by match tier",
				},
				[]string{"match_type"},
			),

			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: answersSubsystem,
					Name:      "requests_total",
					Help:      "Total HTTP requests by endpoint and status",
				},
				[]string{"endpoint", "status"},
			),
		}
	})
	return defaultMetrics
}

// RecordAnswer records one terminal answer. reason is empty unless the
// answer is the NOT_FOUND sentinel.
func (m *AnswerMetrics) RecordAnswer(confidence string, needsReview bool, reason string) {
	review := "false"
	if needsReview {
		review = "true"
	}
	m.AnswersTotal.WithLabelValues(confidence, review).Inc()
	if reason != "" {
		m.NotFoundTotal.WithLabelValues(reason).Inc()
	}
}

// RecordReuse records one approved-answer reuse hit.
func (m *AnswerMetrics) RecordReuse(matchType string) {
	m.ReuseTotal.WithLabelValues(matchType).Inc()
}

// RecordRequest records one completed HTTP request.
func (m *AnswerMetrics) RecordRequest(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}
