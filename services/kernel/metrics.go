// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cellkernel.kernel")

// Execution outcomes used as the "outcome" label.
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeAborted  = "aborted"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// executionsTotal counts finished executions by outcome
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellkernel_executions_total",
		Help: "Total cell executions by outcome",
	}, []string{"outcome"})

	// executionDuration tracks run time excluding queue wait
	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cellkernel_execution_duration_seconds",
		Help:    "Cell execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"outcome"})

	// queueWait tracks time spent queued behind another execution
	queueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cellkernel_queue_wait_seconds",
		Help:    "Time executions spend queued before running",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// queuedExecutions is the number of executions currently waiting
	queuedExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cellkernel_queued_executions",
		Help: "Executions waiting behind a running execution",
	})

	// activeSessions is the number of live sessions
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cellkernel_sessions_active",
		Help: "Number of live sessions",
	})

	// sessionOps counts lifecycle operations
	sessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellkernel_session_operations_total",
		Help: "Session lifecycle operations by type",
	}, []string{"op"})
)

func outcomeOf(res *CellResult, err error) string {
	switch {
	case err != nil:
		return outcomeError
	case res.Success:
		return outcomeSuccess
	case res.Aborted():
		return outcomeAborted
	default:
		return outcomeFailure
	}
}
