// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cell transformation.
var (
	tracer = otel.Tracer("cellkernel.transform")
	meter  = otel.Meter("cellkernel.transform")
)

var (
	transformLatency metric.Float64Histogram
	transformTotal   metric.Int64Counter
	namesDeclared    metric.Int64Histogram
	parseErrors      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		transformLatency, err = meter.Float64Histogram(
			"cell_transform_duration_seconds",
			metric.WithDescription("Duration of cell transformations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transformTotal, err = meter.Int64Counter(
			"cell_transform_total",
			metric.WithDescription("Total number of cell transformations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		namesDeclared, err = meter.Int64Histogram(
			"cell_transform_names_declared",
			metric.WithDescription("Number of top-level names declared per cell"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseErrors, err = meter.Int64Counter(
			"cell_transform_parse_errors_total",
			metric.WithDescription("Total number of cells rejected with a parse error"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordTransformMetrics(ctx context.Context, duration time.Duration, res *Result, err error) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	transformLatency.Record(ctx, duration.Seconds(), attrs)
	transformTotal.Add(ctx, 1, attrs)

	if err != nil {
		if errors.Is(err, ErrParse) {
			parseErrors.Add(ctx, 1)
		}
		return
	}
	namesDeclared.Record(ctx, int64(len(res.NonMutableNames)+len(res.MutableNames)))
}

func startTransformSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Transformer.Transform",
		trace.WithAttributes(attribute.Int("cell.source_size", size)),
	)
}

func setTransformSpanResult(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Int("cell.non_mutable_count", len(res.NonMutableNames)),
		attribute.Int("cell.mutable_count", len(res.MutableNames)),
	)
}
