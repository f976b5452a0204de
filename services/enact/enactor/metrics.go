// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enactor

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for enactment.
var (
	tracer = otel.Tracer("enact.enactor")
	meter  = otel.Meter("enact.enactor")
)

var (
	runTotal        metric.Int64Counter
	runDuration     metric.Float64Histogram
	runIterations   metric.Int64Histogram
	overflowTotal   metric.Int64Counter
	exchangeVolume  metric.Int64Counter
	queuedWorkTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runTotal, err = meter.Int64Counter(
			"enact_runs_total",
			metric.WithDescription("Enactor runs by algorithm and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"enact_run_duration_seconds",
			metric.WithDescription("Wall time of the iteration loop"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runIterations, err = meter.Int64Histogram(
			"enact_run_iterations",
			metric.WithDescription("Iterations per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		overflowTotal, err = meter.Int64Counter(
			"enact_queue_overflows_total",
			metric.WithDescription("Runs failed by frontier queue overflow"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		exchangeVolume, err = meter.Int64Counter(
			"enact_exchange_messages_total",
			metric.WithDescription("Ghost update messages sent between devices"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queuedWorkTotal, err = meter.Int64Counter(
			"enact_queued_work_total",
			metric.WithDescription("Frontier elements queued across all iterations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}
