// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package device

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("enact.device")

var (
	launchTotal   metric.Int64Counter
	kernelDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		launchTotal, err = meter.Int64Counter(
			"enact_device_kernel_launches_total",
			metric.WithDescription("Kernel launches executed, by kernel and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		kernelDuration, err = meter.Float64Histogram(
			"enact_device_kernel_duration_seconds",
			metric.WithDescription("Wall time of a kernel from first block start to last block retirement"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}
