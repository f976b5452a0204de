// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package primitives holds what the bundled graph algorithms share: run
// options, device acquisition and the host-side result summary.
package primitives

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/partition"
	"github.com/AleutianAI/frontier/services/enact/problem"
)

// Options are the algorithm-independent run options.
type Options struct {
	// Devices to run on. If empty, Run opens one default device and closes
	// it before returning.
	Devices []*device.Device

	// Partition controls multi-device splitting.
	Partition partition.Options

	// QueueSizingFactor scales local edge count into frontier capacity.
	// Default: 1.0.
	QueueSizingFactor float64

	// Enactor holds loop options. Name is filled in by each algorithm.
	Enactor enactor.Options

	// Logger for run events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// ProblemOptions derives problem init options.
func (o Options) ProblemOptions(devices []*device.Device, vertexFloor bool) problem.Options {
	return problem.Options{
		Devices:           devices,
		Partition:         o.Partition,
		QueueSizingFactor: o.QueueSizingFactor,
		VertexFloor:       vertexFloor,
		Logger:            o.logger(),
	}
}

// EnactorOptions derives loop options for the named algorithm.
func (o Options) EnactorOptions(name string) enactor.Options {
	e := o.Enactor
	e.Name = name
	if e.Logger == nil {
		e.Logger = o.logger()
	}
	return e
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// AcquireDevices returns o.Devices, or one freshly opened default device.
// The release func closes only devices opened here.
func AcquireDevices(o Options) ([]*device.Device, func(), error) {
	if len(o.Devices) > 0 {
		return o.Devices, func() {}, nil
	}
	d, err := device.Open(device.Config{Logger: o.logger()})
	if err != nil {
		return nil, nil, fmt.Errorf("open default device: %w", err)
	}
	return []*device.Device{d}, d.Close, nil
}

// Summary is the run metadata every result carries.
type Summary struct {
	Algorithm  string             `json:"algorithm"`
	RunID      string             `json:"run_id"`
	Devices    int                `json:"devices"`
	Statistics enactor.Statistics `json:"statistics"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
	Truncated  bool               `json:"truncated"`
}

// Summarize collects statistics from a finished run and marks it done.
func Summarize(ctx context.Context, b *enactor.Base) (Summary, error) {
	st, err := b.GetStatistics(ctx)
	if err != nil {
		return Summary{}, err
	}
	b.MarkDone()
	return Summary{
		Algorithm:  b.Options().Name,
		RunID:      b.RunID(),
		Devices:    len(b.Devices()),
		Statistics: st,
		Elapsed:    b.Elapsed(),
		Truncated:  b.Truncated(),
	}, nil
}
