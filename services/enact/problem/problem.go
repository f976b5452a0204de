// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package problem owns the device-resident state of one algorithm run: the
// per-device graph slices, their frontier queues, and the contract
// algorithm data slices follow.
//
// Lifecycle: Init allocates and partitions once per run, Reset clears
// content without reallocating, Close frees everything exactly once.
package problem

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/partition"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// DataSlice is the per-device algorithm state a concrete problem keeps.
//
// Reset re-initializes content on s without reallocating. Free releases
// the arrays and must be idempotent.
type DataSlice interface {
	Reset(ctx context.Context, s *device.Stream) error
	Free()
}

// Options controls Init.
type Options struct {
	// Devices to run on, one slice each. Must not be empty.
	Devices []*device.Device

	// Partition controls multi-device splitting. Ignored for one device.
	Partition partition.Options

	// QueueSizingFactor scales local edge count into queue capacity.
	// Default: 1.0.
	QueueSizingFactor float64

	// VertexFloor raises queue capacity to at least the local vertex
	// count, for algorithms that seed every vertex.
	VertexFloor bool

	// Logger for lifecycle events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// GraphSlice is one device's copy of its partition.
type GraphSlice struct {
	// Index is the slice position, equal to the device's position in
	// Options.Devices.
	Index int

	Device *device.Device

	// Host is the host-side local graph and conversion tables.
	Host *partition.Sub

	RowOffsets    *device.Array[int64]
	ColumnIndices *device.Array[int32]

	// Conversion tables, one entry per local vertex.
	LocalToGlobal *device.Array[int32]
	Owner         *device.Array[int32]
	OwnerLocal    *device.Array[int32]

	// Frontier is the slice's double-buffered queue.
	Frontier *frontier.Queue
}

// Nodes returns the local vertex count including ghosts.
func (s *GraphSlice) Nodes() int { return s.Host.Graph.Nodes }

// Owned returns the owned vertex count.
func (s *GraphSlice) Owned() int { return s.Host.Owned }

// Edges returns the local edge count.
func (s *GraphSlice) Edges() int64 { return s.Host.Graph.Edges }

// Free releases the slice's device arrays. Free is idempotent.
func (s *GraphSlice) Free() {
	if s == nil {
		return
	}
	s.RowOffsets.Free()
	s.ColumnIndices.Free()
	s.LocalToGlobal.Free()
	s.Owner.Free()
	s.OwnerLocal.Free()
	s.Frontier.Free()
}

func newGraphSlice(index int, d *device.Device, sub *partition.Sub, capacity int64) (*GraphSlice, error) {
	gs := &GraphSlice{Index: index, Device: d, Host: sub}
	if err := gs.alloc(capacity); err != nil {
		gs.Free()
		return nil, err
	}
	return gs, nil
}

func (gs *GraphSlice) alloc(capacity int64) error {
	d, sub := gs.Device, gs.Host
	var err error
	if gs.RowOffsets, err = upload(d, "row offsets", sub.Graph.RowOffsets); err != nil {
		return err
	}
	if gs.ColumnIndices, err = upload(d, "column indices", sub.Graph.ColumnIndices); err != nil {
		return err
	}
	if gs.LocalToGlobal, err = upload(d, "local to global", sub.LocalToGlobal); err != nil {
		return err
	}
	if gs.Owner, err = upload(d, "owner", sub.Owner); err != nil {
		return err
	}
	if gs.OwnerLocal, err = upload(d, "owner local", sub.OwnerLocal); err != nil {
		return err
	}
	gs.Frontier, err = frontier.NewQueue(d, "frontier", capacity)
	return err
}

func upload[T any](d *device.Device, name string, host []T) (*device.Array[T], error) {
	a, err := device.Alloc[T](d, name, len(host))
	if err != nil {
		return nil, err
	}
	if err := a.CopyFromHost(host); err != nil {
		a.Free()
		return nil, err
	}
	return a, nil
}

// Base is the algorithm-independent part of a problem.
//
// Thread Safety: Not safe for concurrent use. A problem is never shared
// between concurrent runs.
type Base struct {
	Graph  *csr.Graph
	Table  *partition.Table
	Slices []*GraphSlice

	logger *slog.Logger
	closed bool
}

// Init partitions g across opts.Devices and uploads each slice.
//
// Description:
//
//	Validates g, partitions it when more than one device is given, builds
//	each device's local sub-graph and allocates its arrays and frontier
//	queue. On any failure everything allocated so far is released.
//
// Inputs:
//
//	ctx - Reserved for cancellation of long uploads.
//	g - The input graph. Retained, not copied.
//	opts - Init options.
//
// Outputs:
//
//	error - status.ErrInvalidInput or status.ErrAllocation.
func (b *Base) Init(ctx context.Context, g *csr.Graph, opts Options) error {
	if ctx == nil {
		return status.Invalid("problem init", "context must not be nil")
	}
	if len(b.Slices) > 0 {
		return status.Invalid("problem init", "problem already initialized")
	}
	if len(opts.Devices) == 0 {
		return status.Invalid("problem init", "no devices")
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if opts.QueueSizingFactor == 0 {
		opts.QueueSizingFactor = 1.0
	}
	if opts.QueueSizingFactor < 0 {
		return status.Invalid("problem init", "queue sizing factor %v is negative", opts.QueueSizingFactor)
	}
	b.logger = opts.Logger
	if b.logger == nil {
		b.logger = slog.Default()
	}

	popts := opts.Partition
	popts.Devices = len(opts.Devices)
	table, err := partition.Partition(g, popts)
	if err != nil {
		return err
	}

	b.Graph = g
	b.Table = table
	b.closed = false
	for i, d := range opts.Devices {
		sub, err := partition.Subgraph(g, table, i)
		if err != nil {
			b.Close()
			return err
		}
		var floor int64
		if opts.VertexFloor {
			floor = int64(sub.Graph.Nodes)
		}
		capacity := frontier.Capacity(sub.Graph.Edges, opts.QueueSizingFactor, floor)
		gs, err := newGraphSlice(i, d, sub, capacity)
		if err != nil {
			b.Close()
			return fmt.Errorf("init slice %d: %w", i, err)
		}
		b.Slices = append(b.Slices, gs)
		b.logger.Debug("graph slice ready",
			slog.Int("device", d.Ordinal()),
			slog.Int("nodes", sub.Graph.Nodes),
			slog.Int("owned", sub.Owned),
			slog.Int("ghosts", sub.Ghosts()),
			slog.Int64("edges", sub.Graph.Edges),
			slog.Int64("queue_capacity", capacity),
		)
	}
	return nil
}

// NumDevices returns the slice count.
func (b *Base) NumDevices() int { return len(b.Slices) }

// ResetFrontiers empties every slice's queue.
func (b *Base) ResetFrontiers() {
	for _, s := range b.Slices {
		s.Frontier.Reset()
	}
}

// Close frees every slice. Close is idempotent.
func (b *Base) Close() {
	if b == nil || b.closed {
		return
	}
	b.closed = true
	for _, s := range b.Slices {
		s.Free()
	}
	b.Slices = nil
}

// Gather copies per-device owned values into a global host array indexed
// by global vertex id.
func Gather[T any](b *Base, local func(slice int) []T) []T {
	out := make([]T, b.Graph.Nodes)
	for i, s := range b.Slices {
		vals := local(i)
		for l := 0; l < s.Owned(); l++ {
			out[s.Host.LocalToGlobal[l]] = vals[l]
		}
	}
	return out
}

// Problem is what an enactor needs from a concrete problem.
type Problem interface {
	// Base returns the algorithm-independent state.
	Base() *Base

	// Reset re-initializes all data slices for a new run.
	Reset(ctx context.Context, streams []*device.Stream) error
}
