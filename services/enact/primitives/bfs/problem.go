// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bfs computes breadth-first hop labels from a source vertex by
// min-label propagation over the frontier.
package bfs

import (
	"context"
	"math"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/problem"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Unreached is the label of vertices not reachable from the source.
const Unreached int32 = -1

// dataSlice is one device's label state, indexed by local id.
type dataSlice struct {
	labels *device.Array[int32]
	preds  *device.Array[int32]
}

func (d *dataSlice) Reset(ctx context.Context, s *device.Stream) error {
	labels, preds := d.labels, d.preds
	return s.Enqueue("reset bfs", func() error {
		labels.Fill(math.MaxInt32)
		if preds != nil {
			preds.Fill(Unreached)
		}
		return nil
	})
}

func (d *dataSlice) Free() {
	d.labels.Free()
	d.preds.Free()
}

// Problem holds device-resident BFS state.
type Problem struct {
	base   problem.Base
	data   []*dataSlice
	preds  bool
	source int32
}

// NewProblem returns an empty problem. With markPredecessors every reached
// vertex also records the global id of the vertex it was reached from.
func NewProblem(markPredecessors bool) *Problem {
	return &Problem{preds: markPredecessors}
}

// Base implements problem.Problem.
func (p *Problem) Base() *problem.Base { return &p.base }

// Init partitions g and allocates label arrays on every device.
func (p *Problem) Init(ctx context.Context, g *csr.Graph, opts problem.Options) error {
	if err := p.base.Init(ctx, g, opts); err != nil {
		return err
	}
	for _, s := range p.base.Slices {
		ds := &dataSlice{}
		var err error
		if ds.labels, err = device.Alloc[int32](s.Device, "bfs labels", s.Nodes()); err == nil && p.preds {
			ds.preds, err = device.Alloc[int32](s.Device, "bfs predecessors", s.Nodes())
		}
		p.data = append(p.data, ds)
		if err != nil {
			p.Close()
			return err
		}
	}
	return nil
}

// SetSource selects the source for the next Reset.
func (p *Problem) SetSource(src int32) error {
	if p.base.Graph == nil {
		return status.Invalid("bfs source", "problem is not initialized")
	}
	if src < 0 || int(src) >= p.base.Graph.Nodes {
		return status.Invalid("bfs source", "source %d outside [0, %d)", src, p.base.Graph.Nodes)
	}
	p.source = src
	return nil
}

// Source returns the current source.
func (p *Problem) Source() int32 { return p.source }

// Reset implements problem.Problem.
func (p *Problem) Reset(ctx context.Context, streams []*device.Stream) error {
	for i, ds := range p.data {
		if err := ds.Reset(ctx, streams[i]); err != nil {
			return err
		}
	}
	return nil
}

// Labels returns hop distances by global id, Unreached where the source
// cannot reach.
func (p *Problem) Labels() []int32 {
	out := problem.Gather(&p.base, func(i int) []int32 { return p.data[i].labels.Data() })
	for v, l := range out {
		if l == math.MaxInt32 {
			out[v] = Unreached
		}
	}
	return out
}

// Predecessors returns the predecessor of every vertex by global id, or
// nil when predecessors are not tracked.
func (p *Problem) Predecessors() []int32 {
	if !p.preds {
		return nil
	}
	return problem.Gather(&p.base, func(i int) []int32 { return p.data[i].preds.Data() })
}

// Close frees everything. Close is idempotent.
func (p *Problem) Close() {
	for _, ds := range p.data {
		ds.Free()
	}
	p.data = nil
	p.base.Close()
}
