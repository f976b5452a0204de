// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topk extracts the K highest-degree vertices of a graph together
// with their adjacency as a compact sub-graph.
//
// Degrees are sorted descending with ties broken by lower vertex id. The
// exclusive prefix sum of the selected degrees gives the sub-graph row
// offsets; one Advance over the selected vertices scatters each neighbour
// into its slot of the sub-graph column array.
package topk

import (
	"context"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/problem"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Name labels top-K runs.
const Name = "topk"

// Problem holds the degree ranking and the extracted sub-graph.
//
// Thread Safety: Not safe for concurrent use.
type Problem struct {
	base problem.Base
	k    int

	degrees   *device.Array[int64]
	ids       *device.Array[int32]
	rank      *device.Array[int32]
	offsets   *device.Array[int64]
	workspace *device.Array[int64]
	columns   *device.Array[int32]
}

// Base implements problem.Problem.
func (p *Problem) Base() *problem.Base { return &p.base }

// Init uploads g to a single device and allocates ranking arrays.
func (p *Problem) Init(ctx context.Context, g *csr.Graph, opts problem.Options) error {
	if len(opts.Devices) != 1 {
		return status.Invalid("topk init", "top-k runs on exactly one device, got %d", len(opts.Devices))
	}
	if err := p.base.Init(ctx, g, opts); err != nil {
		return err
	}
	d := opts.Devices[0]
	var err error
	defer func() {
		if err != nil {
			p.Close()
		}
	}()
	if p.degrees, err = device.Alloc[int64](d, "topk degrees", g.Nodes); err != nil {
		return err
	}
	if p.ids, err = device.Alloc[int32](d, "topk ids", g.Nodes); err != nil {
		return err
	}
	if p.rank, err = device.Alloc[int32](d, "topk rank", g.Nodes); err != nil {
		return err
	}
	if p.offsets, err = device.Alloc[int64](d, "topk row offsets", g.Nodes+1); err != nil {
		return err
	}
	return nil
}

// SetK selects how many vertices the next run extracts. K larger than the
// vertex count is clamped.
func (p *Problem) SetK(k int) error {
	if k <= 0 {
		return status.Invalid("topk", "k must be positive, got %d", k)
	}
	if p.base.Graph == nil {
		return status.Invalid("topk", "problem is not initialized")
	}
	p.k = min(k, p.base.Graph.Nodes)
	return nil
}

// K returns the effective K.
func (p *Problem) K() int { return p.k }

// Reset implements problem.Problem.
func (p *Problem) Reset(ctx context.Context, streams []*device.Stream) error {
	rank := p.rank
	return streams[0].Enqueue("reset topk", func() error {
		rank.Fill(-1)
		return nil
	})
}

// Vertices returns the selected ids, highest degree first.
func (p *Problem) Vertices() []int32 {
	return append([]int32(nil), p.ids.Data()[:p.k]...)
}

// Degrees returns the degrees of Vertices.
func (p *Problem) Degrees() []int64 {
	return append([]int64(nil), p.degrees.Data()[:p.k]...)
}

// RowOffsets returns the K+1 sub-graph row offsets.
func (p *Problem) RowOffsets() []int64 {
	return append([]int64(nil), p.offsets.Data()[:p.k+1]...)
}

// ColumnIndices returns the sub-graph adjacency as global vertex ids.
func (p *Problem) ColumnIndices() []int32 {
	return append([]int32(nil), p.columns.Data()...)
}

// Close frees everything. Close is idempotent.
func (p *Problem) Close() {
	p.degrees.Free()
	p.ids.Free()
	p.rank.Free()
	p.offsets.Free()
	p.workspace.Free()
	p.columns.Free()
	p.base.Close()
}

// Enactor drives a top-K Problem.
type Enactor struct {
	base    *enactor.Base
	problem *Problem
}

// NewEnactor returns an enactor with no devices bound.
func NewEnactor(opts enactor.Options) (*Enactor, error) {
	if opts.Name == "" {
		opts.Name = Name
	}
	b, err := enactor.New(opts)
	if err != nil {
		return nil, err
	}
	return &Enactor{base: b}, nil
}

// Base returns the shared enactor state.
func (e *Enactor) Base() *enactor.Base { return e.base }

// Init binds p.
func (e *Enactor) Init(ctx context.Context, p *Problem) error {
	if err := e.base.Setup(ctx, p); err != nil {
		return err
	}
	e.problem = p
	return nil
}

// Reset prepares an extraction of the top k vertices.
func (e *Enactor) Reset(ctx context.Context, k int) error {
	if e.problem == nil {
		return status.Invalid("topk reset", "enactor is not initialized")
	}
	if err := e.problem.SetK(k); err != nil {
		return err
	}
	if err := e.base.Reset(); err != nil {
		return err
	}
	return e.problem.Reset(ctx, e.base.Streams())
}

// Enact ranks and extracts. A frontier that cannot hold K ids fails with
// status.ErrQueueOverflow and is not retried.
func (e *Enactor) Enact(ctx context.Context) error {
	return e.base.Run(ctx, iteration{p: e.problem, limit: e.base.Options().GridLimit})
}

// Close releases device contexts.
func (e *Enactor) Close() { e.base.Close() }

type iteration struct {
	p     *Problem
	limit int
}

// Seed ranks every vertex by degree, scans the top K degrees into row
// offsets, sizes the column array and seeds the frontier with the K ids.
func (it iteration) Seed(ctx context.Context, dc *enactor.DeviceContext) error {
	p := it.p
	s := dc.Stream
	n := dc.Slice.Nodes()
	rows := dc.Slice.RowOffsets.Data()
	degrees := p.degrees.Data()
	ids := p.ids.Data()
	rank := p.rank.Data()

	if err := operator.ForAll(s, "vertex degrees", dc.Policy.Advance, n, nil, func(v int) {
		degrees[v] = rows[v+1] - rows[v]
	}); err != nil {
		return err
	}
	if err := operator.Iota(s, dc.Policy.Advance, ids, 0); err != nil {
		return err
	}
	if err := operator.SortPairsDescending(s, degrees, ids, n); err != nil {
		return err
	}

	need := operator.ScanWorkspaceSize(dc.Device, dc.Policy.Scan, p.k, it.limit)
	if p.workspace.Len() < need {
		p.workspace.Free()
		var err error
		if p.workspace, err = device.Alloc[int64](dc.Device, "topk scan workspace", need); err != nil {
			return err
		}
	}
	if err := operator.ExclusiveSum(s, dc.Policy.Scan, degrees, p.offsets.Data(), p.k, p.workspace, it.limit); err != nil {
		return err
	}
	if err := operator.ForAll(s, "rank top k", dc.Policy.Advance, p.k, nil, func(r int) {
		rank[ids[r]] = int32(r)
	}); err != nil {
		return err
	}
	if err := s.Synchronize(ctx); err != nil {
		return err
	}

	total := int(p.offsets.Data()[p.k])
	switch {
	case p.columns == nil || p.columns.Data() == nil:
		var err error
		if p.columns, err = device.Alloc[int32](dc.Device, "topk columns", total); err != nil {
			return err
		}
	default:
		if err := p.columns.Resize(total); err != nil {
			return err
		}
	}
	return dc.Queue().Seed(s, ids[:p.k])
}

// Advance scatters the adjacency of every selected vertex into its
// sub-graph row.
func (it iteration) Advance(ctx context.Context, dc *enactor.DeviceContext) error {
	rows := dc.Slice.RowOffsets.Data()
	rank := it.p.rank.Data()
	offsets := it.p.offsets.Data()
	columns := it.p.columns.Data()
	_, err := operator.Advance(ctx, dc.Frame(), operator.EdgeFuncs{
		Cond: func(int32, int32, int64) bool { return true },
		Apply: func(src, dst int32, edge int64) {
			columns[offsets[rank[src]]+edge-rows[src]] = dst
		},
	}, operator.AdvanceOptions{Output: operator.NoOutput})
	return err
}

func (it iteration) Filter(context.Context, *enactor.DeviceContext) error { return nil }

// Converged ends the run after the single extraction pass.
func (it iteration) Converged(context.Context, *enactor.DeviceContext) (bool, error) {
	return true, nil
}

// Options controls Run.
type Options struct {
	primitives.Options

	// K is how many vertices to extract. Must be positive.
	K int
}

// Result is the host-side top-K output.
type Result struct {
	primitives.Summary

	// Vertices are the selected ids, highest degree first, lower id first
	// among equal degrees.
	Vertices []int32 `json:"vertices"`

	// Degrees[i] is the out-degree of Vertices[i].
	Degrees []int64 `json:"degrees"`

	// RowOffsets and ColumnIndices hold the selected adjacency. Row i
	// belongs to Vertices[i]; columns are global ids.
	RowOffsets    []int64 `json:"row_offsets"`
	ColumnIndices []int32 `json:"column_indices"`
}

// Run extracts the top opts.K vertices of g by degree.
func Run(ctx context.Context, g *csr.Graph, opts Options) (*Result, error) {
	if opts.K <= 0 {
		return nil, status.Invalid("topk", "k must be positive, got %d", opts.K)
	}
	devs, release, err := primitives.AcquireDevices(opts.Options)
	if err != nil {
		return nil, err
	}
	defer release()

	p := &Problem{}
	if err := p.Init(ctx, g, opts.ProblemOptions(devs, false)); err != nil {
		return nil, err
	}
	defer p.Close()

	e, err := NewEnactor(opts.EnactorOptions(Name))
	if err != nil {
		return nil, err
	}
	defer e.Close()

	if err := e.Init(ctx, p); err != nil {
		return nil, err
	}
	if err := e.Reset(ctx, opts.K); err != nil {
		return nil, err
	}
	if err := e.Enact(ctx); err != nil {
		return nil, err
	}

	res := &Result{
		Vertices:      p.Vertices(),
		Degrees:       p.Degrees(),
		RowOffsets:    p.RowOffsets(),
		ColumnIndices: p.ColumnIndices(),
	}
	if res.Summary, err = primitives.Summarize(context.WithoutCancel(ctx), e.base); err != nil {
		return nil, err
	}
	return res, nil
}
