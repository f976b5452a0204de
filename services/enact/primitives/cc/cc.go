// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cc labels connected components of an undirected graph by
// propagating the minimum vertex id across edges until no label changes.
package cc

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/problem"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Name labels CC runs.
const Name = "cc"

type dataSlice struct {
	components *device.Array[int32]
	global     *device.Array[int32]
}

func (d *dataSlice) Reset(ctx context.Context, s *device.Stream) error {
	comp, global := d.components, d.global
	return s.Enqueue("reset cc", func() error {
		return comp.CopyFromHost(global.Data())
	})
}

func (d *dataSlice) Free() { d.components.Free() }

// Problem holds device-resident component labels.
type Problem struct {
	base problem.Base
	data []*dataSlice
}

// Base implements problem.Problem.
func (p *Problem) Base() *problem.Base { return &p.base }

// Init partitions g and allocates component arrays. opts.VertexFloor is
// forced on since every vertex is seeded.
func (p *Problem) Init(ctx context.Context, g *csr.Graph, opts problem.Options) error {
	opts.VertexFloor = true
	if err := p.base.Init(ctx, g, opts); err != nil {
		return err
	}
	for _, s := range p.base.Slices {
		a, err := device.Alloc[int32](s.Device, "cc components", s.Nodes())
		if err != nil {
			p.Close()
			return err
		}
		p.data = append(p.data, &dataSlice{components: a, global: s.LocalToGlobal})
	}
	return nil
}

// Reset implements problem.Problem. Every vertex starts in its own
// component, labelled by its global id.
func (p *Problem) Reset(ctx context.Context, streams []*device.Stream) error {
	for i, ds := range p.data {
		if err := ds.Reset(ctx, streams[i]); err != nil {
			return err
		}
	}
	return nil
}

// Components returns the component id of every vertex by global id. The id
// is the smallest vertex id in the component.
func (p *Problem) Components() []int32 {
	return problem.Gather(&p.base, func(i int) []int32 { return p.data[i].components.Data() })
}

// Close frees everything. Close is idempotent.
func (p *Problem) Close() {
	for _, ds := range p.data {
		ds.Free()
	}
	p.data = nil
	p.base.Close()
}

// Enactor drives a CC Problem. Filter deduplication is always on.
type Enactor struct {
	base    *enactor.Base
	problem *Problem
}

// NewEnactor returns an enactor with no devices bound.
func NewEnactor(opts enactor.Options) (*Enactor, error) {
	if opts.Name == "" {
		opts.Name = Name
	}
	opts.Dedup = true
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

// Reset prepares a run.
func (e *Enactor) Reset(ctx context.Context) error {
	if e.problem == nil {
		return status.Invalid("cc reset", "enactor is not initialized")
	}
	if err := e.base.Reset(); err != nil {
		return err
	}
	return e.problem.Reset(ctx, e.base.Streams())
}

// Enact runs label propagation to a fixed point.
func (e *Enactor) Enact(ctx context.Context) error {
	return e.base.Run(ctx, iteration{p: e.problem})
}

// Close releases device contexts.
func (e *Enactor) Close() { e.base.Close() }

type iteration struct{ p *Problem }

func (it iteration) Seed(ctx context.Context, dc *enactor.DeviceContext) error {
	ids := make([]int32, dc.Slice.Owned())
	for i := range ids {
		ids[i] = int32(i)
	}
	return dc.Queue().Seed(dc.Stream, ids)
}

func (it iteration) Advance(ctx context.Context, dc *enactor.DeviceContext) error {
	comp := it.p.data[dc.Index].components.Data()
	_, err := operator.Advance(ctx, dc.Frame(), operator.EdgeFuncs{
		Cond: func(src, dst int32, _ int64) bool {
			return operator.AtomicMinInt32(&comp[dst], atomic.LoadInt32(&comp[src]))
		},
	}, operator.AdvanceOptions{Output: operator.ToQueue})
	return err
}

func (it iteration) Filter(ctx context.Context, dc *enactor.DeviceContext) error {
	_, err := operator.Filter(ctx, dc.Frame(), operator.VertexFuncs{
		Cond: func(int32) bool { return true },
	}, operator.FilterOptions{Dedup: true, Output: operator.ToQueue})
	return err
}

func (it iteration) Converged(context.Context, *enactor.DeviceContext) (bool, error) {
	return false, nil
}

func (it iteration) Pack(dc *enactor.DeviceContext, local int32) int64 {
	return int64(atomic.LoadInt32(&it.p.data[dc.Index].components.Data()[local]))
}

func (it iteration) Unpack(dc *enactor.DeviceContext, local int32, value int64) bool {
	return operator.AtomicMinInt32(&it.p.data[dc.Index].components.Data()[local], int32(value))
}

// Options controls Run.
type Options struct {
	primitives.Options
}

// Result is the host-side CC output.
type Result struct {
	primitives.Summary

	// Components[v] is the smallest vertex id in v's component.
	Components []int32 `json:"components"`

	// Count is the number of distinct components.
	Count int `json:"count"`
}

// Sizes returns component sizes keyed by component id.
func (r *Result) Sizes() map[int32]int {
	sizes := make(map[int32]int, r.Count)
	for _, c := range r.Components {
		sizes[c]++
	}
	return sizes
}

// Largest returns the id and size of the largest component, lowest id on
// ties.
func (r *Result) Largest() (int32, int) {
	sizes := r.Sizes()
	ids := make([]int32, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	best, size := int32(-1), 0
	for _, id := range ids {
		if sizes[id] > size {
			best, size = id, sizes[id]
		}
	}
	return best, size
}

// Run labels the components of g.
func Run(ctx context.Context, g *csr.Graph, opts Options) (*Result, error) {
	devs, release, err := primitives.AcquireDevices(opts.Options)
	if err != nil {
		return nil, err
	}
	defer release()

	p := &Problem{}
	if err := p.Init(ctx, g, opts.ProblemOptions(devs, true)); err != nil {
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
	if err := e.Reset(ctx); err != nil {
		return nil, err
	}
	if err := e.Enact(ctx); err != nil {
		return nil, err
	}

	res := &Result{Components: p.Components()}
	for v, c := range res.Components {
		if int(c) == v {
			res.Count++
		}
	}
	if res.Summary, err = primitives.Summarize(context.WithoutCancel(ctx), e.base); err != nil {
		return nil, err
	}
	return res, nil
}
