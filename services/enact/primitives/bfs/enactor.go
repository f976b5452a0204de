// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bfs

import (
	"context"
	"sync/atomic"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Name labels BFS runs.
const Name = "bfs"

// Enactor drives a BFS Problem.
type Enactor struct {
	base    *enactor.Base
	problem *Problem
}

// NewEnactor validates opts and returns an enactor with no devices bound.
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

// Init binds p. Calling Init again with the same problem is a no-op.
func (e *Enactor) Init(ctx context.Context, p *Problem) error {
	if err := e.base.Setup(ctx, p); err != nil {
		return err
	}
	e.problem = p
	return nil
}

// Reset prepares a run from src.
func (e *Enactor) Reset(ctx context.Context, src int32) error {
	if e.problem == nil {
		return status.Invalid("bfs reset", "enactor is not initialized")
	}
	if err := e.problem.SetSource(src); err != nil {
		return err
	}
	if err := e.base.Reset(); err != nil {
		return err
	}
	return e.problem.Reset(ctx, e.base.Streams())
}

// Enact runs BFS to completion.
func (e *Enactor) Enact(ctx context.Context) error {
	return e.base.Run(ctx, &iteration{p: e.problem, dedup: e.base.Options().Dedup})
}

// Close releases device contexts. The problem is closed separately.
func (e *Enactor) Close() { e.base.Close() }

type iteration struct {
	p     *Problem
	dedup bool
}

func (it *iteration) Seed(ctx context.Context, dc *enactor.DeviceContext) error {
	t := it.p.base.Table
	src := it.p.source
	if int(t.Owner[src]) != dc.Index {
		return nil
	}
	local := t.LocalID[src]
	ds := it.p.data[dc.Index]
	if err := dc.Stream.Enqueue("seed bfs", func() error {
		ds.labels.Data()[local] = 0
		return nil
	}); err != nil {
		return err
	}
	return dc.Queue().Seed(dc.Stream, []int32{local})
}

func (it *iteration) Advance(ctx context.Context, dc *enactor.DeviceContext) error {
	ds := it.p.data[dc.Index]
	labels := ds.labels.Data()
	fn := operator.EdgeFuncs{
		Cond: func(src, dst int32, _ int64) bool {
			return operator.AtomicMinInt32(&labels[dst], atomic.LoadInt32(&labels[src])+1)
		},
	}
	if ds.preds != nil {
		preds := ds.preds.Data()
		global := dc.Slice.LocalToGlobal.Data()
		fn.Apply = func(src, dst int32, _ int64) {
			atomic.StoreInt32(&preds[dst], global[src])
		}
	}
	_, err := operator.Advance(ctx, dc.Frame(), fn, operator.AdvanceOptions{Output: operator.ToQueue})
	return err
}

// Filter drops duplicate frontier entries when dedup is enabled.
func (it *iteration) Filter(ctx context.Context, dc *enactor.DeviceContext) error {
	if !it.dedup {
		return nil
	}
	_, err := operator.Filter(ctx, dc.Frame(), operator.VertexFuncs{
		Cond: func(int32) bool { return true },
	}, operator.FilterOptions{Dedup: true, Output: operator.ToQueue})
	return err
}

func (it *iteration) Converged(context.Context, *enactor.DeviceContext) (bool, error) {
	return false, nil
}

// Pack carries the label in the high word and the predecessor's global id
// in the low word.
func (it *iteration) Pack(dc *enactor.DeviceContext, local int32) int64 {
	ds := it.p.data[dc.Index]
	v := int64(atomic.LoadInt32(&ds.labels.Data()[local])) << 32
	if ds.preds != nil {
		v |= int64(uint32(atomic.LoadInt32(&ds.preds.Data()[local])))
	}
	return v
}

func (it *iteration) Unpack(dc *enactor.DeviceContext, local int32, value int64) bool {
	ds := it.p.data[dc.Index]
	if !operator.AtomicMinInt32(&ds.labels.Data()[local], int32(value>>32)) {
		return false
	}
	if ds.preds != nil {
		atomic.StoreInt32(&ds.preds.Data()[local], int32(uint32(value)))
	}
	return true
}

// Options controls Run.
type Options struct {
	primitives.Options

	// Source is the global id traversal starts from.
	Source int32

	// MarkPredecessors records a BFS tree alongside the labels.
	MarkPredecessors bool
}

// Result is the host-side BFS output.
type Result struct {
	primitives.Summary

	// Labels[v] is the hop distance of v, Unreached if unreachable.
	Labels []int32 `json:"labels"`

	// Predecessors[v] is v's parent in the BFS tree, or -1. Nil unless
	// requested.
	Predecessors []int32 `json:"predecessors,omitempty"`
}

// Run performs one complete BFS on g.
//
// Description:
//
//	Acquires devices, initializes the problem and enactor, runs from
//	opts.Source and copies labels back to the host. Every device resource
//	is released before returning.
//
// Outputs:
//
//	*Result - Labels by global vertex id and run statistics.
//	error - Any status error from init or the run.
func Run(ctx context.Context, g *csr.Graph, opts Options) (*Result, error) {
	devs, release, err := primitives.AcquireDevices(opts.Options)
	if err != nil {
		return nil, err
	}
	defer release()

	p := NewProblem(opts.MarkPredecessors)
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
	if err := e.Reset(ctx, opts.Source); err != nil {
		return nil, err
	}
	if err := e.Enact(ctx); err != nil {
		return nil, err
	}

	res := &Result{Labels: p.Labels(), Predecessors: p.Predecessors()}
	if res.Summary, err = primitives.Summarize(context.WithoutCancel(ctx), e.base); err != nil {
		return nil, err
	}
	return res, nil
}
