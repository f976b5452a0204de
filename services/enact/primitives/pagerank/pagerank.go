// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pagerank computes push-based PageRank.
//
// Each iteration every vertex pushes rank/degree along its out-edges into
// an accumulator, then a filter pass folds the accumulator into the new
// rank with damping and uniform redistribution of dangling mass. The run
// ends when the largest per-vertex change drops below Epsilon or after
// MaxIterations.
package pagerank

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/problem"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Name labels PageRank runs.
const Name = "pagerank"

const (
	// DefaultDamping is the probability of following an edge.
	DefaultDamping = 0.85

	// DefaultEpsilon is the convergence threshold on max rank change.
	DefaultEpsilon = 1e-6

	// DefaultMaxIterations bounds runs that do not converge.
	DefaultMaxIterations = 100
)

// scalar slots
const (
	slotMaxDelta = iota
	slotDangling
	numSlots
)

// Problem holds ranks and the push accumulator.
type Problem struct {
	base    problem.Base
	damping float64

	rank    *device.Array[float64]
	next    *device.Array[float64]
	scalars *device.Array[float64]
}

// Base implements problem.Problem.
func (p *Problem) Base() *problem.Base { return &p.base }

// Init uploads g to a single device.
func (p *Problem) Init(ctx context.Context, g *csr.Graph, opts problem.Options) error {
	if len(opts.Devices) != 1 {
		return status.Invalid("pagerank init", "pagerank runs on exactly one device, got %d", len(opts.Devices))
	}
	opts.VertexFloor = true
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
	if p.rank, err = device.Alloc[float64](d, "pagerank rank", g.Nodes); err != nil {
		return err
	}
	if p.next, err = device.Alloc[float64](d, "pagerank accumulator", g.Nodes); err != nil {
		return err
	}
	if p.scalars, err = device.Alloc[float64](d, "pagerank scalars", numSlots); err != nil {
		return err
	}
	p.damping = DefaultDamping
	return nil
}

// SetDamping sets the damping factor for the next run.
func (p *Problem) SetDamping(d float64) error {
	if d <= 0 || d >= 1 {
		return status.Invalid("pagerank", "damping %v outside (0, 1)", d)
	}
	p.damping = d
	return nil
}

// Reset implements problem.Problem. Ranks start uniform.
func (p *Problem) Reset(ctx context.Context, streams []*device.Stream) error {
	rank, next, scalars := p.rank, p.next, p.scalars
	n := p.base.Graph.Nodes
	return streams[0].Enqueue("reset pagerank", func() error {
		if n > 0 {
			rank.Fill(1 / float64(n))
		}
		next.Fill(0)
		scalars.Fill(0)
		return nil
	})
}

// Ranks returns a copy of the current ranks by vertex id.
func (p *Problem) Ranks() []float64 {
	return append([]float64(nil), p.rank.Data()...)
}

// Close frees everything. Close is idempotent.
func (p *Problem) Close() {
	p.rank.Free()
	p.next.Free()
	p.scalars.Free()
	p.base.Close()
}

// Enactor drives a PageRank Problem.
type Enactor struct {
	base    *enactor.Base
	problem *Problem
	epsilon float64
}

// NewEnactor returns an enactor with no devices bound. A zero
// opts.MaxIterations becomes DefaultMaxIterations; a non-positive epsilon
// becomes DefaultEpsilon.
func NewEnactor(opts enactor.Options, epsilon float64) (*Enactor, error) {
	if opts.Name == "" {
		opts.Name = Name
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	b, err := enactor.New(opts)
	if err != nil {
		return nil, err
	}
	return &Enactor{base: b, epsilon: epsilon}, nil
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

// Reset prepares a run from uniform ranks.
func (e *Enactor) Reset(ctx context.Context) error {
	if e.problem == nil {
		return status.Invalid("pagerank reset", "enactor is not initialized")
	}
	if err := e.base.Reset(); err != nil {
		return err
	}
	return e.problem.Reset(ctx, e.base.Streams())
}

// Enact iterates until convergence or the iteration cap.
func (e *Enactor) Enact(ctx context.Context) error {
	return e.base.Run(ctx, &iteration{p: e.problem, epsilon: e.epsilon})
}

// Close releases device contexts.
func (e *Enactor) Close() { e.base.Close() }

type iteration struct {
	p        *Problem
	epsilon  float64
	maxDelta float64
}

func (it *iteration) Seed(ctx context.Context, dc *enactor.DeviceContext) error {
	ids := make([]int32, dc.Slice.Nodes())
	for i := range ids {
		ids[i] = int32(i)
	}
	return dc.Queue().Seed(dc.Stream, ids)
}

// Advance collects dangling mass then pushes rank along every edge.
func (it *iteration) Advance(ctx context.Context, dc *enactor.DeviceContext) error {
	rows := dc.Slice.RowOffsets.Data()
	rank := it.p.rank.Data()
	next := it.p.next.Data()
	scalars := it.p.scalars.Data()
	in := dc.Queue().Current()

	if err := dc.Stream.Enqueue("clear pagerank scalars", func() error {
		scalars[slotMaxDelta] = 0
		scalars[slotDangling] = 0
		return nil
	}); err != nil {
		return err
	}
	if err := operator.ForAll(dc.Stream, "dangling mass", dc.Policy.Filter, len(in), nil, func(i int) {
		v := in[i]
		if rows[v+1] == rows[v] {
			operator.AtomicAddFloat64(&scalars[slotDangling], rank[v])
		}
	}); err != nil {
		return err
	}
	_, err := operator.Advance(ctx, dc.Frame(), operator.EdgeFuncs{
		Cond: func(int32, int32, int64) bool { return true },
		Apply: func(src, dst int32, _ int64) {
			operator.AtomicAddFloat64(&next[dst], rank[src]/float64(rows[src+1]-rows[src]))
		},
	}, operator.AdvanceOptions{Output: operator.NoOutput})
	return err
}

// Filter folds the accumulator into the new rank and tracks the largest
// change. Every vertex stays in the frontier.
func (it *iteration) Filter(ctx context.Context, dc *enactor.DeviceContext) error {
	rank := it.p.rank.Data()
	next := it.p.next.Data()
	scalars := it.p.scalars.Data()
	n := float64(dc.Slice.Nodes())
	d := it.p.damping
	dangling := scalars[slotDangling]

	_, err := operator.Filter(ctx, dc.Frame(), operator.VertexFuncs{
		Cond: func(int32) bool { return true },
		Apply: func(v int32) {
			r := (1-d)/n + d*(next[v]+dangling/n)
			operator.AtomicMaxFloat64(&scalars[slotMaxDelta], math.Abs(r-rank[v]))
			rank[v] = r
			next[v] = 0
		},
	}, operator.FilterOptions{Output: operator.ToQueue})
	return err
}

func (it *iteration) Converged(ctx context.Context, dc *enactor.DeviceContext) (bool, error) {
	it.maxDelta = it.p.scalars.Data()[slotMaxDelta]
	return it.maxDelta < it.epsilon, nil
}

// Options controls Run.
type Options struct {
	primitives.Options

	// Damping is the edge-follow probability. Default: DefaultDamping.
	Damping float64

	// Epsilon is the convergence threshold. Default: DefaultEpsilon.
	Epsilon float64
}

// Result is the host-side PageRank output.
type Result struct {
	primitives.Summary

	// Ranks[v] is the rank of v. Ranks sum to 1.
	Ranks []float64 `json:"ranks"`

	// Converged reports whether Epsilon was reached before the cap.
	Converged bool `json:"converged"`
}

// Top returns up to n vertex ids by descending rank, lower id first on
// ties.
func (r *Result) Top(n int) []int32 {
	ids := make([]int32, len(r.Ranks))
	for i := range ids {
		ids[i] = int32(i)
	}
	slices.SortStableFunc(ids, func(a, b int32) int {
		return cmp.Compare(r.Ranks[b], r.Ranks[a])
	})
	return ids[:min(n, len(ids))]
}

// Run computes PageRank on g.
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
	if opts.Damping != 0 {
		if err := p.SetDamping(opts.Damping); err != nil {
			return nil, err
		}
	}

	e, err := NewEnactor(opts.EnactorOptions(Name), opts.Epsilon)
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
	it := &iteration{p: p, epsilon: e.epsilon}
	if err := e.base.Run(ctx, it); err != nil {
		return nil, err
	}

	res := &Result{Ranks: p.Ranks()}
	if res.Summary, err = primitives.Summarize(context.WithoutCancel(ctx), e.base); err != nil {
		return nil, err
	}
	res.Converged = !res.Truncated && it.maxDelta < e.epsilon
	return res, nil
}
