// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operator

import (
	"context"
	"math"
	"sort"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Output selects where an operator's emitted ids go.
type Output int

const (
	// ToQueue writes emitted ids into the inactive buffer and swaps.
	ToQueue Output = iota

	// NoOutput runs the functor for its side effects only; the frontier is
	// left unchanged.
	NoOutput
)

// AdvanceOptions controls Advance.
type AdvanceOptions struct {
	Output Output
}

// Advance expands the current frontier along outgoing edges.
//
// Description:
//
//	For every frontier vertex v and edge (v, u) at position e it calls
//	fn.CondEdge(v, u, e) and, if true, fn.ApplyEdge(v, u, e) and emits u.
//	ThreadMapped assigns one frontier vertex per thread; LoadBalanced
//	scans frontier degrees and splits the resulting edge space evenly
//	across CTAs so a single high-degree vertex cannot stall one thread.
//	Emission order is unspecified.
//
//	With ToQueue the emitted length is read back, checked against queue
//	capacity and the buffers are swapped. Under the grow overflow policy
//	the inactive buffer is first sized to the frontier's total degree.
//
// Inputs:
//
//	ctx - Bounds the blocking readback.
//	f - Launch frame from the device loop.
//	fn - Edge functor.
//	opts - Output mode.
//
// Outputs:
//
//	int64 - Ids emitted, 0 for NoOutput.
//	error - status.ErrQueueOverflow, status.ErrKernelLaunch, or the stream's
//	        sticky error.
func Advance(ctx context.Context, f Frame, fn AdvanceFunctor, opts AdvanceOptions) (int64, error) {
	if err := f.validate("advance"); err != nil {
		return 0, err
	}
	n := int(f.Queue.Length())
	emit := opts.Output == ToQueue
	loadBalanced := f.Strategy == policy.LoadBalanced
	sizing := emit && f.Overflow == frontier.OverflowGrow

	if loadBalanced || sizing {
		if err := f.Scratch.Ensure(n); err != nil {
			return 0, err
		}
		if err := f.scanDegrees(n); err != nil {
			return 0, err
		}
	}
	if sizing {
		if err := f.Stream.Synchronize(ctx); err != nil {
			return 0, err
		}
		if err := f.Queue.EnsureNext(ctx, f.Stream, f.Scratch.offsets.Data()[n]); err != nil {
			return 0, err
		}
	}

	index := f.Queue.Index()
	if emit {
		if err := f.Progress.Clear(f.Stream, index); err != nil {
			return 0, err
		}
	}

	var err error
	if loadBalanced {
		err = f.advanceLoadBalanced(n, fn, emit, index)
	} else {
		err = f.advanceThreadMapped(n, fn, emit, index)
	}
	if err != nil {
		return 0, err
	}

	if !emit {
		return 0, f.Stream.Synchronize(ctx)
	}
	length, err := f.Progress.GetQueueLength(ctx, f.Stream, index)
	if err != nil {
		return 0, err
	}
	if err := f.Progress.CheckOverflow("advance", index, f.Queue.Capacity()); err != nil {
		return length, err
	}
	if err := f.Queue.Swap("advance", length); err != nil {
		return length, err
	}
	return length, nil
}

// scanDegrees enqueues degrees of the current frontier into scratch and
// scans them, leaving the total at offsets[n].
func (f *Frame) scanDegrees(n int) error {
	in := f.Queue.Current()
	rows := f.Graph.RowOffsets
	degrees := f.Scratch.degrees.Data()
	if err := ForAll(f.Stream, "frontier degrees", f.Policy.Advance, n, f.Counters, func(i int) {
		v := in[i]
		degrees[i] = rows[v+1] - rows[v]
	}); err != nil {
		return err
	}
	return ExclusiveSum(f.Stream, f.Policy.Scan, degrees, f.Scratch.offsets.Data(), n, f.Scratch.workspace, 0)
}

// Emitter stages one CTA's output and flushes it with a single
// WorkProgress reservation.
type Emitter struct {
	out      []int32
	progress *frontier.WorkProgress
	index    int64
	local    []int32
}

// NewEmitter returns an emitter writing into out under counter index.
func NewEmitter(out []int32, progress *frontier.WorkProgress, index int64) *Emitter {
	return &Emitter{out: out, progress: progress, index: index, local: make([]int32, 0, 64)}
}

// Push stages v.
func (e *Emitter) Push(v int32) { e.local = append(e.local, v) }

// Flush reserves space for the staged ids and writes them.
func (e *Emitter) Flush() {
	if len(e.local) == 0 {
		return
	}
	off := e.progress.Reserve(e.index, int64(len(e.local)))
	limit := int64(len(e.out))
	for j, v := range e.local {
		// Counters still advance past capacity so the host detects
		// overflow; only in-range slots are written.
		if p := off + int64(j); p < limit {
			e.out[p] = v
		}
	}
	e.local = e.local[:0]
}

func (f *Frame) newEmitter(emit bool, index int64) func() *Emitter {
	if !emit {
		return func() *Emitter { return nil }
	}
	out := f.Queue.Next()
	return func() *Emitter { return NewEmitter(out, f.Progress, index) }
}

func (f *Frame) advanceThreadMapped(n int, fn AdvanceFunctor, emit bool, index int64) error {
	in := f.Queue.Current()
	rows := f.Graph.RowOffsets
	cols := f.Graph.Columns
	mk := f.newEmitter(emit, index)

	return f.Stream.Launch(f.launch("advance", f.Policy.Advance, n), n, func(b device.Block) {
		em := mk()
		b.ForEach(func(i int) {
			v := in[i]
			for e := rows[v]; e < rows[v+1]; e++ {
				u := cols.Fetch(e)
				if !fn.CondEdge(v, u, e) {
					continue
				}
				fn.ApplyEdge(v, u, e)
				if em != nil {
					em.Push(u)
				}
			}
		})
		if em != nil {
			em.Flush()
		}
	})
}

func (f *Frame) advanceLoadBalanced(n int, fn AdvanceFunctor, emit bool, index int64) error {
	in := f.Queue.Current()
	rows := f.Graph.RowOffsets
	cols := f.Graph.Columns
	offsets := f.Scratch.offsets.Data()
	mk := f.newEmitter(emit, index)

	// Grid is sized for the worst case; each CTA reads the scanned total
	// on device and claims an even share of the edge space.
	cfg := f.launch("advance lb", f.Policy.Advance, math.MaxInt32)
	return f.Stream.Launch(cfg, n, func(b device.Block) {
		total := offsets[n]
		if total == 0 {
			return
		}
		per := (total + int64(b.GridDim) - 1) / int64(b.GridDim)
		lo := min(int64(b.Index)*per, total)
		hi := min(lo+per, total)
		if lo >= hi {
			return
		}
		em := mk()
		i := sort.Search(n, func(j int) bool { return offsets[j+1] > lo })
		for p := lo; p < hi; p++ {
			for offsets[i+1] <= p {
				i++
			}
			v := in[i]
			e := rows[v] + (p - offsets[i])
			u := cols.Fetch(e)
			if !fn.CondEdge(v, u, e) {
				continue
			}
			fn.ApplyEdge(v, u, e)
			if em != nil {
				em.Push(u)
			}
		}
		if em != nil {
			em.Flush()
		}
	})
}

// FilterOptions controls Filter.
type FilterOptions struct {
	// Dedup drops repeated ids within one pass using the scratch bitmap.
	Dedup bool

	Output Output
}

// Filter compacts the current frontier through fn.
//
// Description:
//
//	Each id v passing fn.CondVertex (and, with Dedup, not seen earlier in
//	this pass) has fn.ApplyVertex(v) called and is emitted. Negative ids
//	are invalid slots and are dropped. With ToQueue the output is read
//	back, checked and swapped in.
//
// Outputs:
//
//	int64 - Ids emitted.
//	error - status.ErrQueueOverflow, status.ErrKernelLaunch, or
//	        status.ErrInvalidInput when Dedup is requested without a bitmap.
func Filter(ctx context.Context, f Frame, fn FilterFunctor, opts FilterOptions) (int64, error) {
	if err := f.validate("filter"); err != nil {
		return 0, err
	}
	var bitmap *Bitmap
	if opts.Dedup {
		bitmap = f.Scratch.Bitmap()
		if bitmap == nil {
			return 0, status.Invalid("filter", "dedup requested without a bitmap")
		}
		if err := bitmap.Clear(f.Stream, f.Policy.Filter); err != nil {
			return 0, err
		}
	}

	n := int(f.Queue.Length())
	emit := opts.Output == ToQueue
	index := f.Queue.Index()
	if emit {
		if err := f.Progress.Clear(f.Stream, index); err != nil {
			return 0, err
		}
	}
	in := f.Queue.Current()
	mk := f.newEmitter(emit, index)

	err := f.Stream.Launch(f.launch("filter", f.Policy.Filter, n), n, func(b device.Block) {
		em := mk()
		b.ForEach(func(i int) {
			v := in[i]
			if v < 0 {
				return
			}
			if bitmap != nil && bitmap.TestAndSet(v) {
				return
			}
			if !fn.CondVertex(v) {
				return
			}
			fn.ApplyVertex(v)
			if em != nil {
				em.Push(v)
			}
		})
		if em != nil {
			em.Flush()
		}
	})
	if err != nil {
		return 0, err
	}

	if !emit {
		return 0, f.Stream.Synchronize(ctx)
	}
	length, err := f.Progress.GetQueueLength(ctx, f.Stream, index)
	if err != nil {
		return 0, err
	}
	if err := f.Progress.CheckOverflow("filter", index, f.Queue.Capacity()); err != nil {
		return length, err
	}
	if err := f.Queue.Swap("filter", length); err != nil {
		return length, err
	}
	return length, nil
}
