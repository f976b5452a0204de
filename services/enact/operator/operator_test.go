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
	"slices"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/status"
)

type harness struct {
	dev   *device.Device
	frame Frame
	tex   device.Texture
}

func newHarness(t *testing.T, g *csr.Graph, capacity int64, strategy policy.Strategy) *harness {
	t.Helper()
	d, err := device.Open(device.Config{SMCount: 4, Capability: device.Capability{Major: 6}})
	require.NoError(t, err)
	s := d.NewStream()

	pol, err := policy.Select(d.Properties().Capability)
	require.NoError(t, err)

	cols, err := device.Alloc[int32](d, "cols", int(g.Edges))
	require.NoError(t, err)
	require.NoError(t, cols.CopyFromHost(g.ColumnIndices))

	q, err := frontier.NewQueue(d, "frontier", capacity)
	require.NoError(t, err)
	wp, err := frontier.NewWorkProgress(d)
	require.NoError(t, err)
	scratch, err := NewScratch(d, pol, capacity, g.Nodes)
	require.NoError(t, err)

	h := &harness{dev: d}
	h.tex.Bind("cols", cols)
	h.frame = Frame{
		Stream:   s,
		Policy:   pol,
		Strategy: strategy,
		Graph:    View{Nodes: g.Nodes, RowOffsets: g.RowOffsets, Columns: &h.tex},
		Queue:    q,
		Progress: wp,
		Scratch:  scratch,
		Overflow: frontier.OverflowFail,
		Counters: &device.Counters{},
	}
	t.Cleanup(func() {
		s.Close()
		scratch.Free()
		wp.Free()
		q.Free()
		cols.Free()
		assert.Zero(t, d.LiveAllocations())
		d.Close()
	})
	return h
}

func (h *harness) seed(t *testing.T, ids ...int32) {
	t.Helper()
	require.NoError(t, h.frame.Queue.Seed(h.frame.Stream, ids))
}

func sorted(ids []int32) []int32 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

var all = EdgeFuncs{Cond: func(int32, int32, int64) bool { return true }}

// TestAdvance_Strategies verifies both mappings emit the same multiset.
func TestAdvance_Strategies(t *testing.T) {
	g := csr.Star(9)
	for _, strategy := range []policy.Strategy{policy.ThreadMapped, policy.LoadBalanced} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t, g, 64, strategy)
			h.seed(t, 0, 3)

			n, err := Advance(context.Background(), h.frame, all, AdvanceOptions{})
			require.NoError(t, err)
			assert.Equal(t, int64(9), n)
			assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8}, sorted(h.frame.Queue.Current()))
			assert.Equal(t, 1, h.frame.Queue.Selector())
			assert.Equal(t, int64(1), h.frame.Queue.Index())
		})
	}
}

// TestAdvance_FunctorContract verifies Apply only runs when Cond passes and
// sees the right edge ids.
func TestAdvance_FunctorContract(t *testing.T) {
	g := csr.Path(5)
	for _, strategy := range []policy.Strategy{policy.ThreadMapped, policy.LoadBalanced} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t, g, 16, strategy)
			h.seed(t, 2)

			var applied atomic.Int32
			fn := EdgeFuncs{
				Cond: func(src, dst int32, e int64) bool {
					assert.Equal(t, dst, g.ColumnIndices[e])
					assert.Equal(t, int32(2), src)
					return dst > src
				},
				Apply: func(src, dst int32, e int64) { applied.Add(1) },
			}
			n, err := Advance(context.Background(), h.frame, fn, AdvanceOptions{})
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			assert.Equal(t, int32(1), applied.Load())
			assert.Equal(t, []int32{3}, h.frame.Queue.Current())
		})
	}
}

// TestAdvance_NoOutput verifies the frontier is untouched.
func TestAdvance_NoOutput(t *testing.T) {
	h := newHarness(t, csr.Complete(4), 16, policy.ThreadMapped)
	h.seed(t, 1)

	var edges atomic.Int32
	fn := EdgeFuncs{Cond: func(int32, int32, int64) bool { edges.Add(1); return true }}
	n, err := Advance(context.Background(), h.frame, fn, AdvanceOptions{Output: NoOutput})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(3), edges.Load())
	assert.Equal(t, []int32{1}, h.frame.Queue.Current())
	assert.Zero(t, h.frame.Queue.Index())
}

// TestAdvance_Overflow verifies an over-capacity expansion fails without
// writing out of bounds.
func TestAdvance_Overflow(t *testing.T) {
	for _, strategy := range []policy.Strategy{policy.ThreadMapped, policy.LoadBalanced} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t, csr.Star(10), 4, strategy)
			h.seed(t, 0)

			n, err := Advance(context.Background(), h.frame, all, AdvanceOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, status.ErrQueueOverflow)
			assert.Equal(t, int64(9), n)
			assert.Equal(t, []int32{0}, h.frame.Queue.Current(), "frontier unchanged after overflow")
		})
	}
}

// TestAdvance_Grow verifies the grow policy resizes ahead of the launch.
func TestAdvance_Grow(t *testing.T) {
	h := newHarness(t, csr.Star(10), 4, policy.ThreadMapped)
	h.frame.Overflow = frontier.OverflowGrow
	h.seed(t, 0)

	n, err := Advance(context.Background(), h.frame, all, AdvanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.GreaterOrEqual(t, h.frame.Queue.Capacity(), int64(9))
	assert.Len(t, h.frame.Queue.Current(), 9)
}

// TestAdvance_Unbound verifies a frame without adjacency is rejected.
func TestAdvance_Unbound(t *testing.T) {
	h := newHarness(t, csr.Path(3), 4, policy.ThreadMapped)
	h.tex.Unbind()
	_, err := Advance(context.Background(), h.frame, all, AdvanceOptions{})
	assert.ErrorIs(t, err, status.ErrInvalidInput)
}

// TestFilter_Dedup verifies duplicates and invalid slots are dropped.
func TestFilter_Dedup(t *testing.T) {
	h := newHarness(t, csr.Path(6), 16, policy.ThreadMapped)
	h.seed(t, 4, 1, 4, -1, 2, 1, 5)

	var applied atomic.Int32
	fn := VertexFuncs{
		Cond:  func(v int32) bool { return v != 5 },
		Apply: func(int32) { applied.Add(1) },
	}
	n, err := Filter(context.Background(), h.frame, fn, FilterOptions{Dedup: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int32(3), applied.Load())
	assert.Equal(t, []int32{1, 2, 4}, sorted(h.frame.Queue.Current()))

	// The bitmap is cleared per pass.
	n, err = Filter(context.Background(), h.frame, fn, FilterOptions{Dedup: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// TestFilter_NoDedupKeepsDuplicates verifies dedup is opt-in.
func TestFilter_NoDedupKeepsDuplicates(t *testing.T) {
	h := newHarness(t, csr.Path(3), 8, policy.ThreadMapped)
	h.seed(t, 1, 1, 2)

	n, err := Filter(context.Background(), h.frame, VertexFuncs{Cond: func(int32) bool { return true }}, FilterOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// TestExclusiveSum verifies the scan and the workspace contract.
func TestExclusiveSum(t *testing.T) {
	d, err := device.Open(device.Config{SMCount: 3})
	require.NoError(t, err)
	defer d.Close()
	s := d.NewStream()
	defer s.Close()

	k := policy.Kernel{BlockSize: 4, Occupancy: 2}
	const n = 37
	in := make([]int64, n)
	want := make([]int64, n+1)
	for i := range in {
		in[i] = int64(i%5 + 1)
		want[i+1] = want[i] + in[i]
	}

	ws, err := device.Alloc[int64](d, "ws", ScanWorkspaceSize(d, k, n, 0))
	require.NoError(t, err)
	defer ws.Free()

	out := make([]int64, n+1)
	require.NoError(t, ExclusiveSum(s, k, in, out, n, ws, 0))
	require.NoError(t, s.Synchronize(context.Background()))
	assert.Equal(t, want, out)

	// In place.
	buf := append(slices.Clone(in), 0)
	require.NoError(t, ExclusiveSum(s, k, buf, buf, n, ws, 0))
	require.NoError(t, s.Synchronize(context.Background()))
	assert.Equal(t, want, buf)

	small, err := device.Alloc[int64](d, "small", 1)
	require.NoError(t, err)
	defer small.Free()
	assert.ErrorIs(t, ExclusiveSum(s, k, in, out, n, small, 0), status.ErrInvalidInput)
	assert.ErrorIs(t, ExclusiveSum(s, k, in, out[:n], n, ws, 0), status.ErrInvalidInput)
}

// TestSortPairsDescending verifies key order and tie breaking.
func TestSortPairsDescending(t *testing.T) {
	d, err := device.Open(device.Config{})
	require.NoError(t, err)
	defer d.Close()
	s := d.NewStream()
	defer s.Close()

	keys := []int64{1, 3, 2, 4, 0, 3}
	vals := []int32{0, 1, 2, 3, 4, 5}
	require.NoError(t, SortPairsDescending(s, keys, vals, len(keys)))
	require.NoError(t, s.Synchronize(context.Background()))

	assert.Equal(t, []int64{4, 3, 3, 2, 1, 0}, keys)
	assert.Equal(t, []int32{3, 1, 5, 2, 0, 4}, vals)
}

// TestAtomics verifies the CAS helpers under contention.
func TestAtomics(t *testing.T) {
	d, err := device.Open(device.Config{SMCount: 8})
	require.NoError(t, err)
	defer d.Close()
	s := d.NewStream()
	defer s.Close()

	min32 := int32(1 << 30)
	var sum, peak float64
	k := policy.Kernel{BlockSize: 8, Occupancy: 4}
	require.NoError(t, ForAll(s, "atomics", k, 1000, nil, func(i int) {
		AtomicMinInt32(&min32, int32(1000-i))
		AtomicAddFloat64(&sum, 0.5)
		AtomicMaxFloat64(&peak, float64(i))
	}))
	require.NoError(t, s.Synchronize(context.Background()))

	assert.Equal(t, int32(1), min32)
	assert.InDelta(t, 500.0, AtomicLoadFloat64(&sum), 1e-9)
	assert.InDelta(t, 999.0, peak, 1e-9)

	assert.False(t, AtomicMinInt32(&min32, 5))
	AtomicStoreFloat64(&sum, 2)
	assert.InDelta(t, 2.0, sum, 1e-9)
}

// TestFillIota verifies the helper kernels.
func TestFillIota(t *testing.T) {
	d, err := device.Open(device.Config{})
	require.NoError(t, err)
	defer d.Close()
	s := d.NewStream()
	defer s.Close()

	k := policy.Kernel{BlockSize: 3, Occupancy: 1}
	a := make([]int32, 10)
	require.NoError(t, Iota(s, k, a, 5))
	f := make([]float64, 4)
	require.NoError(t, Fill(s, k, f, 0.25))
	require.NoError(t, s.Synchronize(context.Background()))

	assert.Equal(t, []int32{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, a)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, f)
}
