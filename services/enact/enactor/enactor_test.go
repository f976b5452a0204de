// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enactor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/partition"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/problem"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// hopProblem labels every vertex with its hop distance from src.
type hopProblem struct {
	base   problem.Base
	labels []*device.Array[int32]
	src    int32
}

func (p *hopProblem) Base() *problem.Base { return &p.base }

func (p *hopProblem) Reset(ctx context.Context, streams []*device.Stream) error {
	for i, s := range streams {
		a := p.labels[i]
		if err := s.Enqueue("reset labels", func() error {
			a.Fill(math.MaxInt32)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *hopProblem) close() {
	for _, a := range p.labels {
		a.Free()
	}
	p.base.Close()
}

func (p *hopProblem) result() []int32 {
	return problem.Gather(&p.base, func(i int) []int32 { return p.labels[i].Data() })
}

// hops is a minimal level-synchronous traversal.
type hops struct {
	p     *hopProblem
	seeds atomic.Int32

	// produced sums frontier lengths seen at each check; last is the most
	// recent non-empty one.
	produced atomic.Int64
	last     atomic.Int64
}

func (h *hops) Seed(ctx context.Context, dc *DeviceContext) error {
	h.seeds.Add(1)
	t := h.p.base.Table
	if int(t.Owner[h.p.src]) != dc.Index {
		return nil
	}
	local := t.LocalID[h.p.src]
	labels := h.p.labels[dc.Index]
	if err := dc.Stream.Enqueue("seed label", func() error {
		labels.Data()[local] = 0
		return nil
	}); err != nil {
		return err
	}
	return dc.Queue().Seed(dc.Stream, []int32{local})
}

func (h *hops) Advance(ctx context.Context, dc *DeviceContext) error {
	l := h.p.labels[dc.Index].Data()
	_, err := operator.Advance(ctx, dc.Frame(), operator.EdgeFuncs{
		Cond: func(src, dst int32, _ int64) bool {
			return operator.AtomicMinInt32(&l[dst], atomic.LoadInt32(&l[src])+1)
		},
	}, operator.AdvanceOptions{Output: operator.ToQueue})
	return err
}

func (h *hops) Filter(context.Context, *DeviceContext) error { return nil }

func (h *hops) Converged(_ context.Context, dc *DeviceContext) (bool, error) {
	if n := dc.Queue().Length(); n > 0 {
		h.produced.Add(n)
		h.last.Store(n)
	}
	return false, nil
}

// dedupHops filters each frontier through the dedup bitmap.
type dedupHops struct{ *hops }

func (h dedupHops) Filter(ctx context.Context, dc *DeviceContext) error {
	_, err := operator.Filter(ctx, dc.Frame(), operator.VertexFuncs{
		Cond: func(int32) bool { return true },
	}, operator.FilterOptions{Dedup: true, Output: operator.ToQueue})
	return err
}

// faultySeed launches a kernel that faults and leaves the frontier empty.
type faultySeed struct{ *hops }

func (faultySeed) Seed(_ context.Context, dc *DeviceContext) error {
	return dc.Stream.Launch(device.LaunchConfig{Name: "bad seed", GridSize: 1, BlockSize: 1}, 1, func(device.Block) {
		panic("bad seed")
	})
}

func (h *hops) Pack(dc *DeviceContext, local int32) int64 {
	return int64(atomic.LoadInt32(&h.p.labels[dc.Index].Data()[local]))
}

func (h *hops) Unpack(dc *DeviceContext, local int32, value int64) bool {
	return operator.AtomicMinInt32(&h.p.labels[dc.Index].Data()[local], int32(value))
}

// singleOnly hides the Exchange methods of hops.
type singleOnly struct{ it Iteration }

func (s singleOnly) Seed(ctx context.Context, dc *DeviceContext) error    { return s.it.Seed(ctx, dc) }
func (s singleOnly) Advance(ctx context.Context, dc *DeviceContext) error { return s.it.Advance(ctx, dc) }
func (s singleOnly) Filter(ctx context.Context, dc *DeviceContext) error  { return s.it.Filter(ctx, dc) }
func (s singleOnly) Converged(ctx context.Context, dc *DeviceContext) (bool, error) {
	return s.it.Converged(ctx, dc)
}

func openDevices(t *testing.T, n int, c device.Capability) []*device.Device {
	t.Helper()
	devs := make([]*device.Device, n)
	for i := range devs {
		d, err := device.Open(device.Config{Ordinal: i, SMCount: 4, Capability: c})
		require.NoError(t, err)
		t.Cleanup(d.Close)
		devs[i] = d
	}
	return devs
}

func newHopProblem(t *testing.T, g *csr.Graph, devs []*device.Device, factor float64, src int32) *hopProblem {
	t.Helper()
	p := &hopProblem{src: src}
	require.NoError(t, p.base.Init(context.Background(), g, problem.Options{
		Devices:           devs,
		QueueSizingFactor: factor,
		Partition:         partition.Options{Method: partition.Random, Seed: 7},
	}))
	for _, s := range p.base.Slices {
		a, err := device.Alloc[int32](s.Device, "labels", s.Nodes())
		require.NoError(t, err)
		p.labels = append(p.labels, a)
	}
	t.Cleanup(p.close)
	return p
}

// enact runs one Setup, Reset, Run cycle.
func enact(ctx context.Context, b *Base, p *hopProblem, it Iteration) error {
	if err := b.Setup(context.Background(), p); err != nil {
		return err
	}
	if err := b.Reset(); err != nil {
		return err
	}
	if err := p.Reset(context.Background(), b.Streams()); err != nil {
		return err
	}
	return b.Run(ctx, it)
}

func hostHops(g *csr.Graph, src int32) []int32 {
	out := make([]int32, g.Nodes)
	for i := range out {
		out[i] = math.MaxInt32
	}
	out[src] = 0
	queue := []int32{src}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, u := range g.Neighbors(v) {
			if out[u] == math.MaxInt32 {
				out[u] = out[v] + 1
				queue = append(queue, u)
			}
		}
	}
	return out
}

// TestOptions_Defaults verifies zero options resolve to the documented
// defaults and bad values are rejected.
func TestOptions_Defaults(t *testing.T) {
	b, err := New(Options{Name: "hops"})
	require.NoError(t, err)
	o := b.Options()
	assert.Equal(t, SignalBlock, o.Signal)
	assert.Equal(t, frontier.OverflowFail, o.Overflow)
	assert.Equal(t, policy.Adaptive, o.Strategy)
	assert.Equal(t, 1.0, o.InboxSizingFactor)
	assert.Equal(t, StateInit, b.State())

	for name, opts := range map[string]Options{
		"signal":   {Signal: "spin"},
		"overflow": {Overflow: "drop"},
		"strategy": {Strategy: "warp"},
		"negative": {MaxIterations: -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(opts)
			assert.ErrorIs(t, err, status.ErrInvalidInput)
		})
	}
}

// TestBase_RunSingleDevice verifies a traversal over a path for every
// signal and strategy combination.
func TestBase_RunSingleDevice(t *testing.T) {
	for _, sig := range []SignalKind{SignalPoll, SignalBlock} {
		for _, strat := range []policy.Strategy{policy.ThreadMapped, policy.LoadBalanced} {
			t.Run(string(sig)+"/"+string(strat), func(t *testing.T) {
				devs := openDevices(t, 1, device.Capability{Major: 6})
				g := csr.Path(5)
				p := newHopProblem(t, g, devs, 1, 0)

				b, err := New(Options{Name: "hops", Signal: sig, Strategy: strat})
				require.NoError(t, err)
				defer b.Close()

				require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
				assert.Equal(t, StateExtractReady, b.State())
				assert.False(t, b.Truncated())
				assert.NotEmpty(t, b.RunID())
				assert.Equal(t, []int32{0, 1, 2, 3, 4}, p.result())

				st, err := b.GetStatistics(context.Background())
				require.NoError(t, err)
				assert.Equal(t, 5, st.SearchDepth)
				assert.Equal(t, int64(5), st.TotalQueued)
				assert.True(t, b.Devices()[0].Stats.Done)

				b.MarkDone()
				assert.Equal(t, StateDone, b.State())
			})
		}
	}
}

// TestBase_RunReproducible verifies Reset followed by another run
// reproduces labels and statistics.
func TestBase_RunReproducible(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 7})
	g := csr.Grid(6, 7)
	p := newHopProblem(t, g, devs, 1, 3)
	b, err := New(Options{Name: "hops"})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
	first := append([]int32(nil), p.result()...)
	st1, err := b.GetStatistics(context.Background())
	require.NoError(t, err)

	require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
	st2, err := b.GetStatistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, p.result())
	assert.Equal(t, hostHops(g, 3), first)
	assert.Equal(t, st1.SearchDepth, st2.SearchDepth)
	assert.Equal(t, st1.TotalQueued, st2.TotalQueued)
}

// TestBase_RunMultiDevice verifies ghost exchange yields the same labels
// as a host traversal.
func TestBase_RunMultiDevice(t *testing.T) {
	for _, n := range []int{2, 3} {
		devs := openDevices(t, n, device.Capability{Major: 6})
		g := csr.Grid(5, 6)
		p := newHopProblem(t, g, devs, 2, 0)
		b, err := New(Options{Name: "hops", Overflow: frontier.OverflowGrow})
		require.NoError(t, err)

		require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
		assert.Equal(t, hostHops(g, 0), p.result(), "devices=%d", n)
		for _, dc := range b.Devices() {
			assert.True(t, dc.Stats.Done)
		}
		b.Close()
	}
}

// TestBase_RunMultiDeviceNeedsExchange verifies an iteration without
// exchange support is rejected before any work is issued.
func TestBase_RunMultiDeviceNeedsExchange(t *testing.T) {
	devs := openDevices(t, 2, device.Capability{Major: 6})
	p := newHopProblem(t, csr.Path(6), devs, 1, 0)
	b, err := New(Options{Name: "hops"})
	require.NoError(t, err)
	defer b.Close()

	h := &hops{p: p}
	err = enact(context.Background(), b, p, singleOnly{h})
	assert.ErrorIs(t, err, status.ErrInvalidInput)
	assert.Equal(t, StateFailed, b.State())
	assert.Zero(t, h.seeds.Load())
}

// TestBase_RunUnsupportedDevice verifies capability selection fails before
// the seed hook runs.
func TestBase_RunUnsupportedDevice(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 2, Minor: 1})
	p := newHopProblem(t, csr.Path(4), devs, 1, 0)
	b, err := New(Options{Name: "hops"})
	require.NoError(t, err)
	defer b.Close()

	h := &hops{p: p}
	err = enact(context.Background(), b, p, h)
	require.ErrorIs(t, err, status.ErrUnsupportedDevice)
	assert.Equal(t, StateFailed, b.State())
	assert.Zero(t, h.seeds.Load())

	var se *status.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Device)
}

// TestBase_RunOverflow verifies a short queue fails under the fail policy
// and succeeds under the grow policy.
func TestBase_RunOverflow(t *testing.T) {
	g := csr.Star(10)

	t.Run("fail", func(t *testing.T) {
		devs := openDevices(t, 1, device.Capability{Major: 6})
		p := newHopProblem(t, g, devs, 0.1, 0)
		b, err := New(Options{Name: "hops"})
		require.NoError(t, err)
		defer b.Close()

		err = enact(context.Background(), b, p, &hops{p: p})
		require.ErrorIs(t, err, status.ErrQueueOverflow)
		assert.Equal(t, StateFailed, b.State())

		var se *status.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, int64(9), se.Length)
		assert.Equal(t, int64(2), se.Capacity)
		assert.Equal(t, 0, se.Iteration)
	})

	t.Run("grow", func(t *testing.T) {
		devs := openDevices(t, 1, device.Capability{Major: 6})
		p := newHopProblem(t, g, devs, 0.1, 0)
		b, err := New(Options{Name: "hops", Overflow: frontier.OverflowGrow})
		require.NoError(t, err)
		defer b.Close()

		require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
		assert.Equal(t, hostHops(g, 0), p.result())
		assert.GreaterOrEqual(t, p.base.Slices[0].Frontier.Capacity(), int64(9))
	})
}

// TestBase_RunKernelFault verifies a faulting kernel fails the run with a
// kernel launch error under either completion signal instead of hanging.
func TestBase_RunKernelFault(t *testing.T) {
	for _, sig := range []SignalKind{SignalPoll, SignalBlock} {
		t.Run(string(sig), func(t *testing.T) {
			devs := openDevices(t, 1, device.Capability{Major: 6})
			p := newHopProblem(t, csr.Path(4), devs, 1, 0)
			b, err := New(Options{Name: "hops", Signal: sig})
			require.NoError(t, err)
			defer b.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- enact(ctx, b, p, faultySeed{&hops{p: p}}) }()

			select {
			case err := <-done:
				require.ErrorIs(t, err, status.ErrKernelLaunch)
				assert.Contains(t, err.Error(), "bad seed")
				assert.Equal(t, StateFailed, b.State())
			case <-time.After(5 * time.Second):
				t.Fatal("run did not return after a kernel fault")
			}
		})
	}
}

// TestBase_RunExchangeOverflow verifies undersized exchange outboxes fail
// under the fail policy and grow under the grow policy.
func TestBase_RunExchangeOverflow(t *testing.T) {
	g := csr.Star(31)

	t.Run("fail", func(t *testing.T) {
		devs := openDevices(t, 2, device.Capability{Major: 6})
		p := newHopProblem(t, g, devs, 2, 0)
		b, err := New(Options{Name: "hops", InboxSizingFactor: 0.01})
		require.NoError(t, err)
		defer b.Close()

		err = enact(context.Background(), b, p, &hops{p: p})
		require.ErrorIs(t, err, status.ErrQueueOverflow)
		var se *status.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, int64(1), se.Capacity)
	})

	t.Run("grow", func(t *testing.T) {
		devs := openDevices(t, 2, device.Capability{Major: 6})
		p := newHopProblem(t, g, devs, 2, 0)
		b, err := New(Options{Name: "hops", InboxSizingFactor: 0.01, Overflow: frontier.OverflowGrow})
		require.NoError(t, err)
		defer b.Close()

		require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
		assert.Equal(t, hostHops(g, 0), p.result())

		grown := 0
		for _, dc := range b.Devices() {
			for peer, a := range dc.outbox {
				if peer != dc.Index && a.Len() > 1 {
					grown++
				}
			}
		}
		assert.Positive(t, grown)
	})
}

// TestBase_RunTruncated verifies a cancelled context stops the loop at an
// iteration boundary without an error.
func TestBase_RunTruncated(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 6})
	p := newHopProblem(t, csr.Path(8), devs, 1, 0)
	b, err := New(Options{Name: "hops"})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, enact(ctx, b, p, &hops{p: p}))
	assert.True(t, b.Truncated())
	assert.Equal(t, StateExtractReady, b.State())

	st, err := b.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.SearchDepth)
	assert.Equal(t, int64(1), st.TotalQueued)
}

// TestBase_RunMaxIterations verifies the iteration cap ends the run early.
func TestBase_RunMaxIterations(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 6})
	p := newHopProblem(t, csr.Path(8), devs, 1, 0)
	b, err := New(Options{Name: "hops", MaxIterations: 3})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, enact(context.Background(), b, p, &hops{p: p}))
	labels := p.result()
	assert.Equal(t, int32(3), labels[3])
	assert.Equal(t, int32(math.MaxInt32), labels[4])
	assert.False(t, b.Truncated())
}

// TestBase_Statistics verifies duty stays within [0, 1] when instrumented.
func TestBase_Statistics(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 6})
	p := newHopProblem(t, csr.Grid(8, 8), devs, 1, 0)
	b, err := New(Options{Name: "hops", Instrument: true})
	require.NoError(t, err)
	defer b.Close()

	h := &hops{p: p}
	require.NoError(t, enact(context.Background(), b, p, h))
	st, err := b.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Greater(t, st.AvgDuty, 0.0)
	assert.LessOrEqual(t, st.AvgDuty, 1.0)
	assert.Equal(t, 15, st.SearchDepth)

	// Cumulative work covers the seed and every produced frontier, so it
	// is never below the last frontier's size.
	require.Positive(t, h.last.Load())
	assert.GreaterOrEqual(t, st.TotalQueued, h.last.Load())
	assert.Equal(t, 1+h.produced.Load(), st.TotalQueued)
	assert.Equal(t, int64(64), st.TotalQueued)
}

// TestBase_SetupIdempotent verifies repeated Setup keeps device contexts
// and Close is safe to repeat.
func TestBase_SetupIdempotent(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 6})
	p := newHopProblem(t, csr.Path(3), devs, 1, 0)
	b, err := New(Options{Name: "hops"})
	require.NoError(t, err)

	require.NoError(t, b.Setup(context.Background(), p))
	first := b.Devices()[0]
	require.NoError(t, b.Setup(context.Background(), p))
	assert.Same(t, first, b.Devices()[0])
	assert.True(t, first.Texture.Bound())

	b.Close()
	b.Close()
	assert.Empty(t, b.Devices())
	assert.ErrorIs(t, b.Setup(context.Background(), p), status.ErrInvalidInput)
	assert.ErrorIs(t, b.Run(context.Background(), &hops{p: p}), status.ErrInvalidInput)
}

// TestBase_SetupProblemSwitch verifies binding a larger problem resizes
// operator scratch and a problem on other devices is rejected.
func TestBase_SetupProblemSwitch(t *testing.T) {
	devs := openDevices(t, 1, device.Capability{Major: 6})
	small := newHopProblem(t, csr.Path(3), devs, 1, 0)
	b, err := New(Options{Name: "hops", Dedup: true})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, enact(context.Background(), b, small, dedupHops{&hops{p: small}}))
	assert.Equal(t, hostHops(csr.Path(3), 0), small.result())

	g := csr.Grid(8, 8)
	large := newHopProblem(t, g, devs, 1, 0)
	require.NoError(t, b.Setup(context.Background(), large))
	assert.Nil(t, b.Devices()[0].Scratch)

	require.NoError(t, enact(context.Background(), b, large, dedupHops{&hops{p: large}}))
	assert.Equal(t, hostHops(g, 0), large.result())

	other := newHopProblem(t, csr.Path(3), openDevices(t, 1, device.Capability{Major: 6}), 1, 0)
	assert.ErrorIs(t, b.Setup(context.Background(), other), status.ErrInvalidInput)
}

// TestLocalExchanger_Exchange verifies every device receives exactly the
// messages addressed to it.
func TestLocalExchanger_Exchange(t *testing.T) {
	const n = 3
	x := NewLocalExchanger(n)
	got := make([][]Message, n)

	var wg sync.WaitGroup
	for dev := 0; dev < n; dev++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := make([][]Message, n)
			for peer := 0; peer < n; peer++ {
				out[peer] = []Message{{Vertex: int32(peer), Value: int64(dev)}}
			}
			in, err := x.Exchange(context.Background(), dev, out)
			assert.NoError(t, err)
			got[dev] = in
		}()
	}
	wg.Wait()

	for dev := 0; dev < n; dev++ {
		require.Len(t, got[dev], n-1)
		for _, m := range got[dev] {
			assert.Equal(t, int32(dev), m.Vertex)
			assert.NotEqual(t, int64(dev), m.Value)
		}
	}
}

// TestLocalExchanger_Vote verifies sum, any and all aggregation across
// repeated rounds.
func TestLocalExchanger_Vote(t *testing.T) {
	const n = 4
	x := NewLocalExchanger(n)
	for round := 0; round < 3; round++ {
		votes := make([]Vote, n)
		var wg sync.WaitGroup
		for dev := 0; dev < n; dev++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := x.Vote(context.Background(), dev, Vote{
					Active:    int64(dev + round),
					Stop:      dev == 2 && round == 1,
					Converged: round == 2,
				})
				assert.NoError(t, err)
				votes[dev] = v
			}()
		}
		wg.Wait()
		for _, v := range votes {
			assert.Equal(t, int64(6+4*round), v.Active)
			assert.Equal(t, round == 1, v.Stop)
			assert.Equal(t, round == 2, v.Converged)
		}
	}
}

// TestLocalExchanger_Abort verifies waiting peers are released with the
// abort cause.
func TestLocalExchanger_Abort(t *testing.T) {
	x := NewLocalExchanger(2)
	cause := status.Overflow("advance", 10, 4)

	done := make(chan error, 1)
	go func() {
		_, err := x.Vote(context.Background(), 0, Vote{Active: 1})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	x.Abort(cause)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, status.ErrQueueOverflow)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by abort")
	}
	_, err := x.Exchange(context.Background(), 1, nil)
	assert.ErrorIs(t, err, status.ErrQueueOverflow)
}

// TestSignals verifies both completion signals observe queued work.
func TestSignals(t *testing.T) {
	d, err := device.Open(device.Config{SMCount: 2})
	require.NoError(t, err)
	defer d.Close()
	flag, err := device.AllocPinned[int32](d, "flag", 1)
	require.NoError(t, err)
	defer flag.Free()

	for name, sig := range map[string]CompletionSignal{
		"poll":  NewPollSignal(flag),
		"block": NewBlockSignal(device.NewEvent()),
	} {
		t.Run(name, func(t *testing.T) {
			s := d.NewStream()
			defer s.Close()

			var ran atomic.Bool
			require.NoError(t, s.Enqueue("slow", func() error {
				time.Sleep(20 * time.Millisecond)
				ran.Store(true)
				return nil
			}))
			require.NoError(t, sig.Arm(s))
			require.NoError(t, sig.Wait(context.Background()))
			assert.True(t, ran.Load())
		})
	}
}

// TestSignals_WaitCancelled verifies a cancelled wait reports an error.
func TestSignals_WaitCancelled(t *testing.T) {
	d, err := device.Open(device.Config{SMCount: 2})
	require.NoError(t, err)
	defer d.Close()
	flag, err := device.AllocPinned[int32](d, "flag", 1)
	require.NoError(t, err)
	defer flag.Free()

	s := d.NewStream()
	defer s.Close()
	release := make(chan struct{})
	require.NoError(t, s.Enqueue("blocked", func() error {
		<-release
		return nil
	}))
	defer close(release)

	sig := NewPollSignal(flag)
	require.NoError(t, sig.Arm(s))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, sig.Wait(ctx))
}
