// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pagerank

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/status"
)

func openDevice(t *testing.T) *device.Device {
	t.Helper()
	d, err := device.Open(device.Config{SMCount: 4, Capability: device.Capability{Major: 7}})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.Zero(t, d.LiveAllocations())
		d.Close()
	})
	return d
}

// reference runs the same power iteration on the host for iters rounds.
func reference(g *csr.Graph, damping float64, iters int) []float64 {
	n := float64(g.Nodes)
	rank := make([]float64, g.Nodes)
	for i := range rank {
		rank[i] = 1 / n
	}
	for range iters {
		next := make([]float64, g.Nodes)
		var dangling float64
		for v := 0; v < g.Nodes; v++ {
			deg := g.Degree(int32(v))
			if deg == 0 {
				dangling += rank[v]
				continue
			}
			for _, u := range g.Neighbors(int32(v)) {
				next[u] += rank[v] / float64(deg)
			}
		}
		for v := range rank {
			rank[v] = (1-damping)/n + damping*(next[v]+dangling/n)
		}
	}
	return rank
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// TestRun_MatchesReference verifies device ranks track a host power
// iteration for a fixed iteration count.
func TestRun_MatchesReference(t *testing.T) {
	directed, err := csr.FromEdges(5, []csr.Edge{
		{Src: 0, Dst: 1}, {Src: 1, Dst: 2}, {Src: 2, Dst: 0}, {Src: 2, Dst: 3}, {Src: 3, Dst: 4},
	}, csr.BuildOptions{})
	require.NoError(t, err)

	tests := []struct {
		name     string
		g        *csr.Graph
		strategy policy.Strategy
	}{
		{"star", csr.Star(7), policy.ThreadMapped},
		{"grid lb", csr.Grid(4, 3), policy.LoadBalanced},
		{"directed with dangling", directed, policy.Adaptive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), tt.g, Options{
				Options: primitives.Options{
					Devices: []*device.Device{openDevice(t)},
					Enactor: enactor.Options{Strategy: tt.strategy, MaxIterations: 15},
				},
				Epsilon: 1e-300,
			})
			require.NoError(t, err)
			want := reference(tt.g, DefaultDamping, res.Statistics.SearchDepth)
			require.Len(t, res.Ranks, tt.g.Nodes)
			for v := range want {
				assert.InDelta(t, want[v], res.Ranks[v], 1e-12, "vertex %d", v)
			}
			assert.InDelta(t, 1.0, sum(res.Ranks), 1e-9)
			assert.LessOrEqual(t, res.Statistics.SearchDepth, 15)
		})
	}
}

// TestRun_Converges verifies a symmetric graph converges to uniform ranks
// well before the cap.
func TestRun_Converges(t *testing.T) {
	res, err := Run(context.Background(), csr.Complete(6), Options{
		Options: primitives.Options{Devices: []*device.Device{openDevice(t)}},
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Less(t, res.Statistics.SearchDepth, DefaultMaxIterations)
	for _, r := range res.Ranks {
		assert.InDelta(t, 1.0/6, r, 1e-9)
	}
}

// TestRun_StarCenterRanksFirst verifies the hub outranks the leaves.
func TestRun_StarCenterRanksFirst(t *testing.T) {
	res, err := Run(context.Background(), csr.Star(9), Options{
		Options: primitives.Options{Devices: []*device.Device{openDevice(t)}},
		Damping: 0.5,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	top := res.Top(3)
	assert.Equal(t, []int32{0, 1, 2}, top)
	assert.Greater(t, res.Ranks[0], 3*res.Ranks[1])
	assert.InDelta(t, res.Ranks[1], res.Ranks[8], 1e-9)
}

// TestRun_IterationCap verifies the cap ends a run that has not converged.
func TestRun_IterationCap(t *testing.T) {
	res, err := Run(context.Background(), csr.Path(30), Options{
		Options: primitives.Options{
			Devices: []*device.Device{openDevice(t)},
			Enactor: enactor.Options{MaxIterations: 2},
		},
		Epsilon: 1e-15,
	})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Statistics.SearchDepth)
	assert.Equal(t, int64(3*30), res.Statistics.TotalQueued)
}

// TestRun_Errors verifies bad damping and multiple devices are rejected.
func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), csr.Path(3), Options{
		Options: primitives.Options{Devices: []*device.Device{openDevice(t)}},
		Damping: 1.5,
	})
	assert.ErrorIs(t, err, status.ErrInvalidInput)

	_, err = Run(context.Background(), csr.Path(3), Options{
		Options: primitives.Options{Devices: []*device.Device{openDevice(t), openDevice(t)}},
	})
	assert.ErrorIs(t, err, status.ErrInvalidInput)
}

// TestEnactor_ResetReproducible verifies ranks are reproducible across
// Reset.
func TestEnactor_ResetReproducible(t *testing.T) {
	ctx := context.Background()
	g := csr.Grid(5, 5)
	p := &Problem{}
	require.NoError(t, p.Init(ctx, g, primitives.Options{}.ProblemOptions([]*device.Device{openDevice(t)}, true)))
	defer p.Close()
	e, err := NewEnactor(enactor.Options{}, 1e-10)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Init(ctx, p))

	require.NoError(t, e.Reset(ctx))
	require.NoError(t, e.Enact(ctx))
	first := p.Ranks()

	require.NoError(t, e.Reset(ctx))
	require.NoError(t, e.Enact(ctx))
	for v, r := range p.Ranks() {
		assert.InDelta(t, first[v], r, 1e-12)
	}
	assert.False(t, math.IsNaN(first[0]))
}

// TestEnactor_ResetBeforeInit verifies Reset without a bound problem fails
// cleanly.
func TestEnactor_ResetBeforeInit(t *testing.T) {
	e, err := NewEnactor(enactor.Options{}, 1e-6)
	require.NoError(t, err)
	defer e.Close()

	assert.ErrorIs(t, e.Reset(context.Background()), status.ErrInvalidInput)
}
