// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package problem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/partition"
	"github.com/AleutianAI/frontier/services/enact/status"
)

func openDevices(t *testing.T, n int, memory int64) []*device.Device {
	t.Helper()
	devs := make([]*device.Device, n)
	for i := range devs {
		d, err := device.Open(device.Config{Ordinal: i, MemoryBytes: memory})
		require.NoError(t, err)
		t.Cleanup(d.Close)
		devs[i] = d
	}
	return devs
}

// TestBase_InitSingleDevice verifies the slice mirrors the input graph.
func TestBase_InitSingleDevice(t *testing.T) {
	devs := openDevices(t, 1, 0)
	g := csr.TwoTriangles()

	var b Base
	require.NoError(t, b.Init(context.Background(), g, Options{Devices: devs, QueueSizingFactor: 2}))
	defer b.Close()

	require.Equal(t, 1, b.NumDevices())
	s := b.Slices[0]
	assert.Equal(t, g.Nodes, s.Nodes())
	assert.Equal(t, g.Nodes, s.Owned())
	assert.Equal(t, g.RowOffsets, s.RowOffsets.Data())
	assert.Equal(t, g.ColumnIndices, s.ColumnIndices.Data())
	assert.Equal(t, int64(24), s.Frontier.Capacity())
}

// TestBase_InitMultiDevice verifies partitioned slices cover the graph.
func TestBase_InitMultiDevice(t *testing.T) {
	devs := openDevices(t, 3, 0)
	g := csr.Grid(4, 5)

	var b Base
	require.NoError(t, b.Init(context.Background(), g, Options{
		Devices:     devs,
		Partition:   partition.Options{Method: partition.Random, Seed: 3},
		VertexFloor: true,
	}))
	defer b.Close()

	owned := 0
	for i, s := range b.Slices {
		assert.Equal(t, i, s.Index)
		owned += s.Owned()
		assert.GreaterOrEqual(t, s.Frontier.Capacity(), int64(s.Nodes()))
	}
	assert.Equal(t, g.Nodes, owned)

	ids := Gather(&b, func(i int) []int32 { return b.Slices[i].LocalToGlobal.Data() })
	for v, id := range ids {
		assert.Equal(t, int32(v), id)
	}
}

// TestBase_InitFailureReleases verifies a failed init frees everything.
func TestBase_InitFailureReleases(t *testing.T) {
	devs := openDevices(t, 1, 128)

	var b Base
	err := b.Init(context.Background(), csr.Grid(5, 5), Options{Devices: devs})
	require.ErrorIs(t, err, status.ErrAllocation)
	assert.Zero(t, devs[0].LiveAllocations())
	assert.Zero(t, b.NumDevices())
}

// TestBase_InitValidation verifies bad input is rejected.
func TestBase_InitValidation(t *testing.T) {
	devs := openDevices(t, 1, 0)

	var b Base
	assert.ErrorIs(t, b.Init(context.Background(), csr.Path(3), Options{}), status.ErrInvalidInput)
	bad := &csr.Graph{Nodes: 2, Edges: 1, RowOffsets: []int64{0, 2, 1}, ColumnIndices: []int32{0}}
	assert.ErrorIs(t, b.Init(context.Background(), bad, Options{Devices: devs}), status.ErrInvalidInput)
	assert.ErrorIs(t, b.Init(context.Background(), csr.Path(3), Options{Devices: devs, QueueSizingFactor: -1}), status.ErrInvalidInput)

	require.NoError(t, b.Init(context.Background(), csr.Path(3), Options{Devices: devs}))
	assert.ErrorIs(t, b.Init(context.Background(), csr.Path(3), Options{Devices: devs}), status.ErrInvalidInput)
	b.Close()
}

// TestBase_CloseIdempotent verifies double close is safe and frees memory.
func TestBase_CloseIdempotent(t *testing.T) {
	devs := openDevices(t, 2, 0)

	var b Base
	require.NoError(t, b.Init(context.Background(), csr.Path(8), Options{Devices: devs}))
	b.Close()
	b.Close()
	for _, d := range devs {
		assert.Zero(t, d.LiveAllocations())
	}
}
