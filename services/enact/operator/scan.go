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
	"sort"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// ScanWorkspaceSize returns the workspace elements ExclusiveSum needs for n
// items. This is the query half of the two-phase scan contract.
func ScanWorkspaceSize(d *device.Device, k policy.Kernel, n, limit int) int {
	return k.Grid(d, n, limit) + 1
}

// ExclusiveSum enqueues an exclusive prefix sum of in[:n] into out[:n] and
// writes the total to out[n].
//
// Description:
//
//	Three kernels: per-CTA partial sums into workspace, a single-CTA scan
//	of the partials, then a per-CTA downsweep that writes the final
//	offsets. in and out may alias.
//
// Inputs:
//
//	s - Stream to enqueue on.
//	k - Scan launch shape, usually Policy.Scan.
//	in - Input values, at least n long.
//	out - Output, at least n+1 long.
//	n - Item count.
//	workspace - At least ScanWorkspaceSize(d, k, n, limit) elements.
//	limit - Grid cap, as passed to ScanWorkspaceSize.
//
// Outputs:
//
//	error - status.ErrInvalidInput when a buffer is too small.
func ExclusiveSum(s *device.Stream, k policy.Kernel, in, out []int64, n int, workspace *device.Array[int64], limit int) error {
	if n < 0 || len(in) < n || len(out) < n+1 {
		return status.Invalid("exclusive sum", "buffers too small for %d items", n)
	}
	grid := k.Grid(s.Device(), n, limit)
	if workspace.Len() < grid+1 {
		return status.Invalid("exclusive sum", "workspace has %d elements, need %d", workspace.Len(), grid+1)
	}
	partial := workspace.Data()
	cfg := device.LaunchConfig{Name: "scan reduce", GridSize: grid, BlockSize: k.BlockSize}

	if err := s.Launch(cfg, n, func(b device.Block) {
		lo, hi := b.Range()
		var sum int64
		for i := lo; i < hi; i++ {
			sum += in[i]
		}
		partial[b.Index] = sum
	}); err != nil {
		return err
	}

	single := device.LaunchConfig{Name: "scan partials", GridSize: 1, BlockSize: k.BlockSize}
	if err := s.Launch(single, grid, func(device.Block) {
		var run int64
		for i := 0; i < grid; i++ {
			v := partial[i]
			partial[i] = run
			run += v
		}
		partial[grid] = run
	}); err != nil {
		return err
	}

	cfg.Name = "scan downsweep"
	return s.Launch(cfg, n, func(b device.Block) {
		lo, hi := b.Range()
		run := partial[b.Index]
		for i := lo; i < hi; i++ {
			v := in[i]
			out[i] = run
			run += v
		}
		if b.Index == b.GridDim-1 {
			out[n] = partial[grid]
		}
	})
}

// SortPairsDescending enqueues a sort of keys[:n] descending, carrying
// values along. Equal keys order by ascending value.
func SortPairsDescending(s *device.Stream, keys []int64, values []int32, n int) error {
	if n < 0 || len(keys) < n || len(values) < n {
		return status.Invalid("sort pairs", "buffers too small for %d items", n)
	}
	return s.Enqueue("sort pairs", func() error {
		sort.Sort(pairs{keys: keys[:n], values: values[:n]})
		return nil
	})
}

type pairs struct {
	keys   []int64
	values []int32
}

func (p pairs) Len() int { return len(p.keys) }

func (p pairs) Less(i, j int) bool {
	if p.keys[i] != p.keys[j] {
		return p.keys[i] > p.keys[j]
	}
	return p.values[i] < p.values[j]
}

func (p pairs) Swap(i, j int) {
	p.keys[i], p.keys[j] = p.keys[j], p.keys[i]
	p.values[i], p.values[j] = p.values[j], p.values[i]
}
