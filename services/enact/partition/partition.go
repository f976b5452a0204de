// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package partition splits a graph across devices and builds each device's
// local sub-graph with its ghost vertices.
//
// Every global vertex is owned by exactly one device. A device's local
// numbering lists its owned vertices first, in ascending global order,
// followed by ghosts: vertices owned elsewhere that its owned vertices
// point to. Ghosts carry no out-edges locally.
package partition

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Method names a partitioning strategy.
type Method string

const (
	// Random assigns a seeded permutation of vertices in equal chunks.
	Random Method = "random"

	// BiasRandom walks vertices in random order and, with probability
	// Factor, places each with the device owning most of its already
	// placed neighbors.
	BiasRandom Method = "biasrandom"

	// Cluster assigns contiguous id ranges balanced by edge count.
	Cluster Method = "cluster"
)

// Validate reports unknown methods.
func (m Method) Validate() error {
	switch m {
	case Random, BiasRandom, Cluster:
		return nil
	default:
		return status.Invalid("partition", "unknown method %q", m)
	}
}

// Options controls Partition.
type Options struct {
	Method  Method
	Devices int
	Seed    uint64

	// Factor is the BiasRandom neighbor preference in [0, 1].
	Factor float64
}

// Table is the global ownership map.
type Table struct {
	Devices int

	// Owner[v] is the device owning global vertex v.
	Owner []int32

	// LocalID[v] is v's index in its owner's local numbering.
	LocalID []int32

	// Counts[d] is the number of vertices device d owns.
	Counts []int
}

// Partition assigns every vertex of g to one of opts.Devices devices.
//
// Outputs:
//
//	*Table - Ownership map. With one device every vertex maps to itself.
//	error - status.ErrInvalidInput for bad options.
func Partition(g *csr.Graph, opts Options) (*Table, error) {
	if opts.Devices < 1 {
		return nil, status.Invalid("partition", "device count %d must be positive", opts.Devices)
	}
	if opts.Factor < 0 || opts.Factor > 1 {
		return nil, status.Invalid("partition", "factor %v outside [0, 1]", opts.Factor)
	}
	owner := make([]int32, g.Nodes)
	if opts.Devices > 1 {
		if opts.Method == "" {
			opts.Method = Random
		}
		if err := opts.Method.Validate(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		switch opts.Method {
		case Random:
			assignRandom(owner, opts.Devices, rng)
		case BiasRandom:
			assignBiased(g, owner, opts.Devices, opts.Factor, rng)
		case Cluster:
			assignCluster(g, owner, opts.Devices)
		}
	}
	return newTable(owner, opts.Devices), nil
}

func newTable(owner []int32, devices int) *Table {
	t := &Table{
		Devices: devices,
		Owner:   owner,
		LocalID: make([]int32, len(owner)),
		Counts:  make([]int, devices),
	}
	for v, d := range owner {
		t.LocalID[v] = int32(t.Counts[d])
		t.Counts[d]++
	}
	return t
}

func assignRandom(owner []int32, devices int, rng *rand.Rand) {
	n := len(owner)
	perm := rng.Perm(n)
	for i, v := range perm {
		owner[v] = int32(i * devices / n)
	}
}

func assignBiased(g *csr.Graph, owner []int32, devices int, factor float64, rng *rand.Rand) {
	n := len(owner)
	limit := int(math.Ceil(float64(n)/float64(devices))) + 1
	load := make([]int, devices)
	votes := make([]int, devices)
	for i := range owner {
		owner[i] = -1
	}
	for _, v := range rng.Perm(n) {
		clear(votes)
		for _, u := range g.Neighbors(int32(v)) {
			if d := owner[u]; d >= 0 {
				votes[d]++
			}
		}
		best, bestVotes := -1, 0
		for d, c := range votes {
			if c > bestVotes && load[d] < limit {
				best, bestVotes = d, c
			}
		}
		if best < 0 || rng.Float64() >= factor {
			best = lightest(load, rng)
		}
		owner[v] = int32(best)
		load[best]++
	}
}

// lightest returns a least-loaded device, ties broken at random.
func lightest(load []int, rng *rand.Rand) int {
	low := slices.Min(load)
	var candidates []int
	for d, l := range load {
		if l == low {
			candidates = append(candidates, d)
		}
	}
	return candidates[rng.IntN(len(candidates))]
}

func assignCluster(g *csr.Graph, owner []int32, devices int) {
	n := len(owner)
	// Balance on edges+vertices so edgeless graphs still split evenly.
	total := g.Edges + int64(n)
	d := 0
	for v := 0; v < n; v++ {
		work := g.RowOffsets[v] + int64(v)
		for d < devices-1 && work >= total*int64(d+1)/int64(devices) {
			d++
		}
		owner[v] = int32(d)
	}
}

// Sub is one device's local view of a partitioned graph.
type Sub struct {
	// Graph is the local CSR. Owned vertices keep all out-edges mapped to
	// local ids; ghosts have none.
	Graph *csr.Graph

	// Owned is the number of owned vertices, local ids [0, Owned).
	Owned int

	// LocalToGlobal maps every local id to its global id.
	LocalToGlobal []int32

	// Owner maps every local id to its owning device.
	Owner []int32

	// OwnerLocal maps every local id to its id on the owning device.
	OwnerLocal []int32
}

// Ghosts returns the number of ghost vertices.
func (s *Sub) Ghosts() int { return len(s.LocalToGlobal) - s.Owned }

// Subgraph builds device dev's local view.
func Subgraph(g *csr.Graph, t *Table, dev int) (*Sub, error) {
	if dev < 0 || dev >= t.Devices {
		return nil, status.Invalid("subgraph", "device %d out of range", dev)
	}
	if len(t.Owner) != g.Nodes {
		return nil, status.Invalid("subgraph", "table covers %d vertices, graph has %d", len(t.Owner), g.Nodes)
	}

	owned := make([]int32, 0, t.Counts[dev])
	for v, d := range t.Owner {
		if int(d) == dev {
			owned = append(owned, int32(v))
		}
	}
	local := make(map[int32]int32, len(owned))
	for i, v := range owned {
		local[v] = int32(i)
	}

	var ghosts []int32
	for _, v := range owned {
		for _, u := range g.Neighbors(v) {
			if int(t.Owner[u]) == dev {
				continue
			}
			if _, ok := local[u]; !ok {
				local[u] = -1
				ghosts = append(ghosts, u)
			}
		}
	}
	slices.Sort(ghosts)
	for i, u := range ghosts {
		local[u] = int32(len(owned) + i)
	}

	l2g := append(owned, ghosts...)
	nodes := len(l2g)
	rows := make([]int64, nodes+1)
	var cols []int32
	for i, v := range owned {
		for _, u := range g.Neighbors(v) {
			cols = append(cols, local[u])
		}
		rows[i+1] = int64(len(cols))
	}
	for i := len(owned); i < nodes; i++ {
		rows[i+1] = rows[i]
	}

	sg, err := csr.New(nodes, rows, cols)
	if err != nil {
		return nil, err
	}
	sub := &Sub{
		Graph:         sg,
		Owned:         len(owned),
		LocalToGlobal: l2g,
		Owner:         make([]int32, nodes),
		OwnerLocal:    make([]int32, nodes),
	}
	for i, v := range l2g {
		sub.Owner[i] = t.Owner[v]
		sub.OwnerLocal[i] = t.LocalID[v]
	}
	return sub, nil
}
