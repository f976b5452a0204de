// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package csr provides the compressed sparse row graph consumed by the
// enactment engine.
//
// A Graph is immutable once constructed. New validates the offsets and
// column indices so that no downstream kernel ever reads out of bounds.
package csr

import (
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Graph is a directed graph in CSR form. Undirected graphs store each edge
// in both directions.
type Graph struct {
	// Nodes is the vertex count.
	Nodes int

	// Edges is the stored edge count.
	Edges int64

	// RowOffsets has Nodes+1 entries; neighbors of v are
	// ColumnIndices[RowOffsets[v]:RowOffsets[v+1]].
	RowOffsets []int64

	// ColumnIndices has Edges entries, each in [0, Nodes).
	ColumnIndices []int32
}

// New validates and wraps CSR arrays. The slices are retained, not copied.
//
// Description:
//
//	Checks that RowOffsets has nodes+1 entries, starts at 0, is monotonic
//	non-decreasing, and ends at len(columns), and that every column index
//	is a valid vertex id.
//
// Inputs:
//
//	nodes - Vertex count. Must be non-negative and fit in int32.
//	rowOffsets - Row offset array.
//	columns - Column index array.
//
// Outputs:
//
//	*Graph - The validated graph.
//	error - status.ErrInvalidInput describing the first violation.
func New(nodes int, rowOffsets []int64, columns []int32) (*Graph, error) {
	g := &Graph{
		Nodes:         nodes,
		Edges:         int64(len(columns)),
		RowOffsets:    rowOffsets,
		ColumnIndices: columns,
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the CSR invariants.
func (g *Graph) Validate() error {
	if g == nil {
		return status.Invalid("csr", "graph is nil")
	}
	if g.Nodes < 0 || int64(g.Nodes) > maxVertices {
		return status.Invalid("csr", "node count %d out of range", g.Nodes)
	}
	if len(g.RowOffsets) != g.Nodes+1 {
		return status.Invalid("csr", "row offsets has %d entries, want %d", len(g.RowOffsets), g.Nodes+1)
	}
	if g.RowOffsets[0] != 0 {
		return status.Invalid("csr", "first row offset is %d, want 0", g.RowOffsets[0])
	}
	if g.Edges != int64(len(g.ColumnIndices)) {
		return status.Invalid("csr", "edge count %d does not match %d column indices", g.Edges, len(g.ColumnIndices))
	}
	for v := 0; v < g.Nodes; v++ {
		if g.RowOffsets[v+1] < g.RowOffsets[v] {
			return status.Invalid("csr", "row offsets decrease at vertex %d", v)
		}
	}
	if last := g.RowOffsets[g.Nodes]; last != g.Edges {
		return status.Invalid("csr", "last row offset is %d, want %d", last, g.Edges)
	}
	for e, c := range g.ColumnIndices {
		if c < 0 || int(c) >= g.Nodes {
			return status.Invalid("csr", "column index %d at edge %d out of range", c, e)
		}
	}
	return nil
}

const maxVertices = 1<<31 - 2

// Degree returns the out-degree of v.
func (g *Graph) Degree(v int32) int64 {
	return g.RowOffsets[v+1] - g.RowOffsets[v]
}

// Neighbors returns the adjacency slice of v. The slice aliases the graph.
func (g *Graph) Neighbors(v int32) []int32 {
	return g.ColumnIndices[g.RowOffsets[v]:g.RowOffsets[v+1]]
}

// MaxDegree returns the largest out-degree, or 0 for an empty graph.
func (g *Graph) MaxDegree() int64 {
	var best int64
	for v := 0; v < g.Nodes; v++ {
		if d := g.RowOffsets[v+1] - g.RowOffsets[v]; d > best {
			best = d
		}
	}
	return best
}

// AverageDegree returns Edges/Nodes, or 0 for an empty graph.
func (g *Graph) AverageDegree() float64 {
	if g.Nodes == 0 {
		return 0
	}
	return float64(g.Edges) / float64(g.Nodes)
}

// Bytes returns the memory footprint of the CSR arrays.
func (g *Graph) Bytes() int64 {
	return int64(len(g.RowOffsets))*8 + int64(len(g.ColumnIndices))*4
}
