// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package csr

// Small fixture graphs used by tests and the bench command.

// mustUndirected builds an undirected graph from edges that are known valid.
func mustUndirected(nodes int, edges []Edge) *Graph {
	g, err := FromEdges(nodes, edges, BuildOptions{Undirected: true})
	if err != nil {
		panic(err)
	}
	return g
}

// TwoTriangles returns vertices {0,1,2} and {3,4,5} as two disjoint triangles.
func TwoTriangles() *Graph {
	return mustUndirected(6, []Edge{
		{0, 1}, {1, 2}, {2, 0},
		{3, 4}, {4, 5}, {5, 3},
	})
}

// Path returns the undirected path 0-1-...-(n-1).
func Path(n int) *Graph {
	edges := make([]Edge, 0, max(n-1, 0))
	for i := 1; i < n; i++ {
		edges = append(edges, Edge{int32(i - 1), int32(i)})
	}
	return mustUndirected(n, edges)
}

// Star returns an undirected star with center 0 and n-1 leaves.
func Star(n int) *Graph {
	edges := make([]Edge, 0, max(n-1, 0))
	for i := 1; i < n; i++ {
		edges = append(edges, Edge{0, int32(i)})
	}
	return mustUndirected(n, edges)
}

// Grid returns an undirected rows x cols 4-neighbor lattice.
func Grid(rows, cols int) *Graph {
	var edges []Edge
	id := func(r, c int) int32 { return int32(r*cols + c) }
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c+1 < cols {
				edges = append(edges, Edge{id(r, c), id(r, c+1)})
			}
			if r+1 < rows {
				edges = append(edges, Edge{id(r, c), id(r+1, c)})
			}
		}
	}
	return mustUndirected(rows*cols, edges)
}

// Complete returns the undirected complete graph on n vertices.
func Complete(n int) *Graph {
	var edges []Edge
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			edges = append(edges, Edge{int32(i), int32(j)})
		}
	}
	return mustUndirected(n, edges)
}
