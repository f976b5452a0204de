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

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/frontier/services/enact/status"
)

// Edge is a directed (Src, Dst) pair.
type Edge struct {
	Src int32
	Dst int32
}

// BuildOptions controls FromEdges.
type BuildOptions struct {
	// Undirected stores every edge in both directions.
	Undirected bool

	// KeepSelfLoops retains (v, v) edges. They are dropped by default.
	KeepSelfLoops bool

	// KeepDuplicates retains parallel edges. They are removed by default.
	KeepDuplicates bool
}

// FromEdges builds a Graph from an edge list.
//
// Description:
//
//	Counts out-degrees, prefix sums them into row offsets, and scatters
//	destinations. Adjacency lists are sorted ascending, which makes
//	downstream output deterministic for order-sensitive consumers.
//
// Inputs:
//
//	nodes - Vertex count. Every endpoint must be in [0, nodes).
//	edges - The edge list. Not modified.
//	opts - Build options.
//
// Outputs:
//
//	*Graph - The validated graph.
//	error - status.ErrInvalidInput if an endpoint is out of range.
func FromEdges(nodes int, edges []Edge, opts BuildOptions) (*Graph, error) {
	if nodes < 0 || int64(nodes) > maxVertices {
		return nil, status.Invalid("csr build", "node count %d out of range", nodes)
	}
	for i, e := range edges {
		if e.Src < 0 || int(e.Src) >= nodes || e.Dst < 0 || int(e.Dst) >= nodes {
			return nil, status.Invalid("csr build", "edge %d (%d,%d) out of range for %d nodes", i, e.Src, e.Dst, nodes)
		}
	}

	adj := make([][]int32, nodes)
	add := func(s, d int32) {
		if s == d && !opts.KeepSelfLoops {
			return
		}
		adj[s] = append(adj[s], d)
	}
	for _, e := range edges {
		add(e.Src, e.Dst)
		if opts.Undirected {
			add(e.Dst, e.Src)
		}
	}

	rows := make([]int64, nodes+1)
	for v := range adj {
		slices.Sort(adj[v])
		if !opts.KeepDuplicates {
			adj[v] = slices.Compact(adj[v])
		}
		rows[v+1] = rows[v] + int64(len(adj[v]))
	}
	cols := make([]int32, 0, rows[nodes])
	for _, a := range adj {
		cols = append(cols, a...)
	}
	return New(nodes, rows, cols)
}

// ReadEdgeList parses a whitespace separated "src dst" edge list.
//
// Description:
//
//	Lines beginning with '#' or '%' are comments. Extra columns such as
//	weights are ignored. The vertex count is one more than the largest id
//	seen unless nodes is positive, in which case it is used as given.
//
// Inputs:
//
//	r - Source of the edge list.
//	nodes - Vertex count, or 0 to infer.
//	opts - Build options forwarded to FromEdges.
//
// Outputs:
//
//	*Graph - The parsed graph.
//	error - status.ErrInvalidInput for malformed lines, or the read error.
func ReadEdgeList(r io.Reader, nodes int, opts BuildOptions) (*Graph, error) {
	var edges []Edge
	maxID := int64(-1)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == '%' {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, status.Invalid("edge list", "line %d: want 2 fields, got %d", line, len(fields))
		}
		src, err := parseID(fields[0])
		if err != nil {
			return nil, status.Invalid("edge list", "line %d: %v", line, err)
		}
		dst, err := parseID(fields[1])
		if err != nil {
			return nil, status.Invalid("edge list", "line %d: %v", line, err)
		}
		maxID = max(maxID, int64(src), int64(dst))
		edges = append(edges, Edge{Src: src, Dst: dst})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read edge list: %w", err)
	}

	if nodes <= 0 {
		nodes = int(maxID + 1)
	}
	return FromEdges(nodes, edges, opts)
}

func parseID(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("vertex id %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("vertex id %d is negative", v)
	}
	return int32(v), nil
}
