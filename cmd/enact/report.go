// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/AleutianAI/frontier/pkg/ux"
	"github.com/AleutianAI/frontier/services/enact/primitives/bfs"
	"github.com/AleutianAI/frontier/services/enact/primitives/cc"
	"github.com/AleutianAI/frontier/services/enact/primitives/pagerank"
	"github.com/AleutianAI/frontier/services/enact/primitives/topk"
)

func itoa32(v int32) string { return strconv.FormatInt(int64(v), 10) }

func bfsReport(r *bfs.Result, show int) ux.Report {
	reached, depth := 0, int32(0)
	for _, l := range r.Labels {
		if l != bfs.Unreached {
			reached++
			depth = max(depth, l)
		}
	}
	fields := append(summaryFields(r.Summary),
		ux.Field{Label: "reached", Value: fmt.Sprintf("%d of %d", reached, len(r.Labels))},
		ux.Field{Label: "eccentricity", Value: itoa32(depth)},
	)

	// Farthest vertices first.
	ids := make([]int32, 0, reached)
	for v, l := range r.Labels {
		if l != bfs.Unreached {
			ids = append(ids, int32(v))
		}
	}
	slices.SortStableFunc(ids, func(a, b int32) int { return cmp.Compare(r.Labels[b], r.Labels[a]) })
	ids = ids[:min(show, len(ids))]

	t := ux.Table{Title: "farthest vertices", Headers: []string{"vertex", "depth"}}
	if r.Predecessors != nil {
		t.Headers = append(t.Headers, "predecessor")
	}
	for _, v := range ids {
		row := []string{itoa32(v), itoa32(r.Labels[v])}
		if r.Predecessors != nil {
			row = append(row, itoa32(r.Predecessors[v]))
		}
		t.Rows = append(t.Rows, row)
	}
	return ux.Report{Title: "breadth-first search", Fields: fields, Tables: []ux.Table{t}}
}

func ccReport(r *cc.Result, show int) ux.Report {
	id, size := r.Largest()
	fields := append(summaryFields(r.Summary),
		ux.Field{Label: "components", Value: strconv.Itoa(r.Count)},
		ux.Field{Label: "largest", Value: fmt.Sprintf("%d (root %d)", size, id)},
	)

	sizes := r.Sizes()
	roots := make([]int32, 0, len(sizes))
	for root := range sizes {
		roots = append(roots, root)
	}
	slices.SortFunc(roots, func(a, b int32) int {
		if c := cmp.Compare(sizes[b], sizes[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	t := ux.Table{Title: "largest components", Headers: []string{"root", "vertices"}}
	for _, root := range roots[:min(show, len(roots))] {
		t.Rows = append(t.Rows, []string{itoa32(root), strconv.Itoa(sizes[root])})
	}
	return ux.Report{Title: "connected components", Fields: fields, Tables: []ux.Table{t}}
}

func topkReport(r *topk.Result, show int) ux.Report {
	fields := append(summaryFields(r.Summary),
		ux.Field{Label: "selected", Value: strconv.Itoa(len(r.Vertices))},
		ux.Field{Label: "adjacency", Value: strconv.Itoa(len(r.ColumnIndices)) + " edges"},
	)
	t := ux.Table{Title: "highest degree", Headers: []string{"rank", "vertex", "degree"}}
	for i := range min(show, len(r.Vertices)) {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(i + 1),
			itoa32(r.Vertices[i]),
			strconv.FormatInt(r.Degrees[i], 10),
		})
	}
	return ux.Report{Title: "degree centrality", Fields: fields, Tables: []ux.Table{t}}
}

func pagerankReport(r *pagerank.Result, show int) ux.Report {
	conv := "yes"
	if !r.Converged {
		conv = "no"
	}
	fields := append(summaryFields(r.Summary), ux.Field{Label: "converged", Value: conv})
	t := ux.Table{Title: "top ranks", Headers: []string{"rank", "vertex", "score"}}
	for i, v := range r.Top(show) {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(i + 1),
			itoa32(v),
			strconv.FormatFloat(r.Ranks[v], 'g', 6, 64),
		})
	}
	return ux.Report{Title: "pagerank", Fields: fields, Tables: []ux.Table{t}}
}
