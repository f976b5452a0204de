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
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/frontier/pkg/ux"
	"github.com/AleutianAI/frontier/services/enact/primitives"
)

// benchResult is the JSON form of a benchmark.
type benchResult struct {
	Algorithm string               `json:"algorithm"`
	Graph     string               `json:"graph"`
	Nodes     int                  `json:"nodes"`
	Edges     int64                `json:"edges"`
	Runs      []primitives.Summary `json:"runs"`
	Min       time.Duration        `json:"min_ns"`
	Mean      time.Duration        `json:"mean_ns"`
	Max       time.Duration        `json:"max_ns"`

	// QueuedPerSecond is total queued ids over total elapsed time.
	QueuedPerSecond float64 `json:"queued_per_second"`
}

func summarizeBench(b *benchResult) {
	var total time.Duration
	var queued int64
	for i, s := range b.Runs {
		total += s.Elapsed
		queued += s.Statistics.TotalQueued
		if i == 0 || s.Elapsed < b.Min {
			b.Min = s.Elapsed
		}
		b.Max = max(b.Max, s.Elapsed)
	}
	if n := len(b.Runs); n > 0 {
		b.Mean = total / time.Duration(n)
	}
	if total > 0 {
		b.QueuedPerSecond = float64(queued) / total.Seconds()
	}
}

func benchReport(b *benchResult) ux.Report {
	fields := []ux.Field{
		{Label: "graph", Value: fmt.Sprintf("%s (%d nodes, %d edges)", b.Graph, b.Nodes, b.Edges)},
		{Label: "runs", Value: strconv.Itoa(len(b.Runs))},
		{Label: "min", Value: b.Min.String()},
		{Label: "mean", Value: b.Mean.String()},
		{Label: "max", Value: b.Max.String()},
		{Label: "queued/s", Value: strconv.FormatFloat(b.QueuedPerSecond, 'f', 0, 64)},
	}
	t := ux.Table{Headers: []string{"run", "elapsed", "depth", "queued"}}
	for _, s := range b.Runs {
		t.Rows = append(t.Rows, []string{
			s.RunID,
			s.Elapsed.String(),
			strconv.Itoa(s.Statistics.SearchDepth),
			strconv.FormatInt(s.Statistics.TotalQueued, 10),
		})
	}
	return ux.Report{Title: b.Algorithm + " benchmark", Fields: fields, Tables: []ux.Table{t}}
}

func newBenchCmd(a *app) *cobra.Command {
	var f runFlags
	var repeat int
	cmd := &cobra.Command{
		Use:   "bench <algorithm> <graph>",
		Short: "Run one primitive repeatedly and report timing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repeat < 1 {
				return fmt.Errorf("--repeat must be at least 1, got %d", repeat)
			}
			s, err := a.prepare(cmd, args[0], args[1], f)
			if err != nil {
				return err
			}
			defer s.close(a.log())

			ctx, cancel := a.runContextFor(cmd.Context(), s.cfg)
			defer cancel()

			res := &benchResult{Algorithm: args[0], Graph: s.ref.Name, Nodes: s.graph.Nodes, Edges: s.graph.Edges}
			spin := ux.NewSpinner(a.errOut, a.printer.Mode(), "benchmarking")
			spin.Start()
			for i := range repeat {
				spin.Update(fmt.Sprintf("benchmarking %s [%d/%d]", args[0], i+1, repeat))
				out, err := enact(ctx, args[0], s.graph, s.opts, f)
				if err != nil {
					spin.Stop()
					return fmt.Errorf("run %d: %w", i+1, err)
				}
				res.Runs = append(res.Runs, out.Summary)
			}
			spin.Stop()
			summarizeBench(res)
			return a.printer.Report(benchReport(res), res)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 3, "number of runs")
	return cmd
}
