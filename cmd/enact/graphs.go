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
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/frontier/pkg/ux"
	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/store"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		nodes   int
		build   csr.BuildOptions
		genDesc string
	)
	cmd := &cobra.Command{
		Use:   "import <name> [edge-list-file]",
		Short: "Import an edge list or a generated graph into the store",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var (
				g      *csr.Graph
				source string
				err    error
			)
			switch {
			case genDesc != "" && len(args) == 2:
				return fmt.Errorf("give either a file or --generate, not both")
			case genDesc != "":
				g, err = generate(genDesc)
				source = "gen:" + genDesc
			case len(args) == 2:
				g, err = readEdgeFile(args[1], nodes, build)
				source = args[1]
			default:
				return fmt.Errorf("an edge list file or --generate is required")
			}
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			info, err := s.PutGraph(cmd.Context(), name, source, g)
			if err != nil {
				return err
			}
			a.log().Info("graph imported",
				slog.String("name", info.Name),
				slog.Int("nodes", info.Nodes),
				slog.Int64("edges", info.Edges))
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(info)
			}
			a.printer.Success("imported %s: %d nodes, %d edges", info.Name, info.Nodes, info.Edges)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&nodes, "nodes", 0, "vertex count (default: largest id + 1)")
	fl.BoolVar(&build.Undirected, "undirected", false, "store every edge in both directions")
	fl.BoolVar(&build.KeepSelfLoops, "keep-self-loops", false, "keep (v, v) edges")
	fl.BoolVar(&build.KeepDuplicates, "keep-duplicates", false, "keep parallel edges")
	fl.StringVar(&genDesc, "generate", "", "generate a fixture instead: grid:RxC, path:N, star:N, complete:N, triangles")
	return cmd
}

func newGraphsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graphs",
		Short: "Manage imported graphs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List imported graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			infos, err := s.ListGraphs(cmd.Context())
			if err != nil {
				return err
			}
			if infos == nil {
				infos = []store.GraphInfo{}
			}
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(infos)
			}
			t := ux.Table{Headers: []string{"name", "nodes", "edges", "max degree", "imported", "source"}}
			for _, i := range infos {
				t.Rows = append(t.Rows, []string{
					i.Name,
					strconv.Itoa(i.Nodes),
					strconv.FormatInt(i.Edges, 10),
					strconv.FormatInt(i.MaxDegree, 10),
					i.ImportedAt.Local().Format(time.DateTime),
					i.Source,
				})
			}
			fmt.Fprintln(a.out, a.printer.RenderTable(t))
			return nil
		},
	}

	rm := &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"delete"},
		Short:   "Delete graphs and their run history",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := s.DeleteGraph(cmd.Context(), name); err != nil {
					return err
				}
				a.printer.Success("deleted %s", name)
			}
			return nil
		},
	}

	runs := &cobra.Command{
		Use:   "runs <name>",
		Short: "Show recorded runs of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			recs, err := s.ListRuns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []store.RunRecord{}
			}
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(recs)
			}
			t := ux.Table{Headers: []string{"run", "algorithm", "devices", "started", "elapsed", "depth", "status"}}
			for _, r := range recs {
				state := "ok"
				switch {
				case r.Error != "":
					state = "failed: " + firstLine(r.Error)
				case r.Truncated:
					state = "truncated"
				}
				t.Rows = append(t.Rows, []string{
					r.RunID,
					r.Algorithm,
					strconv.Itoa(r.Devices),
					r.StartedAt.Local().Format(time.DateTime),
					r.Elapsed.String(),
					strconv.Itoa(r.Statistics.SearchDepth),
					state,
				})
			}
			fmt.Fprintln(a.out, a.printer.RenderTable(t))
			return nil
		},
	}

	var ratio float64
	compact := &cobra.Command{
		Use:   "compact",
		Short: "Reclaim space from deleted graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			if err := s.Compact(cmd.Context(), ratio); err != nil {
				return err
			}
			a.printer.Success("store compacted")
			return nil
		},
	}
	compact.Flags().Float64Var(&ratio, "discard-ratio", 0.5, "value log discard ratio")

	cmd.AddCommand(list, rm, runs, compact)
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
