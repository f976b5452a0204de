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
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/frontier/pkg/ux"
	"github.com/AleutianAI/frontier/services/enact/config"
	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/primitives/bfs"
	"github.com/AleutianAI/frontier/services/enact/primitives/cc"
	"github.com/AleutianAI/frontier/services/enact/primitives/pagerank"
	"github.com/AleutianAI/frontier/services/enact/primitives/topk"
	"github.com/AleutianAI/frontier/services/enact/store"
	"github.com/AleutianAI/frontier/services/enact/telemetry"
)

var algorithms = []string{bfs.Name, cc.Name, topk.Name, pagerank.Name}

// runFlags are the per-run overrides and algorithm parameters.
type runFlags struct {
	devices       int
	partition     string
	seed          uint64
	overflow      string
	signal        string
	strategy      string
	maxIterations int
	instrument    bool
	dedup         bool
	timeout       time.Duration
	undirected    bool
	noRecord      bool

	source    int32
	markPreds bool
	k         int
	damping   float64
	epsilon   float64
	show      int
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&f.devices, "devices", "d", 0, "number of simulated devices")
	fl.StringVar(&f.partition, "partition", "", "partition method: random, biasrandom, cluster")
	fl.Uint64Var(&f.seed, "seed", 0, "partition seed")
	fl.StringVar(&f.overflow, "overflow", "", "queue overflow policy: fail, grow")
	fl.StringVar(&f.signal, "signal", "", "completion signal: poll, block")
	fl.StringVar(&f.strategy, "strategy", "", "advance strategy: thread, lb, auto")
	fl.IntVar(&f.maxIterations, "max-iterations", 0, "stop after this many iterations")
	fl.BoolVar(&f.instrument, "instrument", false, "record per-CTA duty counters")
	fl.BoolVar(&f.dedup, "dedup", false, "deduplicate filter output")
	fl.DurationVar(&f.timeout, "timeout", 0, "abandon the run after this long")
	fl.BoolVar(&f.undirected, "undirected", false, "treat edge list files as undirected")
	fl.BoolVar(&f.noRecord, "no-record", false, "do not record the run in the store")

	fl.Int32Var(&f.source, "source", 0, "bfs source vertex")
	fl.BoolVar(&f.markPreds, "mark-pred", false, "bfs: record predecessors")
	fl.IntVar(&f.k, "k", 10, "topk: vertices to extract")
	fl.Float64Var(&f.damping, "damping", 0, "pagerank damping (default 0.85)")
	fl.Float64Var(&f.epsilon, "epsilon", 0, "pagerank convergence threshold (default 1e-6)")
	fl.IntVar(&f.show, "show", 10, "rows to show in result tables")
}

// apply overlays changed flags onto cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	changed := cmd.Flags().Changed
	if changed("devices") {
		cfg.Devices.Count = f.devices
		cfg.Devices.Indices = nil
	}
	if changed("partition") {
		cfg.Partition.Method = f.partition
	}
	if changed("seed") {
		cfg.Partition.Seed = f.seed
	}
	if changed("overflow") {
		cfg.Queue.Overflow = f.overflow
	}
	if changed("signal") {
		cfg.Enactor.Signal = f.signal
	}
	if changed("strategy") {
		cfg.Enactor.Strategy = f.strategy
	}
	if changed("max-iterations") {
		cfg.Enactor.MaxIterations = f.maxIterations
	}
	if changed("instrument") {
		cfg.Enactor.Instrument = f.instrument
	}
	if changed("dedup") {
		cfg.Enactor.Dedup = f.dedup
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid run options: %w", err)
	}
	return cfg, nil
}

// outcome is one finished algorithm run.
type outcome struct {
	Summary primitives.Summary
	Result  any
	Report  ux.Report
}

// enact runs algo on g with opts.
func enact(ctx context.Context, algo string, g *csr.Graph, opts primitives.Options, f runFlags) (*outcome, error) {
	switch algo {
	case bfs.Name:
		res, err := bfs.Run(ctx, g, bfs.Options{Options: opts, Source: f.source, MarkPredecessors: f.markPreds})
		if err != nil {
			return nil, err
		}
		return &outcome{Summary: res.Summary, Result: res, Report: bfsReport(res, f.show)}, nil
	case cc.Name:
		res, err := cc.Run(ctx, g, cc.Options{Options: opts})
		if err != nil {
			return nil, err
		}
		return &outcome{Summary: res.Summary, Result: res, Report: ccReport(res, f.show)}, nil
	case topk.Name:
		res, err := topk.Run(ctx, g, topk.Options{Options: opts, K: f.k})
		if err != nil {
			return nil, err
		}
		return &outcome{Summary: res.Summary, Result: res, Report: topkReport(res, f.show)}, nil
	case pagerank.Name:
		res, err := pagerank.Run(ctx, g, pagerank.Options{Options: opts, Damping: f.damping, Epsilon: f.epsilon})
		if err != nil {
			return nil, err
		}
		return &outcome{Summary: res.Summary, Result: res, Report: pagerankReport(res, f.show)}, nil
	}
	return nil, fmt.Errorf("unknown algorithm %q (want one of %v)", algo, algorithms)
}

func checkAlgorithm(algo string) error {
	if !slices.Contains(algorithms, algo) {
		return fmt.Errorf("unknown algorithm %q (want one of %v)", algo, algorithms)
	}
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <algorithm> <graph>",
		Short: "Run one primitive on a stored graph, an edge list file or a generator",
		Long: `Run one primitive. <algorithm> is one of bfs, cc, topk, pagerank.
<graph> is "gen:<kind>:<size>" (grid:4x5, path:10, star:8, complete:6,
triangles), a path to an edge list file, or the name of an imported graph.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOnce(cmd, args[0], args[1], f)
		},
	}
	f.register(cmd)
	return cmd
}

// session is the prepared environment of a run or benchmark.
type session struct {
	cfg     config.Config
	graph   *csr.Graph
	ref     graphRef
	opts    primitives.Options
	release func()
	flush   func(context.Context) error
}

func (s *session) close(log *slog.Logger) {
	s.release()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.flush(ctx); err != nil {
		log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
}

func (a *app) prepare(cmd *cobra.Command, algo, ref string, f runFlags) (*session, error) {
	if err := checkAlgorithm(algo); err != nil {
		return nil, err
	}
	cfg, err := f.apply(cmd, a.cfg)
	if err != nil {
		return nil, err
	}
	g, gref, err := a.loadGraph(cmd.Context(), ref, csr.BuildOptions{Undirected: f.undirected})
	if err != nil {
		return nil, err
	}
	flush, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	devs, release, err := cfg.OpenDevices(a.log())
	if err != nil {
		_ = flush(context.Background())
		return nil, err
	}
	return &session{
		cfg:     cfg,
		graph:   g,
		ref:     gref,
		opts:    cfg.PrimitiveOptions(devs, a.log()),
		release: release,
		flush:   flush,
	}, nil
}

func (a *app) runOnce(cmd *cobra.Command, algo, ref string, f runFlags) error {
	s, err := a.prepare(cmd, algo, ref, f)
	if err != nil {
		return err
	}
	defer s.close(a.log())

	ctx, cancel := a.runContextFor(cmd.Context(), s.cfg)
	defer cancel()

	started := time.Now().UTC()
	var out *outcome
	err = ux.WithSpinner(a.errOut, a.printer.Mode(), fmt.Sprintf("enacting %s on %s", algo, s.ref.Name), func() error {
		var rerr error
		out, rerr = enact(ctx, algo, s.graph, s.opts, f)
		return rerr
	})
	if s.ref.Stored && !f.noRecord {
		a.record(cmd.Context(), s.ref, algo, len(s.opts.Devices), started, out, err)
	}
	if err != nil {
		return err
	}
	return a.printer.Report(out.Report, out.Result)
}

func (a *app) runContextFor(ctx context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// record stores a run against its graph. Failures are logged, not
// returned, so a full store never hides a run's result.
func (a *app) record(ctx context.Context, ref graphRef, algo string, devices int, started time.Time, out *outcome, runErr error) {
	rec := store.RunRecord{
		Graph:     ref.Name,
		Algorithm: algo,
		Devices:   devices,
		StartedAt: started,
		Elapsed:   time.Since(started),
	}
	if out != nil {
		rec.RunID = out.Summary.RunID
		rec.Elapsed = out.Summary.Elapsed
		rec.Statistics = out.Summary.Statistics
		rec.Truncated = out.Summary.Truncated
	}
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()[:12]
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	s, err := a.openStore()
	if err == nil {
		err = s.PutRun(ctx, rec)
	}
	if err != nil {
		a.log().Warn("run not recorded", slog.String("run_id", rec.RunID), slog.String("error", err.Error()))
	}
}

func summaryFields(s primitives.Summary) []ux.Field {
	fields := []ux.Field{
		{Label: "run", Value: s.RunID},
		{Label: "devices", Value: strconv.Itoa(s.Devices)},
		{Label: "search depth", Value: strconv.Itoa(s.Statistics.SearchDepth)},
		{Label: "total queued", Value: strconv.FormatInt(s.Statistics.TotalQueued, 10)},
		{Label: "elapsed", Value: s.Elapsed.Round(time.Microsecond).String()},
	}
	if s.Statistics.AvgDuty > 0 {
		fields = append(fields, ux.Field{Label: "avg duty", Value: strconv.FormatFloat(s.Statistics.AvgDuty, 'f', 3, 64)})
	}
	if s.Truncated {
		fields = append(fields, ux.Field{Label: "truncated", Value: "yes"})
	}
	return fields
}
