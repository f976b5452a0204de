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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frontier/services/enact/store"
)

// cli runs the command line against an isolated home and store.
type cli struct {
	t     *testing.T
	store string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ENACT_OUTPUT", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	return &cli{t: t, store: filepath.Join(t.TempDir(), "store")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--store", c.store, "--log-level", "warn"}, args...)
	err := execute(context.Background(), &out, &errOut, full)
	return out.String(), err
}

func (c *cli) json(v any, args ...string) {
	c.t.Helper()
	out, err := c.run(append(args, "-o", "json")...)
	require.NoError(c.t, err, out)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		desc  string
		nodes int
		edges int64
	}{
		{"triangles", 6, 12},
		{"grid:2x3", 6, 14},
		{"path:4", 4, 6},
		{"star:5", 5, 8},
		{"complete:4", 4, 12},
	}
	for _, tt := range tests {
		g, err := generate(tt.desc)
		require.NoError(t, err, tt.desc)
		assert.Equal(t, tt.nodes, g.Nodes, tt.desc)
		assert.Equal(t, tt.edges, g.Edges, tt.desc)
	}
	for _, bad := range []string{"grid:3", "grid:ax2", "path:0", "path", "torus:3"} {
		_, err := generate(bad)
		assert.Error(t, err, bad)
	}
}

// TestCLI_ImportRunHistory walks a graph through import, run, history and
// deletion.
func TestCLI_ImportRunHistory(t *testing.T) {
	c := newCLI(t)

	var info store.GraphInfo
	c.json(&info, "import", "lattice", "--generate", "grid:3x3")
	assert.Equal(t, 9, info.Nodes)
	assert.Equal(t, "gen:grid:3x3", info.Source)

	var graphs []store.GraphInfo
	c.json(&graphs, "graphs", "list")
	require.Len(t, graphs, 1)
	assert.Equal(t, "lattice", graphs[0].Name)

	var res struct {
		RunID  string  `json:"run_id"`
		Labels []int32 `json:"labels"`
	}
	c.json(&res, "run", "bfs", "lattice", "--source", "4", "--devices", "2", "--overflow", "grow")
	assert.Equal(t, []int32{2, 1, 2, 1, 0, 1, 2, 1, 2}, res.Labels)
	require.NotEmpty(t, res.RunID)

	var runs []store.RunRecord
	c.json(&runs, "graphs", "runs", "lattice")
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, "bfs", runs[0].Algorithm)
	assert.Equal(t, 2, runs[0].Devices)
	assert.Empty(t, runs[0].Error)

	// A failed run is recorded with its error.
	_, err := c.run("run", "bfs", "lattice", "--source", "99", "-o", "json")
	require.Error(t, err)
	c.json(&runs, "graphs", "runs", "lattice")
	require.Len(t, runs, 2)
	assert.NotEmpty(t, runs[1].Error)

	_, err = c.run("graphs", "rm", "lattice", "-o", "plain")
	require.NoError(t, err)
	c.json(&graphs, "graphs", "list")
	assert.Empty(t, graphs)

	_, err = c.run("run", "bfs", "lattice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLI_ImportEdgeList(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "edges.txt")
	require.NoError(t, os.WriteFile(path, []byte("# two triangles\n0 1\n1 2\n2 0\n3 4\n4 5\n5 3\n"), 0600))

	out, err := c.run("import", "tri", path, "--undirected", "-o", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "imported tri: 6 nodes, 12 edges")

	_, err = c.run("import", "tri", path, "--generate", "path:3")
	assert.Error(t, err)
	_, err = c.run("import", "tri")
	assert.Error(t, err)
}

// TestCLI_RunFromFile verifies a file path is read directly without
// touching the store.
func TestCLI_RunFromFile(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "edges.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1\n1 2\n3 4\n"), 0600))

	var res struct {
		Components []int32 `json:"components"`
		Count      int     `json:"count"`
	}
	c.json(&res, "run", "cc", path, "--undirected")
	assert.Equal(t, []int32{0, 0, 0, 3, 3}, res.Components)
	assert.Equal(t, 2, res.Count)
	_, err := os.Stat(c.store)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCLI_RunPlainReports(t *testing.T) {
	c := newCLI(t)
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"run", "topk", "gen:star:6", "--k", "2"}, []string{"degree centrality", "highest degree", "selected"}},
		{[]string{"run", "pagerank", "gen:complete:5"}, []string{"pagerank", "converged", "yes"}},
		{[]string{"run", "bfs", "gen:path:5", "--mark-pred", "--signal", "poll"}, []string{"breadth-first search", "predecessor", "eccentricity"}},
		{[]string{"run", "cc", "gen:triangles", "--strategy", "lb", "--instrument"}, []string{"connected components", "largest", "total queued"}},
	}
	for _, tt := range tests {
		out, err := c.run(append(tt.args, "-o", "plain")...)
		require.NoError(t, err, tt.args)
		assert.NotContains(t, out, "\x1b[")
		for _, w := range tt.want {
			assert.Contains(t, out, w, tt.args)
		}
	}
}

func TestCLI_Bench(t *testing.T) {
	c := newCLI(t)
	var res benchResult
	c.json(&res, "bench", "pagerank", "gen:complete:5", "--repeat", "2")
	assert.Equal(t, "pagerank", res.Algorithm)
	require.Len(t, res.Runs, 2)
	assert.NotEqual(t, res.Runs[0].RunID, res.Runs[1].RunID)
	assert.LessOrEqual(t, res.Min, res.Mean)
	assert.LessOrEqual(t, res.Mean, res.Max)

	_, err := c.run("bench", "bfs", "gen:path:3", "--repeat", "0")
	assert.Error(t, err)
}

func TestCLI_RunErrors(t *testing.T) {
	c := newCLI(t)
	for _, args := range [][]string{
		{"run", "sssp", "gen:path:3"},
		{"run", "bfs", "gen:torus:3"},
		{"run", "bfs", "gen:path:3", "--overflow", "drop"},
		{"run", "topk", "gen:path:3", "--devices", "2"},
		{"run", "bfs"},
		{"--output", "xml", "devices"},
	} {
		_, err := c.run(args...)
		assert.Error(t, err, args)
	}
}

// TestCLI_ConfigFile verifies a config file selects devices and that
// unsupported capabilities are reported.
func TestCLI_ConfigFile(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "enact.yaml")
	_, err := c.run("config", "init", path, "-o", "plain")
	require.NoError(t, err)
	_, err = c.run("config", "init", path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("devices:\n  count: 2\n  capability: \"2.0\"\n"), 0600))
	var infos []deviceInfo
	c.json(&infos, "--config", path, "devices")
	require.Len(t, infos, 2)
	assert.Equal(t, 1, infos[1].Ordinal)
	assert.False(t, infos[0].Supported)

	out, err := c.run("--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "count: 2")

	_, err = c.run("--config", path, "run", "bfs", "gen:path:3")
	assert.Error(t, err)

	out, err = c.run("devices", "--policies", "-o", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "3.0")
	assert.Contains(t, out, "128x8")
}
