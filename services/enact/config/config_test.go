// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/partition"
	"github.com/AleutianAI/frontier/services/enact/primitives/bfs"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{0}, cfg.Ordinals())
	assert.Equal(t, "random", cfg.Partition.Method)
	assert.Equal(t, "fail", cfg.Queue.Overflow)
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero devices", func(c *Config) { c.Devices.Count = 0 }, "Count"},
		{"duplicate indices", func(c *Config) { c.Devices.Indices = []int{1, 1} }, "Indices"},
		{"negative index", func(c *Config) { c.Devices.Indices = []int{-1} }, "Indices[0]"},
		{"bad capability", func(c *Config) { c.Devices.Capability = "seven" }, "Capability"},
		{"bad method", func(c *Config) { c.Partition.Method = "metis" }, "Method"},
		{"factor above one", func(c *Config) { c.Partition.Factor = 1.5 }, "Factor"},
		{"zero sizing", func(c *Config) { c.Queue.SizingFactor = 0 }, "SizingFactor"},
		{"bad overflow", func(c *Config) { c.Queue.Overflow = "drop" }, "Overflow"},
		{"bad signal", func(c *Config) { c.Enactor.Signal = "spin" }, "Signal"},
		{"bad strategy", func(c *Config) { c.Enactor.Strategy = "warp" }, "Strategy"},
		{"negative iterations", func(c *Config) { c.Enactor.MaxIterations = -1 }, "MaxIterations"},
		{"no store path", func(c *Config) { c.Store.Path = "" }, "Path"},
		{"bad exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }, "TraceExporter"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "Level"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "Timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_InMemoryStoreNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{InMemory: true}
	assert.NoError(t, cfg.Validate())
}

// TestLoad_OverlaysDefaults verifies a partial file keeps unspecified
// defaults.
func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enact.yaml")
	doc := `
devices:
  indices: [2, 5]
  capability: "6.1"
partition:
  method: cluster
queue:
  overflow: grow
enactor:
  signal: poll
timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, cfg.Ordinals())
	assert.Equal(t, "cluster", cfg.Partition.Method)
	assert.Equal(t, "grow", cfg.Queue.Overflow)
	assert.Equal(t, "poll", cfg.Enactor.Signal)
	assert.Equal(t, "auto", cfg.Enactor.Strategy)
	assert.Equal(t, 1.0, cfg.Queue.SizingFactor)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("devices: [1, 2"), 0600))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("queue:\n  overflow: drop\n"), 0600))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "Overflow")
}

func TestConfig_WriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "enact.yaml")
	cfg := DefaultConfig()
	cfg.Devices.Count = 3
	cfg.Enactor.MaxIterations = 7
	cfg.Timeout = 2 * time.Minute
	require.NoError(t, cfg.Write(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Devices.Count)
	assert.Equal(t, 7, got.Enactor.MaxIterations)
	assert.Equal(t, 2*time.Minute, got.Timeout)
}

// TestConfig_OpenDevices verifies devices and options flow into a run.
func TestConfig_OpenDevices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices.Indices = []int{3, 4}
	cfg.Devices.Capability = "6.1"
	cfg.Devices.MemoryBytes = 64 << 20
	cfg.Partition.Method = string(partition.Cluster)
	cfg.Queue.Overflow = string(frontier.OverflowGrow)

	devs, release, err := cfg.OpenDevices(nil)
	require.NoError(t, err)
	defer release()
	require.Len(t, devs, 2)
	assert.Equal(t, 3, devs[0].Ordinal())
	assert.Equal(t, 4, devs[1].Ordinal())
	assert.Equal(t, device.Capability{Major: 6, Minor: 1}, devs[0].Properties().Capability)
	assert.Equal(t, int64(64<<20), devs[1].Properties().MemoryBytes)

	opts := cfg.PrimitiveOptions(devs, nil)
	assert.Equal(t, partition.Cluster, opts.Partition.Method)
	assert.Equal(t, frontier.OverflowGrow, opts.Enactor.Overflow)

	res, err := bfs.Run(context.Background(), csr.Grid(4, 4), bfs.Options{Options: opts, Source: 0})
	require.NoError(t, err)
	assert.Equal(t, int32(6), res.Labels[15])
	assert.Equal(t, 2, res.Devices)
}

func TestConfig_OpenDevicesFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices.Count = 2
	cfg.Devices.MemoryBytes = -1
	_, _, err := cfg.OpenDevices(nil)
	assert.Error(t, err)
}
