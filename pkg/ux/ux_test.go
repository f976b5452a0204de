// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"", "", false},
		{"auto", "", false},
		{"RICH", ModeRich, false},
		{"text", ModePlain, false},
		{"machine", ModeJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDetectMode(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	t.Setenv("ENACT_OUTPUT", "")
	assert.False(t, IsTerminal(f))
	assert.False(t, IsTerminal(nil))
	assert.Equal(t, ModeJSON, DetectMode(f))

	t.Setenv("ENACT_OUTPUT", "plain")
	assert.Equal(t, ModePlain, DetectMode(f))
}

func TestPrinter_StatusLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	p.Success("stored %s", "grid")
	p.Warning("slow")
	p.Error("failed")
	assert.Equal(t, "OK: stored grid\nWARN: slow\nERROR: failed\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, ModeJSON).Success("ignored")
	assert.Empty(t, buf.String())
}

func TestPrinter_ReportPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	rep := Report{
		Title: "bfs",
		Fields: []Field{
			{Label: "run", Value: "abc123"},
			{Label: "search depth", Value: "4"},
		},
		Tables: []Table{{
			Title:   "devices",
			Headers: []string{"device", "duty"},
			Rows:    [][]string{{"0", "0.91"}, {"1", "0.87"}},
		}},
	}
	require.NoError(t, p.Report(rep, nil))

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	for _, want := range []string{"bfs", "run", "abc123", "search depth", "devices", "duty", "0.87"} {
		assert.Contains(t, out, want)
	}
	// Labels are padded to a common width.
	assert.Contains(t, out, "run           abc123")
}

func TestPrinter_ReportJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeJSON)
	raw := map[string]any{"algorithm": "cc", "count": 2}
	require.NoError(t, p.Report(Report{Title: "ignored"}, raw))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "cc", got["algorithm"])
	assert.Equal(t, float64(2), got["count"])
	assert.NotContains(t, buf.String(), "ignored")
}

func TestPrinter_JSONError(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, ModeJSON)
	assert.Error(t, p.JSON(func() {}))
}

func TestPrinter_Bar(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, ModePlain)
	assert.Equal(t, "█████░░░░░  50%", p.Bar(0.5, 10))
	assert.Equal(t, "░░░░   0%", p.Bar(-1, 4))
	assert.Equal(t, "████ 100%", p.Bar(2, 4))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_Rich(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, ModeRich, "enacting")
	s.interval = time.Millisecond
	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "enacting") }, time.Second, time.Millisecond)
	s.Update("iteration 3")
	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "iteration 3") }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
	assert.True(t, strings.HasSuffix(buf.String(), "\r\x1b[K"))
}

func TestWithSpinner_SilentOutsideRich(t *testing.T) {
	var buf syncBuffer
	called := false
	err := WithSpinner(&buf, ModeJSON, "working", func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, buf.String())
}
