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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/frontier/services/enact/csr"
)

// graphRef is where a command's graph came from.
type graphRef struct {
	Name   string
	Stored bool
}

// generate builds a fixture graph from "kind[:size]", for example
// "grid:4x5", "path:10", "star:8", "complete:6" or "triangles".
func generate(desc string) (*csr.Graph, error) {
	kind, size, _ := strings.Cut(desc, ":")
	atoi := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("bad size %q in generator %q", s, desc)
		}
		return n, nil
	}
	switch kind {
	case "triangles":
		return csr.TwoTriangles(), nil
	case "grid":
		rs, cs, ok := strings.Cut(size, "x")
		if !ok {
			return nil, fmt.Errorf("grid generator wants RxC, got %q", size)
		}
		r, err := atoi(rs)
		if err != nil {
			return nil, err
		}
		c, err := atoi(cs)
		if err != nil {
			return nil, err
		}
		return csr.Grid(r, c), nil
	case "path", "star", "complete":
		n, err := atoi(size)
		if err != nil {
			return nil, err
		}
		switch kind {
		case "path":
			return csr.Path(n), nil
		case "star":
			return csr.Star(n), nil
		default:
			return csr.Complete(n), nil
		}
	}
	return nil, fmt.Errorf("unknown generator %q", kind)
}

// readEdgeFile parses an edge list file.
func readEdgeFile(path string, nodes int, opts csr.BuildOptions) (*csr.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edge list: %w", err)
	}
	defer f.Close()
	g, err := csr.ReadEdgeList(f, nodes, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return g, nil
}

// loadGraph resolves ref in order: "gen:" generator, existing file,
// stored graph name.
func (a *app) loadGraph(ctx context.Context, ref string, opts csr.BuildOptions) (*csr.Graph, graphRef, error) {
	if desc, ok := strings.CutPrefix(ref, "gen:"); ok {
		g, err := generate(desc)
		return g, graphRef{Name: ref}, err
	}
	if st, err := os.Stat(ref); err == nil && !st.IsDir() {
		g, err := readEdgeFile(ref, 0, opts)
		return g, graphRef{Name: ref}, err
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, graphRef{}, err
	}
	s, err := a.openStore()
	if err != nil {
		return nil, graphRef{}, err
	}
	g, err := s.GetGraph(ctx, ref)
	if err != nil {
		return nil, graphRef{}, err
	}
	return g, graphRef{Name: ref, Stored: true}, nil
}
