// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operator

import (
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// View is the device-resident adjacency an operator walks. Columns is read
// through the texture bound at setup.
type View struct {
	Nodes      int
	RowOffsets []int64
	Columns    *device.Texture
}

// Frame carries everything an operator launch needs from the device loop.
type Frame struct {
	Stream   *device.Stream
	Policy   policy.Policy
	Strategy policy.Strategy
	Graph    View
	Queue    *frontier.Queue
	Progress *frontier.WorkProgress
	Scratch  *Scratch
	Overflow frontier.OverflowPolicy

	// GridLimit caps CTAs per launch when positive.
	GridLimit int

	// Counters receives per-CTA duty timing when non-nil.
	Counters *device.Counters
}

func (f *Frame) validate(op string) error {
	switch {
	case f.Stream == nil:
		return status.Invalid(op, "frame has no stream")
	case f.Queue == nil || f.Progress == nil:
		return status.Invalid(op, "frame has no frontier")
	case f.Scratch == nil:
		return status.Invalid(op, "frame has no scratch")
	case !f.Graph.Columns.Bound():
		return status.Invalid(op, "adjacency texture is not bound")
	}
	return nil
}

func (f *Frame) launch(name string, k policy.Kernel, n int) device.LaunchConfig {
	return device.LaunchConfig{
		Name:      name,
		GridSize:  k.Grid(f.Stream.Device(), n, f.GridLimit),
		BlockSize: k.BlockSize,
		Counters:  f.Counters,
	}
}

// Scratch holds per-device operator workspace: frontier degrees and their
// scanned offsets for load-balanced Advance, the scan workspace, and an
// optional dedup bitmap for Filter.
type Scratch struct {
	dev       *device.Device
	pol       policy.Policy
	degrees   *device.Array[int64]
	offsets   *device.Array[int64]
	workspace *device.Array[int64]
	bitmap    *Bitmap
}

// NewScratch allocates workspace for frontiers of up to capacity ids. When
// nodes is positive a dedup bitmap over that many vertices is allocated.
func NewScratch(d *device.Device, p policy.Policy, capacity int64, nodes int) (*Scratch, error) {
	s := &Scratch{dev: d, pol: p}
	var err error
	if s.degrees, err = device.Alloc[int64](d, "lb degrees", int(capacity)); err != nil {
		return nil, err
	}
	if s.offsets, err = device.Alloc[int64](d, "lb offsets", int(capacity)+1); err != nil {
		s.Free()
		return nil, err
	}
	if s.workspace, err = device.Alloc[int64](d, "scan workspace", ScanWorkspaceSize(d, p.Scan, int(capacity), 0)); err != nil {
		s.Free()
		return nil, err
	}
	if nodes > 0 {
		if s.bitmap, err = NewBitmap(d, "dedup bitmap", nodes); err != nil {
			s.Free()
			return nil, err
		}
	}
	return s, nil
}

// Ensure grows the degree, offset and workspace arrays to cover n items.
func (s *Scratch) Ensure(n int) error {
	if n > s.degrees.Len() {
		if err := s.degrees.Resize(n); err != nil {
			return err
		}
		if err := s.offsets.Resize(n + 1); err != nil {
			return err
		}
	}
	if need := ScanWorkspaceSize(s.dev, s.pol.Scan, n, 0); need > s.workspace.Len() {
		return s.workspace.Resize(need)
	}
	return nil
}

// Bitmap returns the dedup bitmap, or nil.
func (s *Scratch) Bitmap() *Bitmap { return s.bitmap }

// Free releases every array. Free is idempotent.
func (s *Scratch) Free() {
	if s == nil {
		return
	}
	s.degrees.Free()
	s.offsets.Free()
	s.workspace.Free()
	s.bitmap.Free()
}
