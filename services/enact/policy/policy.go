// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy holds the kernel tuning parameters selected by device
// capability.
//
// The table replaces per-architecture compile-time dispatch: Select picks
// the highest entry not newer than the device, and capabilities below the
// oldest entry are unsupported.
package policy

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Strategy selects the Advance mapping.
type Strategy string

const (
	// ThreadMapped assigns one frontier vertex per thread.
	ThreadMapped Strategy = "thread"

	// LoadBalanced partitions the frontier's edge space evenly across
	// blocks.
	LoadBalanced Strategy = "lb"

	// Adaptive picks one of the above once per run from degree skew.
	Adaptive Strategy = "auto"
)

// SkewFactor is the max/mean degree ratio above which Adaptive chooses
// LoadBalanced.
const SkewFactor = 8.0

// Resolve turns Adaptive into a concrete strategy for a graph.
func (s Strategy) Resolve(maxDegree int64, avgDegree float64) Strategy {
	if s != Adaptive {
		return s
	}
	if avgDegree > 0 && float64(maxDegree) > SkewFactor*avgDegree {
		return LoadBalanced
	}
	return ThreadMapped
}

// Validate reports unknown strategies.
func (s Strategy) Validate() error {
	switch s {
	case ThreadMapped, LoadBalanced, Adaptive:
		return nil
	default:
		return status.Invalid("strategy", "unknown advance strategy %q", s)
	}
}

// Kernel holds the launch shape of one operator.
type Kernel struct {
	// BlockSize is threads per CTA.
	BlockSize int

	// Occupancy is resident CTAs per multiprocessor.
	Occupancy int
}

// Grid returns the CTA count for n items on d. A positive limit caps the
// grid below the occupancy bound.
func (k Kernel) Grid(d *device.Device, n, limit int) int {
	bound := d.Properties().SMCount * k.Occupancy
	if limit > 0 {
		bound = min(bound, limit)
	}
	return d.GridSize(n, k.BlockSize, bound)
}

// Policy is the full tuning set for one capability tier.
type Policy struct {
	// Capability is the minimum capability this entry serves.
	Capability device.Capability

	Advance Kernel
	Filter  Kernel
	Scan    Kernel
}

// String summarizes the policy for logs.
func (p Policy) String() string {
	return fmt.Sprintf("sm%d%d advance=%dx%d filter=%dx%d",
		p.Capability.Major, p.Capability.Minor,
		p.Advance.BlockSize, p.Advance.Occupancy,
		p.Filter.BlockSize, p.Filter.Occupancy)
}

// table is sorted by ascending capability.
var table = []Policy{
	{
		Capability: device.Capability{Major: 3, Minor: 0},
		Advance:    Kernel{BlockSize: 128, Occupancy: 8},
		Filter:     Kernel{BlockSize: 128, Occupancy: 8},
		Scan:       Kernel{BlockSize: 256, Occupancy: 4},
	},
	{
		Capability: device.Capability{Major: 3, Minor: 5},
		Advance:    Kernel{BlockSize: 128, Occupancy: 16},
		Filter:     Kernel{BlockSize: 128, Occupancy: 8},
		Scan:       Kernel{BlockSize: 256, Occupancy: 4},
	},
	{
		Capability: device.Capability{Major: 5, Minor: 0},
		Advance:    Kernel{BlockSize: 256, Occupancy: 8},
		Filter:     Kernel{BlockSize: 128, Occupancy: 16},
		Scan:       Kernel{BlockSize: 512, Occupancy: 4},
	},
	{
		Capability: device.Capability{Major: 6, Minor: 0},
		Advance:    Kernel{BlockSize: 256, Occupancy: 8},
		Filter:     Kernel{BlockSize: 256, Occupancy: 8},
		Scan:       Kernel{BlockSize: 512, Occupancy: 4},
	},
	{
		Capability: device.Capability{Major: 7, Minor: 0},
		Advance:    Kernel{BlockSize: 256, Occupancy: 16},
		Filter:     Kernel{BlockSize: 256, Occupancy: 16},
		Scan:       Kernel{BlockSize: 1024, Occupancy: 2},
	},
}

// Minimum is the oldest supported capability.
var Minimum = table[0].Capability

// Select returns the policy for capability c.
//
// Outputs:
//
//	Policy - The highest table entry whose capability does not exceed c.
//	error - status.ErrUnsupportedDevice when c is below Minimum.
func Select(c device.Capability) (Policy, error) {
	i := sort.Search(len(table), func(i int) bool { return c.Less(table[i].Capability) })
	if i == 0 {
		return Policy{}, status.Unsupported("select policy",
			fmt.Errorf("capability %s is below minimum %s", c, Minimum))
	}
	return table[i-1], nil
}

// Entries returns a copy of the table, for listing supported tiers.
func Entries() []Policy {
	return append([]Policy(nil), table...)
}
