// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package operator implements the frontier operators (Advance and Filter)
// and the device primitives they and the algorithms build on: an exclusive
// prefix sum, a key-value sort, fills and atomics.
//
// Operators follow one launch protocol: clear the producer's WorkProgress
// counter, launch, read the emitted length back, check it against queue
// capacity, then swap the frontier buffers.
package operator

// AdvanceFunctor is the per-edge logic an algorithm injects into Advance.
//
// CondEdge decides whether the edge (src, dst) at position edge in the
// column array is traversed; ApplyEdge runs only when it returns true.
// Both run concurrently across edges and must use atomics for shared
// writes.
type AdvanceFunctor interface {
	CondEdge(src, dst int32, edge int64) bool
	ApplyEdge(src, dst int32, edge int64)
}

// FilterFunctor is the per-vertex logic an algorithm injects into Filter.
type FilterFunctor interface {
	CondVertex(v int32) bool
	ApplyVertex(v int32)
}

// EdgeFuncs adapts a pair of functions to AdvanceFunctor. A nil Apply is a
// no-op.
type EdgeFuncs struct {
	Cond  func(src, dst int32, edge int64) bool
	Apply func(src, dst int32, edge int64)
}

// CondEdge calls Cond.
func (f EdgeFuncs) CondEdge(src, dst int32, edge int64) bool { return f.Cond(src, dst, edge) }

// ApplyEdge calls Apply when set.
func (f EdgeFuncs) ApplyEdge(src, dst int32, edge int64) {
	if f.Apply != nil {
		f.Apply(src, dst, edge)
	}
}

// VertexFuncs adapts a pair of functions to FilterFunctor.
type VertexFuncs struct {
	Cond  func(v int32) bool
	Apply func(v int32)
}

// CondVertex calls Cond.
func (f VertexFuncs) CondVertex(v int32) bool { return f.Cond(v) }

// ApplyVertex calls Apply when set.
func (f VertexFuncs) ApplyVertex(v int32) {
	if f.Apply != nil {
		f.Apply(v)
	}
}
