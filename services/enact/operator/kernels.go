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
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/policy"
)

// Bitmap is a device-resident bit per vertex.
type Bitmap struct {
	words *device.Array[uint32]
}

// NewBitmap allocates a cleared bitmap over n vertices.
func NewBitmap(d *device.Device, name string, n int) (*Bitmap, error) {
	w, err := device.Alloc[uint32](d, name, (n+31)/32)
	if err != nil {
		return nil, err
	}
	return &Bitmap{words: w}, nil
}

// TestAndSet sets bit v and reports whether it was already set. Device side.
func (b *Bitmap) TestAndSet(v int32) bool {
	mask := uint32(1) << (uint32(v) & 31)
	old := atomic.OrUint32(&b.words.Data()[v>>5], mask)
	return old&mask != 0
}

// Test reports whether bit v is set. Device side.
func (b *Bitmap) Test(v int32) bool {
	mask := uint32(1) << (uint32(v) & 31)
	return atomic.LoadUint32(&b.words.Data()[v>>5])&mask != 0
}

// Clear enqueues a kernel zeroing the bitmap.
func (b *Bitmap) Clear(s *device.Stream, k policy.Kernel) error {
	return Fill(s, k, b.words.Data(), 0)
}

// Free releases the bitmap. Free is idempotent.
func (b *Bitmap) Free() {
	if b == nil {
		return
	}
	b.words.Free()
}

// ForAll launches fn once per index in [0, n) with grid-stride mapping.
func ForAll(s *device.Stream, name string, k policy.Kernel, n int, counters *device.Counters, fn func(i int)) error {
	cfg := device.LaunchConfig{
		Name:      name,
		GridSize:  k.Grid(s.Device(), n, 0),
		BlockSize: k.BlockSize,
		Counters:  counters,
	}
	return s.Launch(cfg, n, func(b device.Block) { b.ForEach(fn) })
}

// Fill enqueues a kernel setting every element of data to v.
func Fill[T any](s *device.Stream, k policy.Kernel, data []T, v T) error {
	return ForAll(s, "fill", k, len(data), nil, func(i int) { data[i] = v })
}

// Iota enqueues a kernel setting data[i] = base + i.
func Iota(s *device.Stream, k policy.Kernel, data []int32, base int32) error {
	return ForAll(s, "iota", k, len(data), nil, func(i int) { data[i] = base + int32(i) })
}

// AtomicMinInt32 lowers *addr to v if v is smaller and reports whether it
// did.
func AtomicMinInt32(addr *int32, v int32) bool {
	for {
		old := atomic.LoadInt32(addr)
		if v >= old {
			return false
		}
		if atomic.CompareAndSwapInt32(addr, old, v) {
			return true
		}
	}
}

// AtomicAddFloat64 adds delta to *addr and returns the new value.
func AtomicAddFloat64(addr *float64, delta float64) float64 {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(p, old, math.Float64bits(next)) {
			return next
		}
	}
}

// AtomicLoadFloat64 reads *addr atomically.
func AtomicLoadFloat64(addr *float64) float64 {
	return math.Float64frombits(atomic.LoadUint64((*uint64)(unsafe.Pointer(addr))))
}

// AtomicStoreFloat64 writes *addr atomically.
func AtomicStoreFloat64(addr *float64, v float64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), math.Float64bits(v))
}

// AtomicMaxFloat64 raises *addr to v if v is larger.
func AtomicMaxFloat64(addr *float64, v float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		if v <= math.Float64frombits(old) {
			return
		}
		if atomic.CompareAndSwapUint64(p, old, math.Float64bits(v)) {
			return
		}
	}
}
