// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package frontier

import (
	"context"
	"sync/atomic"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// progressRing is the number of per-index counters kept live. A counter is
// cleared before its producer runs, so only the in-flight index and its
// predecessor need distinct slots.
const progressRing = 4

// WorkProgress holds device-side atomic counters, one per queue index, that
// producers bump to reserve output slots.
type WorkProgress struct {
	counters *device.Array[int64]
}

// NewWorkProgress allocates the counter ring on d.
func NewWorkProgress(d *device.Device) (*WorkProgress, error) {
	a, err := device.Alloc[int64](d, "work progress", progressRing)
	if err != nil {
		return nil, err
	}
	return &WorkProgress{counters: a}, nil
}

func (w *WorkProgress) slot(index int64) *int64 {
	return &w.counters.Data()[index%progressRing]
}

// Clear enqueues a reset of the counter for index on s.
func (w *WorkProgress) Clear(s *device.Stream, index int64) error {
	p := w.slot(index)
	return s.Enqueue("clear work progress", func() error {
		atomic.StoreInt64(p, 0)
		return nil
	})
}

// Reserve atomically adds n to the counter for index and returns the
// previous value, the caller's write offset. Device side only.
func (w *WorkProgress) Reserve(index, n int64) int64 {
	return atomic.AddInt64(w.slot(index), n) - n
}

// Load reads the counter for index. Device side only.
func (w *WorkProgress) Load(index int64) int64 {
	return atomic.LoadInt64(w.slot(index))
}

// Store sets the counter for index. Device side only.
func (w *WorkProgress) Store(index, v int64) {
	atomic.StoreInt64(w.slot(index), v)
}

// GetQueueLength blocks until s drains, then reads the counter for index.
//
// Outputs:
//
//	int64 - The number of ids the producer emitted. May exceed capacity;
//	        callers must Check it.
//	error - The stream's sticky error, or ctx cancellation.
func (w *WorkProgress) GetQueueLength(ctx context.Context, s *device.Stream, index int64) (int64, error) {
	if err := s.Synchronize(ctx); err != nil {
		return 0, err
	}
	return w.Load(index), nil
}

// CheckOverflow compares the recorded write offset for index to capacity.
// The stream that produced index must already be drained, as it is after
// GetQueueLength.
func (w *WorkProgress) CheckOverflow(op string, index, capacity int64) error {
	if n := w.Load(index); n > capacity {
		return status.Overflow(op, n, capacity)
	}
	return nil
}

// Reset zeroes every counter. The owning stream must be idle.
func (w *WorkProgress) Reset() {
	for i := range w.counters.Data() {
		atomic.StoreInt64(&w.counters.Data()[i], 0)
	}
}

// Free releases the counters. Free is idempotent.
func (w *WorkProgress) Free() {
	if w == nil {
		return
	}
	w.counters.Free()
}
