// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package frontier provides the double-buffered device frontier queue and
// the per-iteration work counters that track its length.
package frontier

import (
	"context"
	"fmt"
	"math"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// OverflowPolicy decides what happens when a producer may exceed capacity.
type OverflowPolicy string

const (
	// OverflowFail fails the run with a queue overflow error.
	OverflowFail OverflowPolicy = "fail"

	// OverflowGrow resizes the inactive buffer before a producer launches.
	OverflowGrow OverflowPolicy = "grow"
)

// Capacity returns ceil(edges * factor), raised to floor.
func Capacity(edges int64, factor float64, floor int64) int64 {
	c := int64(math.Ceil(float64(edges) * factor))
	return max(c, floor, 1)
}

// Queue is a pair of fixed-capacity vertex id buffers with a selector.
//
// Description:
//
//	The buffer at Selector() holds the current frontier. Producers write
//	into Next(); Swap flips the roles and advances the queue index that
//	names the WorkProgress counter of the next producer.
//
// Thread Safety: Not safe for concurrent use. A queue belongs to one device
// loop.
type Queue struct {
	name     string
	slots    [2]*device.Array[int32]
	selector int
	length   int64
	index    int64
}

// NewQueue allocates both buffers with capacity elements each.
func NewQueue(d *device.Device, name string, capacity int64) (*Queue, error) {
	if capacity < 1 || capacity > math.MaxInt32 {
		return nil, status.Invalid("new queue "+name, "capacity %d out of range", capacity)
	}
	q := &Queue{name: name}
	for i := range q.slots {
		a, err := device.Alloc[int32](d, fmt.Sprintf("%s[%d]", name, i), int(capacity))
		if err != nil {
			q.Free()
			return nil, err
		}
		q.slots[i] = a
	}
	return q, nil
}

// Name returns the queue label.
func (q *Queue) Name() string { return q.name }

// Capacity returns the per-buffer element capacity.
func (q *Queue) Capacity() int64 { return int64(q.slots[0].Len()) }

// Selector returns the index of the buffer holding the current frontier.
func (q *Queue) Selector() int { return q.selector }

// Index returns the queue index, incremented on every Swap.
func (q *Queue) Index() int64 { return q.index }

// Length returns the current frontier length.
func (q *Queue) Length() int64 { return q.length }

// Current returns the current frontier as a device view.
func (q *Queue) Current() []int32 {
	return q.slots[q.selector].Data()[:q.length]
}

// Next returns the full inactive buffer for a producer to write into.
func (q *Queue) Next() []int32 {
	return q.slots[q.selector^1].Data()
}

// CheckLength returns a queue overflow error when length exceeds capacity.
func (q *Queue) CheckLength(op string, length int64) error {
	if length < 0 {
		return status.Invalid(op, "negative frontier length %d", length)
	}
	if c := q.Capacity(); length > c {
		return status.Overflow(op, length, c)
	}
	return nil
}

// Swap makes the inactive buffer current with the given length.
func (q *Queue) Swap(op string, length int64) error {
	if err := q.CheckLength(op, length); err != nil {
		return err
	}
	q.selector ^= 1
	q.length = length
	q.index++
	return nil
}

// Retain keeps the current buffer and sets its length, for producers that
// compact in place. The queue index still advances.
func (q *Queue) Retain(op string, length int64) error {
	if err := q.CheckLength(op, length); err != nil {
		return err
	}
	q.length = length
	q.index++
	return nil
}

// EnsureNext grows both buffers so a producer emitting at most bound ids
// cannot overflow. Growth is geometric to amortize repeated calls. When a
// resize is needed s is drained first so no queued kernel holds the old
// storage.
func (q *Queue) EnsureNext(ctx context.Context, s *device.Stream, bound int64) error {
	c := q.Capacity()
	if bound <= c {
		return nil
	}
	grown := max(bound, c+c/2)
	if grown > math.MaxInt32 {
		return status.Overflow("grow "+q.name, bound, c)
	}
	if err := s.Synchronize(ctx); err != nil {
		return err
	}
	for _, slot := range q.slots {
		if err := slot.Resize(int(grown)); err != nil {
			return err
		}
	}
	return nil
}

// Seed enqueues a copy of ids into the current buffer on s.
func (q *Queue) Seed(s *device.Stream, ids []int32) error {
	if err := q.CheckLength("seed "+q.name, int64(len(ids))); err != nil {
		return err
	}
	dst := q.slots[q.selector]
	host := append([]int32(nil), ids...)
	if err := s.Enqueue("seed "+q.name, func() error { return dst.CopyFromHost(host) }); err != nil {
		return err
	}
	q.length = int64(len(ids))
	return nil
}

// SetLength sets the current frontier length without moving data, for
// producers that fill the current buffer directly.
func (q *Queue) SetLength(length int64) error {
	if err := q.CheckLength("set length "+q.name, length); err != nil {
		return err
	}
	q.length = length
	return nil
}

// Reset returns the queue to selector 0, empty, index 0.
func (q *Queue) Reset() {
	q.selector = 0
	q.length = 0
	q.index = 0
}

// Free releases both buffers. Free is idempotent.
func (q *Queue) Free() {
	if q == nil {
		return
	}
	for _, s := range q.slots {
		s.Free()
	}
}
