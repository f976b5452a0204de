// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package device

import (
	"errors"
	"unsafe"

	"github.com/AleutianAI/frontier/services/enact/status"
)

var errDeviceClosed = errors.New("device is closed")

// Array is a typed device allocation.
//
// Data returns the device view for use inside kernels. Host code moves data
// with CopyFromHost and CopyToHost.
type Array[T any] struct {
	dev    *Device
	name   string
	data   []T
	bytes  int64
	pinned bool
}

// Alloc reserves n elements of T in device memory.
//
// Outputs:
//
//	*Array[T] - Zeroed allocation. Caller must Free it.
//	error - status.ErrAllocation when the budget is exhausted.
func Alloc[T any](d *Device, name string, n int) (*Array[T], error) {
	return alloc[T](d, name, n, false)
}

// AllocPinned reserves n elements of T in pinned host-mapped memory. The
// host may read it without synchronizing the stream.
func AllocPinned[T any](d *Device, name string, n int) (*Array[T], error) {
	return alloc[T](d, name, n, true)
}

func alloc[T any](d *Device, name string, n int, pinned bool) (*Array[T], error) {
	if n < 0 {
		return nil, status.Invalid("alloc "+name, "negative length %d", n)
	}
	var zero T
	bytes := int64(n) * int64(unsafe.Sizeof(zero))
	if err := d.reserve(name, bytes, pinned); err != nil {
		return nil, err
	}
	return &Array[T]{
		dev:    d,
		name:   name,
		data:   make([]T, n),
		bytes:  bytes,
		pinned: pinned,
	}, nil
}

// Data returns the device view. It is nil after Free.
func (a *Array[T]) Data() []T {
	if a == nil {
		return nil
	}
	return a.data
}

// Len returns the element count.
func (a *Array[T]) Len() int {
	if a == nil {
		return 0
	}
	return len(a.data)
}

// Name returns the allocation label.
func (a *Array[T]) Name() string { return a.name }

// CopyFromHost copies src into the start of the array.
func (a *Array[T]) CopyFromHost(src []T) error {
	if a == nil || a.data == nil {
		return status.Invalid("copy to device", "array is freed")
	}
	if len(src) > len(a.data) {
		return status.Invalid("copy to device "+a.name, "%d elements exceed length %d", len(src), len(a.data))
	}
	copy(a.data, src)
	return nil
}

// CopyToHost copies the first len(dst) elements into dst.
func (a *Array[T]) CopyToHost(dst []T) error {
	if a == nil || a.data == nil {
		return status.Invalid("copy to host", "array is freed")
	}
	if len(dst) > len(a.data) {
		return status.Invalid("copy to host "+a.name, "%d elements exceed length %d", len(dst), len(a.data))
	}
	copy(dst, a.data)
	return nil
}

// Fill sets every element to v.
func (a *Array[T]) Fill(v T) {
	for i := range a.data {
		a.data[i] = v
	}
}

// Resize reallocates to n elements, preserving the common prefix. The old
// storage is released only after the new reservation succeeds.
func (a *Array[T]) Resize(n int) error {
	if a == nil || a.data == nil {
		return status.Invalid("resize", "array is freed")
	}
	if n == len(a.data) {
		return nil
	}
	var zero T
	bytes := int64(n) * int64(unsafe.Sizeof(zero))
	if err := a.dev.reserve(a.name, bytes, a.pinned); err != nil {
		return err
	}
	data := make([]T, n)
	copy(data, a.data)
	a.dev.release(a.bytes, a.pinned)
	a.data = data
	a.bytes = bytes
	return nil
}

// Free releases the allocation. Free on a nil or freed array is a no-op.
func (a *Array[T]) Free() {
	if a == nil || a.data == nil {
		return
	}
	a.dev.release(a.bytes, a.pinned)
	a.data = nil
	a.bytes = 0
}

// Texture is a read-only binding over an int32 array, the path Advance
// uses to fetch adjacency.
type Texture struct {
	name string
	data []int32
}

// Bind points the texture at a. Rebinding replaces the previous target.
func (t *Texture) Bind(name string, a *Array[int32]) {
	t.name = name
	t.data = a.Data()
}

// Unbind clears the binding.
func (t *Texture) Unbind() {
	t.name = ""
	t.data = nil
}

// Bound reports whether the texture has a target.
func (t *Texture) Bound() bool { return t != nil && t.data != nil }

// Name returns the bound array label.
func (t *Texture) Name() string { return t.name }

// Fetch reads element i.
func (t *Texture) Fetch(i int64) int32 { return t.data[i] }

// Slice returns the bound elements in [lo, hi).
func (t *Texture) Slice(lo, hi int64) []int32 { return t.data[lo:hi] }
