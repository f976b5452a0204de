// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package device provides the host-backed accelerator device model the
// enactment engine drives.
//
// A Device owns a fixed memory budget and a pinned host-mapped budget,
// executes kernels on a pool of multiprocessor workers, and orders work
// through Streams. Allocations are typed Arrays whose lifetime is tracked
// against the budget; exhausting it yields a status.KindAllocation error.
package device

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/AleutianAI/frontier/services/enact/status"
)

// Capability is a compute capability version, ordered by Major then Minor.
type Capability struct {
	Major int
	Minor int
}

// String formats the capability as "major.minor".
func (c Capability) String() string {
	return fmt.Sprintf("%d.%d", c.Major, c.Minor)
}

// Less reports whether c orders before o.
func (c Capability) Less(o Capability) bool {
	if c.Major != o.Major {
		return c.Major < o.Major
	}
	return c.Minor < o.Minor
}

// ParseCapability parses "major.minor".
func ParseCapability(s string) (Capability, error) {
	majStr, minStr, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Capability{}, status.Invalid("parse capability", "%q is not major.minor", s)
	}
	maj, err := strconv.Atoi(majStr)
	if err != nil || maj < 0 {
		return Capability{}, status.Invalid("parse capability", "bad major in %q", s)
	}
	mnr, err := strconv.Atoi(minStr)
	if err != nil || mnr < 0 {
		return Capability{}, status.Invalid("parse capability", "bad minor in %q", s)
	}
	return Capability{Major: maj, Minor: mnr}, nil
}

// DetectCapability maps host vector features onto a capability tier.
func DetectCapability() Capability {
	switch {
	case cpu.X86.HasAVX512F:
		return Capability{7, 0}
	case cpu.X86.HasAVX2, cpu.ARM64.HasASIMD:
		return Capability{6, 0}
	case cpu.X86.HasSSE42:
		return Capability{3, 5}
	default:
		return Capability{3, 0}
	}
}

// Properties describes a device.
type Properties struct {
	Ordinal     int        `json:"ordinal"`
	Name        string     `json:"name"`
	Capability  Capability `json:"capability"`
	SMCount     int        `json:"sm_count"`
	MaxGridSize int        `json:"max_grid_size"`
	MemoryBytes int64      `json:"memory_bytes"`
	PinnedBytes int64      `json:"pinned_bytes"`
}

// Config controls Open.
type Config struct {
	// Ordinal is the device index.
	Ordinal int

	// MemoryBytes is the device memory budget. Default: 1 GiB.
	MemoryBytes int64

	// PinnedBytes is the pinned host-mapped budget. Default: 64 KiB.
	PinnedBytes int64

	// SMCount is the number of multiprocessor workers. Default: NumCPU.
	SMCount int

	// MaxGridSize caps blocks per launch. Default: 65535.
	MaxGridSize int

	// Capability overrides detection when non-zero.
	Capability Capability

	// Debug synchronizes after every launch so kernel faults surface at
	// the launch site.
	Debug bool

	// Logger for device events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

const (
	defaultMemory      = 1 << 30
	defaultPinned      = 64 << 10
	defaultMaxGridSize = 65535
)

// Device is a simulated accelerator.
//
// Thread Safety: Safe for concurrent use. Arrays and streams created from a
// device must not outlive it.
type Device struct {
	props  Properties
	debug  bool
	logger *slog.Logger

	mu         sync.Mutex
	used       int64
	pinnedUsed int64
	live       int
	nextStream int
	closed     bool
}

// Open creates a device.
//
// Description:
//
//	Fills unset Config fields with defaults and detects the capability
//	from host CPU features unless overridden.
//
// Inputs:
//
//	cfg - Device configuration.
//
// Outputs:
//
//	*Device - The device. Caller must call Close() when done.
//	error - status.ErrInvalidInput for negative budgets.
func Open(cfg Config) (*Device, error) {
	if cfg.MemoryBytes < 0 || cfg.PinnedBytes < 0 || cfg.SMCount < 0 || cfg.MaxGridSize < 0 {
		return nil, status.Invalid("open device", "negative resource in config")
	}
	if cfg.MemoryBytes == 0 {
		cfg.MemoryBytes = defaultMemory
	}
	if cfg.PinnedBytes == 0 {
		cfg.PinnedBytes = defaultPinned
	}
	if cfg.SMCount == 0 {
		cfg.SMCount = max(runtime.NumCPU(), 1)
	}
	if cfg.MaxGridSize == 0 {
		cfg.MaxGridSize = defaultMaxGridSize
	}
	capability := cfg.Capability
	if capability == (Capability{}) {
		capability = DetectCapability()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Device{
		props: Properties{
			Ordinal:     cfg.Ordinal,
			Name:        fmt.Sprintf("host-sim-%d", cfg.Ordinal),
			Capability:  capability,
			SMCount:     cfg.SMCount,
			MaxGridSize: cfg.MaxGridSize,
			MemoryBytes: cfg.MemoryBytes,
			PinnedBytes: cfg.PinnedBytes,
		},
		debug:  cfg.Debug,
		logger: logger.With(slog.Int("device", cfg.Ordinal)),
	}
	d.logger.Debug("device opened",
		slog.String("capability", capability.String()),
		slog.Int("sm_count", cfg.SMCount),
		slog.Int64("memory_bytes", cfg.MemoryBytes),
	)
	return d, nil
}

// Properties returns the device description.
func (d *Device) Properties() Properties { return d.props }

// Ordinal returns the device index.
func (d *Device) Ordinal() int { return d.props.Ordinal }

// MemoryInUse returns bytes currently allocated, device and pinned.
func (d *Device) MemoryInUse() (device, pinned int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used, d.pinnedUsed
}

// LiveAllocations returns the number of arrays not yet freed.
func (d *Device) LiveAllocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Device) reserve(name string, bytes int64, pinned bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return status.New(status.KindAllocation, "alloc "+name, errDeviceClosed)
	}
	if pinned {
		if d.pinnedUsed+bytes > d.props.PinnedBytes {
			return status.Allocation("alloc pinned "+name, bytes, d.props.PinnedBytes-d.pinnedUsed).WithDevice(d.props.Ordinal, -1)
		}
		d.pinnedUsed += bytes
	} else {
		if d.used+bytes > d.props.MemoryBytes {
			return status.Allocation("alloc "+name, bytes, d.props.MemoryBytes-d.used).WithDevice(d.props.Ordinal, -1)
		}
		d.used += bytes
	}
	d.live++
	return nil
}

func (d *Device) release(bytes int64, pinned bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pinned {
		d.pinnedUsed -= bytes
	} else {
		d.used -= bytes
	}
	d.live--
}

// Close marks the device closed. Later allocations fail. Arrays still live
// are reported at warn level. Close is idempotent.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.live > 0 {
		d.logger.Warn("device closed with live allocations",
			slog.Int("live", d.live),
			slog.Int64("bytes", d.used),
		)
	}
}

// GridSize returns the block count for n items at blockSize threads per
// block, clamped to [1, MaxGridSize] and to limit when limit is positive.
func (d *Device) GridSize(n, blockSize, limit int) int {
	if blockSize <= 0 {
		return 1
	}
	g := (n + blockSize - 1) / blockSize
	if limit > 0 {
		g = min(g, limit)
	}
	g = min(g, d.props.MaxGridSize)
	return max(g, 1)
}
