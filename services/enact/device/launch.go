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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/frontier/services/enact/status"
)

// Block is the per-CTA view a kernel receives.
type Block struct {
	// Index is the block index within the grid.
	Index int

	// Dim is the threads per block.
	Dim int

	// GridDim is the number of blocks in the grid.
	GridDim int

	// N is the item count the launch covers.
	N int
}

// ForEach calls fn for every item this block owns under grid-stride
// mapping: thread t of block b visits b*Dim+t, then strides by
// GridDim*Dim.
func (b Block) ForEach(fn func(i int)) {
	stride := b.Dim * b.GridDim
	for base := b.Index * b.Dim; base < b.N; base += stride {
		end := min(base+b.Dim, b.N)
		for i := base; i < end; i++ {
			fn(i)
		}
	}
}

// Range returns the contiguous share [lo, hi) of [0, N) owned by this block.
func (b Block) Range() (lo, hi int) {
	per := (b.N + b.GridDim - 1) / b.GridDim
	lo = min(b.Index*per, b.N)
	hi = min(lo+per, b.N)
	return lo, hi
}

// Kernel is the body executed once per block. A panic inside a kernel is
// reported as a status.KindKernelLaunch error on the stream.
type Kernel func(b Block)

// LaunchConfig describes one kernel launch.
type LaunchConfig struct {
	// Name labels the kernel in errors and logs.
	Name string

	// GridSize is the number of blocks. Must be in [1, MaxGridSize].
	GridSize int

	// BlockSize is the threads per block. Must be positive.
	BlockSize int

	// Counters accumulates per-CTA duty timing when non-nil.
	Counters *Counters
}

// Counters accumulates per-CTA busy time (runtime) and time from kernel
// start to CTA retirement (lifetime). Runtime never exceeds lifetime, so
// the ratio is a duty cycle in [0, 1].
type Counters struct {
	runtimes  atomic.Int64
	lifetimes atomic.Int64
}

// Add records one CTA.
func (c *Counters) Add(runtime, lifetime time.Duration) {
	c.runtimes.Add(int64(runtime))
	c.lifetimes.Add(int64(lifetime))
}

// Totals returns accumulated runtimes and lifetimes in nanoseconds.
func (c *Counters) Totals() (runtimes, lifetimes int64) {
	return c.runtimes.Load(), c.lifetimes.Load()
}

// Reset zeroes the accumulators.
func (c *Counters) Reset() {
	c.runtimes.Store(0)
	c.lifetimes.Store(0)
}

// Launch enqueues kernel k over n items.
//
// Description:
//
//	Blocks are distributed over min(SMCount, GridSize) multiprocessor
//	workers, each pulling the next unstarted block. The launch completes
//	when every block has retired. In debug mode Launch waits for the
//	kernel and returns its error directly.
//
// Inputs:
//
//	cfg - Launch geometry and instrumentation.
//	n - Item count passed to each Block.
//	k - The kernel body.
//
// Outputs:
//
//	error - status.ErrKernelLaunch for invalid geometry or a closed stream.
//	        Faults inside k surface on the stream.
func (s *Stream) Launch(cfg LaunchConfig, n int, k Kernel) error {
	if cfg.GridSize < 1 || cfg.GridSize > s.dev.props.MaxGridSize || cfg.BlockSize < 1 {
		return status.Launch(cfg.Name, fmt.Errorf("invalid configuration grid=%d block=%d", cfg.GridSize, cfg.BlockSize)).
			WithDevice(s.dev.props.Ordinal, -1)
	}
	if n < 0 {
		return status.Launch(cfg.Name, fmt.Errorf("negative item count %d", n)).WithDevice(s.dev.props.Ordinal, -1)
	}
	if err := s.Enqueue(cfg.Name, func() error { return s.run(cfg, n, k) }); err != nil {
		return err
	}
	if s.dev.debug {
		return s.Synchronize(context.Background())
	}
	return nil
}

func (s *Stream) run(cfg LaunchConfig, n int, k Kernel) error {
	start := time.Now()

	workers := min(s.dev.props.SMCount, cfg.GridSize)
	var (
		next     atomic.Int64
		failed   atomic.Bool
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for !failed.Load() {
				idx := int(next.Add(1) - 1)
				if idx >= cfg.GridSize {
					return
				}
				if err := runBlock(k, Block{Index: idx, Dim: cfg.BlockSize, GridDim: cfg.GridSize, N: n}, start, cfg.Counters); err != nil {
					errOnce.Do(func() { firstErr = err })
					failed.Store(true)
					return
				}
			}
		}()
	}
	wg.Wait()

	if initMetrics() == nil {
		attrs := metric.WithAttributes(
			attribute.String("kernel", cfg.Name),
			attribute.Bool("failed", firstErr != nil),
		)
		launchTotal.Add(context.Background(), 1, attrs)
		kernelDuration.Record(context.Background(), time.Since(start).Seconds(), attrs)
	}
	if firstErr != nil {
		s.logger.Debug("kernel faulted", slog.String("kernel", cfg.Name), slog.String("error", firstErr.Error()))
		return status.Launch(cfg.Name, firstErr)
	}
	return nil
}

func runBlock(k Kernel, b Block, kernelStart time.Time, c *Counters) (err error) {
	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("block %d panicked: %v", b.Index, r)
		}
		if c != nil {
			end := time.Now()
			c.Add(end.Sub(begin), end.Sub(kernelStart))
		}
	}()
	k(b)
	return nil
}
