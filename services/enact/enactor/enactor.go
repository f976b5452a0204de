// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enactor drives frontier algorithms to completion across one or
// more devices.
//
// Base owns the per-device resources every algorithm needs (stream,
// completion signal, work counters, operator scratch, statistics) and runs
// the one generic iteration loop. A concrete algorithm supplies an
// Iteration with its Seed, Advance, Filter and Converged steps, and for
// multi-device runs the Pack/Unpack halves of the ghost exchange.
package enactor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/problem"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Options controls an enactor.
type Options struct {
	// Name labels the algorithm in logs, spans and metrics.
	Name string

	// Signal selects the completion wait strategy. Default: SignalBlock.
	Signal SignalKind

	// Overflow selects the queue overflow policy. Default: OverflowFail.
	Overflow frontier.OverflowPolicy

	// Strategy selects the Advance mapping. Default: policy.Adaptive.
	Strategy policy.Strategy

	// GridLimit caps CTAs per launch when positive.
	GridLimit int

	// Instrument enables per-CTA duty counters.
	Instrument bool

	// Dedup allocates the Filter dedup bitmap.
	Dedup bool

	// InboxSizingFactor scales a receiver's owned vertex count into the
	// per-sender exchange capacity. Default: 1.0.
	InboxSizingFactor float64

	// MaxIterations ends the run after this many iterations when positive.
	MaxIterations int

	// Logger for enactor events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (o *Options) defaults() error {
	if o.Signal == "" {
		o.Signal = SignalBlock
	}
	if o.Overflow == "" {
		o.Overflow = frontier.OverflowFail
	}
	if o.Strategy == "" {
		o.Strategy = policy.Adaptive
	}
	if o.InboxSizingFactor == 0 {
		o.InboxSizingFactor = 1.0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	switch {
	case o.Signal != SignalPoll && o.Signal != SignalBlock:
		return status.Invalid("enactor", "unknown completion signal %q", o.Signal)
	case o.Overflow != frontier.OverflowFail && o.Overflow != frontier.OverflowGrow:
		return status.Invalid("enactor", "unknown overflow policy %q", o.Overflow)
	case o.InboxSizingFactor < 0 || o.GridLimit < 0 || o.MaxIterations < 0:
		return status.Invalid("enactor", "negative sizing option")
	}
	return o.Strategy.Validate()
}

// Stats is one device's per-run accounting.
type Stats struct {
	// Iteration is the number of completed iterations.
	Iteration int

	// TotalQueued is the seed length plus every frontier length produced.
	TotalQueued int64

	// Done is set once the device loop has joined.
	Done bool
}

// Statistics is the run summary returned by GetStatistics.
type Statistics struct {
	TotalQueued int64   `json:"total_queued"`
	SearchDepth int     `json:"search_depth"`
	AvgDuty     float64 `json:"avg_duty"`
}

// DeviceContext is one device's resources and loop state.
type DeviceContext struct {
	// Index is the device's position, equal to its slice index.
	Index int

	Device   *device.Device
	Stream   *device.Stream
	Slice    *problem.GraphSlice
	Progress *frontier.WorkProgress
	Scratch  *operator.Scratch
	Policy   policy.Policy
	Strategy policy.Strategy
	Counters device.Counters
	Stats    Stats
	Texture  device.Texture

	flag   *device.Array[int32]
	event  *device.Event
	signal CompletionSignal

	outbox   []*device.Array[Message]
	outCount []atomic.Int64

	converged bool
	debug     *rate.Sometimes
	base      *Base
}

// Queue returns the slice's frontier.
func (dc *DeviceContext) Queue() *frontier.Queue { return dc.Slice.Frontier }

// Iteration returns the current iteration number.
func (dc *DeviceContext) Iteration() int { return dc.Stats.Iteration }

// Logger returns the enactor logger scoped to this device.
func (dc *DeviceContext) Logger() *slog.Logger {
	return dc.base.logger.With(slog.Int("device", dc.Device.Ordinal()))
}

// Frame returns the operator launch frame for this device.
func (dc *DeviceContext) Frame() operator.Frame {
	f := operator.Frame{
		Stream:   dc.Stream,
		Policy:   dc.Policy,
		Strategy: dc.Strategy,
		Graph: operator.View{
			Nodes:      dc.Slice.Nodes(),
			RowOffsets: dc.Slice.RowOffsets.Data(),
			Columns:    &dc.Texture,
		},
		Queue:     dc.Slice.Frontier,
		Progress:  dc.Progress,
		Scratch:   dc.Scratch,
		Overflow:  dc.base.opts.Overflow,
		GridLimit: dc.base.opts.GridLimit,
	}
	if dc.base.opts.Instrument {
		f.Counters = &dc.Counters
	}
	return f
}

func (dc *DeviceContext) releaseScratch() {
	dc.Scratch.Free()
	dc.Scratch = nil
	for _, a := range dc.outbox {
		a.Free()
	}
	dc.outbox = nil
	dc.outCount = nil
}

func (dc *DeviceContext) free() {
	dc.Stream.Close()
	dc.Progress.Free()
	dc.flag.Free()
	dc.releaseScratch()
	dc.Texture.Unbind()
}

// Base is the algorithm-independent enactor.
//
// Thread Safety: Not safe for concurrent use. One run at a time.
type Base struct {
	opts   Options
	logger *slog.Logger

	devices []*DeviceContext
	problem problem.Problem

	state     atomic.Int32
	truncated atomic.Bool
	runID     string
	elapsed   time.Duration
	closed    bool
}

// New creates an enactor.
func New(opts Options) (*Base, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	b := &Base{opts: opts, logger: opts.Logger.With(slog.String("algorithm", opts.Name))}
	b.state.Store(int32(StateInit))
	return b, nil
}

// Options returns the effective options.
func (b *Base) Options() Options { return b.opts }

// State returns the current state.
func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) setState(s State) { b.state.Store(int32(s)) }

// MarkDone moves EXTRACT_READY to DONE after results were extracted.
func (b *Base) MarkDone() {
	b.state.CompareAndSwap(int32(StateExtractReady), int32(StateDone))
}

// Truncated reports whether the last run stopped early on its context.
func (b *Base) Truncated() bool { return b.truncated.Load() }

// Elapsed returns the wall time of the last run's loop.
func (b *Base) Elapsed() time.Duration { return b.elapsed }

// RunID returns the last run's identifier.
func (b *Base) RunID() string { return b.runID }

// Devices returns the per-device contexts, in slice order.
func (b *Base) Devices() []*DeviceContext { return b.devices }

// Problem returns the bound problem.
func (b *Base) Problem() problem.Problem { return b.problem }

// Streams returns each device's stream, in slice order.
func (b *Base) Streams() []*device.Stream {
	out := make([]*device.Stream, len(b.devices))
	for i, dc := range b.devices {
		out[i] = dc.Stream
	}
	return out
}

// Setup binds p and allocates per-device resources.
//
// Description:
//
//	On the first call, for every device: allocates the pinned completion
//	flag and an event, creates the stream and work counters, and selects
//	the completion signal. Every call rebinds each device's adjacency
//	texture to p's column array, so Setup is safe to repeat and allocates
//	only once. Binding a different problem on the same devices drops the
//	operator scratch and exchange outboxes so Run sizes them afresh.
//
// Inputs:
//
//	ctx - Unused beyond nil checks; reserved for setup uploads.
//	p - An initialized problem with one slice per device.
//
// Outputs:
//
//	error - status.ErrAllocation when pinned memory is exhausted, or
//	        status.ErrInvalidInput on a problem mismatch.
func (b *Base) Setup(ctx context.Context, p problem.Problem) error {
	if ctx == nil {
		return status.Invalid("enactor setup", "context must not be nil")
	}
	if b.closed {
		return status.Invalid("enactor setup", "enactor is closed")
	}
	slices := p.Base().Slices
	if len(slices) == 0 {
		return status.Invalid("enactor setup", "problem is not initialized")
	}
	if b.devices != nil && len(b.devices) != len(slices) {
		return status.Invalid("enactor setup", "problem has %d slices, enactor has %d devices", len(slices), len(b.devices))
	}

	if b.devices == nil {
		devices := make([]*DeviceContext, 0, len(slices))
		for i, s := range slices {
			dc, err := b.newDeviceContext(i, s)
			if err != nil {
				for _, d := range devices {
					d.free()
				}
				return err
			}
			devices = append(devices, dc)
		}
		b.devices = devices
	}

	for i, dc := range b.devices {
		if slices[i].Device != dc.Device {
			return status.Invalid("enactor setup", "slice %d is on device %d, enactor holds device %d",
				i, slices[i].Device.Ordinal(), dc.Device.Ordinal())
		}
	}
	for i, dc := range b.devices {
		if dc.Slice != slices[i] {
			// Scratch and outboxes are sized from the slice; the next
			// Run reallocates them for the new one.
			dc.releaseScratch()
		}
		dc.Slice = slices[i]
		dc.Texture.Bind("column indices", slices[i].ColumnIndices)
	}
	b.problem = p
	return nil
}

func (b *Base) newDeviceContext(i int, s *problem.GraphSlice) (*DeviceContext, error) {
	dc := &DeviceContext{
		Index:  i,
		Device: s.Device,
		Slice:  s,
		event:  device.NewEvent(),
		debug:  &rate.Sometimes{First: 3, Interval: time.Second},
		base:   b,
	}
	var err error
	if dc.flag, err = device.AllocPinned[int32](s.Device, "completion flag", 1); err != nil {
		return nil, err
	}
	dc.Progress, err = frontier.NewWorkProgress(s.Device)
	if err != nil {
		dc.flag.Free()
		return nil, err
	}
	dc.Stream = s.Device.NewStream()
	switch b.opts.Signal {
	case SignalPoll:
		dc.signal = NewPollSignal(dc.flag)
	default:
		dc.signal = NewBlockSignal(dc.event)
	}
	return dc, nil
}

// Reset clears per-run state without freeing resources.
func (b *Base) Reset() error {
	if b.closed {
		return status.Invalid("enactor reset", "enactor is closed")
	}
	for _, dc := range b.devices {
		if err := dc.Stream.Synchronize(context.Background()); err != nil {
			return err
		}
		dc.Stats = Stats{}
		dc.Counters.Reset()
		dc.Progress.Reset()
		dc.converged = false
		dc.Queue().Reset()
	}
	b.truncated.Store(false)
	b.setState(StateInit)
	return nil
}

// GetStatistics synchronizes every device and summarizes the last run.
//
// Outputs:
//
//	Statistics - Total queued work, the deepest iteration count, and the
//	             average CTA duty cycle (0 when not instrumented).
//	error - The first stream error or ctx cancellation.
func (b *Base) GetStatistics(ctx context.Context) (Statistics, error) {
	var st Statistics
	var runtimes, lifetimes int64
	for _, dc := range b.devices {
		if err := dc.Stream.Synchronize(ctx); err != nil {
			return Statistics{}, err
		}
		st.TotalQueued += dc.Stats.TotalQueued
		st.SearchDepth = max(st.SearchDepth, dc.Stats.Iteration)
		r, l := dc.Counters.Totals()
		runtimes += r
		lifetimes += l
	}
	if lifetimes > 0 {
		st.AvgDuty = math.Min(float64(runtimes)/float64(lifetimes), 1)
	}
	return st, nil
}

// Close releases every device resource. Close is idempotent.
func (b *Base) Close() {
	if b == nil || b.closed {
		return
	}
	b.closed = true
	for _, dc := range b.devices {
		dc.free()
	}
	b.devices = nil
	b.problem = nil
}

func (b *Base) String() string {
	return fmt.Sprintf("enactor(%s, %d devices, %s)", b.opts.Name, len(b.devices), b.State())
}
