// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enactor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/operator"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// Iteration is the algorithm-specific part of the loop. Every method runs
// on the device's loop goroutine and receives a context that is never
// cancelled mid-iteration.
type Iteration interface {
	// Seed fills the initial frontier.
	Seed(ctx context.Context, dc *DeviceContext) error

	// Advance expands the frontier, usually through operator.Advance.
	Advance(ctx context.Context, dc *DeviceContext) error

	// Filter compacts or post-processes the frontier.
	Filter(ctx context.Context, dc *DeviceContext) error

	// Converged reports algorithm-specific termination. An empty frontier
	// always terminates and need not be checked here.
	Converged(ctx context.Context, dc *DeviceContext) (bool, error)
}

// Exchange is implemented by iterations that support multiple devices.
type Exchange interface {
	// Pack returns the value sent to the owner of ghost vertex local.
	Pack(dc *DeviceContext, local int32) int64

	// Unpack merges a received value into owned vertex local and reports
	// whether local joins the frontier. Runs concurrently across messages.
	Unpack(dc *DeviceContext, local int32, value int64) bool
}

// Run drives it to completion on every device.
//
// Description:
//
//	Selects a kernel policy for every device before any launch, sizes
//	operator scratch, seeds, then iterates ADVANCE, FILTER, exchange and
//	CHECK until the global frontier is empty, every device reports
//	convergence, or MaxIterations is reached. ctx is consulted only at
//	iteration boundaries; when it is done the run stops issuing iterations
//	and is marked truncated, with results valid as of the last completed
//	iteration. Each device loop joins through its completion signal.
//
// Inputs:
//
//	ctx - Caller context; cancellation truncates at the next boundary.
//	it - The algorithm. Must implement Exchange for multi-device runs.
//
// Outputs:
//
//	error - Any device error, with the device and iteration attributed. On
//	        error the state is StateFailed and results are undefined.
func (b *Base) Run(ctx context.Context, it Iteration) (err error) {
	if ctx == nil {
		return status.Invalid("enact", "context must not be nil")
	}
	if b.closed || len(b.devices) == 0 {
		return status.Invalid("enact", "enactor is not set up")
	}
	metricsOK := initMetrics() == nil

	ctx, span := tracer.Start(ctx, "enactor.Run",
		trace.WithAttributes(
			attribute.String("enact.algorithm", b.opts.Name),
			attribute.Int("enact.devices", len(b.devices)),
		),
	)
	defer span.End()

	start := time.Now()
	b.runID = uuid.NewString()[:12]
	b.truncated.Store(false)
	b.setState(StateInit)
	span.SetAttributes(attribute.String("enact.run_id", b.runID))

	defer func() {
		b.elapsed = time.Since(start)
		outcome := "ok"
		if err != nil {
			outcome = status.KindOf(err).String()
			b.setState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			b.logger.Error("enact failed",
				slog.String("run_id", b.runID),
				slog.String("error", err.Error()),
			)
		} else {
			b.setState(StateExtractReady)
			span.SetStatus(codes.Ok, "")
		}
		if metricsOK {
			attrs := metric.WithAttributes(
				attribute.String("algorithm", b.opts.Name),
				attribute.String("outcome", outcome),
			)
			runTotal.Add(ctx, 1, attrs)
			runDuration.Record(ctx, b.elapsed.Seconds(), attrs)
			if errors.Is(err, status.ErrQueueOverflow) {
				overflowTotal.Add(ctx, 1, attrs)
			}
		}
	}()

	if err := b.prepare(it); err != nil {
		return err
	}

	b.logger.Info("enact started",
		slog.String("run_id", b.runID),
		slog.Int("devices", len(b.devices)),
		slog.String("strategy", string(b.devices[0].Strategy)),
		slog.String("policy", b.devices[0].Policy.String()),
	)

	if len(b.devices) == 1 {
		err = b.loop(ctx, b.devices[0], it, nil, nil)
	} else {
		ex := NewLocalExchanger(len(b.devices))
		xch := it.(Exchange)
		// Device loops only observe cancellation through the stop vote;
		// the group context aborts barriers when a peer fails.
		g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
		for _, dc := range b.devices {
			g.Go(func() error {
				if lerr := b.loop(ctx, dc, it, xch, &exchangerWithContext{ex, gctx}); lerr != nil {
					ex.Abort(lerr)
					return lerr
				}
				return nil
			})
		}
		err = g.Wait()
	}
	if err != nil {
		return err
	}

	st, serr := b.GetStatistics(context.WithoutCancel(ctx))
	if serr != nil {
		return serr
	}
	if metricsOK {
		attrs := metric.WithAttributes(attribute.String("algorithm", b.opts.Name))
		runIterations.Record(ctx, int64(st.SearchDepth), attrs)
		queuedWorkTotal.Add(ctx, st.TotalQueued, attrs)
	}
	span.SetAttributes(
		attribute.Int("enact.iterations", st.SearchDepth),
		attribute.Int64("enact.total_queued", st.TotalQueued),
		attribute.Bool("enact.truncated", b.Truncated()),
	)
	b.logger.Info("enact completed",
		slog.String("run_id", b.runID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("iterations", st.SearchDepth),
		slog.Int64("total_queued", st.TotalQueued),
		slog.Bool("truncated", b.Truncated()),
	)
	return nil
}

// exchangerWithContext pins the group context used for barrier waits.
type exchangerWithContext struct {
	Exchanger
	ctx context.Context
}

// prepare selects policies and sizes scratch for every device. Nothing is
// launched if any device is unsupported.
func (b *Base) prepare(it Iteration) error {
	if len(b.devices) > 1 {
		if _, ok := it.(Exchange); !ok {
			return status.Invalid("enact", "%s does not support %d devices", b.opts.Name, len(b.devices))
		}
	}
	for _, dc := range b.devices {
		p, err := policy.Select(dc.Device.Properties().Capability)
		if err != nil {
			return status.Attribute(err, dc.Device.Ordinal(), -1)
		}
		dc.Policy = p
		host := dc.Slice.Host.Graph
		dc.Strategy = b.opts.Strategy.Resolve(host.MaxDegree(), host.AverageDegree())
	}
	for _, dc := range b.devices {
		if err := b.ensureScratch(dc); err != nil {
			return status.Attribute(err, dc.Device.Ordinal(), -1)
		}
	}
	return nil
}

func (b *Base) ensureScratch(dc *DeviceContext) error {
	if dc.Scratch == nil {
		nodes := 0
		if b.opts.Dedup {
			nodes = dc.Slice.Nodes()
		}
		s, err := operator.NewScratch(dc.Device, dc.Policy, dc.Queue().Capacity(), nodes)
		if err != nil {
			return err
		}
		dc.Scratch = s
	}
	if len(b.devices) > 1 && dc.outbox == nil {
		dc.outCount = make([]atomic.Int64, len(b.devices))
		dc.outbox = make([]*device.Array[Message], len(b.devices))
		for peer, pc := range b.devices {
			if peer == dc.Index {
				continue
			}
			capacity := int(math.Ceil(b.opts.InboxSizingFactor * float64(pc.Slice.Owned())))
			a, err := device.Alloc[Message](dc.Device, "exchange outbox", max(capacity, 1))
			if err != nil {
				return err
			}
			dc.outbox[peer] = a
		}
	}
	return nil
}

// loop runs one device to termination. ex is nil for single-device runs.
func (b *Base) loop(ctx context.Context, dc *DeviceContext, it Iteration, xch Exchange, ex *exchangerWithContext) error {
	work := context.WithoutCancel(ctx)
	fail := func(err error) error {
		return status.Attribute(err, dc.Device.Ordinal(), dc.Stats.Iteration)
	}

	if err := it.Seed(work, dc); err != nil {
		return fail(err)
	}
	dc.Stats.TotalQueued += dc.Queue().Length()

	for {
		b.setState(StateCheck)
		vote := Vote{
			Active:    dc.Queue().Length(),
			Stop:      ctx.Err() != nil,
			Converged: dc.converged || (b.opts.MaxIterations > 0 && dc.Stats.Iteration >= b.opts.MaxIterations),
		}
		if ex != nil {
			var err error
			if vote, err = ex.Vote(ex.ctx, dc.Index, vote); err != nil {
				return fail(err)
			}
		}
		if vote.Active == 0 || vote.Converged {
			break
		}
		if vote.Stop {
			b.truncated.Store(true)
			break
		}

		b.setState(StateAdvance)
		if err := b.step(work, dc, it.Advance); err != nil {
			return fail(err)
		}
		b.setState(StateFilter)
		if err := b.step(work, dc, it.Filter); err != nil {
			return fail(err)
		}
		if ex != nil {
			if err := b.exchange(work, dc, xch, ex); err != nil {
				return fail(err)
			}
		}

		b.setState(StateCheck)
		conv, err := it.Converged(work, dc)
		if err != nil {
			return fail(err)
		}
		dc.converged = conv
		dc.Stats.Iteration++

		dc.debug.Do(func() {
			dc.Logger().Debug("iteration complete",
				slog.String("run_id", b.runID),
				slog.Int("iteration", dc.Stats.Iteration),
				slog.Int64("frontier", dc.Queue().Length()),
				slog.Int64("total_queued", dc.Stats.TotalQueued),
			)
		})
	}

	if err := dc.signal.Arm(dc.Stream); err != nil {
		return fail(err)
	}
	if err := dc.signal.Wait(work); err != nil {
		return fail(err)
	}
	if err := dc.Stream.Err(); err != nil {
		return fail(err)
	}
	dc.Stats.Done = true
	return nil
}

// step runs one hook and accounts for any frontier it produced.
func (b *Base) step(ctx context.Context, dc *DeviceContext, hook func(context.Context, *DeviceContext) error) error {
	before := dc.Queue().Index()
	if err := hook(ctx, dc); err != nil {
		return err
	}
	if dc.Queue().Index() != before {
		dc.Stats.TotalQueued += dc.Queue().Length()
	}
	return nil
}

// exchange ships ghost entries of the frontier to their owners and merges
// what arrives.
func (b *Base) exchange(ctx context.Context, dc *DeviceContext, xch Exchange, ex *exchangerWithContext) error {
	q := dc.Queue()
	owned := int32(dc.Slice.Owned())
	owner := dc.Slice.Owner.Data()
	ownerLocal := dc.Slice.OwnerLocal.Data()
	peers := len(b.devices)

	index := q.Index()
	if err := dc.Progress.Clear(dc.Stream, index); err != nil {
		return err
	}
	for p := range dc.outCount {
		dc.outCount[p].Store(0)
	}

	in := q.Current()
	if b.opts.Overflow == frontier.OverflowGrow {
		if err := b.growOutboxes(ctx, dc, int64(len(in))); err != nil {
			return err
		}
	}
	out := q.Next()
	boxes := make([][]Message, peers)
	for p, a := range dc.outbox {
		boxes[p] = a.Data()
	}
	kernel := dc.Policy.Filter
	cfg := device.LaunchConfig{
		Name:      "split frontier",
		GridSize:  kernel.Grid(dc.Device, len(in), b.opts.GridLimit),
		BlockSize: kernel.BlockSize,
	}
	if b.opts.Instrument {
		cfg.Counters = &dc.Counters
	}
	err := dc.Stream.Launch(cfg, len(in), func(blk device.Block) {
		em := operator.NewEmitter(out, dc.Progress, index)
		staged := make([][]Message, peers)
		blk.ForEach(func(i int) {
			v := in[i]
			if v < 0 {
				return
			}
			if v < owned {
				em.Push(v)
				return
			}
			p := owner[v]
			staged[p] = append(staged[p], Message{Vertex: ownerLocal[v], Value: xch.Pack(dc, v)})
		})
		em.Flush()
		for p, msgs := range staged {
			if len(msgs) == 0 {
				continue
			}
			off := dc.outCount[p].Add(int64(len(msgs))) - int64(len(msgs))
			box := boxes[p]
			for j, m := range msgs {
				if k := off + int64(j); k < int64(len(box)) {
					box[k] = m
				}
			}
		}
	})
	if err != nil {
		return err
	}
	local, err := dc.Progress.GetQueueLength(ctx, dc.Stream, index)
	if err != nil {
		return err
	}
	if err := dc.Progress.CheckOverflow("exchange", index, q.Capacity()); err != nil {
		return err
	}

	outbound := make([][]Message, peers)
	var sent int64
	for p := range outbound {
		if p == dc.Index {
			continue
		}
		n := dc.outCount[p].Load()
		if n > int64(len(boxes[p])) {
			return status.Overflow("exchange", n, int64(len(boxes[p])))
		}
		outbound[p] = boxes[p][:n]
		sent += n
	}
	inbound, err := ex.Exchange(ex.ctx, dc.Index, outbound)
	if err != nil {
		return err
	}
	if sent > 0 && initMetrics() == nil {
		exchangeVolume.Add(ctx, sent, metric.WithAttributes(attribute.String("algorithm", b.opts.Name)))
	}

	if b.opts.Overflow == frontier.OverflowGrow {
		if err := q.EnsureNext(ctx, dc.Stream, local+int64(len(inbound))); err != nil {
			return err
		}
		out = q.Next()
	}
	cfg.Name = "unpack ghosts"
	cfg.GridSize = kernel.Grid(dc.Device, len(inbound), b.opts.GridLimit)
	err = dc.Stream.Launch(cfg, len(inbound), func(blk device.Block) {
		em := operator.NewEmitter(out, dc.Progress, index)
		blk.ForEach(func(i int) {
			m := inbound[i]
			if xch.Unpack(dc, m.Vertex, m.Value) {
				em.Push(m.Vertex)
			}
		})
		em.Flush()
	})
	if err != nil {
		return err
	}
	length, err := dc.Progress.GetQueueLength(ctx, dc.Stream, index)
	if err != nil {
		return err
	}
	if err := q.Swap("exchange", length); err != nil {
		return err
	}
	dc.Stats.TotalQueued += length
	return nil
}

// growOutboxes sizes every outbox to hold bound messages, the most one
// frontier can send to a single peer. The exchanger copies outbound
// messages, so no peer holds the old storage.
func (b *Base) growOutboxes(ctx context.Context, dc *DeviceContext, bound int64) error {
	synced := false
	for peer, a := range dc.outbox {
		if a == nil {
			continue
		}
		c := int64(a.Len())
		if bound <= c {
			continue
		}
		grown := max(bound, c+c/2)
		if grown > math.MaxInt32 {
			return status.Overflow("grow exchange outbox", bound, c)
		}
		if !synced {
			if err := dc.Stream.Synchronize(ctx); err != nil {
				return err
			}
			synced = true
		}
		if err := a.Resize(int(grown)); err != nil {
			return err
		}
		dc.Logger().Debug("exchange outbox grown",
			slog.Int("peer", peer),
			slog.Int64("capacity", grown),
		)
	}
	return nil
}
