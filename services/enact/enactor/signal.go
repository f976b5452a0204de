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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/status"
)

// SignalKind selects how the host waits for a device loop to finish.
type SignalKind string

const (
	// SignalPoll polls a pinned host-mapped flag with exponential backoff.
	SignalPoll SignalKind = "poll"

	// SignalBlock blocks on a recorded event.
	SignalBlock SignalKind = "block"
)

// CompletionSignal lets the host learn that all work enqueued on a stream
// before Arm has finished.
type CompletionSignal interface {
	// Arm enqueues the completion marker on s.
	Arm(s *device.Stream) error

	// Wait blocks until the marker is reached.
	Wait(ctx context.Context) error
}

// PollSignal raises a pinned flag from the stream and polls it.
type PollSignal struct {
	flag *device.Array[int32]

	// Initial and Max bound the poll interval.
	Initial time.Duration
	Max     time.Duration
}

// NewPollSignal wraps a one-element pinned flag.
func NewPollSignal(flag *device.Array[int32]) *PollSignal {
	return &PollSignal{flag: flag, Initial: 20 * time.Microsecond, Max: 2 * time.Millisecond}
}

// Arm clears the flag and enqueues a store of 1. The store is a control
// task so a failed stream still raises it.
func (p *PollSignal) Arm(s *device.Stream) error {
	word := &p.flag.Data()[0]
	atomic.StoreInt32(word, 0)
	return s.Signal("raise completion flag", func() {
		atomic.StoreInt32(word, 1)
	})
}

// Wait polls the flag, backing off between reads so the wait does not pin
// a host core.
func (p *PollSignal) Wait(ctx context.Context) error {
	word := &p.flag.Data()[0]
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Initial
	bo.MaxInterval = p.Max
	bo.Multiplier = 2
	bo.Reset()

	for atomic.LoadInt32(word) == 0 {
		t := time.NewTimer(bo.NextBackOff())
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return status.New(status.KindKernelLaunch, "wait completion", ctx.Err())
		}
	}
	return nil
}

// BlockSignal records an event and blocks on it.
type BlockSignal struct {
	event *device.Event
}

// NewBlockSignal wraps an event.
func NewBlockSignal(e *device.Event) *BlockSignal {
	return &BlockSignal{event: e}
}

// Arm records the event on s.
func (b *BlockSignal) Arm(s *device.Stream) error {
	return s.Record(b.event)
}

// Wait blocks until the event fires.
func (b *BlockSignal) Wait(ctx context.Context) error {
	if err := b.event.Synchronize(ctx); err != nil {
		return status.New(status.KindKernelLaunch, "wait completion", err)
	}
	return nil
}
