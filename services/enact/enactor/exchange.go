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
	"sync"
)

// Message carries one ghost vertex update to its owner. Vertex is the id in
// the receiver's local numbering.
type Message struct {
	Vertex int32
	Value  int64
}

// Vote is one device's view at an iteration boundary; Exchanger.Vote
// returns the global aggregate.
type Vote struct {
	// Active is the frontier length. Aggregated by sum.
	Active int64

	// Stop requests truncation. Aggregated by any.
	Stop bool

	// Converged reports algorithm convergence. Aggregated by all.
	Converged bool
}

// Exchanger moves ghost updates between devices at iteration boundaries
// and agrees on termination.
type Exchanger interface {
	// Exchange publishes outbound[peer] for every peer and returns the
	// messages addressed to dev. It blocks until every device published.
	Exchange(ctx context.Context, dev int, outbound [][]Message) ([]Message, error)

	// Vote publishes dev's vote and returns the aggregate once every device
	// voted.
	Vote(ctx context.Context, dev int, v Vote) (Vote, error)

	// Abort releases every waiter with err. Later calls fail with err.
	Abort(err error)
}

var errAborted = errors.New("exchange aborted")

// barrier is a reusable rendezvous for n parties.
type barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	gen     chan struct{}
	abort   chan struct{}
	err     error
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, gen: make(chan struct{}), abort: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	ch := b.gen
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.gen = make(chan struct{})
		close(ch)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-b.abort:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *barrier) cancel(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	if err == nil {
		err = errAborted
	}
	b.err = err
	close(b.abort)
}

// LocalExchanger is the in-process Exchanger for devices driven by one
// host. Each receiver has one inbox slot per sender.
//
// Thread Safety: Each device index must be used by exactly one goroutine.
type LocalExchanger struct {
	n       int
	barrier *barrier
	inbox   [][][]Message
	votes   []Vote
}

// NewLocalExchanger creates an exchanger for n devices.
func NewLocalExchanger(n int) *LocalExchanger {
	inbox := make([][][]Message, n)
	for i := range inbox {
		inbox[i] = make([][]Message, n)
	}
	return &LocalExchanger{
		n:       n,
		barrier: newBarrier(n),
		inbox:   inbox,
		votes:   make([]Vote, n),
	}
}

// Exchange implements Exchanger. Outbound slices are copied, so callers
// may reuse them once Exchange returns.
func (x *LocalExchanger) Exchange(ctx context.Context, dev int, outbound [][]Message) ([]Message, error) {
	for peer := 0; peer < x.n; peer++ {
		var msgs []Message
		if peer < len(outbound) && peer != dev {
			msgs = append(msgs, outbound[peer]...)
		}
		x.inbox[peer][dev] = msgs
	}
	if err := x.barrier.wait(ctx); err != nil {
		return nil, err
	}
	var in []Message
	for sender := 0; sender < x.n; sender++ {
		in = append(in, x.inbox[dev][sender]...)
	}
	// Senders overwrite inbox slots on the next round; hold them until
	// every receiver has drained.
	if err := x.barrier.wait(ctx); err != nil {
		return nil, err
	}
	return in, nil
}

// Vote implements Exchanger.
func (x *LocalExchanger) Vote(ctx context.Context, dev int, v Vote) (Vote, error) {
	x.votes[dev] = v
	if err := x.barrier.wait(ctx); err != nil {
		return Vote{}, err
	}
	agg := Vote{Converged: true}
	for _, o := range x.votes {
		agg.Active += o.Active
		agg.Stop = agg.Stop || o.Stop
		agg.Converged = agg.Converged && o.Converged
	}
	if err := x.barrier.wait(ctx); err != nil {
		return Vote{}, err
	}
	return agg, nil
}

// Abort implements Exchanger.
func (x *LocalExchanger) Abort(err error) {
	x.barrier.cancel(err)
}
