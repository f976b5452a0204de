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
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/frontier/services/enact/status"
)

var errStreamClosed = errors.New("stream is closed")

type task struct {
	name string
	fn   func() error

	// control tasks run even after the stream has failed.
	control bool
}

// Stream executes enqueued work in issue order on a dedicated goroutine.
//
// Description:
//
//	The first failing task records a sticky error; later work tasks are
//	skipped and every subsequent Synchronize reports the error. Control
//	tasks (event records, synchronization markers) always run so waiters
//	are released.
//
// Thread Safety: Enqueue may be called from one goroutine at a time; a
// stream belongs to one device loop. Err and Synchronize are safe from any
// goroutine.
type Stream struct {
	dev    *Device
	id     int
	tasks  chan task
	done   chan struct{}
	logger *slog.Logger

	mu  sync.Mutex
	err error

	// sendMu guards closed and sends on tasks.
	sendMu sync.RWMutex
	closed bool
}

// NewStream creates a stream and starts its worker goroutine.
func (d *Device) NewStream() *Stream {
	d.mu.Lock()
	id := d.nextStream
	d.nextStream++
	d.mu.Unlock()

	s := &Stream{
		dev:    d,
		id:     id,
		tasks:  make(chan task, 64),
		done:   make(chan struct{}),
		logger: d.logger.With(slog.Int("stream", id)),
	}
	go s.loop()
	return s
}

func (s *Stream) loop() {
	defer close(s.done)
	for t := range s.tasks {
		if !t.control && s.Err() != nil {
			continue
		}
		if err := t.fn(); err != nil && !t.control {
			s.fail(t.name, err)
		}
	}
}

func (s *Stream) fail(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if status.KindOf(err) == status.KindUnknown {
		err = status.Launch(name, err)
	}
	s.err = status.Attribute(err, s.dev.props.Ordinal, -1)
	s.logger.Error("stream task failed", slog.String("task", name), slog.String("error", err.Error()))
}

// Device returns the owning device.
func (s *Stream) Device() *Device { return s.dev }

// Err returns the sticky error, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) submit(t task) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return status.Launch(t.name, errStreamClosed)
	}
	s.tasks <- t
	return nil
}

// Enqueue schedules fn after all previously enqueued work. A returned
// error from fn becomes the stream's sticky error.
func (s *Stream) Enqueue(name string, fn func() error) error {
	return s.submit(task{name: name, fn: fn})
}

// Synchronize blocks until every task enqueued before the call completed,
// then returns the sticky error. A cancelled ctx stops the wait only; the
// queued work still runs.
func (s *Stream) Synchronize(ctx context.Context) error {
	marker := make(chan struct{})
	if err := s.submit(task{name: "synchronize", control: true, fn: func() error {
		close(marker)
		return nil
	}}); err != nil {
		return err
	}
	select {
	case <-marker:
		return s.Err()
	case <-ctx.Done():
		return fmt.Errorf("synchronize stream %d: %w", s.id, ctx.Err())
	}
}

// Record enqueues a marker that fires e when reached. Recording resets e.
func (s *Stream) Record(e *Event) error {
	ch := e.reset()
	return s.submit(task{name: "record event", control: true, fn: func() error {
		close(ch)
		return nil
	}})
}

// Signal enqueues fn as a control task: it runs once all earlier tasks
// have, even after the stream has failed, so host-side waiters built on it
// are always released.
func (s *Stream) Signal(name string, fn func()) error {
	return s.submit(task{name: name, control: true, fn: func() error {
		fn()
		return nil
	}})
}

// Close drains queued work and stops the worker. Close is idempotent.
func (s *Stream) Close() {
	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		return
	}
	s.closed = true
	close(s.tasks)
	s.sendMu.Unlock()
	<-s.done
}

// Event is a one-shot completion marker recorded on a stream.
type Event struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewEvent returns an event that has never been recorded. Waiting on it
// returns immediately.
func NewEvent() *Event {
	ch := make(chan struct{})
	close(ch)
	return &Event{ch: ch}
}

func (e *Event) reset() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ch = make(chan struct{})
	return e.ch
}

func (e *Event) channel() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Query reports whether the last recorded marker has been reached.
func (e *Event) Query() bool {
	select {
	case <-e.channel():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the last recorded marker is reached.
func (e *Event) Done() <-chan struct{} { return e.channel() }

// Synchronize blocks until the last recorded marker is reached.
func (e *Event) Synchronize(ctx context.Context) error {
	select {
	case <-e.channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
