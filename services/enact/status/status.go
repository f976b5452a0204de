// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status defines the error taxonomy shared by the enactment engine.
//
// Every device-facing operation reports failure as an *Error carrying a Kind,
// the operation that failed, and where available the device ordinal and the
// iteration in which it happened. Callers discriminate with errors.Is against
// the sentinel for each kind, or with KindOf.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in the engine.
	KindUnknown Kind = iota

	// KindInvalidInput covers malformed graphs, bad options and API misuse.
	KindInvalidInput

	// KindAllocation covers device and pinned memory exhaustion.
	KindAllocation

	// KindUnsupportedDevice is returned when no kernel policy exists for a
	// device capability.
	KindUnsupportedDevice

	// KindQueueOverflow is returned when a frontier length exceeds its
	// queue capacity.
	KindQueueOverflow

	// KindKernelLaunch covers launch failures and faults inside kernels.
	KindKernelLaunch
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAllocation:
		return "allocation"
	case KindUnsupportedDevice:
		return "unsupported_device"
	case KindQueueOverflow:
		return "queue_overflow"
	case KindKernelLaunch:
		return "kernel_launch"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. An *Error matches its kind's sentinel
// under errors.Is.
var (
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAllocation is returned when device memory cannot be allocated.
	ErrAllocation = errors.New("allocation failed")

	// ErrUnsupportedDevice is returned when a device capability has no policy.
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrQueueOverflow is returned when a frontier exceeds queue capacity.
	ErrQueueOverflow = errors.New("frontier queue overflow")

	// ErrKernelLaunch is returned when a kernel fails to launch or faults.
	ErrKernelLaunch = errors.New("kernel launch failed")
)

// NoDevice marks an Error that is not attributed to a single device.
const NoDevice = -1

// Error is the discriminated failure type returned by engine operations.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed, e.g. "advance" or "alloc labels".
	Op string

	// Device is the device ordinal, or NoDevice.
	Device int

	// Iteration is the loop iteration, or -1 outside the loop.
	Iteration int

	// Length and Capacity are set for queue overflow.
	Length   int64
	Capacity int64

	// Err is the underlying cause, may be nil.
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.Op != "" {
		fmt.Fprintf(&b, ": %s", e.Op)
	}
	if e.Device != NoDevice {
		fmt.Fprintf(&b, " (device %d", e.Device)
		if e.Iteration >= 0 {
			fmt.Fprintf(&b, ", iteration %d", e.Iteration)
		}
		b.WriteString(")")
	} else if e.Iteration >= 0 {
		fmt.Fprintf(&b, " (iteration %d)", e.Iteration)
	}
	if e.Kind == KindQueueOverflow {
		fmt.Fprintf(&b, ": length %d exceeds capacity %d", e.Length, e.Capacity)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindAllocation:
		return ErrAllocation
	case KindUnsupportedDevice:
		return ErrUnsupportedDevice
	case KindQueueOverflow:
		return ErrQueueOverflow
	case KindKernelLaunch:
		return ErrKernelLaunch
	default:
		return errUnknown
	}
}

var errUnknown = errors.New("engine error")

// WithDevice returns a copy of e attributed to device at iteration.
func (e *Error) WithDevice(device, iteration int) *Error {
	c := *e
	c.Device = device
	c.Iteration = iteration
	return &c
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// New creates an Error of the given kind for op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Device: NoDevice, Iteration: -1, Err: err}
}

// Invalid creates an InvalidInput error with a formatted cause.
func Invalid(op, format string, args ...any) *Error {
	return New(KindInvalidInput, op, fmt.Errorf(format, args...))
}

// Allocation creates an Allocation error.
func Allocation(op string, requested, available int64) *Error {
	return New(KindAllocation, op, fmt.Errorf("requested %d bytes, %d available", requested, available))
}

// Unsupported creates an UnsupportedDevice error.
func Unsupported(op string, err error) *Error {
	return New(KindUnsupportedDevice, op, err)
}

// Overflow creates a QueueOverflow error.
func Overflow(op string, length, capacity int64) *Error {
	e := New(KindQueueOverflow, op, nil)
	e.Length = length
	e.Capacity = capacity
	return e
}

// Launch creates a KernelLaunch error.
func Launch(op string, err error) *Error {
	return New(KindKernelLaunch, op, err)
}

// Attribute stamps device and iteration onto err if it is an *Error that
// has not been attributed yet. Other errors are returned unchanged.
func Attribute(err error, device, iteration int) error {
	var se *Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Device != NoDevice {
		return err
	}
	return se.WithDevice(device, iteration)
}
