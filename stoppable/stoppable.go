////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable provides cancellable tasks for goroutines and timers owned
// by the chat engine. Every timer the engine starts (typing expiry, send
// safeguards, rate-limit countdowns) is wrapped in a Stoppable so that
// detaching from a conversation cancels all of them deterministically instead
// of leaving them to fire against torn-down state.
package stoppable

import "strconv"

// Stoppable is implemented by cancellable tasks.
type Stoppable interface {
	// Name returns the label the task was created with, for logging.
	Name() string

	// Close signals the task to stop. It is safe to call more than once;
	// calls after the first are no-ops.
	Close() error

	// IsStopped returns true once the task has acknowledged the stop.
	IsStopped() bool
}

// Status indicates where a Stoppable is in its lifecycle.
type Status uint32

const (
	// Running is the initial status; the task is live.
	Running Status = iota

	// Stopping means Close has been called but the task has not yet
	// acknowledged it.
	Stopping

	// Stopped means the task has exited.
	Stopped
)

// String adheres to the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "invalid status: " + strconv.Itoa(int(s))
	}
}
