////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// Single allows stopping a single goroutine using a quit channel. It adheres
// to the Stoppable interface.
type Single struct {
	name   string
	quit   chan struct{}
	status Status
	once   sync.Once
}

// NewSingle returns a new single Stoppable in the Running state.
func NewSingle(name string) *Single {
	return &Single{
		name: name,
		quit: make(chan struct{}),
	}
}

// Name returns the name of the Single Stoppable.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the status of the Stoppable.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32((*uint32)(&s.status)))
}

// IsRunning returns true if the Stoppable is marked as running.
func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// IsStopped returns true if the Stoppable is marked as stopped.
func (s *Single) IsStopped() bool {
	return s.GetStatus() == Stopped
}

// Quit returns a receive-only channel that is closed when the Stoppable is
// told to quit. Multiple goroutines may select on it.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// ToStopped marks the task as having exited. The task's goroutine calls this
// on its way out. Panics if the status regresses, which would mean two
// goroutines claimed the same Stoppable.
func (s *Single) ToStopped() {
	old := atomic.SwapUint32((*uint32)(&s.status), uint32(Stopped))
	if Status(old) == Stopped {
		jww.FATAL.Panicf("Stoppable %q set to stopped twice.", s.name)
	}
}

// Close signals the Single to quit by closing the quit channel. Calls after
// the first are no-ops.
func (s *Single) Close() error {
	s.once.Do(func() {
		atomic.CompareAndSwapUint32(
			(*uint32)(&s.status), uint32(Running), uint32(Stopping))
		jww.TRACE.Printf("Closing single stoppable %q.", s.name)
		close(s.quit)
	})
	return nil
}

// RunTimer starts a goroutine that calls fire after the wait elapses, unless
// the returned Stoppable is closed first. fire runs at most once.
func RunTimer(name string, wait time.Duration, fire func()) *Single {
	stop := NewSingle(name)
	go func() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
			fire()
		case <-stop.Quit():
		}
		stop.ToStopped()
	}()
	return stop
}
