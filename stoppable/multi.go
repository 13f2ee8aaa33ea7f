////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Multi holds a group of Stoppables that are closed together, such as every
// timer belonging to one conversation attachment. It adheres to the Stoppable
// interface.
type Multi struct {
	name     string
	stoppers []Stoppable
	closed   bool
	mux      sync.Mutex
}

// NewMulti returns a new empty Multi Stoppable.
func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Name returns the name of the Multi Stoppable.
func (m *Multi) Name() string {
	return m.name
}

// Add registers a Stoppable with the group. If the group was already closed,
// the Stoppable is closed immediately, so late-started timers cannot outlive
// a detach.
func (m *Multi) Add(s Stoppable) {
	m.mux.Lock()
	closed := m.closed
	if !closed {
		m.stoppers = append(m.stoppers, s)
	}
	m.mux.Unlock()

	if closed {
		jww.DEBUG.Printf("Stoppable %q added to already closed multi %q; "+
			"closing it immediately.", s.Name(), m.name)
		_ = s.Close()
	}
}

// IsStopped returns true only if every registered Stoppable has stopped.
func (m *Multi) IsStopped() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	for _, s := range m.stoppers {
		if !s.IsStopped() {
			return false
		}
	}
	return true
}

// Close closes every registered Stoppable. It returns an error if any child
// fails to close, but always attempts all of them.
func (m *Multi) Close() error {
	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return nil
	}
	m.closed = true
	stoppers := m.stoppers
	m.stoppers = nil
	m.mux.Unlock()

	var numErrors int
	for _, s := range stoppers {
		if err := s.Close(); err != nil {
			jww.ERROR.Printf(
				"Failed to close stoppable %q in multi %q: %+v",
				s.Name(), m.name, err)
			numErrors++
		}
	}

	if numErrors > 0 {
		return errors.Errorf("failed to close %d of %d stoppables in %q",
			numErrors, len(stoppers), m.name)
	}
	return nil
}
