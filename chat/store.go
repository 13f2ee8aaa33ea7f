////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"sort"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// MessageStore is the ordered, deduplicated in-memory message log for one
// conversation. The list is sorted non-decreasingly by CreatedAt and an ID
// appears at most once. All mutation paths (the send pipeline, the
// reconciler, pagination) converge here, and the UI observes it through
// Snapshot and the update listener.
type MessageStore struct {
	msgs     []*Message
	byID     map[string]*Message
	listener func()
	mux      sync.RWMutex
}

// NewMessageStore returns an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]*Message)}
}

// SetListener registers a callback invoked after every mutation. The callback
// runs outside the store's lock and must not block.
func (ms *MessageStore) SetListener(f func()) {
	ms.mux.Lock()
	ms.listener = f
	ms.mux.Unlock()
}

func (ms *MessageStore) notify() {
	ms.mux.RLock()
	f := ms.listener
	ms.mux.RUnlock()
	if f != nil {
		f()
	}
}

// Len returns the number of messages in the store.
func (ms *MessageStore) Len() int {
	ms.mux.RLock()
	defer ms.mux.RUnlock()
	return len(ms.msgs)
}

// Has reports whether a message with the given ID is present.
func (ms *MessageStore) Has(id string) bool {
	ms.mux.RLock()
	defer ms.mux.RUnlock()
	_, exists := ms.byID[id]
	return exists
}

// Get returns a copy of the message with the given ID.
func (ms *MessageStore) Get(id string) (Message, bool) {
	ms.mux.RLock()
	defer ms.mux.RUnlock()
	m, exists := ms.byID[id]
	if !exists {
		return Message{}, false
	}
	return copyMessage(m), true
}

// Insert adds a message in CreatedAt order. Messages with equal timestamps
// keep their arrival order. Returns false if the ID is already present; the
// first-applied entry is authoritative and the duplicate is discarded.
func (ms *MessageStore) Insert(msg Message) bool {
	ms.mux.Lock()
	inserted := ms.insertLocked(msg)
	ms.mux.Unlock()

	if inserted {
		ms.notify()
	}
	return inserted
}

// InsertBatch adds each message of a fetched page, skipping IDs already
// present. Returns the number actually added.
func (ms *MessageStore) InsertBatch(msgs []Message) int {
	ms.mux.Lock()
	var added int
	for i := range msgs {
		if ms.insertLocked(msgs[i]) {
			added++
		}
	}
	ms.mux.Unlock()

	if added > 0 {
		ms.notify()
	}
	return added
}

func (ms *MessageStore) insertLocked(msg Message) bool {
	if _, exists := ms.byID[msg.ID]; exists {
		jww.TRACE.Printf("Dropping duplicate insert of message %s.", msg.ID)
		return false
	}

	m := &msg
	m.Reactions = copyReactions(msg.Reactions)

	i := sort.Search(len(ms.msgs), func(i int) bool {
		return ms.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	ms.msgs = append(ms.msgs, nil)
	copy(ms.msgs[i+1:], ms.msgs[i:])
	ms.msgs[i] = m
	ms.byID[m.ID] = m
	return true
}

// Replace swaps the entry identified by oldID for msg at the same list
// position, re-keying the index to msg.ID. This is how a pending entry
// becomes its confirmed counterpart without moving in the UI. Returns false
// if oldID is absent or msg.ID already belongs to a different entry.
func (ms *MessageStore) Replace(oldID string, msg Message) bool {
	ms.mux.Lock()
	old, exists := ms.byID[oldID]
	if !exists {
		ms.mux.Unlock()
		return false
	}
	if other, taken := ms.byID[msg.ID]; taken && other != old {
		ms.mux.Unlock()
		jww.WARN.Printf("Not replacing message %s: ID %s already present.",
			oldID, msg.ID)
		return false
	}

	m := &msg
	m.Reactions = copyReactions(msg.Reactions)
	for i := range ms.msgs {
		if ms.msgs[i] == old {
			ms.msgs[i] = m
			break
		}
	}
	delete(ms.byID, oldID)
	ms.byID[m.ID] = m
	ms.mux.Unlock()

	ms.notify()
	return true
}

// Update applies mutate to the stored entry with the given ID. The ID and
// CreatedAt of the entry must not be changed by mutate. Returns false if the
// ID is unknown.
func (ms *MessageStore) Update(id string, mutate func(*Message)) bool {
	ms.mux.Lock()
	m, exists := ms.byID[id]
	if !exists {
		ms.mux.Unlock()
		return false
	}
	mutate(m)
	ms.mux.Unlock()

	ms.notify()
	return true
}

// SetStatus updates the delivery status of the entry with the given ID.
// Status only moves forward: a pending entry may become confirmed or failed,
// but a confirmed or failed entry never reverts to pending.
func (ms *MessageStore) SetStatus(id string, status SentStatus) bool {
	ms.mux.Lock()
	m, exists := ms.byID[id]
	if !exists || (m.Status != Pending && status == Pending) {
		ms.mux.Unlock()
		return false
	}
	m.Status = status
	ms.mux.Unlock()

	ms.notify()
	return true
}

// Remove deletes the entry with the given ID. Returns false if absent.
func (ms *MessageStore) Remove(id string) bool {
	ms.mux.Lock()
	m, exists := ms.byID[id]
	if !exists {
		ms.mux.Unlock()
		return false
	}
	for i := range ms.msgs {
		if ms.msgs[i] == m {
			ms.msgs = append(ms.msgs[:i], ms.msgs[i+1:]...)
			break
		}
	}
	delete(ms.byID, id)
	ms.mux.Unlock()

	ms.notify()
	return true
}

// Snapshot returns a deep copy of the message list in CreatedAt order.
func (ms *MessageStore) Snapshot() []Message {
	ms.mux.RLock()
	defer ms.mux.RUnlock()
	out := make([]Message, len(ms.msgs))
	for i := range ms.msgs {
		out[i] = copyMessage(ms.msgs[i])
	}
	return out
}

// Confirmed returns a deep copy of only the confirmed messages, oldest first.
// This is what gets persisted to the warm cache.
func (ms *MessageStore) Confirmed() []Message {
	ms.mux.RLock()
	defer ms.mux.RUnlock()
	out := make([]Message, 0, len(ms.msgs))
	for i := range ms.msgs {
		if ms.msgs[i].Status == Confirmed {
			out = append(out, copyMessage(ms.msgs[i]))
		}
	}
	return out
}

// Clear empties the store, such as on conversation detach.
func (ms *MessageStore) Clear() {
	ms.mux.Lock()
	ms.msgs = nil
	ms.byID = make(map[string]*Message)
	ms.mux.Unlock()

	ms.notify()
}
