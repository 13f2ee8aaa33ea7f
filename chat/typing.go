////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/shelfshare/chatsync/stoppable"
)

// TypingPresenceEntry is a remote participant currently typing. Entries exist
// only in memory and expire on their own timers.
type TypingPresenceEntry struct {
	UserID      string
	DisplayName string
}

// typingBroadcaster publishes the local user's typing state on the
// conversation's ephemeral broadcast channel. A start while already typing is
// suppressed rather than re-emitted; the local state auto-stops after an
// inactivity window or immediately when the user sends.
type typingBroadcaster struct {
	conversationID string
	transport      Transport
	identity       Identity
	ttl            time.Duration

	typing   bool
	autoStop *stoppable.Single
	tasks    *stoppable.Multi

	mux sync.Mutex
}

func newTypingBroadcaster(conversationID string, transport Transport,
	identity Identity, ttl time.Duration,
	tasks *stoppable.Multi) *typingBroadcaster {
	return &typingBroadcaster{
		conversationID: conversationID,
		transport:      transport,
		identity:       identity,
		ttl:            ttl,
		tasks:          tasks,
	}
}

// Start emits a typing-true broadcast unless one is already outstanding, and
// arms (or re-arms) the inactivity auto-stop.
func (tb *typingBroadcaster) Start() error {
	userID, ok := tb.identity.UserID()
	if !ok {
		return NotLoggedInErr
	}

	tb.mux.Lock()
	alreadyTyping := tb.typing
	tb.typing = true
	if tb.autoStop != nil {
		_ = tb.autoStop.Close()
	}
	tb.autoStop = stoppable.RunTimer("typingAutoStop", tb.ttl, tb.expire)
	tb.tasks.Add(tb.autoStop)
	tb.mux.Unlock()

	if alreadyTyping {
		return nil
	}

	return tb.transport.BroadcastTyping(tb.conversationID, TypingBroadcast{
		UserID:      userID,
		DisplayName: tb.identity.DisplayName(),
		Typing:      true,
	})
}

// Stop emits a typing-false broadcast if one is outstanding and cancels the
// auto-stop timer. Safe to call when not typing.
func (tb *typingBroadcaster) Stop() error {
	userID, ok := tb.identity.UserID()
	if !ok {
		return NotLoggedInErr
	}

	tb.mux.Lock()
	wasTyping := tb.typing
	tb.typing = false
	if tb.autoStop != nil {
		_ = tb.autoStop.Close()
		tb.autoStop = nil
	}
	tb.mux.Unlock()

	if !wasTyping {
		return nil
	}

	return tb.transport.BroadcastTyping(tb.conversationID, TypingBroadcast{
		UserID: userID,
		Typing: false,
	})
}

// expire is the auto-stop timer callback.
func (tb *typingBroadcaster) expire() {
	if err := tb.Stop(); err != nil {
		jww.WARN.Printf("Typing auto-stop broadcast failed: %+v", err)
	}
}

// typingRegistry tracks which remote participants are typing. Each entry
// carries its own expiry timer; a refreshing broadcast resets the timer
// instead of duplicating the entry, and self-originated broadcasts are always
// ignored.
type typingRegistry struct {
	ttl      time.Duration
	entries  map[string]*typingEntry
	tasks    *stoppable.Multi
	onChange func()

	mux sync.Mutex
}

type typingEntry struct {
	displayName string
	expiry      *stoppable.Single
}

func newTypingRegistry(
	ttl time.Duration, tasks *stoppable.Multi, onChange func()) *typingRegistry {
	return &typingRegistry{
		ttl:      ttl,
		entries:  make(map[string]*typingEntry),
		tasks:    tasks,
		onChange: onChange,
	}
}

// Apply merges a received typing broadcast. selfID is the local user, whose
// broadcasts are dropped.
func (tr *typingRegistry) Apply(tb TypingBroadcast, selfID string) {
	if tb.UserID == selfID {
		return
	}

	tr.mux.Lock()
	entry, exists := tr.entries[tb.UserID]

	if !tb.Typing {
		if exists {
			_ = entry.expiry.Close()
			delete(tr.entries, tb.UserID)
		}
		tr.mux.Unlock()
		if exists {
			tr.changed()
		}
		return
	}

	if exists {
		// Refresh resets the timer without duplicating the entry.
		_ = entry.expiry.Close()
		if tb.DisplayName != "" {
			entry.displayName = tb.DisplayName
		}
		entry.expiry = tr.startExpiry(tb.UserID)
		tr.mux.Unlock()
		return
	}

	tr.entries[tb.UserID] = &typingEntry{
		displayName: tb.DisplayName,
		expiry:      tr.startExpiry(tb.UserID),
	}
	tr.mux.Unlock()
	tr.changed()
}

// startExpiry arms the TTL timer for a user. Caller holds the lock.
func (tr *typingRegistry) startExpiry(userID string) *stoppable.Single {
	var s *stoppable.Single
	s = stoppable.RunTimer("typingExpiry", tr.ttl, func() {
		tr.mux.Lock()
		entry, exists := tr.entries[userID]
		// Only remove if this timer is still the entry's current one; a
		// refresh may have replaced it while this callback was pending.
		if exists && entry.expiry == s {
			delete(tr.entries, userID)
		} else {
			exists = false
		}
		tr.mux.Unlock()
		if exists {
			tr.changed()
		}
	})
	tr.tasks.Add(s)
	return s
}

// Snapshot returns the participants currently typing, unordered.
func (tr *typingRegistry) Snapshot() []TypingPresenceEntry {
	tr.mux.Lock()
	defer tr.mux.Unlock()
	out := make([]TypingPresenceEntry, 0, len(tr.entries))
	for userID, entry := range tr.entries {
		out = append(out, TypingPresenceEntry{
			UserID:      userID,
			DisplayName: entry.displayName,
		})
	}
	return out
}

// Clear cancels every expiry timer and drops all entries.
func (tr *typingRegistry) Clear() {
	tr.mux.Lock()
	for userID, entry := range tr.entries {
		_ = entry.expiry.Close()
		delete(tr.entries, userID)
	}
	tr.mux.Unlock()
}

func (tr *typingRegistry) changed() {
	if tr.onChange != nil {
		tr.onChange()
	}
}
