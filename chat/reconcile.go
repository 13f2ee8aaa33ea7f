////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	jww "github.com/spf13/jwalterweatherman"
)

// reconciler merges inbound row events from the realtime transport into the
// message store. The transport delivers at least once with no ordering
// guarantee, so every handler is idempotent and keyed by message ID, never by
// list position.
//
// Inserts from the local user are ignored: the send pipeline owns
// confirmation of self-originated messages, and applying the echoed insert
// too would double-append.
type reconciler struct {
	store    *MessageStore
	profiles ProfileFetcher

	// selfID returns the local user's ID, or empty when unauthenticated.
	selfID func() string

	// generation returns the current attachment generation. Handlers capture
	// it before any suspension point (the profile fetch) and drop their
	// result if it moved, so a detach or conversation switch cannot be
	// mutated after teardown.
	generation func() uint64
}

func newReconciler(store *MessageStore, profiles ProfileFetcher,
	selfID func() string, generation func() uint64) *reconciler {
	return &reconciler{
		store:      store,
		profiles:   profiles,
		selfID:     selfID,
		generation: generation,
	}
}

// HandleRow applies one validated row event.
func (r *reconciler) HandleRow(ev RowEvent) {
	switch ev.Type {
	case RowInsert:
		r.handleInsert(*ev.Message)
	case RowUpdate:
		r.handleUpdate(*ev.Message)
	case RowDelete:
		r.handleDelete(ev.MessageID)
	}
}

func (r *reconciler) handleInsert(msg Message) {
	if msg.SenderID == r.selfID() {
		jww.TRACE.Printf("Ignoring echoed insert of own message %s.", msg.ID)
		return
	}
	if r.store.Has(msg.ID) {
		// Repeat delivery; the first-applied entry is authoritative.
		return
	}

	gen := r.generation()

	if msg.SenderName == "" && r.profiles != nil {
		profile, err := r.profiles.FetchProfile(msg.SenderID)
		if err != nil {
			jww.WARN.Printf("Failed to fetch profile for sender %s of "+
				"message %s: %+v", msg.SenderID, msg.ID, err)
		} else {
			msg.SenderName = profile.DisplayName
		}
	}

	if r.generation() != gen {
		jww.DEBUG.Printf("Discarding insert of message %s: conversation "+
			"detached during profile fetch.", msg.ID)
		return
	}

	msg.Status = Confirmed
	r.store.Insert(msg)
}

func (r *reconciler) handleUpdate(incoming Message) {
	applied := r.store.Update(incoming.ID, func(m *Message) {
		if incoming.Body != "" {
			m.Body = incoming.Body
		}
		if incoming.Reactions != nil {
			m.Reactions = copyReactions(incoming.Reactions)
		}
		if incoming.Edited {
			m.Edited = true
			m.EditedAt = incoming.EditedAt
		}
	})
	if !applied {
		// The message is outside the loaded window; nothing to merge.
		jww.TRACE.Printf("Update for unknown message %s dropped.", incoming.ID)
	}
}

func (r *reconciler) handleDelete(messageID string) {
	if !r.store.Remove(messageID) {
		// Already removed or never loaded.
		jww.TRACE.Printf("Delete for unknown message %s dropped.", messageID)
	}
}
