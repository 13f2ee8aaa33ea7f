////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"strconv"

	"github.com/forPelevin/gomoji"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ReactionMode selects the toggle semantics for reactions. Community and room
// chat use SingleSelect; direct messages use MultiSelect. The divergence is
// preserved as two named behaviors rather than unified.
type ReactionMode uint8

const (
	// SingleSelect permits a user at most one reaction key per message;
	// picking a second key moves them.
	SingleSelect ReactionMode = iota

	// MultiSelect permits a user under any number of keys per message;
	// toggling one key leaves the others untouched.
	MultiSelect
)

// String adheres to the fmt.Stringer interface.
func (rm ReactionMode) String() string {
	switch rm {
	case SingleSelect:
		return "single-select"
	case MultiSelect:
		return "multi-select"
	default:
		return "invalid ReactionMode: " + strconv.Itoa(int(rm))
	}
}

// ValidateReaction checks that the reaction contains a single emoji and
// nothing else.
func ValidateReaction(reaction string) error {
	if len(gomoji.RemoveEmojis(reaction)) > 0 {
		return InvalidReactionErr
	}
	if len(gomoji.FindAll(reaction)) != 1 {
		return InvalidReactionErr
	}
	return nil
}

// reactionAggregator applies reaction toggles optimistically and persists the
// message's whole reaction map. The whole-map write is last-writer-wins when
// two users react concurrently; the race is inherited from the persistence
// interface and documented rather than hidden.
type reactionAggregator struct {
	store    *MessageStore
	db       Database
	identity Identity
	mode     ReactionMode
}

func newReactionAggregator(store *MessageStore, db Database,
	identity Identity, mode ReactionMode) *reactionAggregator {
	return &reactionAggregator{
		store:    store,
		db:       db,
		identity: identity,
		mode:     mode,
	}
}

// Toggle flips the acting user's presence under reactionKey on the message,
// per the aggregator's mode. The new map is applied locally first; if the
// persistence write fails, the previous map is restored and a non-fatal
// error returned.
func (ra *reactionAggregator) Toggle(messageID, reactionKey string) error {
	if err := ValidateReaction(reactionKey); err != nil {
		return err
	}

	userID, ok := ra.identity.UserID()
	if !ok {
		return NotLoggedInErr
	}

	msg, exists := ra.store.Get(messageID)
	if !exists {
		return UnknownMessageErr
	}
	if msg.Status != Confirmed {
		return UnconfirmedMessageErr
	}

	prev := msg.Reactions
	next := ra.toggled(copyReactions(prev), userID, reactionKey)

	ra.store.Update(messageID, func(m *Message) {
		m.Reactions = next
	})

	if err := ra.db.UpdateReactions(messageID, next); err != nil {
		jww.WARN.Printf("Reverting reaction %q on message %s: %+v",
			reactionKey, messageID, err)
		ra.store.Update(messageID, func(m *Message) {
			m.Reactions = prev
		})
		return errors.WithMessagef(err,
			"failed to persist reaction %q on message %s",
			reactionKey, messageID)
	}

	return nil
}

// toggled computes the post-toggle reaction map. reactions is owned by the
// caller and mutated in place.
func (ra *reactionAggregator) toggled(
	reactions ReactionMap, userID, reactionKey string) ReactionMap {
	if reactions == nil {
		reactions = make(ReactionMap)
	}

	switch ra.mode {
	case MultiSelect:
		if containsUser(reactions[reactionKey], userID) {
			reactions[reactionKey] =
				removeUser(reactions[reactionKey], userID)
		} else {
			reactions[reactionKey] = append(reactions[reactionKey], userID)
		}

	default: // SingleSelect
		var previousKey string
		for key, users := range reactions {
			if containsUser(users, userID) {
				previousKey = key
				reactions[key] = removeUser(users, userID)
			}
		}
		if previousKey != reactionKey {
			reactions[reactionKey] = append(reactions[reactionKey], userID)
		}
	}

	for key, users := range reactions {
		if len(users) == 0 {
			delete(reactions, key)
		}
	}
	if len(reactions) == 0 {
		return nil
	}
	return reactions
}

func containsUser(users []string, userID string) bool {
	for i := range users {
		if users[i] == userID {
			return true
		}
	}
	return false
}

func removeUser(users []string, userID string) []string {
	out := users[:0]
	for i := range users {
		if users[i] != userID {
			out = append(out, users[i])
		}
	}
	return out
}
