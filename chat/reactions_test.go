////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/xx_network/primitives/netTime"
)

func newTestAggregator(
	mode ReactionMode) (*reactionAggregator, *MessageStore, *mockDatabase) {
	store := NewMessageStore()
	store.Insert(Message{
		ID:        "srv-1",
		SenderID:  "bob",
		Body:      "hi",
		CreatedAt: netTime.Now(),
		Status:    Confirmed,
	})
	db := newMockDatabase()
	ra := newReactionAggregator(
		store, db, &mockIdentity{userID: "alice"}, mode)
	return ra, store, db
}

// Tests the single-select round trip: toggling the same key twice returns
// the map to its pre-toggle state.
func TestReactionAggregator_SingleSelectRoundTrip(t *testing.T) {
	ra, store, _ := newTestAggregator(SingleSelect)

	require.NoError(t, ra.Toggle("srv-1", "👍"))
	m, _ := store.Get("srv-1")
	require.Equal(t, []string{"alice"}, m.Reactions["👍"])

	require.NoError(t, ra.Toggle("srv-1", "👍"))
	m, _ = store.Get("srv-1")
	require.Nil(t, m.Reactions)
}

// Tests single-select exclusivity: picking a second key moves the user, so
// they are present under only the newest key.
func TestReactionAggregator_SingleSelectExclusive(t *testing.T) {
	ra, store, _ := newTestAggregator(SingleSelect)

	require.NoError(t, ra.Toggle("srv-1", "👍"))
	require.NoError(t, ra.Toggle("srv-1", "🎉"))

	m, _ := store.Get("srv-1")
	require.NotContains(t, m.Reactions, "👍")
	require.Equal(t, []string{"alice"}, m.Reactions["🎉"])
}

// Tests that multi-select toggles one key without touching the user's other
// keys.
func TestReactionAggregator_MultiSelect(t *testing.T) {
	ra, store, _ := newTestAggregator(MultiSelect)

	require.NoError(t, ra.Toggle("srv-1", "👍"))
	require.NoError(t, ra.Toggle("srv-1", "🎉"))

	m, _ := store.Get("srv-1")
	require.Equal(t, []string{"alice"}, m.Reactions["👍"])
	require.Equal(t, []string{"alice"}, m.Reactions["🎉"])

	require.NoError(t, ra.Toggle("srv-1", "👍"))
	m, _ = store.Get("srv-1")
	require.NotContains(t, m.Reactions, "👍")
	require.Equal(t, []string{"alice"}, m.Reactions["🎉"])
}

// Tests that other users' buckets survive a single-select toggle.
func TestReactionAggregator_PreservesOtherUsers(t *testing.T) {
	ra, store, _ := newTestAggregator(SingleSelect)
	store.Update("srv-1", func(m *Message) {
		m.Reactions = ReactionMap{"👍": {"bob", "carol"}}
	})

	require.NoError(t, ra.Toggle("srv-1", "👍"))
	m, _ := store.Get("srv-1")
	require.Equal(t, []string{"bob", "carol", "alice"}, m.Reactions["👍"])
}

// Tests that a failed persistence write reverts the optimistic toggle.
func TestReactionAggregator_RevertOnFailure(t *testing.T) {
	ra, store, db := newTestAggregator(SingleSelect)
	db.failUpdates = true

	err := ra.Toggle("srv-1", "👍")
	require.Error(t, err)

	m, _ := store.Get("srv-1")
	require.Nil(t, m.Reactions)
}

// Tests boundary rejections: non-emoji keys, unknown messages, unconfirmed
// messages, and the unauthenticated user.
func TestReactionAggregator_Rejections(t *testing.T) {
	ra, store, _ := newTestAggregator(SingleSelect)

	require.ErrorIs(t, ra.Toggle("srv-1", "heart"), InvalidReactionErr)
	require.ErrorIs(t, ra.Toggle("srv-1", "👍👍"), InvalidReactionErr)
	require.ErrorIs(t, ra.Toggle("missing", "👍"), UnknownMessageErr)

	store.Insert(Message{
		ID: NewTempID(), SenderID: "alice", Body: "x",
		CreatedAt: netTime.Now(), Status: Pending,
	})
	for _, m := range store.Snapshot() {
		if m.Status == Pending {
			require.ErrorIs(t,
				ra.Toggle(m.ID, "👍"), UnconfirmedMessageErr)
		}
	}

	loggedOut := newReactionAggregator(store, newMockDatabase(),
		&mockIdentity{loggedOut: true}, SingleSelect)
	require.ErrorIs(t, loggedOut.Toggle("srv-1", "👍"), NotLoggedInErr)
}
