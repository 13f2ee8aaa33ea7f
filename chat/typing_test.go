////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/shelfshare/chatsync/stoppable"
)

// Tests that a remote typing entry expires after its TTL with no refresh.
func TestTypingRegistry_TTL(t *testing.T) {
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })
	tr := newTypingRegistry(50*time.Millisecond, tasks, nil)

	tr.Apply(TypingBroadcast{UserID: "bob", DisplayName: "Bob",
		Typing: true}, "alice")
	require.Len(t, tr.Snapshot(), 1)

	require.Eventually(t, func() bool {
		return len(tr.Snapshot()) == 0
	}, time.Second, 5*time.Millisecond)
}

// Tests that a refreshing broadcast resets the timer without duplicating the
// entry.
func TestTypingRegistry_Refresh(t *testing.T) {
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })
	tr := newTypingRegistry(80*time.Millisecond, tasks, nil)

	start := TypingBroadcast{UserID: "bob", Typing: true}
	tr.Apply(start, "alice")

	// Refresh half way through the TTL, twice.
	for i := 0; i < 2; i++ {
		time.Sleep(40 * time.Millisecond)
		tr.Apply(start, "alice")
		require.Len(t, tr.Snapshot(), 1)
	}

	// Entry survives past the original deadline, then expires.
	time.Sleep(40 * time.Millisecond)
	require.Len(t, tr.Snapshot(), 1)
	require.Eventually(t, func() bool {
		return len(tr.Snapshot()) == 0
	}, time.Second, 5*time.Millisecond)
}

// Tests that an explicit stop removes the entry immediately and that
// self-originated broadcasts are ignored.
func TestTypingRegistry_StopAndSelf(t *testing.T) {
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })

	var changes int
	tr := newTypingRegistry(time.Minute, tasks, func() { changes++ })

	tr.Apply(TypingBroadcast{UserID: "alice", Typing: true}, "alice")
	require.Empty(t, tr.Snapshot())
	require.Zero(t, changes)

	tr.Apply(TypingBroadcast{UserID: "bob", Typing: true}, "alice")
	require.Len(t, tr.Snapshot(), 1)
	require.Equal(t, 1, changes)

	tr.Apply(TypingBroadcast{UserID: "bob", Typing: false}, "alice")
	require.Empty(t, tr.Snapshot())
	require.Equal(t, 2, changes)

	// Stop for an absent user changes nothing.
	tr.Apply(TypingBroadcast{UserID: "carol", Typing: false}, "alice")
	require.Equal(t, 2, changes)
}

// Tests that Start broadcasts once, suppresses re-broadcasts while typing,
// and auto-stops after the inactivity window.
func TestTypingBroadcaster_AutoStop(t *testing.T) {
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })
	transport := newMockTransport()
	identity := &mockIdentity{userID: "alice", displayName: "Alice"}

	tb := newTypingBroadcaster(
		"conv", transport, identity, 60*time.Millisecond, tasks)

	require.NoError(t, tb.Start())
	require.NoError(t, tb.Start())
	require.NoError(t, tb.Start())

	sent := transport.sentBroadcasts()
	require.Len(t, sent, 1)
	require.True(t, sent[0].Typing)
	require.Equal(t, "alice", sent[0].UserID)

	// The inactivity auto-stop emits typing false on its own.
	require.Eventually(t, func() bool {
		sent = transport.sentBroadcasts()
		return len(sent) == 2 && !sent[1].Typing
	}, time.Second, 5*time.Millisecond)
}

// Tests that an explicit Stop emits once and that stopping while not typing
// emits nothing.
func TestTypingBroadcaster_Stop(t *testing.T) {
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })
	transport := newMockTransport()
	identity := &mockIdentity{userID: "alice"}

	tb := newTypingBroadcaster("conv", transport, identity, time.Minute, tasks)

	require.NoError(t, tb.Stop())
	require.Empty(t, transport.sentBroadcasts())

	require.NoError(t, tb.Start())
	require.NoError(t, tb.Stop())
	require.NoError(t, tb.Stop())

	sent := transport.sentBroadcasts()
	require.Len(t, sent, 2)
	require.True(t, sent[0].Typing)
	require.False(t, sent[1].Typing)
}

// Tests that typing is disabled without an authenticated user.
func TestTypingBroadcaster_NotLoggedIn(t *testing.T) {
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })

	tb := newTypingBroadcaster("conv", newMockTransport(),
		&mockIdentity{loggedOut: true}, time.Minute, tasks)
	require.ErrorIs(t, tb.Start(), NotLoggedInErr)
	require.ErrorIs(t, tb.Stop(), NotLoggedInErr)
}
