////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/shelfshare/chatsync/stoppable"
)

// newTestTasks returns a Multi closed on test cleanup.
func newTestTasks(t *testing.T) *stoppable.Multi {
	t.Helper()
	tasks := stoppable.NewMulti("test")
	t.Cleanup(func() { _ = tasks.Close() })
	return tasks
}

// mockIdentity supplies a fixed local user.
type mockIdentity struct {
	userID      string
	displayName string
	loggedOut   bool
}

func (mi *mockIdentity) UserID() (string, bool) {
	if mi.loggedOut {
		return "", false
	}
	return mi.userID, true
}

func (mi *mockIdentity) DisplayName() string { return mi.displayName }

// mockDatabase is a scriptable Database. Inserts block until release is
// closed when blockInserts is set, so tests can observe the pending state.
type mockDatabase struct {
	nextID       int
	failInserts  bool
	failUpdates  bool
	failDeletes  bool
	blockInserts bool
	release      chan struct{}

	inserted  []Message
	reactions map[string]ReactionMap
	bodies    map[string]string
	deleted   []string

	// pages holds the full ascending history the mock serves pages from.
	pages []Message

	mux sync.Mutex
}

func newMockDatabase() *mockDatabase {
	return &mockDatabase{
		release:   make(chan struct{}),
		reactions: make(map[string]ReactionMap),
		bodies:    make(map[string]string),
	}
}

func (md *mockDatabase) InsertMessage(msg Message) (string, error) {
	if md.blockInserts {
		<-md.release
	}

	md.mux.Lock()
	defer md.mux.Unlock()
	if md.failInserts {
		return "", errors.New("mock insert failure")
	}
	md.nextID++
	serverID := "srv-" + strconv.Itoa(md.nextID)
	msg.ID = serverID
	md.inserted = append(md.inserted, msg)
	return serverID, nil
}

func (md *mockDatabase) UpdateBody(messageID, body string) error {
	md.mux.Lock()
	defer md.mux.Unlock()
	if md.failUpdates {
		return errors.New("mock update failure")
	}
	md.bodies[messageID] = body
	return nil
}

func (md *mockDatabase) UpdateReactions(
	messageID string, reactions ReactionMap) error {
	md.mux.Lock()
	defer md.mux.Unlock()
	if md.failUpdates {
		return errors.New("mock update failure")
	}
	md.reactions[messageID] = reactions
	return nil
}

func (md *mockDatabase) DeleteMessage(messageID string) error {
	md.mux.Lock()
	defer md.mux.Unlock()
	if md.failDeletes {
		return errors.New("mock delete failure")
	}
	md.deleted = append(md.deleted, messageID)
	return nil
}

func (md *mockDatabase) GetMessages(
	_ string, limit, offset int) ([]Message, error) {
	md.mux.Lock()
	defer md.mux.Unlock()

	// Pages walk backward from the newest entry.
	end := len(md.pages) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, end-start)
	copy(out, md.pages[start:end])
	return out, nil
}

// mockSubscription records its teardown.
type mockSubscription struct {
	unsubscribed bool
	mux          sync.Mutex
}

func (s *mockSubscription) Unsubscribe() {
	s.mux.Lock()
	s.unsubscribed = true
	s.mux.Unlock()
}

func (s *mockSubscription) isUnsubscribed() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.unsubscribed
}

// mockTransport captures subscriptions and lets tests push events inward and
// observe outbound typing broadcasts.
type mockTransport struct {
	onRow        func(RowEvent)
	onTyping     func(TypingBroadcast)
	onMembership func()

	rowSub    *mockSubscription
	typingSub *mockSubscription
	memberSub *mockSubscription

	broadcasts []TypingBroadcast

	mux sync.Mutex
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		rowSub:    &mockSubscription{},
		typingSub: &mockSubscription{},
		memberSub: &mockSubscription{},
	}
}

func (mt *mockTransport) SubscribeRows(
	_ string, cb func(RowEvent)) (Subscription, error) {
	mt.mux.Lock()
	mt.onRow = cb
	mt.mux.Unlock()
	return mt.rowSub, nil
}

func (mt *mockTransport) SubscribeTyping(
	_ string, cb func(TypingBroadcast)) (Subscription, error) {
	mt.mux.Lock()
	mt.onTyping = cb
	mt.mux.Unlock()
	return mt.typingSub, nil
}

func (mt *mockTransport) SubscribeMembership(
	_ string, cb func()) (Subscription, error) {
	mt.mux.Lock()
	mt.onMembership = cb
	mt.mux.Unlock()
	return mt.memberSub, nil
}

func (mt *mockTransport) BroadcastTyping(_ string, tb TypingBroadcast) error {
	mt.mux.Lock()
	mt.broadcasts = append(mt.broadcasts, tb)
	mt.mux.Unlock()
	return nil
}

func (mt *mockTransport) pushRow(ev RowEvent) {
	mt.mux.Lock()
	cb := mt.onRow
	mt.mux.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (mt *mockTransport) pushTyping(tb TypingBroadcast) {
	mt.mux.Lock()
	cb := mt.onTyping
	mt.mux.Unlock()
	if cb != nil {
		cb(tb)
	}
}

func (mt *mockTransport) sentBroadcasts() []TypingBroadcast {
	mt.mux.Lock()
	defer mt.mux.Unlock()
	out := make([]TypingBroadcast, len(mt.broadcasts))
	copy(out, mt.broadcasts)
	return out
}

// mockProfiles resolves display names from a fixed table.
type mockProfiles struct {
	names   map[string]string
	delay   chan struct{} // when set, FetchProfile blocks until closed
	started chan struct{} // when set, closed once the first fetch begins
}

func (mp *mockProfiles) FetchProfile(userID string) (Profile, error) {
	if mp.started != nil {
		close(mp.started)
	}
	if mp.delay != nil {
		<-mp.delay
	}
	name, exists := mp.names[userID]
	if !exists {
		return Profile{}, errors.Errorf("no profile for %s", userID)
	}
	return Profile{UserID: userID, DisplayName: name}, nil
}

// mockCache is an in-memory chat.Cache for engine tests; the real ekv-backed
// implementation lives in chat/storage.
type mockCache struct {
	snapshots map[string][]Message
	mux       sync.Mutex
}

func newMockCache() *mockCache {
	return &mockCache{snapshots: make(map[string][]Message)}
}

func (mc *mockCache) Load(conversationID string) ([]Message, bool) {
	mc.mux.Lock()
	defer mc.mux.Unlock()
	msgs, hit := mc.snapshots[conversationID]
	return msgs, hit
}

func (mc *mockCache) Store(conversationID string, msgs []Message) error {
	mc.mux.Lock()
	mc.snapshots[conversationID] = msgs
	mc.mux.Unlock()
	return nil
}

func (mc *mockCache) Clear(conversationID string) error {
	mc.mux.Lock()
	delete(mc.snapshots, conversationID)
	mc.mux.Unlock()
	return nil
}

// makeHistory builds n confirmed messages spaced one second apart, oldest
// first.
func makeHistory(conversationID string, n int) []Message {
	base := netTime.Now().Add(-time.Duration(n) * time.Second)
	out := make([]Message, n)
	for i := 0; i < n; i++ {
		out[i] = Message{
			ID:             "srv-hist-" + strconv.Itoa(i),
			ConversationID: conversationID,
			SenderID:       "user-" + strconv.Itoa(i%3),
			Body:           "message " + strconv.Itoa(i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			Status:         Confirmed,
		}
	}
	return out
}
