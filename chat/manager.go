////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package chat implements the realtime message synchronization engine behind
// the application's chat surfaces: optimistic sends reconciled in place with
// their server-confirmed copies, idempotent merging of row events from other
// participants, reaction toggling, a sliding-window send rate limit,
// ephemeral typing presence, and backward pagination over a warm local
// cache.
//
// The engine is an embedded library. Persistence, realtime transport, and
// identity are injected collaborators (see interface.go); the UI drives the
// Manager and observes MessageStore snapshots.
package chat

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/shelfshare/chatsync/stoppable"
)

// Callbacks notify the UI of engine state changes. Any field may be nil. The
// callbacks must not block; they may be invoked from background goroutines.
type Callbacks struct {
	// OnMessages fires after any change to the message list.
	OnMessages func()

	// OnTyping fires when the set of typing participants changes.
	OnTyping func()

	// OnRateLimit carries the live retry-after countdown in seconds; zero
	// means sends are admissible again.
	OnRateLimit func(seconds int)

	// OnMembershipChanged fires on participant changes so the embedding
	// application can refetch the member list.
	OnMembershipChanged func()
}

// Deps are the collaborators a Manager is constructed around. Database,
// Transport, and Identity are required; Profiles and Cache are optional.
type Deps struct {
	Database  Database
	Transport Transport
	Identity  Identity
	Profiles  ProfileFetcher
	Cache     Cache
}

// Manager is the engine for one conversation at a time. Attach wires all
// components to a conversation; Detach cancels every owned timer and
// subscription so nothing mutates state after teardown.
type Manager struct {
	params Params
	deps   Deps
	cbs    Callbacks

	// gen is bumped on every attach and detach. Asynchronous completions
	// capture it before suspending and discard their results if it moved.
	gen uint64

	// attachGen is the generation of the current attachment. Transport
	// callbacks compare it against gen and drop stragglers delivered during
	// or after a detach.
	attachGen uint64

	conversationID string
	attached       bool

	store      *MessageStore
	limiter    *RateLimiter
	tasks      *stoppable.Multi
	typingOut  *typingBroadcaster
	typingIn   *typingRegistry
	pipeline   *sendPipeline
	reactions  *reactionAggregator
	reconciler *reconciler
	paginator  *paginator
	subs       *subscriptionManager

	mux sync.Mutex
}

// NewManager builds an unattached Manager.
func NewManager(params Params, deps Deps, cbs Callbacks) (*Manager, error) {
	if deps.Database == nil || deps.Transport == nil || deps.Identity == nil {
		return nil, errors.New(
			"chat manager requires database, transport, and identity")
	}
	return &Manager{
		params: params,
		deps:   deps,
		cbs:    cbs,
	}, nil
}

// generation returns the current attachment generation.
func (m *Manager) generation() uint64 {
	return atomic.LoadUint64(&m.gen)
}

// selfID returns the local user ID, or empty when unauthenticated.
func (m *Manager) selfID() string {
	userID, ok := m.deps.Identity.UserID()
	if !ok {
		return ""
	}
	return userID
}

// Attach binds the engine to a conversation: the warm cache renders
// immediately, the latest page fetch starts in the background, and the
// transport subscriptions open. Attaching while already attached detaches
// from the previous conversation first.
func (m *Manager) Attach(conversationID string) error {
	m.Detach()

	m.mux.Lock()
	m.attachGen = atomic.AddUint64(&m.gen, 1)

	m.conversationID = conversationID
	m.store = NewMessageStore()
	m.store.SetListener(m.cbs.OnMessages)
	m.tasks = stoppable.NewMulti("conversation-" + conversationID)

	m.limiter = NewRateLimiter(
		m.params.RateLimitEvents, m.params.RateLimitWindow)
	m.limiter.SetCountdownCallback(m.cbs.OnRateLimit)

	m.typingOut = newTypingBroadcaster(conversationID, m.deps.Transport,
		m.deps.Identity, m.params.TypingSendTTL, m.tasks)
	m.typingIn = newTypingRegistry(
		m.params.TypingReceiveTTL, m.tasks, m.cbs.OnTyping)

	m.pipeline = newSendPipeline(conversationID, m.store, m.deps.Database,
		m.limiter, m.deps.Identity, m.typingOut, m.params.SendTimeout,
		m.tasks, m.generation)
	m.reactions = newReactionAggregator(m.store, m.deps.Database,
		m.deps.Identity, m.params.ReactionMode)
	m.reconciler = newReconciler(
		m.store, m.deps.Profiles, m.selfID, m.generation)
	m.paginator = newPaginator(conversationID, m.deps.Database, m.deps.Cache,
		m.store, m.params.PageSize, m.params.CacheSize, m.generation)
	m.pipeline.onConfirmed = m.paginator.PersistCache

	m.subs = newSubscriptionManager(conversationID, m.deps.Transport)
	m.attached = true
	subs, pg := m.subs, m.paginator
	m.mux.Unlock()

	// Subscribe outside the lock; the transport may deliver callbacks
	// synchronously.
	err := subs.Attach(m.handleRow, m.handleTyping, m.handleMembership)

	if err != nil {
		m.mux.Lock()
		m.teardownLocked()
		m.mux.Unlock()
		return errors.WithMessagef(err,
			"failed to attach to conversation %s", conversationID)
	}

	pg.Attach()

	jww.INFO.Printf("Attached to conversation %s.", conversationID)
	return nil
}

// Detach unbinds the engine from its conversation: a final typing stop is
// broadcast, every owned subscription and timer is cancelled, and the in-
// memory log is dropped. The warm cache entry persists. Safe to call when
// not attached.
func (m *Manager) Detach() {
	m.mux.Lock()
	if !m.attached {
		m.mux.Unlock()
		return
	}

	// Invalidate in-flight completions before anything else.
	atomic.AddUint64(&m.gen, 1)
	typingOut := m.typingOut
	m.mux.Unlock()

	// Broadcast outside the lock; the transport may deliver callbacks
	// synchronously.
	if err := typingOut.Stop(); err != nil {
		jww.WARN.Printf("Final typing stop on detach failed: %+v", err)
	}

	m.mux.Lock()
	m.teardownLocked()
	conversationID := m.conversationID
	m.mux.Unlock()

	jww.INFO.Printf("Detached from conversation %s.", conversationID)
}

// teardownLocked releases all per-attachment resources. Caller holds the
// lock.
func (m *Manager) teardownLocked() {
	if m.subs != nil {
		m.subs.Detach()
	}
	if m.tasks != nil {
		_ = m.tasks.Close()
	}
	if m.limiter != nil {
		m.limiter.Stop()
	}
	if m.typingIn != nil {
		m.typingIn.Clear()
	}
	if m.store != nil {
		m.store.SetListener(nil)
		m.store.Clear()
	}
	m.attached = false
}

// handleRow is the validated row-event sink. Inserts from other participants
// refresh the warm cache once merged.
func (m *Manager) handleRow(ev RowEvent) {
	m.mux.Lock()
	if !m.attached || m.attachGen != m.generation() {
		m.mux.Unlock()
		jww.DEBUG.Printf("Dropping row event %s for message %s delivered "+
			"after detach.", ev.Type, ev.Message.ID)
		return
	}
	rec, pg := m.reconciler, m.paginator
	m.mux.Unlock()

	rec.HandleRow(ev)
	if ev.Type == RowInsert {
		pg.PersistCache()
	}
}

// handleTyping is the validated typing-broadcast sink.
func (m *Manager) handleTyping(tb TypingBroadcast) {
	m.mux.Lock()
	if !m.attached || m.attachGen != m.generation() {
		m.mux.Unlock()
		jww.DEBUG.Printf("Dropping typing broadcast from %s delivered "+
			"after detach.", tb.UserID)
		return
	}
	reg := m.typingIn
	m.mux.Unlock()

	reg.Apply(tb, m.selfID())
}

// handleMembership fans participant changes out to the embedding
// application.
func (m *Manager) handleMembership() {
	if m.cbs.OnMembershipChanged != nil {
		m.cbs.OnMembershipChanged()
	}
}

// Send submits a new message. The pending entry is observable via Messages
// before Send returns. Returns the provisional message ID.
func (m *Manager) Send(body, replyToID string) (string, error) {
	p, err := m.getPipeline()
	if err != nil {
		return "", err
	}
	return p.Send(body, replyToID)
}

// Retry resubmits a failed message as a fresh send. The failed entry is
// removed once the resend is admitted. Returns the new provisional message
// ID.
func (m *Manager) Retry(messageID string) (string, error) {
	p, err := m.getPipeline()
	if err != nil {
		return "", err
	}
	return p.Retry(messageID)
}

// ToggleReaction flips the local user's reaction on a message, per the
// configured ReactionMode.
func (m *Manager) ToggleReaction(messageID, reactionKey string) error {
	m.mux.Lock()
	ra := m.reactions
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return DetachedErr
	}
	return ra.Toggle(messageID, reactionKey)
}

// StartTyping broadcasts that the local user is typing. Repeat calls while
// already typing refresh the auto-stop timer without re-broadcasting.
func (m *Manager) StartTyping() error {
	m.mux.Lock()
	tb := m.typingOut
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return DetachedErr
	}
	return tb.Start()
}

// StopTyping broadcasts that the local user stopped typing.
func (m *Manager) StopTyping() error {
	m.mux.Lock()
	tb := m.typingOut
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return DetachedErr
	}
	return tb.Stop()
}

// LoadMore fetches the next older page of history. No-op when no more
// history exists or a fetch is already in flight.
func (m *Manager) LoadMore() error {
	m.mux.Lock()
	pg := m.paginator
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return DetachedErr
	}
	return pg.LoadMore()
}

// HasMore reports whether older history may remain.
func (m *Manager) HasMore() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.attached && m.paginator.HasMore()
}

// EditMessage replaces the body of the local user's own confirmed message,
// optimistically and with rollback on write failure.
func (m *Manager) EditMessage(messageID, body string) error {
	m.mux.Lock()
	store, db := m.store, m.deps.Database
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return DetachedErr
	}

	if err := ValidateBody(body); err != nil {
		return err
	}

	msg, err := m.ownConfirmed(store, messageID)
	if err != nil {
		return err
	}

	store.Update(messageID, func(mm *Message) {
		mm.Body = body
		mm.Edited = true
		mm.EditedAt = netTime.Now()
	})

	if err := db.UpdateBody(messageID, body); err != nil {
		jww.WARN.Printf("Reverting edit of message %s: %+v", messageID, err)
		store.Update(messageID, func(mm *Message) {
			mm.Body = msg.Body
			mm.Edited = msg.Edited
			mm.EditedAt = msg.EditedAt
		})
		return errors.WithMessagef(err,
			"failed to persist edit of message %s", messageID)
	}
	return nil
}

// DeleteMessage removes the local user's own confirmed message,
// optimistically and with rollback on write failure.
func (m *Manager) DeleteMessage(messageID string) error {
	m.mux.Lock()
	store, db := m.store, m.deps.Database
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return DetachedErr
	}

	msg, err := m.ownConfirmed(store, messageID)
	if err != nil {
		return err
	}

	store.Remove(messageID)

	if err := db.DeleteMessage(messageID); err != nil {
		jww.WARN.Printf(
			"Restoring deleted message %s: %+v", messageID, err)
		store.Insert(msg)
		return errors.WithMessagef(err,
			"failed to delete message %s", messageID)
	}
	return nil
}

// ownConfirmed fetches a message and checks that it is confirmed and authored
// by the local user.
func (m *Manager) ownConfirmed(
	store *MessageStore, messageID string) (Message, error) {
	userID, ok := m.deps.Identity.UserID()
	if !ok {
		return Message{}, NotLoggedInErr
	}

	msg, exists := store.Get(messageID)
	if !exists {
		return Message{}, UnknownMessageErr
	}
	if msg.Status != Confirmed {
		return Message{}, UnconfirmedMessageErr
	}
	if msg.SenderID != userID {
		return Message{}, NotSenderErr
	}
	return msg, nil
}

// Messages returns a snapshot of the conversation's message list, oldest
// first.
func (m *Manager) Messages() []Message {
	m.mux.Lock()
	store := m.store
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return nil
	}
	return store.Snapshot()
}

// ResolveReply looks up the message a reply references. Replies are ID
// references, never embedded copies, so a missing parent (outside the loaded
// window) returns false.
func (m *Manager) ResolveReply(replyToID string) (Message, bool) {
	m.mux.Lock()
	store := m.store
	attached := m.attached
	m.mux.Unlock()
	if !attached || replyToID == "" {
		return Message{}, false
	}
	return store.Get(replyToID)
}

// TypingParticipants returns the remote users currently typing.
func (m *Manager) TypingParticipants() []TypingPresenceEntry {
	m.mux.Lock()
	reg := m.typingIn
	attached := m.attached
	m.mux.Unlock()
	if !attached {
		return nil
	}
	return reg.Snapshot()
}

// RetryAfter returns the live rate-limit countdown in seconds, or zero when
// sends are admissible.
func (m *Manager) RetryAfter() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !m.attached {
		return 0
	}
	return m.limiter.RetryAfter()
}

// ConversationID returns the attached conversation, or empty when detached.
func (m *Manager) ConversationID() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !m.attached {
		return ""
	}
	return m.conversationID
}

// getPipeline snapshots the send pipeline under the lock.
func (m *Manager) getPipeline() (*sendPipeline, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !m.attached {
		return nil, DetachedErr
	}
	return m.pipeline, nil
}
