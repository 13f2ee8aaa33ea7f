////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

// This file defines the collaborators the engine is injected with. The engine
// owns no network or storage of its own; it orchestrates these.

// Database is the persistent message store. Authorization (who may read or
// write which conversation) is enforced by the implementation, not by the
// engine.
type Database interface {
	// InsertMessage persists a new message and returns its server-assigned
	// ID. The engine passes messages whose ID still carries the temporary
	// prefix; implementations must not store that ID.
	InsertMessage(msg Message) (serverID string, err error)

	// UpdateBody replaces the body of an existing message and marks it
	// edited.
	UpdateBody(messageID, body string) error

	// UpdateReactions replaces the entire reaction map of a message. The
	// whole-map write means two users reacting concurrently last-writer-win
	// at map granularity; see the package documentation.
	UpdateReactions(messageID string, reactions ReactionMap) error

	// DeleteMessage removes a message.
	DeleteMessage(messageID string) error

	// GetMessages returns up to limit messages for the conversation,
	// starting offset messages back from the newest, in ascending CreatedAt
	// order.
	GetMessages(conversationID string, limit, offset int) ([]Message, error)
}

// Subscription is a live transport subscription that can be torn down.
type Subscription interface {
	Unsubscribe()
}

// Transport is the realtime publish/subscribe collaborator. Delivery is at
// least once with no ordering guarantee between events; the engine's handlers
// are idempotent to compensate.
type Transport interface {
	// SubscribeRows delivers row-change notifications for the conversation's
	// messages to cb.
	SubscribeRows(conversationID string, cb func(RowEvent)) (Subscription, error)

	// SubscribeTyping delivers typing broadcasts for the conversation to cb,
	// including the local user's own broadcasts.
	SubscribeTyping(
		conversationID string, cb func(TypingBroadcast)) (Subscription, error)

	// SubscribeMembership invokes cb whenever the conversation's participant
	// set changes. The engine fans this out to a membership refetch.
	SubscribeMembership(
		conversationID string, cb func()) (Subscription, error)

	// BroadcastTyping publishes an ephemeral typing payload to the
	// conversation. Nothing is persisted.
	BroadcastTyping(conversationID string, tb TypingBroadcast) error
}

// Identity supplies the authenticated local user. When no user is available
// the engine disables send, react, and typing without crashing.
type Identity interface {
	// UserID returns the current user's ID, or false when unauthenticated.
	UserID() (string, bool)

	// DisplayName returns the current user's display name for typing
	// broadcasts. May be empty.
	DisplayName() string
}

// Profile is the display metadata attached to messages from other
// participants.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ProfileFetcher resolves sender display metadata for inbound messages.
type ProfileFetcher interface {
	FetchProfile(userID string) (Profile, error)
}

// Cache is the warm conversation cache holding a recent-message snapshot per
// conversation. Reads happen once on attach; writes happen after each
// confirmed batch. Implementations treat malformed stored payloads as a miss
// and clear them. Concurrent tabs last-writer-win on the snapshot; this is an
// accepted limitation.
type Cache interface {
	// Load returns the cached snapshot for the conversation, or false on a
	// miss (absent, expired, or malformed).
	Load(conversationID string) ([]Message, bool)

	// Store overwrites the conversation's snapshot.
	Store(conversationID string, msgs []Message) error

	// Clear removes the conversation's snapshot.
	Clear(conversationID string) error
}
