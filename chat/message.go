////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength is the maximum number of characters allowed in a message
// body. Longer bodies are rejected before any network call is made.
const MaxMessageLength = 2000

// tempIDPrefix marks locally generated message IDs. Server-assigned IDs never
// carry it, so the two namespaces cannot collide.
const tempIDPrefix = "tmp-"

// MessageKind describes what sort of entry a message is.
type MessageKind uint8

const (
	// Text is an ordinary user-authored message.
	Text MessageKind = iota

	// System is a machine-generated entry, such as a join notice.
	System

	// Announcement is a pinned, moderator-authored broadcast.
	Announcement
)

// String adheres to the fmt.Stringer interface.
func (mk MessageKind) String() string {
	switch mk {
	case Text:
		return "text"
	case System:
		return "system"
	case Announcement:
		return "announcement"
	default:
		return "invalid MessageKind: " + strconv.Itoa(int(mk))
	}
}

// SentStatus represents the current delivery status of a message.
type SentStatus uint8

const (
	// Pending is the status of a locally created message before the server
	// confirms it.
	Pending SentStatus = iota

	// Confirmed is the status of a message with a server-assigned ID.
	Confirmed

	// Failed is the status of a message whose network write failed. A failed
	// message is either discarded or resubmitted as a new pending entry; it
	// is never silently retried.
	Failed
)

// String adheres to the fmt.Stringer interface.
func (ss SentStatus) String() string {
	switch ss {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "invalid SentStatus: " + strconv.Itoa(int(ss))
	}
}

// ReactionMap maps a reaction key (a single emoji) to the IDs of the users
// who applied it. Buckets are pruned when they empty; a key present in the
// map always has at least one user.
type ReactionMap map[string][]string

// Message is a single entry in a conversation.
//
// ReplyToID is an ID reference resolved by lookup against the store, never an
// embedded copy of the parent, since a reply can itself carry a reply.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName,omitempty"`
	Body           string      `json:"body"`
	Kind           MessageKind `json:"kind"`
	ReplyToID      string      `json:"replyToId,omitempty"`
	Reactions      ReactionMap `json:"reactions,omitempty"`
	Edited         bool        `json:"edited,omitempty"`
	EditedAt       time.Time   `json:"editedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Status         SentStatus  `json:"status"`
}

// NewTempID generates a locally unique provisional message ID, distinguishable
// from server-assigned IDs by its reserved prefix.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether the given ID was locally generated.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// ValidateBody checks messages body constraints before a send is attempted.
// It returns EmptyMessageErr or MessageTooLongErr on violation.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return EmptyMessageErr
	}
	if len([]rune(body)) > MaxMessageLength {
		return MessageTooLongErr
	}
	return nil
}

// copyReactions deep-copies a reaction map so snapshots and optimistic
// rollbacks never alias live state.
func copyReactions(r ReactionMap) ReactionMap {
	if r == nil {
		return nil
	}
	out := make(ReactionMap, len(r))
	for key, users := range r {
		cp := make([]string, len(users))
		copy(cp, users)
		out[key] = cp
	}
	return out
}

// copyMessage returns a value copy of m with no shared mutable state.
func copyMessage(m *Message) Message {
	cp := *m
	cp.Reactions = copyReactions(m.Reactions)
	return cp
}
