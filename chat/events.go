////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"strconv"

	"github.com/pkg/errors"
)

// RowEventType tags a row-change notification from the realtime transport.
type RowEventType uint8

const (
	// RowInsert announces a newly persisted message.
	RowInsert RowEventType = iota

	// RowUpdate announces changed fields on an existing message.
	RowUpdate

	// RowDelete announces removal of a message.
	RowDelete
)

// String adheres to the fmt.Stringer interface.
func (ret RowEventType) String() string {
	switch ret {
	case RowInsert:
		return "insert"
	case RowUpdate:
		return "update"
	case RowDelete:
		return "delete"
	default:
		return "invalid RowEventType: " + strconv.Itoa(int(ret))
	}
}

// RowEvent is a validated row-change notification. The transport delivers
// these at least once with no cross-event ordering guarantee; all handlers
// downstream are idempotent.
//
// For RowInsert and RowUpdate, Message carries the row contents. For
// RowUpdate only the changed fields need to be meaningful; the merge is
// field-wise. For RowDelete only MessageID is set.
type RowEvent struct {
	Type      RowEventType
	MessageID string
	Message   *Message
}

// Validate checks a RowEvent at the transport boundary. Events failing
// validation are logged and dropped, never applied as state.
func (re *RowEvent) Validate() error {
	switch re.Type {
	case RowInsert, RowUpdate:
		if re.Message == nil {
			return errors.Errorf(
				"%s event is missing its message payload", re.Type)
		}
		if re.Message.ID == "" {
			return errors.Errorf("%s event has an empty message ID", re.Type)
		}
		if re.Type == RowInsert && re.Message.SenderID == "" {
			return errors.New("insert event has an empty sender ID")
		}
	case RowDelete:
		if re.MessageID == "" {
			return errors.New("delete event has an empty message ID")
		}
	default:
		return errors.Errorf("unknown row event type %d", re.Type)
	}
	return nil
}

// TypingBroadcast is the ephemeral typing-presence payload exchanged on the
// conversation's broadcast channel. It is never written to persistent
// storage.
type TypingBroadcast struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Typing      bool   `json:"typing"`
}

// Validate checks a TypingBroadcast at the transport boundary.
func (tb *TypingBroadcast) Validate() error {
	if tb.UserID == "" {
		return errors.New("typing broadcast has an empty user ID")
	}
	return nil
}
