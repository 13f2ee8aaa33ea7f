////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// subscriptionManager owns the conversation's transport subscriptions: row
// changes on the message table, participant changes, and the ephemeral typing
// broadcast channel. Payloads are validated here at the boundary; malformed
// events are logged and dropped before they can reach state.
type subscriptionManager struct {
	conversationID string
	transport      Transport

	subs []Subscription
	mux  sync.Mutex
}

func newSubscriptionManager(
	conversationID string, transport Transport) *subscriptionManager {
	return &subscriptionManager{
		conversationID: conversationID,
		transport:      transport,
	}
}

// Attach opens all three subscriptions. On any failure, subscriptions already
// opened are torn down again.
func (sm *subscriptionManager) Attach(onRow func(RowEvent),
	onTyping func(TypingBroadcast), onMembership func()) error {

	rowSub, err := sm.transport.SubscribeRows(
		sm.conversationID, func(ev RowEvent) {
			if err := ev.Validate(); err != nil {
				jww.WARN.Printf("Dropping malformed row event on "+
					"conversation %s: %+v", sm.conversationID, err)
				return
			}
			onRow(ev)
		})
	if err != nil {
		return errors.WithMessage(err, "failed to subscribe to row events")
	}

	typingSub, err := sm.transport.SubscribeTyping(
		sm.conversationID, func(tb TypingBroadcast) {
			if err := tb.Validate(); err != nil {
				jww.WARN.Printf("Dropping malformed typing broadcast on "+
					"conversation %s: %+v", sm.conversationID, err)
				return
			}
			onTyping(tb)
		})
	if err != nil {
		rowSub.Unsubscribe()
		return errors.WithMessage(
			err, "failed to subscribe to typing broadcasts")
	}

	memberSub, err := sm.transport.SubscribeMembership(
		sm.conversationID, onMembership)
	if err != nil {
		rowSub.Unsubscribe()
		typingSub.Unsubscribe()
		return errors.WithMessage(
			err, "failed to subscribe to membership changes")
	}

	sm.mux.Lock()
	sm.subs = []Subscription{rowSub, typingSub, memberSub}
	sm.mux.Unlock()

	jww.INFO.Printf("Subscribed to conversation %s.", sm.conversationID)
	return nil
}

// Detach tears down every owned subscription. Safe to call repeatedly.
func (sm *subscriptionManager) Detach() {
	sm.mux.Lock()
	subs := sm.subs
	sm.subs = nil
	sm.mux.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if len(subs) > 0 {
		jww.INFO.Printf(
			"Unsubscribed from conversation %s.", sm.conversationID)
	}
}
