////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/shelfshare/chatsync/stoppable"
)

// sendRequest holds the original inputs of a send so a failed message can be
// resubmitted verbatim.
type sendRequest struct {
	body      string
	replyToID string
}

// sendPipeline orchestrates an optimistic send: validate, admit through the
// rate limiter, append a pending entry synchronously, then issue the network
// write and reconcile the pending entry in place with the confirmed copy or
// flip it to failed.
//
// There is no automatic retry or backoff on failure; resubmission is a
// manual, caller-triggered action via Retry.
type sendPipeline struct {
	conversationID string
	store          *MessageStore
	db             Database
	limiter        *RateLimiter
	identity       Identity
	typing         *typingBroadcaster

	// timeout is the safeguard window. A message still pending when it
	// elapses is removed so a lost write response cannot strand a ghost
	// entry.
	timeout time.Duration

	tasks      *stoppable.Multi
	generation func() uint64

	// onConfirmed, when set, runs after a pending entry is confirmed in
	// place. The manager uses it to refresh the warm cache.
	onConfirmed func()

	// tracked maps a temporary message ID to its original request while the
	// entry is pending or failed.
	tracked map[string]sendRequest
	mux     sync.Mutex
}

func newSendPipeline(conversationID string, store *MessageStore, db Database,
	limiter *RateLimiter, identity Identity, typing *typingBroadcaster,
	timeout time.Duration, tasks *stoppable.Multi,
	generation func() uint64) *sendPipeline {
	return &sendPipeline{
		conversationID: conversationID,
		store:          store,
		db:             db,
		limiter:        limiter,
		identity:       identity,
		typing:         typing,
		timeout:        timeout,
		tasks:          tasks,
		generation:     generation,
		tracked:        make(map[string]sendRequest),
	}
}

// Send validates and submits a new message. The pending entry is visible in
// the store before Send returns; the network write completes in the
// background. The returned ID is the temporary ID of the pending entry.
func (p *sendPipeline) Send(body, replyToID string) (string, error) {
	if err := ValidateBody(body); err != nil {
		return "", err
	}

	userID, ok := p.identity.UserID()
	if !ok {
		return "", NotLoggedInErr
	}

	if admitted, retryAfter := p.limiter.TryAcquire(); !admitted {
		return "", &RateLimitedErr{RetryAfter: retryAfter}
	}

	msg := Message{
		ID:             NewTempID(),
		ConversationID: p.conversationID,
		SenderID:       userID,
		SenderName:     p.identity.DisplayName(),
		Body:           body,
		Kind:           Text,
		ReplyToID:      replyToID,
		CreatedAt:      netTime.Now(),
		Status:         Pending,
	}

	p.mux.Lock()
	p.tracked[msg.ID] = sendRequest{body: body, replyToID: replyToID}
	p.mux.Unlock()

	// The caller must observe the pending entry before any network I/O.
	p.store.Insert(msg)

	// The user sent, so their typing indicator stops now.
	if p.typing != nil {
		go func() {
			if err := p.typing.Stop(); err != nil {
				jww.WARN.Printf("Typing stop on send failed: %+v", err)
			}
		}()
	}

	safeguard := stoppable.RunTimer(
		"sendSafeguard", p.timeout, func() { p.cullGhost(msg.ID) })
	p.tasks.Add(safeguard)

	gen := p.generation()
	go p.write(msg, safeguard, gen)

	return msg.ID, nil
}

// write performs the network write and reconciles the pending entry.
func (p *sendPipeline) write(
	msg Message, safeguard *stoppable.Single, gen uint64) {
	serverID, err := p.db.InsertMessage(msg)

	_ = safeguard.Close()

	if p.generation() != gen {
		jww.DEBUG.Printf("Discarding send result for %s: conversation "+
			"detached during write.", msg.ID)
		return
	}

	if err != nil {
		jww.WARN.Printf("Send of message %s failed: %+v", msg.ID, err)
		p.store.SetStatus(msg.ID, Failed)
		return
	}

	p.mux.Lock()
	delete(p.tracked, msg.ID)
	p.mux.Unlock()

	confirmed := msg
	confirmed.ID = serverID
	confirmed.Status = Confirmed
	if !p.store.Replace(msg.ID, confirmed) {
		jww.WARN.Printf("Pending message %s disappeared before "+
			"confirmation as %s.", msg.ID, serverID)
		return
	}

	if p.onConfirmed != nil {
		p.onConfirmed()
	}
}

// cullGhost removes a message that is still pending when the safeguard
// elapses, meaning neither success nor failure ever arrived.
func (p *sendPipeline) cullGhost(tempID string) {
	m, exists := p.store.Get(tempID)
	if !exists || m.Status != Pending {
		return
	}

	jww.WARN.Printf("Removing ghost message %s: no send result within %s.",
		tempID, p.timeout)
	p.store.Remove(tempID)
	p.mux.Lock()
	delete(p.tracked, tempID)
	p.mux.Unlock()
}

// Retry resubmits a failed entry's original body and reply reference as a
// fresh send. The failed entry is removed only once the resend is admitted.
func (p *sendPipeline) Retry(messageID string) (string, error) {
	msg, exists := p.store.Get(messageID)
	if !exists {
		return "", UnknownMessageErr
	}
	if msg.Status != Failed {
		return "", NotFailedErr
	}

	p.mux.Lock()
	req, tracked := p.tracked[messageID]
	p.mux.Unlock()
	if !tracked {
		req = sendRequest{body: msg.Body, replyToID: msg.ReplyToID}
	}

	// Resubmit before discarding the failed entry, so a rejected send (rate
	// limit, logout) leaves the original content retryable.
	newID, err := p.Send(req.body, req.replyToID)
	if err != nil {
		return "", err
	}

	p.mux.Lock()
	delete(p.tracked, messageID)
	p.mux.Unlock()
	p.store.Remove(messageID)

	return newID, nil
}
