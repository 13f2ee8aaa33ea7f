////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package storage provides the ekv-backed warm conversation cache: the most
// recent confirmed messages per conversation, read once on attach so a
// conversation renders before the network responds, and overwritten after
// each confirmed batch.
package storage

import (
	"encoding/json"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/shelfshare/chatsync/chat"
)

const (
	cacheKeyPrefix = "conversationCache/"
	cacheVersion   = 0
)

// snapshot is the stored form of a conversation's warm cache entry.
type snapshot struct {
	Version  uint           `json:"version"`
	SavedAt  time.Time      `json:"savedAt"`
	Messages []chat.Message `json:"messages"`
}

// ConversationCache persists recent-message snapshots in a local key/value
// store. It adheres to the chat.Cache interface. Snapshots older than the
// TTL, or that fail to decode, are treated as misses and cleared. Concurrent
// tabs sharing the backing store last-writer-win; that is accepted, not
// coordinated.
type ConversationCache struct {
	kv  ekv.KeyValue
	ttl time.Duration
}

// NewConversationCache wraps a key/value store. Use ekv.MakeMemstore for
// tests and ekv.NewFilestore for a persistent app-local cache.
func NewConversationCache(
	kv ekv.KeyValue, ttl time.Duration) *ConversationCache {
	return &ConversationCache{kv: kv, ttl: ttl}
}

// Load returns the cached snapshot for the conversation, or false on a miss.
// Malformed or stale entries are cleared on the way out.
func (cc *ConversationCache) Load(conversationID string) ([]chat.Message, bool) {
	key := cacheKeyPrefix + conversationID

	data, err := cc.kv.GetBytes(key)
	if err != nil {
		if ekv.Exists(err) {
			jww.WARN.Printf("Failed to read warm cache for conversation "+
				"%s: %+v", conversationID, err)
		}
		return nil, false
	}

	var snap snapshot
	if err = json.Unmarshal(data, &snap); err != nil ||
		snap.Version != cacheVersion {
		jww.WARN.Printf("Clearing malformed warm cache entry for "+
			"conversation %s: %+v", conversationID, err)
		_ = cc.kv.Delete(key)
		return nil, false
	}

	if netTime.Now().Sub(snap.SavedAt) > cc.ttl {
		jww.DEBUG.Printf("Warm cache entry for conversation %s expired "+
			"(saved %s).", conversationID, snap.SavedAt)
		_ = cc.kv.Delete(key)
		return nil, false
	}

	return snap.Messages, true
}

// Store overwrites the conversation's snapshot with msgs.
func (cc *ConversationCache) Store(
	conversationID string, msgs []chat.Message) error {
	data, err := json.Marshal(snapshot{
		Version:  cacheVersion,
		SavedAt:  netTime.Now(),
		Messages: msgs,
	})
	if err != nil {
		return err
	}
	return cc.kv.SetBytes(cacheKeyPrefix+conversationID, data)
}

// Clear removes the conversation's snapshot, if any.
func (cc *ConversationCache) Clear(conversationID string) error {
	return cc.kv.Delete(cacheKeyPrefix + conversationID)
}
