////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"encoding/json"
	"time"
)

// Params contains the tunable parameters of a conversation engine. Callers
// usually start from DefaultParams and override individual fields.
type Params struct {
	// RateLimitEvents is the maximum number of sends allowed within
	// RateLimitWindow.
	RateLimitEvents int `json:"rateLimitEvents"`

	// RateLimitWindow is the trailing window the rate limiter counts over.
	RateLimitWindow time.Duration `json:"rateLimitWindow"`

	// SendTimeout is how long a pending message may wait for the network
	// write to resolve before it is culled as a ghost.
	SendTimeout time.Duration `json:"sendTimeout"`

	// TypingSendTTL is the inactivity window after which a local typing
	// indicator auto-stops.
	TypingSendTTL time.Duration `json:"typingSendTTL"`

	// TypingReceiveTTL is how long a remote user's typing entry survives
	// without a refreshing broadcast.
	TypingReceiveTTL time.Duration `json:"typingReceiveTTL"`

	// PageSize is the number of messages fetched per pagination request.
	PageSize int `json:"pageSize"`

	// CacheSize is the number of most recent confirmed messages persisted to
	// the warm conversation cache.
	CacheSize int `json:"cacheSize"`

	// CacheTTL is how long a cached snapshot stays usable. Older snapshots
	// are treated as misses.
	CacheTTL time.Duration `json:"cacheTTL"`

	// ReactionMode selects single-select (community/room chat) or
	// multi-select (direct message) reaction semantics.
	ReactionMode ReactionMode `json:"reactionMode"`
}

// DefaultParams returns a Params object with recommended defaults.
func DefaultParams() Params {
	return Params{
		RateLimitEvents:  10,
		RateLimitWindow:  time.Minute,
		SendTimeout:      10 * time.Second,
		TypingSendTTL:    6 * time.Second,
		TypingReceiveTTL: 5 * time.Second,
		PageSize:         50,
		CacheSize:        50,
		CacheTTL:         24 * time.Hour,
		ReactionMode:     SingleSelect,
	}
}

// Marshal serializes the Params for transfer over an embedding boundary.
func (p Params) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalParams deserializes Params produced by Marshal.
func UnmarshalParams(data []byte) (Params, error) {
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, err
	}
	return p, nil
}
