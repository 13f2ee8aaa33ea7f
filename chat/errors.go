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

var (
	// EmptyMessageErr is returned when attempting to send a message whose
	// body is empty or only whitespace.
	EmptyMessageErr = errors.New("the message body cannot be empty")

	// MessageTooLongErr is returned when attempting to send a message that
	// exceeds MaxMessageLength characters.
	MessageTooLongErr = errors.New("the passed message is too long")

	// NotLoggedInErr is returned when an operation requires an authenticated
	// user and the identity collaborator has none.
	NotLoggedInErr = errors.New("no authenticated user is available")

	// UnknownMessageErr is returned when an operation references a message ID
	// that is not present in the store.
	UnknownMessageErr = errors.New("the message cannot be found")

	// NotFailedErr is returned when retrying a message that is not in the
	// failed state. Pending and confirmed messages cannot be resubmitted.
	NotFailedErr = errors.New("only failed messages can be retried")

	// UnconfirmedMessageErr is returned when reacting to or editing a
	// message the server has not confirmed yet.
	UnconfirmedMessageErr = errors.New(
		"the message has not been confirmed by the server")

	// InvalidReactionErr is returned when a reaction key is not exactly one
	// emoji.
	InvalidReactionErr = errors.New(
		"the reaction is not valid; it must be a single emoji")

	// NotSenderErr is returned when editing or deleting a message authored
	// by somebody else.
	NotSenderErr = errors.New(
		"only the message's sender can modify it")

	// DetachedErr is returned when an operation is called on a manager that
	// is not attached to a conversation.
	DetachedErr = errors.New("not attached to a conversation")
)

// RateLimitedErr is returned by send attempts denied by the rate limiter. It
// carries the number of seconds until the next attempt can succeed.
type RateLimitedErr struct {
	RetryAfter int
}

// Error adheres to the error interface.
func (rle *RateLimitedErr) Error() string {
	return "rate limited; retry in " +
		strconv.Itoa(rle.RetryAfter) + "s"
}

// IsRateLimited reports whether err is a rate-limit denial and, if so,
// returns the retry-after window in seconds.
func IsRateLimited(err error) (int, bool) {
	var rle *RateLimitedErr
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}
