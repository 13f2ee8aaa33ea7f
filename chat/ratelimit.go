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

// RateLimiter is sliding-window admission control for local send attempts.
// It keeps the timestamps of attempts within a trailing window; once the
// window holds maxEvents, further attempts are denied with a retry-after
// value. A live one-second countdown of that value is maintained and clears
// itself; callers never reset it manually.
type RateLimiter struct {
	maxEvents int
	window    time.Duration

	attempts []time.Time

	retryAfter int
	countdown  *stoppable.Single

	// onCountdown, when set, is invoked with the remaining seconds on every
	// countdown change, including the final zero.
	onCountdown func(seconds int)

	mux sync.Mutex
}

// NewRateLimiter returns a RateLimiter allowing maxEvents per trailing
// window.
func NewRateLimiter(maxEvents int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxEvents: maxEvents,
		window:    window,
	}
}

// SetCountdownCallback registers a callback receiving the live retry-after
// countdown. Must be called before the first TryAcquire.
func (rl *RateLimiter) SetCountdownCallback(f func(seconds int)) {
	rl.mux.Lock()
	rl.onCountdown = f
	rl.mux.Unlock()
}

// TryAcquire records a send attempt. It returns true when the attempt is
// admitted. When denied it returns false along with the number of whole
// seconds until the oldest counted attempt leaves the window.
func (rl *RateLimiter) TryAcquire() (bool, int) {
	rl.mux.Lock()
	defer rl.mux.Unlock()

	now := netTime.Now()
	rl.pruneLocked(now)

	if len(rl.attempts) >= rl.maxEvents {
		oldest := rl.attempts[0]
		wait := oldest.Add(rl.window).Sub(now)
		secs := int((wait + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		jww.DEBUG.Printf("Send denied by rate limiter: %d events in "+
			"window, retry in %ds.", len(rl.attempts), secs)
		rl.setCountdownLocked(secs)
		return false, secs
	}

	rl.attempts = append(rl.attempts, now)
	rl.setCountdownLocked(0)
	return true, 0
}

// RetryAfter returns the live countdown in seconds, or zero when sends are
// admissible.
func (rl *RateLimiter) RetryAfter() int {
	rl.mux.Lock()
	defer rl.mux.Unlock()
	return rl.retryAfter
}

// Stop cancels the countdown task. Called on conversation detach.
func (rl *RateLimiter) Stop() {
	rl.mux.Lock()
	c := rl.countdown
	rl.countdown = nil
	rl.retryAfter = 0
	rl.mux.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// pruneLocked drops attempts older than the trailing window.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.attempts) && !rl.attempts[i].After(cutoff) {
		i++
	}
	rl.attempts = rl.attempts[i:]
}

// setCountdownLocked updates the live countdown and starts the ticking task
// if one is not already running.
func (rl *RateLimiter) setCountdownLocked(secs int) {
	changed := rl.retryAfter != secs
	rl.retryAfter = secs
	cb := rl.onCountdown

	if secs > 0 && rl.countdown == nil {
		rl.countdown = stoppable.NewSingle("rateLimitCountdown")
		go rl.countdownTask(rl.countdown)
	}
	if secs == 0 && rl.countdown != nil {
		_ = rl.countdown.Close()
		rl.countdown = nil
	}

	if changed && cb != nil {
		go cb(secs)
	}
}

// countdownTask decrements the countdown once per second until it reaches
// zero or the task is stopped.
func (rl *RateLimiter) countdownTask(stop *stoppable.Single) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.mux.Lock()
			if rl.countdown != stop {
				rl.mux.Unlock()
				stop.ToStopped()
				return
			}
			rl.retryAfter--
			remaining := rl.retryAfter
			cb := rl.onCountdown
			if remaining <= 0 {
				rl.retryAfter = 0
				rl.countdown = nil
			}
			rl.mux.Unlock()

			if cb != nil {
				cb(remaining)
			}
			if remaining <= 0 {
				stop.ToStopped()
				return
			}
		case <-stop.Quit():
			stop.ToStopped()
			return
		}
	}
}
