// Package ratelimit implements the per-user chat quota: a token bucket kept
// as "debt" (consumed, not yet refilled capacity) so its state is two fields
// that can live on a user record and be recomputed lazily at decision time.
package ratelimit

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// State is the persisted bucket state. A zero LastReset means the bucket has
// never been used.
type State struct {
	Debt      float64   `json:"debt"`
	LastReset time.Time `json:"last_reset"`
}

// Limit is the bucket shape: MaxRequests tokens, fully refilled over Period.
type Limit struct {
	MaxRequests int           `json:"max_requests"`
	Period      time.Duration `json:"period"`
}

func (l Limit) Validate() error {
	if l.MaxRequests < 1 {
		return fmt.Errorf("max requests must be positive, got %d", l.MaxRequests)
	}
	if l.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", l.Period)
	}
	return nil
}

// refillRate is tokens regained per second.
func (l Limit) refillRate() float64 {
	return float64(l.MaxRequests) / l.Period.Seconds()
}

// Decision is the outcome of Check. On admission Next holds the state the
// caller must persist before treating the request as consumed. On denial
// Next is nil and RetryAfter is the earliest instant a request can succeed.
type Decision struct {
	Allowed    bool
	RetryAfter time.Time
	Next       *State
}

// WaitFor is how long the caller has to wait from now; zero when allowed.
func (d Decision) WaitFor(now time.Time) time.Duration {
	if d.Allowed || !d.RetryAfter.After(now) {
		return 0
	}
	return d.RetryAfter.Sub(now)
}

// Check decides whether one more request fits in the bucket at now. It has
// no side effects; callers persist Next atomically with their read of state.
//
// Negative debt is treated as zero and a LastReset in the future as no
// elapsed time. A limit that fails Validate never admits.
func Check(state State, limit Limit, now time.Time) Decision {
	if limit.Validate() != nil {
		return Decision{}
	}

	rate := limit.refillRate()
	capacity := float64(limit.MaxRequests)

	lastReset := state.LastReset
	if lastReset.IsZero() {
		lastReset = now
	}
	elapsed := now.Sub(lastReset).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	debt := math.Max(0, math.Max(0, state.Debt)-elapsed*rate)

	if debt+1 <= capacity {
		return Decision{
			Allowed: true,
			Next:    &State{Debt: math.Ceil(debt + 1), LastReset: now},
		}
	}

	excess := debt - (capacity - 1)
	wait := time.Duration(math.MaxInt64)
	// Corrupt or enormous debt must not overflow into a past retry time.
	if ns := excess / rate * float64(time.Second); ns < math.MaxInt64 {
		wait = time.Duration(ns)
	}
	return Decision{RetryAfter: now.Add(wait)}
}

// Remaining reports how many requests state admits at now without waiting.
func Remaining(state State, limit Limit, now time.Time) int {
	if limit.Validate() != nil {
		return 0
	}
	n := 0
	for n < limit.MaxRequests {
		d := Check(state, limit, now)
		if !d.Allowed {
			break
		}
		state = *d.Next
		n++
	}
	return n
}

// HumanizeRetry renders the wait until retryAfter for end users,
// e.g. "3 days from now".
func HumanizeRetry(retryAfter, now time.Time) string {
	if !retryAfter.After(now) {
		return "now"
	}
	return humanize.RelTime(retryAfter, now, "ago", "from now")
}
