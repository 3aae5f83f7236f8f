package accrual

import (
	"sync"
	"time"

	"github.com/warp/reward-engine/ledger"
)

// Denial reasons.
const (
	ReasonCooldown  = "cooldown"
	ReasonHourlyCap = "hourly_cap"
	ReasonNoPolicy  = "no_policy"
)

// Decision is the outcome of TryAccrue. A denial is not an error.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

type limiterKey struct {
	user   ledger.UserID
	source Source
}

type limiterEntry struct {
	lastReward time.Time
	bucket     time.Time // start of the wall-clock hour being counted
	earned     int64     // currency granted within bucket
}

// RateLimiterState tracks per-user, per-source cooldowns and hourly totals.
// Safe for concurrent use.
type RateLimiterState struct {
	mu       sync.Mutex
	policies map[Source]Policy
	entries  map[limiterKey]*limiterEntry
}

// NewRateLimiterState builds a limiter over the given policies.
func NewRateLimiterState(policies map[Source]Policy) *RateLimiterState {
	p := make(map[Source]Policy, len(policies))
	for k, v := range policies {
		p[k] = v
	}
	return &RateLimiterState{
		policies: p,
		entries:  make(map[limiterKey]*limiterEntry),
	}
}

// Policy returns the policy for a source.
func (r *RateLimiterState) Policy(source Source) (Policy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[source]
	return p, ok
}

// TryAccrue checks the cooldown and the hourly cap and, when both pass,
// records the reward in the same critical section. Two concurrent calls
// for the same user and source can never both be allowed inside one
// cooldown window.
func (r *RateLimiterState) TryAccrue(userID ledger.UserID, source Source, now time.Time) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[source]
	if !ok {
		return Decision{Reason: ReasonNoPolicy}
	}

	key := limiterKey{user: userID, source: source}
	e := r.entries[key]

	if e != nil {
		if elapsed := now.Sub(e.lastReward); elapsed < p.Cooldown {
			return Decision{Reason: ReasonCooldown, RetryAfter: p.Cooldown - elapsed}
		}
	}

	bucket := hourBucket(now)
	var earned int64
	if e != nil && e.bucket.Equal(bucket) {
		earned = e.earned
	}
	if earned >= p.HourlyCap {
		return Decision{Reason: ReasonHourlyCap, RetryAfter: bucket.Add(time.Hour).Sub(now)}
	}

	if e == nil {
		e = &limiterEntry{}
		r.entries[key] = e
	}
	e.lastReward = now
	e.bucket = bucket
	e.earned = earned + p.Currency

	return Decision{Allowed: true}
}

// Sweep drops entries that can no longer deny anything: their hour is over
// and their cooldown has passed. Returns how many were removed.
func (r *RateLimiterState) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := hourBucket(now)
	removed := 0
	for key, e := range r.entries {
		if !e.bucket.Before(current) {
			continue
		}
		if now.Sub(e.lastReward) < r.policies[key.source].Cooldown {
			continue
		}
		delete(r.entries, key)
		removed++
	}
	return removed
}

// Len returns the number of tracked (user, source) pairs.
func (r *RateLimiterState) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// hourBucket keys the cap by absolute UTC hour, so 14:00 today and
// 14:00 tomorrow are different buckets.
func hourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
