/*
Package accrual decides whether passive activity (chat messages, voice
presence) earns a reward right now.

PURPOSE:
  Passive sources are rate limited per user: a cooldown between rewards
  and a cap on the currency earned in one wall-clock hour. Explicit
  actions (daily claim, admin grant, shop) never pass through here.

DEFAULTS:
  source   cooldown   hourly cap   currency   xp
  chat     60s        60           1          2
  voice    60s        120          2          3

  Voice carries a level boost: from level 25 the currency part of a tick
  is doubled. The hourly cap counts base currency, so boosted users are
  not throttled earlier than everyone else.

STATE:
  RateLimiterState is process memory. It is built once, injected into the
  engine and swept on a schedule. Restarting the process forgets it, which
  at worst lets a user earn one extra tick.

SEE ALSO:
  - limiter.go: TryAccrue and Sweep
  - voice.go: Voice presence registry
  - engine/pipeline.go: Consumer
*/
package accrual

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source is a passive activity that earns rewards.
type Source string

const (
	SourceChat  Source = "chat"
	SourceVoice Source = "voice"
)

func (s Source) Valid() bool {
	return s == SourceChat || s == SourceVoice
}

// Boost multiplies the currency part of a reward from MinLevel upward.
type Boost struct {
	MinLevel   int
	Multiplier decimal.Decimal
}

// Policy is the rate limit and reward for one source.
type Policy struct {
	Cooldown  time.Duration
	HourlyCap int64
	Currency  int64
	XP        int64
	Boost     *Boost
}

// DefaultPolicies returns the stock chat and voice policies.
func DefaultPolicies() map[Source]Policy {
	return map[Source]Policy{
		SourceChat: {
			Cooldown:  time.Minute,
			HourlyCap: 60,
			Currency:  1,
			XP:        2,
		},
		SourceVoice: {
			Cooldown:  time.Minute,
			HourlyCap: 120,
			Currency:  2,
			XP:        3,
			Boost:     &Boost{MinLevel: 25, Multiplier: decimal.NewFromInt(2)},
		},
	}
}

// Validate rejects policies that could never grant anything.
func (p Policy) Validate() error {
	if p.Cooldown < 0 {
		return fmt.Errorf("cooldown cannot be negative")
	}
	if p.HourlyCap <= 0 {
		return fmt.Errorf("hourly cap must be positive")
	}
	if p.Currency < 0 || p.XP < 0 || p.Currency+p.XP == 0 {
		return fmt.Errorf("policy must award currency or xp")
	}
	if p.Boost != nil && p.Boost.Multiplier.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("boost multiplier must be at least 1")
	}
	return nil
}

// Amounts returns the currency and XP a reward grants at the given level.
// Boosted currency rounds half away from zero.
func (p Policy) Amounts(level int) (currency, xp int64) {
	currency = p.Currency
	if p.Boost != nil && level >= p.Boost.MinLevel && currency > 0 {
		currency = decimal.NewFromInt(currency).Mul(p.Boost.Multiplier).Round(0).IntPart()
	}
	return currency, p.XP
}
