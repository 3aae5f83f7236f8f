/*
pipeline.go - The activity pipeline

PURPOSE:
  One explicit path from "something happened" to "here is what to announce".

ApplyActivity (one storage transaction):

  ┌──────────────┐   ┌─────────────┐   ┌──────────────┐   ┌─────────────┐
  │ drain outbox │──▶│ TryAccrue   │──▶│ award        │──▶│ settle      │
  │ (pending)    │   │ (chat/voice)│   │ currency, XP │   │ level-up    │
  └──────────────┘   └─────────────┘   └──────────────┘   │ AutoCheck   │
         │                  │ denied                       └─────────────┘
         ▼                  ▼                                    │
     batch: pending ─────── return ◀──── batch: level-up, unlocks┘

SETTLE:
  Runs after anything that can move XP or balances (activity, daily claim,
  admin grant, gift, redemption):
    1. level rose ─▶ award RewardsBetween(old, new), category level_up
    2. AutoCheck
    3. an unlock paid XP and the level rose again ─▶ back to 1
  The loop ends because every extra round needs a new unlock.

NOTIFICATION ORDER:
  Outbox entries first (they happened earlier), then the level-up, then
  the achievements unlocked by this activity.

VOICE TICKS:
  Same path without the outbox drain, settled with settleDeferred. Nobody
  reads a tick's result, so its unlocks are queued and the outbox waits
  for the next chat message or command.
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warp/reward-engine/accrual"
	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/leveling"
)

// =============================================================================
// TYPES
// =============================================================================

// Activity is a passive event that may earn a reward.
type Activity struct {
	UserID      ledger.UserID
	Source      accrual.Source
	Description string
}

// LedgerDelta is what an activity credited directly.
type LedgerDelta struct {
	Currency int64
	XP       int64
}

// LevelUpEvent describes a level increase and the rewards paid for it.
type LevelUpEvent struct {
	OldLevel int
	NewLevel int
	Reward   leveling.Reward
}

type NotificationKind string

const (
	NotifyAchievement NotificationKind = "achievement"
	NotifyLevelUp     NotificationKind = "level_up"
)

// Notification is one thing an adapter should announce.
type Notification struct {
	Kind        NotificationKind
	UserID      ledger.UserID
	Achievement *achievements.Unlock
	LevelUp     *LevelUpEvent
}

// NotificationBatch is ordered for display.
type NotificationBatch []Notification

// Outcome is the result of running the pipeline for one user.
type Outcome struct {
	UserID        ledger.UserID
	Accrued       bool
	Decision      accrual.Decision
	Delta         LedgerDelta
	LevelUp       *LevelUpEvent
	Unlocked      []achievements.Unlock
	Notifications NotificationBatch
}

// =============================================================================
// PIPELINE
// =============================================================================

// ApplyActivity runs the full pipeline for a chat message or a voice tick.
// A rate-limit denial is not an error: Accrued is false and Decision says why.
func (e *Engine) ApplyActivity(ctx context.Context, act Activity) (Outcome, error) {
	return e.applyActivity(ctx, act, false)
}

// applyActivity is ApplyActivity with an optional deferred mode for
// activity no one is waiting on. Deferred runs leave the outbox alone and
// queue their unlocks instead of returning them as notifications.
func (e *Engine) applyActivity(ctx context.Context, act Activity, deferred bool) (Outcome, error) {
	out := Outcome{UserID: act.UserID}
	var pending []achievements.Unlock

	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		user, err := e.store.GetUser(ctx, act.UserID)
		if err != nil {
			return err
		}

		if !deferred {
			pending, err = e.achievements.PendingNotifications(ctx, act.UserID)
			if err != nil {
				return fmt.Errorf("drain notifications: %w", err)
			}
		}

		policy, ok := e.limiter.Policy(act.Source)
		if !ok {
			return fmt.Errorf("%w: no accrual policy for %q", ledger.ErrInvalidCategory, act.Source)
		}
		out.Decision = e.limiter.TryAccrue(act.UserID, act.Source, e.now())
		if !out.Decision.Allowed {
			return nil
		}
		out.Accrued = true

		category := ledger.Category(act.Source)
		desc := act.Description
		if desc == "" {
			desc = defaultDescription(act.Source)
		}

		currency, xp := policy.Amounts(user.Level)
		if currency > 0 {
			if _, err := e.awards.AwardCurrency(ctx, act.UserID, currency, category, desc); err != nil {
				return err
			}
			out.Delta.Currency = currency
		}
		if xp > 0 {
			if _, err := e.awards.AwardXP(ctx, act.UserID, xp, category); err != nil {
				return err
			}
			out.Delta.XP = xp
		}

		if deferred {
			return e.settleDeferred(ctx, act.UserID, user.Level, &out)
		}
		return e.settle(ctx, act.UserID, user.Level, &out)
	})
	if err != nil {
		return Outcome{}, err
	}

	if !deferred {
		out.Notifications = buildBatch(act.UserID, pending, out.LevelUp, out.Unlocked)
	}
	return out, nil
}

// RecordChatMessage runs the pipeline for one chat message.
func (e *Engine) RecordChatMessage(ctx context.Context, userID ledger.UserID) (Outcome, error) {
	return e.ApplyActivity(ctx, Activity{UserID: userID, Source: accrual.SourceChat})
}

// AutoCheckAchievements drains the outbox and settles the user without
// crediting anything new.
func (e *Engine) AutoCheckAchievements(ctx context.Context, userID ledger.UserID) (Outcome, error) {
	return e.run(ctx, userID, nil)
}

// run wraps an operation for the acting user in a transaction that drains
// their outbox first and always ends with settle. op may record its own
// unlocks on the outcome; they are announced ahead of the ones settle finds.
func (e *Engine) run(ctx context.Context, userID ledger.UserID, op func(ctx context.Context, out *Outcome) error) (Outcome, error) {
	out := Outcome{UserID: userID}
	var pending []achievements.Unlock

	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		user, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if pending, err = e.achievements.PendingNotifications(ctx, userID); err != nil {
			return fmt.Errorf("drain notifications: %w", err)
		}
		if op != nil {
			if err := op(ctx, &out); err != nil {
				return err
			}
		}
		return e.settle(ctx, userID, user.Level, &out)
	})
	if err != nil {
		return Outcome{}, err
	}

	out.Notifications = buildBatch(userID, pending, out.LevelUp, out.Unlocked)
	return out, nil
}

// settle pays level-up rewards for every level above fromLevel and runs
// achievement checks until nothing changes. Must run inside a transaction.
func (e *Engine) settle(ctx context.Context, userID ledger.UserID, fromLevel int, out *Outcome) error {
	paidThrough := fromLevel

	for round := 0; ; round++ {
		user, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Level > paidThrough {
			reward := leveling.RewardsBetween(paidThrough, user.Level)
			if err := e.payLevelUp(ctx, userID, user.Level, reward); err != nil {
				return err
			}
			if out.LevelUp == nil {
				out.LevelUp = &LevelUpEvent{OldLevel: fromLevel}
			}
			out.LevelUp.NewLevel = user.Level
			out.LevelUp.Reward = addRewards(out.LevelUp.Reward, reward)
			paidThrough = user.Level
		}

		unlocked, err := e.achievements.AutoCheck(ctx, userID)
		if err != nil {
			return fmt.Errorf("auto check: %w", err)
		}
		out.Unlocked = append(out.Unlocked, unlocked...)
		if len(unlocked) == 0 {
			return nil
		}
		if round > len(e.achievements.Definitions()) {
			return fmt.Errorf("settle did not converge for user %d", userID)
		}
	}
}

// settleDeferred is settle for a user who is not part of the conversation:
// unlocks go to the outbox and level-up rewards are paid silently. When out
// is non-nil it still records what happened, without notifications.
func (e *Engine) settleDeferred(ctx context.Context, userID ledger.UserID, fromLevel int, out *Outcome) error {
	paidThrough := fromLevel
	for round := 0; ; round++ {
		unlocked, err := e.achievements.AutoCheckDeferred(ctx, userID)
		if err != nil {
			return fmt.Errorf("auto check: %w", err)
		}
		if out != nil {
			out.Unlocked = append(out.Unlocked, unlocked...)
		}
		user, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Level > paidThrough {
			reward := leveling.RewardsBetween(paidThrough, user.Level)
			if err := e.payLevelUp(ctx, userID, user.Level, reward); err != nil {
				return err
			}
			if out != nil {
				if out.LevelUp == nil {
					out.LevelUp = &LevelUpEvent{OldLevel: fromLevel}
				}
				out.LevelUp.NewLevel = user.Level
				out.LevelUp.Reward = addRewards(out.LevelUp.Reward, reward)
			}
			paidThrough = user.Level
			continue
		}
		if len(unlocked) == 0 || round > len(e.achievements.Definitions()) {
			return nil
		}
	}
}

func (e *Engine) payLevelUp(ctx context.Context, userID ledger.UserID, level int, r leveling.Reward) error {
	if r.Currency > 0 {
		if _, err := e.awards.AwardCurrency(ctx, userID, r.Currency, ledger.CategoryLevelUp,
			fmt.Sprintf("Level up to %d", level)); err != nil {
			return err
		}
	}
	if r.Premium > 0 {
		if _, err := e.awards.AwardPremiumCurrency(ctx, userID, r.Premium, ledger.CategoryLevelUp,
			fmt.Sprintf("Level %d milestone", level)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// VOICE
// =============================================================================

// VoiceJoin starts tracking a user in a voice channel.
func (e *Engine) VoiceJoin(ctx context.Context, userID ledger.UserID, channel string) error {
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return err
	}
	e.voice.Join(userID, channel, e.now())
	return nil
}

// VoiceLeave stops tracking a user and returns how long they stayed.
func (e *Engine) VoiceLeave(userID ledger.UserID) (time.Duration, bool) {
	_, stayed, ok := e.voice.Leave(userID, e.now())
	return stayed, ok
}

// VoiceSessions lists users currently in voice.
func (e *Engine) VoiceSessions() []accrual.VoiceSession {
	return e.voice.Active()
}

// VoiceTickSummary counts what one tick did.
type VoiceTickSummary struct {
	Sessions int
	Accrued  int
	Denied   int
	Failed   int
	Outcomes []Outcome
}

// VoiceTick runs the pipeline for every voice session that has been
// present for at least one cooldown. One user's failure does not stop the
// others. Ticks are deferred runs: the outbox is never drained here, and
// unlocks are queued for the user's next chat message or command.
func (e *Engine) VoiceTick(ctx context.Context) (VoiceTickSummary, error) {
	var summary VoiceTickSummary
	policy, ok := e.limiter.Policy(accrual.SourceVoice)
	if !ok {
		return summary, nil
	}

	now := e.now()
	for _, s := range e.voice.Active() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if now.Sub(s.JoinedAt) < policy.Cooldown {
			continue
		}
		summary.Sessions++

		out, err := e.applyActivity(ctx, Activity{
			UserID:      s.UserID,
			Source:      accrual.SourceVoice,
			Description: "Voice chat: " + s.Channel,
		}, true)
		if err != nil {
			summary.Failed++
			log.Printf("[Engine] voice tick failed for user %d: %v", s.UserID, err)
			continue
		}
		if out.Accrued {
			summary.Accrued++
			summary.Outcomes = append(summary.Outcomes, out)
		} else {
			summary.Denied++
		}
	}
	return summary, nil
}

// SweepLimiter evicts stale rate-limiter entries.
func (e *Engine) SweepLimiter() int {
	return e.limiter.Sweep(e.now())
}

// =============================================================================
// HELPERS
// =============================================================================

func buildBatch(userID ledger.UserID, pending []achievements.Unlock, levelUp *LevelUpEvent, unlocked []achievements.Unlock) NotificationBatch {
	batch := make(NotificationBatch, 0, len(pending)+len(unlocked)+1)
	for i := range pending {
		batch = append(batch, Notification{Kind: NotifyAchievement, UserID: userID, Achievement: &pending[i]})
	}
	if levelUp != nil {
		batch = append(batch, Notification{Kind: NotifyLevelUp, UserID: userID, LevelUp: levelUp})
	}
	for i := range unlocked {
		batch = append(batch, Notification{Kind: NotifyAchievement, UserID: userID, Achievement: &unlocked[i]})
	}
	return batch
}

func addRewards(a, b leveling.Reward) leveling.Reward {
	return leveling.Reward{
		Currency:  a.Currency + b.Currency,
		Premium:   a.Premium + b.Premium,
		Milestone: a.Milestone || b.Milestone,
		Unlocks:   append(append([]string(nil), a.Unlocks...), b.Unlocks...),
	}
}

func defaultDescription(src accrual.Source) string {
	switch src {
	case accrual.SourceChat:
		return "Chatting"
	case accrual.SourceVoice:
		return "Voice chat"
	}
	return string(src)
}
