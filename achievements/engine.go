/*
engine.go - Achievement detection, disbursement and the notification outbox

PURPOSE:
  Evaluates every definition against one user snapshot and grants each
  newly-true achievement exactly once.

STATE MACHINE (per user, achievement):
  locked ──▶ unlocked (terminal, timestamped)

  The transition is a conditional upsert guarded by completed_at IS NULL.
  Only the caller that flips the row disburses the reward, and both happen
  in the same storage transaction: a failed disbursement rolls the unlock
  back, so nobody is shown an achievement they were never paid for.

OUTBOX:
  Unlocks that happen outside a conversation (account merge) are written to
  pending_achievement_notifications in the same transaction. The next
  activity for that user drains the queue (select + delete, one transaction)
  and announces them.

SEE ALSO:
  - definition.go: Conditions and snapshot
  - engine/pipeline.go: Drains the outbox before each activity
  - accounts/accounts.go: Uses AutoCheckDeferred during links and merges
*/
package achievements

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/rewards"
)

// Store is the persistence the engine needs.
type Store interface {
	ledger.Transactor

	// SyncDefinitions upserts the catalog by name and returns ids by name.
	SyncDefinitions(ctx context.Context, defs []Definition) (map[string]int64, error)

	Snapshot(ctx context.Context, userID ledger.UserID) (Snapshot, error)

	// CompleteAchievement marks the pair completed if it is not already.
	// Returns false when the row was already completed.
	CompleteAchievement(ctx context.Context, ua UserAchievement, at time.Time) (bool, error)

	ListUserAchievements(ctx context.Context, userID ledger.UserID) ([]UserAchievement, error)

	EnqueueNotification(ctx context.Context, userID ledger.UserID, achievementID int64, at time.Time) error

	// DrainNotifications returns and deletes every queued entry, oldest first.
	DrainNotifications(ctx context.Context, userID ledger.UserID) ([]PendingNotification, error)
}

// Engine evaluates achievement definitions for users.
type Engine struct {
	store  Store
	awards *rewards.Service
	defs   []Definition
	ids    map[string]int64
	byID   map[int64]Definition
}

// NewEngine validates and persists the catalog, then returns a ready engine.
func NewEngine(ctx context.Context, store Store, awards *rewards.Service, defs []Definition) (*Engine, error) {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate achievement %q", d.Name)
		}
		seen[d.Name] = true
	}

	ids, err := store.SyncDefinitions(ctx, defs)
	if err != nil {
		return nil, fmt.Errorf("sync achievements: %w", err)
	}

	e := &Engine{
		store:  store,
		awards: awards,
		defs:   defs,
		ids:    ids,
		byID:   make(map[int64]Definition, len(defs)),
	}
	for _, d := range defs {
		e.byID[ids[d.Name]] = d
	}
	return e, nil
}

// Definitions returns the loaded catalog.
func (e *Engine) Definitions() []Definition {
	out := make([]Definition, len(e.defs))
	copy(out, e.defs)
	return out
}

// =============================================================================
// CHECKING
// =============================================================================

// AutoCheck grants every achievement whose condition now holds and returns
// them for immediate announcement. Running it twice grants nothing new.
func (e *Engine) AutoCheck(ctx context.Context, userID ledger.UserID) ([]Unlock, error) {
	return e.check(ctx, userID, false)
}

// AutoCheckDeferred grants like AutoCheck but queues every unlock in the
// outbox instead of expecting the caller to announce it.
func (e *Engine) AutoCheckDeferred(ctx context.Context, userID ledger.UserID) ([]Unlock, error) {
	return e.check(ctx, userID, true)
}

func (e *Engine) check(ctx context.Context, userID ledger.UserID, deferred bool) ([]Unlock, error) {
	var unlocked []Unlock
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		snap, err := e.store.Snapshot(ctx, userID)
		if err != nil {
			return err
		}
		held, err := e.completed(ctx, userID)
		if err != nil {
			return err
		}

		for _, def := range e.defs {
			id := e.ids[def.Name]
			if held[id] {
				continue
			}
			u, err := e.tryUnlock(ctx, userID, id, def, snap, deferred)
			if err != nil {
				return err
			}
			if u != nil {
				unlocked = append(unlocked, *u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unlocked, nil
}

// Grant checks a single achievement by name. Returns nil when the
// condition does not hold or the user already has it.
func (e *Engine) Grant(ctx context.Context, userID ledger.UserID, name string) (*Unlock, error) {
	id, ok := e.ids[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAchievementUnknown, name)
	}
	def := e.byID[id]

	var unlocked *Unlock
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		snap, err := e.store.Snapshot(ctx, userID)
		if err != nil {
			return err
		}
		unlocked, err = e.tryUnlock(ctx, userID, id, def, snap, false)
		return err
	})
	return unlocked, err
}

func (e *Engine) tryUnlock(ctx context.Context, userID ledger.UserID, id int64, def Definition, snap Snapshot, deferred bool) (*Unlock, error) {
	met, err := def.Condition.Evaluate(snap)
	if err != nil || !met {
		return nil, err
	}

	now := e.awards.Now()
	progress, required := def.Condition.Progress(snap)
	flipped, err := e.store.CompleteAchievement(ctx, UserAchievement{
		UserID:        userID,
		AchievementID: id,
		Name:          def.Name,
		Progress:      progress,
		Required:      required,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("complete %q: %w", def.Name, err)
	}
	if !flipped {
		return nil, nil
	}

	if err := e.disburse(ctx, userID, def); err != nil {
		return nil, fmt.Errorf("disburse %q: %w", def.Name, err)
	}
	if deferred {
		if err := e.store.EnqueueNotification(ctx, userID, id, now); err != nil {
			return nil, err
		}
	}
	return &Unlock{AchievementID: id, Definition: def, UnlockedAt: now, Deferred: deferred}, nil
}

func (e *Engine) disburse(ctx context.Context, userID ledger.UserID, def Definition) error {
	desc := "Achievement: " + def.Name
	if def.RewardCurrency > 0 {
		if _, err := e.awards.AwardCurrency(ctx, userID, def.RewardCurrency, ledger.CategoryAchievement, desc); err != nil {
			return err
		}
	}
	if def.RewardPremium > 0 {
		if _, err := e.awards.AwardPremiumCurrency(ctx, userID, def.RewardPremium, ledger.CategoryAchievement, desc); err != nil {
			return err
		}
	}
	if def.RewardXP > 0 {
		if _, err := e.awards.AwardXP(ctx, userID, def.RewardXP, ledger.CategoryAchievement); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) completed(ctx context.Context, userID ledger.UserID) (map[int64]bool, error) {
	rows, err := e.store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[int64]bool, len(rows))
	for _, ua := range rows {
		if ua.CompletedAt != nil {
			held[ua.AchievementID] = true
		}
	}
	return held, nil
}

// =============================================================================
// OUTBOX
// =============================================================================

// PendingNotifications drains the user's outbox.
func (e *Engine) PendingNotifications(ctx context.Context, userID ledger.UserID) ([]Unlock, error) {
	pending, err := e.store.DrainNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Unlock, 0, len(pending))
	for _, p := range pending {
		def, ok := e.byID[p.AchievementID]
		if !ok {
			continue
		}
		out = append(out, Unlock{AchievementID: p.AchievementID, Definition: def, UnlockedAt: p.CreatedAt, Deferred: true})
	}
	return out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// UserAchievements returns the full catalog with the user's state and live progress.
func (e *Engine) UserAchievements(ctx context.Context, userID ledger.UserID) ([]Status, error) {
	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]*time.Time, len(rows))
	for _, ua := range rows {
		done[ua.AchievementID] = ua.CompletedAt
	}

	out := make([]Status, 0, len(e.defs))
	for _, def := range e.defs {
		st := Status{Definition: def}
		if at := done[e.ids[def.Name]]; at != nil {
			st.Unlocked = true
			st.CompletedAt = at
			_, st.Required = def.Condition.Progress(snap)
			st.Progress = st.Required
		} else {
			st.Progress, st.Required = def.Condition.Progress(snap)
		}
		out = append(out, st)
	}
	return out, nil
}

// Snapshot exposes the statistics used for evaluation.
func (e *Engine) Snapshot(ctx context.Context, userID ledger.UserID) (Snapshot, error) {
	return e.store.Snapshot(ctx, userID)
}
