/*
Package engine is the service surface of the reward engine.

PURPOSE:
  Wires the award service, the rate limiter, the achievement engine, the
  shop and the account reconciler over one store, and exposes the
  operations chat adapters and the HTTP API call. Every operation that can
  change XP or balances ends in the same settle step, so level-up rewards
  and achievement checks happen in one place instead of in each adapter.

COMPONENTS:
  rewards.Service        currency / XP primitives, daily claim, gifts
  accrual.RateLimiter    cooldown + hourly cap for chat and voice
  accrual.VoiceSessions  who is in voice right now
  achievements.Engine    unlock detection, outbox
  shop.Service           catalog, redemption state machine
  accounts.Service       identity resolution, merge

USAGE:
  store, _ := sqlite.New("rewards.db")
  catalog, _ := factory.DefaultCatalog()
  eng, err := engine.New(ctx, store, catalog.Achievements)

  out, err := eng.RecordChatMessage(ctx, userID)
  for _, n := range out.Notifications {
      announce(n)
  }

SEE ALSO:
  - pipeline.go: ApplyActivity and settle
  - admin.go: Grants, takes, achievement checks
  - stats.go: Profile statistics
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/reward-engine/accounts"
	"github.com/warp/reward-engine/accrual"
	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/shop"
)

// Store is everything the engine's components persist through.
type Store interface {
	ledger.Store
	achievements.Store
	shop.Store
	accounts.Store
}

// Engine is the reward and redemption engine.
type Engine struct {
	store        Store
	awards       *rewards.Service
	achievements *achievements.Engine
	shop         *shop.Service
	accounts     *accounts.Service
	limiter      *accrual.RateLimiterState
	voice        *accrual.VoiceSessions
	now          ledger.Clock
}

type options struct {
	clock    ledger.Clock
	policies map[accrual.Source]accrual.Policy
	daily    *rewards.DailyConfig
	limiter  *accrual.RateLimiterState
}

// Option configures an Engine.
type Option func(*options)

// WithClock overrides the time source for every component.
func WithClock(c ledger.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPolicies overrides the chat and voice accrual policies.
func WithPolicies(p map[accrual.Source]accrual.Policy) Option {
	return func(o *options) { o.policies = p }
}

// WithDaily overrides the daily claim configuration.
func WithDaily(cfg rewards.DailyConfig) Option {
	return func(o *options) { o.daily = &cfg }
}

// WithLimiter injects an existing limiter, for processes that share one
// across engines.
func WithLimiter(l *accrual.RateLimiterState) Option {
	return func(o *options) { o.limiter = l }
}

// New builds the engine and syncs the achievement catalog to the store.
func New(ctx context.Context, store Store, catalog []achievements.Definition, opts ...Option) (*Engine, error) {
	o := options{clock: time.Now, policies: accrual.DefaultPolicies()}
	for _, opt := range opts {
		opt(&o)
	}
	for src, p := range o.policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s policy: %w", src, err)
		}
	}

	rewardOpts := []rewards.Option{rewards.WithClock(o.clock)}
	if o.daily != nil {
		rewardOpts = append(rewardOpts, rewards.WithDaily(*o.daily))
	}
	awards := rewards.NewService(store, rewardOpts...)

	ach, err := achievements.NewEngine(ctx, store, awards, catalog)
	if err != nil {
		return nil, err
	}

	limiter := o.limiter
	if limiter == nil {
		limiter = accrual.NewRateLimiterState(o.policies)
	}

	return &Engine{
		store:        store,
		awards:       awards,
		achievements: ach,
		shop:         shop.NewService(store, awards),
		accounts:     accounts.NewService(store, ach, o.clock),
		limiter:      limiter,
		voice:        accrual.NewVoiceSessions(),
		now:          o.clock,
	}, nil
}

// Limiter exposes the rate limiter for the scheduler's sweep.
func (e *Engine) Limiter() *accrual.RateLimiterState { return e.limiter }

// Achievements returns the loaded achievement catalog.
func (e *Engine) Achievements() []achievements.Definition {
	return e.achievements.Definitions()
}

// =============================================================================
// USERS
// =============================================================================

// GetOrCreateUser resolves a platform identity to a user.
func (e *Engine) GetOrCreateUser(ctx context.Context, platform ledger.Platform, externalID, displayName string) (*ledger.User, bool, error) {
	return e.accounts.GetOrCreateUser(ctx, platform, externalID, displayName)
}

func (e *Engine) User(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return e.store.GetUser(ctx, id)
}

// LinkSecondaryAccount attaches (or merges) a secondary identity. Any voice
// session held by the merged user moves to the primary.
func (e *Engine) LinkSecondaryAccount(ctx context.Context, primaryID ledger.UserID, secondaryID, secondaryName string) (accounts.LinkResult, error) {
	res, err := e.accounts.LinkSecondaryAccount(ctx, primaryID, secondaryID, secondaryName)
	if err != nil {
		return res, err
	}
	if res.Merged {
		e.voice.Remap(res.MergedUserID, primaryID)
	}
	return res, nil
}

// Transactions lists a user's ledger history, newest first.
func (e *Engine) Transactions(ctx context.Context, id ledger.UserID, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if _, err := e.store.GetUser(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, id, limit)
}

// Leaderboard ranks users by currency, XP or level.
func (e *Engine) Leaderboard(ctx context.Context, category ledger.LeaderboardCategory, limit int) ([]ledger.LeaderboardEntry, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown leaderboard %q", ledger.ErrInvalidCategory, category)
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return e.store.Leaderboard(ctx, category, limit)
}

// =============================================================================
// CURRENCY PRIMITIVES
// =============================================================================

// AwardCurrency credits currency without running the settle step.
func (e *Engine) AwardCurrency(ctx context.Context, id ledger.UserID, amount int64, category ledger.Category, description string) (int64, error) {
	return e.awards.AwardCurrency(ctx, id, amount, category, description)
}

// SpendCurrency debits currency. Fails with ErrInsufficientFunds.
func (e *Engine) SpendCurrency(ctx context.Context, id ledger.UserID, amount int64, category ledger.Category, description string) (int64, error) {
	return e.awards.SpendCurrency(ctx, id, amount, category, description)
}

// TryAccrue consults the rate limiter directly.
func (e *Engine) TryAccrue(id ledger.UserID, source accrual.Source) accrual.Decision {
	return e.limiter.TryAccrue(id, source, e.now())
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

// UserAchievements returns the catalog with the user's progress.
func (e *Engine) UserAchievements(ctx context.Context, id ledger.UserID) ([]achievements.Status, error) {
	return e.achievements.UserAchievements(ctx, id)
}

// PendingNotifications drains the user's outbox.
func (e *Engine) PendingNotifications(ctx context.Context, id ledger.UserID) ([]achievements.Unlock, error) {
	return e.achievements.PendingNotifications(ctx, id)
}

// =============================================================================
// SHOP
// =============================================================================

func (e *Engine) ShopItems(ctx context.Context, category string) ([]shop.Item, error) {
	return e.shop.Items(ctx, category)
}

func (e *Engine) ShopItem(ctx context.Context, id int64) (*shop.Item, error) {
	return e.shop.Item(ctx, id)
}

func (e *Engine) CanRedeem(ctx context.Context, userID ledger.UserID, itemID int64) (shop.Eligibility, error) {
	return e.shop.CanRedeem(ctx, userID, itemID)
}

func (e *Engine) UserRedemptions(ctx context.Context, userID ledger.UserID, limit int) ([]shop.Redemption, error) {
	return e.shop.UserRedemptions(ctx, userID, limit)
}

func (e *Engine) PendingRedemptions(ctx context.Context, limit int) ([]shop.Redemption, error) {
	return e.shop.PendingRedemptions(ctx, limit)
}

func (e *Engine) FulfillRedemption(ctx context.Context, id shop.RedemptionID, adminID, notes string) (*shop.Redemption, error) {
	return e.shop.Fulfill(ctx, id, adminID, notes)
}

func (e *Engine) RefundRedemption(ctx context.Context, id shop.RedemptionID, adminID, reason string) (*shop.Redemption, error) {
	return e.shop.Refund(ctx, id, adminID, reason)
}

// SaveItem creates or updates a catalog item.
func (e *Engine) SaveItem(ctx context.Context, item shop.Item) (*shop.Item, error) {
	return e.shop.SaveItem(ctx, item)
}

// SeedItems inserts catalog items whose name is not in the shop yet.
// Returns how many were added.
func (e *Engine) SeedItems(ctx context.Context, items []shop.Item) (int, error) {
	added := 0
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		existing, err := e.shop.AllItems(ctx)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, it := range existing {
			have[it.Name] = true
		}
		for _, it := range items {
			if have[it.Name] {
				continue
			}
			it.ID = 0
			if _, err := e.shop.SaveItem(ctx, it); err != nil {
				return err
			}
			have[it.Name] = true
			added++
		}
		return nil
	})
	return added, err
}
