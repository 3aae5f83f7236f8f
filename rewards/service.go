/*
Package rewards applies currency, premium currency and XP deltas to the ledger.

PURPOSE:
  The award primitive. Every call mutates exactly one balance and appends
  exactly one transaction that explains it. Nothing here issues level-up
  rewards or re-checks achievements: callers compose those steps (see the
  engine pipeline), which keeps each primitive small and testable alone.

OPERATIONS:
  AwardCurrency / AwardPremiumCurrency   earn, always succeeds for a known user
  SpendCurrency / Spend                  conditional debit, never negative
  AwardXP                                earn XP, persists level only upward
  AdjustXP                               admin path, may lower XP and level
  Gift                                   spend on sender, earn on receiver
  ClaimDaily                             24h cooldown keyed off the last daily tx

ATOMICITY:
  Each operation runs in Store.WithTx. When the caller already holds a
  transaction in ctx (redemption, merge, pipeline) the operation joins it.

SEE ALSO:
  - daily.go: ClaimDaily and streaks
  - ledger/store.go: Conditional debit contract
*/
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/leveling"
)

// Service is the currency/XP award service.
type Service struct {
	store ledger.Store
	daily DailyConfig
	now   ledger.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c ledger.Clock) Option {
	return func(s *Service) { s.now = c }
}

// WithDaily overrides the daily claim amounts and window.
func WithDaily(cfg DailyConfig) Option {
	return func(s *Service) { s.daily = cfg }
}

// NewService creates an award service over the given store.
func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		daily: DefaultDailyConfig(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for composing services.
func (s *Service) Store() ledger.Store { return s.store }

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.now() }

// =============================================================================
// CURRENCY
// =============================================================================

// AwardCurrency credits regular currency and returns the new balance.
func (s *Service) AwardCurrency(ctx context.Context, userID ledger.UserID, amount int64, category ledger.Category, description string) (int64, error) {
	return s.earn(ctx, userID, ledger.ResourceCurrency, amount, category, description)
}

// AwardPremiumCurrency credits premium currency and returns the new balance.
func (s *Service) AwardPremiumCurrency(ctx context.Context, userID ledger.UserID, amount int64, category ledger.Category, description string) (int64, error) {
	return s.earn(ctx, userID, ledger.ResourcePremium, amount, category, description)
}

// Award credits the balance matching a shop currency type.
func (s *Service) Award(ctx context.Context, userID ledger.UserID, currency ledger.CurrencyType, amount int64, category ledger.Category, description string) (int64, error) {
	return s.earn(ctx, userID, currency.Resource(), amount, category, description)
}

// SpendCurrency debits regular currency. Fails with *ledger.InsufficientFundsError
// when the balance does not cover amount.
func (s *Service) SpendCurrency(ctx context.Context, userID ledger.UserID, amount int64, category ledger.Category, description string) (int64, error) {
	return s.Spend(ctx, userID, ledger.CurrencyRegular, amount, category, description)
}

// Spend debits the balance matching a currency type.
func (s *Service) Spend(ctx context.Context, userID ledger.UserID, currency ledger.CurrencyType, amount int64, category ledger.Category, description string) (int64, error) {
	return s.spend(ctx, userID, currency.Resource(), amount, category, description)
}

func (s *Service) earn(ctx context.Context, userID ledger.UserID, r ledger.Resource, amount int64, category ledger.Category, description string) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetUser(ctx, userID); err != nil {
			return err
		}
		nb, err := s.store.AddBalance(ctx, userID, r, amount)
		if err != nil {
			return err
		}
		balance = nb
		return s.record(ctx, userID, ledger.DirectionEarn, r, category, amount, description)
	})
	return balance, err
}

func (s *Service) spend(ctx context.Context, userID ledger.UserID, r ledger.Resource, amount int64, category ledger.Category, description string) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		nb, ok, err := s.store.DebitBalance(ctx, userID, r, amount)
		if err != nil {
			return err
		}
		if !ok {
			return &ledger.InsufficientFundsError{
				UserID:    userID,
				Resource:  r,
				Available: user.Balance(r),
				Requested: amount,
			}
		}
		balance = nb
		return s.record(ctx, userID, ledger.DirectionSpend, r, category, amount, description)
	})
	return balance, err
}

// =============================================================================
// XP
// =============================================================================

// XPResult reports the effect of an XP award.
type XPResult struct {
	NewXP     int64
	LeveledUp bool
	OldLevel  int
	NewLevel  int
}

// AwardXP credits XP and persists the level if it increased.
func (s *Service) AwardXP(ctx context.Context, userID ledger.UserID, amount int64, category ledger.Category) (XPResult, error) {
	if amount <= 0 {
		return XPResult{}, ledger.ErrInvalidAmount
	}

	var res XPResult
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		newXP, err := s.store.AddBalance(ctx, userID, ledger.ResourceXP, amount)
		if err != nil {
			return err
		}

		res = XPResult{NewXP: newXP, OldLevel: user.Level, NewLevel: user.Level}
		if computed := leveling.LevelForXP(newXP); computed > user.Level {
			if err := s.store.SetLevel(ctx, userID, computed); err != nil {
				return err
			}
			res.NewLevel = computed
			res.LeveledUp = true
		}
		return s.record(ctx, userID, ledger.DirectionEarn, ledger.ResourceXP, category, amount, "")
	})
	return res, err
}

// AdjustXP applies a signed admin adjustment. XP floors at zero and the
// level is recomputed in both directions.
func (s *Service) AdjustXP(ctx context.Context, userID ledger.UserID, delta int64, category ledger.Category, description string) (XPResult, error) {
	if delta == 0 {
		return XPResult{}, ledger.ErrInvalidAmount
	}

	var res XPResult
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		newXP := user.XP + delta
		if newXP < 0 {
			newXP = 0
		}
		applied := newXP - user.XP
		if applied == 0 {
			res = XPResult{NewXP: user.XP, OldLevel: user.Level, NewLevel: user.Level}
			return nil
		}
		if err := s.store.SetXP(ctx, userID, newXP); err != nil {
			return err
		}
		level := leveling.LevelForXP(newXP)
		if level != user.Level {
			if err := s.store.SetLevel(ctx, userID, level); err != nil {
				return err
			}
		}
		res = XPResult{NewXP: newXP, OldLevel: user.Level, NewLevel: level, LeveledUp: level > user.Level}

		dir := ledger.DirectionEarn
		if applied < 0 {
			dir = ledger.DirectionSpend
			applied = -applied
		}
		return s.record(ctx, userID, dir, ledger.ResourceXP, category, applied, description)
	})
	return res, err
}

// =============================================================================
// GIFTS
// =============================================================================

// Gift moves regular currency from one user to another.
func (s *Service) Gift(ctx context.Context, from, to ledger.UserID, amount int64, message string) (int64, error) {
	if from == to {
		return 0, ledger.ErrSelfTransfer
	}
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var balance int64
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetUser(ctx, to); err != nil {
			return err
		}
		nb, err := s.spend(ctx, from, ledger.ResourceCurrency, amount, ledger.CategoryGift, giftNote("to", to, message))
		if err != nil {
			return err
		}
		balance = nb
		_, err = s.earn(ctx, to, ledger.ResourceCurrency, amount, ledger.CategoryGift, giftNote("from", from, message))
		return err
	})
	return balance, err
}

func giftNote(dir string, other ledger.UserID, message string) string {
	if message == "" {
		return fmt.Sprintf("Gift %s user %d", dir, other)
	}
	return fmt.Sprintf("Gift %s user %d: %s", dir, other, message)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) record(ctx context.Context, userID ledger.UserID, dir ledger.Direction, r ledger.Resource, category ledger.Category, amount int64, description string) error {
	tx := ledger.Transaction{
		ID:          ledger.TransactionID(uuid.NewString()),
		UserID:      userID,
		Direction:   dir,
		Resource:    r,
		Category:    category,
		Amount:      amount,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.store.AppendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}
