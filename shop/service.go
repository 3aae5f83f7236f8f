/*
Package shop implements the virtual shop and the redemption state machine.

PURPOSE:
  Users exchange currency for catalog items. Items carry stock, per-user
  and global cooldowns, and may need admin fulfillment.

ELIGIBILITY (first failing check wins):
  1. item exists and is enabled       "Item not found" / "Item is not available"
  2. stock > 0 or unlimited           "Out of stock"
  3. balance of item currency >= cost "Insufficient balance"
  4. per-user cooldown elapsed        "On cooldown for N more minute(s)"
  5. global cooldown elapsed          "Global cooldown active for N more minute(s)"

REDEMPTION (one storage transaction):
  re-check eligibility ─▶ conditional debit ─▶ conditional stock decrement
  ─▶ insert redemption ─▶ upsert cooldowns

  Any failure rolls back the whole unit: there is never a debit without a
  redemption row, nor a decremented stock without a debit.

ADMIN:
  Fulfill: pending ─▶ fulfilled
  Refund:  pending|fulfilled ─▶ refunded, credits the cost back in the
           same currency and restores one unit of finite stock. A second
           refund fails with ErrAlreadyRefunded and credits nothing.

SEE ALSO:
  - types.go: Item, Redemption, Eligibility
  - rewards/service.go: Spend / Award used for debit and refund
*/
package shop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/rewards"
)

// Store is the persistence the shop needs.
type Store interface {
	ledger.Transactor
	GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error)

	// GetItem returns (nil, nil) when the item does not exist.
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context, category string, enabledOnly bool) ([]Item, error)
	// SaveItem inserts when ID is zero, updates otherwise.
	SaveItem(ctx context.Context, item Item) (*Item, error)

	// DecrementStock takes one unit if stock > 0. Returns false when none is left.
	DecrementStock(ctx context.Context, itemID int64) (bool, error)
	// RestoreStock gives one unit back to a finite-stock item.
	RestoreStock(ctx context.Context, itemID int64) error

	InsertRedemption(ctx context.Context, r Redemption) (RedemptionID, error)
	// GetRedemption returns (nil, nil) when the redemption does not exist.
	GetRedemption(ctx context.Context, id RedemptionID) (*Redemption, error)
	ListUserRedemptions(ctx context.Context, userID ledger.UserID, limit int) ([]Redemption, error)
	ListRedemptionsByStatus(ctx context.Context, status Status, limit int) ([]Redemption, error)
	// TransitionRedemption moves a redemption to `to` only if its status is in `from`.
	TransitionRedemption(ctx context.Context, id RedemptionID, from []Status, to Status, by, notes string, at time.Time) (bool, error)

	UserCooldown(ctx context.Context, userID ledger.UserID, itemID int64) (*time.Time, error)
	GlobalCooldown(ctx context.Context, itemID int64) (*time.Time, error)
	SetUserCooldown(ctx context.Context, userID ledger.UserID, itemID int64, until time.Time) error
	SetGlobalCooldown(ctx context.Context, itemID int64, until time.Time) error
}

// Service is the shop and redemption engine.
type Service struct {
	store  Store
	awards *rewards.Service
}

func NewService(store Store, awards *rewards.Service) *Service {
	return &Service{store: store, awards: awards}
}

// =============================================================================
// CATALOG
// =============================================================================

// Items lists enabled items, optionally filtered by category.
func (s *Service) Items(ctx context.Context, category string) ([]Item, error) {
	return s.store.ListItems(ctx, category, true)
}

// AllItems lists every item including disabled ones.
func (s *Service) AllItems(ctx context.Context) ([]Item, error) {
	return s.store.ListItems(ctx, "", false)
}

func (s *Service) Item(ctx context.Context, id int64) (*Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ledger.ErrItemNotFound
	}
	return item, nil
}

// SaveItem validates and upserts a catalog entry.
func (s *Service) SaveItem(ctx context.Context, item Item) (*Item, error) {
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidItem, err)
	}
	return s.store.SaveItem(ctx, item)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// CanRedeem runs the pre-flight checks. Only storage failures and unknown
// users are returned as errors.
func (s *Service) CanRedeem(ctx context.Context, userID ledger.UserID, itemID int64) (Eligibility, error) {
	e, _, err := s.check(ctx, userID, itemID)
	return e, err
}

func (s *Service) check(ctx context.Context, userID ledger.UserID, itemID int64) (Eligibility, *Item, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Eligibility{}, nil, err
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return Eligibility{}, nil, err
	}

	if item == nil {
		return deny(ledger.DenialItemNotFound, "Item not found", 0), nil, nil
	}
	if !item.Enabled {
		return deny(ledger.DenialItemUnavailable, "Item is not available", 0), item, nil
	}
	if !item.Unlimited() && item.Stock <= 0 {
		return deny(ledger.DenialOutOfStock, "Out of stock", 0), item, nil
	}
	if user.Balance(item.Currency.Resource()) < item.Cost {
		return deny(ledger.DenialInsufficientFunds, "Insufficient balance", 0), item, nil
	}

	now := s.awards.Now()
	if item.CooldownMinutes > 0 {
		until, err := s.store.UserCooldown(ctx, userID, itemID)
		if err != nil {
			return Eligibility{}, nil, err
		}
		if until != nil && now.Before(*until) {
			left := until.Sub(now)
			return deny(ledger.DenialUserCooldown,
				fmt.Sprintf("On cooldown for %d more minute(s)", minutesLeft(left)), left), item, nil
		}
	}
	if item.GlobalCooldownMinutes > 0 {
		until, err := s.store.GlobalCooldown(ctx, itemID)
		if err != nil {
			return Eligibility{}, nil, err
		}
		if until != nil && now.Before(*until) {
			left := until.Sub(now)
			return deny(ledger.DenialGlobalCooldown,
				fmt.Sprintf("Global cooldown active for %d more minute(s)", minutesLeft(left)), left), item, nil
		}
	}
	return Eligibility{Allowed: true}, item, nil
}

func deny(code ledger.DenialCode, reason string, retry time.Duration) Eligibility {
	return Eligibility{Code: code, Reason: reason, RetryAfter: retry}
}

func minutesLeft(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem exchanges currency for an item. Denials are returned as
// *ledger.DenialError.
func (s *Service) Redeem(ctx context.Context, userID ledger.UserID, itemID int64, input string) (Receipt, error) {
	var receipt Receipt
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		elig, item, err := s.check(ctx, userID, itemID)
		if err != nil {
			return err
		}
		if !elig.Allowed {
			return elig.Err()
		}

		input = strings.TrimSpace(input)
		if item.RequiresInput && input == "" {
			return fmt.Errorf("%w: %s", ledger.ErrInputRequired, item.InputPrompt)
		}

		balance, err := s.awards.Spend(ctx, userID, item.Currency, item.Cost, ledger.CategoryShop, "Redeemed: "+item.Name)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return deny(ledger.DenialInsufficientFunds, "Insufficient balance", 0).Err()
		}
		if err != nil {
			return err
		}

		if !item.Unlimited() {
			ok, err := s.store.DecrementStock(ctx, item.ID)
			if err != nil {
				return err
			}
			if !ok {
				return deny(ledger.DenialOutOfStock, "Out of stock", 0).Err()
			}
		}

		now := s.awards.Now()
		r := Redemption{
			UserID:    userID,
			ItemID:    item.ID,
			ItemName:  item.Name,
			Cost:      item.Cost,
			Currency:  item.Currency,
			Status:    StatusPending,
			UserInput: input,
			CreatedAt: now,
		}
		if item.AutoFulfill {
			r.Status = StatusFulfilled
			r.FulfilledAt = &now
		}
		id, err := s.store.InsertRedemption(ctx, r)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		if item.CooldownMinutes > 0 {
			until := now.Add(time.Duration(item.CooldownMinutes) * time.Minute)
			if err := s.store.SetUserCooldown(ctx, userID, item.ID, until); err != nil {
				return err
			}
		}
		if item.GlobalCooldownMinutes > 0 {
			until := now.Add(time.Duration(item.GlobalCooldownMinutes) * time.Minute)
			if err := s.store.SetGlobalCooldown(ctx, item.ID, until); err != nil {
				return err
			}
		}

		receipt = Receipt{RedemptionID: id, Status: r.Status, NewBalance: balance}
		if item.AutoFulfill {
			receipt.Message = "Redemption completed!"
		} else {
			receipt.Message = "Redemption submitted! Waiting for approval."
		}
		return nil
	})
	return receipt, err
}

// UserRedemptions lists a user's redemptions, newest first.
func (s *Service) UserRedemptions(ctx context.Context, userID ledger.UserID, limit int) ([]Redemption, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListUserRedemptions(ctx, userID, limit)
}

// PendingRedemptions lists redemptions waiting for an admin, oldest first.
func (s *Service) PendingRedemptions(ctx context.Context, limit int) ([]Redemption, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListRedemptionsByStatus(ctx, StatusPending, limit)
}

func (s *Service) Redemption(ctx context.Context, id RedemptionID) (*Redemption, error) {
	r, err := s.store.GetRedemption(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ledger.ErrRedemptionNotFound
	}
	return r, nil
}

// =============================================================================
// ADMIN TRANSITIONS
// =============================================================================

// Fulfill moves a pending redemption to fulfilled.
func (s *Service) Fulfill(ctx context.Context, id RedemptionID, adminID, notes string) (*Redemption, error) {
	var out *Redemption
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.Redemption(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return fmt.Errorf("%w: redemption %d is %s", ledger.ErrInvalidTransition, id, r.Status)
		}

		now := s.awards.Now()
		ok, err := s.store.TransitionRedemption(ctx, id, []Status{StatusPending}, StatusFulfilled, adminID, notes, now)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrConcurrentModification
		}
		out, err = s.Redemption(ctx, id)
		return err
	})
	return out, err
}

// Refund reverses a pending or fulfilled redemption.
func (s *Service) Refund(ctx context.Context, id RedemptionID, adminID, reason string) (*Redemption, error) {
	var out *Redemption
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.Redemption(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == StatusRefunded || r.Refunded {
			return fmt.Errorf("%w: redemption %d", ledger.ErrAlreadyRefunded, id)
		}

		now := s.awards.Now()
		ok, err := s.store.TransitionRedemption(ctx, id,
			[]Status{StatusPending, StatusFulfilled}, StatusRefunded, adminID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrConcurrentModification
		}

		if _, err := s.awards.Award(ctx, r.UserID, r.Currency, r.Cost, ledger.CategoryRefund, "Refund: "+r.ItemName); err != nil {
			return err
		}

		item, err := s.store.GetItem(ctx, r.ItemID)
		if err != nil {
			return err
		}
		if item != nil && !item.Unlimited() {
			if err := s.store.RestoreStock(ctx, item.ID); err != nil {
				return err
			}
		}

		out, err = s.Redemption(ctx, id)
		return err
	})
	return out, err
}
