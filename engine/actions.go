package engine

import (
	"context"

	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/shop"
)

// DailyOutcome is a daily claim plus whatever it triggered.
type DailyOutcome struct {
	rewards.DailyResult
	Outcome
}

// ClaimDaily grants the daily reward and settles the user. A claim inside
// the window returns Granted=false with HoursRemaining, not an error.
func (e *Engine) ClaimDaily(ctx context.Context, userID ledger.UserID) (DailyOutcome, error) {
	var res rewards.DailyResult
	out, err := e.run(ctx, userID, func(ctx context.Context, _ *Outcome) error {
		var err error
		res, err = e.awards.ClaimDaily(ctx, userID)
		return err
	})
	if err != nil {
		return DailyOutcome{}, err
	}
	out.Delta = LedgerDelta{Currency: res.Currency, XP: res.XPGained}
	return DailyOutcome{DailyResult: res, Outcome: out}, nil
}

// AwardXP credits XP and pays any level-up rewards it causes.
func (e *Engine) AwardXP(ctx context.Context, userID ledger.UserID, amount int64, category ledger.Category) (Outcome, error) {
	if amount <= 0 {
		return Outcome{}, ledger.ErrInvalidAmount
	}
	out, err := e.run(ctx, userID, func(ctx context.Context, _ *Outcome) error {
		_, err := e.awards.AwardXP(ctx, userID, amount, category)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	out.Delta.XP = amount
	return out, nil
}

// RedeemOutcome is a shop receipt plus whatever the spend triggered.
type RedeemOutcome struct {
	shop.Receipt
	Outcome
}

// RedeemItem exchanges currency for an item. Denials come back as
// *ledger.DenialError and leave no trace.
func (e *Engine) RedeemItem(ctx context.Context, userID ledger.UserID, itemID int64, input string) (RedeemOutcome, error) {
	var receipt shop.Receipt
	out, err := e.run(ctx, userID, func(ctx context.Context, _ *Outcome) error {
		var err error
		receipt, err = e.shop.Redeem(ctx, userID, itemID, input)
		return err
	})
	if err != nil {
		return RedeemOutcome{}, err
	}
	return RedeemOutcome{Receipt: receipt, Outcome: out}, nil
}

// GiftOutcome reports a gift from the sender's side.
type GiftOutcome struct {
	SenderBalance int64
	Outcome
}

// Gift moves currency between users. The sender's outbox and unlocks are
// returned for immediate display; the receiver's are queued in their outbox.
func (e *Engine) Gift(ctx context.Context, from, to ledger.UserID, amount int64, message string) (GiftOutcome, error) {
	var balance int64
	out, err := e.run(ctx, from, func(ctx context.Context, _ *Outcome) error {
		receiver, err := e.store.GetUser(ctx, to)
		if err != nil {
			return err
		}
		if balance, err = e.awards.Gift(ctx, from, to, amount, message); err != nil {
			return err
		}
		return e.settleDeferred(ctx, to, receiver.Level, nil)
	})
	if err != nil {
		return GiftOutcome{}, err
	}
	return GiftOutcome{SenderBalance: balance, Outcome: out}, nil
}
