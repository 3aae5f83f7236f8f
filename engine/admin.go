/*
admin.go - Moderator operations

PURPOSE:
  Grants, takes and single-achievement checks. Every admin change writes a
  transaction with category admin_grant or admin_take and the acting admin
  in the description, so the history explains every balance.

RESOURCES:
  currency, premium_currency   credited or debited (debit never goes negative)
  xp                           grant goes through AwardXP and settles;
                               take lowers XP (floored at 0) and the level
*/
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
)

// AdminAdjustment is one grant or take request.
type AdminAdjustment struct {
	UserID   ledger.UserID
	Resource ledger.Resource
	Amount   int64
	Reason   string
	Admin    string
}

// AdminResult reports the balance after an adjustment.
type AdminResult struct {
	Resource   ledger.Resource
	NewBalance int64
	Level      int
	Outcome
}

// AdminGrant credits a user. XP grants pay level-up rewards like any
// other XP source.
func (e *Engine) AdminGrant(ctx context.Context, adj AdminAdjustment) (AdminResult, error) {
	if err := validateAdjustment(adj); err != nil {
		return AdminResult{}, err
	}
	desc := adminNote("Granted", adj)

	out, err := e.run(ctx, adj.UserID, func(ctx context.Context, _ *Outcome) error {
		switch adj.Resource {
		case ledger.ResourceCurrency:
			_, err := e.awards.AwardCurrency(ctx, adj.UserID, adj.Amount, ledger.CategoryAdminGrant, desc)
			return err
		case ledger.ResourcePremium:
			_, err := e.awards.AwardPremiumCurrency(ctx, adj.UserID, adj.Amount, ledger.CategoryAdminGrant, desc)
			return err
		default:
			_, err := e.awards.AdjustXP(ctx, adj.UserID, adj.Amount, ledger.CategoryAdminGrant, desc)
			return err
		}
	})
	if err != nil {
		return AdminResult{}, err
	}
	return e.adminResult(ctx, adj, out)
}

// AdminTake debits a user. Currency takes fail with ErrInsufficientFunds
// rather than going negative; XP takes floor at zero.
func (e *Engine) AdminTake(ctx context.Context, adj AdminAdjustment) (AdminResult, error) {
	if err := validateAdjustment(adj); err != nil {
		return AdminResult{}, err
	}
	desc := adminNote("Removed", adj)

	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		switch adj.Resource {
		case ledger.ResourceCurrency:
			_, err := e.awards.Spend(ctx, adj.UserID, ledger.CurrencyRegular, adj.Amount, ledger.CategoryAdminTake, desc)
			return err
		case ledger.ResourcePremium:
			_, err := e.awards.Spend(ctx, adj.UserID, ledger.CurrencyPremium, adj.Amount, ledger.CategoryAdminTake, desc)
			return err
		default:
			_, err := e.awards.AdjustXP(ctx, adj.UserID, -adj.Amount, ledger.CategoryAdminTake, desc)
			return err
		}
	})
	if err != nil {
		return AdminResult{}, err
	}
	return e.adminResult(ctx, adj, Outcome{UserID: adj.UserID})
}

// GrantAchievement checks one named achievement for a user. It returns nil
// when the condition does not hold or the user already has it.
func (e *Engine) GrantAchievement(ctx context.Context, userID ledger.UserID, name string) (*achievements.Unlock, Outcome, error) {
	var unlocked *achievements.Unlock
	out, err := e.run(ctx, userID, func(ctx context.Context, acc *Outcome) error {
		var err error
		unlocked, err = e.achievements.Grant(ctx, userID, name)
		if err == nil && unlocked != nil {
			acc.Unlocked = append(acc.Unlocked, *unlocked)
		}
		return err
	})
	if err != nil {
		return nil, Outcome{}, err
	}
	return unlocked, out, nil
}

func (e *Engine) adminResult(ctx context.Context, adj AdminAdjustment, out Outcome) (AdminResult, error) {
	user, err := e.store.GetUser(ctx, adj.UserID)
	if err != nil {
		return AdminResult{}, err
	}
	return AdminResult{
		Resource:   adj.Resource,
		NewBalance: user.Balance(adj.Resource),
		Level:      user.Level,
		Outcome:    out,
	}, nil
}

func validateAdjustment(adj AdminAdjustment) error {
	switch adj.Resource {
	case ledger.ResourceCurrency, ledger.ResourcePremium, ledger.ResourceXP:
	default:
		return fmt.Errorf("%w: %q", ledger.ErrInvalidResource, adj.Resource)
	}
	if adj.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	return nil
}

func adminNote(verb string, adj AdminAdjustment) string {
	var b strings.Builder
	b.WriteString(verb)
	if adj.Admin != "" {
		b.WriteString(" by ")
		b.WriteString(adj.Admin)
	}
	if adj.Reason != "" {
		b.WriteString(": ")
		b.WriteString(adj.Reason)
	}
	return b.String()
}
