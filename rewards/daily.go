package rewards

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/warp/reward-engine/ledger"
)

// DailyConfig controls the daily check-in.
type DailyConfig struct {
	Currency int64
	XP       int64
	Window   time.Duration // minimum time between claims
	Grace    time.Duration // a claim within Grace of the previous one extends the streak
}

func DefaultDailyConfig() DailyConfig {
	return DailyConfig{
		Currency: 100,
		XP:       50,
		Window:   24 * time.Hour,
		Grace:    48 * time.Hour,
	}
}

// DailyResult is either a grant or a denial with the hours left.
type DailyResult struct {
	Granted        bool
	Currency       int64
	XPGained       int64
	XP             XPResult
	Streak         int
	HoursRemaining int
}

// ClaimDaily grants the daily reward once per window. The window is keyed
// off the most recent transaction of category daily.
func (s *Service) ClaimDaily(ctx context.Context, userID ledger.UserID) (DailyResult, error) {
	var res DailyResult
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetUser(ctx, userID); err != nil {
			return err
		}

		now := s.now()
		last, err := s.store.LastTransaction(ctx, userID, ledger.CategoryDaily)
		if err != nil {
			return fmt.Errorf("last daily claim: %w", err)
		}
		if last != nil {
			elapsed := now.Sub(last.CreatedAt)
			if elapsed < s.daily.Window {
				res.HoursRemaining = hoursRemaining(s.daily.Window, elapsed)
				return nil
			}
		}

		profile, err := s.store.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		streak := 1
		if last != nil && now.Sub(last.CreatedAt) < s.daily.Grace {
			streak = profile.DailyStreak + 1
		}
		profile.DailyStreak = streak
		profile.LastDailyAt = &now
		if err := s.store.SaveProfile(ctx, *profile); err != nil {
			return err
		}

		res.Granted = true
		res.Streak = streak
		if s.daily.Currency > 0 {
			if _, err := s.AwardCurrency(ctx, userID, s.daily.Currency, ledger.CategoryDaily, "Daily reward"); err != nil {
				return err
			}
			res.Currency = s.daily.Currency
		}
		if s.daily.XP > 0 {
			xp, err := s.AwardXP(ctx, userID, s.daily.XP, ledger.CategoryDaily)
			if err != nil {
				return err
			}
			res.XP = xp
			res.XPGained = s.daily.XP
		}
		return nil
	})
	return res, err
}

// hoursRemaining rounds the wait up, so a denial always reports at least 1.
func hoursRemaining(window, elapsed time.Duration) int {
	h := int(math.Ceil((window - elapsed).Hours()))
	if h < 1 {
		return 1
	}
	return h
}
