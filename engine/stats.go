package engine

import (
	"context"

	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/leveling"
)

const progressBarWidth = 10

// UserStats is everything a profile card shows.
type UserStats struct {
	User                 *ledger.User
	Progress             leveling.Progress
	Bar                  string
	Profile              *ledger.Profile
	Snapshot             achievements.Snapshot
	AchievementsUnlocked int
	AchievementsTotal    int
	NextUnlocks          []string
}

// UserStats reads a user's balances, level progress, streak and
// achievement counts.
func (e *Engine) UserStats(ctx context.Context, userID ledger.UserID) (*UserStats, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap, err := e.achievements.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	statuses, err := e.achievements.UserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}

	progress := leveling.ProgressFor(user.XP)
	stats := &UserStats{
		User:              user,
		Progress:          progress,
		Bar:               leveling.Bar(progress.Percent, progressBarWidth),
		Profile:           profile,
		Snapshot:          snap,
		AchievementsTotal: len(statuses),
		NextUnlocks:       leveling.UnlocksForLevel(progress.Level + 1),
	}
	for _, st := range statuses {
		if st.Unlocked {
			stats.AchievementsUnlocked++
		}
	}
	return stats, nil
}
