package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
)

// =============================================================================
// ACHIEVEMENT STORE (achievements.Store)
// =============================================================================

// SyncDefinitions upserts the catalog by name and returns ids by name.
func (s *Store) SyncDefinitions(ctx context.Context, defs []achievements.Definition) (map[string]int64, error) {
	ids := make(map[string]int64, len(defs))
	err := s.WithTx(ctx, func(ctx context.Context) error {
		for _, d := range defs {
			_, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO achievements (name, description, category, rarity,
					reward_currency, reward_premium, reward_xp,
					condition_field, condition_comparator, condition_threshold)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					description = excluded.description,
					category = excluded.category,
					rarity = excluded.rarity,
					reward_currency = excluded.reward_currency,
					reward_premium = excluded.reward_premium,
					reward_xp = excluded.reward_xp,
					condition_field = excluded.condition_field,
					condition_comparator = excluded.condition_comparator,
					condition_threshold = excluded.condition_threshold`,
				d.Name, d.Description, d.Category, d.Rarity,
				d.RewardCurrency, d.RewardPremium, d.RewardXP,
				d.Condition.Field, d.Condition.Comparator, d.Condition.Threshold,
			)
			if err != nil {
				return fmt.Errorf("failed to save achievement %q: %w", d.Name, err)
			}

			var id int64
			if err := s.conn(ctx).QueryRowContext(ctx,
				`SELECT id FROM achievements WHERE name = ?`, d.Name).Scan(&id); err != nil {
				return err
			}
			ids[d.Name] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Snapshot derives the statistics achievement conditions read. Refunded
// shop spends do not count towards total_spent.
func (s *Store) Snapshot(ctx context.Context, userID ledger.UserID) (achievements.Snapshot, error) {
	var snap achievements.Snapshot
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT
			u.level, u.currency, u.xp,
			(u.discord_id IS NOT NULL AND u.twitch_id IS NOT NULL),
			COALESCE(p.daily_streak, 0),
			(SELECT COUNT(*) FROM transactions t
			  WHERE t.user_id = u.id AND t.direction = 'earn'
			    AND t.category = 'chat' AND t.resource = 'currency'),
			MAX(0,
			  (SELECT COALESCE(SUM(t.amount), 0) FROM transactions t
			    WHERE t.user_id = u.id AND t.direction = 'spend'
			      AND t.resource = 'currency' AND t.category != 'admin_take')
			  - (SELECT COALESCE(SUM(t.amount), 0) FROM transactions t
			    WHERE t.user_id = u.id AND t.direction = 'earn'
			      AND t.resource = 'currency' AND t.category = 'refund')),
			(SELECT COUNT(*) FROM transactions t
			  WHERE t.user_id = u.id AND t.direction = 'spend' AND t.category = 'gift'),
			(SELECT COUNT(DISTINCT r.item_id) FROM redemptions r
			  WHERE r.user_id = u.id AND r.status != 'refunded'),
			(SELECT COUNT(*) FROM redemptions r
			  WHERE r.user_id = u.id AND r.status != 'refunded')
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE u.id = ?`, userID,
	).Scan(
		&snap.Level, &snap.Currency, &snap.XP,
		&snap.HasLinkedSecondary, &snap.DailyStreak,
		&snap.MessageCount, &snap.TotalSpent, &snap.GiftsSent,
		&snap.UniqueItems, &snap.TotalItems,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%w: %d", ledger.ErrUserNotFound, userID)
	}
	if err != nil {
		return snap, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}

// CompleteAchievement flips the (user, achievement) row to completed.
// The update is guarded by completed_at IS NULL, so of two racing callers
// exactly one sees a changed row.
func (s *Store) CompleteAchievement(ctx context.Context, ua achievements.UserAchievement, at time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, progress, required, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, achievement_id) DO UPDATE SET
			progress = excluded.progress,
			required = excluded.required,
			completed_at = excluded.completed_at
		WHERE user_achievements.completed_at IS NULL`,
		ua.UserID, ua.AchievementID, ua.Progress, ua.Required, millis(at))
	if err != nil {
		return false, fmt.Errorf("failed to complete achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListUserAchievements returns every stored row for a user.
func (s *Store) ListUserAchievements(ctx context.Context, userID ledger.UserID) ([]achievements.UserAchievement, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT ua.user_id, ua.achievement_id, a.name, ua.progress, ua.required, ua.completed_at
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = ?
		ORDER BY ua.completed_at ASC, ua.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user achievements: %w", err)
	}
	defer rows.Close()

	var out []achievements.UserAchievement
	for rows.Next() {
		var (
			ua          achievements.UserAchievement
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &ua.Name,
			&ua.Progress, &ua.Required, &completedAt); err != nil {
			return nil, err
		}
		ua.CompletedAt = timePtr(completedAt)
		out = append(out, ua)
	}
	return out, rows.Err()
}

// EnqueueNotification writes one outbox entry.
func (s *Store) EnqueueNotification(ctx context.Context, userID ledger.UserID, achievementID int64, at time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO pending_achievement_notifications (user_id, achievement_id, created_at)
		VALUES (?, ?, ?)`, userID, achievementID, millis(at))
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// DrainNotifications selects and deletes a user's outbox in one transaction.
func (s *Store) DrainNotifications(ctx context.Context, userID ledger.UserID) ([]achievements.PendingNotification, error) {
	var out []achievements.PendingNotification
	err := s.WithTx(ctx, func(ctx context.Context) error {
		rows, err := s.conn(ctx).QueryContext(ctx, `
			SELECT user_id, achievement_id, created_at
			FROM pending_achievement_notifications
			WHERE user_id = ?
			ORDER BY id ASC`, userID)
		if err != nil {
			return fmt.Errorf("failed to query notifications: %w", err)
		}
		for rows.Next() {
			var (
				n         achievements.PendingNotification
				createdAt int64
			)
			if err := rows.Scan(&n.UserID, &n.AchievementID, &createdAt); err != nil {
				rows.Close()
				return err
			}
			n.CreatedAt = fromMillis(createdAt)
			out = append(out, n)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}

		_, err = s.conn(ctx).ExecContext(ctx,
			`DELETE FROM pending_achievement_notifications WHERE user_id = ?`, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
