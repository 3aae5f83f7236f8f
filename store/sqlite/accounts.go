package sqlite

import (
	"context"
	"fmt"

	"github.com/warp/reward-engine/ledger"
)

// =============================================================================
// ACCOUNT RECONCILIATION (accounts.Store)
// =============================================================================

// AttachPlatformID sets a platform id on an existing user. For the
// secondary platform the username is stored alongside.
func (s *Store) AttachPlatformID(ctx context.Context, id ledger.UserID, platform ledger.Platform, externalID, username string) error {
	var (
		query string
		args  []any
	)
	switch platform {
	case ledger.PlatformDiscord:
		query = `UPDATE users SET discord_id = ?, updated_at = ? WHERE id = ?`
		args = []any{externalID, s.stamp(), id}
	case ledger.PlatformTwitch:
		query = `UPDATE users SET twitch_id = ?, twitch_username = ?, updated_at = ? WHERE id = ?`
		args = []any{externalID, nullString(username), s.stamp(), id}
	default:
		return fmt.Errorf("%w: %q", ledger.ErrInvalidPlatform, platform)
	}

	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrPlatformIDTaken
		}
		return fmt.Errorf("failed to attach %s id: %w", platform, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrUserNotFound, id)
	}
	return nil
}

// ReassignUserRecords moves every record owned by `from` onto `to`.
// Must run inside WithTx; the statements are not atomic on their own.
func (s *Store) ReassignUserRecords(ctx context.Context, from, to ledger.UserID) error {
	steps := []struct {
		name  string
		query string
	}{
		// Achievements the target already holds would violate the unique
		// pair; the target's row wins.
		{"duplicate achievements", `
			DELETE FROM user_achievements
			WHERE user_id = ?1 AND achievement_id IN (
				SELECT achievement_id FROM user_achievements WHERE user_id = ?2)`},
		{"achievements", `UPDATE user_achievements SET user_id = ?2 WHERE user_id = ?1`},
		{"transactions", `UPDATE transactions SET user_id = ?2 WHERE user_id = ?1`},
		{"notifications", `UPDATE pending_achievement_notifications SET user_id = ?2 WHERE user_id = ?1`},
		{"redemptions", `UPDATE redemptions SET user_id = ?2 WHERE user_id = ?1`},
		// Cooldowns: keep the later expiry for items both users have used.
		{"overlapping cooldowns", `
			UPDATE user_item_cooldowns
			SET expires_at = MAX(expires_at, (
				SELECT c.expires_at FROM user_item_cooldowns c
				WHERE c.user_id = ?1 AND c.item_id = user_item_cooldowns.item_id))
			WHERE user_id = ?2 AND item_id IN (
				SELECT item_id FROM user_item_cooldowns WHERE user_id = ?1)`},
		{"duplicate cooldowns", `
			DELETE FROM user_item_cooldowns
			WHERE user_id = ?1 AND item_id IN (
				SELECT item_id FROM user_item_cooldowns WHERE user_id = ?2)`},
		{"cooldowns", `UPDATE user_item_cooldowns SET user_id = ?2 WHERE user_id = ?1`},
	}

	for _, step := range steps {
		if _, err := s.conn(ctx).ExecContext(ctx, step.query, from, to); err != nil {
			return fmt.Errorf("failed to move %s: %w", step.name, err)
		}
	}
	return nil
}

// DeleteUser removes a user and its profile. Fails on foreign keys if
// any owned record was not re-parented first.
func (s *Store) DeleteUser(ctx context.Context, id ledger.UserID) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM user_profiles WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrUserNotFound, id)
	}
	return nil
}
