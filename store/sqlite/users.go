package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/reward-engine/ledger"
)

// =============================================================================
// USERS (ledger.UserStore)
// =============================================================================

const userColumns = `id, discord_id, twitch_id, twitch_username, display_name,
	currency, premium_currency, xp, level, created_at, updated_at`

// GetUser loads a user by internal id.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ledger.ErrUserNotFound, id)
	}
	return u, err
}

// FindUserByPlatform returns (nil, nil) when no user carries the id.
func (s *Store) FindUserByPlatform(ctx context.Context, platform ledger.Platform, externalID string) (*ledger.User, error) {
	col, err := platformColumn(platform)
	if err != nil {
		return nil, err
	}
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+col+` = ?`, externalID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// CreateUser inserts a user and an empty profile.
func (s *Store) CreateUser(ctx context.Context, u ledger.User) (*ledger.User, error) {
	var created *ledger.User
	err := s.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.conn(ctx).ExecContext(ctx, `
			INSERT INTO users (discord_id, twitch_id, twitch_username, display_name,
				currency, premium_currency, xp, level, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullStringPtr(u.DiscordID), nullStringPtr(u.TwitchID), nullStringPtr(u.TwitchUsername),
			u.DisplayName, u.Currency, u.PremiumCurrency, u.XP, u.Level,
			millis(u.CreatedAt), millis(u.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: platform id already registered", ledger.ErrPlatformIDTaken)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := s.conn(ctx).ExecContext(ctx,
			`INSERT INTO user_profiles (user_id, daily_streak) VALUES (?, 0)`, id); err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		created, err = s.GetUser(ctx, ledger.UserID(id))
		return err
	})
	return created, err
}

// AddBalance increments a balance and returns the new value.
func (s *Store) AddBalance(ctx context.Context, id ledger.UserID, r ledger.Resource, delta int64) (int64, error) {
	col, err := balanceColumn(r)
	if err != nil {
		return 0, err
	}
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET `+col+` = `+col+` + ?, updated_at = ? WHERE id = ?`,
		delta, s.stamp(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to add %s: %w", r, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: %d", ledger.ErrUserNotFound, id)
	}
	return s.balance(ctx, id, col)
}

// DebitBalance is the conditional decrement. ok=false means the balance
// did not cover amount and nothing changed.
func (s *Store) DebitBalance(ctx context.Context, id ledger.UserID, r ledger.Resource, amount int64) (int64, bool, error) {
	col, err := balanceColumn(r)
	if err != nil {
		return 0, false, err
	}
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET `+col+` = `+col+` - ?, updated_at = ?
		 WHERE id = ? AND `+col+` >= ?`,
		amount, s.stamp(), id, amount)
	if err != nil {
		return 0, false, fmt.Errorf("failed to debit %s: %w", r, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	nb, err := s.balance(ctx, id, col)
	return nb, err == nil, err
}

// SetXP overwrites XP.
func (s *Store) SetXP(ctx context.Context, id ledger.UserID, xp int64) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET xp = ?, updated_at = ? WHERE id = ?`, xp, s.stamp(), id)
	return err
}

// SetLevel overwrites the cached level.
func (s *Store) SetLevel(ctx context.Context, id ledger.UserID, level int) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET level = ?, updated_at = ? WHERE id = ?`, level, s.stamp(), id)
	return err
}

// stamp is the store clock in unix milliseconds.
func (s *Store) stamp() int64 {
	return millis(s.now())
}

func (s *Store) balance(ctx context.Context, id ledger.UserID, col string) (int64, error) {
	var v int64
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT `+col+` FROM users WHERE id = ?`, id).Scan(&v)
	return v, err
}

// GetProfile returns the profile, or a zero profile when none was stored.
func (s *Store) GetProfile(ctx context.Context, id ledger.UserID) (*ledger.Profile, error) {
	var (
		p      = ledger.Profile{UserID: id}
		lastAt sql.NullInt64
	)
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT daily_streak, last_daily_at FROM user_profiles WHERE user_id = ?`, id,
	).Scan(&p.DailyStreak, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	p.LastDailyAt = timePtr(lastAt)
	return &p, nil
}

// SaveProfile upserts a profile.
func (s *Store) SaveProfile(ctx context.Context, p ledger.Profile) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, daily_streak, last_daily_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			daily_streak = excluded.daily_streak,
			last_daily_at = excluded.last_daily_at`,
		p.UserID, p.DailyStreak, nullMillis(p.LastDailyAt))
	return err
}

// =============================================================================
// TRANSACTION LOG (ledger.TxLog)
// =============================================================================

const txColumns = `id, user_id, direction, resource, category, amount, description, created_at`

// AppendTransaction adds a transaction to the ledger.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Direction, tx.Resource, tx.Category, tx.Amount,
		nullString(tx.Description), millis(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// LastTransaction returns the newest transaction of a category, or nil.
func (s *Store) LastTransaction(ctx context.Context, id ledger.UserID, category ledger.Category) (*ledger.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = ? AND category = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, id, category)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

// ListTransactions returns a user's history, newest first.
func (s *Store) ListTransactions(ctx context.Context, id ledger.UserID, limit int) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, id, limit)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			tx        ledger.Transaction
			desc      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Direction, &tx.Resource,
			&tx.Category, &tx.Amount, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Description = desc.String
		tx.CreatedAt = fromMillis(createdAt)
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// =============================================================================
// LEADERBOARD
// =============================================================================

// Leaderboard ranks users by one column. Ties go to the older account.
func (s *Store) Leaderboard(ctx context.Context, category ledger.LeaderboardCategory, limit int) ([]ledger.LeaderboardEntry, error) {
	var order string
	switch category {
	case ledger.LeaderboardCurrency:
		order = "currency DESC"
	case ledger.LeaderboardXP:
		order = "xp DESC"
	case ledger.LeaderboardLevel:
		order = "level DESC, xp DESC"
	default:
		return nil, fmt.Errorf("unknown leaderboard %q", category)
	}

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, display_name, currency, xp, level FROM users
		ORDER BY `+order+`, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LeaderboardEntry
	for rows.Next() {
		e := ledger.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Currency, &e.XP, &e.Level); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*ledger.User, error) {
	var (
		u                          ledger.User
		discordID, twitchID, tname sql.NullString
		createdAt, updatedAt       int64
	)
	err := row.Scan(&u.ID, &discordID, &twitchID, &tname, &u.DisplayName,
		&u.Currency, &u.PremiumCurrency, &u.XP, &u.Level, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.DiscordID = stringPtr(discordID)
	u.TwitchID = stringPtr(twitchID)
	u.TwitchUsername = stringPtr(tname)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func balanceColumn(r ledger.Resource) (string, error) {
	switch r {
	case ledger.ResourceCurrency:
		return "currency", nil
	case ledger.ResourcePremium:
		return "premium_currency", nil
	case ledger.ResourceXP:
		return "xp", nil
	}
	return "", fmt.Errorf("unknown resource %q", r)
}

func platformColumn(p ledger.Platform) (string, error) {
	switch p {
	case ledger.PlatformDiscord:
		return "discord_id", nil
	case ledger.PlatformTwitch:
		return "twitch_id", nil
	}
	return "", fmt.Errorf("%w: %q", ledger.ErrInvalidPlatform, p)
}
