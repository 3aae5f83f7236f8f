package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/shop"
)

// =============================================================================
// SHOP ITEMS
// =============================================================================

const itemColumns = `id, name, description, cost, currency, category, icon_url, stock,
	enabled, cooldown_minutes, global_cooldown_minutes, requires_input, input_prompt, auto_fulfill`

// GetItem returns (nil, nil) when the item does not exist.
func (s *Store) GetItem(ctx context.Context, id int64) (*shop.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM shop_items WHERE id = ?`, id)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// ListItems lists items ordered by category then cost.
func (s *Store) ListItems(ctx context.Context, category string, enabledOnly bool) ([]shop.Item, error) {
	var (
		where []string
		args  []any
	)
	if category != "" {
		where = append(where, "category = ?")
		args = append(args, category)
	}
	if enabledOnly {
		where = append(where, "enabled = 1")
	}
	query := `SELECT ` + itemColumns + ` FROM shop_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category ASC, cost ASC, id ASC"
	return s.queryItems(ctx, query, args...)
}

// SaveItem inserts when ID is zero, updates otherwise.
func (s *Store) SaveItem(ctx context.Context, item shop.Item) (*shop.Item, error) {
	args := []any{
		item.Name, nullString(item.Description), item.Cost, item.Currency,
		nullString(item.Category), nullString(item.IconURL), item.Stock,
		boolInt(item.Enabled), item.CooldownMinutes, item.GlobalCooldownMinutes,
		boolInt(item.RequiresInput), nullString(item.InputPrompt), boolInt(item.AutoFulfill),
	}

	if item.ID == 0 {
		res, err := s.conn(ctx).ExecContext(ctx, `
			INSERT INTO shop_items (name, description, cost, currency, category, icon_url, stock,
				enabled, cooldown_minutes, global_cooldown_minutes, requires_input, input_prompt, auto_fulfill)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		item.ID = id
		return &item, nil
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE shop_items SET name = ?, description = ?, cost = ?, currency = ?, category = ?,
			icon_url = ?, stock = ?, enabled = ?, cooldown_minutes = ?, global_cooldown_minutes = ?,
			requires_input = ?, input_prompt = ?, auto_fulfill = ?
		WHERE id = ?`, append(args, item.ID)...)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", ledger.ErrItemNotFound, item.ID)
	}
	return &item, nil
}

// DecrementStock takes one unit if any is left.
func (s *Store) DecrementStock(ctx context.Context, itemID int64) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE shop_items SET stock = stock - 1 WHERE id = ? AND stock > 0`, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RestoreStock gives one unit back. Unlimited items are left alone.
func (s *Store) RestoreStock(ctx context.Context, itemID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE shop_items SET stock = stock + 1 WHERE id = ? AND stock >= 0`, itemID)
	return err
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]shop.Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []shop.Item
	for rows.Next() {
		var (
			it                          shop.Item
			desc, cat, icon, prompt     sql.NullString
			enabled, requires, autoFill int
		)
		if err := rows.Scan(&it.ID, &it.Name, &desc, &it.Cost, &it.Currency, &cat, &icon, &it.Stock,
			&enabled, &it.CooldownMinutes, &it.GlobalCooldownMinutes, &requires, &prompt, &autoFill); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.Description = desc.String
		it.Category = cat.String
		it.IconURL = icon.String
		it.InputPrompt = prompt.String
		it.Enabled = enabled != 0
		it.RequiresInput = requires != 0
		it.AutoFulfill = autoFill != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

const redemptionColumns = `id, user_id, item_id, item_name, cost, currency, status, user_input,
	created_at, fulfilled_at, fulfilled_by, notes, refunded`

// InsertRedemption stores a new redemption and returns its id.
func (s *Store) InsertRedemption(ctx context.Context, r shop.Redemption) (shop.RedemptionID, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO redemptions (user_id, item_id, item_name, cost, currency, status, user_input,
			created_at, fulfilled_at, fulfilled_by, notes, refunded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.ItemID, r.ItemName, r.Cost, r.Currency, r.Status, nullString(r.UserInput),
		millis(r.CreatedAt), nullMillis(r.FulfilledAt), nullString(r.FulfilledBy),
		nullString(r.Notes), boolInt(r.Refunded),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return shop.RedemptionID(id), err
}

// GetRedemption returns (nil, nil) when the redemption does not exist.
func (s *Store) GetRedemption(ctx context.Context, id shop.RedemptionID) (*shop.Redemption, error) {
	rs, err := s.queryRedemptions(ctx, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = ?`, id)
	if err != nil || len(rs) == 0 {
		return nil, err
	}
	return &rs[0], nil
}

// ListUserRedemptions returns a user's redemptions, newest first.
func (s *Store) ListUserRedemptions(ctx context.Context, userID ledger.UserID, limit int) ([]shop.Redemption, error) {
	return s.queryRedemptions(ctx, `
		SELECT `+redemptionColumns+` FROM redemptions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
}

// ListRedemptionsByStatus returns redemptions in a status, oldest first.
func (s *Store) ListRedemptionsByStatus(ctx context.Context, status shop.Status, limit int) ([]shop.Redemption, error) {
	return s.queryRedemptions(ctx, `
		SELECT `+redemptionColumns+` FROM redemptions
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, status, limit)
}

// TransitionRedemption moves a redemption to `to` only if its current
// status is one of `from`. Returns false when no row matched.
func (s *Store) TransitionRedemption(ctx context.Context, id shop.RedemptionID, from []shop.Status, to shop.Status, by, notes string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition needs at least one source status")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	query := `UPDATE redemptions SET status = ?, fulfilled_by = COALESCE(?, fulfilled_by), notes = COALESCE(?, notes)`
	args := []any{to, nullString(by), nullString(notes)}
	switch to {
	case shop.StatusFulfilled:
		query += `, fulfilled_at = ?`
		args = append(args, millis(at))
	case shop.StatusRefunded:
		query += `, refunded = 1`
	}
	query += ` WHERE id = ? AND status IN (` + placeholders + `)`
	args = append(args, id)
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition redemption: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) queryRedemptions(ctx context.Context, query string, args ...any) ([]shop.Redemption, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var out []shop.Redemption
	for rows.Next() {
		var (
			r                shop.Redemption
			input, by, notes sql.NullString
			createdAt        int64
			fulfilledAt      sql.NullInt64
			refunded         int
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.ItemName, &r.Cost, &r.Currency, &r.Status,
			&input, &createdAt, &fulfilledAt, &by, &notes, &refunded); err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		r.UserInput = input.String
		r.FulfilledBy = by.String
		r.Notes = notes.String
		r.CreatedAt = fromMillis(createdAt)
		r.FulfilledAt = timePtr(fulfilledAt)
		r.Refunded = refunded != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// COOLDOWNS
// =============================================================================

// UserCooldown returns when the user may redeem the item again, or nil.
func (s *Store) UserCooldown(ctx context.Context, userID ledger.UserID, itemID int64) (*time.Time, error) {
	return s.cooldown(ctx,
		`SELECT expires_at FROM user_item_cooldowns WHERE user_id = ? AND item_id = ?`, userID, itemID)
}

// GlobalCooldown returns when anyone may redeem the item again, or nil.
func (s *Store) GlobalCooldown(ctx context.Context, itemID int64) (*time.Time, error) {
	return s.cooldown(ctx, `SELECT expires_at FROM global_item_cooldowns WHERE item_id = ?`, itemID)
}

func (s *Store) SetUserCooldown(ctx context.Context, userID ledger.UserID, itemID int64, until time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO user_item_cooldowns (user_id, item_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET expires_at = excluded.expires_at`,
		userID, itemID, millis(until))
	return err
}

func (s *Store) SetGlobalCooldown(ctx context.Context, itemID int64, until time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO global_item_cooldowns (item_id, expires_at) VALUES (?, ?)
		ON CONFLICT(item_id) DO UPDATE SET expires_at = excluded.expires_at`,
		itemID, millis(until))
	return err
}

func (s *Store) cooldown(ctx context.Context, query string, args ...any) (*time.Time, error) {
	var expires int64
	err := s.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := fromMillis(expires)
	return &t, nil
}
