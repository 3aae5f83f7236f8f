package shop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/shop"
	"github.com/warp/reward-engine/store/sqlite"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *shop.Service
	awards *rewards.Service
	store  *sqlite.Store
	mu     sync.Mutex
	now    time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, now: t0}
	f.awards = rewards.NewService(store, rewards.WithClock(f.clock))
	f.svc = shop.NewService(store, f.awards)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) user(t *testing.T, discordID string, currency int64) ledger.UserID {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.CreateUser(ctx, ledger.User{
		DiscordID: &discordID, DisplayName: discordID, Level: 1, CreatedAt: t0, UpdatedAt: t0,
	})
	require.NoError(t, err)
	if currency > 0 {
		_, err = f.awards.AwardCurrency(ctx, u.ID, currency, ledger.CategoryAdminGrant, "")
		require.NoError(t, err)
	}
	return u.ID
}

func (f *fixture) item(t *testing.T, item shop.Item) *shop.Item {
	t.Helper()
	if item.Currency == "" {
		item.Currency = ledger.CurrencyRegular
	}
	if item.Stock == 0 {
		item.Stock = shop.UnlimitedStock
	}
	item.Enabled = true
	saved, err := f.svc.SaveItem(context.Background(), item)
	require.NoError(t, err)
	return saved
}

func (f *fixture) balance(t *testing.T, id ledger.UserID) int64 {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Currency
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestCanRedeem_FirstFailingCheckWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	poor := f.user(t, "poor", 10)
	rich := f.user(t, "rich", 1000)

	soldOut := f.item(t, shop.Item{Name: "Poster", Cost: 500, Stock: 1})
	_, err := f.store.DecrementStock(ctx, soldOut.ID)
	require.NoError(t, err)

	disabled := f.item(t, shop.Item{Name: "Retired", Cost: 5})
	disabled.Enabled = false
	_, err = f.svc.SaveItem(ctx, *disabled)
	require.NoError(t, err)

	pricey := f.item(t, shop.Item{Name: "Shoutout", Cost: 250})

	tests := []struct {
		name   string
		user   ledger.UserID
		itemID int64
		code   ledger.DenialCode
	}{
		{"missing item", rich, 9999, ledger.DenialItemNotFound},
		{"disabled item", rich, disabled.ID, ledger.DenialItemUnavailable},
		{"out of stock beats balance", poor, soldOut.ID, ledger.DenialOutOfStock},
		{"insufficient balance", poor, pricey.ID, ledger.DenialInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elig, err := f.svc.CanRedeem(ctx, tt.user, tt.itemID)
			require.NoError(t, err)
			assert.False(t, elig.Allowed)
			assert.Equal(t, tt.code, elig.Code)
			assert.NotEmpty(t, elig.Reason)
		})
	}

	elig, err := f.svc.CanRedeem(ctx, rich, pricey.ID)
	require.NoError(t, err)
	assert.True(t, elig.Allowed)
	assert.NoError(t, elig.Err())

	_, err = f.svc.CanRedeem(ctx, 404, pricey.ID)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestRedeem_DebitsAndRecords(t *testing.T) {
	// GIVEN: a user with 300 and a limited item with a user cooldown
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "1", 300)
	item := f.item(t, shop.Item{Name: "Song Request", Cost: 100, Stock: 5, CooldownMinutes: 15})

	// WHEN: redeeming it
	receipt, err := f.svc.Redeem(ctx, id, item.ID, "  never gonna give you up ")
	require.NoError(t, err)

	// THEN: balance, stock and history all move together
	assert.Equal(t, shop.StatusPending, receipt.Status)
	assert.Equal(t, int64(200), receipt.NewBalance)
	assert.Equal(t, int64(200), f.balance(t, id))

	got, err := f.svc.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Stock)

	r, err := f.svc.Redemption(ctx, receipt.RedemptionID)
	require.NoError(t, err)
	assert.Equal(t, "never gonna give you up", r.UserInput)
	assert.Equal(t, "Song Request", r.ItemName)

	last, err := f.store.LastTransaction(ctx, id, ledger.CategoryShop)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "Redeemed: Song Request", last.Description)

	// AND: the per-user cooldown now applies
	_, err = f.svc.Redeem(ctx, id, item.ID, "again")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialUserCooldown, denial.Code)
	assert.Equal(t, 15*time.Minute, denial.RetryAfter)
	assert.Contains(t, denial.Reason, "15 more minute(s)")

	// AND: it lifts once the cooldown passes
	f.advance(15 * time.Minute)
	_, err = f.svc.Redeem(ctx, id, item.ID, "again")
	assert.NoError(t, err)
}

func TestRedeem_GlobalCooldownAppliesToEveryone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.user(t, "a", 1000)
	b := f.user(t, "b", 1000)
	item := f.item(t, shop.Item{Name: "Shoutout", Cost: 250, GlobalCooldownMinutes: 30})

	_, err := f.svc.Redeem(ctx, a, item.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, b, item.ID, "")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialGlobalCooldown, denial.Code)
	assert.ErrorIs(t, err, ledger.ErrCooldownActive)
	assert.Equal(t, int64(1000), f.balance(t, b))
}

func TestRedeem_InputRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "1", 1000)
	item := f.item(t, shop.Item{Name: "Role Color", Cost: 500, RequiresInput: true, InputPrompt: "Which color?"})

	_, err := f.svc.Redeem(ctx, id, item.ID, "   ")
	assert.ErrorIs(t, err, ledger.ErrInputRequired)
	assert.True(t, ledger.IsValidation(err))
	assert.Equal(t, int64(1000), f.balance(t, id))
}

func TestRedeem_AutoFulfill(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "1", 300)
	item := f.item(t, shop.Item{Name: "Badge", Cost: 300, AutoFulfill: true})

	receipt, err := f.svc.Redeem(ctx, id, item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, shop.StatusFulfilled, receipt.Status)
	assert.Equal(t, "Redemption completed!", receipt.Message)

	pending, err := f.svc.PendingRedemptions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedeem_PremiumCurrency(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "1", 1000)
	item := f.item(t, shop.Item{Name: "VIP", Cost: 5, Currency: ledger.CurrencyPremium})

	_, err := f.svc.Redeem(ctx, id, item.ID, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = f.awards.AwardPremiumCurrency(ctx, id, 5, ledger.CategoryAdminGrant, "")
	require.NoError(t, err)
	receipt, err := f.svc.Redeem(ctx, id, item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), receipt.NewBalance)
	assert.Equal(t, int64(1000), f.balance(t, id))
}

func TestRedeem_StockRace(t *testing.T) {
	// GIVEN: two units and eight buyers
	f := setup(t)
	ctx := context.Background()
	item := f.item(t, shop.Item{Name: "Sticker Pack", Cost: 100, Stock: 2})
	buyers := make([]ledger.UserID, 8)
	for i := range buyers {
		buyers[i] = f.user(t, string(rune('a'+i)), 100)
	}

	// WHEN: they all redeem at once
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range buyers {
		wg.Add(1)
		go func(id ledger.UserID) {
			defer wg.Done()
			_, err := f.svc.Redeem(ctx, id, item.ID, "")
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case !errors.Is(err, ledger.ErrOutOfStock):
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	// THEN: exactly two sales and never negative stock
	assert.Equal(t, 2, wins)
	got, err := f.svc.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Stock)

	var spent int64
	for _, id := range buyers {
		spent += 100 - f.balance(t, id)
	}
	assert.Equal(t, int64(200), spent)
}

// =============================================================================
// ADMIN TRANSITIONS
// =============================================================================

func TestFulfillThenRefund(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "1", 500)
	item := f.item(t, shop.Item{Name: "Poster", Cost: 500, Stock: 1})

	receipt, err := f.svc.Redeem(ctx, id, item.ID, "")
	require.NoError(t, err)

	pending, err := f.svc.PendingRedemptions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// fulfill records who and when
	f.advance(time.Hour)
	r, err := f.svc.Fulfill(ctx, receipt.RedemptionID, "mod-1", "shipped")
	require.NoError(t, err)
	assert.Equal(t, shop.StatusFulfilled, r.Status)
	assert.Equal(t, "mod-1", r.FulfilledBy)
	require.NotNil(t, r.FulfilledAt)
	assert.True(t, t0.Add(time.Hour).Equal(*r.FulfilledAt))

	_, err = f.svc.Fulfill(ctx, receipt.RedemptionID, "mod-1", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	// refund from fulfilled credits once and restores stock
	r, err = f.svc.Refund(ctx, receipt.RedemptionID, "mod-2", "lost in mail")
	require.NoError(t, err)
	assert.Equal(t, shop.StatusRefunded, r.Status)
	assert.Equal(t, "mod-2", r.FulfilledBy, "the last admin to act")
	assert.Equal(t, "lost in mail", r.Notes)
	assert.Equal(t, int64(500), f.balance(t, id))

	got, err := f.svc.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stock)

	_, err = f.svc.Refund(ctx, receipt.RedemptionID, "mod-2", "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
	assert.True(t, ledger.IsIntegrity(err))
	assert.Equal(t, int64(500), f.balance(t, id))

	_, err = f.svc.Refund(ctx, 9999, "mod-2", "")
	assert.ErrorIs(t, err, ledger.ErrRedemptionNotFound)
}

func TestUserRedemptions_NewestFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "1", 1000)
	a := f.item(t, shop.Item{Name: "A", Cost: 10})
	b := f.item(t, shop.Item{Name: "B", Cost: 10})

	_, err := f.svc.Redeem(ctx, id, a.ID, "")
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.svc.Redeem(ctx, id, b.ID, "")
	require.NoError(t, err)

	list, err := f.svc.UserRedemptions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].ItemName)
	assert.Equal(t, "A", list[1].ItemName)
}

func TestSaveItem_Validates(t *testing.T) {
	f := setup(t)
	_, err := f.svc.SaveItem(context.Background(), shop.Item{Name: "Free", Currency: ledger.CurrencyRegular})
	assert.ErrorIs(t, err, ledger.ErrInvalidItem)

	_, err = f.svc.SaveItem(context.Background(), shop.Item{
		ID: 77, Name: "Ghost", Cost: 1, Currency: ledger.CurrencyRegular, Stock: shop.UnlimitedStock,
	})
	assert.ErrorIs(t, err, ledger.ErrItemNotFound)
}
