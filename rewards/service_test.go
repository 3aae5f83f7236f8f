package rewards_test

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
	"github.com/warp/reward-engine/store/sqlite"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, now *time.Time) (*rewards.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return rewards.NewService(store, rewards.WithClock(func() time.Time { return *now })), store
}

func newUser(t *testing.T, store *sqlite.Store, discordID string) ledger.UserID {
	t.Helper()
	u, err := store.CreateUser(context.Background(), ledger.User{
		DiscordID: &discordID, DisplayName: discordID, Level: 1, CreatedAt: t0, UpdatedAt: t0,
	})
	require.NoError(t, err)
	return u.ID
}

func TestAwardCurrency_WritesOneTransaction(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")

	balance, err := svc.AwardCurrency(ctx, id, 25, ledger.CategoryChat, "Chatting")
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)

	txs, err := store.ListTransactions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.DirectionEarn, txs[0].Direction)
	assert.Equal(t, ledger.ResourceCurrency, txs[0].Resource)
	assert.Equal(t, int64(25), txs[0].Signed())
	assert.NotEmpty(t, txs[0].ID)
}

func TestAwardCurrency_RejectsBadInput(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")

	_, err := svc.AwardCurrency(ctx, id, 0, ledger.CategoryChat, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = svc.AwardCurrency(ctx, 999, 5, ledger.CategoryChat, "")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestSpend_InsufficientFundsIsStructured(t *testing.T) {
	// GIVEN: a user with 30
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")
	_, err := svc.AwardCurrency(ctx, id, 30, ledger.CategoryAdminGrant, "")
	require.NoError(t, err)

	// WHEN: spending 31
	_, err = svc.SpendCurrency(ctx, id, 31, ledger.CategoryShop, "too much")

	// THEN: the error carries the shortfall and nothing changed
	var short *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(30), short.Available)
	assert.Equal(t, int64(31), short.Requested)
	assert.True(t, ledger.IsDenial(err))

	u, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(30), u.Currency)
	txs, err := store.ListTransactions(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSpend_PremiumIsSeparate(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")
	_, err := svc.AwardCurrency(ctx, id, 100, ledger.CategoryAdminGrant, "")
	require.NoError(t, err)

	_, err = svc.Spend(ctx, id, ledger.CurrencyPremium, 1, ledger.CategoryShop, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = svc.AwardPremiumCurrency(ctx, id, 3, ledger.CategoryAdminGrant, "")
	require.NoError(t, err)
	balance, err := svc.Spend(ctx, id, ledger.CurrencyPremium, 2, ledger.CategoryShop, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)
}

func TestSpend_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")
	_, err := svc.AwardCurrency(ctx, id, 50, ledger.CategoryAdminGrant, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SpendCurrency(ctx, id, 7, ledger.CategoryShop, "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	u, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, succeeded)
	assert.Equal(t, int64(50-7*7), u.Currency)
}

func TestAwardXP_PersistsLevelUpwardOnly(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")

	res, err := svc.AwardXP(ctx, id, 99, ledger.CategoryChat)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)

	res, err = svc.AwardXP(ctx, id, 1, ledger.CategoryChat)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, int64(100), res.NewXP)

	u, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Level)
}

func TestAdjustXP_FloorsAtZeroAndRecordsApplied(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")
	_, err := svc.AwardXP(ctx, id, 450, ledger.CategoryAdminGrant)
	require.NoError(t, err)

	res, err := svc.AdjustXP(ctx, id, -1000, ledger.CategoryAdminTake, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewXP)
	assert.Equal(t, 3, res.OldLevel)
	assert.Equal(t, 1, res.NewLevel)

	txs, err := store.ListTransactions(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.DirectionSpend, txs[0].Direction)
	assert.Equal(t, int64(450), txs[0].Amount)

	_, err = svc.AdjustXP(ctx, id, 0, ledger.CategoryAdminTake, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestGift(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	from := newUser(t, store, "1")
	to := newUser(t, store, "2")
	_, err := svc.AwardCurrency(ctx, from, 40, ledger.CategoryAdminGrant, "")
	require.NoError(t, err)

	balance, err := svc.Gift(ctx, from, to, 15, "gg")
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)

	receiver, err := store.GetUser(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(15), receiver.Currency)

	last, err := store.LastTransaction(ctx, to, ledger.CategoryGift)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Contains(t, last.Description, "gg")

	// the whole gift rolls back when the sender cannot pay
	_, err = svc.Gift(ctx, from, to, 100, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	receiver, err = store.GetUser(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(15), receiver.Currency)

	_, err = svc.Gift(ctx, from, from, 1, "")
	assert.ErrorIs(t, err, ledger.ErrSelfTransfer)
	_, err = svc.Gift(ctx, from, 999, 1, "")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestClaimDaily(t *testing.T) {
	now := t0
	svc, store := setup(t, &now)
	ctx := context.Background()
	id := newUser(t, store, "1")

	// GIVEN: a first claim
	res, err := svc.ClaimDaily(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, int64(50), res.XP.NewXP)

	// WHEN: 23h30m later
	now = t0.Add(23*time.Hour + 30*time.Minute)
	res, err = svc.ClaimDaily(ctx, id)
	require.NoError(t, err)

	// THEN: denied, rounding the wait up to one hour
	assert.False(t, res.Granted)
	assert.Equal(t, 1, res.HoursRemaining)

	// WHEN: the next claim is inside the grace window
	now = t0.Add(30 * time.Hour)
	res, err = svc.ClaimDaily(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, 2, res.Streak)

	// WHEN: a claim after more than 48 hours of silence
	now = now.Add(49 * time.Hour)
	res, err = svc.ClaimDaily(ctx, id)
	require.NoError(t, err)

	// THEN: the streak resets
	assert.True(t, res.Granted)
	assert.Equal(t, 1, res.Streak)

	p, err := store.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.DailyStreak)
	require.NotNil(t, p.LastDailyAt)
	assert.True(t, now.Equal(*p.LastDailyAt))
}
