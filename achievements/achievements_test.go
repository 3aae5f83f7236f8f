/*
achievements_test.go - Tests for conditions and the unlock engine

Tests for:
- Condition evaluation and progress for every comparator
- Definition validation
- Exactly-once unlock and disbursement
- Deferred unlocks through the outbox
- Concurrent checks for the same user
*/
package achievements_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/rewards"
	"github.com/warp/reward-engine/store/sqlite"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func talker(threshold int64) achievements.Definition {
	return achievements.Definition{
		Name:           "Talker",
		Rarity:         achievements.RarityCommon,
		RewardCurrency: 10,
		RewardXP:       25,
		Condition: achievements.Condition{
			Field: achievements.FieldMessageCount, Comparator: achievements.CompareGTE, Threshold: threshold,
		},
	}
}

func setup(t *testing.T, defs ...achievements.Definition) (*achievements.Engine, *rewards.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	awards := rewards.NewService(store, rewards.WithClock(func() time.Time { return t0 }))
	eng, err := achievements.NewEngine(context.Background(), store, awards, defs)
	require.NoError(t, err)
	return eng, awards, store
}

func newUser(t *testing.T, store *sqlite.Store, discordID string) ledger.UserID {
	t.Helper()
	u, err := store.CreateUser(context.Background(), ledger.User{
		DiscordID: &discordID, DisplayName: discordID, Level: 1, CreatedAt: t0, UpdatedAt: t0,
	})
	require.NoError(t, err)
	return u.ID
}

func chat(t *testing.T, awards *rewards.Service, id ledger.UserID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := awards.AwardCurrency(context.Background(), id, 1, ledger.CategoryChat, "Chatting")
		require.NoError(t, err)
	}
}

// =============================================================================
// CONDITIONS
// =============================================================================

func TestCondition_Evaluate(t *testing.T) {
	snap := achievements.Snapshot{Level: 5, MessageCount: 100, HasLinkedSecondary: true}

	tests := []struct {
		name string
		cond achievements.Condition
		want bool
	}{
		{"gte met", achievements.Condition{Field: achievements.FieldMessageCount, Comparator: achievements.CompareGTE, Threshold: 100}, true},
		{"gte unmet", achievements.Condition{Field: achievements.FieldMessageCount, Comparator: achievements.CompareGTE, Threshold: 101}, false},
		{"gt boundary", achievements.Condition{Field: achievements.FieldLevel, Comparator: achievements.CompareGT, Threshold: 5}, false},
		{"eq", achievements.Condition{Field: achievements.FieldLevel, Comparator: achievements.CompareEQ, Threshold: 5}, true},
		{"lt", achievements.Condition{Field: achievements.FieldLevel, Comparator: achievements.CompareLT, Threshold: 5}, false},
		{"lte", achievements.Condition{Field: achievements.FieldLevel, Comparator: achievements.CompareLTE, Threshold: 5}, true},
		{"is_true", achievements.Condition{Field: achievements.FieldHasLinkedSecondary, Comparator: achievements.CompareIsTrue}, true},
		{"is_true on zero", achievements.Condition{Field: achievements.FieldGiftsSent, Comparator: achievements.CompareIsTrue}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(snap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_Progress(t *testing.T) {
	snap := achievements.Snapshot{MessageCount: 40}

	p, req := achievements.Condition{Field: achievements.FieldMessageCount, Comparator: achievements.CompareGTE, Threshold: 100}.Progress(snap)
	assert.Equal(t, int64(40), p)
	assert.Equal(t, int64(100), req)

	p, req = achievements.Condition{Field: achievements.FieldMessageCount, Comparator: achievements.CompareGTE, Threshold: 10}.Progress(snap)
	assert.Equal(t, int64(10), p, "progress is capped at the threshold")
	assert.Equal(t, int64(10), req)

	p, req = achievements.Condition{Field: achievements.FieldHasLinkedSecondary, Comparator: achievements.CompareIsTrue}.Progress(snap)
	assert.Equal(t, int64(0), p)
	assert.Equal(t, int64(1), req)
}

func TestDefinition_Validate(t *testing.T) {
	good := talker(1)
	assert.NoError(t, good.Validate())

	bad := good
	bad.Condition.Field = "karma"
	assert.Error(t, bad.Validate())

	bad = good
	bad.Condition.Comparator = "!="
	assert.Error(t, bad.Validate())

	bad = good
	bad.RewardXP = -1
	assert.Error(t, bad.Validate())

	bad = good
	bad.Rarity = "mythic"
	assert.Error(t, bad.Validate())
}

func TestNewEngine_RejectsDuplicates(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = achievements.NewEngine(context.Background(), store, rewards.NewService(store), []achievements.Definition{talker(1), talker(2)})
	assert.Error(t, err)
}

// =============================================================================
// UNLOCKING
// =============================================================================

func TestAutoCheck_UnlocksOnceAndPays(t *testing.T) {
	// GIVEN: a user who reached the threshold
	eng, awards, store := setup(t, talker(3))
	ctx := context.Background()
	id := newUser(t, store, "1")
	chat(t, awards, id, 3)

	// WHEN: checking twice
	first, err := eng.AutoCheck(ctx, id)
	require.NoError(t, err)
	second, err := eng.AutoCheck(ctx, id)
	require.NoError(t, err)

	// THEN: one unlock, one payout
	require.Len(t, first, 1)
	assert.Equal(t, "Talker", first[0].Definition.Name)
	assert.False(t, first[0].Deferred)
	assert.Empty(t, second)

	u, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3+10), u.Currency)
	assert.Equal(t, int64(25), u.XP)
}

func TestAutoCheck_BelowThresholdStaysLocked(t *testing.T) {
	eng, awards, store := setup(t, talker(3))
	ctx := context.Background()
	id := newUser(t, store, "1")
	chat(t, awards, id, 2)

	unlocked, err := eng.AutoCheck(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	statuses, err := eng.UserAchievements(ctx, id)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Unlocked)
	assert.Equal(t, int64(2), statuses[0].Progress)
	assert.Equal(t, int64(3), statuses[0].Required)
}

func TestAutoCheck_ConcurrentChecksPayOnce(t *testing.T) {
	eng, awards, store := setup(t, talker(1))
	ctx := context.Background()
	id := newUser(t, store, "1")
	chat(t, awards, id, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlocked, err := eng.AutoCheck(ctx, id)
			if assert.NoError(t, err) {
				mu.Lock()
				total += len(unlocked)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	u, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1+10), u.Currency)
}

func TestAutoCheckDeferred_QueuesUntilDrained(t *testing.T) {
	// GIVEN: an unlock that happens outside a conversation
	eng, awards, store := setup(t, talker(1))
	ctx := context.Background()
	id := newUser(t, store, "1")
	chat(t, awards, id, 1)

	unlocked, err := eng.AutoCheckDeferred(ctx, id)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.True(t, unlocked[0].Deferred)

	// WHEN: the outbox is drained
	pending, err := eng.PendingNotifications(ctx, id)
	require.NoError(t, err)

	// THEN: it is delivered exactly once
	require.Len(t, pending, 1)
	assert.Equal(t, "Talker", pending[0].Definition.Name)
	again, err := eng.PendingNotifications(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGrant(t *testing.T) {
	eng, awards, store := setup(t, talker(2))
	ctx := context.Background()
	id := newUser(t, store, "1")

	u, err := eng.Grant(ctx, id, "Talker")
	require.NoError(t, err)
	assert.Nil(t, u)

	chat(t, awards, id, 2)
	u, err = eng.Grant(ctx, id, "Talker")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, t0, u.UnlockedAt)

	_, err = eng.Grant(ctx, id, "Missing")
	assert.ErrorIs(t, err, ledger.ErrAchievementUnknown)
}

func TestSnapshot_UnknownUser(t *testing.T) {
	eng, _, _ := setup(t, talker(1))
	_, err := eng.Snapshot(context.Background(), 404)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}
