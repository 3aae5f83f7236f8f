/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- User resolution (201 on first sight, 200 after)
- Activity endpoints returning pipeline outcomes
- Error mapping: 400 validation, 404 unknown, 409 denial and conflict
- Shop redeem, fulfillment queue and refund through the admin routes
- Scheduler jobs
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/api"
	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/factory"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/store/sqlite"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	router http.Handler
	eng    *engine.Engine
	clock  *testClock
}

func setup(t *testing.T, defs []achievements.Definition) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng, err := engine.New(context.Background(), store, defs, engine.WithClock(clk.Now))
	require.NoError(t, err)

	h := api.NewHandler(eng, store)
	return &fixture{router: api.NewRouter(h, []string{"*"}), eng: eng, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) createUser(t *testing.T, platform, id string) api.UserDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/users", api.CreateUserRequest{Platform: platform, ExternalID: id, DisplayName: "user-" + id})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.UserDTO](t, rec)
}

func (f *fixture) grant(t *testing.T, userID int64, resource string, amount int64) api.AdminResultDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/admin/grants", api.AdjustmentRequest{
		UserID: userID, Resource: resource, Amount: amount, Reason: "test", Admin: "mod",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.AdminResultDTO](t, rec)
}

func defaultDefs(t *testing.T) []achievements.Definition {
	t.Helper()
	c, err := factory.DefaultCatalog()
	require.NoError(t, err)
	return c.Achievements
}

// =============================================================================
// USERS
// =============================================================================

func TestHealth(t *testing.T) {
	f := setup(t, nil)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUser_CreatedThenResolved(t *testing.T) {
	f := setup(t, nil)

	u := f.createUser(t, "discord", "100")
	assert.Equal(t, 1, u.Level)
	require.NotNil(t, u.DiscordID)
	assert.Equal(t, "100", *u.DiscordID)

	rec := f.do(t, http.MethodPost, "/api/users", api.CreateUserRequest{Platform: "discord", ExternalID: "100"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, u.ID, decode[api.UserDTO](t, rec).ID)
}

func TestCreateUser_InvalidPlatform(t *testing.T) {
	f := setup(t, nil)
	rec := f.do(t, http.MethodPost, "/api/users", api.CreateUserRequest{Platform: "irc", ExternalID: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/users", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUser_NotFound(t *testing.T) {
	f := setup(t, nil)

	rec := f.do(t, http.MethodGet, "/api/users/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[api.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/users/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ACTIVITY
// =============================================================================

func TestRecordChat_ReturnsOutcome(t *testing.T) {
	// GIVEN: a new user and the default catalog
	f := setup(t, defaultDefs(t))
	u := f.createUser(t, "discord", "100")

	// WHEN: the bot reports their first message
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/chat", u.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[api.OutcomeDTO](t, rec)

	// THEN: the outcome carries the accrual and the First Steps unlock
	assert.True(t, out.Accrued)
	assert.Equal(t, int64(1), out.CurrencyDelta)
	require.Len(t, out.Notifications, 1)
	assert.Equal(t, "achievement", out.Notifications[0].Kind)
	assert.Equal(t, "First Steps", out.Notifications[0].Achievement.Name)

	// AND: a second message inside the cooldown is reported, not failed
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/chat", u.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode[api.OutcomeDTO](t, rec)
	assert.False(t, out.Accrued)
	assert.NotEmpty(t, out.Reason)
	assert.Equal(t, 60, out.RetryAfterSeconds)

	stats := decode[api.StatsDTO](t, f.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/stats", u.ID), nil))
	assert.Equal(t, int64(11), stats.User.Currency)
	assert.Equal(t, int64(1), stats.MessageCount)
	assert.Equal(t, 1, stats.AchievementsUnlocked)
}

func TestClaimDaily_SecondClaimConflicts(t *testing.T) {
	f := setup(t, nil)
	u := f.createUser(t, "discord", "100")
	path := fmt.Sprintf("/api/users/%d/daily", u.ID)

	rec := f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	daily := decode[api.DailyDTO](t, rec)
	assert.Equal(t, int64(100), daily.Currency)
	assert.Equal(t, int64(50), daily.XP)
	assert.Equal(t, 1, daily.Streak)

	f.clock.Advance(time.Hour)
	rec = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "daily_claimed", resp.Code)
	assert.Equal(t, map[string]any{"hours_remaining": float64(23)}, resp.Details)
}

func TestSendGift(t *testing.T) {
	f := setup(t, nil)
	alice := f.createUser(t, "discord", "1")
	bob := f.createUser(t, "discord", "2")
	f.grant(t, alice.ID, "currency", 100)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/gifts", alice.ID), api.GiftRequest{ToUserID: bob.ID, Amount: 40})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(60), decode[api.GiftDTO](t, rec).SenderBalance)

	// more than the balance is a structured denial
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/gifts", alice.ID), api.GiftRequest{ToUserID: bob.ID, Amount: 500})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_funds", resp.Code)
	assert.Equal(t, float64(60), resp.Details.(map[string]any)["available"])

	// gifting yourself is invalid
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/gifts", alice.ID), api.GiftRequest{ToUserID: alice.ID, Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoiceJoinAndLeave(t *testing.T) {
	f := setup(t, nil)
	u := f.createUser(t, "discord", "1")

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/voice/join", u.ID), api.VoiceJoinRequest{Channel: "lounge"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock.Advance(3 * time.Minute)
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/users/%d/voice/leave", u.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	left := decode[api.VoiceLeaveDTO](t, rec)
	assert.True(t, left.WasInVoice)
	assert.Equal(t, 3.0, left.Minutes)

	rec = f.do(t, http.MethodPost, "/api/users/999/voice/join", api.VoiceJoinRequest{Channel: "lounge"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	f := setup(t, nil)
	a := f.createUser(t, "discord", "1")
	b := f.createUser(t, "discord", "2")
	f.grant(t, a.ID, "currency", 10)
	f.grant(t, b.ID, "currency", 30)

	rec := f.do(t, http.MethodGet, "/api/leaderboard/currency", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Entries []api.LeaderboardEntryDTO `json:"entries"`
	}](t, rec)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, b.ID, body.Entries[0].UserID)
	assert.Equal(t, 1, body.Entries[0].Rank)

	rec = f.do(t, http.MethodGet, "/api/leaderboard/karma", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SHOP AND ADMIN
// =============================================================================

func TestShop_RedeemFulfillRefund(t *testing.T) {
	// GIVEN: a one-unit item and a funded user
	f := setup(t, nil)
	u := f.createUser(t, "discord", "1")

	rec := f.do(t, http.MethodPut, "/api/admin/items", api.ItemDTO{
		Name: "Shoutout", Cost: 30, Stock: 1, Enabled: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decode[api.ItemDTO](t, rec)
	assert.Equal(t, "currency", item.Currency)

	redeemPath := fmt.Sprintf("/api/shop/items/%d/redeem", item.ID)
	checkPath := fmt.Sprintf("/api/shop/items/%d/can-redeem?user_id=%d", item.ID, u.ID)

	// WHEN: they try before they can afford it
	el := decode[api.EligibilityDTO](t, f.do(t, http.MethodGet, checkPath, nil))
	assert.False(t, el.Allowed)
	assert.Equal(t, "insufficient_funds", el.Code)

	rec = f.do(t, http.MethodPost, redeemPath, api.RedeemRequest{UserID: u.ID})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_funds", decode[api.ErrorResponse](t, rec).Code)

	// AND: after a grant
	f.grant(t, u.ID, "currency", 100)
	rec = f.do(t, http.MethodPost, redeemPath, api.RedeemRequest{UserID: u.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[api.ReceiptDTO](t, rec)

	// THEN: the balance drops and the stock is gone
	assert.Equal(t, int64(70), receipt.NewBalance)
	assert.Equal(t, "pending", receipt.Status)

	rec = f.do(t, http.MethodPost, redeemPath, api.RedeemRequest{UserID: u.ID})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "out_of_stock", decode[api.ErrorResponse](t, rec).Code)

	// AND: it shows up in the fulfillment queue
	pending := decode[struct {
		Redemptions []api.RedemptionDTO `json:"redemptions"`
	}](t, f.do(t, http.MethodGet, "/api/admin/redemptions/pending", nil))
	require.Len(t, pending.Redemptions, 1)
	assert.Equal(t, receipt.RedemptionID, pending.Redemptions[0].ID)

	// AND: a refund restores the balance once
	refundPath := fmt.Sprintf("/api/admin/redemptions/%d/refund", receipt.RedemptionID)
	rec = f.do(t, http.MethodPost, refundPath, api.RefundRequest{Admin: "mod", Reason: "changed mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[api.RedemptionDTO](t, rec).Refunded)

	rec = f.do(t, http.MethodPost, refundPath, api.RefundRequest{Admin: "mod"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[api.ErrorResponse](t, rec).Code)

	user := decode[api.UserDTO](t, f.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", u.ID), nil))
	assert.Equal(t, int64(100), user.Currency)
}

func TestRedeem_UnknownItem(t *testing.T) {
	f := setup(t, nil)
	u := f.createUser(t, "discord", "1")

	rec := f.do(t, http.MethodPost, "/api/shop/items/42/redeem", api.RedeemRequest{UserID: u.ID})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "item_not_found", decode[api.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/admin/redemptions/42/fulfill", api.FulfillRequest{Admin: "mod"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminTake(t *testing.T) {
	f := setup(t, nil)
	u := f.createUser(t, "discord", "1")
	f.grant(t, u.ID, "xp", 450)

	rec := f.do(t, http.MethodPost, "/api/admin/takes", api.AdjustmentRequest{
		UserID: u.ID, Resource: "xp", Amount: 100, Admin: "mod", Reason: "spam",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.AdminResultDTO](t, rec)
	assert.Equal(t, int64(350), res.NewBalance)
	assert.Equal(t, 2, res.Level)

	rec = f.do(t, http.MethodPost, "/api/admin/takes", api.AdjustmentRequest{UserID: u.ID, Resource: "gold", Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_RunVoiceTick(t *testing.T) {
	f := setup(t, nil)
	u := f.createUser(t, "discord", "1")
	require.NoError(t, f.eng.VoiceJoin(context.Background(), ledger.UserID(u.ID), "lounge"))

	s, err := api.NewScheduler(f.eng, "@every 1m", "@every 10m")
	require.NoError(t, err)

	// nobody has been in voice for a full cooldown yet
	assert.Equal(t, 0, s.RunVoiceTick(context.Background()).Sessions)

	f.clock.Advance(time.Minute)
	summary := s.RunVoiceTick(context.Background())
	assert.Equal(t, 1, summary.Sessions)
	assert.Equal(t, 1, summary.Accrued)

	user := decode[api.UserDTO](t, f.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", u.ID), nil))
	assert.Equal(t, int64(2), user.Currency)
	assert.Equal(t, int64(3), user.XP)

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, s.RunSweep())
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	f := setup(t, nil)
	_, err := api.NewScheduler(f.eng, "whenever", "@every 10m")
	assert.Error(t, err)
}
