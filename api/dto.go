/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain types from the external API contract used by the
  dashboard and the stream overlay extension.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Users:        UserDTO, ProgressDTO, StatsDTO, CreateUserRequest
  Ledger:       TransactionDTO, LeaderboardEntryDTO
  Pipeline:     OutcomeDTO, NotificationDTO, UnlockDTO, LevelUpDTO, DailyDTO
  Shop:         ItemDTO, RedemptionDTO, ReceiptDTO, EligibilityDTO
  Admin:        AdjustmentRequest, AdminResultDTO, FulfillRequest, RefundRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reward-engine/accounts"
	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/leveling"
	"github.com/warp/reward-engine/shop"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID              int64       `json:"id"`
	DisplayName     string      `json:"display_name"`
	DiscordID       *string     `json:"discord_id,omitempty"`
	TwitchID        *string     `json:"twitch_id,omitempty"`
	TwitchUsername  *string     `json:"twitch_username,omitempty"`
	Currency        int64       `json:"currency"`
	PremiumCurrency int64       `json:"premium_currency"`
	XP              int64       `json:"xp"`
	Level           int         `json:"level"`
	Progress        ProgressDTO `json:"progress"`
	CreatedAt       string      `json:"created_at"`
}

// ProgressDTO is the level progress shown on profile cards.
type ProgressDTO struct {
	Level          int    `json:"level"`
	XPIntoLevel    int64  `json:"xp_into_level"`
	XPForNextLevel int64  `json:"xp_for_next_level"`
	NextLevelXP    int64  `json:"next_level_xp"`
	Percent        int    `json:"percent"`
	Bar            string `json:"bar"`
}

// CreateUserRequest resolves a platform identity, creating it on first sight.
type CreateUserRequest struct {
	Platform    string `json:"platform"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

// StatsDTO is the full profile card.
type StatsDTO struct {
	User                 UserDTO  `json:"user"`
	DailyStreak          int      `json:"daily_streak"`
	LastDailyAt          *string  `json:"last_daily_at,omitempty"`
	MessageCount         int64    `json:"message_count"`
	TotalSpent           int64    `json:"total_spent"`
	GiftsSent            int64    `json:"gifts_sent"`
	UniqueItems          int64    `json:"unique_items"`
	TotalItems           int64    `json:"total_items"`
	AchievementsUnlocked int      `json:"achievements_unlocked"`
	AchievementsTotal    int      `json:"achievements_total"`
	NextUnlocks          []string `json:"next_unlocks,omitempty"`
}

// LinkRequest attaches a Twitch identity to a Discord user.
type LinkRequest struct {
	TwitchID       string `json:"twitch_id"`
	TwitchUsername string `json:"twitch_username"`
}

// LinkResultDTO reports what a link did.
type LinkResultDTO struct {
	Merged        bool        `json:"merged"`
	CurrencyAdded int64       `json:"currency_added"`
	PremiumAdded  int64       `json:"premium_added"`
	XPAdded       int64       `json:"xp_added"`
	NewLevel      int         `json:"new_level"`
	Queued        []UnlockDTO `json:"queued_achievements"`
}

// VoiceJoinRequest starts a voice session.
type VoiceJoinRequest struct {
	Channel string `json:"channel"`
}

// VoiceLeaveDTO reports a finished voice session.
type VoiceLeaveDTO struct {
	WasInVoice bool    `json:"was_in_voice"`
	Minutes    float64 `json:"minutes"`
}

// GiftRequest moves currency to another user.
type GiftRequest struct {
	ToUserID int64  `json:"to_user_id"`
	Amount   int64  `json:"amount"`
	Message  string `json:"message"`
}

// GiftDTO is the sender's view of a gift.
type GiftDTO struct {
	SenderBalance int64      `json:"sender_balance"`
	Outcome       OutcomeDTO `json:"outcome"`
}

// =============================================================================
// LEDGER
// =============================================================================

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Resource    string `json:"resource"`
	Category    string `json:"category"`
	Amount      int64  `json:"amount"`
	Signed      int64  `json:"signed"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// LeaderboardEntryDTO is one ranked row.
type LeaderboardEntryDTO struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Currency    int64  `json:"currency"`
	XP          int64  `json:"xp"`
	Level       int    `json:"level"`
}

// =============================================================================
// PIPELINE
// =============================================================================

// RewardDTO is what an achievement pays.
type RewardDTO struct {
	Currency int64 `json:"currency,omitempty"`
	Premium  int64 `json:"premium,omitempty"`
	XP       int64 `json:"xp,omitempty"`
}

// UnlockDTO is an unlocked achievement to announce.
type UnlockDTO struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Rarity      string    `json:"rarity"`
	Reward      RewardDTO `json:"reward"`
	Deferred    bool      `json:"deferred"`
	UnlockedAt  string    `json:"unlocked_at"`
}

// LevelUpDTO is a level-up to announce.
type LevelUpDTO struct {
	OldLevel  int      `json:"old_level"`
	NewLevel  int      `json:"new_level"`
	Currency  int64    `json:"currency"`
	Premium   int64    `json:"premium"`
	Milestone bool     `json:"milestone"`
	Unlocks   []string `json:"unlocks,omitempty"`
}

// NotificationDTO is one entry of an ordered notification batch.
type NotificationDTO struct {
	Kind        string      `json:"kind"`
	Achievement *UnlockDTO  `json:"achievement,omitempty"`
	LevelUp     *LevelUpDTO `json:"level_up,omitempty"`
}

// OutcomeDTO is the result of an activity or action for one user.
type OutcomeDTO struct {
	Accrued           bool              `json:"accrued"`
	Reason            string            `json:"reason,omitempty"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	CurrencyDelta     int64             `json:"currency_delta"`
	XPDelta           int64             `json:"xp_delta"`
	LevelUp           *LevelUpDTO       `json:"level_up,omitempty"`
	Notifications     []NotificationDTO `json:"notifications"`
}

// DailyDTO is a granted daily claim.
type DailyDTO struct {
	Currency int64      `json:"currency"`
	XP       int64      `json:"xp"`
	Streak   int        `json:"streak"`
	Outcome  OutcomeDTO `json:"outcome"`
}

// AchievementStatusDTO is one catalog row as seen by a user.
type AchievementStatusDTO struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Rarity      string    `json:"rarity"`
	Reward      RewardDTO `json:"reward"`
	Unlocked    bool      `json:"unlocked"`
	CompletedAt *string   `json:"completed_at,omitempty"`
	Progress    int64     `json:"progress"`
	Required    int64     `json:"required"`
}

// =============================================================================
// SHOP
// =============================================================================

// ItemDTO represents a shop item in requests and responses.
type ItemDTO struct {
	ID                    int64  `json:"id"`
	Name                  string `json:"name"`
	Description           string `json:"description"`
	Cost                  int64  `json:"cost"`
	Currency              string `json:"currency"`
	Category              string `json:"category"`
	IconURL               string `json:"icon_url,omitempty"`
	Stock                 int64  `json:"stock"`
	Enabled               bool   `json:"enabled"`
	CooldownMinutes       int    `json:"cooldown_minutes"`
	GlobalCooldownMinutes int    `json:"global_cooldown_minutes"`
	RequiresInput         bool   `json:"requires_input"`
	InputPrompt           string `json:"input_prompt,omitempty"`
	AutoFulfill           bool   `json:"auto_fulfill"`
}

// RedeemRequest exchanges currency for an item.
type RedeemRequest struct {
	UserID int64  `json:"user_id"`
	Input  string `json:"input"`
}

// ReceiptDTO is returned from a successful redemption.
type ReceiptDTO struct {
	RedemptionID int64      `json:"redemption_id"`
	Status       string     `json:"status"`
	Message      string     `json:"message"`
	NewBalance   int64      `json:"new_balance"`
	Outcome      OutcomeDTO `json:"outcome"`
}

// EligibilityDTO is a pre-flight check result.
type EligibilityDTO struct {
	Allowed           bool   `json:"allowed"`
	Code              string `json:"code,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// RedemptionDTO represents a redemption in API responses.
type RedemptionDTO struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"user_id"`
	ItemID      int64   `json:"item_id"`
	ItemName    string  `json:"item_name"`
	Cost        int64   `json:"cost"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	UserInput   string  `json:"user_input,omitempty"`
	CreatedAt   string  `json:"created_at"`
	FulfilledAt *string `json:"fulfilled_at,omitempty"`
	FulfilledBy string  `json:"fulfilled_by,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	Refunded    bool    `json:"refunded"`
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustmentRequest is a grant or take.
type AdjustmentRequest struct {
	UserID   int64  `json:"user_id"`
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
	Admin    string `json:"admin"`
}

// AdminResultDTO reports the balance after an adjustment.
type AdminResultDTO struct {
	Resource   string     `json:"resource"`
	NewBalance int64      `json:"new_balance"`
	Level      int        `json:"level"`
	Outcome    OutcomeDTO `json:"outcome"`
}

// FulfillRequest moves a redemption to fulfilled.
type FulfillRequest struct {
	Admin string `json:"admin"`
	Notes string `json:"notes"`
}

// RefundRequest reverses a redemption.
type RefundRequest struct {
	Admin  string `json:"admin"`
	Reason string `json:"reason"`
}

// GrantAchievementDTO reports a single-achievement check.
type GrantAchievementDTO struct {
	Unlocked bool       `json:"unlocked"`
	Outcome  OutcomeDTO `json:"outcome"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toUserDTO(u *ledger.User) UserDTO {
	return UserDTO{
		ID:              int64(u.ID),
		DisplayName:     u.DisplayName,
		DiscordID:       u.DiscordID,
		TwitchID:        u.TwitchID,
		TwitchUsername:  u.TwitchUsername,
		Currency:        u.Currency,
		PremiumCurrency: u.PremiumCurrency,
		XP:              u.XP,
		Level:           u.Level,
		Progress:        toProgressDTO(leveling.ProgressFor(u.XP)),
		CreatedAt:       formatTime(u.CreatedAt),
	}
}

func toProgressDTO(p leveling.Progress) ProgressDTO {
	return ProgressDTO{
		Level:          p.Level,
		XPIntoLevel:    p.XPIntoLevel,
		XPForNextLevel: p.XPForNextLevel,
		NextLevelXP:    p.NextLevelXP,
		Percent:        p.Percent,
		Bar:            leveling.Bar(p.Percent, 10),
	}
}

func toStatsDTO(s *engine.UserStats) StatsDTO {
	dto := StatsDTO{
		User:                 toUserDTO(s.User),
		MessageCount:         s.Snapshot.MessageCount,
		TotalSpent:           s.Snapshot.TotalSpent,
		GiftsSent:            s.Snapshot.GiftsSent,
		UniqueItems:          s.Snapshot.UniqueItems,
		TotalItems:           s.Snapshot.TotalItems,
		AchievementsUnlocked: s.AchievementsUnlocked,
		AchievementsTotal:    s.AchievementsTotal,
		NextUnlocks:          s.NextUnlocks,
	}
	dto.User.Progress.Bar = s.Bar
	if s.Profile != nil {
		dto.DailyStreak = s.Profile.DailyStreak
		dto.LastDailyAt = formatTimePtr(s.Profile.LastDailyAt)
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		Direction:   string(tx.Direction),
		Resource:    string(tx.Resource),
		Category:    string(tx.Category),
		Amount:      tx.Amount,
		Signed:      tx.Signed(),
		Description: tx.Description,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

func toRewardDTO(d achievements.Definition) RewardDTO {
	return RewardDTO{Currency: d.RewardCurrency, Premium: d.RewardPremium, XP: d.RewardXP}
}

func toUnlockDTO(u achievements.Unlock) UnlockDTO {
	return UnlockDTO{
		Name:        u.Definition.Name,
		Description: u.Definition.Description,
		Rarity:      string(u.Definition.Rarity),
		Reward:      toRewardDTO(u.Definition),
		Deferred:    u.Deferred,
		UnlockedAt:  formatTime(u.UnlockedAt),
	}
}

func toUnlockDTOs(us []achievements.Unlock) []UnlockDTO {
	out := make([]UnlockDTO, 0, len(us))
	for _, u := range us {
		out = append(out, toUnlockDTO(u))
	}
	return out
}

func toLevelUpDTO(e *engine.LevelUpEvent) *LevelUpDTO {
	if e == nil {
		return nil
	}
	return &LevelUpDTO{
		OldLevel:  e.OldLevel,
		NewLevel:  e.NewLevel,
		Currency:  e.Reward.Currency,
		Premium:   e.Reward.Premium,
		Milestone: e.Reward.Milestone,
		Unlocks:   e.Reward.Unlocks,
	}
}

func toOutcomeDTO(o engine.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		Accrued:       o.Accrued,
		CurrencyDelta: o.Delta.Currency,
		XPDelta:       o.Delta.XP,
		LevelUp:       toLevelUpDTO(o.LevelUp),
		Notifications: make([]NotificationDTO, 0, len(o.Notifications)),
	}
	if !o.Decision.Allowed {
		dto.Reason = o.Decision.Reason
		dto.RetryAfterSeconds = ceilSeconds(o.Decision.RetryAfter)
	}
	for _, n := range o.Notifications {
		nd := NotificationDTO{Kind: string(n.Kind), LevelUp: toLevelUpDTO(n.LevelUp)}
		if n.Achievement != nil {
			u := toUnlockDTO(*n.Achievement)
			nd.Achievement = &u
		}
		dto.Notifications = append(dto.Notifications, nd)
	}
	return dto
}

func toStatusDTO(st achievements.Status) AchievementStatusDTO {
	return AchievementStatusDTO{
		Name:        st.Definition.Name,
		Description: st.Definition.Description,
		Category:    st.Definition.Category,
		Rarity:      string(st.Definition.Rarity),
		Reward:      toRewardDTO(st.Definition),
		Unlocked:    st.Unlocked,
		CompletedAt: formatTimePtr(st.CompletedAt),
		Progress:    st.Progress,
		Required:    st.Required,
	}
}

func toLinkResultDTO(r accounts.LinkResult) LinkResultDTO {
	return LinkResultDTO{
		Merged:        r.Merged,
		CurrencyAdded: r.CurrencyAdded,
		PremiumAdded:  r.PremiumAdded,
		XPAdded:       r.XPAdded,
		NewLevel:      r.NewLevel,
		Queued:        toUnlockDTOs(r.Queued),
	}
}

func toItemDTO(it shop.Item) ItemDTO {
	return ItemDTO{
		ID:                    it.ID,
		Name:                  it.Name,
		Description:           it.Description,
		Cost:                  it.Cost,
		Currency:              string(it.Currency),
		Category:              it.Category,
		IconURL:               it.IconURL,
		Stock:                 it.Stock,
		Enabled:               it.Enabled,
		CooldownMinutes:       it.CooldownMinutes,
		GlobalCooldownMinutes: it.GlobalCooldownMinutes,
		RequiresInput:         it.RequiresInput,
		InputPrompt:           it.InputPrompt,
		AutoFulfill:           it.AutoFulfill,
	}
}

func fromItemDTO(d ItemDTO) shop.Item {
	currency := ledger.CurrencyType(d.Currency)
	if currency == "" {
		currency = ledger.CurrencyRegular
	}
	return shop.Item{
		ID:                    d.ID,
		Name:                  d.Name,
		Description:           d.Description,
		Cost:                  d.Cost,
		Currency:              currency,
		Category:              d.Category,
		IconURL:               d.IconURL,
		Stock:                 d.Stock,
		Enabled:               d.Enabled,
		CooldownMinutes:       d.CooldownMinutes,
		GlobalCooldownMinutes: d.GlobalCooldownMinutes,
		RequiresInput:         d.RequiresInput,
		InputPrompt:           d.InputPrompt,
		AutoFulfill:           d.AutoFulfill,
	}
}

func toRedemptionDTO(r shop.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:          int64(r.ID),
		UserID:      int64(r.UserID),
		ItemID:      r.ItemID,
		ItemName:    r.ItemName,
		Cost:        r.Cost,
		Currency:    string(r.Currency),
		Status:      string(r.Status),
		UserInput:   r.UserInput,
		CreatedAt:   formatTime(r.CreatedAt),
		FulfilledAt: formatTimePtr(r.FulfilledAt),
		FulfilledBy: r.FulfilledBy,
		Notes:       r.Notes,
		Refunded:    r.Refunded,
	}
}

func toRedemptionDTOs(rs []shop.Redemption) []RedemptionDTO {
	out := make([]RedemptionDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRedemptionDTO(r))
	}
	return out
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
