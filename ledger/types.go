/*
types.go - Core ledger types for the reward engine

PURPOSE:
  Defines the user record (the root aggregate every other table hangs off)
  and the append-only transaction that justifies every balance change.

KEY CONCEPTS:
  User:        One record per identity root. May carry a primary (Discord)
               and a secondary (Twitch) platform id once accounts are linked.
  Resource:    What a transaction moves: regular currency, premium currency or XP.
  Transaction: Immutable ledger entry. Direction + resource + category + amount.

BALANCES vs TRANSACTIONS:
  Balances live on the user row for read efficiency. Every mutation of a
  balance appends exactly one transaction, so the log can always explain
  the balance. Level is a cache of XP (see leveling package).

SEE ALSO:
  - store.go: Persistence contract
  - errors.go: Error taxonomy
  - leveling/leveling.go: XP <-> level math
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64

type TransactionID string

// Platform identifies which external identity a platform id belongs to.
type Platform string

const (
	PlatformDiscord Platform = "discord" // primary
	PlatformTwitch  Platform = "twitch"  // secondary
)

func (p Platform) Valid() bool {
	return p == PlatformDiscord || p == PlatformTwitch
}

// =============================================================================
// RESOURCES & CATEGORIES
// =============================================================================

// Resource is the balance a transaction moves.
type Resource string

const (
	ResourceCurrency Resource = "currency"
	ResourcePremium  Resource = "premium_currency"
	ResourceXP       Resource = "xp"
)

// CurrencyType is the spendable subset of Resource used by shop items.
type CurrencyType string

const (
	CurrencyRegular CurrencyType = "regular"
	CurrencyPremium CurrencyType = "premium"
)

// Resource maps a currency type onto the balance column it debits.
func (c CurrencyType) Resource() Resource {
	if c == CurrencyPremium {
		return ResourcePremium
	}
	return ResourceCurrency
}

func (c CurrencyType) Valid() bool {
	return c == CurrencyRegular || c == CurrencyPremium
}

type Direction string

const (
	DirectionEarn  Direction = "earn"
	DirectionSpend Direction = "spend"
)

// Category explains why a transaction happened.
type Category string

const (
	CategoryChat        Category = "chat"
	CategoryVoice       Category = "voice"
	CategoryDaily       Category = "daily"
	CategoryAdminGrant  Category = "admin_grant"
	CategoryAdminTake   Category = "admin_take"
	CategoryAchievement Category = "achievement"
	CategoryShop        Category = "shop"
	CategoryRefund      Category = "refund"
	CategoryLevelUp     Category = "level_up"
	CategoryGift        Category = "gift"
)

// =============================================================================
// USER
// =============================================================================

// User is the root aggregate. Balances are never negative.
type User struct {
	ID              UserID
	DiscordID       *string
	TwitchID        *string
	TwitchUsername  *string
	DisplayName     string
	Currency        int64
	PremiumCurrency int64
	XP              int64
	Level           int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PlatformID returns the id the user carries for the given platform.
func (u *User) PlatformID(p Platform) *string {
	switch p {
	case PlatformDiscord:
		return u.DiscordID
	case PlatformTwitch:
		return u.TwitchID
	}
	return nil
}

// Balance returns the balance held for a resource.
func (u *User) Balance(r Resource) int64 {
	switch r {
	case ResourceCurrency:
		return u.Currency
	case ResourcePremium:
		return u.PremiumCurrency
	case ResourceXP:
		return u.XP
	}
	return 0
}

// HasLinkedAccounts is true once both platform ids are attached.
func (u *User) HasLinkedAccounts() bool {
	return u.DiscordID != nil && u.TwitchID != nil
}

// Profile holds per-user counters that are not balances.
type Profile struct {
	UserID      UserID
	DailyStreak int
	LastDailyAt *time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is an immutable ledger entry. Amount is always positive;
// Direction carries the sign.
type Transaction struct {
	ID          TransactionID
	UserID      UserID
	Direction   Direction
	Resource    Resource
	Category    Category
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// Signed returns the amount with the direction applied.
func (t Transaction) Signed() int64 {
	if t.Direction == DirectionSpend {
		return -t.Amount
	}
	return t.Amount
}

// LeaderboardCategory selects the ranking column.
type LeaderboardCategory string

const (
	LeaderboardCurrency LeaderboardCategory = "currency"
	LeaderboardXP       LeaderboardCategory = "xp"
	LeaderboardLevel    LeaderboardCategory = "level"
)

func (c LeaderboardCategory) Valid() bool {
	return c == LeaderboardCurrency || c == LeaderboardXP || c == LeaderboardLevel
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank        int
	UserID      UserID
	DisplayName string
	Currency    int64
	XP          int64
	Level       int
}
