package shop

import (
	"fmt"
	"time"

	"github.com/warp/reward-engine/ledger"
)

// UnlimitedStock marks an item that never runs out.
const UnlimitedStock int64 = -1

// Item is a purchasable catalog entry.
type Item struct {
	ID                    int64
	Name                  string
	Description           string
	Cost                  int64
	Currency              ledger.CurrencyType
	Category              string
	IconURL               string
	Stock                 int64 // UnlimitedStock or >= 0
	Enabled               bool
	CooldownMinutes       int
	GlobalCooldownMinutes int
	RequiresInput         bool
	InputPrompt           string
	AutoFulfill           bool
}

// Unlimited reports whether the item has no stock limit.
func (i Item) Unlimited() bool { return i.Stock == UnlimitedStock }

func (i Item) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("item name is required")
	}
	if i.Cost <= 0 {
		return fmt.Errorf("item %q: cost must be positive", i.Name)
	}
	if !i.Currency.Valid() {
		return fmt.Errorf("item %q: unknown currency %q", i.Name, i.Currency)
	}
	if i.Stock < UnlimitedStock {
		return fmt.Errorf("item %q: stock must be -1 or non-negative", i.Name)
	}
	if i.CooldownMinutes < 0 || i.GlobalCooldownMinutes < 0 {
		return fmt.Errorf("item %q: cooldowns cannot be negative", i.Name)
	}
	return nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

type RedemptionID int64

// Status is the redemption state.
//
//	pending ──▶ fulfilled ──▶ refunded
//	   │                        ▲
//	   └────────────────────────┘
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRefunded  Status = "refunded"
)

// Redemption records one successful exchange of currency for an item.
type Redemption struct {
	ID          RedemptionID
	UserID      ledger.UserID
	ItemID      int64
	ItemName    string
	Cost        int64
	Currency    ledger.CurrencyType
	Status      Status
	UserInput   string
	CreatedAt   time.Time
	FulfilledAt *time.Time
	FulfilledBy string
	Notes       string
	Refunded    bool
}

// Eligibility is the result of a pre-flight check. Denials are not errors.
type Eligibility struct {
	Allowed    bool
	Code       ledger.DenialCode
	Reason     string
	RetryAfter time.Duration
}

// Err returns the denial as an error, or nil when allowed.
func (e Eligibility) Err() error {
	if e.Allowed {
		return nil
	}
	return &ledger.DenialError{Code: e.Code, Reason: e.Reason, RetryAfter: e.RetryAfter}
}

// Receipt is returned from a successful redemption.
type Receipt struct {
	RedemptionID RedemptionID
	Status       Status
	Message      string
	NewBalance   int64
}
