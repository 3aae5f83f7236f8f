/*
definition.go - Declarative achievement rules

PURPOSE:
  An achievement is data: a catalog entry plus one condition of the form
  (field, comparator, threshold) over a user statistics snapshot. No
  closures, so the whole rule set can be loaded from a file, listed,
  validated and tested as a table.

CONDITION FORMS:
  {field: message_count, comparator: ">=", threshold: 100}
  {field: has_linked_secondary_account, comparator: is_true}

SNAPSHOT FIELDS:
  level, currency, xp, message_count, daily_streak,
  has_linked_secondary_account, total_spent, gifts_sent,
  unique_items, total_items

SEE ALSO:
  - engine.go: Evaluates definitions and grants rewards
  - factory/catalog.go: YAML loader for definitions
*/
package achievements

import (
	"fmt"
	"time"

	"github.com/warp/reward-engine/ledger"
)

// Field names a snapshot statistic.
type Field string

const (
	FieldLevel              Field = "level"
	FieldCurrency           Field = "currency"
	FieldXP                 Field = "xp"
	FieldMessageCount       Field = "message_count"
	FieldDailyStreak        Field = "daily_streak"
	FieldHasLinkedSecondary Field = "has_linked_secondary_account"
	FieldTotalSpent         Field = "total_spent"
	FieldGiftsSent          Field = "gifts_sent"
	FieldUniqueItems        Field = "unique_items"
	FieldTotalItems         Field = "total_items"
)

// Fields lists every known field.
var Fields = []Field{
	FieldLevel, FieldCurrency, FieldXP, FieldMessageCount, FieldDailyStreak,
	FieldHasLinkedSecondary, FieldTotalSpent, FieldGiftsSent, FieldUniqueItems, FieldTotalItems,
}

// Comparator relates a field to a threshold.
type Comparator string

const (
	CompareGTE    Comparator = ">="
	CompareGT     Comparator = ">"
	CompareEQ     Comparator = "=="
	CompareLTE    Comparator = "<="
	CompareLT     Comparator = "<"
	CompareIsTrue Comparator = "is_true"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the derived statistics an achievement condition reads.
type Snapshot struct {
	Level              int
	Currency           int64
	XP                 int64
	MessageCount       int64
	DailyStreak        int
	HasLinkedSecondary bool
	TotalSpent         int64
	GiftsSent          int64
	UniqueItems        int64
	TotalItems         int64
}

// Value returns a field as an integer. Booleans read as 0 or 1.
func (s Snapshot) Value(f Field) (int64, bool) {
	switch f {
	case FieldLevel:
		return int64(s.Level), true
	case FieldCurrency:
		return s.Currency, true
	case FieldXP:
		return s.XP, true
	case FieldMessageCount:
		return s.MessageCount, true
	case FieldDailyStreak:
		return int64(s.DailyStreak), true
	case FieldHasLinkedSecondary:
		if s.HasLinkedSecondary {
			return 1, true
		}
		return 0, true
	case FieldTotalSpent:
		return s.TotalSpent, true
	case FieldGiftsSent:
		return s.GiftsSent, true
	case FieldUniqueItems:
		return s.UniqueItems, true
	case FieldTotalItems:
		return s.TotalItems, true
	}
	return 0, false
}

// =============================================================================
// CONDITION
// =============================================================================

// Condition is a single (field, comparator, threshold) predicate.
type Condition struct {
	Field      Field
	Comparator Comparator
	Threshold  int64
}

// Validate rejects unknown fields and comparators.
func (c Condition) Validate() error {
	if _, ok := (Snapshot{}).Value(c.Field); !ok {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	switch c.Comparator {
	case CompareGTE, CompareGT, CompareEQ, CompareLTE, CompareLT, CompareIsTrue:
		return nil
	}
	return fmt.Errorf("unknown comparator %q", c.Comparator)
}

// Evaluate applies the condition to a snapshot.
func (c Condition) Evaluate(s Snapshot) (bool, error) {
	v, ok := s.Value(c.Field)
	if !ok {
		return false, fmt.Errorf("unknown field %q", c.Field)
	}
	switch c.Comparator {
	case CompareGTE:
		return v >= c.Threshold, nil
	case CompareGT:
		return v > c.Threshold, nil
	case CompareEQ:
		return v == c.Threshold, nil
	case CompareLTE:
		return v <= c.Threshold, nil
	case CompareLT:
		return v < c.Threshold, nil
	case CompareIsTrue:
		return v != 0, nil
	}
	return false, fmt.Errorf("unknown comparator %q", c.Comparator)
}

// Progress returns (progress, required) for display. Counting conditions
// report the field value capped at the threshold; everything else is 0/1 or 1/1.
func (c Condition) Progress(s Snapshot) (int64, int64) {
	v, _ := s.Value(c.Field)
	switch c.Comparator {
	case CompareGTE, CompareGT:
		required := c.Threshold
		if c.Comparator == CompareGT {
			required++
		}
		if v > required {
			v = required
		}
		if v < 0 {
			v = 0
		}
		return v, required
	}
	if met, _ := c.Evaluate(s); met {
		return 1, 1
	}
	return 0, 1
}

// =============================================================================
// DEFINITION
// =============================================================================

// Definition is an immutable catalog entry. Name is the unique key.
type Definition struct {
	Name           string
	Description    string
	Category       string
	Rarity         Rarity
	RewardCurrency int64
	RewardPremium  int64
	RewardXP       int64
	Condition      Condition
}

func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("achievement name is required")
	}
	if !d.Rarity.Valid() {
		return fmt.Errorf("achievement %q: unknown rarity %q", d.Name, d.Rarity)
	}
	if d.RewardCurrency < 0 || d.RewardPremium < 0 || d.RewardXP < 0 {
		return fmt.Errorf("achievement %q: rewards cannot be negative", d.Name)
	}
	if err := d.Condition.Validate(); err != nil {
		return fmt.Errorf("achievement %q: %w", d.Name, err)
	}
	return nil
}

// UserAchievement is the persisted (user, achievement) join row.
type UserAchievement struct {
	UserID        ledger.UserID
	AchievementID int64
	Name          string
	Progress      int64
	Required      int64
	CompletedAt   *time.Time
}

// Unlock is an achievement the user just earned (or is being told about).
type Unlock struct {
	AchievementID int64
	Definition    Definition
	UnlockedAt    time.Time
	Deferred      bool // delivered through the pending-notification outbox
}

// PendingNotification is one outbox entry.
type PendingNotification struct {
	UserID        ledger.UserID
	AchievementID int64
	CreatedAt     time.Time
}

// Status is one catalog row as seen by a particular user.
type Status struct {
	Definition  Definition
	Unlocked    bool
	CompletedAt *time.Time
	Progress    int64
	Required    int64
}
