/*
Package leveling maps XP to levels and computes level-up rewards.

PURPOSE:
  Pure, stateless arithmetic. Level is a cache of XP: anything that needs a
  level (achievements, leaderboards, merges) can always recompute it from XP.

FORMULAS:
  LevelForXP(xp)     = floor(sqrt(xp / 100)) + 1
  XPThreshold(level) = (level - 1)^2 * 100        XP needed to reach level
  Progress percent   = round((xp - T(l)) / (T(l+1) - T(l)) * 100), clamped 0..100

  floor(sqrt(xp/100)) equals isqrt(xp/100) with integer division, so the
  level is exact for every int64 without float rounding.

LEVEL-UP REWARDS:
  currency  = level * 50
  premium   = floor(level / 5)
  milestone = level in {5, 10, 25, 50, 100}: +level * 100 currency

SEE ALSO:
  - rewards/service.go: AwardXP persists level increases
  - engine/pipeline.go: Issues RewardsBetween on level-up
*/
package leveling

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const xpPerLevelUnit = 100

// Milestones are the levels that pay a bonus on top of the regular reward.
var Milestones = []int{5, 10, 25, 50, 100}

// LevelForXP returns the level for an XP total. Negative XP counts as zero.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	return int(isqrt(xp/xpPerLevelUnit)) + 1
}

// XPThreshold returns the XP required to reach level.
func XPThreshold(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return n * n * xpPerLevelUnit
}

// isqrt returns floor(sqrt(n)) for n >= 0.
func isqrt(n int64) int64 {
	if n < 2 {
		return n
	}
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// =============================================================================
// PROGRESS
// =============================================================================

// Progress describes where an XP total sits inside its level.
type Progress struct {
	Level          int
	XP             int64
	XPIntoLevel    int64
	XPForNextLevel int64 // size of the current level band
	NextLevelXP    int64 // absolute XP at which the next level starts
	Percent        int
}

// ProgressFor computes the progress of xp toward the next level.
func ProgressFor(xp int64) Progress {
	if xp < 0 {
		xp = 0
	}
	level := LevelForXP(xp)
	current := XPThreshold(level)
	next := XPThreshold(level + 1)

	p := Progress{
		Level:          level,
		XP:             xp,
		XPIntoLevel:    xp - current,
		XPForNextLevel: next - current,
		NextLevelXP:    next,
	}
	p.Percent = percent(p.XPIntoLevel, p.XPForNextLevel)
	return p
}

func percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(0).
		IntPart()
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}

// Bar renders a fixed-width text progress bar.
func Bar(pct, width int) string {
	if width <= 0 {
		return ""
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// =============================================================================
// LEVEL-UP REWARDS
// =============================================================================

// Reward is what reaching a level pays out.
type Reward struct {
	Currency  int64
	Premium   int64
	Milestone bool
	Unlocks   []string
}

// IsZero reports whether the reward pays nothing.
func (r Reward) IsZero() bool {
	return r.Currency == 0 && r.Premium == 0
}

// RewardForLevel returns the reward for reaching level.
func RewardForLevel(level int) Reward {
	if level <= 1 {
		return Reward{}
	}
	r := Reward{
		Currency: int64(level) * 50,
		Premium:  int64(level / 5),
		Unlocks:  UnlocksForLevel(level),
	}
	if IsMilestone(level) {
		r.Milestone = true
		r.Currency += int64(level) * 100
	}
	return r
}

// RewardsBetween sums the rewards of every level in (from, to].
func RewardsBetween(from, to int) Reward {
	var total Reward
	for l := from + 1; l <= to; l++ {
		r := RewardForLevel(l)
		total.Currency += r.Currency
		total.Premium += r.Premium
		total.Milestone = total.Milestone || r.Milestone
		total.Unlocks = append(total.Unlocks, r.Unlocks...)
	}
	return total
}

func IsMilestone(level int) bool {
	for _, m := range Milestones {
		if m == level {
			return true
		}
	}
	return false
}

// UnlocksForLevel lists the features a level unlocks.
func UnlocksForLevel(level int) []string {
	switch level {
	case 5:
		return []string{"Custom profile color"}
	case 10:
		return []string{"Profile badge slot", "Trading enabled"}
	case 15:
		return []string{"Custom title"}
	case 20:
		return []string{"Second badge slot", "Premium shop access"}
	case 25:
		return []string{"Voice chat currency boost (2x)"}
	case 30:
		return []string{"Create custom counter"}
	case 50:
		return []string{"Legendary badge", "Profile animation"}
	case 100:
		return []string{"Hall of Fame entry", "Custom command"}
	}
	return nil
}
