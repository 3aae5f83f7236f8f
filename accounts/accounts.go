/*
Package accounts resolves platform identities to users and merges a
secondary (Twitch) identity into a primary (Discord) one.

IDENTITY:
  GetOrCreateUser is the entry point every adapter calls before any reward
  operation. It is an idempotent upsert: two adapters racing to create the
  same identity both end up with the same user (the unique index decides,
  the loser re-reads).

MERGE (one storage transaction, all or nothing):
  secondary id unknown ─▶ attach it to the primary, no balance change
  secondary id known   ─▶
    1. re-parent transactions, achievements, outbox, redemptions, cooldowns
    2. delete the secondary profile and user
    3. credit currency, premium and XP onto the primary
    4. recompute the primary's level from total XP
    5. attach the secondary id to the primary
    6. auto-check achievements, queued in the outbox

  A crash anywhere leaves both accounts exactly as they were, so a retry
  can never double-count balances.

SEE ALSO:
  - achievements/engine.go: AutoCheckDeferred
  - store/sqlite/accounts.go: Re-parenting statements
*/
package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/leveling"
)

// Store is the persistence the reconciler needs.
type Store interface {
	ledger.Transactor
	ledger.UserStore

	// AttachPlatformID sets the platform id (and username for the secondary).
	AttachPlatformID(ctx context.Context, id ledger.UserID, platform ledger.Platform, externalID, username string) error

	// ReassignUserRecords moves every record owned by `from` onto `to`.
	// Achievements the target already holds are dropped from the source.
	ReassignUserRecords(ctx context.Context, from, to ledger.UserID) error

	// DeleteUser removes the user and its profile.
	DeleteUser(ctx context.Context, id ledger.UserID) error
}

// Checker is the achievement hook run after a merge.
type Checker interface {
	AutoCheckDeferred(ctx context.Context, userID ledger.UserID) ([]achievements.Unlock, error)
}

// Service resolves and links identities.
type Service struct {
	store   Store
	checker Checker
	now     ledger.Clock
}

func NewService(store Store, checker Checker, clock ledger.Clock) *Service {
	return &Service{store: store, checker: checker, now: clock}
}

// =============================================================================
// IDENTITY
// =============================================================================

// GetOrCreateUser returns the user carrying externalID on platform,
// creating it on first sight.
func (s *Service) GetOrCreateUser(ctx context.Context, platform ledger.Platform, externalID, displayName string) (*ledger.User, bool, error) {
	if !platform.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ledger.ErrInvalidPlatform, platform)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, false, fmt.Errorf("%w: empty external id", ledger.ErrInvalidPlatform)
	}

	if u, err := s.store.FindUserByPlatform(ctx, platform, externalID); err != nil || u != nil {
		return u, false, err
	}

	if displayName == "" {
		displayName = externalID
	}
	now := s.now()
	u := ledger.User{DisplayName: displayName, Level: 1, CreatedAt: now, UpdatedAt: now}
	switch platform {
	case ledger.PlatformDiscord:
		u.DiscordID = &externalID
	case ledger.PlatformTwitch:
		u.TwitchID = &externalID
		u.TwitchUsername = &displayName
	}

	created, err := s.store.CreateUser(ctx, u)
	if err == nil {
		return created, true, nil
	}

	// Lost a creation race: the other writer's row is the answer.
	if existing, ferr := s.store.FindUserByPlatform(ctx, platform, externalID); ferr == nil && existing != nil {
		return existing, false, nil
	}
	return nil, false, err
}

// =============================================================================
// LINKING
// =============================================================================

// LinkResult reports what a link did.
type LinkResult struct {
	Merged        bool
	MergedUserID  ledger.UserID // the deleted secondary user, when Merged
	CurrencyAdded int64
	PremiumAdded  int64
	XPAdded       int64
	NewLevel      int
	Queued        []achievements.Unlock
}

// LinkSecondaryAccount attaches a secondary platform id to a primary user,
// merging the secondary's existing user if there is one.
func (s *Service) LinkSecondaryAccount(ctx context.Context, primaryID ledger.UserID, secondaryID, secondaryName string) (LinkResult, error) {
	secondaryID = strings.TrimSpace(secondaryID)
	if secondaryID == "" {
		return LinkResult{}, fmt.Errorf("%w: empty secondary id", ledger.ErrInvalidPlatform)
	}

	var res LinkResult
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		primary, err := s.store.GetUser(ctx, primaryID)
		if err != nil {
			return err
		}
		if primary.TwitchID != nil {
			if *primary.TwitchID == secondaryID {
				res.NewLevel = primary.Level
				return nil
			}
			return ledger.ErrAlreadyLinked
		}

		secondary, err := s.store.FindUserByPlatform(ctx, ledger.PlatformTwitch, secondaryID)
		if err != nil {
			return err
		}

		if secondary == nil {
			if err := s.store.AttachPlatformID(ctx, primaryID, ledger.PlatformTwitch, secondaryID, secondaryName); err != nil {
				return err
			}
			res.NewLevel = primary.Level
			res.Queued, err = s.checker.AutoCheckDeferred(ctx, primaryID)
			return err
		}

		if secondary.DiscordID != nil {
			return ledger.ErrPlatformIDTaken
		}
		return s.merge(ctx, primary, secondary, secondaryName, &res)
	})
	if err != nil {
		return LinkResult{}, err
	}
	return res, nil
}

func (s *Service) merge(ctx context.Context, primary, secondary *ledger.User, secondaryName string, res *LinkResult) error {
	if err := s.store.ReassignUserRecords(ctx, secondary.ID, primary.ID); err != nil {
		return fmt.Errorf("reassign records: %w", err)
	}
	if err := s.store.DeleteUser(ctx, secondary.ID); err != nil {
		return fmt.Errorf("delete secondary: %w", err)
	}

	// No transactions here: the re-parented history already explains these amounts.
	credits := []struct {
		resource ledger.Resource
		amount   int64
	}{
		{ledger.ResourceCurrency, secondary.Currency},
		{ledger.ResourcePremium, secondary.PremiumCurrency},
		{ledger.ResourceXP, secondary.XP},
	}
	for _, c := range credits {
		if c.amount <= 0 {
			continue
		}
		if _, err := s.store.AddBalance(ctx, primary.ID, c.resource, c.amount); err != nil {
			return err
		}
	}

	level := leveling.LevelForXP(primary.XP + secondary.XP)
	if err := s.store.SetLevel(ctx, primary.ID, level); err != nil {
		return err
	}

	name := secondaryName
	if name == "" && secondary.TwitchUsername != nil {
		name = *secondary.TwitchUsername
	}
	if err := s.store.AttachPlatformID(ctx, primary.ID, ledger.PlatformTwitch, *secondary.TwitchID, name); err != nil {
		return err
	}

	queued, err := s.checker.AutoCheckDeferred(ctx, primary.ID)
	if err != nil {
		return err
	}
	merged, err := s.store.GetUser(ctx, primary.ID)
	if err != nil {
		return err
	}

	*res = LinkResult{
		Merged:        true,
		MergedUserID:  secondary.ID,
		CurrencyAdded: secondary.Currency,
		PremiumAdded:  secondary.PremiumCurrency,
		XPAdded:       secondary.XP,
		NewLevel:      merged.Level,
		Queued:        queued,
	}
	return nil
}
