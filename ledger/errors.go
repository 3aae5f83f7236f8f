/*
errors.go - Centralized error types for the reward engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them) so adapters can classify
  a failure without string matching.

ERROR CATEGORIES:
  1. Validation errors - bad input, unknown ids. No side effects.
  2. Denials - expected business outcomes (insufficient funds, cooldowns).
     These are results, not failures: adapters show the reason and never
     log them as errors.
  3. Integrity errors - state machine violations and lost updates
     (second refund, fulfilling a refunded redemption).
  4. Storage errors - anything else. Propagated, wrapped with context.

USAGE:
    receipt, err := shopSvc.Redeem(ctx, userID, itemID, "")
    var denial *ledger.DenialError
    if errors.As(err, &denial) {
        reply(denial.Reason)
    }

SEE ALSO:
  - api/handlers.go: Maps categories onto HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUserNotFound       = errors.New("user not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrRedemptionNotFound = errors.New("redemption not found")
	ErrAchievementUnknown = errors.New("achievement not found")
	ErrInputRequired      = errors.New("item requires input")
	ErrInvalidPlatform    = errors.New("invalid platform")
	ErrSelfTransfer       = errors.New("cannot transfer to self")
	ErrInvalidItem        = errors.New("invalid item")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidResource    = errors.New("invalid resource")

	// Denials
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrOutOfStock        = errors.New("out of stock")
	ErrItemUnavailable   = errors.New("item is not available")

	// Integrity
	ErrInvalidTransition      = errors.New("invalid redemption state transition")
	ErrAlreadyRefunded        = errors.New("redemption already refunded")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrAlreadyLinked          = errors.New("account already linked to a different secondary identity")
	ErrPlatformIDTaken        = errors.New("platform id belongs to another primary account")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DenialCode is a stable machine-readable reason.
type DenialCode string

const (
	DenialItemNotFound      DenialCode = "item_not_found"
	DenialItemUnavailable   DenialCode = "item_unavailable"
	DenialOutOfStock        DenialCode = "out_of_stock"
	DenialInsufficientFunds DenialCode = "insufficient_funds"
	DenialUserCooldown      DenialCode = "user_cooldown"
	DenialGlobalCooldown    DenialCode = "global_cooldown"
	DenialDailyClaimed      DenialCode = "daily_claimed"
)

// DenialError is a business-rule denial with a human-readable reason.
type DenialError struct {
	Code       DenialCode
	Reason     string
	RetryAfter time.Duration
}

func (e *DenialError) Error() string {
	return e.Reason
}

func (e *DenialError) Unwrap() error {
	switch e.Code {
	case DenialItemNotFound:
		return ErrItemNotFound
	case DenialItemUnavailable:
		return ErrItemUnavailable
	case DenialOutOfStock:
		return ErrOutOfStock
	case DenialInsufficientFunds:
		return ErrInsufficientFunds
	case DenialUserCooldown, DenialGlobalCooldown, DenialDailyClaimed:
		return ErrCooldownActive
	}
	return nil
}

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	UserID    UserID
	Resource  Resource
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: available %d, requested %d",
		e.Resource, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInputRequired) ||
		errors.Is(err, ErrInvalidPlatform) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidResource) ||
		IsNotFound(err)
}

// IsNotFound returns true if the error indicates a missing resource.
// A DenialError with DenialItemNotFound also matches.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrRedemptionNotFound) ||
		errors.Is(err, ErrAchievementUnknown)
}

// IsDenial returns true for expected business-rule outcomes.
func IsDenial(err error) bool {
	var d *DenialError
	return errors.As(err, &d) || errors.Is(err, ErrInsufficientFunds)
}

// IsIntegrity returns true for state machine and lost-update failures.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyRefunded) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrAlreadyLinked) ||
		errors.Is(err, ErrPlatformIDTaken)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
