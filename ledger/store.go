/*
store.go - Persistence contract for users and the transaction log

PURPOSE:
  Defines the interface between the domain services and the database.
  Domain packages declare the narrow slices they need by embedding these.

KEY INTERFACES:
  Transactor:  Runs a function inside one storage transaction
  UserStore:   User and profile records, balance mutation
  TxLog:       Append-only transaction log
  Store:       Everything the award service needs

TRANSACTIONS TRAVEL IN THE CONTEXT:
  WithTx hands the callback a derived context. Every store call made with
  that context joins the same storage transaction, and a nested WithTx
  simply reuses it. This is what lets a redemption call the award service's
  spend path and still commit or roll back as one unit.

CONDITIONAL DEBIT:
  DebitBalance is the only way balances go down during normal operation:
    UPDATE users SET x = x - ? WHERE id = ? AND x >= ?
  Zero rows affected means the balance was too low at commit time, so no
  reader can ever observe a negative balance or a lost update.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go

SEE ALSO:
  - rewards/service.go: Primary consumer
*/
package ledger

import (
	"context"
	"time"
)

// Transactor runs fn atomically. Calls made with the context passed to fn
// share the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserStore persists users, profiles and balances.
type UserStore interface {
	// GetUser returns ErrUserNotFound when the id is unknown.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// FindUserByPlatform returns (nil, nil) when no user carries the id.
	FindUserByPlatform(ctx context.Context, platform Platform, externalID string) (*User, error)

	CreateUser(ctx context.Context, u User) (*User, error)

	// AddBalance increments a balance and returns the new value.
	AddBalance(ctx context.Context, id UserID, r Resource, delta int64) (int64, error)

	// DebitBalance decrements only if the balance covers amount.
	// Returns ok=false without error when it does not.
	DebitBalance(ctx context.Context, id UserID, r Resource, amount int64) (newBalance int64, ok bool, err error)

	// SetXP overwrites XP. Admin adjustments only.
	SetXP(ctx context.Context, id UserID, xp int64) error

	SetLevel(ctx context.Context, id UserID, level int) error

	GetProfile(ctx context.Context, id UserID) (*Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
}

// TxLog is the append-only transaction log.
type TxLog interface {
	AppendTransaction(ctx context.Context, tx Transaction) error

	// LastTransaction returns the newest transaction of a category, or nil.
	LastTransaction(ctx context.Context, id UserID, category Category) (*Transaction, error)

	ListTransactions(ctx context.Context, id UserID, limit int) ([]Transaction, error)
}

// Store is the full ledger contract.
type Store interface {
	Transactor
	UserStore
	TxLog
	Leaderboard(ctx context.Context, category LeaderboardCategory, limit int) ([]LeaderboardEntry, error)
}

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time
