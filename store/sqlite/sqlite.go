/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence contract the domain packages declare
  (ledger.Store, achievements.Store, shop.Store, accounts.Store) over a
  single SQLite database.

INTERFACES IMPLEMENTED:
  ledger.Store:       Users, profiles, balances, transaction log, leaderboard
  achievements.Store: Catalog sync, snapshot, unlock rows, notification outbox
  shop.Store:         Items, stock, redemptions, cooldowns
  accounts.Store:     Platform id attach, record re-parenting, user delete

KEY TABLES:
  users:                             Balances + platform ids (UNIQUE each)
  user_profiles:                     Daily streak
  transactions:                      Append-only ledger of all balance changes
  achievements / user_achievements:  Catalog and per-user unlock state
  pending_achievement_notifications: Outbox for off-channel unlocks
  shop_items / redemptions:          Catalog and redemption state machine
  user_item_cooldowns / global_item_cooldowns

TRANSACTIONS:
  WithTx stores the *sql.Tx in the context. Every method resolves its
  executor through conn(ctx), so a call made inside WithTx joins the open
  transaction and a nested WithTx is a no-op wrapper.

  The pool is capped at one connection. Writers are serialised by the
  pool itself, which is what makes the conditional debit and the
  redemption unit linearizable without an application-level mutex.
  Consequence: inside a transaction, never call the store with a context
  that does not carry it (it would wait for the connection forever).

TIMESTAMPS:
  Stored as unix milliseconds (INTEGER), always UTC on the way out.
  Callers pass event times in; updated_at comes from the store clock
  (WithClock), never from SQLite's own clock.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for crash recovery.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - users.go, achievements.go, shop.go, accounts.go: Per-concern queries
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/reward-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sql.DB
	now ledger.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for the updated_at column. Callers that
// inject a clock into the engine should hand the same one here.
func WithClock(c ledger.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.now = c
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (identity root, balances)
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discord_id TEXT UNIQUE,
		twitch_id TEXT UNIQUE,
		twitch_username TEXT,
		display_name TEXT NOT NULL,
		currency INTEGER NOT NULL DEFAULT 0 CHECK (currency >= 0),
		premium_currency INTEGER NOT NULL DEFAULT 0 CHECK (premium_currency >= 0),
		xp INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
		level INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		daily_streak INTEGER NOT NULL DEFAULT 0,
		last_daily_at INTEGER
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		direction TEXT NOT NULL CHECK (direction IN ('earn', 'spend')),
		resource TEXT NOT NULL,
		category TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		description TEXT,
		created_at INTEGER NOT NULL
	);

	-- Hot path: last daily claim, history listing
	CREATE INDEX IF NOT EXISTS idx_transactions_user_category_date
		ON transactions(user_id, category, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_date
		ON transactions(user_id, created_at DESC);

	-- Achievements
	CREATE TABLE IF NOT EXISTS achievements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		category TEXT,
		rarity TEXT NOT NULL,
		reward_currency INTEGER NOT NULL DEFAULT 0,
		reward_premium INTEGER NOT NULL DEFAULT 0,
		reward_xp INTEGER NOT NULL DEFAULT 0,
		condition_field TEXT NOT NULL,
		condition_comparator TEXT NOT NULL,
		condition_threshold INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS user_achievements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		achievement_id INTEGER NOT NULL REFERENCES achievements(id),
		progress INTEGER NOT NULL DEFAULT 0,
		required INTEGER NOT NULL DEFAULT 1,
		completed_at INTEGER,
		UNIQUE (user_id, achievement_id)
	);

	CREATE TABLE IF NOT EXISTS pending_achievement_notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		achievement_id INTEGER NOT NULL REFERENCES achievements(id),
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_notifications_user
		ON pending_achievement_notifications(user_id, id);

	-- Shop
	CREATE TABLE IF NOT EXISTS shop_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		cost INTEGER NOT NULL CHECK (cost > 0),
		currency TEXT NOT NULL DEFAULT 'regular',
		category TEXT,
		icon_url TEXT,
		stock INTEGER NOT NULL DEFAULT -1 CHECK (stock >= -1),
		enabled INTEGER NOT NULL DEFAULT 1,
		cooldown_minutes INTEGER NOT NULL DEFAULT 0,
		global_cooldown_minutes INTEGER NOT NULL DEFAULT 0,
		requires_input INTEGER NOT NULL DEFAULT 0,
		input_prompt TEXT,
		auto_fulfill INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS redemptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		item_id INTEGER NOT NULL REFERENCES shop_items(id),
		item_name TEXT NOT NULL,
		cost INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'fulfilled', 'refunded')),
		user_input TEXT,
		created_at INTEGER NOT NULL,
		fulfilled_at INTEGER,
		fulfilled_by TEXT,
		notes TEXT,
		refunded INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_user
		ON redemptions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_redemptions_status
		ON redemptions(status, created_at);

	CREATE TABLE IF NOT EXISTS user_item_cooldowns (
		user_id INTEGER NOT NULL REFERENCES users(id),
		item_id INTEGER NOT NULL REFERENCES shop_items(id),
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS global_item_cooldowns (
		item_id INTEGER PRIMARY KEY REFERENCES shop_items(id),
		expires_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type txKey struct{}

// execer is what both *sql.DB and *sql.Tx provide.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTx executes fn within a database transaction. If ctx already
// carries one, fn joins it and the outer call decides commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, sqlTx)); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
