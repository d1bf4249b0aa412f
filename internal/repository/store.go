package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/model"
)

// ErrAccountNotFound is returned when no balance row exists for an account.
var ErrAccountNotFound = errors.New("account_not_found")

// ErrDuplicateIdempotencyKey is returned when a ledger append collides with
// an existing idempotency key of the same account. WithAccountTx
// implementations retry on it so the caller's next attempt observes the
// committed entry instead.
var ErrDuplicateIdempotencyKey = errors.New("duplicate_idempotency_key")

// ErrIdempotencyKeyConflict is returned when a ledger append reuses an
// idempotency key already honored for a different account. The key index is
// unique across the whole ledger, and unlike ErrDuplicateIdempotencyKey this
// is terminal: no retry under the requesting account can ever succeed.
var ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")

// AccountTx is the view of storage the consumption engine sees inside one
// per-account atomic unit. Every write made through it commits together with
// the others or not at all.
type AccountTx interface {
	// FindLedgerEntryByKey returns the account's ledger entry carrying the
	// given idempotency key, or nil when the key has never been honored.
	FindLedgerEntryByKey(ctx context.Context, key string) (*model.LedgerEntry, error)
	// Balance returns the account's balance row as of this transaction.
	Balance(ctx context.Context) (*model.CreditBalance, error)
	// UpdateBalance persists the mutated balance row.
	UpdateBalance(ctx context.Context, b *model.CreditBalance) error
	// AppendLedger appends one immutable audit entry.
	AppendLedger(ctx context.Context, e *model.LedgerEntry) error
}

// Store is the persistence surface of the credit engine.
type Store interface {
	// WithAccountTx runs fn under per-account atomic isolation. Concurrent
	// invocations for the same account serialize; no two can both read the
	// same pre-mutation balance and both commit.
	WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error

	// CreateBalance inserts a new balance row together with its initial
	// grant entry. It reports false, without mutating anything, when the
	// account already has a balance.
	CreateBalance(ctx context.Context, b *model.CreditBalance, grant *model.LedgerEntry) (bool, error)

	// GetBalance reads a balance outside any transaction.
	GetBalance(ctx context.Context, accountID string) (*model.CreditBalance, error)

	// ListLedger returns the account's ledger entries, newest first.
	ListLedger(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error)

	// ListExpiredPeriods returns balances whose billing period ended at or
	// before the given instant, oldest first, for the rollover sweep.
	ListExpiredPeriods(ctx context.Context, before time.Time, limit int) ([]model.CreditBalance, error)
}

// NotificationStore persists threshold alerts. It is deliberately separate
// from Store: alert writes are best-effort and never join the consumption
// transaction.
type NotificationStore interface {
	// InsertNotification inserts the alert unless one already exists for the
	// same (account, threshold, billing period). Reports whether a row was
	// actually inserted.
	InsertNotification(ctx context.Context, n *model.Notification) (bool, error)
}
