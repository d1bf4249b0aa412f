package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"

	// Serializable transactions abort instead of blocking when they overlap;
	// a handful of retries is enough for per-account contention because each
	// critical section is a short read-modify-write.
	maxTxAttempts = 4
)

// PostgresStore implements Store and NotificationStore on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// WithAccountTx runs fn inside a serializable transaction, retrying on
// serialization failures and on same-account idempotency-key collisions. A
// collision means a concurrent transaction committed the same logical attempt
// first; the retry re-runs fn, whose idempotency lookup then sees the
// committed entry. A key held by a different account surfaces as a terminal
// ErrIdempotencyKeyConflict from the append itself.
func (s *PostgresStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runAccountTx(ctx, accountID, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("account tx for %s did not settle after %d attempts: %w", accountID, maxTxAttempts, lastErr)
}

func (s *PostgresStore) runAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("starting account transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(&pgAccountTx{tx: tx, accountID: accountID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing account transaction for %s: %w", accountID, err)
	}
	return nil
}

func isRetryableTxError(err error) bool {
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}

type pgAccountTx struct {
	tx        pgx.Tx
	accountID string
}

func (t *pgAccountTx) FindLedgerEntryByKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	const q = `
        SELECT id, account_id, amount, reason::text, source::text,
               COALESCE(idempotency_key, ''), monthly_used, addon_balance, created_at
        FROM credit_ledger
        WHERE account_id = $1 AND idempotency_key = $2
    `
	var e model.LedgerEntry
	err := t.tx.QueryRow(ctx, q, t.accountID, key).Scan(
		&e.ID, &e.AccountID, &e.Amount, &e.Reason, &e.Source,
		&e.IdempotencyKey, &e.MonthlyUsed, &e.AddonBalance, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key for account %s: %w", t.accountID, err)
	}
	return &e, nil
}

func (t *pgAccountTx) Balance(ctx context.Context) (*model.CreditBalance, error) {
	const q = `
        SELECT account_id, plan_key, subscription_status::text,
               monthly_limit, monthly_used, addon_balance,
               period_start, period_end, created_at, updated_at
        FROM credit_balances
        WHERE account_id = $1
    `
	var b model.CreditBalance
	err := t.tx.QueryRow(ctx, q, t.accountID).Scan(
		&b.AccountID, &b.PlanKey, &b.SubscriptionStatus,
		&b.MonthlyLimit, &b.MonthlyUsed, &b.AddonBalance,
		&b.PeriodStart, &b.PeriodEnd, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch balance for account %s: %w", t.accountID, err)
	}
	return &b, nil
}

func (t *pgAccountTx) UpdateBalance(ctx context.Context, b *model.CreditBalance) error {
	const q = `
        UPDATE credit_balances
        SET plan_key = $2,
            subscription_status = $3,
            monthly_limit = $4,
            monthly_used = $5,
            addon_balance = $6,
            period_start = $7,
            period_end = $8,
            updated_at = NOW()
        WHERE account_id = $1
    `
	tag, err := t.tx.Exec(ctx, q,
		b.AccountID, b.PlanKey, string(b.SubscriptionStatus),
		b.MonthlyLimit, b.MonthlyUsed, b.AddonBalance,
		b.PeriodStart, b.PeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("update balance for account %s: %w", b.AccountID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgAccountTx) AppendLedger(ctx context.Context, e *model.LedgerEntry) error {
	// The key index is unique across the whole ledger. A key held by another
	// account is a terminal conflict; the account-scoped engine lookup would
	// never see it, so retrying cannot resolve it.
	if e.IdempotencyKey != "" {
		const ownerQ = `SELECT account_id FROM credit_ledger WHERE idempotency_key = $1`
		var owner string
		err := t.tx.QueryRow(ctx, ownerQ, e.IdempotencyKey).Scan(&owner)
		switch {
		case err == nil && owner != e.AccountID:
			return fmt.Errorf("idempotency key already honored by account %s: %w", owner, ErrIdempotencyKeyConflict)
		case err == nil:
			return fmt.Errorf("ledger append for account %s: %w", e.AccountID, ErrDuplicateIdempotencyKey)
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("idempotency key lookup for account %s: %w", e.AccountID, err)
		}
	}

	const q = `
        INSERT INTO credit_ledger
            (id, account_id, amount, reason, source, idempotency_key, monthly_used, addon_balance, created_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
    `
	_, err := t.tx.Exec(ctx, q,
		e.ID, e.AccountID, e.Amount, string(e.Reason), string(e.Source),
		e.IdempotencyKey, e.MonthlyUsed, e.AddonBalance, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("ledger append for account %s: %w", e.AccountID, ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return fmt.Errorf("ledger append for account %s: %w", e.AccountID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateBalance inserts the balance row and its initial grant in one
// transaction. ON CONFLICT DO NOTHING makes repeated initialization a no-op:
// if the row exists, neither the row nor the grant is written again.
func (s *PostgresStore) CreateBalance(ctx context.Context, b *model.CreditBalance, grant *model.LedgerEntry) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, fmt.Errorf("starting balance init transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertBalance = `
        INSERT INTO credit_balances
            (account_id, plan_key, subscription_status, monthly_limit, monthly_used,
             addon_balance, period_start, period_end, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        ON CONFLICT (account_id) DO NOTHING
    `
	tag, err := tx.Exec(ctx, insertBalance,
		b.AccountID, b.PlanKey, string(b.SubscriptionStatus),
		b.MonthlyLimit, b.MonthlyUsed, b.AddonBalance, b.PeriodStart, b.PeriodEnd,
	)
	if err != nil {
		return false, fmt.Errorf("insert balance for account %s: %w", b.AccountID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const insertGrant = `
        INSERT INTO credit_ledger
            (id, account_id, amount, reason, source, idempotency_key, monthly_used, addon_balance, created_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
        ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
    `
	if _, err := tx.Exec(ctx, insertGrant,
		grant.ID, grant.AccountID, grant.Amount, string(grant.Reason), string(grant.Source),
		grant.IdempotencyKey, grant.MonthlyUsed, grant.AddonBalance, grant.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("insert free-tier grant for account %s: %w", grant.AccountID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing balance init for account %s: %w", b.AccountID, err)
	}
	return true, nil
}

// GetBalance reads a balance outside any transaction.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (*model.CreditBalance, error) {
	const q = `
        SELECT account_id, plan_key, subscription_status::text,
               monthly_limit, monthly_used, addon_balance,
               period_start, period_end, created_at, updated_at
        FROM credit_balances
        WHERE account_id = $1
    `
	var b model.CreditBalance
	err := s.pool.QueryRow(ctx, q, accountID).Scan(
		&b.AccountID, &b.PlanKey, &b.SubscriptionStatus,
		&b.MonthlyLimit, &b.MonthlyUsed, &b.AddonBalance,
		&b.PeriodStart, &b.PeriodEnd, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch balance for account %s: %w", accountID, err)
	}
	return &b, nil
}

// ListLedger returns the account's audit trail, newest first.
func (s *PostgresStore) ListLedger(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	const q = `
        SELECT id, account_id, amount, reason::text, source::text,
               COALESCE(idempotency_key, ''), monthly_used, addon_balance, created_at
        FROM credit_ledger
        WHERE account_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := s.pool.Query(ctx, q, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Amount, &e.Reason, &e.Source,
			&e.IdempotencyKey, &e.MonthlyUsed, &e.AddonBalance, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry for account %s: %w", accountID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger for account %s: %w", accountID, err)
	}
	return entries, nil
}

// ListExpiredPeriods returns balances whose period ended at or before the
// given instant, oldest first.
func (s *PostgresStore) ListExpiredPeriods(ctx context.Context, before time.Time, limit int) ([]model.CreditBalance, error) {
	const q = `
        SELECT account_id, plan_key, subscription_status::text,
               monthly_limit, monthly_used, addon_balance,
               period_start, period_end, created_at, updated_at
        FROM credit_balances
        WHERE period_end <= $1
        ORDER BY period_end
        LIMIT $2
    `
	rows, err := s.pool.Query(ctx, q, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired periods: %w", err)
	}
	defer rows.Close()

	var balances []model.CreditBalance
	for rows.Next() {
		var b model.CreditBalance
		if err := rows.Scan(
			&b.AccountID, &b.PlanKey, &b.SubscriptionStatus,
			&b.MonthlyLimit, &b.MonthlyUsed, &b.AddonBalance,
			&b.PeriodStart, &b.PeriodEnd, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan expired balance: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired periods: %w", err)
	}
	return balances, nil
}

// InsertNotification relies on the unique (account, threshold, period) index
// for dedup; a conflicting insert is silently skipped.
func (s *PostgresStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	const q = `
        INSERT INTO credit_notifications (id, account_id, threshold_key, period_start, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (account_id, threshold_key, period_start) DO NOTHING
    `
	tag, err := s.pool.Exec(ctx, q, n.ID, n.AccountID, n.ThresholdKey, n.PeriodStart, n.Payload, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification for account %s: %w", n.AccountID, err)
	}
	return tag.RowsAffected() == 1, nil
}
