package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"app/internal/model"
)

// MemoryStore is an in-memory Store and NotificationStore with the same
// isolation contract as the Postgres implementation: mutations for one
// account are fully serialized, and the idempotency-key index is unique
// across the whole ledger, not per account. It backs the service tests and
// local development without a database.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]*memAccount
	locks         map[string]*sync.Mutex
	notifications map[string]model.Notification
	keyOwners     map[string]string // idempotency key -> account id
}

type memAccount struct {
	balance model.CreditBalance
	ledger  []model.LedgerEntry
	keys    map[string]int // idempotency key -> index into ledger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]*memAccount),
		locks:         make(map[string]*sync.Mutex),
		notifications: make(map[string]model.Notification),
		keyOwners:     make(map[string]string),
	}
}

func (s *MemoryStore) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// WithAccountTx serializes on a per-account mutex and stages all writes,
// applying them only when fn succeeds. Operations on different accounts do
// not contend.
func (s *MemoryStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	tx := &memAccountTx{store: s, accountID: accountID}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memAccountTx struct {
	store     *MemoryStore
	accountID string

	staged       *model.CreditBalance
	appended     []model.LedgerEntry
	balanceDirty bool
}

func (t *memAccountTx) account() *memAccount {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.accounts[t.accountID]
}

func (t *memAccountTx) FindLedgerEntryByKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	for i := range t.appended {
		if t.appended[i].IdempotencyKey == key {
			e := t.appended[i]
			return &e, nil
		}
	}
	acct := t.account()
	if acct == nil {
		return nil, nil
	}
	if i, ok := acct.keys[key]; ok {
		e := acct.ledger[i]
		return &e, nil
	}
	return nil, nil
}

func (t *memAccountTx) Balance(ctx context.Context) (*model.CreditBalance, error) {
	if t.staged == nil {
		acct := t.account()
		if acct == nil {
			return nil, ErrAccountNotFound
		}
		b := acct.balance
		t.staged = &b
	}
	b := *t.staged
	return &b, nil
}

func (t *memAccountTx) UpdateBalance(ctx context.Context, b *model.CreditBalance) error {
	if t.account() == nil {
		return ErrAccountNotFound
	}
	cp := *b
	cp.UpdatedAt = time.Now()
	t.staged = &cp
	t.balanceDirty = true
	return nil
}

func (t *memAccountTx) AppendLedger(ctx context.Context, e *model.LedgerEntry) error {
	if e.IdempotencyKey != "" {
		for i := range t.appended {
			if t.appended[i].IdempotencyKey == e.IdempotencyKey {
				return fmt.Errorf("ledger append for account %s: %w", e.AccountID, ErrDuplicateIdempotencyKey)
			}
		}
		t.store.mu.Lock()
		owner, taken := t.store.keyOwners[e.IdempotencyKey]
		t.store.mu.Unlock()
		if taken {
			if owner != t.accountID {
				return fmt.Errorf("idempotency key %q already honored by another account: %w", e.IdempotencyKey, ErrIdempotencyKeyConflict)
			}
			return fmt.Errorf("ledger append for account %s: %w", e.AccountID, ErrDuplicateIdempotencyKey)
		}
	}
	t.appended = append(t.appended, *e)
	return nil
}

func (t *memAccountTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	acct := t.store.accounts[t.accountID]
	if acct == nil {
		if t.balanceDirty || len(t.appended) > 0 {
			return ErrAccountNotFound
		}
		return nil
	}
	if t.balanceDirty {
		acct.balance = *t.staged
	}
	for _, e := range t.appended {
		acct.ledger = append(acct.ledger, e)
		if e.IdempotencyKey != "" {
			acct.keys[e.IdempotencyKey] = len(acct.ledger) - 1
			t.store.keyOwners[e.IdempotencyKey] = t.accountID
		}
	}
	return nil
}

// CreateBalance inserts the balance row and the initial grant; repeated
// calls for the same account are no-ops.
func (s *MemoryStore) CreateBalance(ctx context.Context, b *model.CreditBalance, grant *model.LedgerEntry) (bool, error) {
	l := s.accountLock(b.AccountID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[b.AccountID]; exists {
		return false, nil
	}
	acct := &memAccount{balance: *b, keys: make(map[string]int)}
	acct.ledger = append(acct.ledger, *grant)
	if grant.IdempotencyKey != "" {
		acct.keys[grant.IdempotencyKey] = 0
		s.keyOwners[grant.IdempotencyKey] = b.AccountID
	}
	s.accounts[b.AccountID] = acct
	return true, nil
}

// GetBalance reads a balance outside any transaction.
func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (*model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accounts[accountID]
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	b := acct.balance
	return &b, nil
}

// ListLedger returns the account's entries, newest first.
func (s *MemoryStore) ListLedger(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accounts[accountID]
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	entries := make([]model.LedgerEntry, len(acct.ledger))
	copy(entries, acct.ledger)
	// Committed order is append order; reverse for newest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// ListExpiredPeriods returns balances whose period ended at or before the
// given instant, oldest first.
func (s *MemoryStore) ListExpiredPeriods(ctx context.Context, before time.Time, limit int) ([]model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var balances []model.CreditBalance
	for _, acct := range s.accounts {
		if !acct.balance.PeriodEnd.After(before) {
			balances = append(balances, acct.balance)
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].PeriodEnd.Before(balances[j].PeriodEnd) })
	if limit > 0 && limit < len(balances) {
		balances = balances[:limit]
	}
	return balances, nil
}

// InsertNotification dedups on (account, threshold, period start).
func (s *MemoryStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%d", n.AccountID, n.ThresholdKey, n.PeriodStart.UnixNano())
	if _, exists := s.notifications[key]; exists {
		return false, nil
	}
	s.notifications[key] = *n
	return true, nil
}
