package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

func newTestService(store repository.Store, notifier ThresholdNotifier) CreditService {
	return NewCreditService(store, notifier, nil, zerolog.Nop(), 25)
}

// seedAccount creates a balance whose opening grant equals its spendable
// total, so summing the ledger always reproduces the current balance.
func seedAccount(t *testing.T, store *repository.MemoryStore, b model.CreditBalance) {
	t.Helper()
	now := time.Now()
	if b.PeriodStart.IsZero() {
		b.PeriodStart = now
		b.PeriodEnd = now.AddDate(0, 1, 0)
	}
	grant := &model.LedgerEntry{
		ID:             "seed-" + b.AccountID,
		AccountID:      b.AccountID,
		Amount:         b.TotalRemaining(),
		Reason:         model.ReasonManualAdjustment,
		Source:         model.SourceAddon,
		IdempotencyKey: "seed_" + b.AccountID,
		MonthlyUsed:    b.MonthlyUsed,
		AddonBalance:   b.AddonBalance,
		CreatedAt:      now,
	}
	created, err := store.CreateBalance(context.Background(), &b, grant)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if !created {
		t.Fatalf("account %s already seeded", b.AccountID)
	}
}

func ledgerSum(t *testing.T, store *repository.MemoryStore, accountID string) int {
	t.Helper()
	entries, err := store.ListLedger(context.Background(), accountID, 0, 0)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}

func TestInitializeAccountIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	if err := svc.InitializeAccount(ctx, "acct-1", ""); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := svc.InitializeAccount(ctx, "acct-1", "pro"); err != nil {
		t.Fatalf("second init: %v", err)
	}

	b, err := svc.GetBalance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.AddonBalance != 25 {
		t.Fatalf("addon balance = %d, want the free-tier 25", b.AddonBalance)
	}
	if b.PlanKey != "free" {
		t.Fatalf("plan key = %q, second init must not overwrite", b.PlanKey)
	}
	entries, err := svc.ListLedger(ctx, "acct-1", 0, 0)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want exactly one grant", len(entries))
	}
}

func TestConsumeDefaultsToOne(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 5, AddonBalance: 0,
	})

	res, err := svc.Consume(context.Background(), "acct-1", "gen-1", 0)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !res.Consumed || res.AlreadyConsumed {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.MonthlyUsed != 1 {
		t.Fatalf("monthly used = %d, want 1", res.MonthlyUsed)
	}
	if res.Source != model.SourceMonthly {
		t.Fatalf("source = %s, want monthly", res.Source)
	}
}

func TestConsumeReplayDoesNotRecharge(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 5, AddonBalance: 2,
	})
	ctx := context.Background()

	first, err := svc.Consume(ctx, "acct-1", "gen-1", 2)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	second, err := svc.Consume(ctx, "acct-1", "gen-1", 2)
	if err != nil {
		t.Fatalf("replay consume: %v", err)
	}
	if !second.AlreadyConsumed {
		t.Fatal("replay must report already_consumed")
	}
	if second.Source != first.Source || second.MonthlyUsed != first.MonthlyUsed || second.AddonBalance != first.AddonBalance {
		t.Fatalf("replay result %+v differs from original %+v", second, first)
	}

	b, _ := svc.GetBalance(ctx, "acct-1")
	if b.MonthlyUsed != 2 || b.AddonBalance != 2 {
		t.Fatalf("balance charged twice: used=%d addon=%d", b.MonthlyUsed, b.AddonBalance)
	}
}

func TestConsumeSpillsMonthlyFirst(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 10, MonthlyUsed: 8, AddonBalance: 5,
	})

	res, err := svc.Consume(context.Background(), "acct-1", "gen-1", 5)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.MonthlyUsed != 10 {
		t.Fatalf("monthly used = %d, want the full 10", res.MonthlyUsed)
	}
	if res.AddonBalance != 2 {
		t.Fatalf("addon balance = %d, want 2 after the spill", res.AddonBalance)
	}
	if res.Source != model.SourceMonthly {
		t.Fatalf("source = %s, monthly contributed so it wins", res.Source)
	}
}

func TestConsumeInsufficientIsAtomic(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 5, MonthlyUsed: 5, AddonBalance: 2,
	})
	ctx := context.Background()

	_, err := svc.Consume(ctx, "acct-1", "gen-too-big", 3)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	b, _ := svc.GetBalance(ctx, "acct-1")
	if b.MonthlyUsed != 5 || b.AddonBalance != 2 {
		t.Fatalf("failed consume mutated balance: used=%d addon=%d", b.MonthlyUsed, b.AddonBalance)
	}
	entries, _ := svc.ListLedger(ctx, "acct-1", 0, 0)
	if len(entries) != 1 {
		t.Fatalf("failed consume left %d ledger entries, want only the seed", len(entries))
	}

	// The exact remainder still spends.
	res, err := svc.Consume(ctx, "acct-1", "gen-exact", 2)
	if err != nil {
		t.Fatalf("exact-remainder consume: %v", err)
	}
	if res.AddonBalance != 0 {
		t.Fatalf("addon balance = %d, want 0", res.AddonBalance)
	}
}

func TestConsumeIneligibleSubscription(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionPastDue,
		MonthlyLimit: 10, AddonBalance: 10,
	})

	_, err := svc.Consume(context.Background(), "acct-1", "gen-1", 1)
	if !errors.Is(err, ErrSubscriptionIneligible) {
		t.Fatalf("err = %v, want ErrSubscriptionIneligible: standing overrides balance", err)
	}
}

func TestConsumeValidation(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 100,
	})
	ctx := context.Background()

	cases := []struct {
		name   string
		key    string
		amount int
	}{
		{"missing key", "", 1},
		{"oversized key", strings.Repeat("k", 129), 1},
		{"amount too large", "gen-1", 11},
		{"negative amount", "gen-1", -1},
	}
	for _, tc := range cases {
		if _, err := svc.Consume(ctx, "acct-1", tc.key, tc.amount); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want ErrInvalidRequest", tc.name, err)
		}
	}
}

func TestConsumeUnknownAccount(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)

	_, err := svc.Consume(context.Background(), "ghost", "gen-1", 1)
	if !errors.Is(err, repository.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestConsumeKeyOwnedByAnotherAccount(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-a", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 10,
	})
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-b", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 10,
	})
	ctx := context.Background()

	if _, err := svc.Consume(ctx, "acct-a", "shared-key", 1); err != nil {
		t.Fatalf("consume for acct-a: %v", err)
	}
	_, err := svc.Consume(ctx, "acct-b", "shared-key", 1)
	if !errors.Is(err, repository.ErrIdempotencyKeyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyKeyConflict: keys are unique across the ledger", err)
	}

	b, _ := svc.GetBalance(ctx, "acct-b")
	if b.AddonBalance != 10 {
		t.Fatalf("acct-b balance = %d, conflicting consume charged it", b.AddonBalance)
	}
}

func TestConcurrentSameKeyChargesOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 100,
	})

	const workers = 8
	results := make([]*model.ConsumeResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Consume(context.Background(), "acct-1", "shared-key", 1)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if !results[i].AlreadyConsumed {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("%d workers charged, want exactly 1", fresh)
	}
	b, _ := svc.GetBalance(context.Background(), "acct-1")
	if b.AddonBalance != 99 {
		t.Fatalf("addon balance = %d, want 99", b.AddonBalance)
	}
}

func TestConcurrentDistinctKeysNeverOversell(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 3, AddonBalance: 2,
	})

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Consume(context.Background(), "acct-1", fmt.Sprintf("gen-%d", i), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("attempt %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 5 || insufficient != 5 {
		t.Fatalf("succeeded=%d insufficient=%d, want 5/5", succeeded, insufficient)
	}
	b, _ := svc.GetBalance(context.Background(), "acct-1")
	if b.TotalRemaining() != 0 {
		t.Fatalf("total remaining = %d, want 0", b.TotalRemaining())
	}
}

func TestAdjustFloorsAtZero(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 2,
	})
	ctx := context.Background()

	res, err := svc.Adjust(ctx, AdjustParams{AccountID: "acct-1", Amount: -5, AdjustedBy: "admin-1"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.NewAddonBalance != 0 {
		t.Fatalf("new addon balance = %d, want floored 0", res.NewAddonBalance)
	}
	entries, _ := svc.ListLedger(ctx, "acct-1", 1, 0)
	if entries[0].Amount != -2 {
		t.Fatalf("ledger amount = %d, want the effective -2", entries[0].Amount)
	}
}

func TestAdjustReplay(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive, AddonBalance: 0,
	})
	ctx := context.Background()

	p := AdjustParams{AccountID: "acct-1", Amount: 10, Reason: model.ReasonAddonPurchase, AdjustedBy: "stripe", IdempotencyKey: "evt_123"}
	if _, err := svc.Adjust(ctx, p); err != nil {
		t.Fatalf("first adjust: %v", err)
	}
	res, err := svc.Adjust(ctx, p)
	if err != nil {
		t.Fatalf("replayed adjust: %v", err)
	}
	if !res.AlreadyApplied {
		t.Fatal("replay must report already applied")
	}
	b, _ := svc.GetBalance(ctx, "acct-1")
	if b.AddonBalance != 10 {
		t.Fatalf("addon balance = %d, purchase applied twice", b.AddonBalance)
	}
}

func TestAdjustRejectsNonAdjustmentReason(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{AccountID: "acct-1", AddonBalance: 5})

	_, err := svc.Adjust(context.Background(), AdjustParams{
		AccountID: "acct-1", Amount: 1, Reason: model.ReasonUsage, AdjustedBy: "admin-1",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestResetPeriodForfeitsMonthly(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 10, MonthlyUsed: 4, AddonBalance: 3,
	})
	ctx := context.Background()

	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	if err := svc.ResetPeriod(ctx, "acct-1", 10, start, end); err != nil {
		t.Fatalf("reset: %v", err)
	}

	b, _ := svc.GetBalance(ctx, "acct-1")
	if b.MonthlyUsed != 0 || b.MonthlyLimit != 10 {
		t.Fatalf("post-reset monthly: used=%d limit=%d", b.MonthlyUsed, b.MonthlyLimit)
	}
	if b.AddonBalance != 3 {
		t.Fatalf("addon balance = %d, reset must not touch it", b.AddonBalance)
	}
	entries, _ := svc.ListLedger(ctx, "acct-1", 1, 0)
	// 6 monthly credits were unused and forfeited, 10 were granted.
	if entries[0].Amount != 4 || entries[0].Reason != model.ReasonMonthlyReset {
		t.Fatalf("reset entry = %+v, want amount 4 reason monthly_reset", entries[0])
	}

	// Re-triggering the same rollover is a no-op.
	if err := svc.ResetPeriod(ctx, "acct-1", 10, start, end); err != nil {
		t.Fatalf("repeated reset: %v", err)
	}
	all, _ := svc.ListLedger(ctx, "acct-1", 0, 0)
	if len(all) != 2 {
		t.Fatalf("ledger has %d entries, want seed + one reset", len(all))
	}
}

func TestApplySubscriptionState(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionNone,
		MonthlyLimit: 0, AddonBalance: 5,
	})
	ctx := context.Background()

	start := time.Now().Add(time.Hour)
	state := SubscriptionState{
		AccountID:    "acct-1",
		PlanKey:      "pro",
		Status:       model.SubscriptionActive,
		MonthlyLimit: 20,
		PeriodStart:  start,
		PeriodEnd:    start.AddDate(0, 1, 0),
		EventID:      "evt_sub_1",
	}
	if err := svc.ApplySubscriptionState(ctx, state); err != nil {
		t.Fatalf("apply state: %v", err)
	}

	b, _ := svc.GetBalance(ctx, "acct-1")
	if b.SubscriptionStatus != model.SubscriptionActive || b.PlanKey != "pro" || b.MonthlyLimit != 20 {
		t.Fatalf("balance after upgrade: %+v", b)
	}
	if b.TotalRemaining() != 25 {
		t.Fatalf("total remaining = %d, want 20 monthly + 5 addon", b.TotalRemaining())
	}

	// Redelivery of the same event changes nothing.
	if err := svc.ApplySubscriptionState(ctx, state); err != nil {
		t.Fatalf("redelivered state: %v", err)
	}
	entries, _ := svc.ListLedger(ctx, "acct-1", 0, 0)
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want seed + one allowance grant", len(entries))
	}

	// A payment failure flips standing without touching the allowance.
	if err := svc.ApplySubscriptionState(ctx, SubscriptionState{
		AccountID: "acct-1", Status: model.SubscriptionPastDue, MonthlyLimit: -1, EventID: "evt_sub_2",
	}); err != nil {
		t.Fatalf("past_due state: %v", err)
	}
	b, _ = svc.GetBalance(ctx, "acct-1")
	if b.SubscriptionStatus != model.SubscriptionPastDue || b.MonthlyLimit != 20 {
		t.Fatalf("balance after payment failure: %+v", b)
	}
}

func TestLedgerConservation(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(store, nil)
	seedAccount(t, store, model.CreditBalance{
		AccountID: "acct-1", SubscriptionStatus: model.SubscriptionActive,
		MonthlyLimit: 10, AddonBalance: 5,
	})
	ctx := context.Background()

	mustConsume := func(key string, amount int) {
		t.Helper()
		if _, err := svc.Consume(ctx, "acct-1", key, amount); err != nil {
			t.Fatalf("consume %s: %v", key, err)
		}
	}
	mustConsume("gen-1", 4)
	mustConsume("gen-2", 7) // spills into addon
	if _, err := svc.Adjust(ctx, AdjustParams{AccountID: "acct-1", Amount: -10, AdjustedBy: "admin-1"}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	start := time.Now().AddDate(0, 1, 0)
	if err := svc.ResetPeriod(ctx, "acct-1", 12, start, start.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	mustConsume("gen-3", 2)

	b, _ := svc.GetBalance(ctx, "acct-1")
	if got := ledgerSum(t, store, "acct-1"); got != b.TotalRemaining() {
		t.Fatalf("ledger sums to %d but balance holds %d", got, b.TotalRemaining())
	}
}
