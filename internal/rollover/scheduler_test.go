package rollover

import (
	"context"
	"testing"
	"time"

	"app/internal/model"
	"app/internal/repository"
	"app/internal/service"

	"github.com/rs/zerolog"
)

func seedExpired(t *testing.T, store *repository.MemoryStore, id string, status model.SubscriptionStatus, limit, used int, end time.Time) {
	t.Helper()
	b := &model.CreditBalance{
		AccountID:          id,
		SubscriptionStatus: status,
		MonthlyLimit:       limit,
		MonthlyUsed:        used,
		PeriodStart:        end.AddDate(0, -1, 0),
		PeriodEnd:          end,
	}
	grant := &model.LedgerEntry{ID: "g-" + id, AccountID: id, IdempotencyKey: "g_" + id}
	if _, err := store.CreateBalance(context.Background(), b, grant); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestRunSweepResetsExpiredAccounts(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := service.NewCreditService(store, nil, nil, zerolog.Nop(), 25)
	s := NewScheduler(svc, store, "0 2 * * *", 100, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	seedExpired(t, store, "expired", model.SubscriptionActive, 10, 7, now.Add(-time.Hour))
	seedExpired(t, store, "canceled", model.SubscriptionCanceled, 10, 2, now.Add(-time.Hour))
	seedExpired(t, store, "current", model.SubscriptionActive, 10, 3, now.Add(24*time.Hour))

	s.RunSweep(ctx)

	b, err := store.GetBalance(ctx, "expired")
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if b.MonthlyUsed != 0 || b.MonthlyLimit != 10 {
		t.Fatalf("expired account after sweep: used=%d limit=%d", b.MonthlyUsed, b.MonthlyLimit)
	}
	if !b.PeriodEnd.After(now) {
		t.Fatalf("expired account period end %v not advanced past now", b.PeriodEnd)
	}

	// Canceled accounts advance their period but get no allowance.
	b, _ = store.GetBalance(ctx, "canceled")
	if b.MonthlyLimit != 0 {
		t.Fatalf("canceled account limit = %d, want 0", b.MonthlyLimit)
	}
	if !b.PeriodEnd.After(now) {
		t.Fatalf("canceled account period end %v not advanced", b.PeriodEnd)
	}

	// Current accounts are untouched.
	b, _ = store.GetBalance(ctx, "current")
	if b.MonthlyUsed != 3 {
		t.Fatalf("current account mutated: used=%d", b.MonthlyUsed)
	}
}

func TestRunSweepIsIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := service.NewCreditService(store, nil, nil, zerolog.Nop(), 25)
	s := NewScheduler(svc, store, "0 2 * * *", 100, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	seedExpired(t, store, "acct-1", model.SubscriptionActive, 10, 4, now.Add(-time.Hour))

	s.RunSweep(ctx)
	entriesAfterFirst, _ := store.ListLedger(ctx, "acct-1", 0, 0)
	s.RunSweep(ctx)
	entriesAfterSecond, _ := store.ListLedger(ctx, "acct-1", 0, 0)

	if len(entriesAfterSecond) != len(entriesAfterFirst) {
		t.Fatalf("second sweep appended entries: %d -> %d", len(entriesAfterFirst), len(entriesAfterSecond))
	}
}

func TestNextPeriodCatchUp(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	// One month behind: a single advance.
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	newStart, newEnd := nextPeriod(start, end, now)
	if !newStart.Equal(end) || !newEnd.After(now) {
		t.Fatalf("single advance: got %v..%v", newStart, newEnd)
	}

	// Several missed sweeps: intermediate months are skipped, not stacked.
	now = time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	newStart, newEnd = nextPeriod(start, end, now)
	if newEnd.Sub(newStart) > 32*24*time.Hour {
		t.Fatalf("catch-up produced an oversized period %v..%v", newStart, newEnd)
	}
	if !newStart.Before(now) || !newEnd.After(now) {
		t.Fatalf("catch-up period %v..%v does not cover now %v", newStart, newEnd, now)
	}
}
